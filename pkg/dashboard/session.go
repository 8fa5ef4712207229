package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"

	"github.com/nkaplan19/apm-dashboard/internal/domain"
)

// Domain names one cached query domain.
type Domain string

// Query domains tracked by a session.
const (
	DomainMetrics Domain = "metrics"
	DomainErrors  Domain = "errors"
	DomainAlerts  Domain = "alerts"
)

const (
	defaultPollInterval   = 30 * time.Second
	defaultReconnectDelay = 3 * time.Second
)

// Session is one live dashboard session. It holds the only cached copy of
// query results; push events merely mark a domain stale and trigger a
// refetch. Event payloads are never merged into the cache.
type Session struct {
	api            *Client
	wsURL          string
	logger         *slog.Logger
	dialer         *websocket.Dialer
	pollInterval   time.Duration
	reconnectDelay time.Duration
	onRefresh      func(Domain, int)

	mu      sync.RWMutex
	metrics []domain.Metric
	errs    []domain.ErrorEvent
	alerts  []domain.Alert
}

// SessionOption customises session construction.
type SessionOption func(*Session)

// WithPollInterval overrides the polling backstop interval.
func WithPollInterval(interval time.Duration) SessionOption {
	return func(s *Session) {
		if interval > 0 {
			s.pollInterval = interval
		}
	}
}

// WithReconnectDelay overrides the fixed reconnect delay.
func WithReconnectDelay(delay time.Duration) SessionOption {
	return func(s *Session) {
		if delay > 0 {
			s.reconnectDelay = delay
		}
	}
}

// WithRefreshHook registers a callback invoked after every refetch with the
// refreshed domain and the number of records now cached.
func WithRefreshHook(hook func(Domain, int)) SessionOption {
	return func(s *Session) {
		s.onRefresh = hook
	}
}

// NewSession constructs a session against the given API client and
// websocket endpoint.
func NewSession(api *Client, wsURL string, logger *slog.Logger, opts ...SessionOption) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		api:            api,
		wsURL:          wsURL,
		logger:         logger.With("component", "dashboard_session"),
		dialer:         websocket.DefaultDialer,
		pollInterval:   defaultPollInterval,
		reconnectDelay: defaultReconnectDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Metrics returns the cached metric snapshot.
func (s *Session) Metrics() []domain.Metric {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Metric(nil), s.metrics...)
}

// Errors returns the cached error snapshot.
func (s *Session) Errors() []domain.ErrorEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.ErrorEvent(nil), s.errs...)
}

// Alerts returns the cached alert snapshot.
func (s *Session) Alerts() []domain.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Alert(nil), s.alerts...)
}

// Run connects to the push channel and keeps the cache fresh until the
// context is cancelled. A dropped connection is retried forever on a fixed
// delay; a redundant poll refreshes every domain regardless of channel
// health.
func (s *Session) Run(ctx context.Context) error {
	s.RefreshAll(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.pollLoop(ctx)
	}()

	backoff := retry.NewConstant(s.reconnectDelay)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := s.listen(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("websocket disconnected, reconnecting", "delay", s.reconnectDelay, "error", err)
			return retry.RetryableError(err)
		}
		return ctx.Err()
	})

	wg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// listen runs one websocket connection until it drops.
func (s *Session) listen(ctx context.Context) error {
	conn, resp, err := s.dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return err
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()
	s.logger.Info("websocket connected", "url", s.wsURL)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.handleEvent(ctx, payload)
	}
}

// handleEvent maps one push event onto a stale query domain. Only the kind
// tag is trusted; the carried record is discarded.
func (s *Session) handleEvent(ctx context.Context, payload []byte) {
	var event struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		s.logger.Warn("malformed push event", "error", err)
		return
	}
	switch event.Type {
	case "metric":
		s.refresh(ctx, DomainMetrics)
	case "error":
		s.refresh(ctx, DomainErrors)
	case "alert":
		s.refresh(ctx, DomainAlerts)
	default:
		s.logger.Warn("unknown push event type", "type", event.Type)
	}
}

func (s *Session) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RefreshAll(ctx)
		}
	}
}

// RefreshAll refetches every query domain.
func (s *Session) RefreshAll(ctx context.Context) {
	s.refresh(ctx, DomainMetrics)
	s.refresh(ctx, DomainErrors)
	s.refresh(ctx, DomainAlerts)
}

func (s *Session) refresh(ctx context.Context, target Domain) {
	var count int
	switch target {
	case DomainMetrics:
		metrics, err := s.api.Metrics(ctx, "", 0)
		if err != nil {
			s.logger.Warn("failed to refresh metrics", "error", err)
			return
		}
		s.mu.Lock()
		s.metrics = metrics
		s.mu.Unlock()
		count = len(metrics)
	case DomainErrors:
		events, err := s.api.Errors(ctx, "", 0)
		if err != nil {
			s.logger.Warn("failed to refresh errors", "error", err)
			return
		}
		s.mu.Lock()
		s.errs = events
		s.mu.Unlock()
		count = len(events)
	case DomainAlerts:
		alerts, err := s.api.Alerts(ctx, "", nil)
		if err != nil {
			s.logger.Warn("failed to refresh alerts", "error", err)
			return
		}
		s.mu.Lock()
		s.alerts = alerts
		s.mu.Unlock()
		count = len(alerts)
	default:
		return
	}
	if s.onRefresh != nil {
		s.onRefresh(target, count)
	}
}
