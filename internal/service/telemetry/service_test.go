package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"log/slog"

	"github.com/nkaplan19/apm-dashboard/internal/domain"
	"github.com/nkaplan19/apm-dashboard/internal/repository"
	"github.com/nkaplan19/apm-dashboard/internal/ws"
)

// memStore backs all four repositories with in-memory slices.
type memStore struct {
	apps    map[string]domain.Application
	metrics []domain.Metric
	errs    []domain.ErrorEvent
	alerts  []domain.Alert

	metricErr error
}

func newMemStore(appIDs ...string) *memStore {
	s := &memStore{apps: make(map[string]domain.Application)}
	for _, id := range appIDs {
		s.apps[id] = domain.Application{ID: id, Name: id, Status: domain.StatusHealthy}
	}
	return s
}

func (s *memStore) CreateApplication(ctx context.Context, app *domain.Application) error {
	s.apps[app.ID] = *app
	return nil
}

func (s *memStore) GetApplicationByID(ctx context.Context, id string) (*domain.Application, error) {
	if app, ok := s.apps[id]; ok {
		return &app, nil
	}
	return nil, repository.ErrNotFound
}

func (s *memStore) ListApplications(ctx context.Context) ([]domain.Application, error) {
	apps := make([]domain.Application, 0, len(s.apps))
	for _, app := range s.apps {
		apps = append(apps, app)
	}
	return apps, nil
}

func (s *memStore) UpdateApplication(ctx context.Context, id string, update domain.ApplicationUpdate) (*domain.Application, error) {
	app, ok := s.apps[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &app, nil
}

func (s *memStore) CountApplications(ctx context.Context) (int, error) {
	return len(s.apps), nil
}

func (s *memStore) CreateMetric(ctx context.Context, metric *domain.Metric) error {
	if s.metricErr != nil {
		return s.metricErr
	}
	s.metrics = append(s.metrics, *metric)
	return nil
}

func (s *memStore) ListMetrics(ctx context.Context, applicationID string, limit int) ([]domain.Metric, error) {
	return s.metrics, nil
}

func (s *memStore) ListMetricsByTimeRange(ctx context.Context, start, end time.Time, applicationID string) ([]domain.Metric, error) {
	return s.metrics, nil
}

func (s *memStore) CreateError(ctx context.Context, event *domain.ErrorEvent) error {
	s.errs = append(s.errs, *event)
	return nil
}

func (s *memStore) ListErrors(ctx context.Context, applicationID string, limit int) ([]domain.ErrorEvent, error) {
	return s.errs, nil
}

func (s *memStore) CreateAlert(ctx context.Context, alert *domain.Alert) error {
	s.alerts = append(s.alerts, *alert)
	return nil
}

func (s *memStore) ListAlerts(ctx context.Context, applicationID string, acknowledged *bool) ([]domain.Alert, error) {
	return s.alerts, nil
}

func (s *memStore) AcknowledgeAlert(ctx context.Context, id string, at time.Time) (*domain.Alert, error) {
	for i := range s.alerts {
		if s.alerts[i].ID != id {
			continue
		}
		s.alerts[i].Acknowledged = true
		if s.alerts[i].AcknowledgedAt == nil {
			t := at
			s.alerts[i].AcknowledgedAt = &t
		}
		alert := s.alerts[i]
		return &alert, nil
	}
	return nil, repository.ErrNotFound
}

// recordingSubscriber captures broadcast payloads.
type recordingSubscriber struct {
	received chan []byte
}

func newRecordingSubscriber() *recordingSubscriber {
	return &recordingSubscriber{received: make(chan []byte, 32)}
}

func (r *recordingSubscriber) Send(payload []byte) error {
	r.received <- payload
	return nil
}

func (r *recordingSubscriber) Close() {}

func (r *recordingSubscriber) next(t *testing.T) []byte {
	t.Helper()
	select {
	case payload := <-r.received:
		return payload
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
		return nil
	}
}

func (r *recordingSubscriber) expectNone(t *testing.T) {
	t.Helper()
	select {
	case payload := <-r.received:
		t.Fatalf("unexpected broadcast: %s", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func testEnv(t *testing.T, appIDs ...string) (Service, *memStore, *recordingSubscriber) {
	t.Helper()
	store := newMemStore(appIDs...)
	hub := ws.NewHub()
	sub := newRecordingSubscriber()
	hub.Register(sub)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, store, store, store, hub, log), store, sub
}

func TestCreateMetricAssignsIdentityAndBroadcasts(t *testing.T) {
	svc, store, sub := testEnv(t, "app-1")

	cpu := 42.5
	metric, err := svc.CreateMetric(context.Background(), MetricInput{
		ApplicationID: "app-1",
		ResponseTime:  150,
		Throughput:    1200,
		ErrorRate:     0.4,
		SuccessRate:   99.6,
		CPUUsage:      &cpu,
	})
	if err != nil {
		t.Fatalf("CreateMetric returned error: %v", err)
	}
	if metric.ID == "" || metric.Timestamp.IsZero() {
		t.Fatalf("expected assigned id and timestamp, got %+v", metric)
	}
	if len(store.metrics) != 1 {
		t.Fatalf("expected one stored metric, got %d", len(store.metrics))
	}

	var event struct {
		Type string        `json:"type"`
		Data domain.Metric `json:"data"`
	}
	if err := json.Unmarshal(sub.next(t), &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.Type != EventMetric {
		t.Fatalf("expected %q event, got %q", EventMetric, event.Type)
	}
	if event.Data.ID != metric.ID {
		t.Fatalf("event carries record %q, created %q", event.Data.ID, metric.ID)
	}
}

func TestCreateMetricUnknownApplication(t *testing.T) {
	svc, store, sub := testEnv(t, "app-1")

	_, err := svc.CreateMetric(context.Background(), MetricInput{ApplicationID: "ghost", ResponseTime: 100})
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(store.metrics) != 0 {
		t.Fatalf("expected nothing persisted, got %d metrics", len(store.metrics))
	}
	sub.expectNone(t)
}

func TestCreateMetricValidation(t *testing.T) {
	svc, store, _ := testEnv(t, "app-1")

	bad := 130.0
	cases := []struct {
		name  string
		input MetricInput
	}{
		{"negative responseTime", MetricInput{ApplicationID: "app-1", ResponseTime: -1}},
		{"errorRate above 100", MetricInput{ApplicationID: "app-1", ErrorRate: 101}},
		{"cpuUsage above 100", MetricInput{ApplicationID: "app-1", CPUUsage: &bad}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.CreateMetric(context.Background(), tc.input); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
	if len(store.metrics) != 0 {
		t.Fatalf("expected nothing persisted, got %d metrics", len(store.metrics))
	}
}

func TestCreateErrorDefaultsCount(t *testing.T) {
	svc, store, sub := testEnv(t, "app-1")

	event, err := svc.CreateError(context.Background(), ErrorInput{
		ApplicationID: "app-1",
		ErrorType:     "DatabaseError",
		Message:       "connection refused",
	})
	if err != nil {
		t.Fatalf("CreateError returned error: %v", err)
	}
	if event.Count != 1 {
		t.Fatalf("expected count 1, got %d", event.Count)
	}
	if len(store.errs) != 1 {
		t.Fatalf("expected one stored error, got %d", len(store.errs))
	}

	var frame struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(sub.next(t), &frame); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if frame.Type != EventError {
		t.Fatalf("expected %q event, got %q", EventError, frame.Type)
	}
}

func TestCreateAlertStartsUnacknowledged(t *testing.T) {
	svc, _, sub := testEnv(t, "app-1")

	alert, err := svc.CreateAlert(context.Background(), AlertInput{
		ApplicationID: "app-1",
		AlertType:     domain.AlertHighResponseTime,
		Severity:      domain.SeverityCritical,
		Message:       "response time exceeded threshold",
		Threshold:     500,
		CurrentValue:  612,
	})
	if err != nil {
		t.Fatalf("CreateAlert returned error: %v", err)
	}
	if alert.Acknowledged || alert.AcknowledgedAt != nil {
		t.Fatalf("new alert must start unacknowledged: %+v", alert)
	}
	sub.next(t)
}

func TestAcknowledgeIsIdempotent(t *testing.T) {
	svc, _, sub := testEnv(t, "app-1")

	alert, err := svc.CreateAlert(context.Background(), AlertInput{
		ApplicationID: "app-1",
		AlertType:     domain.AlertErrorRate,
		Severity:      domain.SeverityWarning,
		Message:       "error rate exceeded threshold",
	})
	if err != nil {
		t.Fatalf("CreateAlert returned error: %v", err)
	}
	sub.next(t)

	first, err := svc.Acknowledge(context.Background(), alert.ID)
	if err != nil {
		t.Fatalf("Acknowledge returned error: %v", err)
	}
	if !first.Acknowledged || first.AcknowledgedAt == nil {
		t.Fatalf("expected acknowledged alert, got %+v", first)
	}
	sub.next(t)

	second, err := svc.Acknowledge(context.Background(), alert.ID)
	if err != nil {
		t.Fatalf("second Acknowledge returned error: %v", err)
	}
	if !second.AcknowledgedAt.Equal(*first.AcknowledgedAt) {
		t.Fatalf("acknowledgement time changed: %v then %v", first.AcknowledgedAt, second.AcknowledgedAt)
	}
}

func TestAcknowledgeUnknownAlert(t *testing.T) {
	svc, _, _ := testEnv(t, "app-1")
	if _, err := svc.Acknowledge(context.Background(), "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBulkMetricsSkipsBadRecords(t *testing.T) {
	svc, store, sub := testEnv(t, "app-1")

	records := []json.RawMessage{
		json.RawMessage(`{"responseTime": 120, "throughput": 900, "errorRate": 0.2, "successRate": 99.8}`),
		json.RawMessage(`{"responseTime": -5}`),
		json.RawMessage(`not json`),
		json.RawMessage(`{"responseTime": 310, "throughput": 1400, "errorRate": 1.1, "successRate": 98.9}`),
	}
	created, err := svc.BulkMetrics(context.Background(), "app-1", records)
	if err != nil {
		t.Fatalf("BulkMetrics returned error: %v", err)
	}
	if created != 2 {
		t.Fatalf("expected 2 records written, got %d", created)
	}
	if len(store.metrics) != 2 {
		t.Fatalf("expected 2 stored metrics, got %d", len(store.metrics))
	}

	// One event per stored record, none for the skipped ones.
	sub.next(t)
	sub.next(t)
	sub.expectNone(t)
}

func TestBulkMetricsUnknownApplicationFailsBatch(t *testing.T) {
	svc, store, _ := testEnv(t)

	records := []json.RawMessage{json.RawMessage(`{"responseTime": 120}`)}
	if _, err := svc.BulkMetrics(context.Background(), "ghost", records); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(store.metrics) != 0 {
		t.Fatalf("expected nothing persisted, got %d metrics", len(store.metrics))
	}
}

func TestBulkErrorsCountsOnlyWrites(t *testing.T) {
	svc, store, _ := testEnv(t, "app-1")

	records := []json.RawMessage{
		json.RawMessage(`{"errorType": "TimeoutError", "message": "upstream timeout"}`),
		json.RawMessage(`{"errorType": "", "message": "missing type"}`),
		json.RawMessage(`{"errorType": "ValidationError", "message": "bad input", "count": 3}`),
	}
	created, err := svc.BulkErrors(context.Background(), "app-1", records)
	if err != nil {
		t.Fatalf("BulkErrors returned error: %v", err)
	}
	if created != 2 {
		t.Fatalf("expected 2 records written, got %d", created)
	}
	if store.errs[1].Count != 3 {
		t.Fatalf("expected explicit count preserved, got %d", store.errs[1].Count)
	}
}

func TestBroadcastSurvivesStoreFailure(t *testing.T) {
	svc, store, sub := testEnv(t, "app-1")
	store.metricErr = errors.New("disk full")

	if _, err := svc.CreateMetric(context.Background(), MetricInput{ApplicationID: "app-1", ResponseTime: 100}); err == nil {
		t.Fatal("expected store error")
	}
	sub.expectNone(t)
}
