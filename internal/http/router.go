// Package httpx wires the collector's HTTP and websocket endpoints.
package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nkaplan19/apm-dashboard/internal/domain"
	"github.com/nkaplan19/apm-dashboard/internal/repository"
	"github.com/nkaplan19/apm-dashboard/internal/service/application"
	"github.com/nkaplan19/apm-dashboard/internal/service/telemetry"
	"github.com/nkaplan19/apm-dashboard/internal/ws"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux       *http.ServeMux
	logger    *slog.Logger
	apps      application.Service
	telemetry telemetry.Service
	upgrader  websocket.Upgrader
	limiter   RateLimiter
	dbHealth  func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault   = time.Minute
	rateWindowRealtime  = 30 * time.Second
	rateLimitRead       = 240
	rateLimitWrite      = 120
	rateLimitRegister   = 30
	rateLimitIngest     = 600
	rateLimitIngestBulk = 120
	rateLimitWebsocket  = 30
	healthCheckTimeout  = 2 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, appSvc application.Service, telemetrySvc telemetry.Service, limiter RateLimiter, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:       http.NewServeMux(),
		logger:    logger,
		apps:      appSvc,
		telemetry: telemetrySvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:  limiter,
		dbHealth: dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/api/applications", r.audit("/api/applications", r.withRateLimit("/api/applications", rateLimitWrite, rateWindowDefault, rateLimitKeyIP, r.handleApplications)))
	r.mux.HandleFunc("/api/applications/", r.audit("/api/applications/{id}", r.withRateLimit("/api/applications/{id}", rateLimitWrite, rateWindowDefault, rateLimitKeyIP, r.handleApplicationByID)))
	r.mux.HandleFunc("/api/metrics", r.audit("/api/metrics", r.withRateLimit("/api/metrics", rateLimitRead, rateWindowDefault, rateLimitKeyIP, r.handleMetrics)))
	r.mux.HandleFunc("/api/errors", r.audit("/api/errors", r.withRateLimit("/api/errors", rateLimitRead, rateWindowDefault, rateLimitKeyIP, r.handleErrors)))
	r.mux.HandleFunc("/api/alerts", r.audit("/api/alerts", r.withRateLimit("/api/alerts", rateLimitRead, rateWindowDefault, rateLimitKeyIP, r.handleAlerts)))
	r.mux.HandleFunc("/api/alerts/", r.audit("/api/alerts/{id}/acknowledge", r.withRateLimit("/api/alerts/{id}/acknowledge", rateLimitWrite, rateWindowDefault, rateLimitKeyIP, r.handleAlertSubroutes)))
	r.mux.HandleFunc("/api/ingest/register", r.audit("/api/ingest/register", r.withRateLimit("/api/ingest/register", rateLimitRegister, rateWindowDefault, rateLimitKeyIP, r.handleRegister)))
	r.mux.HandleFunc("/api/ingest/metrics", r.audit("/api/ingest/metrics", r.withRateLimit("/api/ingest/metrics", rateLimitIngest, rateWindowDefault, rateLimitKeyIP, r.handleIngestMetric)))
	r.mux.HandleFunc("/api/ingest/metrics/bulk", r.audit("/api/ingest/metrics/bulk", r.withRateLimit("/api/ingest/metrics/bulk", rateLimitIngestBulk, rateWindowDefault, rateLimitKeyIP, r.handleIngestMetricsBulk)))
	r.mux.HandleFunc("/api/ingest/errors/bulk", r.audit("/api/ingest/errors/bulk", r.withRateLimit("/api/ingest/errors/bulk", rateLimitIngestBulk, rateWindowDefault, rateLimitKeyIP, r.handleIngestErrorsBulk)))
	r.mux.HandleFunc("/ws", r.audit("/ws", r.withRateLimit("/ws", rateLimitWebsocket, rateWindowRealtime, rateLimitKeyIP, r.handleWS)))
}

func (r *Router) handleApplications(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		apps, err := r.apps.List(req.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to fetch applications")
			return
		}
		writeJSON(w, http.StatusOK, apps)
	case http.MethodPost:
		var payload application.CreateInput
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		app, err := r.apps.Create(req.Context(), payload)
		if err != nil {
			if errors.Is(err, application.ErrValidation) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "Failed to create application")
			return
		}
		writeJSON(w, http.StatusCreated, app)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleApplicationByID(w http.ResponseWriter, req *http.Request) {
	id := strings.TrimPrefix(req.URL.Path, "/api/applications/")
	if id == "" || strings.Contains(id, "/") {
		r.notFound(w)
		return
	}
	switch req.Method {
	case http.MethodGet:
		app, err := r.apps.Get(req.Context(), id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				writeError(w, http.StatusNotFound, "Application not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "Failed to fetch application")
			return
		}
		writeJSON(w, http.StatusOK, app)
	case http.MethodPatch:
		var update domain.ApplicationUpdate
		if err := json.NewDecoder(req.Body).Decode(&update); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		app, err := r.apps.Update(req.Context(), id, update)
		if err != nil {
			switch {
			case errors.Is(err, application.ErrValidation):
				writeError(w, http.StatusBadRequest, err.Error())
			case errors.Is(err, repository.ErrNotFound):
				writeError(w, http.StatusNotFound, "Application not found")
			default:
				writeError(w, http.StatusInternalServerError, "Failed to update application")
			}
			return
		}
		writeJSON(w, http.StatusOK, app)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleRegister(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload application.RegisterInput
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	app, err := r.apps.Register(req.Context(), payload)
	if err != nil {
		if errors.Is(err, application.ErrValidation) {
			writeError(w, http.StatusBadRequest, "Application name is required")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to register application")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"applicationId": app.ID,
		"message":       "Application registered successfully",
		"application":   app,
	})
}

func (r *Router) handleMetrics(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		query := req.URL.Query()
		applicationID := query.Get("applicationId")
		start := query.Get("start")
		end := query.Get("end")

		var (
			metrics []domain.Metric
			err     error
		)
		if start != "" && end != "" {
			startTime, perr := time.Parse(time.RFC3339, start)
			if perr != nil {
				writeError(w, http.StatusBadRequest, "invalid start timestamp")
				return
			}
			endTime, perr := time.Parse(time.RFC3339, end)
			if perr != nil {
				writeError(w, http.StatusBadRequest, "invalid end timestamp")
				return
			}
			metrics, err = r.telemetry.ListMetricsByTimeRange(req.Context(), startTime, endTime, applicationID)
		} else {
			limit, _ := strconv.Atoi(query.Get("limit"))
			metrics, err = r.telemetry.ListMetrics(req.Context(), applicationID, limit)
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to fetch metrics")
			return
		}
		writeJSON(w, http.StatusOK, metrics)
	case http.MethodPost:
		r.createMetric(w, req)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleIngestMetric(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	r.createMetric(w, req)
}

func (r *Router) createMetric(w http.ResponseWriter, req *http.Request) {
	var payload telemetry.MetricInput
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid metric data")
		return
	}
	metric, err := r.telemetry.CreateMetric(req.Context(), payload)
	if err != nil {
		r.writeTelemetryError(w, err, "Application not found", "Failed to create metric")
		return
	}
	writeJSON(w, http.StatusCreated, metric)
}

func (r *Router) handleIngestMetricsBulk(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		ApplicationID string            `json:"applicationId"`
		Metrics       []json.RawMessage `json:"metrics"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(payload.ApplicationID) == "" || payload.Metrics == nil {
		writeError(w, http.StatusBadRequest, "applicationId and metrics array are required")
		return
	}
	count, err := r.telemetry.BulkMetrics(req.Context(), payload.ApplicationID, payload.Metrics)
	if err != nil {
		r.writeTelemetryError(w, err, "Application not found", "Failed to ingest metrics")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Successfully ingested " + strconv.Itoa(count) + " metrics",
		"count":   count,
	})
}

func (r *Router) handleErrors(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		query := req.URL.Query()
		limit, _ := strconv.Atoi(query.Get("limit"))
		events, err := r.telemetry.ListErrors(req.Context(), query.Get("applicationId"), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to fetch errors")
			return
		}
		writeJSON(w, http.StatusOK, events)
	case http.MethodPost:
		var payload telemetry.ErrorInput
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid error data")
			return
		}
		event, err := r.telemetry.CreateError(req.Context(), payload)
		if err != nil {
			r.writeTelemetryError(w, err, "Application not found", "Failed to create error")
			return
		}
		writeJSON(w, http.StatusCreated, event)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleIngestErrorsBulk(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		ApplicationID string            `json:"applicationId"`
		Errors        []json.RawMessage `json:"errors"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(payload.ApplicationID) == "" || payload.Errors == nil {
		writeError(w, http.StatusBadRequest, "applicationId and errors array are required")
		return
	}
	count, err := r.telemetry.BulkErrors(req.Context(), payload.ApplicationID, payload.Errors)
	if err != nil {
		r.writeTelemetryError(w, err, "Application not found", "Failed to ingest errors")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Successfully ingested " + strconv.Itoa(count) + " errors",
		"count":   count,
	})
}

func (r *Router) handleAlerts(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		query := req.URL.Query()
		var acknowledged *bool
		if raw := query.Get("acknowledged"); raw != "" {
			value := raw == "true"
			acknowledged = &value
		}
		alerts, err := r.telemetry.ListAlerts(req.Context(), query.Get("applicationId"), acknowledged)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to fetch alerts")
			return
		}
		writeJSON(w, http.StatusOK, alerts)
	case http.MethodPost:
		var payload telemetry.AlertInput
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid alert data")
			return
		}
		alert, err := r.telemetry.CreateAlert(req.Context(), payload)
		if err != nil {
			r.writeTelemetryError(w, err, "Application not found", "Failed to create alert")
			return
		}
		writeJSON(w, http.StatusCreated, alert)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleAlertSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/api/alerts/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "acknowledge" {
		r.notFound(w)
		return
	}
	if req.Method != http.MethodPatch {
		r.methodNotAllowed(w)
		return
	}
	alert, err := r.telemetry.Acknowledge(req.Context(), parts[0])
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Alert not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to acknowledge alert")
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (r *Router) handleWS(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	hub := r.telemetry.Hub()
	hub.Register(client)
	go func() {
		defer func() {
			hub.Unregister(client)
			client.Close()
		}()
		// No client->server protocol is defined; the read loop only
		// detects disconnects.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

// writeTelemetryError maps pipeline errors onto the wire contract: validation
// failures are 400, unresolved application references are 404, everything
// else is a store failure.
func (r *Router) writeTelemetryError(w http.ResponseWriter, err error, notFoundMsg, storeMsg string) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, notFoundMsg)
	case errors.Is(err, telemetry.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, storeMsg)
	}
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
		r.recordRequestMetrics(req.Method, route, status, duration)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

// Hijack is required so the websocket upgrade works through the recorder.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
