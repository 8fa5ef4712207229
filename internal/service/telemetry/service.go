// Package telemetry implements the ingestion pipeline: validate a candidate
// record, persist it, then fan the change event out to dashboard sessions.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/nkaplan19/apm-dashboard/internal/domain"
	"github.com/nkaplan19/apm-dashboard/internal/repository"
	"github.com/nkaplan19/apm-dashboard/internal/ws"
)

// Change event kinds carried on the push channel.
const (
	EventMetric = "metric"
	EventError  = "error"
	EventAlert  = "alert"
)

// ErrValidation marks records that fail shape or range checks. Nothing is
// persisted for a record that fails validation.
var ErrValidation = errors.New("invalid telemetry data")

// MetricInput is a candidate performance sample.
type MetricInput struct {
	ApplicationID string   `json:"applicationId"`
	ResponseTime  float64  `json:"responseTime"`
	Throughput    float64  `json:"throughput"`
	ErrorRate     float64  `json:"errorRate"`
	SuccessRate   float64  `json:"successRate"`
	CPUUsage      *float64 `json:"cpuUsage"`
	MemoryUsage   *float64 `json:"memoryUsage"`
}

// ErrorInput is a candidate error occurrence record.
type ErrorInput struct {
	ApplicationID string  `json:"applicationId"`
	ErrorType     string  `json:"errorType"`
	Message       string  `json:"message"`
	StackTrace    *string `json:"stackTrace"`
	Endpoint      *string `json:"endpoint"`
	Count         *int    `json:"count"`
}

// AlertInput is a candidate threshold alert.
type AlertInput struct {
	ApplicationID string  `json:"applicationId"`
	AlertType     string  `json:"alertType"`
	Severity      string  `json:"severity"`
	Message       string  `json:"message"`
	Threshold     float64 `json:"threshold"`
	CurrentValue  float64 `json:"currentValue"`
}

// Service validates, persists and broadcasts telemetry records.
type Service struct {
	apps    repository.ApplicationRepository
	metrics repository.MetricRepository
	errs    repository.ErrorRepository
	alerts  repository.AlertRepository
	hub     *ws.Hub
	logger  *slog.Logger
	now     func() time.Time
}

// New constructs a telemetry service.
func New(apps repository.ApplicationRepository, metrics repository.MetricRepository, errs repository.ErrorRepository, alerts repository.AlertRepository, hub *ws.Hub, logger *slog.Logger) Service {
	if hub == nil {
		hub = ws.NewHub()
	}
	return Service{
		apps:    apps,
		metrics: metrics,
		errs:    errs,
		alerts:  alerts,
		hub:     hub,
		logger:  logger,
		now:     time.Now,
	}
}

// Hub returns the fan-out hub (used by the websocket handler).
func (s Service) Hub() *ws.Hub {
	return s.hub
}

func (s Service) requireApplication(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: applicationId is required", ErrValidation)
	}
	if _, err := s.apps.GetApplicationByID(ctx, id); err != nil {
		return err
	}
	return nil
}

func validateMetric(input MetricInput) error {
	if input.ResponseTime < 0 {
		return fmt.Errorf("%w: responseTime must not be negative", ErrValidation)
	}
	if input.Throughput < 0 {
		return fmt.Errorf("%w: throughput must not be negative", ErrValidation)
	}
	if input.ErrorRate < 0 || input.ErrorRate > 100 {
		return fmt.Errorf("%w: errorRate must be between 0 and 100", ErrValidation)
	}
	if input.SuccessRate < 0 || input.SuccessRate > 100 {
		return fmt.Errorf("%w: successRate must be between 0 and 100", ErrValidation)
	}
	if input.CPUUsage != nil && (*input.CPUUsage < 0 || *input.CPUUsage > 100) {
		return fmt.Errorf("%w: cpuUsage must be between 0 and 100", ErrValidation)
	}
	if input.MemoryUsage != nil && (*input.MemoryUsage < 0 || *input.MemoryUsage > 100) {
		return fmt.Errorf("%w: memoryUsage must be between 0 and 100", ErrValidation)
	}
	return nil
}

// CreateMetric validates, stores and broadcasts one performance sample.
// The id and timestamp are assigned here, never by the producer.
func (s Service) CreateMetric(ctx context.Context, input MetricInput) (*domain.Metric, error) {
	if err := validateMetric(input); err != nil {
		return nil, err
	}
	if err := s.requireApplication(ctx, input.ApplicationID); err != nil {
		return nil, err
	}
	metric := &domain.Metric{
		ID:            uuid.NewString(),
		ApplicationID: input.ApplicationID,
		Timestamp:     s.now().UTC(),
		ResponseTime:  input.ResponseTime,
		Throughput:    input.Throughput,
		ErrorRate:     input.ErrorRate,
		SuccessRate:   input.SuccessRate,
		CPUUsage:      input.CPUUsage,
		MemoryUsage:   input.MemoryUsage,
	}
	if err := s.metrics.CreateMetric(ctx, metric); err != nil {
		return nil, err
	}
	s.broadcast(EventMetric, metric)
	return metric, nil
}

func validateError(input ErrorInput) error {
	if strings.TrimSpace(input.ErrorType) == "" {
		return fmt.Errorf("%w: errorType is required", ErrValidation)
	}
	if strings.TrimSpace(input.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrValidation)
	}
	if input.Count != nil && *input.Count < 1 {
		return fmt.Errorf("%w: count must be at least 1", ErrValidation)
	}
	return nil
}

// CreateError validates, stores and broadcasts one error occurrence record.
func (s Service) CreateError(ctx context.Context, input ErrorInput) (*domain.ErrorEvent, error) {
	if err := validateError(input); err != nil {
		return nil, err
	}
	if err := s.requireApplication(ctx, input.ApplicationID); err != nil {
		return nil, err
	}
	count := 1
	if input.Count != nil {
		count = *input.Count
	}
	event := &domain.ErrorEvent{
		ID:            uuid.NewString(),
		ApplicationID: input.ApplicationID,
		Timestamp:     s.now().UTC(),
		ErrorType:     input.ErrorType,
		Message:       input.Message,
		StackTrace:    input.StackTrace,
		Endpoint:      input.Endpoint,
		Count:         count,
	}
	if err := s.errs.CreateError(ctx, event); err != nil {
		return nil, err
	}
	s.broadcast(EventError, event)
	return event, nil
}

func validateAlert(input AlertInput) error {
	if strings.TrimSpace(input.AlertType) == "" {
		return fmt.Errorf("%w: alertType is required", ErrValidation)
	}
	if !domain.ValidSeverity(input.Severity) {
		return fmt.Errorf("%w: severity must be warning or critical", ErrValidation)
	}
	if strings.TrimSpace(input.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrValidation)
	}
	return nil
}

// CreateAlert validates, stores and broadcasts one threshold alert.
// Alerts always start unacknowledged.
func (s Service) CreateAlert(ctx context.Context, input AlertInput) (*domain.Alert, error) {
	if err := validateAlert(input); err != nil {
		return nil, err
	}
	if err := s.requireApplication(ctx, input.ApplicationID); err != nil {
		return nil, err
	}
	alert := &domain.Alert{
		ID:            uuid.NewString(),
		ApplicationID: input.ApplicationID,
		Timestamp:     s.now().UTC(),
		AlertType:     input.AlertType,
		Severity:      input.Severity,
		Message:       input.Message,
		Threshold:     input.Threshold,
		CurrentValue:  input.CurrentValue,
		Acknowledged:  false,
	}
	if err := s.alerts.CreateAlert(ctx, alert); err != nil {
		return nil, err
	}
	s.broadcast(EventAlert, alert)
	return alert, nil
}

// Acknowledge flips an alert to acknowledged and broadcasts the updated
// record. Acknowledging twice keeps the original acknowledgement time.
func (s Service) Acknowledge(ctx context.Context, id string) (*domain.Alert, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, repository.ErrNotFound
	}
	alert, err := s.alerts.AcknowledgeAlert(ctx, id, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.broadcast(EventAlert, alert)
	return alert, nil
}

// BulkMetrics ingests a batch of candidate samples for one application.
// The application is resolved once for the whole batch; after that each record
// is validated and written independently. Bad records are logged and skipped,
// and only the number of records written is reported back.
func (s Service) BulkMetrics(ctx context.Context, applicationID string, records []json.RawMessage) (int, error) {
	if err := s.requireApplication(ctx, applicationID); err != nil {
		return 0, err
	}
	created := 0
	for i, raw := range records {
		var input MetricInput
		if err := json.Unmarshal(raw, &input); err != nil {
			s.logger.Warn("skipping malformed metric record", "application_id", applicationID, "index", i, "error", err)
			continue
		}
		input.ApplicationID = applicationID
		if _, err := s.CreateMetric(ctx, input); err != nil {
			s.logger.Warn("skipping invalid metric record", "application_id", applicationID, "index", i, "error", err)
			continue
		}
		created++
	}
	return created, nil
}

// BulkErrors ingests a batch of candidate error records for one application,
// with the same best-effort policy as BulkMetrics.
func (s Service) BulkErrors(ctx context.Context, applicationID string, records []json.RawMessage) (int, error) {
	if err := s.requireApplication(ctx, applicationID); err != nil {
		return 0, err
	}
	created := 0
	for i, raw := range records {
		var input ErrorInput
		if err := json.Unmarshal(raw, &input); err != nil {
			s.logger.Warn("skipping malformed error record", "application_id", applicationID, "index", i, "error", err)
			continue
		}
		input.ApplicationID = applicationID
		if _, err := s.CreateError(ctx, input); err != nil {
			s.logger.Warn("skipping invalid error record", "application_id", applicationID, "index", i, "error", err)
			continue
		}
		created++
	}
	return created, nil
}

// ListMetrics returns recent samples, optionally for one application.
func (s Service) ListMetrics(ctx context.Context, applicationID string, limit int) ([]domain.Metric, error) {
	return s.metrics.ListMetrics(ctx, applicationID, limit)
}

// ListMetricsByTimeRange returns samples inside the inclusive range.
func (s Service) ListMetricsByTimeRange(ctx context.Context, start, end time.Time, applicationID string) ([]domain.Metric, error) {
	return s.metrics.ListMetricsByTimeRange(ctx, start, end, applicationID)
}

// ListErrors returns recent error records, optionally for one application.
func (s Service) ListErrors(ctx context.Context, applicationID string, limit int) ([]domain.ErrorEvent, error) {
	return s.errs.ListErrors(ctx, applicationID, limit)
}

// ListAlerts returns alerts, optionally filtered by application and
// acknowledged state.
func (s Service) ListAlerts(ctx context.Context, applicationID string, acknowledged *bool) ([]domain.Alert, error) {
	return s.alerts.ListAlerts(ctx, applicationID, acknowledged)
}

// broadcast publishes one change event to every live session. The write has
// already committed; delivery is best-effort and never fails the caller.
func (s Service) broadcast(kind string, record any) {
	payload, err := MarshalEvent(kind, record)
	if err != nil {
		s.logger.Warn("failed to marshal change event", "kind", kind, "error", err)
		return
	}
	s.hub.Broadcast(payload)
}

// MarshalEvent frames a change event for the push channel.
func MarshalEvent(kind string, record any) ([]byte, error) {
	return json.Marshal(map[string]any{
		"type": kind,
		"data": record,
	})
}
