// Package simulator generates plausible telemetry for every known application
// so the pipeline stays exercised in the absence of real producers. It is just
// another producer: everything goes through the telemetry service entry points.
package simulator

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/nkaplan19/apm-dashboard/internal/domain"
	"github.com/nkaplan19/apm-dashboard/internal/repository"
	"github.com/nkaplan19/apm-dashboard/internal/service/telemetry"
)

const (
	defaultInterval = 10 * time.Second
	sweepTimeout    = 8 * time.Second

	errorProbability = 0.10
	alertProbability = 0.05

	sampleStackTrace = "at com.example.service.UserService.getUser(UserService.java:42)"
)

var (
	errorTypes = []string{"NullPointerException", "TimeoutException", "DatabaseConnectionException", "ValidationError"}
	endpoints  = []string{"/api/users", "/api/payments/process", "/api/auth/login", "/api/orders"}
	alertTypes = []string{domain.AlertHighResponseTime, domain.AlertCPUUsage, domain.AlertErrorRate}

	alertThresholds = map[string]float64{
		domain.AlertHighResponseTime: 500,
		domain.AlertCPUUsage:         80,
		domain.AlertErrorRate:        1,
	}
)

// Service periodically manufactures metrics, errors and alerts.
type Service struct {
	apps      repository.ApplicationRepository
	telemetry telemetry.Service
	logger    *slog.Logger
	interval  time.Duration
	rand      *rand.Rand
	cron      *cron.Cron
}

// New constructs a simulator sweeping every interval.
func New(apps repository.ApplicationRepository, telemetrySvc telemetry.Service, logger *slog.Logger, interval time.Duration) *Service {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger != nil {
		logger = logger.With("component", "simulator")
	}
	return &Service{
		apps:      apps,
		telemetry: telemetrySvc,
		logger:    logger,
		interval:  interval,
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start schedules the sweep on a cron cadence. It returns immediately; sweeps
// run on the cron goroutine until Stop or context cancellation.
func (s *Service) Start(ctx context.Context) error {
	if s.cron != nil {
		return nil
	}
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := c.AddFunc(spec, func() { s.Sweep(ctx) }); err != nil {
		return fmt.Errorf("schedule simulator: %w", err)
	}
	c.Start()
	s.cron = c
	s.logger.Info("simulator started", "interval", s.interval)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts the schedule, waiting for an in-flight sweep to finish.
func (s *Service) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.logger.Info("simulator stopped")
}

// Sweep produces one round of telemetry for every current application.
// A failed write for one application never stops the others.
func (s *Service) Sweep(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, sweepTimeout)
	defer cancel()

	apps, err := s.apps.ListApplications(ctx)
	if err != nil {
		s.logger.Error("failed to list applications", "error", err)
		return
	}
	for _, app := range apps {
		s.sweepApplication(ctx, app)
	}
}

func (s *Service) sweepApplication(ctx context.Context, app domain.Application) {
	metricInput := s.generateMetric(app.ID)
	metric, err := s.telemetry.CreateMetric(ctx, metricInput)
	if err != nil {
		s.logger.Warn("failed to write simulated metric", "application_id", app.ID, "error", err)
		return
	}

	if s.rand.Float64() < errorProbability {
		if _, err := s.telemetry.CreateError(ctx, s.generateError(app)); err != nil {
			s.logger.Warn("failed to write simulated error", "application_id", app.ID, "error", err)
		}
	}

	if s.rand.Float64() < alertProbability {
		if _, err := s.telemetry.CreateAlert(ctx, s.generateAlert(app, metric)); err != nil {
			s.logger.Warn("failed to write simulated alert", "application_id", app.ID, "error", err)
		}
	}
}

func (s *Service) generateMetric(applicationID string) telemetry.MetricInput {
	cpu := s.rand.Float64() * 100
	memory := s.rand.Float64() * 100
	return telemetry.MetricInput{
		ApplicationID: applicationID,
		ResponseTime:  s.rand.Float64()*500 + 100,
		Throughput:    s.rand.Float64()*2000 + 500,
		ErrorRate:     s.rand.Float64() * 2,
		SuccessRate:   100 - s.rand.Float64()*2,
		CPUUsage:      &cpu,
		MemoryUsage:   &memory,
	}
}

func (s *Service) generateError(app domain.Application) telemetry.ErrorInput {
	stackTrace := sampleStackTrace
	endpoint := endpoints[s.rand.Intn(len(endpoints))]
	count := 1
	return telemetry.ErrorInput{
		ApplicationID: app.ID,
		ErrorType:     errorTypes[s.rand.Intn(len(errorTypes))],
		Message:       fmt.Sprintf("Error occurred in %s", app.Name),
		StackTrace:    &stackTrace,
		Endpoint:      &endpoint,
		Count:         &count,
	}
}

func (s *Service) generateAlert(app domain.Application, metric *domain.Metric) telemetry.AlertInput {
	alertType := alertTypes[s.rand.Intn(len(alertTypes))]

	severity := domain.SeverityWarning
	if metric.ResponseTime > 400 || metric.ErrorRate > 1 {
		severity = domain.SeverityCritical
	}

	var currentValue float64
	switch alertType {
	case domain.AlertHighResponseTime:
		currentValue = metric.ResponseTime
	case domain.AlertCPUUsage:
		if metric.CPUUsage != nil {
			currentValue = *metric.CPUUsage
		}
	case domain.AlertErrorRate:
		currentValue = metric.ErrorRate
	}

	return telemetry.AlertInput{
		ApplicationID: app.ID,
		AlertType:     alertType,
		Severity:      severity,
		Message:       fmt.Sprintf("%s threshold exceeded for %s", strings.ReplaceAll(alertType, "_", " "), app.Name),
		Threshold:     alertThresholds[alertType],
		CurrentValue:  currentValue,
	}
}
