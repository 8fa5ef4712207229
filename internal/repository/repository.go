// Package repository defines persistence interfaces consumed by services.
package repository

import (
	"context"
	"time"

	"github.com/nkaplan19/apm-dashboard/internal/domain"
)

// ApplicationRepository persists monitored applications.
type ApplicationRepository interface {
	CreateApplication(ctx context.Context, app *domain.Application) error
	GetApplicationByID(ctx context.Context, id string) (*domain.Application, error)
	ListApplications(ctx context.Context) ([]domain.Application, error)
	UpdateApplication(ctx context.Context, id string, update domain.ApplicationUpdate) (*domain.Application, error)
	CountApplications(ctx context.Context) (int, error)
}

// MetricRepository persists performance samples.
type MetricRepository interface {
	CreateMetric(ctx context.Context, metric *domain.Metric) error
	ListMetrics(ctx context.Context, applicationID string, limit int) ([]domain.Metric, error)
	ListMetricsByTimeRange(ctx context.Context, start, end time.Time, applicationID string) ([]domain.Metric, error)
}

// ErrorRepository persists error occurrence records.
type ErrorRepository interface {
	CreateError(ctx context.Context, event *domain.ErrorEvent) error
	ListErrors(ctx context.Context, applicationID string, limit int) ([]domain.ErrorEvent, error)
}

// AlertRepository persists threshold alerts and their acknowledge lifecycle.
type AlertRepository interface {
	CreateAlert(ctx context.Context, alert *domain.Alert) error
	ListAlerts(ctx context.Context, applicationID string, acknowledged *bool) ([]domain.Alert, error)
	AcknowledgeAlert(ctx context.Context, id string, at time.Time) (*domain.Alert, error)
}
