package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nkaplan19/apm-dashboard/internal/domain"
	"github.com/nkaplan19/apm-dashboard/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.ApplicationRepository = (*Repository)(nil)
	_ repository.MetricRepository      = (*Repository)(nil)
	_ repository.ErrorRepository       = (*Repository)(nil)
	_ repository.AlertRepository       = (*Repository)(nil)
)

// CreateApplication inserts an application.
func (r *Repository) CreateApplication(ctx context.Context, app *domain.Application) error {
	const query = `INSERT INTO applications (id, name, status, uptime, avg_response_time, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query, app.ID, app.Name, app.Status, app.Uptime, app.AvgResponseTime, app.CreatedAt)
	return err
}

// GetApplicationByID fetches an application by identifier.
func (r *Repository) GetApplicationByID(ctx context.Context, id string) (*domain.Application, error) {
	const query = `SELECT id, name, status, uptime, avg_response_time, created_at
		FROM applications WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	var app domain.Application
	if err := row.Scan(&app.ID, &app.Name, &app.Status, &app.Uptime, &app.AvgResponseTime, &app.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &app, nil
}

// ListApplications returns all applications ordered by name.
func (r *Repository) ListApplications(ctx context.Context) ([]domain.Application, error) {
	const query = `SELECT id, name, status, uptime, avg_response_time, created_at
		FROM applications
		ORDER BY name`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	apps := make([]domain.Application, 0)
	for rows.Next() {
		var app domain.Application
		if err := rows.Scan(&app.ID, &app.Name, &app.Status, &app.Uptime, &app.AvgResponseTime, &app.CreatedAt); err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

// UpdateApplication applies a partial update and returns the updated row.
func (r *Repository) UpdateApplication(ctx context.Context, id string, update domain.ApplicationUpdate) (*domain.Application, error) {
	const query = `UPDATE applications SET
		name = COALESCE($2, name),
		status = COALESCE($3, status),
		uptime = COALESCE($4, uptime),
		avg_response_time = COALESCE($5, avg_response_time)
		WHERE id = $1
		RETURNING id, name, status, uptime, avg_response_time, created_at`
	row := r.pool.QueryRow(ctx, query, id, update.Name, update.Status, update.Uptime, update.AvgResponseTime)
	var app domain.Application
	if err := row.Scan(&app.ID, &app.Name, &app.Status, &app.Uptime, &app.AvgResponseTime, &app.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &app, nil
}

// CountApplications counts registered applications.
func (r *Repository) CountApplications(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(1) FROM applications`
	row := r.pool.QueryRow(ctx, query)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// CreateMetric inserts a performance sample.
func (r *Repository) CreateMetric(ctx context.Context, metric *domain.Metric) error {
	const query = `INSERT INTO metrics (id, application_id, timestamp, response_time, throughput, error_rate, success_rate, cpu_usage, memory_usage)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.pool.Exec(ctx, query,
		metric.ID,
		metric.ApplicationID,
		metric.Timestamp,
		metric.ResponseTime,
		metric.Throughput,
		metric.ErrorRate,
		metric.SuccessRate,
		metric.CPUUsage,
		metric.MemoryUsage,
	)
	return err
}

// ListMetrics returns recent samples, newest first, optionally filtered to one application.
func (r *Repository) ListMetrics(ctx context.Context, applicationID string, limit int) ([]domain.Metric, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `SELECT id, application_id, timestamp, response_time, throughput, error_rate, success_rate, cpu_usage, memory_usage
		FROM metrics
		WHERE ($1 = '' OR application_id = $1)
		ORDER BY timestamp DESC, id DESC
		LIMIT $2`
	rows, err := r.pool.Query(ctx, query, strings.TrimSpace(applicationID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMetrics(rows)
}

// ListMetricsByTimeRange returns samples with start <= timestamp <= end, newest first.
func (r *Repository) ListMetricsByTimeRange(ctx context.Context, start, end time.Time, applicationID string) ([]domain.Metric, error) {
	const query = `SELECT id, application_id, timestamp, response_time, throughput, error_rate, success_rate, cpu_usage, memory_usage
		FROM metrics
		WHERE timestamp >= $1 AND timestamp <= $2 AND ($3 = '' OR application_id = $3)
		ORDER BY timestamp DESC, id DESC`
	rows, err := r.pool.Query(ctx, query, start, end, strings.TrimSpace(applicationID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMetrics(rows)
}

func scanMetrics(rows pgx.Rows) ([]domain.Metric, error) {
	metrics := make([]domain.Metric, 0)
	for rows.Next() {
		var (
			m      domain.Metric
			cpu    sql.NullFloat64
			memory sql.NullFloat64
		)
		if err := rows.Scan(
			&m.ID,
			&m.ApplicationID,
			&m.Timestamp,
			&m.ResponseTime,
			&m.Throughput,
			&m.ErrorRate,
			&m.SuccessRate,
			&cpu,
			&memory,
		); err != nil {
			return nil, err
		}
		if cpu.Valid {
			value := cpu.Float64
			m.CPUUsage = &value
		}
		if memory.Valid {
			value := memory.Float64
			m.MemoryUsage = &value
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

// CreateError inserts an error occurrence record.
func (r *Repository) CreateError(ctx context.Context, event *domain.ErrorEvent) error {
	const query = `INSERT INTO errors (id, application_id, timestamp, error_type, message, stack_trace, endpoint, count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.pool.Exec(ctx, query,
		event.ID,
		event.ApplicationID,
		event.Timestamp,
		event.ErrorType,
		event.Message,
		event.StackTrace,
		event.Endpoint,
		event.Count,
	)
	return err
}

// ListErrors returns recent error records, newest first.
func (r *Repository) ListErrors(ctx context.Context, applicationID string, limit int) ([]domain.ErrorEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT id, application_id, timestamp, error_type, message, stack_trace, endpoint, count
		FROM errors
		WHERE ($1 = '' OR application_id = $1)
		ORDER BY timestamp DESC, id DESC
		LIMIT $2`
	rows, err := r.pool.Query(ctx, query, strings.TrimSpace(applicationID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]domain.ErrorEvent, 0)
	for rows.Next() {
		var (
			e          domain.ErrorEvent
			stackTrace sql.NullString
			endpoint   sql.NullString
		)
		if err := rows.Scan(
			&e.ID,
			&e.ApplicationID,
			&e.Timestamp,
			&e.ErrorType,
			&e.Message,
			&stackTrace,
			&endpoint,
			&e.Count,
		); err != nil {
			return nil, err
		}
		if stackTrace.Valid {
			value := stackTrace.String
			e.StackTrace = &value
		}
		if endpoint.Valid {
			value := endpoint.String
			e.Endpoint = &value
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CreateAlert inserts a threshold alert.
func (r *Repository) CreateAlert(ctx context.Context, alert *domain.Alert) error {
	const query = `INSERT INTO alerts (id, application_id, timestamp, alert_type, severity, message, threshold, current_value, acknowledged, acknowledged_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.pool.Exec(ctx, query,
		alert.ID,
		alert.ApplicationID,
		alert.Timestamp,
		alert.AlertType,
		alert.Severity,
		alert.Message,
		alert.Threshold,
		alert.CurrentValue,
		alert.Acknowledged,
		alert.AcknowledgedAt,
	)
	return err
}

// ListAlerts returns alerts newest first, optionally filtered by application
// and acknowledged state. Both filters combine with AND when supplied.
func (r *Repository) ListAlerts(ctx context.Context, applicationID string, acknowledged *bool) ([]domain.Alert, error) {
	const query = `SELECT id, application_id, timestamp, alert_type, severity, message, threshold, current_value, acknowledged, acknowledged_at
		FROM alerts
		WHERE ($1 = '' OR application_id = $1) AND ($2::boolean IS NULL OR acknowledged = $2)
		ORDER BY timestamp DESC, id DESC`
	rows, err := r.pool.Query(ctx, query, strings.TrimSpace(applicationID), acknowledged)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	alerts := make([]domain.Alert, 0)
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, *alert)
	}
	return alerts, rows.Err()
}

// AcknowledgeAlert marks an alert acknowledged. A repeat acknowledgement keeps
// the original acknowledged_at value.
func (r *Repository) AcknowledgeAlert(ctx context.Context, id string, at time.Time) (*domain.Alert, error) {
	const query = `UPDATE alerts SET
		acknowledged = TRUE,
		acknowledged_at = COALESCE(acknowledged_at, $2)
		WHERE id = $1
		RETURNING id, application_id, timestamp, alert_type, severity, message, threshold, current_value, acknowledged, acknowledged_at`
	row := r.pool.QueryRow(ctx, query, id, at)
	alert, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return alert, nil
}

func scanAlert(row pgx.Row) (*domain.Alert, error) {
	var (
		a              domain.Alert
		acknowledgedAt sql.NullTime
	)
	if err := row.Scan(
		&a.ID,
		&a.ApplicationID,
		&a.Timestamp,
		&a.AlertType,
		&a.Severity,
		&a.Message,
		&a.Threshold,
		&a.CurrentValue,
		&a.Acknowledged,
		&acknowledgedAt,
	); err != nil {
		return nil, err
	}
	if acknowledgedAt.Valid {
		value := acknowledgedAt.Time
		a.AcknowledgedAt = &value
	}
	return &a, nil
}
