// Package application manages the catalog of monitored applications.
package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/nkaplan19/apm-dashboard/internal/domain"
	"github.com/nkaplan19/apm-dashboard/internal/repository"
)

// ErrValidation marks payloads that fail shape or range checks.
var ErrValidation = errors.New("invalid application data")

// CreateInput holds attributes for direct application creation.
type CreateInput struct {
	Name            string  `json:"name"`
	Status          string  `json:"status"`
	Uptime          float64 `json:"uptime"`
	AvgResponseTime float64 `json:"avgResponseTime"`
}

// RegisterInput holds the minimal descriptor external producers send.
// Description, version and environment are accepted but not persisted.
type RegisterInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`
	Environment string `json:"environment"`
}

// Service orchestrates application catalog operations.
type Service struct {
	repo   repository.ApplicationRepository
	logger *slog.Logger
	now    func() time.Time
}

// New returns an application service.
func New(repo repository.ApplicationRepository, logger *slog.Logger) Service {
	return Service{repo: repo, logger: logger, now: time.Now}
}

// List returns all applications ordered by name.
func (s Service) List(ctx context.Context) ([]domain.Application, error) {
	return s.repo.ListApplications(ctx)
}

// Get returns one application by identifier.
func (s Service) Get(ctx context.Context, id string) (*domain.Application, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, repository.ErrNotFound
	}
	return s.repo.GetApplicationByID(ctx, id)
}

// Create validates and stores a new application.
func (s Service) Create(ctx context.Context, input CreateInput) (*domain.Application, error) {
	input.Name = strings.TrimSpace(input.Name)
	if input.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if !domain.ValidStatus(input.Status) {
		return nil, fmt.Errorf("%w: status must be healthy, warning or critical", ErrValidation)
	}
	if input.Uptime < 0 || input.Uptime > 100 {
		return nil, fmt.Errorf("%w: uptime must be between 0 and 100", ErrValidation)
	}
	if input.AvgResponseTime < 0 {
		return nil, fmt.Errorf("%w: avgResponseTime must not be negative", ErrValidation)
	}
	app := &domain.Application{
		ID:              uuid.NewString(),
		Name:            input.Name,
		Status:          input.Status,
		Uptime:          input.Uptime,
		AvgResponseTime: input.AvgResponseTime,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.repo.CreateApplication(ctx, app); err != nil {
		return nil, err
	}
	s.logger.Info("application created", "application_id", app.ID, "name", app.Name)
	return app, nil
}

// Register creates an application from the minimal external descriptor and
// returns the generated record for the producer to use in ingestion calls.
func (s Service) Register(ctx context.Context, input RegisterInput) (*domain.Application, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	return s.Create(ctx, CreateInput{
		Name:            input.Name,
		Status:          domain.StatusHealthy,
		Uptime:          100,
		AvgResponseTime: 0,
	})
}

// Update applies a partial update to an application's mutable fields.
func (s Service) Update(ctx context.Context, id string, update domain.ApplicationUpdate) (*domain.Application, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, repository.ErrNotFound
	}
	if update.Name != nil && strings.TrimSpace(*update.Name) == "" {
		return nil, fmt.Errorf("%w: name must not be empty", ErrValidation)
	}
	if update.Status != nil && !domain.ValidStatus(*update.Status) {
		return nil, fmt.Errorf("%w: status must be healthy, warning or critical", ErrValidation)
	}
	if update.Uptime != nil && (*update.Uptime < 0 || *update.Uptime > 100) {
		return nil, fmt.Errorf("%w: uptime must be between 0 and 100", ErrValidation)
	}
	if update.AvgResponseTime != nil && *update.AvgResponseTime < 0 {
		return nil, fmt.Errorf("%w: avgResponseTime must not be negative", ErrValidation)
	}
	return s.repo.UpdateApplication(ctx, id, update)
}

// seedApplications are inserted on first startup so the dashboard has data
// before any external producer registers.
var seedApplications = []domain.Application{
	{Name: "Web Portal", Status: domain.StatusHealthy, Uptime: 99.9, AvgResponseTime: 156},
	{Name: "API Gateway", Status: domain.StatusWarning, Uptime: 98.2, AvgResponseTime: 324},
	{Name: "User Service", Status: domain.StatusHealthy, Uptime: 99.7, AvgResponseTime: 189},
	{Name: "Payment Service", Status: domain.StatusCritical, Uptime: 95.1, AvgResponseTime: 892},
}

// Seed inserts the sample applications when the catalog is empty. It runs at
// most once per empty database; a non-empty catalog is left untouched.
func (s Service) Seed(ctx context.Context) error {
	count, err := s.repo.CountApplications(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	for _, sample := range seedApplications {
		app := sample
		app.ID = uuid.NewString()
		app.CreatedAt = s.now().UTC()
		if err := s.repo.CreateApplication(ctx, &app); err != nil {
			return fmt.Errorf("seed application %q: %w", app.Name, err)
		}
	}
	s.logger.Info("seeded sample applications", "count", len(seedApplications))
	return nil
}
