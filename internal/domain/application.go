package domain

import "time"

// Application statuses.
const (
	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusCritical = "critical"
)

// Application is a monitored external service identified by a stable id.
// Status, uptime and average response time are summary fields managed by
// callers; they are not derived from the metric stream.
type Application struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Status          string    `json:"status"`
	Uptime          float64   `json:"uptime"`
	AvgResponseTime float64   `json:"avgResponseTime"`
	CreatedAt       time.Time `json:"createdAt"`
}

// ApplicationUpdate captures a partial update to an application's mutable
// summary fields. Nil fields are left untouched.
type ApplicationUpdate struct {
	Name            *string  `json:"name"`
	Status          *string  `json:"status"`
	Uptime          *float64 `json:"uptime"`
	AvgResponseTime *float64 `json:"avgResponseTime"`
}

// ValidStatus reports whether s is a recognised application status.
func ValidStatus(s string) bool {
	switch s {
	case StatusHealthy, StatusWarning, StatusCritical:
		return true
	}
	return false
}
