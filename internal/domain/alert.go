package domain

import "time"

// Alert severities.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Alert types raised by threshold checks.
const (
	AlertHighResponseTime = "high_response_time"
	AlertCPUUsage         = "cpu_usage"
	AlertErrorRate        = "error_rate"
)

// Alert is a timestamped threshold-breach notification tied to an application.
// Acknowledged is monotonic: once true it stays true, and AcknowledgedAt keeps
// the time of the first acknowledgement.
type Alert struct {
	ID             string     `json:"id"`
	ApplicationID  string     `json:"applicationId"`
	Timestamp      time.Time  `json:"timestamp"`
	AlertType      string     `json:"alertType"`
	Severity       string     `json:"severity"`
	Message        string     `json:"message"`
	Threshold      float64    `json:"threshold"`
	CurrentValue   float64    `json:"currentValue"`
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt"`
}

// ValidSeverity reports whether s is a recognised alert severity.
func ValidSeverity(s string) bool {
	return s == SeverityWarning || s == SeverityCritical
}
