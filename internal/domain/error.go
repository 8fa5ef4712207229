package domain

import "time"

// ErrorEvent is one timestamped error occurrence reported for an application.
// Count aggregates repeated occurrences reported as a single record.
type ErrorEvent struct {
	ID            string    `json:"id"`
	ApplicationID string    `json:"applicationId"`
	Timestamp     time.Time `json:"timestamp"`
	ErrorType     string    `json:"errorType"`
	Message       string    `json:"message"`
	StackTrace    *string   `json:"stackTrace"`
	Endpoint      *string   `json:"endpoint"`
	Count         int       `json:"count"`
}
