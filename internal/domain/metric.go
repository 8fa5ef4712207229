package domain

import "time"

// Metric is one timestamped performance sample for an application.
// Records are append-only; the timestamp is assigned by the write path.
type Metric struct {
	ID            string    `json:"id"`
	ApplicationID string    `json:"applicationId"`
	Timestamp     time.Time `json:"timestamp"`
	ResponseTime  float64   `json:"responseTime"`
	Throughput    float64   `json:"throughput"`
	ErrorRate     float64   `json:"errorRate"`
	SuccessRate   float64   `json:"successRate"`
	CPUUsage      *float64  `json:"cpuUsage"`
	MemoryUsage   *float64  `json:"memoryUsage"`
}
