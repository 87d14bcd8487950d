package models

import "time"

// HealthStatus is the tri-state worker health classification.
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusDegraded HealthStatus = "degraded"
	StatusBlocked  HealthStatus = "blocked"
)

// Severity weighs an error for the health gate score.
type Severity int

const (
	SeverityWarning  Severity = 1
	SeverityCritical Severity = 2
)

func (s Severity) String() string {
	if s == SeverityCritical {
		return "critical"
	}
	return "warning"
}

// HealthState is a snapshot of the health gate, read by the scheduler.
type HealthState struct {
	Status      HealthStatus `json:"status"`
	ErrorScore  float64      `json:"error_score"`
	LastErrorAt time.Time    `json:"last_error_at,omitempty"`
}
