package domain

import "time"

// HealthStatus enumerates aggregate and per-dependency health states.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "ok"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusError    HealthStatus = "error"
)

// SystemHealthCheck is the probe outcome for a single dependency.
type SystemHealthCheck struct {
	Status    HealthStatus  `json:"status"`
	Detail    string        `json:"detail,omitempty"`
	Error     string        `json:"error,omitempty"`
	Latency   time.Duration `json:"latency"`
	CheckedAt time.Time     `json:"checkedAt"`
}

// SystemHealthReport aggregates dependency probe results for readiness checks.
type SystemHealthReport struct {
	Status      HealthStatus                 `json:"status"`
	Checks      map[string]SystemHealthCheck `json:"checks"`
	Version     string                       `json:"version,omitempty"`
	CommitSHA   string                       `json:"commitSha,omitempty"`
	Environment string                       `json:"environment,omitempty"`
	Uptime      time.Duration                `json:"uptime,omitempty"`
	GeneratedAt time.Time                    `json:"generatedAt"`
}
