package model

import "time"

// HealthStatus is the derived health state of a pooled connection.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// ConnectionHealth is recomputed on every health-check tick and never
// persisted beyond process lifetime.
type ConnectionHealth struct {
	Status            HealthStatus  `json:"status"`
	Latency           time.Duration `json:"latency_ms"`
	Uptime            time.Duration `json:"uptime_ms"`
	ErrorCount        int           `json:"error_count"`
	LastError         string        `json:"last_error,omitempty"`
	LastHealthCheckAt time.Time     `json:"last_health_check_at"`
}

// ConnectionRecord is the pool entry for a tracked connection. The record is
// owned exclusively by the pool manager; the live connection object is
// shared-by-reference while active.
type ConnectionRecord struct {
	ID         string    `json:"id"`
	Feature    Feature   `json:"feature"`
	Priority   int       `json:"priority"`
	IsActive   bool      `json:"is_active"`
	LastUsedAt time.Time `json:"last_used_at"`
	// HealthScore is a derived 0-100 fitness metric used only for selection
	// and eviction, never authoritative for connectivity state.
	HealthScore int `json:"health_score"`
}

// ConnectionMetrics are per-connection transport counters.
type ConnectionMetrics struct {
	MessagesSent     int64         `json:"messages_sent"`
	MessagesReceived int64         `json:"messages_received"`
	Errors           int64         `json:"errors"`
	Reconnects       int64         `json:"reconnects"`
	Latency          time.Duration `json:"latency_ms"`
	ConnectedAt      time.Time     `json:"connected_at"`
}
