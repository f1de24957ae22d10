package domain

import "time"

// AuditRecord describes one executed statement.
type AuditRecord struct {
	ConnID     uint64    `json:"conn_id"`
	Statement  string    `json:"statement"`
	Parameters any       `json:"parameters"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs float64   `json:"duration_ms"`
	Slow       bool      `json:"slow"`
	Err        string    `json:"error,omitempty"`
}
