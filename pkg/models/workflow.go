package models

import (
	"time"
)

// Flow represents the stable identity of a workflow concept. It is created
// once per distinct name and never mutated afterwards; all evolution happens
// through new FlowVersions.
type Flow struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// FlowVersion is an immutable compiled definition of a Flow.
type FlowVersion struct {
	ID         string            `json:"id"`      // Unique Version ID
	FlowID     string            `json:"flow_id"` // Stable Concept ID
	Version    int               `json:"version"`
	Status     FlowVersionStatus `json:"status"`
	Definition Definition        `json:"definition"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Run is one execution attempt of a FlowVersion. ThreadID is assigned once at
// creation and never changes for the lifetime of the row.
type Run struct {
	ThreadID      string         `json:"thread_id"`
	FlowVersionID string         `json:"flow_version_id"`
	Status        RunStatus      `json:"status"`
	Data          map[string]any `json:"data"`
	Error         string         `json:"error,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Signal is a pending pause or cancel request against a run. A signal is
// consumed at most once and never updated after consumption except for the
// consumed flag.
type Signal struct {
	ID        string     `json:"id"`
	ThreadID  string     `json:"thread_id"`
	Type      SignalType `json:"type"`
	Reason    string     `json:"reason,omitempty"`
	Consumed  bool       `json:"consumed"`
	CreatedAt time.Time  `json:"created_at"`
}
