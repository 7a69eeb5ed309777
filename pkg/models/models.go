// Package models defines the domain models for the orchestration service
package models

// RunStatus represents the lifecycle state of a Run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusPaused    RunStatus = "paused"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether a run in this status can never transition again.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// FlowVersionStatus represents the publication state of a FlowVersion
type FlowVersionStatus string

const (
	FlowVersionStatusDraft     FlowVersionStatus = "draft"
	FlowVersionStatusPublished FlowVersionStatus = "published"
)

// SignalType represents the kind of control request targeting a run
type SignalType string

const (
	SignalTypePauseRequest  SignalType = "pause_request"
	SignalTypeCancelRequest SignalType = "cancel_request"
)

// NodeType represents the kind of a definition node
type NodeType string

const (
	NodeTypeStart     NodeType = "START"
	NodeTypeEnd       NodeType = "END"
	NodeTypePython    NodeType = "PYTHON"
	NodeTypeCondition NodeType = "CONDITION"
)
