package repository

import (
	"context"
	"errors"

	"github.com/arctrany/ai-product-selector-sub007/pkg/models"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("repository: not found")

// Store is the durable state store for flows, flow versions, runs and
// signals. It is the sole source of truth for run state; no authoritative
// state is cached elsewhere.
type Store interface {
	// CreateFlow saves a new flow concept.
	CreateFlow(ctx context.Context, flow *models.Flow) error
	// GetFlowByName retrieves a flow by its unique name.
	GetFlowByName(ctx context.Context, name string) (*models.Flow, error)
	// ListFlows returns all flow concepts.
	ListFlows(ctx context.Context) ([]*models.Flow, error)

	// CreateFlowVersion saves a new immutable definition version.
	CreateFlowVersion(ctx context.Context, fv *models.FlowVersion) error
	// GetFlowVersion retrieves a flow version by its ID.
	GetFlowVersion(ctx context.Context, id string) (*models.FlowVersion, error)
	// LatestFlowVersion returns the highest-numbered version of a flow, or
	// ErrNotFound if the flow has no versions.
	LatestFlowVersion(ctx context.Context, flowID string) (*models.FlowVersion, error)
	// PublishFlowVersion transitions a version from draft to published.
	// It returns false if the version was not in draft.
	PublishFlowVersion(ctx context.Context, id string) (bool, error)

	// CreateRun inserts a fresh run row. ThreadID must be unique.
	CreateRun(ctx context.Context, run *models.Run) error
	// GetRun retrieves a run by its thread ID.
	GetRun(ctx context.Context, threadID string) (*models.Run, error)
	// LatestRunForVersion returns the most recently created run for a flow
	// version, or ErrNotFound if no run exists.
	LatestRunForVersion(ctx context.Context, flowVersionID string) (*models.Run, error)
	// ListRunsForVersion returns all runs for a flow version, newest first.
	ListRunsForVersion(ctx context.Context, flowVersionID string) ([]*models.Run, error)

	// AtomicUpdateRunStatus commits next only if the persisted status still
	// equals expected, merging extra into the run data and recording errMsg
	// when non-empty. It returns false, leaving the row untouched, when the
	// persisted status differs. Every status change in the system goes
	// through this method.
	AtomicUpdateRunStatus(ctx context.Context, threadID string, expected, next models.RunStatus, extra map[string]any, errMsg string) (bool, error)

	// EnqueueSignal persists a new control request for a run.
	EnqueueSignal(ctx context.Context, sig *models.Signal) error
	// ConsumeNextSignal atomically fetches the oldest unconsumed signal for
	// a thread and marks it consumed, so each signal is acted on at most
	// once. It returns nil when no signal is pending.
	ConsumeNextSignal(ctx context.Context, threadID string) (*models.Signal, error)
}
