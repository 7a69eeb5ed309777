package workflow

import (
	"context"

	"github.com/arctrany/ai-product-selector-sub007/internal/repository"
	"github.com/arctrany/ai-product-selector-sub007/pkg/models"
)

// ExecState is the view of a run handed to node handlers. Data is the live
// accumulated run data; handlers read prior progress from it and return their
// own outputs for the engine to merge.
type ExecState struct {
	ThreadID string
	Data     map[string]any

	store       repository.Store
	interrupted bool
}

// Checkpoint is the cooperative interrupt point for handlers that loop
// internally. It consumes the oldest pending signal for the run, if any, and
// acts on it: a pause request atomically merges progress into the persisted
// run data and transitions running to paused, a cancel request does the same
// into cancelled. It returns true when the handler must stop and return;
// partial progress is already durable at that point. With no pending signal
// it returns false and persists nothing.
func (s *ExecState) Checkpoint(ctx context.Context, progress map[string]any) (bool, error) {
	sig, err := s.store.ConsumeNextSignal(ctx, s.ThreadID)
	if err != nil {
		return false, err
	}
	if sig == nil {
		return false, nil
	}

	next := models.RunStatusPaused
	errMsg := ""
	if sig.Type == models.SignalTypeCancelRequest {
		next = models.RunStatusCancelled
		errMsg = sig.Reason
	}

	won, err := s.store.AtomicUpdateRunStatus(ctx, s.ThreadID,
		models.RunStatusRunning, next, progress, errMsg)
	if err != nil {
		return false, err
	}
	if !won {
		// The run is no longer running at all; stop regardless.
		s.interrupted = true
		return true, nil
	}

	for k, v := range progress {
		s.Data[k] = v
	}
	s.interrupted = true
	return true, nil
}

// Interrupted reports whether a checkpoint stopped this execution.
func (s *ExecState) Interrupted() bool {
	return s.interrupted
}
