package workflow

import (
	"context"

	"github.com/google/uuid"

	"github.com/arctrany/ai-product-selector-sub007/pkg/models"
)

// Control-plane operations. Each reports a boolean rather than an error for
// the stale-request case: a pause against a run that already completed is not
// a failure, the request simply no longer applies.

// Pause enqueues a pause request for a running run. The effect is
// asynchronous and cooperative: it takes hold at the engine's next
// checkpoint, not when this call returns.
func (e *Engine) Pause(ctx context.Context, threadID string) (bool, error) {
	run, err := e.store.GetRun(ctx, threadID)
	if err != nil {
		return false, err
	}
	if run.Status != models.RunStatusRunning {
		return false, nil
	}
	err = e.store.EnqueueSignal(ctx, &models.Signal{
		ID:       uuid.New().String(),
		ThreadID: threadID,
		Type:     models.SignalTypePauseRequest,
	})
	if err != nil {
		return false, err
	}
	e.logger.Info("run %s: pause requested", threadID)
	return true, nil
}

// Resume relaunches a paused run under its existing thread id, optionally
// merging updates into the run data first.
func (e *Engine) Resume(ctx context.Context, threadID string, updates map[string]any) (bool, error) {
	run, err := e.store.GetRun(ctx, threadID)
	if err != nil {
		return false, err
	}
	if run.Status != models.RunStatusPaused {
		return false, nil
	}
	if len(updates) > 0 {
		if _, err := e.store.AtomicUpdateRunStatus(ctx, threadID,
			models.RunStatusPaused, models.RunStatusPaused, updates, ""); err != nil {
			return false, err
		}
	}
	if _, err := e.StartWorkflow(ctx, run.FlowVersionID, nil, threadID); err != nil {
		return false, err
	}
	e.logger.Info("run %s: resumed", threadID)
	return true, nil
}

// Cancel stops a run. A paused run holds no worker, so it is cancelled
// synchronously with a direct transition; a running run gets a cancel request
// handled cooperatively at the next checkpoint.
func (e *Engine) Cancel(ctx context.Context, threadID, reason string) (bool, error) {
	run, err := e.store.GetRun(ctx, threadID)
	if err != nil {
		return false, err
	}
	switch run.Status {
	case models.RunStatusPaused:
		won, err := e.store.AtomicUpdateRunStatus(ctx, threadID,
			models.RunStatusPaused, models.RunStatusCancelled, nil, reason)
		if err != nil {
			return false, err
		}
		if won {
			e.logger.Info("run %s: cancelled while paused", threadID)
		}
		return won, nil
	case models.RunStatusRunning:
		err = e.store.EnqueueSignal(ctx, &models.Signal{
			ID:       uuid.New().String(),
			ThreadID: threadID,
			Type:     models.SignalTypeCancelRequest,
			Reason:   reason,
		})
		if err != nil {
			return false, err
		}
		e.logger.Info("run %s: cancel requested", threadID)
		return true, nil
	default:
		return false, nil
	}
}
