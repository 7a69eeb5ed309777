package workflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/arctrany/ai-product-selector-sub007/internal/logging"
	"github.com/arctrany/ai-product-selector-sub007/internal/repository"
	"github.com/arctrany/ai-product-selector-sub007/pkg/models"
)

// CursorKey is the reserved key in Run.Data where the engine records the id
// of the node the walk is currently positioned at. A resumed run restarts
// from this node.
const CursorKey = "__cursor"

// Engine walks compiled plans on a bounded worker pool, dispatches PYTHON
// nodes through the registry and drives the run state machine. All status
// transitions go through the store's compare-and-swap primitive, so a racing
// control-plane request and an executing worker can never both win.
type Engine struct {
	store    repository.Store
	registry *Registry
	logger   *logging.Logger

	jobs chan job
	wg   sync.WaitGroup

	workers int

	runsStarted   metric.Int64Counter
	runsCompleted metric.Int64Counter
	runsFailed    metric.Int64Counter
}

// job is one unit of work for the pool: claim the run from claimFrom and
// execute its plan. extra is merged into the run data by the claim.
type job struct {
	threadID      string
	flowVersionID string
	claimFrom     models.RunStatus
	extra         map[string]any
}

// NewEngine creates an Engine. The registry is built by the host application
// and handed in explicitly; the engine holds no global handler state.
func NewEngine(store repository.Store, registry *Registry, logger *logging.Logger, workers, queueSize int) *Engine {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers
	}
	meter := otel.Meter("github.com/arctrany/ai-product-selector-sub007/internal/workflow")
	started, _ := meter.Int64Counter("workflow.runs.started")
	completed, _ := meter.Int64Counter("workflow.runs.completed")
	failed, _ := meter.Int64Counter("workflow.runs.failed")
	return &Engine{
		store:         store,
		registry:      registry,
		logger:        logger,
		jobs:          make(chan job, queueSize),
		workers:       workers,
		runsStarted:   started,
		runsCompleted: completed,
		runsFailed:    failed,
	}
}

// Start launches the worker pool. ctx bounds the lifetime of queued work, not
// of the pool itself; call Stop to drain.
func (e *Engine) Start(ctx context.Context) {
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go func(workerID int) {
			defer e.wg.Done()
			for j := range e.jobs {
				e.runJob(ctx, j)
			}
		}(i)
	}
	e.logger.Info("engine started with %d workers", e.workers)
}

// Stop closes the queue and waits for in-flight runs to reach a checkpoint
// and finish.
func (e *Engine) Stop() {
	close(e.jobs)
	e.wg.Wait()
	e.logger.Info("engine stopped")
}

// StartWorkflow creates or resumes a run for a flow version and schedules it
// on the pool, returning the run's thread id.
//
// When threadID is supplied it is honored verbatim: a fresh run is created
// under that id, or the existing paused run with that id is continued.
// Otherwise the most recent run for the flow version decides: a paused run is
// resumed under its existing thread id, anything else (no run, or a terminal
// run) mints a new thread id with a fresh run. Resume reuse is scoped by
// flow version id, not by the parent flow.
func (e *Engine) StartWorkflow(ctx context.Context, flowVersionID string, input map[string]any, threadID string) (string, error) {
	if _, err := e.store.GetFlowVersion(ctx, flowVersionID); err != nil {
		return "", fmt.Errorf("flow version %s: %w", flowVersionID, err)
	}

	j := job{flowVersionID: flowVersionID, extra: input}

	if threadID != "" {
		run, err := e.store.GetRun(ctx, threadID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			if err := e.createRun(ctx, threadID, flowVersionID, input); err != nil {
				return "", err
			}
			j.threadID = threadID
			j.claimFrom = models.RunStatusPending
			j.extra = nil // input already persisted on the fresh row
		case err != nil:
			return "", err
		case run.Status == models.RunStatusPaused:
			j.threadID = threadID
			j.claimFrom = models.RunStatusPaused
		case run.Status == models.RunStatusPending:
			j.threadID = threadID
			j.claimFrom = models.RunStatusPending
		case run.Status == models.RunStatusRunning:
			return "", ErrAlreadyRunning
		default:
			return "", ErrRunTerminal
		}
	} else {
		latest, err := e.store.LatestRunForVersion(ctx, flowVersionID)
		switch {
		case errors.Is(err, repository.ErrNotFound), err == nil && latest.Status.Terminal():
			fresh := uuid.New().String()
			if err := e.createRun(ctx, fresh, flowVersionID, input); err != nil {
				return "", err
			}
			j.threadID = fresh
			j.claimFrom = models.RunStatusPending
			j.extra = nil
		case err != nil:
			return "", err
		case latest.Status == models.RunStatusPaused:
			j.threadID = latest.ThreadID
			j.claimFrom = models.RunStatusPaused
		default:
			// The latest run is still pending or running; it keeps its
			// worker, so this start gets a fresh attempt.
			fresh := uuid.New().String()
			if err := e.createRun(ctx, fresh, flowVersionID, input); err != nil {
				return "", err
			}
			j.threadID = fresh
			j.claimFrom = models.RunStatusPending
			j.extra = nil
		}
	}

	select {
	case e.jobs <- j:
	default:
		return "", ErrQueueFull
	}
	e.runsStarted.Add(ctx, 1)
	return j.threadID, nil
}

func (e *Engine) createRun(ctx context.Context, threadID, flowVersionID string, input map[string]any) error {
	if input == nil {
		input = map[string]any{}
	}
	return e.store.CreateRun(ctx, &models.Run{
		ThreadID:      threadID,
		FlowVersionID: flowVersionID,
		Status:        models.RunStatusPending,
		Data:          input,
	})
}

// runJob claims a queued run and executes it. Losing the claim is not an
// error: it means another start already picked the run up, or a control
// request got there first.
func (e *Engine) runJob(ctx context.Context, j job) {
	claimed, err := e.store.AtomicUpdateRunStatus(ctx, j.threadID, j.claimFrom, models.RunStatusRunning, j.extra, "")
	if err != nil {
		e.logger.Error("run %s: claim: %v", j.threadID, err)
		return
	}
	if !claimed {
		e.logger.Debug("run %s: lost claim from %s, skipping", j.threadID, j.claimFrom)
		return
	}

	fv, err := e.store.GetFlowVersion(ctx, j.flowVersionID)
	if err != nil {
		e.failRun(ctx, j.threadID, models.RunStatusRunning, fmt.Errorf("fetch flow version: %w", err))
		return
	}
	plan, err := Compile(fv.Definition)
	if err != nil {
		e.failRun(ctx, j.threadID, models.RunStatusRunning, err)
		return
	}

	run, err := e.store.GetRun(ctx, j.threadID)
	if err != nil {
		e.logger.Error("run %s: reload after claim: %v", j.threadID, err)
		return
	}
	e.execute(ctx, plan, run)
}

// execute walks the plan from the run's cursor (or the entry node) until a
// terminal transition or a cooperative interrupt. Between nodes it consumes
// pending signals; inside PYTHON nodes the handler does the same through
// ExecState.Checkpoint.
func (e *Engine) execute(ctx context.Context, plan *Plan, run *models.Run) {
	state := &ExecState{
		ThreadID: run.ThreadID,
		Data:     run.Data,
		store:    e.store,
	}

	pos, _ := run.Data[CursorKey].(string)
	if pos == "" {
		pos = plan.Entry
	}
	if pos == "" {
		// Empty definition: the trivial plan completes immediately.
		e.complete(ctx, run.ThreadID, nil)
		return
	}

	for {
		if stopped, err := e.consumeSignal(ctx, state); err != nil {
			e.logger.Error("run %s: signal check: %v", run.ThreadID, err)
			return
		} else if stopped {
			return
		}

		node, ok := plan.Node(pos)
		if !ok {
			e.failRun(ctx, run.ThreadID, models.RunStatusRunning,
				fmt.Errorf("cursor points at unknown node %q", pos))
			return
		}

		branch := ""
		var out map[string]any

		switch node.Type {
		case models.NodeTypeStart:
			// entry marker, nothing to do
		case models.NodeTypeEnd:
			e.complete(ctx, run.ThreadID, nil)
			return
		case models.NodeTypePython:
			var err error
			out, err = e.dispatch(ctx, state, node)
			if err != nil {
				e.failRun(ctx, run.ThreadID, models.RunStatusRunning, err)
				return
			}
			if state.interrupted {
				return
			}
		case models.NodeTypeCondition:
			result, err := EvalCondition(node.Condition, state.Data)
			if err != nil {
				e.failRun(ctx, run.ThreadID, models.RunStatusRunning,
					fmt.Errorf("condition node %q: %w", node.ID, err))
				return
			}
			branch = strconv.FormatBool(result)
		default:
			e.failRun(ctx, run.ThreadID, models.RunStatusRunning,
				fmt.Errorf("node %q has unsupported type %q", node.ID, node.Type))
			return
		}

		next, hasNext := plan.Next(pos, branch)
		if !hasNext {
			if node.Type == models.NodeTypeCondition {
				e.failRun(ctx, run.ThreadID, models.RunStatusRunning,
					fmt.Errorf("condition node %q: no outgoing edge matches branch %q", node.ID, branch))
				return
			}
			e.complete(ctx, run.ThreadID, out)
			return
		}

		for k, v := range out {
			state.Data[k] = v
		}
		extra := map[string]any{CursorKey: next}
		for k, v := range out {
			extra[k] = v
		}
		committed, err := e.store.AtomicUpdateRunStatus(ctx, run.ThreadID,
			models.RunStatusRunning, models.RunStatusRunning, extra, "")
		if err != nil {
			e.logger.Error("run %s: persist progress: %v", run.ThreadID, err)
			return
		}
		if !committed {
			// The run moved out of running underneath us; stop dispatching.
			e.logger.Debug("run %s: no longer running, halting walk", run.ThreadID)
			return
		}
		pos = next
	}
}

// dispatch resolves and invokes the handler for a PYTHON node. Panics are
// captured as run failures, never surfaced to the pool.
func (e *Engine) dispatch(ctx context.Context, state *ExecState, node models.Node) (out map[string]any, err error) {
	handler, ok := e.registry.Resolve(node.CodeRef)
	if !ok {
		return nil, &ConfigurationError{Msg: fmt.Sprintf("node %q references unregistered code_ref %q", node.ID, node.CodeRef)}
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %q panicked: %v", node.CodeRef, r)
		}
	}()
	return handler(ctx, state, e.logger, node.Args)
}

// consumeSignal handles a pending signal at an engine checkpoint. It returns
// true when the run was transitioned and the walk must stop.
func (e *Engine) consumeSignal(ctx context.Context, state *ExecState) (bool, error) {
	sig, err := e.store.ConsumeNextSignal(ctx, state.ThreadID)
	if err != nil || sig == nil {
		return false, err
	}
	switch sig.Type {
	case models.SignalTypePauseRequest:
		_, err = e.store.AtomicUpdateRunStatus(ctx, state.ThreadID,
			models.RunStatusRunning, models.RunStatusPaused, nil, "")
	case models.SignalTypeCancelRequest:
		_, err = e.store.AtomicUpdateRunStatus(ctx, state.ThreadID,
			models.RunStatusRunning, models.RunStatusCancelled, nil, sig.Reason)
	}
	return true, err
}

func (e *Engine) complete(ctx context.Context, threadID string, out map[string]any) {
	won, err := e.store.AtomicUpdateRunStatus(ctx, threadID,
		models.RunStatusRunning, models.RunStatusCompleted, out, "")
	if err != nil {
		e.logger.Error("run %s: complete: %v", threadID, err)
		return
	}
	if won {
		e.runsCompleted.Add(ctx, 1)
		e.logger.Info("run %s completed", threadID)
	}
}

func (e *Engine) failRun(ctx context.Context, threadID string, from models.RunStatus, cause error) {
	won, err := e.store.AtomicUpdateRunStatus(ctx, threadID,
		from, models.RunStatusFailed, nil, cause.Error())
	if err != nil {
		e.logger.Error("run %s: record failure: %v", threadID, err)
		return
	}
	if won {
		e.runsFailed.Add(ctx, 1)
		e.logger.Error("run %s failed: %v", threadID, cause)
	}
}
