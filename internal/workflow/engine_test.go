package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arctrany/ai-product-selector-sub007/internal/logging"
	"github.com/arctrany/ai-product-selector-sub007/internal/repository"
	"github.com/arctrany/ai-product-selector-sub007/pkg/models"
)

const (
	waitFor = 5 * time.Second
	tick    = 5 * time.Millisecond
)

type engineFixture struct {
	store    *repository.MemoryStore
	registry *Registry
	engine   *Engine
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	store := repository.NewMemoryStore()
	registry := NewRegistry()
	RegisterBuiltins(registry)
	engine := NewEngine(store, registry, logging.NewLogger(), 2, 16)
	engine.Start(context.Background())
	t.Cleanup(engine.Stop)
	return &engineFixture{store: store, registry: registry, engine: engine}
}

func (f *engineFixture) createVersion(t *testing.T, def models.Definition) string {
	t.Helper()
	ctx := context.Background()
	flow := &models.Flow{ID: uuid.New().String(), Name: "test-flow-" + uuid.New().String()}
	require.NoError(t, f.store.CreateFlow(ctx, flow))
	fv := &models.FlowVersion{
		ID:         uuid.New().String(),
		FlowID:     flow.ID,
		Version:    1,
		Status:     models.FlowVersionStatusPublished,
		Definition: def,
	}
	require.NoError(t, f.store.CreateFlowVersion(ctx, fv))
	return fv.ID
}

func (f *engineFixture) waitForStatus(t *testing.T, threadID string, status models.RunStatus) *models.Run {
	t.Helper()
	var run *models.Run
	require.Eventually(t, func() bool {
		var err error
		run, err = f.store.GetRun(context.Background(), threadID)
		return err == nil && run.Status == status
	}, waitFor, tick, "run %s never reached status %s", threadID, status)
	return run
}

func linearDef(nodes ...models.Node) models.Definition {
	def := models.Definition{Nodes: nodes}
	for i := 0; i+1 < len(nodes); i++ {
		def.Edges = append(def.Edges, models.Edge{Source: nodes[i].ID, Target: nodes[i+1].ID})
	}
	return def
}

func TestRunCompletesAndMergesOutputs(t *testing.T) {
	f := newEngineFixture(t)
	versionID := f.createVersion(t, linearDef(
		models.Node{ID: "start", Type: models.NodeTypeStart},
		models.Node{ID: "set", Type: models.NodeTypePython, CodeRef: "builtin.set_values",
			Args: map[string]any{"greeting": "hello"}},
		models.Node{ID: "end", Type: models.NodeTypeEnd},
	))

	threadID, err := f.engine.StartWorkflow(context.Background(), versionID, map[string]any{"seed": 1}, "")
	require.NoError(t, err)

	run := f.waitForStatus(t, threadID, models.RunStatusCompleted)
	assert.Equal(t, "hello", run.Data["greeting"])
	assert.Equal(t, 1, run.Data["seed"], "input data must survive execution")
	assert.Empty(t, run.Error)
}

func TestEmptyDefinitionCompletesImmediately(t *testing.T) {
	f := newEngineFixture(t)
	versionID := f.createVersion(t, models.Definition{})

	threadID, err := f.engine.StartWorkflow(context.Background(), versionID, nil, "")
	require.NoError(t, err)
	f.waitForStatus(t, threadID, models.RunStatusCompleted)
}

func TestBatchNodeRunsToCompletion(t *testing.T) {
	f := newEngineFixture(t)
	versionID := f.createVersion(t, linearDef(
		models.Node{ID: "start", Type: models.NodeTypeStart},
		models.Node{ID: "batch", Type: models.NodeTypePython, CodeRef: "builtin.batch_process",
			Args: map[string]any{"total_items": 8, "batch_size": 5}},
		models.Node{ID: "end", Type: models.NodeTypeEnd},
	))

	threadID, err := f.engine.StartWorkflow(context.Background(), versionID, nil, "")
	require.NoError(t, err)

	run := f.waitForStatus(t, threadID, models.RunStatusCompleted)
	assert.Equal(t, 8, run.Data["processed_count"])
}

// pacedBatch is a batch handler whose first pass stops to let the test inject
// a control request after exactly three items.
type pacedBatch struct {
	total   int
	pauseAt int
	reached chan struct{}
	release chan struct{}
	once    sync.Once
}

func newPacedBatch(total, pauseAt int) *pacedBatch {
	return &pacedBatch{
		total:   total,
		pauseAt: pauseAt,
		reached: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (p *pacedBatch) handle(ctx context.Context, state *ExecState, _ *logging.Logger, _ map[string]any) (map[string]any, error) {
	processed := intFromData(state.Data, "processed_count")
	for processed < p.total {
		stop, err := state.Checkpoint(ctx, map[string]any{"processed_count": processed})
		if err != nil {
			return nil, err
		}
		if stop {
			return nil, nil
		}
		processed++
		state.Data["processed_count"] = processed
		if processed == p.pauseAt {
			p.once.Do(func() {
				close(p.reached)
				<-p.release
			})
		}
	}
	return map[string]any{"processed_count": processed}, nil
}

func TestPauseMidBatchThenResumeCompletes(t *testing.T) {
	f := newEngineFixture(t)
	paced := newPacedBatch(8, 3)
	f.registry.Register("test.paced_batch", paced.handle)

	versionID := f.createVersion(t, linearDef(
		models.Node{ID: "start", Type: models.NodeTypeStart},
		models.Node{ID: "batch", Type: models.NodeTypePython, CodeRef: "test.paced_batch"},
		models.Node{ID: "end", Type: models.NodeTypeEnd},
	))

	ctx := context.Background()
	threadID, err := f.engine.StartWorkflow(ctx, versionID, nil, "")
	require.NoError(t, err)

	<-paced.reached // three items processed, handler is holding
	applied, err := f.engine.Pause(ctx, threadID)
	require.NoError(t, err)
	assert.True(t, applied)
	close(paced.release)

	run := f.waitForStatus(t, threadID, models.RunStatusPaused)
	assert.Equal(t, 3, run.Data["processed_count"], "partial progress must be durable at the pause point")

	// Resume without an explicit thread id reuses the paused run.
	resumedID, err := f.engine.StartWorkflow(ctx, versionID, nil, "")
	require.NoError(t, err)
	assert.Equal(t, threadID, resumedID)

	run = f.waitForStatus(t, threadID, models.RunStatusCompleted)
	assert.Equal(t, 8, run.Data["processed_count"])
}

func TestCancelRunningTakesEffectAtCheckpoint(t *testing.T) {
	f := newEngineFixture(t)
	paced := newPacedBatch(8, 3)
	f.registry.Register("test.paced_batch", paced.handle)

	versionID := f.createVersion(t, linearDef(
		models.Node{ID: "batch", Type: models.NodeTypePython, CodeRef: "test.paced_batch"},
		models.Node{ID: "end", Type: models.NodeTypeEnd},
	))

	ctx := context.Background()
	threadID, err := f.engine.StartWorkflow(ctx, versionID, nil, "")
	require.NoError(t, err)

	<-paced.reached
	applied, err := f.engine.Cancel(ctx, threadID, "operator gave up")
	require.NoError(t, err)
	assert.True(t, applied)
	close(paced.release)

	run := f.waitForStatus(t, threadID, models.RunStatusCancelled)
	assert.Equal(t, 3, run.Data["processed_count"])
	assert.Equal(t, "operator gave up", run.Error)
}

func TestCancelPausedRunIsSynchronous(t *testing.T) {
	f := newEngineFixture(t)
	paced := newPacedBatch(8, 3)
	f.registry.Register("test.paced_batch", paced.handle)

	versionID := f.createVersion(t, linearDef(
		models.Node{ID: "batch", Type: models.NodeTypePython, CodeRef: "test.paced_batch"},
		models.Node{ID: "end", Type: models.NodeTypeEnd},
	))

	ctx := context.Background()
	threadID, err := f.engine.StartWorkflow(ctx, versionID, nil, "")
	require.NoError(t, err)

	<-paced.reached
	_, err = f.engine.Pause(ctx, threadID)
	require.NoError(t, err)
	close(paced.release)
	f.waitForStatus(t, threadID, models.RunStatusPaused)

	applied, err := f.engine.Cancel(ctx, threadID, "no longer needed")
	require.NoError(t, err)
	assert.True(t, applied)

	run, err := f.store.GetRun(ctx, threadID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCancelled, run.Status, "cancel of a paused run needs no checkpoint")

	// Cancelled is terminal: resume degrades to a no-op.
	applied, err = f.engine.Resume(ctx, threadID, nil)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestHandlerErrorFailsRunAndStopsWalk(t *testing.T) {
	f := newEngineFixture(t)
	versionID := f.createVersion(t, linearDef(
		models.Node{ID: "boom", Type: models.NodeTypePython, CodeRef: "builtin.fail",
			Args: map[string]any{"message": "scrape timed out"}},
		models.Node{ID: "after", Type: models.NodeTypePython, CodeRef: "builtin.set_values",
			Args: map[string]any{"should_not_appear": true}},
		models.Node{ID: "end", Type: models.NodeTypeEnd},
	))

	threadID, err := f.engine.StartWorkflow(context.Background(), versionID, nil, "")
	require.NoError(t, err)

	run := f.waitForStatus(t, threadID, models.RunStatusFailed)
	assert.Equal(t, "scrape timed out", run.Error)
	assert.NotContains(t, run.Data, "should_not_appear", "no further nodes may execute after a failure")
}

func TestUnresolvedCodeRefFailsRunNotProcess(t *testing.T) {
	f := newEngineFixture(t)
	versionID := f.createVersion(t, linearDef(
		models.Node{ID: "ghost", Type: models.NodeTypePython, CodeRef: "not.registered"},
		models.Node{ID: "end", Type: models.NodeTypeEnd},
	))

	threadID, err := f.engine.StartWorkflow(context.Background(), versionID, nil, "")
	require.NoError(t, err)

	run := f.waitForStatus(t, threadID, models.RunStatusFailed)
	assert.Contains(t, run.Error, "not.registered")
}

func TestConditionBranching(t *testing.T) {
	def := models.Definition{
		Nodes: []models.Node{
			{ID: "start", Type: models.NodeTypeStart},
			{ID: "check", Type: models.NodeTypeCondition, Condition: &models.Condition{
				Op: "gte", Args: []*models.Condition{
					{Op: "var", Var: "score"},
					{Op: "const", Value: 10},
				},
			}},
			{ID: "high", Type: models.NodeTypePython, CodeRef: "builtin.set_values",
				Args: map[string]any{"verdict": "high"}},
			{ID: "low", Type: models.NodeTypePython, CodeRef: "builtin.set_values",
				Args: map[string]any{"verdict": "low"}},
			{ID: "end", Type: models.NodeTypeEnd},
		},
		Edges: []models.Edge{
			{Source: "start", Target: "check"},
			{Source: "check", Target: "high", When: "true"},
			{Source: "check", Target: "low", When: "false"},
			{Source: "high", Target: "end"},
			{Source: "low", Target: "end"},
		},
	}

	f := newEngineFixture(t)

	highVersion := f.createVersion(t, def)
	threadID, err := f.engine.StartWorkflow(context.Background(), highVersion, map[string]any{"score": 42}, "")
	require.NoError(t, err)
	run := f.waitForStatus(t, threadID, models.RunStatusCompleted)
	assert.Equal(t, "high", run.Data["verdict"])

	lowVersion := f.createVersion(t, def)
	threadID, err = f.engine.StartWorkflow(context.Background(), lowVersion, map[string]any{"score": 3}, "")
	require.NoError(t, err)
	run = f.waitForStatus(t, threadID, models.RunStatusCompleted)
	assert.Equal(t, "low", run.Data["verdict"])
}

func TestConditionWithoutMatchingBranchFailsRun(t *testing.T) {
	f := newEngineFixture(t)
	versionID := f.createVersion(t, models.Definition{
		Nodes: []models.Node{
			{ID: "check", Type: models.NodeTypeCondition, Condition: &models.Condition{
				Op: "eq", Args: []*models.Condition{
					{Op: "var", Var: "x"},
					{Op: "const", Value: 1},
				},
			}},
			{ID: "yes", Type: models.NodeTypeEnd},
		},
		Edges: []models.Edge{
			{Source: "check", Target: "yes", When: "true"},
		},
	})

	threadID, err := f.engine.StartWorkflow(context.Background(), versionID, map[string]any{"x": 2}, "")
	require.NoError(t, err)

	run := f.waitForStatus(t, threadID, models.RunStatusFailed)
	assert.Contains(t, run.Error, "no outgoing edge matches")
}

func TestNewThreadIDAfterTerminalRun(t *testing.T) {
	f := newEngineFixture(t)
	versionID := f.createVersion(t, linearDef(
		models.Node{ID: "start", Type: models.NodeTypeStart},
		models.Node{ID: "end", Type: models.NodeTypeEnd},
	))

	ctx := context.Background()
	first, err := f.engine.StartWorkflow(ctx, versionID, nil, "")
	require.NoError(t, err)
	f.waitForStatus(t, first, models.RunStatusCompleted)

	second, err := f.engine.StartWorkflow(ctx, versionID, nil, "")
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "a terminal run must not be reused")
	f.waitForStatus(t, second, models.RunStatusCompleted)
}

func TestExplicitThreadIDHonoredVerbatim(t *testing.T) {
	f := newEngineFixture(t)
	versionID := f.createVersion(t, linearDef(
		models.Node{ID: "start", Type: models.NodeTypeStart},
		models.Node{ID: "end", Type: models.NodeTypeEnd},
	))

	ctx := context.Background()
	threadID, err := f.engine.StartWorkflow(ctx, versionID, nil, "operator-chosen-id")
	require.NoError(t, err)
	assert.Equal(t, "operator-chosen-id", threadID)
	f.waitForStatus(t, threadID, models.RunStatusCompleted)

	// Starting the same terminal thread again is refused, never restarted.
	_, err = f.engine.StartWorkflow(ctx, versionID, nil, "operator-chosen-id")
	assert.ErrorIs(t, err, ErrRunTerminal)
}

func TestStartWorkflowUnknownVersion(t *testing.T) {
	f := newEngineFixture(t)
	_, err := f.engine.StartWorkflow(context.Background(), uuid.New().String(), nil, "")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestResumeWithUpdatesMergesBeforeRelaunch(t *testing.T) {
	f := newEngineFixture(t)
	paced := newPacedBatch(4, 2)
	f.registry.Register("test.paced_batch", paced.handle)

	versionID := f.createVersion(t, linearDef(
		models.Node{ID: "batch", Type: models.NodeTypePython, CodeRef: "test.paced_batch"},
		models.Node{ID: "end", Type: models.NodeTypeEnd},
	))

	ctx := context.Background()
	threadID, err := f.engine.StartWorkflow(ctx, versionID, nil, "")
	require.NoError(t, err)

	<-paced.reached
	_, err = f.engine.Pause(ctx, threadID)
	require.NoError(t, err)
	close(paced.release)
	f.waitForStatus(t, threadID, models.RunStatusPaused)

	applied, err := f.engine.Resume(ctx, threadID, map[string]any{"operator_note": "checked"})
	require.NoError(t, err)
	assert.True(t, applied)

	run := f.waitForStatus(t, threadID, models.RunStatusCompleted)
	assert.Equal(t, 4, run.Data["processed_count"])
	assert.Equal(t, "checked", run.Data["operator_note"])
}

func TestPauseNonRunningIsNoOp(t *testing.T) {
	f := newEngineFixture(t)
	versionID := f.createVersion(t, linearDef(
		models.Node{ID: "start", Type: models.NodeTypeStart},
		models.Node{ID: "end", Type: models.NodeTypeEnd},
	))

	ctx := context.Background()
	threadID, err := f.engine.StartWorkflow(ctx, versionID, nil, "")
	require.NoError(t, err)
	f.waitForStatus(t, threadID, models.RunStatusCompleted)

	applied, err := f.engine.Pause(ctx, threadID)
	require.NoError(t, err)
	assert.False(t, applied, "pausing a completed run must degrade gracefully")
}
