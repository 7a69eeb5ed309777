package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/arctrany/ai-product-selector-sub007/pkg/models"
)

// MemoryStore is an in-memory implementation of the Store interface, used by
// tests and by single-binary development mode. Merge semantics match the
// Postgres implementation: extra data is a shallow key-wise merge, mirroring
// the jsonb || operator.
type MemoryStore struct {
	mu       sync.Mutex
	flows    map[string]*models.Flow        // by id
	versions map[string]*models.FlowVersion // by id
	runs     map[string]*models.Run         // by thread id
	signals  []*models.Signal
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		flows:    map[string]*models.Flow{},
		versions: map[string]*models.FlowVersion{},
		runs:     map[string]*models.Run{},
	}
}

// CreateFlow saves a new flow concept.
func (s *MemoryStore) CreateFlow(_ context.Context, flow *models.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.flows {
		if f.Name == flow.Name {
			return fmt.Errorf("flow %q already exists", flow.Name)
		}
	}
	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = time.Now().UTC()
	}
	cp := *flow
	s.flows[flow.ID] = &cp
	return nil
}

// GetFlowByName retrieves a flow by its unique name.
func (s *MemoryStore) GetFlowByName(_ context.Context, name string) (*models.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.flows {
		if f.Name == name {
			cp := *f
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// ListFlows returns all flow concepts.
func (s *MemoryStore) ListFlows(_ context.Context) ([]*models.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	flows := make([]*models.Flow, 0, len(s.flows))
	for _, f := range s.flows {
		cp := *f
		flows = append(flows, &cp)
	}
	sort.Slice(flows, func(i, j int) bool { return flows[i].CreatedAt.Before(flows[j].CreatedAt) })
	return flows, nil
}

// CreateFlowVersion saves a new immutable definition version.
func (s *MemoryStore) CreateFlowVersion(_ context.Context, fv *models.FlowVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.versions[fv.ID]; ok {
		return fmt.Errorf("flow version %q already exists", fv.ID)
	}
	now := time.Now().UTC()
	if fv.CreatedAt.IsZero() {
		fv.CreatedAt = now
	}
	fv.UpdatedAt = now
	cp := *fv
	s.versions[fv.ID] = &cp
	return nil
}

// GetFlowVersion retrieves a flow version by its ID.
func (s *MemoryStore) GetFlowVersion(_ context.Context, id string) (*models.FlowVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fv, ok := s.versions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *fv
	return &cp, nil
}

// LatestFlowVersion returns the highest-numbered version of a flow.
func (s *MemoryStore) LatestFlowVersion(_ context.Context, flowID string) (*models.FlowVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.FlowVersion
	for _, fv := range s.versions {
		if fv.FlowID != flowID {
			continue
		}
		if latest == nil || fv.Version > latest.Version {
			latest = fv
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

// PublishFlowVersion transitions a version from draft to published.
func (s *MemoryStore) PublishFlowVersion(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fv, ok := s.versions[id]
	if !ok || fv.Status != models.FlowVersionStatusDraft {
		return false, nil
	}
	fv.Status = models.FlowVersionStatusPublished
	fv.UpdatedAt = time.Now().UTC()
	return true, nil
}

// CreateRun inserts a fresh run row.
func (s *MemoryStore) CreateRun(_ context.Context, run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ThreadID]; ok {
		return fmt.Errorf("run %q already exists", run.ThreadID)
	}
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	cp := *run
	cp.Data = copyData(run.Data)
	s.runs[run.ThreadID] = &cp
	return nil
}

// GetRun retrieves a run by its thread ID.
func (s *MemoryStore) GetRun(_ context.Context, threadID string) (*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[threadID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRun(run), nil
}

// LatestRunForVersion returns the most recently created run for a flow version.
func (s *MemoryStore) LatestRunForVersion(_ context.Context, flowVersionID string) (*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.Run
	for _, run := range s.runs {
		if run.FlowVersionID != flowVersionID {
			continue
		}
		if latest == nil || run.CreatedAt.After(latest.CreatedAt) {
			latest = run
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return cloneRun(latest), nil
}

// ListRunsForVersion returns all runs for a flow version, newest first.
func (s *MemoryStore) ListRunsForVersion(_ context.Context, flowVersionID string) ([]*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var runs []*models.Run
	for _, run := range s.runs {
		if run.FlowVersionID == flowVersionID {
			runs = append(runs, cloneRun(run))
		}
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	return runs, nil
}

// AtomicUpdateRunStatus is the compare-and-swap transition primitive.
func (s *MemoryStore) AtomicUpdateRunStatus(_ context.Context, threadID string, expected, next models.RunStatus, extra map[string]any, errMsg string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[threadID]
	if !ok || run.Status != expected {
		return false, nil
	}
	run.Status = next
	if run.Data == nil {
		run.Data = map[string]any{}
	}
	for k, v := range extra {
		run.Data[k] = v
	}
	if errMsg != "" {
		run.Error = errMsg
	}
	run.UpdatedAt = time.Now().UTC()
	return true, nil
}

// EnqueueSignal persists a new control request for a run.
func (s *MemoryStore) EnqueueSignal(_ context.Context, sig *models.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = time.Now().UTC()
	}
	cp := *sig
	s.signals = append(s.signals, &cp)
	return nil
}

// ConsumeNextSignal claims the oldest unconsumed signal for a thread.
func (s *MemoryStore) ConsumeNextSignal(_ context.Context, threadID string) (*models.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *models.Signal
	for _, sig := range s.signals {
		if sig.ThreadID != threadID || sig.Consumed {
			continue
		}
		if oldest == nil || sig.CreatedAt.Before(oldest.CreatedAt) {
			oldest = sig
		}
	}
	if oldest == nil {
		return nil, nil
	}
	oldest.Consumed = true
	cp := *oldest
	return &cp, nil
}

func cloneRun(run *models.Run) *models.Run {
	cp := *run
	cp.Data = copyData(run.Data)
	return &cp
}

func copyData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
