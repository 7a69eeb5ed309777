package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arctrany/ai-product-selector-sub007/pkg/models"
)

// PostgresStore is a PostgreSQL implementation of the Store interface.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// CreateFlow saves a new flow concept.
func (s *PostgresStore) CreateFlow(ctx context.Context, flow *models.Flow) error {
	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx,
		"INSERT INTO flow (id, name, created_at) VALUES ($1, $2, $3)",
		flow.ID, flow.Name, flow.CreatedAt)
	return err
}

// GetFlowByName retrieves a flow by its unique name.
func (s *PostgresStore) GetFlowByName(ctx context.Context, name string) (*models.Flow, error) {
	var flow models.Flow
	err := s.db.QueryRow(ctx,
		"SELECT id, name, created_at FROM flow WHERE name = $1", name).
		Scan(&flow.ID, &flow.Name, &flow.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &flow, nil
}

// ListFlows returns all flow concepts.
func (s *PostgresStore) ListFlows(ctx context.Context) ([]*models.Flow, error) {
	rows, err := s.db.Query(ctx, "SELECT id, name, created_at FROM flow ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flows []*models.Flow
	for rows.Next() {
		var flow models.Flow
		if err := rows.Scan(&flow.ID, &flow.Name, &flow.CreatedAt); err != nil {
			return nil, err
		}
		flows = append(flows, &flow)
	}
	return flows, rows.Err()
}

// CreateFlowVersion saves a new immutable definition version.
func (s *PostgresStore) CreateFlowVersion(ctx context.Context, fv *models.FlowVersion) error {
	def, err := json.Marshal(fv.Definition)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	now := time.Now().UTC()
	if fv.CreatedAt.IsZero() {
		fv.CreatedAt = now
	}
	fv.UpdatedAt = now
	_, err = s.db.Exec(ctx,
		`INSERT INTO flow_version (id, flow_id, version, status, definition, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		fv.ID, fv.FlowID, fv.Version, fv.Status, def, fv.CreatedAt, fv.UpdatedAt)
	return err
}

// GetFlowVersion retrieves a flow version by its ID.
func (s *PostgresStore) GetFlowVersion(ctx context.Context, id string) (*models.FlowVersion, error) {
	var fv models.FlowVersion
	var def []byte
	err := s.db.QueryRow(ctx,
		`SELECT id, flow_id, version, status, definition, created_at, updated_at
		 FROM flow_version WHERE id = $1`, id).
		Scan(&fv.ID, &fv.FlowID, &fv.Version, &fv.Status, &def, &fv.CreatedAt, &fv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(def, &fv.Definition); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	return &fv, nil
}

// LatestFlowVersion returns the highest-numbered version of a flow.
func (s *PostgresStore) LatestFlowVersion(ctx context.Context, flowID string) (*models.FlowVersion, error) {
	var fv models.FlowVersion
	var def []byte
	err := s.db.QueryRow(ctx,
		`SELECT id, flow_id, version, status, definition, created_at, updated_at
		 FROM flow_version WHERE flow_id = $1 ORDER BY version DESC LIMIT 1`, flowID).
		Scan(&fv.ID, &fv.FlowID, &fv.Version, &fv.Status, &def, &fv.CreatedAt, &fv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(def, &fv.Definition); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	return &fv, nil
}

// PublishFlowVersion transitions a version from draft to published.
func (s *PostgresStore) PublishFlowVersion(ctx context.Context, id string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		"UPDATE flow_version SET status = $1, updated_at = now() WHERE id = $2 AND status = $3",
		models.FlowVersionStatusPublished, id, models.FlowVersionStatusDraft)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CreateRun inserts a fresh run row.
func (s *PostgresStore) CreateRun(ctx context.Context, run *models.Run) error {
	data, err := json.Marshal(run.Data)
	if err != nil {
		return fmt.Errorf("marshal run data: %w", err)
	}
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	_, err = s.db.Exec(ctx,
		`INSERT INTO run (thread_id, flow_version_id, status, data, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ThreadID, run.FlowVersionID, run.Status, data, run.Error, run.CreatedAt, run.UpdatedAt)
	return err
}

// GetRun retrieves a run by its thread ID.
func (s *PostgresStore) GetRun(ctx context.Context, threadID string) (*models.Run, error) {
	return s.scanRun(s.db.QueryRow(ctx,
		`SELECT thread_id, flow_version_id, status, data, error, created_at, updated_at
		 FROM run WHERE thread_id = $1`, threadID))
}

// LatestRunForVersion returns the most recently created run for a flow version.
func (s *PostgresStore) LatestRunForVersion(ctx context.Context, flowVersionID string) (*models.Run, error) {
	return s.scanRun(s.db.QueryRow(ctx,
		`SELECT thread_id, flow_version_id, status, data, error, created_at, updated_at
		 FROM run WHERE flow_version_id = $1 ORDER BY created_at DESC LIMIT 1`, flowVersionID))
}

// ListRunsForVersion returns all runs for a flow version, newest first.
func (s *PostgresStore) ListRunsForVersion(ctx context.Context, flowVersionID string) ([]*models.Run, error) {
	rows, err := s.db.Query(ctx,
		`SELECT thread_id, flow_version_id, status, data, error, created_at, updated_at
		 FROM run WHERE flow_version_id = $1 ORDER BY created_at DESC`, flowVersionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := s.scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// AtomicUpdateRunStatus is the compare-and-swap transition primitive. The
// conditional UPDATE commits only when the persisted status still equals
// expected; RowsAffected tells the caller whether it won the race.
func (s *PostgresStore) AtomicUpdateRunStatus(ctx context.Context, threadID string, expected, next models.RunStatus, extra map[string]any, errMsg string) (bool, error) {
	if extra == nil {
		extra = map[string]any{}
	}
	extraJSON, err := json.Marshal(extra)
	if err != nil {
		return false, fmt.Errorf("marshal extra data: %w", err)
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE run
		 SET status = $1,
		     data = COALESCE(data, '{}'::jsonb) || $2::jsonb,
		     error = CASE WHEN $3 <> '' THEN $3 ELSE error END,
		     updated_at = now()
		 WHERE thread_id = $4 AND status = $5`,
		next, extraJSON, errMsg, threadID, expected)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// EnqueueSignal persists a new control request for a run.
func (s *PostgresStore) EnqueueSignal(ctx context.Context, sig *models.Signal) error {
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO signal (id, thread_id, type, reason, consumed, created_at)
		 VALUES ($1, $2, $3, $4, false, $5)`,
		sig.ID, sig.ThreadID, sig.Type, sig.Reason, sig.CreatedAt)
	return err
}

// ConsumeNextSignal claims the oldest unconsumed signal for a thread. The
// subselect with FOR UPDATE SKIP LOCKED makes the claim atomic under
// concurrent consumers.
func (s *PostgresStore) ConsumeNextSignal(ctx context.Context, threadID string) (*models.Signal, error) {
	var sig models.Signal
	err := s.db.QueryRow(ctx,
		`UPDATE signal SET consumed = true
		 WHERE id = (
		   SELECT id FROM signal
		   WHERE thread_id = $1 AND consumed = false
		   ORDER BY created_at
		   FOR UPDATE SKIP LOCKED
		   LIMIT 1
		 )
		 RETURNING id, thread_id, type, reason, consumed, created_at`, threadID).
		Scan(&sig.ID, &sig.ThreadID, &sig.Type, &sig.Reason, &sig.Consumed, &sig.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sig, nil
}

func (s *PostgresStore) scanRun(row pgx.Row) (*models.Run, error) {
	var run models.Run
	var data []byte
	err := row.Scan(&run.ThreadID, &run.FlowVersionID, &run.Status, &data, &run.Error, &run.CreatedAt, &run.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &run.Data); err != nil {
			return nil, fmt.Errorf("unmarshal run data: %w", err)
		}
	}
	if run.Data == nil {
		run.Data = map[string]any{}
	}
	return &run, nil
}
