package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a lookup by id finds no row.
var ErrNotFound = errors.New("not found")

// RunRepository persists and claims Run rows. Claiming uses
// `SELECT ... FOR UPDATE SKIP LOCKED`, the same safe-concurrent-claim
// pattern the teacher's pkg/queue/worker.go uses for alert sessions.
type RunRepository struct {
	db *sql.DB
}

func NewRunRepository(db *sql.DB) *RunRepository { return &RunRepository{db: db} }

// Create inserts a new queued Run, or returns the existing run if one with
// the same (tenant, idempotency_key) already exists — the idempotency-key
// collision rule from §3.
func (r *RunRepository) Create(ctx context.Context, run *Run) (*Run, error) {
	if run.IdempotencyKey != "" {
		existing, err := r.getByIdempotencyKey(ctx, run.Owner.TenantID, run.IdempotencyKey)
		if err == nil {
			return existing, nil
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	specJSON, err := toJSON(run.TestSpec)
	if err != nil {
		return nil, fmt.Errorf("marshal test_spec: %w", err)
	}
	adapterJSON, err := toJSON(run.AdapterConfig)
	if err != nil {
		return nil, fmt.Errorf("marshal adapter_config: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO runs (id, tenant_id, api_key_id, idempotency_key, source_type, bundle_key,
		                   bundle_hash, lockfile_hash, test_spec, adapter_config, status,
		                   callback_url, progress_token, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''),
		        $9, $10, $11, $12, $13, now())
	`, run.ID, run.Owner.TenantID, run.Owner.KeyID, run.IdempotencyKey, run.SourceType, run.BundleKey,
		run.BundleHash, run.LockfileHash, specJSON, adapterJSON, RunQueued, run.CallbackURL, run.ProgressToken)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	run.Status = RunQueued
	return run, nil
}

func (r *RunRepository) getByIdempotencyKey(ctx context.Context, tenantID, key string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, runSelectColumns+`
		FROM runs WHERE tenant_id = $1 AND idempotency_key = $2
	`, tenantID, key)
	return scanRun(row)
}

const runSelectColumns = `
	SELECT id, tenant_id, api_key_id, coalesce(idempotency_key, ''), source_type,
	       coalesce(bundle_key, ''), coalesce(bundle_hash, ''), coalesce(lockfile_hash, ''),
	       test_spec, adapter_config, status, coalesce(error_message, ''),
	       coalesce(callback_url, ''), coalesce(progress_token, ''),
	       coalesce(assigned_worker, ''), coalesce(assigned_machine, ''),
	       created_at, started_at, completed_at
`

// Get fetches a Run by id.
func (r *RunRepository) Get(ctx context.Context, id uuid.UUID) (*Run, error) {
	row := r.db.QueryRowContext(ctx, runSelectColumns+`FROM runs WHERE id = $1`, id)
	return scanRun(row)
}

func scanRun(row *sql.Row) (*Run, error) {
	var run Run
	var specJSON, adapterJSON []byte
	var startedAt, finishedAt sql.NullTime
	err := row.Scan(&run.ID, &run.Owner.TenantID, &run.Owner.KeyID, &run.IdempotencyKey, &run.SourceType,
		&run.BundleKey, &run.BundleHash, &run.LockfileHash, &specJSON, &adapterJSON, &run.Status,
		&run.ErrorText, &run.CallbackURL, &run.ProgressToken, &run.AssignedWorker, &run.AssignedMachine,
		&run.CreatedAt, &startedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(specJSON, &run.TestSpec); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(adapterJSON, &run.AdapterConfig); err != nil {
		return nil, err
	}
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	return &run, nil
}

// ClaimNext claims the oldest queued run belonging to one of queueNames
// (the per-tenant queue topology of §4.9: a tenant's queue name is its
// tenant id), locking the row with FOR UPDATE SKIP LOCKED so concurrent
// workers never double-claim. A worker with no known active queues claims
// nothing, rather than draining every tenant's work.
func (r *RunRepository) ClaimNext(ctx context.Context, workerID string, queueNames []string) (*Run, error) {
	if len(queueNames) == 0 {
		return nil, ErrNotFound
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var id uuid.UUID
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM runs
		WHERE status = $1 AND tenant_id = ANY($2)
		ORDER BY created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`, RunQueued, queueNames).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE runs SET status = $1, assigned_worker = $2, started_at = now(), last_heartbeat_at = now()
		WHERE id = $3
	`, RunRunning, workerID, id); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

// Heartbeat refreshes a running run's liveness signal, mirroring the
// teacher's Worker.runHeartbeat.
func (r *RunRepository) Heartbeat(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `UPDATE runs SET last_heartbeat_at = now() WHERE id = $1`, id)
	return err
}

// MarkRunning transitions a run queued -> running directly (used by the
// in-process scheduling path, which writes this status transition itself
// per §4.9).
func (r *RunRepository) MarkRunning(ctx context.Context, id uuid.UUID, workerID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE runs SET status = $1, assigned_worker = $2, started_at = now(), last_heartbeat_at = now()
		WHERE id = $3
	`, RunRunning, workerID, id)
	return err
}

// MarkFailed records a worker-side failure directly (§4.9: "on failure ->
// fail with error_text" is written by the worker, not the callback sink).
func (r *RunRepository) MarkFailed(ctx context.Context, id uuid.UUID, errText string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE runs SET status = $1, error_message = $2, completed_at = now() WHERE id = $3
	`, RunFail, errText, id)
	return err
}

// Finish records the terminal status and aggregate from the callback sink
// (C11). It is idempotent: the WHERE clause makes a duplicate call on an
// already-terminal run a true no-op, so completed_at is never re-stamped
// and the row stays byte-identical to delivering the callback once,
// matching "duplicate callbacks are idempotent" in §4.11 — scenario_results
// rows are still free to accumulate.
func (r *RunRepository) Finish(ctx context.Context, id uuid.UUID, status RunStatus, agg AggregateResult, errText string) error {
	aggJSON, err := toJSON(agg)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE runs SET status = $1, aggregate = $2, error_message = NULLIF($3, ''), completed_at = now()
		WHERE id = $4 AND completed_at IS NULL
	`, status, aggJSON, errText, id)
	return err
}

// RequeueOrphans resets runs stuck in `running` past the given heartbeat
// threshold back to `queued`, the orphan-recovery sweep supplementing §9
// (modeled on the teacher's pkg/queue/orphan.go).
func (r *RunRepository) RequeueOrphans(ctx context.Context, threshold time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE runs SET status = $1, assigned_worker = NULL, started_at = NULL
		WHERE status = $2 AND last_heartbeat_at < now() - ($3 || ' seconds')::interval
	`, RunQueued, RunRunning, int(threshold.Seconds()))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// QueueDepth returns the number of queued runs, used by the health endpoint.
func (r *RunRepository) QueueDepth(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM runs WHERE status = $1`, RunQueued).Scan(&n)
	return n, err
}

// ActiveTenantQueues returns the distinct tenant ids with a queued run, so
// a worker pool can seed its active-queue set on startup without waiting
// for a pub/sub announcement (§4.9).
func (r *RunRepository) ActiveTenantQueues(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT tenant_id FROM runs WHERE status = $1`, RunQueued)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var tenant string
		if err := rows.Scan(&tenant); err != nil {
			return nil, err
		}
		tenants = append(tenants, tenant)
	}
	return tenants, rows.Err()
}
