package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"remindwell/internal/types"
)

// workItemColumns is the canonical select list shared by every read path.
const workItemColumns = `id, user_id, target_at, priority, payload_ref, life_critical,
	methods, attempt_count, last_attempt_at, max_attempts,
	COALESCE(failure_reason, ''), status, created_at, updated_at`

// WorkRepository persists pending work items (the offline queue) in the
// work_items table.
type WorkRepository struct {
	db DBTX
}

// NewWorkRepository creates a WorkRepository backed by the given database
// connection (pool or transaction).
func NewWorkRepository(db DBTX) *WorkRepository {
	return &WorkRepository{db: db}
}

var _ types.WorkQueue = (*WorkRepository)(nil)

// Upsert inserts or fully replaces a work item by ID.
func (r *WorkRepository) Upsert(ctx context.Context, item *types.WorkItem) error {
	methods, err := json.Marshal(item.Methods)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode delivery methods", err)
	}
	if item.Status == "" {
		item.Status = types.WorkStatusPending
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO work_items
		 (id, user_id, target_at, priority, payload_ref, life_critical, methods,
		  attempt_count, last_attempt_at, max_attempts, failure_reason, status,
		  created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, COALESCE($13, NOW()), NOW())
		 ON CONFLICT (id) DO UPDATE SET
			target_at      = EXCLUDED.target_at,
			priority       = EXCLUDED.priority,
			payload_ref    = EXCLUDED.payload_ref,
			life_critical  = EXCLUDED.life_critical,
			methods        = EXCLUDED.methods,
			attempt_count  = EXCLUDED.attempt_count,
			last_attempt_at = EXCLUDED.last_attempt_at,
			max_attempts   = EXCLUDED.max_attempts,
			failure_reason = EXCLUDED.failure_reason,
			status         = EXCLUDED.status,
			updated_at     = NOW()`,
		item.ID,
		item.UserID,
		item.TargetAt,
		string(item.Priority),
		item.PayloadRef,
		item.LifeCritical,
		methods,
		item.AttemptCount,
		item.LastAttemptAt,
		item.MaxAttempts,
		nilIfEmpty(item.FailureReason),
		string(item.Status),
		nilIfZeroTime(item.CreatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert work item", err)
	}
	return nil
}

// ListDue returns pending or retrying items that have come due, oldest
// first. Leverages the partial index on (status, target_at).
func (r *WorkRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]types.WorkItem, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+workItemColumns+`
		 FROM work_items
		 WHERE status IN ('pending', 'retrying') AND target_at <= $1
		 ORDER BY target_at ASC
		 LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list due work", err)
	}
	return scanWorkItems(rows)
}

// MarkDelivered finalizes a successful delivery.
func (r *WorkRepository) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE work_items SET
			status = 'delivered',
			last_attempt_at = $2,
			failure_reason = NULL,
			updated_at = NOW()
		 WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark work item delivered", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundWorkItem, "work item not found", nil)
	}
	return nil
}

// Requeue pushes a failed item to a later target, consuming one attempt.
func (r *WorkRepository) Requeue(ctx context.Context, id string, nextTarget time.Time, reason string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE work_items SET
			status = 'retrying',
			target_at = $2,
			attempt_count = attempt_count + 1,
			last_attempt_at = NOW(),
			failure_reason = $3,
			updated_at = NOW()
		 WHERE id = $1`,
		id, nextTarget, nilIfEmpty(reason),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to requeue work item", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundWorkItem, "work item not found", nil)
	}
	return nil
}

// Defer moves the target instant without consuming an attempt, used when a
// constraint pushes work to a later slot.
func (r *WorkRepository) Defer(ctx context.Context, id string, nextTarget time.Time, reason string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE work_items SET
			status = 'pending',
			target_at = $2,
			failure_reason = $3,
			updated_at = NOW()
		 WHERE id = $1`,
		id, nextTarget, nilIfEmpty(reason),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to defer work item", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundWorkItem, "work item not found", nil)
	}
	return nil
}

// MarkDispatched flags a batch of items as handed to the delivery
// collaborator.
func (r *WorkRepository) MarkDispatched(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx,
		`UPDATE work_items SET
			status = 'dispatched',
			updated_at = $2
		 WHERE id = ANY($1)`,
		ids, at,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark work items dispatched", err)
	}
	return nil
}

// ListStaleDispatched returns items stuck in dispatched state since before
// cutoff, for offline-queue recovery.
func (r *WorkRepository) ListStaleDispatched(ctx context.Context, cutoff time.Time, limit int) ([]types.WorkItem, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+workItemColumns+`
		 FROM work_items
		 WHERE status = 'dispatched' AND updated_at < $1
		 ORDER BY updated_at ASC
		 LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list stale dispatched work", err)
	}
	return scanWorkItems(rows)
}

// MarkTerminal records a permanent failure. The status guard makes the
// transition idempotent: an item already terminal is returned unchanged, so
// the failure is recorded exactly once.
func (r *WorkRepository) MarkTerminal(ctx context.Context, id string, reason string) (*types.WorkItem, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE work_items SET
			status = 'failed_terminal',
			failure_reason = $2,
			last_attempt_at = NOW(),
			updated_at = NOW()
		 WHERE id = $1 AND status <> 'failed_terminal'
		 RETURNING `+workItemColumns,
		id, nilIfEmpty(reason),
	)
	item, err := scanWorkItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Already terminal, or missing entirely.
		existing := r.db.QueryRow(ctx,
			`SELECT `+workItemColumns+` FROM work_items WHERE id = $1`, id)
		item, err = scanWorkItem(existing)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundWorkItem, "work item not found", nil)
		}
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to mark work item terminal", err)
	}
	return item, nil
}

// DeleteForUser removes all work for a user, called on profile deletion.
func (r *WorkRepository) DeleteForUser(ctx context.Context, userID string) (int, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM work_items WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete work for user", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListTerminalBefore returns terminally failed items last touched before
// cutoff, for archival by the maintenance sweep.
func (r *WorkRepository) ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]types.WorkItem, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+workItemColumns+`
		 FROM work_items
		 WHERE status = 'failed_terminal' AND updated_at < $1
		 ORDER BY updated_at ASC
		 LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list terminal work", err)
	}
	return scanWorkItems(rows)
}

// DeleteByIDs hard-deletes items after archival.
func (r *WorkRepository) DeleteByIDs(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx,
		`DELETE FROM work_items WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete work items", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanWorkItems(rows pgx.Rows) ([]types.WorkItem, error) {
	defer rows.Close()

	var items []types.WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan work item", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate work items", err)
	}
	return items, nil
}

func scanWorkItem(row pgx.Row) (*types.WorkItem, error) {
	var (
		item     types.WorkItem
		methods  []byte
		priority string
		status   string
	)
	err := row.Scan(
		&item.ID,
		&item.UserID,
		&item.TargetAt,
		&priority,
		&item.PayloadRef,
		&item.LifeCritical,
		&methods,
		&item.AttemptCount,
		&item.LastAttemptAt,
		&item.MaxAttempts,
		&item.FailureReason,
		&status,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	item.Priority = types.WorkPriority(priority)
	item.Status = types.WorkStatus(status)
	if len(methods) > 0 {
		if err := json.Unmarshal(methods, &item.Methods); err != nil {
			return nil, err
		}
	}
	return &item, nil
}
