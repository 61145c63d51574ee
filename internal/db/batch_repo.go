package db

import (
	"context"

	"remindwell/internal/types"
)

// BatchRepository records dispatched batch outcomes in the batch_outcomes
// table. Outcomes are append-only telemetry consumed by operators and the
// strategy self-tuning review, never by the delivery path.
type BatchRepository struct {
	db DBTX
}

// NewBatchRepository creates a BatchRepository backed by the given database
// connection (pool or transaction).
func NewBatchRepository(db DBTX) *BatchRepository {
	return &BatchRepository{db: db}
}

// RecordBatch upserts one settled batch. Replaying the same batch ID after a
// crash overwrites the earlier row with identical counters.
func (r *BatchRepository) RecordBatch(ctx context.Context, batch types.Batch) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO batch_outcomes
		 (batch_id, strategy, item_count, scheduled_at, priority,
		  estimated_cost_mah, adjusted, adjustment_reason,
		  attempted, delivered, failed, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, COALESCE($12, NOW()))
		 ON CONFLICT (batch_id) DO UPDATE SET
			attempted = EXCLUDED.attempted,
			delivered = EXCLUDED.delivered,
			failed    = EXCLUDED.failed`,
		batch.ID,
		string(batch.Strategy),
		len(batch.Items),
		batch.ScheduledAt,
		string(batch.Priority),
		batch.EstimatedCostMAh,
		batch.Adjusted,
		nilIfEmpty(batch.AdjustmentReason),
		batch.Attempted,
		batch.Delivered,
		batch.Failed,
		nilIfZeroTime(batch.CreatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record batch outcome", err)
	}
	return nil
}
