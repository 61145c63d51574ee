package db

import (
	"context"
	"time"

	"remindwell/internal/types"
)

// JobStateRepository persists per-job interval overrides in the
// job_intervals table so adaptive widening survives restarts.
type JobStateRepository struct {
	db DBTX
}

// NewJobStateRepository creates a JobStateRepository backed by the given
// database connection (pool or transaction).
func NewJobStateRepository(db DBTX) *JobStateRepository {
	return &JobStateRepository{db: db}
}

// LoadIntervals returns every persisted interval override keyed by job name.
func (r *JobStateRepository) LoadIntervals(ctx context.Context) (map[types.JobName]time.Duration, error) {
	rows, err := r.db.Query(ctx,
		`SELECT job_name, interval_ms FROM job_intervals`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load job intervals", err)
	}
	defer rows.Close()

	out := make(map[types.JobName]time.Duration)
	for rows.Next() {
		var (
			name string
			ms   int64
		)
		if err := rows.Scan(&name, &ms); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan job interval", err)
		}
		out[types.JobName(name)] = time.Duration(ms) * time.Millisecond
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate job intervals", err)
	}
	return out, nil
}

// SaveInterval upserts one job's interval override.
func (r *JobStateRepository) SaveInterval(ctx context.Context, name types.JobName, interval time.Duration) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO job_intervals (job_name, interval_ms, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (job_name) DO UPDATE SET
			interval_ms = EXCLUDED.interval_ms,
			updated_at  = NOW()`,
		string(name),
		interval.Milliseconds(),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to save job interval", err)
	}
	return nil
}
