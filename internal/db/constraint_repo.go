package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"remindwell/internal/types"
)

// ConstraintRepository persists user constraint profiles in the
// user_profiles table. Constraints and preferences are stored as JSONB
// documents alongside the row; a profile is always written and read as one
// unit, which keeps the upsert idempotent and the read consistent without a
// transaction.
type ConstraintRepository struct {
	db DBTX
}

// NewConstraintRepository creates a ConstraintRepository backed by the given
// database connection (pool or transaction).
func NewConstraintRepository(db DBTX) *ConstraintRepository {
	return &ConstraintRepository{db: db}
}

var _ types.ConstraintStore = (*ConstraintRepository)(nil)

// UpsertProfile inserts or fully replaces the user's profile row.
func (r *ConstraintRepository) UpsertProfile(ctx context.Context, profile *types.UserProfile) error {
	constraints, err := json.Marshal(profile.Constraints)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode constraints", err)
	}
	preferences, err := json.Marshal(profile.Preferences)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode preferences", err)
	}

	var lat, lon *float64
	if profile.Location != nil {
		lat = &profile.Location.Lat
		lon = &profile.Location.Lon
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO user_profiles
		 (user_id, timezone, latitude, longitude, preferences, constraints, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())
		 ON CONFLICT (user_id) DO UPDATE SET
			timezone    = EXCLUDED.timezone,
			latitude    = EXCLUDED.latitude,
			longitude   = EXCLUDED.longitude,
			preferences = EXCLUDED.preferences,
			constraints = EXCLUDED.constraints,
			updated_at  = NOW()`,
		profile.UserID,
		profile.Timezone,
		lat,
		lon,
		preferences,
		constraints,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert profile", err)
	}
	return nil
}

// GetProfile loads one profile. Returns (nil, nil) when the user has none;
// callers fail open on a missing profile.
func (r *ConstraintRepository) GetProfile(ctx context.Context, userID string) (*types.UserProfile, error) {
	var (
		profile     types.UserProfile
		lat, lon    *float64
		preferences []byte
		constraints []byte
	)
	row := r.db.QueryRow(ctx,
		`SELECT user_id, timezone, latitude, longitude, preferences, constraints, updated_at
		 FROM user_profiles
		 WHERE user_id = $1`,
		userID,
	)
	err := row.Scan(
		&profile.UserID,
		&profile.Timezone,
		&lat,
		&lon,
		&preferences,
		&constraints,
		&profile.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load profile", err)
	}
	if lat != nil && lon != nil {
		profile.Location = &types.Location{Lat: *lat, Lon: *lon}
	}

	if len(preferences) > 0 {
		if err := json.Unmarshal(preferences, &profile.Preferences); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
				fmt.Sprintf("corrupt preferences document for user %s", userID), err)
		}
	}
	if len(constraints) > 0 {
		if err := json.Unmarshal(constraints, &profile.Constraints); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
				fmt.Sprintf("corrupt constraints document for user %s", userID), err)
		}
	}
	return &profile, nil
}

// DeleteProfile removes the user's profile row.
func (r *ConstraintRepository) DeleteProfile(ctx context.Context, userID string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM user_profiles WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete profile", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundProfile, "profile not found", nil)
	}
	return nil
}

// ListUserIDs returns the IDs of all stored profiles, ordered for
// deterministic refresh sweeps.
func (r *ConstraintRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT user_id FROM user_profiles ORDER BY user_id`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list profile users", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan profile user", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate profile users", err)
	}
	return ids, nil
}
