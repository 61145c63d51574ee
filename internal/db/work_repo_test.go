package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"remindwell/internal/types"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// --- Mock Row ---

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

func scanTerminalItem(id string) func(dest ...any) error {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	return func(dest ...any) error {
		*dest[0].(*string) = id
		*dest[1].(*string) = "user_1"
		*dest[2].(*time.Time) = now
		*dest[3].(*string) = "normal"
		*dest[4].(*string) = "payload/" + id
		*dest[5].(*bool) = false
		*dest[6].(*[]byte) = []byte(`["push"]`)
		*dest[7].(*int) = 5
		*dest[8].(**time.Time) = &now
		*dest[9].(*int) = 5
		*dest[10].(*string) = "transport rejected item"
		*dest[11].(*string) = "failed_terminal"
		*dest[12].(*time.Time) = now
		*dest[13].(*time.Time) = now
		return nil
	}
}

// --- WorkRepository Tests ---

func TestWorkRepository_Upsert_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewWorkRepository(db)

	item := &types.WorkItem{
		ID:          "itm_1",
		UserID:      "user_1",
		TargetAt:    time.Now().UTC(),
		Priority:    types.WorkPriorityNormal,
		PayloadRef:  "payload/itm_1",
		Methods:     []types.DeliveryMethod{types.MethodPush, types.MethodSMS},
		MaxAttempts: 5,
	}

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := repo.Upsert(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, types.WorkStatusPending, item.Status)
	db.AssertExpectations(t)
}

func TestWorkRepository_Upsert_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewWorkRepository(db)

	item := &types.WorkItem{ID: "itm_1", UserID: "user_1"}

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	err := repo.Upsert(context.Background(), item)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestWorkRepository_Requeue_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewWorkRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.Requeue(context.Background(), "itm_missing", time.Now(), "retry")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundWorkItem, appErr.Code)
}

func TestWorkRepository_MarkTerminal_FirstTransition(t *testing.T) {
	db := new(mockDBTX)
	repo := NewWorkRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFn: scanTerminalItem("itm_1")}).Once()

	item, err := repo.MarkTerminal(context.Background(), "itm_1", "transport rejected item")
	require.NoError(t, err)
	assert.Equal(t, types.WorkStatusFailedTerminal, item.Status)
	assert.Equal(t, "itm_1", item.ID)
	db.AssertExpectations(t)
}

func TestWorkRepository_MarkTerminal_AlreadyTerminalIsIdempotent(t *testing.T) {
	db := new(mockDBTX)
	repo := NewWorkRepository(db)

	// The guarded UPDATE matches nothing; the follow-up SELECT returns the
	// already-terminal row unchanged.
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows}).Once()
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFn: scanTerminalItem("itm_1")}).Once()

	item, err := repo.MarkTerminal(context.Background(), "itm_1", "second report")
	require.NoError(t, err)
	assert.Equal(t, types.WorkStatusFailedTerminal, item.Status)
	db.AssertExpectations(t)
}

func TestWorkRepository_MarkTerminal_Missing(t *testing.T) {
	db := new(mockDBTX)
	repo := NewWorkRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows}).Twice()

	_, err := repo.MarkTerminal(context.Background(), "itm_missing", "whatever")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundWorkItem, appErr.Code)
}

// --- ConstraintRepository Tests ---

func TestConstraintRepository_GetProfile_MissingReturnsNil(t *testing.T) {
	db := new(mockDBTX)
	repo := NewConstraintRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	profile, err := repo.GetProfile(context.Background(), "user_unknown")
	require.NoError(t, err)
	assert.Nil(t, profile)
}

func TestConstraintRepository_UpsertProfile_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewConstraintRepository(db)

	profile := &types.UserProfile{
		UserID:   "user_1",
		Timezone: "Asia/Riyadh",
		Constraints: []types.Constraint{
			{
				ID: "con_1", UserID: "user_1",
				Category: types.CategoryQuietHours,
				Priority: types.PriorityCritical,
				IsActive: true,
				Windows: []types.TimeWindow{
					{Start: "22:00", End: "07:00", Fallback: types.FallbackDelay},
				},
			},
		},
	}

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := repo.UpsertProfile(context.Background(), profile)
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestConstraintRepository_DeleteProfile_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewConstraintRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("DELETE 0"), nil)

	err := repo.DeleteProfile(context.Background(), "user_unknown")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundProfile, appErr.Code)
}

// --- JobStateRepository Tests ---

func TestJobStateRepository_SaveInterval(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobStateRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		return args[0] == "deliver_due_work" && args[1] == int64(90*time.Minute/time.Millisecond)
	})).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := repo.SaveInterval(context.Background(), types.JobDeliverDueWork, 90*time.Minute)
	require.NoError(t, err)
	db.AssertExpectations(t)
}
