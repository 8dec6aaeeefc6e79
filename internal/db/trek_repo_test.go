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

	"trekmate/internal/types"
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

// --- Mock Rows ---

type mockRows struct {
	data    [][]any
	idx     int
	closed  bool
	scanErr error
	errVal  error
}

func newMockRows(data [][]any) *mockRows {
	return &mockRows{data: data, idx: -1}
}

func (r *mockRows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	return r.idx < len(r.data)
}

func (r *mockRows) Scan(dest ...any) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	row := r.data[r.idx]
	for i, d := range dest {
		switch v := d.(type) {
		case *string:
			*v = row[i].(string)
		case *float64:
			*v = row[i].(float64)
		case **float64:
			if row[i] == nil {
				*v = nil
			} else {
				f := row[i].(float64)
				*v = &f
			}
		case *bool:
			*v = row[i].(bool)
		case *time.Time:
			*v = row[i].(time.Time)
		case **time.Time:
			if row[i] == nil {
				*v = nil
			} else {
				ts := row[i].(time.Time)
				*v = &ts
			}
		case **string:
			if row[i] == nil {
				*v = nil
			} else {
				s := row[i].(string)
				*v = &s
			}
		}
	}
	return nil
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.errVal }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }

// --- TrekRepository Tests ---

func TestTrekRepository_ActiveTrekkers_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTrekRepository(db)

	started := time.Date(2026, 8, 28, 8, 0, 0, 0, time.UTC)
	fixedAt := time.Date(2026, 8, 28, 9, 59, 0, 0, time.UTC)

	rows := newMockRows([][]any{
		{"user_1", "Asha", 4200.0, 1.8, started, 27.175, 78.042, fixedAt},
		{"user_2", "Bram", 100.0, 0.9, started, nil, nil, nil},
	})
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), []any{"sos_user"}).
		Return(rows, nil)

	members, err := repo.ActiveTrekkers(context.Background(), "sos_user")
	require.NoError(t, err)
	require.Len(t, members, 2)

	assert.Equal(t, "user_1", members[0].UserID)
	require.NotNil(t, members[0].LastLocation)
	assert.Equal(t, 27.175, members[0].LastLocation.Latitude)
	assert.Equal(t, fixedAt, members[0].LastLocation.Timestamp)

	// A trek with no fixes yet comes back with a nil location, not a zero one.
	assert.Equal(t, "user_2", members[1].UserID)
	assert.Nil(t, members[1].LastLocation)
	db.AssertExpectations(t)
}

func TestTrekRepository_ActiveTrekkers_QueryError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTrekRepository(db)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(nil, errors.New("connection refused"))

	_, err := repo.ActiveTrekkers(context.Background(), "sos_user")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestTrekRepository_ActiveTrekkers_RowsError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTrekRepository(db)

	rows := newMockRows(nil)
	rows.errVal = errors.New("broken stream")
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(rows, nil)

	_, err := repo.ActiveTrekkers(context.Background(), "sos_user")

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestTrekRepository_RecordLocation_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTrekRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := repo.RecordLocation(context.Background(), "trek_1", types.LocationPoint{
		Latitude:  27.175,
		Longitude: 78.042,
		Timestamp: time.Now(),
	})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestTrekRepository_RecordLocation_InactiveTrek(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTrekRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 0"), nil)

	err := repo.RecordLocation(context.Background(), "trek_done", types.LocationPoint{
		Latitude:  27.175,
		Longitude: 78.042,
		Timestamp: time.Now(),
	})

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundActivity, appErr.Code)
}

// --- ClubRepository Tests ---

func TestClubRepository_GetClub_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewClubRepository(db)

	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*string) = "club_1"
			*dest[1].(*string) = "Ridgeline Club"
			*dest[2].(*string) = "user_leader"
			return nil
		},
	}
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"club_1"}).Return(row)

	club, err := repo.GetClub(context.Background(), "club_1")
	require.NoError(t, err)
	assert.Equal(t, "club_1", club.ID)
	assert.Equal(t, "user_leader", club.LeaderID)
}

func TestClubRepository_GetClub_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewClubRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetClub(context.Background(), "missing")

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundClub, appErr.Code)
	assert.Equal(t, 404, appErr.HTTPStatus())
}

func TestClubRepository_ActiveMembers_LeaderFlag(t *testing.T) {
	db := new(mockDBTX)
	repo := NewClubRepository(db)

	started := time.Date(2026, 8, 28, 8, 0, 0, 0, time.UTC)
	fixedAt := time.Date(2026, 8, 28, 9, 58, 0, 0, time.UTC)

	rows := newMockRows([][]any{
		{"user_leader", "Lena", 5000.0, 2.0, started, 46.55, 8.56, fixedAt, true},
		{"user_2", "Milo", 4700.0, 1.7, started, 46.549, 8.56, fixedAt, false},
	})
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), []any{"club_1"}).
		Return(rows, nil)

	members, err := repo.ActiveMembers(context.Background(), "club_1")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.True(t, members[0].IsLeader)
	assert.False(t, members[1].IsLeader)
	require.NotNil(t, members[1].LastLocation)
	assert.Equal(t, 46.549, members[1].LastLocation.Latitude)
}
