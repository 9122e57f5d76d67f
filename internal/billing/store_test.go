package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnmchuo/gateway-ops/internal/pricing"
	"github.com/vnmchuo/gateway-ops/internal/usage"
)

func TestSQLiteStore_LogUsage(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewSQLiteStore(db)
	mock.ExpectExec("INSERT INTO gateway_usage").
		WithArgs(sqlmock.AnyArg(), "req-1", SourceEvaluate, "gpt-4", 10, 20, 30, 0.0015, false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	log := &UsageLog{
		RequestID:        "req-1",
		Source:           SourceEvaluate,
		Model:            "gpt-4",
		PromptTokens:     10,
		CompletionTokens: 20,
		TotalTokens:      30,
		CostUSD:          0.0015,
	}
	require.NoError(t, store.LogUsage(context.Background(), log))
	assert.NotEmpty(t, log.ID)
	assert.False(t, log.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_ListUsage(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "request_id", "source", "model", "prompt_tokens", "completion_tokens",
		"total_tokens", "cost_usd", "fallback", "created_at",
	}).
		AddRow("a", "", SourceDockerLogs, "gpt-4", 1, 2, 3, 0.001, false, now).
		AddRow("b", "r", SourceEvaluate, "gpt-3.5-turbo", 4, 5, 9, 0.002, true, now)

	mock.ExpectQuery("SELECT (.+) FROM gateway_usage").WillReturnRows(rows)

	logs, err := NewSQLiteStore(db).ListUsage(context.Background(), now.Add(-time.Hour), now)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "a", logs[0].ID)
	assert.True(t, logs[1].Fallback)
	assert.Equal(t, 9, logs[1].TotalTokens)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_TotalCost(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT COALESCE").
		WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow(0.25))

	total, err := NewSQLiteStore(db).TotalCost(context.Background(), time.Time{}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0.25, total)
}

func TestSQLiteStore_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM gateway_usage").WillReturnError(errors.New("disk I/O error"))

	_, err = NewSQLiteStore(db).ListUsage(context.Background(), time.Time{}, time.Now())
	require.ErrorContains(t, err, "failed to query usage logs")
}

func TestSQLiteStore_Migrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS gateway_usage").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, NewSQLiteStore(db).Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

type fakePgDB struct {
	queryRow func(sql string, args ...any) pgx.Row
	execSQL  []string
}

func (f *fakePgDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (f *fakePgDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return f.queryRow(sql, args...)
}

func (f *fakePgDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execSQL = append(f.execSQL, sql)
	return pgconn.CommandTag{}, nil
}

func TestPostgresStore_LogUsage(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var gotArgs []any
	db := &fakePgDB{
		queryRow: func(sql string, args ...any) pgx.Row {
			gotArgs = args
			return fakeRow{scan: func(dest ...any) error {
				*dest[0].(*string) = "uuid-1"
				*dest[1].(*time.Time) = created
				return nil
			}}
		},
	}

	log := NewUsageLog(SourceLogFile, "", pricing.NewCalculator(nil).Cost(usage.New(1000, 0), "gpt-4"))
	require.NoError(t, NewPostgresStore(db).LogUsage(context.Background(), log))

	assert.Equal(t, "uuid-1", log.ID)
	assert.Equal(t, created, log.CreatedAt)
	require.Len(t, gotArgs, 8)
	assert.Equal(t, SourceLogFile, gotArgs[1])
	assert.Equal(t, "gpt-4", gotArgs[2])
	assert.InDelta(t, 0.03, gotArgs[6], 1e-12)
}

func TestPostgresStore_TotalCostError(t *testing.T) {
	db := &fakePgDB{
		queryRow: func(sql string, args ...any) pgx.Row {
			return fakeRow{scan: func(dest ...any) error { return pgx.ErrNoRows }}
		},
	}

	_, err := NewPostgresStore(db).TotalCost(context.Background(), time.Time{}, time.Now())
	require.ErrorContains(t, err, "failed to get total cost")
}

func TestPostgresStore_Migrate(t *testing.T) {
	db := &fakePgDB{}
	require.NoError(t, NewPostgresStore(db).Migrate(context.Background()))
	require.Len(t, db.execSQL, 1)
	assert.Contains(t, db.execSQL[0], "CREATE TABLE IF NOT EXISTS gateway_usage")
}

type memStore struct {
	logs []*UsageLog
	err  error
}

func (m *memStore) LogUsage(ctx context.Context, log *UsageLog) error {
	if m.err != nil {
		return m.err
	}
	m.logs = append(m.logs, log)
	return nil
}

func (m *memStore) ListUsage(ctx context.Context, from, to time.Time) ([]*UsageLog, error) {
	return m.logs, nil
}

func (m *memStore) TotalCost(ctx context.Context, from, to time.Time) (float64, error) {
	return 0, nil
}

func TestLogAll(t *testing.T) {
	s := Aggregate([]usage.Record{usage.New(1, 1), usage.New(2, 2)}, "gpt-4", pricing.NewCalculator(nil))

	store := &memStore{}
	n, err := LogAll(context.Background(), store, SourceDockerLogs, s)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, SourceDockerLogs, store.logs[1].Source)

	n, err = LogAll(context.Background(), &memStore{err: errors.New("down")}, SourceDockerLogs, s)
	require.Error(t, err)
	assert.Zero(t, n)
}
