package billing

import (
	"context"
	"database/sql"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps usage history in a local sqlite file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// OpenSQLite opens (or creates) the database at path and migrates it.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite %s", path)
	}

	s := NewSQLiteStore(db)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS gateway_usage (
			id                TEXT PRIMARY KEY,
			request_id        TEXT NOT NULL DEFAULT '',
			source            TEXT NOT NULL,
			model             TEXT NOT NULL,
			prompt_tokens     INTEGER NOT NULL,
			completion_tokens INTEGER NOT NULL,
			total_tokens      INTEGER NOT NULL,
			cost_usd          REAL NOT NULL,
			fallback          INTEGER NOT NULL DEFAULT 0,
			created_at        DATETIME NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return errors.Wrap(err, "failed to create gateway_usage table")
	}
	return nil
}

func (s *SQLiteStore) LogUsage(ctx context.Context, log *UsageLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = s.now()
	}

	query := `
		INSERT INTO gateway_usage (id, request_id, source, model, prompt_tokens, completion_tokens, total_tokens, cost_usd, fallback, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		log.ID, log.RequestID, log.Source, log.Model,
		log.PromptTokens, log.CompletionTokens, log.TotalTokens, log.CostUSD, log.Fallback, log.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to log usage")
	}

	return nil
}

func (s *SQLiteStore) ListUsage(ctx context.Context, from, to time.Time) ([]*UsageLog, error) {
	query := `
		SELECT id, request_id, source, model, prompt_tokens, completion_tokens, total_tokens, cost_usd, fallback, created_at
		FROM gateway_usage
		WHERE created_at BETWEEN ? AND ?
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, from.UTC(), to.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "failed to query usage logs")
	}
	defer rows.Close()

	var logs []*UsageLog
	for rows.Next() {
		var l UsageLog
		err := rows.Scan(
			&l.ID, &l.RequestID, &l.Source, &l.Model,
			&l.PromptTokens, &l.CompletionTokens, &l.TotalTokens, &l.CostUSD, &l.Fallback, &l.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan usage log")
		}
		logs = append(logs, &l)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating usage logs")
	}

	return logs, nil
}

func (s *SQLiteStore) TotalCost(ctx context.Context, from, to time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(cost_usd), 0)
		FROM gateway_usage
		WHERE created_at BETWEEN ? AND ?
	`
	var total float64
	if err := s.db.QueryRowContext(ctx, query, from.UTC(), to.UTC()).Scan(&total); err != nil {
		return 0, errors.Wrap(err, "failed to get total cost")
	}

	return total, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
