package billing

import (
	"context"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS gateway_usage (
			id                UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			request_id        TEXT NOT NULL DEFAULT '',
			source            TEXT NOT NULL,
			model             TEXT NOT NULL,
			prompt_tokens     INTEGER NOT NULL,
			completion_tokens INTEGER NOT NULL,
			total_tokens      INTEGER NOT NULL,
			cost_usd          DOUBLE PRECISION NOT NULL,
			fallback          BOOLEAN NOT NULL DEFAULT FALSE,
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
	if _, err := s.db.Exec(ctx, query); err != nil {
		return errors.Wrap(err, "failed to create gateway_usage table")
	}
	return nil
}

func (s *PostgresStore) LogUsage(ctx context.Context, log *UsageLog) error {
	query := `
		INSERT INTO gateway_usage (request_id, source, model, prompt_tokens, completion_tokens, total_tokens, cost_usd, fallback)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		log.RequestID, log.Source, log.Model,
		log.PromptTokens, log.CompletionTokens, log.TotalTokens, log.CostUSD, log.Fallback,
	).Scan(&log.ID, &log.CreatedAt)

	if err != nil {
		return errors.Wrap(err, "failed to log usage")
	}

	return nil
}

func (s *PostgresStore) ListUsage(ctx context.Context, from, to time.Time) ([]*UsageLog, error) {
	query := `
		SELECT id, request_id, source, model, prompt_tokens, completion_tokens, total_tokens, cost_usd, fallback, created_at
		FROM gateway_usage
		WHERE created_at BETWEEN $1 AND $2
		ORDER BY created_at DESC
	`
	rows, err := s.db.Query(ctx, query, from, to)
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

func (s *PostgresStore) TotalCost(ctx context.Context, from, to time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(cost_usd), 0)
		FROM gateway_usage
		WHERE created_at BETWEEN $1 AND $2
	`
	var total float64
	err := s.db.QueryRow(ctx, query, from, to).Scan(&total)
	if err != nil {
		return 0, errors.Wrap(err, "failed to get total cost")
	}

	return total, nil
}
