package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/lamosty/aharadar-sub003/internal/domain"
)

type PostgresStore struct {
	db *sql.DB
}

const (
	defaultDBMaxOpenConns    = 10
	defaultDBMaxIdleConns    = 5
	defaultDBConnMaxLifetime = 30 * time.Minute
	defaultDBConnMaxIdleTime = 5 * time.Minute
	defaultDBPingTimeout     = 5 * time.Second
)

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, domain.InvalidArgument("DATABASE_URL is required when LEDGER_DRIVER=postgres")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, domain.Internal("failed to open postgres connection", err)
	}
	db.SetMaxOpenConns(defaultDBMaxOpenConns)
	db.SetMaxIdleConns(defaultDBMaxIdleConns)
	db.SetConnMaxLifetime(defaultDBConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultDBConnMaxIdleTime)

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Load() error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultDBPingTimeout)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return domain.Internal("failed to connect to postgres", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS llm_calls (
			id TEXT PRIMARY KEY,
			task TEXT NOT NULL,
			tier TEXT NOT NULL,
			provider TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			endpoint TEXT NOT NULL DEFAULT '',
			input_tokens BIGINT NOT NULL DEFAULT 0,
			output_tokens BIGINT NOT NULL DEFAULT 0,
			cost_credits DOUBLE PRECISION NOT NULL DEFAULT 0,
			latency_ms BIGINT NOT NULL DEFAULT 0,
			outcome TEXT NOT NULL,
			error_code TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)
	`); err != nil {
		return domain.Internal("failed to ensure llm_calls table", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS llm_calls_created_at_idx ON llm_calls (created_at DESC)`); err != nil {
		return domain.Internal("failed to ensure llm_calls index", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) Append(ctx context.Context, record domain.CallRecord) error {
	createdAt, err := time.Parse(time.RFC3339Nano, record.CreatedAt)
	if err != nil {
		return domain.InvalidArgument("created_at must be RFC3339")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO llm_calls (
			id, task, tier, provider, model, endpoint,
			input_tokens, output_tokens, cost_credits, latency_ms,
			outcome, error_code, error_message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		record.ID, record.Task, record.Tier, record.Provider, record.Model, record.Endpoint,
		record.InputTokens, record.OutputTokens, record.CostCredits, record.LatencyMS,
		record.Outcome, record.ErrorCode, record.ErrorMessage, createdAt,
	)
	if err != nil {
		return domain.Internal("failed to insert call record", err)
	}
	return nil
}

func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]domain.CallRecord, error) {
	query := `
		SELECT id, task, tier, provider, model, endpoint,
			input_tokens, output_tokens, cost_credits, latency_ms,
			outcome, error_code, error_message, created_at
		FROM llm_calls
		ORDER BY created_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.Internal("failed to query call records", err)
	}
	defer rows.Close()

	records := []domain.CallRecord{}
	for rows.Next() {
		var record domain.CallRecord
		var createdAt time.Time
		if err := rows.Scan(
			&record.ID, &record.Task, &record.Tier, &record.Provider, &record.Model, &record.Endpoint,
			&record.InputTokens, &record.OutputTokens, &record.CostCredits, &record.LatencyMS,
			&record.Outcome, &record.ErrorCode, &record.ErrorMessage, &createdAt,
		); err != nil {
			return nil, domain.Internal("failed to scan call record", err)
		}
		record.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal("failed to read call records", err)
	}
	return records, nil
}

func (s *PostgresStore) Summary(ctx context.Context) (domain.Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider,
			COUNT(*),
			COUNT(*) FILTER (WHERE outcome <> $1),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(cost_credits), 0)
		FROM llm_calls
		GROUP BY provider
	`, domain.OutcomeSuccess)
	if err != nil {
		return domain.Summary{}, domain.Internal("failed to summarize call records", err)
	}
	defer rows.Close()

	summary := domain.Summary{}
	summary.Totals.ByProvider = map[string]domain.ProviderTotals{}
	for rows.Next() {
		var provider string
		var totals domain.ProviderTotals
		if err := rows.Scan(&provider, &totals.Calls, &totals.Failures, &totals.InputTokens, &totals.OutputTokens, &totals.CostCredits); err != nil {
			return domain.Summary{}, domain.Internal("failed to scan call summary", err)
		}
		if provider == "" {
			provider = "unresolved"
		}
		summary.Totals.ByProvider[provider] = totals
		summary.Counts.Calls += totals.Calls
		summary.Counts.Failures += totals.Failures
		summary.Totals.InputTokens += totals.InputTokens
		summary.Totals.OutputTokens += totals.OutputTokens
		summary.Totals.CostCredits += totals.CostCredits
	}
	if err := rows.Err(); err != nil {
		return domain.Summary{}, domain.Internal("failed to read call summary", err)
	}
	return summary, nil
}
