package usage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/lamosty/aharadar-sub003/internal/domain"
)

const (
	defaultDBMaxOpenConns    = 10
	defaultDBMaxIdleConns    = 5
	defaultDBConnMaxLifetime = 30 * time.Minute
	defaultDBConnMaxIdleTime = 5 * time.Minute
	defaultDBPingTimeout     = 5 * time.Second
)

// PostgresBackend keeps shared counters in one table. Expired rows are reset
// on the next increment and removed by PurgeExpired.
type PostgresBackend struct {
	db *sql.DB
}

func NewPostgresBackend(dsn string) (*PostgresBackend, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, domain.InvalidArgument("DATABASE_URL is required when USAGE_STORE_DRIVER=postgres")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, domain.Internal("failed to open postgres connection", err)
	}
	db.SetMaxOpenConns(defaultDBMaxOpenConns)
	db.SetMaxIdleConns(defaultDBMaxIdleConns)
	db.SetConnMaxLifetime(defaultDBConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultDBConnMaxIdleTime)

	return &PostgresBackend{db: db}, nil
}

// Load checks connectivity and creates the counter table if needed.
func (b *PostgresBackend) Load() error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultDBPingTimeout)
	defer cancel()
	if err := b.db.PingContext(ctx); err != nil {
		return domain.Internal("failed to connect to postgres", err)
	}
	return b.ensureSchema(ctx)
}

func (b *PostgresBackend) ensureSchema(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS usage_counters (
			counter_key TEXT PRIMARY KEY,
			value BIGINT NOT NULL DEFAULT 0,
			expires_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return domain.Internal("failed to ensure usage_counters table", err)
	}
	if _, err := b.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS usage_counters_expires_at_idx ON usage_counters (expires_at)`); err != nil {
		return domain.Internal("failed to ensure usage_counters index", err)
	}
	return nil
}

func (b *PostgresBackend) IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	var value int64
	err := b.db.QueryRowContext(ctx, `
		INSERT INTO usage_counters (counter_key, value, expires_at)
		VALUES ($1, $2, NOW() + make_interval(secs => $3))
		ON CONFLICT (counter_key) DO UPDATE SET
			value = CASE
				WHEN usage_counters.expires_at <= NOW() THEN EXCLUDED.value
				ELSE usage_counters.value + EXCLUDED.value
			END,
			expires_at = CASE
				WHEN usage_counters.expires_at <= NOW() THEN EXCLUDED.expires_at
				ELSE usage_counters.expires_at
			END
		RETURNING value
	`, key, delta, ttl.Seconds()).Scan(&value)
	if err != nil {
		return 0, domain.Internal("failed to increment usage counter", err)
	}
	return value, nil
}

func (b *PostgresBackend) Get(ctx context.Context, key string) (int64, bool, error) {
	var value int64
	err := b.db.QueryRowContext(ctx, `
		SELECT value
		FROM usage_counters
		WHERE counter_key = $1 AND expires_at > NOW()
	`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, domain.Internal("failed to read usage counter", err)
	}
	return value, true, nil
}

// PurgeExpired deletes counters whose expiry has passed.
func (b *PostgresBackend) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := b.db.ExecContext(ctx, `DELETE FROM usage_counters WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, domain.Internal("failed to purge expired usage counters", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, domain.Internal("failed to count purged usage counters", err)
	}
	return removed, nil
}

func (b *PostgresBackend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}
