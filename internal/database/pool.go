package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/tickergate/internal/config"
)

// Connect creates a connection pool and verifies it with a ping.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	connStr := BuildConnString(cfg)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// Schema creates the ticker_snapshots table. Converting it to a hypertable
// is left to deployment since plain PostgreSQL lacks the extension.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS ticker_snapshots (
		market               TEXT        NOT NULL,
		symbol               TEXT        NOT NULL,
		close_time           TIMESTAMPTZ NOT NULL,
		fetched_at           TIMESTAMPTZ NOT NULL,
		last_price           NUMERIC     NOT NULL,
		price_change         NUMERIC     NOT NULL,
		price_change_percent NUMERIC     NOT NULL,
		open_price           NUMERIC     NOT NULL,
		high_price           NUMERIC     NOT NULL,
		low_price            NUMERIC     NOT NULL,
		volume               NUMERIC     NOT NULL,
		quote_volume         NUMERIC     NOT NULL,
		trade_count          BIGINT      NOT NULL,
		mark_price           NUMERIC,
		funding_rate         NUMERIC,
		PRIMARY KEY (market, symbol, close_time)
	)`,
	`CREATE INDEX IF NOT EXISTS ticker_snapshots_symbol_time
		ON ticker_snapshots (symbol, close_time DESC)`,
}

// Migrate applies Schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range Schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
