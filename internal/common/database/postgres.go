// internal/common/database/postgres.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"donor-matching/internal/common/config"

	_ "github.com/lib/pq"
)

// PostgresClient wraps the SQL database connection
type PostgresClient struct {
	DB *sql.DB
}

// NewPostgres opens a pooled lib/pq connection. It does not dial; call Ping.
func NewPostgres(cfg config.PostgresConfig) (*PostgresClient, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &PostgresClient{DB: db}, nil
}

// Ping tests the database connection
func (c *PostgresClient) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

// Close closes the database connection
func (c *PostgresClient) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}

// matchSchema is the only schema this service owns. Donors, hospitals and
// requests are read from tables managed elsewhere.
var matchSchema = []string{
	`CREATE TABLE IF NOT EXISTS match_records (
		id          UUID PRIMARY KEY,
		request_id  TEXT NOT NULL,
		donor_id    TEXT NOT NULL,
		status      TEXT NOT NULL,
		distance_km DOUBLE PRECISION,
		delivery    JSONB,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS match_records_active_pair
		ON match_records (request_id, donor_id)
		WHERE status IN ('Pending', 'Notified')`,
	`CREATE INDEX IF NOT EXISTS match_records_donor ON match_records (donor_id)`,
}

// Migrate creates the match_records table and its partial unique index.
func (c *PostgresClient) Migrate(ctx context.Context) error {
	for _, stmt := range matchSchema {
		if _, err := c.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate match schema: %w", err)
		}
	}
	return nil
}
