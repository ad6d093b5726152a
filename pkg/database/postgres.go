package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SchemaUp creates the tables backing the postgres room store
var SchemaUp = []string{
	`CREATE TABLE IF NOT EXISTS rooms (
		code VARCHAR(10) PRIMARY KEY,
		data JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rooms_expires_at ON rooms (expires_at)`,
	`CREATE TABLE IF NOT EXISTS room_presence (
		code VARCHAR(10) NOT NULL,
		participant_id UUID NOT NULL,
		last_seen TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (code, participant_id)
	)`,
}

// SchemaDown drops everything SchemaUp creates
var SchemaDown = []string{
	`DROP TABLE IF EXISTS room_presence`,
	`DROP TABLE IF EXISTS rooms`,
}

type PostgresDB struct {
	Pool *pgxpool.Pool
}

// NewPostgresDB creates a new PostgreSQL connection pool
func NewPostgresDB(ctx context.Context, databaseURL string) (*PostgresDB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// Each room lock pins one connection for the length of an operation
	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = time.Minute * 30
	config.HealthCheckPeriod = time.Minute
	config.ConnConfig.ConnectTimeout = time.Second * 5

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test the connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *PostgresDB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// Health checks the database connection
func (db *PostgresDB) Health(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// EnsureSchema runs SchemaUp; every statement is idempotent
func (db *PostgresDB) EnsureSchema(ctx context.Context) error {
	return execAll(ctx, db.Pool, SchemaUp)
}

// DropSchema runs SchemaDown
func (db *PostgresDB) DropSchema(ctx context.Context) error {
	return execAll(ctx, db.Pool, SchemaDown)
}

func execAll(ctx context.Context, pool *pgxpool.Pool, queries []string) error {
	for _, query := range queries {
		if _, err := pool.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}
