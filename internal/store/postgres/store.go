// Package postgres implements the patient record store on Postgres + pgvector.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists patients, observations and conditions with their embeddings
// and answers nearest-neighbor similarity queries.
type Store struct {
	pool         *pgxpool.Pool
	dimension    int
	queryTimeout time.Duration
}

// Config holds record store settings.
type Config struct {
	DSN          string
	Dimension    int
	MaxConns     int
	QueryTimeout time.Duration
}

// New connects to Postgres and ensures the schema exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	dim := cfg.Dimension
	if dim <= 0 {
		dim = 384
	}

	s := &Store{pool: pool, dimension: dim, queryTimeout: cfg.QueryTimeout}
	return s, nil
}

// qctx bounds a single query with the configured timeout.
func (s *Store) qctx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.queryTimeout)
}

// Dimension returns the embedding dimension the schema was created with.
func (s *Store) Dimension() int { return s.dimension }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close shuts down the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// WaitForReady polls Ping until the store responds or timeout expires.
func (s *Store) WaitForReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for database: %w", ctx.Err())
		case <-ticker.C:
			if err := s.Ping(ctx); err == nil {
				return nil
			}
		}
	}
}

// InitSchema enables pgvector and creates the three relations if missing.
func (s *Store) InitSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS patients (
    id         VARCHAR PRIMARY KEY,
    first_name VARCHAR,
    last_name  VARCHAR,
    gender     VARCHAR,
    birth_date DATE,
    deceased   BOOLEAN,
    embedding  vector(%[1]d),
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS observations (
    id         VARCHAR PRIMARY KEY,
    patient_id VARCHAR REFERENCES patients(id),
    code       TEXT,
    value      FLOAT,
    unit       VARCHAR,
    date       TIMESTAMP,
    embedding  vector(%[1]d),
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS conditions (
    id         VARCHAR PRIMARY KEY,
    patient_id VARCHAR REFERENCES patients(id),
    code       TEXT,
    onset      TIMESTAMP,
    abatement  TIMESTAMP,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS observations_patient_idx ON observations (patient_id);
CREATE INDEX IF NOT EXISTS conditions_patient_idx ON conditions (patient_id);
CREATE INDEX IF NOT EXISTS observations_embedding_idx
    ON observations USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
`, s.dimension)

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}
