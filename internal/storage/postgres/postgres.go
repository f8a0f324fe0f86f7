// Package postgres provides Postgres-backed implementations of the store
// contracts. Queries are built with squirrel and executed through pgx.
//
// Expected schema:
//
//	CREATE TABLE topics (
//	  id text PRIMARY KEY, name text NOT NULL, status text NOT NULL,
//	  keywords jsonb NOT NULL, sources jsonb NOT NULL, schedule jsonb NOT NULL,
//	  daily_last_run timestamptz, daily_next_run timestamptz,
//	  weekly_last_run timestamptz, weekly_next_run timestamptz,
//	  created_at timestamptz NOT NULL, updated_at timestamptz NOT NULL);
//	CREATE TABLE articles (
//	  id text PRIMARY KEY, topic_id text NOT NULL REFERENCES topics(id) ON DELETE CASCADE,
//	  source_id text, source_name text, url text, title text, excerpt text,
//	  published_at timestamptz, author text, tags jsonb, content_hash text NOT NULL,
//	  scraped_at timestamptz NOT NULL, importance int NOT NULL, scores jsonb NOT NULL,
//	  summary text, insights jsonb, actions jsonb, analysis_model text, analyzed_at timestamptz,
//	  UNIQUE (topic_id, content_hash));
//	CREATE TABLE runs (
//	  id text PRIMARY KEY, job_id text, topic_id text NOT NULL, cadence text NOT NULL,
//	  trigger text NOT NULL, status text NOT NULL, started_at timestamptz NOT NULL,
//	  finished_at timestamptz, error text, summary jsonb, nodes jsonb);
package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Pool is the subset of *pgxpool.Pool the store uses.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Store implements store.Repository on Postgres.
type Store struct {
	pool Pool
	psql sq.StatementBuilderType
}

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithPool(pool)
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{
		pool: pool,
		psql: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) exec(ctx context.Context, b sq.Sqlizer) (pgconn.CommandTag, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return pgconn.CommandTag{}, fmt.Errorf("build query: %w", err)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	return tag, nil
}

func (s *Store) query(ctx context.Context, b sq.Sqlizer) (pgx.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) queryRow(ctx context.Context, b sq.Sqlizer) (pgx.Row, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return s.pool.QueryRow(ctx, query, args...), nil
}
