// Package sink writes dispatched records to PostgreSQL.
package sink

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/JonMunkholm/ingest/internal/config"
	"github.com/JonMunkholm/ingest/internal/core"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotInserted is returned by Insert when the id already exists.
var ErrNotInserted = errors.New("not inserted: id already exists")

// DBTX is the subset of pgxpool.Pool, pgx.Conn and pgx.Tx the store needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Connect opens a pool for cfg and verifies it with a ping.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.MaxConns <= 0 || cfg.MaxConns > math.MaxInt32 || cfg.MinConns < 0 || cfg.MinConns > cfg.MaxConns {
		return nil, fmt.Errorf("invalid pool size: max %d, min %d", cfg.MaxConns, cfg.MinConns)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime

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

// UserStore inserts core.User records into one table.
type UserStore struct {
	db        DBTX
	table     string
	createSQL string
	insertSQL string
}

// NewUserStore returns a store for table, which may be schema-qualified
// ("ingest.users").
func NewUserStore(db DBTX, table string) (*UserStore, error) {
	if strings.TrimSpace(table) == "" {
		return nil, errors.New("user store: table name is required")
	}
	ident := pgx.Identifier(strings.Split(table, ".")).Sanitize()

	return &UserStore{
		db:    db,
		table: table,
		createSQL: fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id          TEXT PRIMARY KEY,
	nombre      TEXT NOT NULL,
	email       TEXT NOT NULL,
	ingested_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, ident),
		insertSQL: fmt.Sprintf(
			"INSERT INTO %s (id, nombre, email) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING",
			ident),
	}, nil
}

// Table returns the configured table name.
func (s *UserStore) Table() string {
	return s.table
}

// EnsureTable creates the table if it does not exist.
func (s *UserStore) EnsureTable(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, s.createSQL); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Insert stores u. An existing id is left untouched and reported as
// ErrNotInserted. Insert matches core.Handler[core.User] and is safe for
// concurrent use when db is a pool.
func (s *UserStore) Insert(ctx context.Context, u core.User) error {
	tag, err := s.db.Exec(ctx, s.insertSQL, toText(u.ID), toText(u.Name), toText(u.Email))
	if err != nil {
		return fmt.Errorf("insert user %s: %w", u.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", u.ID, ErrNotInserted)
	}
	return nil
}

// toText maps blank strings to NULL so NOT NULL columns reject records that
// skipped validation.
func toText(s string) pgtype.Text {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}
