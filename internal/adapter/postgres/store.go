// Package postgres persists cycle grids as one row per (time, latitude,
// longitude) in a grid_points table.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/couchcryptid/weather-grid-etl/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const table = "grid_points"

// Tx is the subset of pgx.Tx used by a cycle write.
type Tx interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Execer runs DDL outside a transaction. *pgxpool.Pool satisfies it.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// BeginFunc opens a write transaction.
type BeginFunc func(ctx context.Context) (Tx, error)

// Store implements domain.CycleStore on PostgreSQL.
type Store struct {
	db     Execer
	begin  BeginFunc
	schema string
	logger *slog.Logger
}

// NewStore creates a store on a connection pool.
func NewStore(pool *pgxpool.Pool, schema string, logger *slog.Logger) *Store {
	return newStore(pool, func(ctx context.Context) (Tx, error) { return pool.Begin(ctx) }, schema, logger)
}

func newStore(db Execer, begin BeginFunc, schema string, logger *slog.Logger) *Store {
	return &Store{db: db, begin: begin, schema: schema, logger: logger}
}

// Connect opens a pool and verifies connectivity.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func (s *Store) tableIdent() pgx.Identifier { return pgx.Identifier{s.schema, table} }

// Target is the qualified table name.
func (s *Store) Target() string { return s.tableIdent().Sanitize() }

// Columns returns the table columns in COPY order.
func Columns() []string {
	cols := []string{"source", "init_time", "time", "latitude", "longitude"}
	for _, v := range domain.AllVariables() {
		cols = append(cols, v.String())
	}
	return append(cols, "ingested_at")
}

// EnsureSchema creates the schema, table and lookup index if absent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", s.Target())
	b.WriteString("    source text NOT NULL,\n")
	b.WriteString("    init_time timestamptz NOT NULL,\n")
	b.WriteString("    time timestamptz NOT NULL,\n")
	b.WriteString("    latitude double precision NOT NULL,\n")
	b.WriteString("    longitude double precision NOT NULL,\n")
	for _, v := range domain.AllVariables() {
		fmt.Fprintf(&b, "    %s double precision,\n", pgx.Identifier{v.String()}.Sanitize())
	}
	b.WriteString("    ingested_at timestamptz NOT NULL\n)")

	stmts := []string{
		fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pgx.Identifier{s.schema}.Sanitize()),
		b.String(),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (source, init_time, time)",
			pgx.Identifier{table + "_cycle_idx"}.Sanitize(), s.Target()),
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return &domain.StoreError{Target: s.Target(), Op: "ensure schema", Err: err}
		}
	}
	return nil
}

// Write replaces every row of grid's (source, init_time) in one
// transaction. Concurrent writers on the same table serialize on an
// advisory lock.
func (s *Store) Write(ctx context.Context, grid domain.CycleGrid) (ack domain.Ack, err error) {
	if len(grid.Frames) == 0 {
		return domain.Ack{}, s.fail("write", domain.ErrNoValidFrames)
	}
	tx, err := s.begin(ctx)
	if err != nil {
		return domain.Ack{}, s.fail("begin", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rerr := tx.Rollback(context.WithoutCancel(ctx)); rerr != nil && !errors.Is(rerr, pgx.ErrTxClosed) {
			s.logger.Warn("rollback failed", "target", s.Target(), "error", rerr)
		}
	}()

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", s.Target()); err != nil {
		return domain.Ack{}, s.fail("lock", err)
	}
	tag, err := tx.Exec(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE source = $1 AND init_time = $2", s.Target()),
		grid.Key.Source, grid.InitTime)
	if err != nil {
		return domain.Ack{}, s.fail("delete", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		s.logger.Info("replacing previous cycle rows", "target", s.Target(), "cycle", grid.Key.String(), "rows", n)
	}

	rows := newRowSource(grid, domain.Now())
	copied, err := tx.CopyFrom(ctx, s.tableIdent(), Columns(), rows)
	if err != nil {
		return domain.Ack{}, s.fail("copy", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Ack{}, s.fail("commit", err)
	}
	committed = true

	s.logger.Info("relational store committed",
		"target", s.Target(), "cycle", grid.Key.String(), "rows", copied)
	return domain.Ack{Target: s.Target(), Mode: domain.ModeReplace, Records: int(copied)}, nil
}

func (s *Store) fail(op string, err error) error {
	return &domain.StoreError{Target: s.Target(), Op: op, Err: err}
}

// nullable maps NaN to SQL NULL.
func nullable(x float64) any {
	if math.IsNaN(x) {
		return nil
	}
	return x
}
