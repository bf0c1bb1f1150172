package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
)

// dialect captures the SQL differences between the supported backends.
type dialect struct {
	name string
	// numbered placeholders ($1, $2, ...) instead of ?
	numbered bool
	// row locking clause appended to SELECTs that must hold rows until commit
	lockClause string
}

var (
	sqliteDialect   = dialect{name: "sqlite3"}
	postgresDialect = dialect{name: "postgres", numbered: true, lockClause: " FOR UPDATE"}
)

// rebind rewrites ? placeholders for the dialect.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements Queries on top of a pool or a transaction.
type queries struct {
	db      dbtx
	dialect dialect
	inTx    bool
	spSeq   *atomic.Int64
}

func (q *queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.db.ExecContext(ctx, q.dialect.rebind(query), args...)
}

func (q *queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.db.QueryContext(ctx, q.dialect.rebind(query), args...)
}

func (q *queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.db.QueryRowContext(ctx, q.dialect.rebind(query), args...)
}

// WithSavepoint implements Queries.
func (q *queries) WithSavepoint(ctx context.Context, fn func() error) error {
	if !q.inTx {
		return fn()
	}
	name := fmt.Sprintf("sp_%d", q.spSeq.Add(1))
	if _, err := q.db.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("create savepoint failed: %w", err)
	}
	if err := fn(); err != nil {
		if _, rbErr := q.db.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			slog.Error("queries.WithSavepoint: rollback to savepoint failed", "savepoint", name, "error", rbErr)
			return fmt.Errorf("%w (rollback to savepoint failed: %v)", err, rbErr)
		}
		if _, relErr := q.db.ExecContext(ctx, "RELEASE SAVEPOINT "+name); relErr != nil {
			slog.Warn("queries.WithSavepoint: release after rollback failed", "savepoint", name, "error", relErr)
		}
		return err
	}
	if _, err := q.db.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("release savepoint failed: %w", err)
	}
	return nil
}

// SQLStore is the database/sql backed Store used for both SQLite and PostgreSQL.
type SQLStore struct {
	queries
	sqlDB *sql.DB
}

// Compile-time check that SQLStore implements Store.
var _ Store = (*SQLStore)(nil)

func newSQLStore(db *sql.DB, d dialect) *SQLStore {
	return &SQLStore{
		queries: queries{db: db, dialect: d, spSeq: new(atomic.Int64)},
		sqlDB:   db,
	}
}

// Dialect returns the backend name ("sqlite3" or "postgres").
func (s *SQLStore) Dialect() string {
	return s.dialect.name
}

// WithTx implements Store.
func (s *SQLStore) WithTx(ctx context.Context, fn func(q Queries) error) (err error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("SQLStore.WithTx: begin failed", "error", err)
		return fmt.Errorf("begin transaction failed: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	txq := &queries{db: tx, dialect: s.dialect, inTx: true, spSeq: s.spSeq}
	if err := fn(txq); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Error("SQLStore.WithTx: rollback failed", "error", rbErr, "cause", err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		slog.Error("SQLStore.WithTx: commit failed", "error", err)
		return fmt.Errorf("commit transaction failed: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	slog.Debug("Closing database connection", "dialect", s.dialect.name)
	err := s.sqlDB.Close()
	if err != nil {
		slog.Error("Failed to close database", "error", err, "dialect", s.dialect.name)
	} else {
		slog.Debug("Database connection closed successfully", "dialect", s.dialect.name)
	}
	return err
}

// inClause returns "(?, ?, ...)" with n placeholders.
func inClause(n int) string {
	if n <= 0 {
		return "(NULL)"
	}
	return "(" + strings.TrimSuffix(strings.Repeat("?, ", n), ", ") + ")"
}

func stringArgs[T ~string](vals []T) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = string(v)
	}
	return out
}
