package duck

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/lmittmann/tint"
)

// testDBWithConn opens a catalog file under t.TempDir() and one connection.
func testDBWithConn(t *testing.T) (DB, Connection, error) {
	ctx := context.Background()
	db, err := NewDB(ctx, filepath.Join(t.TempDir(), "test.duckdb"), testLogger())
	if err != nil {
		return nil, nil, err
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	return db, conn, nil
}

// mockConn forwards to a real connection unless the matching Func is set.
type mockConn struct {
	Connection

	ExecContextFunc  func(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContextFunc func(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	BeginTxFunc      func(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

func (m *mockConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if m.ExecContextFunc != nil {
		return m.ExecContextFunc(ctx, query, args...)
	}
	return m.Connection.ExecContext(ctx, query, args...)
}

func (m *mockConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if m.QueryContextFunc != nil {
		return m.QueryContextFunc(ctx, query, args...)
	}
	return m.Connection.QueryContext(ctx, query, args...)
}

func (m *mockConn) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	if m.BeginTxFunc != nil {
		return m.BeginTxFunc(ctx, opts)
	}
	return m.Connection.BeginTx(ctx, opts)
}

func testLogger() *slog.Logger {
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelError}))
}
