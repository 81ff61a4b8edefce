package duck

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/duckdb/duckdb-go/v2"
)

type DB interface {
	Catalog() string
	Schema() string
	Close() error
	Conn(ctx context.Context) (Connection, error)
}

type Connection interface {
	DB() DB
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	Close() error
}

type duckDB struct {
	log     *slog.Logger
	dbPath  string
	db      *sql.DB
	catalog string
	schema  string

	udfMu         sync.Mutex
	udfRegistered bool
}

type duckDBConn struct {
	conn    *sql.Conn
	db      *duckDB
	writeMu sync.Mutex // serializes all write operations
}

// NewDB opens the catalog database file at dbPath. An empty path opens an
// in-memory database.
func NewDB(ctx context.Context, dbPath string, log *slog.Logger) (*duckDB, error) {
	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	row := db.QueryRowContext(ctx, "SELECT current_database() AS catalog, current_schema() AS schema")
	var catalog, schema string
	if err := row.Scan(&catalog, &schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to get current database and schema: %w", err)
	}

	log.Debug("opened catalog database", "path", dbPath, "catalog", catalog, "schema", schema)

	return &duckDB{
		log:     log,
		dbPath:  dbPath,
		db:      db,
		catalog: catalog,
		schema:  schema,
	}, nil
}

// Conn opens a dedicated connection with the amount_encoding function
// registered. Temporary tables created on it are private to the connection.
func (d *duckDB) Conn(ctx context.Context) (Connection, error) {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}

	if _, err := conn.ExecContext(ctx, "USE "+d.catalog); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to use database: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "SET schema = "+d.schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set schema: %w", err)
	}
	if err := d.ensureUDFs(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}

	return &duckDBConn{
		conn: conn,
		db:   d,
	}, nil
}

// ensureUDFs registers the scalar functions once per database.
func (d *duckDB) ensureUDFs(ctx context.Context, conn *sql.Conn) error {
	d.udfMu.Lock()
	defer d.udfMu.Unlock()
	if d.udfRegistered {
		return nil
	}
	if err := registerAmountEncoding(ctx, conn); err != nil {
		return err
	}
	d.udfRegistered = true
	return nil
}

func (d *duckDB) Path() string {
	return d.dbPath
}

func (d *duckDB) Catalog() string {
	return d.catalog
}

func (d *duckDB) Schema() string {
	return d.schema
}

func (d *duckDB) Close() error {
	return d.db.Close()
}

func (c *duckDBConn) DB() DB {
	return c.db
}

func (c *duckDBConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.conn.ExecContext(ctx, query, args...)
}

func (c *duckDBConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.conn.QueryContext(ctx, query, args...)
}

func (c *duckDBConn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.conn.QueryRowContext(ctx, query, args...)
}

func (c *duckDBConn) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return c.conn.BeginTx(ctx, opts)
}

func (c *duckDBConn) Close() error {
	return c.conn.Close()
}

// TableExists reports whether a table or view with the given name is visible
// from the connection, including temporary tables.
func TableExists(ctx context.Context, conn Connection, table string) (bool, error) {
	var count int
	err := conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM information_schema.tables WHERE table_name = $1`, table,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", table, err)
	}
	return count > 0, nil
}

// TableColumns returns the column names of table in ordinal order.
func TableColumns(ctx context.Context, conn Connection, table string) ([]string, error) {
	rows, err := conn.QueryContext(ctx,
		`SELECT column_name FROM information_schema.columns WHERE table_name = $1 ORDER BY ordinal_position`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to list columns of %s: %w", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan column name: %w", err)
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}
