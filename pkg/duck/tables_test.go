package duck

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReplaceTableViaCSV(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	log := testLogger()

	cfg := TableConfig{
		TableName: "test_days",
		Columns: []Column{
			{Name: "calendar_date", Type: "DATE"},
			{Name: "signal", Type: "FLOAT"},
			{Name: "label", Type: "VARCHAR"},
		},
	}

	t.Run("creates_table_with_typed_columns", func(t *testing.T) {
		t.Parallel()

		db, conn, err := testDBWithConn(t)
		require.NoError(t, err)
		defer db.Close()

		err = ReplaceTableViaCSV(ctx, log, conn, cfg, 3, func(w *csv.Writer, i int) error {
			return w.Write([]string{fmt.Sprintf("2024-05-0%d", i+1), fmt.Sprintf("%d.5", i), ""})
		})
		require.NoError(t, err)

		var count int
		require.NoError(t, conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM test_days").Scan(&count))
		require.Equal(t, 3, count)

		var typ string
		require.NoError(t, conn.QueryRowContext(ctx, "SELECT typeof(signal) FROM test_days LIMIT 1").Scan(&typ))
		require.Equal(t, "FLOAT", typ)

		var empty int
		require.NoError(t, conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM test_days WHERE label = ''").Scan(&empty))
		require.Equal(t, 3, empty)
	})

	t.Run("empty_fields", func(t *testing.T) {
		t.Parallel()

		db, conn, err := testDBWithConn(t)
		require.NoError(t, err)
		defer db.Close()

		err = ReplaceTableViaCSV(ctx, log, conn, cfg, 2, func(w *csv.Writer, i int) error {
			if i == 0 {
				return w.Write([]string{"2024-05-01", "", ""})
			}
			return w.Write([]string{"", "2", "gaji"})
		})
		require.NoError(t, err)

		var (
			date   sql.NullTime
			signal sql.NullFloat64
			label  sql.NullString
		)
		require.NoError(t, conn.QueryRowContext(ctx,
			"SELECT calendar_date, signal, label FROM test_days WHERE calendar_date IS NOT NULL").Scan(&date, &signal, &label))
		require.False(t, signal.Valid)
		require.True(t, label.Valid)
		require.Equal(t, "", label.String)

		var nullDates int
		require.NoError(t, conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM test_days WHERE calendar_date IS NULL").Scan(&nullDates))
		require.Equal(t, 1, nullDates)

		// An empty text key still joins.
		var matches int
		require.NoError(t, conn.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM (SELECT '' AS remark) r JOIN test_days d ON d.label = r.remark").Scan(&matches))
		require.Equal(t, 1, matches)
	})

	t.Run("replaces_previous_contents", func(t *testing.T) {
		t.Parallel()

		db, conn, err := testDBWithConn(t)
		require.NoError(t, err)
		defer db.Close()

		write := func(n int) {
			err := ReplaceTableViaCSV(ctx, log, conn, cfg, n, func(w *csv.Writer, i int) error {
				return w.Write([]string{"2024-06-01", "1", "x"})
			})
			require.NoError(t, err)
		}
		write(5)
		write(2)

		var count int
		require.NoError(t, conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM test_days").Scan(&count))
		require.Equal(t, 2, count)
	})

	t.Run("empty_rows_leave_empty_table", func(t *testing.T) {
		t.Parallel()

		db, conn, err := testDBWithConn(t)
		require.NoError(t, err)
		defer db.Close()

		err = ReplaceTableViaCSV(ctx, log, conn, cfg, 0, func(w *csv.Writer, i int) error { return nil })
		require.NoError(t, err)

		exists, err := TableExists(ctx, conn, "test_days")
		require.NoError(t, err)
		require.True(t, exists)
	})

	t.Run("rejects_invalid_config", func(t *testing.T) {
		t.Parallel()

		err := ReplaceTableViaCSV(ctx, log, &mockConn{}, TableConfig{TableName: "x"}, 0, nil)
		require.Error(t, err)
	})

	t.Run("propagates_writer_errors", func(t *testing.T) {
		t.Parallel()

		err := ReplaceTableViaCSV(ctx, log, &mockConn{}, cfg, 1, func(w *csv.Writer, i int) error {
			return fmt.Errorf("boom")
		})
		require.ErrorContains(t, err, "boom")
	})

	t.Run("begin_failure_leaves_table", func(t *testing.T) {
		t.Parallel()

		db, conn, err := testDBWithConn(t)
		require.NoError(t, err)
		defer db.Close()
		defer conn.Close()

		_, err = conn.ExecContext(ctx, "CREATE TABLE test_days (calendar_date DATE, signal FLOAT, label VARCHAR)")
		require.NoError(t, err)

		failing := &mockConn{
			Connection: conn,
			BeginTxFunc: func(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
				return nil, errors.New("database error")
			},
		}
		err = ReplaceTableViaCSV(ctx, log, failing, cfg, 1, func(w *csv.Writer, i int) error {
			return w.Write([]string{"2024-05-01", "1", "x"})
		})
		require.ErrorContains(t, err, "database error")

		cols, err := TableColumns(ctx, conn, "test_days")
		require.NoError(t, err)
		require.Equal(t, []string{"calendar_date", "signal", "label"}, cols)
	})
}

func TestSplitStatements(t *testing.T) {
	t.Parallel()

	script := `
-- create things
CREATE TABLE a AS
SELECT 1 AS x;

CREATE TABLE b AS SELECT 2 AS y;
SELECT 3`

	got := SplitStatements(script)
	require.Equal(t, []string{
		"CREATE TABLE a AS\nSELECT 1 AS x",
		"CREATE TABLE b AS SELECT 2 AS y",
		"SELECT 3",
	}, got)
}

func TestExecScript(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, conn, err := testDBWithConn(t)
	require.NoError(t, err)
	defer db.Close()

	script := `
CREATE TABLE params AS SELECT $1::BIGINT AS a, $2::VARCHAR AS b;
CREATE TABLE plain AS SELECT 42 AS c;
CREATE TABLE first_only AS SELECT $1::BIGINT AS a;
`
	require.NoError(t, ExecScript(ctx, testLogger(), conn, "test", script, int64(7), "seven"))

	var a int64
	var b string
	require.NoError(t, conn.QueryRowContext(ctx, "SELECT a, b FROM params").Scan(&a, &b))
	require.Equal(t, int64(7), a)
	require.Equal(t, "seven", b)

	require.NoError(t, conn.QueryRowContext(ctx, "SELECT a FROM first_only").Scan(&a))
	require.Equal(t, int64(7), a)

	err = ExecScript(ctx, testLogger(), conn, "short", "SELECT $3::INT", int64(1))
	require.ErrorContains(t, err, "references $3")
}

func TestSourceExpr(t *testing.T) {
	t.Parallel()

	require.Equal(t, "read_parquet('s3://bucket/raw/edges.parquet')", SourceExpr("s3://bucket/raw/edges.parquet"))
	require.Equal(t, "read_parquet('./raw/*.PARQUET')", SourceExpr("./raw/*.PARQUET"))
	require.Equal(t, "read_csv_auto('./raw/o''brien.csv', header = true)", SourceExpr("./raw/o'brien.csv"))
}
