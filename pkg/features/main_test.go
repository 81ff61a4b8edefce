package features

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/lmittmann/tint"
	"github.com/malbeclabs/trxpurpose/pkg/duck"
	"github.com/stretchr/testify/require"
)

var logger *slog.Logger

func TestMain(m *testing.M) {
	verbose := false
	for _, arg := range os.Args {
		if arg == "-test.v=true" || arg == "-v" {
			verbose = true
		}
	}
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: level}))
	os.Exit(m.Run())
}

const fixtureSQL = `
CREATE TABLE nodes (id BIGINT, node_name VARCHAR);
INSERT INTO nodes VALUES (1, 'alice'), (2, 'bob'), (3, 'carol'), (4, NULL);
CREATE TABLE edges (
	trx_id BIGINT,
	data_split VARCHAR,
	purpose VARCHAR,
	amount BIGINT,
	trx_date DATE,
	src_node_id BIGINT,
	dst_node_id BIGINT,
	remark VARCHAR
);
INSERT INTO edges VALUES
	(10, 'train', 'salary', 55000, DATE '2024-05-25', 1, 2, 'gaji mei'),
	(11, 'train', 'family', 10000, DATE '2024-05-01', 2, 3, 'kiriman'),
	(12, 'train', 'salary', 100000, DATE '2024-05-31', 1, 3, NULL),
	(13, 'valid', 'family', 200000, DATE '2024-06-06', 4, 1, 'kiriman');
`

// newTestConn opens a catalog seeded with four transactions.
func newTestConn(t *testing.T) duck.Connection {
	t.Helper()
	ctx := context.Background()
	db, err := duck.NewDB(ctx, filepath.Join(t.TempDir(), "catalog.duckdb"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, duck.ExecScript(ctx, logger, conn, "fixture", fixtureSQL))
	return conn
}
