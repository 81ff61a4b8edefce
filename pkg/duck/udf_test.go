package duck

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAmountEncoding(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		amount int64
		lo, hi int64
		want   float64
	}{
		{name: "below_range", amount: 5_000, lo: 10_000, hi: 100_000, want: 0},
		{name: "at_lower_bound", amount: 10_000, lo: 10_000, hi: 100_000, want: 0},
		{name: "midpoint", amount: 55_000, lo: 10_000, hi: 100_000, want: 0.5},
		{name: "at_upper_bound", amount: 100_000, lo: 10_000, hi: 100_000, want: 1},
		{name: "above_range", amount: 1_000_000, lo: 10_000, hi: 100_000, want: 1},
		{name: "degenerate_range", amount: 10, lo: 10, hi: 10, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.InDelta(t, tt.want, AmountEncoding(tt.amount, tt.lo, tt.hi), 1e-12)
		})
	}
}

func TestAmountEncodingUDF(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, conn, err := testDBWithConn(t)
	require.NoError(t, err)
	defer db.Close()
	defer conn.Close()

	t.Run("matches_go_function", func(t *testing.T) {
		var got float64
		err := conn.QueryRowContext(ctx, "SELECT amount_encoding($1, $2, $3)", int64(55_000), int64(10_000), int64(100_000)).Scan(&got)
		require.NoError(t, err)
		require.InDelta(t, 0.5, got, 1e-12)
	})

	t.Run("accepts_integer_columns", func(t *testing.T) {
		_, err := conn.ExecContext(ctx, "CREATE TABLE amounts AS SELECT * FROM (VALUES (1::INTEGER), (50::INTEGER), (200::INTEGER)) t(amount)")
		require.NoError(t, err)

		rows, err := conn.QueryContext(ctx, "SELECT amount_encoding(amount, 0, 100) FROM amounts ORDER BY amount")
		require.NoError(t, err)
		defer rows.Close()

		var got []float64
		for rows.Next() {
			var v float64
			require.NoError(t, rows.Scan(&v))
			got = append(got, v)
		}
		require.NoError(t, rows.Err())
		require.Equal(t, []float64{0.01, 0.5, 1}, got)
	})

	t.Run("null_amount_yields_null", func(t *testing.T) {
		var got sql.NullFloat64
		err := conn.QueryRowContext(ctx, "SELECT amount_encoding(NULL::BIGINT, 0, 100)").Scan(&got)
		require.NoError(t, err)
		require.False(t, got.Valid)
	})

	t.Run("available_on_every_connection", func(t *testing.T) {
		other, err := db.Conn(ctx)
		require.NoError(t, err)
		defer other.Close()

		var got float64
		require.NoError(t, other.QueryRowContext(ctx, "SELECT amount_encoding(150, 100, 200)").Scan(&got))
		require.InDelta(t, 0.5, got, 1e-12)
	})
}
