package features

import (
	"testing"

	"github.com/malbeclabs/trxpurpose/config"
	"github.com/stretchr/testify/require"
)

func TestBucketEncode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		amount int64
		want   float64
	}{
		{name: "below_lo", amount: 9_999, want: 0},
		{name: "at_lo", amount: 10_000, want: 0},
		{name: "midpoint", amount: 55_000, want: 0.5},
		{name: "at_hi", amount: 100_000, want: 1},
		{name: "above_hi", amount: 1_000_000, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, BucketEncode(tt.amount, 10_000, 100_000))
		})
	}

	t.Run("monotonic", func(t *testing.T) {
		t.Parallel()
		prev := BucketEncode(0, 10_000, 100_000)
		for amount := int64(0); amount <= 120_000; amount += 500 {
			v := BucketEncode(amount, 10_000, 100_000)
			require.GreaterOrEqual(t, v, prev)
			prev = v
		}
	})

	require.Equal(t, "amount_enc_10000_100000", BucketColumn(config.AmountBucket{Lo: 10_000, Hi: 100_000}))
}
