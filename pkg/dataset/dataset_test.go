package dataset

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/malbeclabs/trxpurpose/config"
	"github.com/malbeclabs/trxpurpose/pkg/batching"
	"github.com/malbeclabs/trxpurpose/pkg/embedding"
	"github.com/malbeclabs/trxpurpose/pkg/features"
	"github.com/stretchr/testify/require"
)

func newDataset(t *testing.T, cfg Config) *Dataset {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = logger
	}
	if cfg.Labels == nil {
		cfg.Labels = testLabels
	}
	if cfg.Split == "" {
		cfg.Split = config.SplitTrain
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}
	if cfg.Backfiller == nil {
		cfg.DisableEmbeddings = true
	}
	d, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func backfiller(t *testing.T, enc embedding.TextEncoder) *embedding.Backfiller {
	t.Helper()
	b, err := embedding.NewBackfiller(embedding.BackfillerConfig{Logger: logger, Encoder: enc})
	require.NoError(t, err)
	return b
}

func TestDataset_Get(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("rows_align_and_purposes_balance", func(t *testing.T) {
		t.Parallel()
		d := newDataset(t, Config{DB: newTestDB(t), Seed: 0.42})
		require.Equal(t, 10, d.Len())

		seen := make(map[int64]struct{})
		for idx := range d.Len() {
			item, err := d.Get(ctx, idx)
			require.NoError(t, err)
			require.Equal(t, 10, item.Features.Rows())
			require.Equal(t, 10, item.Labels.Rows())
			require.Len(t, item.TrxIDs, 10)
			require.Equal(t, testLabels, item.Labels.Columns())

			var family float32
			for r := range item.Labels.Rows() {
				family += item.Labels.At(r, 0)
				require.Equal(t, float32(1), item.Labels.At(r, 0)+item.Labels.At(r, 1))
			}
			require.InDelta(t, 5, family, 1, "batch %d", idx)

			for i, id := range item.TrxIDs {
				if i > 0 {
					require.Less(t, item.TrxIDs[i-1], id)
				}
				seen[id] = struct{}{}
			}
		}
		require.Len(t, seen, 100)
	})

	t.Run("labels_follow_purpose", func(t *testing.T) {
		t.Parallel()
		d := newDataset(t, Config{DB: newTestDB(t)})
		item, err := d.Get(ctx, 0)
		require.NoError(t, err)
		for r, id := range item.TrxIDs {
			if id%2 == 0 {
				require.Equal(t, float32(1), item.Labels.At(r, 0), "trx %d", id)
			} else {
				require.Equal(t, float32(1), item.Labels.At(r, 1), "trx %d", id)
			}
		}
	})

	t.Run("index_out_of_range", func(t *testing.T) {
		t.Parallel()
		d := newDataset(t, Config{DB: newTestDB(t)})
		for _, idx := range []int{-1, d.Len(), 1000} {
			_, err := d.Get(ctx, idx)
			require.True(t, errors.Is(err, ErrIndexOutOfRange), "idx %d", idx)
		}
	})

	t.Run("empty_split", func(t *testing.T) {
		t.Parallel()
		d := newDataset(t, Config{DB: newTestDB(t), Split: config.SplitTest})
		require.Equal(t, 0, d.Len())
		_, err := d.Get(ctx, 0)
		require.True(t, errors.Is(err, ErrIndexOutOfRange))
	})

	t.Run("unknown_label", func(t *testing.T) {
		t.Parallel()
		d := newDataset(t, Config{DB: newTestDB(t), Labels: []string{"family", "loan"}})
		_, err := d.Get(ctx, 0)
		require.True(t, errors.Is(err, ErrUnknownLabel))
	})

	t.Run("returned_items_are_copies", func(t *testing.T) {
		t.Parallel()
		d := newDataset(t, Config{DB: newTestDB(t)})
		item, err := d.Get(ctx, 0)
		require.NoError(t, err)
		want := item.Features.Clone()
		item.Features.Set(0, 0, 42)

		again, err := d.Get(ctx, 0)
		require.NoError(t, err)
		require.Equal(t, want.Data(), again.Features.Data())
	})

	t.Run("concurrent_gets", func(t *testing.T) {
		t.Parallel()
		d := newDataset(t, Config{DB: newTestDB(t)})
		want, err := d.Get(ctx, 3)
		require.NoError(t, err)

		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				got, err := d.Get(ctx, 3)
				require.NoError(t, err)
				require.Equal(t, want.TrxIDs, got.TrxIDs)
			}()
		}
		wg.Wait()
	})
}

func TestDataset_Cache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("hit_does_not_reassemble", func(t *testing.T) {
		t.Parallel()
		enc := lengthEncoder()
		d := newDataset(t, Config{DB: newTestDB(t), Backfiller: backfiller(t, enc)})

		first, err := d.Get(ctx, 0)
		require.NoError(t, err)
		calls := enc.calls.Load()
		require.Positive(t, calls)

		second, err := d.Get(ctx, 0)
		require.NoError(t, err)
		require.Equal(t, calls, enc.calls.Load())
		if diff := cmp.Diff(first.Features.Data(), second.Features.Data()); diff != "" {
			t.Fatalf("cached features differ (-first +second):\n%s", diff)
		}
	})

	t.Run("recomputed_after_eviction", func(t *testing.T) {
		t.Parallel()
		enc := lengthEncoder()
		d := newDataset(t, Config{DB: newTestDB(t), Backfiller: backfiller(t, enc), CacheCapacity: 2})

		first, err := d.Get(ctx, 0)
		require.NoError(t, err)
		for _, idx := range []int{1, 2, 3} {
			_, err := d.Get(ctx, idx)
			require.NoError(t, err)
		}

		calls := enc.calls.Load()
		again, err := d.Get(ctx, 0)
		require.NoError(t, err)
		require.Greater(t, enc.calls.Load(), calls)
		require.Equal(t, first.TrxIDs, again.TrxIDs)
		require.Equal(t, first.Features.Data(), again.Features.Data())
		require.Equal(t, first.Labels.Data(), again.Labels.Data())
	})

	t.Run("least_recently_used_is_evicted", func(t *testing.T) {
		t.Parallel()
		enc := lengthEncoder()
		d := newDataset(t, Config{DB: newTestDB(t), Backfiller: backfiller(t, enc), CacheCapacity: 2})

		for _, idx := range []int{0, 1, 0, 2} {
			_, err := d.Get(ctx, idx)
			require.NoError(t, err)
		}
		// 1 was evicted, 0 is still cached.
		calls := enc.calls.Load()
		_, err := d.Get(ctx, 0)
		require.NoError(t, err)
		require.Equal(t, calls, enc.calls.Load())
		_, err = d.Get(ctx, 1)
		require.NoError(t, err)
		require.Greater(t, enc.calls.Load(), calls)
	})

	t.Run("regenerate_purges_cache", func(t *testing.T) {
		t.Parallel()
		enc := lengthEncoder()
		d := newDataset(t, Config{DB: newTestDB(t), Backfiller: backfiller(t, enc), Seed: 0.42})

		first, err := d.Get(ctx, 0)
		require.NoError(t, err)
		require.NoError(t, d.Regenerate(ctx))
		require.Equal(t, 10, d.Len())

		calls := enc.calls.Load()
		again, err := d.Get(ctx, 0)
		require.NoError(t, err)
		require.Greater(t, enc.calls.Load(), calls)
		require.Equal(t, first.TrxIDs, again.TrxIDs)
	})
}

func TestDataset_RegenerateFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)
	d := newDataset(t, Config{DB: db, Seed: 0.42})

	_, err := d.Get(ctx, 0)
	require.NoError(t, err)

	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.ExecContext(ctx, `ALTER TABLE remark_features RENAME TO remark_features_old`)
	require.NoError(t, err)

	err = d.Regenerate(ctx)
	require.ErrorIs(t, err, features.ErrMissingFeatureTable)
	require.Equal(t, 10, d.Len())

	_, err = d.Get(ctx, 0)
	require.ErrorIs(t, err, ErrNotAssembled)

	_, err = conn.ExecContext(ctx, `ALTER TABLE remark_features_old RENAME TO remark_features`)
	require.NoError(t, err)
	require.NoError(t, d.Regenerate(ctx))

	item, err := d.Get(ctx, 0)
	require.NoError(t, err)
	require.Len(t, item.TrxIDs, 10)
}

func TestDataset_New(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("missing_proportions", func(t *testing.T) {
		t.Parallel()
		db := newTestDB(t)
		conn, err := db.Conn(ctx)
		require.NoError(t, err)
		_, err = conn.ExecContext(ctx, `DELETE FROM statistics_labels WHERE purpose = 'salary'`)
		require.NoError(t, err)
		require.NoError(t, conn.Close())

		_, err = New(ctx, Config{Logger: logger, DB: db, Split: config.SplitTrain, BatchSize: 10, Labels: testLabels, DisableEmbeddings: true})
		require.True(t, errors.Is(err, batching.ErrMissingProportionData))

		d, err := New(ctx, Config{Logger: logger, DB: db, Split: config.SplitTrain, BatchSize: 10, Labels: testLabels, DisableEmbeddings: true, DropUnmatched: true})
		require.NoError(t, err)
		defer d.Close()
		require.Equal(t, 5, d.Len())
		require.Equal(t, 50, d.Assignment().Dropped)
	})

	t.Run("sequential_mode", func(t *testing.T) {
		t.Parallel()
		d := newDataset(t, Config{DB: newTestDB(t), Mode: batching.ModeSequential, BatchSize: 30})
		require.Equal(t, 4, d.Len())
		item, err := d.Get(ctx, 3)
		require.NoError(t, err)
		require.Equal(t, []int64{91, 92, 93, 94, 95, 96, 97, 98, 99, 100}, item.TrxIDs)
	})

	t.Run("datasets_keep_private_assignments", func(t *testing.T) {
		t.Parallel()
		db := newTestDB(t)
		small := newDataset(t, Config{DB: db, BatchSize: 10})
		large := newDataset(t, Config{DB: db, BatchSize: 25})
		require.Equal(t, 10, small.Len())
		require.Equal(t, 4, large.Len())

		item, err := small.Get(ctx, 9)
		require.NoError(t, err)
		require.Len(t, item.TrxIDs, 10)
		item, err = large.Get(ctx, 3)
		require.NoError(t, err)
		require.Len(t, item.TrxIDs, 25)
	})

	t.Run("invalid_config", func(t *testing.T) {
		t.Parallel()
		db := newTestDB(t)
		_, err := New(ctx, Config{Logger: logger, DB: db, Split: "holdout", BatchSize: 10})
		require.True(t, errors.Is(err, config.ErrInvalidSplit))
		_, err = New(ctx, Config{Logger: logger, DB: db, Split: config.SplitTrain})
		require.True(t, errors.Is(err, batching.ErrInvalidBatchSize))
		_, err = New(ctx, Config{Logger: logger, Split: config.SplitTrain, BatchSize: 1})
		require.Error(t, err)
	})
}
