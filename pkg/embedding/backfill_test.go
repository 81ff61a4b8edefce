package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/malbeclabs/trxpurpose/pkg/tensor"
	"github.com/stretchr/testify/require"
)

func newMatrix(t *testing.T, rows int) *tensor.Matrix {
	t.Helper()
	cols := append([]string{"amount"}, ColumnNames("remark", 2)...)
	cols = append(cols, "flag")
	m, err := tensor.New(rows, cols)
	require.NoError(t, err)
	for r := range rows {
		m.Set(r, 0, float32(r))
		m.Set(r, 3, 9)
	}
	return m
}

func TestBackfiller_Fill(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("splices_only_gap_rows", func(t *testing.T) {
		t.Parallel()
		enc := lengthEncoder(2)
		b, err := NewBackfiller(BackfillerConfig{Logger: logger, Encoder: enc})
		require.NoError(t, err)

		m := newMatrix(t, 4)
		m.Set(1, 1, 0.25)
		m.Set(1, 2, 0.75)

		err = b.Fill(ctx, m, []Gap{{Entity: "remark", Rows: []int{0, 2, 3}, Texts: []*string{ptr("ab"), ptr("abcd"), ptr("ab")}}})
		require.NoError(t, err)

		want := []float32{
			0, 2, 3, 9,
			1, 0.25, 0.75, 9,
			2, 4, 5, 9,
			3, 2, 3, 9,
		}
		if diff := cmp.Diff(want, m.Data()); diff != "" {
			t.Fatalf("unexpected matrix (-want +got):\n%s", diff)
		}
		require.Equal(t, int64(1), enc.calls.Load())
		require.Equal(t, int64(2), enc.texts.Load())
	})

	t.Run("null_text_gets_zero_vector", func(t *testing.T) {
		t.Parallel()
		b, err := NewBackfiller(BackfillerConfig{Logger: logger})
		require.NoError(t, err)

		m := newMatrix(t, 1)
		m.Set(0, 1, 5)
		require.NoError(t, b.Fill(ctx, m, []Gap{{Entity: "remark", Rows: []int{0}, Texts: []*string{nil}}}))
		require.Equal(t, []float32{0, 0, 0, 9}, m.Row(0))
	})

	t.Run("idempotent", func(t *testing.T) {
		t.Parallel()
		b, err := NewBackfiller(BackfillerConfig{Logger: logger, Encoder: lengthEncoder(2)})
		require.NoError(t, err)

		gaps := []Gap{{Entity: "remark", Rows: []int{0, 1}, Texts: []*string{ptr("x"), nil}}}
		m := newMatrix(t, 2)
		require.NoError(t, b.Fill(ctx, m, gaps))
		first := m.Clone()
		require.NoError(t, b.Fill(ctx, m, gaps))
		require.Equal(t, first.Data(), m.Data())
	})

	t.Run("max_batch_chunks_distinct_texts", func(t *testing.T) {
		t.Parallel()
		enc := lengthEncoder(2)
		b, err := NewBackfiller(BackfillerConfig{Logger: logger, Encoder: enc, MaxBatch: 2})
		require.NoError(t, err)

		m := newMatrix(t, 5)
		err = b.Fill(ctx, m, []Gap{{
			Entity: "remark",
			Rows:   []int{0, 1, 2, 3, 4},
			Texts:  []*string{ptr("a"), ptr("bb"), ptr("ccc"), ptr("a"), ptr("dddd")},
		}})
		require.NoError(t, err)
		require.Equal(t, int64(2), enc.calls.Load())
		require.Equal(t, int64(4), enc.texts.Load())
		require.Equal(t, []float32{3, 1, 2, 9}, m.Row(3))
		require.Equal(t, []float32{4, 4, 5, 9}, m.Row(4))
	})

	t.Run("no_encoder", func(t *testing.T) {
		t.Parallel()
		b, err := NewBackfiller(BackfillerConfig{Logger: logger})
		require.NoError(t, err)

		err = b.Fill(ctx, newMatrix(t, 1), []Gap{{Entity: "remark", Rows: []int{0}, Texts: []*string{ptr("a")}}})
		require.True(t, errors.Is(err, ErrEncoderUnavailable))
	})

	t.Run("encoder_failure_is_not_retried", func(t *testing.T) {
		t.Parallel()
		enc := &mockEncoder{
			EncodeFunc: func(context.Context, []string) ([][]float32, error) {
				return nil, errors.New("quota exceeded")
			},
			DimensionFunc: func() int { return 2 },
		}
		b, err := NewBackfiller(BackfillerConfig{Logger: logger, Encoder: enc})
		require.NoError(t, err)

		m := newMatrix(t, 1)
		before := m.Clone()
		err = b.Fill(ctx, m, []Gap{{Entity: "remark", Rows: []int{0}, Texts: []*string{ptr("a")}}})
		require.True(t, errors.Is(err, ErrEncoderUnavailable))
		require.Equal(t, int64(1), enc.calls.Load())
		require.Equal(t, before.Data(), m.Data())
	})

	t.Run("wrong_vector_width", func(t *testing.T) {
		t.Parallel()
		enc := lengthEncoder(3)
		enc.DimensionFunc = func() int { return 2 }
		b, err := NewBackfiller(BackfillerConfig{Logger: logger, Encoder: enc})
		require.NoError(t, err)

		err = b.Fill(ctx, newMatrix(t, 1), []Gap{{Entity: "remark", Rows: []int{0}, Texts: []*string{ptr("a")}}})
		require.True(t, errors.Is(err, ErrEncoderDimension))
	})

	t.Run("encoder_dimension_differs_from_columns", func(t *testing.T) {
		t.Parallel()
		b, err := NewBackfiller(BackfillerConfig{Logger: logger, Encoder: lengthEncoder(4)})
		require.NoError(t, err)

		err = b.Fill(ctx, newMatrix(t, 1), []Gap{{Entity: "remark", Rows: []int{0}, Texts: []*string{ptr("a")}}})
		require.True(t, errors.Is(err, ErrEncoderDimension))
	})

	t.Run("unknown_entity", func(t *testing.T) {
		t.Parallel()
		b, err := NewBackfiller(BackfillerConfig{Logger: logger, Encoder: lengthEncoder(2)})
		require.NoError(t, err)

		err = b.Fill(ctx, newMatrix(t, 1), []Gap{{Entity: "sender_name", Rows: []int{0}, Texts: []*string{ptr("a")}}})
		require.True(t, errors.Is(err, tensor.ErrUnknownColumn))
	})
}
