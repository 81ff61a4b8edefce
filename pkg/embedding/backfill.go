package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/malbeclabs/trxpurpose/pkg/metrics"
	"github.com/malbeclabs/trxpurpose/pkg/tensor"
)

// Gap lists the matrix rows of one entity whose embedding was not
// precomputed. Texts is parallel to Rows; a nil text is a NULL value.
type Gap struct {
	Entity string
	Rows   []int
	Texts  []*string
}

func (g Gap) Len() int { return len(g.Rows) }

type BackfillerConfig struct {
	Logger *slog.Logger
	// Encoder may be nil, in which case any gap with text fails with
	// ErrEncoderUnavailable.
	Encoder TextEncoder
	// MaxBatch caps the texts per Encode call; 0 sends all distinct texts
	// of a gap at once.
	MaxBatch int
}

func (c *BackfillerConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.MaxBatch < 0 {
		return errors.New("max batch must not be negative")
	}
	return nil
}

// Backfiller computes missing embeddings on demand and splices them into
// the {entity}_emb_* columns of a feature matrix.
type Backfiller struct {
	log *slog.Logger
	cfg BackfillerConfig
}

func NewBackfiller(cfg BackfillerConfig) (*Backfiller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Backfiller{log: cfg.Logger, cfg: cfg}, nil
}

func (b *Backfiller) Encoder() TextEncoder {
	return b.cfg.Encoder
}

// Fill encodes the distinct texts of every gap and writes the vectors into
// exactly the gap's rows. Other rows and columns are left untouched and rows
// with a NULL text get a zero vector. Encoder failures are not retried.
func (b *Backfiller) Fill(ctx context.Context, m *tensor.Matrix, gaps []Gap) error {
	for _, gap := range gaps {
		if gap.Len() == 0 {
			continue
		}
		if len(gap.Texts) != len(gap.Rows) {
			return fmt.Errorf("gap %s has %d rows but %d texts", gap.Entity, len(gap.Rows), len(gap.Texts))
		}
		if err := b.fill(ctx, m, gap); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backfiller) fill(ctx context.Context, m *tensor.Matrix, gap Gap) error {
	start, end, err := entityRange(m, gap.Entity)
	if err != nil {
		return err
	}
	width := end - start

	index := make(map[string]int)
	var distinct []string
	for _, t := range gap.Texts {
		if t == nil {
			continue
		}
		if _, ok := index[*t]; !ok {
			index[*t] = len(distinct)
			distinct = append(distinct, *t)
		}
	}

	var vectors [][]float32
	if len(distinct) > 0 {
		if b.cfg.Encoder == nil {
			return fmt.Errorf("%w: no encoder configured for %d %s texts", ErrEncoderUnavailable, len(distinct), gap.Entity)
		}
		if dim := b.cfg.Encoder.Dimension(); dim != width {
			return fmt.Errorf("%w: encoder dimension %d, %s columns %d", ErrEncoderDimension, dim, gap.Entity, width)
		}
		vectors = make([][]float32, 0, len(distinct))
		for _, texts := range chunk(distinct, b.cfg.MaxBatch) {
			out, err := encodeChecked(ctx, b.cfg.Encoder, texts, width)
			if err != nil {
				metrics.EncoderErrors.WithLabelValues(gap.Entity).Inc()
				return fmt.Errorf("failed to encode %s texts: %w", gap.Entity, err)
			}
			vectors = append(vectors, out...)
		}
		metrics.EncodedTexts.WithLabelValues(gap.Entity).Add(float64(len(distinct)))
	}

	zero := make([]float32, width)
	for i, row := range gap.Rows {
		if row < 0 || row >= m.Rows() {
			return fmt.Errorf("%w: gap row %d out of %d rows", tensor.ErrShapeMismatch, row, m.Rows())
		}
		v := zero
		if t := gap.Texts[i]; t != nil {
			v = vectors[index[*t]]
		}
		if err := m.SetRange(row, start, v); err != nil {
			return err
		}
	}

	metrics.BackfilledRows.WithLabelValues(gap.Entity).Add(float64(gap.Len()))
	b.log.Debug("backfilled embeddings", "entity", gap.Entity, "rows", gap.Len(), "distinct_texts", len(distinct))
	return nil
}

// entityRange finds the contiguous {entity}_emb_* column range of m.
func entityRange(m *tensor.Matrix, entity string) (int, int, error) {
	prefix := ColumnPrefix(entity)
	width := 0
	for _, c := range m.Columns() {
		if strings.HasPrefix(c, prefix) {
			width++
		}
	}
	if width == 0 {
		return 0, 0, fmt.Errorf("%w: matrix has no %s* columns", tensor.ErrUnknownColumn, prefix)
	}
	return m.ColumnRange(prefix, width)
}
