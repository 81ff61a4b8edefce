package embedding

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrEncoderUnavailable = errors.New("text encoder unavailable")
	ErrEncoderDimension   = errors.New("text encoder returned unexpected shape")
)

// TextEncoder maps texts to fixed-width vectors, one per input text.
type TextEncoder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// ColumnPrefix is the column name prefix of the embedding of entity; the
// columns are {entity}_emb_0 .. {entity}_emb_{d-1}.
func ColumnPrefix(entity string) string {
	return entity + "_emb_"
}

func ColumnNames(entity string, dim int) []string {
	cols := make([]string, dim)
	for i := range dim {
		cols[i] = fmt.Sprintf("%s%d", ColumnPrefix(entity), i)
	}
	return cols
}

// encodeChecked calls enc and verifies the output is len(texts) x width.
func encodeChecked(ctx context.Context, enc TextEncoder, texts []string, width int) ([][]float32, error) {
	vectors, err := enc.Encode(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncoderUnavailable, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEncoderDimension, len(vectors), len(texts))
	}
	for i, v := range vectors {
		if len(v) != width {
			return nil, fmt.Errorf("%w: vector %d has width %d, want %d", ErrEncoderDimension, i, len(v), width)
		}
	}
	return vectors, nil
}

func chunk(texts []string, size int) [][]string {
	if size <= 0 || size >= len(texts) {
		return [][]string{texts}
	}
	chunks := make([][]string, 0, (len(texts)+size-1)/size)
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		chunks = append(chunks, texts[start:end])
	}
	return chunks
}
