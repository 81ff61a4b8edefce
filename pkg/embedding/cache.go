package embedding

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

const defaultCachedVectors = 100_000

// CachedEncoder memoizes the vectors of an underlying encoder by text. Only
// texts missing from the cache are forwarded, deduplicated.
type CachedEncoder struct {
	encoder TextEncoder
	cache   *ristretto.Cache
}

// NewCachedEncoder keeps up to maxVectors vectors in memory; 0 selects a
// default.
func NewCachedEncoder(encoder TextEncoder, maxVectors int64) (*CachedEncoder, error) {
	if maxVectors <= 0 {
		maxVectors = defaultCachedVectors
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxVectors * 10,
		MaxCost:     maxVectors,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &CachedEncoder{encoder: encoder, cache: cache}, nil
}

func (c *CachedEncoder) Dimension() int {
	return c.encoder.Dimension()
}

func (c *CachedEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	pending := make(map[string][]int)
	var misses []string
	for i, text := range texts {
		if v, ok := c.cache.Get(text); ok {
			out[i] = v.([]float32)
			continue
		}
		if _, ok := pending[text]; !ok {
			misses = append(misses, text)
		}
		pending[text] = append(pending[text], i)
	}
	if len(misses) == 0 {
		return out, nil
	}

	vectors, err := c.encoder.Encode(ctx, misses)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(misses) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEncoderDimension, len(vectors), len(misses))
	}
	for j, text := range misses {
		for _, i := range pending[text] {
			out[i] = vectors[j]
		}
		c.cache.Set(text, vectors[j], 1)
	}
	c.cache.Wait()
	return out, nil
}

func (c *CachedEncoder) Close() {
	c.cache.Close()
}
