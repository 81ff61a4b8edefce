package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const dateLayout = "2006-01-02"

// DateWindow is an inclusive [Start, End] calendar date range.
type DateWindow struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

func (w DateWindow) Parse() (time.Time, time.Time, error) {
	start, err := time.Parse(dateLayout, w.Start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start date %q: %w", w.Start, err)
	}
	end, err := time.Parse(dateLayout, w.End)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end date %q: %w", w.End, err)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end date %s is before start date %s", w.End, w.Start)
	}
	return start, end, nil
}

type EmbeddingConfig struct {
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
	MaxBatch  int    `yaml:"max_batch"`
}

// PipelineConfig is the YAML-file configuration shared by the dataset
// commands. Zero values are replaced by defaults in Validate.
type PipelineConfig struct {
	Train DateWindow `yaml:"train"`
	Valid DateWindow `yaml:"valid"`
	Test  DateWindow `yaml:"test"`

	BatchSize     int            `yaml:"batch_size"`
	Seed          *float64       `yaml:"seed"`
	CacheCapacity int            `yaml:"cache_capacity"`
	Labels        []string       `yaml:"labels"`
	AmountBuckets []AmountBucket `yaml:"amount_buckets"`

	Embedding EmbeddingConfig `yaml:"embedding"`
}

func DefaultPipelineConfig() *PipelineConfig {
	cfg := &PipelineConfig{}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}

// LoadPipelineConfig reads a YAML pipeline file. An empty path yields the
// defaults.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cfg := &PipelineConfig{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read pipeline config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse pipeline config: %w", err)
		}
	}
	if model := os.Getenv("TRX_EMBEDDING_MODEL"); model != "" {
		cfg.Embedding.Model = model
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *PipelineConfig) Validate() error {
	setWindow := func(w *DateWindow, start, end string) {
		if w.Start == "" {
			w.Start = start
		}
		if w.End == "" {
			w.End = end
		}
	}
	setWindow(&c.Train, DefaultTrainStart, DefaultTrainEnd)
	setWindow(&c.Valid, DefaultValidStart, DefaultValidEnd)
	setWindow(&c.Test, DefaultTestStart, DefaultTestEnd)

	var prevEnd time.Time
	for _, w := range []struct {
		split  Split
		window DateWindow
	}{{SplitTrain, c.Train}, {SplitValid, c.Valid}, {SplitTest, c.Test}} {
		start, end, err := w.window.Parse()
		if err != nil {
			return fmt.Errorf("%s window: %w", w.split, err)
		}
		if !prevEnd.IsZero() && !start.After(prevEnd) {
			return fmt.Errorf("%s window must start after the previous window ends", w.split)
		}
		prevEnd = end
	}

	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchSize < 0 {
		return errors.New("batch size must be positive")
	}
	if c.Seed == nil {
		seed := DefaultSeed
		c.Seed = &seed
	}
	if c.CacheCapacity == 0 {
		c.CacheCapacity = DefaultCacheCapacity
	}
	if c.CacheCapacity < 0 {
		return errors.New("cache capacity must be positive")
	}

	if len(c.Labels) == 0 {
		c.Labels = append([]string(nil), DefaultLabels...)
	}
	seen := make(map[string]struct{}, len(c.Labels))
	for _, l := range c.Labels {
		if l == "" {
			return errors.New("labels cannot contain an empty label")
		}
		if _, ok := seen[l]; ok {
			return fmt.Errorf("duplicate label %q", l)
		}
		seen[l] = struct{}{}
	}

	if len(c.AmountBuckets) == 0 {
		c.AmountBuckets = append([]AmountBucket(nil), DefaultAmountBuckets...)
	}
	for _, b := range c.AmountBuckets {
		if b.Hi <= b.Lo {
			return fmt.Errorf("amount bucket [%d, %d] must have hi > lo", b.Lo, b.Hi)
		}
	}

	if c.Embedding.Model == "" {
		c.Embedding.Model = DefaultEmbeddingModel
	}
	if c.Embedding.Dimension == 0 {
		c.Embedding.Dimension = DefaultEmbeddingDimension
	}
	if c.Embedding.MaxBatch == 0 {
		c.Embedding.MaxBatch = DefaultEncoderMaxBatch
	}
	if c.Embedding.Dimension < 0 || c.Embedding.MaxBatch < 0 {
		return errors.New("embedding dimension and max batch must be positive")
	}
	return nil
}

// DateParams returns the six window bounds in train, valid, test order.
func (c *PipelineConfig) DateParams() []any {
	return []any{c.Train.Start, c.Train.End, c.Valid.Start, c.Valid.End, c.Test.Start, c.Test.End}
}
