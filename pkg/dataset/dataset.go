package dataset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jellydator/ttlcache/v3"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/trxpurpose/config"
	"github.com/malbeclabs/trxpurpose/pkg/batching"
	"github.com/malbeclabs/trxpurpose/pkg/duck"
	"github.com/malbeclabs/trxpurpose/pkg/embedding"
	"github.com/malbeclabs/trxpurpose/pkg/features"
	"github.com/malbeclabs/trxpurpose/pkg/metrics"
	"github.com/malbeclabs/trxpurpose/pkg/tensor"
)

var (
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrUnknownLabel    = errors.New("unknown label")
	// ErrNotAssembled is returned by Get after a Regenerate that replaced the
	// assignment but could not rebuild the assembler.
	ErrNotAssembled = errors.New("dataset has no assembler, regenerate it")
)

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	DB     duck.DB

	Split         config.Split
	BatchSize     int
	Seed          float64
	Mode          batching.Mode
	DropUnmatched bool

	// Labels is the canonical label list; it fixes the label matrix columns.
	Labels        []string
	AmountBuckets []config.AmountBucket
	CacheCapacity int

	Backfiller         *embedding.Backfiller
	DisableEmbeddings  bool
	EmbeddingDimension int
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.DB == nil {
		return errors.New("db is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if !c.Split.Valid() {
		return fmt.Errorf("%w %q", config.ErrInvalidSplit, c.Split)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("%w: %d", batching.ErrInvalidBatchSize, c.BatchSize)
	}
	if len(c.Labels) == 0 {
		c.Labels = config.DefaultLabels
	}
	if len(c.AmountBuckets) == 0 {
		c.AmountBuckets = config.DefaultAmountBuckets
	}
	if c.CacheCapacity == 0 {
		c.CacheCapacity = config.DefaultCacheCapacity
	}
	if c.CacheCapacity < 0 {
		return errors.New("cache capacity must be positive")
	}
	return nil
}

// Item is the assembled content of one batch. Features, Labels and TrxIDs
// have one row per transaction, ordered by trx_id.
type Item struct {
	Features *tensor.Matrix
	Labels   *tensor.Matrix
	TrxIDs   []int64
}

func (i *Item) clone() *Item {
	return &Item{
		Features: i.Features.Clone(),
		Labels:   i.Labels.Clone(),
		TrxIDs:   append([]int64(nil), i.TrxIDs...),
	}
}

// Dataset is an indexable view over the batches of one data split. It owns
// a catalog connection holding its batch assignment as a temporary table,
// and memoizes assembled items in an LRU cache.
//
// Get and Regenerate are serialized, so a Dataset can be shared.
type Dataset struct {
	log *slog.Logger
	cfg Config

	mu         sync.Mutex
	conn       duck.Connection
	assembler  *features.Assembler
	assignment *batching.Assignment
	cache      *ttlcache.Cache[int, *Item]
}

// New opens a connection and partitions the transactions once.
func New(ctx context.Context, cfg Config) (*Dataset, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger.With("data_split", cfg.Split)

	conn, err := cfg.DB.Conn(ctx)
	if err != nil {
		return nil, err
	}

	cache := ttlcache.New(
		ttlcache.WithCapacity[int, *Item](uint64(cfg.CacheCapacity)),
	)
	cache.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, _ *ttlcache.Item[int, *Item]) {
		metrics.CacheEvictions.WithLabelValues(string(cfg.Split), evictionReason(reason)).Inc()
	})

	d := &Dataset{
		log:   log,
		cfg:   cfg,
		conn:  conn,
		cache: cache,
	}
	if err := d.regenerate(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return d, nil
}

// Len returns the number of batches of the split, 0 for an empty split.
func (d *Dataset) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.assignment.NumBatches(d.cfg.Split)
}

func (d *Dataset) Assignment() *batching.Assignment {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.assignment
}

// Get returns the item of batch idx, assembling it on a cache miss.
func (d *Dataset) Get(ctx context.Context, idx int) (*Item, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := d.assignment.NumBatches(d.cfg.Split)
	if idx < 0 || idx >= n {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, idx, n)
	}

	if d.assembler == nil {
		return nil, ErrNotAssembled
	}

	if entry := d.cache.Get(idx); entry != nil {
		metrics.CacheLookups.WithLabelValues(string(d.cfg.Split), "hit").Inc()
		return entry.Value().clone(), nil
	}
	metrics.CacheLookups.WithLabelValues(string(d.cfg.Split), "miss").Inc()

	batch, err := d.assembler.AssembleBatch(ctx, d.cfg.Split, idx)
	if err != nil {
		return nil, err
	}
	labels, err := tensor.OneHot(batch.Purposes, d.cfg.Labels)
	if err != nil {
		return nil, fmt.Errorf("%w in batch %d: %w", ErrUnknownLabel, idx, err)
	}
	item := &Item{Features: batch.Features, Labels: labels, TrxIDs: batch.TrxIDs}

	d.cache.Set(idx, item, ttlcache.NoTTL)
	return item.clone(), nil
}

// Regenerate recomputes the batch assignment and drops every cached item.
func (d *Dataset) Regenerate(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.regenerate(ctx)
}

func (d *Dataset) regenerate(ctx context.Context) error {
	assignment, err := batching.Partition(ctx, d.conn, batching.Config{
		Logger:        d.log,
		Clock:         d.cfg.Clock,
		BatchSize:     d.cfg.BatchSize,
		Seed:          d.cfg.Seed,
		Mode:          d.cfg.Mode,
		TableName:     batching.DefaultTableName,
		Temporary:     true,
		DropUnmatched: d.cfg.DropUnmatched,
	})
	if err != nil {
		return err
	}
	// The table is replaced at this point, so cached items are stale even
	// if the assembler cannot be rebuilt.
	d.cache.DeleteAll()
	d.assignment = assignment

	assembler, err := features.NewAssembler(ctx, features.AssemblerConfig{
		Logger:             d.log,
		Clock:              d.cfg.Clock,
		Conn:               d.conn,
		BatchesTable:       batching.DefaultTableName,
		AmountBuckets:      d.cfg.AmountBuckets,
		Backfiller:         d.cfg.Backfiller,
		DisableEmbeddings:  d.cfg.DisableEmbeddings,
		EmbeddingDimension: d.cfg.EmbeddingDimension,
	})
	if err != nil {
		// The old assembler may not match the new feature tables.
		d.assembler = nil
		return err
	}

	d.assembler = assembler
	d.log.Info("dataset partitioned", "batches", assignment.NumBatches(d.cfg.Split), "rows", assignment.Rows(d.cfg.Split))
	return nil
}

// Close releases the connection and with it the batch assignment.
func (d *Dataset) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache.DeleteAll()
	return d.conn.Close()
}

func evictionReason(reason ttlcache.EvictionReason) string {
	switch reason {
	case ttlcache.EvictionReasonCapacityReached:
		return "capacity"
	case ttlcache.EvictionReasonExpired:
		return "expired"
	default:
		return "deleted"
	}
}
