package embedding

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/cenkalti/backoff/v5"
	"github.com/malbeclabs/trxpurpose/pkg/duck"
	"github.com/malbeclabs/trxpurpose/pkg/metrics"
)

const (
	defaultGenerateChunkSize   = 100
	defaultGenerateConcurrency = 4
	defaultGenerateMaxTries    = 5
)

// Target describes an embedding table keyed by a text column.
type Target struct {
	Entity    string
	TableName string
	KeyColumn string
	// SourceQuery selects the texts to encode as a single VARCHAR column.
	SourceQuery string
}

var (
	RemarkTarget = Target{
		Entity:      "remark",
		TableName:   "remark_embeddings",
		KeyColumn:   "remark",
		SourceQuery: `SELECT DISTINCT remark FROM edges WHERE remark IS NOT NULL`,
	}
	NodeNameTarget = Target{
		Entity:      "node_name",
		TableName:   "node_name_embeddings",
		KeyColumn:   "node_name",
		SourceQuery: `SELECT DISTINCT node_name FROM nodes WHERE node_name IS NOT NULL`,
	}
)

// TableColumn is the name of embedding column i in a generated table.
func TableColumn(i int) string {
	return "emb_" + strconv.Itoa(i)
}

type GenerateConfig struct {
	Logger      *slog.Logger
	Encoder     TextEncoder
	ChunkSize   int
	Concurrency int
	// MaxTries bounds the attempts per chunk; generation, unlike backfill,
	// retries transient encoder failures.
	MaxTries uint
}

func (c *GenerateConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Encoder == nil {
		return fmt.Errorf("%w: encoder is required", ErrEncoderUnavailable)
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = defaultGenerateChunkSize
	}
	if c.Concurrency == 0 {
		c.Concurrency = defaultGenerateConcurrency
	}
	if c.MaxTries == 0 {
		c.MaxTries = defaultGenerateMaxTries
	}
	if c.ChunkSize < 0 || c.Concurrency < 0 {
		return errors.New("chunk size and concurrency must be positive")
	}
	return nil
}

// GenerateTable encodes every text selected by target.SourceQuery and
// replaces target.TableName with (key, emb_0 .. emb_{d-1}) rows. It returns
// the number of rows written.
func GenerateTable(ctx context.Context, conn duck.Connection, cfg GenerateConfig, target Target) (int, error) {
	if err := cfg.Validate(); err != nil {
		return 0, err
	}
	log := cfg.Logger.With("table", target.TableName)

	texts, err := selectTexts(ctx, conn, target.SourceQuery)
	if err != nil {
		return 0, fmt.Errorf("failed to select %s texts: %w", target.Entity, err)
	}
	dim := cfg.Encoder.Dimension()

	pool := pond.NewResultPool[[][]float32](cfg.Concurrency)
	defer pool.StopAndWait()
	group := pool.NewGroupContext(ctx)

	for _, batch := range chunk(texts, cfg.ChunkSize) {
		if len(batch) == 0 {
			continue
		}
		group.SubmitErr(func() ([][]float32, error) {
			return encodeWithRetry(ctx, log, cfg, batch, dim)
		})
	}

	results, err := group.Wait()
	if err != nil {
		metrics.EncoderErrors.WithLabelValues(target.Entity).Inc()
		return 0, fmt.Errorf("failed to encode %s texts: %w", target.Entity, err)
	}
	vectors := make([][]float32, 0, len(texts))
	for _, r := range results {
		vectors = append(vectors, r...)
	}
	metrics.EncodedTexts.WithLabelValues(target.Entity).Add(float64(len(vectors)))

	columns := make([]duck.Column, 0, dim+1)
	columns = append(columns, duck.Column{Name: target.KeyColumn, Type: "VARCHAR"})
	for i := range dim {
		columns = append(columns, duck.Column{Name: TableColumn(i), Type: "FLOAT"})
	}

	record := make([]string, dim+1)
	err = duck.ReplaceTableViaCSV(ctx, log, conn, duck.TableConfig{TableName: target.TableName, Columns: columns}, len(texts),
		func(w *csv.Writer, i int) error {
			record[0] = texts[i]
			for j, v := range vectors[i] {
				record[j+1] = strconv.FormatFloat(float64(v), 'g', -1, 32)
			}
			return w.Write(record)
		})
	if err != nil {
		return 0, err
	}

	log.Info("generated embeddings", "rows", len(texts), "dimension", dim)
	return len(texts), nil
}

func encodeWithRetry(ctx context.Context, log *slog.Logger, cfg GenerateConfig, texts []string, dim int) ([][]float32, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second

	attempt := 0
	return backoff.Retry(ctx, func() ([][]float32, error) {
		attempt++
		vectors, err := encodeChecked(ctx, cfg.Encoder, texts, dim)
		if errors.Is(err, ErrEncoderDimension) {
			return nil, backoff.Permanent(err)
		}
		if err != nil {
			log.Warn("encoder call failed, retrying", "attempt", attempt, "texts", len(texts), "error", err)
		}
		return vectors, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(cfg.MaxTries))
}

func selectTexts(ctx context.Context, conn duck.Connection, query string) ([]string, error) {
	rows, err := conn.QueryContext(ctx, strings.TrimSpace(query)+" ORDER BY 1")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var texts []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, err
		}
		texts = append(texts, text)
	}
	return texts, rows.Err()
}

// EmbeddingWidth returns the number of emb_* columns of an embedding table,
// or 0 when the table does not exist.
func EmbeddingWidth(ctx context.Context, conn duck.Connection, table string) (int, error) {
	exists, err := duck.TableExists(ctx, conn, table)
	if err != nil || !exists {
		return 0, err
	}
	cols, err := duck.TableColumns(ctx, conn, table)
	if err != nil {
		return 0, err
	}
	width := 0
	for _, c := range cols {
		if strings.HasPrefix(c, "emb_") {
			width++
		}
	}
	return width, nil
}
