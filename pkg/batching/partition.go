package batching

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/malbeclabs/trxpurpose/config"
	"github.com/malbeclabs/trxpurpose/pkg/duck"
	"github.com/malbeclabs/trxpurpose/pkg/metrics"
)

var (
	ErrMissingProportionData = errors.New("missing proportion data")
	ErrInvalidBatchSize      = errors.New("batch size must be at least 1")
)

// SplitSummary describes the batches of one data split.
type SplitSummary struct {
	Batches int
	Rows    int
}

// Assignment is the result of a partition run.
type Assignment struct {
	Table     string
	Mode      Mode
	BatchSize int
	Splits    map[config.Split]SplitSummary
	// Dropped counts transactions left out because their label had no
	// proportion. Always zero unless DropUnmatched is set.
	Dropped int
}

// NumBatches returns the number of batches of split, 0 when it has no rows.
func (a *Assignment) NumBatches(split config.Split) int {
	return a.Splits[split].Batches
}

func (a *Assignment) Rows(split config.Split) int {
	return a.Splits[split].Rows
}

// The ordering key hash(trx_id + seed) is only a stable pseudo-random
// tie-break; trx_id keeps the order total when hashes collide.
const stratifiedQuery = `
WITH ranked AS (
	SELECT
		e.trx_id,
		e.data_split,
		e.purpose,
		p.proportion,
		ROW_NUMBER() OVER (
			PARTITION BY e.data_split, e.purpose
			ORDER BY hash(e.trx_id + CAST($1 AS DOUBLE)), e.trx_id
		) AS row_num1
	FROM edges e
	JOIN statistics_labels p
		ON p.data_split = e.data_split AND p.purpose = e.purpose
	WHERE p.proportion > 0
), interleaved AS (
	SELECT
		*,
		ROW_NUMBER() OVER (
			PARTITION BY data_split
			ORDER BY row_num1 / proportion, purpose, trx_id
		) AS row_num2
	FROM ranked
)
SELECT
	CAST((row_num2 - 1) // CAST($2 AS BIGINT) AS BIGINT) AS batch_id,
	data_split,
	trx_id,
	purpose
FROM interleaved`

const sequentialQuery = `
WITH numbered AS (
	SELECT
		trx_id,
		data_split,
		purpose,
		ROW_NUMBER() OVER (PARTITION BY data_split ORDER BY trx_id) AS row_num
	FROM edges
)
SELECT
	CAST((row_num - 1) // CAST($1 AS BIGINT) AS BIGINT) AS batch_id,
	data_split,
	trx_id,
	purpose
FROM numbered`

const unmatchedQuery = `
SELECT e.data_split, e.purpose, COUNT(*) AS count_trx
FROM edges e
LEFT JOIN statistics_labels p
	ON p.data_split = e.data_split AND p.purpose = e.purpose AND p.proportion > 0
WHERE p.purpose IS NULL
GROUP BY e.data_split, e.purpose
ORDER BY e.data_split, e.purpose`

const duplicateProportionsQuery = `
SELECT data_split, purpose
FROM statistics_labels
GROUP BY data_split, purpose
HAVING COUNT(*) > 1
ORDER BY data_split, purpose`

// Partition replaces the assignment table with a (data_split, batch_id)
// for every transaction of edges. Proportions are used as stored; they are
// not renormalized to sum to 1.
func Partition(ctx context.Context, conn duck.Connection, cfg Config) (*Assignment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger.With("table", cfg.TableName, "mode", cfg.Mode)
	start := cfg.Clock.Now()

	var (
		query   string
		args    []any
		dropped int
	)
	switch cfg.Mode {
	case ModeStratified:
		n, err := checkProportions(ctx, conn, cfg)
		if err != nil {
			return nil, err
		}
		dropped = n
		query, args = stratifiedQuery, []any{cfg.Seed, int64(cfg.BatchSize)}
	case ModeSequential:
		query, args = sequentialQuery, []any{int64(cfg.BatchSize)}
	}

	create := "CREATE OR REPLACE TABLE"
	if cfg.Temporary {
		create = "CREATE OR REPLACE TEMP TABLE"
	}
	stmt := fmt.Sprintf("%s %s AS %s", create, cfg.TableName, query)
	if _, err := conn.ExecContext(ctx, stmt, args...); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", cfg.TableName, err)
	}

	assignment, err := summarize(ctx, conn, cfg)
	if err != nil {
		return nil, err
	}
	assignment.Dropped = dropped

	metrics.Partitions.WithLabelValues(string(cfg.Mode)).Inc()
	metrics.PartitionDuration.Observe(cfg.Clock.Since(start).Seconds())
	if dropped > 0 {
		metrics.DroppedTransactions.Add(float64(dropped))
	}

	for _, split := range config.Splits {
		s := assignment.Splits[split]
		log.Debug("batches assigned", "data_split", split, "batches", s.Batches, "rows", s.Rows)
	}
	return assignment, nil
}

// checkProportions returns ErrMissingProportionData when a label of edges
// has no positive proportion for its split. With DropUnmatched it returns
// the number of transactions that will be dropped instead.
func checkProportions(ctx context.Context, conn duck.Connection, cfg Config) (int, error) {
	exists, err := duck.TableExists(ctx, conn, "statistics_labels")
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, fmt.Errorf("%w: statistics_labels table does not exist", ErrMissingProportionData)
	}

	dups, err := queryPairs(ctx, conn, duplicateProportionsQuery)
	if err != nil {
		return 0, fmt.Errorf("failed to check duplicate proportions: %w", err)
	}
	if len(dups) > 0 {
		return 0, fmt.Errorf("statistics_labels has duplicate rows for %s", strings.Join(dups, ", "))
	}

	rows, err := conn.QueryContext(ctx, unmatchedQuery)
	if err != nil {
		return 0, fmt.Errorf("failed to check proportions: %w", err)
	}
	defer rows.Close()

	var (
		pairs []string
		total int
	)
	for rows.Next() {
		var (
			split, purpose string
			count          int
		)
		if err := rows.Scan(&split, &purpose, &count); err != nil {
			return 0, fmt.Errorf("failed to scan unmatched pair: %w", err)
		}
		pairs = append(pairs, fmt.Sprintf("(%s, %s): %d", split, purpose, count))
		total += count
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}

	if !cfg.DropUnmatched {
		return 0, fmt.Errorf("%w for %s", ErrMissingProportionData, strings.Join(pairs, ", "))
	}
	cfg.Logger.Warn("dropping transactions without label proportion", "count", total, "pairs", strings.Join(pairs, ", "))
	return total, nil
}

func queryPairs(ctx context.Context, conn duck.Connection, query string) ([]string, error) {
	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []string
	for rows.Next() {
		var split, purpose string
		if err := rows.Scan(&split, &purpose); err != nil {
			return nil, err
		}
		pairs = append(pairs, fmt.Sprintf("(%s, %s)", split, purpose))
	}
	return pairs, rows.Err()
}

func summarize(ctx context.Context, conn duck.Connection, cfg Config) (*Assignment, error) {
	rows, err := conn.QueryContext(ctx, fmt.Sprintf(
		`SELECT data_split, MAX(batch_id) + 1, COUNT(*) FROM %s GROUP BY data_split`, cfg.TableName))
	if err != nil {
		return nil, fmt.Errorf("failed to summarize %s: %w", cfg.TableName, err)
	}
	defer rows.Close()

	a := &Assignment{
		Table:     cfg.TableName,
		Mode:      cfg.Mode,
		BatchSize: cfg.BatchSize,
		Splits:    make(map[config.Split]SplitSummary),
	}
	for rows.Next() {
		var (
			split   string
			summary SplitSummary
		)
		if err := rows.Scan(&split, &summary.Batches, &summary.Rows); err != nil {
			return nil, fmt.Errorf("failed to scan batch summary: %w", err)
		}
		a.Splits[config.Split(split)] = summary
	}
	return a, rows.Err()
}
