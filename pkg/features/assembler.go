package features

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/trxpurpose/config"
	"github.com/malbeclabs/trxpurpose/pkg/duck"
	"github.com/malbeclabs/trxpurpose/pkg/embedding"
	"github.com/malbeclabs/trxpurpose/pkg/metrics"
	"github.com/malbeclabs/trxpurpose/pkg/tensor"
)

var (
	ErrBatchIndexOutOfRange = errors.New("batch index out of range")
	ErrEmbeddingDimension   = errors.New("embedding table width does not match encoder dimension")
	ErrMissingFeatureTable  = errors.New("missing feature table")
)

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Entity is a text attribute of a transaction with an embedding table.
type Entity struct {
	Name      string
	Table     string
	KeyColumn string
	// TextExpr selects the text in the assembler query; e is edges, sn and
	// bn are the sender and benef nodes.
	TextExpr string
}

var DefaultEntities = []Entity{
	{Name: "remark", Table: embedding.RemarkTarget.TableName, KeyColumn: embedding.RemarkTarget.KeyColumn, TextExpr: "e.remark"},
	{Name: "sender_name", Table: embedding.NodeNameTarget.TableName, KeyColumn: embedding.NodeNameTarget.KeyColumn, TextExpr: "sn.node_name"},
	{Name: "benef_name", Table: embedding.NodeNameTarget.TableName, KeyColumn: embedding.NodeNameTarget.KeyColumn, TextExpr: "bn.node_name"},
}

type AssemblerConfig struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	Conn   duck.Connection

	// BatchesTable holds the (batch_id, data_split, trx_id, purpose)
	// assignment, "batches" by default.
	BatchesTable  string
	AmountBuckets []config.AmountBucket

	// Backfiller fills embeddings missing from the embedding tables. When
	// nil, one without encoder is used.
	Backfiller        *embedding.Backfiller
	Entities          []Entity
	DisableEmbeddings bool
	// EmbeddingDimension is the embedding width when there is no encoder.
	// It is otherwise taken from the encoder.
	EmbeddingDimension int
}

func (c *AssemblerConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Conn == nil {
		return errors.New("connection is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.BatchesTable == "" {
		c.BatchesTable = "batches"
	}
	if !identifierRe.MatchString(c.BatchesTable) {
		return fmt.Errorf("invalid batches table name %q", c.BatchesTable)
	}
	if len(c.AmountBuckets) == 0 {
		c.AmountBuckets = config.DefaultAmountBuckets
	}
	if c.Backfiller == nil {
		b, err := embedding.NewBackfiller(embedding.BackfillerConfig{Logger: c.Logger})
		if err != nil {
			return err
		}
		c.Backfiller = b
	}
	if c.Entities == nil {
		c.Entities = DefaultEntities
	}
	return nil
}

// Batch is an assembled batch; all slices and matrix rows are ordered by
// trx_id ascending.
type Batch struct {
	Features *tensor.Matrix
	TrxIDs   []int64
	Purposes []string
}

// Assembler joins the feature tables into one feature matrix per batch.
// The query is built once from the feature tables present at construction.
type Assembler struct {
	log *slog.Logger
	cfg AssemblerConfig

	query      string
	bucketArgs []any
	columns    []string
	numeric    int
	dimension  int
}

func NewAssembler(ctx context.Context, cfg AssemblerConfig) (*Assembler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Assembler{log: cfg.Logger, cfg: cfg}
	if err := a.build(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// Columns returns the feature column names in matrix order.
func (a *Assembler) Columns() []string {
	return append([]string(nil), a.columns...)
}

// featureColumns returns the columns of a required feature table except key.
func featureColumns(ctx context.Context, conn duck.Connection, table, key string) ([]string, error) {
	exists, err := duck.TableExists(ctx, conn, table)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrMissingFeatureTable, table)
	}
	cols, err := duck.TableColumns(ctx, conn, table)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		if c != key {
			out = append(out, c)
		}
	}
	return out, nil
}

func (a *Assembler) build(ctx context.Context) error {
	conn := a.cfg.Conn

	var (
		selects []string
		joins   []string
	)
	numericCol := func(expr, name string) {
		selects = append(selects, fmt.Sprintf("COALESCE(CAST(%s AS DOUBLE), 0) AS %s", expr, name))
		a.columns = append(a.columns, name)
	}

	dayCols, err := featureColumns(ctx, conn, DaysTable, "calendar_date")
	if err != nil {
		return err
	}
	for _, c := range dayCols {
		numericCol(fmt.Sprintf(`d."%s"`, c), c)
	}

	for i, b := range a.cfg.AmountBuckets {
		if b.Hi <= b.Lo {
			return fmt.Errorf("invalid amount bucket [%d, %d]", b.Lo, b.Hi)
		}
		lo, hi := 3+2*i, 4+2*i
		numericCol(fmt.Sprintf("%s(CAST(e.amount AS BIGINT), CAST($%d AS BIGINT), CAST($%d AS BIGINT))", duck.AmountEncodingFunc, lo, hi), BucketColumn(b))
		a.bucketArgs = append(a.bucketArgs, b.Lo, b.Hi)
	}

	remarkCols, err := featureColumns(ctx, conn, RemarkFeaturesTable, "remark")
	if err != nil {
		return err
	}
	for _, c := range remarkCols {
		numericCol(fmt.Sprintf(`rf."%s"`, c), c)
	}

	nodeCols, err := featureColumns(ctx, conn, NodeTrxFeaturesTable, "node_id")
	if err != nil {
		return err
	}
	for _, side := range []struct{ prefix, alias string }{{"sender", "snf"}, {"benef", "bnf"}} {
		for _, c := range nodeCols {
			numericCol(fmt.Sprintf(`%s."%s"`, side.alias, c), side.prefix+"_"+c)
		}
		numericCol(fmt.Sprintf("%s.node_id IS NOT NULL", side.alias), side.prefix+"_known")
	}
	a.numeric = len(a.columns)

	if !a.cfg.DisableEmbeddings {
		if err := a.resolveDimension(ctx); err != nil {
			return err
		}
		for i, ent := range a.cfg.Entities {
			selects = append(selects, fmt.Sprintf("%s AS %s_text", ent.TextExpr, ent.Name))
			width, err := embedding.EmbeddingWidth(ctx, conn, ent.Table)
			if err != nil {
				return err
			}
			alias := fmt.Sprintf("emb%d", i)
			for j, name := range embedding.ColumnNames(ent.Name, a.dimension) {
				if width == 0 {
					selects = append(selects, fmt.Sprintf("CAST(NULL AS DOUBLE) AS %s", name))
				} else {
					selects = append(selects, fmt.Sprintf("CAST(%s.%s AS DOUBLE) AS %s", alias, embedding.TableColumn(j), name))
				}
			}
			if width > 0 {
				joins = append(joins, fmt.Sprintf("LEFT JOIN %s %s ON %s.%s = %s", ent.Table, alias, alias, ent.KeyColumn, ent.TextExpr))
			}
			a.columns = append(a.columns, embedding.ColumnNames(ent.Name, a.dimension)...)
		}
	}

	a.query = fmt.Sprintf(`SELECT
	b.trx_id,
	b.purpose,
	%s
FROM %s b
JOIN edges e ON e.trx_id = b.trx_id
LEFT JOIN %s d ON d.calendar_date = e.trx_date
LEFT JOIN %s rf ON rf.remark = e.remark
LEFT JOIN %s snf ON snf.node_id = e.src_node_id
LEFT JOIN %s bnf ON bnf.node_id = e.dst_node_id
LEFT JOIN nodes sn ON sn.id = e.src_node_id
LEFT JOIN nodes bn ON bn.id = e.dst_node_id
%s
WHERE b.data_split = $1 AND b.batch_id = $2
ORDER BY b.trx_id`,
		strings.Join(selects, ",\n\t"),
		a.cfg.BatchesTable, DaysTable, RemarkFeaturesTable, NodeTrxFeaturesTable, NodeTrxFeaturesTable,
		strings.Join(joins, "\n"))

	a.log.Debug("assembler query built", "columns", len(a.columns), "embedding_dimension", a.dimension)
	return nil
}

// resolveDimension fixes the embedding width from the encoder, the config or
// an existing embedding table, and checks every table agrees with it.
func (a *Assembler) resolveDimension(ctx context.Context) error {
	if enc := a.cfg.Backfiller.Encoder(); enc != nil {
		a.dimension = enc.Dimension()
	} else {
		a.dimension = a.cfg.EmbeddingDimension
	}
	for _, ent := range a.cfg.Entities {
		width, err := embedding.EmbeddingWidth(ctx, a.cfg.Conn, ent.Table)
		if err != nil {
			return err
		}
		if width == 0 {
			continue
		}
		if a.dimension == 0 {
			a.dimension = width
		}
		if width != a.dimension {
			return fmt.Errorf("%w: %s has %d columns, want %d", ErrEmbeddingDimension, ent.Table, width, a.dimension)
		}
	}
	if a.dimension <= 0 {
		return fmt.Errorf("%w: no encoder and no embedding table to take the width from", ErrEmbeddingDimension)
	}
	return nil
}

// NumBatches returns the number of batches of split in the assignment table.
func (a *Assembler) NumBatches(ctx context.Context, split config.Split) (int, error) {
	var n int
	err := a.cfg.Conn.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COALESCE(MAX(batch_id) + 1, 0) FROM %s WHERE data_split = $1`, a.cfg.BatchesTable),
		string(split)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count batches of %s: %w", split, err)
	}
	return n, nil
}

// Assemble returns the feature matrix of one batch and the trx_id of each
// row. It only reads from the catalog.
func (a *Assembler) Assemble(ctx context.Context, split config.Split, batchID int) (*tensor.Matrix, []int64, error) {
	b, err := a.AssembleBatch(ctx, split, batchID)
	if err != nil {
		return nil, nil, err
	}
	return b.Features, b.TrxIDs, nil
}

func (a *Assembler) AssembleBatch(ctx context.Context, split config.Split, batchID int) (*Batch, error) {
	if !split.Valid() {
		return nil, fmt.Errorf("%w %q", config.ErrInvalidSplit, split)
	}
	start := a.cfg.Clock.Now()

	n, err := a.NumBatches(ctx, split)
	if err != nil {
		return nil, err
	}
	if batchID < 0 || batchID >= n {
		return nil, fmt.Errorf("%w: batch %d of %s, have %d", ErrBatchIndexOutOfRange, batchID, split, n)
	}

	args := append([]any{string(split), int64(batchID)}, a.bucketArgs...)
	rows, err := a.cfg.Conn.QueryContext(ctx, a.query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query batch %d of %s: %w", batchID, split, err)
	}
	defer rows.Close()

	type row struct {
		numeric []float64
		texts   []sql.NullString
		emb     [][]sql.NullFloat64
	}
	entities := a.cfg.Entities
	if a.cfg.DisableEmbeddings {
		entities = nil
	}

	var (
		batch = &Batch{}
		data  []row
	)
	for rows.Next() {
		r := row{
			numeric: make([]float64, a.numeric),
			texts:   make([]sql.NullString, len(entities)),
			emb:     make([][]sql.NullFloat64, len(entities)),
		}
		var (
			trxID   int64
			purpose string
		)
		dest := []any{&trxID, &purpose}
		for i := range r.numeric {
			dest = append(dest, &r.numeric[i])
		}
		for i := range entities {
			dest = append(dest, &r.texts[i])
			r.emb[i] = make([]sql.NullFloat64, a.dimension)
			for j := range r.emb[i] {
				dest = append(dest, &r.emb[i][j])
			}
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan batch row: %w", err)
		}
		batch.TrxIDs = append(batch.TrxIDs, trxID)
		batch.Purposes = append(batch.Purposes, purpose)
		data = append(data, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	m, err := tensor.New(len(data), a.columns)
	if err != nil {
		return nil, err
	}
	gaps := make([]embedding.Gap, len(entities))
	for i, ent := range entities {
		gaps[i].Entity = ent.Name
	}
	for r, d := range data {
		for c, v := range d.numeric {
			m.Set(r, c, float32(v))
		}
		col := a.numeric
		for i := range entities {
			if !d.emb[i][0].Valid {
				var text *string
				if d.texts[i].Valid {
					text = &d.texts[i].String
				}
				gaps[i].Rows = append(gaps[i].Rows, r)
				gaps[i].Texts = append(gaps[i].Texts, text)
			} else {
				for j, v := range d.emb[i] {
					m.Set(r, col+j, float32(v.Float64))
				}
			}
			col += a.dimension
		}
	}

	if err := a.cfg.Backfiller.Fill(ctx, m, gaps); err != nil {
		return nil, err
	}

	batch.Features = m
	metrics.AssembledBatches.WithLabelValues(string(split)).Inc()
	metrics.AssembleDuration.Observe(a.cfg.Clock.Since(start).Seconds())
	return batch, nil
}
