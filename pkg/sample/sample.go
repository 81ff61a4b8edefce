package sample

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/trxpurpose/config"
	"github.com/malbeclabs/trxpurpose/pkg/duck"
	"github.com/malbeclabs/trxpurpose/pkg/logger"
)

//go:embed sql/*.sql
var scripts embed.FS

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock

	// NodesPath and EdgesPath are parquet or CSV files, local or s3://.
	// Nodes have (id, node_name); edges have (sender_id, benef_id,
	// trx_date, amount, purpose, remark).
	NodesPath string
	EdgesPath string

	Pipeline *config.PipelineConfig
	// LimitEdges caps the sample by cumulative transactions of whole
	// sender/benef pairs; 0 keeps everything.
	LimitEdges int64

	// S3 is used when a path is an s3:// URI; it is loaded from the
	// environment when nil.
	S3          *duck.S3Config
	SkipS3Check bool
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.NodesPath == "" || c.EdgesPath == "" {
		return errors.New("nodes and edges paths are required")
	}
	if c.Pipeline == nil {
		c.Pipeline = config.DefaultPipelineConfig()
	}
	if err := c.Pipeline.Validate(); err != nil {
		return err
	}
	if c.LimitEdges < 0 {
		return errors.New("limit edges must not be negative")
	}
	return nil
}

func script(name string) (string, error) {
	data, err := scripts.ReadFile("sql/" + name)
	if err != nil {
		return "", fmt.Errorf("failed to read script %s: %w", name, err)
	}
	return string(data), nil
}

// Run loads the raw files into nodes and edges, splits them by date, samples
// whole sender/benef pairs, reindexes ids densely and computes the
// neighborhood and statistics tables.
func Run(ctx context.Context, conn duck.Connection, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := cfg.Logger

	if duck.IsS3URI(cfg.NodesPath) || duck.IsS3URI(cfg.EdgesPath) {
		if err := setupS3(ctx, log, conn, &cfg); err != nil {
			return err
		}
	}

	load, err := script("01_nodes_and_edges.sql")
	if err != nil {
		return err
	}
	load = strings.NewReplacer(
		"{nodes_source}", duck.SourceExpr(cfg.NodesPath),
		"{edges_source}", duck.SourceExpr(cfg.EdgesPath),
	).Replace(load)

	steps := []struct {
		name   string
		script string
		args   []any
	}{
		{name: "create_nodes_and_edges_table", script: load, args: cfg.Pipeline.DateParams()},
		{name: "create_sender_benef_pairs_table", script: "02_sender_benef_pairs.sql", args: []any{cfg.LimitEdges}},
		{name: "resample_nodes_and_edges_table", script: "03_resample_nodes_and_edges.sql"},
		{name: "reindex_tables", script: "04_reindex_tables.sql"},
		{name: "create_neighborhood_table", script: "05_neighborhood.sql"},
	}
	for i, step := range steps {
		body := step.script
		if i > 0 {
			if body, err = script(step.script); err != nil {
				return err
			}
		}
		done := logger.Timed(log, cfg.Clock, step.name)
		if err := duck.ExecScript(ctx, log, conn, step.name, body, step.args...); err != nil {
			return err
		}
		done()
	}

	return Statistics(ctx, log, cfg.Clock, conn, config.SplitTrain)
}

// Statistics replaces the statistics, statistics_nodes and
// statistics_labels tables. Label proportions come from the history split.
func Statistics(ctx context.Context, log *slog.Logger, clock clockwork.Clock, conn duck.Connection, history config.Split) error {
	body, err := script("06_statistics.sql")
	if err != nil {
		return err
	}
	defer logger.Timed(log, clock, "get_statistics")()
	return duck.ExecScript(ctx, log, conn, "statistics", body, string(history))
}

func setupS3(ctx context.Context, log *slog.Logger, conn duck.Connection, cfg *Config) error {
	if cfg.S3 == nil {
		s3, err := duck.LoadS3ConfigFromEnv()
		if err != nil {
			return err
		}
		cfg.S3 = s3
	}
	if !cfg.SkipS3Check {
		if err := duck.CheckS3Objects(ctx, cfg.S3, cfg.NodesPath, cfg.EdgesPath); err != nil {
			return err
		}
	}
	return duck.ConfigureS3(ctx, log, conn, cfg.S3)
}
