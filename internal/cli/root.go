package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/malbeclabs/trxpurpose/config"
	"github.com/malbeclabs/trxpurpose/pkg/duck"
	"github.com/malbeclabs/trxpurpose/pkg/logger"
	"github.com/malbeclabs/trxpurpose/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type ExitCode int

const (
	exitCodeSuccess = 0
	exitCodeError   = 1

	defaultDBPath = ".tmp/trx.duckdb"

	dbPathEnvVar     = "TRX_DB_PATH"
	configPathEnvVar = "TRX_PIPELINE_CONFIG"
)

type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

func Run(info BuildInfo) ExitCode {
	// A missing .env file is fine.
	_ = godotenv.Load()

	metrics.BuildInfo.WithLabelValues(info.Version, info.Commit, info.Date).Set(1)

	if err := newRootCmd().Execute(); err != nil {
		return exitCodeError
	}
	return exitCodeSuccess
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "trx-dataset",
		Short:        "Build the transaction purpose dataset: sample, features, embeddings and batches.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := cmd.Help()
			if err != nil {
				return fmt.Errorf("failed to show help: %w", err)
			}
			return nil
		},
	}

	registerPersistentFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		NewSampleCmd().Command(),
		NewFeaturesCmd().Command(),
		NewEmbedCmd().Command(),
		NewBatchesCmd().Command(),
		NewStatsCmd().Command(),
	)
	return rootCmd
}

func registerPersistentFlags(flags *pflag.FlagSet) {
	flags.BoolP("verbose", "v", false, "set debug logging level")
	flags.String("db", getenv(dbPathEnvVar, defaultDBPath), "Path to the DuckDB catalog (or set "+dbPathEnvVar+")")
	flags.String("config", os.Getenv(configPathEnvVar), "Path to the pipeline YAML config (or set "+configPathEnvVar+")")
	flags.String("metrics-addr", "", "Address to serve prometheus metrics on while the command runs")
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// session is the state shared by every subcommand: logger, pipeline
// config and an open catalog with one connection.
type session struct {
	ctx      context.Context
	log      *slog.Logger
	pipeline *config.PipelineConfig
	db       duck.DB
	conn     duck.Connection

	stop func()
}

func openSession(cmd *cobra.Command) (*session, error) {
	flags := cmd.Root().PersistentFlags()
	verbose, err := flags.GetBool("verbose")
	if err != nil {
		return nil, fmt.Errorf("failed to get verbose flag: %w", err)
	}
	dbPath, err := flags.GetString("db")
	if err != nil {
		return nil, fmt.Errorf("failed to get db flag: %w", err)
	}
	configPath, err := flags.GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	metricsAddr, err := flags.GetString("metrics-addr")
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics-addr flag: %w", err)
	}

	log := logger.New(verbose)

	pipeline, err := config.LoadPipelineConfig(configPath)
	if err != nil {
		return nil, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	if metricsAddr != "" {
		if err := serveMetrics(ctx, log, metricsAddr); err != nil {
			stop()
			return nil, err
		}
	}

	db, err := duck.NewDB(ctx, dbPath, log)
	if err != nil {
		stop()
		return nil, err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		stop()
		return nil, err
	}

	return &session{ctx: ctx, log: log, pipeline: pipeline, db: db, conn: conn, stop: stop}, nil
}

func (s *session) Close() {
	if err := s.conn.Close(); err != nil {
		s.log.Error("failed to close connection", "error", err)
	}
	if err := s.db.Close(); err != nil {
		s.log.Error("failed to close database", "error", err)
	}
	s.stop()
}

func serveMetrics(ctx context.Context, log *slog.Logger, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start prometheus metrics server listener: %w", err)
	}
	log.Info("prometheus metrics server listening", "address", listener.Addr().String())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		server.Close()
	}()
	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error("prometheus metrics server failed", "error", err)
		}
	}()
	return nil
}
