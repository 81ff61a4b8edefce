package features

import (
	"context"
	_ "embed"
	"log/slog"

	"github.com/malbeclabs/trxpurpose/config"
	"github.com/malbeclabs/trxpurpose/pkg/duck"
)

const (
	RemarkFeaturesTable     = "remark_features"
	NodeTrxFeaturesTable    = "node_trx_features"
	StatisticsFeaturesTable = "statistics_features"
)

var (
	//go:embed sql/remark_features.sql
	remarkFeaturesSQL string
	//go:embed sql/node_trx_features.sql
	nodeTrxFeaturesSQL string
	//go:embed sql/statistics_features.sql
	statisticsFeaturesSQL string
)

// CreateRemarkFeatures replaces remark_features with aggregates of the
// remarks seen in the history split.
func CreateRemarkFeatures(ctx context.Context, log *slog.Logger, conn duck.Connection, history config.Split) error {
	return duck.ExecScript(ctx, log, conn, RemarkFeaturesTable, remarkFeaturesSQL, string(history))
}

// CreateNodeTrxFeatures replaces node_trx_features with the activity of
// every node in the history split.
func CreateNodeTrxFeatures(ctx context.Context, log *slog.Logger, conn duck.Connection, history config.Split) error {
	return duck.ExecScript(ctx, log, conn, NodeTrxFeaturesTable, nodeTrxFeaturesSQL, string(history))
}

// CreateStatisticsFeatures replaces statistics_features. It reads the other
// feature tables, which must exist.
func CreateStatisticsFeatures(ctx context.Context, log *slog.Logger, conn duck.Connection) error {
	return duck.ExecScript(ctx, log, conn, StatisticsFeaturesTable, statisticsFeaturesSQL)
}
