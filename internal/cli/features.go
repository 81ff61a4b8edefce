package cli

import (
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/trxpurpose/config"
	"github.com/malbeclabs/trxpurpose/pkg/features"
	"github.com/malbeclabs/trxpurpose/pkg/logger"
	"github.com/spf13/cobra"
)

type FeaturesCmd struct{}

func NewFeaturesCmd() *FeaturesCmd {
	return &FeaturesCmd{}
}

func (c *FeaturesCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "features",
		Short: "Create the day, remark, node and statistics feature tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			historyStr, err := cmd.Flags().GetString("history")
			if err != nil {
				return fmt.Errorf("failed to get history flag: %w", err)
			}
			history, err := config.ParseSplit(historyStr)
			if err != nil {
				return err
			}

			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			clock := clockwork.NewRealClock()
			start, end, err := features.DayRange(s.ctx, s.conn)
			if err != nil {
				return err
			}
			done := logger.Timed(s.log, clock, "create_days_features")
			if err := features.WriteDaysTable(s.ctx, s.log, s.conn, features.GenerateDayFeatures(start, end)); err != nil {
				return err
			}
			done()

			steps := []struct {
				name string
				fn   func() error
			}{
				{"create_remark_features", func() error {
					return features.CreateRemarkFeatures(s.ctx, s.log, s.conn, history)
				}},
				{"create_node_trx_features", func() error {
					return features.CreateNodeTrxFeatures(s.ctx, s.log, s.conn, history)
				}},
				{"create_statistics_features", func() error {
					return features.CreateStatisticsFeatures(s.ctx, s.log, s.conn)
				}},
			}
			for _, step := range steps {
				done := logger.Timed(s.log, clock, step.name)
				if err := step.fn(); err != nil {
					return err
				}
				done()
			}
			return nil
		},
	}

	cmd.Flags().String("history", string(config.SplitTrain), "Split whose transactions feed the remark and node history features")

	return cmd
}
