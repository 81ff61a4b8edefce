package cli

import (
	"fmt"
	"os"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/trxpurpose/config"
	"github.com/malbeclabs/trxpurpose/pkg/batching"
	"github.com/malbeclabs/trxpurpose/pkg/dataset"
	"github.com/malbeclabs/trxpurpose/pkg/embedding"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

type BatchesCmd struct{}

func NewBatchesCmd() *BatchesCmd {
	return &BatchesCmd{}
}

func (c *BatchesCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batches",
		Short: "Partition each split into stratified batches and assemble them",
		RunE: func(cmd *cobra.Command, args []string) error {
			splitNames, err := cmd.Flags().GetStringSlice("splits")
			if err != nil {
				return fmt.Errorf("failed to get splits flag: %w", err)
			}
			modeStr, err := cmd.Flags().GetString("mode")
			if err != nil {
				return fmt.Errorf("failed to get mode flag: %w", err)
			}
			dropUnmatched, err := cmd.Flags().GetBool("drop-unmatched")
			if err != nil {
				return fmt.Errorf("failed to get drop-unmatched flag: %w", err)
			}
			noEmbeddings, err := cmd.Flags().GetBool("no-embeddings")
			if err != nil {
				return fmt.Errorf("failed to get no-embeddings flag: %w", err)
			}
			assemble, err := cmd.Flags().GetBool("assemble")
			if err != nil {
				return fmt.Errorf("failed to get assemble flag: %w", err)
			}

			var mode batching.Mode
			switch modeStr {
			case string(batching.ModeStratified):
				mode = batching.ModeStratified
			case string(batching.ModeSequential):
				mode = batching.ModeSequential
			default:
				return fmt.Errorf("invalid mode: %s", modeStr)
			}
			splits := make([]config.Split, 0, len(splitNames))
			for _, name := range splitNames {
				split, err := config.ParseSplit(name)
				if err != nil {
					return err
				}
				splits = append(splits, split)
			}

			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			// Backfill is available only when an API key is configured.
			var encoder embedding.TextEncoder
			if !noEmbeddings && os.Getenv(apiKeyEnvVar) != "" {
				cached, err := newEncoder(s.ctx, s.pipeline.Embedding)
				if err != nil {
					return err
				}
				defer cached.Close()
				encoder = cached
			}
			backfiller, err := embedding.NewBackfiller(embedding.BackfillerConfig{
				Logger:   s.log,
				Encoder:  encoder,
				MaxBatch: s.pipeline.Embedding.MaxBatch,
			})
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetAutoFormatHeaders(false)
			table.SetBorder(true)
			table.SetHeader([]string{"split", "transactions", "batches", "dropped", "features"})

			for _, split := range splits {
				ds, err := dataset.New(s.ctx, dataset.Config{
					Logger:             s.log,
					Clock:              clockwork.NewRealClock(),
					DB:                 s.db,
					Split:              split,
					BatchSize:          s.pipeline.BatchSize,
					Seed:               *s.pipeline.Seed,
					Mode:               mode,
					DropUnmatched:      dropUnmatched,
					Labels:             s.pipeline.Labels,
					AmountBuckets:      s.pipeline.AmountBuckets,
					CacheCapacity:      s.pipeline.CacheCapacity,
					Backfiller:         backfiller,
					DisableEmbeddings:  noEmbeddings,
					EmbeddingDimension: s.pipeline.Embedding.Dimension,
				})
				if err != nil {
					return fmt.Errorf("failed to build %s dataset: %w", split, err)
				}

				features := 0
				if assemble {
					for i := range ds.Len() {
						item, err := ds.Get(s.ctx, i)
						if err != nil {
							ds.Close()
							return fmt.Errorf("failed to assemble %s batch %d: %w", split, i, err)
						}
						features = item.Features.Cols()
					}
				}

				a := ds.Assignment()
				table.Append([]string{
					split.String(),
					fmt.Sprint(a.Rows(split)),
					fmt.Sprint(a.NumBatches(split)),
					fmt.Sprint(a.Dropped),
					fmt.Sprint(features),
				})
				if err := ds.Close(); err != nil {
					return err
				}
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringSlice("splits", []string{string(config.SplitTrain), string(config.SplitValid), string(config.SplitTest)}, "Splits to partition")
	cmd.Flags().String("mode", string(batching.ModeStratified), "Partition mode (stratified, sequential)")
	cmd.Flags().Bool("drop-unmatched", false, "Drop transactions whose label has no proportion instead of failing")
	cmd.Flags().Bool("no-embeddings", false, "Assemble without embedding columns")
	cmd.Flags().Bool("assemble", false, "Assemble every batch after partitioning")

	return cmd
}
