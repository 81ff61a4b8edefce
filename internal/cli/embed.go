package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/malbeclabs/trxpurpose/config"
	"github.com/malbeclabs/trxpurpose/pkg/embedding"
	"github.com/spf13/cobra"
)

const (
	apiKeyEnvVar             = "GEMINI_API_KEY"
	defaultEncoderCacheLimit = 100_000
)

var embedTargets = map[string]embedding.Target{
	embedding.RemarkTarget.Entity:   embedding.RemarkTarget,
	embedding.NodeNameTarget.Entity: embedding.NodeNameTarget,
}

type EmbedCmd struct{}

func NewEmbedCmd() *EmbedCmd {
	return &EmbedCmd{}
}

func (c *EmbedCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Generate the remark and node name embedding tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := cmd.Flags().GetStringSlice("targets")
			if err != nil {
				return fmt.Errorf("failed to get targets flag: %w", err)
			}
			concurrency, err := cmd.Flags().GetInt("concurrency")
			if err != nil {
				return fmt.Errorf("failed to get concurrency flag: %w", err)
			}
			maxTries, err := cmd.Flags().GetUint("max-tries")
			if err != nil {
				return fmt.Errorf("failed to get max-tries flag: %w", err)
			}
			targets := make([]embedding.Target, 0, len(names))
			for _, name := range names {
				target, ok := embedTargets[name]
				if !ok {
					return fmt.Errorf("invalid embedding target: %s", name)
				}
				targets = append(targets, target)
			}

			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			encoder, err := newEncoder(s.ctx, s.pipeline.Embedding)
			if err != nil {
				return err
			}
			defer encoder.Close()

			for _, target := range targets {
				n, err := embedding.GenerateTable(s.ctx, s.conn, embedding.GenerateConfig{
					Logger:      s.log,
					Encoder:     encoder,
					ChunkSize:   s.pipeline.Embedding.MaxBatch,
					Concurrency: concurrency,
					MaxTries:    maxTries,
				}, target)
				if err != nil {
					return err
				}
				s.log.Info("embedding table written", "table", target.TableName, "rows", n)
			}
			return nil
		},
	}

	cmd.Flags().StringSlice("targets", []string{embedding.RemarkTarget.Entity, embedding.NodeNameTarget.Entity}, "Embedding tables to generate (remark, node_name)")
	cmd.Flags().Int("concurrency", 4, "Concurrent encoder requests")
	cmd.Flags().Uint("max-tries", 5, "Attempts per encoder request")

	return cmd
}

// newEncoder returns the Gemini encoder behind a vector cache. The API key
// comes from GEMINI_API_KEY.
func newEncoder(ctx context.Context, cfg config.EmbeddingConfig) (*embedding.CachedEncoder, error) {
	genai, err := embedding.NewGenAIEncoder(ctx, embedding.GenAIConfig{
		APIKey:    os.Getenv(apiKeyEnvVar),
		Model:     cfg.Model,
		Dimension: cfg.Dimension,
	})
	if err != nil {
		return nil, err
	}
	return embedding.NewCachedEncoder(genai, defaultEncoderCacheLimit)
}
