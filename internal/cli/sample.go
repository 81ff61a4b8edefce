package cli

import (
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/trxpurpose/pkg/sample"
	"github.com/spf13/cobra"
)

const (
	nodesPathEnvVar = "TRX_NODES_PATH"
	edgesPathEnvVar = "TRX_EDGES_PATH"
)

type SampleCmd struct{}

func NewSampleCmd() *SampleCmd {
	return &SampleCmd{}
}

func (c *SampleCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Load raw nodes and edges, split them by date and compute statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			nodesPath, err := cmd.Flags().GetString("nodes")
			if err != nil {
				return fmt.Errorf("failed to get nodes flag: %w", err)
			}
			edgesPath, err := cmd.Flags().GetString("edges")
			if err != nil {
				return fmt.Errorf("failed to get edges flag: %w", err)
			}
			limit, err := cmd.Flags().GetInt64("limit-edges")
			if err != nil {
				return fmt.Errorf("failed to get limit-edges flag: %w", err)
			}
			skipS3Check, err := cmd.Flags().GetBool("skip-s3-check")
			if err != nil {
				return fmt.Errorf("failed to get skip-s3-check flag: %w", err)
			}

			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			s.log.Info("sampling transactions", "nodes", nodesPath, "edges", edgesPath, "limit", limit)
			return sample.Run(s.ctx, s.conn, sample.Config{
				Logger:      s.log,
				Clock:       clockwork.NewRealClock(),
				NodesPath:   nodesPath,
				EdgesPath:   edgesPath,
				Pipeline:    s.pipeline,
				LimitEdges:  limit,
				SkipS3Check: skipS3Check,
			})
		},
	}

	cmd.Flags().String("nodes", getenv(nodesPathEnvVar, ""), "Raw nodes parquet or CSV file, local or s3:// (or set "+nodesPathEnvVar+")")
	cmd.Flags().String("edges", getenv(edgesPathEnvVar, ""), "Raw edges parquet or CSV file, local or s3:// (or set "+edgesPathEnvVar+")")
	cmd.Flags().Int64("limit-edges", 0, "Keep sender/benef pairs up to this many transactions (0 keeps all)")
	cmd.Flags().Bool("skip-s3-check", false, "Do not check that s3:// inputs exist before loading")

	return cmd
}
