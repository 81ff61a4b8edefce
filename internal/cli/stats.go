package cli

import (
	"fmt"
	"os"

	"github.com/malbeclabs/trxpurpose/pkg/duck"
	"github.com/malbeclabs/trxpurpose/pkg/sample"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

type StatsCmd struct{}

func NewStatsCmd() *StatsCmd {
	return &StatsCmd{}
}

func (c *StatsCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print the statistics tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			tables, err := cmd.Flags().GetStringSlice("tables")
			if err != nil {
				return fmt.Errorf("failed to get tables flag: %w", err)
			}

			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			for _, name := range tables {
				exists, err := duck.TableExists(s.ctx, s.conn, name)
				if err != nil {
					return err
				}
				if !exists {
					s.log.Warn("table not found, skipping", "table", name)
					continue
				}
				header, rows, err := sample.ReadTable(s.ctx, s.conn, name)
				if err != nil {
					return err
				}

				fmt.Printf("\n%s\n", name)
				table := tablewriter.NewWriter(os.Stdout)
				table.SetAutoWrapText(false)
				table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
				table.SetAutoFormatHeaders(false)
				table.SetBorder(true)
				table.SetHeader(header)
				table.AppendBulk(rows)
				table.Render()
			}
			return nil
		},
	}

	cmd.Flags().StringSlice("tables", sample.StatisticsTables, "Tables to print")

	return cmd
}
