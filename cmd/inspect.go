// File: cmd/inspect.go
package cmd

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/spf13/cobra"

	"github.com/qwerwsz/apeaksoft-watermark-remover/internal/config"
	"github.com/qwerwsz/apeaksoft-watermark-remover/internal/observability"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <token>",
		Short: "Query the vendor for the state of an erase task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()
			pool, gw, err := buildGateway(config.Get(), logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			resp := gw.RemoveStatusSafe(cmd.Context(), args[0])
			if resp == nil {
				return errors.New("remote status query failed")
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
}

func newStatsCmd() *cobra.Command {
	var ip string
	var limit int

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize the call journal",
		Long:  `Prints journal statistics. With --ip, prints that client's recent calls instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg := config.Get()

			if !cfg.Journal.Enabled {
				return errors.New("the call journal is disabled")
			}
			j, err := buildJournal(ctx, cfg.Journal, logger)
			if err != nil {
				return err
			}
			defer j.Close()

			if ip != "" {
				calls, err := j.ByIP(ctx, ip, limit)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), calls)
			}
			stats, err := j.Statistics(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}

	statsCmd.Flags().StringVar(&ip, "ip", "", "list calls from this client IP")
	statsCmd.Flags().IntVar(&limit, "limit", 20, "maximum calls to list with --ip")
	return statsCmd
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
