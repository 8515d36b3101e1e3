package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/sessions/internal/config"
	sessionsync "github.com/alfredjeanlab/sessions/internal/sync"
)

var exportStdout bool

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export every session once to the configured sync destinations",
	Long: `Export reads the whole session table and writes it as JSONL.

With --stdout the export is written to standard output; otherwise it is sent
to every destination configured through SESSIONS_SYNC_S3_BUCKET and
SESSIONS_SYNC_FILE.`,
	GroupID:           "system",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger := cfg.NewLogger(os.Stderr)
		ctx := context.Background()

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		if exportStdout {
			return sessionsync.ExportJSONL(ctx, st, os.Stdout)
		}

		dests := syncDestinations(ctx, cfg, logger)
		if len(dests) == 0 {
			logger.Warn("no sync destinations configured")
			return nil
		}
		sched := sessionsync.NewScheduler(st, dests, 0, logger)
		if err := sched.SyncOnce(ctx); err != nil {
			return fmt.Errorf("export: %w", err)
		}
		last := sched.Last()
		fmt.Fprintf(cmd.OutOrStdout(), "exported %d sessions (%d bytes) to %d destinations\n", last.Sessions, last.Bytes, len(dests))
		return nil
	},
}

func init() {
	exportCmd.Flags().BoolVar(&exportStdout, "stdout", false, "write the export to standard output")
}
