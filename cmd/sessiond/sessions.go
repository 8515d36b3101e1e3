package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions [pseudo-key]",
	Short:   "List stored sessions",
	GroupID: "sessions",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var pseudoKey string
		if len(args) == 1 {
			pseudoKey = args[0]
		}

		resp, err := sessionsClient.ListSessions(context.Background(), pseudoKey)
		if err != nil {
			return fmt.Errorf("listing sessions: %w", err)
		}

		if jsonOutput {
			return printJSON(resp.Sessions)
		}
		printSessionTable(resp.Sessions, resp.Total)
		return nil
	},
}
