package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/sessions/internal/client"
	"github.com/alfredjeanlab/sessions/internal/ui"
)

var (
	resolveTimestamp uint64
	resolveCreation  bool
	resolveAction    string
	resolveNoDefault bool
)

var resolveCmd = &cobra.Command{
	Use:     "resolve <pseudo-key>",
	Short:   "Resolve one observation to a session id",
	GroupID: "sessions",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &client.ResolveRequest{
			PseudoKey:  args[0],
			Timestamp:  resolveTimestamp,
			IsCreation: resolveCreation,
			Action:     resolveAction,
		}
		if cmd.Flags().Changed("no-default") {
			shouldDefault := !resolveNoDefault
			req.ShouldDefault = &shouldDefault
		}

		resp, err := sessionsClient.Resolve(context.Background(), req)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", args[0], err)
		}

		if jsonOutput {
			return printJSON(resp)
		}
		fmt.Println(ui.RenderAccent(resp.SessionID))
		if resp.Cached {
			fmt.Println(ui.RenderMuted("(cached)"))
		}
		return nil
	},
}

func init() {
	resolveCmd.Flags().Uint64VarP(&resolveTimestamp, "timestamp", "t", 0, "observation timestamp in milliseconds")
	resolveCmd.Flags().BoolVarP(&resolveCreation, "create", "c", false, "the observation is a creation event")
	resolveCmd.Flags().StringVar(&resolveAction, "action", "", "create, update_or_create or terminate (overrides --create)")
	resolveCmd.Flags().BoolVar(&resolveNoDefault, "no-default", false, "fail instead of opening a guessed session")
	_ = resolveCmd.MarkFlagRequired("timestamp")
}
