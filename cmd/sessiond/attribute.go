package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/sessions/internal/codec"
	"github.com/alfredjeanlab/sessions/internal/model"
	"github.com/alfredjeanlab/sessions/internal/ui"
)

var attributeCmd = &cobra.Command{
	Use:   "attribute [file]",
	Short: "Attribute a graph fragment read from a file or stdin",
	Long: `Attribute sends an unidentified graph fragment to the server and prints the
attributed graph. The input is JSON, optionally zstd-compressed; "-" or no
argument reads standard input.`,
	GroupID: "sessions",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(args)
		if err != nil {
			return err
		}
		var g model.Graph
		if err := codec.JSON.Unmarshal(data, &g); err != nil {
			return fmt.Errorf("parsing fragment: %w", err)
		}

		resp, err := sessionsClient.Attribute(context.Background(), &g)
		if err != nil {
			return fmt.Errorf("attributing fragment: %w", err)
		}

		if jsonOutput {
			return printJSON(resp)
		}
		printKeyMap(resp.KeyMap)
		for _, k := range resp.DeadNodeKeys {
			fmt.Printf("%s  %s\n", ui.RenderError("dead"), k)
		}
		if resp.Error != "" {
			fmt.Fprintln(os.Stderr, ui.RenderMuted("first failure: "+resp.Error))
		}
		return nil
	},
}

func readInput(args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", args[0], err)
	}
	return data, nil
}
