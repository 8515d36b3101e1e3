package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/alfredjeanlab/sessions/internal/model"
	"github.com/alfredjeanlab/sessions/internal/ui"
)

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func printSessionTable(sessions []*model.Session, total int) {
	keyWidth := max(ui.Width()/3, 16)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tPSEUDO KEY\tCREATE\tEND\tVERSION")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
			ui.RenderAccent(s.SessionID),
			ui.Truncate(s.PseudoKey, keyWidth),
			ui.RenderBoundary(s.CreateTime, s.IsCreateCanon),
			ui.RenderBoundary(s.EndTime, s.IsEndCanon),
			s.Version,
		)
	}
	w.Flush()
	fmt.Printf("\n%d sessions (%d total)\n", len(sessions), total)
}

func printKeyMap(keyMap map[string]string) {
	keys := make([]string, 0, len(keyMap))
	for k := range keyMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NODE\tSESSION")
	for _, k := range keys {
		fmt.Fprintf(w, "%s\t%s\n", k, ui.RenderAccent(keyMap[k]))
	}
	w.Flush()
}
