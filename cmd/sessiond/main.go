package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/sessions/internal/client"
	"github.com/alfredjeanlab/sessions/internal/codec"
	"github.com/alfredjeanlab/sessions/internal/ui"
)

var (
	httpURL    string
	grpcAddr   string
	authToken  string
	jsonOutput bool
	compress   bool
	noColor    bool

	sessionsClient client.SessionsClient
)

func defaultHTTPURL() string {
	if s := os.Getenv("SESSIONS_HTTP_URL"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

func defaultGRPCAddr() string {
	if s := os.Getenv("SESSIONS_SERVER"); s != "" {
		return s
	}
	return "localhost:9090"
}

var rootCmd = &cobra.Command{
	Use:           "sessiond <command>",
	Short:         "Session resolution engine for the telemetry graph",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor || !ui.ShouldUseColor() {
			ui.ForceNoColor()
		}
		opts := []client.Option{client.WithToken(authToken)}
		if compress {
			opts = append(opts, client.WithCodec(codec.Zstd))
		}
		hc, err := client.NewHTTPClient(httpURL, opts...)
		if err != nil {
			return err
		}
		sessionsClient = hc
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if sessionsClient != nil {
			sessionsClient.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&httpURL, "http-url", defaultHTTPURL(), "HTTP server URL")
	rootCmd.PersistentFlags().StringVar(&grpcAddr, "server", defaultGRPCAddr(), "gRPC server address (health checks)")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", os.Getenv("SESSIONS_AUTH_TOKEN"), "bearer token")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVar(&compress, "compress", false, "zstd-compress request bodies")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sessions", Title: "Sessions:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)
	cobra.EnableCommandSorting = false

	// Sessions
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(attributeCmd)
	rootCmd.AddCommand(sessionsCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(healthCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.RenderError("Error: "+err.Error()))
		os.Exit(1)
	}
}
