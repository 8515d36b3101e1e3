package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/alfredjeanlab/sessions/internal/client"
	"github.com/alfredjeanlab/sessions/internal/server"
)

var healthGRPC bool

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check the health of a running sessiond",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if healthGRPC {
			return grpcHealth(ctx)
		}

		status, err := sessionsClient.Health(ctx)
		if err != nil {
			return fmt.Errorf("checking health: %w", err)
		}
		if jsonOutput {
			return printJSON(map[string]string{"status": status})
		}
		fmt.Printf("Health: %s\n", status)
		if status != "ok" {
			return fmt.Errorf("unhealthy: %s", status)
		}
		return nil
	},
}

func grpcHealth(ctx context.Context) error {
	hc, err := client.NewHealthClient(grpcAddr)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer hc.Close()

	resp, err := hc.Check(ctx, server.ServiceName)
	if err != nil {
		return err
	}
	if jsonOutput {
		data, err := protojson.MarshalOptions{Multiline: true}.Marshal(resp)
		if err != nil {
			return fmt.Errorf("marshaling JSON: %w", err)
		}
		fmt.Println(string(data))
	} else {
		fmt.Printf("Health: %s\n", resp.GetStatus())
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("unhealthy: %s", resp.GetStatus())
	}
	return nil
}

func init() {
	healthCmd.Flags().BoolVar(&healthGRPC, "grpc", false, "query the gRPC health service at --server instead of HTTP")
}
