package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/miyah/internal/client"
	"github.com/alfredjeanlab/miyah/internal/server"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check the health of the report store",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		grpcAddr, _ := cmd.Flags().GetString("grpc")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		out := struct {
			Status      string `json:"status"`
			ReportCount int    `json:"reportCount"`
			GRPC        string `json:"grpc,omitempty"`
		}{}

		resp, err := reportsClient.Health(ctx)
		if err != nil {
			return fmt.Errorf("checking health: %w", err)
		}
		out.Status = resp.Status
		out.ReportCount = resp.ReportCount

		if grpcAddr != "" {
			status, err := client.GRPCHealth(ctx, grpcAddr, server.HealthService)
			if err != nil {
				return fmt.Errorf("checking gRPC health: %w", err)
			}
			out.GRPC = status
		}

		if jsonOutput {
			if err := printJSON(out); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(stdout, "Health:  %s (%d reports)\n", out.Status, out.ReportCount)
			if out.GRPC != "" {
				fmt.Fprintf(stdout, "gRPC:    %s\n", out.GRPC)
			}
		}

		if out.Status != "ok" {
			return fmt.Errorf("unhealthy: %s", out.Status)
		}
		if out.GRPC != "" && out.GRPC != "SERVING" {
			return fmt.Errorf("gRPC unhealthy: %s", out.GRPC)
		}
		return nil
	},
}

func init() {
	healthCmd.Flags().String("grpc", "", "also probe the gRPC health service at this address")
	healthCmd.Flags().Duration("timeout", 5*time.Second, "overall timeout")
}
