package main

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/ashureev/netdesk/internal/agent"
	"github.com/spf13/cobra"
)

func newAgentCommand(logger *slog.Logger) *cobra.Command {
	var (
		addr  string
		delay time.Duration
	)
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Serve the simulated AI responder over gRPC",
		Long: "Serve the simulated AI responder over gRPC so chat servers running with " +
			"AI_BACKEND=grpc have a backend to talk to during development.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			lis, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", addr, err)
			}
			return agent.Serve(cmd.Context(), lis, agent.Simulated{Delay: delay}, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":50051", "gRPC listen address")
	cmd.Flags().DurationVar(&delay, "delay", 1500*time.Millisecond, "delay before each reply")
	return cmd
}
