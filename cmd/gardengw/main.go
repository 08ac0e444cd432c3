// Smart Garden Gateway
//
// gardengw bridges the garden's nRF24 sensor nodes to an MQTT broker.
// Telemetry received over the radio is published as JSON on each node's
// telemetry topic, and "ON"/"OFF" pump commands received from the broker are
// forwarded to the addressed node.
//
// Usage:
//
//	gardengw --config configs/config.yaml
//	gardengw version
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

func main() {
	// Cancel on Ctrl+C or SIGTERM so the control loop and servers shut down
	// cleanly.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. A fresh tree per call keeps flag
// state out of package globals.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "gardengw",
		Short: "Smart garden MQTT to nRF24 gateway",
		Long: `gardengw owns the nRF24 radio and the MQTT session.

It publishes node telemetry to smartgarden/<area>/node/<id>/data and forwards
pump commands from smartgarden/<area>/node/<id>/pump to the addressed node.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "",
		"path to config.yaml (default $SMARTGARDEN_CONFIG or configs/config.yaml)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gardengw %s (commit %s, built %s)\n", version, commit, date)
		},
	})

	return root
}
