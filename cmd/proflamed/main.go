// Proflame Bridge
//
// proflamed keeps a persistent websocket session to a Proflame fireplace
// controller and exposes it over MQTT and a local HTTP API. Every change the
// fireplace reports is journalled to SQLite and, optionally, InfluxDB.
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
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	// defaultConfigPath is used when neither --config nor PROFLAME_CONFIG is set.
	defaultConfigPath = "configs/config.yaml"

	configEnvVar = "PROFLAME_CONFIG"
)

func main() {
	// Cancel on Ctrl+C and SIGTERM so serve can shut down in order.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1) //nolint:gocritic // cancel called explicitly above
	}
}

// newRootCmd builds the proflamed command tree.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "proflamed",
		Short:         "Bridge a Proflame fireplace to MQTT and HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to the YAML config file (default $"+configEnvVar+" or "+defaultConfigPath+")")

	root.AddCommand(
		newServeCmd(&configPath),
		newMigrateCmd(&configPath),
		newProbeCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "proflamed %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

// getConfigPath resolves the configuration file path.
// The flag wins, then PROFLAME_CONFIG, then the default.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}
