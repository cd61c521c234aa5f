package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/proflame-bridge/internal/bridges/proflame"
)

// errUnreachable is returned when the probed controller does not answer, so
// the process exits non-zero.
var errUnreachable = errors.New("fireplace unreachable")

func newProbeCmd() *cobra.Command {
	var (
		port    int
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "probe <host>",
		Short: "Check whether a fireplace answers the handshake",
		Long: `Open a fresh websocket to the controller, send the handshake and wait
for the acknowledgement. The running service, if any, is not touched.

Usage
	proflamed probe 192.168.1.40
	proflamed probe fireplace.local --port 88 --timeout 5s
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return runProbe(ctx, cmd, args[0], port)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", proflame.DefaultPort, "controller websocket port")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 10*time.Second, "overall probe timeout")
	return cmd
}

func runProbe(ctx context.Context, cmd *cobra.Command, host string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}

	if err := proflame.Probe(ctx, host, port); err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "%s:%d unreachable: %v\n", host, port, err)
		return errUnreachable
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s:%d reachable\n", host, port)
	return nil
}
