// File: cmd/serve.go
package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/deskpilot-cli/internal/ipc"
	"github.com/xkilldash9x/deskpilot-cli/internal/observability"
)

// newServeCmd creates the `serve` command: the automation-server side of the
// IPC channel. With no platform flag the server drives the simulated
// desktop, which is enough to exercise the full client path end to end.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the automation server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			driver := ipc.NewSimDriver(logger)
			server := ipc.NewServer(appCfg.IPC, driver, logger)
			return server.Serve(ctx)
		},
	}
}
