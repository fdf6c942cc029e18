// File: cmd/run.go
package cmd

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot-cli/internal/appindex"
	"github.com/xkilldash9x/deskpilot-cli/internal/dispatch"
	"github.com/xkilldash9x/deskpilot-cli/internal/engine"
	"github.com/xkilldash9x/deskpilot-cli/internal/events"
	"github.com/xkilldash9x/deskpilot-cli/internal/focus"
	"github.com/xkilldash9x/deskpilot-cli/internal/ipc"
	"github.com/xkilldash9x/deskpilot-cli/internal/observability"
	"github.com/xkilldash9x/deskpilot-cli/internal/observe"
	"github.com/xkilldash9x/deskpilot-cli/internal/planner"
)

// newRunCmd creates the `run` command: drive one objective to completion.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <objective...>",
		Short: "Runs the control loop until the objective completes or fails",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			objective := strings.Join(args, " ")
			logger := observability.GetLogger()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client := ipc.NewClient(appCfg.IPC, logger)
			if !client.Ping(ctx) {
				return fmt.Errorf("automation server is not answering at %s", appCfg.IPC.Address())
			}

			mind, err := planner.NewGeminiMind(ctx, appCfg.Agent, logger)
			if err != nil {
				return fmt.Errorf("initialize decision function: %w", err)
			}

			tracker := focus.NewTracker(client, logger)
			capturer := observe.NewCapturer(appCfg.Capture, client, platformGrabber{}, nil, logger)
			index := appindex.New(appindex.NewShellSourcer(appCfg.AppIndex, logger), logger)
			dispatcher := dispatch.New(appCfg.Dispatch, client,
				dispatch.NewLoggingPointer(logger), tracker, index,
				dispatch.CmdStarter{}, dispatch.NewCmdShell(logger), logger)

			bus := events.NewBus(logger, appCfg.Events.BufferSize)
			defer bus.Close()
			sink := events.Tee(events.NewLogSink(logger), bus)

			loop := engine.New(appCfg.Engine, capturer, client, tracker, dispatcher, mind, sink, logger)
			if err := loop.Run(ctx, objective); err != nil {
				return fmt.Errorf("objective %q: %w", objective, err)
			}
			logger.Info("Objective completed.", zap.String("objective", objective))
			return nil
		},
	}
}

// platformGrabber is the screen-capture binding point. Without a platform
// backend it reports failure, which the capturer turns into its blank
// placeholder frame, keeping the loop alive on headless machines.
type platformGrabber struct{}

func (platformGrabber) Grab(int) (*observe.Frame, error) {
	return nil, fmt.Errorf("no screen capture backend on this platform")
}
