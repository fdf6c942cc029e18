// File: internal/dispatch/exec.go
package dispatch

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot-cli/api/schemas"
)

// CmdStarter launches an app command through the platform shell and does not
// wait for it; window detection is the dispatcher's polling loop's job.
type CmdStarter struct{}

func (CmdStarter) Start(command string) error {
	cmd := platformShell(context.Background(), command)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %q: %w", command, err)
	}
	// Reap the child when it exits so a short-lived launcher process does
	// not linger as a zombie.
	go func() { _ = cmd.Wait() }()
	return nil
}

// CmdShell runs a user-level command line to completion and captures stdout
// and stderr combined. The caller bounds the duration via ctx.
type CmdShell struct {
	logger *zap.Logger
}

// NewCmdShell builds the shell runner.
func NewCmdShell(logger *zap.Logger) *CmdShell {
	return &CmdShell{logger: logger.Named("shell")}
}

func (s *CmdShell) Run(ctx context.Context, commandLine string) (string, error) {
	s.logger.Info("Running shell command.", zap.String("command", commandLine))
	out, err := platformShell(ctx, commandLine).CombinedOutput()
	output := strings.TrimSpace(string(out))
	if err != nil {
		if ctx.Err() != nil {
			return output, fmt.Errorf("timed out: %w", ctx.Err())
		}
		// A nonzero exit is still a reportable outcome; keep the output so
		// the decision function sees what the command printed.
		if output != "" {
			return output + "\n" + err.Error(), nil
		}
		return "", err
	}
	return output, nil
}

func platformShell(ctx context.Context, line string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", line)
	}
	return exec.CommandContext(ctx, "sh", "-c", line)
}

// LoggingPointer is the stand-in local input backend used until a platform
// implementation is wired in: it records what would have been done and
// reports success, keeping dry runs and tests of the surrounding machinery
// honest about sequencing.
type LoggingPointer struct {
	logger *zap.Logger
}

// NewLoggingPointer builds the stand-in pointer.
func NewLoggingPointer(logger *zap.Logger) *LoggingPointer {
	return &LoggingPointer{logger: logger.Named("pointer")}
}

func (p *LoggingPointer) Click(pt schemas.Point, kind schemas.ClickKind) error {
	p.logger.Info("Pointer click.", zap.Int("x", pt.X), zap.Int("y", pt.Y), zap.String("kind", string(kind)))
	return nil
}

func (p *LoggingPointer) TypeText(text string) error {
	p.logger.Info("Pointer type.", zap.Int("chars", len(text)))
	return nil
}

func (p *LoggingPointer) PressKey(key string) error {
	p.logger.Info("Pointer keypress.", zap.String("key", key))
	return nil
}
