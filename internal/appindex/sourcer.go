// File: internal/appindex/sourcer.go
package appindex

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"

	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot-cli/internal/config"
)

// ShellSourcer enumerates installed applications by running the configured
// shell pipeline (on Windows, `Get-StartApps | ConvertTo-Json`) and parsing
// its JSON output. An empty command yields an empty listing, leaving the
// index to serve aliases only.
type ShellSourcer struct {
	cfg    config.AppIndexConfig
	logger *zap.Logger
}

// NewShellSourcer builds a sourcer from configuration.
func NewShellSourcer(cfg config.AppIndexConfig, logger *zap.Logger) *ShellSourcer {
	return &ShellSourcer{cfg: cfg, logger: logger.Named("app_sourcer")}
}

// List runs the enumeration command under the configured timeout.
func (s *ShellSourcer) List(ctx context.Context) (map[string]string, error) {
	if s.cfg.IndexCommand == "" {
		return map[string]string{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.IndexTimeout)
	defer cancel()

	out, err := shellCommand(ctx, s.cfg.IndexCommand).Output()
	if err != nil {
		return nil, fmt.Errorf("enumerate applications: %w", err)
	}
	return ParseStartApps(out)
}

func shellCommand(ctx context.Context, line string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", line)
	}
	return exec.CommandContext(ctx, "sh", "-c", line)
}
