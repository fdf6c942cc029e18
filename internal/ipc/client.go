// File: internal/ipc/client.go
package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/xkilldash9x/deskpilot-cli/api/schemas"
	"github.com/xkilldash9x/deskpilot-cli/internal/config"
	"go.uber.org/zap"
)

// Client speaks the connection-per-request protocol to the automation server.
// It is stateless and safe for use from the single control-loop goroutine;
// every call opens, authenticates, exchanges one envelope pair, and closes.
type Client struct {
	cfg    config.IPCConfig
	logger *zap.Logger
}

// NewClient builds a client for the configured server address.
func NewClient(cfg config.IPCConfig, logger *zap.Logger) *Client {
	return &Client{cfg: cfg, logger: logger.Named("ipc_client")}
}

// roundTrip performs one full request/response exchange with the given
// response deadline. Transport-level failures are classified into the typed
// errors the error taxonomy names.
func (c *Client) roundTrip(ctx context.Context, req Request, timeout time.Duration) (*Response, error) {
	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Address())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServerUnreachable, err)
	}
	defer conn.Close()

	// The handshake shares the dial budget; a server that accepts but never
	// authenticates is as unreachable as one that refuses.
	if err := conn.SetDeadline(time.Now().Add(c.cfg.DialTimeout)); err != nil {
		return nil, err
	}
	if err := answerChallenge(conn, []byte(c.cfg.Secret)); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if err := writeFrame(conn, req); err != nil {
		return nil, fmt.Errorf("send %s: %w", req.Command, err)
	}

	var resp Response
	if err := readFrame(conn, &resp); err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, req.Command, timeout)
		}
		return nil, fmt.Errorf("receive %s: %w", req.Command, err)
	}
	return &resp, nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded)
}

// Analyze requests a structural scan. A zero root handle means full desktop.
//
// The failure semantics differ by scope: on a scoped scan, a timeout or an
// explicit HandleInvalid response both mean the target window died and
// surface as ErrHandleInvalid; on a full scan, a timeout is ErrTimeout and
// fatal for the cycle. Any other server-side error degrades to an empty
// element list.
func (c *Client) Analyze(ctx context.Context, root schemas.Handle) ([]schemas.UIElement, error) {
	timeout := c.cfg.FullAnalyze
	if root != schemas.NoHandle {
		timeout = c.cfg.ScopedAnalyze
	}

	resp, err := c.roundTrip(ctx, Request{Command: VerbAnalyze, Payload: Payload{RootHandle: root}}, timeout)
	if err != nil {
		if root != schemas.NoHandle && errors.Is(err, ErrTimeout) {
			return nil, fmt.Errorf("%w: scoped analyze timed out", ErrHandleInvalid)
		}
		return nil, err
	}
	if resp.HandleInvalid() {
		return nil, ErrHandleInvalid
	}
	if !resp.OK() {
		c.logger.Warn("Analyze returned server-side error; treating as empty scan.",
			zap.String("message", resp.Message))
		return nil, nil
	}
	return resp.Data, nil
}

// CheckHandle probes whether a window still exists. Failures degrade to
// "does not exist": a handle we cannot verify must never be trusted.
func (c *Client) CheckHandle(ctx context.Context, h schemas.Handle) (bool, schemas.Rect) {
	resp, err := c.roundTrip(ctx, Request{Command: VerbCheckHandle, Payload: Payload{Handle: h}}, c.cfg.ProbeWait)
	if err != nil {
		c.logger.Debug("check_handle degraded to not-exists", zap.Uint64("handle", uint64(h)), zap.Error(err))
		return false, schemas.Rect{}
	}
	if !resp.Exists {
		return false, schemas.Rect{}
	}
	var rect schemas.Rect
	if resp.Rect != nil {
		rect = *resp.Rect
	}
	return true, rect
}

// WindowList fetches the live top-level window set. Non-critical telemetry:
// any failure degrades silently to an empty list.
func (c *Client) WindowList(ctx context.Context) []schemas.WindowInfo {
	resp, err := c.roundTrip(ctx, Request{Command: VerbWindowList}, c.cfg.TelemetryWait)
	if err != nil || !resp.OK() {
		if err != nil {
			c.logger.Debug("get_window_list degraded to empty", zap.Error(err))
		}
		return nil
	}
	return resp.Windows
}

// ActiveWindow fetches the foreground window plus caret state. Degrades to
// (zero, false) on any failure.
func (c *Client) ActiveWindow(ctx context.Context) (schemas.ActiveWindowInfo, bool) {
	resp, err := c.roundTrip(ctx, Request{Command: VerbActiveWindow}, c.cfg.TelemetryWait)
	if err != nil || !resp.OK() || resp.Active == nil {
		if err != nil {
			c.logger.Debug("get_active_window degraded", zap.Error(err))
		}
		return schemas.ActiveWindowInfo{}, false
	}
	return *resp.Active, true
}

// Interact asks the server to resolve and drive one element. The server
// resolves by automation ID first, then by name and control type among
// visible descendants, then falls back to the supplied rectangle's center.
func (c *Client) Interact(ctx context.Context, p Payload) error {
	resp, err := c.roundTrip(ctx, Request{Command: VerbInteract, Payload: p}, c.cfg.InteractWait)
	if err != nil {
		return err
	}
	if !resp.OK() {
		if resp.HandleInvalid() {
			return ErrHandleInvalid
		}
		return fmt.Errorf("%w: %s", ErrInteractionFailed, resp.Message)
	}
	return nil
}

// CloseWindow posts a close request for the given window.
func (c *Client) CloseWindow(ctx context.Context, h schemas.Handle) error {
	resp, err := c.roundTrip(ctx, Request{Command: VerbCloseWindow, Payload: Payload{Handle: h}}, c.cfg.TelemetryWait)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("close_window: %s", resp.Message)
	}
	return nil
}

// RaiseWindow asks the server to restore and foreground a window. Best
// effort: callers that can proceed without focus treat failure as a note.
func (c *Client) RaiseWindow(ctx context.Context, h schemas.Handle) error {
	resp, err := c.roundTrip(ctx, Request{Command: VerbRaiseWindow, Payload: Payload{Handle: h}}, c.cfg.TelemetryWait)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("raise_window: %s", resp.Message)
	}
	return nil
}

// Ping reports whether the server answers at all. Degrades to false.
func (c *Client) Ping(ctx context.Context) bool {
	resp, err := c.roundTrip(ctx, Request{Command: VerbPing}, c.cfg.TelemetryWait)
	return err == nil && resp.Status == "pong"
}

// Shutdown asks the server to exit. Best effort.
func (c *Client) Shutdown(ctx context.Context) error {
	_, err := c.roundTrip(ctx, Request{Command: VerbShutdown}, c.cfg.TelemetryWait)
	return err
}
