// File: internal/ipc/server.go
package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/xkilldash9x/deskpilot-cli/api/schemas"
	"github.com/xkilldash9x/deskpilot-cli/internal/config"
	"go.uber.org/zap"
)

// ElementRef is a driver-side reference to a live UI element, valid only for
// the duration of the request that resolved it.
type ElementRef interface {
	// Invoke performs a pointer gesture on the element.
	Invoke(kind InteractionType) error
	// TypeText focuses the element and types into it.
	TypeText(text string) error
}

// Driver abstracts the OS automation primitives the server drives. The real
// implementation wraps the platform accessibility and input APIs; tests plug
// in a fake.
//
// Resolution methods return ErrHandleInvalid when the top-level window has
// died, and (nil, nil) when the window is alive but no element matched.
type Driver interface {
	// ScanTree walks the accessibility tree under root (the whole desktop
	// when root is NoHandle) and returns the actionable elements.
	ScanTree(ctx context.Context, root schemas.Handle) ([]schemas.UIElement, error)

	// WindowExists probes a top-level handle and reports its bounds when
	// alive.
	WindowExists(h schemas.Handle) (bool, schemas.Rect)

	// WindowList enumerates visible top-level windows.
	WindowList() ([]schemas.WindowInfo, error)

	// ActiveWindow reports the foreground window and caret state.
	ActiveWindow() (schemas.ActiveWindowInfo, error)

	CloseWindow(h schemas.Handle) error
	RaiseWindow(h schemas.Handle) error

	// ResolveAutomationID finds the element with the given automation ID
	// under a top-level window.
	ResolveAutomationID(top schemas.Handle, id string) (ElementRef, error)

	// ResolveNamed finds a visible descendant by accessible name and control
	// type.
	ResolveNamed(top schemas.Handle, name, controlType string) (ElementRef, error)

	// PointerAt performs a pointer gesture at absolute screen coordinates.
	PointerAt(p schemas.Point, kind InteractionType) error

	// TypeText types into whatever currently holds keyboard focus.
	TypeText(text string) error
}

// Server accepts authenticated single-request connections and executes verbs
// against the Driver. One goroutine per connection; the driver is assumed to
// serialize access to the OS internally where the platform requires it.
type Server struct {
	cfg    config.IPCConfig
	driver Driver
	logger *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	closing  bool
	cancel   context.CancelFunc

	wg sync.WaitGroup
}

// NewServer wires a server around a driver. Call Serve to start accepting.
func NewServer(cfg config.IPCConfig, driver Driver, logger *zap.Logger) *Server {
	return &Server{cfg: cfg, driver: driver, logger: logger.Named("ipc_server")}
}

// Serve listens on the configured address and blocks until ctx is cancelled,
// Close is called, or a shutdown verb arrives. In-flight requests are drained
// before return.
func (s *Server) Serve(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Address())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Address(), err)
	}
	// Handler contexts hang off this one so Close cancels any verb still
	// blocked inside the driver.
	serveCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		ln.Close()
		cancel()
		return nil
	}
	s.listener = ln
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Info("Automation server listening.", zap.String("address", ln.Addr().String()))

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.wg.Wait()
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(serveCtx, conn)
		}()
	}
}

// Addr returns the bound listen address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops the accept loop. Safe to call more than once.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closing = true
	if s.listener != nil {
		s.listener.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}
}

// connBudget bounds how long a single connection may occupy a handler. The
// slowest verb is a full-desktop scan, so the full-analyze budget plus a
// small margin covers everything.
func (s *Server) connBudget() time.Duration {
	return s.cfg.FullAnalyze + 5*time.Second
}

func (s *Server) handleConn(parent context.Context, conn net.Conn) {
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(s.connBudget())); err != nil {
		return
	}
	if err := issueChallenge(conn, []byte(s.cfg.Secret)); err != nil {
		s.logger.Warn("Rejected unauthenticated connection.",
			zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
		return
	}

	var req Request
	if err := readFrame(conn, &req); err != nil {
		s.logger.Debug("Failed to read request frame.", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(parent, s.connBudget())
	defer cancel()

	resp := s.execute(ctx, req)
	resp.ID = req.ID
	if err := writeFrame(conn, resp); err != nil {
		s.logger.Debug("Failed to write response frame.",
			zap.String("command", string(req.Command)), zap.Error(err))
	}

	if req.Command == VerbShutdown {
		s.Close()
	}
}

func (s *Server) execute(ctx context.Context, req Request) Response {
	switch req.Command {
	case VerbAnalyze:
		return s.doAnalyze(ctx, req.Payload)
	case VerbCheckHandle:
		exists, rect := s.driver.WindowExists(req.Payload.Handle)
		resp := Response{Status: statusSuccess, Exists: exists}
		if exists {
			resp.Rect = &rect
		}
		return resp
	case VerbWindowList:
		windows, err := s.driver.WindowList()
		if err != nil {
			return errorResponse(err)
		}
		return Response{Status: statusSuccess, Windows: windows}
	case VerbActiveWindow:
		active, err := s.driver.ActiveWindow()
		if err != nil {
			return errorResponse(err)
		}
		return Response{Status: statusSuccess, Active: &active}
	case VerbInteract:
		if err := s.doInteract(req.Payload); err != nil {
			return errorResponse(err)
		}
		return Response{Status: statusSuccess}
	case VerbCloseWindow:
		if err := s.driver.CloseWindow(req.Payload.Handle); err != nil {
			return errorResponse(err)
		}
		return Response{Status: statusSuccess}
	case VerbRaiseWindow:
		if err := s.driver.RaiseWindow(req.Payload.Handle); err != nil {
			return errorResponse(err)
		}
		return Response{Status: statusSuccess}
	case VerbPing:
		return Response{Status: "pong"}
	case VerbShutdown:
		return Response{Status: statusSuccess, Message: "shutting down"}
	default:
		return Response{Status: statusError, Message: fmt.Sprintf("unknown command %q", req.Command)}
	}
}

func (s *Server) doAnalyze(ctx context.Context, p Payload) Response {
	elements, err := s.driver.ScanTree(ctx, p.RootHandle)
	if err != nil {
		return errorResponse(err)
	}
	if elements == nil {
		elements = []schemas.UIElement{}
	}
	return Response{Status: statusSuccess, Data: elements}
}

// doInteract resolves the target in tiers and drives it. Automation ID is
// the most stable key, the name/type pair is next, and the recorded
// rectangle's center is the last resort for elements the live tree no longer
// reports.
func (s *Server) doInteract(p Payload) error {
	ref, err := s.resolve(p)
	if err != nil {
		return err
	}

	if p.Interaction == InteractType {
		if ref != nil {
			return ref.TypeText(p.Text)
		}
		if p.TargetRect == nil {
			return fmt.Errorf("type target not found and no rectangle supplied")
		}
		// Click to focus, then type blind.
		if err := s.driver.PointerAt(p.TargetRect.Center(), InteractClick); err != nil {
			return err
		}
		return s.driver.TypeText(p.Text)
	}

	if ref != nil {
		return ref.Invoke(p.Interaction)
	}
	if p.TargetRect == nil {
		return fmt.Errorf("target not found and no rectangle supplied")
	}
	return s.driver.PointerAt(p.TargetRect.Center(), p.Interaction)
}

func (s *Server) resolve(p Payload) (ElementRef, error) {
	if p.AutomationID != "" {
		ref, err := s.driver.ResolveAutomationID(p.TopHandle, p.AutomationID)
		if err != nil {
			return nil, err
		}
		if ref != nil {
			return ref, nil
		}
	}
	if p.Name != "" {
		ref, err := s.driver.ResolveNamed(p.TopHandle, p.Name, p.ControlType)
		if err != nil {
			return nil, err
		}
		if ref != nil {
			return ref, nil
		}
	}
	return nil, nil
}

// errorResponse maps driver failures onto the wire. Stale handles keep their
// distinguished marker so the client can classify them.
func errorResponse(err error) Response {
	if errors.Is(err, ErrHandleInvalid) {
		return Response{Status: statusError, Message: msgHandleInvalid}
	}
	return Response{Status: statusError, Message: err.Error()}
}
