// File: internal/ipc/ipc_test.go
package ipc

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot-cli/api/schemas"
	"github.com/xkilldash9x/deskpilot-cli/internal/config"
)

// --- Fakes ---

type fakeRef struct {
	mu        sync.Mutex
	invoked   []InteractionType
	typed     []string
	invokeErr error
	typeErr   error
}

func (f *fakeRef) Invoke(kind InteractionType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invoked = append(f.invoked, kind)
	return f.invokeErr
}

func (f *fakeRef) TypeText(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typed = append(f.typed, text)
	return f.typeErr
}

type fakeDriver struct {
	scanTreeFunc     func(ctx context.Context, root schemas.Handle) ([]schemas.UIElement, error)
	windowExistsFunc func(h schemas.Handle) (bool, schemas.Rect)
	windowListFunc   func() ([]schemas.WindowInfo, error)
	activeWindowFunc func() (schemas.ActiveWindowInfo, error)
	closeWindowFunc  func(h schemas.Handle) error
	raiseWindowFunc  func(h schemas.Handle) error
	resolveAutoFunc  func(top schemas.Handle, id string) (ElementRef, error)
	resolveNamedFunc func(top schemas.Handle, name, controlType string) (ElementRef, error)
	pointerAtFunc    func(p schemas.Point, kind InteractionType) error
	typeTextFunc     func(text string) error
}

func (f *fakeDriver) ScanTree(ctx context.Context, root schemas.Handle) ([]schemas.UIElement, error) {
	if f.scanTreeFunc != nil {
		return f.scanTreeFunc(ctx, root)
	}
	return nil, nil
}

func (f *fakeDriver) WindowExists(h schemas.Handle) (bool, schemas.Rect) {
	if f.windowExistsFunc != nil {
		return f.windowExistsFunc(h)
	}
	return false, schemas.Rect{}
}

func (f *fakeDriver) WindowList() ([]schemas.WindowInfo, error) {
	if f.windowListFunc != nil {
		return f.windowListFunc()
	}
	return nil, nil
}

func (f *fakeDriver) ActiveWindow() (schemas.ActiveWindowInfo, error) {
	if f.activeWindowFunc != nil {
		return f.activeWindowFunc()
	}
	return schemas.ActiveWindowInfo{}, nil
}

func (f *fakeDriver) CloseWindow(h schemas.Handle) error {
	if f.closeWindowFunc != nil {
		return f.closeWindowFunc(h)
	}
	return nil
}

func (f *fakeDriver) RaiseWindow(h schemas.Handle) error {
	if f.raiseWindowFunc != nil {
		return f.raiseWindowFunc(h)
	}
	return nil
}

func (f *fakeDriver) ResolveAutomationID(top schemas.Handle, id string) (ElementRef, error) {
	if f.resolveAutoFunc != nil {
		return f.resolveAutoFunc(top, id)
	}
	return nil, nil
}

func (f *fakeDriver) ResolveNamed(top schemas.Handle, name, controlType string) (ElementRef, error) {
	if f.resolveNamedFunc != nil {
		return f.resolveNamedFunc(top, name, controlType)
	}
	return nil, nil
}

func (f *fakeDriver) PointerAt(p schemas.Point, kind InteractionType) error {
	if f.pointerAtFunc != nil {
		return f.pointerAtFunc(p, kind)
	}
	return nil
}

func (f *fakeDriver) TypeText(text string) error {
	if f.typeTextFunc != nil {
		return f.typeTextFunc(text)
	}
	return nil
}

// --- Harness ---

func testIPCConfig() config.IPCConfig {
	return config.IPCConfig{
		Host:          "127.0.0.1",
		Port:          0,
		Secret:        "test-secret",
		DialTimeout:   2 * time.Second,
		ScopedAnalyze: 200 * time.Millisecond,
		FullAnalyze:   2 * time.Second,
		InteractWait:  2 * time.Second,
		ProbeWait:     500 * time.Millisecond,
		TelemetryWait: 500 * time.Millisecond,
	}
}

// startPair runs a server over a loopback ephemeral port and returns a client
// wired to it. Both are torn down with the test.
func startPair(t *testing.T, driver Driver, mutate func(*config.IPCConfig)) *Client {
	t.Helper()

	cfg := testIPCConfig()
	srv := NewServer(cfg, driver, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	require.Eventually(t, func() bool { return srv.Addr() != nil },
		2*time.Second, 10*time.Millisecond, "server never bound")

	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	_, portStr, err := net.SplitHostPort(srv.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	clientCfg := cfg
	clientCfg.Port = port
	if mutate != nil {
		mutate(&clientCfg)
	}
	return NewClient(clientCfg, zap.NewNop())
}

// --- Tests ---

func TestClientAnalyzeFullDesktop(t *testing.T) {
	// -- Setup --
	driver := &fakeDriver{
		scanTreeFunc: func(_ context.Context, root schemas.Handle) ([]schemas.UIElement, error) {
			assert.Equal(t, schemas.NoHandle, root)
			return []schemas.UIElement{
				{ID: 1, Name: "OK", Type: "Button", OwnerHandle: 42, Source: schemas.SourceStructural},
				{ID: 2, Name: "Cancel", Type: "Button", OwnerHandle: 42, Source: schemas.SourceStructural},
			}, nil
		},
	}
	client := startPair(t, driver, nil)

	// -- Execution --
	elements, err := client.Analyze(context.Background(), schemas.NoHandle)

	// -- Assertions --
	require.NoError(t, err)
	require.Len(t, elements, 2)
	assert.Equal(t, "OK", elements[0].Name)
	assert.Equal(t, schemas.Handle(42), elements[1].OwnerHandle)
}

func TestClientAnalyzeScopedStaleHandle(t *testing.T) {
	// -- Setup --
	driver := &fakeDriver{
		scanTreeFunc: func(context.Context, schemas.Handle) ([]schemas.UIElement, error) {
			return nil, ErrHandleInvalid
		},
	}
	client := startPair(t, driver, nil)

	// -- Execution --
	elements, err := client.Analyze(context.Background(), schemas.Handle(99))

	// -- Assertions --
	require.ErrorIs(t, err, ErrHandleInvalid)
	assert.Nil(t, elements)
}

func TestClientAnalyzeScopedTimeoutMeansStaleHandle(t *testing.T) {
	// A scoped scan that hangs past its deadline is indistinguishable from a
	// dead window and must be reported as a stale handle.

	// -- Setup --
	driver := &fakeDriver{
		scanTreeFunc: func(ctx context.Context, _ schemas.Handle) ([]schemas.UIElement, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	client := startPair(t, driver, nil)

	// -- Execution --
	_, err := client.Analyze(context.Background(), schemas.Handle(7))

	// -- Assertions --
	require.ErrorIs(t, err, ErrHandleInvalid)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestClientAnalyzeFullTimeout(t *testing.T) {
	// -- Setup --
	driver := &fakeDriver{
		scanTreeFunc: func(ctx context.Context, _ schemas.Handle) ([]schemas.UIElement, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	client := startPair(t, driver, func(c *config.IPCConfig) {
		c.FullAnalyze = 150 * time.Millisecond
	})

	// -- Execution --
	_, err := client.Analyze(context.Background(), schemas.NoHandle)

	// -- Assertions --
	require.ErrorIs(t, err, ErrTimeout)
}

func TestClientAnalyzeServerErrorDegradesToEmpty(t *testing.T) {
	// -- Setup --
	driver := &fakeDriver{
		scanTreeFunc: func(context.Context, schemas.Handle) ([]schemas.UIElement, error) {
			return nil, errors.New("COM apartment wedged")
		},
	}
	client := startPair(t, driver, nil)

	// -- Execution --
	elements, err := client.Analyze(context.Background(), schemas.NoHandle)

	// -- Assertions --
	require.NoError(t, err)
	assert.Empty(t, elements)
}

func TestClientUnreachableServer(t *testing.T) {
	// -- Setup --
	cfg := testIPCConfig()
	cfg.Port = 1 // nothing listens here
	cfg.DialTimeout = 200 * time.Millisecond
	client := NewClient(cfg, zap.NewNop())

	// -- Execution --
	_, err := client.Analyze(context.Background(), schemas.NoHandle)
	exists, _ := client.CheckHandle(context.Background(), schemas.Handle(1))

	// -- Assertions --
	require.ErrorIs(t, err, ErrServerUnreachable)
	assert.False(t, exists, "probe against dead server must degrade to not-exists")
}

func TestClientAuthRejectedOnWrongSecret(t *testing.T) {
	// -- Setup --
	client := startPair(t, &fakeDriver{}, func(c *config.IPCConfig) {
		c.Secret = "wrong-secret"
	})

	// -- Execution --
	_, err := client.Analyze(context.Background(), schemas.NoHandle)

	// -- Assertions --
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestClientCheckHandle(t *testing.T) {
	// -- Setup --
	rect := schemas.Rect{Left: 10, Top: 20, Right: 410, Bottom: 320}
	driver := &fakeDriver{
		windowExistsFunc: func(h schemas.Handle) (bool, schemas.Rect) {
			return h == 42, rect
		},
	}
	client := startPair(t, driver, nil)

	// -- Execution --
	aliveExists, aliveRect := client.CheckHandle(context.Background(), schemas.Handle(42))
	deadExists, deadRect := client.CheckHandle(context.Background(), schemas.Handle(43))

	// -- Assertions --
	assert.True(t, aliveExists)
	assert.Equal(t, rect, aliveRect)
	assert.False(t, deadExists)
	assert.True(t, deadRect.IsZero())
}

func TestClientWindowListAndActiveWindow(t *testing.T) {
	// -- Setup --
	driver := &fakeDriver{
		windowListFunc: func() ([]schemas.WindowInfo, error) {
			return []schemas.WindowInfo{
				{Handle: 1, Title: "Notepad"},
				{Handle: 2, Title: "Calculator"},
			}, nil
		},
		activeWindowFunc: func() (schemas.ActiveWindowInfo, error) {
			return schemas.ActiveWindowInfo{
				Handle: 1,
				Title:  "Notepad",
				Caret:  schemas.CaretInfo{Active: true},
			}, nil
		},
	}
	client := startPair(t, driver, nil)

	// -- Execution --
	windows := client.WindowList(context.Background())
	active, ok := client.ActiveWindow(context.Background())

	// -- Assertions --
	require.Len(t, windows, 2)
	assert.Equal(t, "Calculator", windows[1].Title)
	require.True(t, ok)
	assert.Equal(t, schemas.Handle(1), active.Handle)
	assert.True(t, active.Caret.Active)
}

func TestServerInteractResolvesByAutomationIDFirst(t *testing.T) {
	// -- Setup --
	ref := &fakeRef{}
	namedCalled := false
	driver := &fakeDriver{
		resolveAutoFunc: func(top schemas.Handle, id string) (ElementRef, error) {
			assert.Equal(t, schemas.Handle(42), top)
			assert.Equal(t, "btnSubmit", id)
			return ref, nil
		},
		resolveNamedFunc: func(schemas.Handle, string, string) (ElementRef, error) {
			namedCalled = true
			return nil, nil
		},
	}
	client := startPair(t, driver, nil)

	// -- Execution --
	err := client.Interact(context.Background(), Payload{
		TopHandle:    42,
		AutomationID: "btnSubmit",
		Name:         "Submit",
		ControlType:  "Button",
		Interaction:  InteractClick,
	})

	// -- Assertions --
	require.NoError(t, err)
	assert.Equal(t, []InteractionType{InteractClick}, ref.invoked)
	assert.False(t, namedCalled, "name lookup must not run when the automation ID resolves")
}

func TestServerInteractFallsBackToNameThenCoordinates(t *testing.T) {
	// -- Setup --
	ref := &fakeRef{}
	var pointerCalls []schemas.Point
	driver := &fakeDriver{
		resolveAutoFunc: func(schemas.Handle, string) (ElementRef, error) {
			return nil, nil
		},
		resolveNamedFunc: func(_ schemas.Handle, name, controlType string) (ElementRef, error) {
			if name == "Save" && controlType == "Button" {
				return ref, nil
			}
			return nil, nil
		},
		pointerAtFunc: func(p schemas.Point, kind InteractionType) error {
			pointerCalls = append(pointerCalls, p)
			assert.Equal(t, InteractDoubleClick, kind)
			return nil
		},
	}
	client := startPair(t, driver, nil)
	rect := schemas.Rect{Left: 100, Top: 100, Right: 200, Bottom: 140}

	// -- Execution --
	nameHit := client.Interact(context.Background(), Payload{
		TopHandle:    42,
		AutomationID: "gone",
		Name:         "Save",
		ControlType:  "Button",
		Interaction:  InteractClick,
	})
	coordHit := client.Interact(context.Background(), Payload{
		TopHandle:   42,
		Name:        "Vanished",
		ControlType: "Button",
		Interaction: InteractDoubleClick,
		TargetRect:  &rect,
	})

	// -- Assertions --
	require.NoError(t, nameHit)
	assert.Equal(t, []InteractionType{InteractClick}, ref.invoked)

	require.NoError(t, coordHit)
	require.Len(t, pointerCalls, 1)
	assert.Equal(t, rect.Center(), pointerCalls[0])
}

func TestServerInteractTypeClicksThenTypesWhenUnresolved(t *testing.T) {
	// -- Setup --
	var gestures []InteractionType
	var typed []string
	driver := &fakeDriver{
		pointerAtFunc: func(_ schemas.Point, kind InteractionType) error {
			gestures = append(gestures, kind)
			return nil
		},
		typeTextFunc: func(text string) error {
			typed = append(typed, text)
			return nil
		},
	}
	client := startPair(t, driver, nil)
	rect := schemas.Rect{Left: 0, Top: 0, Right: 100, Bottom: 30}

	// -- Execution --
	err := client.Interact(context.Background(), Payload{
		TopHandle:   42,
		Name:        "Search box",
		Interaction: InteractType,
		Text:        "hello world",
		TargetRect:  &rect,
	})

	// -- Assertions --
	require.NoError(t, err)
	assert.Equal(t, []InteractionType{InteractClick}, gestures, "focus click must precede typing")
	assert.Equal(t, []string{"hello world"}, typed)
}

func TestServerInteractStaleHandleSurfacesTyped(t *testing.T) {
	// -- Setup --
	driver := &fakeDriver{
		resolveAutoFunc: func(schemas.Handle, string) (ElementRef, error) {
			return nil, ErrHandleInvalid
		},
	}
	client := startPair(t, driver, nil)

	// -- Execution --
	err := client.Interact(context.Background(), Payload{
		TopHandle:    42,
		AutomationID: "btn",
		Interaction:  InteractClick,
	})

	// -- Assertions --
	require.ErrorIs(t, err, ErrHandleInvalid)
}

func TestServerInteractFailureIsInteractionError(t *testing.T) {
	// -- Setup --
	driver := &fakeDriver{
		resolveAutoFunc: func(schemas.Handle, string) (ElementRef, error) {
			return &fakeRef{invokeErr: errors.New("element obscured")}, nil
		},
	}
	client := startPair(t, driver, nil)

	// -- Execution --
	err := client.Interact(context.Background(), Payload{
		TopHandle:    42,
		AutomationID: "btn",
		Interaction:  InteractClick,
	})

	// -- Assertions --
	require.ErrorIs(t, err, ErrInteractionFailed)
	assert.Contains(t, err.Error(), "element obscured")
}

func TestClientWindowVerbsAndPing(t *testing.T) {
	// -- Setup --
	var closed, raised []schemas.Handle
	driver := &fakeDriver{
		closeWindowFunc: func(h schemas.Handle) error {
			closed = append(closed, h)
			return nil
		},
		raiseWindowFunc: func(h schemas.Handle) error {
			raised = append(raised, h)
			return nil
		},
	}
	client := startPair(t, driver, nil)

	// -- Execution --
	pong := client.Ping(context.Background())
	closeErr := client.CloseWindow(context.Background(), schemas.Handle(7))
	raiseErr := client.RaiseWindow(context.Background(), schemas.Handle(8))

	// -- Assertions --
	assert.True(t, pong)
	require.NoError(t, closeErr)
	require.NoError(t, raiseErr)
	assert.Equal(t, []schemas.Handle{7}, closed)
	assert.Equal(t, []schemas.Handle{8}, raised)
}

func TestServerShutdownVerbStopsAcceptLoop(t *testing.T) {
	// -- Setup --
	cfg := testIPCConfig()
	srv := NewServer(cfg, &fakeDriver{}, zap.NewNop())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background()) }()
	require.Eventually(t, func() bool { return srv.Addr() != nil },
		2*time.Second, 10*time.Millisecond)

	_, portStr, err := net.SplitHostPort(srv.Addr().String())
	require.NoError(t, err)
	port, _ := strconv.Atoi(portStr)
	clientCfg := cfg
	clientCfg.Port = port
	client := NewClient(clientCfg, zap.NewNop())

	// -- Execution --
	shutdownErr := client.Shutdown(context.Background())

	// -- Assertions --
	require.NoError(t, shutdownErr)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop after shutdown verb")
	}
}

func TestSimDriverScansAreReproducible(t *testing.T) {
	// -- Setup --
	d := NewSimDriver(zap.NewNop())

	// -- Execution --
	first, err := d.ScanTree(context.Background(), schemas.NoHandle)
	require.NoError(t, err)

	// -- Assertions --
	for i := 0; i < 10; i++ {
		again, scanErr := d.ScanTree(context.Background(), schemas.NoHandle)
		require.NoError(t, scanErr)
		assert.Equal(t, first, again, "full-desktop scan order must not vary between runs")
	}
	var prev schemas.Handle
	for _, el := range first {
		require.GreaterOrEqual(t, uint64(el.OwnerHandle), uint64(prev))
		prev = el.OwnerHandle
	}

	windows, err := d.WindowList()
	require.NoError(t, err)
	for i := 1; i < len(windows); i++ {
		assert.Less(t, uint64(windows[i-1].Handle), uint64(windows[i].Handle))
	}
}
