// File: internal/dispatch/dispatch.go
//
// Action dispatcher: turns abstract commands from the decision function into
// OS effects. One dispatch at a time, synchronous with the calling cycle.
// Resolution failures are results handed back as feedback for the next
// cycle, never faults.
package dispatch

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/deskpilot-cli/api/schemas"
	"github.com/xkilldash9x/deskpilot-cli/internal/config"
	"github.com/xkilldash9x/deskpilot-cli/internal/focus"
	"github.com/xkilldash9x/deskpilot-cli/internal/ipc"
)

// Interactor is the slice of the automation-server client the dispatcher
// needs.
type Interactor interface {
	Interact(ctx context.Context, p ipc.Payload) error
	CloseWindow(ctx context.Context, h schemas.Handle) error
	WindowList(ctx context.Context) []schemas.WindowInfo
}

// Pointer performs direct local input: coordinate clicks, blind typing, and
// single keypresses. Text-recognized elements have no server-side identity,
// so they are always driven through this interface rather than an interact
// request.
type Pointer interface {
	Click(p schemas.Point, kind schemas.ClickKind) error
	TypeText(text string) error
	PressKey(key string) error
}

// Resolver maps app names to launch commands and supplies fuzzy corrections.
type Resolver interface {
	Resolve(ctx context.Context, name string) (string, bool)
	Suggest(ctx context.Context, name string) []string
}

// Starter spawns a launch command without waiting for it.
type Starter interface {
	Start(command string) error
}

// Shell runs a user-level command line to completion with combined output.
type Shell interface {
	Run(ctx context.Context, commandLine string) (string, error)
}

// Settle pauses, in ms. Interactions get the configured settle delay; these
// two are bound to the input mechanics rather than repaint speed.
const (
	typeFocusSettle = 200 * time.Millisecond
	keypressSettle  = 500 * time.Millisecond
)

// Launch candidate filters and scores.
const (
	minLaunchDim      = 50
	launchTitleScore  = 10
	launchOracleScore = 5
	launchVMScore     = 2
	waitSecondsMin    = 1
	waitSecondsMax    = 30
)

// Dispatcher executes commands against the server, the local input layer,
// and the focus tracker.
type Dispatcher struct {
	cfg     config.DispatchConfig
	client  Interactor
	pointer Pointer
	tracker *focus.Tracker
	index   Resolver
	starter Starter
	shell   Shell
	logger  *zap.Logger
}

// New wires a dispatcher.
func New(cfg config.DispatchConfig, client Interactor, pointer Pointer, tracker *focus.Tracker, index Resolver, starter Starter, shell Shell, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:     cfg,
		client:  client,
		pointer: pointer,
		tracker: tracker,
		index:   index,
		starter: starter,
		shell:   shell,
		logger:  logger.Named("dispatch"),
	}
}

// Dispatch executes one command against the current snapshot's elements and
// reports the outcome. The switch is exhaustive over the sealed command set.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd schemas.Command, elements []schemas.UIElement) schemas.ActionResult {
	d.logger.Info("Dispatching command.", zap.String("command", cmd.Describe()))

	switch c := cmd.(type) {
	case schemas.Click:
		return d.click(ctx, c, elements)
	case schemas.TypeText:
		return d.typeText(ctx, c, elements)
	case schemas.Scroll:
		return d.scroll(ctx, c)
	case schemas.PressEnter:
		return d.pressKey(ctx, "enter", "Pressed enter.")
	case schemas.LaunchApp:
		return d.launch(ctx, c)
	case schemas.FocusWindow:
		return d.focusWindow(ctx, c)
	case schemas.CloseWindow:
		return d.closeWindow(ctx)
	case schemas.ExecuteShell:
		return d.executeShell(ctx, c)
	case schemas.Wait:
		return d.wait(ctx, c)
	default:
		// The sealed interface makes this unreachable from our own code.
		return schemas.Errorf("unsupported command type %T", cmd)
	}
}

func (d *Dispatcher) click(ctx context.Context, c schemas.Click, elements []schemas.UIElement) schemas.ActionResult {
	el, ok := findElement(elements, c.ElementID)
	if !ok {
		return schemas.Errorf("element ID %d not found in current screen state", c.ElementID)
	}

	if el.IsText() {
		// Text elements exist only as pixels; click them directly.
		if err := d.pointer.Click(el.Rect.Center(), c.Kind); err != nil {
			return schemas.Errorf("direct click failed: %v", err)
		}
		d.settle(ctx)
		return schemas.Successf("Clicked text %q at its center.", el.Name)
	}

	if el.OwnerHandle == schemas.NoHandle {
		d.logger.Warn("Element has no owning window; falling back to blind coordinate click.",
			zap.Int("element_id", el.ID))
		if err := d.pointer.Click(el.Rect.Center(), c.Kind); err != nil {
			return schemas.Errorf("fallback click failed: %v", err)
		}
		d.settle(ctx)
		return schemas.Successf("Clicked element %d by coordinates (no window handle).", el.ID)
	}

	if err := d.client.Interact(ctx, interactPayload(el, ipc.InteractionType(c.Kind), "")); err != nil {
		return interactError(c.Kind, el, err)
	}
	d.settle(ctx)
	return schemas.Successf("Performed %s on element %d (%s).", c.Kind, el.ID, el.Name)
}

func (d *Dispatcher) typeText(ctx context.Context, c schemas.TypeText, elements []schemas.UIElement) schemas.ActionResult {
	if c.ElementID == nil {
		if err := d.pointer.TypeText(c.Text); err != nil {
			return schemas.Errorf("typing failed: %v", err)
		}
		d.settle(ctx)
		return schemas.Successf("Typed into the focused control.")
	}

	el, ok := findElement(elements, *c.ElementID)
	if !ok || (!el.IsText() && el.OwnerHandle == schemas.NoHandle) {
		// The target evaporated; type into whatever holds focus rather than
		// dropping the input.
		d.logger.Warn("Type target invalid; typing blindly.", zap.Int("element_id", *c.ElementID))
		if err := d.pointer.TypeText(c.Text); err != nil {
			return schemas.Errorf("typing failed: %v", err)
		}
		d.settle(ctx)
		return schemas.Successf("Target unavailable; typed into the focused control instead.")
	}

	if el.IsText() {
		if err := d.pointer.Click(el.Rect.Center(), schemas.ClickSingle); err != nil {
			return schemas.Errorf("focus click failed: %v", err)
		}
		d.settle(ctx)
		if err := d.pointer.TypeText(c.Text); err != nil {
			return schemas.Errorf("typing failed: %v", err)
		}
		return schemas.Successf("Clicked text %q and typed.", el.Name)
	}

	// Click-to-focus is mandatory; callers must not assume the field already
	// holds keyboard focus.
	if err := d.client.Interact(ctx, interactPayload(el, ipc.InteractClick, "")); err != nil {
		return interactError("focus click", el, err)
	}
	if err := sleepCtx(ctx, typeFocusSettle); err != nil {
		return schemas.Errorf("cancelled while focusing: %v", err)
	}
	if err := d.client.Interact(ctx, interactPayload(el, ipc.InteractType, c.Text)); err != nil {
		return interactError("type", el, err)
	}
	d.settle(ctx)
	return schemas.Successf("Typed into element %d (%s).", el.ID, el.Name)
}

func (d *Dispatcher) scroll(ctx context.Context, c schemas.Scroll) schemas.ActionResult {
	key := "pagedown"
	if c.Direction == schemas.ScrollUp {
		key = "pageup"
	}
	return d.pressKey(ctx, key, "Scrolled "+string(c.Direction)+".")
}

func (d *Dispatcher) pressKey(ctx context.Context, key, message string) schemas.ActionResult {
	if err := d.pointer.PressKey(key); err != nil {
		return schemas.Errorf("keypress %q failed: %v", key, err)
	}
	if err := sleepCtx(ctx, keypressSettle); err != nil {
		return schemas.Errorf("cancelled: %v", err)
	}
	return schemas.Successf("%s", message)
}

// launch starts an app and hunts for its window by diffing the live window
// list once per poll interval. Detection timing out is not a failure: the
// process is most likely up with its window not yet mapped, so the engine
// gets a success without a handle and finds the window next cycle.
func (d *Dispatcher) launch(ctx context.Context, c schemas.LaunchApp) schemas.ActionResult {
	name := strings.ToLower(strings.TrimSpace(c.Name))
	if name == "" {
		return schemas.Errorf("launch_app requires an app name")
	}

	before := schemas.HandlesOf(d.client.WindowList(ctx))

	command, known := d.index.Resolve(ctx, name)
	if !known {
		d.logger.Warn("App name not in index; treating it as a literal command.",
			zap.String("app", name), zap.String("command", command))
	}

	launchCmd := command
	lower := strings.ToLower(command)
	if strings.HasPrefix(lower, "shell:") || strings.HasPrefix(lower, "ms-") || strings.Contains(command, "://") {
		// URIs and shell folders need a host process to interpret them.
		launchCmd = `explorer.exe "` + command + `"`
	}

	if err := d.starter.Start(launchCmd); err != nil {
		suggestions := strings.Join(d.index.Suggest(ctx, name), ", ")
		if suggestions == "" {
			suggestions = "try standard names"
		}
		return schemas.Errorf("failed to launch %q: %v. Suggestions: [%s]", c.Name, err, suggestions)
	}

	limiter := rate.NewLimiter(rate.Every(d.cfg.LaunchPollInterval), 1)
	limiter.Allow() // poll after the first interval, not immediately

	for attempt := 1; attempt <= d.cfg.LaunchAttempts; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return schemas.Errorf("launch aborted: %v", err)
		}

		live := d.client.WindowList(ctx)
		if w, found := bestLaunchCandidate(live, before, name); found {
			d.logger.Info("Detected launched window.",
				zap.String("title", w.Title), zap.Uint64("handle", uint64(w.Handle)),
				zap.Int("attempt", attempt))
			d.tracker.UpdateFocus(ctx, c.Name, w.Handle)
			return schemas.ActionResult{
				Status:    schemas.StatusSuccess,
				Message:   "Launched '" + c.Name + "'; new window is focused.",
				NewHandle: w.Handle,
			}
		}
	}

	d.logger.Warn("Launch window detection timed out.", zap.String("app", c.Name))
	return schemas.Successf("Command executed, but window detection timed out.")
}

// bestLaunchCandidate scores newly appeared, visibly sized windows. Title
// substring match dominates; virtualization keywords break ties because VM
// consoles often title themselves after the guest, not the requested app.
func bestLaunchCandidate(live []schemas.WindowInfo, before schemas.HandleSet, name string) (schemas.WindowInfo, bool) {
	best := schemas.WindowInfo{}
	bestScore := -1
	for _, w := range live {
		if before.Has(w.Handle) {
			continue
		}
		if w.Rect.Width() <= minLaunchDim || w.Rect.Height() <= minLaunchDim {
			continue
		}
		title := strings.ToLower(w.Title)
		score := 0
		if strings.Contains(title, name) {
			score += launchTitleScore
		}
		if strings.Contains(title, "oracle") || strings.Contains(title, "virtualbox") {
			score += launchOracleScore
		}
		if strings.Contains(title, "vm") {
			score += launchVMScore
		}
		if score > bestScore {
			best = w
			bestScore = score
		}
	}
	return best, bestScore >= 0
}

func (d *Dispatcher) focusWindow(ctx context.Context, c schemas.FocusWindow) schemas.ActionResult {
	recorded, handle, ok := d.tracker.Lookup(c.Name)
	if !ok {
		suggestions := strings.Join(d.index.Suggest(ctx, c.Name), ", ")
		if suggestions == "" {
			return schemas.Errorf("'%s' is not in the open apps list", c.Name)
		}
		return schemas.Errorf("'%s' is not in the open apps list. Suggestions: [%s]", c.Name, suggestions)
	}
	d.tracker.UpdateFocus(ctx, recorded, handle)
	if err := sleepCtx(ctx, keypressSettle); err != nil {
		return schemas.Errorf("cancelled: %v", err)
	}
	return schemas.Successf("Focused '%s'.", recorded)
}

func (d *Dispatcher) closeWindow(ctx context.Context) schemas.ActionResult {
	handle := d.tracker.ActiveHandle()
	if handle == schemas.NoHandle {
		return schemas.Errorf("no window is currently focused/tracked to close")
	}
	name := d.tracker.ActiveName()

	if err := d.client.CloseWindow(ctx, handle); err != nil {
		return schemas.Errorf("close failed: %v", err)
	}
	d.tracker.RemoveHandle(handle)
	return schemas.Successf("Closed '%s' and removed it from the registry.", name)
}

func (d *Dispatcher) executeShell(ctx context.Context, c schemas.ExecuteShell) schemas.ActionResult {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.ShellTimeout)
	defer cancel()

	output, err := d.shell.Run(ctx, c.CommandLine)
	if err != nil {
		return schemas.Errorf("command failed: %v", err)
	}
	if strings.TrimSpace(output) == "" {
		output = "Command executed successfully (No Output)."
	}
	return schemas.Successf("%s", output)
}

func (d *Dispatcher) wait(ctx context.Context, c schemas.Wait) schemas.ActionResult {
	seconds := c.Seconds
	if seconds < waitSecondsMin {
		seconds = waitSecondsMin
	}
	if seconds > waitSecondsMax {
		seconds = waitSecondsMax
	}
	if err := sleepCtx(ctx, time.Duration(seconds)*time.Second); err != nil {
		return schemas.Errorf("wait interrupted: %v", err)
	}
	return schemas.Successf("Waited %ds.", seconds)
}

// settle gives the OS time to repaint before the next probe. Best effort: a
// cancelled context just shortens the pause.
func (d *Dispatcher) settle(ctx context.Context) {
	_ = sleepCtx(ctx, d.cfg.SettleDelay)
}

func sleepCtx(ctx context.Context, dur time.Duration) error {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func findElement(elements []schemas.UIElement, id int) (schemas.UIElement, bool) {
	for _, el := range elements {
		if el.ID == id {
			return el, true
		}
	}
	return schemas.UIElement{}, false
}

func interactPayload(el schemas.UIElement, kind ipc.InteractionType, text string) ipc.Payload {
	rect := el.Rect
	return ipc.Payload{
		TopHandle:    el.OwnerHandle,
		AutomationID: el.AutomationID,
		Name:         el.Name,
		ControlType:  el.Type,
		Interaction:  kind,
		Text:         text,
		TargetRect:   &rect,
	}
}

func interactError(action any, el schemas.UIElement, err error) schemas.ActionResult {
	if errors.Is(err, ipc.ErrHandleInvalid) {
		return schemas.Errorf("%v on element %d failed: its window is gone", action, el.ID)
	}
	return schemas.Errorf("%v on element %d failed: %v", action, el.ID, err)
}
