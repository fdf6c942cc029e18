// File: internal/focus/tracker.go
//
// Window and focus state machine. The tracker remembers which window the
// engine is working in, keeps an ordered history to fall back on when that
// window dies, and auto-follows popups. It is exclusively owned by the
// control-loop goroutine; nothing here locks.
//
// A handle in this state is a claim, never a fact: liveness is always
// re-derived from a probe or a live window list before the handle is used.
package focus

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot-cli/api/schemas"
)

// Prober is the slice of the automation-server client the tracker needs.
type Prober interface {
	CheckHandle(ctx context.Context, h schemas.Handle) (bool, schemas.Rect)
	RaiseWindow(ctx context.Context, h schemas.Handle) error
}

// ignoredPopupTitles are shell chrome, IME, and overlay windows that appear
// spontaneously and must never steal focus.
var ignoredPopupTitles = map[string]struct{}{
	"Default IME":              {},
	"MSCTFIME UI":              {},
	"NVIDIA GeForce Overlay":   {},
	"Windows-Widgets":          {},
	"Windows Widgets":          {},
	"SearchHost":               {},
	"StartMenuExperienceHost":  {},
	"Cortana":                  {},
	"Program Manager":          {},
	"Task View":                {},
	"PopupHost":                {},
}

// minPopupDim is the edge length below which a new window is considered
// invisible chrome rather than a real popup.
const minPopupDim = 20

type stackEntry struct {
	name   string
	handle schemas.Handle
}

// Tracker is the focus state machine.
type Tracker struct {
	prober Prober
	logger *zap.Logger

	known  map[string]schemas.Handle
	stack  []stackEntry
	active stackEntry

	// prevHandles is the previous cycle's live window set, used to spot
	// newly appeared windows.
	prevHandles schemas.HandleSet
}

// NewTracker builds an empty tracker.
func NewTracker(prober Prober, logger *zap.Logger) *Tracker {
	return &Tracker{
		prober:      prober,
		logger:      logger.Named("focus"),
		known:       make(map[string]schemas.Handle),
		prevHandles: make(schemas.HandleSet),
	}
}

// ActiveHandle returns the currently focused window handle, NoHandle when
// the engine is working against the whole desktop.
func (t *Tracker) ActiveHandle() schemas.Handle { return t.active.handle }

// ActiveName returns the app name tracked for the focused window.
func (t *Tracker) ActiveName() string { return t.active.name }

// KnownWindows returns a copy of the name-to-handle bookkeeping.
func (t *Tracker) KnownWindows() map[string]schemas.Handle {
	out := make(map[string]schemas.Handle, len(t.known))
	for k, v := range t.known {
		out[k] = v
	}
	return out
}

// Lookup finds a known window by name, case-insensitively. It returns the
// recorded name so callers can adopt the canonical spelling.
func (t *Tracker) Lookup(name string) (string, schemas.Handle, bool) {
	needle := strings.ToLower(name)
	for recorded, h := range t.known {
		if strings.ToLower(recorded) == needle {
			return recorded, h, true
		}
	}
	return "", schemas.NoHandle, false
}

// UpdateFocus makes (name, handle) the active window: any older stack entry
// with the same handle is removed first, so the stack never holds duplicate
// handles. The window is raised best-effort.
func (t *Tracker) UpdateFocus(ctx context.Context, name string, handle schemas.Handle) {
	kept := t.stack[:0]
	for _, e := range t.stack {
		if e.handle != handle {
			kept = append(kept, e)
		}
	}
	t.stack = append(kept, stackEntry{name: name, handle: handle})
	t.active = stackEntry{name: name, handle: handle}
	t.known[name] = handle

	if err := t.prober.RaiseWindow(ctx, handle); err != nil {
		t.logger.Debug("Failed to raise window; continuing unfocused.",
			zap.Uint64("handle", uint64(handle)), zap.Error(err))
	}
	t.logger.Info("Focus updated.", zap.String("app", name), zap.Uint64("handle", uint64(handle)))
}

// Seed records the baseline window set at objective start, so windows that
// were already open are never mistaken for popups on the first cycle.
func (t *Tracker) Seed(live []schemas.WindowInfo) {
	t.prevHandles = schemas.HandlesOf(live)
}

// DetectPopup diffs the live window list against the previous cycle's
// snapshot. The first newly appeared window that is visibly sized and not on
// the ignore list steals focus; at most one popup is followed per cycle.
// The remembered snapshot set is always advanced, popup or not.
func (t *Tracker) DetectPopup(ctx context.Context, live []schemas.WindowInfo) bool {
	defer func() { t.prevHandles = schemas.HandlesOf(live) }()

	found := false
	for _, w := range live {
		if t.prevHandles.Has(w.Handle) {
			continue
		}
		title := strings.TrimSpace(w.Title)
		if title == "" {
			continue
		}
		if _, ignored := ignoredPopupTitles[w.Title]; ignored {
			continue
		}
		if w.Rect.Width() <= minPopupDim || w.Rect.Height() <= minPopupDim {
			continue
		}
		t.logger.Info("Popup detected; auto-focusing.",
			zap.String("title", w.Title), zap.Uint64("handle", uint64(w.Handle)))
		t.UpdateFocus(ctx, w.Title, w.Handle)
		found = true
		break
	}
	return found
}

// RecoverStale handles the focused window disappearing: walk back down the
// stack to the most recent entry that is still alive and restore it. With no
// live history left, clear focus entirely and let the next capture scan the
// full desktop.
func (t *Tracker) RecoverStale(ctx context.Context, live []schemas.WindowInfo) {
	if t.active.handle == schemas.NoHandle {
		return
	}
	liveSet := schemas.HandlesOf(live)
	if liveSet.Has(t.active.handle) {
		return
	}

	t.logger.Warn("Focused window is gone; searching history.",
		zap.String("app", t.active.name), zap.Uint64("handle", uint64(t.active.handle)))

	for len(t.stack) > 0 {
		t.stack = t.stack[:len(t.stack)-1]
		if len(t.stack) == 0 {
			break
		}
		top := t.stack[len(t.stack)-1]
		if liveSet.Has(top.handle) {
			t.logger.Info("Restoring focus from history.", zap.String("app", top.name))
			t.active = top
			if err := t.prober.RaiseWindow(ctx, top.handle); err != nil {
				t.logger.Debug("Failed to raise restored window.", zap.Error(err))
			}
			return
		}
	}

	t.logger.Info("No live window in history; falling back to full-desktop scanning.")
	t.active = stackEntry{}
}

// Reset is the task-boundary revalidation: the remembered active window
// survives into the next objective only if a probe proves it still exists.
func (t *Tracker) Reset(ctx context.Context) {
	if t.active.handle == schemas.NoHandle {
		return
	}
	if exists, _ := t.prober.CheckHandle(ctx, t.active.handle); exists {
		return
	}
	t.logger.Info("Remembered window died between objectives; clearing focus.",
		zap.String("app", t.active.name))
	delete(t.known, t.active.name)
	t.removeFromStack(t.active.handle)
	t.active = stackEntry{}
}

// Forget scrubs all bookkeeping for an app, by recorded name.
func (t *Tracker) Forget(name string) {
	if h, ok := t.known[name]; ok {
		t.removeFromStack(h)
		delete(t.known, name)
	}
	if t.active.name == name {
		t.active = stackEntry{}
	}
}

// RemoveHandle scrubs all bookkeeping for a window handle.
func (t *Tracker) RemoveHandle(h schemas.Handle) {
	t.removeFromStack(h)
	for name, known := range t.known {
		if known == h {
			delete(t.known, name)
		}
	}
	if t.active.handle == h {
		t.active = stackEntry{}
	}
}

func (t *Tracker) removeFromStack(h schemas.Handle) {
	kept := t.stack[:0]
	for _, e := range t.stack {
		if e.handle != h {
			kept = append(kept, e)
		}
	}
	t.stack = kept
}

// stackHandles is a test seam: the stack's handles bottom-to-top.
func (t *Tracker) stackHandles() []schemas.Handle {
	out := make([]schemas.Handle, 0, len(t.stack))
	for _, e := range t.stack {
		out = append(out, e.handle)
	}
	return out
}
