// File: internal/ipc/simdriver.go
package ipc

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot-cli/api/schemas"
)

// SimDriver is an in-memory desktop for driving the server without a
// platform binding: a fixed set of windows whose elements accept
// interactions and record them. It exists for local dry-runs of the full
// client/server path and for development against `serve` on machines with
// no automation backend.
type SimDriver struct {
	logger *zap.Logger

	mu      sync.Mutex
	windows map[schemas.Handle]*simWindow
	active  schemas.Handle
	caret   bool
}

type simWindow struct {
	info     schemas.WindowInfo
	elements []schemas.UIElement
}

// NewSimDriver builds the simulated desktop: an editor with a text field and
// a settings window with a couple of toggles.
func NewSimDriver(logger *zap.Logger) *SimDriver {
	d := &SimDriver{
		logger:  logger.Named("sim_driver"),
		windows: make(map[schemas.Handle]*simWindow),
		active:  1,
	}
	d.windows[1] = &simWindow{
		info: schemas.WindowInfo{Handle: 1, Title: "Untitled - Editor",
			Rect: schemas.Rect{Left: 100, Top: 100, Right: 900, Bottom: 700}},
		elements: []schemas.UIElement{
			{ID: 0, Name: "Untitled - Editor", Type: "Window", OwnerHandle: 1,
				Rect: schemas.Rect{Left: 100, Top: 100, Right: 900, Bottom: 700}, Source: schemas.SourceStructural},
			{ID: 1, Name: "Text Editor", Type: "Edit", AutomationID: "editor_body", OwnerHandle: 1,
				Rect: schemas.Rect{Left: 110, Top: 140, Right: 890, Bottom: 690}, Source: schemas.SourceStructural},
			{ID: 2, Name: "File", Type: "MenuItem", OwnerHandle: 1,
				Rect: schemas.Rect{Left: 110, Top: 110, Right: 150, Bottom: 130}, Source: schemas.SourceStructural},
		},
	}
	d.windows[2] = &simWindow{
		info: schemas.WindowInfo{Handle: 2, Title: "Settings",
			Rect: schemas.Rect{Left: 200, Top: 150, Right: 1000, Bottom: 750}},
		elements: []schemas.UIElement{
			{ID: 0, Name: "Settings", Type: "Window", OwnerHandle: 2,
				Rect: schemas.Rect{Left: 200, Top: 150, Right: 1000, Bottom: 750}, Source: schemas.SourceStructural},
			{ID: 1, Name: "Personalization", Type: "ListItem", AutomationID: "nav_personalization", OwnerHandle: 2,
				Rect: schemas.Rect{Left: 210, Top: 200, Right: 400, Bottom: 230}, Source: schemas.SourceStructural},
			{ID: 2, Name: "Dark mode", Type: "CheckBox", AutomationID: "toggle_dark", OwnerHandle: 2,
				Rect: schemas.Rect{Left: 420, Top: 200, Right: 620, Bottom: 230}, Source: schemas.SourceStructural},
		},
	}
	return d
}

func (d *SimDriver) ScanTree(_ context.Context, root schemas.Handle) ([]schemas.UIElement, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if root != schemas.NoHandle {
		w, ok := d.windows[root]
		if !ok {
			return nil, fmt.Errorf("scan %d: %w", uint64(root), ErrHandleInvalid)
		}
		return append([]schemas.UIElement(nil), w.elements...), nil
	}

	var all []schemas.UIElement
	for _, h := range d.sortedHandles() {
		all = append(all, d.windows[h].elements...)
	}
	return all, nil
}

// sortedHandles keeps scans and listings reproducible across runs. Caller
// holds d.mu.
func (d *SimDriver) sortedHandles() []schemas.Handle {
	handles := make([]schemas.Handle, 0, len(d.windows))
	for h := range d.windows {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	return handles
}

func (d *SimDriver) WindowExists(h schemas.Handle) (bool, schemas.Rect) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if w, ok := d.windows[h]; ok {
		return true, w.info.Rect
	}
	return false, schemas.Rect{}
}

func (d *SimDriver) WindowList() ([]schemas.WindowInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]schemas.WindowInfo, 0, len(d.windows))
	for _, h := range d.sortedHandles() {
		out = append(out, d.windows[h].info)
	}
	return out, nil
}

func (d *SimDriver) ActiveWindow() (schemas.ActiveWindowInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.windows[d.active]
	if !ok {
		return schemas.ActiveWindowInfo{}, nil
	}
	return schemas.ActiveWindowInfo{
		Handle: w.info.Handle,
		Title:  w.info.Title,
		Rect:   w.info.Rect,
		Caret:  schemas.CaretInfo{Active: d.caret},
	}, nil
}

func (d *SimDriver) CloseWindow(h schemas.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.windows[h]; !ok {
		return fmt.Errorf("close %d: %w", uint64(h), ErrHandleInvalid)
	}
	delete(d.windows, h)
	if d.active == h {
		d.active = schemas.NoHandle
		d.caret = false
	}
	return nil
}

func (d *SimDriver) RaiseWindow(h schemas.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.windows[h]; !ok {
		return fmt.Errorf("raise %d: %w", uint64(h), ErrHandleInvalid)
	}
	d.active = h
	return nil
}

func (d *SimDriver) ResolveAutomationID(top schemas.Handle, id string) (ElementRef, error) {
	return d.resolve(top, func(el schemas.UIElement) bool { return el.AutomationID == id })
}

func (d *SimDriver) ResolveNamed(top schemas.Handle, name, controlType string) (ElementRef, error) {
	return d.resolve(top, func(el schemas.UIElement) bool {
		return el.Name == name && el.Type == controlType
	})
}

func (d *SimDriver) resolve(top schemas.Handle, match func(schemas.UIElement) bool) (ElementRef, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.windows[top]
	if !ok {
		return nil, fmt.Errorf("resolve in %d: %w", uint64(top), ErrHandleInvalid)
	}
	for _, el := range w.elements {
		if match(el) {
			return &simElement{driver: d, owner: top, element: el}, nil
		}
	}
	return nil, nil
}

func (d *SimDriver) PointerAt(p schemas.Point, kind InteractionType) error {
	d.logger.Info("Simulated pointer gesture.",
		zap.Int("x", p.X), zap.Int("y", p.Y), zap.String("kind", string(kind)))
	return nil
}

func (d *SimDriver) TypeText(text string) error {
	d.logger.Info("Simulated blind typing.", zap.Int("chars", len(text)))
	return nil
}

type simElement struct {
	driver  *SimDriver
	owner   schemas.Handle
	element schemas.UIElement
}

func (e *simElement) Invoke(kind InteractionType) error {
	e.driver.mu.Lock()
	defer e.driver.mu.Unlock()
	e.driver.active = e.owner
	// Clicking an edit control leaves a caret behind, everything else
	// dismisses it.
	e.driver.caret = e.element.Type == "Edit"
	e.driver.logger.Info("Simulated element gesture.",
		zap.String("name", e.element.Name), zap.String("kind", string(kind)))
	return nil
}

func (e *simElement) TypeText(text string) error {
	e.driver.mu.Lock()
	defer e.driver.mu.Unlock()
	e.driver.active = e.owner
	e.driver.caret = true
	e.driver.logger.Info("Simulated typing into element.",
		zap.String("name", e.element.Name), zap.Int("chars", len(text)))
	return nil
}
