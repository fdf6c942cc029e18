// File: internal/observe/capture.go
//
// Hybrid perception: one screenshot, one structural scan, and an optional
// text-recognition pass fused into a single addressable snapshot. A decision
// cycle must never crash on perception failure, so everything short of a
// stale focus handle or a dead transport degrades to a usable (possibly
// blank) snapshot.
package observe

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot-cli/api/schemas"
	"github.com/xkilldash9x/deskpilot-cli/internal/config"
)

// Frame is one raw monitor grab plus the absolute position of its top-left
// corner in global screen space.
type Frame struct {
	Image  *image.RGBA
	Offset schemas.Point
}

// Bounds returns the frame's coverage in absolute screen coordinates.
func (f *Frame) Bounds() schemas.Rect {
	b := f.Image.Bounds()
	return schemas.Rect{
		Left:   f.Offset.X,
		Top:    f.Offset.Y,
		Right:  f.Offset.X + b.Dx(),
		Bottom: f.Offset.Y + b.Dy(),
	}
}

// Grabber captures monitor bitmaps. An out-of-range monitor index falls back
// to the primary monitor rather than failing.
type Grabber interface {
	Grab(monitor int) (*Frame, error)
}

// TextBox is one piece of text found by optical recognition, in coordinates
// local to the scanned image.
type TextBox struct {
	Text       string
	Rect       schemas.Rect
	Confidence float64
}

// Recognizer scans pixels for readable text. Implementations are expected to
// be slow; Capture only invokes one when structural data is sparse or
// untrustworthy.
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image) ([]TextBox, error)
}

// Scanner is the slice of the automation-server client that capture needs.
type Scanner interface {
	Analyze(ctx context.Context, root schemas.Handle) ([]schemas.UIElement, error)
	CheckHandle(ctx context.Context, h schemas.Handle) (bool, schemas.Rect)
}

// ocrTypeName is the control type assigned to text-recognized elements.
const ocrTypeName = "OCR_TEXT"

// blockerTypes are the interaction-bearing control types whose rectangles
// suppress overlapping text-recognized elements. Matched by substring, so
// e.g. "SplitButton" also blocks.
var blockerTypes = []string{
	"Button", "Edit", "CheckBox", "RadioButton", "ComboBox",
	"List", "ListItem", "MenuItem", "TabItem", "Hyperlink",
	"TreeItem", "DataItem", "HeaderItem", "Document", "Text", "TitleBar",
}

// Capturer fuses the perception channels into observation snapshots. It is
// called only from the control-loop goroutine and holds no mutable state of
// its own.
type Capturer struct {
	cfg        config.CaptureConfig
	scanner    Scanner
	grabber    Grabber
	recognizer Recognizer
	logger     *zap.Logger
}

// NewCapturer wires the perception channels together. recognizer may be nil
// when no text-recognition backend is available; the fallback is then simply
// skipped.
func NewCapturer(cfg config.CaptureConfig, scanner Scanner, grabber Grabber, recognizer Recognizer, logger *zap.Logger) *Capturer {
	return &Capturer{
		cfg:        cfg,
		scanner:    scanner,
		grabber:    grabber,
		recognizer: recognizer,
		logger:     logger.Named("capture"),
	}
}

// blankSnapshot is the perception-failure placeholder: a black bitmap, no
// elements, zero offset.
func blankSnapshot() *schemas.ObservationSnapshot {
	return &schemas.ObservationSnapshot{
		Image:      image.NewRGBA(image.Rect(0, 0, 800, 600)),
		Elements:   []schemas.UIElement{},
		CapturedAt: time.Now(),
	}
}

// Capture produces one fused snapshot, scoped to focusHandle when given.
//
// The only errors it returns are the typed transport conditions the caller
// must act on: ErrHandleInvalid (clear focus and rescan wide) and
// ErrTimeout/ErrServerUnreachable from a mandatory full scan. Local failures
// of the screenshot or text-recognition channels degrade to a blank or
// partial snapshot.
func (c *Capturer) Capture(ctx context.Context, focusHandle schemas.Handle) (*schemas.ObservationSnapshot, error) {
	frame, err := c.grabber.Grab(c.cfg.Monitor)
	if err != nil {
		c.logger.Error("Screen grab failed; returning blank snapshot.", zap.Error(err))
		return blankSnapshot(), nil
	}

	raw, err := c.scanner.Analyze(ctx, focusHandle)
	if err != nil {
		return nil, err
	}

	scoped := focusHandle != schemas.NoHandle
	if scoped && len(raw) == 0 {
		// The window answered with nothing usable. Widen to the full desktop
		// before deciding the screen is empty.
		c.logger.Warn("Scoped scan returned no elements; falling back to full-desktop scan.",
			zap.Uint64("handle", uint64(focusHandle)))
		raw, err = c.scanner.Analyze(ctx, schemas.NoHandle)
		if err != nil {
			return nil, err
		}
		scoped = false
	}

	forceOCR := false
	if len(raw) > 0 {
		forceOCR = vmHeuristic(raw[0].Name)
		if forceOCR {
			c.logger.Info("Virtualization keyword in window title; forcing text recognition.",
				zap.String("title", raw[0].Name))
		}
	}

	monitorRect := frame.Bounds()
	elements := make([]schemas.UIElement, 0, len(raw))
	var blockers []schemas.Rect
	density := 0

	for _, el := range raw {
		// Full-desktop scans report every monitor; keep only the target one.
		if !scoped && !monitorRect.Contains(el.Rect.Center()) {
			continue
		}
		el.ID = len(elements)
		el.Source = schemas.SourceStructural
		elements = append(elements, el)

		if !strings.Contains(el.Type, "Window") && !strings.Contains(el.Type, "Pane") {
			density++
		}
		if isBlockerType(el.Type) {
			blockers = append(blockers, el.Rect)
		}
	}

	if forceOCR || density < c.cfg.DensityThreshold {
		elements = c.runTextRecognition(ctx, frame, elements, blockers, forceOCR)
	} else {
		c.logger.Debug("High structural density; skipping text recognition.", zap.Int("density", density))
	}

	snap := &schemas.ObservationSnapshot{
		Image:      frame.Image,
		Elements:   elements,
		Offset:     frame.Offset,
		CapturedAt: time.Now(),
	}

	if focusHandle != schemas.NoHandle {
		c.applyFocusCrop(ctx, snap, frame, focusHandle)
	}
	if c.cfg.DebugDir != "" {
		c.saveDebugFrame(snap)
	}
	return snap, nil
}

// saveDebugFrame persists the annotated frame for offline inspection.
// Failures only log; debug output must never cost a cycle.
func (c *Capturer) saveDebugFrame(snap *schemas.ObservationSnapshot) {
	png, err := Annotate(snap)
	if err != nil {
		c.logger.Warn("Could not render debug frame.", zap.Error(err))
		return
	}
	if err := os.MkdirAll(c.cfg.DebugDir, 0o755); err != nil {
		c.logger.Warn("Could not create debug directory.", zap.String("dir", c.cfg.DebugDir), zap.Error(err))
		return
	}
	name := fmt.Sprintf("annotated_%d.png", time.Now().UnixNano())
	if err := os.WriteFile(filepath.Join(c.cfg.DebugDir, name), png, 0o644); err != nil {
		c.logger.Warn("Could not write debug frame.", zap.Error(err))
	}
}

// runTextRecognition scans the frame for text, translates each box into
// absolute screen space, and merges the results behind the structural
// elements. Outside VM mode, a text element whose center falls inside an
// interaction-bearing structural rect is dropped as redundant; in VM mode the
// native tree is untrustworthy, so nothing is suppressed.
func (c *Capturer) runTextRecognition(ctx context.Context, frame *Frame, elements []schemas.UIElement, blockers []schemas.Rect, vmMode bool) []schemas.UIElement {
	if c.recognizer == nil {
		return elements
	}

	boxes, err := c.recognizer.Recognize(ctx, frame.Image)
	if err != nil {
		c.logger.Error("Text recognition failed; continuing with structural elements only.", zap.Error(err))
		return elements
	}

	nextID := schemas.TextIDBase
	if n := len(elements); n > 0 {
		if after := elements[n-1].ID + 100; after > nextID {
			nextID = after
		}
	}

	suppressed := 0
	for _, box := range boxes {
		abs := schemas.Rect{
			Left:   frame.Offset.X + box.Rect.Left,
			Top:    frame.Offset.Y + box.Rect.Top,
			Right:  frame.Offset.X + box.Rect.Right,
			Bottom: frame.Offset.Y + box.Rect.Bottom,
		}
		if !vmMode && coveredByAny(abs.Center(), blockers) {
			suppressed++
			continue
		}
		elements = append(elements, schemas.UIElement{
			ID:         nextID,
			Name:       box.Text,
			Type:       ocrTypeName,
			Rect:       abs,
			Source:     schemas.SourceText,
			Confidence: box.Confidence,
		})
		nextID++
	}
	if suppressed > 0 {
		c.logger.Debug("Suppressed text elements overlapping structural controls.", zap.Int("count", suppressed))
	}
	return elements
}

// applyFocusCrop narrows the snapshot to the focused window's rectangle. The
// rect comes from the window's own structural element when the scan reported
// one, else from a direct handle probe. Degenerate crops are skipped.
func (c *Capturer) applyFocusCrop(ctx context.Context, snap *schemas.ObservationSnapshot, frame *Frame, focusHandle schemas.Handle) {
	var focusRect schemas.Rect
	found := false
	for _, el := range snap.Elements {
		if el.OwnerHandle == focusHandle && el.Source == schemas.SourceStructural {
			focusRect = el.Rect
			found = true
			break
		}
	}
	if !found || focusRect.IsZero() {
		exists, rect := c.scanner.CheckHandle(ctx, focusHandle)
		if !exists {
			return
		}
		focusRect = rect
	}

	bounds := frame.Image.Bounds()
	left := clamp(focusRect.Left-frame.Offset.X, 0, bounds.Dx())
	top := clamp(focusRect.Top-frame.Offset.Y, 0, bounds.Dy())
	right := clamp(focusRect.Right-frame.Offset.X, 0, bounds.Dx())
	bottom := clamp(focusRect.Bottom-frame.Offset.Y, 0, bounds.Dy())

	if right-left <= c.cfg.MinCropSize || bottom-top <= c.cfg.MinCropSize {
		c.logger.Debug("Focus rect too small after clamping; skipping crop.",
			zap.Int("width", right-left), zap.Int("height", bottom-top))
		return
	}

	// The clamped rectangle back in absolute coordinates, for the bitmap
	// crop. Element retention is judged against the raw window rect: a
	// control hanging off the visible screen still belongs to the window.
	absCrop := schemas.Rect{
		Left:   frame.Offset.X + left,
		Top:    frame.Offset.Y + top,
		Right:  frame.Offset.X + right,
		Bottom: frame.Offset.Y + bottom,
	}

	retained := snap.Elements[:0]
	for _, el := range snap.Elements {
		if focusRect.Contains(el.Rect.Center()) {
			retained = append(retained, el)
		}
	}

	sub := image.Rect(bounds.Min.X+left, bounds.Min.Y+top, bounds.Min.X+right, bounds.Min.Y+bottom)
	snap.Image = frame.Image.SubImage(sub)
	snap.Elements = retained
	snap.Offset = schemas.Point{X: absCrop.Left, Y: absCrop.Top}
}

// vmHeuristic reports whether a window title names a virtualization tool:
// "oracle" or "virtualbox" anywhere, or "vm" as a standalone word.
func vmHeuristic(title string) bool {
	t := strings.ToLower(title)
	if strings.Contains(t, "oracle") || strings.Contains(t, "virtualbox") {
		return true
	}
	if strings.Contains(t, "vm") {
		return strings.Contains(t, " vm ") || strings.HasPrefix(t, "vm ") || strings.HasSuffix(t, " vm") || t == "vm"
	}
	return false
}

func isBlockerType(controlType string) bool {
	for _, b := range blockerTypes {
		if strings.Contains(controlType, b) {
			return true
		}
	}
	return false
}

func coveredByAny(p schemas.Point, rects []schemas.Rect) bool {
	for _, r := range rects {
		if r.Contains(p) {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
