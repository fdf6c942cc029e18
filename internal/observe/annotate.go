// File: internal/observe/annotate.go
package observe

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strconv"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/xkilldash9x/deskpilot-cli/api/schemas"
)

var (
	structuralColor = color.RGBA{R: 0xFF, G: 0x22, B: 0x22, A: 0xFF}
	textColor       = color.RGBA{R: 0xFF, G: 0x00, B: 0xFF, A: 0xFF}
	labelInk        = color.RGBA{A: 0xFF}
)

const boxStroke = 2

// EncodeClean renders the raw snapshot bitmap as PNG.
func EncodeClean(snap *schemas.ObservationSnapshot) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, snap.Image); err != nil {
		return nil, fmt.Errorf("encode clean frame: %w", err)
	}
	return buf.Bytes(), nil
}

// Annotate renders the model-facing view: the snapshot with a bounding box
// and numeric ID label over every element that survives redundancy
// filtering. Structural elements draw red, text-recognized ones magenta.
// Addressing is unaffected; the filtered set exists only to cut visual
// clutter.
func Annotate(snap *schemas.ObservationSnapshot) ([]byte, error) {
	bounds := snap.Image.Bounds()
	canvas := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(canvas, canvas.Bounds(), snap.Image, bounds.Min, draw.Src)

	face := basicfont.Face7x13
	for _, el := range FilterRedundant(snap.Elements) {
		local := image.Rect(
			el.Rect.Left-snap.Offset.X,
			el.Rect.Top-snap.Offset.Y,
			el.Rect.Right-snap.Offset.X,
			el.Rect.Bottom-snap.Offset.Y,
		)
		if !local.Overlaps(canvas.Bounds()) {
			continue
		}

		ink := structuralColor
		if el.IsText() {
			ink = textColor
		}
		strokeRect(canvas, local, ink)
		drawLabel(canvas, face, local, strconv.Itoa(el.ID), ink, el.IsText())
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("encode annotated frame: %w", err)
	}
	return buf.Bytes(), nil
}

func strokeRect(canvas *image.RGBA, r image.Rectangle, ink color.RGBA) {
	clipped := r.Intersect(canvas.Bounds().Inset(-boxStroke))
	for i := 0; i < boxStroke; i++ {
		drawHLine(canvas, clipped.Min.X, clipped.Max.X, clipped.Min.Y+i, ink)
		drawHLine(canvas, clipped.Min.X, clipped.Max.X, clipped.Max.Y-1-i, ink)
		drawVLine(canvas, clipped.Min.X+i, clipped.Min.Y, clipped.Max.Y, ink)
		drawVLine(canvas, clipped.Max.X-1-i, clipped.Min.Y, clipped.Max.Y, ink)
	}
}

func drawHLine(canvas *image.RGBA, x0, x1, y int, ink color.RGBA) {
	for x := x0; x < x1; x++ {
		if (image.Point{X: x, Y: y}).In(canvas.Bounds()) {
			canvas.SetRGBA(x, y, ink)
		}
	}
}

func drawVLine(canvas *image.RGBA, x, y0, y1 int, ink color.RGBA) {
	for y := y0; y < y1; y++ {
		if (image.Point{X: x, Y: y}).In(canvas.Bounds()) {
			canvas.SetRGBA(x, y, ink)
		}
	}
}

// drawLabel paints the element ID on a filled tag: inside the top-left
// corner for structural boxes, floated above the box for text boxes so the
// recognized text itself stays readable.
func drawLabel(canvas *image.RGBA, face *basicfont.Face, box image.Rectangle, label string, ink color.RGBA, floated bool) {
	const pad = 2
	width := font.MeasureString(face, label).Ceil()
	height := face.Metrics().Height.Ceil()

	x := box.Min.X + pad
	y := box.Min.Y + pad
	if floated {
		x = box.Min.X
		y = box.Min.Y - height - pad
		if y < canvas.Bounds().Min.Y {
			y = box.Max.Y + pad
		}
	}
	x = clamp(x, canvas.Bounds().Min.X, canvas.Bounds().Max.X-width)
	y = clamp(y, canvas.Bounds().Min.Y, canvas.Bounds().Max.Y-height)

	tag := image.Rect(x-pad, y-pad, x+width+pad, y+height+pad).Intersect(canvas.Bounds())
	draw.Draw(canvas, tag, &image.Uniform{C: ink}, image.Point{}, draw.Src)

	d := font.Drawer{
		Dst:  canvas,
		Src:  &image.Uniform{C: labelInk},
		Face: face,
		Dot:  fixed.P(x, y+face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(label)
}

// formatCap bounds the element listing handed to the decision function.
const formatCap = 30000

// FormatElements renders the compact "id:name<Type>" listing the decision
// function reads alongside the annotated frame.
func FormatElements(elements []schemas.UIElement) string {
	entries := make([]string, 0, len(elements))
	for _, el := range elements {
		if el.Name != "" {
			entries = append(entries, fmt.Sprintf("%d:%s<%s>", el.ID, el.Name, el.Type))
		} else {
			entries = append(entries, fmt.Sprintf("%d:<%s>", el.ID, el.Type))
		}
	}
	full := strings.Join(entries, "; ")
	if len(full) > formatCap {
		return full[:formatCap] + "...(truncated)"
	}
	return full
}
