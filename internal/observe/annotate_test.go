// File: internal/observe/annotate_test.go
package observe

import (
	"bytes"
	"image"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/deskpilot-cli/api/schemas"
)

func TestAnnotateDrawsBoxesOverElements(t *testing.T) {
	// -- Setup --
	snap := &schemas.ObservationSnapshot{
		Image: image.NewRGBA(image.Rect(0, 0, 400, 300)),
		Elements: []schemas.UIElement{
			{ID: 0, Name: "OK", Type: "Button", Source: schemas.SourceStructural,
				Rect: schemas.Rect{Left: 50, Top: 50, Right: 150, Bottom: 90}},
			{ID: 9000, Name: "hint", Type: "OCR_TEXT", Source: schemas.SourceText,
				Rect: schemas.Rect{Left: 200, Top: 200, Right: 280, Bottom: 220}},
		},
		CapturedAt: time.Now(),
	}

	// -- Execution --
	encoded, err := Annotate(snap)

	// -- Assertions --
	require.NoError(t, err)
	decoded, err := png.Decode(bytes.NewReader(encoded))
	require.NoError(t, err)
	assert.Equal(t, 400, decoded.Bounds().Dx())

	// The structural box's top edge must be painted red.
	r, g, b, _ := decoded.At(100, 50).RGBA()
	assert.Equal(t, uint32(0xFFFF), r)
	assert.Less(t, g, uint32(0x8000))
	assert.Less(t, b, uint32(0x8000))

	// The text box's top edge must be painted magenta.
	r, g, b, _ = decoded.At(240, 200).RGBA()
	assert.Equal(t, uint32(0xFFFF), r)
	assert.Less(t, g, uint32(0x8000))
	assert.Equal(t, uint32(0xFFFF), b)
}

func TestAnnotateRespectsCropOffset(t *testing.T) {
	// -- Setup --
	snap := &schemas.ObservationSnapshot{
		Image:  image.NewRGBA(image.Rect(0, 0, 200, 200)),
		Offset: schemas.Point{X: 1000, Y: 1000},
		Elements: []schemas.UIElement{
			{ID: 0, Name: "OK", Type: "Button", Source: schemas.SourceStructural,
				Rect: schemas.Rect{Left: 1050, Top: 1050, Right: 1150, Bottom: 1100}},
		},
	}

	// -- Execution --
	encoded, err := Annotate(snap)

	// -- Assertions --
	require.NoError(t, err)
	decoded, err := png.Decode(bytes.NewReader(encoded))
	require.NoError(t, err)
	r, _, _, _ := decoded.At(100, 50).RGBA()
	assert.Equal(t, uint32(0xFFFF), r, "box must be drawn in crop-local coordinates")
}

func TestEncodeCleanRoundTrips(t *testing.T) {
	snap := &schemas.ObservationSnapshot{Image: image.NewRGBA(image.Rect(0, 0, 10, 10))}
	encoded, err := EncodeClean(snap)
	require.NoError(t, err)
	decoded, err := png.Decode(bytes.NewReader(encoded))
	require.NoError(t, err)
	assert.Equal(t, 10, decoded.Bounds().Dx())
}
