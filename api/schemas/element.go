// File: api/schemas/element.go
package schemas

import (
	"image"
	"time"
)

// Handle is an opaque OS window identifier. Possession of a Handle never
// implies the window still exists; liveness must be re-derived via an
// explicit check_handle probe.
type Handle uint64

// NoHandle is the absent-window sentinel.
const NoHandle Handle = 0

// ElementSource identifies which perception channel produced a UIElement.
type ElementSource string

const (
	// SourceStructural marks elements reported by the OS accessibility scan.
	SourceStructural ElementSource = "STRUCTURAL"
	// SourceText marks elements inferred by optical text recognition.
	SourceText ElementSource = "TEXT"
)

// TextIDBase is the lowest element ID assigned to text-recognized elements.
// Structural IDs are always below it, so the two sources can never collide
// within one snapshot.
const TextIDBase = 9000

// UIElement is one addressable thing on screen. Rect is always absolute
// screen coordinates, regardless of any cropping applied during capture.
type UIElement struct {
	ID           int           `json:"id"`
	Name         string        `json:"name"`
	Type         string        `json:"type"`
	AutomationID string        `json:"automation_id,omitempty"`
	Rect         Rect          `json:"rectangle_coords"`
	OwnerHandle  Handle        `json:"top_level_handle,omitempty"`
	Source       ElementSource `json:"source"`
	// Confidence is set for TEXT-sourced elements only.
	Confidence float64 `json:"confidence,omitempty"`
}

// IsText reports whether the element came from text recognition.
func (e UIElement) IsText() bool { return e.Source == SourceText }

// ObservationSnapshot is one fused observation of the screen: the raw bitmap,
// the addressable elements found on it, and the absolute offset of the
// bitmap's top-left corner in global screen space. Immutable once produced;
// owned by the caller for the duration of one decision cycle.
type ObservationSnapshot struct {
	Image      image.Image
	Elements   []UIElement
	Offset     Point
	CapturedAt time.Time
}

// ElementByID returns the element with the given snapshot-local ID.
func (s *ObservationSnapshot) ElementByID(id int) (UIElement, bool) {
	for _, el := range s.Elements {
		if el.ID == id {
			return el, true
		}
	}
	return UIElement{}, false
}
