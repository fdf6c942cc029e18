// File: api/schemas/geometry.go
package schemas

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var jsonGeom = jsoniter.ConfigCompatibleWithStandardLibrary

// Point is an absolute position in global screen space.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Rect is an absolute (left, top, right, bottom) rectangle in global screen
// coordinates. It marshals as a 4-element array, which is the shape the
// automation server speaks on the wire.
type Rect struct {
	Left   int
	Top    int
	Right  int
	Bottom int
}

func (r Rect) Width() int  { return r.Right - r.Left }
func (r Rect) Height() int { return r.Bottom - r.Top }
func (r Rect) Area() int   { return r.Width() * r.Height() }

// Center returns the midpoint of the rectangle.
func (r Rect) Center() Point {
	return Point{X: (r.Left + r.Right) / 2, Y: (r.Top + r.Bottom) / 2}
}

// Contains reports whether the point lies inside the rectangle (inclusive).
func (r Rect) Contains(p Point) bool {
	return p.X >= r.Left && p.X <= r.Right && p.Y >= r.Top && p.Y <= r.Bottom
}

// IsZero reports whether the rectangle is the zero value.
func (r Rect) IsZero() bool {
	return r.Left == 0 && r.Top == 0 && r.Right == 0 && r.Bottom == 0
}

// MarshalJSON encodes the rectangle as [left, top, right, bottom].
func (r Rect) MarshalJSON() ([]byte, error) {
	return jsonGeom.Marshal([4]int{r.Left, r.Top, r.Right, r.Bottom})
}

// UnmarshalJSON accepts the [left, top, right, bottom] array form.
func (r *Rect) UnmarshalJSON(data []byte) error {
	var coords [4]int
	if err := jsonGeom.Unmarshal(data, &coords); err != nil {
		return fmt.Errorf("rect must be a [left, top, right, bottom] array: %w", err)
	}
	r.Left, r.Top, r.Right, r.Bottom = coords[0], coords[1], coords[2], coords[3]
	return nil
}
