// File: internal/observe/filter.go
package observe

import (
	"sort"

	"github.com/xkilldash9x/deskpilot-cli/api/schemas"
)

// redundancyTolerance is the slack, in pixels per edge, when testing whether
// one rectangle sits inside another.
const redundancyTolerance = 5

// redundancyCoverage is the area fraction above which an enclosing rectangle
// adds nothing over the element it encloses.
const redundancyCoverage = 0.80

// FilterRedundant removes visual clutter for annotation: when two elements
// occupy nearly the same box, only the smaller (more specific) one is kept.
// Processing runs smallest-area-first, and a candidate is dropped when an
// already-kept rectangle fits inside it within tolerance and covers most of
// its area. Zero- and negative-area elements are discarded outright.
//
// This is presentation-only filtering. Element addressing always uses the
// unfiltered snapshot list.
func FilterRedundant(elements []schemas.UIElement) []schemas.UIElement {
	ordered := make([]schemas.UIElement, 0, len(elements))
	for _, el := range elements {
		if el.Rect.Area() > 0 {
			ordered = append(ordered, el)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Rect.Area() < ordered[j].Rect.Area()
	})

	kept := make([]schemas.UIElement, 0, len(ordered))
	for _, el := range ordered {
		redundant := false
		for _, k := range kept {
			if !fitsInside(k.Rect, el.Rect) {
				continue
			}
			if float64(k.Rect.Area())/float64(el.Rect.Area()) > redundancyCoverage {
				redundant = true
				break
			}
		}
		if !redundant {
			kept = append(kept, el)
		}
	}
	return kept
}

// fitsInside reports whether inner lies within outer expanded by the
// tolerance on every edge.
func fitsInside(inner, outer schemas.Rect) bool {
	return inner.Left >= outer.Left-redundancyTolerance &&
		inner.Top >= outer.Top-redundancyTolerance &&
		inner.Right <= outer.Right+redundancyTolerance &&
		inner.Bottom <= outer.Bottom+redundancyTolerance
}
