// File: internal/observe/filter_test.go
package observe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/deskpilot-cli/api/schemas"
)

func ids(elements []schemas.UIElement) []int {
	out := make([]int, 0, len(elements))
	for _, el := range elements {
		out = append(out, el.ID)
	}
	return out
}

func TestFilterRedundantKeepsInnermostOfNearDuplicates(t *testing.T) {
	// -- Setup --
	inner := schemas.UIElement{ID: 1, Rect: schemas.Rect{Left: 10, Top: 10, Right: 110, Bottom: 60}}
	// Slightly larger box around the same control; the inner one covers well
	// over 80% of it.
	outer := schemas.UIElement{ID: 2, Rect: schemas.Rect{Left: 8, Top: 8, Right: 112, Bottom: 63}}

	// -- Execution --
	kept := FilterRedundant([]schemas.UIElement{outer, inner})

	// -- Assertions --
	require.Len(t, kept, 1)
	assert.Equal(t, 1, kept[0].ID, "the smaller, more specific box wins")
}

func TestFilterRedundantKeepsDisjointElements(t *testing.T) {
	// -- Setup --
	a := schemas.UIElement{ID: 1, Rect: schemas.Rect{Left: 0, Top: 0, Right: 50, Bottom: 50}}
	b := schemas.UIElement{ID: 2, Rect: schemas.Rect{Left: 200, Top: 200, Right: 250, Bottom: 250}}

	// -- Execution --
	kept := FilterRedundant([]schemas.UIElement{a, b})

	// -- Assertions --
	assert.ElementsMatch(t, []int{1, 2}, ids(kept))
}

func TestFilterRedundantKeepsSmallElementInsideLargeContainer(t *testing.T) {
	// A tiny control inside a big pane is the interesting one; neither is
	// redundant because the small box covers almost none of the container.

	// -- Setup --
	container := schemas.UIElement{ID: 1, Rect: schemas.Rect{Left: 0, Top: 0, Right: 1000, Bottom: 800}}
	control := schemas.UIElement{ID: 2, Rect: schemas.Rect{Left: 100, Top: 100, Right: 200, Bottom: 140}}

	// -- Execution --
	kept := FilterRedundant([]schemas.UIElement{container, control})

	// -- Assertions --
	assert.ElementsMatch(t, []int{1, 2}, ids(kept))
}

func TestFilterRedundantDropsZeroAreaElements(t *testing.T) {
	// -- Setup --
	degenerate := schemas.UIElement{ID: 1, Rect: schemas.Rect{Left: 10, Top: 10, Right: 10, Bottom: 40}}
	inverted := schemas.UIElement{ID: 2, Rect: schemas.Rect{Left: 50, Top: 50, Right: 20, Bottom: 80}}
	normal := schemas.UIElement{ID: 3, Rect: schemas.Rect{Left: 0, Top: 0, Right: 40, Bottom: 40}}

	// -- Execution --
	kept := FilterRedundant([]schemas.UIElement{degenerate, inverted, normal})

	// -- Assertions --
	assert.Equal(t, []int{3}, ids(kept))
}

func TestFilterRedundantCollapsesStackedDuplicates(t *testing.T) {
	// -- Setup --
	base := schemas.Rect{Left: 100, Top: 100, Right: 300, Bottom: 200}
	elements := []schemas.UIElement{
		{ID: 1, Rect: base},
		{ID: 2, Rect: schemas.Rect{Left: 98, Top: 99, Right: 302, Bottom: 202}},
		{ID: 3, Rect: schemas.Rect{Left: 97, Top: 97, Right: 303, Bottom: 203}},
	}

	// -- Execution --
	kept := FilterRedundant(elements)

	// -- Assertions --
	require.Len(t, kept, 1)
	assert.Equal(t, 1, kept[0].ID)
}
