// File: api/schemas/window.go
package schemas

// WindowInfo describes one top-level window as reported by the automation
// server. It is ephemeral: fetched fresh each cycle and never trusted beyond
// one comparison.
type WindowInfo struct {
	Handle Handle `json:"handle"`
	Title  string `json:"title"`
	Rect   Rect   `json:"rect"`
}

// CaretInfo reports whether the foreground window currently shows a text
// caret, i.e. whether blind keyboard input would land in an edit field.
type CaretInfo struct {
	Active bool `json:"active"`
	Rect   Rect `json:"rect,omitempty"`
}

// ActiveWindowInfo is the response to a get_active_window request.
type ActiveWindowInfo struct {
	Handle Handle    `json:"handle"`
	Title  string    `json:"title"`
	Rect   Rect      `json:"rect"`
	Caret  CaretInfo `json:"caret"`
}

// HandleSet is a convenience set of window handles used for cycle-to-cycle
// window diffing.
type HandleSet map[Handle]struct{}

// HandlesOf collects the handle set of a window list.
func HandlesOf(windows []WindowInfo) HandleSet {
	set := make(HandleSet, len(windows))
	for _, w := range windows {
		set[w.Handle] = struct{}{}
	}
	return set
}

// Has reports membership.
func (s HandleSet) Has(h Handle) bool {
	_, ok := s[h]
	return ok
}
