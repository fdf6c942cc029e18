// File: api/schemas/command.go
package schemas

import "fmt"

// Command is the closed set of abstract actions the decision function can
// request. It is a sealed interface: the dispatcher matches exhaustively over
// the concrete types below, so an unknown verb cannot reach runtime.
type Command interface {
	isCommand()
	// Describe returns a short human-readable form for logs and events.
	Describe() string
}

// ClickKind distinguishes the members of the click family.
type ClickKind string

const (
	ClickSingle ClickKind = "click"
	ClickDouble ClickKind = "double_click"
	ClickRight  ClickKind = "right_click"
)

// Click requests a click-family interaction on an element of the current
// snapshot.
type Click struct {
	ElementID int
	Kind      ClickKind
}

// TypeText requests text injection. When ElementID is nil the text goes to
// whatever currently holds keyboard focus.
type TypeText struct {
	Text      string
	ElementID *int
}

// ScrollDirection is the direction of a Scroll command.
type ScrollDirection string

const (
	ScrollUp   ScrollDirection = "up"
	ScrollDown ScrollDirection = "down"
)

// Scroll requests a page scroll in the focused window.
type Scroll struct {
	Direction ScrollDirection
}

// LaunchApp requests starting an application by human-readable name.
type LaunchApp struct {
	Name string
}

// FocusWindow requests re-foregrounding a window already known by app name.
type FocusWindow struct {
	Name string
}

// CloseWindow requests closing the currently tracked active window.
type CloseWindow struct{}

// PressEnter sends a single Enter keypress to the focused control.
type PressEnter struct{}

// ExecuteShell runs a user-level shell command with a bounded timeout.
type ExecuteShell struct {
	CommandLine string
}

// Wait suspends dispatch of further commands in the same batch.
type Wait struct {
	Seconds int
}

func (Click) isCommand()        {}
func (TypeText) isCommand()     {}
func (Scroll) isCommand()       {}
func (LaunchApp) isCommand()    {}
func (FocusWindow) isCommand()  {}
func (CloseWindow) isCommand()  {}
func (PressEnter) isCommand()   {}
func (ExecuteShell) isCommand() {}
func (Wait) isCommand()         {}

func (c Click) Describe() string { return fmt.Sprintf("%s element %d", c.Kind, c.ElementID) }
func (c TypeText) Describe() string {
	if c.ElementID != nil {
		return fmt.Sprintf("type into element %d", *c.ElementID)
	}
	return "type into focused control"
}
func (c Scroll) Describe() string       { return "scroll " + string(c.Direction) }
func (c LaunchApp) Describe() string    { return "launch app " + c.Name }
func (c FocusWindow) Describe() string  { return "focus window " + c.Name }
func (CloseWindow) Describe() string    { return "close active window" }
func (PressEnter) Describe() string     { return "press enter" }
func (c ExecuteShell) Describe() string { return "run shell: " + c.CommandLine }
func (c Wait) Describe() string         { return fmt.Sprintf("wait %ds", c.Seconds) }

// ResultStatus is the outcome class of a dispatched command.
type ResultStatus string

const (
	StatusSuccess ResultStatus = "success"
	StatusError   ResultStatus = "error"
)

// ActionResult is the dispatcher's report for one command. Resolution
// failures are results, never panics or unhandled faults.
type ActionResult struct {
	Status    ResultStatus `json:"status"`
	Message   string       `json:"message,omitempty"`
	NewHandle Handle       `json:"new_handle,omitempty"`
}

// Succeeded reports whether the command completed without error.
func (r ActionResult) Succeeded() bool { return r.Status == StatusSuccess }

// Successf builds a success result with a formatted message.
func Successf(format string, args ...any) ActionResult {
	return ActionResult{Status: StatusSuccess, Message: fmt.Sprintf(format, args...)}
}

// Errorf builds an error result with a formatted message.
func Errorf(format string, args ...any) ActionResult {
	return ActionResult{Status: StatusError, Message: fmt.Sprintf(format, args...)}
}
