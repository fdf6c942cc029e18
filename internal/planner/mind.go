// File: internal/planner/mind.go
package planner

import (
	"context"
	"fmt"
	"strings"
)

// Request is everything the decision function sees for one phase.
type Request struct {
	Objective        string
	LastResult       string
	GroundingContext string
	// CleanPNG is the unannotated screen; AnnotatedPNG carries element boxes
	// and IDs. Either may be empty when capture degraded to a placeholder.
	CleanPNG     []byte
	AnnotatedPNG []byte
	// ElementDigest is the compact id:name<Type> listing of the snapshot.
	ElementDigest string
	OpenApps      []string
	CurrentFocus  string
	CaretActive   bool
	Phase         int
}

// Mind is the opaque decision function: possibly slow, possibly malformed,
// always consulted with full context and never trusted beyond its decoded
// Plan.
type Mind interface {
	Decide(ctx context.Context, req Request) (Plan, error)
}

// buildPrompt renders the per-phase user message.
func buildPrompt(req Request) string {
	apps := "None (Clean State)"
	if len(req.OpenApps) > 0 {
		apps = strings.Join(req.OpenApps, ", ")
	}
	focus := req.CurrentFocus
	if focus == "" {
		focus = "Desktop"
	}
	keyboard := "NO TEXT FOCUS"
	if req.CaretActive {
		keyboard = "TYPE_READY"
	}
	grounding := req.GroundingContext
	if grounding == "" {
		grounding = "(none yet)"
	}
	lastResult := req.LastResult
	if lastResult == "" {
		lastResult = "Starting Task."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "MAIN GOAL: %s\n", req.Objective)
	fmt.Fprintf(&b, "PHASE: %d\n", req.Phase)
	fmt.Fprintf(&b, "LAST RESULT: %s\n\n", lastResult)
	b.WriteString("### LONG-TERM MEMORY (GROUNDING CONTEXT)\n")
	b.WriteString("The following facts were established in previous turns. Assume they are TRUE.\n")
	b.WriteString("-------------------------\n")
	b.WriteString(grounding)
	b.WriteString("\n-------------------------\n\n")
	b.WriteString("### CURRENT SYSTEM STATE\n")
	fmt.Fprintf(&b, "- FOCUSED WINDOW: '%s'\n", focus)
	fmt.Fprintf(&b, "- OPEN APPS: [%s]\n", apps)
	fmt.Fprintf(&b, "- KEYBOARD: %s\n\n", keyboard)
	if req.ElementDigest != "" {
		b.WriteString("### UI ELEMENTS\n")
		b.WriteString(req.ElementDigest)
		b.WriteString("\n\n")
	}
	b.WriteString("Output the JSON plan.")
	return b.String()
}
