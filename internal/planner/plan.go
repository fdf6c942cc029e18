// File: internal/planner/plan.go
//
// The decision-function boundary. A Plan is the structured answer the model
// gives for one phase of an objective; everything lenient about reading model
// text lives in decode.go, nothing else in the repo interprets model output.
package planner

import "github.com/xkilldash9x/deskpilot-cli/api/schemas"

// Status classifies a plan.
type Status string

const (
	StatusContinue      Status = "CONTINUE"
	StatusCompleted     Status = "COMPLETED"
	StatusFailed        Status = "FAILED"
	StatusCodingRequest Status = "CODING_REQUEST"
)

// CodingParams carries a CODING_REQUEST hand-off: which file to edit and what
// to do to it.
type CodingParams struct {
	Path        string `json:"path"`
	Instruction string `json:"instruction"`
}

// Plan is one phase's decoded strategy.
type Plan struct {
	Status           Status
	Milestone        string
	SuccessCondition string
	SprintSteps      []string
	Commands         []schemas.Command
	GroundingNotes   string
	SVG              string
	Coding           *CodingParams
}

// Finished reports whether the plan ends the objective.
func (p Plan) Finished() bool {
	return p.Status == StatusCompleted || p.Status == StatusFailed
}

// FailedPlan is the decode-error fallback: a FAILED plan with no commands.
func FailedPlan(reason string) Plan {
	return Plan{
		Status:    StatusFailed,
		Milestone: "Parsing Error",
		// Surface the reason so the failure event says what went wrong.
		GroundingNotes: reason,
	}
}
