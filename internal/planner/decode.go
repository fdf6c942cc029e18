// File: internal/planner/decode.go
package planner

import (
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/deskpilot-cli/api/schemas"
	"github.com/xkilldash9x/deskpilot-cli/internal/llmutil"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Models are told not to emit comments, concatenation, or trailing commas,
// and emit them anyway. These run on the extracted candidate only.
var (
	lineCommentRegex = regexp.MustCompile(`(?m)^\s*//.*$`)
	concatRegex      = regexp.MustCompile(`"\s*\+\s*"`)
	trailingObjComma = regexp.MustCompile(`,\s*\}`)
	trailingArrComma = regexp.MustCompile(`,\s*\]`)
)

// planWire is the raw JSON shape the model emits.
type planWire struct {
	Status           string        `json:"status"`
	Milestone        string        `json:"milestone_name"`
	SuccessCondition string        `json:"success_condition"`
	SprintSteps      []string      `json:"sprint_steps"`
	Commands         []commandWire `json:"commands"`
	GroundingNotes   string        `json:"grounding_notes"`
	SVG              string        `json:"svg_code"`
	Coding           *CodingParams `json:"coding_params"`
}

type commandWire struct {
	Action    string `json:"action"`
	ElementID *int   `json:"element_id"`
	Text      string `json:"text"`
	Direction string `json:"direction"`
	AppName   string `json:"app_name"`
	Command   string `json:"command"`
	Seconds   int    `json:"seconds"`
}

// DecodePlan turns raw model text into a Plan. Any decode failure yields a
// FAILED plan with empty commands rather than an error: a malformed answer is
// an outcome the loop reports, not a fault it propagates.
func DecodePlan(raw string) Plan {
	candidate := llmutil.ExtractJSON(raw)
	candidate = lineCommentRegex.ReplaceAllString(candidate, "")
	candidate = concatRegex.ReplaceAllString(candidate, "")
	candidate = trailingObjComma.ReplaceAllString(candidate, "}")
	candidate = trailingArrComma.ReplaceAllString(candidate, "]")

	var wire planWire
	if err := json.Unmarshal([]byte(candidate), &wire); err != nil {
		return FailedPlan(fmt.Sprintf("plan is not valid JSON: %v (candidate: %s)",
			err, llmutil.Truncate(candidate, 300)))
	}

	plan := Plan{
		Milestone:        wire.Milestone,
		SuccessCondition: wire.SuccessCondition,
		SprintSteps:      wire.SprintSteps,
		GroundingNotes:   wire.GroundingNotes,
		SVG:              wire.SVG,
		Coding:           wire.Coding,
	}

	switch Status(strings.ToUpper(strings.TrimSpace(wire.Status))) {
	case StatusContinue, "":
		// Absent status means the model went straight to commands.
		plan.Status = StatusContinue
	case StatusCompleted:
		plan.Status = StatusCompleted
	case StatusFailed:
		plan.Status = StatusFailed
	case StatusCodingRequest:
		plan.Status = StatusCodingRequest
	default:
		return FailedPlan(fmt.Sprintf("unknown plan status %q", wire.Status))
	}

	for _, cw := range wire.Commands {
		cmd, ok, err := decodeCommand(cw)
		if err != nil {
			return FailedPlan(err.Error())
		}
		if ok {
			plan.Commands = append(plan.Commands, cmd)
		}
	}
	return plan
}

// decodeCommand maps one wire action to the closed Command set. The middle
// return is false for recognized no-ops (refresh_screen just means "observe
// again next cycle").
func decodeCommand(cw commandWire) (schemas.Command, bool, error) {
	action := strings.ToLower(strings.TrimSpace(cw.Action))
	switch action {
	case "click_element", "double_click_element", "right_click_element":
		if cw.ElementID == nil {
			return nil, false, fmt.Errorf("%s requires element_id", action)
		}
		kind := schemas.ClickSingle
		switch action {
		case "double_click_element":
			kind = schemas.ClickDouble
		case "right_click_element":
			kind = schemas.ClickRight
		}
		return schemas.Click{ElementID: *cw.ElementID, Kind: kind}, true, nil
	case "type_text":
		if cw.Text == "" {
			return nil, false, fmt.Errorf("type_text requires text")
		}
		return schemas.TypeText{Text: cw.Text, ElementID: cw.ElementID}, true, nil
	case "scroll":
		switch strings.ToLower(cw.Direction) {
		case "up":
			return schemas.Scroll{Direction: schemas.ScrollUp}, true, nil
		case "down":
			return schemas.Scroll{Direction: schemas.ScrollDown}, true, nil
		default:
			return nil, false, fmt.Errorf("scroll direction %q is not up or down", cw.Direction)
		}
	case "press_enter":
		return schemas.PressEnter{}, true, nil
	case "launch_app":
		if cw.AppName == "" {
			return nil, false, fmt.Errorf("launch_app requires app_name")
		}
		return schemas.LaunchApp{Name: cw.AppName}, true, nil
	case "focus_window":
		if cw.AppName == "" {
			return nil, false, fmt.Errorf("focus_window requires app_name")
		}
		return schemas.FocusWindow{Name: cw.AppName}, true, nil
	case "close_window":
		return schemas.CloseWindow{}, true, nil
	case "execute_cmd":
		if cw.Command == "" {
			return nil, false, fmt.Errorf("execute_cmd requires command")
		}
		return schemas.ExecuteShell{CommandLine: cw.Command}, true, nil
	case "wait":
		return schemas.Wait{Seconds: cw.Seconds}, true, nil
	case "refresh_screen":
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("unknown action %q", cw.Action)
	}
}
