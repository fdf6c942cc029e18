// File: internal/planner/decode_test.go
package planner

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/deskpilot-cli/api/schemas"
)

func TestDecodePlanWellFormed(t *testing.T) {
	// -- Setup --
	raw := "```json\n" + `{
  "status": "CONTINUE",
  "milestone_name": "Open Settings",
  "success_condition": "Settings window visible",
  "sprint_steps": ["launch settings", "click personalization"],
  "commands": [
    {"action": "launch_app", "app_name": "settings"},
    {"action": "click_element", "element_id": 42},
    {"action": "wait", "seconds": 3}
  ],
  "grounding_notes": "German locale"
}` + "\n```"

	// -- Execution --
	plan := DecodePlan(raw)

	// -- Assertions --
	require.NotEqual(t, StatusFailed, plan.Status)
	assert.Equal(t, StatusContinue, plan.Status)
	assert.Equal(t, "Open Settings", plan.Milestone)
	want := []schemas.Command{
		schemas.LaunchApp{Name: "settings"},
		schemas.Click{ElementID: 42, Kind: schemas.ClickSingle},
		schemas.Wait{Seconds: 3},
	}
	if diff := cmp.Diff(want, plan.Commands); diff != "" {
		t.Errorf("Command mismatch. Diff:\n%s", diff)
	}
}

func TestDecodePlanToleratesModelArtifacts(t *testing.T) {
	// -- Setup --
	// Line comments, string concatenation, and trailing commas all at once.
	raw := "```json\n" + `{
  // the model was told not to do this
  "status": "CONTINUE",
  "milestone_name": "Write " + "a note",
  "commands": [
    {"action": "type_text", "text": "hello", "element_id": 7},
  ],
}` + "\n```"

	// -- Execution --
	plan := DecodePlan(raw)

	// -- Assertions --
	require.Equal(t, StatusContinue, plan.Status, plan.GroundingNotes)
	assert.Equal(t, "Write a note", plan.Milestone)
	id := 7
	require.Len(t, plan.Commands, 1)
	assert.Equal(t, schemas.TypeText{Text: "hello", ElementID: &id}, plan.Commands[0])
}

func TestDecodePlanConversationalWrapping(t *testing.T) {
	// -- Setup --
	raw := `Sure, here is my plan: {"status": "COMPLETED", "milestone_name": "Done"} Let me know!`

	// -- Execution --
	plan := DecodePlan(raw)

	// -- Assertions --
	assert.Equal(t, StatusCompleted, plan.Status)
	assert.True(t, plan.Finished())
}

func TestDecodePlanGarbageFallsBackToFailed(t *testing.T) {
	// -- Execution --
	plan := DecodePlan("I am unable to produce a plan right now.")

	// -- Assertions --
	assert.Equal(t, StatusFailed, plan.Status)
	assert.Empty(t, plan.Commands)
}

func TestDecodePlanUnknownStatusIsFailed(t *testing.T) {
	// -- Execution --
	plan := DecodePlan(`{"status": "MAYBE", "commands": []}`)

	// -- Assertions --
	assert.Equal(t, StatusFailed, plan.Status)
	assert.Contains(t, plan.GroundingNotes, "MAYBE")
}

func TestDecodePlanMissingStatusDefaultsToContinue(t *testing.T) {
	// -- Execution --
	plan := DecodePlan(`{"commands": [{"action": "press_enter"}]}`)

	// -- Assertions --
	assert.Equal(t, StatusContinue, plan.Status)
	require.Len(t, plan.Commands, 1)
	assert.Equal(t, schemas.PressEnter{}, plan.Commands[0])
}

func TestDecodePlanUnknownActionIsFailed(t *testing.T) {
	// -- Execution --
	plan := DecodePlan(`{"status": "CONTINUE", "commands": [{"action": "teleport"}]}`)

	// -- Assertions --
	assert.Equal(t, StatusFailed, plan.Status)
	assert.Contains(t, plan.GroundingNotes, "teleport")
}

func TestDecodePlanSkipsRefreshScreen(t *testing.T) {
	// -- Execution --
	plan := DecodePlan(`{"status": "CONTINUE", "commands": [
		{"action": "refresh_screen"},
		{"action": "scroll", "direction": "down"}
	]}`)

	// -- Assertions --
	require.Equal(t, StatusContinue, plan.Status)
	require.Len(t, plan.Commands, 1)
	assert.Equal(t, schemas.Scroll{Direction: schemas.ScrollDown}, plan.Commands[0])
}

func TestDecodePlanCodingRequestCarriesParams(t *testing.T) {
	// -- Execution --
	plan := DecodePlan(`{
		"status": "CODING_REQUEST",
		"grounding_notes": "use python",
		"coding_params": {"path": "C:\\Users\\a\\note.py", "instruction": "print hi"}
	}`)

	// -- Assertions --
	assert.Equal(t, StatusCodingRequest, plan.Status)
	require.NotNil(t, plan.Coding)
	assert.Equal(t, `C:\Users\a\note.py`, plan.Coding.Path)
	assert.Equal(t, "print hi", plan.Coding.Instruction)
}

func TestDecodePlanCommandValidation(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"click without id", `{"commands": [{"action": "click_element"}]}`},
		{"type without text", `{"commands": [{"action": "type_text"}]}`},
		{"scroll sideways", `{"commands": [{"action": "scroll", "direction": "left"}]}`},
		{"launch without name", `{"commands": [{"action": "launch_app"}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan := DecodePlan(tc.raw)
			assert.Equal(t, StatusFailed, plan.Status)
			assert.Empty(t, plan.Commands)
		})
	}
}

func TestBuildPromptIncludesState(t *testing.T) {
	// -- Setup --
	req := Request{
		Objective:     "open the calculator",
		OpenApps:      []string{"Editor", "Browser"},
		CurrentFocus:  "Editor",
		CaretActive:   true,
		ElementDigest: "0:File<MenuItem>; 1:Edit<MenuItem>",
		Phase:         2,
	}

	// -- Execution --
	prompt := buildPrompt(req)

	// -- Assertions --
	assert.Contains(t, prompt, "MAIN GOAL: open the calculator")
	assert.Contains(t, prompt, "FOCUSED WINDOW: 'Editor'")
	assert.Contains(t, prompt, "OPEN APPS: [Editor, Browser]")
	assert.Contains(t, prompt, "KEYBOARD: TYPE_READY")
	assert.Contains(t, prompt, "0:File<MenuItem>")
}

func TestBuildPromptDefaults(t *testing.T) {
	// -- Execution --
	prompt := buildPrompt(Request{Objective: "x"})

	// -- Assertions --
	assert.Contains(t, prompt, "FOCUSED WINDOW: 'Desktop'")
	assert.Contains(t, prompt, "OPEN APPS: [None (Clean State)]")
	assert.Contains(t, prompt, "KEYBOARD: NO TEXT FOCUS")
	assert.Contains(t, prompt, "LAST RESULT: Starting Task.")
}
