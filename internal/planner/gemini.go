// File: internal/planner/gemini.go
package planner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/deskpilot-cli/internal/config"
	"github.com/xkilldash9x/deskpilot-cli/internal/llmutil"
)

// plannerInstruction is the standing brief for the planning model. The
// output-format rules exist because the decoder is strict: everything the
// model is told not to do here is stripped defensively in DecodePlan anyway.
const plannerInstruction = `You are the planning function of a desktop automation agent. You see one screenshot per turn plus the system state, and you output the next strategic step.

Decide one of:
- CONTINUE: more UI work is needed. Emit "commands": the concrete actions for this phase, in order.
- COMPLETED: the main goal is visibly achieved.
- FAILED: the goal cannot be achieved.
- CODING_REQUEST: a file must be written or edited; fill "coding_params" with path and instruction.

Available actions for "commands":
click_element / double_click_element / right_click_element {element_id},
type_text {text, element_id?}, scroll {direction: up|down}, press_enter {},
launch_app {app_name}, focus_window {app_name}, close_window {},
execute_cmd {command}, wait {seconds}, refresh_screen {}.

Element IDs come from the annotated screenshot and the UI ELEMENTS listing. Never invent IDs. Focus a window before interacting with it. If the keyboard status is not TYPE_READY, click the text field before typing.

CRITICAL OUTPUT FORMAT RULES:
1. NO STRING CONCATENATION: never use "text" + "text".
2. NO COMMENTS inside the JSON.
3. ESCAPE backslashes in paths (C:\\Users).
4. Output ONLY the JSON object wrapped in a json code fence:
{
  "status": "CONTINUE" | "COMPLETED" | "FAILED" | "CODING_REQUEST",
  "milestone_name": "...",
  "success_condition": "...",
  "sprint_steps": ["..."],
  "commands": [{"action": "launch_app", "app_name": "settings"}],
  "grounding_notes": "(optional) facts for the next turn",
  "coding_params": {"path": "...", "instruction": "..."}
}`

// GeminiMind consults a Gemini model through the genai SDK.
type GeminiMind struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger

	// generate calls the model; swapped for a fake in tests.
	generate func(ctx context.Context, contents []*genai.Content) (string, error)
}

// NewGeminiMind builds the Gemini-backed decision function.
func NewGeminiMind(ctx context.Context, cfg config.AgentConfig, logger *zap.Logger) (*GeminiMind, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("agent API key is required (DESKPILOT_API_KEY)")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	m := &GeminiMind{
		client:  client,
		model:   cfg.PlannerModel,
		timeout: cfg.APITimeout,
		logger:  logger.Named("mind"),
	}
	m.generate = m.callModel
	return m, nil
}

// Decide sends the phase context and screenshot to the model and decodes its
// plan. Transport errors are returned; malformed model output is not an error
// but a FAILED plan, per the decoder contract. Each consultation is bounded
// by the configured API timeout on top of the caller's context.
func (m *GeminiMind) Decide(ctx context.Context, req Request) (Plan, error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	parts := []*genai.Part{genai.NewPartFromText(buildPrompt(req))}
	if img := pickImage(req); img != nil {
		parts = append(parts, genai.NewPartFromBytes(img, "image/png"))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	text, err := m.generate(ctx, contents)
	if err != nil {
		return Plan{}, fmt.Errorf("consult planner model: %w", err)
	}
	if text == "" {
		m.logger.Warn("Planner model returned no text.")
		return FailedPlan("model returned an empty response"), nil
	}
	m.logger.Debug("Planner model responded.", zap.String("raw", llmutil.Truncate(text, 400)))
	return DecodePlan(text), nil
}

// callModel is the production generate path.
func (m *GeminiMind) callModel(ctx context.Context, contents []*genai.Content) (string, error) {
	resp, err := m.client.Models.GenerateContent(ctx, m.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(plannerInstruction, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0.2),
	})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// pickImage prefers the annotated frame: that is where the element IDs the
// model must cite are drawn.
func pickImage(req Request) []byte {
	if len(req.AnnotatedPNG) > 0 {
		return req.AnnotatedPNG
	}
	if len(req.CleanPNG) > 0 {
		return req.CleanPNG
	}
	return nil
}
