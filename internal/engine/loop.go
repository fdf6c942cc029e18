// File: internal/engine/loop.go
//
// The per-objective control loop: reconcile window state, observe, consult
// the decision function, dispatch its commands, repeat. One loop per
// objective; everything in a cycle runs sequentially, so focus state needs no
// locking.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot-cli/api/schemas"
	"github.com/xkilldash9x/deskpilot-cli/internal/config"
	"github.com/xkilldash9x/deskpilot-cli/internal/events"
	"github.com/xkilldash9x/deskpilot-cli/internal/focus"
	"github.com/xkilldash9x/deskpilot-cli/internal/ipc"
	"github.com/xkilldash9x/deskpilot-cli/internal/llmutil"
	"github.com/xkilldash9x/deskpilot-cli/internal/observe"
	"github.com/xkilldash9x/deskpilot-cli/internal/planner"
)

// ErrObjectiveFailed reports that the decision function gave up on the
// objective, as opposed to the loop itself faulting.
var ErrObjectiveFailed = errors.New("objective failed")

// Observer produces one fused snapshot, scoped to a window when one is
// focused.
type Observer interface {
	Capture(ctx context.Context, focusHandle schemas.Handle) (*schemas.ObservationSnapshot, error)
}

// Telemetry is the slice of the automation-server client the loop reads
// between dispatches.
type Telemetry interface {
	WindowList(ctx context.Context) []schemas.WindowInfo
	ActiveWindow(ctx context.Context) (schemas.ActiveWindowInfo, bool)
}

// CommandRunner executes one command against the current snapshot.
type CommandRunner interface {
	Dispatch(ctx context.Context, cmd schemas.Command, elements []schemas.UIElement) schemas.ActionResult
}

// Loop drives one objective to completion.
type Loop struct {
	cfg        config.EngineConfig
	observer   Observer
	client     Telemetry
	tracker    *focus.Tracker
	dispatcher CommandRunner
	mind       planner.Mind
	sink       events.Sink
	logger     *zap.Logger

	// Cross-phase conversation state, reset per objective.
	lastResult string
	grounding  strings.Builder
}

// New wires a control loop.
func New(cfg config.EngineConfig, observer Observer, client Telemetry, tracker *focus.Tracker,
	dispatcher CommandRunner, mind planner.Mind, sink events.Sink, logger *zap.Logger) *Loop {
	return &Loop{
		cfg:        cfg,
		observer:   observer,
		client:     client,
		tracker:    tracker,
		dispatcher: dispatcher,
		mind:       mind,
		sink:       sink,
		logger:     logger.Named("engine"),
	}
}

// Run executes one objective. It returns nil when the decision function
// reports COMPLETED, ErrObjectiveFailed when it reports FAILED or the phase
// budget runs out, and a transport-level error when the loop itself cannot
// continue.
func (l *Loop) Run(ctx context.Context, objective string) error {
	l.lastResult = "Starting Task (State Preserved)."
	l.grounding.Reset()

	// Baseline: windows already open are not popups, and a remembered focus
	// survives only if its window still exists.
	l.tracker.Seed(l.client.WindowList(ctx))
	l.tracker.Reset(ctx)

	l.sink.Emit(events.TypeStatus, "objective_started", 0)
	l.logger.Info("Objective started.", zap.String("objective", objective))

	for phase := 1; phase <= l.cfg.MaxPhases; phase++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("objective aborted: %w", err)
		}
		l.sink.Emit(events.TypeStatus, fmt.Sprintf("phase %d/%d", phase, l.cfg.MaxPhases), phase)

		snap, err := l.observe(ctx, phase)
		if err != nil {
			if errors.Is(err, ipc.ErrServerUnreachable) {
				l.sink.Emit(events.TypeError, "automation server unreachable", phase)
				return fmt.Errorf("automation server unreachable: %w", err)
			}
			// A broad-scan timeout costs this cycle only.
			l.logger.Warn("Capture failed; skipping cycle.", zap.Error(err))
			l.sink.Emit(events.TypeError, fmt.Sprintf("capture failed: %v", err), phase)
			l.lastResult = fmt.Sprintf("Observation failed this phase: %v", err)
			continue
		}

		plan, err := l.consult(ctx, objective, snap, phase)
		if err != nil {
			l.sink.Emit(events.TypeError, fmt.Sprintf("decision function error: %v", err), phase)
			return fmt.Errorf("consult decision function: %w", err)
		}

		if plan.SVG != "" {
			l.sink.Emit(events.TypeDashboard, plan.SVG, phase)
		}
		if plan.GroundingNotes != "" {
			l.sink.Emit(events.TypeLog, "Ref Info: "+plan.GroundingNotes, phase)
			fmt.Fprintf(&l.grounding, "\n%s", plan.GroundingNotes)
		}
		l.sink.Emit(events.TypePlan, planDigest(plan), phase)

		switch plan.Status {
		case planner.StatusCompleted:
			l.sink.Emit(events.TypeSuccess, "Task Completed.", phase)
			l.logger.Info("Objective completed.", zap.Int("phases", phase))
			return nil
		case planner.StatusFailed:
			l.sink.Emit(events.TypeError, "Task Failed.", phase)
			return fmt.Errorf("%w: %s", ErrObjectiveFailed, failureDetail(plan))
		case planner.StatusCodingRequest:
			// No coding backend is wired; report the refusal as sprint
			// feedback so the next plan routes around it.
			l.logger.Warn("Plan requested the coding backend; none is configured.")
			l.lastResult = "CODING_REQUEST declined: no coding backend is configured. Solve it with UI actions or execute_cmd."
			continue
		}

		l.lastResult = l.dispatchAll(ctx, plan, snap, phase)

		// Let the desktop settle before the next observation.
		select {
		case <-ctx.Done():
			return fmt.Errorf("objective aborted: %w", ctx.Err())
		case <-time.After(l.cfg.SettleTime):
		}
	}

	l.sink.Emit(events.TypeError, "phase budget exhausted", l.cfg.MaxPhases)
	return fmt.Errorf("%w: phase budget (%d) exhausted", ErrObjectiveFailed, l.cfg.MaxPhases)
}

// observe reconciles window state and captures one snapshot. A stale focus
// handle is cleared and the capture retried against the full desktop.
func (l *Loop) observe(ctx context.Context, phase int) (*schemas.ObservationSnapshot, error) {
	live := l.client.WindowList(ctx)
	if !l.tracker.DetectPopup(ctx, live) {
		l.tracker.RecoverStale(ctx, live)
	}

	snap, err := l.observer.Capture(ctx, l.tracker.ActiveHandle())
	if errors.Is(err, ipc.ErrHandleInvalid) {
		stale := l.tracker.ActiveHandle()
		l.logger.Info("Scoped scan says focused window is gone; rescanning desktop.",
			zap.Uint64("handle", uint64(stale)))
		l.sink.Emit(events.TypeLog, "focused window vanished; widening scan", phase)
		l.tracker.RemoveHandle(stale)
		snap, err = l.observer.Capture(ctx, schemas.NoHandle)
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// consult packages the snapshot for the decision function and decodes its
// plan.
func (l *Loop) consult(ctx context.Context, objective string, snap *schemas.ObservationSnapshot, phase int) (planner.Plan, error) {
	cleanPNG, err := observe.EncodeClean(snap)
	if err != nil {
		l.logger.Warn("Failed to encode clean frame.", zap.Error(err))
	} else {
		l.sink.Emit(events.TypeScreen, cleanPNG, phase)
	}
	annotatedPNG, err := observe.Annotate(snap)
	if err != nil {
		l.logger.Warn("Failed to annotate frame.", zap.Error(err))
	}

	caretActive := false
	if active, ok := l.client.ActiveWindow(ctx); ok {
		caretActive = active.Caret.Active
	}

	openApps := make([]string, 0)
	for name := range l.tracker.KnownWindows() {
		openApps = append(openApps, name)
	}
	currentFocus := l.tracker.ActiveName()

	return l.mind.Decide(ctx, planner.Request{
		Objective:        objective,
		LastResult:       l.lastResult,
		GroundingContext: l.grounding.String(),
		CleanPNG:         cleanPNG,
		AnnotatedPNG:     annotatedPNG,
		ElementDigest:    observe.FormatElements(snap.Elements),
		OpenApps:         openApps,
		CurrentFocus:     currentFocus,
		CaretActive:      caretActive,
		Phase:            phase,
	})
}

// dispatchAll runs the plan's commands in order and condenses the outcomes
// into the feedback string for the next consultation.
func (l *Loop) dispatchAll(ctx context.Context, plan planner.Plan, snap *schemas.ObservationSnapshot, phase int) string {
	commands := plan.Commands
	if len(commands) > l.cfg.MaxSprintSteps {
		l.logger.Warn("Plan exceeds step budget; truncating.",
			zap.Int("requested", len(commands)), zap.Int("budget", l.cfg.MaxSprintSteps))
		commands = commands[:l.cfg.MaxSprintSteps]
	}
	if len(commands) == 0 {
		return "Plan contained no commands. Screen state unchanged."
	}

	var feedback strings.Builder
	fmt.Fprintf(&feedback, "Sprint %q:", plan.Milestone)
	for i, cmd := range commands {
		if err := ctx.Err(); err != nil {
			fmt.Fprintf(&feedback, " [aborted: %v]", err)
			break
		}

		result := l.dispatcher.Dispatch(ctx, cmd, snap.Elements)
		l.sink.Emit(events.TypeAction, fmt.Sprintf("%s -> %s: %s",
			cmd.Describe(), result.Status, llmutil.Truncate(result.Message, 300)), phase)
		fmt.Fprintf(&feedback, "\n%d. %s -> %s: %s",
			i+1, cmd.Describe(), result.Status, llmutil.Truncate(result.Message, 300))

		// Shell output is durable knowledge; carry it across phases.
		if _, isShell := cmd.(schemas.ExecuteShell); isShell && result.Succeeded() {
			fmt.Fprintf(&l.grounding, "\nCMD output:\n%s", llmutil.Truncate(result.Message, 500))
		}

		if !result.Succeeded() {
			// Later commands in the batch target a screen that the failed
			// step was supposed to produce.
			fmt.Fprint(&feedback, " [remaining steps skipped]")
			break
		}
	}
	return feedback.String()
}

func planDigest(plan planner.Plan) string {
	return fmt.Sprintf("%s | %s | %d commands | success when: %s",
		plan.Status, plan.Milestone, len(plan.Commands), plan.SuccessCondition)
}

func failureDetail(plan planner.Plan) string {
	if plan.GroundingNotes != "" {
		return plan.GroundingNotes
	}
	if plan.Milestone != "" {
		return plan.Milestone
	}
	return "decision function reported FAILED"
}
