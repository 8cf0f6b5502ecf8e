package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/flowforge/intentexec/internal/concurrency/idempotency"
	"github.com/flowforge/intentexec/internal/concurrency/lock"
	"github.com/flowforge/intentexec/internal/concurrency/taskqueue"
	"github.com/flowforge/intentexec/internal/failover"
	"github.com/flowforge/intentexec/internal/orcherr"
	"github.com/flowforge/intentexec/internal/orchestrator/trace"
	"github.com/flowforge/intentexec/internal/plan"
	"github.com/flowforge/intentexec/internal/registry"
	"github.com/flowforge/intentexec/internal/telemetry"
	"github.com/flowforge/intentexec/internal/tools"
	"github.com/flowforge/intentexec/internal/triage"
)

// Identity captures the environment inputs pinned into every checkpoint
// (spec §6: "git_sha, logic_version, tool-version map — read once at
// start-up").
type Identity struct {
	GitSHA       string
	LogicVersion string
	ToolVersions map[string]string
}

// StateStore persists and loads ExecutionState JSON under OCC semantics.
// Bound to internal/concurrency/occ.Save for writes; Orchestrator also
// reads directly through the same KVStore for the initial load.
type StateStore interface {
	Load(ctx context.Context, executionID string) (*ExecutionState, error)
	Create(ctx context.Context, state *ExecutionState) error
	Save(ctx context.Context, executionID string, update func(*ExecutionState)) (*ExecutionState, error)
}

// CheckpointStore persists Checkpoint records with a TTL.
type CheckpointStore interface {
	Store(ctx context.Context, cp Checkpoint) error
	Load(ctx context.Context, executionID string) (Checkpoint, bool, error)
}

// Orchestrator drives the step dispatch loop described in spec §4.4,
// wiring the concurrency substrate, tool registry, and failure-recovery
// collaborators behind explicit interfaces (spec §9: "no package-level
// singletons").
type Orchestrator struct {
	states      StateStore
	checkpoints CheckpointStore
	executor    tools.Executor
	idem        *idempotency.Checker
	locks       *lock.Manager
	queue       *taskqueue.Queue
	triage      *triage.Service
	failover    *failover.Engine
	traceBus    *trace.Bus
	identity    Identity
	logger      telemetry.Logger
	metrics     telemetry.Metrics
	tracer      telemetry.Tracer
	timeoutFor  func(toolName string) time.Duration

	maxInlineRetries int
}

// Option configures an Orchestrator at construction.
type Option func(*Orchestrator)

// WithLogger attaches a telemetry.Logger.
func WithLogger(l telemetry.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// WithMetrics attaches a telemetry.Metrics sink.
func WithMetrics(m telemetry.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

// WithTracer attaches a telemetry.Tracer; every tool invocation gets a span
// named "tool.<toolName>".
func WithTracer(t telemetry.Tracer) Option { return func(o *Orchestrator) { o.tracer = t } }

// WithTimeoutResolver overrides the default 30s-for-every-tool step timeout
// with a per-tool lookup, normally internal/config.Config.TimeoutFor, so a
// step's own plan.PlanStep.TimeoutMs (when set) still wins but an unset one
// falls back to the configured default/override instead of a fixed value.
func WithTimeoutResolver(f func(toolName string) time.Duration) Option {
	return func(o *Orchestrator) { o.timeoutFor = f }
}

// WithMaxInlineRetries bounds RETRY_WITH_MODIFIED_PARAMS's immediate retry
// count (spec §4.4 step 8: "capped retries").
func WithMaxInlineRetries(n int) Option {
	return func(o *Orchestrator) { o.maxInlineRetries = n }
}

// New builds an Orchestrator over its collaborators.
func New(states StateStore, checkpoints CheckpointStore, executor tools.Executor, idem *idempotency.Checker,
	locks *lock.Manager, queue *taskqueue.Queue, triageSvc *triage.Service, failoverEngine *failover.Engine,
	traceBus *trace.Bus, identity Identity, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		states:           states,
		checkpoints:      checkpoints,
		executor:         executor,
		idem:             idem,
		locks:            locks,
		queue:            queue,
		triage:           triageSvc,
		failover:         failoverEngine,
		traceBus:         traceBus,
		identity:         identity,
		logger:           telemetry.NoopLogger{},
		metrics:          telemetry.NoopMetrics{},
		tracer:           telemetry.NoopTracer{},
		timeoutFor:       func(string) time.Duration { return 30 * time.Second },
		maxInlineRetries: 3,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Accept creates a fresh ExecutionState in PENDING for p and transitions it
// immediately to EXECUTING, per spec §4.4's diagram (PENDING's only live
// edge besides CANCELLED).
//
// Every step's tool_name is checked against the registry first (spec §8
// scenario 3: "Unknown capability ... planning rejects with
// PLAN_VALIDATION_FAILED before any state is persisted"); this mirrors the
// same check plan.Build/plan.Verify apply during raw-plan validation, so a
// plan that reaches Accept already pre-validated costs nothing extra, and
// one that didn't (as in this orchestrator's own tests, which hand it an
// already-canonical plan.Plan) still can't slip an unregistered capability
// past planning and into persisted state.
func (o *Orchestrator) Accept(ctx context.Context, executionID string, p plan.Plan, now time.Time) (*ExecutionState, error) {
	if err := plan.VerifyToolsKnown(p.Steps, o.executor.Known); err != nil {
		return nil, err
	}

	state := NewExecutionState(executionID, p, now)
	if err := o.states.Create(ctx, state); err != nil {
		return nil, orcherr.Wrap(orcherr.CodeMemoryOperationFailed, "create execution state", err)
	}
	return o.drive(ctx, executionID)
}

// Resume re-enters the dispatch loop for an already-accepted execution
// (worker-loop re-entry after a scheduled retry, or process restart).
// Drift detection against the last checkpoint runs first (spec §4.4
// "Resume").
func (o *Orchestrator) Resume(ctx context.Context, executionID string) (*ExecutionState, error) {
	if err := o.checkDrift(ctx, executionID); err != nil {
		return nil, err
	}
	return o.drive(ctx, executionID)
}

// checkDrift compares the last checkpoint's git_sha against the
// orchestrator's own identity and, on mismatch, applies spec §4.4's
// drift_recommendation rule.
func (o *Orchestrator) checkDrift(ctx context.Context, executionID string) error {
	cp, found, err := o.checkpoints.Load(ctx, executionID)
	if err != nil {
		return orcherr.Wrap(orcherr.CodeCheckpointStoreFailed, "load checkpoint for drift check", err)
	}
	if !found || cp.GitSHA == o.identity.GitSHA {
		return nil
	}

	if sameMajor(cp.LogicVersion, o.identity.LogicVersion) {
		o.logger.Warn(ctx, "logic drift detected, recommending shadow dry run",
			"execution_id", executionID, "checkpoint_sha", cp.GitSHA, "current_sha", o.identity.GitSHA)
		return o.shadowDryRun(ctx, executionID, cp)
	}

	o.logger.Warn(ctx, "logic drift detected across major versions, forcing manual review",
		"execution_id", executionID, "checkpoint_logic_version", cp.LogicVersion, "current_logic_version", o.identity.LogicVersion)
	_, err = o.states.Save(ctx, executionID, func(s *ExecutionState) {
		s.Transition(StatusAwaitingConfirmation, "LOGIC_DRIFT", time.Now().UTC())
	})
	if err != nil {
		return orcherr.Wrap(orcherr.CodeMemoryOperationFailed, "persist LOGIC_DRIFT transition", err)
	}
	return errLogicDriftManualReview
}

// errLogicDriftManualReview signals Resume's caller that the execution was
// parked in AWAITING_CONFIRMATION rather than resumed, not a failure.
var errLogicDriftManualReview = orcherr.New(orcherr.CodeStateTransitionInvalid, "LOGIC_DRIFT").WithRecoverable(true)

// shadowDryRun replays remaining steps against a no-op executor and
// compares predicted output shapes to the logged ones, without mutating
// ExecutionState (spec §4.4: "replay remaining steps against a no-op
// executor first; compare predicted outputs shape to logged").
func (o *Orchestrator) shadowDryRun(ctx context.Context, executionID string, cp Checkpoint) error {
	snapshot := cp.StateSnapshot
	for i := range snapshot.StepStates {
		s := snapshot.StepStates[i]
		if s.Status != StepCompleted {
			continue
		}
		predicted := map[string]any{"shadow": true, "step_id": s.StepID}
		if !sameShape(predicted, s.Output) {
			o.logger.Warn(ctx, "shadow dry run output shape mismatch", "execution_id", executionID, "step_id", s.StepID)
		}
	}
	return nil
}

// sameMajor compares dotted version strings' leading segment.
func sameMajor(a, b string) bool {
	return strings.SplitN(a, ".", 2)[0] == strings.SplitN(b, ".", 2)[0]
}

// sameShape is a shallow key-set comparison, sufficient for the advisory
// shadow-dry-run signal (not a deep equality check).
func sameShape(predicted, logged map[string]any) bool {
	if logged == nil {
		return true
	}
	for k := range predicted {
		if _, ok := logged[k]; !ok {
			return false
		}
	}
	return true
}

// drive runs the step dispatch loop (spec §4.4) until the execution
// reaches a terminal or suspended status, or a non-recoverable error
// surfaces.
func (o *Orchestrator) drive(ctx context.Context, executionID string) (*ExecutionState, error) {
	handle, err := o.locks.Acquire(ctx, "execution:"+executionID, 30000, 5)
	if err != nil {
		return nil, err
	}
	defer func() { _ = o.locks.Release(ctx, handle) }()

	for {
		state, err := o.states.Load(ctx, executionID)
		if err != nil {
			return nil, err
		}
		if state.Status.IsTerminal() {
			return state, nil
		}

		if state.Status == StatusPending {
			state, err = o.states.Save(ctx, executionID, func(s *ExecutionState) {
				s.Transition(StatusExecuting, "dispatch started", time.Now().UTC())
			})
			if err != nil {
				return nil, err
			}
		}

		if exceeded, err := o.checkExecutionDeadline(ctx, executionID, state); exceeded {
			return nil, err
		}

		next, ready := nextReadyStep(state)
		if !ready {
			if allStepsDone(state) {
				return o.finalizeExecution(ctx, executionID, state)
			}
			return o.deadlock(ctx, executionID, state)
		}

		done, outcome, err := o.dispatchStep(ctx, state, next)
		if err != nil {
			return nil, err
		}
		if done {
			return outcome, nil
		}
		// outcome == nil signals "loop again immediately" (e.g. skip, inline retry).
	}
}

// checkExecutionDeadline enforces Plan.Constraints.MaxExecutionTimeMs (spec
// §3, §5): once exceeded, the execution fails with EXECUTION_TIMEOUT rather
// than a per-step STEP_TIMEOUT, distinguishing a runaway plan from a slow
// individual tool call.
func (o *Orchestrator) checkExecutionDeadline(ctx context.Context, executionID string, state *ExecutionState) (bool, error) {
	limitMs := state.Plan.Constraints.MaxExecutionTimeMs
	if limitMs <= 0 {
		return false, nil
	}
	if time.Since(state.CreatedAt) < time.Duration(limitMs)*time.Millisecond {
		return false, nil
	}

	o.metrics.IncCounter("orchestrator.execution.timeout", 1)
	o.publish(ctx, trace.Entry{Phase: "execution", Event: "execution_timeout", Timestamp: time.Now().UTC()})
	if _, err := o.states.Save(ctx, executionID, func(s *ExecutionState) {
		s.Error = &ExecutionError{Code: string(orcherr.CodeExecutionTimeout), Message: "execution exceeded max_execution_time_ms"}
		s.Transition(StatusFailed, "execution_timeout", time.Now().UTC())
	}); err != nil {
		return true, err
	}
	return true, orcherr.New(orcherr.CodeExecutionTimeout, "execution exceeded max_execution_time_ms")
}

// finalizeExecution transitions to COMPLETED once every step is completed
// or skipped.
func (o *Orchestrator) finalizeExecution(ctx context.Context, executionID string, state *ExecutionState) (*ExecutionState, error) {
	final, err := o.states.Save(ctx, executionID, func(s *ExecutionState) {
		s.Transition(StatusCompleted, "all steps resolved", time.Now().UTC())
	})
	if err != nil {
		return nil, err
	}
	o.metrics.IncCounter("orchestrator.execution.completed", 1)
	o.publish(ctx, trace.Entry{Phase: "execution", Event: "execution_completed", Timestamp: time.Now().UTC()})
	return final, nil
}

// deadlock emits PLAN_CIRCULAR_DEPENDENCY when no step is ready but the
// execution is not finished (spec §4.4 step 2).
func (o *Orchestrator) deadlock(ctx context.Context, executionID string, state *ExecutionState) (*ExecutionState, error) {
	o.publish(ctx, trace.Entry{Phase: "execution", Event: "plan_circular_dependency", Timestamp: time.Now().UTC()})
	final, err := o.states.Save(ctx, executionID, func(s *ExecutionState) {
		s.Error = &ExecutionError{Code: string(orcherr.CodePlanCircularDependency), Message: "no ready step but non-terminal steps remain"}
		s.Transition(StatusFailed, "deadlock", time.Now().UTC())
	})
	if err != nil {
		return nil, err
	}
	return final, orcherr.New(orcherr.CodePlanCircularDependency, "no ready step but non-terminal steps remain")
}

// nextReadyStep implements spec §4.4 step 2: a pending step whose
// dependencies are all completed, tie-broken by step_number ascending.
func nextReadyStep(state *ExecutionState) (plan.PlanStep, bool) {
	candidates := make([]plan.PlanStep, 0)
	for _, step := range state.Plan.Steps {
		ss, ok := state.StepStateByID(step.ID)
		if !ok || ss.Status != StepPending {
			continue
		}
		if dependenciesCompleted(state, step) {
			candidates = append(candidates, step)
		}
	}
	if len(candidates) == 0 {
		return plan.PlanStep{}, false
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].StepNumber < candidates[j].StepNumber })
	return candidates[0], true
}

func dependenciesCompleted(state *ExecutionState, step plan.PlanStep) bool {
	for _, depID := range step.Dependencies {
		ss, ok := state.StepStateByID(depID)
		if !ok || (ss.Status != StepCompleted && ss.Status != StepSkipped) {
			return false
		}
	}
	return true
}

func allStepsDone(state *ExecutionState) bool {
	for i := range state.StepStates {
		if state.StepStates[i].Status == StepPending || state.StepStates[i].Status == StepInProgress {
			return false
		}
	}
	return true
}

// dispatchStep runs steps 3–9 of spec §4.4 for a single ready step. The
// first return value is true iff drive should return outcome to its
// caller (suspended or terminal); false means loop again.
func (o *Orchestrator) dispatchStep(ctx context.Context, state *ExecutionState, step plan.PlanStep) (bool, *ExecutionState, error) {
	params := resolveParameters(step.Parameters, state)

	if step.RequiresConfirmation && !hasConfirmation(state, step.ID) {
		updated, err := o.states.Save(ctx, state.ExecutionID, func(s *ExecutionState) {
			s.Transition(StatusAwaitingConfirmation, "requires_confirmation", time.Now().UTC())
		})
		if err != nil {
			return false, nil, err
		}
		o.publish(ctx, trace.Entry{Phase: "execution", StepID: step.ID, Event: "awaiting_confirmation", Timestamp: time.Now().UTC()})
		o.checkpointBeforeSuspend(ctx, updated, "awaiting_confirmation")
		return true, updated, nil
	}

	userID, _ := state.Context["user_id"].(string)
	normalized, err := json.Marshal(params)
	if err != nil {
		return false, nil, orcherr.Wrap(orcherr.CodeToolValidationFailed, "normalize step parameters", err)
	}

	idemKey, idemOutcome, err := o.idem.Check(ctx, userID, step.ToolName, normalized)
	if err != nil {
		return false, nil, err
	}
	if idemOutcome.Duplicate {
		var cached map[string]any
		status := StepSkipped
		if len(idemOutcome.CachedOutput) > 0 {
			if jsonErr := json.Unmarshal(idemOutcome.CachedOutput, &cached); jsonErr == nil {
				status = StepCompleted
			}
		}
		_, err := o.states.Save(ctx, state.ExecutionID, func(s *ExecutionState) {
			ss, _ := s.StepStateByID(step.ID)
			ss.Status = status
			ss.Output = cached
			now := time.Now().UTC()
			ss.CompletedAt = &now
			if cached != nil {
				s.Context[fmt.Sprintf("step_result:%d", step.StepNumber)] = cached
			}
		})
		if err != nil {
			return false, nil, err
		}
		o.publish(ctx, trace.Entry{Phase: "execution", StepID: step.ID, Event: "idempotent_duplicate", Timestamp: time.Now().UTC()})
		return false, nil, nil
	}

	start := time.Now()
	_, err = o.states.Save(ctx, state.ExecutionID, func(s *ExecutionState) {
		ss, _ := s.StepStateByID(step.ID)
		ss.Status = StepInProgress
		ss.Input = params
		ss.Attempts++
		ss.StartedAt = &start
	})
	if err != nil {
		return false, nil, err
	}

	timeoutMs := step.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = int(o.timeoutFor(step.ToolName).Milliseconds())
	}

	spanCtx, span := o.tracer.Start(ctx, "tool."+step.ToolName)
	result := o.executor.Execute(spanCtx, step.ToolName, step.ToolVersion, params, timeoutMs)
	if result.Success {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, result.Error.Message)
	}
	span.End()
	latency := time.Since(start).Milliseconds()

	if result.Success {
		return o.handleStepSuccess(ctx, state, step, result, idemKey, latency)
	}
	return o.handleStepFailure(ctx, state, step, result, latency)
}

// handleStepSuccess implements spec §4.4 step 7.
func (o *Orchestrator) handleStepSuccess(ctx context.Context, state *ExecutionState, step plan.PlanStep, result registry.Result, idemKey string, latencyMs int64) (bool, *ExecutionState, error) {
	if output, err := json.Marshal(result.Output); err == nil {
		_ = o.idem.RecordOutput(ctx, idemKey, output)
	}
	_, err := o.states.Save(ctx, state.ExecutionID, func(s *ExecutionState) {
		ss, _ := s.StepStateByID(step.ID)
		ss.Status = StepCompleted
		ss.Output = result.Output
		ss.LatencyMs = latencyMs
		now := time.Now().UTC()
		ss.CompletedAt = &now
		s.Context[fmt.Sprintf("step_result:%d", step.StepNumber)] = result.Output
	})
	if err != nil {
		return false, nil, err
	}
	o.metrics.IncCounter("orchestrator.step.completed", 1, "tool", step.ToolName)
	o.metrics.RecordTimer("orchestrator.step.latency", time.Duration(latencyMs)*time.Millisecond, "tool", step.ToolName, "status", "completed")
	o.publish(ctx, trace.Entry{
		Phase: "execution", StepID: step.ID, Event: "step_completed",
		Input: step.Parameters, Output: result.Output, LatencyMs: latencyMs, Timestamp: time.Now().UTC(),
	})
	return false, nil, nil
}

// handleStepFailure implements spec §4.4 step 8's five-way branch.
func (o *Orchestrator) handleStepFailure(ctx context.Context, state *ExecutionState, step plan.PlanStep, result registry.Result, latencyMs int64) (bool, *ExecutionState, error) {
	errCode := 0
	errText := "tool execution failed"
	if result.Error != nil {
		errText = result.Error.Message
	}

	triageResult := o.triage.Classify(ctx, triage.Failure{ToolName: step.ToolName, ErrorText: errText, ErrorCode: errCode})
	o.metrics.IncCounter("orchestrator.step.failed", 1, "tool", step.ToolName, "category", triageResult.Category)
	o.metrics.RecordTimer("orchestrator.step.latency", time.Duration(latencyMs)*time.Millisecond, "tool", step.ToolName, "status", "failed")
	o.publish(ctx, trace.Entry{
		Phase: "execution", StepID: step.ID, Event: "step_failed",
		Error: errText, LatencyMs: latencyMs, Timestamp: time.Now().UTC(),
	})

	intentType, _ := state.Context["intent_type"].(string)
	matchCtx := failover.Context{IntentType: intentType, FailureReason: triageResult.Category, Confidence: triageResult.Confidence}
	policy, matched := o.failover.Match(matchCtx)

	action := triageResult.SuggestedAction
	var actionTemplate failover.Action
	if matched {
		if recommended, ok := policy.RecommendedAction(); ok {
			action = recommended.Type
			actionTemplate = recommended
		}
	}

	switch action {
	case triage.ActionRetryBackoff:
		return o.retryWithBackoff(ctx, state, step, actionTemplate)
	case triage.ActionRetryModifiedParams:
		return o.retryWithModifiedParams(ctx, state, step, actionTemplate)
	case triage.ActionSkipStep:
		_, err := o.states.Save(ctx, state.ExecutionID, func(s *ExecutionState) {
			ss, _ := s.StepStateByID(step.ID)
			ss.Status = StepSkipped
			ss.Error = &StepError{Code: string(orcherr.CodeToolExecutionFailed), Message: errText}
		})
		return false, nil, err
	case triage.ActionTriggerCompensation:
		return o.triggerCompensation(ctx, state, step, errText)
	default: // ActionEscalateToHuman, or unrecognized
		return o.escalateToHuman(ctx, state, step, errText, actionTemplate)
	}
}

// retryWithBackoff implements spec §4.4: "increment attempts, schedule
// resume with exponential backoff + jitter, return."
func (o *Orchestrator) retryWithBackoff(ctx context.Context, state *ExecutionState, step plan.PlanStep, action failover.Action) (bool, *ExecutionState, error) {
	ss, _ := state.StepStateByID(step.ID)
	delayMs := action.RetryDelayMs
	if delayMs <= 0 {
		delayMs = 1000
	}
	delay := time.Duration(delayMs) * time.Millisecond * time.Duration(1<<uint(min(ss.Attempts, 6)))
	delay += time.Duration(rand.Int63n(int64(delayMs)+1)) * time.Millisecond

	updated, err := o.states.Save(ctx, state.ExecutionID, func(s *ExecutionState) {
		st, _ := s.StepStateByID(step.ID)
		st.Status = StepPending
	})
	if err != nil {
		return false, nil, err
	}

	payload, err := taskqueue.EncodeResumePayload(taskqueue.ResumePayload{ExecutionID: state.ExecutionID, Reason: "retry_with_backoff", Attempt: ss.Attempts})
	if err != nil {
		return false, nil, orcherr.Wrap(orcherr.CodeMemoryOperationFailed, "encode resume payload", err)
	}
	if err := o.queue.ScheduleResume(ctx, state.ExecutionID, delay, payload); err != nil {
		return false, nil, err
	}
	o.checkpointBeforeSuspend(ctx, updated, "scheduled retry")
	return true, updated, nil
}

// checkpointBeforeSuspend stores a checkpoint ahead of returning control,
// per spec §4.4's checkpointing rule. Failures are logged, not propagated:
// losing a checkpoint write must not fail the suspension it protects.
func (o *Orchestrator) checkpointBeforeSuspend(ctx context.Context, state *ExecutionState, reason string) {
	cp := o.CheckpointFrom(state, state.CurrentStepIndex, reason, time.Now().UTC())
	if err := o.checkpoints.Store(ctx, cp); err != nil {
		o.logger.Error(ctx, "checkpoint store failed before suspend", "execution_id", state.ExecutionID, "error", err.Error())
	}
}

// retryWithModifiedParams implements spec §4.4: "synthesize alternative
// parameters from the failover policy's suggestions, retry immediately
// (capped retries)."
func (o *Orchestrator) retryWithModifiedParams(ctx context.Context, state *ExecutionState, step plan.PlanStep, action failover.Action) (bool, *ExecutionState, error) {
	ss, _ := state.StepStateByID(step.ID)
	if ss.Attempts >= o.maxInlineRetries {
		return o.escalateToHuman(ctx, state, step, "modified-parameter retries exhausted", action)
	}
	_, err := o.states.Save(ctx, state.ExecutionID, func(s *ExecutionState) {
		st, _ := s.StepStateByID(step.ID)
		st.Status = StepPending
		for k, v := range action.Params {
			st.Input = mergeParam(st.Input, k, v)
		}
		stepIdx := planStepIndex(s, step.ID)
		if stepIdx >= 0 && st.Input != nil {
			for k, v := range st.Input {
				s.Plan.Steps[stepIdx].Parameters[k] = v
			}
		}
	})
	return false, nil, err
}

func mergeParam(m map[string]any, key string, value any) map[string]any {
	if m == nil {
		m = make(map[string]any)
	}
	m[key] = value
	return m
}

func planStepIndex(state *ExecutionState, stepID string) int {
	for i, s := range state.Plan.Steps {
		if s.ID == stepID {
			return i
		}
	}
	return -1
}

// triggerCompensation records the step failure and moves the execution
// through FAILED and COMPENSATING to COMPENSATED. For each completed step, in
// reverse completion order, it publishes a "compensating" trace entry; it
// invokes no compensating tool and does not undo any step's side effects.
func (o *Orchestrator) triggerCompensation(ctx context.Context, state *ExecutionState, step plan.PlanStep, reason string) (bool, *ExecutionState, error) {
	updated, err := o.states.Save(ctx, state.ExecutionID, func(s *ExecutionState) {
		s.Error = &ExecutionError{Code: string(orcherr.CodeToolExecutionFailed), Message: reason, StepID: step.ID}
		s.Transition(StatusFailed, reason, time.Now().UTC())
	})
	if err != nil {
		return false, nil, err
	}
	updated, err = o.states.Save(ctx, state.ExecutionID, func(s *ExecutionState) {
		s.Transition(StatusCompensating, "running compensations", time.Now().UTC())
	})
	if err != nil {
		return false, nil, err
	}

	completed := completedStepsReverseOrder(updated)
	for _, ss := range completed {
		o.publish(ctx, trace.Entry{Phase: "execution", StepID: ss.StepID, Event: "compensating", Timestamp: time.Now().UTC()})
	}

	final, err := o.states.Save(ctx, state.ExecutionID, func(s *ExecutionState) {
		s.Transition(StatusCompensated, "compensation finished", time.Now().UTC())
	})
	if err != nil {
		return false, nil, err
	}
	return true, final, nil
}

// completedStepsReverseOrder orders completed steps by completion time
// descending, for compensation.
func completedStepsReverseOrder(state *ExecutionState) []StepState {
	out := make([]StepState, 0, len(state.StepStates))
	for _, ss := range state.StepStates {
		if ss.Status == StepCompleted {
			out = append(out, ss)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].CompletedAt, out[j].CompletedAt
		if ti == nil || tj == nil {
			return false
		}
		return ti.After(*tj)
	})
	return out
}

// escalateToHuman implements spec §4.4: "transition to FAILED and record
// user-visible message from template."
func (o *Orchestrator) escalateToHuman(ctx context.Context, state *ExecutionState, step plan.PlanStep, reason string, action failover.Action) (bool, *ExecutionState, error) {
	message := reason
	if action.MessageTemplate != "" {
		message = expandMessage(action.MessageTemplate, state)
	}
	final, err := o.states.Save(ctx, state.ExecutionID, func(s *ExecutionState) {
		ss, _ := s.StepStateByID(step.ID)
		ss.Status = StepFailed
		ss.Error = &StepError{Code: string(orcherr.CodeToolExecutionFailed), Message: reason}
		s.Error = &ExecutionError{Code: string(orcherr.CodeToolExecutionFailed), Message: message, StepID: step.ID}
		s.Transition(StatusFailed, "escalated to human", time.Now().UTC())
	})
	if err != nil {
		return false, nil, err
	}
	o.publish(ctx, trace.Entry{Phase: "execution", StepID: step.ID, Event: "escalated_to_human", Error: message, Timestamp: time.Now().UTC()})
	return true, final, nil
}

func expandMessage(template string, state *ExecutionState) string {
	out := template
	for k, v := range state.Context {
		if s, ok := v.(string); ok {
			out = strings.ReplaceAll(out, "{"+k+"}", s)
		}
	}
	return out
}

func hasConfirmation(state *ExecutionState, stepID string) bool {
	confirmed, _ := state.Context["confirmed:"+stepID].(bool)
	if confirmed {
		return true
	}
	all, _ := state.Context["confirmed_all"].(bool)
	return all
}

// resolveParameters implements spec §4.4 step 3: substitute
// $stepId.field.subfield references from completed steps' output; tolerate
// forward references by retaining the literal value.
func resolveParameters(params map[string]any, state *ExecutionState) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = resolveValue(v, state)
	}
	return out
}

func resolveValue(v any, state *ExecutionState) any {
	switch val := v.(type) {
	case string:
		if !strings.HasPrefix(val, "$") {
			return val
		}
		path := strings.Split(strings.TrimPrefix(val, "$"), ".")
		if len(path) < 2 {
			return val
		}
		ss, ok := state.StepStateByID(path[0])
		if !ok || ss.Output == nil {
			return val
		}
		resolved, ok := walkPath(ss.Output, path[1:])
		if !ok {
			return val
		}
		return resolved
	case map[string]any:
		return resolveParameters(val, state)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = resolveValue(item, state)
		}
		return out
	default:
		return v
	}
}

func walkPath(data map[string]any, path []string) (any, bool) {
	var current any = data
	for _, segment := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// publish fans a trace entry out through the bus if one is configured.
func (o *Orchestrator) publish(ctx context.Context, entry trace.Entry) {
	if o.traceBus == nil {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	o.traceBus.Publish(ctx, entry)
}
