// Package orchestrator implements the durable execution state machine (spec
// §4.4): step dispatch with dependency resolution and parameter
// substitution, checkpointing, resume with logic-drift detection, and the
// failure-handling branches driven by TriageService and FailoverEngine.
package orchestrator

import (
	"time"

	"github.com/flowforge/intentexec/internal/plan"
)

// Status is the closed set of ExecutionState statuses (spec §3, §4.4).
type Status string

const (
	StatusPending              Status = "PENDING"
	StatusExecuting            Status = "EXECUTING"
	StatusAwaitingConfirmation Status = "AWAITING_CONFIRMATION"
	StatusCompleted            Status = "COMPLETED"
	StatusFailed               Status = "FAILED"
	StatusCancelled            Status = "CANCELLED"
	StatusCompensating         Status = "COMPENSATING"
	StatusCompensated          Status = "COMPENSATED"
)

// terminal lists the sink statuses (spec §3: "terminal statuses are sinks").
var terminal = map[Status]bool{
	StatusCompleted:   true,
	StatusCancelled:   true,
	StatusCompensated: true,
}

// IsTerminal reports whether status admits no further transitions.
func (s Status) IsTerminal() bool { return terminal[s] }

// transitions is the state machine's adjacency list (spec §4.4 diagram).
// Any (from, to) pair not listed here fails with INVALID_TRANSITION.
var transitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusExecuting: true,
		StatusCancelled: true,
	},
	StatusExecuting: {
		StatusCompleted:            true,
		StatusFailed:               true,
		StatusAwaitingConfirmation: true,
		StatusCancelled:            true,
		StatusCompensating:         true,
	},
	StatusAwaitingConfirmation: {
		StatusExecuting: true,
		StatusCancelled: true,
		StatusFailed:    true,
	},
	StatusFailed: {
		StatusCompensating: true,
	},
	StatusCompensating: {
		StatusCompensated: true,
		StatusFailed:      true,
	},
}

// CanTransition reports whether from→to is a legal edge in the state
// machine (spec §4.4: "Transitions that do not appear above fail with
// INVALID_TRANSITION").
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// StepStatus is the closed set of StepState statuses (spec §3).
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
	StepSkipped    StepStatus = "skipped"
)

// StepError carries a step-scoped failure (spec §3 StepState.error).
type StepError struct {
	Code    string
	Message string
}

// StepState is the mutable per-step execution record (spec §3).
type StepState struct {
	StepID      string
	Status      StepStatus
	Input       map[string]any
	Output      map[string]any
	Error       *StepError
	StartedAt   *time.Time
	CompletedAt *time.Time
	LatencyMs   int64
	Attempts    int
}

// Transition is an append-only log entry of a status change (spec §3
// ExecutionState.transitions).
type Transition struct {
	From      Status
	To        Status
	Timestamp time.Time
	Reason    string
}

// ExecutionError is the execution-wide terminal error (spec §3
// ExecutionState.error).
type ExecutionError struct {
	Code    string
	Message string
	StepID  string
}

// ExecutionState is the mutable execution record the orchestrator owns
// (spec §3). Version increments by exactly 1 on every mutation and is the
// OCC concurrency token (spec §5).
type ExecutionState struct {
	ExecutionID      string
	Plan             plan.Plan
	Status           Status
	CurrentStepIndex int
	StepStates       []StepState
	Transitions      []Transition
	Context          map[string]any
	Version          int `json:"version"` // lowercase tag: must match occ.Record's key so CAS bumps the field this struct actually reads
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
	Error            *ExecutionError
}

// StepStateByID finds a step's mutable state by its PlanStep ID.
func (e *ExecutionState) StepStateByID(stepID string) (*StepState, bool) {
	for i := range e.StepStates {
		if e.StepStates[i].StepID == stepID {
			return &e.StepStates[i], true
		}
	}
	return nil, false
}

// NewExecutionState seeds an ExecutionState in PENDING for a freshly
// accepted plan, with one pending StepState per plan step.
func NewExecutionState(executionID string, p plan.Plan, now time.Time) *ExecutionState {
	states := make([]StepState, len(p.Steps))
	for i, step := range p.Steps {
		states[i] = StepState{StepID: step.ID, Status: StepPending}
	}
	return &ExecutionState{
		ExecutionID: executionID,
		Plan:        p,
		Status:      StatusPending,
		StepStates:  states,
		Context:     make(map[string]any),
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Transition moves the execution to a new status, appending a log entry.
// Returns INVALID_TRANSITION via the caller's error wrapping when the edge
// is not legal — Transition itself only reports ok=false so callers can
// attach their own orcherr.Error with context (execution id, step id).
func (e *ExecutionState) Transition(to Status, reason string, now time.Time) bool {
	if !CanTransition(e.Status, to) {
		return false
	}
	e.Transitions = append(e.Transitions, Transition{From: e.Status, To: to, Timestamp: now, Reason: reason})
	e.Status = to
	e.UpdatedAt = now
	if to.IsTerminal() {
		e.CompletedAt = &now
	}
	return true
}

// Checkpoint is the durable resume record (spec §3).
type Checkpoint struct {
	ExecutionID   string
	CheckpointAt  time.Time
	GitSHA        string
	LogicVersion  string
	ToolVersions  map[string]string
	StateSnapshot ExecutionState
	NextStepIndex int
	SegmentNumber int
	Reason        string
	Version       int
}

// CheckpointTTL is the durable-resume-record retention (spec §5).
const CheckpointTTL = 7 * 24 * time.Hour
