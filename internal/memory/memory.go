// Package memory defines the execution-history reader abstraction the
// self_reflect built-in tool and the orchestrator's planner-context lookups
// share, grounded on the teacher's agents/runtime/memory.Store/Reader split.
package memory

import (
	"context"
	"time"
)

// EventType enumerates the kinds of history entries a Reader returns.
type EventType string

const (
	EventStepStarted   EventType = "STEP_STARTED"
	EventStepCompleted EventType = "STEP_COMPLETED"
	EventStepFailed    EventType = "STEP_FAILED"
	EventCheckpoint    EventType = "CHECKPOINT"
	EventAnnotation    EventType = "ANNOTATION"
)

// Event is one append-only execution-history entry.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]any
}

// Reader reads an execution's history, keyed by the originating intent ID
// so a tool like self_reflect can recall prior attempts at the same
// high-level goal across executions.
type Reader interface {
	History(ctx context.Context, intentID string) ([]Event, error)
}

// Store appends Events and satisfies Reader. Production use binds Store to
// the same KVStore the orchestrator persists ExecutionState through;
// in-process tests use the in-memory implementation in this package.
type Store interface {
	Reader
	Append(ctx context.Context, intentID string, event Event) error
}
