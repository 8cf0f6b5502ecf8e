// Package taskqueue implements the priority/time-ordered delayed-resume
// queue spec §4.7.4 describes: a sorted set keyed by absolute scheduled
// time, with payloads stored alongside it for the worker loop to pick up.
package taskqueue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/flowforge/intentexec/internal/orcherr"
	"github.com/flowforge/intentexec/internal/store"
)

const indexKey = "taskqueue:index"

func payloadKey(execID string) string { return "taskqueue:payload:" + execID }

// Task is a scheduled resume, ready once Now() reaches ScheduledAt.
type Task struct {
	ExecutionID string
	ScheduledAt time.Time
	Payload     []byte
}

// Queue wraps a KVStore with the scheduleTaskResume / getReadyTasks /
// markProcessing operations.
type Queue struct {
	kv  store.KVStore
	now func() time.Time
}

// New builds a Queue over kv.
func New(kv store.KVStore) *Queue {
	return &Queue{kv: kv, now: func() time.Time { return time.Now().UTC() }}
}

// ScheduleResume writes payload under execID and inserts execID into the
// time-ordered index at now()+delay.
func (q *Queue) ScheduleResume(ctx context.Context, execID string, delay time.Duration, payload []byte) error {
	scheduledAt := q.now().Add(delay)
	if err := q.kv.Set(ctx, payloadKey(execID), payload, 0); err != nil {
		return orcherr.Wrap(orcherr.CodeMemoryOperationFailed, "store task payload", err)
	}
	if err := q.kv.ZAdd(ctx, indexKey, float64(scheduledAt.UnixMilli()), execID); err != nil {
		return orcherr.Wrap(orcherr.CodeMemoryOperationFailed, "index task resume time", err)
	}
	return nil
}

// ReadyTasks returns up to limit tasks whose scheduled time is <= now,
// ordered earliest first.
func (q *Queue) ReadyTasks(ctx context.Context, limit int) ([]Task, error) {
	members, err := q.kv.ZRangeByScore(ctx, indexKey, 0, float64(q.now().UnixMilli()))
	if err != nil {
		return nil, orcherr.Wrap(orcherr.CodeMemoryOperationFailed, "scan ready tasks", err)
	}
	if limit > 0 && len(members) > limit {
		members = members[:limit]
	}

	tasks := make([]Task, 0, len(members))
	for _, m := range members {
		payload, found, err := q.kv.Get(ctx, payloadKey(m.Member))
		if err != nil {
			return nil, orcherr.Wrap(orcherr.CodeMemoryOperationFailed, "load task payload", err)
		}
		if !found {
			continue
		}
		tasks = append(tasks, Task{
			ExecutionID: m.Member,
			ScheduledAt: time.UnixMilli(int64(m.Score)).UTC(),
			Payload:     payload,
		})
	}
	return tasks, nil
}

// MarkProcessing removes execID from the index, then deletes its payload.
// These are two separate store calls, not one atomic step; once the index
// entry is gone, ReadyTasks no longer returns the task.
func (q *Queue) MarkProcessing(ctx context.Context, execID string) error {
	if err := q.kv.ZRem(ctx, indexKey, execID); err != nil {
		return orcherr.Wrap(orcherr.CodeMemoryOperationFailed, "remove task from index", err)
	}
	if err := q.kv.Del(ctx, payloadKey(execID)); err != nil {
		return orcherr.Wrap(orcherr.CodeMemoryOperationFailed, "delete task payload", err)
	}
	return nil
}

// ResumePayload is the JSON envelope ScheduleResume's payload argument
// typically carries: enough context for the worker loop to re-enter the
// orchestrator's dispatch loop without reloading everything from scratch.
type ResumePayload struct {
	ExecutionID string `json:"execution_id"`
	Reason      string `json:"reason"`
	Attempt     int    `json:"attempt"`
}

// EncodeResumePayload is a small convenience wrapper so callers don't
// hand-marshal ResumePayload at every call site.
func EncodeResumePayload(p ResumePayload) ([]byte, error) {
	return json.Marshal(p)
}
