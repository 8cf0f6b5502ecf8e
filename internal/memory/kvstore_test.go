package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/intentexec/internal/store/memkv"
)

func TestKVStore_HistoryReturnsAppendedEventsInOrder(t *testing.T) {
	kv := memkv.New()
	reference := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	s := NewKVStore(kv)
	s.now = func() time.Time { return reference }
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "intent-1", Event{Type: EventStepStarted, Timestamp: reference, Data: map[string]any{"step": "a"}}))
	require.NoError(t, s.Append(ctx, "intent-1", Event{Type: EventStepCompleted, Timestamp: reference.Add(time.Second), Data: map[string]any{"step": "a"}}))

	history, err := s.History(ctx, "intent-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, EventStepStarted, history[0].Type)
	assert.Equal(t, EventStepCompleted, history[1].Type)
}

func TestKVStore_HistoryIsolatedPerIntentID(t *testing.T) {
	kv := memkv.New()
	s := NewKVStore(kv)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "intent-a", Event{Type: EventAnnotation, Timestamp: time.Now().UTC()}))
	require.NoError(t, s.Append(ctx, "intent-b", Event{Type: EventAnnotation, Timestamp: time.Now().UTC()}))

	history, err := s.History(ctx, "intent-a")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}
