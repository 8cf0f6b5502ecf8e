package idempotency

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/intentexec/internal/store/memkv"
)

func TestChecker_FirstCheckIsNotDuplicate(t *testing.T) {
	c := NewChecker(memkv.New())
	_, outcome, err := c.Check(context.Background(), "user-1", "calendar.create", []byte(`{"title":"Meeting"}`))
	require.NoError(t, err)
	assert.False(t, outcome.Duplicate)
}

func TestChecker_SecondCheckWithinTTLIsDuplicate(t *testing.T) {
	c := NewChecker(memkv.New())
	ctx := context.Background()
	key, outcome, err := c.Check(ctx, "user-1", "calendar.create", []byte(`{"title":"Meeting"}`))
	require.NoError(t, err)
	require.False(t, outcome.Duplicate)

	require.NoError(t, c.RecordOutput(ctx, key, []byte(`{"event_id":"evt-1"}`)))

	_, outcome2, err := c.Check(ctx, "user-1", "calendar.create", []byte(`{"title":"Meeting"}`))
	require.NoError(t, err)
	assert.True(t, outcome2.Duplicate)
	assert.Equal(t, `{"event_id":"evt-1"}`, string(outcome2.CachedOutput))
}

func TestChecker_DifferentParamsAreNotDuplicates(t *testing.T) {
	c := NewChecker(memkv.New())
	ctx := context.Background()
	_, a, err := c.Check(ctx, "user-1", "calendar.create", []byte(`{"title":"Meeting"}`))
	require.NoError(t, err)
	_, b, err := c.Check(ctx, "user-1", "calendar.create", []byte(`{"title":"Standup"}`))
	require.NoError(t, err)

	assert.False(t, a.Duplicate)
	assert.False(t, b.Duplicate)
}
