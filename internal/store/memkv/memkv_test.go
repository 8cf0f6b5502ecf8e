package memkv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/intentexec/internal/store"
)

func TestStore_SetNXRejectsSecondWriter(t *testing.T) {
	s := New()
	ctx := context.Background()

	first, err := s.SetNX(ctx, "k", []byte("v1"), 0)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := s.SetNX(ctx, "k", []byte("v2"), 0)
	require.NoError(t, err)
	assert.False(t, second)
}

func TestStore_CASSaveScript_ConflictOnStaleVersion(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "exec-1", []byte(`{"version":1}`), 0))

	result, err := s.Eval(ctx, store.CASSaveScript, []string{"exec-1"}, []any{"1", []byte(`{"version":2}`), 0})
	require.NoError(t, err)
	assert.Equal(t, "OK", result)

	stale, err := s.Eval(ctx, store.CASSaveScript, []string{"exec-1"}, []any{"1", []byte(`{"version":3}`), 0})
	require.NoError(t, err)
	assert.Equal(t, "CONFLICT:2", stale)
}

func TestStore_ZRangeByScoreOrdersAscending(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.ZAdd(ctx, "q", 30, "c"))
	require.NoError(t, s.ZAdd(ctx, "q", 10, "a"))
	require.NoError(t, s.ZAdd(ctx, "q", 20, "b"))

	members, err := s.ZRangeByScore(ctx, "q", 0, 25)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "a", members[0].Member)
	assert.Equal(t, "b", members[1].Member)
}

func TestStore_CASDeleteScriptOnlyDeletesMatchingHolder(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "lock:exec-1", []byte("holder-a"), 10))

	notHeld, err := s.Eval(ctx, store.CASDeleteScript, []string{"lock:exec-1"}, []any{"holder-b"})
	require.NoError(t, err)
	assert.Equal(t, "NOT_HELD", notHeld)

	ok, err := s.Eval(ctx, store.CASDeleteScript, []string{"lock:exec-1"}, []any{"holder-a"})
	require.NoError(t, err)
	assert.Equal(t, "OK", ok)

	_, found, err := s.Get(ctx, "lock:exec-1")
	require.NoError(t, err)
	assert.False(t, found)
}
