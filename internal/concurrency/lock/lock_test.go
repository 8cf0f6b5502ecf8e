package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/intentexec/internal/store/memkv"
)

func TestManager_AcquireReleaseRoundTrip(t *testing.T) {
	mgr := NewManager(memkv.New(), memkv.New(), memkv.New())
	ctx := context.Background()

	handle, err := mgr.Acquire(ctx, "exec-1", 5000, 0)
	require.NoError(t, err)
	assert.True(t, handle.Valid(time.Now()))

	require.NoError(t, mgr.Release(ctx, handle))
}

func TestManager_AcquireFailsWithoutQuorum(t *testing.T) {
	s1, s2, s3 := memkv.New(), memkv.New(), memkv.New()
	// Pre-occupy two of three stores so a fresh Acquire cannot reach quorum.
	require.NoError(t, s1.Set(context.Background(), "exec-1", []byte("someone-else"), 5))
	require.NoError(t, s2.Set(context.Background(), "exec-1", []byte("someone-else"), 5))

	mgr := NewManager(s1, s2, s3)
	_, err := mgr.Acquire(context.Background(), "exec-1", 5000, 0)
	assert.Error(t, err)
}

func TestManager_VirtualQuorumSimulatesThreeStores(t *testing.T) {
	mgr := NewVirtualManager(memkv.New())
	handle, err := mgr.Acquire(context.Background(), "exec-1", 5000, 0)
	require.NoError(t, err)
	assert.Equal(t, "exec-1", handle.Key)
}

func TestManager_ExtendRequiresQuorum(t *testing.T) {
	mgr := NewManager(memkv.New(), memkv.New(), memkv.New())
	ctx := context.Background()

	handle, err := mgr.Acquire(ctx, "exec-1", 5000, 0)
	require.NoError(t, err)

	require.NoError(t, mgr.Extend(ctx, handle, 10000))
}
