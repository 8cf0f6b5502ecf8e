package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/intentexec/internal/memory"
)

func TestRegister_RejectsDuplicateNameVersion(t *testing.T) {
	r := New()
	def := Definition{Name: "custom.tool", Version: "1.0.0"}
	impl := func(context.Context, map[string]any) (map[string]any, error) { return nil, nil }

	require.NoError(t, r.Register(def, impl))
	err := r.Register(def, impl)
	assert.Error(t, err)
}

func TestLookup_ResolvesLatestSemver(t *testing.T) {
	r := New()
	impl := func(context.Context, map[string]any) (map[string]any, error) { return nil, nil }
	require.NoError(t, r.Register(Definition{Name: "custom.tool", Version: "1.0.0"}, impl))
	require.NoError(t, r.Register(Definition{Name: "custom.tool", Version: "1.2.0"}, impl))
	require.NoError(t, r.Register(Definition{Name: "custom.tool", Version: "1.10.0"}, impl))

	def, _, err := r.Lookup("custom.tool")
	require.NoError(t, err)
	assert.Equal(t, "1.10.0", def.Version)
}

func TestLookupVersion_ResolvesExactVersion(t *testing.T) {
	r := New()
	impl := func(context.Context, map[string]any) (map[string]any, error) { return nil, nil }
	require.NoError(t, r.Register(Definition{Name: "custom.tool", Version: "1.0.0"}, impl))
	require.NoError(t, r.Register(Definition{Name: "custom.tool", Version: "2.0.0"}, impl))

	def, _, err := r.LookupVersion("custom.tool", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", def.Version)
}

func TestExecute_ToolNotFoundReturnsStructuredError(t *testing.T) {
	r := New()
	result := r.Execute(context.Background(), "nonexistent", "", nil, 1000)
	assert.False(t, result.Success)
	require.NotNil(t, result.Error)
}

func TestExecute_WaitToolSucceeds(t *testing.T) {
	r := New()
	result := r.Execute(context.Background(), "wait", "", map[string]any{"duration_ms": float64(1)}, 1000)
	assert.True(t, result.Success)
}

func TestExecute_ImplementationErrorWrapsToolExecutionFailed(t *testing.T) {
	r := New()
	failing := func(context.Context, map[string]any) (map[string]any, error) { return nil, errors.New("boom") }
	require.NoError(t, r.Register(Definition{Name: "failing.tool", Version: "1.0.0"}, failing))

	result := r.Execute(context.Background(), "failing.tool", "", nil, 1000)
	assert.False(t, result.Success)
	require.NotNil(t, result.Error)
}

func TestSelfReflect_ReturnsHistory(t *testing.T) {
	r := New()
	store := memory.NewInMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, "intent-1", memory.Event{Type: memory.EventStepCompleted}))
	require.NoError(t, RegisterSelfReflect(r, store))

	result := r.Execute(ctx, "self_reflect", "", map[string]any{"intentId": "intent-1"}, 1000)
	require.True(t, result.Success)
	history, ok := result.Output["history"].([]map[string]any)
	require.True(t, ok)
	assert.Len(t, history, 1)
}
