package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/intentexec/internal/generator"
)

type fakeGenerator struct {
	err   error
	calls int
}

func (f *fakeGenerator) Generate(_ context.Context, _, _ string, _ any, _ float64, _ int) (map[string]any, generator.Response, error) {
	f.calls++
	if f.err != nil {
		return nil, generator.Response{}, f.err
	}
	return map[string]any{"ok": true}, generator.Response{}, nil
}

func TestLimiter_BackoffOnProviderRateLimit(t *testing.T) {
	fake := &fakeGenerator{err: ErrRateLimited}
	l := New(fake, 60000, 60000)
	initial := l.currentTPM

	_, _, err := l.Generate(context.Background(), "hello", "", nil, 0, 0)
	require.ErrorIs(t, err, ErrRateLimited)

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Less(t, l.currentTPM, initial)
}

func TestLimiter_ProbeWidensBudgetOnSuccess(t *testing.T) {
	fake := &fakeGenerator{}
	l := New(fake, 60000, 120000)
	l.recoveryRate = 1000
	initial := l.currentTPM

	_, _, err := l.Generate(context.Background(), "hello", "", nil, 0, 0)
	require.NoError(t, err)

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Greater(t, l.currentTPM, initial)
}

func TestLimiter_ClampsToMaxTPM(t *testing.T) {
	fake := &fakeGenerator{}
	l := New(fake, 60000, 60500)
	l.recoveryRate = 10000

	for i := 0; i < 5; i++ {
		_, _, err := l.Generate(context.Background(), "hi", "", nil, 0, 0)
		require.NoError(t, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.LessOrEqual(t, l.currentTPM, l.maxTPM)
}

func TestEstimateTokens_EmptyInputUsesFloor(t *testing.T) {
	assert.Equal(t, 500, estimateTokens("", ""))
	assert.Greater(t, estimateTokens("a long prompt with plenty of characters in it", "system"), 500)
}
