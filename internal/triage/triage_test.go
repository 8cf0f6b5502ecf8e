package triage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flowforge/intentexec/internal/generator"
)

func TestClassify_HeuristicRateLimitRetriesWithBackoff(t *testing.T) {
	s := NewService()
	result := s.Classify(context.Background(), Failure{ToolName: "api.call", ErrorText: "429 Too Many Requests"})

	assert.Equal(t, "RATE_LIMITED", result.Category)
	assert.True(t, result.IsRecoverable)
	assert.Equal(t, ActionRetryBackoff, result.SuggestedAction)
}

func TestClassify_HeuristicAuthFailureEscalates(t *testing.T) {
	s := NewService()
	result := s.Classify(context.Background(), Failure{ToolName: "api.call", ErrorText: "403 Forbidden"})

	assert.Equal(t, "AUTH_FAILED", result.Category)
	assert.False(t, result.IsRecoverable)
	assert.Equal(t, ActionEscalateToHuman, result.SuggestedAction)
}

func TestClassify_UnmatchedErrorIsUnknown(t *testing.T) {
	s := NewService()
	result := s.Classify(context.Background(), Failure{ToolName: "api.call", ErrorText: "something bizarre happened"})

	assert.Equal(t, "UNKNOWN", result.Category)
	assert.False(t, result.IsRecoverable)
}

type erroringGenerator struct{}

func (erroringGenerator) Generate(context.Context, string, string, any, float64, int) (map[string]any, generator.Response, error) {
	return nil, generator.Response{}, errors.New("generator unavailable")
}

func TestClassify_SemanticFailureFallsBackToHeuristic(t *testing.T) {
	s := NewService(WithGenerator(erroringGenerator{}))
	result := s.Classify(context.Background(), Failure{ToolName: "api.call", ErrorText: "429 rate limit"})

	assert.Equal(t, "RATE_LIMITED", result.Category)
}

type workingGenerator struct{}

func (workingGenerator) Generate(context.Context, string, string, any, float64, int) (map[string]any, generator.Response, error) {
	return map[string]any{
		"category":        "TRANSIENT_NETWORK",
		"isRecoverable":   true,
		"confidence":      0.9,
		"explanation":     "flaky upstream",
		"suggestedAction": string(ActionRetryBackoff),
	}, generator.Response{}, nil
}

func TestClassify_SemanticResultUsedWhenAvailable(t *testing.T) {
	s := NewService(WithGenerator(workingGenerator{}))
	result := s.Classify(context.Background(), Failure{ToolName: "api.call", ErrorText: "connection reset"})

	assert.Equal(t, "TRANSIENT_NETWORK", result.Category)
	assert.True(t, result.IsRecoverable)
}
