package intent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) NormalizerOption {
	return func(n *Normalizer) { n.now = func() time.Time { return t } }
}

func TestNormalize_UnknownTypeFallsBackToSystemFallback(t *testing.T) {
	n := NewNormalizer()
	got := n.Normalize(context.Background(), Candidate{Type: "NOT_A_TYPE", Confidence: 0.9}, "raw", "model-x")

	assert.Equal(t, TypeUnknown, got.Type)
	assert.Zero(t, got.Confidence)
	assert.Equal(t, SourceSystemFallback, got.Metadata.Source)
	require.NotEmpty(t, got.ID)
}

func TestNormalize_MissingRequiredFieldsPenalizeConfidence(t *testing.T) {
	n := NewNormalizer()
	candidate := Candidate{
		Type:       TypeSchedule,
		Confidence: 0.95,
		Parameters: map[string]any{"action": "book"},
	}

	got := n.Normalize(context.Background(), candidate, "raw", "model-x")

	assert.InDelta(t, 0.95-MissingFieldPenalty, got.Confidence, 1e-9)
}

func TestNormalize_LowConfidenceForcesClarification(t *testing.T) {
	n := NewNormalizer()
	candidate := Candidate{
		Type:       TypeSearch,
		Confidence: 0.4,
		Parameters: map[string]any{"query": "flights"},
	}

	got := n.Normalize(context.Background(), candidate, "raw", "model-x")

	assert.Equal(t, TypeClarificationNeeded, got.Type)
}

func TestNormalize_PastDateAppliesPenalty(t *testing.T) {
	reference := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	n := NewNormalizer(fixedClock(reference))
	candidate := Candidate{
		Type:       TypeSchedule,
		Confidence: 0.9,
		Parameters: map[string]any{
			"action":              "book",
			"temporal_expression": "2020-01-01",
		},
	}

	got := n.Normalize(context.Background(), candidate, "raw", "model-x")

	assert.InDelta(t, 0.9-PastDatePenalty, got.Confidence, 1e-9)
}

func TestNormalize_FutureDateNoPenalty(t *testing.T) {
	reference := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	n := NewNormalizer(fixedClock(reference))
	candidate := Candidate{
		Type:       TypeSchedule,
		Confidence: 0.9,
		Parameters: map[string]any{
			"action":              "book",
			"temporal_expression": "2030-01-01",
		},
	}

	got := n.Normalize(context.Background(), candidate, "raw", "model-x")

	assert.InDelta(t, 0.9, got.Confidence, 1e-9)
}

func TestNormalize_ScheduleActionUppercased(t *testing.T) {
	n := NewNormalizer()
	candidate := Candidate{
		Type:       TypeSchedule,
		Confidence: 0.9,
		Parameters: map[string]any{"action": "book", "temporal_expression": "2030-01-01"},
	}

	got := n.Normalize(context.Background(), candidate, "raw", "model-x")

	assert.Equal(t, "BOOK", got.Parameters["action"])
}
