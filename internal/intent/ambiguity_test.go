package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve_SingleCandidateIsUnambiguous(t *testing.T) {
	got := Resolve([]Intent{{ID: "a", Type: TypeSearch, Confidence: 0.9}})

	assert.False(t, got.IsAmbiguous)
	assert.Equal(t, "a", got.Primary.ID)
	assert.Empty(t, got.Alternatives)
}

func TestResolve_CloseConfidenceIsAmbiguous(t *testing.T) {
	got := Resolve([]Intent{
		{ID: "a", Type: TypeSearch, Confidence: 0.82},
		{ID: "b", Type: TypeQuery, Confidence: 0.80},
	})

	assert.True(t, got.IsAmbiguous)
	assert.Equal(t, TypeClarificationNeeded, got.Primary.Type)
}

func TestResolve_ClearWinnerIsUnambiguous(t *testing.T) {
	got := Resolve([]Intent{
		{ID: "a", Type: TypeSearch, Confidence: 0.95},
		{ID: "b", Type: TypeQuery, Confidence: 0.50},
	})

	assert.False(t, got.IsAmbiguous)
	assert.Equal(t, TypeSearch, got.Primary.Type)
}

func TestResolve_ConflictingHighRiskCapabilitiesForcesAmbiguity(t *testing.T) {
	got := Resolve([]Intent{
		{ID: "a", Type: TypeAction, Confidence: 0.9, Parameters: map[string]any{"capability": "cancel"}},
		{ID: "b", Type: TypeAction, Confidence: 0.55, Parameters: map[string]any{"capability": "pay"}},
	})

	assert.True(t, got.IsAmbiguous)
	assert.Equal(t, TypeClarificationNeeded, got.Primary.Type)
}

func TestResolve_RefusedPrimaryIsNeverOverwrittenByAmbiguity(t *testing.T) {
	got := Resolve([]Intent{
		{ID: "a", Type: TypeRefused, Confidence: 0.9},
		{ID: "b", Type: TypeAction, Confidence: 0.88},
	})

	assert.Equal(t, TypeRefused, got.Primary.Type)
}
