package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerify_ForbiddenSequenceRejected(t *testing.T) {
	steps := []PlanStep{
		{ID: "a", ToolName: "fs.delete"},
		{ID: "b", ToolName: "fs.write", Dependencies: []string{"a"}},
	}
	policy := SafetyPolicy{ForbiddenSequences: [][]string{{"fs.delete", "fs.write"}}}

	err := Verify(steps, policy, nil)
	assert.Error(t, err)
}

func TestVerify_AllowedSequencePasses(t *testing.T) {
	steps := []PlanStep{
		{ID: "a", ToolName: "calendar.create"},
		{ID: "b", ToolName: "notify.send", Dependencies: []string{"a"}},
	}
	policy := SafetyPolicy{ForbiddenSequences: [][]string{{"fs.delete", "fs.write"}}}

	err := Verify(steps, policy, nil)
	assert.NoError(t, err)
}

func TestVerify_ParameterLimitExceeded(t *testing.T) {
	steps := []PlanStep{
		{ID: "a", ToolName: "payment.charge", Parameters: map[string]any{"amount": 5000.0}},
	}
	policy := SafetyPolicy{ParameterLimits: map[string]map[string]float64{
		"payment.charge": {"amount": 1000},
	}}

	err := Verify(steps, policy, nil)
	assert.Error(t, err)
}

func TestVerify_ParameterWithinLimitPasses(t *testing.T) {
	steps := []PlanStep{
		{ID: "a", ToolName: "payment.charge", Parameters: map[string]any{"amount": 500.0}},
	}
	policy := SafetyPolicy{ParameterLimits: map[string]map[string]float64{
		"payment.charge": {"amount": 1000},
	}}

	err := Verify(steps, policy, nil)
	assert.NoError(t, err)
}

func TestVerify_UnknownToolRejected(t *testing.T) {
	steps := []PlanStep{
		{ID: "a", ToolName: "system.hack"},
	}
	known := func(name string) bool { return name != "system.hack" }

	err := Verify(steps, SafetyPolicy{}, known)
	assert.Error(t, err)
}

func TestVerify_KnownToolPasses(t *testing.T) {
	steps := []PlanStep{
		{ID: "a", ToolName: "calendar.create"},
	}
	known := func(name string) bool { return name == "calendar.create" }

	err := Verify(steps, SafetyPolicy{}, known)
	assert.NoError(t, err)
}

// TestVerify_ForbiddenSequenceReachedViaSecondDependency guards against
// ancestorChains only walking a step's first dependency: "c" reaches the
// forbidden "fs.delete" -> "fs.write" run through its *second* dependency
// ("b"), not its first ("x"), so a chain walk that only follows
// Dependencies[0] would miss it.
func TestVerify_ForbiddenSequenceReachedViaSecondDependency(t *testing.T) {
	steps := []PlanStep{
		{ID: "x", ToolName: "noop.one"},
		{ID: "a", ToolName: "fs.delete"},
		{ID: "b", ToolName: "fs.write", Dependencies: []string{"a"}},
		{ID: "c", ToolName: "noop.two", Dependencies: []string{"x", "b"}},
	}
	policy := SafetyPolicy{ForbiddenSequences: [][]string{{"fs.delete", "fs.write"}}}

	err := Verify(steps, policy, nil)
	assert.Error(t, err)
}
