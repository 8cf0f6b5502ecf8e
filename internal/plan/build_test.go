package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSchema struct {
	scalarParam map[string]string
	unknown     map[string]bool
}

func (f fakeSchema) FirstScalarParam(toolName string) (string, bool) {
	p, ok := f.scalarParam[toolName]
	return p, ok
}

// Known treats every tool name as registered unless explicitly listed in
// unknown, so existing tests naming arbitrary tool names ("a", "b", ...)
// don't need to enumerate every name they use.
func (f fakeSchema) Known(toolName string) bool {
	return !f.unknown[toolName]
}

func TestBuild_LinearPlanTopologicalOrder(t *testing.T) {
	raw := RawPlan{
		IntentID: "intent-1",
		Steps: []RawStep{
			{StepNumber: 0, ToolName: "calendar.create", Parameters: map[string]any{}},
			{StepNumber: 1, ToolName: "notify.send", Parameters: map[string]any{}, Dependencies: []int{0}},
		},
		Constraints: Constraints{MaxSteps: 10, MaxTotalTokens: 1000},
	}

	got, err := Build(raw, fakeSchema{}, "2026-07-31T00:00:00Z")
	require.NoError(t, err)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, "calendar.create", got.Steps[0].ToolName)
	assert.Equal(t, "notify.send", got.Steps[1].ToolName)
	assert.Equal(t, []string{got.Steps[0].ID}, got.Steps[1].Dependencies)
}

func TestBuild_FanOutExpandsArrayParameter(t *testing.T) {
	raw := RawPlan{
		IntentID: "intent-1",
		Steps: []RawStep{
			{
				StepNumber: 0,
				ToolName:   "get_weather_data",
				Parameters: map[string]any{"location": []any{"Tokyo", "London", "NY"}},
				Description: "fetch weather",
			},
		},
		Constraints: Constraints{MaxSteps: 10, MaxTotalTokens: 1000},
	}
	schema := fakeSchema{scalarParam: map[string]string{"get_weather_data": "location"}}

	got, err := Build(raw, schema, "2026-07-31T00:00:00Z")
	require.NoError(t, err)
	require.Len(t, got.Steps, 3)
	for i, s := range got.Steps {
		assert.Equal(t, "get_weather_data", s.ToolName)
		assert.Equal(t, i, s.StepNumber)
		assert.Contains(t, s.Description, "(value)")
		assert.Empty(t, s.Dependencies)
	}
}

func TestBuild_CircularDependencyRejected(t *testing.T) {
	raw := RawPlan{
		IntentID: "intent-1",
		Steps: []RawStep{
			{StepNumber: 0, ToolName: "a", Dependencies: []int{1}},
			{StepNumber: 1, ToolName: "b", Dependencies: []int{0}},
		},
		Constraints: Constraints{MaxSteps: 10},
	}

	_, err := Build(raw, fakeSchema{}, "2026-07-31T00:00:00Z")
	require.Error(t, err)
}

func TestBuild_UnknownToolRejectedBeforeDAGConstruction(t *testing.T) {
	raw := RawPlan{
		IntentID: "intent-1",
		Steps: []RawStep{
			{StepNumber: 0, ToolName: "system.hack"},
		},
		Constraints: Constraints{MaxSteps: 10},
	}
	schema := fakeSchema{unknown: map[string]bool{"system.hack": true}}

	_, err := Build(raw, schema, "2026-07-31T00:00:00Z")
	require.Error(t, err)
}

func TestBuild_ExceedsMaxStepsRejected(t *testing.T) {
	raw := RawPlan{
		IntentID: "intent-1",
		Steps: []RawStep{
			{StepNumber: 0, ToolName: "a"},
			{StepNumber: 1, ToolName: "b", Dependencies: []int{0}},
		},
		Constraints: Constraints{MaxSteps: 1},
	}

	_, err := Build(raw, fakeSchema{}, "2026-07-31T00:00:00Z")
	require.Error(t, err)
}

func TestTopologicalOrder_RoundTripPreservesDependencySet(t *testing.T) {
	steps := []PlanStep{
		{ID: "a", Dependencies: nil},
		{ID: "b", Dependencies: []string{"a"}},
		{ID: "c", Dependencies: []string{"a", "b"}},
	}

	ordered, err := TopologicalOrder(steps)
	require.NoError(t, err)

	position := make(map[string]int, len(ordered))
	for i, s := range ordered {
		position[s.ID] = i
	}
	for _, s := range ordered {
		for _, dep := range s.Dependencies {
			assert.Less(t, position[dep], position[s.ID])
		}
	}
}
