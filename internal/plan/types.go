// Package plan builds and validates the DAG of tool invocations a Planner
// derives from an Intent (spec §4.3): fan-out expansion of array-valued
// parameters, dependency rewriting, DAG/topological validation, constraint
// enforcement, and the safety verifier.
package plan

// RawStep is a single step as an LLM planning call emits it, before UUID
// assignment: dependencies reference other steps by their step_number.
type RawStep struct {
	StepNumber           int
	ToolName             string
	ToolVersion          string
	Parameters           map[string]any
	Dependencies         []int
	Description          string
	RequiresConfirmation bool
	EstimatedTokens      int
	TimeoutMs            int
}

// RawPlan is the planner's raw LLM output before canonicalization.
type RawPlan struct {
	IntentID        string
	Steps           []RawStep
	Constraints     Constraints
	Summary         string
	PlanningModelID string
}

// Constraints bounds plan size and cost (spec §3 Plan.constraints).
type Constraints struct {
	MaxSteps           int
	MaxTotalTokens     int
	MaxExecutionTimeMs int
}

// PlanStep is a canonicalized step: UUID identity, dependencies expressed as
// other steps' UUIDs (spec §3 PlanStep).
type PlanStep struct {
	ID                   string
	StepNumber           int
	ToolName             string
	ToolVersion          string
	Parameters           map[string]any
	Dependencies         []string
	Description          string
	RequiresConfirmation bool
	EstimatedTokens      int
	TimeoutMs            int
}

// Metadata carries plan provenance (spec §3 Plan.metadata).
type Metadata struct {
	Version              int
	CreatedAt            string
	PlanningModelID      string
	EstimatedTotalTokens int
	EstimatedLatencyMs   int
}

// Plan is the immutable, validated DAG of steps spec §3 describes.
type Plan struct {
	ID          string
	IntentID    string
	Steps       []PlanStep
	Constraints Constraints
	Metadata    Metadata
	Summary     string
}

// StepByID indexes p.Steps by ID for O(1) dependency lookups.
func (p Plan) StepByID(id string) (PlanStep, bool) {
	for _, s := range p.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return PlanStep{}, false
}
