package plan

import (
	"github.com/flowforge/intentexec/internal/ids"
	"github.com/flowforge/intentexec/internal/orcherr"
)

// SchemaLookup resolves, for a tool name, the first parameter name in its
// input schema eligible for fan-out: a scalar-typed parameter. Only the
// first eligible parameter fans out per spec §4.3.1 step 1, so an
// implementation need only report the first one it finds. It also backs
// Build's unknown-capability check (spec §8 scenario 3), since whatever
// resolves a tool's schema necessarily knows whether the tool is
// registered at all; normally internal/registry.Registry.
type SchemaLookup interface {
	FirstScalarParam(toolName string) (param string, ok bool)
	Known(toolName string) bool
}

// Build converts a RawPlan into a validated, canonical Plan: fan-out
// expansion, dependency rewrite, UUID assignment, DAG validation,
// topological ordering, and constraint enforcement (spec §4.3.1).
func Build(raw RawPlan, schema SchemaLookup, createdAt string) (Plan, error) {
	if len(raw.Steps) == 0 {
		return Plan{}, orcherr.New(orcherr.CodePlanGenerationFailed, "raw plan has no steps")
	}
	if err := verifyRawToolsKnown(raw.Steps, schema); err != nil {
		return Plan{}, err
	}

	expanded, numberMap := expandFanOut(raw.Steps, schema)
	rewriteDependencies(expanded, numberMap)

	steps, err := assignUUIDs(expanded)
	if err != nil {
		return Plan{}, err
	}

	if err := detectCycle(steps); err != nil {
		return Plan{}, err
	}

	order, err := TopologicalOrder(steps)
	if err != nil {
		return Plan{}, err
	}
	steps = order

	if err := enforceConstraints(steps, raw.Constraints); err != nil {
		return Plan{}, err
	}

	totalTokens := 0
	for _, s := range steps {
		totalTokens += s.EstimatedTokens
	}

	return Plan{
		ID:          ids.New(),
		IntentID:    raw.IntentID,
		Steps:       steps,
		Constraints: raw.Constraints,
		Summary:     raw.Summary,
		Metadata: Metadata{
			Version:              1,
			CreatedAt:            createdAt,
			PlanningModelID:      raw.PlanningModelID,
			EstimatedTotalTokens: totalTokens,
		},
	}, nil
}

// verifyRawToolsKnown rejects the raw plan outright (spec §8 scenario 3:
// "Unknown capability ... planning rejects with PLAN_VALIDATION_FAILED
// before any state is persisted") if any step names a tool schema is
// unaware of, before fan-out/DAG construction does any further work. A nil
// schema skips the check.
func verifyRawToolsKnown(steps []RawStep, schema SchemaLookup) error {
	if schema == nil {
		return nil
	}
	for _, s := range steps {
		if !schema.Known(s.ToolName) {
			return orcherr.Newf(orcherr.CodePlanValidationFailed, "step_number %d references unknown tool %q", s.StepNumber, s.ToolName)
		}
	}
	return nil
}

// expandedStep tracks a fanned-out step alongside its still-numeric
// dependencies (on original raw step numbers) until rewriteDependencies
// translates them to the new, post-expansion numbering.
type expandedStep struct {
	newNumber    int
	originalDeps []int
	step         RawStep
}

// expandFanOut implements spec §4.3.1 step 1: array-valued scalar
// parameters split into one step per element. Returns the expanded steps in
// final step_number order and the map from original step_number to the set
// of new step_numbers it became.
func expandFanOut(steps []RawStep, schema SchemaLookup) ([]expandedStep, map[int][]int) {
	numberMap := make(map[int][]int, len(steps))
	var out []expandedStep
	nextNumber := 0

	for _, s := range steps {
		param, ok := fanOutParam(s, schema)
		if !ok {
			out = append(out, expandedStep{newNumber: nextNumber, originalDeps: s.Dependencies, step: s})
			numberMap[s.StepNumber] = append(numberMap[s.StepNumber], nextNumber)
			nextNumber++
			continue
		}

		values, _ := s.Parameters[param].([]any)
		for _, v := range values {
			clone := cloneStep(s)
			clone.Parameters[param] = v
			clone.Description = clone.Description + " (value)"
			out = append(out, expandedStep{newNumber: nextNumber, originalDeps: s.Dependencies, step: clone})
			numberMap[s.StepNumber] = append(numberMap[s.StepNumber], nextNumber)
			nextNumber++
		}
	}
	return out, numberMap
}

func fanOutParam(s RawStep, schema SchemaLookup) (string, bool) {
	if schema == nil {
		return "", false
	}
	param, ok := schema.FirstScalarParam(s.ToolName)
	if !ok {
		return "", false
	}
	values, ok := s.Parameters[param].([]any)
	if !ok || len(values) == 0 {
		return "", false
	}
	return param, true
}

func cloneStep(s RawStep) RawStep {
	params := make(map[string]any, len(s.Parameters))
	for k, v := range s.Parameters {
		params[k] = v
	}
	clone := s
	clone.Parameters = params
	return clone
}

// rewriteDependencies implements spec §4.3.1 step 2: each raw dependency's
// step_number is replaced by the union of its mapped new step_numbers,
// de-duplicated, and stored back as the new numeric dependency set.
func rewriteDependencies(steps []expandedStep, numberMap map[int][]int) {
	for i := range steps {
		seen := make(map[int]bool)
		var rewritten []int
		for _, dep := range steps[i].originalDeps {
			for _, newNum := range numberMap[dep] {
				if !seen[newNum] {
					seen[newNum] = true
					rewritten = append(rewritten, newNum)
				}
			}
		}
		steps[i].originalDeps = rewritten
	}
}

// assignUUIDs implements spec §4.3.1 step 3: fresh UUID identity per step,
// dependencies rewritten from step_numbers to UUIDs.
func assignUUIDs(steps []expandedStep) ([]PlanStep, error) {
	idByNumber := make(map[int]string, len(steps))
	for _, s := range steps {
		idByNumber[s.newNumber] = ids.New()
	}

	out := make([]PlanStep, 0, len(steps))
	for _, s := range steps {
		deps := make([]string, 0, len(s.originalDeps))
		for _, dep := range s.originalDeps {
			id, ok := idByNumber[dep]
			if !ok {
				return nil, orcherr.Newf(orcherr.CodePlanValidationFailed, "dependency references unknown step_number %d", dep)
			}
			deps = append(deps, id)
		}
		out = append(out, PlanStep{
			ID:                   idByNumber[s.newNumber],
			StepNumber:           s.newNumber,
			ToolName:             s.step.ToolName,
			ToolVersion:          s.step.ToolVersion,
			Parameters:           s.step.Parameters,
			Dependencies:         deps,
			Description:          s.step.Description,
			RequiresConfirmation: s.step.RequiresConfirmation,
			EstimatedTokens:      s.step.EstimatedTokens,
			TimeoutMs:            s.step.TimeoutMs,
		})
	}
	return out, nil
}

// detectCycle implements spec §4.3.1 step 4 via DFS with a recursion-stack
// marker; a back-edge to a node still on the stack is a cycle.
func detectCycle(steps []PlanStep) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	byID := make(map[string]PlanStep, len(steps))
	color := make(map[string]int, len(steps))
	for _, s := range steps {
		byID[s.ID] = s
		color[s.ID] = white
	}

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for _, dep := range byID[id].Dependencies {
			switch color[dep] {
			case gray:
				return orcherr.New(orcherr.CodePlanCircularDependency, "cycle detected in plan dependency graph")
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for _, s := range steps {
		if color[s.ID] == white {
			if err := visit(s.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// TopologicalOrder implements spec §4.3.1 step 5 via Kahn's algorithm,
// re-deriving step_number as the topological position. Any residual
// in-degree after the queue drains indicates a cycle Build's DFS pass
// should already have caught; TopologicalOrder re-checks defensively since
// it is also exported for the round-trip property in spec §8.
func TopologicalOrder(steps []PlanStep) ([]PlanStep, error) {
	byID := make(map[string]PlanStep, len(steps))
	inDegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))

	for _, s := range steps {
		byID[s.ID] = s
		if _, ok := inDegree[s.ID]; !ok {
			inDegree[s.ID] = 0
		}
	}
	for _, s := range steps {
		inDegree[s.ID] += len(s.Dependencies)
		for _, dep := range s.Dependencies {
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	var queue []string
	for _, s := range steps {
		if inDegree[s.ID] == 0 {
			queue = append(queue, s.ID)
		}
	}

	var ordered []PlanStep
	stepNumber := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		s := byID[id]
		s.StepNumber = stepNumber
		stepNumber++
		ordered = append(ordered, s)
		for _, dependent := range dependents[id] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(ordered) != len(steps) {
		return nil, orcherr.New(orcherr.CodePlanCircularDependency, "residual in-degree after topological sort")
	}
	return ordered, nil
}

// enforceConstraints implements spec §4.3.1 step 6.
func enforceConstraints(steps []PlanStep, c Constraints) error {
	if c.MaxSteps > 0 && len(steps) > c.MaxSteps {
		return orcherr.Newf(orcherr.CodePlanValidationFailed, "plan has %d steps, exceeds max_steps %d", len(steps), c.MaxSteps)
	}
	if c.MaxTotalTokens > 0 {
		total := 0
		for _, s := range steps {
			total += s.EstimatedTokens
		}
		if total > c.MaxTotalTokens {
			return orcherr.Newf(orcherr.CodePlanValidationFailed, "plan estimated tokens %d exceeds max_total_tokens %d", total, c.MaxTotalTokens)
		}
	}
	return nil
}
