package plan

import (
	"github.com/flowforge/intentexec/internal/orcherr"
)

// SafetyPolicy names forbidden contiguous tool-name subsequences within any
// dependency chain, and per-tool numeric parameter caps (spec §4.3.2).
type SafetyPolicy struct {
	ForbiddenSequences [][]string                    `yaml:"forbiddenSequences"`
	ParameterLimits    map[string]map[string]float64 `yaml:"parameterLimits"`
}

// ToolKnown reports whether toolName is registered, normally
// internal/registry.Registry.Known or internal/tools.Executor.Known.
type ToolKnown func(toolName string) bool

// Verify scans steps, already in topological order, against policy and the
// tool registry. It rejects the plan with PLAN_VALIDATION_FAILED if any step
// names a tool known is unaware of (spec §8 scenario 3: "Unknown capability
// ... planning rejects ... before any state is persisted"), if any forbidden
// subsequence appears contiguously within a dependency chain, or if any
// parameter exceeds its cap.
func Verify(steps []PlanStep, policy SafetyPolicy, known ToolKnown) error {
	if err := VerifyToolsKnown(steps, known); err != nil {
		return err
	}
	if err := verifyParameterLimits(steps, policy.ParameterLimits); err != nil {
		return err
	}
	return verifyForbiddenSequences(steps, policy.ForbiddenSequences)
}

// VerifyToolsKnown rejects the first step whose ToolName known does not
// recognize. A nil known skips the check (callers without a registry
// available yet, e.g. unit tests of the DAG/constraint logic in isolation).
func VerifyToolsKnown(steps []PlanStep, known ToolKnown) error {
	if known == nil {
		return nil
	}
	for _, s := range steps {
		if !known(s.ToolName) {
			return orcherr.Newf(orcherr.CodePlanValidationFailed, "step %s references unknown tool %q", s.ID, s.ToolName)
		}
	}
	return nil
}

func verifyParameterLimits(steps []PlanStep, limits map[string]map[string]float64) error {
	for _, s := range steps {
		caps, ok := limits[s.ToolName]
		if !ok {
			continue
		}
		for param, max := range caps {
			v, ok := s.Parameters[param]
			if !ok {
				continue
			}
			num, ok := asFloat(v)
			if !ok {
				continue
			}
			if num > max {
				return orcherr.Newf(orcherr.CodePlanValidationFailed,
					"step %s parameter %s=%v exceeds cap %v for tool %s", s.ID, param, v, max, s.ToolName)
			}
		}
	}
	return nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// verifyForbiddenSequences walks every root-to-leaf dependency chain (by
// following Dependencies backward from each step with no dependents) and
// rejects the plan if a forbidden tool-name tuple appears as a contiguous
// subsequence anywhere along any chain.
func verifyForbiddenSequences(steps []PlanStep, forbidden [][]string) error {
	if len(forbidden) == 0 {
		return nil
	}
	byID := make(map[string]PlanStep, len(steps))
	hasDependent := make(map[string]bool, len(steps))
	for _, s := range steps {
		byID[s.ID] = s
	}
	for _, s := range steps {
		for _, dep := range s.Dependencies {
			hasDependent[dep] = true
		}
	}

	var leaves []PlanStep
	for _, s := range steps {
		if !hasDependent[s.ID] {
			leaves = append(leaves, s)
		}
	}

	memo := make(map[string][][]string, len(steps))
	for _, leaf := range leaves {
		for _, chain := range ancestorChains(leaf, byID, memo) {
			if violatesForbidden(chain, forbidden) {
				return orcherr.New(orcherr.CodePlanValidationFailed, "plan contains a forbidden tool sequence")
			}
		}
	}
	return nil
}

// ancestorChains returns every root-to-node tool-name chain reachable by
// walking Dependencies backward from node, branching at every dependency
// (not just the first) so a forbidden subsequence reachable via any
// dependency edge is found, per spec §4.3.2's "any dependency chain". Results
// are memoized per step ID since a diamond-shaped DAG revisits the same
// ancestor through multiple descendants.
func ancestorChains(node PlanStep, byID map[string]PlanStep, memo map[string][][]string) [][]string {
	if cached, ok := memo[node.ID]; ok {
		return cached
	}
	if len(node.Dependencies) == 0 {
		chains := [][]string{{node.ToolName}}
		memo[node.ID] = chains
		return chains
	}

	var chains [][]string
	for _, depID := range node.Dependencies {
		dep, ok := byID[depID]
		if !ok {
			continue
		}
		for _, parent := range ancestorChains(dep, byID, memo) {
			chain := make([]string, len(parent), len(parent)+1)
			copy(chain, parent)
			chains = append(chains, append(chain, node.ToolName))
		}
	}
	if len(chains) == 0 {
		chains = [][]string{{node.ToolName}}
	}
	memo[node.ID] = chains
	return chains
}

func violatesForbidden(chain []string, forbidden [][]string) bool {
	for _, seq := range forbidden {
		if len(seq) == 0 || len(seq) > len(chain) {
			continue
		}
		for i := 0; i+len(seq) <= len(chain); i++ {
			if matchesAt(chain, seq, i) {
				return true
			}
		}
	}
	return false
}

func matchesAt(chain, seq []string, offset int) bool {
	for i, name := range seq {
		if chain[offset+i] != name {
			return false
		}
	}
	return true
}
