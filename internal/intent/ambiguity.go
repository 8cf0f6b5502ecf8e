package intent

import "sort"

// highRiskCapabilities names ACTION capabilities the Ambiguity Resolver
// treats as mutually exclusive when two candidates disagree on which one
// applies: presenting either as the sole primary interpretation without
// flagging ambiguity risks silently executing the wrong side effect.
var highRiskCapabilities = map[string]bool{
	"cancel":   true,
	"delete":   true,
	"pay":      true,
	"refund":   true,
	"transfer": true,
}

// Hypotheses is the Ambiguity Resolver's output (spec §4.2): a primary
// interpretation, whether the candidate set was ambiguous, and the
// alternatives considered.
type Hypotheses struct {
	Primary      Intent
	IsAmbiguous  bool
	Alternatives []Intent
}

// Resolve picks a primary interpretation among 1-3 candidate Intents,
// already normalized. Candidates must be pre-sorted by nothing in
// particular; Resolve sorts a local copy by descending confidence.
//
// Ambiguity is flagged when either holds:
//   - the top two candidates' confidence differ by less than
//     AmbiguityThreshold (0.15), or
//   - the top two candidates are both ACTION intents naming different
//     capabilities, at least one of which is in highRiskCapabilities,
//     regardless of confidence gap.
func Resolve(candidates []Intent) Hypotheses {
	if len(candidates) == 0 {
		return Hypotheses{}
	}
	ranked := make([]Intent, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Confidence > ranked[j].Confidence })

	primary := ranked[0]
	alternatives := ranked[1:]

	ambiguous := false
	if len(ranked) > 1 {
		second := ranked[1]
		if primary.Confidence-second.Confidence < AmbiguityThreshold {
			ambiguous = true
		}
		if conflictingHighRiskCapabilities(primary, second) {
			ambiguous = true
		}
	}

	if ambiguous && primary.Type != TypeRefused {
		primary.Type = TypeClarificationNeeded
	}

	return Hypotheses{
		Primary:      primary,
		IsAmbiguous:  ambiguous,
		Alternatives: alternatives,
	}
}

func conflictingHighRiskCapabilities(a, b Intent) bool {
	if a.Type != TypeAction || b.Type != TypeAction {
		return false
	}
	capA, okA := a.Parameters["capability"].(string)
	capB, okB := b.Parameters["capability"].(string)
	if !okA || !okB || capA == capB {
		return false
	}
	return highRiskCapabilities[capA] || highRiskCapabilities[capB]
}
