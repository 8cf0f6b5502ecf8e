package intent

import (
	"context"

	"github.com/flowforge/intentexec/internal/vectorindex"
)

// RecallThreshold is the minimum similarity score (spec §6 VectorIndex
// search) above which a stored past intent counts as "similar" for the
// recall verifier below.
const RecallThreshold = 0.85

// RecallTopK bounds how many past intents the verifier inspects per check.
const RecallTopK = 5

// RecallVerifier is the reference in-process verifier the Ambiguity
// Resolver's "similar past intents" check is built on: it asks a
// vectorindex.VectorIndex whether the user has a prior intent that closely
// resembles the candidate's text but disagrees on Type, which is evidence
// the candidate's interpretation may be wrong even when its own confidence
// and capability checks (Resolve) saw nothing amiss.
type RecallVerifier struct {
	index vectorindex.VectorIndex
}

// NewRecallVerifier builds a verifier over idx. A nil idx is valid and makes
// every call a no-op, so callers without a provisioned vector store (tests,
// or deployments that opt out of semantic recall) can still construct one.
func NewRecallVerifier(idx vectorindex.VectorIndex) *RecallVerifier {
	return &RecallVerifier{index: idx}
}

// FlagsConflict takes embedding, the candidate's already-computed text
// embedding (produced upstream by whatever intake path calls the
// Normalizer; this package has no embedding model of its own). It searches
// for similar past intents scoped to userID and reports whether any match
// at or above RecallThreshold recorded a different Type than candidate's,
// which the caller can fold into Hypotheses.IsAmbiguous alongside Resolve's
// output.
func (v *RecallVerifier) FlagsConflict(ctx context.Context, candidate Intent, userID string, embedding []float32) (bool, error) {
	if v.index == nil || len(embedding) == 0 {
		return false, nil
	}
	matches, err := v.index.Search(ctx, embedding, vectorindex.Filter{UserID: userID}, RecallTopK, RecallThreshold)
	if err != nil {
		return false, err
	}
	for _, m := range matches {
		if storedType, ok := m.Document.Meta["intent_type"].(string); ok && storedType != string(candidate.Type) {
			return true, nil
		}
	}
	return false, nil
}
