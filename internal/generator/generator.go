// Package generator defines the StructuredGenerator contract (spec §6): the
// orchestrator's sole LLM collaborator. internal/triage is its one
// in-process consumer (semantic failure classification). The candidate
// generation feeding internal/intent.Normalize and the raw-plan generation
// feeding internal/plan.Build are both upstream of this module's scope (the
// out-of-scope HTTP/UI intake path, spec §1) — Normalizer and Planner
// consume a Generator call's already-produced output (Candidate, RawPlan),
// not the Generator interface itself. Concrete bindings live in the
// anthropic and bedrock subpackages.
package generator

import "context"

// TokenUsage reports a generation call's token accounting (spec §6).
type TokenUsage struct {
	Prompt     int
	Completion int
	Total      int
}

// Response carries provenance alongside the caller-shaped Data.
type Response struct {
	ModelID    string
	TokenUsage TokenUsage
}

// Generator is the StructuredGenerator contract: the caller specifies the
// output shape via schema, and the generator must enforce it or raise
// rather than return data the caller has to re-validate.
type Generator interface {
	Generate(ctx context.Context, prompt, system string, schema any, temperature float64, timeoutMs int) (data map[string]any, response Response, err error)
}
