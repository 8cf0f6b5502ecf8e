// Package intent implements normalization and ambiguity resolution (spec §4.1,
// §4.2): turning a raw LLM candidate into a canonical, typed Intent with
// deterministic confidence rules, then picking a primary interpretation
// across 1-3 candidates.
package intent

import "time"

// Type enumerates the closed set of canonical intent types (spec §3).
type Type string

const (
	TypeSchedule            Type = "SCHEDULE"
	TypeSearch              Type = "SEARCH"
	TypeAction              Type = "ACTION"
	TypeQuery               Type = "QUERY"
	TypePlanning            Type = "PLANNING"
	TypeAnalysis            Type = "ANALYSIS"
	TypeUnknown             Type = "UNKNOWN"
	TypeClarificationNeeded Type = "CLARIFICATION_NEEDED"
	TypeRefused             Type = "REFUSED"
)

// validTypes backs the "type is in the closed enum" invariant (spec §3).
var validTypes = map[Type]bool{
	TypeSchedule: true, TypeSearch: true, TypeAction: true, TypeQuery: true,
	TypePlanning: true, TypeAnalysis: true, TypeUnknown: true,
	TypeClarificationNeeded: true, TypeRefused: true,
}

// Candidate is the raw, untrusted shape an LLM emits before normalization.
type Candidate struct {
	Type        Type
	Confidence  float64
	Parameters  map[string]any
	Explanation string
}

// Metadata carries provenance for an Intent.
type Metadata struct {
	Version   int
	Timestamp time.Time
	Source    string
	ModelID   string
}

// Intent is the canonical interpretation of a user utterance (spec §3).
type Intent struct {
	ID              string
	ParentIntentID  string
	Type            Type
	Confidence      float64
	Parameters      map[string]any
	RawText         string
	Explanation     string
	Metadata        Metadata
}

// SourceSystemFallback marks Intent.Metadata.Source when normalize() falls
// back after a schema validation failure (spec §4.1 step 1).
const SourceSystemFallback = "system_fallback"

// SourceModel marks Intent.Metadata.Source for intents produced from a valid
// LLM candidate.
const SourceModel = "model"

// AmbiguityThreshold is the fixed tie-break constant the spec resolves the
// "near-equal confidence" open question to (spec §9 Open Question): 0.15.
const AmbiguityThreshold = 0.15

// ConfidenceClarificationFloor is the threshold below which normalize()
// forces CLARIFICATION_NEEDED (spec §4.1 step 3, §8 invariant).
const ConfidenceClarificationFloor = 0.6

// MissingFieldPenalty is subtracted from confidence per missing required
// field (spec §4.1 step 2, §8 invariant), floored at 0.
const MissingFieldPenalty = 0.2

// PastDatePenalty is subtracted (at least) when a SCHEDULE's temporal
// expression parses as a past ISO date (spec §4.1 step 4).
const PastDatePenalty = 0.15
