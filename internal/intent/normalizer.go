package intent

import (
	"context"
	"strings"
	"time"

	"github.com/flowforge/intentexec/internal/ids"
	"github.com/flowforge/intentexec/internal/orcherr"
	"github.com/flowforge/intentexec/internal/telemetry"
)

// Normalizer turns a raw Candidate into a canonical Intent (spec §4.1).
type Normalizer struct {
	ontology *Ontology
	logger   telemetry.Logger
	now      func() time.Time
}

// NormalizerOption configures a Normalizer.
type NormalizerOption func(*Normalizer)

// WithOntology overrides the default required-fields ontology.
func WithOntology(o *Ontology) NormalizerOption {
	return func(n *Normalizer) { n.ontology = o }
}

// WithLogger attaches a telemetry.Logger; defaults to telemetry.NoopLogger.
func WithLogger(l telemetry.Logger) NormalizerOption {
	return func(n *Normalizer) { n.logger = l }
}

// NewNormalizer constructs a Normalizer with the default ontology and a
// no-op logger unless overridden.
func NewNormalizer(opts ...NormalizerOption) *Normalizer {
	n := &Normalizer{
		ontology: DefaultOntology(),
		logger:   telemetry.NoopLogger{},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize converts a raw Candidate, the original utterance, and the
// producing model's identifier into a canonical Intent, applying the five
// deterministic rules of spec §4.1 in order:
//
//  1. Type validity: a candidate whose Type is outside the closed enum falls
//     back to TypeUnknown with confidence 0 and Source=system_fallback.
//  2. Missing-required-field penalty: MissingFieldPenalty per absent
//     ontology-required field, confidence floored at 0.
//  3. Clarification floor: confidence below ConfidenceClarificationFloor
//     forces Type to CLARIFICATION_NEEDED.
//  4. Past-date check: a SCHEDULE whose temporal_expression parses as an
//     ISO-8601 date/time already in the past applies PastDatePenalty and
//     re-runs the clarification floor.
//  5. Case canonicalization: for a SCHEDULE intent, a string "action"
//     parameter is uppercased; all other parameter values are left as-is.
func (n *Normalizer) Normalize(ctx context.Context, candidate Candidate, rawText, modelID string) Intent {
	params := cloneParams(candidate.Parameters)
	typ := candidate.Type
	confidence := candidate.Confidence
	source := SourceModel

	if !validTypes[typ] || params == nil {
		n.logger.Warn(ctx, "intent candidate failed schema validation, falling back",
			"raw_type", string(typ))
		typ = TypeUnknown
		confidence = 0
		source = SourceSystemFallback
		params = map[string]any{}
	} else {
		missing := n.ontology.MissingFields(typ, params)
		if len(missing) > 0 {
			confidence -= MissingFieldPenalty * float64(len(missing))
			if confidence < 0 {
				confidence = 0
			}
		}
	}

	explanation := candidate.Explanation

	if typ == TypeSchedule {
		if expr, ok := params["temporal_expression"].(string); ok && expr != "" {
			if isPastExpression(expr, n.now()) {
				confidence -= PastDatePenalty
				if confidence < 0 {
					confidence = 0
				}
				explanation = appendExplanation(explanation, "past date")
			}
		}
	}

	if typ != TypeUnknown && typ != TypeRefused && confidence < ConfidenceClarificationFloor {
		typ = TypeClarificationNeeded
	}

	if typ == TypeSchedule {
		if action, ok := params["action"].(string); ok {
			params["action"] = strings.ToUpper(action)
		}
	}

	return Intent{
		ID:          ids.New(),
		Type:        typ,
		Confidence:  confidence,
		Parameters:  params,
		RawText:     rawText,
		Explanation: explanation,
		Metadata: Metadata{
			Version:   1,
			Timestamp: n.now(),
			Source:    source,
			ModelID:   modelID,
		},
	}
}

// isPastExpression reports whether expr parses as an RFC3339 or date-only
// ISO-8601 timestamp strictly before reference. Expressions that do not
// parse as either are treated as non-dates (e.g. "next Tuesday") and are not
// penalized here; resolving relative expressions is the planner's job.
func isPastExpression(expr string, reference time.Time) bool {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, expr); err == nil {
			return t.Before(reference)
		}
	}
	return false
}

func appendExplanation(explanation, note string) string {
	if explanation == "" {
		return note
	}
	return explanation + "; " + note
}

func cloneParams(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

// ValidationResult is the outcome of validating raw tool parameters against
// a JSON Schema (spec §4.8 Tool Registry Execute path).
type ValidationResult struct {
	Valid  bool
	Issues []FieldIssue
}

// FieldIssue names a single schema violation, grounded on the teacher's
// runtime/toolregistry/executor retry-hint construction from validator
// field issues.
type FieldIssue struct {
	Field   string
	Message string
}

// ValidateToolParameters validates raw against the compiled JSON Schema for
// toolName (spec §4.1 validateToolParameters): UNKNOWN_TOOL when no schema
// is registered, SCHEMA_VALIDATION_FAILED when raw fails it. The
// ValidationResult's Issues list every offending field so a caller can
// build a RETRY_WITH_MODIFIED_PARAMS hint from it even though the call also
// returns an error.
func ValidateToolParameters(toolName string, raw map[string]any, compiled schemaValidator) (ValidationResult, error) {
	if compiled == nil {
		return ValidationResult{}, orcherr.New(orcherr.CodeUnknownTool, "no schema registered for tool "+toolName)
	}
	if err := compiled.Validate(raw); err != nil {
		result := ValidationResult{Valid: false, Issues: []FieldIssue{{Field: toolName, Message: err.Error()}}}
		return result, orcherr.Wrap(orcherr.CodeSchemaValidationFailed, "tool "+toolName+" parameters failed schema validation", err)
	}
	return ValidationResult{Valid: true}, nil
}

// schemaValidator is the subset of *jsonschema.Schema's API ValidateToolParameters needs,
// kept as an interface so tests can fake it without compiling a real schema.
type schemaValidator interface {
	Validate(v any) error
}
