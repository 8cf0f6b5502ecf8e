// Package triage classifies tool failures into a closed set of recovery
// categories (spec §4.5): a semantic mode backed by a StructuredGenerator,
// and an always-available heuristic fallback. Both modes share the never-
// throw contract: any internal error degrades to an UNKNOWN, unrecoverable
// result rather than propagating.
package triage

import (
	"context"
	"strconv"
	"strings"

	"github.com/sony/gobreaker"

	"github.com/flowforge/intentexec/internal/generator"
	"github.com/flowforge/intentexec/internal/telemetry"
)

// SuggestedAction is the closed set of triage recovery recommendations
// (spec §3 TriageResult).
type SuggestedAction string

const (
	ActionRetryModifiedParams SuggestedAction = "RETRY_WITH_MODIFIED_PARAMS"
	ActionRetryBackoff        SuggestedAction = "RETRY_WITH_BACKOFF"
	ActionEscalateToHuman     SuggestedAction = "ESCALATE_TO_HUMAN"
	ActionSkipStep            SuggestedAction = "SKIP_STEP"
	ActionTriggerCompensation SuggestedAction = "TRIGGER_COMPENSATION"
)

// Result is the outcome of classifying a tool failure (spec §3 TriageResult).
type Result struct {
	Category        string
	IsRecoverable   bool
	Confidence      float64
	Explanation     string
	SuggestedAction SuggestedAction
}

// unknownResult is the never-throw fallback (spec §4.5 contract).
var unknownResult = Result{Category: "UNKNOWN", IsRecoverable: false, Confidence: 0, SuggestedAction: ActionEscalateToHuman}

// Failure is the input to triage: the tool error text and, if the
// ToolExecutor surfaced one, a numeric error code.
type Failure struct {
	ToolName  string
	ErrorText string
	ErrorCode int
}

// Service classifies failures, trying the semantic mode first (if
// configured) and always falling back to the heuristic mode.
type Service struct {
	generator generator.Generator
	breaker   *gobreaker.CircuitBreaker
	rules     []Rule
	logger    telemetry.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithGenerator enables semantic triage via generator, advisory-circuit-
// broken with sony/gobreaker: a tripped breaker only skips the semantic
// call and falls back to heuristics, it never blocks triage outright
// (spec §9 Open Question: cost/circuit breaking is observability, not
// gating).
func WithGenerator(gen generator.Generator) Option {
	return func(s *Service) {
		s.generator = gen
		s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{Name: "triage-semantic"})
	}
}

// WithLogger attaches a telemetry.Logger.
func WithLogger(logger telemetry.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithRules overrides the default heuristic rule list.
func WithRules(rules []Rule) Option {
	return func(s *Service) { s.rules = rules }
}

// NewService builds a Service; with no WithGenerator option it runs
// heuristic-only.
func NewService(opts ...Option) *Service {
	s := &Service{rules: DefaultRules(), logger: telemetry.NoopLogger{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Classify never panics or returns an error: any internal failure resolves
// to unknownResult (spec §4.5 contract).
func (s *Service) Classify(ctx context.Context, f Failure) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(ctx, "triage classify panicked, degrading to unknown", "recovered", r)
			result = unknownResult
		}
	}()

	if s.generator != nil {
		if out, ok := s.classifySemantic(ctx, f); ok {
			return out
		}
	}
	return s.classifyHeuristic(f)
}

func (s *Service) classifySemantic(ctx context.Context, f Failure) (Result, bool) {
	call := func() (any, error) {
		data, _, err := s.generator.Generate(ctx, semanticTriagePrompt(f), triageSystemPrompt, triageSchema, 0, 5000)
		return data, err
	}

	var raw any
	var err error
	if s.breaker != nil {
		raw, err = s.breaker.Execute(call)
	} else {
		raw, err = call()
	}
	if err != nil {
		s.logger.Warn(ctx, "semantic triage unavailable, falling back to heuristic", "error", err.Error())
		return Result{}, false
	}

	data, ok := raw.(map[string]any)
	if !ok {
		return Result{}, false
	}
	return parseSemanticResult(data), true
}

func parseSemanticResult(data map[string]any) Result {
	category, _ := data["category"].(string)
	recoverable, _ := data["isRecoverable"].(bool)
	confidence, _ := data["confidence"].(float64)
	explanation, _ := data["explanation"].(string)
	action, _ := data["suggestedAction"].(string)
	if category == "" {
		return unknownResult
	}
	return Result{
		Category:        category,
		IsRecoverable:   recoverable,
		Confidence:      confidence,
		Explanation:     explanation,
		SuggestedAction: SuggestedAction(action),
	}
}

const triageSystemPrompt = "Classify the tool failure into exactly one category from the closed set and judge recoverability deterministically."

var triageSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"category":        map[string]any{"type": "string"},
		"isRecoverable":   map[string]any{"type": "boolean"},
		"confidence":      map[string]any{"type": "number"},
		"explanation":     map[string]any{"type": "string"},
		"suggestedAction": map[string]any{"type": "string"},
	},
	"required": []string{"category", "isRecoverable", "confidence", "suggestedAction"},
}

func semanticTriagePrompt(f Failure) string {
	return "tool=" + f.ToolName + " error=" + f.ErrorText + " code=" + strconv.Itoa(f.ErrorCode)
}

func (s *Service) classifyHeuristic(f Failure) Result {
	lowered := strings.ToLower(f.ErrorText)
	for _, rule := range s.rules {
		if rule.Matches(lowered, f.ErrorCode) {
			return Result{
				Category:        rule.Category,
				IsRecoverable:   rule.Recoverable,
				Confidence:      1,
				Explanation:     rule.Category,
				SuggestedAction: rule.Action,
			}
		}
	}
	return unknownResult
}
