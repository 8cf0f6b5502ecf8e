// Package failover implements the declarative failover policy engine spec
// §4.6 describes: ordered policy matching against an intent/failure context,
// and deterministic, template-expanded recovery action suggestions.
package failover

import (
	"strings"

	"github.com/flowforge/intentexec/internal/triage"
)

// Action is one recovery step a matched Policy offers (spec §3
// FailoverPolicy.actions).
type Action struct {
	Type            triage.SuggestedAction `yaml:"type"`
	MessageTemplate string                 `yaml:"messageTemplate"`
	MaxRetries      int                    `yaml:"maxRetries"`
	RetryDelayMs    int                    `yaml:"retryDelayMs"`
	Params          map[string]any         `yaml:"params"`
}

// PartySizeRange optionally scopes a Policy to a party-size bracket.
type PartySizeRange struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// Policy is a declarative recovery rule (spec §3 FailoverPolicy).
type Policy struct {
	Name           string          `yaml:"name"`
	IntentType     string          `yaml:"intentType"`
	FailureReasons []string        `yaml:"failureReasons"`
	MinConfidence  float64         `yaml:"minConfidence"`
	PartySizeRange *PartySizeRange `yaml:"partySizeRange"`
	Actions        []Action        `yaml:"actions"`
}

// Context is the matching input a failed step's triage result plus its
// originating intent supply.
type Context struct {
	IntentType    string
	FailureReason string
	Confidence    float64
	PartySize     int
	Tokens        map[string]string
}

// Suggestion is an expanded, token-substituted recovery item (spec §4.6).
type Suggestion struct {
	Type       triage.SuggestedAction
	Value      map[string]any
	Message    string
	Confidence float64
}

// Engine evaluates registered policies in order; first match wins.
type Engine struct {
	policies []Policy
}

// NewEngine builds an Engine over policies, preserving registration order
// since match order is the spec's explicit tie-break rule.
func NewEngine(policies []Policy) *Engine {
	return &Engine{policies: policies}
}

// Match finds the first policy matching ctx, spec §4.6: intent_type,
// failure_reason, min_confidence, and optional party_size_range must all
// apply.
func (e *Engine) Match(ctx Context) (Policy, bool) {
	for _, p := range e.policies {
		if policyMatches(p, ctx) {
			return p, true
		}
	}
	return Policy{}, false
}

func policyMatches(p Policy, ctx Context) bool {
	if p.IntentType != "" && p.IntentType != ctx.IntentType {
		return false
	}
	if len(p.FailureReasons) > 0 && !containsString(p.FailureReasons, ctx.FailureReason) {
		return false
	}
	if ctx.Confidence < p.MinConfidence {
		return false
	}
	if p.PartySizeRange != nil {
		if ctx.PartySize < p.PartySizeRange.Min || ctx.PartySize > p.PartySizeRange.Max {
			return false
		}
	}
	return true
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// RecommendedAction returns the matched policy's first action, per spec
// §4.6: "Return the matched policy plus its first action as
// recommended_action."
func (p Policy) RecommendedAction() (Action, bool) {
	if len(p.Actions) == 0 {
		return Action{}, false
	}
	return p.Actions[0], true
}

// Suggestions expands every action in p into a deterministic Suggestion,
// substituting tokens like {time} and {phone} from ctx.Tokens.
func Suggestions(p Policy, ctx Context) []Suggestion {
	out := make([]Suggestion, 0, len(p.Actions))
	for _, a := range p.Actions {
		out = append(out, Suggestion{
			Type:       a.Type,
			Value:      a.Params,
			Message:    expandTemplate(a.MessageTemplate, ctx.Tokens),
			Confidence: ctx.Confidence,
		})
	}
	return out
}

// expandTemplate substitutes every {token} occurrence in template with
// tokens[token], leaving unrecognized tokens verbatim.
func expandTemplate(template string, tokens map[string]string) string {
	out := template
	for token, value := range tokens {
		out = strings.ReplaceAll(out, "{"+token+"}", value)
	}
	return out
}
