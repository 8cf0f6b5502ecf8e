package triage

import "strings"

// Rule is one entry of the heuristic mode's ordered rule list (spec §4.5):
// matched top-down over the lowercased error text and numeric code, first
// match wins.
type Rule struct {
	Category    string
	Contains    []string
	Codes       []int
	Recoverable bool
	Action      SuggestedAction
}

// Matches reports whether lowered (already lowercased error text) or code
// satisfies this rule.
func (r Rule) Matches(lowered string, code int) bool {
	for _, c := range r.Codes {
		if c != 0 && c == code {
			return true
		}
	}
	for _, substr := range r.Contains {
		if strings.Contains(lowered, substr) {
			return true
		}
	}
	return false
}

// DefaultRules is the heuristic fallback's ordered rule list. Order matters:
// the first matching rule wins, so more specific categories are listed
// before generic ones.
func DefaultRules() []Rule {
	return []Rule{
		{
			Category:    "RATE_LIMITED",
			Contains:    []string{"rate limit", "too many requests"},
			Codes:       []int{429},
			Recoverable: true,
			Action:      ActionRetryBackoff,
		},
		{
			Category:    "AUTH_FAILED",
			Contains:    []string{"unauthorized", "forbidden", "invalid credentials"},
			Codes:       []int{401, 403},
			Recoverable: false,
			Action:      ActionEscalateToHuman,
		},
		{
			Category:    "NOT_FOUND",
			Contains:    []string{"not found", "no such"},
			Codes:       []int{404},
			Recoverable: false,
			Action:      ActionSkipStep,
		},
		{
			Category:    "VALIDATION_ERROR",
			Contains:    []string{"invalid parameter", "validation failed", "bad request"},
			Codes:       []int{400, 422},
			Recoverable: true,
			Action:      ActionRetryModifiedParams,
		},
		{
			Category:    "TIMEOUT",
			Contains:    []string{"timeout", "deadline exceeded", "context canceled"},
			Codes:       []int{408},
			Recoverable: true,
			Action:      ActionRetryBackoff,
		},
		{
			Category:    "SERVER_ERROR",
			Contains:    []string{"internal server error", "service unavailable", "bad gateway"},
			Codes:       []int{500, 502, 503},
			Recoverable: true,
			Action:      ActionRetryBackoff,
		},
		{
			Category:    "CONFLICT_OR_DUPLICATE",
			Contains:    []string{"already exists", "conflict", "duplicate"},
			Codes:       []int{409},
			Recoverable: false,
			Action:      ActionSkipStep,
		},
		{
			Category:    "CONSTRAINT_VIOLATION",
			Contains:    []string{"constraint", "precondition failed"},
			Recoverable: false,
			Action:      ActionTriggerCompensation,
		},
	}
}
