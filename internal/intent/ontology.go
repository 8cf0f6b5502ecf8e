package intent

// Ontology supplies the per-type required-field list and any
// domain-specific semantic validators the Normalizer consults. A default,
// in-memory Ontology covers the types named in spec §3; callers may supply
// their own for domain-specific required fields.
type Ontology struct {
	requiredFields map[Type][]string
}

// DefaultOntology returns the ontology used when none is configured.
// Required fields are illustrative of the spec's SCHEDULE example
// (action, temporal_expression) and the closed type set.
func DefaultOntology() *Ontology {
	return &Ontology{
		requiredFields: map[Type][]string{
			TypeSchedule: {"action", "temporal_expression"},
			TypeSearch:   {"query"},
			TypeAction:   {"capability"},
			TypeQuery:    {"question"},
			TypePlanning: {"goal"},
			TypeAnalysis: {"subject"},
		},
	}
}

// RequiredFields returns the required parameter keys for t, or nil if t has
// none declared.
func (o *Ontology) RequiredFields(t Type) []string {
	if o == nil {
		return nil
	}
	return o.requiredFields[t]
}

// MissingFields reports which of RequiredFields(t) are absent from params or
// present with an empty/nil value.
func (o *Ontology) MissingFields(t Type, params map[string]any) []string {
	var missing []string
	for _, field := range o.RequiredFields(t) {
		v, ok := params[field]
		if !ok || isEmptyValue(v) {
			missing = append(missing, field)
		}
	}
	return missing
}

func isEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case map[string]any:
		return len(val) == 0
	case []any:
		return len(val) == 0
	default:
		return false
	}
}
