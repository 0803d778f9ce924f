package nlq

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/meridian-gis/geoquery/internal/schema"
	"github.com/meridian-gis/geoquery/internal/security"
)

// ValidationMode controls how validation failures are handled during
// compilation.
type ValidationMode string

const (
	// ModeStrict fails the compile on any validation error.
	ModeStrict ValidationMode = "strict"
	// ModeLenient demotes validation errors to warnings on the result.
	ModeLenient ValidationMode = "lenient"
	// ModeNone skips validation entirely.
	ModeNone ValidationMode = "none"
)

// ParseValidationMode normalizes a mode string, defaulting to strict.
func ParseValidationMode(s string) ValidationMode {
	switch ValidationMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeLenient:
		return ModeLenient
	case ModeNone:
		return ModeNone
	default:
		return ModeStrict
	}
}

var (
	eqNullRe    = regexp.MustCompile(`(?i)(!=|<>|=)\s*NULL`)
	likeConstRe = regexp.MustCompile(`(?i)LIKE\s+'([^%_']+)'`)
	fieldNameRe = regexp.MustCompile(`(?i)\b([A-Z_][A-Z0-9_]*)\b\s*(?:=|!=|<>|<=|>=|<|>|LIKE|IN|IS)`)
)

// QueryValidator checks a compiled query against the schema registry and
// common syntax pitfalls.
type QueryValidator struct {
	registry    *schema.Registry
	security    *security.Validator
	limitWarnAt int
}

// NewQueryValidator builds a validator. limitWarnAt is the LIMIT value
// above which a performance warning is attached; zero disables it.
func NewQueryValidator(registry *schema.Registry, sec *security.Validator, limitWarnAt int) *QueryValidator {
	return &QueryValidator{registry: registry, security: sec, limitWarnAt: limitWarnAt}
}

// Validate checks the filter expression, every referenced field, and the
// ordering, aggregation, paging, and grouping components.
func (v *QueryValidator) Validate(q *CompiledQuery) ValidationOutcome {
	out := ValidationOutcome{FieldSuggestions: map[string]string{}}

	secResult := v.security.Validate(q.FilterExpression)
	out.Errors = append(out.Errors, secResult.Errors...)
	out.Warnings = append(out.Warnings, secResult.Warnings...)

	if v.registry.Empty() {
		// Nothing to check field names against.
		out.Warnings = append(out.Warnings, filterSyntaxWarnings(q.FilterExpression)...)
		out.Valid = len(out.Errors) == 0
		return out
	}

	for _, name := range q.ReferencedFields {
		if v.registry.Resolve(name) != "" {
			continue
		}
		if suggestion := v.registry.ClosestMatch(name); suggestion != "" {
			out.Warnings = append(out.Warnings, fmt.Sprintf("Field '%s' not found. Did you mean '%s'?", name, suggestion))
			out.FieldSuggestions[name] = suggestion
		} else {
			out.Errors = append(out.Errors, fmt.Sprintf("Unknown field: '%s'", name))
		}
	}

	if q.OrderBy != nil && v.registry.Resolve(q.OrderBy.Field) == "" {
		out.Errors = append(out.Errors, fmt.Sprintf("ORDER BY field '%s' not found", q.OrderBy.Field))
	}

	if q.Aggregation != nil && q.Aggregation.Field != "" && v.registry.Resolve(q.Aggregation.Field) == "" {
		out.Errors = append(out.Errors, fmt.Sprintf("Aggregation field '%s' not found", q.Aggregation.Field))
	}

	if q.Limit != nil {
		if *q.Limit < 1 {
			out.Errors = append(out.Errors, "LIMIT must be a positive integer")
		} else if v.limitWarnAt > 0 && *q.Limit > v.limitWarnAt {
			out.Warnings = append(out.Warnings, "Large LIMIT value may impact performance")
		}
	}

	for _, name := range q.GroupBy {
		if v.registry.Resolve(name) == "" {
			out.Errors = append(out.Errors, fmt.Sprintf("GROUP BY field '%s' not found", name))
		}
	}

	syntaxWarnings := filterSyntaxWarnings(q.FilterExpression)
	out.Warnings = append(out.Warnings, syntaxWarnings...)

	if len(out.FieldSuggestions) > 0 && len(out.Errors) == 0 {
		out.CorrectedExpression = applyFieldCorrections(q.FilterExpression, out.FieldSuggestions)
	}

	out.Valid = len(out.Errors) == 0
	return out
}

// filterSyntaxWarnings flags NULL comparisons written with = or != and
// LIKE patterns without wildcards. The tautology filter is skipped.
func filterSyntaxWarnings(expr string) []string {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "1=1" || trimmed == "1 = 1" {
		return nil
	}

	var warnings []string
	for _, m := range eqNullRe.FindAllStringSubmatch(expr, -1) {
		if m[1] == "=" {
			warnings = append(warnings, "Use 'IS NULL' instead of '= NULL'")
		} else {
			warnings = append(warnings, "Use 'IS NOT NULL' instead of '!= NULL' or '<> NULL'")
		}
	}
	for _, m := range likeConstRe.FindAllStringSubmatch(expr, -1) {
		warnings = append(warnings, fmt.Sprintf("LIKE '%s' has no wildcards - consider using '='", m[1]))
	}
	return warnings
}

// applyFieldCorrections substitutes suggested field names into the filter
// as whole tokens only.
func applyFieldCorrections(expr string, corrections map[string]string) string {
	corrected := expr
	for oldName, newName := range corrections {
		re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(oldName) + `\b`)
		corrected = re.ReplaceAllString(corrected, newName)
	}
	return corrected
}

// ExtractFieldNames pulls candidate field names out of a filter expression
// and keeps the ones the registry can resolve.
func ExtractFieldNames(expr string, registry *schema.Registry) []string {
	seen := map[string]bool{}
	var fields []string
	for _, m := range fieldNameRe.FindAllStringSubmatch(expr, -1) {
		name := m[1]
		if seen[name] {
			continue
		}
		seen[name] = true
		if registry.Resolve(name) != "" {
			fields = append(fields, name)
		}
	}
	return fields
}
