package nlq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-gis/geoquery/internal/observability"
	"github.com/meridian-gis/geoquery/internal/schema"
	"github.com/meridian-gis/geoquery/internal/security"
)

func newTestValidator(t *testing.T) *QueryValidator {
	t.Helper()
	reg := schema.NewRegistry(observability.Nop())
	reg.Load([]schema.FieldDescriptor{
		{Name: "STATE_NAME", Kind: schema.KindString},
		{Name: "NAME", Kind: schema.KindString},
		{Name: "SQMI", Kind: schema.KindNumeric},
		{Name: "POPULATION", Kind: schema.KindNumeric},
	})
	return NewQueryValidator(reg, security.NewValidator(), 10000)
}

func intPtr(n int) *int { return &n }

func TestValidateAcceptsKnownFields(t *testing.T) {
	v := newTestValidator(t)

	out := v.Validate(&CompiledQuery{
		FilterExpression: "STATE_NAME = 'Texas' AND SQMI > 1000",
		ReferencedFields: []string{"STATE_NAME", "SQMI"},
		OrderBy:          &OrderBy{Field: "SQMI", Direction: SortDesc},
		Limit:            intPtr(5),
	})

	assert.True(t, out.Valid)
	assert.Empty(t, out.Errors)
	assert.Empty(t, out.Warnings)
}

func TestValidateUnknownFieldWithSuggestion(t *testing.T) {
	v := newTestValidator(t)

	out := v.Validate(&CompiledQuery{
		FilterExpression: "POPULATON > 50000",
		ReferencedFields: []string{"POPULATON"},
	})

	assert.True(t, out.Valid, "a close-match typo is a warning, not an error")
	assert.Contains(t, out.Warnings, "Field 'POPULATON' not found. Did you mean 'POPULATION'?")
	assert.Equal(t, "POPULATION", out.FieldSuggestions["POPULATON"])
	assert.Equal(t, "POPULATION > 50000", out.CorrectedExpression)
}

func TestValidateUnknownFieldWithoutSuggestion(t *testing.T) {
	v := newTestValidator(t)

	out := v.Validate(&CompiledQuery{
		FilterExpression: "ZZZZZ = 'x'",
		ReferencedFields: []string{"ZZZZZ"},
	})

	assert.False(t, out.Valid)
	assert.Contains(t, out.Errors, "Unknown field: 'ZZZZZ'")
	assert.Empty(t, out.CorrectedExpression)
}

func TestValidateOrderByAndAggregationFields(t *testing.T) {
	v := newTestValidator(t)

	out := v.Validate(&CompiledQuery{
		FilterExpression: "1=1",
		OrderBy:          &OrderBy{Field: "BOGUS", Direction: SortAsc},
		Aggregation:      &Aggregation{Kind: AggSum, Field: "NOPE"},
		GroupBy:          []string{"MISSING"},
	})

	assert.False(t, out.Valid)
	assert.Contains(t, out.Errors, "ORDER BY field 'BOGUS' not found")
	assert.Contains(t, out.Errors, "Aggregation field 'NOPE' not found")
	assert.Contains(t, out.Errors, "GROUP BY field 'MISSING' not found")
}

func TestValidateLimitBounds(t *testing.T) {
	v := newTestValidator(t)

	out := v.Validate(&CompiledQuery{FilterExpression: "1=1", Limit: intPtr(0)})
	assert.False(t, out.Valid)
	assert.Contains(t, out.Errors, "LIMIT must be a positive integer")

	out = v.Validate(&CompiledQuery{FilterExpression: "1=1", Limit: intPtr(50000)})
	assert.True(t, out.Valid)
	assert.Contains(t, out.Warnings, "Large LIMIT value may impact performance")
}

func TestValidateSyntaxWarnings(t *testing.T) {
	v := newTestValidator(t)

	out := v.Validate(&CompiledQuery{FilterExpression: "NAME = NULL"})
	assert.Contains(t, out.Warnings, "Use 'IS NULL' instead of '= NULL'")

	out = v.Validate(&CompiledQuery{FilterExpression: "NAME != NULL"})
	assert.Contains(t, out.Warnings, "Use 'IS NOT NULL' instead of '!= NULL' or '<> NULL'")

	out = v.Validate(&CompiledQuery{FilterExpression: "NAME LIKE 'Travis'"})
	assert.Contains(t, out.Warnings, "LIKE 'Travis' has no wildcards - consider using '='")

	// The tautology filter never draws syntax warnings.
	out = v.Validate(&CompiledQuery{FilterExpression: "1=1"})
	assert.Empty(t, out.Warnings)
}

func TestValidateSecurityErrorsPropagate(t *testing.T) {
	v := newTestValidator(t)

	out := v.Validate(&CompiledQuery{FilterExpression: "NAME = 'x'; DROP TABLE counties"})
	assert.False(t, out.Valid)
	assert.NotEmpty(t, out.Errors)
}

func TestValidateEmptyRegistrySkipsFieldChecks(t *testing.T) {
	reg := schema.NewRegistry(observability.Nop())
	v := NewQueryValidator(reg, security.NewValidator(), 10000)

	out := v.Validate(&CompiledQuery{
		FilterExpression: "ANYTHING = 'goes'",
		ReferencedFields: []string{"ANYTHING"},
	})

	assert.True(t, out.Valid)
	assert.Empty(t, out.Errors)
}

func TestParseValidationMode(t *testing.T) {
	assert.Equal(t, ModeStrict, ParseValidationMode("strict"))
	assert.Equal(t, ModeLenient, ParseValidationMode(" Lenient "))
	assert.Equal(t, ModeNone, ParseValidationMode("NONE"))
	assert.Equal(t, ModeStrict, ParseValidationMode("bogus"))
	assert.Equal(t, ModeStrict, ParseValidationMode(""))
}

func TestExtractFieldNames(t *testing.T) {
	reg := schema.NewRegistry(observability.Nop())
	reg.Load([]schema.FieldDescriptor{
		{Name: "STATE_NAME", Kind: schema.KindString},
		{Name: "SQMI", Kind: schema.KindNumeric},
	})

	fields := ExtractFieldNames("STATE_NAME = 'Texas' AND SQMI > 1000 AND SQMI < 3000 AND BOGUS = 1", reg)
	require.Equal(t, []string{"STATE_NAME", "SQMI"}, fields)
}
