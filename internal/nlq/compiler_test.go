package nlq

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-gis/geoquery/internal/cache"
	"github.com/meridian-gis/geoquery/internal/observability"
	"github.com/meridian-gis/geoquery/internal/provider"
	"github.com/meridian-gis/geoquery/internal/schema"
	"github.com/meridian-gis/geoquery/internal/security"
)

func newTestCompiler(t *testing.T, mock *provider.Mock, withCache bool) *Compiler {
	t.Helper()

	reg := schema.NewRegistry(observability.Nop())
	reg.Load([]schema.FieldDescriptor{
		{Name: "STATE_NAME", Kind: schema.KindString},
		{Name: "NAME", Kind: schema.KindString},
		{Name: "SQMI", Kind: schema.KindNumeric},
		{Name: "POPULATION", Kind: schema.KindNumeric},
	})

	var qc *QueryCache
	if withCache {
		qc = NewQueryCache(cache.NewMemoryClient(100), time.Hour, observability.Nop())
	}

	return NewCompiler(mock, reg, security.NewValidator(), qc, observability.Nop(), DefaultCompilerOptions())
}

func TestCompileTopNQuery(t *testing.T) {
	mock := &provider.Mock{Responses: []string{`{
  "where_clause": "STATE_NAME = 'Texas'",
  "confidence": 0.95,
  "explanation": "Top counties by area in Texas",
  "detected_fields": ["STATE_NAME", "SQMI"],
  "order_by": "SQMI DESC",
  "limit": 3
}`}}
	c := newTestCompiler(t, mock, false)

	q, err := c.Compile(context.Background(), "show me the top 3 largest counties in Texas")
	require.NoError(t, err)

	assert.Equal(t, "STATE_NAME = 'Texas'", q.FilterExpression)
	require.NotNil(t, q.OrderBy)
	assert.Equal(t, "SQMI", q.OrderBy.Field)
	assert.Equal(t, SortDesc, q.OrderBy.Direction)
	require.NotNil(t, q.Limit)
	assert.Equal(t, 3, *q.Limit)
	// "counties" contains the keyword "count", so the classifier calls
	// this complex rather than moderate.
	assert.Equal(t, ComplexityComplex, q.Complexity)
	assert.False(t, q.CacheHit)
	assert.Len(t, mock.Calls, 1)
	assert.Contains(t, mock.Calls[0], "USER QUERY:")
}

func TestCompileAggregationQuery(t *testing.T) {
	mock := &provider.Mock{Responses: []string{`{
  "where_clause": "STATE_NAME = 'Oklahoma'",
  "confidence": 0.97,
  "detected_fields": ["STATE_NAME"],
  "aggregation": "COUNT"
}`}}
	c := newTestCompiler(t, mock, false)

	q, err := c.Compile(context.Background(), "how many counties are in Oklahoma")
	require.NoError(t, err)

	require.NotNil(t, q.Aggregation)
	assert.Equal(t, AggCount, q.Aggregation.Kind)
	assert.Equal(t, ComplexityComplex, q.Complexity)
}

func TestCompileCacheHit(t *testing.T) {
	mock := &provider.Mock{Responses: []string{`{"where_clause": "SQMI > 1000", "confidence": 0.9, "detected_fields": ["SQMI"]}`}}
	c := newTestCompiler(t, mock, true)
	ctx := context.Background()

	first, err := c.Compile(ctx, "counties bigger than 1000 square miles")
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := c.Compile(ctx, "counties bigger than 1000 square miles")
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.FilterExpression, second.FilterExpression)
	assert.Len(t, mock.Calls, 1, "the second compile must not reach the model")
}

func TestCompileEmptyQuery(t *testing.T) {
	c := newTestCompiler(t, &provider.Mock{}, false)

	_, err := c.Compile(context.Background(), "   ")
	require.Error(t, err)

	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestCompileRejectsInjection(t *testing.T) {
	mock := &provider.Mock{Responses: []string{`{"where_clause": "1=1"}`}}
	c := newTestCompiler(t, mock, false)

	_, err := c.Compile(context.Background(), "counties'; DROP TABLE counties; --")
	require.Error(t, err)

	var serr *SecurityError
	assert.ErrorAs(t, err, &serr)
	assert.Empty(t, mock.Calls, "blocked queries must not reach the model")
}

func TestCompileStrictModeFailsOnUnknownField(t *testing.T) {
	mock := &provider.Mock{Responses: []string{`{"where_clause": "ZZZZZ = 'x'", "detected_fields": ["ZZZZZ"]}`}}
	c := newTestCompiler(t, mock, false)

	_, err := c.Compile(context.Background(), "find the zzzzz")
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Issues, "Unknown field: 'ZZZZZ'")
}

func TestCompileLenientModeDemotesErrors(t *testing.T) {
	mock := &provider.Mock{Responses: []string{`{"where_clause": "ZZZZZ = 'x'", "detected_fields": ["ZZZZZ"]}`}}

	reg := schema.NewRegistry(observability.Nop())
	reg.Load([]schema.FieldDescriptor{{Name: "NAME", Kind: schema.KindString}})

	opts := DefaultCompilerOptions()
	opts.Mode = ModeLenient
	c := NewCompiler(mock, reg, security.NewValidator(), nil, observability.Nop(), opts)

	q, err := c.Compile(context.Background(), "find the zzzzz")
	require.NoError(t, err)
	assert.Contains(t, q.Warnings, "Unknown field: 'ZZZZZ'")
}

func TestCompileAppliesFieldCorrections(t *testing.T) {
	mock := &provider.Mock{Responses: []string{`{"where_clause": "POPULATON > 50000", "detected_fields": ["POPULATON"]}`}}
	c := newTestCompiler(t, mock, false)

	q, err := c.Compile(context.Background(), "counties with many residents")
	require.NoError(t, err)
	assert.Contains(t, q.Suggestions, "Corrected query: POPULATION > 50000")
}

func TestCompileGenerationFailure(t *testing.T) {
	mock := &provider.Mock{Errors: []error{&provider.Error{Backend: "mock", Msg: "boom"}}}
	c := newTestCompiler(t, mock, false)

	_, err := c.Compile(context.Background(), "find counties")
	require.Error(t, err)

	var perr *ParsingError
	assert.ErrorAs(t, err, &perr)
}

func TestValidateFilterStandalone(t *testing.T) {
	c := newTestCompiler(t, &provider.Mock{}, false)

	out := c.ValidateFilter("SQMI > 1000 AND STATE_NAME = 'Texas'")
	assert.True(t, out.Valid)

	out = c.ValidateFilter("NAME = NULL")
	assert.Contains(t, out.Warnings, "Use 'IS NULL' instead of '= NULL'")
}

func TestClassifyComplexity(t *testing.T) {
	tests := []struct {
		query string
		want  Complexity
	}{
		{"find parcels in Texas", ComplexitySimple},
		{"parcels in Texas and Nevada with the largest area", ComplexityModerate},
		{"average area of counties in California", ComplexityComplex},
		// Keyword matching is substring based, so "counties" trips "count".
		{"find counties in Texas", ComplexityComplex},
		{"parcels within 50 miles of Austin", ComplexityComplex},
		{"parcels with a nested subquery", ComplexityAdvanced},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyComplexity(tt.query))
		})
	}
}
