package nlq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-gis/geoquery/internal/observability"
)

func TestParseFencedJSON(t *testing.T) {
	p := NewResponseParser(observability.Nop())

	raw := "```json\n" + `{
  "where_clause": "STATE_NAME = 'Texas'",
  "confidence": 0.95,
  "explanation": "Filter counties by state name",
  "detected_fields": ["STATE_NAME"],
  "order_by": "SQMI DESC",
  "limit": 5
}` + "\n```"

	q, err := p.Parse(raw, ComplexityModerate)
	require.NoError(t, err)

	assert.Equal(t, "STATE_NAME = 'Texas'", q.FilterExpression)
	assert.InDelta(t, 0.95, q.Confidence, 1e-9)
	assert.Equal(t, []string{"STATE_NAME"}, q.ReferencedFields)
	require.NotNil(t, q.OrderBy)
	assert.Equal(t, "SQMI", q.OrderBy.Field)
	assert.Equal(t, SortDesc, q.OrderBy.Direction)
	require.NotNil(t, q.Limit)
	assert.Equal(t, 5, *q.Limit)
	assert.Equal(t, ComplexityModerate, q.Complexity)
}

func TestParseBareJSON(t *testing.T) {
	p := NewResponseParser(observability.Nop())

	q, err := p.Parse(`{"where_clause": "SQMI > 1000", "confidence": 0.9}`, ComplexitySimple)
	require.NoError(t, err)
	assert.Equal(t, "SQMI > 1000", q.FilterExpression)
}

func TestParseExtractsObjectFromSurroundingText(t *testing.T) {
	p := NewResponseParser(observability.Nop())

	raw := `Here is the converted query:

{"where_clause": "NAME = 'Travis'", "confidence": 0.88, "explanation": "braces in strings like {this} are fine"}

Let me know if you need anything else.`

	q, err := p.Parse(raw, ComplexitySimple)
	require.NoError(t, err)
	assert.Equal(t, "NAME = 'Travis'", q.FilterExpression)
	assert.InDelta(t, 0.88, q.Confidence, 1e-9)
}

func TestParseDefaults(t *testing.T) {
	p := NewResponseParser(observability.Nop())

	q, err := p.Parse(`{"explanation": "nothing to filter"}`, ComplexitySimple)
	require.NoError(t, err)

	assert.Equal(t, "1=1", q.FilterExpression)
	assert.InDelta(t, 0.8, q.Confidence, 1e-9)
	assert.Nil(t, q.OrderBy)
	assert.Nil(t, q.Aggregation)
	assert.Nil(t, q.Spatial)
}

func TestParseNullStringsTreatedAsAbsent(t *testing.T) {
	p := NewResponseParser(observability.Nop())

	q, err := p.Parse(`{"where_clause": "1=1", "order_by": "null", "aggregation": "NULL"}`, ComplexitySimple)
	require.NoError(t, err)
	assert.Nil(t, q.OrderBy)
	assert.Nil(t, q.Aggregation)
	assert.Empty(t, q.Warnings)
}

func TestParseAggregationResponse(t *testing.T) {
	p := NewResponseParser(observability.Nop())

	q, err := p.Parse(`{"where_clause": "STATE_NAME = 'Texas'", "aggregation": "count"}`, ComplexityComplex)
	require.NoError(t, err)
	require.NotNil(t, q.Aggregation)
	assert.Equal(t, AggCount, q.Aggregation.Kind)
}

func TestParseUnknownAggregationBecomesWarning(t *testing.T) {
	p := NewResponseParser(observability.Nop())

	q, err := p.Parse(`{"where_clause": "1=1", "aggregation": "MEDIAN"}`, ComplexityComplex)
	require.NoError(t, err)
	assert.Nil(t, q.Aggregation)
	assert.Contains(t, q.Warnings, "Unknown aggregation type: MEDIAN")
}

func TestParseSpatialFilter(t *testing.T) {
	p := NewResponseParser(observability.Nop())

	raw := `{
  "where_clause": "1=1",
  "spatial_filter": {
    "operator": "distance_within",
    "location_name": "Austin, TX",
    "distance": 50,
    "distance_unit": "miles"
  }
}`

	q, err := p.Parse(raw, ComplexityComplex)
	require.NoError(t, err)
	require.NotNil(t, q.Spatial)
	assert.Equal(t, SpatialDistanceWithin, q.Spatial.Operator)
	assert.Equal(t, "Austin, TX", q.Spatial.LocationName)
	assert.Equal(t, "point", q.Spatial.GeometryType, "geometry type defaults to point")
	assert.InDelta(t, 50, q.Spatial.Distance, 1e-9)
}

func TestParseUnknownSpatialOperatorDropsFilter(t *testing.T) {
	p := NewResponseParser(observability.Nop())

	raw := `{"where_clause": "1=1", "spatial_filter": {"operator": "orbits", "location_name": "Austin, TX"}}`

	q, err := p.Parse(raw, ComplexityComplex)
	require.NoError(t, err)
	assert.Nil(t, q.Spatial)
	assert.Contains(t, q.Warnings, "Unknown spatial operator: orbits")
}

func TestParseBadOrderByBecomesWarning(t *testing.T) {
	p := NewResponseParser(observability.Nop())

	q, err := p.Parse(`{"where_clause": "1=1", "order_by": "SQMI SIDEWAYS"}`, ComplexitySimple)
	require.NoError(t, err)
	assert.Nil(t, q.OrderBy)
	require.Len(t, q.Warnings, 1)
	assert.Contains(t, q.Warnings[0], "Ignoring order by")
}

func TestParseRejectsNonJSON(t *testing.T) {
	p := NewResponseParser(observability.Nop())

	_, err := p.Parse("I could not convert that query.", ComplexitySimple)
	require.Error(t, err)

	var perr *ParsingError
	assert.ErrorAs(t, err, &perr)
}
