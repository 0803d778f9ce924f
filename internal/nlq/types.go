// Package nlq compiles natural language questions about a geospatial
// dataset into structured queries: a SQL-style filter expression plus
// ordering, paging, aggregation, and spatial components.
package nlq

import (
	"fmt"
	"strings"
)

// Complexity classifies how involved a natural language query is. It is
// carried on the compiled query for observability and routing.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
	ComplexityAdvanced Complexity = "advanced"
)

// ConfidenceLevel buckets a model confidence score.
type ConfidenceLevel string

const (
	ConfidenceHigh    ConfidenceLevel = "high"
	ConfidenceMedium  ConfidenceLevel = "medium"
	ConfidenceLow     ConfidenceLevel = "low"
	ConfidenceVeryLow ConfidenceLevel = "very_low"
)

// ConfidenceFromScore maps a score in [0, 1] to its level.
func ConfidenceFromScore(score float64) ConfidenceLevel {
	switch {
	case score >= 0.85:
		return ConfidenceHigh
	case score >= 0.65:
		return ConfidenceMedium
	case score >= 0.45:
		return ConfidenceLow
	default:
		return ConfidenceVeryLow
	}
}

// AggregationKind names a supported aggregation function.
type AggregationKind string

const (
	AggCount  AggregationKind = "COUNT"
	AggSum    AggregationKind = "SUM"
	AggAvg    AggregationKind = "AVG"
	AggMin    AggregationKind = "MIN"
	AggMax    AggregationKind = "MAX"
	AggStddev AggregationKind = "STDDEV"
)

// ParseAggregation normalizes an aggregation name, reporting whether it is
// one of the supported kinds.
func ParseAggregation(s string) (AggregationKind, bool) {
	kind := AggregationKind(strings.ToUpper(strings.TrimSpace(s)))
	switch kind {
	case AggCount, AggSum, AggAvg, AggMin, AggMax, AggStddev:
		return kind, true
	}
	return "", false
}

// Aggregation pairs an aggregation function with its target field. The
// field is empty for COUNT.
type Aggregation struct {
	Kind  AggregationKind `json:"kind"`
	Field string          `json:"field,omitempty"`
}

// SpatialOperator names a supported spatial relationship.
type SpatialOperator string

const (
	SpatialIntersects     SpatialOperator = "intersects"
	SpatialContains       SpatialOperator = "contains"
	SpatialWithin         SpatialOperator = "within"
	SpatialCrosses        SpatialOperator = "crosses"
	SpatialTouches        SpatialOperator = "touches"
	SpatialOverlaps       SpatialOperator = "overlaps"
	SpatialDistanceWithin SpatialOperator = "distance_within"
)

// ParseSpatialOperator normalizes a spatial operator name.
func ParseSpatialOperator(s string) (SpatialOperator, bool) {
	op := SpatialOperator(strings.ToLower(strings.TrimSpace(s)))
	switch op {
	case SpatialIntersects, SpatialContains, SpatialWithin, SpatialCrosses,
		SpatialTouches, SpatialOverlaps, SpatialDistanceWithin:
		return op, true
	}
	return "", false
}

// SpatialFilter describes the spatial component of a query. Either
// Coordinates ([lon, lat]) or LocationName is set; a named location is
// resolved to coordinates at execution time.
type SpatialFilter struct {
	Operator     SpatialOperator `json:"operator"`
	GeometryType string          `json:"geometry_type"`
	Coordinates  []float64       `json:"coordinates,omitempty"`
	LocationName string          `json:"location_name,omitempty"`
	Distance     float64         `json:"distance,omitempty"`
	DistanceUnit string          `json:"distance_unit,omitempty"`
}

// SortDirection is an ORDER BY direction.
type SortDirection string

const (
	SortAsc  SortDirection = "ASC"
	SortDesc SortDirection = "DESC"
)

// OrderBy is a single-field ordering clause.
type OrderBy struct {
	Field     string        `json:"field"`
	Direction SortDirection `json:"direction"`
}

// ParseOrderBy parses a "FIELD ASC|DESC" clause. Direction defaults to
// ascending when omitted.
func ParseOrderBy(s string) (*OrderBy, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Fields(s)
	ob := &OrderBy{Field: parts[0], Direction: SortAsc}
	if len(parts) > 1 {
		switch strings.ToUpper(parts[1]) {
		case "ASC":
			ob.Direction = SortAsc
		case "DESC":
			ob.Direction = SortDesc
		default:
			return nil, fmt.Errorf("invalid sort direction %q", parts[1])
		}
	}
	if len(parts) > 2 {
		return nil, fmt.Errorf("invalid order by clause %q", s)
	}
	return ob, nil
}

// String renders the clause in SQL form.
func (o *OrderBy) String() string {
	return o.Field + " " + string(o.Direction)
}

// CompiledQuery is the structured result of compiling a natural language
// query. FilterExpression is always populated; the tautology "1=1" means
// no attribute filter.
type CompiledQuery struct {
	Query            string   `json:"query"`
	FilterExpression string   `json:"filter_expression"`
	Confidence       float64  `json:"confidence"`
	Explanation      string   `json:"explanation"`
	ReferencedFields []string `json:"referenced_fields"`

	OrderBy     *OrderBy       `json:"order_by,omitempty"`
	Limit       *int           `json:"limit,omitempty"`
	Offset      *int           `json:"offset,omitempty"`
	Aggregation *Aggregation   `json:"aggregation,omitempty"`
	GroupBy     []string       `json:"group_by,omitempty"`
	Spatial     *SpatialFilter `json:"spatial,omitempty"`

	Complexity  Complexity `json:"complexity"`
	Warnings    []string   `json:"warnings,omitempty"`
	Suggestions []string   `json:"suggestions,omitempty"`

	// CacheHit is set when the query was served from the compile cache.
	// It is not persisted with the cached entry.
	CacheHit bool `json:"-"`
}

// ConfidenceLevel buckets the query's confidence score.
func (q *CompiledQuery) ConfidenceLevel() ConfidenceLevel {
	return ConfidenceFromScore(q.Confidence)
}

// ValidationOutcome is the result of validating a compiled query against
// the schema and syntax rules.
type ValidationOutcome struct {
	Valid    bool
	Errors   []string
	Warnings []string
	// CorrectedExpression holds the filter with near-miss field names
	// replaced, when corrections were possible and nothing else failed.
	CorrectedExpression string
	FieldSuggestions    map[string]string
}
