// Package executor runs compiled queries against a feature source:
// regular filtered reads, spatial proximity reads, and aggregations.
package executor

import (
	"context"
	"fmt"
	"sort"

	"github.com/meridian-gis/geoquery/internal/nlq"
	"github.com/meridian-gis/geoquery/internal/observability"
	"github.com/meridian-gis/geoquery/internal/source"
)

const defaultPageSize = 1000

// QueryEcho repeats the executed query components on the result so callers
// can render what was actually run.
type QueryEcho struct {
	FilterExpression string             `json:"filter_expression"`
	OrderBy          string             `json:"order_by,omitempty"`
	Limit            *int               `json:"limit,omitempty"`
	Offset           *int               `json:"offset,omitempty"`
	Spatial          *nlq.SpatialFilter `json:"spatial_filter,omitempty"`
}

// AggregateResult is the scalar outcome of an aggregation query.
type AggregateResult struct {
	Kind   nlq.AggregationKind `json:"kind"`
	Field  string              `json:"field,omitempty"`
	Result float64             `json:"result"`
	// Counted is the number of features that contributed a value.
	Counted int `json:"counted"`
}

// ResultSet is the outcome of executing a compiled query. Type is
// "FeatureCollection" for feature reads and "Aggregation" for scalar
// results.
type ResultSet struct {
	Type        string           `json:"type"`
	Features    []source.Feature `json:"features,omitempty"`
	Count       int              `json:"count"`
	Aggregation *AggregateResult `json:"aggregation,omitempty"`
	Query       QueryEcho        `json:"query"`
	Explanation string           `json:"explanation,omitempty"`
	Confidence  float64          `json:"confidence"`
	Warnings    []string         `json:"warnings,omitempty"`
	Truncated   bool             `json:"truncated,omitempty"`
}

// Options tune execution.
type Options struct {
	// MaxResults caps the feature count of a result set when the query
	// itself carries no LIMIT. Zero means no cap.
	MaxResults int
	// PageSize is the source page size.
	PageSize int
	// MaxPages caps source pagination. Zero fetches every page, which
	// ordered queries need for correctness.
	MaxPages int
}

// Executor runs compiled queries.
type Executor struct {
	src    source.FeatureSource
	logger *observability.Logger
	opts   Options
}

func New(src source.FeatureSource, logger *observability.Logger, opts Options) *Executor {
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	return &Executor{src: src, logger: logger, opts: opts}
}

// Execute dispatches on the query's components: aggregations first, then
// spatial filters, then regular filtered reads.
func (e *Executor) Execute(ctx context.Context, q *nlq.CompiledQuery) (*ResultSet, error) {
	e.logger.Info().
		Str("filter", q.FilterExpression).
		Bool("ordered", q.OrderBy != nil).
		Bool("aggregation", q.Aggregation != nil).
		Bool("spatial", q.Spatial != nil).
		Msg("Executing query")

	if q.Aggregation != nil {
		return e.executeAggregation(ctx, q)
	}
	if q.Spatial != nil {
		return e.executeSpatial(ctx, q)
	}
	return e.executeRegular(ctx, q)
}

func (e *Executor) executeRegular(ctx context.Context, q *nlq.CompiledQuery) (*ResultSet, error) {
	result, err := e.src.Query(ctx, q.FilterExpression, e.queryOptions(q))
	if err != nil {
		return nil, err
	}

	features := e.shape(result.Features, q)

	rs := e.newResultSet(q, result)
	rs.Features = features
	rs.Count = len(features)
	return rs, nil
}

func (e *Executor) executeSpatial(ctx context.Context, q *nlq.CompiledQuery) (*ResultSet, error) {
	sf := q.Spatial

	if sf.Operator != nlq.SpatialDistanceWithin || sf.GeometryType != "point" {
		e.logger.Warn().
			Str("operator", string(sf.Operator)).
			Str("geometry_type", sf.GeometryType).
			Msg("Unsupported spatial filter, falling back to attribute query")
		rs, err := e.executeRegular(ctx, q)
		if err != nil {
			return nil, err
		}
		rs.Warnings = append(rs.Warnings,
			fmt.Sprintf("Spatial operator '%s' on '%s' geometry is not supported; ran attribute filter only", sf.Operator, sf.GeometryType))
		return rs, nil
	}

	center, ok := e.resolveCenter(sf)
	if !ok {
		e.logger.Warn().Str("location", sf.LocationName).Msg("Could not resolve location, falling back to attribute query")
		rs, err := e.executeRegular(ctx, q)
		if err != nil {
			return nil, err
		}
		rs.Warnings = append(rs.Warnings,
			fmt.Sprintf("Could not find coordinates for location: %s; ran attribute filter only", sf.LocationName))
		return rs, nil
	}

	unit := source.ParseUnit(sf.DistanceUnit)
	result, err := e.src.QueryNear(ctx, center, sf.Distance, unit, q.FilterExpression, e.queryOptions(q))
	if err != nil {
		return nil, err
	}

	features := e.shape(result.Features, q)

	rs := e.newResultSet(q, result)
	rs.Features = features
	rs.Count = len(features)
	return rs, nil
}

func (e *Executor) executeAggregation(ctx context.Context, q *nlq.CompiledQuery) (*ResultSet, error) {
	result, err := e.src.Query(ctx, q.FilterExpression, e.queryOptions(q))
	if err != nil {
		return nil, err
	}

	agg := q.Aggregation
	rs := e.newResultSet(q, result)
	rs.Type = "Aggregation"

	if agg.Kind == nlq.AggCount {
		rs.Aggregation = &AggregateResult{
			Kind:    nlq.AggCount,
			Result:  float64(len(result.Features)),
			Counted: len(result.Features),
		}
		rs.Count = len(result.Features)
		return rs, nil
	}

	if agg.Field == "" {
		return nil, fmt.Errorf("executor: %s aggregation requires a field", agg.Kind)
	}

	values := numericValues(result.Features, agg.Field)

	out := &AggregateResult{Kind: agg.Kind, Field: agg.Field, Counted: len(values)}
	if len(values) == 0 {
		rs.Warnings = append(rs.Warnings,
			fmt.Sprintf("No numeric values found for field '%s'", agg.Field))
		rs.Aggregation = out
		return rs, nil
	}

	switch agg.Kind {
	case nlq.AggSum:
		out.Result = sum(values)
	case nlq.AggAvg:
		out.Result = sum(values) / float64(len(values))
	case nlq.AggMin:
		out.Result = values[0]
		for _, v := range values[1:] {
			if v < out.Result {
				out.Result = v
			}
		}
	case nlq.AggMax:
		out.Result = values[0]
		for _, v := range values[1:] {
			if v > out.Result {
				out.Result = v
			}
		}
	default:
		// STDDEV is accepted by the compiler but has no executor support.
		out.Kind = nlq.AggCount
		out.Result = float64(len(result.Features))
		out.Counted = len(result.Features)
		rs.Warnings = append(rs.Warnings,
			fmt.Sprintf("%s aggregation is not supported; returning COUNT", agg.Kind))
	}

	rs.Count = out.Counted
	rs.Aggregation = out
	return rs, nil
}

// shape applies the uniform post-processing: order the entire result set,
// then apply offset, then the limit.
func (e *Executor) shape(features []source.Feature, q *nlq.CompiledQuery) []source.Feature {
	if q.OrderBy != nil {
		sortFeatures(features, q.OrderBy)
	}

	if q.Offset != nil && *q.Offset > 0 {
		if *q.Offset >= len(features) {
			features = nil
		} else {
			features = features[*q.Offset:]
		}
	}

	limit := 0
	if q.Limit != nil && *q.Limit > 0 {
		limit = *q.Limit
	} else if e.opts.MaxResults > 0 {
		limit = e.opts.MaxResults
	}
	if limit > 0 && len(features) > limit {
		features = features[:limit]
	}

	return features
}

func (e *Executor) queryOptions(q *nlq.CompiledQuery) source.QueryOptions {
	opts := source.QueryOptions{PageSize: e.opts.PageSize, MaxPages: e.opts.MaxPages}
	// Ordering needs the full result set before any cut is taken, and
	// aggregates over a partial set would be silently wrong.
	if q.OrderBy != nil || q.Aggregation != nil {
		opts.MaxPages = 0
	}
	return opts
}

func (e *Executor) resolveCenter(sf *nlq.SpatialFilter) (source.Point, bool) {
	if len(sf.Coordinates) >= 2 {
		return source.Point{Lon: sf.Coordinates[0], Lat: sf.Coordinates[1]}, true
	}
	return LookupCity(sf.LocationName)
}

func (e *Executor) newResultSet(q *nlq.CompiledQuery, result *source.Result) *ResultSet {
	echo := QueryEcho{
		FilterExpression: q.FilterExpression,
		Limit:            q.Limit,
		Offset:           q.Offset,
		Spatial:          q.Spatial,
	}
	if q.OrderBy != nil {
		echo.OrderBy = q.OrderBy.String()
	}
	return &ResultSet{
		Type:        "FeatureCollection",
		Query:       echo,
		Explanation: q.Explanation,
		Confidence:  q.Confidence,
		Truncated:   result.Truncated,
	}
}

// sortFeatures orders features by a property value. Numeric values compare
// numerically; anything else compares as a string. Missing values sort as
// zero or the empty string.
func sortFeatures(features []source.Feature, ob *nlq.OrderBy) {
	sort.SliceStable(features, func(i, j int) bool {
		less := compareProperty(features[i], features[j], ob.Field)
		if ob.Direction == nlq.SortDesc {
			return !less && !propertyEqual(features[i], features[j], ob.Field)
		}
		return less
	})
}

func compareProperty(a, b source.Feature, field string) bool {
	av, aok := toFloat(a.Properties[field])
	bv, bok := toFloat(b.Properties[field])
	if aok || bok {
		return av < bv
	}
	return stringValue(a, field) < stringValue(b, field)
}

func propertyEqual(a, b source.Feature, field string) bool {
	av, aok := toFloat(a.Properties[field])
	bv, bok := toFloat(b.Properties[field])
	if aok || bok {
		return av == bv
	}
	return stringValue(a, field) == stringValue(b, field)
}

func stringValue(f source.Feature, field string) string {
	v, ok := f.Properties[field]
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func numericValues(features []source.Feature, field string) []float64 {
	var values []float64
	for _, f := range features {
		if v, ok := toFloat(f.Properties[field]); ok {
			values = append(values, v)
		}
	}
	return values
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func sum(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}
