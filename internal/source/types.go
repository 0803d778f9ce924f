// Package source provides feature sources: the paginated ArcGIS feature
// service client and a local GeoJSON-backed source for offline use.
package source

import (
	"context"
	"encoding/json"
	"fmt"
)

// Feature is one record of the geospatial dataset with a flat property map.
type Feature struct {
	Properties map[string]interface{} `json:"properties"`
	Geometry   json.RawMessage        `json:"geometry,omitempty"`
}

// Point is a WGS84 coordinate pair.
type Point struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// DistanceUnit names a spatial radius unit.
type DistanceUnit string

const (
	UnitMiles      DistanceUnit = "miles"
	UnitKilometers DistanceUnit = "kilometers"
	UnitMeters     DistanceUnit = "meters"
)

// ParseUnit normalizes a unit string, defaulting to miles.
func ParseUnit(s string) DistanceUnit {
	switch s {
	case "kilometers", "km":
		return UnitKilometers
	case "meters", "m":
		return UnitMeters
	default:
		return UnitMiles
	}
}

// Miles converts a distance in this unit to statute miles.
func (u DistanceUnit) Miles(distance float64) float64 {
	switch u {
	case UnitKilometers:
		return distance * 0.621371
	case UnitMeters:
		return distance * 0.000621371
	default:
		return distance
	}
}

// QueryOptions bound a query's pagination.
type QueryOptions struct {
	PageSize int
	MaxPages int // 0 means unlimited
}

// Result is the aggregated outcome of a (possibly multi-page) query.
type Result struct {
	Features   []Feature
	TotalCount int
	// Truncated is set when a MaxPages cap stopped pagination before the
	// source was exhausted.
	Truncated bool
}

// FeatureSource is the external data provider the executor queries.
type FeatureSource interface {
	// Query returns all features matching the filter expression.
	Query(ctx context.Context, filter string, opts QueryOptions) (*Result, error)
	// QueryNear returns features within radius of center that also match
	// the filter expression.
	QueryNear(ctx context.Context, center Point, radius float64, unit DistanceUnit, filter string, opts QueryOptions) (*Result, error)
}

// Error reports a feature source failure.
type Error struct {
	Msg string
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("source: %s: %v", e.Msg, e.Err)
	}
	return "source: " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }
