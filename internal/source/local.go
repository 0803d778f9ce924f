package source

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/meridian-gis/geoquery/internal/observability"
)

const earthRadiusMiles = 3958.8

// LocalSource serves queries from an in-memory feature collection loaded
// from a GeoJSON file. Filters are translated to expr programs and
// evaluated against each feature's properties.
type LocalSource struct {
	features []Feature
	logger   *observability.Logger
}

// NewLocalSource wraps an already-loaded feature slice.
func NewLocalSource(features []Feature, logger *observability.Logger) *LocalSource {
	return &LocalSource{features: features, logger: logger}
}

// LoadGeoJSON reads a GeoJSON FeatureCollection from disk.
func LoadGeoJSON(path string, logger *observability.Logger) (*LocalSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Msg: fmt.Sprintf("reading %s", path), Err: err}
	}

	var collection struct {
		Type     string    `json:"type"`
		Features []Feature `json:"features"`
	}
	if err := json.Unmarshal(data, &collection); err != nil {
		return nil, &Error{Msg: fmt.Sprintf("parsing %s", path), Err: err}
	}
	if collection.Type != "FeatureCollection" {
		return nil, &Error{Msg: fmt.Sprintf("%s is not a GeoJSON FeatureCollection", path)}
	}

	logger.Info().Str("path", path).Int("features", len(collection.Features)).Msg("Loaded local feature collection")
	return &LocalSource{features: collection.Features, logger: logger}, nil
}

// Query evaluates the filter over every feature. Evaluation errors on an
// individual feature (missing or mistyped properties) exclude that feature
// rather than failing the whole query.
func (s *LocalSource) Query(ctx context.Context, filter string, opts QueryOptions) (*Result, error) {
	program, err := s.compileFilter(filter)
	if err != nil {
		return nil, err
	}

	var matched []Feature
	for i := range s.features {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.matches(program, &s.features[i]) {
			matched = append(matched, s.features[i])
		}
	}

	return &Result{Features: matched, TotalCount: len(matched)}, nil
}

// QueryNear filters features to those whose geometry lies within radius of
// center, then applies the attribute filter.
func (s *LocalSource) QueryNear(ctx context.Context, center Point, radius float64, unit DistanceUnit, filter string, opts QueryOptions) (*Result, error) {
	program, err := s.compileFilter(filter)
	if err != nil {
		return nil, err
	}

	radiusMiles := unit.Miles(radius)

	var matched []Feature
	for i := range s.features {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pt, ok := geometryPoint(s.features[i].Geometry)
		if !ok {
			continue
		}
		if haversineMiles(center, pt) > radiusMiles {
			continue
		}
		if s.matches(program, &s.features[i]) {
			matched = append(matched, s.features[i])
		}
	}

	return &Result{Features: matched, TotalCount: len(matched)}, nil
}

func (s *LocalSource) compileFilter(filter string) (*vm.Program, error) {
	translated, err := TranslateFilter(filter)
	if err != nil {
		return nil, err
	}

	program, err := expr.Compile(translated,
		expr.Env(map[string]interface{}{}),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, &Error{Msg: fmt.Sprintf("compiling filter %q", filter), Err: err}
	}
	return program, nil
}

func (s *LocalSource) matches(program *vm.Program, f *Feature) bool {
	env := f.Properties
	if env == nil {
		env = map[string]interface{}{}
	}
	out, err := vm.Run(program, env)
	if err != nil {
		return false
	}
	ok, _ := out.(bool)
	return ok
}

// geometryPoint extracts a representative point from a GeoJSON geometry:
// the point itself, or the bounding-box center for lines and polygons.
func geometryPoint(raw json.RawMessage) (Point, bool) {
	if len(raw) == 0 {
		return Point{}, false
	}

	var geom struct {
		Type        string          `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
	}
	if err := json.Unmarshal(raw, &geom); err != nil {
		return Point{}, false
	}

	switch geom.Type {
	case "Point":
		var coords []float64
		if err := json.Unmarshal(geom.Coordinates, &coords); err != nil || len(coords) < 2 {
			return Point{}, false
		}
		return Point{Lon: coords[0], Lat: coords[1]}, true
	default:
		minLon, minLat := math.Inf(1), math.Inf(1)
		maxLon, maxLat := math.Inf(-1), math.Inf(-1)
		found := false
		walkPositions(geom.Coordinates, func(lon, lat float64) {
			found = true
			minLon, maxLon = math.Min(minLon, lon), math.Max(maxLon, lon)
			minLat, maxLat = math.Min(minLat, lat), math.Max(maxLat, lat)
		})
		if !found {
			return Point{}, false
		}
		return Point{Lon: (minLon + maxLon) / 2, Lat: (minLat + maxLat) / 2}, true
	}
}

// walkPositions visits every [lon, lat] position in an arbitrarily nested
// GeoJSON coordinate array.
func walkPositions(raw json.RawMessage, visit func(lon, lat float64)) {
	var position []float64
	if err := json.Unmarshal(raw, &position); err == nil {
		if len(position) >= 2 {
			visit(position[0], position[1])
		}
		return
	}

	var nested []json.RawMessage
	if err := json.Unmarshal(raw, &nested); err != nil {
		return
	}
	for _, child := range nested {
		walkPositions(child, visit)
	}
}

func haversineMiles(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMiles * math.Asin(math.Sqrt(h))
}

var _ FeatureSource = (*LocalSource)(nil)
