package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-gis/geoquery/internal/observability"
)

func countyFeatures() []Feature {
	return []Feature{
		{
			Properties: map[string]interface{}{"NAME": "Travis", "STATE_NAME": "Texas", "SQMI": 1022.5, "POPULATION": 1290188.0},
			Geometry:   []byte(`{"type": "Point", "coordinates": [-97.7431, 30.2672]}`),
		},
		{
			Properties: map[string]interface{}{"NAME": "Harris", "STATE_NAME": "Texas", "SQMI": 1777.0, "POPULATION": 4731145.0},
			Geometry:   []byte(`{"type": "Point", "coordinates": [-95.3698, 29.7604]}`),
		},
		{
			Properties: map[string]interface{}{"NAME": "San Francisco", "STATE_NAME": "California", "SQMI": 46.9, "POPULATION": 873965.0},
			Geometry:   []byte(`{"type": "Point", "coordinates": [-122.4194, 37.7749]}`),
		},
	}
}

func TestLocalQueryEquality(t *testing.T) {
	s := NewLocalSource(countyFeatures(), observability.Nop())

	res, err := s.Query(context.Background(), "STATE_NAME = 'Texas'", QueryOptions{})
	require.NoError(t, err)
	require.Len(t, res.Features, 2)
	assert.Equal(t, 2, res.TotalCount)
}

func TestLocalQueryNumericComparison(t *testing.T) {
	s := NewLocalSource(countyFeatures(), observability.Nop())

	res, err := s.Query(context.Background(), "SQMI > 1000 AND SQMI < 1500", QueryOptions{})
	require.NoError(t, err)
	require.Len(t, res.Features, 1)
	assert.Equal(t, "Travis", res.Features[0].Properties["NAME"])
}

func TestLocalQueryLike(t *testing.T) {
	s := NewLocalSource(countyFeatures(), observability.Nop())

	res, err := s.Query(context.Background(), "NAME LIKE 'San%'", QueryOptions{})
	require.NoError(t, err)
	require.Len(t, res.Features, 1)
	assert.Equal(t, "San Francisco", res.Features[0].Properties["NAME"])
}

func TestLocalQueryInList(t *testing.T) {
	s := NewLocalSource(countyFeatures(), observability.Nop())

	res, err := s.Query(context.Background(), "NAME IN ('Travis', 'Harris')", QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, res.Features, 2)
}

func TestLocalQueryTautology(t *testing.T) {
	s := NewLocalSource(countyFeatures(), observability.Nop())

	res, err := s.Query(context.Background(), "1=1", QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, res.Features, 3)
}

func TestLocalQueryMissingPropertyExcludesFeature(t *testing.T) {
	features := countyFeatures()
	features = append(features, Feature{Properties: map[string]interface{}{"NAME": "Nowhere"}})
	s := NewLocalSource(features, observability.Nop())

	// The feature with no SQMI property must not match, and must not fail
	// the whole query either.
	res, err := s.Query(context.Background(), "SQMI > 0", QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, res.Features, 3)
}

func TestLocalQueryBadFilter(t *testing.T) {
	s := NewLocalSource(countyFeatures(), observability.Nop())

	_, err := s.Query(context.Background(), "NAME NOT LIKE 'x%'", QueryOptions{})
	assert.Error(t, err)
}

func TestLocalQueryNear(t *testing.T) {
	s := NewLocalSource(countyFeatures(), observability.Nop())
	austin := Point{Lon: -97.7431, Lat: 30.2672}

	// Harris County (Houston) is roughly 150 miles from Austin; San
	// Francisco is far outside any reasonable radius.
	res, err := s.QueryNear(context.Background(), austin, 200, UnitMiles, "1=1", QueryOptions{})
	require.NoError(t, err)
	require.Len(t, res.Features, 2)

	res, err = s.QueryNear(context.Background(), austin, 50, UnitMiles, "1=1", QueryOptions{})
	require.NoError(t, err)
	require.Len(t, res.Features, 1)
	assert.Equal(t, "Travis", res.Features[0].Properties["NAME"])
}

func TestLocalQueryNearAppliesAttributeFilter(t *testing.T) {
	s := NewLocalSource(countyFeatures(), observability.Nop())
	austin := Point{Lon: -97.7431, Lat: 30.2672}

	res, err := s.QueryNear(context.Background(), austin, 200, UnitMiles, "SQMI > 1500", QueryOptions{})
	require.NoError(t, err)
	require.Len(t, res.Features, 1)
	assert.Equal(t, "Harris", res.Features[0].Properties["NAME"])
}

func TestLocalQueryNearKilometers(t *testing.T) {
	s := NewLocalSource(countyFeatures(), observability.Nop())
	austin := Point{Lon: -97.7431, Lat: 30.2672}

	// 100 km is about 62 miles, enough for Travis only.
	res, err := s.QueryNear(context.Background(), austin, 100, UnitKilometers, "1=1", QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, res.Features, 1)
}

func TestLoadGeoJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counties.geojson")
	data := `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"NAME": "Travis", "STATE_NAME": "Texas"}, "geometry": {"type": "Point", "coordinates": [-97.7431, 30.2672]}}
  ]
}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	s, err := LoadGeoJSON(path, observability.Nop())
	require.NoError(t, err)

	res, err := s.Query(context.Background(), "STATE_NAME = 'Texas'", QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, res.Features, 1)
}

func TestLoadGeoJSONRejectsNonCollection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "point.geojson")
	require.NoError(t, os.WriteFile(path, []byte(`{"type": "Point", "coordinates": [0, 0]}`), 0o644))

	_, err := LoadGeoJSON(path, observability.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a GeoJSON FeatureCollection")
}

func TestGeometryPointPolygonCenter(t *testing.T) {
	raw := []byte(`{"type": "Polygon", "coordinates": [[[0, 0], [2, 0], [2, 2], [0, 2], [0, 0]]]}`)
	pt, ok := geometryPoint(raw)
	require.True(t, ok)
	assert.InDelta(t, 1.0, pt.Lon, 1e-9)
	assert.InDelta(t, 1.0, pt.Lat, 1e-9)
}

func TestHaversineKnownDistance(t *testing.T) {
	austin := Point{Lon: -97.7431, Lat: 30.2672}
	houston := Point{Lon: -95.3698, Lat: 29.7604}

	d := haversineMiles(austin, houston)
	assert.InDelta(t, 146, d, 10, "Austin to Houston is roughly 146 miles")
}
