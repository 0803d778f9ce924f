package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-gis/geoquery/internal/observability"
)

func newArcGISTestClient(t *testing.T, handler http.HandlerFunc) (*ArcGISClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewArcGISClient(ArcGISConfig{ServiceURL: srv.URL}, observability.Nop())
	require.NoError(t, err)
	return client, srv
}

func pageJSON(names []string, exceeded bool) string {
	type feat struct {
		Properties map[string]interface{} `json:"properties"`
	}
	features := make([]feat, 0, len(names))
	for _, n := range names {
		features = append(features, feat{Properties: map[string]interface{}{"NAME": n}})
	}
	data, _ := json.Marshal(map[string]interface{}{
		"features":              features,
		"exceededTransferLimit": exceeded,
	})
	return string(data)
}

func TestArcGISQuerySinglePage(t *testing.T) {
	client, _ := newArcGISTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/query", r.URL.Path)
		assert.Equal(t, "STATE_NAME = 'Texas'", r.URL.Query().Get("where"))
		assert.Equal(t, "geojson", r.URL.Query().Get("f"))
		assert.Equal(t, "*", r.URL.Query().Get("outFields"))
		fmt.Fprint(w, pageJSON([]string{"Travis", "Harris"}, false))
	})

	res, err := client.Query(context.Background(), "STATE_NAME = 'Texas'", QueryOptions{})
	require.NoError(t, err)

	assert.Len(t, res.Features, 2)
	assert.Equal(t, 2, res.TotalCount)
	assert.False(t, res.Truncated)
}

func TestArcGISQueryPaginates(t *testing.T) {
	client, _ := newArcGISTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("resultOffset"))
		switch offset {
		case 0:
			fmt.Fprint(w, pageJSON([]string{"A", "B"}, true))
		case 2:
			fmt.Fprint(w, pageJSON([]string{"C", "D"}, true))
		default:
			fmt.Fprint(w, pageJSON([]string{"E"}, false))
		}
	})

	res, err := client.Query(context.Background(), "1=1", QueryOptions{PageSize: 2})
	require.NoError(t, err)

	assert.Len(t, res.Features, 5)
	assert.Equal(t, "E", res.Features[4].Properties["NAME"])
	assert.False(t, res.Truncated)
}

func TestArcGISQueryMaxPagesTruncates(t *testing.T) {
	client, _ := newArcGISTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, pageJSON([]string{"A", "B"}, true))
	})

	res, err := client.Query(context.Background(), "1=1", QueryOptions{PageSize: 2, MaxPages: 2})
	require.NoError(t, err)

	assert.Len(t, res.Features, 4)
	assert.True(t, res.Truncated)
}

func TestArcGISQueryNearSendsSpatialParams(t *testing.T) {
	client, _ := newArcGISTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "esriGeometryPoint", q.Get("geometryType"))
		assert.Equal(t, "esriSpatialRelIntersects", q.Get("spatialRel"))
		assert.Equal(t, "esriSRUnit_StatuteMile", q.Get("units"))
		assert.Equal(t, "50", q.Get("distance"))

		var geom struct {
			X float64 `json:"x"`
			Y float64 `json:"y"`
		}
		require.NoError(t, json.Unmarshal([]byte(q.Get("geometry")), &geom))
		assert.InDelta(t, -97.7431, geom.X, 1e-4)
		assert.InDelta(t, 30.2672, geom.Y, 1e-4)

		fmt.Fprint(w, pageJSON([]string{"Travis"}, false))
	})

	center := Point{Lon: -97.7431, Lat: 30.2672}
	res, err := client.QueryNear(context.Background(), center, 50, UnitMiles, "1=1", QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, res.Features, 1)
}

func TestArcGISQueryNearConvertsUnits(t *testing.T) {
	client, _ := newArcGISTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		distance, _ := strconv.ParseFloat(r.URL.Query().Get("distance"), 64)
		assert.InDelta(t, 62.1371, distance, 1e-3, "100 km in statute miles")
		fmt.Fprint(w, pageJSON(nil, false))
	})

	_, err := client.QueryNear(context.Background(), Point{}, 100, UnitKilometers, "1=1", QueryOptions{})
	require.NoError(t, err)
}

func TestArcGISQueryServiceError(t *testing.T) {
	client, _ := newArcGISTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error": {"code": 400, "message": "Invalid query", "details": ["'BOGUS' is not a field"]}}`)
	})

	_, err := client.Query(context.Background(), "BOGUS = 1", QueryOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid query")
	assert.Contains(t, err.Error(), "'BOGUS' is not a field")
}

func TestArcGISQueryHTTPError(t *testing.T) {
	client, _ := newArcGISTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.Query(context.Background(), "1=1", QueryOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestNewArcGISClientRequiresURL(t *testing.T) {
	_, err := NewArcGISClient(ArcGISConfig{}, observability.Nop())
	assert.Error(t, err)
}
