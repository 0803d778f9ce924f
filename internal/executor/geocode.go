package executor

import (
	"sort"
	"strings"

	"github.com/meridian-gis/geoquery/internal/source"
)

// cityCoordinates holds WGS84 coordinates for the metro areas spatial
// queries most often name. Keys are lowercase "city, state".
var cityCoordinates = map[string]source.Point{
	"austin, texas":             {Lon: -97.7431, Lat: 30.2672},
	"houston, texas":            {Lon: -95.3698, Lat: 29.7604},
	"dallas, texas":             {Lon: -96.7970, Lat: 32.7767},
	"san antonio, texas":        {Lon: -98.4936, Lat: 29.4241},
	"los angeles, california":   {Lon: -118.2437, Lat: 34.0522},
	"san francisco, california": {Lon: -122.4194, Lat: 37.7749},
	"new york, new york":        {Lon: -74.0060, Lat: 40.7128},
	"chicago, illinois":         {Lon: -87.6298, Lat: 41.8781},
	"phoenix, arizona":          {Lon: -112.0740, Lat: 33.4484},
	"philadelphia, pennsylvania": {Lon: -75.1652, Lat: 39.9526},
}

// LookupCity resolves a location name to coordinates: exact match first,
// then substring containment in either direction.
func LookupCity(location string) (source.Point, bool) {
	location = strings.ToLower(strings.TrimSpace(location))
	if location == "" {
		return source.Point{}, false
	}

	if pt, ok := cityCoordinates[location]; ok {
		return pt, true
	}

	// Deterministic fallback pass over the table.
	cities := make([]string, 0, len(cityCoordinates))
	for city := range cityCoordinates {
		cities = append(cities, city)
	}
	sort.Strings(cities)

	for _, city := range cities {
		if strings.Contains(city, location) || strings.Contains(location, city) {
			return cityCoordinates[city], true
		}
	}

	return source.Point{}, false
}
