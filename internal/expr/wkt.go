package expr

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
)

// Coordinate orders accepted by the WKT helper's input_mode option.
const (
	InputLatLon = "latlon"
	InputLonLat = "lonlat"
)

func wktHelper(args []any, opts options) (any, error) {
	mode := InputLatLon
	if m, ok := opts["input_mode"]; ok {
		s, err := asString(m)
		if err != nil {
			return nil, err
		}
		mode = s
	}
	coords, err := asFloats(args[0])
	if err != nil {
		return nil, err
	}
	return CoordinatesToWKT(coords, mode)
}

// CoordinatesToWKT turns a flat coordinate list into WKT. One pair is a
// POINT, two a LINESTRING, more a POLYGON whose ring is closed if needed.
// In latlon mode each pair is (lat, lon) and is swapped to x=lon, y=lat.
func CoordinatesToWKT(coords []float64, mode string) (string, error) {
	if mode != InputLatLon && mode != InputLonLat {
		return "", fmt.Errorf("unknown input_mode %q", mode)
	}
	if len(coords) == 0 || len(coords)%2 != 0 {
		return "", fmt.Errorf("coordinate list needs an even, non-zero count, got %d", len(coords))
	}
	points := make([]orb.Point, 0, len(coords)/2)
	for i := 0; i < len(coords); i += 2 {
		a, b := coords[i], coords[i+1]
		if mode == InputLatLon {
			a, b = b, a
		}
		if a < -180 || a > 180 || b < -90 || b > 90 {
			return "", fmt.Errorf("coordinate (%v, %v) out of range for mode %s", a, b, mode)
		}
		points = append(points, orb.Point{a, b})
	}

	var geom orb.Geometry
	switch len(points) {
	case 1:
		geom = points[0]
	case 2:
		geom = orb.LineString(points)
	default:
		ring := orb.Ring(points)
		if ring[0] != ring[len(ring)-1] {
			ring = append(ring, ring[0])
		}
		geom = orb.Polygon{ring}
	}
	return wkt.MarshalString(geom), nil
}
