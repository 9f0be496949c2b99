package geo

import (
	"errors"
	"math"
)

// Mean earth radius in meters (IUGG).
const earthRadiusMeters = 6371008.8

// ErrInvalidCoordinate is returned for NaN or out-of-range latitude/longitude.
var ErrInvalidCoordinate = errors.New("geo: invalid coordinate")

// Point is a WGS84 latitude/longitude pair in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate reports whether the point is a usable coordinate.
// Out-of-range values are rejected, never clamped.
func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) {
		return ErrInvalidCoordinate
	}
	if p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
		return ErrInvalidCoordinate
	}
	return nil
}

// Distance returns the great-circle surface distance between a and b in
// meters, using the haversine formula on a mean-radius sphere.
func Distance(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLng*sinLng
	// Rounding can push h a hair past 1 for antipodal points.
	if h > 1 {
		h = 1
	}
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}

// WithinRadius reports whether a and b are at most radiusMeters apart on the
// surface. The boundary is inclusive: a pair at exactly radiusMeters is in.
func WithinRadius(a, b Point, radiusMeters float64) (bool, error) {
	if err := a.Validate(); err != nil {
		return false, err
	}
	if err := b.Validate(); err != nil {
		return false, err
	}
	if radiusMeters <= 0 || math.IsNaN(radiusMeters) {
		return false, errors.New("geo: radius must be positive")
	}
	return Distance(a, b) <= radiusMeters, nil
}
