// Package distance implements the great-circle distance calculation
// used to rank candidate servers by proximity to a client.
package distance

import "math"

// DefaultPrecision is the rounding granularity, in miles, applied to
// a distance result unless a zone overrides it.
const DefaultPrecision = 50.0

// Point is a (latitude, longitude) pair in degrees.
type Point struct {
	Lat float64
	Lon float64
}

// GCS returns the great-circle distance between a and b, in miles,
// using the spherical law of cosines, floored to the nearest multiple
// of precision. Each term converts its own degrees to radians exactly
// once; do not double-convert theta when refactoring.
func GCS(a, b Point, precision float64) float64 {
	if precision <= 0 {
		precision = DefaultPrecision
	}

	theta := a.Lon - b.Lon
	d := math.Sin(radians(a.Lat))*math.Sin(radians(b.Lat)) +
		math.Cos(radians(a.Lat))*math.Cos(radians(b.Lat))*math.Cos(radians(theta))

	// Guard against acos domain errors from floating point drift
	// when a == b (d can come out fractionally above 1.0).
	if d > 1.0 {
		d = 1.0
	} else if d < -1.0 {
		d = -1.0
	}

	degrees := math.Acos(d) * 180 / math.Pi
	miles := degrees * 60 * 1.1515

	return math.Floor(miles/precision) * precision
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
