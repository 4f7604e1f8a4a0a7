package distance

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGCS_ZeroDistance(t *testing.T) {
	p := Point{Lat: 12.3, Lon: -45.6}
	assert.Equal(t, 0.0, GCS(p, p, DefaultPrecision))
}

func TestGCS_Symmetric(t *testing.T) {
	a := Point{Lat: 10, Lon: 20}
	b := Point{Lat: -5, Lon: 100}
	assert.Equal(t, GCS(a, b, DefaultPrecision), GCS(b, a, DefaultPrecision))
}

func TestGCS_KnownPoint(t *testing.T) {
	a := Point{Lat: 0, Lon: 0}
	b := Point{Lat: 0, Lon: 90}
	assert.Equal(t, 6200.0, GCS(a, b, DefaultPrecision))
}

func TestGCS_NonNegativeMultipleOfPrecision(t *testing.T) {
	const precision = 50.0
	cases := []struct {
		name string
		a, b Point
	}{
		{"same point", Point{0, 0}, Point{0, 0}},
		{"SF to London", Point{37.7, -122.4}, Point{51.5, -0.1}},
		{"Sydney to Tokyo", Point{-33.9, 151.2}, Point{35.7, 139.7}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := GCS(c.a, c.b, precision)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.Equal(t, 0.0, math.Mod(got, precision))
		})
	}
}

func TestGCS_DefaultsPrecisionWhenNonPositive(t *testing.T) {
	a := Point{Lat: 0, Lon: 0}
	b := Point{Lat: 0, Lon: 90}
	assert.Equal(t, GCS(a, b, DefaultPrecision), GCS(a, b, 0))
	assert.Equal(t, GCS(a, b, DefaultPrecision), GCS(a, b, -5))
}
