// Package geo holds great-circle helpers shared by the scorer and the router.
package geo

import (
	"math"

	"github.com/kilianp07/stockpulse/core/model"
)

// EarthRadiusKm is the mean Earth radius used for haversine distances.
const EarthRadiusKm = 6371.0

// UnknownDistanceKm is returned when either end has no usable coordinate.
const UnknownDistanceKm = 1000.0

// Haversine returns the great-circle distance in kilometres.
func Haversine(a, b model.Coordinate) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return EarthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Distance is Haversine with a fallback for missing coordinates.
func Distance(a, b *model.Coordinate) (float64, bool) {
	if a == nil || b == nil || !a.Valid() || !b.Valid() {
		return UnknownDistanceKm, false
	}
	return Haversine(*a, *b), true
}

// Round2 rounds to two decimals, half away from zero.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
