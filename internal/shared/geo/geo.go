// Package geo holds the coordinate primitives shared by the tracking and
// group-activity packages.
package geo

import "math"

// EarthRadiusM is the mean Earth radius used by the haversine formula.
const EarthRadiusM = 6_371_000.0

// Coordinate is a latitude/longitude pair in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// DistanceTo returns the great-circle distance to other in meters.
func (c Coordinate) DistanceTo(other Coordinate) float64 {
	return HaversineM(c.Lat, c.Lng, other.Lat, other.Lng)
}

// HaversineM returns the great-circle distance in meters between two points
// given in decimal degrees.
func HaversineM(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLng := toRadians(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusM * c
}

// HaversineKm is HaversineM in kilometres.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	return HaversineM(lat1, lng1, lat2, lng2) / 1000
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
