// Package geo provides WGS84 coordinate handling and great-circle distance
package geo

import "math"

const earthRadiusM = 6371000 // Earth's radius in meters

// Coordinate is an immutable WGS84 position in degrees, 6-decimal precision
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// NewCoordinate builds a Coordinate normalized to 6 decimal places
func NewCoordinate(lat, lng float64) Coordinate {
	return Coordinate{
		Latitude:  Round6(lat),
		Longitude: Round6(lng),
	}
}

// Round6 rounds a coordinate axis value to 6 decimal places (~0.1 m)
func Round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// DistanceMeters calculates the haversine distance between two coordinate pairs
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLatRad := (lat2 - lat1) * math.Pi / 180
	deltaLonRad := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLatRad/2)*math.Sin(deltaLatRad/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLonRad/2)*math.Sin(deltaLonRad/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusM * c
}

// DistanceBetween calculates the haversine distance between two Coordinates
func DistanceBetween(from, to Coordinate) float64 {
	return DistanceMeters(from.Latitude, from.Longitude, to.Latitude, to.Longitude)
}
