// Package geo provides the small-displacement geodesy used to compare
// vehicle positions against mission targets. The flat-earth formulas here
// match what the flight stack itself uses for short distances; they are not
// valid across large displacements.
package geo

import (
	"math"

	"github.com/aerotest/missioncheck/internal/model"
)

const (
	// metersPerDegree converts a degree of latitude (or longitude, with no
	// latitude correction) into meters near the surface.
	metersPerDegree = 1.113195e5

	earthRadiusMeters = 6378137.0
)

// Distance returns the approximate ground distance in meters between two
// positions. Altitude is ignored. Symmetric, zero for identical points.
func Distance(a, b model.Position) float64 {
	dlat := b.Lat - a.Lat
	dlon := b.Lon - a.Lon
	return math.Sqrt(dlat*dlat+dlon*dlon) * metersPerDegree
}

// Offset returns the position dNorth meters north and dEast meters east of
// p. Altitude is preserved.
func Offset(p model.Position, dNorth, dEast float64) model.Position {
	dLat := dNorth / earthRadiusMeters
	dLon := dEast / (earthRadiusMeters * math.Cos(math.Pi*p.Lat/180))
	return model.Position{
		Lat: p.Lat + dLat*180/math.Pi,
		Lon: p.Lon + dLon*180/math.Pi,
		Alt: p.Alt,
	}
}
