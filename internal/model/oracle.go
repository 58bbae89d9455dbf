package model

// DefaultToleranceMeters is the fixed maximum acceptable distance between
// the expected and observed terminal positions.
const DefaultToleranceMeters = 3.0

// Oracle is the statically computed expectation for one mission run:
// the minimum number of waypoints the vehicle must visit and the position
// it must end up at. Computed once per issuance, never mutated.
type Oracle struct {
	MinWaypoints    int
	EndPosition     Position
	ToleranceMeters float64
}
