package model

import "errors"

// Error taxonomy for the harness. Deadline expiry and heartbeat staleness
// during a run are folded into the Verdict instead; these sentinels cover
// resource acquisition and parsing, which surface as errors distinct from
// any verdict.
var (
	ErrConnectionTimeout      = errors.New("vehicle connection timed out")
	ErrUnresponsiveVehicle    = errors.New("vehicle became unresponsive")
	ErrMissionTimeout         = errors.New("mission deadline expired")
	ErrInsufficientWaypoints  = errors.New("vehicle visited fewer waypoints than expected")
	ErrTerminalPositionTooFar = errors.New("vehicle ended too far from the expected position")
	ErrAttackProtocol         = errors.New("attack controller protocol failure")
	ErrMalformedMission       = errors.New("malformed mission file")
)
