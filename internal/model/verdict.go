package model

// FailReason tags a failed run with its cause. The values are stable: they
// appear in reports, history rows, and CLI output.
type FailReason string

const (
	ReasonNone                  FailReason = ""
	ReasonUnresponsiveVehicle   FailReason = "unresponsive-vehicle"
	ReasonInsufficientWaypoints FailReason = "insufficient-waypoints-visited"
	ReasonTerminalPositionFar   FailReason = "terminal-position-too-far"
	ReasonTimeout               FailReason = "timeout"
)

// Verdict is the single pass/fail outcome of one mission run.
type Verdict struct {
	Passed bool
	Reason FailReason
}

func Pass() Verdict {
	return Verdict{Passed: true}
}

func Fail(reason FailReason) Verdict {
	return Verdict{Passed: false, Reason: reason}
}

func (v Verdict) String() string {
	if v.Passed {
		return "passed"
	}
	return "failed: " + string(v.Reason)
}
