package model

import "fmt"

// RunStatus tracks one mission run through the monitor's state machine.
type RunStatus string

const (
	RunStatusIdle      RunStatus = "idle"
	RunStatusIssuing   RunStatus = "issuing"
	RunStatusArmed     RunStatus = "armed"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusTimedOut  RunStatus = "timed_out"
)

var terminalRunStatuses = map[RunStatus]bool{
	RunStatusCompleted: true,
	RunStatusFailed:    true,
	RunStatusTimedOut:  true,
}

// idle → issuing → armed → running → terminal. The deadline and liveness
// checks can fail a run from any non-terminal working state.
var validRunTransitions = map[RunStatus]map[RunStatus]bool{
	RunStatusIdle: {
		RunStatusIssuing: true,
	},
	RunStatusIssuing: {
		RunStatusArmed:    true,
		RunStatusFailed:   true,
		RunStatusTimedOut: true,
	},
	RunStatusArmed: {
		RunStatusRunning:  true,
		RunStatusFailed:   true,
		RunStatusTimedOut: true,
	},
	RunStatusRunning: {
		RunStatusCompleted: true,
		RunStatusFailed:    true,
		RunStatusTimedOut:  true,
	},
}

func IsTerminalRunStatus(s RunStatus) bool {
	return terminalRunStatuses[s]
}

func ValidateRunTransition(from, to RunStatus) error {
	if IsTerminalRunStatus(from) {
		return fmt.Errorf("cannot transition from terminal run status %q", from)
	}
	allowed, ok := validRunTransitions[from]
	if !ok {
		return fmt.Errorf("unknown run status %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid run transition: %q → %q", from, to)
	}
	return nil
}
