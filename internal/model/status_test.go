package model

import "testing"

func TestIsTerminalRunStatus(t *testing.T) {
	tests := []struct {
		status   RunStatus
		terminal bool
	}{
		{RunStatusIdle, false},
		{RunStatusIssuing, false},
		{RunStatusArmed, false},
		{RunStatusRunning, false},
		{RunStatusCompleted, true},
		{RunStatusFailed, true},
		{RunStatusTimedOut, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := IsTerminalRunStatus(tt.status); got != tt.terminal {
				t.Errorf("IsTerminalRunStatus(%q) = %v, want %v", tt.status, got, tt.terminal)
			}
		})
	}
}

func TestValidateRunTransition(t *testing.T) {
	valid := []struct {
		from, to RunStatus
	}{
		{RunStatusIdle, RunStatusIssuing},
		{RunStatusIssuing, RunStatusArmed},
		{RunStatusIssuing, RunStatusFailed},
		{RunStatusIssuing, RunStatusTimedOut},
		{RunStatusArmed, RunStatusRunning},
		{RunStatusArmed, RunStatusFailed},
		{RunStatusArmed, RunStatusTimedOut},
		{RunStatusRunning, RunStatusCompleted},
		{RunStatusRunning, RunStatusFailed},
		{RunStatusRunning, RunStatusTimedOut},
	}
	for _, tt := range valid {
		t.Run(string(tt.from)+"→"+string(tt.to), func(t *testing.T) {
			if err := ValidateRunTransition(tt.from, tt.to); err != nil {
				t.Errorf("expected valid, got error: %v", err)
			}
		})
	}

	invalid := []struct {
		from, to RunStatus
	}{
		{RunStatusIdle, RunStatusArmed}, // must issue the mission first
		{RunStatusIdle, RunStatusCompleted},
		{RunStatusIssuing, RunStatusRunning},
		{RunStatusArmed, RunStatusIssuing},
		{RunStatusRunning, RunStatusArmed},
		{RunStatusCompleted, RunStatusRunning},
		{RunStatusFailed, RunStatusIdle},
		{RunStatusTimedOut, RunStatusRunning},
	}
	for _, tt := range invalid {
		t.Run("invalid_"+string(tt.from)+"→"+string(tt.to), func(t *testing.T) {
			if err := ValidateRunTransition(tt.from, tt.to); err == nil {
				t.Errorf("expected error for %q → %q", tt.from, tt.to)
			}
		})
	}
}
