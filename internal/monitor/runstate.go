package monitor

import (
	"sync"

	"github.com/aerotest/missioncheck/internal/model"
)

// runState is the shared record between the status-text handler (single
// writer) and the wait loop (reader). Readers may observe a run cut off
// mid-update; the lock keeps each observation internally consistent.
type runState struct {
	mu           sync.Mutex
	visited      int
	complete     bool
	lastPosition model.Position
}

// init seeds the last known position before any terminal event arrives.
func (r *runState) init(pos model.Position) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastPosition = pos
}

func (r *runState) noteVisit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.visited++
}

// noteTerminal counts the terminal event as a visit, captures the position
// at that moment, and marks the mission complete.
func (r *runState) noteTerminal(pos model.Position) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.visited++
	r.lastPosition = pos
	r.complete = true
}

func (r *runState) view() (visited int, complete bool, last model.Position) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.visited, r.complete, r.lastPosition
}
