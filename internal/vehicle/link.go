// Package vehicle defines the contract between the mission monitor and a
// live flight-control vehicle. The monitor drives everything through Link;
// the MAVLink implementation lives in internal/mavlink and test doubles in
// vehicletest.
package vehicle

import (
	"context"
	"time"

	"github.com/aerotest/missioncheck/internal/model"
)

// Snapshot is a point-in-time observation of vehicle state.
type Snapshot struct {
	IsArmable   bool
	Armed       bool
	Mode        string
	Groundspeed float64
	Heading     float64
	Position    model.Position
}

// CommandSet is a handle on the vehicle's onboard mission storage.
type CommandSet interface {
	// Clear empties the onboard list.
	Clear()
	// Add appends a command to the pending upload.
	Add(cmd model.Command)
	// Upload pushes the pending commands and blocks until the vehicle
	// reports the list fully synchronized.
	Upload(ctx context.Context) error
	// Items returns a copy of the synchronized onboard list. The oracle is
	// built from this reflected list, not the locally held one.
	Items() []model.Command
}

// Link is an exclusive connection to one vehicle for the duration of a run.
type Link interface {
	Commands() CommandSet

	// SetMode switches the vehicle's flight mode by name, e.g. "AUTO".
	SetMode(ctx context.Context, mode string) error

	// Arm requests motors armed. The request is safe to repeat; callers
	// poll Snapshot().Armed for confirmation.
	Arm(ctx context.Context) error

	// SendMissionStart triggers execution of mission items 1..count+1.
	SendMissionStart(ctx context.Context, count int) error

	// SubscribeStatusText registers a handler for vehicle status-text
	// payloads and returns its release handle. Handlers must not block.
	SubscribeStatusText(fn func(text string)) (unsubscribe func())

	// HeartbeatAge reports how long ago the last heartbeat arrived.
	HeartbeatAge() time.Duration

	Snapshot() Snapshot

	Close() error
}
