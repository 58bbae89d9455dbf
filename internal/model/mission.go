// Package model defines the data structures shared across the verification
// harness: vehicle kinds, missions and their commands, oracles, verdicts,
// attack descriptions, and the run status machine.
package model

// Navigation command identifiers the oracle special-cases. All other command
// IDs are treated as opaque visitable steps.
const (
	CmdNavWaypoint       = 16
	CmdNavReturnToLaunch = 20
	CmdNavLand           = 21
)

// Position is a global location. Alt is meters above the reference frame of
// the command that produced it.
type Position struct {
	Lat float64
	Lon float64
	Alt float64
}

// Home is the vehicle's starting placement. Heading is used only for
// simulator placement, never by the oracle.
type Home struct {
	Position
	Heading float64
}

// Command is one mission step. Immutable once parsed: it is a pure value,
// copies never share state.
type Command struct {
	Frame  int
	ID     int
	Param1 float64
	Param2 float64
	Param3 float64
	Param4 float64
	X      float64
	Y      float64
	Z      float64
}

// Target returns the command's navigation target.
func (c Command) Target() Position {
	return Position{Lat: c.X, Lon: c.Y, Alt: c.Z}
}

// Mission is an ordered command sequence for one vehicle. The sequence is
// fixed at construction; Commands returns a copy so callers can never alias
// the internal slice.
type Mission struct {
	Vehicle VehicleKind
	Home    Home

	commands []Command
}

func NewMission(kind VehicleKind, home Home, commands []Command) Mission {
	cp := make([]Command, len(commands))
	copy(cp, commands)
	return Mission{Vehicle: kind, Home: home, commands: cp}
}

func (m Mission) Len() int {
	return len(m.commands)
}

func (m Mission) Commands() []Command {
	cp := make([]Command, len(m.commands))
	copy(cp, m.commands)
	return cp
}
