package oracle

import (
	"testing"

	"github.com/aerotest/missioncheck/internal/model"
)

var home = model.Home{
	Position: model.Position{Lat: -35.363261, Lon: 149.165230, Alt: 584},
	Heading:  353,
}

func waypoint(lat, lon, alt float64) model.Command {
	return model.Command{Frame: 3, ID: model.CmdNavWaypoint, X: lat, Y: lon, Z: alt}
}

func TestBuildWaypointsOnly(t *testing.T) {
	cmds := []model.Command{
		waypoint(1, 2, 20),
		waypoint(3, 4, 20),
		waypoint(5, 6, 20),
	}

	// Non-Copter kinds count every command.
	o := Build(cmds, model.VehiclePlane, home, true)
	if o.MinWaypoints != 3 {
		t.Errorf("plane waypoints: got %d, want 3", o.MinWaypoints)
	}
	if o.EndPosition != (model.Position{Lat: 5, Lon: 6, Alt: 20}) {
		t.Errorf("plane end position: got %+v", o.EndPosition)
	}
	if o.ToleranceMeters != model.DefaultToleranceMeters {
		t.Errorf("tolerance: got %v", o.ToleranceMeters)
	}

	// Copter drops one for the ignored first item.
	o = Build(cmds, model.VehicleCopter, home, true)
	if o.MinWaypoints != 2 {
		t.Errorf("copter waypoints: got %d, want 2", o.MinWaypoints)
	}
}

func TestBuildCountEqualsCommandCountWithoutRTLOrLand(t *testing.T) {
	cmds := []model.Command{
		{ID: 22}, // takeoff
		waypoint(1, 2, 20),
		{ID: 112}, // condition-delay
		waypoint(3, 4, 20),
	}
	o := Build(cmds, model.VehicleRover, home, true)
	if o.MinWaypoints != len(cmds) {
		t.Errorf("got %d, want %d", o.MinWaypoints, len(cmds))
	}
}

func TestBuildRTL(t *testing.T) {
	cmds := []model.Command{
		waypoint(1, 2, 20),
		{ID: model.CmdNavReturnToLaunch},
		waypoint(3, 4, 20),
		waypoint(5, 6, 20),
	}

	// Non-Copter kinds keep flying after an RTL, so the trailing waypoints
	// still count and the last one owns the end position.
	o := Build(cmds, model.VehiclePlane, home, true)
	if o.MinWaypoints != 4 {
		t.Errorf("plane waypoints: got %d, want 4", o.MinWaypoints)
	}
	if o.EndPosition != (model.Position{Lat: 5, Lon: 6, Alt: 20}) {
		t.Errorf("plane end position: got %+v", o.EndPosition)
	}

	// Copter stops processing after the RTL (counted), then loses one for
	// the skipped first item: 2 - 1. The end position stays home.
	o = Build(cmds, model.VehicleCopter, home, true)
	if o.MinWaypoints != 1 {
		t.Errorf("copter waypoints: got %d, want 1", o.MinWaypoints)
	}
	if o.EndPosition != home.Position {
		t.Errorf("copter end position: got %+v, want home", o.EndPosition)
	}
}

func TestBuildClosingRTLComesHome(t *testing.T) {
	cmds := []model.Command{
		waypoint(1, 2, 20),
		waypoint(3, 4, 20),
		{ID: model.CmdNavReturnToLaunch},
	}
	for _, kind := range []model.VehicleKind{model.VehicleRover, model.VehiclePlane} {
		o := Build(cmds, kind, home, true)
		if o.EndPosition != home.Position {
			t.Errorf("%s end position: got %+v, want home", kind, o.EndPosition)
		}
		if o.MinWaypoints != 3 {
			t.Errorf("%s waypoints: got %d, want 3", kind, o.MinWaypoints)
		}
	}
}

func TestBuildLandWorkaround(t *testing.T) {
	// RTL puts the vehicle back on the ground, so the following land is a
	// land-while-grounded and truncates the rest of the mission.
	cmds := []model.Command{
		waypoint(1, 2, 20),
		{ID: model.CmdNavReturnToLaunch},
		{ID: model.CmdNavLand},
		waypoint(3, 4, 20),
	}

	o := Build(cmds, model.VehicleRover, home, true)
	if o.MinWaypoints != 2 {
		t.Errorf("with workaround: got %d, want 2", o.MinWaypoints)
	}

	// Disabled workaround counts the land and keeps going.
	o = Build(cmds, model.VehicleRover, home, false)
	if o.MinWaypoints != 4 {
		t.Errorf("without workaround: got %d, want 4", o.MinWaypoints)
	}
}

func TestBuildLandInAirNotTruncated(t *testing.T) {
	// A land while airborne is an ordinary counted step even with the
	// workaround on.
	cmds := []model.Command{
		waypoint(1, 2, 20),
		{ID: model.CmdNavLand},
		waypoint(3, 4, 20),
	}
	o := Build(cmds, model.VehicleRover, home, true)
	if o.MinWaypoints != 3 {
		t.Errorf("got %d, want 3", o.MinWaypoints)
	}
}

func TestBuildEmptyMission(t *testing.T) {
	o := Build(nil, model.VehicleCopter, home, true)
	if o.MinWaypoints != 0 {
		t.Errorf("copter empty mission: got %d, want 0 (never negative)", o.MinWaypoints)
	}
	if o.EndPosition != home.Position {
		t.Errorf("end position: got %+v, want home", o.EndPosition)
	}
}
