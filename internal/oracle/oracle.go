// Package oracle predicts the outcome of a mission before it runs. The
// prediction is static: it depends only on the command sequence, the vehicle
// kind, and the home position, and it is what the monitor later holds the
// live vehicle to.
package oracle

import "github.com/aerotest/missioncheck/internal/model"

// Build walks the command sequence and returns the minimum number of
// waypoints the vehicle must visit plus the position it must end at.
//
// Firmware quirks encoded here:
//   - Copter ignores everything after a return-to-launch, and silently skips
//     the very first mission item.
//   - A land command received while already on the ground truncates the rest
//     of the mission when the landing workaround is enabled.
func Build(commands []model.Command, kind model.VehicleKind, home model.Home, workaroundEnabled bool) model.Oracle {
	end := home.Position
	onGround := true
	count := 0

loop:
	for _, cmd := range commands {
		switch {
		case cmd.ID == model.CmdNavWaypoint:
			end = cmd.Target()
			onGround = false
			count++

		case cmd.ID == model.CmdNavReturnToLaunch:
			end = home.Position
			onGround = true
			count++
			if kind == model.VehicleCopter {
				break loop
			}

		case cmd.ID == model.CmdNavLand && workaroundEnabled && onGround:
			break loop

		default:
			count++
		}
	}

	if kind == model.VehicleCopter {
		count--
		if count < 0 {
			count = 0
		}
	}

	return model.Oracle{
		MinWaypoints:    count,
		EndPosition:     end,
		ToleranceMeters: model.DefaultToleranceMeters,
	}
}
