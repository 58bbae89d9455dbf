package model

import "fmt"

// VehicleKind identifies the flight-control firmware variant under test.
// The values are the identifiers used in scenario configuration files.
type VehicleKind string

const (
	VehicleRover  VehicleKind = "APMrover2"
	VehicleCopter VehicleKind = "ArduCopter"
	VehiclePlane  VehicleKind = "ArduPlane"
)

var vehicleBinaryNames = map[VehicleKind]string{
	VehicleRover:  "ardurover",
	VehicleCopter: "arducopter",
	VehiclePlane:  "arduplane",
}

// Flight mode tables per firmware, keyed by the custom mode number carried
// in heartbeats. Only the modes the harness can encounter are listed.
var vehicleModes = map[VehicleKind]map[uint32]string{
	VehicleRover: {
		0:  "MANUAL",
		1:  "ACRO",
		3:  "STEERING",
		4:  "HOLD",
		5:  "LOITER",
		10: "AUTO",
		11: "RTL",
		12: "SMART_RTL",
		15: "GUIDED",
	},
	VehicleCopter: {
		0: "STABILIZE",
		2: "ALT_HOLD",
		3: "AUTO",
		4: "GUIDED",
		5: "LOITER",
		6: "RTL",
		9: "LAND",
	},
	VehiclePlane: {
		0:  "MANUAL",
		2:  "STABILIZE",
		5:  "FBWA",
		6:  "FBWB",
		7:  "CRUISE",
		10: "AUTO",
		11: "RTL",
		12: "LOITER",
		15: "GUIDED",
	},
}

func ParseVehicleKind(s string) (VehicleKind, error) {
	k := VehicleKind(s)
	if _, ok := vehicleBinaryNames[k]; !ok {
		return "", fmt.Errorf("unknown vehicle kind %q", s)
	}
	return k, nil
}

func (k VehicleKind) Valid() bool {
	_, ok := vehicleBinaryNames[k]
	return ok
}

// BinaryName is the name of the firmware binary under build/sitl/bin.
func (k VehicleKind) BinaryName() string {
	return vehicleBinaryNames[k]
}

// AutoModeID is the firmware's custom mode number for autonomous mission flight.
func (k VehicleKind) AutoModeID() uint32 {
	id, _ := k.ModeID("AUTO")
	return id
}

// ModeName resolves a heartbeat custom mode number to the firmware's mode
// name, falling back to a numeric form for modes outside the table.
func (k VehicleKind) ModeName(custom uint32) string {
	if name, ok := vehicleModes[k][custom]; ok {
		return name
	}
	return fmt.Sprintf("MODE(%d)", custom)
}

// ModeID is the reverse lookup of ModeName for modes present in the table.
func (k VehicleKind) ModeID(name string) (uint32, bool) {
	for id, n := range vehicleModes[k] {
		if n == name {
			return id, true
		}
	}
	return 0, false
}

func (k VehicleKind) String() string {
	return string(k)
}
