// Package scenario loads INI scenario files describing one verification
// case: which vehicle, where home is, which mission to fly, and optionally
// which attack to launch against it.
//
// Layout:
//
//	[General]  name, vehicle, ardupilot (source tree, default ".")
//	[Mission]  latitude, longitude, altitude, heading, mission
//	[Attack]   attack, script_flags, longitude, latitude, radius
//
// Relative paths resolve against the scenario file's directory.
package scenario

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/aerotest/missioncheck/internal/mission"
	"github.com/aerotest/missioncheck/internal/model"
)

// Scenario is an immutable description of one verification case.
type Scenario struct {
	Path      string
	Name      string
	Kind      model.VehicleKind
	Home      model.Home
	Mission   model.Mission
	Attack    model.AttackSpec
	SourceDir string
}

// Attacked reports whether the scenario configures an attack.
func (s *Scenario) Attacked() bool {
	return s.Attack.Enabled()
}

var requiredKeys = []string{
	"general.name",
	"general.vehicle",
	"mission.latitude",
	"mission.longitude",
	"mission.altitude",
	"mission.heading",
	"mission.mission",
}

// Load reads and validates a scenario file. The mission file is parsed
// eagerly so a malformed scenario fails here, not mid-run.
func Load(path string) (*Scenario, error) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil, fmt.Errorf("read scenario file %s: %w", path, errOrNotFile(err))
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("ini")
	v.SetDefault("general.ardupilot", ".")
	v.SetDefault("attack.attack", "")
	v.SetDefault("attack.script_flags", "")
	v.SetDefault("attack.longitude", 0.0)
	v.SetDefault("attack.latitude", 0.0)
	v.SetDefault("attack.radius", 0.0)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("parse scenario file %s: %w", path, err)
	}

	for _, key := range requiredKeys {
		if !v.IsSet(key) {
			return nil, fmt.Errorf("scenario %s: missing key %s", path, key)
		}
	}

	dir := filepath.Dir(path)

	kind, err := model.ParseVehicleKind(v.GetString("general.vehicle"))
	if err != nil {
		return nil, fmt.Errorf("scenario %s: general.vehicle: %w", path, err)
	}

	lat := v.GetFloat64("mission.latitude")
	if lat < 0 || lat > 90 {
		return nil, fmt.Errorf("scenario %s: mission.latitude %v outside [0, 90]", path, lat)
	}
	lon := v.GetFloat64("mission.longitude")
	if lon < -180 || lon > 180 {
		return nil, fmt.Errorf("scenario %s: mission.longitude %v outside [-180, 180]", path, lon)
	}
	heading := v.GetFloat64("mission.heading")
	if heading < 0 || heading > 360 {
		return nil, fmt.Errorf("scenario %s: mission.heading %v outside [0, 360]", path, heading)
	}
	home := model.Home{
		Position: model.Position{Lat: lat, Lon: lon, Alt: v.GetFloat64("mission.altitude")},
		Heading:  heading,
	}

	missionPath := resolve(dir, v.GetString("mission.mission"))
	mis, err := mission.Load(missionPath, kind, home)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: mission.mission: %w", path, err)
	}

	var spec model.AttackSpec
	if script := v.GetString("attack.attack"); script != "" {
		scriptPath := resolve(dir, script)
		if _, err := os.Stat(scriptPath); err != nil {
			return nil, fmt.Errorf("scenario %s: attack.attack: %w", path, err)
		}
		spec = model.AttackSpec{
			Script:    scriptPath,
			Flags:     v.GetString("attack.script_flags"),
			Longitude: v.GetFloat64("attack.longitude"),
			Latitude:  v.GetFloat64("attack.latitude"),
			Radius:    v.GetFloat64("attack.radius"),
		}
	}

	return &Scenario{
		Path:      path,
		Name:      v.GetString("general.name"),
		Kind:      kind,
		Home:      home,
		Mission:   mis,
		Attack:    spec,
		SourceDir: resolve(dir, v.GetString("general.ardupilot")),
	}, nil
}

func resolve(dir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

func errOrNotFile(err error) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("not a regular file")
}
