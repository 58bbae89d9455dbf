// Package report writes one YAML artifact per mission run. Artifacts are
// plain files meant to be archived next to CI logs or diffed between runs,
// so the schema is versioned and every write goes through the atomic writer.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/aerotest/missioncheck/internal/harness"
	"github.com/aerotest/missioncheck/internal/yaml"
)

const FileTypeRunReport = "run_report"

type Waypoints struct {
	Visited  int `yaml:"visited" json:"visited"`
	Expected int `yaml:"expected" json:"expected"`
}

type FinalState struct {
	Mode        string  `yaml:"mode" json:"mode"`
	Armed       bool    `yaml:"armed" json:"armed"`
	Groundspeed float64 `yaml:"groundspeed" json:"groundspeed"`
	Heading     float64 `yaml:"heading" json:"heading"`
	Latitude    float64 `yaml:"latitude" json:"latitude"`
	Longitude   float64 `yaml:"longitude" json:"longitude"`
	Altitude    float64 `yaml:"altitude" json:"altitude"`
}

// Artifact is the on-disk form of a single run result. The same shape
// backs the CLI's --json output.
type Artifact struct {
	SchemaVersion int    `yaml:"schema_version" json:"schema_version"`
	FileType      string `yaml:"file_type" json:"file_type"`

	RunUID   string `yaml:"run_uid" json:"run_uid"`
	Scenario string `yaml:"scenario" json:"scenario"`
	Vehicle  string `yaml:"vehicle" json:"vehicle"`
	Attacked bool   `yaml:"attacked" json:"attacked"`

	Passed    bool      `yaml:"passed" json:"passed"`
	Reason    string    `yaml:"reason,omitempty" json:"reason,omitempty"`
	Waypoints Waypoints `yaml:"waypoints" json:"waypoints"`

	DistanceMeters          float64    `yaml:"distance_meters" json:"distance_meters"`
	AttackerReportedSuccess bool       `yaml:"attacker_reported_success" json:"attacker_reported_success"`
	Final                   FinalState `yaml:"final" json:"final"`

	StartedAt       time.Time `yaml:"started_at" json:"started_at"`
	DurationSeconds float64   `yaml:"duration_seconds" json:"duration_seconds"`
}

// FromResult flattens a run result into its artifact form.
func FromResult(res harness.Result) Artifact {
	out := res.Outcome
	return Artifact{
		SchemaVersion: yaml.CurrentSchemaVersion,
		FileType:      FileTypeRunReport,

		RunUID:   res.RunUID.String(),
		Scenario: res.Scenario,
		Vehicle:  res.Vehicle.String(),
		Attacked: res.Attacked,

		Passed: out.Verdict.Passed,
		Reason: string(out.Verdict.Reason),
		Waypoints: Waypoints{
			Visited:  out.Visited,
			Expected: out.Expected,
		},

		DistanceMeters:          out.DistanceMeters,
		AttackerReportedSuccess: res.AttackerReportedSuccess,
		Final: FinalState{
			Mode:        out.Final.Mode,
			Armed:       out.Final.Armed,
			Groundspeed: out.Final.Groundspeed,
			Heading:     out.Final.Heading,
			Latitude:    out.Final.Position.Lat,
			Longitude:   out.Final.Position.Lon,
			Altitude:    out.Final.Position.Alt,
		},

		StartedAt:       res.StartedAt,
		DurationSeconds: res.Duration.Seconds(),
	}
}

// Writer persists run artifacts into a single directory.
type Writer struct {
	dir string
}

func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create results dir: %w", err)
	}
	return &Writer{dir: dir}, nil
}

// Record writes the artifact for one run as <scenario>-<run uid>.yaml.
// Re-recording the same run replaces the file and leaves a .bak behind.
func (w *Writer) Record(res harness.Result) error {
	art := FromResult(res)
	path := filepath.Join(w.dir, fmt.Sprintf("%s-%s.yaml", sanitizeName(res.Scenario), res.RunUID))
	if err := yaml.AtomicWrite(path, art); err != nil {
		return fmt.Errorf("write run report: %w", err)
	}
	log.Debug().Str("path", path).Msg("run report written")
	return nil
}

// Load reads an artifact back, validating the schema header first.
func Load(path string) (Artifact, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Artifact{}, fmt.Errorf("read run report: %w", err)
	}
	if err := yaml.ValidateHeader(content, FileTypeRunReport); err != nil {
		return Artifact{}, fmt.Errorf("run report %s: %w", filepath.Base(path), err)
	}
	var art Artifact
	if err := yamlv3.Unmarshal(content, &art); err != nil {
		return Artifact{}, fmt.Errorf("parse run report: %w", err)
	}
	return art, nil
}

// sanitizeName keeps scenario names safe to embed in a file name. Scenario
// names come from user-written config so they can hold anything.
func sanitizeName(name string) string {
	if name == "" {
		return "scenario"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
