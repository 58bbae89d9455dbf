package mission

import (
	"errors"
	"strings"
	"testing"

	"github.com/aerotest/missioncheck/internal/model"
)

const copterMission = `QGC WPL 110
0	1	0	16	0	0	0	0	-35.363261	149.165230	584.000000	1
1	0	3	22	0.000000	0.000000	0.000000	0.000000	0.000000	0.000000	20.000000	1
2	0	3	16	0.000000	0.000000	0.000000	0.000000	-35.361354	149.163491	20.000000	1
3	0	3	20	0.000000	0.000000	0.000000	0.000000	0.000000	0.000000	0.000000	1
`

var testHome = model.Home{
	Position: model.Position{Lat: -35.363261, Lon: 149.165230, Alt: 584},
	Heading:  353,
}

func TestParse(t *testing.T) {
	m, err := Parse(strings.NewReader(copterMission), model.VehicleCopter, testHome)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if m.Vehicle != model.VehicleCopter {
		t.Errorf("vehicle: got %q", m.Vehicle)
	}
	if m.Len() != 4 {
		t.Fatalf("expected 4 commands, got %d", m.Len())
	}

	cmds := m.Commands()
	if cmds[0].ID != model.CmdNavWaypoint || cmds[0].Frame != 0 {
		t.Errorf("command 0: got id=%d frame=%d", cmds[0].ID, cmds[0].Frame)
	}
	if cmds[1].ID != 22 || cmds[1].Z != 20 {
		t.Errorf("command 1: got id=%d z=%v", cmds[1].ID, cmds[1].Z)
	}
	if cmds[2].X != -35.361354 || cmds[2].Y != 149.163491 {
		t.Errorf("command 2 target: got x=%v y=%v", cmds[2].X, cmds[2].Y)
	}
	if cmds[3].ID != model.CmdNavReturnToLaunch {
		t.Errorf("command 3: got id=%d", cmds[3].ID)
	}
}

func TestParseSkipsBlankLines(t *testing.T) {
	input := "QGC WPL 110\n\n0\t0\t3\t16\t0 0 0 0 1.0 2.0 3.0\n\n"
	m, err := Parse(strings.NewReader(input), model.VehicleRover, testHome)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if m.Len() != 1 {
		t.Errorf("expected 1 command, got %d", m.Len())
	}
}

func TestParseAcceptsElevenFields(t *testing.T) {
	// Older exports omit the trailing autocontinue column.
	input := "QGC WPL 110\n0 0 3 16 0 0 0 0 1.5 2.5 3.5\n"
	m, err := Parse(strings.NewReader(input), model.VehicleRover, testHome)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got := m.Commands()[0].Target(); got.Lat != 1.5 || got.Lon != 2.5 || got.Alt != 3.5 {
		t.Errorf("target: got %+v", got)
	}
}

func TestParseHeaderOnly(t *testing.T) {
	m, err := Parse(strings.NewReader("QGC WPL 110\n"), model.VehiclePlane, testHome)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if m.Len() != 0 {
		t.Errorf("expected empty mission, got %d commands", m.Len())
	}
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"too_few_fields", "QGC WPL 110\n0 0 3 16 0 0 0 0 1.0\n"},
		{"bad_index", "QGC WPL 110\nx 0 3 16 0 0 0 0 1 2 3\n"},
		{"bad_frame", "QGC WPL 110\n0 0 z 16 0 0 0 0 1 2 3\n"},
		{"bad_command_id", "QGC WPL 110\n0 0 3 wp 0 0 0 0 1 2 3\n"},
		{"bad_param", "QGC WPL 110\n0 0 3 16 0 0 0 0 north 2 3\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input), model.VehicleCopter, testHome)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, model.ErrMalformedMission) {
				t.Errorf("expected ErrMalformedMission, got %v", err)
			}
			if !strings.Contains(err.Error(), "line 2") {
				t.Errorf("expected line number in error, got %q", err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/mission.txt", model.VehicleCopter, testHome); err == nil {
		t.Fatal("expected error for missing file")
	}
}
