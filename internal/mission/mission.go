// Package mission loads waypoint mission files into model.Mission values.
//
// The file format is the plain-text waypoint list produced by the usual
// ground-station tools: a header line (discarded), then one command per line
// as whitespace-separated columns
//
//	index currentWP frame commandID p1 p2 p3 p4 x y z [autocontinue]
//
// The index, currentWP, and autocontinue columns are parsed only for shape;
// command ordering comes from line order.
package mission

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/aerotest/missioncheck/internal/model"
)

// minFields is the number of leading columns a command line must carry.
// Ground-station exports append a trailing autocontinue column, which is
// accepted and ignored.
const minFields = 11

// Load reads the mission file at path for the given vehicle kind.
func Load(path string, kind model.VehicleKind, home model.Home) (model.Mission, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Mission{}, fmt.Errorf("open mission file: %w", err)
	}
	defer f.Close()
	m, err := Parse(f, kind, home)
	if err != nil {
		return model.Mission{}, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse reads a waypoint list from r. The first line is a header and is
// discarded; blank lines are skipped. Any malformed command line fails the
// whole parse with an error wrapping model.ErrMalformedMission.
func Parse(r io.Reader, kind model.VehicleKind, home model.Home) (model.Mission, error) {
	var commands []model.Command

	scanner := bufio.NewScanner(r)
	lineno := 0
	for scanner.Scan() {
		lineno++
		if lineno == 1 {
			continue // header
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cmd, err := parseCommand(line)
		if err != nil {
			return model.Mission{}, fmt.Errorf("line %d: %v: %w", lineno, err, model.ErrMalformedMission)
		}
		commands = append(commands, cmd)
	}
	if err := scanner.Err(); err != nil {
		return model.Mission{}, fmt.Errorf("read mission file: %w", err)
	}

	return model.NewMission(kind, home, commands), nil
}

func parseCommand(line string) (model.Command, error) {
	fields := strings.Fields(line)
	if len(fields) < minFields {
		return model.Command{}, fmt.Errorf("expected at least %d fields, got %d", minFields, len(fields))
	}

	if _, err := strconv.Atoi(fields[0]); err != nil {
		return model.Command{}, fmt.Errorf("index %q: not an integer", fields[0])
	}
	if _, err := strconv.Atoi(fields[1]); err != nil {
		return model.Command{}, fmt.Errorf("current-waypoint flag %q: not an integer", fields[1])
	}
	frame, err := strconv.Atoi(fields[2])
	if err != nil {
		return model.Command{}, fmt.Errorf("frame %q: not an integer", fields[2])
	}
	id, err := strconv.Atoi(fields[3])
	if err != nil {
		return model.Command{}, fmt.Errorf("command id %q: not an integer", fields[3])
	}

	var params [7]float64
	for i := 0; i < 7; i++ {
		v, err := strconv.ParseFloat(fields[4+i], 64)
		if err != nil {
			return model.Command{}, fmt.Errorf("param %d %q: not a number", i+1, fields[4+i])
		}
		params[i] = v
	}

	return model.Command{
		Frame:  frame,
		ID:     id,
		Param1: params[0],
		Param2: params[1],
		Param3: params[2],
		Param4: params[3],
		X:      params[4],
		Y:      params[5],
		Z:      params[6],
	}, nil
}
