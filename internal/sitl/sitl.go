// Package sitl launches and stops the software-in-the-loop simulator that
// stands in for a physical vehicle. The simulator is an external process
// tree (sim_vehicle harness, firmware binary, telemetry proxy) owned as a
// single process group.
package sitl

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/aerotest/missioncheck/internal/model"
	"github.com/aerotest/missioncheck/internal/scenario"
)

const (
	// TelemetryAddr is the fixed local endpoint the simulator's telemetry
	// stream is reachable at.
	TelemetryAddr = "127.0.0.1:14550"

	// attackMasterAddr is the telemetry output reserved for an attack
	// process, so the attacker never contends with the monitor's link.
	attackMasterAddr = "127.0.0.1:14551"
)

// Spare telemetry outputs for ad-hoc observers, kept off the ports above.
const mavproxyArgs = "--mavproxy-args '--daemon --out 127.0.0.1:14552 --out 127.0.0.1:14553'"

// Simulator launches one simulated vehicle from an ArduPilot source tree.
type Simulator struct {
	harnessPath string
	binaryPath  string
	kind        model.VehicleKind
	home        model.Home

	mu  sync.Mutex
	cmd *exec.Cmd
}

// New builds a simulator rooted at an ArduPilot source tree. The firmware
// binary is expected at build/sitl/bin/<vehicle binary> and the launch
// harness at Tools/autotest/sim_vehicle.py.
func New(sourceDir string, kind model.VehicleKind, home model.Home) *Simulator {
	return &Simulator{
		harnessPath: filepath.Join(sourceDir, "Tools", "autotest", "sim_vehicle.py"),
		binaryPath:  filepath.Join(sourceDir, "build", "sitl", "bin", kind.BinaryName()),
		kind:        kind,
		home:        home,
	}
}

// FromScenario builds the simulator a scenario calls for, rooted at the
// scenario's source tree.
func FromScenario(sc *scenario.Scenario) *Simulator {
	return New(sc.SourceDir, sc.Kind, sc.Home)
}

// Addr returns the telemetry endpoint for the vehicle link.
func (s *Simulator) Addr() string {
	return TelemetryAddr
}

// AttackMasterAddr returns the telemetry endpoint an attack process should
// attach to.
func (s *Simulator) AttackMasterAddr() string {
	return attackMasterAddr
}

// BinaryPath returns the firmware binary the simulator will run.
func (s *Simulator) BinaryPath() string {
	return s.binaryPath
}

// CommandLine renders the shell command that launches the simulator.
// prefix, when non-empty, is prepended verbatim (for wrapping the harness in
// a diagnostic tool).
func (s *Simulator) CommandLine(prefix string, speedup int) string {
	parts := []string{
		s.harnessPath,
		mavproxyArgs,
		"-l", fmt.Sprintf("%v,%v,%v,%v", s.home.Lat, s.home.Lon, s.home.Alt, s.home.Heading),
		"-v", s.kind.String(),
		"-w",
		fmt.Sprintf("--speedup=%d", speedup),
		"--no-rebuild",
	}
	if prefix != "" {
		parts = append([]string{prefix}, parts...)
	}
	return strings.Join(parts, " ")
}

// Start launches the simulator as a new process group with its standard
// streams on the null device, so it can never take over a controlling
// terminal. Missing binaries are a startup failure.
func (s *Simulator) Start(prefix string, speedup int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil {
		return errors.New("simulator already running")
	}
	if _, err := os.Stat(s.binaryPath); err != nil {
		return fmt.Errorf("simulator binary: %w", err)
	}
	if _, err := os.Stat(s.harnessPath); err != nil {
		return fmt.Errorf("simulator harness: %w", err)
	}

	commandLine := s.CommandLine(prefix, speedup)
	cmd := exec.Command("/bin/sh", "-c", commandLine)
	// nil std streams attach the null device
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch simulator: %w", err)
	}
	s.cmd = cmd
	go cmd.Wait() // reap on exit

	log.Info().
		Str("vehicle", s.kind.String()).
		Int("speedup", speedup).
		Str("command", commandLine).
		Msg("launched simulator")
	return nil
}

// Running reports whether Start succeeded and Stop has not yet run.
func (s *Simulator) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmd != nil
}

// Stop terminates the whole simulator process group and forgets the handle.
// Safe to call repeatedly and when Start never ran.
func (s *Simulator) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil {
		return
	}
	// negative pid addresses the process group
	if err := syscall.Kill(-s.cmd.Process.Pid, syscall.SIGTERM); err != nil {
		log.Debug().Err(err).Msg("simulator process group already gone")
	}
	s.cmd = nil
	log.Debug().Msg("stopped simulator")
}
