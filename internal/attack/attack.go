// Package attack launches an adversarial process against a running
// simulation and drives it over a four-message control protocol: START,
// CHECK (one reply line), EXIT, each newline-terminated on a persistent TCP
// connection to the process's listen port.
package attack

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aerotest/missioncheck/internal/model"
)

const defaultSettleDelay = 2 * time.Second

// Config fixes where the attack process attaches and listens.
type Config struct {
	// VehicleURL is the telemetry endpoint handed to the attack process as
	// its MAVLink master.
	VehicleURL string
	// Port is the local TCP port the attack process serves its control
	// protocol on.
	Port int
	// ReportTimeout is forwarded verbatim as --report-timeout. Its effect
	// is owned by the attack script; 0 is the established value here.
	ReportTimeout int
	// SettleDelay is how long to wait after launch before connecting to
	// the control port. Zero means the 2 s default.
	SettleDelay time.Duration
}

// Controller owns one attack process and its control connection.
type Controller struct {
	spec model.AttackSpec
	cfg  Config

	mu      sync.Mutex
	logFile *os.File
	mavFile *os.File
	cmd     *exec.Cmd
	conn    net.Conn
	reader  *bufio.Reader
}

func New(spec model.AttackSpec, cfg Config) *Controller {
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	return &Controller{spec: spec, cfg: cfg}
}

// CommandLine renders the shell command launching the attack process: the
// script, the connection target, the scratch file paths, any scenario-
// provided flag tokens, then the target latitude, longitude, and radius.
func (c *Controller) CommandLine(logPath, mavPath string) string {
	parts := []string{
		c.spec.Script,
		"--master=udp:" + c.cfg.VehicleURL,
		"--baudrate=115200",
		fmt.Sprintf("--port=%d", c.cfg.Port),
		fmt.Sprintf("--report-timeout=%d", c.cfg.ReportTimeout),
		"--logfile=" + logPath,
		"--mavlog=" + mavPath,
	}
	parts = append(parts, c.spec.FlagTokens()...)
	parts = append(parts, fmt.Sprintf("%v", c.spec.Latitude), fmt.Sprintf("%v", c.spec.Longitude), fmt.Sprintf("%v", c.spec.Radius))
	return strings.Join(parts, " ")
}

// Prepare creates the scratch output files, launches the attack process as
// a new process group, waits out the settle delay, and connects to its
// control port. A refused connection is fatal to the run: the attack cannot
// be skipped mid-scenario. On failure the caller must still Stop() to
// release whatever was acquired.
func (c *Controller) Prepare(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	logFile, err := os.CreateTemp("", "attack-log-*")
	if err != nil {
		return fmt.Errorf("attack scratch file: %w", err)
	}
	c.logFile = logFile
	mavFile, err := os.CreateTemp("", "attack-mav-*")
	if err != nil {
		return fmt.Errorf("attack scratch file: %w", err)
	}
	c.mavFile = mavFile

	commandLine := c.CommandLine(logFile.Name(), mavFile.Name())
	cmd := exec.Command("/bin/sh", "-c", commandLine)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch attack process: %w", err)
	}
	c.cmd = cmd
	go cmd.Wait() // reap on exit
	log.Info().Str("command", commandLine).Msg("launched attack process")

	// Give the process time to bind its control port.
	select {
	case <-time.After(c.cfg.SettleDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("127.0.0.1:%d", c.cfg.Port))
	if err != nil {
		return fmt.Errorf("connect attack control port %d: %v: %w", c.cfg.Port, err, model.ErrAttackProtocol)
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	log.Debug().Int("port", c.cfg.Port).Msg("attack control connection established")
	return nil
}

// Start tells the attack process to begin.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return errors.New("attack control connection not established")
	}
	if _, err := io.WriteString(c.conn, "START\n"); err != nil {
		return fmt.Errorf("start attack: %w", err)
	}
	log.Info().Msg("attack started")
	return nil
}

// WasSuccessful asks the attack process for its verdict. The reply counts
// as success unless it contains the token NO.
func (c *Controller) WasSuccessful() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return false, errors.New("attack control connection not established")
	}
	if _, err := io.WriteString(c.conn, "CHECK\n"); err != nil {
		return false, fmt.Errorf("query attack result: %w", err)
	}
	reply, err := c.reader.ReadString('\n')
	if err != nil && reply == "" {
		return false, fmt.Errorf("read attack result: %w", err)
	}
	reply = strings.TrimSpace(reply)
	log.Debug().Str("reply", reply).Msg("attack result")
	return !strings.Contains(reply, "NO"), nil
}

// Stop releases everything the controller acquired: the control connection
// (with a best-effort EXIT), the process group, and the scratch files. Every
// step is guarded, so Stop is safe after a partial Prepare and safe to call
// repeatedly.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		_, _ = io.WriteString(c.conn, "EXIT\n")
		_ = c.conn.Close()
		c.conn = nil
		c.reader = nil
	}

	if c.cmd != nil {
		if err := syscall.Kill(-c.cmd.Process.Pid, syscall.SIGKILL); err != nil {
			log.Debug().Err(err).Msg("attack process group already gone")
		}
		c.cmd = nil
	}

	if c.logFile != nil {
		_ = c.logFile.Close()
		_ = os.Remove(c.logFile.Name())
		c.logFile = nil
	}
	if c.mavFile != nil {
		_ = c.mavFile.Close()
		_ = os.Remove(c.mavFile.Name())
		c.mavFile = nil
	}
}
