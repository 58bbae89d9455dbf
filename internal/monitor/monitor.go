// Package monitor drives one mission run on a vehicle link and judges the
// outcome against the statically built oracle. A Monitor owns exactly one
// run; construct a fresh one per mission execution.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/aerotest/missioncheck/internal/geo"
	"github.com/aerotest/missioncheck/internal/model"
	"github.com/aerotest/missioncheck/internal/oracle"
	"github.com/aerotest/missioncheck/internal/vehicle"
)

const (
	armablePollInterval = 200 * time.Millisecond
	armPollInterval     = 100 * time.Millisecond
	waitPollInterval    = 200 * time.Millisecond

	// startupGrace pads the rescaled time limit to absorb simulator
	// startup jitter.
	startupGrace = 10 * time.Second
)

// Status texts counting as one waypoint or command visited.
var visitPrefixes = []string{
	"Reached waypoint #",
	"Reached command #",
	"Skipping invalid cmd",
}

// Status texts marking the mission terminal. "Disarming motors" is terminal
// for Copter only.
var terminalPrefixes = []string{
	"Reached destination",
	"Mission Complete",
}

// Options controls a single Execute call.
type Options struct {
	// TimeLimit is the mission wall-clock budget before speedup rescaling.
	TimeLimit time.Duration
	// Speedup is the simulator speed-up factor; values above 1 rescale
	// TimeLimit to wall-clock time.
	Speedup int
	// HeartbeatTimeout is the maximum tolerated heartbeat age during the
	// wait loop.
	HeartbeatTimeout time.Duration
	// CheckWaypoints enables the visited-count check against the oracle.
	CheckWaypoints bool
	// WorkaroundEnabled applies the land-while-grounded truncation when
	// building the oracle.
	WorkaroundEnabled bool
}

// Outcome is the judged result of one Execute call.
type Outcome struct {
	Verdict        model.Verdict
	Visited        int
	Expected       int
	DistanceMeters float64
	Final          vehicle.Snapshot
}

// Monitor executes and judges one mission run.
type Monitor struct {
	mission model.Mission

	mu     sync.Mutex
	status model.RunStatus
	oracle *model.Oracle
}

func New(m model.Mission) *Monitor {
	return &Monitor{mission: m, status: model.RunStatusIdle}
}

// Status reports the run's current lifecycle state.
func (m *Monitor) Status() model.RunStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Oracle returns the oracle computed by Issue, if any.
func (m *Monitor) Oracle() (model.Oracle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.oracle == nil {
		return model.Oracle{}, false
	}
	return *m.oracle, true
}

func (m *Monitor) transition(to model.RunStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := model.ValidateRunTransition(m.status, to); err != nil {
		log.Warn().Err(err).Msg("run status transition out of order")
	}
	m.status = to
}

// Issue clears the link's onboard command list, uploads the mission's
// commands in order, blocks until the list is synchronized, and stores the
// oracle built from the link's reflected list. The reflected list, not the
// locally held one, is authoritative: the oracle must describe what the
// vehicle actually received.
func (m *Monitor) Issue(ctx context.Context, link vehicle.Link, workaroundEnabled bool) error {
	cs := link.Commands()

	log.Debug().Msg("clearing vehicle command list")
	cs.Clear()
	for _, cmd := range m.mission.Commands() {
		cs.Add(cmd)
	}
	log.Debug().Int("commands", m.mission.Len()).Msg("uploading mission to vehicle")
	if err := cs.Upload(ctx); err != nil {
		return fmt.Errorf("upload mission: %w", err)
	}

	reflected := cs.Items()
	o := oracle.Build(reflected, m.mission.Vehicle, m.mission.Home, workaroundEnabled)

	m.mu.Lock()
	m.oracle = &o
	m.mu.Unlock()

	log.Debug().
		Int("synced_commands", len(reflected)).
		Int("min_waypoints", o.MinWaypoints).
		Float64("end_lat", o.EndPosition.Lat).
		Float64("end_lon", o.EndPosition.Lon).
		Msg("mission issued")
	return nil
}

// Execute arms the vehicle, issues and starts the mission, then waits for a
// terminal event under a run-scoped deadline. Expected failure modes of the
// simulated system come back as failed verdicts; transport faults and
// cancellation of the caller's context come back as errors.
func (m *Monitor) Execute(ctx context.Context, link vehicle.Link, opts Options) (Outcome, error) {
	timeLimit := effectiveTimeLimit(opts.TimeLimit, opts.Speedup)
	if timeLimit != opts.TimeLimit {
		log.Info().Dur("time_limit", timeLimit).Int("speedup", opts.Speedup).
			Msg("rescaled mission time limit to wall clock")
	}

	// The run deadline is the only cancellation source for the run. It is
	// disarmed on every exit path.
	runCtx, cancel := context.WithTimeout(ctx, timeLimit)
	defer cancel()

	rec := &runState{}

	fail := func(reason model.FailReason) (Outcome, error) {
		if reason == model.ReasonTimeout {
			m.transition(model.RunStatusTimedOut)
		} else {
			m.transition(model.RunStatusFailed)
		}
		out := m.outcome(link, rec)
		out.Verdict = model.Fail(reason)
		return out, nil
	}
	// Expiry of the run deadline is an expected outcome, not an error.
	// Cancellation of the caller's context and transport faults propagate.
	stepErr := func(err error) (Outcome, error) {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fail(model.ReasonTimeout)
		}
		m.transition(model.RunStatusFailed)
		return Outcome{}, err
	}

	m.transition(model.RunStatusIssuing)

	log.Debug().Msg("waiting for vehicle to become armable")
	if err := m.waitArmable(runCtx, link); err != nil {
		return stepErr(err)
	}
	log.Debug().Msg("vehicle is armable, requesting arm")
	if err := m.waitArmed(runCtx, link); err != nil {
		return stepErr(err)
	}
	log.Debug().Msg("vehicle is armed")

	if err := m.Issue(runCtx, link, opts.WorkaroundEnabled); err != nil {
		return stepErr(err)
	}
	m.transition(model.RunStatusArmed)

	log.Debug().Msg("switching vehicle mode to AUTO")
	if err := link.SetMode(runCtx, "AUTO"); err != nil {
		return stepErr(fmt.Errorf("set mode: %w", err))
	}
	if err := link.SendMissionStart(runCtx, m.mission.Len()); err != nil {
		return stepErr(fmt.Errorf("send mission start: %w", err))
	}
	log.Debug().Msg("sent mission start")

	rec.init(link.Snapshot().Position)
	isCopter := m.mission.Vehicle == model.VehicleCopter
	unsubscribe := link.SubscribeStatusText(func(text string) {
		m.onStatusText(rec, link, text, isCopter)
	})
	defer unsubscribe()

	m.transition(model.RunStatusRunning)
	log.Info().
		Dur("heartbeat_timeout", opts.HeartbeatTimeout).
		Msg("monitoring mission")

	limiter := rate.NewLimiter(rate.Every(waitPollInterval), 1)
	for {
		_, complete, _ := rec.view()
		if complete {
			break
		}
		if age := link.HeartbeatAge(); age > opts.HeartbeatTimeout {
			log.Warn().Dur("heartbeat_age", age).Msg("vehicle became unresponsive")
			return fail(model.ReasonUnresponsiveVehicle)
		}
		if err := pace(runCtx, limiter); err != nil {
			return stepErr(err)
		}
	}

	visited, _, _ := rec.view()
	o, _ := m.Oracle()
	log.Info().
		Int("visited", visited).
		Int("expected_min", o.MinWaypoints).
		Bool("check_waypoints", opts.CheckWaypoints).
		Msg("mission complete")

	if opts.CheckWaypoints && visited < o.MinWaypoints {
		return fail(model.ReasonInsufficientWaypoints)
	}

	out := m.outcome(link, rec)
	log.Info().Float64("distance_m", out.DistanceMeters).Msg("distance to expected end position")
	if out.DistanceMeters > o.ToleranceMeters {
		return fail(model.ReasonTerminalPositionFar)
	}

	m.transition(model.RunStatusCompleted)
	out.Verdict = model.Pass()
	return out, nil
}

func (m *Monitor) waitArmable(ctx context.Context, link vehicle.Link) error {
	limiter := rate.NewLimiter(rate.Every(armablePollInterval), 1)
	for !link.Snapshot().IsArmable {
		if err := pace(ctx, limiter); err != nil {
			return err
		}
	}
	return nil
}

// waitArmed re-requests arming every poll round until the vehicle confirms.
func (m *Monitor) waitArmed(ctx context.Context, link vehicle.Link) error {
	if err := link.Arm(ctx); err != nil {
		return fmt.Errorf("arm: %w", err)
	}
	limiter := rate.NewLimiter(rate.Every(armPollInterval), 1)
	for !link.Snapshot().Armed {
		if err := pace(ctx, limiter); err != nil {
			return err
		}
		if err := link.Arm(ctx); err != nil {
			return fmt.Errorf("arm: %w", err)
		}
	}
	return nil
}

// effectiveTimeLimit rescales the mission budget to wall clock when the
// simulator runs faster than real time. The division truncates on whole
// seconds; startupGrace absorbs simulator startup jitter.
func effectiveTimeLimit(limit time.Duration, speedup int) time.Duration {
	if speedup <= 1 {
		return limit
	}
	secs := int(limit/time.Second)/speedup + int(startupGrace/time.Second)
	return time.Duration(secs) * time.Second
}

// pace blocks until the limiter grants the next poll tick. The limiter
// reports a wait that cannot finish before the context deadline with its own
// error value; normalize that to context.DeadlineExceeded so callers see one
// deadline signal.
func pace(ctx context.Context, limiter *rate.Limiter) error {
	if err := limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return context.DeadlineExceeded
	}
	return nil
}

func (m *Monitor) onStatusText(rec *runState, link vehicle.Link, text string, isCopter bool) {
	for _, p := range visitPrefixes {
		if strings.HasPrefix(text, p) {
			rec.noteVisit()
			break
		}
	}

	terminal := false
	for _, p := range terminalPrefixes {
		if strings.HasPrefix(text, p) {
			terminal = true
			break
		}
	}
	if !terminal && isCopter && strings.HasPrefix(text, "Disarming motors") {
		terminal = true
	}
	if terminal {
		rec.noteTerminal(link.Snapshot().Position)
	}
}

func (m *Monitor) outcome(link vehicle.Link, rec *runState) Outcome {
	visited, _, last := rec.view()
	out := Outcome{
		Visited: visited,
		Final:   link.Snapshot(),
	}
	m.mu.Lock()
	o := m.oracle
	m.mu.Unlock()
	if o != nil {
		out.Expected = o.MinWaypoints
		out.DistanceMeters = geo.Distance(o.EndPosition, last)
	}
	return out
}
