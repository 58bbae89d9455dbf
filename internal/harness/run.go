// Package harness wires the full verification stack for one scenario run:
// simulator process, telemetry link, optional attack process, and the
// mission monitor. Teardown happens in a fixed order on every exit path so
// one run can never leak processes or ports into the next.
package harness

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/aerotest/missioncheck/internal/attack"
	"github.com/aerotest/missioncheck/internal/config"
	"github.com/aerotest/missioncheck/internal/mavlink"
	"github.com/aerotest/missioncheck/internal/model"
	"github.com/aerotest/missioncheck/internal/monitor"
	"github.com/aerotest/missioncheck/internal/scenario"
	"github.com/aerotest/missioncheck/internal/sitl"
	"github.com/aerotest/missioncheck/internal/vehicle"
)

// Simulator is the slice of the simulator lifecycle the runner drives.
type Simulator interface {
	Start(prefix string, speedup int) error
	Addr() string
	AttackMasterAddr() string
	Stop()
}

// Attacker is the slice of the attack-controller lifecycle the runner
// drives.
type Attacker interface {
	Prepare(ctx context.Context) error
	Start() error
	WasSuccessful() (bool, error)
	Stop()
}

// Recorder consumes finished run results. Sink failures are logged and
// never affect the run's verdict.
type Recorder interface {
	Record(res Result) error
}

// Options parameterize one run.
type Options struct {
	// Attack launches the scenario's attack process when one is configured.
	Attack bool

	Speedup int
	// Prefix wraps the simulator command, e.g. in a diagnostic tool.
	Prefix string

	MissionTimeout  time.Duration
	LivenessTimeout time.Duration
	ConnectTimeout  time.Duration

	CheckWaypoints bool
	Workaround     bool

	AttackPort          int
	AttackReportTimeout int
	AttackSettle        time.Duration
}

// OptionsFromConfig fills Options from the workspace configuration. The
// CLI overlays its flags on top of these.
func OptionsFromConfig() Options {
	return Options{
		Speedup:             viper.GetInt("run.speedup"),
		Prefix:              viper.GetString("run.prefix"),
		MissionTimeout:      config.MissionTimeout(),
		LivenessTimeout:     config.LivenessTimeout(),
		ConnectTimeout:      config.ConnectTimeout(),
		CheckWaypoints:      viper.GetBool("run.checkWaypoints"),
		Workaround:          viper.GetBool("run.workaround"),
		AttackPort:          viper.GetInt("attack.port"),
		AttackReportTimeout: viper.GetInt("attack.reportTimeout"),
		AttackSettle:        config.AttackSettleDelay(),
	}
}

// Result is the outcome of a single scenario run.
type Result struct {
	RunUID   uuid.UUID
	Scenario string
	Vehicle  model.VehicleKind
	Attacked bool

	Outcome monitor.Outcome

	// AttackerReportedSuccess is the attack process's own claim, collected
	// over the control port. Only meaningful when Attacked is set.
	AttackerReportedSuccess bool

	StartedAt time.Time
	Duration  time.Duration
}

func (r Result) Passed() bool {
	return r.Outcome.Verdict.Passed
}

// Runner executes scenarios against freshly launched simulator instances.
// The factory fields let tests substitute scripted components; NewRunner
// wires the real stack.
type Runner struct {
	Simulator func(sc *scenario.Scenario) Simulator
	Dial      func(ctx context.Context, addr string, kind model.VehicleKind) (vehicle.Link, error)
	Attacker  func(spec model.AttackSpec, cfg attack.Config) Attacker

	Recorders []Recorder
}

func NewRunner() *Runner {
	return &Runner{
		Simulator: func(sc *scenario.Scenario) Simulator {
			return sitl.FromScenario(sc)
		},
		Dial: func(ctx context.Context, addr string, kind model.VehicleKind) (vehicle.Link, error) {
			return mavlink.Dial(ctx, addr, kind)
		},
		Attacker: func(spec model.AttackSpec, cfg attack.Config) Attacker {
			return attack.New(spec, cfg)
		},
	}
}

// Run executes one scenario and returns exactly one Result. Failures to
// bring the stack up (simulator, attack preparation, link dial) are
// errors; once the mission monitor takes over, problems become verdicts.
func (r *Runner) Run(ctx context.Context, sc *scenario.Scenario, opts Options) (Result, error) {
	res := Result{
		RunUID:    uuid.New(),
		Scenario:  sc.Name,
		Vehicle:   sc.Kind,
		Attacked:  opts.Attack && sc.Attacked(),
		StartedAt: time.Now().UTC(),
	}
	log.Info().
		Str("run", res.RunUID.String()).
		Str("scenario", sc.Name).
		Str("vehicle", sc.Kind.String()).
		Bool("attacked", res.Attacked).
		Msg("run starting")

	sim := r.Simulator(sc)
	var (
		attacker Attacker
		link     vehicle.Link
	)
	defer func() {
		if attacker != nil {
			attacker.Stop()
		}
		if link != nil {
			_ = link.Close()
		}
		sim.Stop()
	}()

	if err := sim.Start(opts.Prefix, opts.Speedup); err != nil {
		return res, fmt.Errorf("start simulator: %w", err)
	}

	if res.Attacked {
		attacker = r.Attacker(sc.Attack, attack.Config{
			VehicleURL:    sim.AttackMasterAddr(),
			Port:          opts.AttackPort,
			ReportTimeout: opts.AttackReportTimeout,
			SettleDelay:   opts.AttackSettle,
		})
		if err := attacker.Prepare(ctx); err != nil {
			return res, fmt.Errorf("prepare attack: %w", err)
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	l, err := r.Dial(dialCtx, sim.Addr(), sc.Kind)
	cancel()
	if err != nil {
		return res, fmt.Errorf("connect vehicle: %w", err)
	}
	link = l

	if attacker != nil {
		if err := attacker.Start(); err != nil {
			return res, fmt.Errorf("start attack: %w", err)
		}
	}

	mon := monitor.New(sc.Mission)
	outcome, err := mon.Execute(ctx, link, monitor.Options{
		TimeLimit:         opts.MissionTimeout,
		Speedup:           opts.Speedup,
		HeartbeatTimeout:  opts.LivenessTimeout,
		CheckWaypoints:    opts.CheckWaypoints,
		WorkaroundEnabled: opts.Workaround,
	})
	if err != nil {
		return res, fmt.Errorf("execute mission: %w", err)
	}
	res.Outcome = outcome

	if attacker != nil {
		ok, err := attacker.WasSuccessful()
		if err != nil {
			log.Warn().Err(err).Str("run", res.RunUID.String()).Msg("attack report unavailable")
		} else {
			res.AttackerReportedSuccess = ok
		}
	}

	res.Duration = time.Since(res.StartedAt)
	log.Info().
		Str("run", res.RunUID.String()).
		Str("verdict", outcome.Verdict.String()).
		Int("visited", outcome.Visited).
		Int("expected", outcome.Expected).
		Float64("distance_m", outcome.DistanceMeters).
		Dur("took", res.Duration).
		Msg("run finished")

	r.record(res)
	return res, nil
}

func (r *Runner) record(res Result) {
	for _, rec := range r.Recorders {
		if err := rec.Record(res); err != nil {
			log.Warn().Err(err).Str("run", res.RunUID.String()).Msg("result sink failed")
		}
	}
}

// CheckResult pairs the two runs of a defect check.
type CheckResult struct {
	Benign   Result
	Attacked Result
}

// DefectDetected reports whether the pair split as a sound harness must:
// the benign run passing and the attacked run failing.
func (c CheckResult) DefectDetected() bool {
	return c.Benign.Passed() && !c.Attacked.Passed()
}

// RunCheck runs the scenario twice, first without and then with its attack
// process, and reports both outcomes.
func (r *Runner) RunCheck(ctx context.Context, sc *scenario.Scenario, opts Options) (CheckResult, error) {
	if !sc.Attacked() {
		return CheckResult{}, fmt.Errorf("scenario %s configures no attack", sc.Name)
	}

	var cr CheckResult

	benign := opts
	benign.Attack = false
	res, err := r.Run(ctx, sc, benign)
	if err != nil {
		return cr, fmt.Errorf("benign run: %w", err)
	}
	cr.Benign = res

	attacked := opts
	attacked.Attack = true
	res, err = r.Run(ctx, sc, attacked)
	if err != nil {
		return cr, fmt.Errorf("attacked run: %w", err)
	}
	cr.Attacked = res

	return cr, nil
}
