package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/aerotest/missioncheck/internal/config"
	"github.com/aerotest/missioncheck/internal/harness"
	"github.com/aerotest/missioncheck/internal/history"
	"github.com/aerotest/missioncheck/internal/logging"
	"github.com/aerotest/missioncheck/internal/metrics"
	"github.com/aerotest/missioncheck/internal/report"
	"github.com/aerotest/missioncheck/internal/scenario"
	"github.com/aerotest/missioncheck/internal/setup"
	"github.com/aerotest/missioncheck/internal/watch"
)

const version = "1.1.0"

// Exit codes: 0 verdict passed (or nothing to object to), 1 verdict
// failed or usage error, 2 the harness itself could not run.
func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init":
		runInit(os.Args[2:])
	case "run":
		runRun(os.Args[2:])
	case "check":
		runCheck(os.Args[2:])
	case "watch":
		runWatch(os.Args[2:])
	case "history":
		runHistory(os.Args[2:])
	case "version":
		fmt.Printf("missioncheck %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runInit(args []string) {
	dir := "."
	if len(args) > 1 {
		fmt.Fprintln(os.Stderr, "usage: missioncheck init [dir]")
		os.Exit(1)
	}
	if len(args) == 1 {
		if strings.HasPrefix(args[0], "-") {
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: missioncheck init [dir]\n", args[0])
			os.Exit(1)
		}
		dir = args[0]
	}

	if err := setup.Run(dir); err != nil {
		fmt.Fprintf(os.Stderr, "init: %v\n", err)
		os.Exit(2)
	}
	absDir, _ := filepath.Abs(dir)
	fmt.Printf("initialized %s\n", absDir)
}

// runFlags holds the flags shared by run and check.
type runFlags struct {
	configPath   string
	scenarioPath string
	prefix       string
	speedup      int
	timeoutSec   int
	livenessSec  int
	attack       bool
	checkWps     bool
	noWorkaround bool
	jsonOut      bool
}

func parseRunFlags(command string, args []string, allowAttack bool) runFlags {
	usage := fmt.Sprintf("usage: missioncheck %s <scenario.cfg> [options]", command)
	var f runFlags

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--attack":
			if !allowAttack {
				fmt.Fprintf(os.Stderr, "unknown flag: --attack\n%s\n", usage)
				os.Exit(1)
			}
			f.attack = true
		case "--check-wps":
			f.checkWps = true
		case "--no-workaround":
			f.noWorkaround = true
		case "--json":
			f.jsonOut = true
		case "--speedup":
			f.speedup = intFlagValue(args, &i, usage)
		case "--timeout":
			f.timeoutSec = intFlagValue(args, &i, usage)
		case "--liveness":
			f.livenessSec = intFlagValue(args, &i, usage)
		case "--prefix":
			f.prefix = flagValue(args, &i, usage)
		case "--config":
			f.configPath = flagValue(args, &i, usage)
		default:
			if strings.HasPrefix(args[i], "-") {
				fmt.Fprintf(os.Stderr, "unknown flag: %s\n%s\n", args[i], usage)
				os.Exit(1)
			}
			if f.scenarioPath != "" {
				fmt.Fprintf(os.Stderr, "unexpected argument: %s\n%s\n", args[i], usage)
				os.Exit(1)
			}
			f.scenarioPath = args[i]
		}
	}

	if f.scenarioPath == "" {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}
	return f
}

func flagValue(args []string, i *int, usage string) string {
	if *i+1 >= len(args) {
		fmt.Fprintf(os.Stderr, "%s requires a value\n%s\n", args[*i], usage)
		os.Exit(1)
	}
	*i++
	return args[*i]
}

func intFlagValue(args []string, i *int, usage string) int {
	flag := args[*i]
	raw := flagValue(args, i, usage)
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		fmt.Fprintf(os.Stderr, "invalid %s value: %s\n", flag, raw)
		os.Exit(1)
	}
	return n
}

func (f runFlags) apply(opts *harness.Options) {
	opts.Attack = f.attack
	if f.speedup > 0 {
		opts.Speedup = f.speedup
	}
	if f.timeoutSec > 0 {
		opts.MissionTimeout = time.Duration(f.timeoutSec) * time.Second
	}
	if f.livenessSec > 0 {
		opts.LivenessTimeout = time.Duration(f.livenessSec) * time.Second
	}
	if f.checkWps {
		opts.CheckWaypoints = true
	}
	if f.noWorkaround {
		opts.Workaround = false
	}
	if f.prefix != "" {
		opts.Prefix = f.prefix
	}
}

func runRun(args []string) {
	f := parseRunFlags("run", args, true)
	bootstrap(f.configPath)

	sc, err := scenario.Load(f.scenarioPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run: %v\n", err)
		os.Exit(2)
	}

	opts := harness.OptionsFromConfig()
	f.apply(&opts)

	runner, cleanup := buildRunner()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := runner.Run(ctx, sc, opts)
	cleanup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "run: %v\n", err)
		os.Exit(2)
	}

	if f.jsonOut {
		printJSON(report.FromResult(res))
	} else {
		fmt.Println(describe(res))
	}
	if !res.Passed() {
		os.Exit(1)
	}
}

func runCheck(args []string) {
	f := parseRunFlags("check", args, false)
	bootstrap(f.configPath)

	sc, err := scenario.Load(f.scenarioPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "check: %v\n", err)
		os.Exit(2)
	}

	opts := harness.OptionsFromConfig()
	f.apply(&opts)

	runner, cleanup := buildRunner()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	chk, err := runner.RunCheck(ctx, sc, opts)
	cleanup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "check: %v\n", err)
		os.Exit(2)
	}

	if f.jsonOut {
		printJSON(struct {
			Benign         report.Artifact `json:"benign"`
			Attacked       report.Artifact `json:"attacked"`
			DefectDetected bool            `json:"defect_detected"`
		}{report.FromResult(chk.Benign), report.FromResult(chk.Attacked), chk.DefectDetected()})
	} else {
		fmt.Printf("benign:   %s\n", describe(chk.Benign))
		fmt.Printf("attacked: %s\n", describe(chk.Attacked))
		if chk.DefectDetected() {
			fmt.Println("defect detected: the attack broke an otherwise passing mission")
		} else {
			fmt.Println("no defect detected")
		}
	}
	if chk.DefectDetected() {
		os.Exit(1)
	}
}

func runWatch(args []string) {
	var configPath, queueDir, resultsDir string
	noAttack, notifyFlag := false, false

	usage := "usage: missioncheck watch [--queue <dir>] [--results <dir>] [--no-attack] [--notify] [--config <path>]"
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--no-attack":
			noAttack = true
		case "--notify":
			notifyFlag = true
		case "--queue":
			queueDir = flagValue(args, &i, usage)
		case "--results":
			resultsDir = flagValue(args, &i, usage)
		case "--config":
			configPath = flagValue(args, &i, usage)
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n%s\n", args[i], usage)
			os.Exit(1)
		}
	}

	bootstrap(configPath)
	if queueDir != "" {
		viper.Set("watch.queueDir", queueDir)
	}
	if resultsDir != "" {
		viper.Set("results.dir", resultsDir)
	}

	cfg := watch.ConfigFromViper()
	if noAttack {
		cfg.Attack = false
	}
	if notifyFlag {
		cfg.Notify = true
	}

	runner, cleanup := buildRunner()
	daemon := watch.New(cfg, runner.Run)
	err := daemon.Run()
	cleanup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "watch: %v\n", err)
		os.Exit(2)
	}
}

func runHistory(args []string) {
	var configPath string
	limit := 20
	jsonOut := false

	usage := "usage: missioncheck history [--limit <n>] [--json] [--config <path>]"
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--limit":
			limit = intFlagValue(args, &i, usage)
		case "--json":
			jsonOut = true
		case "--config":
			configPath = flagValue(args, &i, usage)
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n%s\n", args[i], usage)
			os.Exit(1)
		}
	}

	bootstrap(configPath)

	store, err := history.Open(history.ConfigFromViper())
	if err != nil {
		fmt.Fprintf(os.Stderr, "history: %v\n", err)
		os.Exit(2)
	}
	runs, err := store.Recent(limit)
	store.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "history: %v\n", err)
		os.Exit(2)
	}

	if jsonOut {
		printJSON(runs)
		return
	}

	if len(runs) == 0 {
		fmt.Println("no recorded runs")
		return
	}
	fmt.Printf("%-20s  %-24s  %-10s  %-8s  %-7s  %s\n",
		"WHEN", "SCENARIO", "VEHICLE", "ATTACKED", "VERDICT", "DETAIL")
	for _, r := range runs {
		verdict := "pass"
		detail := fmt.Sprintf("wps %d/%d", r.VisitedWaypoints, r.ExpectedWaypoints)
		if !r.Passed {
			verdict = "fail"
			detail = r.Reason
		}
		fmt.Printf("%-20s  %-24s  %-10s  %-8v  %-7s  %s\n",
			r.CreatedAt.Format("2006-01-02 15:04:05"),
			r.Scenario, r.Vehicle, r.Attacked, verdict, detail)
	}
}

// bootstrap loads the config file and wires logging. Everything after it
// may assume both are in place.
func bootstrap(configPath string) {
	if err := config.Setup(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(2)
	}
	if err := logging.Setup(viper.GetString("logLevel"), viper.GetString("logFile")); err != nil {
		fmt.Fprintf(os.Stderr, "init logging: %v\n", err)
		os.Exit(2)
	}
}

// buildRunner assembles the runner with every configured result sink.
// Sinks degrade soft: a dead database must not block a verification run.
func buildRunner() (*harness.Runner, func()) {
	var closers []func()

	runner := harness.NewRunner()

	store, err := history.Open(history.ConfigFromViper())
	if err != nil {
		log.Warn().Err(err).Msg("history store unavailable, runs will not be recorded")
	} else {
		runner.Recorders = append(runner.Recorders, store)
		closers = append(closers, func() { store.Close() })
	}

	if sink := metrics.FromConfig(); sink != nil {
		runner.Recorders = append(runner.Recorders, sink)
		closers = append(closers, sink.Close)
	}

	writer, err := report.NewWriter(viper.GetString("results.dir"))
	if err != nil {
		log.Warn().Err(err).Msg("results dir unavailable, run reports disabled")
	} else {
		runner.Recorders = append(runner.Recorders, writer)
	}

	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}
	return runner, cleanup
}

func describe(res harness.Result) string {
	out := res.Outcome
	if res.Passed() {
		return fmt.Sprintf("%s: PASS (waypoints %d/%d, distance %.1fm, %.1fs)",
			res.Scenario, out.Visited, out.Expected, out.DistanceMeters, res.Duration.Seconds())
	}
	return fmt.Sprintf("%s: FAIL %s (waypoints %d/%d, distance %.1fm, %.1fs)",
		res.Scenario, out.Verdict.Reason, out.Visited, out.Expected, out.DistanceMeters, res.Duration.Seconds())
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode json: %v\n", err)
		os.Exit(2)
	}
	fmt.Println(string(out))
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `missioncheck %s - ArduPilot mission verification harness

Usage: missioncheck <command> [options]

Verification:
  run <scenario.cfg>     Execute one scenario against a simulated vehicle
  check <scenario.cfg>   Run benign then attacked, report whether the
                         attack broke an otherwise passing mission
  watch                  Drain scenario files dropped into the queue dir
                         (--queue/--results override the configured dirs)

Run/check flags:
  --attack               launch the scenario's attack process (run only)
  --speedup <n>          simulation speed multiplier
  --timeout <secs>       mission wall-clock budget
  --liveness <secs>      heartbeat staleness tolerance
  --check-wps            require every expected waypoint to be visited
  --no-workaround        disable land-after-disarm handling
  --prefix <cmd>         wrap the simulator launch, e.g. "xterm -e"
  --json                 machine-readable result on stdout

Project:
  init [dir]             Scaffold a project directory
  history [--limit <n>]  List recorded runs
  version                Show version
  help                   Show this help

Most settings come from missioncheck.yaml (see init); --config <path>
points at an alternate file.

`, version)
}
