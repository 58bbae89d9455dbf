package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/aerotest/missioncheck/internal/config"
	"github.com/aerotest/missioncheck/internal/harness"
	"github.com/aerotest/missioncheck/internal/model"
	"github.com/aerotest/missioncheck/internal/monitor"
	"github.com/aerotest/missioncheck/internal/scenario"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

// chdir stands in for testing.T.Chdir, which needs a Go 1.24 toolchain:
// it enters dir for the duration of the test and restores the previous
// working directory at cleanup.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			panic("chdir cleanup: " + err.Error())
		}
	})
}

const missionFixture = `QGC WPL 110
0	1	0	16	0	0	0	0	-35.363261	149.165230	584.000000	1
1	0	3	16	0.000000	0.000000	0.000000	0.000000	-35.361354	149.163491	20.000000	1
`

func testConfig(t *testing.T) Config {
	t.Helper()
	root := t.TempDir()
	cfg := Config{
		QueueDir:      filepath.Join(root, "queue"),
		DoneDir:       filepath.Join(root, "done"),
		QuarantineDir: filepath.Join(root, "quarantine"),
		Attack:        true,
		RescanEvery:   50 * time.Millisecond,
		DrainTimeout:  2 * time.Second,
		RunOptions: harness.Options{
			Speedup:        1,
			MissionTimeout: 30 * time.Second,
		},
	}
	// fixtures referenced by queued scenarios resolve against the queue dir
	require.NoError(t, os.MkdirAll(cfg.QueueDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.QueueDir, "mission.txt"), []byte(missionFixture), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.QueueDir, "spoof.py"), []byte("#!/usr/bin/env python\n"), 0o755))
	return cfg
}

func scenarioBody(name string, attacked bool) string {
	body := fmt.Sprintf(`[General]
name = %s
vehicle = APMrover2

[Mission]
latitude = 35.363261
longitude = 149.165230
altitude = 584.0
heading = 353.0
mission = mission.txt
`, name)
	if attacked {
		body += `
[Attack]
attack = spoof.py
script_flags =
longitude = 149.16
latitude = 35.36
radius = 40.0
`
	}
	return body
}

// enqueue writes the file outside the queue and renames it in, the way
// producers are expected to hand files over.
func enqueue(t *testing.T, cfg Config, fileName, content string) string {
	t.Helper()
	staging := filepath.Join(t.TempDir(), fileName)
	require.NoError(t, os.WriteFile(staging, []byte(content), 0o644))
	dest := filepath.Join(cfg.QueueDir, fileName)
	require.NoError(t, os.Rename(staging, dest))
	return dest
}

type runCall struct {
	Scenario string
	Attack   bool
}

type capture struct {
	mu    sync.Mutex
	calls []runCall
}

func (c *capture) add(sc *scenario.Scenario, opts harness.Options) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, runCall{Scenario: sc.Name, Attack: opts.Attack})
}

func (c *capture) snapshot() []runCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]runCall(nil), c.calls...)
}

func passingRun(c *capture) RunFunc {
	return func(ctx context.Context, sc *scenario.Scenario, opts harness.Options) (harness.Result, error) {
		c.add(sc, opts)
		return harness.Result{
			Scenario: sc.Name,
			Outcome:  monitor.Outcome{Verdict: model.Pass()},
		}, nil
	}
}

func startDaemon(t *testing.T, cfg Config, run RunFunc) *Daemon {
	t.Helper()
	d := New(cfg, run)
	require.NoError(t, d.start())
	t.Cleanup(d.Shutdown)
	return d
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func countCfg(t *testing.T, dir string) int {
	t.Helper()
	n := 0
	for _, name := range listDir(t, dir) {
		if filepath.Ext(name) == ".cfg" {
			n++
		}
	}
	return n
}

func TestDrainMovesProcessedScenarios(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.QueueDir, "a-first.cfg"), []byte(scenarioBody("first", false)), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.QueueDir, "b-second.cfg"), []byte(scenarioBody("second", false)), 0o644))

	runs := &capture{}
	startDaemon(t, cfg, passingRun(runs))

	require.Eventually(t, func() bool {
		return countCfg(t, cfg.DoneDir) == 2 && countCfg(t, cfg.QueueDir) == 0
	}, 5*time.Second, 20*time.Millisecond)

	calls := runs.snapshot()
	require.Len(t, calls, 2)
	require.Equal(t, "first", calls[0].Scenario)
	require.Equal(t, "second", calls[1].Scenario)
}

func TestEnqueueAfterStartIsPickedUp(t *testing.T) {
	cfg := testConfig(t)
	runs := &capture{}
	startDaemon(t, cfg, passingRun(runs))

	enqueue(t, cfg, "late.cfg", scenarioBody("late-arrival", false))

	require.Eventually(t, func() bool {
		return countCfg(t, cfg.DoneDir) == 1
	}, 5*time.Second, 20*time.Millisecond)
	require.Equal(t, []runCall{{Scenario: "late-arrival", Attack: false}}, runs.snapshot())
}

func TestMalformedScenarioQuarantined(t *testing.T) {
	cfg := testConfig(t)
	runs := &capture{}
	startDaemon(t, cfg, passingRun(runs))

	enqueue(t, cfg, "broken.cfg", "[General]\nname = broken\n")

	require.Eventually(t, func() bool {
		names := listDir(t, cfg.QuarantineDir)
		return len(names) == 1 && filepath.Ext(names[0]) == ".corrupt"
	}, 5*time.Second, 20*time.Millisecond)

	require.Empty(t, runs.snapshot())
	require.Zero(t, countCfg(t, cfg.QueueDir))
	require.Zero(t, countCfg(t, cfg.DoneDir))
}

func TestAttackFlagFollowsScenario(t *testing.T) {
	cfg := testConfig(t)
	runs := &capture{}
	startDaemon(t, cfg, passingRun(runs))

	enqueue(t, cfg, "a-armed.cfg", scenarioBody("armed", true))
	enqueue(t, cfg, "b-benign.cfg", scenarioBody("benign", false))

	require.Eventually(t, func() bool {
		return len(runs.snapshot()) == 2
	}, 5*time.Second, 20*time.Millisecond)

	calls := runs.snapshot()
	require.Equal(t, runCall{Scenario: "armed", Attack: true}, calls[0])
	require.Equal(t, runCall{Scenario: "benign", Attack: false}, calls[1])
}

func TestAttackDisabledGlobally(t *testing.T) {
	cfg := testConfig(t)
	cfg.Attack = false
	runs := &capture{}
	startDaemon(t, cfg, passingRun(runs))

	enqueue(t, cfg, "armed.cfg", scenarioBody("armed", true))

	require.Eventually(t, func() bool {
		return len(runs.snapshot()) == 1
	}, 5*time.Second, 20*time.Millisecond)
	require.False(t, runs.snapshot()[0].Attack)
}

func TestSecondDaemonRejected(t *testing.T) {
	cfg := testConfig(t)
	runs := &capture{}
	first := startDaemon(t, cfg, passingRun(runs))

	second := New(cfg, passingRun(runs))
	err := second.start()
	require.Error(t, err)
	require.Contains(t, err.Error(), "lock")

	first.Shutdown()

	third := New(cfg, passingRun(runs))
	require.NoError(t, third.start())
	third.Shutdown()
}

func TestShutdownLeavesInterruptedRunQueued(t *testing.T) {
	cfg := testConfig(t)
	cfg.DrainTimeout = 100 * time.Millisecond

	started := make(chan struct{})
	blocking := func(ctx context.Context, sc *scenario.Scenario, opts harness.Options) (harness.Result, error) {
		close(started)
		<-ctx.Done()
		return harness.Result{}, ctx.Err()
	}

	d := startDaemon(t, cfg, blocking)
	enqueue(t, cfg, "slow.cfg", scenarioBody("slow", false))

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("run never started")
	}

	d.Shutdown()

	require.Equal(t, 1, countCfg(t, cfg.QueueDir))
	require.Zero(t, countCfg(t, cfg.DoneDir))
}

func TestRunErrorMovesToDoneAndNotifies(t *testing.T) {
	cfg := testConfig(t)
	cfg.Notify = true

	failing := func(ctx context.Context, sc *scenario.Scenario, opts harness.Options) (harness.Result, error) {
		return harness.Result{}, errors.New("simulator binary missing")
	}

	var mu sync.Mutex
	var titles []string
	d := New(cfg, failing)
	d.notifyFn = func(title, message string) error {
		mu.Lock()
		defer mu.Unlock()
		titles = append(titles, title)
		return nil
	}
	require.NoError(t, d.start())
	t.Cleanup(d.Shutdown)

	enqueue(t, cfg, "doomed.cfg", scenarioBody("doomed", false))

	require.Eventually(t, func() bool {
		return countCfg(t, cfg.DoneDir) == 1
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, titles, 1)
	require.Contains(t, titles[0], "run aborted")
}

func TestFailedVerdictNotifies(t *testing.T) {
	cfg := testConfig(t)
	cfg.Notify = true

	failing := func(ctx context.Context, sc *scenario.Scenario, opts harness.Options) (harness.Result, error) {
		return harness.Result{
			Scenario: sc.Name,
			Outcome:  monitor.Outcome{Verdict: model.Fail(model.ReasonTerminalPositionFar)},
		}, nil
	}

	var mu sync.Mutex
	var messages []string
	d := New(cfg, failing)
	d.notifyFn = func(title, message string) error {
		mu.Lock()
		defer mu.Unlock()
		messages = append(messages, message)
		return nil
	}
	require.NoError(t, d.start())
	t.Cleanup(d.Shutdown)

	enqueue(t, cfg, "veering.cfg", scenarioBody("veering", false))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(messages) == 1
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "terminal-position-too-far", messages[0])
}

func TestDoneNameCollisionKeepsBoth(t *testing.T) {
	cfg := testConfig(t)
	runs := &capture{}
	startDaemon(t, cfg, passingRun(runs))

	enqueue(t, cfg, "repeat.cfg", scenarioBody("repeat", false))
	require.Eventually(t, func() bool {
		return countCfg(t, cfg.DoneDir) == 1
	}, 5*time.Second, 20*time.Millisecond)

	enqueue(t, cfg, "repeat.cfg", scenarioBody("repeat", false))
	require.Eventually(t, func() bool {
		return len(listDir(t, cfg.DoneDir)) == 2
	}, 5*time.Second, 20*time.Millisecond)
}

func TestConfigFromViper(t *testing.T) {
	viper.Reset()
	chdir(t, t.TempDir())
	require.NoError(t, config.Setup(""))

	cfg := ConfigFromViper()
	require.Equal(t, "queue", cfg.QueueDir)
	require.Equal(t, "done", cfg.DoneDir)
	require.Equal(t, "quarantine", cfg.QuarantineDir)
	require.True(t, cfg.Attack)
	require.False(t, cfg.Notify)
	require.Equal(t, 30*time.Second, cfg.RescanEvery)
	require.Equal(t, 5*time.Minute, cfg.DrainTimeout)
	require.Equal(t, 1, cfg.RunOptions.Speedup)
}
