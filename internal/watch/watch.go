// Package watch implements the queue-draining daemon. Scenario files
// dropped into a queue directory are picked up by fsnotify or a periodic
// rescan, executed one at a time, and moved to a done directory.
// Unreadable scenarios are quarantined so they cannot wedge the queue.
package watch

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/aerotest/missioncheck/internal/config"
	"github.com/aerotest/missioncheck/internal/harness"
	"github.com/aerotest/missioncheck/internal/lock"
	"github.com/aerotest/missioncheck/internal/notify"
	"github.com/aerotest/missioncheck/internal/scenario"
	"github.com/aerotest/missioncheck/internal/yaml"
)

const lockFileName = ".watch.lock"

// RunFunc executes one scenario. It matches harness.Runner.Run so the
// daemon can be driven by a real runner or a test double.
type RunFunc func(ctx context.Context, sc *scenario.Scenario, opts harness.Options) (harness.Result, error)

type Config struct {
	QueueDir      string
	DoneDir       string
	QuarantineDir string

	// Attack enables a scenario's attack process when it configures one.
	Attack bool
	// Notify raises a desktop notification for failed or aborted runs.
	Notify bool

	RescanEvery  time.Duration
	DrainTimeout time.Duration

	RunOptions harness.Options
}

func ConfigFromViper() Config {
	return Config{
		QueueDir:      viper.GetString("watch.queueDir"),
		DoneDir:       viper.GetString("watch.doneDir"),
		QuarantineDir: viper.GetString("watch.quarantineDir"),
		Attack:        viper.GetBool("watch.attack"),
		Notify:        viper.GetBool("watch.notify"),
		RescanEvery:   config.WatchRescanInterval(),
		DrainTimeout:  config.WatchDrainTimeout(),
		RunOptions:    harness.OptionsFromConfig(),
	}
}

// Daemon drains the queue directory. Runs are strictly serial: a SITL
// instance owns fixed UDP ports, so two concurrent runs would collide.
type Daemon struct {
	cfg      Config
	run      RunFunc
	notifyFn func(title, message string) error

	fileLock *lock.FileLock
	watcher  *fsnotify.Watcher
	group    *errgroup.Group

	// wake collapses any number of triggers into one pending drain
	wake chan struct{}

	// loopCtx stops the loops at shutdown; runCtx stays live so the
	// in-flight run can finish, and is cancelled only when the drain
	// timeout expires.
	loopCtx    context.Context
	loopCancel context.CancelFunc
	runCtx     context.Context
	runCancel  context.CancelFunc

	shutdown sync.Once
}

func New(cfg Config, run RunFunc) *Daemon {
	loopCtx, loopCancel := context.WithCancel(context.Background())
	runCtx, runCancel := context.WithCancel(context.Background())
	return &Daemon{
		cfg:        cfg,
		run:        run,
		notifyFn:   notify.Send,
		wake:       make(chan struct{}, 1),
		loopCtx:    loopCtx,
		loopCancel: loopCancel,
		runCtx:     runCtx,
		runCancel:  runCancel,
	}
}

// Run starts the daemon and blocks until SIGTERM or SIGINT.
func (d *Daemon) Run() error {
	if err := d.start(); err != nil {
		return err
	}
	d.waitSignals()
	return nil
}

func (d *Daemon) start() error {
	for _, dir := range []string{d.cfg.QueueDir, d.cfg.DoneDir, d.cfg.QuarantineDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("ensure dir %s: %w", dir, err)
		}
	}

	d.fileLock = lock.NewFileLock(filepath.Join(d.cfg.QueueDir, lockFileName))
	if err := d.fileLock.TryLock(); err != nil {
		return fmt.Errorf("watch lock: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.fileLock.Unlock()
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(d.cfg.QueueDir); err != nil {
		watcher.Close()
		d.fileLock.Unlock()
		return fmt.Errorf("watch %s: %w", d.cfg.QueueDir, err)
	}
	d.watcher = watcher

	d.group = new(errgroup.Group)
	d.group.Go(d.watchLoop)
	d.group.Go(d.workerLoop)

	// pick up whatever is already queued
	d.trigger()

	log.Info().
		Int("pid", os.Getpid()).
		Str("queue", d.cfg.QueueDir).
		Bool("attack", d.cfg.Attack).
		Msg("watching queue")
	return nil
}

func (d *Daemon) trigger() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// watchLoop forwards queue directory events into drain triggers.
func (d *Daemon) watchLoop() error {
	for {
		select {
		case <-d.loopCtx.Done():
			return nil
		case event, ok := <-d.watcher.Events:
			if !ok {
				return nil
			}
			if (event.Has(fsnotify.Create) || event.Has(fsnotify.Write)) && isScenarioFile(event.Name) {
				log.Debug().Str("op", event.Op.String()).Str("file", event.Name).Msg("queue event")
				d.trigger()
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// workerLoop serializes all queue processing.
func (d *Daemon) workerLoop() error {
	ticker := time.NewTicker(d.cfg.RescanEvery)
	defer ticker.Stop()

	for {
		select {
		case <-d.loopCtx.Done():
			return nil
		case <-d.wake:
		case <-ticker.C:
		}
		d.drain()
	}
}

// drain processes queued scenarios oldest-name-first until the queue is
// empty. Files that could not be cleared (say the done directory is on a
// read-only mount) are skipped for the rest of this drain so they cannot
// spin the loop.
func (d *Daemon) drain() {
	seen := make(map[string]bool)
	for {
		if d.loopCtx.Err() != nil {
			return
		}
		batch, err := d.pending()
		if err != nil {
			log.Error().Err(err).Str("dir", d.cfg.QueueDir).Msg("scan queue")
			return
		}

		progressed := false
		for _, path := range batch {
			if d.loopCtx.Err() != nil {
				return
			}
			if seen[path] {
				continue
			}
			seen[path] = true
			progressed = true
			d.processOne(path)
		}
		if !progressed {
			return
		}
	}
}

func (d *Daemon) pending() ([]string, error) {
	entries, err := os.ReadDir(d.cfg.QueueDir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !isScenarioFile(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(d.cfg.QueueDir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

func (d *Daemon) processOne(path string) {
	logger := log.With().Str("file", filepath.Base(path)).Logger()

	sc, err := scenario.Load(path)
	if err != nil {
		logger.Warn().Err(err).Msg("scenario rejected")
		if _, qerr := yaml.Quarantine(d.cfg.QuarantineDir, path); qerr != nil {
			logger.Error().Err(qerr).Msg("quarantine failed")
		}
		return
	}

	opts := d.cfg.RunOptions
	opts.Attack = d.cfg.Attack && sc.Attacked()

	res, err := d.run(d.runCtx, sc, opts)
	switch {
	case err != nil && d.runCtx.Err() != nil:
		// Interrupted by shutdown. Leave the file queued so the next
		// daemon start retries it.
		logger.Warn().Str("scenario", sc.Name).Msg("run interrupted, leaving scenario queued")
		return
	case err != nil:
		logger.Error().Err(err).Str("scenario", sc.Name).Msg("run aborted")
		d.announce(fmt.Sprintf("%s: run aborted", sc.Name), err.Error())
	case !res.Passed():
		logger.Warn().
			Str("scenario", sc.Name).
			Str("reason", string(res.Outcome.Verdict.Reason)).
			Msg("mission failed")
		d.announce(fmt.Sprintf("%s: mission failed", sc.Name), string(res.Outcome.Verdict.Reason))
	default:
		logger.Info().Str("scenario", sc.Name).Msg("mission passed")
	}

	if err := d.clear(path); err != nil {
		logger.Error().Err(err).Msg("move to done failed")
	}
}

// clear moves a processed scenario out of the queue. A name collision in
// the done directory gets a timestamp suffix instead of overwriting the
// earlier file.
func (d *Daemon) clear(path string) error {
	dest := filepath.Join(d.cfg.DoneDir, filepath.Base(path))
	if _, err := os.Stat(dest); err == nil {
		dest = fmt.Sprintf("%s.%s", dest, time.Now().Format("20060102T150405.000"))
	}
	if err := os.Rename(path, dest); err != nil {
		return fmt.Errorf("move to done: %w", err)
	}
	return nil
}

func (d *Daemon) announce(title, message string) {
	if !d.cfg.Notify {
		return
	}
	if err := d.notifyFn(title, message); err != nil {
		log.Debug().Err(err).Msg("desktop notification failed")
	}
}

// waitSignals blocks until a shutdown signal arrives. A second signal
// forces immediate exit.
func (d *Daemon) waitSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("draining before exit")

	go func() {
		<-sigCh
		log.Warn().Msg("second signal, forcing exit")
		os.Exit(1)
	}()

	d.Shutdown()
}

// Shutdown stops the loops, waits for the in-flight run up to the drain
// timeout, then aborts it. Idempotent.
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		d.loopCancel()
		if d.watcher != nil {
			d.watcher.Close()
		}

		done := make(chan struct{})
		go func() {
			if d.group != nil {
				d.group.Wait()
			}
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(d.cfg.DrainTimeout):
			log.Warn().Dur("timeout", d.cfg.DrainTimeout).Msg("drain timeout, aborting in-flight run")
			d.runCancel()
			<-done
		}

		d.runCancel()
		if d.fileLock != nil {
			d.fileLock.Unlock()
		}
		log.Info().Msg("watcher stopped")
	})
}

func isScenarioFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".cfg")
}
