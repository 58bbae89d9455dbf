// Package config installs the workspace configuration into the process-wide
// viper instance. Every key has a default, so the harness runs without a
// config file; missioncheck.yaml in the working directory (or an explicit
// path) overrides them.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// File is the workspace configuration file name.
const File = "missioncheck.yaml"

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logFile", "")

	viper.SetDefault("telemetry.connectTimeoutSec", 10)

	viper.SetDefault("attack.port", 14300)
	viper.SetDefault("attack.reportTimeout", 0)
	viper.SetDefault("attack.settleSec", 2)

	viper.SetDefault("run.missionTimeoutSec", 240)
	viper.SetDefault("run.livenessTimeoutSec", 1)
	viper.SetDefault("run.speedup", 1)
	viper.SetDefault("run.checkWaypoints", false)
	viper.SetDefault("run.workaround", true)
	viper.SetDefault("run.prefix", "")

	viper.SetDefault("results.dir", "results")

	viper.SetDefault("history.dsn", "")
	viper.SetDefault("history.sqlitePath", "missioncheck.db")

	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.url", "http://localhost:8086")
	viper.SetDefault("metrics.token", "")
	viper.SetDefault("metrics.org", "missioncheck")
	viper.SetDefault("metrics.bucket", "runs")

	viper.SetDefault("watch.queueDir", "queue")
	viper.SetDefault("watch.doneDir", "done")
	viper.SetDefault("watch.quarantineDir", "quarantine")
	viper.SetDefault("watch.attack", true)
	viper.SetDefault("watch.rescanSec", 30)
	viper.SetDefault("watch.drainTimeoutSec", 300)
	viper.SetDefault("watch.notify", false)
}

// Setup installs defaults and reads the workspace configuration. An
// explicit path must exist and parse; with an empty path the working
// directory is searched and a missing file just means defaults.
func Setup(path string) error {
	setDefaults()

	if path != "" {
		viper.SetConfigFile(path)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return nil
	}

	viper.SetConfigName("missioncheck")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

// The *Sec keys are stored as integers to match the established defaults;
// these helpers are the one place they become durations.

func ConnectTimeout() time.Duration {
	return time.Duration(viper.GetInt("telemetry.connectTimeoutSec")) * time.Second
}

func MissionTimeout() time.Duration {
	return time.Duration(viper.GetInt("run.missionTimeoutSec")) * time.Second
}

func LivenessTimeout() time.Duration {
	return time.Duration(viper.GetInt("run.livenessTimeoutSec")) * time.Second
}

func AttackSettleDelay() time.Duration {
	return time.Duration(viper.GetInt("attack.settleSec")) * time.Second
}

func WatchRescanInterval() time.Duration {
	return time.Duration(viper.GetInt("watch.rescanSec")) * time.Second
}

func WatchDrainTimeout() time.Duration {
	return time.Duration(viper.GetInt("watch.drainTimeoutSec")) * time.Second
}
