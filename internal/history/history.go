// Package history persists run outcomes. A Postgres DSN is preferred when
// configured; otherwise, or when Postgres is unreachable, the store falls
// back to a local SQLite file, or an in-memory database when no path is
// configured either.
package history

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/aerotest/missioncheck/internal/harness"
	"github.com/aerotest/missioncheck/internal/vehicle"
)

// Run is one recorded harness run.
type Run struct {
	gorm.Model
	RunUID            string `gorm:"uniqueIndex;size:36"`
	Scenario          string `gorm:"index"`
	Vehicle           string
	Attacked          bool
	Passed            bool
	Reason            string
	ExpectedWaypoints int
	VisitedWaypoints  int
	DistanceMeters    float64
	DurationMS        int64
	Details           datatypes.JSON
}

// runDetails is the JSON payload stored alongside the scalar columns.
type runDetails struct {
	Final                   vehicle.Snapshot `json:"final"`
	AttackerReportedSuccess bool             `json:"attackerReportedSuccess"`
	StartedAt               time.Time        `json:"startedAt"`
}

// Config selects the backing engine.
type Config struct {
	DSN        string
	SQLitePath string
}

// ConfigFromViper pulls the engine selection from the workspace
// configuration.
func ConfigFromViper() Config {
	return Config{
		DSN:        viper.GetString("history.dsn"),
		SQLitePath: viper.GetString("history.sqlitePath"),
	}
}

// Store records and queries past runs.
type Store struct {
	db *gorm.DB
}

func Open(cfg Config) (*Store, error) {
	db, err := open(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Run{}); err != nil {
		return nil, fmt.Errorf("migrate history schema: %w", err)
	}
	return &Store{db: db}, nil
}

func open(cfg Config) (*gorm.DB, error) {
	gcfg := &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	}
	if cfg.DSN != "" {
		db, err := gorm.Open(postgres.New(postgres.Config{
			DSN:                  cfg.DSN,
			PreferSimpleProtocol: true,
		}), gcfg)
		if err == nil {
			log.Debug().Msg("history on postgres")
			return db, nil
		}
		log.Warn().Err(err).Msg("postgres unreachable, history falling back to sqlite")
	}

	path := cfg.SQLitePath
	if path == "" {
		path = "file::memory:?cache=shared"
	}
	db, err := gorm.Open(sqlite.Open(path), gcfg)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	log.Debug().Str("path", path).Msg("history on sqlite")
	return db, nil
}

// Record stores one finished run.
func (s *Store) Record(res harness.Result) error {
	payload, err := json.Marshal(runDetails{
		Final:                   res.Outcome.Final,
		AttackerReportedSuccess: res.AttackerReportedSuccess,
		StartedAt:               res.StartedAt,
	})
	if err != nil {
		return fmt.Errorf("encode run details: %w", err)
	}

	row := Run{
		RunUID:            res.RunUID.String(),
		Scenario:          res.Scenario,
		Vehicle:           res.Vehicle.String(),
		Attacked:          res.Attacked,
		Passed:            res.Passed(),
		Reason:            string(res.Outcome.Verdict.Reason),
		ExpectedWaypoints: res.Outcome.Expected,
		VisitedWaypoints:  res.Outcome.Visited,
		DistanceMeters:    res.Outcome.DistanceMeters,
		DurationMS:        res.Duration.Milliseconds(),
		Details:           datatypes.JSON(payload),
	}
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// Recent returns the newest runs, newest first. A non-positive limit means
// the default page of 20.
func (s *Store) Recent(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []Run
	if err := s.db.Order("id desc").Limit(limit).Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return runs, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
