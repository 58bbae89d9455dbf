package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aerotest/missioncheck/internal/harness"
	"github.com/aerotest/missioncheck/internal/model"
	"github.com/aerotest/missioncheck/internal/monitor"
	"github.com/aerotest/missioncheck/internal/vehicle"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

func fileStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{SQLitePath: filepath.Join(t.TempDir(), "history.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleResult(scenario string, passed bool) harness.Result {
	verdict := model.Pass()
	if !passed {
		verdict = model.Fail(model.ReasonTerminalPositionFar)
	}
	return harness.Result{
		RunUID:   uuid.New(),
		Scenario: scenario,
		Vehicle:  model.VehicleRover,
		Attacked: !passed,
		Outcome: monitor.Outcome{
			Verdict:        verdict,
			Visited:        4,
			Expected:       3,
			DistanceMeters: 1.25,
			Final: vehicle.Snapshot{
				Mode:     "AUTO",
				Position: model.Position{Lat: -35.36, Lon: 149.16, Alt: 10},
			},
		},
		AttackerReportedSuccess: !passed,
		StartedAt:               time.Now().UTC(),
		Duration:                90 * time.Second,
	}
}

func TestRecordAndRecent(t *testing.T) {
	s := fileStore(t)

	first := sampleResult("flyover", true)
	second := sampleResult("flyover", false)
	third := sampleResult("patrol", true)
	for _, res := range []harness.Result{first, second, third} {
		require.NoError(t, s.Record(res))
	}

	runs, err := s.Recent(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, third.RunUID.String(), runs[0].RunUID)
	assert.Equal(t, second.RunUID.String(), runs[1].RunUID)

	row := runs[1]
	assert.Equal(t, "flyover", row.Scenario)
	assert.Equal(t, "APMrover2", row.Vehicle)
	assert.True(t, row.Attacked)
	assert.False(t, row.Passed)
	assert.Equal(t, "terminal-position-too-far", row.Reason)
	assert.Equal(t, 3, row.ExpectedWaypoints)
	assert.Equal(t, 4, row.VisitedWaypoints)
	assert.InDelta(t, 1.25, row.DistanceMeters, 1e-9)
	assert.Equal(t, int64(90000), row.DurationMS)

	var det runDetails
	require.NoError(t, json.Unmarshal(row.Details, &det))
	assert.True(t, det.AttackerReportedSuccess)
	assert.Equal(t, "AUTO", det.Final.Mode)
	assert.InDelta(t, -35.36, det.Final.Position.Lat, 1e-9)
}

func TestRecentDefaultLimit(t *testing.T) {
	s := fileStore(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Record(sampleResult("flyover", true)))
	}

	runs, err := s.Recent(0)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestOpenInMemory(t *testing.T) {
	s, err := Open(Config{})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Record(sampleResult("flyover", true)))
	runs, err := s.Recent(10)
	require.NoError(t, err)
	assert.NotEmpty(t, runs)
}

func TestPostgresFallback(t *testing.T) {
	// nothing listens on port 9 on loopback; Open must degrade to sqlite
	cfg := Config{
		DSN:        "host=127.0.0.1 port=9 user=nobody dbname=none sslmode=disable connect_timeout=1",
		SQLitePath: filepath.Join(t.TempDir(), "fallback.db"),
	}
	s, err := Open(cfg)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Record(sampleResult("flyover", true)))
	runs, err := s.Recent(1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
