// Package metrics emits one InfluxDB point per finished run. The sink is
// off unless the workspace configuration enables it; write failures are
// reported to the caller, who logs them and moves on. Verdicts never
// depend on this path.
package metrics

import (
	"context"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/spf13/viper"

	"github.com/aerotest/missioncheck/internal/harness"
)

const writeTimeout = 5 * time.Second

// Sink writes run outcomes to InfluxDB.
type Sink struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
}

// FromConfig builds the sink when metrics.enabled is set and returns nil
// otherwise; a nil sink simply is not registered with the runner.
func FromConfig() *Sink {
	if !viper.GetBool("metrics.enabled") {
		return nil
	}
	return New(
		viper.GetString("metrics.url"),
		viper.GetString("metrics.token"),
		viper.GetString("metrics.org"),
		viper.GetString("metrics.bucket"),
	)
}

func New(url, token, org, bucket string) *Sink {
	client := influxdb2.NewClient(url, token)
	return &Sink{
		client: client,
		write:  client.WriteAPIBlocking(org, bucket),
	}
}

// Record writes one mission_run point.
func (s *Sink) Record(res harness.Result) error {
	point := influxdb2.NewPointWithMeasurement("mission_run").
		AddTag("scenario", res.Scenario).
		AddTag("vehicle", res.Vehicle.String()).
		AddTag("attacked", strconv.FormatBool(res.Attacked)).
		AddField("passed", res.Passed()).
		AddField("reason", string(res.Outcome.Verdict.Reason)).
		AddField("visited", res.Outcome.Visited).
		AddField("expected", res.Outcome.Expected).
		AddField("distance_m", res.Outcome.DistanceMeters).
		AddField("duration_ms", res.Duration.Milliseconds()).
		SetTime(res.StartedAt)

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.write.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("write metrics point: %w", err)
	}
	return nil
}

// Close flushes buffered writes and shuts the client down.
func (s *Sink) Close() {
	s.client.Close()
}
