package fitness

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"

	"badgerline/internal/domain"
)

// Source reports a user's activity totals over a time window.
type Source interface {
	Snapshot(ctx context.Context, userID string, from, to time.Time) (domain.FitnessSnapshot, error)
}

// Static returns a fixed snapshot; a non-nil Err is returned instead.
type Static struct {
	Value domain.FitnessSnapshot
	Err   error
}

func (s Static) Snapshot(_ context.Context, _ string, _, to time.Time) (domain.FitnessSnapshot, error) {
	if s.Err != nil {
		return domain.FitnessSnapshot{}, s.Err
	}
	v := s.Value
	if v.CollectedAt.IsZero() {
		v.CollectedAt = to
	}
	return v, nil
}

// Influx reads wearable metrics written by the collector. Each point carries a
// user_id tag and steps, exercise_minutes, distance and calories fields.
type Influx struct {
	client      influxdb2.Client
	org         string
	bucket      string
	measurement string
}

func NewInflux(url, token, org, bucket, measurement string) *Influx {
	if measurement == "" {
		measurement = "activity"
	}
	return &Influx{
		client:      influxdb2.NewClient(url, token),
		org:         org,
		bucket:      bucket,
		measurement: measurement,
	}
}

func (s *Influx) Close() {
	s.client.Close()
}

func (s *Influx) Snapshot(ctx context.Context, userID string, from, to time.Time) (domain.FitnessSnapshot, error) {
	snap := domain.FitnessSnapshot{CollectedAt: to}
	result, err := s.client.QueryAPI(s.org).Query(ctx, s.query(userID, from, to))
	if err != nil {
		return snap, &domain.CollaboratorError{Collaborator: "fitness", Err: fmt.Errorf("query influx: %w", err)}
	}
	defer result.Close()
	for result.Next() {
		rec := result.Record()
		v, ok := toFloat(rec.Value())
		if !ok {
			continue
		}
		switch rec.Field() {
		case "steps":
			snap.Steps += v
		case "exercise_minutes":
			snap.ExerciseMinutes += v
		case "distance":
			snap.Distance += v
		case "calories":
			snap.Calories += v
		}
	}
	if err := result.Err(); err != nil {
		return snap, &domain.CollaboratorError{Collaborator: "fitness", Err: fmt.Errorf("read influx result: %w", err)}
	}
	return snap, nil
}

func (s *Influx) query(userID string, from, to time.Time) string {
	return fmt.Sprintf(`from(bucket: %q)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r._measurement == %q and r.user_id == %q)
  |> filter(fn: (r) => r._field == "steps" or r._field == "exercise_minutes" or r._field == "distance" or r._field == "calories")
  |> group(columns: ["_field"])
  |> sum()`,
		s.bucket, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339), s.measurement, userID)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
