package metrics

import (
	"strconv"
	"time"

	"github.com/GoSim-25-26J-441/prms-calibration/internal/optimizer"
	"github.com/GoSim-25-26J-441/prms-calibration/internal/scenario"
)

// Collector metric names
const (
	MetricScenarioDuration = "scenario_duration_seconds"
	MetricScenarioFailure  = "scenario_failure"
	MetricRoundBest        = "round_best_score"
	MetricRoundFailed      = "round_failed"
	MetricRoundDuration    = "round_duration_seconds"
)

// RecordScenario records the duration of a finished scenario, labelled with
// its status, and a failure point labelled with the failure kind.
func RecordScenario(c *Collector, s *scenario.Scenario) {
	labels := map[string]string{"status": string(s.Status())}
	ts := s.Meta.EndedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	c.Record(MetricScenarioDuration, s.Meta.DurationSeconds, ts, labels)
	if s.Meta.Failure != nil {
		c.Record(MetricScenarioFailure, 1, ts, map[string]string{"kind": s.Meta.Failure.Kind})
	}
}

// RecordRound records the best primary score of the archive after a round,
// the number of failed samples and the round's wall time.
func RecordRound(c *Collector, ev optimizer.Event) {
	if ev.Round == nil {
		return
	}
	labels := RoundLabels(ev.Title, ev.Stage, ev.Round.Index)
	ts := ev.Round.EndedAt
	if len(ev.Archive) > 0 {
		c.Record(MetricRoundBest, ev.Archive[0].Scores[ev.Primary], ts, map[string]string{"metric": ev.Primary})
	}
	c.Record(MetricRoundFailed, float64(ev.Round.Failed), ts, labels)
	c.Record(MetricRoundDuration, ev.Round.EndedAt.Sub(ev.Round.StartedAt).Seconds(), ts, labels)
}

// RoundLabels creates a labels map for one calibration round
func RoundLabels(title, stage string, round int) map[string]string {
	return map[string]string{
		"title": title,
		"stage": stage,
		"round": strconv.Itoa(round),
	}
}
