package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/GoSim-25-26J-441/prms-calibration/internal/optimizer"
	"github.com/GoSim-25-26J-441/prms-calibration/internal/scenario"
	"github.com/GoSim-25-26J-441/prms-calibration/internal/score"
	"github.com/GoSim-25-26J-441/prms-calibration/pkg/errs"
)

func scrape(t *testing.T, r *Recorder) string {
	t.Helper()
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return string(body)
}

func TestRecorderScenarios(t *testing.T) {
	r := NewRecorder()

	failed := scenario.New("failed", t.TempDir(), nil, scenario.Layout{}, scenario.Metadata{})
	failed.Fail(&errs.RunFailure{ScenarioID: "failed", Kind: errs.FailureExit, ExitCode: 3, Err: errors.New("exit status 3")})
	failed.Meta.DurationSeconds = 2
	r.ScenarioFinished(failed)

	body := scrape(t, r)
	for _, want := range []string{
		`prms_scenarios_total{status="failed"} 1`,
		`prms_scenario_failures_total{kind="exit"} 1`,
		`prms_scenario_duration_seconds_count{status="failed"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape is missing %q", want)
		}
	}
	if got := r.Collector().Values(MetricScenarioFailure); len(got) != 1 {
		t.Fatalf("collector did not record the failure: %v", got)
	}
}

func TestRecorderObservesCalibration(t *testing.T) {
	r := NewRecorder()
	ctx := context.Background()
	now := time.Now()

	r.Observe(ctx, optimizer.Event{Kind: optimizer.EventStarted, Title: "dry", Stage: "flow", TotalRounds: 2})
	if !strings.Contains(scrape(t, r), "prms_calibration_running 1") {
		t.Fatalf("running gauge not set")
	}
	r.Observe(ctx, optimizer.Event{
		Kind:    optimizer.EventRound,
		Title:   "dry",
		Stage:   "flow",
		Primary: score.NSE,
		Round:   &optimizer.Round{Index: 0, Failed: 1, StartedAt: now, EndedAt: now.Add(time.Second)},
		Archive: []optimizer.Entry{{ScenarioID: "best", Scores: score.Scores{score.NSE: 0.75}}},
	})
	r.Observe(ctx, optimizer.Event{Kind: optimizer.EventFinished, Title: "dry", Stage: "flow"})

	body := scrape(t, r)
	for _, want := range []string{
		"prms_rounds_total 1",
		"prms_archive_size 1",
		`prms_best_score{metric="nse",stage="flow",title="dry"} 0.75`,
		"prms_calibration_running 0",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape is missing %q", want)
		}
	}

	c := r.Collector()
	if got := c.Values(MetricRoundBest); len(got) != 1 || got[0] != 0.75 {
		t.Fatalf("unexpected round best values %v", got)
	}
	if agg := c.Aggregation(MetricRoundDuration, RoundLabels("dry", "flow", 0)); agg == nil || agg.Max != 1 {
		t.Fatalf("unexpected round duration %+v", agg)
	}
}
