package optimizer

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/GoSim-25-26J-441/prms-calibration/internal/params"
	"github.com/GoSim-25-26J-441/prms-calibration/internal/scenario"
	"github.com/GoSim-25-26J-441/prms-calibration/internal/score"
	"github.com/GoSim-25-26J-441/prms-calibration/internal/series"
	"github.com/GoSim-25-26J-441/prms-calibration/internal/simtest"
	"github.com/GoSim-25-26J-441/prms-calibration/internal/tseries"
)

func TestMain(m *testing.M) {
	simtest.MaybeRun()
	os.Exit(m.Run())
}

// linearLauncher runs the model in process: output = mean(k) * 10, failing
// with exit code 3 when k exceeds failAbove (if positive).
func linearLauncher(failAbove float64) scenario.Launcher {
	return scenario.LauncherFunc(func(_ context.Context, inv scenario.Invocation) error {
		ps, err := params.Read(filepath.Join(inv.Dir, scenario.InputsDir, "parameters"))
		if err != nil {
			return err
		}
		v, err := ps.Values("k")
		if err != nil {
			return err
		}
		if failAbove > 0 && v[0] > failAbove {
			return &scenario.ExitError{Code: simtest.FailExitCode}
		}
		out, err := simtest.Constant(simtest.Column, v[0]*10, simtest.Days)
		if err != nil {
			return err
		}
		f, err := os.Create(filepath.Join(inv.Dir, "outputs", "statvar.dat"))
		if err != nil {
			return err
		}
		defer f.Close()
		return out.WriteStatvar(f)
	})
}

func observed(t *testing.T, v float64) *tseries.Table {
	t.Helper()
	obs, err := simtest.Constant(simtest.Column, v, simtest.Days)
	if err != nil {
		t.Fatalf("Constant: %v", err)
	}
	return obs
}

func baseRequest(t *testing.T) Request {
	t.Helper()
	base := filepath.Join(t.TempDir(), "base")
	ps, err := simtest.WriteBase(base, 1.0)
	if err != nil {
		t.Fatalf("WriteBase: %v", err)
	}
	return Request{
		Title:        "test",
		Stage:        "flow",
		BaseDir:      base,
		Base:         ps,
		WorkDir:      t.TempDir(),
		Observed:     observed(t, 10),
		OutputColumn: simtest.Column,
		Targets:      []Target{{Param: "k", Range: &params.Range{Min: 0.5, Max: 2}}},
		NSamples:     4,
		Rounds:       3,
		Method:       MethodUniform,
		NoiseFactor:  0.1,
		ArchiveSize:  3,
		Metrics:      []string{score.RMSE, score.NSE},
		Seed:         42,
	}
}

func TestScoreAndRankScaleSeries(t *testing.T) {
	for _, tc := range []struct {
		name      string
		failAbove float64
		ranked    int
	}{
		{"all succeed", 0, 3},
		{"large k fails", 1.5, 2},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := baseRequest(t)
			entries := []series.Entry{
				{Name: "scale_0.5", Mod: params.Scale{Params: []string{"k"}, Factors: []float64{0.5}}},
				{Name: "scale_1.0", Mod: params.Scale{Params: []string{"k"}, Factors: []float64{1.0}}},
				{Name: "scale_2.0", Mod: params.Scale{Params: []string{"k"}, Factors: []float64{2.0}}},
			}
			ser, err := series.FromModifications(req.BaseDir, req.Base, entries, filepath.Join(req.WorkDir, "series"), series.Options{})
			if err != nil {
				t.Fatalf("FromModifications: %v", err)
			}
			l := &scenario.ExecLauncher{Path: simtest.Executable(), Args: simtest.Args(), Env: simtest.Env(simtest.Options{FailAbove: tc.failAbove})}
			m, err := ser.Run(context.Background(), series.NewPool(3), l, time.Minute)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if m.Succeeded != tc.ranked || m.Failed != 3-tc.ranked {
				t.Fatalf("unexpected manifest: %s", m.Summary())
			}

			metrics, _ := score.NewSet([]string{score.NSE, score.RMSE})
			scored := ScoreSeries(ser, req.Observed, simtest.Column, simtest.Column, tseries.Window{}, metrics)
			if len(scored) != 3 {
				t.Fatalf("every member must be scored, got %d", len(scored))
			}
			ranked := Rank(scored, metrics[0])
			if len(ranked) != tc.ranked {
				t.Fatalf("expected %d ranked entries, got %d", tc.ranked, len(ranked))
			}
			if ranked[0].ScenarioID != "scale_1.0" || ranked[0].Scores[score.NSE] != 1.0 {
				t.Fatalf("expected scale_1.0 first with NSE 1, got %s %v", ranked[0].ScenarioID, ranked[0].Scores)
			}
			if tc.failAbove > 0 {
				failed := scored[2]
				if failed.Succeeded() || !math.IsInf(failed.Scores[score.NSE], -1) || !math.IsInf(failed.Scores[score.RMSE], 1) {
					t.Fatalf("failed member should carry worst scores, got %+v", failed)
				}
				if failed.Failure == "" {
					t.Fatalf("failed member should record its failure")
				}
			}
		})
	}
}

func TestMonteCarlo(t *testing.T) {
	req := baseRequest(t)
	var (
		mu     sync.Mutex
		events []EventKind
	)
	o := New(linearLauncher(0), series.NewPool(2))
	o.Observers = []Observer{ObserverFunc(func(_ context.Context, ev Event) {
		mu.Lock()
		events = append(events, ev.Kind)
		mu.Unlock()
	})}

	res, err := o.MonteCarlo(context.Background(), req)
	if err != nil {
		t.Fatalf("MonteCarlo: %v", err)
	}
	if len(res.Rounds) != 3 || res.NSims != 12 {
		t.Fatalf("expected 3 rounds / 12 sims, got %d / %d", len(res.Rounds), res.NSims)
	}
	if len(res.Archive) > req.ArchiveSize || len(res.Archive) == 0 {
		t.Fatalf("archive size %d out of bounds", len(res.Archive))
	}
	for i := 1; i < len(res.Archive); i++ {
		if res.Archive[i].Scores[score.RMSE] < res.Archive[i-1].Scores[score.RMSE] {
			t.Fatalf("archive not sorted at %d", i)
		}
	}
	for _, rd := range res.Rounds {
		if rd.Succeeded != 4 || len(rd.Ranking) != 4 {
			t.Fatalf("round %d: unexpected counts %+v", rd.Index, rd)
		}
		for _, e := range rd.Entries {
			k := e.Values["k"][0]
			if k < 0.5 || k > 2 {
				t.Fatalf("sample %g outside range", k)
			}
			if _, err := os.Stat(e.Dir); err != nil {
				t.Fatalf("scenario directory missing: %v", err)
			}
		}
	}
	want := []EventKind{EventStarted, EventRound, EventRound, EventRound, EventFinished}
	if len(events) != len(want) {
		t.Fatalf("events %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events %v", events)
		}
	}
	if len(o.Archive()) != len(res.Archive) || len(o.Rounds()) != 3 {
		t.Fatalf("optimizer state not exposed")
	}
	if res.OriginalParams["k"][0] != 1.0 || res.ParamsAdjusted[0] != "k" {
		t.Fatalf("unexpected metadata %+v", res)
	}
}

func TestMonteCarloFailedSamplesAreRecorded(t *testing.T) {
	req := baseRequest(t)
	req.Rounds = 2
	req.NSamples = 8
	o := New(linearLauncher(1.25), series.NewPool(4))
	res, err := o.MonteCarlo(context.Background(), req)
	if err != nil {
		t.Fatalf("MonteCarlo: %v", err)
	}
	failed := 0
	for _, rd := range res.Rounds {
		if rd.Succeeded+rd.Failed != len(rd.Entries) || len(rd.Entries) != 8 {
			t.Fatalf("round %d: counts do not add up", rd.Index)
		}
		if len(rd.FailedValues) != rd.Failed {
			t.Fatalf("round %d: failed values not recorded", rd.Index)
		}
		for _, e := range rd.Entries {
			if e.Succeeded() {
				continue
			}
			failed++
			if e.Values["k"][0] <= 1.25 {
				t.Fatalf("sample %g should not have failed", e.Values["k"][0])
			}
			if !math.IsInf(e.Scores[score.RMSE], 1) {
				t.Fatalf("failed sample should score worst, got %v", e.Scores)
			}
		}
	}
	if failed == 0 {
		t.Fatalf("expected some samples above 1.25 with seed %d", req.Seed)
	}
	for _, e := range res.Archive {
		if !e.Succeeded() {
			t.Fatalf("failed sample archived: %+v", e)
		}
	}

	path := filepath.Join(t.TempDir(), "result.json")
	if err := res.Export(path); err != nil {
		t.Fatalf("Export: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	var worst int
	for _, rd := range loaded.Rounds {
		for _, e := range rd.Entries {
			if math.IsInf(e.Scores[score.RMSE], 1) {
				worst++
			}
		}
	}
	if worst != failed {
		t.Fatalf("worst scores lost on reload: %d != %d", worst, failed)
	}
}

func TestMonteCarloEarlyStop(t *testing.T) {
	req := baseRequest(t)
	req.Rounds = 10
	req.EarlyStopWindow = 1
	// every sample reproduces the observed series
	constant := scenario.LauncherFunc(func(_ context.Context, inv scenario.Invocation) error {
		out, _ := simtest.Constant(simtest.Column, 10, simtest.Days)
		f, err := os.Create(filepath.Join(inv.Dir, "outputs", "statvar.dat"))
		if err != nil {
			return err
		}
		defer f.Close()
		return out.WriteStatvar(f)
	})
	res, err := New(constant, series.NewPool(2)).MonteCarlo(context.Background(), req)
	if err != nil {
		t.Fatalf("MonteCarlo: %v", err)
	}
	if !res.Converged || len(res.Rounds) != 2 {
		t.Fatalf("expected convergence after 2 rounds, got %d rounds (%s)", len(res.Rounds), res.StopReason)
	}
	// ties keep the earliest sample on top
	if res.Archive[0].Round != 0 || res.Archive[0].Index != 0 {
		t.Fatalf("expected first-seen sample on top, got round %d index %d", res.Archive[0].Round, res.Archive[0].Index)
	}
}

func TestMonteCarloCancelled(t *testing.T) {
	req := baseRequest(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := New(linearLauncher(0), series.NewPool(1)).MonteCarlo(ctx, req)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if res == nil || res.StopReason != StopCancelled || len(res.Rounds) != 0 {
		t.Fatalf("unexpected partial result %+v", res)
	}
}

func TestMonteCarloBusy(t *testing.T) {
	req := baseRequest(t)
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	blocking := scenario.LauncherFunc(func(ctx context.Context, inv scenario.Invocation) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return linearLauncher(0).Launch(ctx, inv)
	})
	o := New(blocking, series.NewPool(1))
	req.Rounds, req.NSamples = 1, 1
	done := make(chan error, 1)
	go func() {
		_, err := o.MonteCarlo(context.Background(), req)
		done <- err
	}()
	<-started
	if _, err := o.MonteCarlo(context.Background(), req); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first calibration: %v", err)
	}
}

func TestMonteCarloValidation(t *testing.T) {
	o := New(linearLauncher(0), series.NewPool(1))
	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{"no observed", func(r *Request) { r.Observed = nil }},
		{"missing observed column", func(r *Request) { r.ObservedColumn = "nope" }},
		{"no samples", func(r *Request) { r.NSamples = 0 }},
		{"unknown target", func(r *Request) { r.Targets = []Target{{Param: "nope"}} }},
		{"target without range", func(r *Request) { r.Targets = []Target{{Param: "k"}} }},
		{"unknown metric", func(r *Request) { r.Metrics = []string{"mae"} }},
		{"unknown primary", func(r *Request) { r.Primary = "mae" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := baseRequest(t)
			tt.mutate(&req)
			if _, err := o.MonteCarlo(context.Background(), req); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestMonteCarloBaseline(t *testing.T) {
	t.Run("runs unmodified inputs", func(t *testing.T) {
		req := baseRequest(t)
		req.Rounds, req.NSamples = 1, 2
		var (
			mu     sync.Mutex
			runIDs []string
		)
		o := New(linearLauncher(0), series.NewPool(2))
		o.Observers = []Observer{ObserverFunc(func(_ context.Context, ev Event) {
			mu.Lock()
			runIDs = append(runIDs, ev.RunID)
			mu.Unlock()
		})}
		res, err := o.MonteCarlo(context.Background(), req)
		if err != nil {
			t.Fatalf("MonteCarlo: %v", err)
		}
		b := res.Baseline
		if b == nil || b.ScenarioID != BaselineID || b.Round != -1 || !b.Succeeded() {
			t.Fatalf("unexpected baseline %+v", b)
		}
		if b.Dir != filepath.Join(res.RunDir, BaselineID) || b.Scores[score.RMSE] != 0 || b.Means["k"] != 1 {
			t.Fatalf("baseline not scored from its own run: %+v", b)
		}
		if _, err := os.Stat(b.OutputFile); err != nil {
			t.Fatalf("baseline output missing: %v", err)
		}
		for _, e := range res.Archive {
			if e.ScenarioID == BaselineID {
				t.Fatalf("baseline must not enter the archive")
			}
		}
		if len(runIDs) != 3 {
			t.Fatalf("events %v", runIDs)
		}
		for _, id := range runIDs {
			if id != res.RunID {
				t.Fatalf("event run id %q, want %q", id, res.RunID)
			}
		}
	})

	t.Run("reuses existing output", func(t *testing.T) {
		req := baseRequest(t)
		req.Rounds, req.NSamples = 1, 1
		out, err := simtest.Constant(simtest.Column, 12, simtest.Days)
		if err != nil {
			t.Fatal(err)
		}
		f, err := os.Create(filepath.Join(req.BaseDir, "statvar.dat"))
		if err != nil {
			t.Fatal(err)
		}
		if err := out.WriteStatvar(f); err != nil {
			t.Fatal(err)
		}
		f.Close()

		res, err := New(linearLauncher(0), series.NewPool(1)).MonteCarlo(context.Background(), req)
		if err != nil {
			t.Fatalf("MonteCarlo: %v", err)
		}
		b := res.Baseline
		if b == nil || b.Dir != req.BaseDir || b.Scores[score.RMSE] != 2 {
			t.Fatalf("existing output not reused: %+v", b)
		}
		if _, err := os.Stat(filepath.Join(res.RunDir, BaselineID)); !os.IsNotExist(err) {
			t.Fatalf("baseline should not run again, stat err %v", err)
		}
	})

	t.Run("skipped", func(t *testing.T) {
		req := baseRequest(t)
		req.Rounds, req.NSamples = 1, 1
		req.SkipBaseline = true
		res, err := New(linearLauncher(0), series.NewPool(1)).MonteCarlo(context.Background(), req)
		if err != nil {
			t.Fatalf("MonteCarlo: %v", err)
		}
		if res.Baseline != nil {
			t.Fatalf("baseline recorded despite SkipBaseline")
		}
	})

	t.Run("failure does not stop the calibration", func(t *testing.T) {
		req := baseRequest(t)
		req.Rounds, req.NSamples = 1, 2
		req.Targets = []Target{{Param: "k", Range: &params.Range{Min: 0.5, Max: 0.9}}}
		res, err := New(linearLauncher(0.95), series.NewPool(1)).MonteCarlo(context.Background(), req)
		if err != nil {
			t.Fatalf("MonteCarlo: %v", err)
		}
		if res.Baseline == nil || res.Baseline.Succeeded() || !math.IsInf(res.Baseline.Scores[score.RMSE], 1) {
			t.Fatalf("expected a failed baseline with worst scores, got %+v", res.Baseline)
		}
		if res.Rounds[0].Succeeded != 2 {
			t.Fatalf("rounds should still run: %+v", res.Rounds[0])
		}
	})
}
