package optimizer

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/GoSim-25-26J-441/prms-calibration/internal/params"
	"github.com/GoSim-25-26J-441/prms-calibration/internal/scenario"
	"github.com/GoSim-25-26J-441/prms-calibration/internal/score"
	"github.com/GoSim-25-26J-441/prms-calibration/internal/simtest"
	"github.com/GoSim-25-26J-441/prms-calibration/pkg/errs"
)

func sampleResult() *Result {
	ok := Entry{
		ScenarioID: "000_k:1.000000",
		Values:     map[string][]float64{"k": {1}},
		Means:      map[string]float64{"k": 1},
		Scores:     score.Scores{score.NSE: 0.8, score.RMSE: 1.5},
		Status:     scenario.StatusSucceeded,
	}
	failed := Entry{
		ScenarioID: "001_k:2.000000",
		Index:      1,
		Values:     map[string][]float64{"k": {2}},
		Means:      map[string]float64{"k": 2},
		Scores:     score.Scores{score.NSE: math.Inf(-1), score.RMSE: math.Inf(1)},
		Status:     scenario.StatusFailed,
		Failure:    "exit status 3",
	}
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &Result{
		Title:          "dry_creek",
		Stage:          "flow",
		ParamsAdjusted: []string{"k"},
		Ranges:         map[string]params.Range{"k": {Min: 0.5, Max: 2}},
		OriginalParams: map[string][]float64{"k": {1}},
		OutputColumn:   simtest.Column,
		Method:         MethodResample,
		Policy:         "rank",
		Metrics:        []string{score.NSE, score.RMSE},
		Primary:        score.NSE,
		NProc:          2,
		NSims:          2,
		Seed:           42,
		StartedAt:      start,
		EndedAt:        start.Add(time.Minute),
		Rounds: []Round{{
			Index:        0,
			Entries:      []Entry{ok, failed},
			Ranking:      []string{ok.ScenarioID},
			Succeeded:    1,
			Failed:       1,
			FailedValues: []map[string]float64{{"k": 2}},
			Archived:     1,
		}},
		Archive:    []Entry{ok},
		StopReason: StopRounds,
	}
}

func TestExportLoadRoundTrip(t *testing.T) {
	for _, name := range []string{"result.json", "result.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			res := sampleResult()
			if err := res.Export(path); err != nil {
				t.Fatalf("Export: %v", err)
			}
			got, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if got.Title != res.Title || got.Seed != 42 || got.Method != MethodResample || !got.StartedAt.Equal(res.StartedAt) {
				t.Fatalf("metadata lost: %+v", got)
			}
			if got.Ranges["k"].Max != 2 || got.OriginalParams["k"][0] != 1 {
				t.Fatalf("ranges lost: %+v", got.Ranges)
			}
			failed := got.Rounds[0].Entries[1]
			if !math.IsInf(failed.Scores[score.NSE], -1) || !math.IsInf(failed.Scores[score.RMSE], 1) {
				t.Fatalf("worst scores lost: %v", failed.Scores)
			}
			if len(got.Archive) != 1 || got.Archive[0].Scores[score.NSE] != 0.8 {
				t.Fatalf("archive lost: %+v", got.Archive)
			}
			if dirs := got.SimDirs(); len(dirs) != 2 {
				t.Fatalf("SimDirs: %v", dirs)
			}
		})
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "result.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	var ferr *errs.FormatError
	if _, err := Load(path); !errors.As(err, &ferr) {
		t.Fatalf("expected a format error, got %v", err)
	}
}

func TestMetafileName(t *testing.T) {
	dir := t.TempDir()
	touch := func(name string) {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	next := func() string {
		name, err := MetafileName(dir, "dry_creek", "flow")
		if err != nil {
			t.Fatalf("MetafileName: %v", err)
		}
		return name
	}

	touch("other_flow_opt.json")
	touch("dry_creek_flow_opt.yaml")
	if got := next(); got != "dry_creek_flow_opt.json" {
		t.Fatalf("first name %q", got)
	}
	touch("dry_creek_flow_opt.json")
	if got := next(); got != "dry_creek_flow_opt1.json" {
		t.Fatalf("second name %q", got)
	}
	touch("dry_creek_flow_opt5.json")
	if got := next(); got != "dry_creek_flow_opt6.json" {
		t.Fatalf("after gap %q", got)
	}

	name, err := MetafileName(filepath.Join(dir, "missing"), "a", "b")
	if err != nil || name != "a_b_opt.json" {
		t.Fatalf("missing dir: %q %v", name, err)
	}
}

func TestReportOrdering(t *testing.T) {
	mk := func(id string, nse, rmse, pbias, r2 float64) Entry {
		return Entry{
			ScenarioID: id,
			Means:      map[string]float64{"k": 1},
			Scores:     score.Scores{score.NSE: nse, score.RMSE: rmse, score.PBias: pbias, score.R2: r2},
			Status:     scenario.StatusSucceeded,
		}
	}
	failed := mk("failed", 1, 0, 0, 1)
	failed.Status = scenario.StatusFailed
	res := &Result{
		ParamsAdjusted: []string{"k"},
		Rounds: []Round{
			{Entries: []Entry{mk("low", 0.1, 1, 0, 0.5), mk("tie-rmse", 0.9, 2, 0, 0.5), failed}},
			{Entries: []Entry{mk("best", 0.9, 1, 5, 0.5), mk("tie-pbias", 0.9, 1, -1, 0.5)}},
		},
	}
	rows, err := Report(res, ReportOptions{})
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	want := []string{"tie-pbias", "best", "tie-rmse", "low"}
	if len(rows) != len(want) {
		t.Fatalf("rows %+v", rows)
	}
	for i, id := range want {
		if rows[i].ScenarioID != id {
			t.Fatalf("row %d is %s, want %s", i, rows[i].ScenarioID, id)
		}
	}

	top, _ := Report(res, ReportOptions{TopN: 2})
	if len(top) != 2 || top[0].ScenarioID != "tie-pbias" {
		t.Fatalf("TopN rows %+v", top)
	}

	var buf bytes.Buffer
	if err := WriteReport(&buf, top); err != nil {
		t.Fatalf("WriteReport: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "COEF_DET") || !strings.Contains(out, "tie-pbias") || strings.Contains(out, "low") {
		t.Fatalf("unexpected report:\n%s", out)
	}
}

func TestReportMonthlyRescoresFromFiles(t *testing.T) {
	dir := t.TempDir()
	obsPath := filepath.Join(dir, "observed.csv")
	if err := simtest.WriteObserved(obsPath, simtest.Column, 10, simtest.Days); err != nil {
		t.Fatal(err)
	}
	scenarioDir := func(id string, v float64) string {
		d := filepath.Join(dir, id)
		if err := os.MkdirAll(filepath.Join(d, "outputs"), 0o755); err != nil {
			t.Fatal(err)
		}
		out, _ := simtest.Constant(simtest.Column, v, simtest.Days)
		f, err := os.Create(filepath.Join(d, "outputs", "statvar.dat"))
		if err != nil {
			t.Fatal(err)
		}
		defer f.Close()
		if err := out.WriteStatvar(f); err != nil {
			t.Fatal(err)
		}
		return d
	}
	res := &Result{
		OutputColumn: simtest.Column,
		ObservedPath: obsPath,
		Rounds: []Round{{Entries: []Entry{
			{ScenarioID: "double", Dir: scenarioDir("double", 20), Status: scenario.StatusSucceeded, Scores: score.Scores{score.NSE: 0.99}},
			{ScenarioID: "exact", Dir: scenarioDir("exact", 10), Status: scenario.StatusSucceeded, Scores: score.Scores{score.NSE: 0.1}},
		}}},
	}
	rows, err := Report(res, ReportOptions{Monthly: true})
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if rows[0].ScenarioID != "exact" || rows[0].Scores[score.NSE] != 1 || rows[0].Scores[score.RMSE] != 0 {
		t.Fatalf("monthly rescoring: %+v", rows)
	}
	if rows[1].Scores[score.PBias] != 100 {
		t.Fatalf("expected +100%% bias for the doubled run, got %v", rows[1].Scores)
	}
}

func TestLoadStageCollectsReplicates(t *testing.T) {
	dir := t.TempDir()
	write := func(name, stage string, nse float64) {
		res := sampleResult()
		res.Stage = stage
		res.Rounds[0].Entries[0].ScenarioID = name
		res.Rounds[0].Entries[0].Scores = score.Scores{score.NSE: nse, score.RMSE: 1, score.PBias: 0, score.R2: 0.5}
		if err := res.Export(filepath.Join(dir, name)); err != nil {
			t.Fatalf("Export: %v", err)
		}
	}
	write("dry_creek_swrad_opt.json", "swrad", 0.4)
	write("dry_creek_swrad_opt1.json", "swrad", 0.7)
	write("dry_creek_pet_opt.yaml", "pet", 0.9)
	if err := os.WriteFile(filepath.Join(dir, "notes.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	swrad, err := LoadStage(dir, "swrad")
	if err != nil {
		t.Fatalf("LoadStage: %v", err)
	}
	if len(swrad) != 2 {
		t.Fatalf("expected 2 swrad results, got %d", len(swrad))
	}
	rows, err := ReportAll(swrad, ReportOptions{})
	if err != nil {
		t.Fatalf("ReportAll: %v", err)
	}
	if len(rows) != 2 || rows[0].ScenarioID != "dry_creek_swrad_opt1.json" || rows[0].Stage != "swrad" {
		t.Fatalf("replicates not ranked together: %+v", rows)
	}

	all, err := LoadStage(dir, StageAll)
	if err != nil {
		t.Fatalf("LoadStage all: %v", err)
	}
	groups := GroupByStage(all)
	if len(all) != 3 || len(groups) != 2 || groups[0][0].Stage != "pet" || len(groups[1]) != 2 {
		t.Fatalf("unexpected grouping of %d results: %d groups", len(all), len(groups))
	}

	if _, err := LoadStage(dir, "flow"); err == nil {
		t.Fatalf("expected an error for a stage without results")
	}
	if _, err := LoadStage(filepath.Join(dir, "missing"), StageAll); err == nil {
		t.Fatalf("expected an error for a missing directory")
	}
}

func TestReportPathsAndBaseline(t *testing.T) {
	res := sampleResult()
	res.Layout = scenario.Layout{Parameters: "params.prms", Output: "out/statvar.dat"}
	res.Rounds[0].Entries[0].Dir = "/runs/r0/000"
	res.Rounds[0].Entries[0].Scores = score.Scores{score.NSE: 0.8, score.RMSE: 1.5, score.PBias: 2, score.R2: 0.7}
	res.Baseline = &Entry{
		ScenarioID: BaselineID,
		Round:      -1,
		Dir:        "/models/dry_creek",
		ParamFile:  "/models/dry_creek/params.prms",
		OutputFile: "/models/dry_creek/statvar.dat",
		Means:      map[string]float64{"k": 1},
		Scores:     score.Scores{score.NSE: 0.95, score.RMSE: 0.5, score.PBias: 1, score.R2: 0.9},
		Status:     scenario.StatusSucceeded,
	}

	rows, err := Report(res, ReportOptions{TopN: 1})
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if len(rows) != 2 || rows[0].Baseline || !rows[1].Baseline {
		t.Fatalf("baseline must follow the ranked rows: %+v", rows)
	}
	if rows[0].ParamFile != filepath.Join("/runs/r0/000", "inputs", "params.prms") ||
		rows[0].OutputFile != filepath.Join("/runs/r0/000", "out", "statvar.dat") {
		t.Fatalf("unexpected paths %q %q", rows[0].ParamFile, rows[0].OutputFile)
	}
	if rows[1].OutputFile != "/models/dry_creek/statvar.dat" {
		t.Fatalf("baseline output %q", rows[1].OutputFile)
	}

	var buf bytes.Buffer
	if err := WriteReport(&buf, rows); err != nil {
		t.Fatalf("WriteReport: %v", err)
	}
	if !strings.Contains(buf.String(), "base") || !strings.Contains(buf.String(), "0.95") {
		t.Fatalf("baseline row missing:\n%s", buf.String())
	}
	buf.Reset()
	if err := WritePaths(&buf, rows); err != nil {
		t.Fatalf("WritePaths: %v", err)
	}
	if !strings.Contains(buf.String(), "/models/dry_creek/params.prms") {
		t.Fatalf("paths missing:\n%s", buf.String())
	}

	res.Baseline.Status = scenario.StatusFailed
	if rows, _ := Report(res, ReportOptions{}); len(rows) != 1 {
		t.Fatalf("failed baseline must not be reported: %+v", rows)
	}
}
