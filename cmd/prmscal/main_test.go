package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/GoSim-25-26J-441/prms-calibration/internal/optimizer"
	"github.com/GoSim-25-26J-441/prms-calibration/internal/simtest"
)

func TestMain(m *testing.M) {
	simtest.MaybeRun()
	os.Exit(m.Run())
}

// writeJob creates a base tree, an observed file and a config whose job
// section is job, returning the config path and work dir.
func writeJob(t *testing.T, job string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	base := filepath.Join(dir, "base")
	if _, err := simtest.WriteBase(base, 1.0); err != nil {
		t.Fatalf("WriteBase: %v", err)
	}
	observed := filepath.Join(dir, "observed.csv")
	if err := simtest.WriteObserved(observed, simtest.Column, 10, simtest.Days); err != nil {
		t.Fatalf("WriteObserved: %v", err)
	}
	env := simtest.Env(simtest.Options{})
	quoted := make([]string, len(env))
	for i, e := range env {
		quoted[i] = strconv.Quote(e)
	}
	work := filepath.Join(dir, "work")
	cfg := fmt.Sprintf(`title: dry_creek
log_level: warn
work_dir: %q
max_workers: 2
simulator:
  executable: %q
  args: ["{control}"]
  env: [%s]
  timeout: 1m
inputs:
  base_dir: %q
%s`, work, simtest.Executable(), strings.Join(quoted, ", "), base, strings.ReplaceAll(job, "{observed}", observed))
	path := filepath.Join(dir, "job.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return path, work
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSeriesCommand(t *testing.T) {
	cfg, work := writeJob(t, `series:
  name: k sweep
  sweep:
    - param: k
      values: [0.5, 1, 2]
`)
	out, err := run(t, "series", "--config", cfg)
	if err != nil {
		t.Fatalf("series: %v\n%s", err, out)
	}
	if !strings.Contains(out, "3 scenarios, 3 succeeded, 0 failed") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(work, "k_sweep", "series.json")); err != nil {
		t.Fatalf("manifest missing: %v", err)
	}
}

func TestCalibrateAndReportCommands(t *testing.T) {
	cfg, work := writeJob(t, `optimization:
  stage: flow
  output_column: basin_cfs_1
  observed:
    path: {observed}
  targets:
    - param: k
      min: 0.5
      max: 2
  n_samples: 3
  rounds: 2
  method: resample
  metrics: [rmse, nse]
  archive_size: 2
  seed: 7
`)
	out, err := run(t, "calibrate", "--config", cfg, "--top", "2")
	if err != nil {
		t.Fatalf("calibrate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "COEF_DET") {
		t.Fatalf("expected a result table:\n%s", out)
	}

	result := filepath.Join(work, "dry_creek_flow_opt.json")
	res, err := optimizer.Load(result)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.NSims != 6 || len(res.Archive) != 2 {
		t.Fatalf("unexpected result: %d sims, %d archived", res.NSims, len(res.Archive))
	}

	// a second calibration gets the next file name
	if _, err := run(t, "calibrate", "--config", cfg); err != nil {
		t.Fatalf("second calibrate: %v", err)
	}
	if _, err := os.Stat(filepath.Join(work, "dry_creek_flow_opt1.json")); err != nil {
		t.Fatalf("second result missing: %v", err)
	}

	out, err = run(t, "report", "--result", result, "--top", "1")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[2], optimizer.BaselineID) {
		t.Fatalf("expected header, one row and the baseline:\n%s", out)
	}

	// both replicates of the stage are ranked together
	out, err = run(t, "report", "--work-dir", work, "--stage", "flow", "--top", "4", "--paths")
	if err != nil {
		t.Fatalf("report --work-dir: %v\n%s", err, out)
	}
	if !strings.Contains(out, "output_file") || strings.Count(out, filepath.Join("outputs", "statvar.dat")) != 5 {
		t.Fatalf("expected the paths of four rows and the baseline:\n%s", out)
	}
	if _, err := run(t, "report", "--work-dir", work, "--stage", "swrad"); err == nil {
		t.Fatalf("report of a stage without results should fail")
	}
	if _, err := run(t, "report", "--work-dir", work, "--result", result); err == nil {
		t.Fatalf("--result and --work-dir together should fail")
	}
}

func TestCommandErrors(t *testing.T) {
	if _, err := run(t, "series"); err == nil {
		t.Fatalf("series without --config should fail")
	}
	if _, err := run(t, "report"); err == nil {
		t.Fatalf("report without --result or --work-dir should fail")
	}
	cfg, _ := writeJob(t, `series:
  sweep:
    - param: k
      values: [1]
`)
	if _, err := run(t, "calibrate", "--config", cfg); err == nil {
		t.Fatalf("calibrate without optimization should fail")
	}
}
