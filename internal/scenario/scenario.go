// Package scenario materialises one isolated simulator run: it builds an
// input tree from a base directory and a parameter set, invokes the
// simulator inside it and collects the output table.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/GoSim-25-26J-441/prms-calibration/internal/params"
	"github.com/GoSim-25-26J-441/prms-calibration/internal/tseries"
	"github.com/GoSim-25-26J-441/prms-calibration/pkg/errs"
	"github.com/GoSim-25-26J-441/prms-calibration/pkg/logger"
)

// Status is the lifecycle state of a scenario.
type Status string

const (
	StatusPending   Status = "pending"
	StatusBuilt     Status = "built"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool { return s == StatusSucceeded || s == StatusFailed }

const (
	InputsDir    = "inputs"
	StdoutLog    = "stdout.log"
	StderrLog    = "stderr.log"
	MetadataFile = "metadata.json"
)

// Layout names the files inside a scenario directory. Control, Parameters
// and Data live under inputs/; Output is relative to the scenario root.
type Layout struct {
	Control    string `json:"control" yaml:"control"`
	Parameters string `json:"parameters" yaml:"parameters"`
	Data       string `json:"data" yaml:"data"`
	Output     string `json:"output" yaml:"output"`
}

// DefaultLayout mirrors the directory structure the simulator expects.
func DefaultLayout() Layout {
	return Layout{
		Control:    "control",
		Parameters: "parameters",
		Data:       "data",
		Output:     filepath.Join("outputs", "statvar.dat"),
	}
}

// WithDefaults fills empty names from DefaultLayout.
func (l Layout) WithDefaults() Layout {
	d := DefaultLayout()
	if l.Control == "" {
		l.Control = d.Control
	}
	if l.Parameters == "" {
		l.Parameters = d.Parameters
	}
	if l.Data == "" {
		l.Data = d.Data
	}
	if l.Output == "" {
		l.Output = d.Output
	}
	return l
}

// Scenario is one run of the simulator. It is driven by a single goroutine
// and its results are written once, when Run returns.
type Scenario struct {
	ID     string
	Dir    string
	Params *params.Set
	Layout Layout
	Meta   Metadata
	Logger *slog.Logger

	status  Status
	failure error
	output  *tseries.Table
}

// New creates a pending scenario. meta.ID and meta.CreatedAt are filled in
// when empty.
func New(id, dir string, p *params.Set, layout Layout, meta Metadata) *Scenario {
	meta.ID = id
	meta.Status = StatusPending
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}
	if p != nil && meta.BaseParams == "" {
		meta.BaseParams = p.BaseFile()
	}
	return &Scenario{
		ID:     id,
		Dir:    dir,
		Params: p,
		Layout: layout.WithDefaults(),
		Meta:   meta,
		status: StatusPending,
	}
}

// Status returns the current lifecycle state.
func (s *Scenario) Status() Status { return s.status }

// Failure returns the recorded *errs.BuildError or *errs.RunFailure, or nil.
func (s *Scenario) Failure() error { return s.failure }

// Output returns the parsed output table of a successful run.
func (s *Scenario) Output() *tseries.Table { return s.output }

// ControlPath is the control file path relative to Dir.
func (s *Scenario) ControlPath() string { return filepath.Join(InputsDir, s.Layout.Control) }

// OutputPath is the absolute path of the output table.
func (s *Scenario) OutputPath() string { return filepath.Join(s.Dir, s.Layout.Output) }

func (s *Scenario) log() *slog.Logger {
	if s.Logger == nil {
		s.Logger = logger.Component(nil, "scenario")
	}
	return s.Logger
}

// Fail records a terminal failure without running, e.g. when the owning
// series is cancelled before the scenario starts.
func (s *Scenario) Fail(err error) {
	if s.status.Terminal() {
		return
	}
	s.status = StatusFailed
	s.failure = err
	s.Meta.recordFailure(err)
}

// Build creates the scenario directory from baseDir: every file of the base
// tree is copied under inputs/, then the parameter file is replaced by the
// scenario's parameter set. Build refuses to touch a directory that already
// has content.
func (s *Scenario) Build(baseDir string) error {
	if s.status != StatusPending {
		return fmt.Errorf("scenario %s: build in state %s", s.ID, s.status)
	}
	err := s.build(baseDir)
	if err != nil {
		s.Fail(err)
		s.log().Warn("scenario build failed", "scenario_id", s.ID, "error", err)
		return err
	}
	s.status = StatusBuilt
	s.Meta.Status = StatusBuilt
	s.log().Info("scenario built", "scenario_id", s.ID, "dir", s.Dir)
	return nil
}

func (s *Scenario) build(baseDir string) error {
	if s.Params == nil {
		return &errs.BuildError{Dir: s.Dir, Reason: "no parameter set"}
	}
	for _, name := range []string{s.Layout.Control, s.Layout.Data} {
		fi, err := os.Stat(filepath.Join(baseDir, name))
		if err != nil || fi.IsDir() {
			return &errs.BuildError{Dir: s.Dir, Reason: "base tree " + baseDir + " is missing required input " + name}
		}
	}

	entries, err := os.ReadDir(s.Dir)
	switch {
	case err == nil && len(entries) > 0:
		return &errs.BuildError{Dir: s.Dir, Reason: "working directory not empty", Err: errs.IO("build", s.Dir, os.ErrExist)}
	case err != nil && !errors.Is(err, os.ErrNotExist):
		return &errs.BuildError{Dir: s.Dir, Reason: "cannot inspect working directory", Err: errs.IO("readdir", s.Dir, err)}
	}

	inputs := filepath.Join(s.Dir, InputsDir)
	if err := os.MkdirAll(inputs, 0o755); err != nil {
		return &errs.BuildError{Dir: s.Dir, Reason: "create inputs", Err: errs.IO("mkdir", inputs, err)}
	}
	if err := os.MkdirAll(filepath.Dir(s.OutputPath()), 0o755); err != nil {
		return &errs.BuildError{Dir: s.Dir, Reason: "create outputs", Err: errs.IO("mkdir", filepath.Dir(s.OutputPath()), err)}
	}
	if err := copyTree(baseDir, inputs, s.Layout.Parameters); err != nil {
		return &errs.BuildError{Dir: s.Dir, Reason: "copy base tree", Err: err}
	}
	if err := s.Params.Write(filepath.Join(inputs, s.Layout.Parameters)); err != nil {
		return &errs.BuildError{Dir: s.Dir, Reason: "write parameters", Err: err}
	}
	return nil
}

// Run invokes the simulator in the scenario directory. Failures (launch,
// non-zero exit, timeout, unreadable output) are recorded on the scenario
// rather than returned; the directory and any partial output are kept. The
// returned error is non-nil only when the scenario was not built.
func (s *Scenario) Run(ctx context.Context, l Launcher, timeout time.Duration) error {
	if s.status != StatusBuilt {
		return fmt.Errorf("scenario %s: run in state %s", s.ID, s.status)
	}
	log := s.log().With("scenario_id", s.ID)

	s.Meta.StartedAt = time.Now().UTC()
	defer func() {
		s.Meta.EndedAt = time.Now().UTC()
		s.Meta.DurationSeconds = s.Meta.EndedAt.Sub(s.Meta.StartedAt).Seconds()
		s.Meta.Status = s.status
		if err := s.Meta.Write(filepath.Join(s.Dir, MetadataFile)); err != nil {
			log.Warn("failed to write scenario metadata", "error", err)
		}
	}()

	failure := s.execute(ctx, l, timeout)
	if failure != nil {
		s.Fail(failure)
		log.Warn("scenario run failed", "kind", failure.Kind, "exit_code", failure.ExitCode, "error", failure)
		return nil
	}

	out, err := tseries.ReadFormat(s.OutputPath(), tseries.FormatStatvar, tseries.Window{})
	if err != nil {
		s.Fail(&errs.RunFailure{ScenarioID: s.ID, Kind: errs.FailureOutput, Err: err})
		log.Warn("scenario output unreadable", "error", err)
		return nil
	}
	s.output = out
	s.status = StatusSucceeded
	s.Meta.recordFailure(nil)
	log.Info("scenario finished", "rows", out.Len(), "duration", time.Since(s.Meta.StartedAt).String())
	return nil
}

func (s *Scenario) execute(ctx context.Context, l Launcher, timeout time.Duration) *errs.RunFailure {
	stdout, err := os.Create(filepath.Join(s.Dir, StdoutLog))
	if err != nil {
		return &errs.RunFailure{ScenarioID: s.ID, Kind: errs.FailureLaunch, Err: errs.IO("create", StdoutLog, err)}
	}
	defer stdout.Close()
	stderr, err := os.Create(filepath.Join(s.Dir, StderrLog))
	if err != nil {
		return &errs.RunFailure{ScenarioID: s.ID, Kind: errs.FailureLaunch, Err: errs.IO("create", StderrLog, err)}
	}
	defer stderr.Close()

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	s.log().Info("scenario started", "scenario_id", s.ID)
	err = l.Launch(runCtx, Invocation{
		ScenarioID: s.ID,
		Dir:        s.Dir,
		Control:    s.ControlPath(),
		Stdout:     stdout,
		Stderr:     stderr,
	})

	var exit *ExitError
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return &errs.RunFailure{ScenarioID: s.ID, Kind: errs.FailureCancelled, ExitCode: -1, Err: ctx.Err()}
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return &errs.RunFailure{ScenarioID: s.ID, Kind: errs.FailureTimeout, ExitCode: -1, Err: runCtx.Err()}
	case errors.As(err, &exit):
		return &errs.RunFailure{ScenarioID: s.ID, Kind: errs.FailureExit, ExitCode: exit.Code, Err: err}
	default:
		return &errs.RunFailure{ScenarioID: s.ID, Kind: errs.FailureLaunch, ExitCode: -1, Err: err}
	}
}

// copyTree copies regular files from src into dst, preserving relative
// paths. skip names a top-level file to leave out.
func copyTree(src, dst, skip string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return errs.IO("walk", path, err)
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(dst, rel)
		switch {
		case d.IsDir():
			return errs.IO("mkdir", target, os.MkdirAll(target, 0o755))
		case rel == skip || !d.Type().IsRegular():
			return nil
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errs.IO("open", src, err)
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return errs.IO("create", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errs.IO("copy", dst, err)
	}
	return errs.IO("close", dst, out.Close())
}
