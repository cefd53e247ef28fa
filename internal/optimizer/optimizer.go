// Package optimizer drives Monte-Carlo calibration: it samples parameter
// values, runs each sample as a scenario series, scores the outputs against
// observed data and keeps a bounded archive of the best samples.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/GoSim-25-26J-441/prms-calibration/internal/params"
	"github.com/GoSim-25-26J-441/prms-calibration/internal/scenario"
	"github.com/GoSim-25-26J-441/prms-calibration/internal/score"
	"github.com/GoSim-25-26J-441/prms-calibration/internal/series"
	"github.com/GoSim-25-26J-441/prms-calibration/internal/tseries"
	"github.com/GoSim-25-26J-441/prms-calibration/pkg/logger"
	"github.com/GoSim-25-26J-441/prms-calibration/pkg/utils"
)

// Stop reasons recorded on a Result.
const (
	StopRounds    = "round budget exhausted"
	StopCancelled = "cancelled"
)

// Request describes one calibration.
type Request struct {
	Title       string
	Description string
	Stage       string

	BaseDir string // base input tree
	Base    *params.Set
	Layout  scenario.Layout
	WorkDir string // rounds run under WorkDir/<title>_<stage>_<run id>/round_<n>

	Observed       *tseries.Table
	ObservedPath   string // recorded in the result only
	ObservedColumn string // defaults to OutputColumn
	OutputColumn   string
	Window         tseries.Window

	Targets     []Target
	NSamples    int
	Rounds      int
	Method      Method
	NoiseFactor float64
	Policy      ResamplePolicy // defaults to RankPolicy{Decay: 0.5, RoundDecay: 1, Explore: 0.1}
	ArchiveSize int
	Metrics     []string // defaults to nse, rmse, pbias, r2
	Primary     string   // defaults to the first metric

	// EarlyStopWindow > 0 stops after that many rounds without improvement
	// of the archive best. Convergence overrides it when set.
	EarlyStopWindow int
	Convergence     ConvergenceStrategy

	// SkipBaseline disables scoring the unmodified inputs before round 0.
	SkipBaseline bool

	Seed int64 // 0 seeds from the clock
}

// Round is the record of one SAMPLE..ARCHIVE_UPDATE cycle.
type Round struct {
	Index        int                  `json:"index" yaml:"index"`
	SeriesID     string               `json:"series_id" yaml:"series_id"`
	Root         string               `json:"root" yaml:"root"`
	Entries      []Entry              `json:"entries" yaml:"entries"`
	Ranking      []string             `json:"ranking" yaml:"ranking"`
	Succeeded    int                  `json:"succeeded" yaml:"succeeded"`
	Failed       int                  `json:"failed" yaml:"failed"`
	FailedValues []map[string]float64 `json:"failed_values,omitempty" yaml:"failed_values,omitempty"`
	Archived     int                  `json:"archived" yaml:"archived"`
	StartedAt    time.Time            `json:"started_at" yaml:"started_at"`
	EndedAt      time.Time            `json:"ended_at" yaml:"ended_at"`
}

// Result is the outcome of MonteCarlo. It is what Export writes.
type Result struct {
	Title          string                  `json:"title" yaml:"title"`
	RunID          string                  `json:"run_id" yaml:"run_id"`
	RunDir         string                  `json:"run_dir" yaml:"run_dir"`
	Description    string                  `json:"description,omitempty" yaml:"description,omitempty"`
	Stage          string                  `json:"stage" yaml:"stage"`
	ParamsAdjusted []string                `json:"params_adjusted" yaml:"params_adjusted"`
	Ranges         map[string]params.Range `json:"ranges" yaml:"ranges"`
	OriginalParams map[string][]float64    `json:"original_params" yaml:"original_params"`
	OutputColumn   string                  `json:"statvar_name" yaml:"statvar_name"`
	ObservedPath   string                  `json:"measured,omitempty" yaml:"measured,omitempty"`
	ObservedColumn string                  `json:"measured_column,omitempty" yaml:"measured_column,omitempty"`
	Window         tseries.Window          `json:"window" yaml:"window"`
	Layout         scenario.Layout         `json:"layout" yaml:"layout"`
	Method         Method                  `json:"resample_method" yaml:"resample_method"`
	Policy         string                  `json:"policy,omitempty" yaml:"policy,omitempty"`
	Metrics        []string                `json:"metrics" yaml:"metrics"`
	Primary        string                  `json:"primary_metric" yaml:"primary_metric"`
	NProc          int                     `json:"nproc" yaml:"nproc"`
	NSims          int                     `json:"n_sims" yaml:"n_sims"`
	Seed           int64                   `json:"seed" yaml:"seed"`
	StartedAt      time.Time               `json:"start_time" yaml:"start_time"`
	EndedAt        time.Time               `json:"end_time" yaml:"end_time"`
	Baseline       *Entry                  `json:"baseline,omitempty" yaml:"baseline,omitempty"`
	Rounds         []Round                 `json:"rounds" yaml:"rounds"`
	Archive        []Entry                 `json:"archive" yaml:"archive"`
	Converged      bool                    `json:"converged" yaml:"converged"`
	StopReason     string                  `json:"stop_reason" yaml:"stop_reason"`
}

// SimDirs lists every scenario directory of every round, in order.
func (r *Result) SimDirs() []string {
	var dirs []string
	for _, rd := range r.Rounds {
		for _, e := range rd.Entries {
			dirs = append(dirs, e.Dir)
		}
	}
	return dirs
}

// Optimizer owns the launcher and worker pool used for every round, and
// the archive and history of the calibration it is running.
type Optimizer struct {
	Launcher  scenario.Launcher
	Pool      *series.Pool
	Timeout   time.Duration
	Recorder  series.Recorder
	Observers []Observer
	Logger    *slog.Logger

	running sync.Mutex
	runDir  string
	archive *Archive
	rounds  []Round
}

// New creates an optimizer running scenarios through l on pool.
func New(l scenario.Launcher, pool *series.Pool) *Optimizer {
	return &Optimizer{Launcher: l, Pool: pool}
}

// ErrBusy is returned when MonteCarlo is called while another calibration
// is running on the same Optimizer.
var ErrBusy = errors.New("optimizer: calibration already running")

func (o *Optimizer) validate(req *Request) error {
	if o.Launcher == nil || o.Pool == nil {
		return fmt.Errorf("optimizer: launcher and pool are required")
	}
	if req.Base == nil || req.BaseDir == "" {
		return fmt.Errorf("optimizer: base parameter set and input tree are required")
	}
	if req.Observed == nil {
		return fmt.Errorf("optimizer: observed data is required")
	}
	if req.OutputColumn == "" {
		return fmt.Errorf("optimizer: output column is required")
	}
	if req.ObservedColumn == "" {
		req.ObservedColumn = req.OutputColumn
	}
	if !req.Observed.Has(req.ObservedColumn) {
		return fmt.Errorf("optimizer: observed data has no column %q", req.ObservedColumn)
	}
	if req.NSamples < 1 {
		return fmt.Errorf("optimizer: n_samples must be at least 1, got %d", req.NSamples)
	}
	if req.Rounds < 1 {
		req.Rounds = 1
	}
	if req.Method == "" {
		req.Method = MethodUniform
	}
	if req.Title == "" {
		req.Title = "prms"
	}
	if req.Stage == "" {
		req.Stage = "custom"
	}
	if req.Policy == nil {
		req.Policy = RankPolicy{Decay: 0.5, RoundDecay: 1, Explore: 0.1}
	}
	if req.ArchiveSize < 1 {
		req.ArchiveSize = 10
	}
	if len(req.Metrics) == 0 {
		req.Metrics = []string{score.NSE, score.RMSE, score.PBias, score.R2}
	}
	if req.Primary == "" {
		req.Primary = req.Metrics[0]
	}
	if !slices.Contains(req.Metrics, req.Primary) {
		req.Metrics = append(req.Metrics, req.Primary)
	}
	return nil
}

// MonteCarlo runs the calibration. Every round samples NSamples candidates,
// runs them as one series, scores successful members against the observed
// data, ranks them by the primary metric and merges them into the archive.
// Failed members stay in the round record with worst-possible scores.
//
// MonteCarlo resets the optimizer's archive and history; it returns ErrBusy
// when called concurrently on the same Optimizer. Cancelling ctx stops after
// the running round; the partial result is returned with ctx's error.
func (o *Optimizer) MonteCarlo(ctx context.Context, req Request) (*Result, error) {
	if !o.running.TryLock() {
		return nil, ErrBusy
	}
	defer o.running.Unlock()

	if err := o.validate(&req); err != nil {
		return nil, err
	}
	metrics, err := score.NewSet(req.Metrics)
	if err != nil {
		return nil, err
	}
	primary := metrics[slices.Index(req.Metrics, req.Primary)]

	seed := req.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rnd := utils.NewRandSource(seed)
	sampler, err := NewSampler(req.Base, req.Targets, req.Method, req.NoiseFactor, rnd)
	if err != nil {
		return nil, err
	}

	log := logger.Component(o.Logger, "optimizer").With("title", req.Title, "stage", req.Stage)
	runID := utils.GenerateRunID()
	o.runDir = filepath.Join(req.WorkDir, fmt.Sprintf("%s_%s_%s", utils.SanitizeID(req.Title), utils.SanitizeID(req.Stage), runID))
	o.archive = NewArchive(req.ArchiveSize, primary)
	o.rounds = nil

	res := &Result{
		Title:          req.Title,
		RunID:          runID,
		RunDir:         o.runDir,
		Description:    req.Description,
		Stage:          req.Stage,
		ParamsAdjusted: sampler.Names(),
		Ranges:         sampler.Ranges(),
		OriginalParams: sampler.Base(),
		OutputColumn:   req.OutputColumn,
		ObservedPath:   req.ObservedPath,
		ObservedColumn: req.ObservedColumn,
		Window:         req.Window,
		Layout:         req.Layout.WithDefaults(),
		Method:         req.Method,
		Policy:         req.Policy.Name(),
		Metrics:        req.Metrics,
		Primary:        req.Primary,
		NProc:          o.Pool.Size(),
		Seed:           seed,
		StartedAt:      time.Now().UTC(),
		StopReason:     StopRounds,
	}
	conv := req.Convergence
	if conv == nil && req.EarlyStopWindow > 0 {
		conv = NewNoImprovementStrategy(ConvergenceConfig{NoImprovementRounds: req.EarlyStopWindow})
	}

	o.notify(ctx, Event{Kind: EventStarted, RunID: runID, Title: req.Title, Stage: req.Stage, TotalRounds: req.Rounds})
	log.Info("calibration started", "targets", strings.Join(res.ParamsAdjusted, ","), "rounds", req.Rounds, "n_samples", req.NSamples, "method", req.Method)

	if !req.SkipBaseline && ctx.Err() == nil {
		res.Baseline = o.baseline(ctx, &req, sampler, metrics, log)
	}

	var history []Candidate
	var steps []Step
	for r := 0; r < req.Rounds; r++ {
		if ctx.Err() != nil {
			res.StopReason = StopCancelled
			break
		}
		samples := o.sample(&req, sampler, rnd, history, r)
		round, err := o.runRound(ctx, &req, r, samples, metrics, primary, log)
		if err != nil {
			o.finish(ctx, res)
			return res, fmt.Errorf("round %d: %w", r, err)
		}
		for _, e := range round.Entries {
			if e.Succeeded() {
				history = append(history, Candidate{Round: r, Index: e.Index, Key: score.Key(primary, e.Scores[primary.Name()]), Values: e.Values})
			}
		}
		o.rounds = append(o.rounds, *round)
		res.Rounds = o.rounds
		res.NSims += len(round.Entries)
		steps = append(steps, Step{Round: r, BestKey: o.archive.BestKey()})

		best, _ := o.archive.Best()
		log.Info("round finished",
			"round", r,
			"succeeded", round.Succeeded,
			"failed", round.Failed,
			"archived", round.Archived,
			"best_scenario", best.ScenarioID,
			"best_"+primary.Name(), best.Scores[primary.Name()],
		)
		o.notify(ctx, Event{Kind: EventRound, RunID: runID, Title: req.Title, Stage: req.Stage, TotalRounds: req.Rounds, Round: round, Archive: o.archive.Entries(), Primary: primary.Name()})

		if conv != nil {
			if done, reason := conv.CheckConvergence(steps); done {
				res.Converged = true
				res.StopReason = reason
				break
			}
		}
	}
	if ctx.Err() != nil {
		res.StopReason = StopCancelled
	}
	o.finish(ctx, res)
	log.Info("calibration finished", "rounds", len(res.Rounds), "n_sims", res.NSims, "stop_reason", res.StopReason)
	return res, ctx.Err()
}

func (o *Optimizer) finish(ctx context.Context, res *Result) {
	res.Archive = o.archive.Entries()
	res.EndedAt = time.Now().UTC()
	// observers run with a live context even after cancellation
	o.notify(context.WithoutCancel(ctx), Event{Kind: EventFinished, RunID: res.RunID, Title: res.Title, Stage: res.Stage, TotalRounds: len(res.Rounds), Archive: res.Archive, Result: res, Primary: res.Primary})
}

// Archive returns the archive of the last calibration, best first.
func (o *Optimizer) Archive() []Entry {
	if o.archive == nil {
		return nil
	}
	return o.archive.Entries()
}

// Rounds returns the round history of the last calibration.
func (o *Optimizer) Rounds() []Round { return slices.Clone(o.rounds) }

// sample draws NSamples candidates. With MethodResample and a scored
// history, each draw explores with the policy's probability and otherwise
// resamples around a candidate picked by the policy's weights.
func (o *Optimizer) sample(req *Request, s *Sampler, rnd *utils.RandSource, history []Candidate, round int) []map[string][]float64 {
	out := make([]map[string][]float64, req.NSamples)
	var weights []float64
	if req.Method == MethodResample && len(history) > 0 {
		weights = req.Policy.Weights(history, round)
	}
	for i := range out {
		if weights == nil || rnd.BernoulliBool(req.Policy.ExploreProb()) {
			out[i] = s.Fresh()
			continue
		}
		out[i] = s.Around(history[rnd.WeightedIndex(weights)].Values)
	}
	return out
}

func sampleName(index int, names []string, values map[string][]float64) string {
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = fmt.Sprintf("%s:%.6f", n, stat.Mean(values[n], nil))
	}
	return fmt.Sprintf("%03d_%s", index, strings.Join(parts, "_"))
}

func (o *Optimizer) runRound(ctx context.Context, req *Request, r int, samples []map[string][]float64, metrics []score.Metric, primary score.Metric, log *slog.Logger) (*Round, error) {
	names := make([]string, 0, len(req.Targets))
	for _, t := range req.Targets {
		names = append(names, t.Param)
	}
	entries := make([]series.Entry, len(samples))
	for i, vals := range samples {
		chain := make(params.Chain, len(names))
		for j, n := range names {
			chain[j] = params.Assign{Param: n, Values: vals[n]}
		}
		var mod params.Modification = chain
		if len(chain) == 1 {
			mod = chain[0]
		}
		entries[i] = series.Entry{Name: sampleName(i, names, vals), Mod: mod}
	}

	root := filepath.Join(o.runDir, fmt.Sprintf("round_%03d", r))
	ser, err := series.FromModifications(req.BaseDir, req.Base, entries, root, series.Options{
		Title:       fmt.Sprintf("%s %s round %d", req.Title, req.Stage, r),
		Description: req.Description,
		Layout:      req.Layout,
		Logger:      o.Logger,
		Recorder:    o.Recorder,
	})
	if err != nil {
		return nil, err
	}

	round := &Round{Index: r, SeriesID: ser.ID, Root: root, StartedAt: time.Now().UTC()}
	if _, err := ser.Run(ctx, o.Pool, o.Launcher, o.Timeout); err != nil {
		return nil, err
	}

	round.Entries = ScoreSeries(ser, req.Observed, req.ObservedColumn, req.OutputColumn, req.Window, metrics)
	for i := range round.Entries {
		e := &round.Entries[i]
		e.Round = r
		e.Values = samples[i]
		e.Means = make(map[string]float64, len(names))
		for _, n := range names {
			e.Means[n] = stat.Mean(samples[i][n], nil)
		}
		if e.Succeeded() {
			round.Succeeded++
			continue
		}
		round.Failed++
		round.FailedValues = append(round.FailedValues, e.Means)
		if e.Status == scenario.StatusSucceeded {
			log.Warn("scenario could not be scored", "scenario_id", e.ScenarioID, "error", e.Failure)
		}
	}

	// ties keep sampling order, so earlier samples win in the archive too
	for _, e := range Rank(round.Entries, primary) {
		round.Ranking = append(round.Ranking, e.ScenarioID)
		if o.archive.Offer(e) {
			round.Archived++
		}
	}
	round.EndedAt = time.Now().UTC()
	return round, nil
}
