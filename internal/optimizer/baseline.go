package optimizer

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/stat"

	"github.com/GoSim-25-26J-441/prms-calibration/internal/scenario"
	"github.com/GoSim-25-26J-441/prms-calibration/internal/score"
	"github.com/GoSim-25-26J-441/prms-calibration/internal/tseries"
	"github.com/GoSim-25-26J-441/prms-calibration/pkg/logger"
)

// BaselineID is the scenario id of the unmodified model run.
const BaselineID = "baseline"

// baselineOutput returns the output table already present in the base tree,
// either at the layout's output path or next to the control file.
func baselineOutput(baseDir string, layout scenario.Layout) (string, bool) {
	for _, p := range []string{
		filepath.Join(baseDir, layout.Output),
		filepath.Join(baseDir, filepath.Base(layout.Output)),
	} {
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p, true
		}
	}
	return "", false
}

// baseline scores the unmodified inputs. Output already present in the base
// tree is reused; otherwise the base inputs run once as a scenario under the
// run directory. A failed baseline is recorded with worst scores and does
// not stop the calibration.
func (o *Optimizer) baseline(ctx context.Context, req *Request, s *Sampler, metrics []score.Metric, log *slog.Logger) *Entry {
	layout := req.Layout.WithDefaults()
	var e Entry
	if path, ok := baselineOutput(req.BaseDir, layout); ok {
		e = Entry{
			ScenarioID: BaselineID,
			Dir:        req.BaseDir,
			ParamFile:  filepath.Join(req.BaseDir, layout.Parameters),
			OutputFile: path,
			Status:     scenario.StatusSucceeded,
		}
		sim, err := tseries.ReadFormat(path, tseries.FormatStatvar, tseries.Window{})
		if err == nil {
			e.Scores, err = score.Evaluate(req.Observed, req.ObservedColumn, sim, req.OutputColumn, req.Window, metrics)
		}
		if err != nil {
			e.Scores = score.WorstScores(metrics)
			e.Failure = "score: " + err.Error()
		}
		log.Info("baseline scored from existing output", "path", path)
	} else {
		sc := scenario.New(BaselineID, filepath.Join(o.runDir, BaselineID), req.Base, layout, scenario.Metadata{Description: "unmodified inputs"})
		sc.Logger = logger.Component(o.Logger, "scenario")
		if err := sc.Build(req.BaseDir); err == nil {
			if err := sc.Run(ctx, o.Launcher, o.Timeout); err != nil {
				sc.Fail(err)
			}
		}
		if o.Recorder != nil {
			o.Recorder.ScenarioFinished(sc)
		}
		e = scoreScenario(sc, 0, req.Observed, req.ObservedColumn, req.OutputColumn, req.Window, metrics)
		log.Info("baseline run finished", "dir", sc.Dir, "status", sc.Status())
	}

	e.Round = -1
	e.Values = s.Base()
	e.Means = make(map[string]float64, len(e.Values))
	for n, v := range e.Values {
		e.Means[n] = stat.Mean(v, nil)
	}
	if e.Failure != "" {
		log.Warn("baseline could not be scored", "error", e.Failure)
	}
	return &e
}
