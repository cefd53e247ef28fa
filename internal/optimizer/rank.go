package optimizer

import (
	"path/filepath"
	"slices"

	"github.com/GoSim-25-26J-441/prms-calibration/internal/scenario"
	"github.com/GoSim-25-26J-441/prms-calibration/internal/score"
	"github.com/GoSim-25-26J-441/prms-calibration/internal/series"
	"github.com/GoSim-25-26J-441/prms-calibration/internal/tseries"
)

// ScoreSeries scores every member of a finished series against the observed
// column, returning one entry per member in member order. Members that
// failed, or whose output cannot be scored, get the worst-possible value of
// every metric and a Failure message.
func ScoreSeries(s *series.Series, obs *tseries.Table, obsCol, simCol string, w tseries.Window, metrics []score.Metric) []Entry {
	members := s.Scenarios()
	entries := make([]Entry, len(members))
	for i, sc := range members {
		entries[i] = scoreScenario(sc, i, obs, obsCol, simCol, w, metrics)
	}
	return entries
}

func scoreScenario(sc *scenario.Scenario, index int, obs *tseries.Table, obsCol, simCol string, w tseries.Window, metrics []score.Metric) Entry {
	e := Entry{
		ScenarioID: sc.ID,
		Index:      index,
		Dir:        sc.Dir,
		ParamFile:  filepath.Join(sc.Dir, scenario.InputsDir, sc.Layout.Parameters),
		OutputFile: sc.OutputPath(),
		Status:     sc.Status(),
	}
	if sc.Status() != scenario.StatusSucceeded {
		e.Scores = score.WorstScores(metrics)
		if f := sc.Failure(); f != nil {
			e.Failure = f.Error()
		}
		return e
	}
	scores, err := score.Evaluate(obs, obsCol, sc.Output(), simCol, w, metrics)
	if err != nil {
		e.Scores = score.WorstScores(metrics)
		e.Failure = "score: " + err.Error()
		return e
	}
	e.Scores = scores
	return e
}

// Rank returns the successful entries ordered best first by primary. Entries
// with equal scores keep their input order.
func Rank(entries []Entry, primary score.Metric) []Entry {
	ranked := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Succeeded() {
			ranked = append(ranked, e)
		}
	}
	name := primary.Name()
	slices.SortStableFunc(ranked, func(a, b Entry) int {
		ka, kb := score.Key(primary, a.Scores[name]), score.Key(primary, b.Scores[name])
		switch {
		case ka > kb:
			return -1
		case ka < kb:
			return 1
		}
		return 0
	})
	return ranked
}
