// Package score implements the goodness-of-fit metrics used to compare a
// simulated series with observed data.
package score

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/GoSim-25-26J-441/prms-calibration/internal/tseries"
)

// Direction says which way a metric improves.
type Direction int

const (
	// Maximize: higher is better (efficiencies, correlations).
	Maximize Direction = iota
	// Minimize: lower is better (error magnitudes).
	Minimize
	// MinimizeAbs: closer to zero is better (signed bias).
	MinimizeAbs
)

func (d Direction) String() string {
	switch d {
	case Maximize:
		return "maximize"
	case Minimize:
		return "minimize"
	case MinimizeAbs:
		return "minimize_abs"
	}
	return "unknown"
}

// Metric scores a simulated series against observations of equal length.
type Metric interface {
	// Name returns the metric's identifier as used in configs and exports.
	Name() string
	// Direction returns which way the metric improves.
	Direction() Direction
	// Score computes the metric. obs and sim must be non-empty and of equal
	// length without missing values.
	Score(obs, sim []float64) (float64, error)
}

// Metric names.
const (
	NSE     = "nse"
	RMSE    = "rmse"
	PBias   = "pbias"
	Pearson = "pearson"
	R2      = "r2"
	KGE     = "kge"
)

// New creates a metric from its name
func New(name string) (Metric, error) {
	switch strings.ToLower(name) {
	case NSE:
		return nseMetric{}, nil
	case RMSE:
		return rmseMetric{}, nil
	case PBias:
		return pbiasMetric{}, nil
	case Pearson:
		return pearsonMetric{}, nil
	case R2:
		return r2Metric{}, nil
	case KGE:
		return kgeMetric{}, nil
	default:
		return nil, &UnknownMetricError{Name: name}
	}
}

// NewSet creates metrics for each name, in order.
func NewSet(names []string) ([]Metric, error) {
	out := make([]Metric, 0, len(names))
	for _, n := range names {
		m, err := New(n)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// UnknownMetricError indicates an unknown metric name
type UnknownMetricError struct {
	Name string
}

func (e *UnknownMetricError) Error() string {
	return "unknown metric: " + e.Name
}

// UndefinedError indicates a metric that has no value for the given data,
// e.g. a correlation against a constant series.
type UndefinedError struct {
	Metric string
	Reason string
}

func (e *UndefinedError) Error() string {
	return fmt.Sprintf("%s undefined: %s", e.Metric, e.Reason)
}

func checkLengths(name string, obs, sim []float64) error {
	if len(obs) == 0 {
		return &UndefinedError{Metric: name, Reason: "no data points"}
	}
	if len(obs) != len(sim) {
		return fmt.Errorf("%s: observed has %d points, simulated has %d", name, len(obs), len(sim))
	}
	return nil
}

func sse(obs, sim []float64) float64 {
	s := 0.0
	for i := range obs {
		d := sim[i] - obs[i]
		s += d * d
	}
	return s
}

// nseMetric is the Nash-Sutcliffe efficiency, 1 - SSE/SST. A perfect match
// scores 1 even against a constant series; any error against a constant
// series scores -Inf.
type nseMetric struct{}

func (nseMetric) Name() string         { return NSE }
func (nseMetric) Direction() Direction { return Maximize }

func (nseMetric) Score(obs, sim []float64) (float64, error) {
	if err := checkLengths(NSE, obs, sim); err != nil {
		return 0, err
	}
	errSum := sse(obs, sim)
	if errSum == 0 {
		return 1, nil
	}
	mean := stat.Mean(obs, nil)
	variance := 0.0
	for _, o := range obs {
		variance += (o - mean) * (o - mean)
	}
	if variance == 0 {
		return math.Inf(-1), nil
	}
	return 1 - errSum/variance, nil
}

// rmseMetric is the root-mean-square error.
type rmseMetric struct{}

func (rmseMetric) Name() string         { return RMSE }
func (rmseMetric) Direction() Direction { return Minimize }

func (rmseMetric) Score(obs, sim []float64) (float64, error) {
	if err := checkLengths(RMSE, obs, sim); err != nil {
		return 0, err
	}
	return math.Sqrt(sse(obs, sim) / float64(len(obs))), nil
}

// pbiasMetric is the percent bias, 100 * sum(sim - obs) / sum(obs). Positive
// values mean the simulation overestimates.
type pbiasMetric struct{}

func (pbiasMetric) Name() string         { return PBias }
func (pbiasMetric) Direction() Direction { return MinimizeAbs }

func (pbiasMetric) Score(obs, sim []float64) (float64, error) {
	if err := checkLengths(PBias, obs, sim); err != nil {
		return 0, err
	}
	total := floats.Sum(obs)
	diff := floats.Sum(sim) - total
	if total == 0 {
		if diff == 0 {
			return 0, nil
		}
		return 0, &UndefinedError{Metric: PBias, Reason: "observed values sum to zero"}
	}
	return 100 * diff / total, nil
}

func correlation(name string, obs, sim []float64) (float64, error) {
	if err := checkLengths(name, obs, sim); err != nil {
		return 0, err
	}
	if len(obs) < 2 {
		return 0, &UndefinedError{Metric: name, Reason: "need at least two points"}
	}
	r := stat.Correlation(obs, sim, nil)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0, &UndefinedError{Metric: name, Reason: "a series has zero variance"}
	}
	return r, nil
}

// pearsonMetric is the Pearson correlation coefficient.
type pearsonMetric struct{}

func (pearsonMetric) Name() string         { return Pearson }
func (pearsonMetric) Direction() Direction { return Maximize }

func (pearsonMetric) Score(obs, sim []float64) (float64, error) {
	return correlation(Pearson, obs, sim)
}

// r2Metric is the coefficient of determination, the squared correlation.
type r2Metric struct{}

func (r2Metric) Name() string         { return R2 }
func (r2Metric) Direction() Direction { return Maximize }

func (r2Metric) Score(obs, sim []float64) (float64, error) {
	r, err := correlation(R2, obs, sim)
	if err != nil {
		return 0, err
	}
	return r * r, nil
}

// kgeMetric is the Kling-Gupta efficiency combining correlation, variability
// ratio and bias ratio.
type kgeMetric struct{}

func (kgeMetric) Name() string         { return KGE }
func (kgeMetric) Direction() Direction { return Maximize }

func (kgeMetric) Score(obs, sim []float64) (float64, error) {
	r, err := correlation(KGE, obs, sim)
	if err != nil {
		return 0, err
	}
	mo, so := stat.MeanStdDev(obs, nil)
	ms, ss := stat.MeanStdDev(sim, nil)
	if mo == 0 {
		return 0, &UndefinedError{Metric: KGE, Reason: "observed mean is zero"}
	}
	alpha := ss / so
	beta := ms / mo
	return 1 - math.Sqrt((r-1)*(r-1)+(alpha-1)*(alpha-1)+(beta-1)*(beta-1)), nil
}

// Key maps a metric value onto a scale where larger is always better. NaN
// maps to -Inf.
func Key(m Metric, v float64) float64 {
	if math.IsNaN(v) {
		return math.Inf(-1)
	}
	switch m.Direction() {
	case Minimize:
		return -v
	case MinimizeAbs:
		return -math.Abs(v)
	}
	return v
}

// Better reports whether a is strictly better than b under m's direction.
func Better(m Metric, a, b float64) bool {
	return Key(m, a) > Key(m, b)
}

// Worst returns the sentinel worst-possible value for m, assigned to failed
// scenarios.
func Worst(m Metric) float64 {
	if m.Direction() == Maximize {
		return math.Inf(-1)
	}
	return math.Inf(1)
}

// Scores maps metric names to values.
type Scores map[string]float64

// WorstScores returns the sentinel value of every metric.
func WorstScores(metrics []Metric) Scores {
	s := make(Scores, len(metrics))
	for _, m := range metrics {
		s[m.Name()] = Worst(m)
	}
	return s
}

// ScorePairs evaluates every metric on aligned pairs. A metric that is
// undefined for the data is recorded as its worst value; other errors abort.
func ScorePairs(p tseries.Pairs, metrics []Metric) (Scores, error) {
	if p.Len() == 0 {
		return nil, &UndefinedError{Metric: "all", Reason: "observed and simulated series share no timestamps"}
	}
	out := make(Scores, len(metrics))
	for _, m := range metrics {
		v, err := m.Score(p.Obs, p.Sim)
		if err != nil {
			if _, ok := err.(*UndefinedError); ok {
				out[m.Name()] = Worst(m)
				continue
			}
			return nil, err
		}
		out[m.Name()] = v
	}
	return out, nil
}

// Evaluate aligns a simulated column with an observed column inside w and
// scores it.
func Evaluate(obs *tseries.Table, obsCol string, sim *tseries.Table, simCol string, w tseries.Window, metrics []Metric) (Scores, error) {
	p, err := tseries.Align(obs, obsCol, sim, simCol, w)
	if err != nil {
		return nil, err
	}
	return ScorePairs(p, metrics)
}
