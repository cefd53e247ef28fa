package optimizer

import (
	"cmp"
	"fmt"
	"io"
	"maps"
	"math"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/GoSim-25-26J-441/prms-calibration/internal/scenario"
	"github.com/GoSim-25-26J-441/prms-calibration/internal/score"
	"github.com/GoSim-25-26J-441/prms-calibration/internal/tseries"
	"github.com/GoSim-25-26J-441/prms-calibration/pkg/utils"
)

// reportMetrics are the columns of the result table.
var reportMetrics = []string{score.NSE, score.RMSE, score.PBias, score.R2}

// ReportOptions tunes Report.
type ReportOptions struct {
	TopN int // 0 keeps every row
	// Monthly rescoring compares calendar-month means instead of daily
	// values. It reads every output table and the observed file again.
	Monthly bool
	// Output is the output table path inside a scenario directory. It
	// overrides the layout recorded in the result.
	Output string
}

// Row is one line of the result table. ParamFile and OutputFile locate the
// parameter file and output table of the run, so the best runs can be
// reused as inputs of the next stage.
type Row struct {
	Title      string
	Stage      string
	ScenarioID string
	Dir        string
	ParamFile  string
	OutputFile string
	Round      int
	Baseline   bool
	Means      map[string]float64
	Scores     score.Scores
}

// Report builds the result table over every successful sample of every
// round, sorted by NSE descending, then RMSE ascending, |PBIAS| ascending
// and R² descending. The baseline, when recorded, follows the ranked rows.
func Report(res *Result, opts ReportOptions) ([]Row, error) {
	return ReportAll([]*Result{res}, opts)
}

// ReportAll ranks the samples of several results together, such as the
// replicate calibrations of one stage loaded with LoadStage. TopN applies
// to the combined ranking. The first recorded baseline is appended.
func ReportAll(results []*Result, opts ReportOptions) ([]Row, error) {
	metrics, err := score.NewSet(reportMetrics)
	if err != nil {
		return nil, err
	}
	var (
		rows []Row
		base *Row
	)
	for _, res := range results {
		rp := &reporter{res: res, opts: opts, metrics: metrics}
		for _, rd := range res.Rounds {
			for _, e := range rd.Entries {
				if !e.Succeeded() {
					continue
				}
				row, err := rp.row(e)
				if err != nil {
					return nil, err
				}
				rows = append(rows, row)
			}
		}
		if b := res.Baseline; base == nil && b != nil && b.Succeeded() {
			row, err := rp.row(*b)
			if err != nil {
				return nil, err
			}
			row.Baseline = true
			base = &row
		}
	}
	slices.SortStableFunc(rows, compareRows)
	if opts.TopN > 0 && len(rows) > opts.TopN {
		rows = rows[:opts.TopN]
	}
	if base != nil {
		rows = append(rows, *base)
	}
	return rows, nil
}

// reporter turns the entries of one result into rows. The observed data is
// loaded once, on the first entry that needs rescoring.
type reporter struct {
	res     *Result
	opts    ReportOptions
	metrics []score.Metric
	obs     *tseries.Table
}

func (rp *reporter) layout() scenario.Layout {
	l := rp.res.Layout.WithDefaults()
	if rp.opts.Output != "" {
		l.Output = rp.opts.Output
	}
	return l
}

func (rp *reporter) row(e Entry) (Row, error) {
	l := rp.layout()
	row := Row{
		Title:      rp.res.Title,
		Stage:      rp.res.Stage,
		ScenarioID: e.ScenarioID,
		Dir:        e.Dir,
		ParamFile:  e.ParamFile,
		OutputFile: e.OutputFile,
		Round:      e.Round,
		Means:      e.Means,
		Scores:     e.Scores,
	}
	if row.ParamFile == "" {
		row.ParamFile = filepath.Join(e.Dir, scenario.InputsDir, l.Parameters)
	}
	if row.OutputFile == "" || rp.opts.Output != "" {
		row.OutputFile = filepath.Join(e.Dir, l.Output)
	}
	if !rp.opts.Monthly && hasAll(e.Scores, reportMetrics) {
		return row, nil
	}
	if rp.obs == nil {
		obs, err := tseries.Read(rp.res.ObservedPath, rp.res.Window)
		if err != nil {
			return Row{}, fmt.Errorf("load observed data: %w", err)
		}
		rp.obs = obs
	}
	scores, err := rp.rescore(row.OutputFile)
	if err != nil {
		return Row{}, fmt.Errorf("scenario %s: %w", e.ScenarioID, err)
	}
	row.Scores = scores
	return row, nil
}

func hasAll(s score.Scores, names []string) bool {
	for _, n := range names {
		if _, ok := s[n]; !ok {
			return false
		}
	}
	return true
}

func (rp *reporter) rescore(output string) (score.Scores, error) {
	sim, err := tseries.ReadFormat(output, tseries.FormatStatvar, tseries.Window{})
	if err != nil {
		return nil, err
	}
	obsCol := rp.res.ObservedColumn
	if obsCol == "" {
		obsCol = rp.res.OutputColumn
	}
	p, err := tseries.Align(rp.obs, obsCol, sim, rp.res.OutputColumn, rp.res.Window)
	if err != nil {
		return nil, err
	}
	if rp.opts.Monthly {
		p = p.ByMonth()
	}
	return score.ScorePairs(p, rp.metrics)
}

func compareRows(a, b Row) int {
	if c := cmp.Compare(b.Scores[score.NSE], a.Scores[score.NSE]); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Scores[score.RMSE], b.Scores[score.RMSE]); c != 0 {
		return c
	}
	if c := cmp.Compare(math.Abs(a.Scores[score.PBias]), math.Abs(b.Scores[score.PBias])); c != 0 {
		return c
	}
	return cmp.Compare(b.Scores[score.R2], a.Scores[score.R2])
}

func formatValue(v float64, decimals int) string {
	return strconv.FormatFloat(utils.Round(v, decimals), 'f', -1, 64)
}

// WriteReport prints rows as an aligned table with one column per adjusted
// parameter mean.
func WriteReport(w io.Writer, rows []Row) error {
	names := make(map[string]bool)
	for _, r := range rows {
		for n := range r.Means {
			names[n] = true
		}
	}
	paramCols := slices.Sorted(maps.Keys(names))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	header := append([]string{"scenario", "round"}, paramCols...)
	header = append(header, "NSE", "RMSE", "PBIAS", "COEF_DET")
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, r := range rows {
		round := strconv.Itoa(r.Round)
		if r.Baseline {
			round = "base"
		}
		cols := []string{r.ScenarioID, round}
		for _, p := range paramCols {
			m, ok := r.Means[p]
			if !ok {
				cols = append(cols, "-")
				continue
			}
			cols = append(cols, formatValue(m, 6))
		}
		for _, m := range reportMetrics {
			cols = append(cols, formatValue(r.Scores[m], 4))
		}
		fmt.Fprintln(tw, strings.Join(cols, "\t"))
	}
	return tw.Flush()
}

// WritePaths prints the parameter file and output table of every row, best
// first.
func WritePaths(w io.Writer, rows []Row) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "scenario\tparam_file\toutput_file")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.ScenarioID, r.ParamFile, r.OutputFile)
	}
	return tw.Flush()
}
