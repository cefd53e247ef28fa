// Package tseries holds date-indexed tables of named numeric columns: the
// simulator's statvar output, PRMS data files and measured series in CSV.
package tseries

import (
	"fmt"
	"iter"
	"math"
	"slices"
	"time"

	"github.com/GoSim-25-26J-441/prms-calibration/pkg/errs"
)

// Missing is the sentinel used by PRMS files for absent values. It is read
// as NaN.
const Missing = -999.0

// Freq is the sampling frequency inferred from a table's timestamps.
type Freq string

const (
	FreqUnknown   Freq = "unknown"
	FreqHourly    Freq = "hourly"
	FreqDaily     Freq = "daily"
	FreqMonthly   Freq = "monthly"
	FreqIrregular Freq = "irregular"
)

// Column describes one series in a table.
type Column struct {
	Name  string `json:"name" yaml:"name"`
	Units string `json:"units,omitempty" yaml:"units,omitempty"`
	Freq  Freq   `json:"freq,omitempty" yaml:"freq,omitempty"`
}

// Window is an inclusive date range. A zero bound is open.
type Window struct {
	Start time.Time `json:"start,omitzero" yaml:"start,omitempty"`
	End   time.Time `json:"end,omitzero" yaml:"end,omitempty"`
}

// Contains reports whether t lies inside the window.
func (w Window) Contains(t time.Time) bool {
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && t.After(w.End) {
		return false
	}
	return true
}

// IsZero reports whether both bounds are open.
func (w Window) IsZero() bool { return w.Start.IsZero() && w.End.IsZero() }

// Table is an immutable time-indexed table. Values are stored column-major.
type Table struct {
	columns []Column
	times   []time.Time
	data    [][]float64
	index   map[string]int
}

// New builds a table from timestamps and column-major data, checking that
// timestamps strictly increase and every column has one value per row.
func New(times []time.Time, columns []Column, data [][]float64) (*Table, error) {
	if len(columns) != len(data) {
		return nil, &errs.FormatError{Msg: fmt.Sprintf("%d columns but %d data series", len(columns), len(data))}
	}
	for i := 1; i < len(times); i++ {
		if !times[i].After(times[i-1]) {
			return nil, &errs.FormatError{Msg: fmt.Sprintf("timestamps not strictly increasing at row %d (%s)", i+1, times[i].Format(time.DateOnly))}
		}
	}
	t := &Table{
		columns: slices.Clone(columns),
		times:   slices.Clone(times),
		data:    make([][]float64, len(data)),
		index:   make(map[string]int, len(columns)),
	}
	freq := inferFreq(times)
	for i, c := range t.columns {
		if len(data[i]) != len(times) {
			return nil, &errs.FormatError{Msg: fmt.Sprintf("column %s has %d values for %d rows", c.Name, len(data[i]), len(times))}
		}
		if _, dup := t.index[c.Name]; dup {
			return nil, &errs.FormatError{Msg: "duplicate column " + c.Name}
		}
		if t.columns[i].Freq == "" {
			t.columns[i].Freq = freq
		}
		t.index[c.Name] = i
		t.data[i] = slices.Clone(data[i])
	}
	return t, nil
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.times) }

// Columns returns column metadata in order.
func (t *Table) Columns() []Column { return slices.Clone(t.columns) }

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	return names
}

// Times returns a copy of the row timestamps.
func (t *Table) Times() []time.Time { return slices.Clone(t.times) }

// Has reports whether a column exists.
func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Column returns a copy of a column's values.
func (t *Table) Column(name string) ([]float64, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return slices.Clone(t.data[i]), true
}

// Series yields (timestamp, value) pairs of one column in time order. The
// sequence is lazy and may be ranged over any number of times. An unknown
// column yields nothing.
func (t *Table) Series(name string) iter.Seq2[time.Time, float64] {
	return func(yield func(time.Time, float64) bool) {
		i, ok := t.index[name]
		if !ok {
			return
		}
		col := t.data[i]
		for r, ts := range t.times {
			if !yield(ts, col[r]) {
				return
			}
		}
	}
}

// Range returns the first and last timestamps.
func (t *Table) Range() (start, end time.Time) {
	if len(t.times) == 0 {
		return time.Time{}, time.Time{}
	}
	return t.times[0], t.times[len(t.times)-1]
}

// Freq returns the inferred sampling frequency.
func (t *Table) Freq() Freq { return inferFreq(t.times) }

// Slice returns the rows falling inside w.
func (t *Table) Slice(w Window) *Table {
	if w.IsZero() {
		return t
	}
	lo, _ := slices.BinarySearchFunc(t.times, w.Start, func(a, b time.Time) int { return a.Compare(b) })
	if w.Start.IsZero() {
		lo = 0
	}
	hi := len(t.times)
	if !w.End.IsZero() {
		hi, _ = slices.BinarySearchFunc(t.times, w.End, func(a, b time.Time) int { return a.Compare(b) })
		if hi < len(t.times) && t.times[hi].Equal(w.End) {
			hi++
		}
	}
	if hi < lo {
		hi = lo
	}
	out := &Table{
		columns: t.columns,
		times:   t.times[lo:hi],
		data:    make([][]float64, len(t.data)),
		index:   t.index,
	}
	for i, col := range t.data {
		out.data[i] = col[lo:hi]
	}
	return out
}

func inferFreq(times []time.Time) Freq {
	if len(times) < 2 {
		return FreqUnknown
	}
	daily, hourly, monthly := true, true, true
	for i := 1; i < len(times); i++ {
		d := times[i].Sub(times[i-1])
		daily = daily && d == 24*time.Hour
		hourly = hourly && d == time.Hour
		prev := times[i-1]
		monthly = monthly && prev.Day() == times[i].Day() && prev.AddDate(0, 1, 0).Equal(times[i])
	}
	switch {
	case daily:
		return FreqDaily
	case hourly:
		return FreqHourly
	case monthly:
		return FreqMonthly
	}
	return FreqIrregular
}

// Pairs holds observed and simulated values matched on shared timestamps.
type Pairs struct {
	Times []time.Time
	Obs   []float64
	Sim   []float64
}

// Len returns the number of matched points.
func (p Pairs) Len() int { return len(p.Times) }

// Align matches two columns on their shared timestamps inside w, dropping
// rows where either side is missing.
func Align(obs *Table, obsCol string, sim *Table, simCol string, w Window) (Pairs, error) {
	oi, ok := obs.index[obsCol]
	if !ok {
		return Pairs{}, fmt.Errorf("observed data has no column %q", obsCol)
	}
	si, ok := sim.index[simCol]
	if !ok {
		return Pairs{}, fmt.Errorf("simulated output has no column %q", simCol)
	}
	var p Pairs
	i, j := 0, 0
	for i < len(obs.times) && j < len(sim.times) {
		switch c := obs.times[i].Compare(sim.times[j]); {
		case c < 0:
			i++
		case c > 0:
			j++
		default:
			o, s := obs.data[oi][i], sim.data[si][j]
			if w.Contains(obs.times[i]) && !math.IsNaN(o) && !math.IsNaN(s) {
				p.Times = append(p.Times, obs.times[i])
				p.Obs = append(p.Obs, o)
				p.Sim = append(p.Sim, s)
			}
			i++
			j++
		}
	}
	return p, nil
}

// ByMonth collapses the pairs to calendar-month means, one point per month
// that has data. Timestamps are set to the first of the month in year 1.
func (p Pairs) ByMonth() Pairs {
	var sumO, sumS [12]float64
	var n [12]int
	for k, ts := range p.Times {
		m := int(ts.Month()) - 1
		sumO[m] += p.Obs[k]
		sumS[m] += p.Sim[k]
		n[m]++
	}
	var out Pairs
	for m := 0; m < 12; m++ {
		if n[m] == 0 {
			continue
		}
		out.Times = append(out.Times, time.Date(1, time.Month(m+1), 1, 0, 0, 0, 0, time.UTC))
		out.Obs = append(out.Obs, sumO[m]/float64(n[m]))
		out.Sim = append(out.Sim, sumS[m]/float64(n[m]))
	}
	return out
}
