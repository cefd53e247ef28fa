package params

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ParamDiff summarises how one parameter differs between two sets.
type ParamDiff struct {
	Name        string  `json:"name" yaml:"name"`
	Changed     int     `json:"changed" yaml:"changed"`
	MeanBefore  float64 `json:"mean_before" yaml:"mean_before"`
	MeanAfter   float64 `json:"mean_after" yaml:"mean_after"`
	MaxAbsDelta float64 `json:"max_abs_delta" yaml:"max_abs_delta"`
}

// Diff reports the numeric parameters whose values differ between s and
// other, in s's order. Parameters missing from other or with a different
// length are skipped.
func (s *Set) Diff(other *Set) []ParamDiff {
	var out []ParamDiff
	for _, p := range s.params {
		if p.Type == TypeString {
			continue
		}
		i, ok := other.index[p.Name]
		if !ok {
			continue
		}
		q := other.params[i]
		if len(q.Values) != len(p.Values) || floats.Equal(p.Values, q.Values) {
			continue
		}
		d := ParamDiff{
			Name:       p.Name,
			MeanBefore: stat.Mean(p.Values, nil),
			MeanAfter:  stat.Mean(q.Values, nil),
		}
		for k := range p.Values {
			delta := math.Abs(q.Values[k] - p.Values[k])
			if delta != 0 {
				d.Changed++
			}
			d.MaxAbsDelta = math.Max(d.MaxAbsDelta, delta)
		}
		out = append(out, d)
	}
	return out
}
