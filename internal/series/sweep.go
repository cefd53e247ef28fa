package series

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/GoSim-25-26J-441/prms-calibration/internal/params"
)

// Axis is one dimension of a parameter sweep.
type Axis struct {
	Param  string
	Kind   string // scale, shift or assign
	Values []float64
}

func (a Axis) modification(v float64) (params.Modification, error) {
	switch a.Kind {
	case "scale", "":
		return params.Scale{Params: []string{a.Param}, Factors: []float64{v}}, nil
	case "shift":
		return params.Shift{Params: []string{a.Param}, Offsets: []float64{v}}, nil
	case "assign":
		return params.Assign{Param: a.Param, Values: []float64{v}}, nil
	}
	return nil, fmt.Errorf("sweep axis %s: unknown kind %q", a.Param, a.Kind)
}

// SweepEntries expands the Cartesian product of axes into entries. The last
// axis varies fastest. Entry names look like "k=0.5,x=2".
func SweepEntries(axes []Axis) ([]Entry, error) {
	if len(axes) == 0 {
		return nil, fmt.Errorf("sweep: no axes")
	}
	for _, a := range axes {
		if len(a.Values) == 0 {
			return nil, fmt.Errorf("sweep axis %s: no values", a.Param)
		}
		if _, err := a.modification(0); err != nil {
			return nil, err
		}
	}

	var entries []Entry
	idx := make([]int, len(axes))
	for {
		chain := make(params.Chain, len(axes))
		names := make([]string, len(axes))
		for i, a := range axes {
			v := a.Values[idx[i]]
			chain[i], _ = a.modification(v)
			names[i] = a.Param + "=" + strconv.FormatFloat(v, 'g', -1, 64)
		}
		var mod params.Modification = chain
		if len(chain) == 1 {
			mod = chain[0]
		}
		entries = append(entries, Entry{Name: strings.Join(names, ","), Mod: mod})

		i := len(axes) - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < len(axes[i].Values) {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			return entries, nil
		}
	}
}

// FromSweep creates a series over the Cartesian product of axes.
func FromSweep(baseDir string, base *params.Set, axes []Axis, root string, opts Options) (*Series, error) {
	entries, err := SweepEntries(axes)
	if err != nil {
		return nil, err
	}
	return FromModifications(baseDir, base, entries, root, opts)
}
