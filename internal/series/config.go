package series

import (
	"fmt"

	"github.com/GoSim-25-26J-441/prms-calibration/internal/params"
	"github.com/GoSim-25-26J-441/prms-calibration/internal/scenario"
	"github.com/GoSim-25-26J-441/prms-calibration/pkg/config"
)

// ModificationFromConfig converts a configured modification to its variant.
func ModificationFromConfig(m config.Modification) (params.Modification, error) {
	switch m.Kind {
	case "scale":
		return params.Scale{Params: m.Params, Factors: m.Args, Along: m.Along}, nil
	case "shift":
		return params.Shift{Params: m.Params, Offsets: m.Args, Along: m.Along}, nil
	case "noise":
		return params.AdditiveNoise{Params: m.Params, Sigma: m.Sigma, Along: m.Along, Seed: m.Seed}, nil
	case "assign":
		if len(m.Params) != 1 {
			return nil, fmt.Errorf("assign takes exactly one param, got %d", len(m.Params))
		}
		return params.Assign{Param: m.Params[0], Values: m.Args, Along: m.Along}, nil
	}
	return nil, fmt.Errorf("unknown modification kind %q", m.Kind)
}

// EntriesFromConfig expands a configured series into entries, either the
// explicit modification list or the sweep's Cartesian product.
func EntriesFromConfig(c *config.Series) ([]Entry, error) {
	if c == nil {
		return nil, fmt.Errorf("no series configured")
	}
	if len(c.Sweep) > 0 {
		axes := make([]Axis, len(c.Sweep))
		for i, a := range c.Sweep {
			axes[i] = Axis{Param: a.Param, Kind: a.Kind, Values: a.Values}
		}
		return SweepEntries(axes)
	}
	entries := make([]Entry, 0, len(c.Modifications))
	for i, m := range c.Modifications {
		mod, err := ModificationFromConfig(m)
		if err != nil {
			return nil, fmt.Errorf("modification %d: %w", i, err)
		}
		entries = append(entries, Entry{Name: m.Name, Mod: mod})
	}
	return entries, nil
}

// LayoutFromConfig maps configured input names onto a scenario layout.
func LayoutFromConfig(in config.Inputs) scenario.Layout {
	return scenario.Layout{
		Control:    in.Control,
		Parameters: in.Parameters,
		Data:       in.Data,
		Output:     in.Output,
	}
}
