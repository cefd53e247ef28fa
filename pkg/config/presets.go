package config

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Preset is a standard calibration stage: the parameters of the PRMS module
// being calibrated and the statvar variable they drive.
type Preset struct {
	Stage         string
	DefaultModule string
	Modules       map[string][]string // module -> calibrated parameters
	Variable      string
}

// Presets are the stages a job can name with optimization.preset.
var Presets = map[string]Preset{
	"srad": {
		Stage:         "swrad",
		DefaultModule: "ddsolrad",
		Modules:       map[string][]string{"ddsolrad": {"dday_intcp", "dday_slope"}},
		Variable:      "swrad",
	},
	"pet": {
		Stage:         "pet",
		DefaultModule: "potet_pt",
		Modules: map[string][]string{
			"potet_pt": {"potet_coef_hru_mo"},
			"potet_jh": {"jh_coef"},
		},
		Variable: "potet",
	},
}

// StationBasin selects the basin-wide statvar variable.
const StationBasin = "basin"

// OutputColumn returns the statvar column compared with the measured data:
// basin_<var>_1 for the basin, <var>_<hru> for a station HRU.
func (p Preset) OutputColumn(station string) (string, error) {
	if station == "" || station == StationBasin {
		return fmt.Sprintf("basin_%s_1", p.Variable), nil
	}
	n, err := strconv.Atoi(station)
	if err != nil || n < 1 {
		return "", fmt.Errorf("station_hru must be %q or a positive HRU index, got %q", StationBasin, station)
	}
	return fmt.Sprintf("%s_%d", p.Variable, n), nil
}

// expandPreset fills stage, targets and output column from the named
// preset. Explicit values in the job win.
func expandPreset(o *Optimization) error {
	if o.Preset == "" {
		if o.Module != "" || o.StationHRU != "" {
			return fmt.Errorf("optimization.module and station_hru require a preset")
		}
		return nil
	}
	p, ok := Presets[o.Preset]
	if !ok {
		names := make([]string, 0, len(Presets))
		for n := range Presets {
			names = append(names, n)
		}
		slices.Sort(names)
		return fmt.Errorf("unknown preset: %s (must be one of %s)", o.Preset, strings.Join(names, ", "))
	}
	if o.Module == "" {
		o.Module = p.DefaultModule
	}
	params, ok := p.Modules[o.Module]
	if !ok {
		return fmt.Errorf("preset %s has no module %s", o.Preset, o.Module)
	}
	if o.StationHRU == "" {
		o.StationHRU = StationBasin
	}
	col, err := p.OutputColumn(o.StationHRU)
	if err != nil {
		return err
	}

	if o.Stage == "" {
		o.Stage = p.Stage
	}
	if len(o.Targets) == 0 {
		for _, name := range params {
			o.Targets = append(o.Targets, Target{Param: name})
		}
	}
	if o.OutputColumn == "" {
		o.OutputColumn = col
	}
	return nil
}
