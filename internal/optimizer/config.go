package optimizer

import (
	"fmt"

	"github.com/GoSim-25-26J-441/prms-calibration/internal/params"
	"github.com/GoSim-25-26J-441/prms-calibration/internal/tseries"
	"github.com/GoSim-25-26J-441/prms-calibration/pkg/config"
)

// RequestFromConfig maps a validated job config onto a Request. The caller
// supplies the base tree, parameter set and scenario layout.
func RequestFromConfig(cfg *config.Config) (Request, error) {
	o := cfg.Optimization
	if o == nil {
		return Request{}, fmt.Errorf("no optimization configured")
	}
	method, err := ParseMethod(o.Method)
	if err != nil {
		return Request{}, err
	}
	explore := 0.0
	if o.ExploreProb != nil {
		explore = *o.ExploreProb
	}
	policy, err := NewPolicy(o.Weighting, o.Decay, o.RoundDecay, o.Temperature, explore)
	if err != nil {
		return Request{}, err
	}
	start, end, err := o.Observed.Window()
	if err != nil {
		return Request{}, fmt.Errorf("observed window: %w", err)
	}

	targets := make([]Target, len(o.Targets))
	for i, t := range o.Targets {
		targets[i] = Target{Param: t.Param}
		if t.Min != nil && t.Max != nil {
			targets[i].Range = &params.Range{Min: *t.Min, Max: *t.Max}
		}
	}

	return Request{
		Title:           cfg.Title,
		Description:     cfg.Description,
		Stage:           o.Stage,
		BaseDir:         cfg.Inputs.BaseDir,
		WorkDir:         cfg.WorkDir,
		ObservedPath:    o.Observed.Path,
		ObservedColumn:  o.Observed.Column,
		OutputColumn:    o.OutputColumn,
		Window:          tseries.Window{Start: start, End: end},
		Targets:         targets,
		NSamples:        o.NSamples,
		Rounds:          o.Rounds,
		Method:          method,
		NoiseFactor:     o.NoiseFactor,
		Policy:          policy,
		ArchiveSize:     o.ArchiveSize,
		Metrics:         o.Metrics,
		Primary:         o.PrimaryMetric,
		EarlyStopWindow: o.EarlyStopWindow,
		SkipBaseline:    o.SkipBaseline,
		Seed:            o.Seed,
	}, nil
}
