package optimizer

import (
	"fmt"
	"slices"

	"github.com/GoSim-25-26J-441/prms-calibration/internal/params"
	"github.com/GoSim-25-26J-441/prms-calibration/pkg/utils"
)

// Method selects the sampling distribution.
type Method string

const (
	// MethodUniform draws every sample uniformly inside the allowable range.
	MethodUniform Method = "uniform"
	// MethodNormal adds zero-mean normal noise to the base values, redrawing
	// values that fall outside the range.
	MethodNormal Method = "normal"
	// MethodResample draws around previously scored samples, weighted by a
	// ResamplePolicy, falling back to uniform draws for exploration.
	MethodResample Method = "resample"
)

// ParseMethod validates a method name.
func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case MethodUniform, MethodNormal, MethodResample:
		return m, nil
	case "":
		return MethodUniform, nil
	}
	return "", fmt.Errorf("unknown sampling method %q (must be uniform, normal, or resample)", s)
}

// Target is a calibrated parameter. A nil Range falls back to
// params.DefaultRanges.
type Target struct {
	Param string        `json:"param" yaml:"param"`
	Range *params.Range `json:"range,omitempty" yaml:"range,omitempty"`
}

// nonResampled lists dimensions that locate cascade and stream topology;
// parameters indexed by them are never sampled.
var nonResampled = []string{"ncascade", "ncascdgw", "nreach", "nsegment"}

// maxElementwise is the longest one-dimensional parameter sampled element by
// element; longer ones are shifted as a whole.
const maxElementwise = 366

const maxRedraws = 1000

type shape int

const (
	shapeEach shape = iota
	shapeShift
	shapeMonthly
)

type target struct {
	name  string
	rng   params.Range
	shape shape
	base  []float64
	month []int // month coordinate per element, for shapeMonthly
}

// Sampler draws candidate values for a set of target parameters.
type Sampler struct {
	targets []target
	method  Method
	noise   float64
	rnd     *utils.RandSource
}

// NewSampler resolves targets against base. It refuses unknown or
// string-typed parameters, parameters without an allowable range, and
// parameters indexed by cascade or stream-segment dimensions.
func NewSampler(base *params.Set, targets []Target, method Method, noiseFactor float64, rnd *utils.RandSource) (*Sampler, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("no target parameters")
	}
	if noiseFactor <= 0 && method != MethodUniform {
		return nil, fmt.Errorf("noise factor must be positive, got %g", noiseFactor)
	}
	s := &Sampler{method: method, noise: noiseFactor, rnd: rnd}
	seen := make(map[string]bool)
	for _, t := range targets {
		if seen[t.Param] {
			return nil, fmt.Errorf("target %s listed twice", t.Param)
		}
		seen[t.Param] = true
		rt, err := resolve(base, t)
		if err != nil {
			return nil, err
		}
		s.targets = append(s.targets, rt)
	}
	return s, nil
}

func resolve(base *params.Set, t Target) (target, error) {
	p, ok := base.Param(t.Param)
	if !ok {
		return target{}, fmt.Errorf("%w: %s", params.ErrUnknownParam, t.Param)
	}
	if p.Type == params.TypeString {
		return target{}, fmt.Errorf("parameter %s is string-typed and cannot be sampled", t.Param)
	}
	for _, d := range nonResampled {
		if p.HasDim(d) {
			return target{}, fmt.Errorf("parameter %s is indexed by %s and must not be resampled", t.Param, d)
		}
	}
	var rng params.Range
	switch {
	case t.Range != nil:
		rng = *t.Range
	default:
		r, ok := params.LookupRange(t.Param)
		if !ok {
			return target{}, fmt.Errorf("parameter %s has no allowable range; set min and max", t.Param)
		}
		rng = r
	}
	if !(rng.Min < rng.Max) {
		return target{}, fmt.Errorf("parameter %s: invalid range [%g, %g]", t.Param, rng.Min, rng.Max)
	}

	rt := target{name: t.Param, rng: rng, base: p.Values}
	nhru, _ := base.Dimension("nhru")
	switch {
	case len(p.Dims) == 1 && len(p.Values) <= maxElementwise:
		rt.shape = shapeEach
	case len(p.Dims) == 1:
		rt.shape = shapeShift
	case len(p.Dims) == 2 && p.Dims[1].Name == "nmonths" && p.Dims[0].Size == nhru:
		rt.shape = shapeMonthly
		rt.month = make([]int, len(p.Values))
		for i := range p.Values {
			rt.month[i] = p.Coord("nmonths", i)
		}
	default:
		return target{}, fmt.Errorf("parameter %s with dimensions %v cannot be resampled", t.Param, p.DimNames())
	}
	return rt, nil
}

// Names returns the target parameter names in order.
func (s *Sampler) Names() []string {
	names := make([]string, len(s.targets))
	for i, t := range s.targets {
		names[i] = t.name
	}
	return names
}

// Ranges returns the resolved allowable range per target.
func (s *Sampler) Ranges() map[string]params.Range {
	out := make(map[string]params.Range, len(s.targets))
	for _, t := range s.targets {
		out[t.name] = t.rng
	}
	return out
}

// Base returns copies of the base values per target.
func (s *Sampler) Base() map[string][]float64 {
	out := make(map[string][]float64, len(s.targets))
	for _, t := range s.targets {
		out[t.name] = slices.Clone(t.base)
	}
	return out
}

// Fresh draws a sample from the base values, independent of history.
// MethodResample draws uniformly.
func (s *Sampler) Fresh() map[string][]float64 {
	out := make(map[string][]float64, len(s.targets))
	for _, t := range s.targets {
		if s.method == MethodNormal {
			out[t.name] = s.perturb(t, t.base, true)
		} else {
			out[t.name] = s.uniform(t)
		}
	}
	return out
}

// Around draws a sample near center by adding bounded normal noise; targets
// missing from center start from the base values.
func (s *Sampler) Around(center map[string][]float64) map[string][]float64 {
	out := make(map[string][]float64, len(s.targets))
	for _, t := range s.targets {
		c, ok := center[t.name]
		if !ok || len(c) != len(t.base) {
			c = t.base
		}
		out[t.name] = s.perturb(t, c, false)
	}
	return out
}

func (s *Sampler) uniform(t target) []float64 {
	out := slices.Clone(t.base)
	switch t.shape {
	case shapeEach:
		for i := range out {
			out[i] = s.rnd.UniformFloat64(t.rng.Min, t.rng.Max)
		}
	case shapeShift:
		lo, hi := shiftBounds(t.rng, t.base)
		shift := s.rnd.UniformFloat64(lo, hi)
		for i := range out {
			out[i] += shift
		}
	case shapeMonthly:
		lo, hi := shiftBounds(t.rng, t.base)
		shifts := make(map[int]float64)
		for i := range out {
			m := t.month[i]
			if _, ok := shifts[m]; !ok {
				shifts[m] = s.rnd.UniformFloat64(lo, hi)
			}
			out[i] += shifts[m]
		}
	}
	return out
}

// perturb adds zero-mean noise with sigma = range width * noise factor. For
// element-wise targets every element moves independently; otherwise one
// shift is drawn per target (or per month). Fresh draws of shifted targets
// use the uniform scheme.
func (s *Sampler) perturb(t target, center []float64, fresh bool) []float64 {
	sigma := t.rng.Width() * s.noise
	out := slices.Clone(center)
	switch t.shape {
	case shapeEach:
		for i, v := range center {
			out[i] = s.boundedNormal(v, sigma, t.rng.Min, t.rng.Max)
		}
		return out
	}
	if fresh {
		return s.uniform(t)
	}
	lo, hi := shiftBounds(t.rng, center)
	if t.shape == shapeShift {
		shift := s.boundedNormal(0, sigma, lo, hi)
		for i := range out {
			out[i] += shift
		}
		return out
	}
	shifts := make(map[int]float64)
	for i := range out {
		m := t.month[i]
		if _, ok := shifts[m]; !ok {
			shifts[m] = s.boundedNormal(0, sigma, lo, hi)
		}
		out[i] += shifts[m]
	}
	return out
}

// shiftBounds returns the interval of constant shifts that keep every value
// of vals inside r. When vals already spans more than r the interval is
// empty (lo > hi).
func shiftBounds(r params.Range, vals []float64) (lo, hi float64) {
	vmin, vmax := utils.MinMax(vals)
	return r.Min - vmin, r.Max - vmax
}

// boundedNormal draws from N(mean, sigma) until the value lies in [lo, hi],
// clamping after maxRedraws attempts or when the interval is empty.
func (s *Sampler) boundedNormal(mean, sigma, lo, hi float64) float64 {
	if lo > hi {
		return mean
	}
	if sigma <= 0 {
		return utils.ClampFloat64(mean, lo, hi)
	}
	for range maxRedraws {
		v := s.rnd.NormFloat64(mean, sigma)
		if v >= lo && v <= hi {
			return v
		}
	}
	return utils.ClampFloat64(mean, lo, hi)
}
