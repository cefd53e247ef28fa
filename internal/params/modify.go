package params

import (
	"fmt"
	"math"
	"math/rand"
	"slices"
	"strings"

	"github.com/GoSim-25-26J-441/prms-calibration/pkg/errs"
)

// Modification produces a new Set from a base one without mutating it.
type Modification interface {
	Apply(base *Set) (*Set, error)
	Describe() Descriptor
}

// Descriptor is the serialisable summary of a modification recorded in
// scenario metadata and series manifests.
type Descriptor struct {
	Kind   string       `json:"kind" yaml:"kind"`
	Params []string     `json:"params,omitempty" yaml:"params,omitempty"`
	Args   []float64    `json:"args,omitempty" yaml:"args,omitempty"`
	Along  string       `json:"along,omitempty" yaml:"along,omitempty"`
	Seed   int64        `json:"seed,omitempty" yaml:"seed,omitempty"`
	Label  string       `json:"label,omitempty" yaml:"label,omitempty"`
	Steps  []Descriptor `json:"steps,omitempty" yaml:"steps,omitempty"`
}

// String renders a compact, stable form used for content-derived ids.
func (d Descriptor) String() string {
	var b strings.Builder
	b.WriteString(d.Kind)
	if d.Label != "" {
		b.WriteString(":" + d.Label)
	}
	fmt.Fprintf(&b, "(%s", strings.Join(d.Params, ","))
	for _, a := range d.Args {
		fmt.Fprintf(&b, ",%g", a)
	}
	if d.Along != "" {
		b.WriteString(",along=" + d.Along)
	}
	if d.Seed != 0 {
		fmt.Fprintf(&b, ",seed=%d", d.Seed)
	}
	b.WriteString(")")
	for _, s := range d.Steps {
		b.WriteString("|" + s.String())
	}
	return b.String()
}

// broadcast expands args to one value per element of p. A single arg is a
// scalar; with along set, args carry one value per index of that dimension;
// otherwise args must cover every element.
func broadcast(p *Param, args []float64, along string) ([]float64, error) {
	n := len(p.Values)
	out := make([]float64, n)
	switch {
	case len(args) == 0:
		return nil, &errs.DimensionMismatchError{Param: p.Name, Expected: 1, Got: 0, Detail: "no arguments"}
	case along != "":
		d := p.dimIndex(along)
		if d < 0 {
			return nil, &errs.DimensionMismatchError{Param: p.Name, Expected: p.Len(), Got: len(args), Detail: "parameter is not indexed by " + along}
		}
		if len(args) != p.Dims[d].Size && len(args) != 1 {
			return nil, &errs.DimensionMismatchError{Param: p.Name, Expected: p.Dims[d].Size, Got: len(args), Detail: "per-" + along + " vector"}
		}
		for i := range out {
			if len(args) == 1 {
				out[i] = args[0]
			} else {
				out[i] = args[p.indexAlong(d, i)]
			}
		}
	case len(args) == 1:
		for i := range out {
			out[i] = args[0]
		}
	case len(args) == n:
		copy(out, args)
	default:
		return nil, &errs.DimensionMismatchError{Param: p.Name, Expected: n, Got: len(args), Detail: "argument count"}
	}
	return out, nil
}

// elementwise applies f(value, arg) to each named parameter.
func elementwise(base *Set, names []string, args []float64, along string, f func(v, a float64) float64) (*Set, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("modification names no parameters")
	}
	updated := make(map[string]*Param, len(names))
	for _, name := range names {
		p, err := base.numeric(name)
		if err != nil {
			return nil, err
		}
		b, err := broadcast(p, args, along)
		if err != nil {
			return nil, err
		}
		values := make([]float64, len(p.Values))
		for i, v := range p.Values {
			values[i] = f(v, b[i])
		}
		updated[name] = p.withValues(values)
	}
	return base.replace(updated), nil
}

// Scale multiplies the named parameters by Factors.
type Scale struct {
	Params  []string
	Factors []float64
	Along   string
}

func (m Scale) Apply(base *Set) (*Set, error) {
	return elementwise(base, m.Params, m.Factors, m.Along, func(v, a float64) float64 { return v * a })
}

func (m Scale) Describe() Descriptor {
	return Descriptor{Kind: "scale", Params: slices.Clone(m.Params), Args: slices.Clone(m.Factors), Along: m.Along}
}

// Shift adds Offsets to the named parameters.
type Shift struct {
	Params  []string
	Offsets []float64
	Along   string
}

func (m Shift) Apply(base *Set) (*Set, error) {
	return elementwise(base, m.Params, m.Offsets, m.Along, func(v, a float64) float64 { return v + a })
}

func (m Shift) Describe() Descriptor {
	return Descriptor{Kind: "shift", Params: slices.Clone(m.Params), Args: slices.Clone(m.Offsets), Along: m.Along}
}

// AdditiveNoise adds zero-mean gaussian noise with standard deviation Sigma.
// When Along is set one draw is made per index of that dimension and shared
// by every element at that index, so the perturbation is correlated across
// the remaining dimensions. The same Seed always yields the same result.
type AdditiveNoise struct {
	Params []string
	Sigma  float64
	Along  string
	Seed   int64
}

func (m AdditiveNoise) Apply(base *Set) (*Set, error) {
	if m.Sigma < 0 || math.IsNaN(m.Sigma) || math.IsInf(m.Sigma, 0) {
		return nil, fmt.Errorf("noise sigma must be a non-negative number, got %g", m.Sigma)
	}
	if len(m.Params) == 0 {
		return nil, fmt.Errorf("modification names no parameters")
	}
	rng := rand.New(rand.NewSource(m.Seed))
	updated := make(map[string]*Param, len(m.Params))
	for _, name := range m.Params {
		p, err := base.numeric(name)
		if err != nil {
			return nil, err
		}
		draws := len(p.Values)
		if m.Along != "" {
			d := p.dimIndex(m.Along)
			if d < 0 {
				return nil, &errs.DimensionMismatchError{Param: name, Expected: p.Len(), Got: 0, Detail: "parameter is not indexed by " + m.Along}
			}
			draws = p.Dims[d].Size
		}
		noise := make([]float64, draws)
		for i := range noise {
			noise[i] = rng.NormFloat64() * m.Sigma
		}
		b, err := broadcast(p, noise, m.Along)
		if err != nil {
			return nil, err
		}
		values := make([]float64, len(p.Values))
		for i, v := range p.Values {
			values[i] = v + b[i]
		}
		updated[name] = p.withValues(values)
	}
	return base.replace(updated), nil
}

func (m AdditiveNoise) Describe() Descriptor {
	return Descriptor{Kind: "noise", Params: slices.Clone(m.Params), Args: []float64{m.Sigma}, Along: m.Along, Seed: m.Seed}
}

// Assign replaces the values of one parameter. Values follows the same
// broadcasting rules as Scale.
type Assign struct {
	Param  string
	Values []float64
	Along  string
}

func (m Assign) Apply(base *Set) (*Set, error) {
	return elementwise(base, []string{m.Param}, m.Values, m.Along, func(_, a float64) float64 { return a })
}

func (m Assign) Describe() Descriptor {
	return Descriptor{Kind: "assign", Params: []string{m.Param}, Args: slices.Clone(m.Values), Along: m.Along}
}

// Chain applies modifications in order.
type Chain []Modification

func (c Chain) Apply(base *Set) (*Set, error) {
	cur := base.Clone()
	for _, m := range c {
		next, err := m.Apply(cur)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

func (c Chain) Describe() Descriptor {
	d := Descriptor{Kind: "chain"}
	for _, m := range c {
		step := m.Describe()
		d.Steps = append(d.Steps, step)
		for _, p := range step.Params {
			if !slices.Contains(d.Params, p) {
				d.Params = append(d.Params, p)
			}
		}
	}
	return d
}

// Custom applies a caller-supplied function to each named parameter. Fn
// receives a copy and returns the new flattened values, which must keep the
// parameter's length.
type Custom struct {
	Label  string
	Params []string
	Fn     func(p *Param) ([]float64, error)
}

func (m Custom) Apply(base *Set) (*Set, error) {
	if m.Fn == nil {
		return nil, fmt.Errorf("custom modification %q has no function", m.Label)
	}
	if len(m.Params) == 0 {
		return nil, fmt.Errorf("custom modification %q names no parameters", m.Label)
	}
	updated := make(map[string]*Param, len(m.Params))
	for _, name := range m.Params {
		p, err := base.numeric(name)
		if err != nil {
			return nil, err
		}
		values, err := m.Fn(p.clone())
		if err != nil {
			return nil, fmt.Errorf("custom modification %q on %s: %w", m.Label, name, err)
		}
		if len(values) != len(p.Values) {
			return nil, &errs.DimensionMismatchError{Param: name, Expected: len(p.Values), Got: len(values), Detail: "custom " + m.Label}
		}
		updated[name] = p.withValues(slices.Clone(values))
	}
	return base.replace(updated), nil
}

func (m Custom) Describe() Descriptor {
	return Descriptor{Kind: "custom", Label: m.Label, Params: slices.Clone(m.Params)}
}
