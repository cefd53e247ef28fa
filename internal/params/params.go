// Package params reads, modifies and writes PRMS parameter files.
//
// A parameter file is a free-text header followed by a dimension section and
// a parameter section. Each parameter block declares its dimension names,
// a value count and a type code, followed by one value per line. Values are
// stored flattened with the first dimension varying fastest, matching the
// order in which the simulator reads them.
package params

import (
	"errors"
	"fmt"
	"slices"

	"github.com/GoSim-25-26J-441/prms-calibration/pkg/errs"
)

// ErrUnknownParam is returned when a modification names a parameter that is
// not present in the set.
var ErrUnknownParam = errors.New("unknown parameter")

// ValueType is the PRMS type code of a parameter block.
type ValueType int

const (
	TypeInt    ValueType = 1
	TypeFloat  ValueType = 2
	TypeDouble ValueType = 3
	TypeString ValueType = 4
)

func (t ValueType) valid() bool { return t >= TypeInt && t <= TypeString }

// Dimension is a named extent such as nhru or nmonths.
type Dimension struct {
	Name string `json:"name" yaml:"name"`
	Size int    `json:"size" yaml:"size"`
}

// Param is one parameter block. Sets never mutate a Param after
// construction; accessors hand out copies.
type Param struct {
	Name    string
	Width   string
	Dims    []Dimension
	Type    ValueType
	Values  []float64
	Strings []string

	// raw holds the value lines as read so untouched parameters are written
	// back byte for byte.
	raw []string
}

// Len returns the number of elements implied by the dimension signature.
func (p *Param) Len() int {
	n := 1
	for _, d := range p.Dims {
		n *= d.Size
	}
	return n
}

// DimNames returns the ordered dimension names of the parameter.
func (p *Param) DimNames() []string {
	names := make([]string, len(p.Dims))
	for i, d := range p.Dims {
		names[i] = d.Name
	}
	return names
}

// HasDim reports whether the parameter is indexed by the named dimension.
func (p *Param) HasDim(name string) bool {
	return p.dimIndex(name) >= 0
}

// Coord returns the coordinate of flat element i along the named dimension,
// or -1 when the parameter is not indexed by it.
func (p *Param) Coord(dim string, i int) int {
	d := p.dimIndex(dim)
	if d < 0 {
		return -1
	}
	return p.indexAlong(d, i)
}

func (p *Param) dimIndex(name string) int {
	for i, d := range p.Dims {
		if d.Name == name {
			return i
		}
	}
	return -1
}

// indexAlong returns the coordinate of flat element i along dimension d.
func (p *Param) indexAlong(d, i int) int {
	stride := 1
	for k := 0; k < d; k++ {
		stride *= p.Dims[k].Size
	}
	return (i / stride) % p.Dims[d].Size
}

func (p *Param) clone() *Param {
	c := &Param{
		Name:  p.Name,
		Width: p.Width,
		Dims:  slices.Clone(p.Dims),
		Type:  p.Type,
		raw:   slices.Clone(p.raw),
	}
	if p.Values != nil {
		c.Values = slices.Clone(p.Values)
	}
	if p.Strings != nil {
		c.Strings = slices.Clone(p.Strings)
	}
	return c
}

// withValues returns a copy of p carrying new values; the raw text is
// dropped so the values are re-rendered on write.
func (p *Param) withValues(values []float64) *Param {
	c := p.clone()
	c.Values = values
	c.raw = nil
	return c
}

// Set is an ordered, immutable collection of parameters and the dimensions
// they are declared against.
type Set struct {
	baseFile string
	header   []string
	dims     []Dimension
	params   []*Param
	index    map[string]int
}

// BaseFile is the path the set (or its ancestor) was read from.
func (s *Set) BaseFile() string { return s.baseFile }

// Names returns parameter names in file order.
func (s *Set) Names() []string {
	names := make([]string, len(s.params))
	for i, p := range s.params {
		names[i] = p.Name
	}
	return names
}

// Dimensions returns the declared dimensions in file order.
func (s *Set) Dimensions() []Dimension { return slices.Clone(s.dims) }

// Dimension returns the declared size of a dimension.
func (s *Set) Dimension(name string) (int, bool) {
	for _, d := range s.dims {
		if d.Name == name {
			return d.Size, true
		}
	}
	return 0, false
}

// Has reports whether the named parameter exists.
func (s *Set) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Param returns a copy of the named parameter.
func (s *Set) Param(name string) (*Param, bool) {
	i, ok := s.index[name]
	if !ok {
		return nil, false
	}
	return s.params[i].clone(), true
}

// Values returns a copy of the numeric values of a parameter.
func (s *Set) Values(name string) ([]float64, error) {
	i, ok := s.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownParam, name)
	}
	return slices.Clone(s.params[i].Values), nil
}

// Signature returns the dimension signature of a parameter.
func (s *Set) Signature(name string) ([]Dimension, bool) {
	i, ok := s.index[name]
	if !ok {
		return nil, false
	}
	return slices.Clone(s.params[i].Dims), true
}

// Clone returns a deep copy of the set.
func (s *Set) Clone() *Set {
	c := &Set{
		baseFile: s.baseFile,
		header:   slices.Clone(s.header),
		dims:     slices.Clone(s.dims),
		params:   make([]*Param, len(s.params)),
		index:    make(map[string]int, len(s.index)),
	}
	for i, p := range s.params {
		c.params[i] = p.clone()
		c.index[p.Name] = i
	}
	return c
}

// Modify applies a modification and returns the resulting set. The receiver
// is left unchanged.
func (s *Set) Modify(m Modification) (*Set, error) {
	if m == nil {
		return s.Clone(), nil
	}
	return m.Apply(s)
}

// replace returns a deep copy of s with the given parameters swapped in.
func (s *Set) replace(updated map[string]*Param) *Set {
	c := s.Clone()
	for name, p := range updated {
		c.params[c.index[name]] = p
	}
	return c
}

// numeric returns the named parameter, failing for missing or string-typed
// parameters.
func (s *Set) numeric(name string) (*Param, error) {
	i, ok := s.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownParam, name)
	}
	p := s.params[i]
	if p.Type == TypeString {
		return nil, fmt.Errorf("parameter %s is string-typed and cannot be modified numerically", name)
	}
	return p, nil
}

// validate checks every parameter's value count against its signature and
// that each referenced dimension is declared with the same size.
func (s *Set) validate() error {
	for _, p := range s.params {
		for _, d := range p.Dims {
			size, ok := s.Dimension(d.Name)
			if !ok {
				return &errs.FormatError{Path: s.baseFile, Msg: fmt.Sprintf("parameter %s uses undeclared dimension %s", p.Name, d.Name)}
			}
			if size != d.Size {
				return &errs.DimensionMismatchError{Param: p.Name, Expected: size, Got: d.Size, Detail: "dimension " + d.Name}
			}
		}
		n := len(p.Values)
		if p.Type == TypeString {
			n = len(p.Strings)
		}
		if n != p.Len() {
			return &errs.DimensionMismatchError{Param: p.Name, Expected: p.Len(), Got: n}
		}
	}
	return nil
}
