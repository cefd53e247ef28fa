package params

// Range is the allowable interval for a parameter's values.
type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Contains reports whether v lies inside the closed interval.
func (r Range) Contains(v float64) bool { return v >= r.Min && v <= r.Max }

// Width returns Max - Min.
func (r Range) Width() float64 { return r.Max - r.Min }

// DefaultRanges holds allowable ranges for the parameters most often
// calibrated. Extend it, or supply explicit bounds, for anything else.
var DefaultRanges = map[string]Range{
	"dday_intcp":        {Min: -60.0, Max: 10.0},
	"dday_slope":        {Min: 0.2, Max: 0.9},
	"jh_coef":           {Min: 0.005, Max: 0.06},
	"pt_alpha":          {Min: 1.0, Max: 2.0},
	"potet_coef_hru_mo": {Min: 1.0, Max: 1.6},
	"tmax_index":        {Min: -10.0, Max: 110.0},
}

// LookupRange returns the default range for a parameter.
func LookupRange(name string) (Range, bool) {
	r, ok := DefaultRanges[name]
	return r, ok
}
