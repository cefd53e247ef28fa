package params

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/GoSim-25-26J-441/prms-calibration/pkg/errs"
)

const sampleFile = `Dry Creek parameters
Version: 1.7
** Dimensions **
####
nhru
2
####
nmonths
3
####
one
1
** Parameters **
####
k 10
1
one
1
2
1.0
####
hru_type 10
1
nhru
2
1
1
2
####
dday_intcp 10
2
nhru
nmonths
6
2
-10.5
-11
-12
-13
-14
-15
####
basin_name 10
1
one
1
4
dry_creek
`

func parseSample(t *testing.T) *Set {
	t.Helper()
	s, err := Parse(strings.NewReader(sampleFile), "sample.param")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return s
}

func TestParse(t *testing.T) {
	s := parseSample(t)

	if got := s.Names(); !slices.Equal(got, []string{"k", "hru_type", "dday_intcp", "basin_name"}) {
		t.Fatalf("unexpected names %v", got)
	}
	if n, ok := s.Dimension("nmonths"); !ok || n != 3 {
		t.Fatalf("expected nmonths=3, got %d %v", n, ok)
	}
	v, err := s.Values("dday_intcp")
	if err != nil {
		t.Fatalf("Values: %v", err)
	}
	if len(v) != 6 || v[0] != -10.5 || v[5] != -15 {
		t.Fatalf("unexpected values %v", v)
	}
	p, _ := s.Param("basin_name")
	if p.Type != TypeString || p.Strings[0] != "dry_creek" {
		t.Fatalf("unexpected string param %+v", p)
	}
	if s.BaseFile() != "sample.param" {
		t.Fatalf("unexpected base file %q", s.BaseFile())
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		target error
	}{
		{"no dimensions", "header\nonly\n", errs.ErrFormat},
		{"undeclared dimension", "h\nv\n** Dimensions **\n####\nnhru\n1\n** Parameters **\n####\nk\n1\nnseg\n1\n2\n1\n", errs.ErrFormat},
		{"count mismatch", "h\nv\n** Dimensions **\n####\nnhru\n2\n** Parameters **\n####\nk\n1\nnhru\n3\n2\n1\n2\n3\n", errs.ErrDimensionMismatch},
		{"short values", "h\nv\n** Dimensions **\n####\nnhru\n2\n** Parameters **\n####\nk\n1\nnhru\n2\n2\n1\n", errs.ErrDimensionMismatch},
		{"bad type", "h\nv\n** Dimensions **\n####\nnhru\n1\n** Parameters **\n####\nk\n1\nnhru\n1\n9\n1\n", errs.ErrFormat},
		{"bad value", "h\nv\n** Dimensions **\n####\nnhru\n1\n** Parameters **\n####\nk\n1\nnhru\n1\n2\nabc\n", errs.ErrFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input), "bad.param")
			if !errors.Is(err, tt.target) {
				t.Fatalf("expected %v, got %v", tt.target, err)
			}
		})
	}
}

func TestWriteUnmodifiedIsByteIdentical(t *testing.T) {
	s := parseSample(t)
	var b strings.Builder
	if _, err := s.WriteTo(&b); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if b.String() != sampleFile {
		t.Fatalf("round trip changed file:\n%s", b.String())
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	s := parseSample(t)
	mod, err := s.Modify(Scale{Params: []string{"dday_intcp", "hru_type"}, Factors: []float64{1.37}})
	if err != nil {
		t.Fatalf("Modify: %v", err)
	}
	path := filepath.Join(t.TempDir(), "out.param")
	if err := mod.Write(path); err != nil {
		t.Fatalf("Write: %v", err)
	}
	back, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want, _ := mod.Values("dday_intcp")
	got, _ := back.Values("dday_intcp")
	for i := range want {
		if math.Abs(want[i]-got[i]) > 1e-5 {
			t.Fatalf("value %d: want %g got %g", i, want[i], got[i])
		}
	}
	for _, name := range s.Names() {
		a, _ := mod.Signature(name)
		b, _ := back.Signature(name)
		if !slices.Equal(a, b) {
			t.Fatalf("signature of %s changed: %v vs %v", name, a, b)
		}
	}
	// integer parameters are rounded on write
	ht, _ := back.Values("hru_type")
	if !slices.Equal(ht, []float64{1, 3}) {
		t.Fatalf("expected rounded ints [1 3], got %v", ht)
	}
}

func TestWriteUnwritablePath(t *testing.T) {
	s := parseSample(t)
	err := s.Write(filepath.Join(t.TempDir(), "missing", "dir", "x.param"))
	if !errors.Is(err, errs.ErrIO) {
		t.Fatalf("expected IOError, got %v", err)
	}
}

func TestReadMissingFile(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "nope"))
	if !errors.Is(err, errs.ErrIO) || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected IOError wrapping ErrNotExist, got %v", err)
	}
}

func TestModifyLeavesBaseUnchanged(t *testing.T) {
	mods := []Modification{
		Scale{Params: []string{"k"}, Factors: []float64{2}},
		Shift{Params: []string{"dday_intcp"}, Offsets: []float64{1, 2, 3}, Along: "nmonths"},
		AdditiveNoise{Params: []string{"dday_intcp"}, Sigma: 0.5, Seed: 7},
		Assign{Param: "k", Values: []float64{4}},
		Chain{Scale{Params: []string{"k"}, Factors: []float64{3}}, Shift{Params: []string{"k"}, Offsets: []float64{1}}},
		Custom{Label: "neg", Params: []string{"k"}, Fn: func(p *Param) ([]float64, error) {
			p.Values[0] = -p.Values[0]
			return p.Values, nil
		}},
	}
	for _, m := range mods {
		t.Run(m.Describe().Kind, func(t *testing.T) {
			s := parseSample(t)
			before := s.Clone()
			out, err := s.Modify(m)
			if err != nil {
				t.Fatalf("Modify: %v", err)
			}
			for _, name := range s.Names() {
				a, _ := s.Values(name)
				b, _ := before.Values(name)
				if !slices.Equal(a, b) {
					t.Fatalf("base parameter %s mutated", name)
				}
				sa, _ := s.Signature(name)
				sb, _ := out.Signature(name)
				if !slices.Equal(sa, sb) {
					t.Fatalf("signature of %s changed", name)
				}
			}
			if len(s.Diff(out)) == 0 {
				t.Fatalf("expected modification to change something")
			}
		})
	}
}

func TestShiftAlongDimension(t *testing.T) {
	s := parseSample(t)
	out, err := s.Modify(Shift{Params: []string{"dday_intcp"}, Offsets: []float64{1, 2, 3}, Along: "nmonths"})
	if err != nil {
		t.Fatalf("Modify: %v", err)
	}
	got, _ := out.Values("dday_intcp")
	// nhru varies fastest: [h1m1 h2m1 h1m2 h2m2 h1m3 h2m3]
	want := []float64{-9.5, -10, -10, -11, -11, -12}
	if !slices.Equal(got, want) {
		t.Fatalf("want %v got %v", want, got)
	}
}

func TestArgumentGranularityMismatch(t *testing.T) {
	s := parseSample(t)
	tests := []Modification{
		Scale{Params: []string{"dday_intcp"}, Factors: []float64{1, 2}},
		Scale{Params: []string{"dday_intcp"}, Factors: []float64{1, 2}, Along: "nmonths"},
		Scale{Params: []string{"k"}, Factors: []float64{1}, Along: "nhru"},
		Assign{Param: "k"},
	}
	for _, m := range tests {
		if _, err := s.Modify(m); !errors.Is(err, errs.ErrDimensionMismatch) {
			t.Fatalf("%s: expected DimensionMismatchError, got %v", m.Describe(), err)
		}
	}
}

func TestModifyUnknownAndStringParams(t *testing.T) {
	s := parseSample(t)
	if _, err := s.Modify(Scale{Params: []string{"nope"}, Factors: []float64{2}}); !errors.Is(err, ErrUnknownParam) {
		t.Fatalf("expected ErrUnknownParam, got %v", err)
	}
	if _, err := s.Modify(Scale{Params: []string{"basin_name"}, Factors: []float64{2}}); err == nil {
		t.Fatalf("expected error for string parameter")
	}
}

func TestModifyRejectsBadArguments(t *testing.T) {
	s := parseSample(t)
	identity := func(p *Param) ([]float64, error) { return p.Values, nil }
	tests := []struct {
		name string
		mod  Modification
	}{
		{"negative sigma", AdditiveNoise{Params: []string{"dday_intcp"}, Sigma: -1}},
		{"nan sigma", AdditiveNoise{Params: []string{"dday_intcp"}, Sigma: math.NaN()}},
		{"infinite sigma", AdditiveNoise{Params: []string{"dday_intcp"}, Sigma: math.Inf(1)}},
		{"custom without params", Custom{Label: "noop", Fn: identity}},
		{"custom without function", Custom{Label: "nil", Params: []string{"k"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Modify(tt.mod); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestAdditiveNoiseDeterministicAndCorrelated(t *testing.T) {
	s := parseSample(t)
	m := AdditiveNoise{Params: []string{"dday_intcp"}, Sigma: 1, Along: "nmonths", Seed: 42}
	a, _ := s.Modify(m)
	b, _ := s.Modify(m)
	va, _ := a.Values("dday_intcp")
	vb, _ := b.Values("dday_intcp")
	if !slices.Equal(va, vb) {
		t.Fatalf("same seed produced different noise")
	}
	base, _ := s.Values("dday_intcp")
	for month := 0; month < 3; month++ {
		d1 := va[2*month] - base[2*month]
		d2 := va[2*month+1] - base[2*month+1]
		if math.Abs(d1-d2) > 1e-12 {
			t.Fatalf("month %d: expected shared draw across hrus, got %g and %g", month, d1, d2)
		}
	}
}

func TestDiff(t *testing.T) {
	s := parseSample(t)
	out, _ := s.Modify(Scale{Params: []string{"k"}, Factors: []float64{0.5}})
	d := s.Diff(out)
	if len(d) != 1 || d[0].Name != "k" || d[0].Changed != 1 || d[0].MeanAfter != 0.5 || d[0].MaxAbsDelta != 0.5 {
		t.Fatalf("unexpected diff %+v", d)
	}
}

func TestDescriptorString(t *testing.T) {
	got := Scale{Params: []string{"k"}, Factors: []float64{0.5}}.Describe().String()
	if got != "scale(k,0.5)" {
		t.Fatalf("unexpected descriptor %q", got)
	}
}

func TestLookupRange(t *testing.T) {
	r, ok := LookupRange("jh_coef")
	if !ok || !r.Contains(0.01) || r.Contains(0.1) {
		t.Fatalf("unexpected range %+v %v", r, ok)
	}
}
