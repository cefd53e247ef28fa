package utils

import (
	"math"
	"testing"
	"time"
)

func TestContentIDStable(t *testing.T) {
	a := ContentID("base.param", "scale(k,0.5)")
	b := ContentID("base.param", "scale(k,0.5)")
	c := ContentID("base.param", "scale(k,2)")
	if a != b {
		t.Fatalf("expected stable id, got %s and %s", a, b)
	}
	if a == c {
		t.Fatalf("expected different content to produce different ids")
	}
	if len(a) != 12 {
		t.Fatalf("expected 12 hex chars, got %q", a)
	}
}

func TestGenerateSeriesIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateSeriesID()
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestSanitizeID(t *testing.T) {
	tests := map[string]string{
		"scale k 0.5":   "scale_k_0.5",
		"../etc/passwd": "_etc_passwd",
		"dday:-12.5":    "dday_-12.5",
		"ok-Name_1":     "ok-Name_1",
	}
	for in, want := range tests {
		if got := SanitizeID(in); got != want {
			t.Errorf("SanitizeID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRandSourceDeterministic(t *testing.T) {
	a, b := NewRandSource(42), NewRandSource(42)
	for i := 0; i < 10; i++ {
		if a.Float64() != b.Float64() {
			t.Fatalf("same seed produced different streams")
		}
	}
}

func TestUniformFloat64Bounds(t *testing.T) {
	r := NewRandSource(1)
	for i := 0; i < 1000; i++ {
		v := r.UniformFloat64(-2, 3)
		if v < -2 || v >= 3 {
			t.Fatalf("value %g out of range", v)
		}
	}
}

func TestWeightedIndex(t *testing.T) {
	r := NewRandSource(7)
	if r.WeightedIndex(nil) != -1 {
		t.Fatalf("expected -1 for empty weights")
	}
	counts := make([]int, 3)
	for i := 0; i < 10000; i++ {
		counts[r.WeightedIndex([]float64{0, 1, 3})]++
	}
	if counts[0] != 0 {
		t.Fatalf("zero weight chosen %d times", counts[0])
	}
	ratio := float64(counts[2]) / float64(counts[1])
	if ratio < 2.5 || ratio > 3.5 {
		t.Fatalf("expected ~3:1 ratio, got %g (%v)", ratio, counts)
	}
	idx := r.WeightedIndex([]float64{0, 0})
	if idx < 0 || idx > 1 {
		t.Fatalf("expected uniform fallback, got %d", idx)
	}
}

func TestExponentialBackoff(t *testing.T) {
	b := NewExponentialBackoff(100*time.Millisecond, time.Second, 2, nil)
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second}
	for i, w := range want {
		if got := b.NextDelay(i); got != w {
			t.Errorf("attempt %d: got %v want %v", i, got, w)
		}
	}
	j := NewExponentialBackoff(100*time.Millisecond, time.Second, 2, NewRandSource(3))
	if d := j.NextDelay(0); d < 50*time.Millisecond || d >= 150*time.Millisecond {
		t.Errorf("jittered delay %v out of range", d)
	}
	if (ConstantBackoff{Delay: time.Second}).NextDelay(5) != time.Second {
		t.Errorf("constant backoff changed delay")
	}
}

func TestMathHelpers(t *testing.T) {
	if ClampFloat64(5, 0, 1) != 1 || ClampFloat64(-1, 0, 1) != 0 {
		t.Errorf("ClampFloat64 wrong")
	}
	if Round(1.23456, 2) != 1.23 {
		t.Errorf("Round wrong")
	}
	lo, hi := MinMax([]float64{3, math.NaN(), -1, 2})
	if lo != -1 || hi != 3 {
		t.Errorf("MinMax = %g,%g", lo, hi)
	}
	lo, _ = MinMax([]float64{math.NaN()})
	if !math.IsNaN(lo) {
		t.Errorf("expected NaN for no finite values")
	}
}

func TestTimeHelpers(t *testing.T) {
	if got := FormatDuration(1500 * time.Millisecond); got != "1.50s" {
		t.Errorf("FormatDuration = %q", got)
	}
	if got := FormatDuration(90 * time.Second); got != "1m30s" {
		t.Errorf("FormatDuration = %q", got)
	}
	d, err := ParseDate("2001-02-03")
	if err != nil || d.Year() != 2001 || d.Month() != 2 || d.Day() != 3 {
		t.Errorf("ParseDate = %v, %v", d, err)
	}
	if d, _ := ParseDate(""); !d.IsZero() {
		t.Errorf("expected zero time for empty date")
	}
	if _, err := ParseDate("03/02/2001"); err == nil {
		t.Errorf("expected error for bad date")
	}
}
