package optimizer

import (
	"fmt"
	"math"
	"slices"
)

// Candidate is a previously scored sample offered to a ResamplePolicy.
type Candidate struct {
	Round  int
	Index  int
	Key    float64 // primary score mapped so that higher is better
	Values map[string][]float64
}

// ResamplePolicy decides how strongly biased resampling favours earlier
// samples. Weights receives candidates in the order they were scored and
// the index of the round being sampled; it returns one non-negative weight
// per candidate.
type ResamplePolicy interface {
	Name() string
	Weights(history []Candidate, round int) []float64
	// ExploreProb is the probability of drawing a fresh uniform sample
	// instead of resampling around a candidate.
	ExploreProb() float64
}

// RankPolicy weights the candidate ranked r (0 = best) by Decay^r, times
// RoundDecay^age where age counts rounds since the candidate was scored.
// Candidates with equal keys keep their scoring order.
type RankPolicy struct {
	Decay      float64
	RoundDecay float64
	Explore    float64
}

func (p RankPolicy) Name() string { return "rank" }

func (p RankPolicy) ExploreProb() float64 { return p.Explore }

func (p RankPolicy) Weights(history []Candidate, round int) []float64 {
	order := make([]int, len(history))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		ka, kb := history[a].Key, history[b].Key
		switch {
		case ka > kb:
			return -1
		case ka < kb:
			return 1
		}
		return 0
	})
	w := make([]float64, len(history))
	for rank, i := range order {
		if math.IsInf(history[i].Key, -1) {
			continue
		}
		w[i] = math.Pow(p.Decay, float64(rank)) * ageFactor(p.RoundDecay, round, history[i].Round)
	}
	return w
}

// ScorePolicy weights candidates by exp((key - best) / Temperature), times
// RoundDecay^age. Lower temperatures concentrate on the best samples.
type ScorePolicy struct {
	Temperature float64
	RoundDecay  float64
	Explore     float64
}

func (p ScorePolicy) Name() string { return "score" }

func (p ScorePolicy) ExploreProb() float64 { return p.Explore }

func (p ScorePolicy) Weights(history []Candidate, round int) []float64 {
	best := math.Inf(-1)
	for _, c := range history {
		best = math.Max(best, c.Key)
	}
	w := make([]float64, len(history))
	if math.IsInf(best, -1) {
		return w
	}
	for i, c := range history {
		if math.IsInf(c.Key, -1) || math.IsNaN(c.Key) {
			continue
		}
		w[i] = math.Exp((c.Key-best)/p.Temperature) * ageFactor(p.RoundDecay, round, c.Round)
	}
	return w
}

func ageFactor(decay float64, round, scored int) float64 {
	age := round - scored - 1
	if age <= 0 || decay == 1 {
		return 1
	}
	return math.Pow(decay, float64(age))
}

// NewPolicy builds a policy by name ("rank" or "score").
func NewPolicy(name string, decay, roundDecay, temperature, explore float64) (ResamplePolicy, error) {
	if explore < 0 || explore > 1 {
		return nil, fmt.Errorf("explore probability must be in [0, 1], got %g", explore)
	}
	if roundDecay <= 0 || roundDecay > 1 {
		return nil, fmt.Errorf("round decay must be in (0, 1], got %g", roundDecay)
	}
	switch name {
	case "rank", "":
		if decay <= 0 || decay > 1 {
			return nil, fmt.Errorf("rank decay must be in (0, 1], got %g", decay)
		}
		return RankPolicy{Decay: decay, RoundDecay: roundDecay, Explore: explore}, nil
	case "score":
		if temperature <= 0 {
			return nil, fmt.Errorf("temperature must be positive, got %g", temperature)
		}
		return ScorePolicy{Temperature: temperature, RoundDecay: roundDecay, Explore: explore}, nil
	}
	return nil, fmt.Errorf("unknown weighting %q (must be rank or score)", name)
}
