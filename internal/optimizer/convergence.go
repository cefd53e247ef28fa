package optimizer

import (
	"fmt"
	"math"
)

// Step is the state of the search after one round.
type Step struct {
	Round   int
	BestKey float64 // archive best, higher is better
}

// ConvergenceStrategy decides when to stop early.
type ConvergenceStrategy interface {
	// CheckConvergence checks if the search has converged based on history
	CheckConvergence(history []Step) (bool, string)
	Name() string
}

// ConvergenceConfig holds configuration for convergence detection
type ConvergenceConfig struct {
	// NoImprovementRounds is the number of rounds without improvement before stopping
	NoImprovementRounds int
	// ScoreTolerance is the minimum change of the best key that counts as an improvement
	ScoreTolerance float64
	// MinRounds is the minimum number of rounds before convergence can be detected
	MinRounds int
}

// NoImprovementStrategy detects convergence when the archive best has not
// improved for NoImprovementRounds rounds.
type NoImprovementStrategy struct {
	config ConvergenceConfig
}

// NewNoImprovementStrategy creates a new no-improvement convergence strategy
func NewNoImprovementStrategy(config ConvergenceConfig) *NoImprovementStrategy {
	if config.NoImprovementRounds < 1 {
		config.NoImprovementRounds = 1
	}
	return &NoImprovementStrategy{config: config}
}

func (s *NoImprovementStrategy) Name() string {
	return "no_improvement"
}

func (s *NoImprovementStrategy) CheckConvergence(history []Step) (converged bool, reason string) {
	if len(history) < s.config.MinRounds || len(history) == 0 {
		return false, ""
	}

	best := math.Inf(-1)
	bestRound := -1
	for i, step := range history {
		if bestRound < 0 || step.BestKey > best+s.config.ScoreTolerance {
			best = step.BestKey
			bestRound = i
		}
	}

	since := len(history) - 1 - bestRound
	if since >= s.config.NoImprovementRounds {
		return true, fmt.Sprintf("no improvement for %d rounds (best at round %d)", since, history[bestRound].Round)
	}
	return false, ""
}
