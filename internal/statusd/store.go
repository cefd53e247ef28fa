// Package statusd exposes the progress of calibrations and series over
// HTTP and gRPC health checks.
package statusd

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/GoSim-25-26J-441/prms-calibration/internal/optimizer"
	"github.com/GoSim-25-26J-441/prms-calibration/internal/scenario"
	"github.com/GoSim-25-26J-441/prms-calibration/internal/score"
	"github.com/GoSim-25-26J-441/prms-calibration/pkg/utils"
)

// Status is the lifecycle state of a tracked calibration.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// RoundSummary is the compact form of a finished round.
type RoundSummary struct {
	Index      int          `json:"index"`
	Succeeded  int          `json:"succeeded"`
	Failed     int          `json:"failed"`
	Archived   int          `json:"archived"`
	BestID     string       `json:"best_scenario_id,omitempty"`
	BestScores score.Scores `json:"best_scores,omitempty"`
	EndedAt    time.Time    `json:"ended_at"`
}

// Record is the tracked state of one calibration.
type Record struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Stage       string            `json:"stage"`
	Primary     string            `json:"primary_metric,omitempty"`
	Status      Status            `json:"status"`
	TotalRounds int               `json:"total_rounds"`
	Rounds      []RoundSummary    `json:"rounds"`
	Archive     []optimizer.Entry `json:"archive,omitempty"`
	StopReason  string            `json:"stop_reason,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	EndedAt     time.Time         `json:"ended_at,omitzero"`
}

// Best returns the top archived entry.
func (r *Record) Best() (optimizer.Entry, bool) {
	if len(r.Archive) == 0 {
		return optimizer.Entry{}, false
	}
	return r.Archive[0], true
}

// ScenarioCounts tallies finished scenarios by status.
type ScenarioCounts struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Store keeps calibration records in memory. It implements
// optimizer.Observer and series.Recorder and is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	records   map[string]*Record
	order     []string
	current   string
	scenarios ScenarioCounts

	// onChange is called with the running state after every event.
	onChange func(running bool)
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{records: make(map[string]*Record)}
}

// Observe implements optimizer.Observer.
func (s *Store) Observe(_ context.Context, ev optimizer.Event) {
	s.mu.Lock()
	switch ev.Kind {
	case optimizer.EventStarted:
		id := ev.RunID
		if id == "" {
			id = utils.GenerateRunID()
		}
		s.records[id] = &Record{
			ID:          id,
			Title:       ev.Title,
			Stage:       ev.Stage,
			Status:      StatusRunning,
			TotalRounds: ev.TotalRounds,
			StartedAt:   ev.Time,
		}
		s.order = append(s.order, id)
		s.current = id
	case optimizer.EventRound:
		if rec := s.records[s.current]; rec != nil && ev.Round != nil {
			rec.Primary = ev.Primary
			rec.Archive = slices.Clone(ev.Archive)
			sum := RoundSummary{
				Index:     ev.Round.Index,
				Succeeded: ev.Round.Succeeded,
				Failed:    ev.Round.Failed,
				Archived:  ev.Round.Archived,
				EndedAt:   ev.Round.EndedAt,
			}
			if best, ok := rec.Best(); ok {
				sum.BestID = best.ScenarioID
				sum.BestScores = maps.Clone(best.Scores)
			}
			rec.Rounds = append(rec.Rounds, sum)
		}
	case optimizer.EventFinished:
		if rec := s.records[s.current]; rec != nil {
			rec.Status = StatusCompleted
			rec.Archive = slices.Clone(ev.Archive)
			rec.EndedAt = ev.Time
			if ev.Result != nil {
				rec.StopReason = ev.Result.StopReason
				if ev.Result.StopReason == optimizer.StopCancelled {
					rec.Status = StatusCancelled
				}
			}
		}
		s.current = ""
	}
	running := s.current != ""
	notify := s.onChange
	s.mu.Unlock()

	if notify != nil {
		notify(running)
	}
}

// ScenarioFinished implements series.Recorder.
func (s *Store) ScenarioFinished(sc *scenario.Scenario) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc.Status() == scenario.StatusSucceeded {
		s.scenarios.Succeeded++
	} else {
		s.scenarios.Failed++
	}
}

// Scenarios returns the scenario tallies since the store was created.
func (s *Store) Scenarios() ScenarioCounts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scenarios
}

// Get returns a copy of the record with the given id.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	return copyRecord(rec), true
}

// Current returns the running calibration, if any.
func (s *Store) Current() (Record, bool) {
	s.mu.RLock()
	id := s.current
	s.mu.RUnlock()
	if id == "" {
		return Record{}, false
	}
	return s.Get(id)
}

// Latest returns the most recently started calibration.
func (s *Store) Latest() (Record, bool) {
	s.mu.RLock()
	if len(s.order) == 0 {
		s.mu.RUnlock()
		return Record{}, false
	}
	id := s.order[len(s.order)-1]
	s.mu.RUnlock()
	return s.Get(id)
}

// List returns up to limit records, newest first. A non-positive limit
// means 50.
func (s *Store) List(limit int) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	out := make([]Record, 0, min(limit, len(s.order)))
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, copyRecord(s.records[s.order[i]]))
	}
	return out
}

// Running reports whether a calibration is in progress.
func (s *Store) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current != ""
}

func (s *Store) setOnChange(fn func(bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

func copyRecord(r *Record) Record {
	out := *r
	out.Rounds = slices.Clone(r.Rounds)
	out.Archive = slices.Clone(r.Archive)
	return out
}

func (r Record) String() string {
	return fmt.Sprintf("%s %s/%s %s (%d/%d rounds)", r.ID, r.Title, r.Stage, r.Status, len(r.Rounds), r.TotalRounds)
}
