// Package notify forwards calibration events to external sinks: an HTTP
// webhook and a Kafka topic.
package notify

import (
	"time"

	"github.com/GoSim-25-26J-441/prms-calibration/internal/optimizer"
)

// Payload is the JSON document sent for every calibration event.
type Payload struct {
	Kind        optimizer.EventKind `json:"kind"`
	RunID       string              `json:"run_id,omitempty"`
	Title       string              `json:"title"`
	Stage       string              `json:"stage"`
	TotalRounds int                 `json:"total_rounds"`
	Round       *RoundPayload       `json:"round,omitempty"`
	Best        *optimizer.Entry    `json:"best,omitempty"`
	StopReason  string              `json:"stop_reason,omitempty"`
	Timestamp   int64               `json:"timestamp"` // unix ms
}

// RoundPayload summarises a finished round.
type RoundPayload struct {
	Index     int                  `json:"index"`
	SeriesID  string               `json:"series_id"`
	Succeeded int                  `json:"succeeded"`
	Failed    int                  `json:"failed"`
	Archived  int                  `json:"archived"`
	Ranking   []string             `json:"ranking"`
	Failures  []map[string]float64 `json:"failed_values,omitempty"`
}

// NewPayload builds the payload for ev.
func NewPayload(ev optimizer.Event) Payload {
	p := Payload{
		Kind:        ev.Kind,
		RunID:       ev.RunID,
		Title:       ev.Title,
		Stage:       ev.Stage,
		TotalRounds: ev.TotalRounds,
		Timestamp:   ev.Time.UnixMilli(),
	}
	if ev.Time.IsZero() {
		p.Timestamp = time.Now().UTC().UnixMilli()
	}
	if r := ev.Round; r != nil {
		p.Round = &RoundPayload{
			Index:     r.Index,
			SeriesID:  r.SeriesID,
			Succeeded: r.Succeeded,
			Failed:    r.Failed,
			Archived:  r.Archived,
			Ranking:   r.Ranking,
			Failures:  r.FailedValues,
		}
	}
	if len(ev.Archive) > 0 {
		best := ev.Archive[0]
		p.Best = &best
	}
	if ev.Result != nil {
		p.StopReason = ev.Result.StopReason
	}
	return p
}
