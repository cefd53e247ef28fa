package optimizer

import (
	"context"
	"time"
)

// EventKind tags an optimizer event.
type EventKind string

const (
	EventStarted  EventKind = "started"
	EventRound    EventKind = "round"
	EventFinished EventKind = "finished"
)

// Event is delivered to observers when a calibration starts, after every
// round and when it ends.
type Event struct {
	Kind        EventKind `json:"kind"`
	RunID       string    `json:"run_id"`
	Title       string    `json:"title"`
	Stage       string    `json:"stage"`
	TotalRounds int       `json:"total_rounds"`
	Primary     string    `json:"primary_metric,omitempty"`
	Round       *Round    `json:"round,omitempty"`
	Archive     []Entry   `json:"archive,omitempty"`
	Result      *Result   `json:"-"`
	Time        time.Time `json:"time"`
}

// Observer receives optimizer events. Observe is called synchronously from
// the goroutine running MonteCarlo, so implementations should not block
// for long.
type Observer interface {
	Observe(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, ev Event)

func (f ObserverFunc) Observe(ctx context.Context, ev Event) { f(ctx, ev) }

func (o *Optimizer) notify(ctx context.Context, ev Event) {
	ev.Time = time.Now().UTC()
	for _, obs := range o.Observers {
		obs.Observe(ctx, ev)
	}
}
