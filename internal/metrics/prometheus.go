package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GoSim-25-26J-441/prms-calibration/internal/optimizer"
	"github.com/GoSim-25-26J-441/prms-calibration/internal/scenario"
)

// Recorder exports scenario and calibration progress as Prometheus metrics
// on its own registry and mirrors every observation into a Collector. It
// implements series.Recorder and optimizer.Observer.
type Recorder struct {
	registry *prometheus.Registry

	scenariosTotal   *prometheus.CounterVec
	scenarioDuration *prometheus.HistogramVec
	failuresTotal    *prometheus.CounterVec
	roundsTotal      prometheus.Counter
	bestScore        *prometheus.GaugeVec
	archiveSize      prometheus.Gauge
	calibrating      prometheus.Gauge

	collector *Collector
}

// NewRecorder creates a recorder with a fresh registry that also carries
// the Go runtime and process collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		scenariosTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prms_scenarios_total",
			Help: "Scenarios finished, by terminal status.",
		}, []string{"status"}),
		scenarioDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prms_scenario_duration_seconds",
			Help:    "Wall time of simulator runs.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"status"}),
		failuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prms_scenario_failures_total",
			Help: "Scenario failures by kind (build, launch, exit, timeout, output, cancelled).",
		}, []string{"kind"}),
		roundsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prms_rounds_total",
			Help: "Calibration rounds completed.",
		}),
		bestScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "prms_best_score",
			Help: "Primary score of the best archived sample.",
		}, []string{"title", "stage", "metric"}),
		archiveSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "prms_archive_size",
			Help: "Samples currently held in the calibration archive.",
		}),
		calibrating: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "prms_calibration_running",
			Help: "1 while a calibration is running.",
		}),
		collector: NewCollector(),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.scenariosTotal,
		r.scenarioDuration,
		r.failuresTotal,
		r.roundsTotal,
		r.bestScore,
		r.archiveSize,
		r.calibrating,
	)
	return r
}

// Registry returns the registry the recorder's metrics live in.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Collector returns the in-memory collector fed by the recorder.
func (r *Recorder) Collector() *Collector { return r.collector }

// ScenarioFinished implements series.Recorder.
func (r *Recorder) ScenarioFinished(s *scenario.Scenario) {
	status := string(s.Status())
	r.scenariosTotal.WithLabelValues(status).Inc()
	if s.Meta.DurationSeconds > 0 {
		r.scenarioDuration.WithLabelValues(status).Observe(s.Meta.DurationSeconds)
	}
	if s.Meta.Failure != nil {
		r.failuresTotal.WithLabelValues(s.Meta.Failure.Kind).Inc()
	}
	RecordScenario(r.collector, s)
}

// Observe implements optimizer.Observer.
func (r *Recorder) Observe(_ context.Context, ev optimizer.Event) {
	switch ev.Kind {
	case optimizer.EventStarted:
		r.calibrating.Set(1)
		r.archiveSize.Set(0)
		r.collector.Start()
	case optimizer.EventRound:
		r.roundsTotal.Inc()
		r.archiveSize.Set(float64(len(ev.Archive)))
		if len(ev.Archive) > 0 {
			r.bestScore.WithLabelValues(ev.Title, ev.Stage, ev.Primary).Set(ev.Archive[0].Scores[ev.Primary])
		}
		RecordRound(r.collector, ev)
	case optimizer.EventFinished:
		r.calibrating.Set(0)
		r.collector.Stop()
	}
}
