package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/GoSim-25-26J-441/prms-calibration/internal/metrics"
	"github.com/GoSim-25-26J-441/prms-calibration/internal/notify"
	"github.com/GoSim-25-26J-441/prms-calibration/internal/optimizer"
	"github.com/GoSim-25-26J-441/prms-calibration/internal/params"
	"github.com/GoSim-25-26J-441/prms-calibration/internal/scenario"
	"github.com/GoSim-25-26J-441/prms-calibration/internal/series"
	"github.com/GoSim-25-26J-441/prms-calibration/internal/statusd"
	"github.com/GoSim-25-26J-441/prms-calibration/pkg/config"
	"github.com/GoSim-25-26J-441/prms-calibration/pkg/logger"
	"github.com/GoSim-25-26J-441/prms-calibration/pkg/utils"
)

// app holds everything a job command needs, built from one config file.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	launcher scenario.Launcher
	pool     *series.Pool
	timeout  time.Duration
	base     *params.Set

	metrics *metrics.Recorder
	store   *statusd.Store
	server  *statusd.Server
	closers []io.Closer
}

type rootFlags struct {
	configPath string
	logLevel   string
	logFormat  string
	workers    int
}

// newApp loads the config, configures logging and starts the status
// endpoints and notification sinks it names.
func newApp(f *rootFlags) (*app, error) {
	cfg, err := config.LoadConfig(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if f.logFormat != "" {
		cfg.LogFormat = f.logFormat
	}
	if f.workers > 0 {
		cfg.MaxWorkers = f.workers
	}
	log := logger.Configure(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	timeout, err := cfg.Simulator.GetTimeout()
	if err != nil {
		return nil, fmt.Errorf("simulator timeout: %w", err)
	}
	base, err := params.Read(filepath.Join(cfg.Inputs.BaseDir, cfg.Inputs.Parameters))
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg: cfg,
		log: log,
		launcher: &scenario.ExecLauncher{
			Path: cfg.Simulator.Executable,
			Args: cfg.Simulator.Args,
			Env:  cfg.Simulator.Env,
		},
		pool:    series.NewPool(cfg.MaxWorkers),
		timeout: timeout,
		base:    base,
		metrics: metrics.NewRecorder(),
		store:   statusd.NewStore(),
	}
	if a.server, err = statusd.Start(cfg.Status, a.store, a.metrics.Handler(), os.Stderr); err != nil {
		return nil, err
	}
	return a, nil
}

// recorder fans scenario completions out to the metrics recorder and the
// status store.
func (a *app) recorder() series.Recorder {
	return recorders{a.metrics, a.store}
}

type recorders []series.Recorder

func (rs recorders) ScenarioFinished(s *scenario.Scenario) {
	for _, r := range rs {
		r.ScenarioFinished(s)
	}
}

// observers returns the calibration observers configured for the job.
func (a *app) observers() []optimizer.Observer {
	obs := []optimizer.Observer{a.metrics, a.store}
	n := a.cfg.Notify
	if n.WebhookURL != "" {
		w := notify.NewWebhook(n.WebhookURL, n.WebhookRetries)
		w.Logger = a.log
		if d, _ := n.RetryDelay(); d > 0 {
			w.Backoff = utils.ConstantBackoff{Delay: d}
		}
		obs = append(obs, w)
		a.closers = append(a.closers, w)
	}
	if n.Kafka != nil {
		k := notify.NewKafka(n.Kafka.Brokers, n.Kafka.Topic)
		k.Logger = a.log
		obs = append(obs, k)
		a.closers = append(a.closers, k)
	}
	return obs
}

// close flushes notification sinks, logs the run summary and stops the
// status endpoints.
func (a *app) close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.log.Warn("close notifier", "error", err)
		}
	}
	sum := a.metrics.Collector().Summary()
	attrs := []any{"duration", sum.Duration.Round(time.Millisecond).String()}
	if agg := sum.Aggregations[metrics.MetricScenarioDuration]; agg != nil {
		attrs = append(attrs, "scenarios", agg.Count, "scenario_p50_s", agg.P50, "scenario_p95_s", agg.P95)
	}
	a.log.Info("run summary", attrs...)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.server.Shutdown(ctx); err != nil {
		a.log.Error("status server shutdown error", "error", err)
	}
}
