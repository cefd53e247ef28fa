package config

import (
	"fmt"
	"os"
	"runtime"
	"slices"
	"strings"
)

// MetricNames lists the goodness-of-fit metrics a job may request.
var MetricNames = []string{"nse", "rmse", "pbias", "pearson", "r2", "kge"}

// LoadConfig loads and parses a configuration file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg, err := ParseConfigYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// DefaultMaxWorkers is half the available CPUs, at least one.
func DefaultMaxWorkers() int {
	return max(1, runtime.NumCPU()/2)
}

// applyDefaults fills unset fields before validation
func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
	if cfg.MaxWorkers == 0 {
		cfg.MaxWorkers = DefaultMaxWorkers()
	}
	if cfg.Title == "" {
		cfg.Title = "prms"
	}
	in := &cfg.Inputs
	if in.Control == "" {
		in.Control = "control"
	}
	if in.Parameters == "" {
		in.Parameters = "parameters"
	}
	if in.Data == "" {
		in.Data = "data"
	}
	if in.Output == "" {
		in.Output = "outputs/statvar.dat"
	}
	if cfg.Notify.WebhookURL != "" && cfg.Notify.WebhookRetries == 0 {
		cfg.Notify.WebhookRetries = 3
	}

	o := cfg.Optimization
	if o == nil {
		return
	}
	if o.Stage == "" {
		o.Stage = "custom"
	}
	if o.NSamples == 0 {
		o.NSamples = 10
	}
	if o.Rounds == 0 {
		o.Rounds = 1
	}
	if o.Method == "" {
		o.Method = "uniform"
	}
	if o.NoiseFactor == 0 {
		o.NoiseFactor = 0.1
	}
	if o.ExploreProb == nil {
		p := 0.1
		o.ExploreProb = &p
	}
	if o.Weighting == "" {
		o.Weighting = "rank"
	}
	if o.Decay == 0 {
		o.Decay = 0.5
	}
	if o.RoundDecay == 0 {
		o.RoundDecay = 1
	}
	if o.Temperature == 0 {
		o.Temperature = 1
	}
	if o.ArchiveSize == 0 {
		o.ArchiveSize = 10
	}
	if len(o.Metrics) == 0 {
		o.Metrics = []string{"nse", "rmse", "pbias", "r2"}
	}
	if o.PrimaryMetric == "" {
		o.PrimaryMetric = o.Metrics[0]
	}
}

// validateConfig performs validation on the configuration
func validateConfig(cfg *Config) error {
	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return fmt.Errorf("invalid log_format: %s (must be json or text)", cfg.LogFormat)
	}
	if cfg.MaxWorkers < 1 {
		return fmt.Errorf("max_workers must be positive, got %d", cfg.MaxWorkers)
	}
	if cfg.WorkDir == "" {
		return fmt.Errorf("work_dir cannot be empty")
	}
	if cfg.Inputs.BaseDir == "" {
		return fmt.Errorf("inputs.base_dir cannot be empty")
	}

	if err := validateSimulator(&cfg.Simulator); err != nil {
		return fmt.Errorf("simulator validation failed: %w", err)
	}

	if cfg.Series == nil && cfg.Optimization == nil {
		return fmt.Errorf("either series or optimization must be defined")
	}

	// Validate series if present
	if cfg.Series != nil {
		if err := validateSeries(cfg.Series); err != nil {
			return fmt.Errorf("series validation failed: %w", err)
		}
	}

	// Validate optimization if present
	if cfg.Optimization != nil {
		if err := validateOptimization(cfg.Optimization); err != nil {
			return fmt.Errorf("optimization validation failed: %w", err)
		}
	}

	if k := cfg.Notify.Kafka; k != nil {
		if len(k.Brokers) == 0 {
			return fmt.Errorf("notify.kafka.brokers cannot be empty")
		}
		if k.Topic == "" {
			return fmt.Errorf("notify.kafka.topic cannot be empty")
		}
	}
	if d, err := cfg.Notify.RetryDelay(); err != nil || d < 0 {
		return fmt.Errorf("invalid notify.webhook_retry_delay: %q", cfg.Notify.WebhookRetryDelay)
	}
	if cfg.Notify.WebhookRetries < 0 {
		return fmt.Errorf("notify.webhook_retries cannot be negative, got %d", cfg.Notify.WebhookRetries)
	}

	return nil
}

// validateSimulator validates the simulator launch settings
func validateSimulator(s *Simulator) error {
	if s.Executable == "" {
		return fmt.Errorf("executable cannot be empty")
	}
	d, err := s.GetTimeout()
	if err != nil {
		return fmt.Errorf("invalid timeout %s: %w", s.Timeout, err)
	}
	if d < 0 {
		return fmt.Errorf("timeout cannot be negative, got %s", s.Timeout)
	}
	return nil
}

// validateSeries validates the modification list or sweep
func validateSeries(s *Series) error {
	if len(s.Modifications) == 0 && len(s.Sweep) == 0 {
		return fmt.Errorf("series needs modifications or a sweep")
	}
	if len(s.Modifications) > 0 && len(s.Sweep) > 0 {
		return fmt.Errorf("series cannot define both modifications and a sweep")
	}
	validKinds := map[string]bool{
		"scale":  true,
		"shift":  true,
		"noise":  true,
		"assign": true,
	}
	for i, m := range s.Modifications {
		if !validKinds[m.Kind] {
			return fmt.Errorf("modification %d: invalid kind %q (must be scale, shift, noise, or assign)", i, m.Kind)
		}
		if len(m.Params) == 0 {
			return fmt.Errorf("modification %d: params cannot be empty", i)
		}
		if m.Kind == "assign" && len(m.Params) != 1 {
			return fmt.Errorf("modification %d: assign takes exactly one param", i)
		}
		if m.Kind == "noise" {
			if m.Sigma < 0 {
				return fmt.Errorf("modification %d: sigma cannot be negative, got %f", i, m.Sigma)
			}
		} else if len(m.Args) == 0 {
			return fmt.Errorf("modification %d: args cannot be empty", i)
		}
	}
	for i, a := range s.Sweep {
		if a.Param == "" {
			return fmt.Errorf("sweep axis %d: param cannot be empty", i)
		}
		if a.Kind != "scale" && a.Kind != "shift" && a.Kind != "assign" {
			return fmt.Errorf("sweep axis %d: invalid kind %q (must be scale, shift, or assign)", i, a.Kind)
		}
		if len(a.Values) == 0 {
			return fmt.Errorf("sweep axis %d: values cannot be empty", i)
		}
	}
	return nil
}

// validateOptimization validates the optimization configuration
func validateOptimization(o *Optimization) error {
	if len(o.Targets) == 0 {
		return fmt.Errorf("at least one target must be defined")
	}
	seen := make(map[string]bool)
	for _, t := range o.Targets {
		if t.Param == "" {
			return fmt.Errorf("target param cannot be empty")
		}
		if seen[t.Param] {
			return fmt.Errorf("duplicate target: %s", t.Param)
		}
		seen[t.Param] = true
		if (t.Min == nil) != (t.Max == nil) {
			return fmt.Errorf("target %s: min and max must be given together", t.Param)
		}
		if t.Min != nil && *t.Min >= *t.Max {
			return fmt.Errorf("target %s: min must be below max", t.Param)
		}
	}
	if o.OutputColumn == "" {
		return fmt.Errorf("output_column cannot be empty")
	}
	if o.Observed.Path == "" {
		return fmt.Errorf("observed.path cannot be empty")
	}
	start, end, err := o.Observed.Window()
	if err != nil {
		return fmt.Errorf("observed window: %w", err)
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return fmt.Errorf("observed.end is before observed.start")
	}
	if o.NSamples <= 0 {
		return fmt.Errorf("n_samples must be positive, got %d", o.NSamples)
	}
	if o.Rounds <= 0 {
		return fmt.Errorf("rounds must be positive, got %d", o.Rounds)
	}
	if o.Method != "uniform" && o.Method != "normal" && o.Method != "resample" {
		return fmt.Errorf("invalid method: %s (must be uniform, normal, or resample)", o.Method)
	}
	if o.NoiseFactor <= 0 {
		return fmt.Errorf("noise_factor must be positive, got %f", o.NoiseFactor)
	}
	if p := *o.ExploreProb; p < 0 || p > 1 {
		return fmt.Errorf("explore_prob must be between 0 and 1, got %f", p)
	}
	if o.Weighting != "rank" && o.Weighting != "score" {
		return fmt.Errorf("invalid weighting: %s (must be rank or score)", o.Weighting)
	}
	if o.Decay <= 0 || o.Decay > 1 {
		return fmt.Errorf("decay must be in (0, 1], got %f", o.Decay)
	}
	if o.RoundDecay <= 0 || o.RoundDecay > 1 {
		return fmt.Errorf("round_decay must be in (0, 1], got %f", o.RoundDecay)
	}
	if o.Temperature <= 0 {
		return fmt.Errorf("temperature must be positive, got %f", o.Temperature)
	}
	if o.ArchiveSize <= 0 {
		return fmt.Errorf("archive_size must be positive, got %d", o.ArchiveSize)
	}
	for _, m := range o.Metrics {
		if !slices.Contains(MetricNames, m) {
			return fmt.Errorf("unknown metric: %s (must be one of %s)", m, strings.Join(MetricNames, ", "))
		}
	}
	if !slices.Contains(o.Metrics, o.PrimaryMetric) {
		return fmt.Errorf("primary_metric %s must be listed in metrics", o.PrimaryMetric)
	}
	if o.EarlyStopWindow < 0 {
		return fmt.Errorf("early_stop_window cannot be negative, got %d", o.EarlyStopWindow)
	}
	return nil
}
