package config

import (
	"time"

	"github.com/GoSim-25-26J-441/prms-calibration/pkg/utils"
)

// Config represents a calibration or sensitivity job
type Config struct {
	LogLevel     string        `yaml:"log_level"`
	LogFormat    string        `yaml:"log_format"`
	Title        string        `yaml:"title"`
	Description  string        `yaml:"description"`
	WorkDir      string        `yaml:"work_dir"`
	MaxWorkers   int           `yaml:"max_workers"`
	Simulator    Simulator     `yaml:"simulator"`
	Inputs       Inputs        `yaml:"inputs"`
	Series       *Series       `yaml:"series,omitempty"`
	Optimization *Optimization `yaml:"optimization,omitempty"`
	Status       Status        `yaml:"status"`
	Notify       Notify        `yaml:"notify"`
}

// Simulator describes how the external model is launched
type Simulator struct {
	Executable string   `yaml:"executable"`
	Args       []string `yaml:"args"` // "{control}" is replaced with the control file path
	Env        []string `yaml:"env"`
	Timeout    string   `yaml:"timeout"` // e.g. "10m"; empty means no limit
}

// GetTimeout parses the timeout string; an empty string yields zero.
func (s *Simulator) GetTimeout() (time.Duration, error) {
	if s.Timeout == "" {
		return 0, nil
	}
	return time.ParseDuration(s.Timeout)
}

// Inputs locates the base input tree and the relative names inside every
// scenario directory.
type Inputs struct {
	BaseDir    string `yaml:"base_dir"`
	Control    string `yaml:"control"`
	Parameters string `yaml:"parameters"`
	Data       string `yaml:"data"`
	Output     string `yaml:"output"`
}

// Series is an explicit list of modifications or a Cartesian sweep
type Series struct {
	Name          string         `yaml:"name"`
	Modifications []Modification `yaml:"modifications"`
	Sweep         []SweepAxis    `yaml:"sweep"`
}

// Modification is one named parameter change
type Modification struct {
	Name   string    `yaml:"name"`
	Kind   string    `yaml:"kind"` // scale, shift, noise, assign
	Params []string  `yaml:"params"`
	Args   []float64 `yaml:"args"`
	Along  string    `yaml:"along"`
	Sigma  float64   `yaml:"sigma"`
	Seed   int64     `yaml:"seed"`
}

// SweepAxis is one axis of a Cartesian sweep
type SweepAxis struct {
	Param  string    `yaml:"param"`
	Kind   string    `yaml:"kind"` // scale, shift, assign
	Values []float64 `yaml:"values"`
}

// Optimization represents Monte-Carlo calibration settings
type Optimization struct {
	Preset          string   `yaml:"preset"`      // srad or pet
	Module          string   `yaml:"module"`      // e.g. ddsolrad, potet_pt, potet_jh
	StationHRU      string   `yaml:"station_hru"` // "basin" or an HRU index
	Stage           string   `yaml:"stage"`
	Targets         []Target `yaml:"targets"`
	OutputColumn    string   `yaml:"output_column"`
	Observed        Observed `yaml:"observed"`
	NSamples        int      `yaml:"n_samples"`
	Rounds          int      `yaml:"rounds"`
	Method          string   `yaml:"method"` // uniform, normal, resample
	NoiseFactor     float64  `yaml:"noise_factor"`
	ExploreProb     *float64 `yaml:"explore_prob"`
	Weighting       string   `yaml:"weighting"` // rank or score
	Decay           float64  `yaml:"decay"`
	RoundDecay      float64  `yaml:"round_decay"`
	Temperature     float64  `yaml:"temperature"`
	ArchiveSize     int      `yaml:"archive_size"`
	Metrics         []string `yaml:"metrics"`
	PrimaryMetric   string   `yaml:"primary_metric"`
	EarlyStopWindow int      `yaml:"early_stop_window"`
	SkipBaseline    bool     `yaml:"skip_baseline"`
	Seed            int64    `yaml:"seed"`
}

// Target is a calibrated parameter with optional bounds; missing bounds fall
// back to the built-in allowable ranges.
type Target struct {
	Param string   `yaml:"param"`
	Min   *float64 `yaml:"min"`
	Max   *float64 `yaml:"max"`
}

// Observed locates the measured series the simulation is scored against
type Observed struct {
	Path   string `yaml:"path"`
	Column string `yaml:"column"`
	Start  string `yaml:"start"` // YYYY-MM-DD
	End    string `yaml:"end"`
}

// Window parses the comparison window bounds.
func (o *Observed) Window() (start, end time.Time, err error) {
	if start, err = utils.ParseDate(o.Start); err != nil {
		return
	}
	end, err = utils.ParseDate(o.End)
	return
}

// Status configures the progress endpoints; empty addresses disable them
type Status struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`
}

// Notify configures round event sinks
type Notify struct {
	WebhookURL        string `yaml:"webhook_url"`
	WebhookRetries    int    `yaml:"webhook_retries"`
	// WebhookRetryDelay switches the webhook to a constant delay between
	// retries, e.g. "5s". Empty keeps exponential backoff.
	WebhookRetryDelay string `yaml:"webhook_retry_delay"`
	Kafka             *Kafka `yaml:"kafka,omitempty"`
}

// RetryDelay parses WebhookRetryDelay; an empty string yields zero.
func (n *Notify) RetryDelay() (time.Duration, error) {
	if n.WebhookRetryDelay == "" {
		return 0, nil
	}
	return time.ParseDuration(n.WebhookRetryDelay)
}

// Kafka configures the round summary publisher
type Kafka struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}
