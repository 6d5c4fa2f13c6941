// Package config handles YAML configuration parsing.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"tracewright/internal/collector"
	"tracewright/internal/failure"
	tracehttp "tracewright/internal/http"
	"tracewright/internal/vuser"
)

// Config is the root configuration structure.
type Config struct {
	Server     ServerConfig          `yaml:"server"`
	Target     TargetConfig          `yaml:"target"`
	Traffic    TrafficConfig         `yaml:"traffic"`
	Journeys   JourneysConfig        `yaml:"journeys"`
	Payment    vuser.PaymentConfig   `yaml:"payment"`
	Network    tracehttp.RetryPolicy `yaml:"network"`
	Failure    failure.Config        `yaml:"failure"`
	Telemetry  TelemetryConfig       `yaml:"telemetry"`
	Thresholds *collector.Thresholds `yaml:"thresholds,omitempty"`

	// Dir is the directory of the loaded file. Relative paths inside the
	// file resolve against it.
	Dir string `yaml:"-"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// TargetConfig points at the collaborator API the virtual users call.
type TargetConfig struct {
	BaseURL string        `yaml:"baseURL"`
	Timeout time.Duration `yaml:"timeout"`
	Debug   bool          `yaml:"debug"`
	// Embed, when set, is the listen address of an in-process demo
	// collaborator that shares the failure simulator's state.
	Embed string `yaml:"embed,omitempty"`
	// Products is a CSV or JSON catalogue for the embedded collaborator.
	Products string `yaml:"products,omitempty"`
}

type TrafficConfig struct {
	Users       int   `yaml:"users"`
	Concurrency int   `yaml:"concurrency"`
	Seed        int64 `yaml:"seed"`
	// SpawnRate caps new sessions per second; 0 is unlimited.
	SpawnRate  int     `yaml:"spawnRate"`
	ThinkScale float64 `yaml:"thinkScale"`
	// Weights overrides journey weights by name.
	Weights     map[string]float64 `yaml:"weights,omitempty"`
	LoadProfile *LoadProfile       `yaml:"loadProfile,omitempty"`
}

type JourneysConfig struct {
	// File is a YAML journey catalog replacing the built-in one.
	File string `yaml:"file"`
}

type TelemetryConfig struct {
	LogFormat      string  `yaml:"logFormat"`
	LogLevel       string  `yaml:"logLevel"`
	Exporter       string  `yaml:"exporter"`
	Endpoint       string  `yaml:"endpoint"`
	ServiceName    string  `yaml:"serviceName"`
	ServiceVersion string  `yaml:"serviceVersion"`
	SampleRate     float64 `yaml:"sampleRate"`
}

// LoadProfile defines a phased traffic pattern.
type LoadProfile struct {
	Phases []Phase `yaml:"phases"`
}

// TotalDuration returns the sum of all phase durations.
func (lp *LoadProfile) TotalDuration() time.Duration {
	var total time.Duration
	for _, p := range lp.Phases {
		total += p.Duration
	}
	return total
}

// Phase represents a single phase in the load profile. Users holds a
// constant number of concurrent users; otherwise the count ramps linearly
// from StartUsers to EndUsers.
type Phase struct {
	Name       string        `yaml:"name"`
	Duration   time.Duration `yaml:"duration"`
	Users      int           `yaml:"users"`
	StartUsers int           `yaml:"startUsers"`
	EndUsers   int           `yaml:"endUsers"`
	SpawnRate  int           `yaml:"spawnRate"`
}

// Default returns a configuration that drives the demo test server on
// localhost.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8090"},
		Target: TargetConfig{
			BaseURL: "http://localhost:8080",
			Timeout: 10 * time.Second,
		},
		Traffic: TrafficConfig{
			Users:       10,
			Concurrency: 10,
			ThinkScale:  1,
		},
		Payment: vuser.DefaultPaymentConfig(),
		Network: tracehttp.DefaultRetryPolicy(),
		Failure: failure.DefaultConfig(),
		Telemetry: TelemetryConfig{
			LogFormat:   "json",
			LogLevel:    "info",
			Exporter:    "none",
			ServiceName: "tracewright",
			SampleRate:  1,
		},
	}
}

// LoadConfig reads a YAML configuration file over the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.Dir = filepath.Dir(path)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// JourneysPath returns the journey catalog file resolved against Dir, or ""
// when the built-in catalog is used.
func (c *Config) JourneysPath() string {
	if c.Journeys.File == "" || filepath.IsAbs(c.Journeys.File) {
		return c.Journeys.File
	}
	return filepath.Join(c.Dir, c.Journeys.File)
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	if u, err := url.Parse(c.Target.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("target.baseURL: %q is not an absolute URL", c.Target.BaseURL))
	}
	if c.Target.Timeout < 0 {
		errs = append(errs, errors.New("target.timeout: must not be negative"))
	}
	if c.Traffic.Users < 0 {
		errs = append(errs, errors.New("traffic.users: must not be negative"))
	}
	if c.Traffic.Concurrency < 0 {
		errs = append(errs, errors.New("traffic.concurrency: must not be negative"))
	}
	if c.Traffic.SpawnRate < 0 {
		errs = append(errs, errors.New("traffic.spawnRate: must not be negative"))
	}
	if c.Traffic.ThinkScale < 0 {
		errs = append(errs, errors.New("traffic.thinkScale: must not be negative"))
	}
	for name, w := range c.Traffic.Weights {
		if w < 0 {
			errs = append(errs, fmt.Errorf("traffic.weights[%s]: must not be negative", name))
		}
	}
	if lp := c.Traffic.LoadProfile; lp != nil {
		for i, p := range lp.Phases {
			if p.Duration <= 0 {
				errs = append(errs, fmt.Errorf("traffic.loadProfile.phases[%d]: duration must be positive", i))
			}
			if p.Users < 0 || p.StartUsers < 0 || p.EndUsers < 0 || p.SpawnRate < 0 {
				errs = append(errs, fmt.Errorf("traffic.loadProfile.phases[%d]: counts must not be negative", i))
			}
		}
	}

	pay := c.Payment
	if pay.DeclineProbability < 0 || pay.DeclineProbability > 1 {
		errs = append(errs, errors.New("payment.declineProbability: must be within [0,1]"))
	}
	if pay.RetrySuccessMin < 0 || pay.RetrySuccessMax > 1 || pay.RetrySuccessMin > pay.RetrySuccessMax {
		errs = append(errs, errors.New("payment.retrySuccess: need 0 <= min <= max <= 1"))
	}
	if pay.ProcessingMin < 0 || pay.ProcessingMin > pay.ProcessingMax {
		errs = append(errs, errors.New("payment.processing: need 0 <= min <= max"))
	}

	if c.Network.MaxRetries < 0 {
		errs = append(errs, errors.New("network.maxRetries: must not be negative"))
	}
	if c.Network.SyntheticErrorRate < 0 || c.Network.SyntheticErrorRate > 1 {
		errs = append(errs, errors.New("network.syntheticErrorRate: must be within [0,1]"))
	}

	switch c.Telemetry.Exporter {
	case "", "none", "stdout", "otlp":
	default:
		errs = append(errs, fmt.Errorf("telemetry.exporter: unknown exporter %q", c.Telemetry.Exporter))
	}
	switch c.Telemetry.LogFormat {
	case "", "json", "console", "nop":
	default:
		errs = append(errs, fmt.Errorf("telemetry.logFormat: unknown format %q", c.Telemetry.LogFormat))
	}

	return errors.Join(errs...)
}
