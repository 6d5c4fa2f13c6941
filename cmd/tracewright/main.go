// Command tracewright drives synthetic shoppers against a collaborator API
// and injects failure scenarios into the same correlated trace stream.
//
// Usage:
//
//	tracewright serve [flags]   operator API on traffic and failures
//	tracewright run [flags]     one batch of users, then a report
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"tracewright/internal/config"
)

const (
	ExitSuccess         = 0
	ExitThresholdFailed = 1
	ExitError           = 2
)

const shutdownTimeout = 10 * time.Second

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(ExitError)
	}

	var code int
	switch os.Args[1] {
	case "serve":
		code = serve(os.Args[2:])
	case "run":
		code = run(os.Args[2:])
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		usage()
		code = ExitError
	}
	os.Exit(code)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: tracewright <serve|run> [flags]")
	fmt.Fprintln(os.Stderr, "run 'tracewright <command> -h' for command flags")
}

// commonFlags are accepted by every command and override the config file.
type commonFlags struct {
	configPath string
	baseURL    string
	embed      string
	logFormat  string
	logLevel   string
	exporter   string
	endpoint   string
	verbose    bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "path to YAML config file")
	fs.StringVar(&c.baseURL, "target", "", "collaborator base URL")
	fs.StringVar(&c.embed, "embed", "", "listen address for an in-process demo collaborator")
	fs.StringVar(&c.logFormat, "log-format", "", "log format: json, console, nop")
	fs.StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.StringVar(&c.exporter, "exporter", "", "trace exporter: none, stdout, otlp")
	fs.StringVar(&c.endpoint, "otlp-endpoint", "", "OTLP/HTTP collector endpoint")
	fs.BoolVar(&c.verbose, "verbose", false, "dump collaborator requests and responses")
}

// load reads the config file, when given, and applies flag overrides.
func (c *commonFlags) load() (*config.Config, error) {
	cfg := config.Default()
	if c.configPath != "" {
		var err error
		if cfg, err = config.LoadConfig(c.configPath); err != nil {
			return nil, err
		}
	}
	if c.baseURL != "" {
		cfg.Target.BaseURL = c.baseURL
	}
	if c.embed != "" {
		cfg.Target.Embed = c.embed
	}
	if c.logFormat != "" {
		cfg.Telemetry.LogFormat = c.logFormat
	}
	if c.logLevel != "" {
		cfg.Telemetry.LogLevel = c.logLevel
	}
	if c.exporter != "" {
		cfg.Telemetry.Exporter = c.exporter
	}
	if c.endpoint != "" {
		cfg.Telemetry.Endpoint = c.endpoint
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
