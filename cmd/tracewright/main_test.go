package main

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracewright/internal/collector"
	"tracewright/internal/config"
	"tracewright/internal/core"
	"tracewright/internal/journey"
)

func parseCommon(t *testing.T, args ...string) *commonFlags {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c commonFlags
	c.register(fs)
	require.NoError(t, fs.Parse(args))
	return &c
}

func TestCommonFlags_DefaultsWithoutFile(t *testing.T) {
	cfg, err := parseCommon(t).load()
	require.NoError(t, err)
	assert.Equal(t, config.Default().Target.BaseURL, cfg.Target.BaseURL)
}

func TestCommonFlags_Overrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tracewright.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
target:
  baseURL: http://from-file:8080
telemetry:
  logFormat: console
  logLevel: warn
`), 0o644))

	cfg, err := parseCommon(t,
		"-config", path,
		"-target", "http://from-flag:9000",
		"-embed", "127.0.0.1:9000",
		"-log-level", "debug",
		"-exporter", "stdout",
	).load()
	require.NoError(t, err)

	assert.Equal(t, "http://from-flag:9000", cfg.Target.BaseURL)
	assert.Equal(t, "127.0.0.1:9000", cfg.Target.Embed)
	assert.Equal(t, "console", cfg.Telemetry.LogFormat, "file value kept without a flag")
	assert.Equal(t, "debug", cfg.Telemetry.LogLevel)
	assert.Equal(t, "stdout", cfg.Telemetry.Exporter)
	assert.Equal(t, dir, cfg.Dir)
}

func TestCommonFlags_RejectsInvalid(t *testing.T) {
	_, err := parseCommon(t, "-target", "not a url").load()
	assert.ErrorContains(t, err, "target.baseURL")

	_, err = parseCommon(t, "-exporter", "zipkin").load()
	assert.ErrorContains(t, err, "telemetry.exporter")
}

func TestLoadCatalog_AppliesWeights(t *testing.T) {
	cfg := config.Default()
	cfg.Traffic.Weights = map[string]float64{journey.QuickBuyer: 3}

	catalog, err := loadCatalog(cfg)
	require.NoError(t, err)
	for _, j := range catalog {
		if j.Name == journey.QuickBuyer {
			assert.Equal(t, 3.0, j.Weight)
		} else {
			assert.Zero(t, j.Weight, j.Name)
		}
	}

	cfg.Traffic.Weights = map[string]float64{"Window Shopper": 1}
	_, err = loadCatalog(cfg)
	assert.ErrorContains(t, err, "traffic.weights")
}

func TestReport_ExitCodes(t *testing.T) {
	newRun := func() *collector.Collector {
		coll := collector.NewCollector()
		coll.Report(core.Event{Action: "checkout", Success: true, Duration: 800 * time.Millisecond})
		coll.RecordSession(core.SessionSummary{Journey: journey.QuickBuyer, EndReason: "completed"})
		coll.Close()
		return coll
	}

	cfg := config.Default()
	assert.Equal(t, ExitSuccess, report(cfg, newRun(), "json", false))

	cfg.Thresholds = &collector.Thresholds{StepDuration: &collector.DurationThresholds{P95: 100 * time.Millisecond}}
	assert.Equal(t, ExitThresholdFailed, report(cfg, newRun(), "json", false))
	assert.Equal(t, ExitSuccess, report(cfg, newRun(), "json", true), "interrupted runs do not fail thresholds")
}
