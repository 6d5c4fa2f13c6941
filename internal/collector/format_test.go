package collector

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func sampleMetrics() *Metrics {
	return &Metrics{
		TotalSteps:   100,
		SuccessCount: 95,
		FailureCount: 5,
		SuccessRate:  95.0,
		StepsPerSec:  10.0,
		TestDuration: 10 * time.Second,
		Duration: DurationMetrics{
			Min: 10 * time.Millisecond,
			Avg: 50 * time.Millisecond,
			P95: 90 * time.Millisecond,
			Max: 100 * time.Millisecond,
		},
		Actions: map[string]*ActionMetrics{
			"navigate": {Count: 60, Success: 60},
			"checkout": {Count: 40, Success: 35, Failed: 5},
		},
		Journeys: map[string]*JourneyMetrics{
			"Quick Buyer": {Sessions: 10, Completed: 10, Checkouts: 10, Orders: 9},
		},
	}
}

func TestFormatText_BasicOutput(t *testing.T) {
	var buf bytes.Buffer
	FormatText(&buf, sampleMetrics(), nil)
	out := buf.String()

	for _, want := range []string{"Total Steps:", "100", "95.0% (95 / 100)", "By Action:", "checkout", "Quick Buyer", "9/10"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
	if strings.Index(out, "checkout") > strings.Index(out, "navigate") {
		t.Error("expected actions in sorted order")
	}
}

func TestFormatText_Empty(t *testing.T) {
	var buf bytes.Buffer
	FormatText(&buf, ComputeMetrics(nil, 0), nil)
	if !strings.Contains(buf.String(), "No events collected") {
		t.Errorf("unexpected output: %s", buf.String())
	}
}

func TestFormatText_Thresholds(t *testing.T) {
	var buf bytes.Buffer
	res := &ThresholdResults{Results: []ThresholdResult{
		{Name: "step_duration.p95", Passed: false, Threshold: "< 50ms", Actual: "90ms"},
		{Name: "sessions.completed", Passed: true, Threshold: ">= 90%", Actual: "100.00%"},
	}}
	FormatText(&buf, sampleMetrics(), res)
	for _, want := range []string{
		"✗ step_duration.p95 < 50ms (actual: 90ms)",
		"✓ sessions.completed >= 90% (actual: 100.00%)",
	} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("expected %q in:\n%s", want, buf.String())
		}
	}
}

func TestFormatJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := FormatJSON(&buf, sampleMetrics(), nil); err != nil {
		t.Fatal(err)
	}

	var out struct {
		TotalSteps int `json:"totalSteps"`
		Actions    map[string]struct {
			SuccessRate float64 `json:"successRate"`
		} `json:"actions"`
		Journeys map[string]JourneyMetrics `json:"journeys"`
	}
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if out.TotalSteps != 100 {
		t.Errorf("expected 100 steps, got %d", out.TotalSteps)
	}
	if out.Actions["checkout"].SuccessRate != 87.5 {
		t.Errorf("expected 87.5%% checkout success, got %v", out.Actions["checkout"].SuccessRate)
	}
	if out.Journeys["Quick Buyer"].Orders != 9 {
		t.Errorf("expected 9 orders")
	}
}

func TestFormatNumber(t *testing.T) {
	tests := map[int]string{7: "7", 999: "999", 1000: "1,000", 1234: "1,234", 1234567: "1,234,567", -4500: "-4,500"}
	for n, want := range tests {
		if got := formatNumber(n); got != want {
			t.Errorf("formatNumber(%d) = %q, want %q", n, got, want)
		}
	}
}
