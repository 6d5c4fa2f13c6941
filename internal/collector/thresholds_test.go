package collector

import (
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func pct(v float64) *Percent {
	p := Percent(v)
	return &p
}

func TestThresholds_NilPasses(t *testing.T) {
	var th *Thresholds
	if res := th.Check(&Metrics{}); !res.Passed || len(res.Results) != 0 {
		t.Errorf("nil thresholds should pass with no results, got %+v", res)
	}
}

func TestThresholds_StepDuration(t *testing.T) {
	th := &Thresholds{StepDuration: &DurationThresholds{P50: time.Second, P95: 500 * time.Millisecond}}
	m := &Metrics{TotalSteps: 1, SuccessRate: 100, Duration: DurationMetrics{
		P50: 100 * time.Millisecond,
		P95: 800 * time.Millisecond,
	}}

	res := th.Check(m)
	if res.Passed {
		t.Fatal("expected p95 violation")
	}
	if len(res.Results) != 2 {
		t.Fatalf("expected p50 and p95 results, got %+v", res.Results)
	}
	v := res.Violations()
	if len(v) != 1 || v[0].Name != "step_duration.p95" || v[0].Actual != "800ms" {
		t.Errorf("unexpected violations: %+v", v)
	}
}

func TestThresholds_StepFailedRate(t *testing.T) {
	th := &Thresholds{StepFailed: &FailureThresholds{Rate: pct(5)}}

	if res := th.Check(&Metrics{TotalSteps: 100, SuccessRate: 97}); !res.Passed {
		t.Errorf("3%% failures should pass a 5%% threshold: %+v", res.Results)
	}
	res := th.Check(&Metrics{TotalSteps: 100, SuccessRate: 90})
	if res.Passed {
		t.Fatal("10% failures should fail a 5% threshold")
	}
	if got := res.Results[0]; got.Threshold != "< 5%" || got.Actual != "10.00%" {
		t.Errorf("unexpected result: %+v", got)
	}
	if res := th.Check(&Metrics{}); !res.Passed {
		t.Error("no steps should not count as failures")
	}
}

func TestThresholds_PerAction(t *testing.T) {
	th := &Thresholds{Actions: map[string]*DurationThresholds{
		"checkout": {Avg: time.Second},
		"missing":  {Avg: time.Millisecond},
	}}
	m := &Metrics{Actions: map[string]*ActionMetrics{
		"checkout": {Count: 1, Duration: DurationMetrics{Avg: 2 * time.Second}},
	}}

	res := th.Check(m)
	if res.Passed {
		t.Fatal("expected checkout violation")
	}
	if len(res.Results) != 1 || res.Results[0].Name != "actions.checkout.avg" {
		t.Errorf("unexpected results: %+v", res.Results)
	}
}

func TestThresholds_Sessions(t *testing.T) {
	m := &Metrics{Journeys: map[string]*JourneyMetrics{
		"Quick Buyer":    {Sessions: 6, Completed: 5, Errored: 1, Checkouts: 5, Orders: 4},
		"Casual Browser": {Sessions: 4, Completed: 4},
	}}

	tests := []struct {
		name   string
		limit  SessionThresholds
		passed bool
		result string
	}{
		{"completed met", SessionThresholds{MinCompleted: pct(90)}, true, "sessions.completed"},
		{"completed missed", SessionThresholds{MinCompleted: pct(95)}, false, "sessions.completed"},
		{"errored under", SessionThresholds{MaxErrored: pct(15)}, true, "sessions.errored"},
		{"errored over", SessionThresholds{MaxErrored: pct(5)}, false, "sessions.errored"},
		{"order rate met", SessionThresholds{MinOrderRate: pct(80)}, true, "sessions.order_rate"},
		{"order rate missed", SessionThresholds{MinOrderRate: pct(81)}, false, "sessions.order_rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limit := tt.limit
			res := (&Thresholds{Sessions: &limit}).Check(m)
			if res.Passed != tt.passed {
				t.Errorf("passed = %v, want %v: %+v", res.Passed, tt.passed, res.Results)
			}
			if len(res.Results) != 1 || res.Results[0].Name != tt.result {
				t.Errorf("unexpected results: %+v", res.Results)
			}
		})
	}
}

func TestThresholds_OrderRateNeedsCheckouts(t *testing.T) {
	th := &Thresholds{Sessions: &SessionThresholds{MinOrderRate: pct(50)}}
	m := &Metrics{Journeys: map[string]*JourneyMetrics{"Casual Browser": {Sessions: 3, Completed: 3}}}
	if res := th.Check(m); !res.Passed || len(res.Results) != 0 {
		t.Errorf("expected order rate skipped without checkouts, got %+v", res.Results)
	}
}

func TestPercent_YAML(t *testing.T) {
	var out struct {
		Rate Percent `yaml:"rate"`
	}
	if err := yaml.Unmarshal([]byte(`rate: "12.5%"`), &out); err != nil {
		t.Fatal(err)
	}
	if out.Rate != 12.5 {
		t.Errorf("rate = %v, want 12.5", out.Rate)
	}

	for _, bad := range []string{`rate: "5"`, `rate: "x%"`, `rate: "120%"`} {
		if err := yaml.Unmarshal([]byte(bad), &out); err == nil {
			t.Errorf("%s: expected error", bad)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{500 * time.Microsecond, "500µs"},
		{250 * time.Millisecond, "250ms"},
		{1500 * time.Millisecond, "1.5s"},
		{90 * time.Second, "1m30s"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
