package collector

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Thresholds are the pass/fail criteria of a run.
type Thresholds struct {
	StepDuration *DurationThresholds `yaml:"step_duration"`
	StepFailed   *FailureThresholds  `yaml:"step_failed"`
	// Actions holds per-action latency limits keyed by action name.
	Actions  map[string]*DurationThresholds `yaml:"actions,omitempty"`
	Sessions *SessionThresholds             `yaml:"sessions,omitempty"`
}

// DurationThresholds are upper latency bounds; zero leaves a statistic
// unchecked.
type DurationThresholds struct {
	Avg time.Duration `yaml:"avg"`
	P50 time.Duration `yaml:"p50"`
	P90 time.Duration `yaml:"p90"`
	P95 time.Duration `yaml:"p95"`
	P99 time.Duration `yaml:"p99"`
}

type FailureThresholds struct {
	Rate *Percent `yaml:"rate"`
}

// SessionThresholds bound how journeys ended across every session.
type SessionThresholds struct {
	MinCompleted *Percent `yaml:"min_completed"`
	MaxErrored   *Percent `yaml:"max_errored"`
	// MinOrderRate is orders placed per checkout attempted.
	MinOrderRate *Percent `yaml:"min_order_rate"`
}

// Percent is written as "5%" in YAML and held as 5.
type Percent float64

func (p *Percent) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParsePercent(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*p = Percent(v)
	return nil
}

func (p Percent) String() string {
	return strconv.FormatFloat(float64(p), 'f', -1, 64) + "%"
}

// ParsePercent reads "12.5%" as 12.5.
func ParsePercent(s string) (float64, error) {
	num, ok := strings.CutSuffix(strings.TrimSpace(s), "%")
	if !ok {
		return 0, fmt.Errorf("invalid percentage %q: missing %%", s)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid percentage %q: %w", s, err)
	}
	if v < 0 || v > 100 {
		return 0, fmt.Errorf("invalid percentage %q: must be within 0%%..100%%", s)
	}
	return v, nil
}

// ThresholdResult is one checked limit. Threshold carries its comparator,
// as in "< 500ms" or ">= 95%".
type ThresholdResult struct {
	Name      string `json:"name"`
	Passed    bool   `json:"passed"`
	Threshold string `json:"threshold"`
	Actual    string `json:"actual"`
}

type ThresholdResults struct {
	Passed  bool              `json:"passed"`
	Results []ThresholdResult `json:"results"`
}

// Check evaluates every configured threshold against m. A nil receiver
// passes.
func (t *Thresholds) Check(m *Metrics) *ThresholdResults {
	r := &ThresholdResults{Passed: true}
	if t == nil {
		return r
	}

	if t.StepDuration != nil {
		r.durations("step_duration", t.StepDuration, m.Duration)
	}
	for _, action := range sortedKeys(t.Actions) {
		if am, ok := m.Actions[action]; ok {
			r.durations("actions."+action, t.Actions[action], am.Duration)
		}
	}
	if t.StepFailed != nil && t.StepFailed.Rate != nil {
		var failed float64
		if m.TotalSteps > 0 {
			failed = 100 - m.SuccessRate
		}
		r.atMost("step_failed.rate", *t.StepFailed.Rate, failed)
	}
	if t.Sessions != nil {
		r.sessions(t.Sessions, m.Journeys)
	}
	return r
}

func (r *ThresholdResults) add(name string, passed bool, threshold, actual string) {
	if !passed {
		r.Passed = false
	}
	r.Results = append(r.Results, ThresholdResult{Name: name, Passed: passed, Threshold: threshold, Actual: actual})
}

func (r *ThresholdResults) durations(prefix string, limit *DurationThresholds, got DurationMetrics) {
	for _, c := range []struct {
		stat       string
		limit, got time.Duration
	}{
		{"avg", limit.Avg, got.Avg},
		{"p50", limit.P50, got.P50},
		{"p90", limit.P90, got.P90},
		{"p95", limit.P95, got.P95},
		{"p99", limit.P99, got.P99},
	} {
		if c.limit == 0 {
			continue
		}
		r.add(prefix+"."+c.stat, c.got < c.limit, "< "+FormatDuration(c.limit), FormatDuration(c.got))
	}
}

func (r *ThresholdResults) atMost(name string, limit Percent, got float64) {
	r.add(name, got < float64(limit), "< "+limit.String(), fmt.Sprintf("%.2f%%", got))
}

func (r *ThresholdResults) atLeast(name string, limit Percent, got float64) {
	r.add(name, got >= float64(limit), ">= "+limit.String(), fmt.Sprintf("%.2f%%", got))
}

func (r *ThresholdResults) sessions(limit *SessionThresholds, journeys map[string]*JourneyMetrics) {
	var total JourneyMetrics
	for _, jm := range journeys {
		total.Sessions += jm.Sessions
		total.Completed += jm.Completed
		total.Errored += jm.Errored
		total.Checkouts += jm.Checkouts
		total.Orders += jm.Orders
	}
	pct := func(n, of int) float64 {
		if of == 0 {
			return 0
		}
		return 100 * float64(n) / float64(of)
	}

	if limit.MinCompleted != nil {
		r.atLeast("sessions.completed", *limit.MinCompleted, pct(total.Completed, total.Sessions))
	}
	if limit.MaxErrored != nil {
		r.atMost("sessions.errored", *limit.MaxErrored, pct(total.Errored, total.Sessions))
	}
	// Without checkouts there is no order rate to judge.
	if limit.MinOrderRate != nil && total.Checkouts > 0 {
		r.atLeast("sessions.order_rate", *limit.MinOrderRate, pct(total.Orders, total.Checkouts))
	}
}

// Violations returns the failed results.
func (r *ThresholdResults) Violations() []ThresholdResult {
	var out []ThresholdResult
	for _, res := range r.Results {
		if !res.Passed {
			out = append(out, res)
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FormatDuration picks the coarsest unit that keeps d readable.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return d.Round(time.Second).String()
}
