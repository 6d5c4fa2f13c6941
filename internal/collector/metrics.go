package collector

import (
	"slices"
	"time"
)

// Metrics is the aggregate of one run: step totals, latency and journey
// outcomes.
type Metrics struct {
	TotalSteps    int                        `json:"totalSteps"`
	SuccessCount  int                        `json:"successCount"`
	FailureCount  int                        `json:"failureCount"`
	SuccessRate   float64                    `json:"successRate"`
	StepsPerSec   float64                    `json:"stepsPerSec"`
	TestDuration  time.Duration              `json:"testDuration"`
	DroppedEvents int64                      `json:"droppedEvents"`
	Duration      DurationMetrics            `json:"durations"`
	Actions       map[string]*ActionMetrics  `json:"actions"`
	Journeys      map[string]*JourneyMetrics `json:"journeys"`
}

type DurationMetrics struct {
	Min time.Duration `json:"min"`
	Max time.Duration `json:"max"`
	Avg time.Duration `json:"avg"`
	P50 time.Duration `json:"p50"`
	P90 time.Duration `json:"p90"`
	P95 time.Duration `json:"p95"`
	P99 time.Duration `json:"p99"`
}

// ActionMetrics are the step counts of one journey action.
type ActionMetrics struct {
	Count    int             `json:"count"`
	Success  int             `json:"success"`
	Failed   int             `json:"failed"`
	Duration DurationMetrics `json:"durations"`
}

// JourneyMetrics counts finished sessions of one journey by end reason,
// plus the business outcomes they produced.
type JourneyMetrics struct {
	Sessions     int `json:"sessions"`
	Completed    int `json:"completed"`
	Aborted      int `json:"aborted"`
	Errored      int `json:"errored"`
	Checkouts    int `json:"checkouts"`
	Orders       int `json:"orders"`
	Reservations int `json:"reservations"`
}

// Percentile returns the value at rank floor((n-1)*p) of an ascending
// slice, clamping p to [0,1].
func Percentile(sorted []time.Duration, p float64) time.Duration {
	n := len(sorted)
	switch {
	case n == 0:
		return 0
	case p <= 0:
		return sorted[0]
	case p >= 1:
		return sorted[n-1]
	}
	return sorted[int(float64(n-1)*p)]
}

// Summarize computes latency statistics without modifying samples.
func Summarize(samples []time.Duration) DurationMetrics {
	if len(samples) == 0 {
		return DurationMetrics{}
	}
	sorted := slices.Clone(samples)
	slices.Sort(sorted)

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	return DurationMetrics{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / time.Duration(len(sorted)),
		P50: Percentile(sorted, .50),
		P90: Percentile(sorted, .90),
		P95: Percentile(sorted, .95),
		P99: Percentile(sorted, .99),
	}
}
