package collector

import (
	"time"

	"tracewright/internal/core"
)

// ComputeMetrics computes step metrics from events. Pure function, no side effects.
func ComputeMetrics(events []core.Event, testDuration time.Duration) *Metrics {
	m := &Metrics{
		Actions:      make(map[string]*ActionMetrics),
		Journeys:     make(map[string]*JourneyMetrics),
		TestDuration: testDuration,
	}

	if len(events) == 0 {
		return m
	}

	allDurations := make([]time.Duration, 0, len(events))
	actionDurations := make(map[string][]time.Duration)

	for _, e := range events {
		m.TotalSteps++
		if e.Success {
			m.SuccessCount++
		} else {
			m.FailureCount++
		}
		allDurations = append(allDurations, e.Duration)

		am, ok := m.Actions[e.Action]
		if !ok {
			am = &ActionMetrics{}
			m.Actions[e.Action] = am
		}
		am.Count++
		if e.Success {
			am.Success++
		} else {
			am.Failed++
		}
		actionDurations[e.Action] = append(actionDurations[e.Action], e.Duration)
	}

	m.SuccessRate = float64(m.SuccessCount) / float64(m.TotalSteps) * 100
	if m.TestDuration > 0 {
		m.StepsPerSec = float64(m.TotalSteps) / m.TestDuration.Seconds()
	}

	m.Duration = Summarize(allDurations)
	for action, durations := range actionDurations {
		m.Actions[action].Duration = Summarize(durations)
	}
	return m
}

// ComputeJourneys groups session summaries by journey name.
func ComputeJourneys(sessions []core.SessionSummary) map[string]*JourneyMetrics {
	out := make(map[string]*JourneyMetrics)
	for _, s := range sessions {
		jm, ok := out[s.Journey]
		if !ok {
			jm = &JourneyMetrics{}
			out[s.Journey] = jm
		}
		jm.Sessions++
		switch s.EndReason {
		case "completed":
			jm.Completed++
		case "aborted":
			jm.Aborted++
		default:
			jm.Errored++
		}
		jm.Checkouts += s.Checkouts
		jm.Orders += s.Orders
		jm.Reservations += s.Reservations
	}
	return out
}
