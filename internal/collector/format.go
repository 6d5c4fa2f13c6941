package collector

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"
)

const reportTitle = "Tracewright - Synthetic Traffic Results"

// FormatText writes a human-readable report. Tables are aligned with
// tabwriter so long journey names do not break the columns.
func FormatText(w io.Writer, m *Metrics, thresholds *ThresholdResults) {
	if m.TotalSteps == 0 && len(m.Journeys) == 0 {
		fmt.Fprintln(w, "No events collected")
		return
	}

	fmt.Fprintf(w, "\n%s\n%s\n\n", reportTitle, strings.Repeat("=", len(reportTitle)))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Duration:\t%v\n", m.TestDuration.Round(time.Millisecond))
	fmt.Fprintf(tw, "Total Steps:\t%s\n", formatNumber(m.TotalSteps))
	fmt.Fprintf(tw, "Success Rate:\t%.1f%% (%s / %s)\n", m.SuccessRate, formatNumber(m.SuccessCount), formatNumber(m.TotalSteps))
	fmt.Fprintf(tw, "Steps/sec:\t%.1f\n", m.StepsPerSec)
	if m.DroppedEvents > 0 {
		fmt.Fprintf(tw, "Dropped Events:\t%d\n", m.DroppedEvents)
	}
	tw.Flush()

	fmt.Fprintln(w, "\nStep Durations:")
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  min\tavg\tp50\tp90\tp95\tp99\tmax")
	d := m.Duration
	fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\t%s\t%s\n",
		FormatDuration(d.Min), FormatDuration(d.Avg), FormatDuration(d.P50), FormatDuration(d.P90),
		FormatDuration(d.P95), FormatDuration(d.P99), FormatDuration(d.Max))
	tw.Flush()

	if len(m.Actions) > 0 {
		fmt.Fprintln(w, "\nBy Action:")
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  action\tsteps\tfailed\tavg\tp95\tp99")
		for _, name := range sortedKeys(m.Actions) {
			am := m.Actions[name]
			fmt.Fprintf(tw, "  %s\t%s\t%d\t%s\t%s\t%s\n", name, formatNumber(am.Count), am.Failed,
				FormatDuration(am.Duration.Avg), FormatDuration(am.Duration.P95), FormatDuration(am.Duration.P99))
		}
		tw.Flush()
	}

	if len(m.Journeys) > 0 {
		fmt.Fprintln(w, "\nBy Journey:")
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  journey\tsessions\tcompleted\taborted\terrored\torders\treservations")
		for _, name := range sortedKeys(m.Journeys) {
			jm := m.Journeys[name]
			fmt.Fprintf(tw, "  %s\t%d\t%d\t%d\t%d\t%d/%d\t%d\n", name, jm.Sessions, jm.Completed,
				jm.Aborted, jm.Errored, jm.Orders, jm.Checkouts, jm.Reservations)
		}
		tw.Flush()
	}

	if thresholds != nil && len(thresholds.Results) > 0 {
		fmt.Fprintln(w, "\nThresholds:")
		for _, r := range thresholds.Results {
			mark := "✓"
			if !r.Passed {
				mark = "✗"
			}
			fmt.Fprintf(w, "  %s %s %s (actual: %s)\n", mark, r.Name, r.Threshold, r.Actual)
		}
	}
}

// jsonReport is the machine-readable report. Durations are rendered with
// FormatDuration so both outputs agree.
type jsonReport struct {
	Duration      string                     `json:"duration"`
	TotalSteps    int                        `json:"totalSteps"`
	SuccessCount  int                        `json:"successCount"`
	FailureCount  int                        `json:"failureCount"`
	SuccessRate   float64                    `json:"successRate"`
	StepsPerSec   float64                    `json:"stepsPerSec"`
	DroppedEvents int64                      `json:"droppedEvents"`
	Durations     jsonDurations              `json:"durations"`
	Actions       map[string]jsonAction      `json:"actions"`
	Journeys      map[string]*JourneyMetrics `json:"journeys"`
	Thresholds    *ThresholdResults          `json:"thresholds,omitempty"`
}

type jsonDurations struct {
	Min string `json:"min"`
	Max string `json:"max"`
	Avg string `json:"avg"`
	P50 string `json:"p50"`
	P90 string `json:"p90"`
	P95 string `json:"p95"`
	P99 string `json:"p99"`
}

type jsonAction struct {
	Count       int           `json:"count"`
	Success     int           `json:"success"`
	Failed      int           `json:"failed"`
	SuccessRate float64       `json:"successRate"`
	Durations   jsonDurations `json:"durations"`
}

func (d DurationMetrics) rendered() jsonDurations {
	return jsonDurations{
		Min: FormatDuration(d.Min), Max: FormatDuration(d.Max), Avg: FormatDuration(d.Avg),
		P50: FormatDuration(d.P50), P90: FormatDuration(d.P90), P95: FormatDuration(d.P95), P99: FormatDuration(d.P99),
	}
}

// FormatJSON writes the report as indented JSON.
func FormatJSON(w io.Writer, m *Metrics, thresholds *ThresholdResults) error {
	out := jsonReport{
		Duration:      m.TestDuration.Round(time.Millisecond).String(),
		TotalSteps:    m.TotalSteps,
		SuccessCount:  m.SuccessCount,
		FailureCount:  m.FailureCount,
		SuccessRate:   m.SuccessRate,
		StepsPerSec:   m.StepsPerSec,
		DroppedEvents: m.DroppedEvents,
		Durations:     m.Duration.rendered(),
		Actions:       make(map[string]jsonAction, len(m.Actions)),
		Journeys:      m.Journeys,
		Thresholds:    thresholds,
	}
	for name, am := range m.Actions {
		var rate float64
		if am.Count > 0 {
			rate = 100 * float64(am.Success) / float64(am.Count)
		}
		out.Actions[name] = jsonAction{
			Count:       am.Count,
			Success:     am.Success,
			Failed:      am.Failed,
			SuccessRate: rate,
			Durations:   am.Duration.rendered(),
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// formatNumber groups digits in thousands: 1234567 -> "1,234,567".
func formatNumber(n int) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	s := strconv.Itoa(n)
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	return s
}
