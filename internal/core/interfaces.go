// Package core defines the fundamental interfaces and types shared by the
// traffic engine: step events, reporters, actors and their activity.
package core

import (
	"context"
	"time"
)

// Event represents a single measurement from a virtual user's journey step.
type Event struct {
	UserID     int
	SessionID  string
	TraceID    string
	Journey    string
	StepIndex  int
	Action     string
	Target     string
	Timestamp  time.Time
	Duration   time.Duration
	Success    bool
	Error      string
	StatusCode int // last collaborator HTTP status seen by the step, 0 if none
}

// Reporter is the interface actors use to send events to the Collector.
type Reporter interface {
	Report(Event)
}

// NullReporter discards all events.
var NullReporter Reporter = nullReporter{}

type nullReporter struct{}

func (nullReporter) Report(Event) {}

// MultiReporter fans each event out to every reporter in order.
type MultiReporter []Reporter

func (m MultiReporter) Report(e Event) {
	for _, r := range m {
		if r != nil {
			r.Report(e)
		}
	}
}

// State is the lifecycle state of an actor.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateThinking  State = "thinking"
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
	StateFailed    State = "failed"
)

// Done reports whether the state is terminal.
func (s State) Done() bool {
	return s == StateCompleted || s == StateAborted || s == StateFailed
}

// Activity is a point-in-time view of what an actor is doing.
// Used for status reporting only.
type Activity struct {
	UserID     int    `json:"userId"`
	SessionID  string `json:"sessionId"`
	TraceID    string `json:"traceId,omitempty"`
	Journey    string `json:"journey"`
	State      State  `json:"state"`
	StepIndex  int    `json:"stepIndex"`
	TotalSteps int    `json:"totalSteps"`
	Label      string `json:"label"`
}

// Actor is one concurrently running synthetic user.
type Actor interface {
	ID() int
	SessionID() string
	// Run executes the actor's journey to completion. It must close every
	// span it opened before returning, including on abort and error.
	Run(ctx context.Context) error
	// Abort asks the actor to stop at its next step boundary.
	Abort()
	Activity() Activity
	// Summary is meaningful once Run has returned.
	Summary() SessionSummary
}

// SessionSummary describes one finished synthetic session.
type SessionSummary struct {
	UserID        int           `json:"userId"`
	SessionID     string        `json:"sessionId"`
	TraceID       string        `json:"traceId,omitempty"`
	Journey       string        `json:"journey"`
	EndReason     string        `json:"endReason"`
	StepsExecuted int           `json:"stepsExecuted"`
	StepsSkipped  int           `json:"stepsSkipped"`
	Checkouts     int           `json:"checkouts"`
	Orders        int           `json:"orders"`
	Reservations  int           `json:"reservations"`
	PageViews     int           `json:"pageViews"`
	Duration      time.Duration `json:"durationNs"`
	Error         string        `json:"error,omitempty"`
}
