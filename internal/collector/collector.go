// Package collector aggregates step events and session summaries into a run
// report.
package collector

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"tracewright/internal/core"
)

const defaultBuffer = 1000

type Option func(*Collector)

// WithClock sets the clock that bounds the run duration.
func WithClock(clock core.Clock) Option { return func(c *Collector) { c.clock = clock } }

// WithBuffer sets how many events may be queued before Report drops them.
func WithBuffer(n int) Option { return func(c *Collector) { c.buffer = n } }

// Collector implements core.Reporter. Events are queued on a channel and
// appended by a single goroutine, so Report never blocks a user.
type Collector struct {
	clock  core.Clock
	buffer int
	queue  chan core.Event
	// drained is closed once the queue has been fully consumed.
	drained chan struct{}
	dropped atomic.Int64
	once    sync.Once

	mu       sync.Mutex
	events   []core.Event
	sessions []core.SessionSummary
	began    time.Time
	ended    time.Time
}

func NewCollector(opts ...Option) *Collector {
	c := &Collector{clock: core.RealClock{}, buffer: defaultBuffer}
	for _, opt := range opts {
		opt(c)
	}
	c.queue = make(chan core.Event, c.buffer)
	c.drained = make(chan struct{})
	c.began = c.clock.Now()
	go c.consume()
	return c
}

func (c *Collector) consume() {
	defer close(c.drained)
	for ev := range c.queue {
		c.mu.Lock()
		c.events = append(c.events, ev)
		c.mu.Unlock()
	}
}

// Report queues ev, counting it as dropped when the queue is full. It must
// not be called after Close.
func (c *Collector) Report(ev core.Event) {
	select {
	case c.queue <- ev:
	default:
		c.dropped.Add(1)
	}
}

// RecordSession stores a finished session's summary.
func (c *Collector) RecordSession(s core.SessionSummary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = append(c.sessions, s)
}

// Close freezes the run duration and waits for queued events. Later calls
// return immediately.
func (c *Collector) Close() {
	c.once.Do(func() {
		c.mu.Lock()
		c.ended = c.clock.Now()
		c.mu.Unlock()
		close(c.queue)
		<-c.drained
	})
}

func (c *Collector) Events() []core.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.events)
}

func (c *Collector) Sessions() []core.SessionSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.sessions)
}

func (c *Collector) DroppedEvents() int64 { return c.dropped.Load() }

// Duration runs from construction to Close, or to now while open.
func (c *Collector) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended.IsZero() {
		return c.clock.Since(c.began)
	}
	return c.ended.Sub(c.began)
}

// Compute builds metrics from everything collected so far.
func (c *Collector) Compute() *Metrics {
	m := ComputeMetrics(c.Events(), c.Duration())
	m.Journeys = ComputeJourneys(c.Sessions())
	m.DroppedEvents = c.DroppedEvents()
	return m
}
