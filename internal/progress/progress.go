// Package progress keeps a one-line status display refreshed on stderr
// while a run is in flight.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"tracewright/internal/collector"
)

const clearLine = "\033[K"

// Status is the engine-side state shown next to the step counters.
type Status struct {
	ActiveUsers int
	Sessions    int
	// Scenario is the active failure scenario, empty when none.
	Scenario string
}

type Option func(*Progress)

func Quiet(quiet bool) Option       { return func(p *Progress) { p.quiet = quiet } }
func WithOutput(w io.Writer) Option { return func(p *Progress) { p.out = w } }
func WithStatus(fn func() Status) Option {
	return func(p *Progress) { p.status = fn }
}

// WithInterval sets how often the status line is redrawn.
func WithInterval(d time.Duration) Option { return func(p *Progress) { p.every = d } }

// Progress redraws the status line until Stop. A quiet Progress drops all
// output so callers never need to check.
type Progress struct {
	coll   *collector.Collector
	status func() Status
	every  time.Duration
	quiet  bool

	mu    sync.Mutex
	out   io.Writer
	began time.Time
	done  chan struct{}
	wg    sync.WaitGroup
}

func New(c *collector.Collector, opts ...Option) *Progress {
	p := &Progress{coll: c, every: time.Second, out: os.Stderr}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start begins redrawing. Calling it twice is a no-op.
func (p *Progress) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.quiet || p.done != nil {
		return
	}
	p.began = time.Now()
	p.done = make(chan struct{})
	p.wg.Add(1)
	go p.loop(p.done)
}

func (p *Progress) loop(done <-chan struct{}) {
	defer p.wg.Done()
	t := time.NewTicker(p.every)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			p.redraw()
		}
	}
}

func (p *Progress) redraw() {
	m := collector.ComputeMetrics(p.coll.Events(), p.coll.Duration())
	var st Status
	if p.status != nil {
		st = p.status()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.out, clearLine+statusLine(time.Since(p.began), m, st)+"\r")
}

func statusLine(elapsed time.Duration, m *collector.Metrics, st Status) string {
	elapsed = elapsed.Truncate(time.Second)
	var errPct float64
	if m.TotalSteps > 0 {
		errPct = 100 * float64(m.FailureCount) / float64(m.TotalSteps)
	}
	line := fmt.Sprintf("[%02d:%02d] Users: %d | Sessions: %d | Steps: %d | Errors: %d (%.1f%%)",
		int(elapsed/time.Minute), int(elapsed%time.Minute/time.Second),
		st.ActiveUsers, st.Sessions, m.TotalSteps, m.FailureCount, errPct)
	if st.Scenario != "" {
		line += " | Failure: " + st.Scenario
	}
	return line
}

// Stop ends redrawing and clears the line. It is safe to call more than
// once, or without Start.
func (p *Progress) Stop() {
	p.mu.Lock()
	done := p.done
	p.done = nil
	p.mu.Unlock()
	if done == nil {
		return
	}
	close(done)
	p.wg.Wait()

	p.mu.Lock()
	fmt.Fprint(p.out, clearLine)
	p.mu.Unlock()
}

// Printf writes one full line above the status display.
func (p *Progress) Printf(format string, args ...any) {
	if p.quiet {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, clearLine+format+"\n", args...)
}
