package ratelimit

import (
	"time"

	"tracewright/internal/config"
	"tracewright/internal/core"
)

// Position is where a Schedule stands at one instant.
type Position struct {
	Index int
	// Phase is nil once every phase has elapsed.
	Phase *config.Phase
	// Target is the number of concurrent users the phase wants now.
	Target    int
	SpawnRate int
}

func (p Position) Done() bool { return p.Phase == nil }

// Schedule walks a load profile's phases against a clock started at
// construction.
type Schedule struct {
	phases []config.Phase
	clock  core.Clock
	start  time.Time
}

func NewSchedule(phases []config.Phase, clock core.Clock) *Schedule {
	if clock == nil {
		clock = core.RealClock{}
	}
	return &Schedule{phases: phases, clock: clock, start: clock.Now()}
}

func (s *Schedule) Elapsed() time.Duration { return s.clock.Since(s.start) }

// At reports the current phase and its target.
func (s *Schedule) At() Position {
	elapsed := s.Elapsed()
	for i := range s.phases {
		ph := &s.phases[i]
		if elapsed < ph.Duration {
			return Position{Index: i, Phase: ph, Target: target(ph, elapsed), SpawnRate: ph.SpawnRate}
		}
		elapsed -= ph.Duration
	}
	return Position{Index: len(s.phases)}
}

// target holds Users for steady phases and interpolates StartUsers to
// EndUsers linearly otherwise.
func target(ph *config.Phase, into time.Duration) int {
	if ph.Users > 0 {
		return ph.Users
	}
	if ph.StartUsers == ph.EndUsers || ph.Duration <= 0 {
		return ph.StartUsers
	}
	frac := min(float64(into)/float64(ph.Duration), 1)
	return ph.StartUsers + int(float64(ph.EndUsers-ph.StartUsers)*frac)
}
