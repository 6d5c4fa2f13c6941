package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracewright/internal/config"
	"tracewright/internal/core"
)

func newClock() *core.FakeClock {
	return core.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
}

func TestSchedule_Steady(t *testing.T) {
	s := NewSchedule([]config.Phase{
		{Name: "steady", Duration: time.Minute, Users: 10, SpawnRate: 5},
	}, newClock())

	pos := s.At()
	require.False(t, pos.Done())
	assert.Equal(t, "steady", pos.Phase.Name)
	assert.Equal(t, 10, pos.Target)
	assert.Equal(t, 5, pos.SpawnRate)
}

func TestSchedule_Ramps(t *testing.T) {
	tests := []struct {
		name    string
		phase   config.Phase
		advance time.Duration
		want    int
	}{
		{"up at start", config.Phase{Duration: 10 * time.Second, EndUsers: 10}, 0, 0},
		{"up at midpoint", config.Phase{Duration: 10 * time.Second, EndUsers: 10}, 5 * time.Second, 5},
		{"down", config.Phase{Duration: 4 * time.Second, StartUsers: 8}, 3 * time.Second, 2},
		{"flat", config.Phase{Duration: 4 * time.Second, StartUsers: 3, EndUsers: 3}, time.Second, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newClock()
			s := NewSchedule([]config.Phase{tt.phase}, clock)
			clock.Advance(tt.advance)
			assert.Equal(t, tt.want, s.At().Target)
		})
	}
}

func TestSchedule_WalksPhases(t *testing.T) {
	clock := newClock()
	s := NewSchedule([]config.Phase{
		{Name: "warmup", Duration: 10 * time.Second, Users: 2},
		{Name: "peak", Duration: 20 * time.Second, Users: 20, SpawnRate: 10},
		{Name: "cooldown", Duration: 10 * time.Second, StartUsers: 20},
	}, clock)

	assert.Equal(t, 0, s.At().Index)

	clock.Advance(15 * time.Second)
	pos := s.At()
	assert.Equal(t, "peak", pos.Phase.Name)
	assert.Equal(t, 20, pos.Target)

	clock.Advance(20 * time.Second)
	pos = s.At()
	assert.Equal(t, "cooldown", pos.Phase.Name)
	assert.Equal(t, 10, pos.Target)
	assert.Zero(t, pos.SpawnRate)

	clock.Advance(10 * time.Second)
	pos = s.At()
	assert.True(t, pos.Done())
	assert.Equal(t, 3, pos.Index)
	assert.Zero(t, pos.Target)
}

func TestSchedule_Empty(t *testing.T) {
	assert.True(t, NewSchedule(nil, newClock()).At().Done())
}
