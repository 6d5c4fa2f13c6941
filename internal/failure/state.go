// Package failure injects named, time-bounded fault scenarios into a
// SystemState that request handlers consult, and restores everything when
// the scenario stops.
package failure

import (
	"sync"
	"time"
)

// Services are taken down in this order by the cascading failure scenario.
var Services = [5]string{"inventory", "payment", "orders", "notifications", "api-gateway"}

// Flags is a snapshot of SystemState.
type Flags struct {
	PoolExhausted      bool          `json:"poolExhausted"`
	PoolQueue          int           `json:"poolQueue"`
	GatewayUnreachable bool          `json:"gatewayUnreachable"`
	AddedLatency       time.Duration `json:"addedLatencyNs"`
	ServicesDown       []string      `json:"servicesDown"`
	DataCorrupted      bool          `json:"dataCorrupted"`
}

// Any reports whether any fault is in effect.
func (f Flags) Any() bool {
	return f.PoolExhausted || f.PoolQueue > 0 || f.GatewayUnreachable ||
		f.AddedLatency > 0 || len(f.ServicesDown) > 0 || f.DataCorrupted
}

// SystemState is the shared fault state. The simulator writes it; request
// handlers only read it. Safe for concurrent use.
type SystemState struct {
	mu                 sync.RWMutex
	poolExhausted      bool
	poolQueue          int
	gatewayUnreachable bool
	addedLatency       time.Duration
	servicesDown       [len(Services)]bool
	dataCorrupted      bool
}

func NewSystemState() *SystemState {
	return &SystemState{}
}

func (s *SystemState) Flags() Flags {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f := Flags{
		PoolExhausted:      s.poolExhausted,
		PoolQueue:          s.poolQueue,
		GatewayUnreachable: s.gatewayUnreachable,
		AddedLatency:       s.addedLatency,
		DataCorrupted:      s.dataCorrupted,
	}
	for i, down := range s.servicesDown {
		if down {
			f.ServicesDown = append(f.ServicesDown, Services[i])
		}
	}
	return f
}

func (s *SystemState) PoolExhausted() (bool, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.poolExhausted, s.poolQueue
}

func (s *SystemState) GatewayUnreachable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gatewayUnreachable
}

func (s *SystemState) AddedLatency() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addedLatency
}

// ServiceDown reports whether the named service is marked down.
func (s *SystemState) ServiceDown(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i, svc := range Services {
		if svc == name {
			return s.servicesDown[i]
		}
	}
	return false
}

func (s *SystemState) DataCorrupted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dataCorrupted
}

func (s *SystemState) setPoolExhausted(v bool) {
	s.mu.Lock()
	s.poolExhausted = v
	s.mu.Unlock()
}

func (s *SystemState) setPoolQueue(n int) {
	s.mu.Lock()
	s.poolQueue = n
	s.mu.Unlock()
}

func (s *SystemState) setGatewayUnreachable(v bool) {
	s.mu.Lock()
	s.gatewayUnreachable = v
	s.mu.Unlock()
}

func (s *SystemState) setAddedLatency(d time.Duration) {
	s.mu.Lock()
	s.addedLatency = d
	s.mu.Unlock()
}

func (s *SystemState) setServiceDown(stage int, v bool) {
	if stage < 0 || stage >= len(Services) {
		return
	}
	s.mu.Lock()
	s.servicesDown[stage] = v
	s.mu.Unlock()
}

func (s *SystemState) setDataCorrupted(v bool) {
	s.mu.Lock()
	s.dataCorrupted = v
	s.mu.Unlock()
}

// ClearAll resets every flag regardless of which scenario set it.
func (s *SystemState) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.poolExhausted = false
	s.poolQueue = 0
	s.gatewayUnreachable = false
	s.addedLatency = 0
	s.servicesDown = [len(Services)]bool{}
	s.dataCorrupted = false
}
