package failure

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scenario names a failure mode.
type Scenario string

const (
	ConnectionPool   Scenario = "connection_pool"
	PaymentGateway   Scenario = "payment_gateway"
	MemoryLeak       Scenario = "memory_leak"
	CascadingFailure Scenario = "cascading_failure"
	DataCorruption   Scenario = "data_corruption"
)

// Scenarios lists every scenario in display order.
var Scenarios = []Scenario{ConnectionPool, PaymentGateway, MemoryLeak, CascadingFailure, DataCorruption}

func (s Scenario) Valid() bool {
	for _, known := range Scenarios {
		if s == known {
			return true
		}
	}
	return false
}

var (
	ErrAlreadyActive   = errors.New("a failure scenario is already active")
	ErrNotActive       = errors.New("no failure scenario is active")
	ErrUnknownScenario = errors.New("unknown failure scenario")
	ErrInvalidDuration = errors.New("duration must be positive")
)

// Config tunes scenario timers and sizes.
type Config struct {
	PoolTick        time.Duration `yaml:"poolTick"`
	QueueThreshold  int           `yaml:"queueThreshold"`
	GatewayTick     time.Duration `yaml:"gatewayTick"`
	LeakTick        time.Duration `yaml:"leakTick"`
	LeakBlockBytes  int           `yaml:"leakBlockBytes"`
	HeapLimitBytes  int64         `yaml:"heapLimitBytes"`
	CascadeInterval time.Duration `yaml:"cascadeInterval"`
	CorruptRecords  int           `yaml:"corruptRecords"`
}

func DefaultConfig() Config {
	return Config{
		PoolTick:        time.Second,
		QueueThreshold:  10,
		GatewayTick:     2 * time.Second,
		LeakTick:        time.Second,
		LeakBlockBytes:  8 << 20,
		HeapLimitBytes:  256 << 20,
		CascadeInterval: 3 * time.Second,
		CorruptRecords:  3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PoolTick <= 0 {
		c.PoolTick = d.PoolTick
	}
	if c.QueueThreshold <= 0 {
		c.QueueThreshold = d.QueueThreshold
	}
	if c.GatewayTick <= 0 {
		c.GatewayTick = d.GatewayTick
	}
	if c.LeakTick <= 0 {
		c.LeakTick = d.LeakTick
	}
	if c.LeakBlockBytes <= 0 {
		c.LeakBlockBytes = d.LeakBlockBytes
	}
	if c.HeapLimitBytes <= 0 {
		c.HeapLimitBytes = d.HeapLimitBytes
	}
	if c.CascadeInterval <= 0 {
		c.CascadeInterval = d.CascadeInterval
	}
	if c.CorruptRecords <= 0 {
		c.CorruptRecords = d.CorruptRecords
	}
	return c
}

// Observer is notified of scenario lifecycle changes.
type Observer interface {
	ScenarioStarted(name string)
	ScenarioStopped(name string, runTime time.Duration)
}

type StartResult struct {
	Success         bool      `json:"success"`
	Scenario        Scenario  `json:"scenario,omitempty"`
	StartTime       time.Time `json:"startTime,omitzero"`
	ExpectedEndTime time.Time `json:"expectedEndTime,omitzero"`
	Error           string    `json:"error,omitempty"`
	Err             error     `json:"-"`
}

type StopResult struct {
	Success        bool     `json:"success"`
	Scenario       Scenario `json:"scenario,omitempty"`
	RunTimeSeconds float64  `json:"runTime"`
	Error          string   `json:"error,omitempty"`
	Err            error    `json:"-"`
}

type Status struct {
	Active           bool           `json:"active"`
	Scenario         Scenario       `json:"scenario,omitempty"`
	StartTime        time.Time      `json:"startTime,omitzero"`
	ElapsedSeconds   float64        `json:"elapsed"`
	RemainingSeconds float64        `json:"remaining"`
	Progress         float64        `json:"progress"`
	Details          map[string]any `json:"details,omitempty"`
	Flags            Flags          `json:"flags"`
}

// Simulator runs at most one scenario at a time against a SystemState.
// Scenario ticks, auto-stop and the reported timings all use wall-clock time.
type Simulator struct {
	state    *SystemState
	records  Records
	cfg      Config
	logger   *zap.Logger
	observer Observer

	// opMu serializes Start and Stop. mu guards the fields below and is
	// what scenario ticks take.
	opMu sync.Mutex
	mu   sync.Mutex

	active     bool
	scenario   Scenario
	startTime  time.Time
	duration   time.Duration
	generation uint64
	tasks      []*Task
	rng        *rand.Rand

	// scenario sub-state
	queue          int
	gatewayRetries int
	leaked         [][]byte
	leakedBytes    int64
	latencyLevel   int
	stage          int
	snapshot       []fieldSnapshot
}

type Option func(*Simulator)

func WithLogger(l *zap.Logger) Option { return func(s *Simulator) { s.logger = l } }
func WithRecords(r Records) Option    { return func(s *Simulator) { s.records = r } }
func WithConfig(c Config) Option      { return func(s *Simulator) { s.cfg = c.withDefaults() } }
func WithObserver(o Observer) Option  { return func(s *Simulator) { s.observer = o } }
func WithSeed(seed uint64) Option     { return func(s *Simulator) { s.rng = rand.New(rand.NewPCG(seed, seed)) } }

func NewSimulator(state *SystemState, opts ...Option) *Simulator {
	s := &Simulator{
		state:  state,
		cfg:    DefaultConfig(),
		logger: zap.NewNop(),
		rng:    rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "failure_simulator"))
	return s
}

// State returns the shared state the simulator mutates.
func (s *Simulator) State() *SystemState {
	return s.state
}

// Start activates scenario for duration. It fails without side effects if
// another scenario is active.
func (s *Simulator) Start(scenario Scenario, duration time.Duration) StartResult {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		s.logger.Warn("failure start rejected",
			zap.String("requested", string(scenario)),
			zap.String("active", string(s.scenario)),
		)
		return StartResult{Scenario: s.scenario, Error: ErrAlreadyActive.Error(), Err: ErrAlreadyActive}
	}
	if !scenario.Valid() {
		err := fmt.Errorf("%w: %q", ErrUnknownScenario, scenario)
		return StartResult{Error: err.Error(), Err: err}
	}
	if duration <= 0 {
		return StartResult{Error: ErrInvalidDuration.Error(), Err: ErrInvalidDuration}
	}

	s.active = true
	s.scenario = scenario
	s.startTime = time.Now()
	s.duration = duration
	s.generation++
	gen := s.generation

	s.logger.Warn("failure scenario started",
		zap.String("scenario", string(scenario)),
		zap.Duration("duration", duration),
	)

	switch scenario {
	case ConnectionPool:
		s.startConnectionPool()
	case PaymentGateway:
		s.startPaymentGateway()
	case MemoryLeak:
		s.startMemoryLeak()
	case CascadingFailure:
		s.startCascade()
	case DataCorruption:
		s.startDataCorruption()
	}

	// Stop cancels this task, so the callback must not call it inline.
	s.tasks = append(s.tasks, After(duration, func() { go s.autoStop(gen) }))

	if s.observer != nil {
		s.observer.ScenarioStarted(string(scenario))
	}
	return StartResult{
		Success:         true,
		Scenario:        scenario,
		StartTime:       s.startTime,
		ExpectedEndTime: s.startTime.Add(duration),
	}
}

// Stop ends the active scenario, cancelling its timers before restoring
// state. It fails without side effects when nothing is active.
func (s *Simulator) Stop() StopResult {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.stop("manual")
}

func (s *Simulator) autoStop(gen uint64) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	stale := !s.active || s.generation != gen
	s.mu.Unlock()
	if stale {
		return
	}
	s.stop("duration elapsed")
}

// stop must be called with opMu held.
func (s *Simulator) stop(trigger string) StopResult {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return StopResult{Error: ErrNotActive.Error(), Err: ErrNotActive}
	}
	tasks := s.tasks
	s.tasks = nil
	s.mu.Unlock()

	// Ticks take mu, so it must be released while waiting for them.
	for _, t := range tasks {
		t.Cancel()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	scenario := s.scenario
	runTime := time.Since(s.startTime)

	if len(s.snapshot) > 0 {
		if err := restore(s.records, s.snapshot); err != nil {
			s.logger.Error("data restore incomplete", zap.Error(err))
		} else {
			s.logger.Info("corrupted records restored", zap.Int("fields", len(s.snapshot)))
		}
	}
	s.state.ClearAll()

	s.active = false
	s.scenario = ""
	s.startTime = time.Time{}
	s.duration = 0
	s.queue = 0
	s.gatewayRetries = 0
	s.leaked = nil
	s.leakedBytes = 0
	s.latencyLevel = 0
	s.stage = 0
	s.snapshot = nil

	s.logger.Info("failure scenario stopped",
		zap.String("scenario", string(scenario)),
		zap.String("trigger", trigger),
		zap.Duration("run_time", runTime),
	)
	if s.observer != nil {
		s.observer.ScenarioStopped(string(scenario), runTime)
	}
	return StopResult{Success: true, Scenario: scenario, RunTimeSeconds: runTime.Seconds()}
}

// Status reports progress and scenario detail counters.
func (s *Simulator) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{Flags: s.state.Flags()}
	if !s.active {
		return st
	}

	elapsed := time.Since(s.startTime)
	remaining := s.duration - elapsed
	if remaining < 0 {
		remaining = 0
	}
	progress := 100 * float64(elapsed) / float64(s.duration)
	if progress > 100 {
		progress = 100
	}

	st.Active = true
	st.Scenario = s.scenario
	st.StartTime = s.startTime
	st.ElapsedSeconds = elapsed.Seconds()
	st.RemainingSeconds = remaining.Seconds()
	st.Progress = progress
	st.Details = s.detailsLocked()
	return st
}

func (s *Simulator) detailsLocked() map[string]any {
	switch s.scenario {
	case ConnectionPool:
		return map[string]any{"queueLength": s.queue, "threshold": s.cfg.QueueThreshold}
	case PaymentGateway:
		return map[string]any{"failedRetries": s.gatewayRetries}
	case MemoryLeak:
		return map[string]any{
			"leakedBlocks":   len(s.leaked),
			"leakedBytes":    s.leakedBytes,
			"heapPercent":    s.heapPercentLocked(),
			"addedLatencyMs": s.state.AddedLatency().Milliseconds(),
		}
	case CascadingFailure:
		return map[string]any{"stage": s.stage, "servicesDown": s.state.Flags().ServicesDown}
	case DataCorruption:
		return map[string]any{"corruptedFields": len(s.snapshot)}
	}
	return nil
}
