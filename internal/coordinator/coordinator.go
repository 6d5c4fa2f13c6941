// Package coordinator manages virtual user lifecycle and orchestration.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"tracewright/internal/config"
	"tracewright/internal/core"
	"tracewright/internal/journey"
	"tracewright/internal/progress"
	"tracewright/internal/ratelimit"
)

const (
	// phaseTickInterval is how often we check for phase transitions
	// and adjust user counts during load profile execution.
	phaseTickInterval = 100 * time.Millisecond

	// sessionHistory bounds how many finished summaries are kept.
	sessionHistory = 10000
)

var ErrInvalidRequest = errors.New("invalid traffic request")

// Factory builds the actor for one session.
type Factory func(id int, sessionID string, j journey.Journey) core.Actor

// Hooks observe user lifecycle. UserStarted is always paired with a later
// UserFinished.
type Hooks interface {
	UserStarted()
	UserFinished(core.SessionSummary)
}

// StartRequest describes a batch of users. Weights replaces catalog weights
// positionally; Mix then zeroes every journey it does not name.
type StartRequest struct {
	Users       int
	Weights     []float64
	Mix         map[string]float64
	Concurrency int
}

type Option func(*Coordinator)

func WithCatalog(c journey.Catalog) Option { return func(co *Coordinator) { co.catalog = c } }
func WithHooks(h ...Hooks) Option          { return func(co *Coordinator) { co.hooks = append(co.hooks, h...) } }

// WithRateLimiter gates every session start through rl.
func WithRateLimiter(rl *ratelimit.RateLimiter) Option {
	return func(co *Coordinator) { co.limiter = rl }
}

// WithSeed makes journey selection deterministic.
func WithSeed(seed uint64) Option {
	return func(co *Coordinator) { co.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// OnSessionEnd registers fn to receive every finished session's summary.
func OnSessionEnd(fn func(core.SessionSummary)) Option {
	return func(co *Coordinator) { co.onEnd = append(co.onEnd, fn) }
}

type Coordinator struct {
	nextID      atomic.Int64
	wg          sync.WaitGroup
	reporter    core.Reporter
	factory     Factory
	logger      *zap.Logger
	catalog     journey.Catalog
	limiter     *ratelimit.RateLimiter
	hooks       []Hooks
	onEnd       []func(core.SessionSummary)
	activeCount atomic.Int32

	rngMu sync.Mutex
	rng   *rand.Rand

	mu       sync.Mutex
	live     map[string]core.Actor
	order    []string // live session ids, oldest first
	stopping map[string]bool
	cancels  map[int]context.CancelFunc
	batchSeq int
	sessions []core.SessionSummary
}

func NewCoordinator(reporter core.Reporter, factory Factory, logger *zap.Logger, opts ...Option) *Coordinator {
	if reporter == nil {
		reporter = core.NullReporter
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		reporter: reporter,
		factory:  factory,
		logger:   logger,
		catalog:  journey.Default(),
		rng:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
		live:     make(map[string]core.Actor),
		stopping: make(map[string]bool),
		cancels:  make(map[int]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Catalog returns the journeys users are drawn from.
func (c *Coordinator) Catalog() journey.Catalog {
	return c.catalog
}

// Start creates req.Users users and runs each in its own goroutine, at most
// req.Concurrency at a time. It returns their session ids without waiting.
// ctx bounds the users' runs; StopAll aborts them cooperatively.
func (c *Coordinator) Start(ctx context.Context, req StartRequest) ([]string, error) {
	if req.Users <= 0 {
		return nil, fmt.Errorf("%w: users must be positive, got %d", ErrInvalidRequest, req.Users)
	}
	if req.Concurrency < 0 {
		return nil, fmt.Errorf("%w: concurrency must not be negative", ErrInvalidRequest)
	}
	cat, err := c.mix(req)
	if err != nil {
		return nil, err
	}

	// Pick every journey first so a mix with nothing selectable starts nobody.
	journeys := make([]journey.Journey, req.Users)
	for i := range journeys {
		if journeys[i], err = c.pick(cat); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
	}

	concurrency := req.Concurrency
	if concurrency == 0 || concurrency > req.Users {
		concurrency = req.Users
	}
	sem := semaphore.NewWeighted(int64(concurrency))
	b := c.newBatch(ctx)
	defer b.seal()

	ids := make([]string, 0, req.Users)
	for _, j := range journeys {
		actor := c.newActor(j)
		ids = append(ids, actor.SessionID())
		b.wg.Add(1)
		c.launch(ctx, b.ctx, actor, sem, c.limiter, b.wg.Done)
	}

	c.logger.Info("traffic started",
		zap.Int("users", req.Users),
		zap.Int("concurrency", concurrency),
	)
	return ids, nil
}

func (c *Coordinator) mix(req StartRequest) (journey.Catalog, error) {
	cat := c.catalog
	var err error
	if req.Weights != nil {
		if cat, err = cat.Reweight(req.Weights); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
	}
	if cat, err = cat.WithMix(req.Mix); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return cat, nil
}

func (c *Coordinator) pick(cat journey.Catalog) (journey.Journey, error) {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	return journey.SelectWeighted(c.rng, cat)
}

// batch groups the users of one Start or profile run. Its ctx governs
// queueing (semaphore and spawn rate) and is cancelled by StopAll or once
// every user of the batch has finished.
type batch struct {
	ctx context.Context
	wg  sync.WaitGroup
}

func (c *Coordinator) newBatch(ctx context.Context) *batch {
	waitCtx, cancel := context.WithCancel(ctx)
	b := &batch{ctx: waitCtx}
	b.wg.Add(1) // released by seal

	c.mu.Lock()
	c.batchSeq++
	id := c.batchSeq
	c.cancels[id] = cancel
	c.mu.Unlock()

	go func() {
		b.wg.Wait()
		cancel()
		c.mu.Lock()
		delete(c.cancels, id)
		c.mu.Unlock()
	}()
	return b
}

// seal marks the batch as fully populated.
func (b *batch) seal() { b.wg.Done() }

func (c *Coordinator) newActor(j journey.Journey) core.Actor {
	id := int(c.nextID.Add(1))
	actor := c.factory(id, uuid.NewString(), j)

	c.mu.Lock()
	c.live[actor.SessionID()] = actor
	c.order = append(c.order, actor.SessionID())
	c.mu.Unlock()
	return actor
}

// launch runs actor in its own goroutine. It queues on sem and rl (either
// may be nil) under waitCtx, then runs under ctx.
func (c *Coordinator) launch(ctx, waitCtx context.Context, actor core.Actor, sem *semaphore.Weighted, rl *ratelimit.RateLimiter, done func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if done != nil {
			defer done()
		}
		defer c.finish(actor)
		defer c.recoverPanic(actor)

		if sem != nil {
			if err := sem.Acquire(waitCtx, 1); err != nil {
				c.runAborted(actor)
				return
			}
			defer sem.Release(1)
		}
		if rl != nil {
			if err := rl.Wait(waitCtx); err != nil {
				c.runAborted(actor)
				return
			}
		}

		c.activeCount.Add(1)
		defer c.activeCount.Add(-1)
		for _, h := range c.hooks {
			h.UserStarted()
		}
		if err := actor.Run(ctx); err != nil {
			c.logger.Debug("user finished early",
				zap.Int("user_id", actor.ID()),
				zap.String("session_id", actor.SessionID()),
				zap.Error(err),
			)
		}
	}()
}

// runAborted lets an actor that never got to start record an aborted
// session without opening any spans.
func (c *Coordinator) runAborted(actor core.Actor) {
	actor.Abort()
	for _, h := range c.hooks {
		h.UserStarted()
	}
	_ = actor.Run(context.Background())
}

// recoverPanic recovers from panics in user goroutines and reports them as failed events.
func (c *Coordinator) recoverPanic(actor core.Actor) {
	if r := recover(); r != nil {
		act := actor.Activity()
		c.logger.Error("user panicked",
			zap.Int("user_id", actor.ID()),
			zap.String("session_id", actor.SessionID()),
			zap.Any("panic", r),
		)
		c.reporter.Report(core.Event{
			UserID:    actor.ID(),
			SessionID: actor.SessionID(),
			TraceID:   act.TraceID,
			Journey:   act.Journey,
			StepIndex: act.StepIndex,
			Action:    "panic",
			Timestamp: time.Now(),
			Success:   false,
			Error:     fmt.Sprintf("panic: %v", r),
		})
	}
}

func (c *Coordinator) finish(actor core.Actor) {
	s := actor.Summary()
	if s.SessionID == "" {
		s.SessionID = actor.SessionID()
	}
	if s.UserID == 0 {
		s.UserID = actor.ID()
	}
	if s.EndReason == "" {
		s.EndReason = "error"
	}

	c.mu.Lock()
	delete(c.live, s.SessionID)
	delete(c.stopping, s.SessionID)
	for i, id := range c.order {
		if id == s.SessionID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.sessions = append(c.sessions, s)
	if over := len(c.sessions) - sessionHistory; over > 0 {
		c.sessions = append(c.sessions[:0:0], c.sessions[over:]...)
	}
	c.mu.Unlock()

	for _, h := range c.hooks {
		h.UserFinished(s)
	}
	for _, fn := range c.onEnd {
		fn(s)
	}
}

// StopAll aborts every live user and stops queued ones from starting. It
// does not wait; call Wait for that.
func (c *Coordinator) StopAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cancel := range c.cancels {
		cancel()
	}
	n := 0
	for _, id := range c.order {
		c.live[id].Abort()
		c.stopping[id] = true
		n++
	}
	if n > 0 {
		c.logger.Info("stopping all users", zap.Int("users", n))
	}
	return n
}

// stopUsers aborts the n oldest users that are not already stopping.
func (c *Coordinator) stopUsers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range c.order {
		if n == 0 {
			return
		}
		if c.stopping[id] {
			continue
		}
		c.live[id].Abort()
		c.stopping[id] = true
		n--
	}
}

func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// ActiveUsers is the number of users currently running a journey.
func (c *Coordinator) ActiveUsers() int {
	return int(c.activeCount.Load())
}

// LiveUsers counts users that exist and have not finished, including those
// still queued and those stopping.
func (c *Coordinator) LiveUsers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.live)
}

func (c *Coordinator) wanted() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.live) - len(c.stopping)
}

// Snapshot returns the activity of every live user ordered by user id.
func (c *Coordinator) Snapshot() []core.Activity {
	c.mu.Lock()
	actors := make([]core.Actor, 0, len(c.live))
	for _, a := range c.live {
		actors = append(actors, a)
	}
	c.mu.Unlock()

	out := make([]core.Activity, 0, len(actors))
	for _, a := range actors {
		out = append(out, a.Activity())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Sessions returns the summaries of finished sessions, oldest first.
func (c *Coordinator) Sessions() []core.SessionSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.SessionSummary(nil), c.sessions...)
}

// RunWithProfile keeps the load profile's target number of users alive until
// the profile completes or ctx ends, replacing users whose journeys finish
// and aborting surplus ones. It returns once every user has been told to
// stop; call Wait to drain them.
func (c *Coordinator) RunWithProfile(ctx context.Context, profile *config.LoadProfile, prog *progress.Progress) {
	sched := ratelimit.NewSchedule(profile.Phases, core.RealClock{})
	limiter := c.limiter
	if limiter == nil {
		limiter = ratelimit.NewRateLimiter(0)
	}

	announce := func(format string, args ...any) {
		if prog != nil {
			prog.Printf(format, args...)
			return
		}
		c.logger.Info(fmt.Sprintf(format, args...))
	}
	announce("Starting load profile with %d phases, total duration: %v",
		len(profile.Phases), profile.TotalDuration())

	b := c.newBatch(ctx)
	defer b.seal()

	phase := -1
	ticker := time.NewTicker(phaseTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.StopAll()
			return
		case <-ticker.C:
		}

		pos := sched.At()
		if pos.Done() {
			c.StopAll()
			return
		}
		if pos.Index != phase {
			phase = pos.Index
			if pos.SpawnRate > 0 {
				announce("Phase: %s (duration: %v, target users: %d, spawn rate: %d/s)",
					pos.Phase.Name, pos.Phase.Duration, pos.Target, pos.SpawnRate)
			} else {
				announce("Phase: %s (duration: %v, target users: %d)",
					pos.Phase.Name, pos.Phase.Duration, pos.Target)
			}
		}
		limiter.SetRate(pos.SpawnRate)

		target := pos.Target
		current := c.wanted()
		switch {
		case current < target:
			for i := current; i < target; i++ {
				j, err := c.pick(c.catalog)
				if err != nil {
					c.logger.Error("cannot select journey", zap.Error(err))
					break
				}
				b.wg.Add(1)
				c.launch(ctx, b.ctx, c.newActor(j), nil, limiter, b.wg.Done)
			}
		case current > target:
			c.stopUsers(current - target)
		}
	}
}
