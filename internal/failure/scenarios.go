package failure

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Heap pressure thresholds, in percent of HeapLimitBytes, and the latency
// handlers add once each is crossed.
var leakThresholds = []struct {
	percent float64
	latency time.Duration
	level   zapcore.Level
}{
	{60, 200 * time.Millisecond, zapcore.WarnLevel},
	{80, 500 * time.Millisecond, zapcore.WarnLevel},
	{90, 1500 * time.Millisecond, zapcore.ErrorLevel},
}

// The start functions run with s.mu held. Their ticks take s.mu themselves.

func (s *Simulator) startConnectionPool() {
	s.state.setPoolExhausted(true)
	s.logger.Warn("database connection pool exhausted", zap.Int("queue_threshold", s.cfg.QueueThreshold))

	s.tasks = append(s.tasks, Every(s.cfg.PoolTick, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()

		s.queue += 1 + s.rng.IntN(3)
		s.state.setPoolQueue(s.queue)

		fields := []zap.Field{
			zap.Int("queue_length", s.queue),
			zap.Int("threshold", s.cfg.QueueThreshold),
		}
		switch {
		case s.queue > 2*s.cfg.QueueThreshold:
			s.logger.Error("connection pool wait queue critical", fields...)
		case s.queue > s.cfg.QueueThreshold:
			s.logger.Warn("connection pool wait queue growing", fields...)
		default:
			s.logger.Info("requests waiting for a connection", fields...)
		}
		return true
	}))
}

func (s *Simulator) startPaymentGateway() {
	s.state.setGatewayUnreachable(true)
	s.logger.Error("payment gateway unreachable", zap.String("gateway", "payments-provider"))

	s.tasks = append(s.tasks, Every(s.cfg.GatewayTick, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()

		s.gatewayRetries++
		fields := []zap.Field{
			zap.Int("failed_retries", s.gatewayRetries),
			zap.String("error", "dial tcp: i/o timeout"),
		}
		if s.gatewayRetries >= 5 {
			s.logger.Error("payment gateway retry failed", fields...)
		} else {
			s.logger.Warn("payment gateway retry failed", fields...)
		}
		return true
	}))
}

func (s *Simulator) startMemoryLeak() {
	s.logger.Info("memory leak started",
		zap.Int("block_bytes", s.cfg.LeakBlockBytes),
		zap.Int64("heap_limit_bytes", s.cfg.HeapLimitBytes),
	)

	s.tasks = append(s.tasks, Every(s.cfg.LeakTick, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.leakedBytes+int64(s.cfg.LeakBlockBytes) <= s.cfg.HeapLimitBytes {
			block := make([]byte, s.cfg.LeakBlockBytes)
			// Touch every page so the block is resident.
			for i := 0; i < len(block); i += 4096 {
				block[i] = 1
			}
			s.leaked = append(s.leaked, block)
			s.leakedBytes += int64(len(block))
		}

		pct := s.heapPercentLocked()
		fields := []zap.Field{
			zap.Int("leaked_blocks", len(s.leaked)),
			zap.Int64("leaked_bytes", s.leakedBytes),
			zap.Float64("heap_percent", pct),
		}

		level := 0
		for i, th := range leakThresholds {
			if pct >= th.percent {
				level = i + 1
			}
		}
		if level > s.latencyLevel {
			th := leakThresholds[level-1]
			s.latencyLevel = level
			s.state.setAddedLatency(th.latency)
			if ce := s.logger.Check(th.level, "heap pressure threshold crossed"); ce != nil {
				ce.Write(append(fields, zap.Duration("added_latency", th.latency))...)
			}
			return true
		}
		s.logger.Info("heap usage", fields...)
		return true
	}))
}

func (s *Simulator) heapPercentLocked() float64 {
	return 100 * float64(s.leakedBytes) / float64(s.cfg.HeapLimitBytes)
}

func (s *Simulator) startCascade() {
	s.advanceCascadeLocked()
	s.tasks = append(s.tasks, Every(s.cfg.CascadeInterval, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.advanceCascadeLocked()
	}))
}

// advanceCascadeLocked takes the next service down and reports whether
// another stage remains.
func (s *Simulator) advanceCascadeLocked() bool {
	if s.stage >= len(Services) {
		return false
	}
	s.stage++
	svc := Services[s.stage-1]
	s.state.setServiceDown(s.stage-1, true)

	fields := []zap.Field{
		zap.Int("stage", s.stage),
		zap.String("service", svc),
	}
	switch {
	case s.stage == len(Services):
		s.logger.Error("cascading failure complete: api gateway down", fields...)
	case s.stage >= 3:
		s.logger.Error("cascading failure spreading", fields...)
	default:
		s.logger.Warn("service degraded", fields...)
	}
	return s.stage < len(Services)
}

func (s *Simulator) startDataCorruption() {
	snap, err := corrupt(s.rng, s.records, s.cfg.CorruptRecords)
	if err != nil {
		if errors.Is(err, ErrNoRecords) {
			s.logger.Warn("data corruption skipped", zap.Error(err))
		} else {
			s.logger.Error("data corruption failed", zap.Error(err))
		}
		return
	}
	s.snapshot = snap
	s.state.setDataCorrupted(true)

	ids := make(map[string]bool)
	for _, f := range snap {
		ids[f.id] = true
	}
	s.logger.Error("records corrupted",
		zap.Int("records", len(ids)),
		zap.Int("fields", len(snap)),
	)
}
