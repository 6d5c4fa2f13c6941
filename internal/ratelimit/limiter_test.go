package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestNewRateLimiter_ZeroRate(t *testing.T) {
	rl := NewRateLimiter(0)

	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := rl.Wait(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 10*time.Millisecond {
		t.Errorf("zero rate should not block, took %v", elapsed)
	}
}

func TestRateLimiter_ZeroRateHonoursCancel(t *testing.T) {
	rl := NewRateLimiter(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := rl.Wait(ctx); err == nil {
		t.Error("expected context error")
	}
}

func TestRateLimiter_Paces(t *testing.T) {
	rl := NewRateLimiter(20)
	ctx := context.Background()

	// Drain the burst.
	for i := 0; i < 20; i++ {
		rl.Wait(ctx)
	}
	start := time.Now()
	for i := 0; i < 2; i++ {
		if err := rl.Wait(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Errorf("expected ~100ms for 2 spawns at 20/s, got %v", elapsed)
	}
}

func TestRateLimiter_WaitCancelled(t *testing.T) {
	rl := NewRateLimiter(1)
	rl.Wait(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); err == nil {
		t.Error("expected error when the deadline is shorter than the wait")
	}
}

func TestRateLimiter_SetRate(t *testing.T) {
	rl := NewRateLimiter(10)
	rl.SetRate(50)
	if rl.Rate() != 50 {
		t.Errorf("expected rate 50, got %d", rl.Rate())
	}
	rl.SetRate(0)
	if rl.Rate() != 0 {
		t.Errorf("expected rate 0, got %d", rl.Rate())
	}
}
