package fakedata

import (
	"math/rand/v2"
	"time"
)

// Weighted pairs a value with its relative selection weight.
type Weighted[T any] struct {
	Value  T
	Weight float64
}

// Pick returns a weighted random choice from options. It returns the zero
// value when options is empty and falls back to the last option when float
// rounding leaves no selection.
func Pick[T any](rng *rand.Rand, options []Weighted[T]) T {
	var zero T
	if len(options) == 0 {
		return zero
	}
	total := 0.0
	for _, o := range options {
		if o.Weight > 0 {
			total += o.Weight
		}
	}
	if total <= 0 {
		return options[0].Value
	}
	r := rng.Float64() * total
	for _, o := range options {
		if o.Weight <= 0 {
			continue
		}
		r -= o.Weight
		if r <= 0 {
			return o.Value
		}
	}
	return options[len(options)-1].Value
}

// Between returns a uniform duration in [min, max].
func Between(rng *rand.Rand, min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rng.Int64N(int64(max-min)+1))
}

// Jitter returns base scaled by a uniform factor in [1-fraction, 1+fraction].
func Jitter(rng *rand.Rand, base time.Duration, fraction float64) time.Duration {
	if fraction <= 0 || base <= 0 {
		return base
	}
	factor := 1 - fraction + rng.Float64()*2*fraction
	return time.Duration(float64(base) * factor)
}
