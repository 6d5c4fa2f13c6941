// Package journey holds the catalog of weighted user journeys and the
// helpers that choose a journey, decide whether a step runs, and compute
// think time between steps.
package journey

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// Action is what a step makes the virtual user do.
type Action string

const (
	Navigate        Action = "navigate"
	Browse          Action = "browse"
	AddToCart       Action = "add_to_cart"
	RemoveFromCart  Action = "remove_from_cart"
	Checkout        Action = "checkout"
	ViewDetails     Action = "view_details"
	MakeReservation Action = "make_reservation"
)

var knownActions = map[Action]bool{
	Navigate: true, Browse: true, AddToCart: true, RemoveFromCart: true,
	Checkout: true, ViewDetails: true, MakeReservation: true,
}

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	return knownActions[a]
}

const (
	// DefaultThinkTime is used when a step has no duration range.
	DefaultThinkTime = 3000 * time.Millisecond

	// Reading/decision delay inflates every think time by a factor in this range.
	minThinkFactor = 1.10
	maxThinkFactor = 1.30
)

// ErrNoJourneys is returned when selecting from an empty or all-zero catalog.
var ErrNoJourneys = errors.New("no selectable journeys")

// Range bounds a think time.
type Range struct {
	Min time.Duration `yaml:"min" json:"min"`
	Max time.Duration `yaml:"max" json:"max"`
}

// Step is one action within a journey.
type Step struct {
	Action      Action   `yaml:"action" json:"action"`
	Target      string   `yaml:"target,omitempty" json:"target,omitempty"`
	Probability *float64 `yaml:"probability,omitempty" json:"probability,omitempty"`
	Duration    *Range   `yaml:"duration,omitempty" json:"duration,omitempty"`
}

// Journey is an immutable, weighted template of ordered steps.
type Journey struct {
	Name   string  `yaml:"name" json:"name"`
	Weight float64 `yaml:"weight" json:"weight"`
	Steps  []Step  `yaml:"steps" json:"steps"`
}

// Validate checks the journey's weight and every step.
func (j Journey) Validate() error {
	var errs []error
	if j.Name == "" {
		errs = append(errs, errors.New("journey name is required"))
	}
	if j.Weight < 0 {
		errs = append(errs, fmt.Errorf("journey %q: weight must be >= 0", j.Name))
	}
	if len(j.Steps) == 0 {
		errs = append(errs, fmt.Errorf("journey %q: at least one step is required", j.Name))
	}
	for i, s := range j.Steps {
		if !s.Action.Valid() {
			errs = append(errs, fmt.Errorf("journey %q step %d: unknown action %q", j.Name, i, s.Action))
		}
		if s.Probability != nil && (*s.Probability < 0 || *s.Probability > 1) {
			errs = append(errs, fmt.Errorf("journey %q step %d: probability must be in [0,1]", j.Name, i))
		}
		if s.Duration != nil && (s.Duration.Min < 0 || s.Duration.Max < s.Duration.Min) {
			errs = append(errs, fmt.Errorf("journey %q step %d: duration requires 0 <= min <= max", j.Name, i))
		}
	}
	return errors.Join(errs...)
}

// SelectWeighted draws a journey with probability proportional to its weight.
func SelectWeighted(rng *rand.Rand, journeys []Journey) (Journey, error) {
	total := 0.0
	for _, j := range journeys {
		if j.Weight > 0 {
			total += j.Weight
		}
	}
	if total <= 0 {
		return Journey{}, ErrNoJourneys
	}

	r := rng.Float64() * total
	for _, j := range journeys {
		if j.Weight <= 0 {
			continue
		}
		r -= j.Weight
		if r <= 0 {
			return j, nil
		}
	}
	// Float rounding only.
	return journeys[0], nil
}

// ShouldExecute reports whether step runs on this pass. Steps without a
// probability always run.
func ShouldExecute(rng *rand.Rand, step Step) bool {
	if step.Probability == nil {
		return true
	}
	return rng.Float64() < *step.Probability
}

// ThinkTime returns the pause after step: a uniform draw from its duration
// range (DefaultThinkTime when unset) scaled by a factor in [1.10, 1.30].
func ThinkTime(rng *rand.Rand, step Step) time.Duration {
	base := DefaultThinkTime
	if step.Duration != nil {
		minMs := step.Duration.Min.Milliseconds()
		maxMs := step.Duration.Max.Milliseconds()
		base = time.Duration(minMs) * time.Millisecond
		if maxMs > minMs {
			base = time.Duration(minMs+rng.Int64N(maxMs-minMs+1)) * time.Millisecond
		}
	}
	factor := minThinkFactor + rng.Float64()*(maxThinkFactor-minThinkFactor)
	return time.Duration(float64(base) * factor)
}

// Prob is a convenience for building steps in code.
func Prob(p float64) *float64 {
	return &p
}

// Between is a convenience for building step duration ranges.
func Between(min, max time.Duration) *Range {
	return &Range{Min: min, Max: max}
}
