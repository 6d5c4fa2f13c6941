// Package template resolves placeholders in journey step targets and pulls
// values out of collaborator JSON responses.
package template

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"regexp"
	"strings"

	"tracewright/internal/core"
)

// placeholder matches ${var}, ${env:VAR} and ${fn(args)}.
var placeholder = regexp.MustCompile(`\$\{([^}]+)\}`)

// Resolver expands placeholders for one virtual user. Functions draw from
// Rand and Clock so a seeded user resolves the same targets on every run.
type Resolver struct {
	Vars  core.Variables
	Rand  *rand.Rand
	Clock core.Clock
}

// Substitute resolves with process-wide randomness and the real clock.
func Substitute(text string, vars core.Variables) (string, error) {
	return Resolver{Vars: vars}.Substitute(text)
}

// Substitute replaces every placeholder in text. Function calls win over
// env: lookups, which win over the user's variables. Every unresolved
// placeholder is reported.
func (r Resolver) Substitute(text string) (string, error) {
	if !strings.Contains(text, "${") {
		return text, nil
	}

	var errs []error
	out := placeholder.ReplaceAllStringFunc(text, func(match string) string {
		val, err := r.resolve(match[2 : len(match)-1])
		if err != nil {
			errs = append(errs, err)
			return match
		}
		return val
	})
	if len(errs) > 0 {
		return "", errors.Join(errs...)
	}
	return out, nil
}

func (r Resolver) resolve(name string) (string, error) {
	if val, ok, err := r.call(name); ok {
		return val, err
	}
	if env, ok := strings.CutPrefix(name, "env:"); ok {
		if val, ok := os.LookupEnv(env); ok {
			return val, nil
		}
		return "", fmt.Errorf("env var %q not set", env)
	}
	if r.Vars != nil {
		if _, ok := r.Vars.Get(name); ok {
			return core.Lookup(r.Vars, name), nil
		}
	}
	return "", fmt.Errorf("variable %q not found", name)
}

func (r Resolver) rng() *rand.Rand {
	if r.Rand != nil {
		return r.Rand
	}
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

func (r Resolver) clock() core.Clock {
	if r.Clock != nil {
		return r.Clock
	}
	return core.RealClock{}
}
