package template

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type function func(r Resolver, args string) (string, error)

var functions = map[string]function{
	"uuid":          fnUUID,
	"timestamp":     fnTimestamp,
	"random":        fnRandom,
	"random_string": fnRandomString,
	"pick":          fnPick,
	"date":          fnDate,
}

// call evaluates expr as name(args). ok is false when expr is not a call
// to a known function.
func (r Resolver) call(expr string) (val string, ok bool, err error) {
	open := strings.IndexByte(expr, '(')
	if open < 0 || !strings.HasSuffix(expr, ")") {
		return "", false, nil
	}
	name, args := expr[:open], strings.TrimSpace(expr[open+1:len(expr)-1])
	fn, ok := functions[name]
	if !ok {
		return "", false, nil
	}
	if val, err = fn(r, args); err != nil {
		return "", true, fmt.Errorf("%s(): %w", name, err)
	}
	return val, true, nil
}

var errNoArgs = errors.New("takes no arguments")

func fnUUID(_ Resolver, args string) (string, error) {
	if args != "" {
		return "", errNoArgs
	}
	return uuid.NewString(), nil
}

func fnTimestamp(r Resolver, args string) (string, error) {
	if args != "" {
		return "", errNoArgs
	}
	return strconv.FormatInt(r.clock().Now().Unix(), 10), nil
}

// fnRandom returns an integer in [lo, hi]: random(1,8).
func fnRandom(r Resolver, args string) (string, error) {
	lo, hi, found := strings.Cut(args, ",")
	if !found {
		return "", errors.New("usage: random(min,max)")
	}
	min, err := strconv.ParseInt(strings.TrimSpace(lo), 10, 64)
	if err != nil {
		return "", fmt.Errorf("min: %w", err)
	}
	max, err := strconv.ParseInt(strings.TrimSpace(hi), 10, 64)
	if err != nil {
		return "", fmt.Errorf("max: %w", err)
	}
	if min > max {
		return "", fmt.Errorf("min (%d) must be <= max (%d)", min, max)
	}
	return strconv.FormatInt(min+r.rng().Int64N(max-min+1), 10), nil
}

const alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// fnRandomString returns n alphanumeric characters: random_string(8).
func fnRandomString(r Resolver, args string) (string, error) {
	n, err := strconv.Atoi(args)
	if err != nil {
		return "", fmt.Errorf("length: %w", err)
	}
	if n <= 0 || n > 1000 {
		return "", errors.New("length must be in [1,1000]")
	}
	rng := r.rng()
	b := make([]byte, n)
	for i := range b {
		b[i] = alphanumeric[rng.IntN(len(alphanumeric))]
	}
	return string(b), nil
}

// fnPick returns one of its |-separated options: pick(dine_in|takeout).
func fnPick(r Resolver, args string) (string, error) {
	if args == "" {
		return "", errors.New("usage: pick(a|b|...)")
	}
	opts := strings.Split(args, "|")
	return strings.TrimSpace(opts[r.rng().IntN(len(opts))]), nil
}

// fnDate formats today shifted by a day offset: date(), date(+3),
// date(-1,Jan 2).
func fnDate(r Resolver, args string) (string, error) {
	offset, layout, _ := strings.Cut(args, ",")
	layout = strings.TrimSpace(layout)
	if layout == "" {
		layout = time.DateOnly
	}
	days := 0
	if offset = strings.TrimSpace(offset); offset != "" {
		var err error
		if days, err = strconv.Atoi(offset); err != nil {
			return "", fmt.Errorf("day offset: %w", err)
		}
	}
	return r.clock().Now().AddDate(0, 0, days).Format(layout), nil
}
