package template

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"testing"
	"time"

	"tracewright/internal/core"
)

func testResolver() Resolver {
	return Resolver{
		Rand:  rand.New(rand.NewPCG(1, 2)),
		Clock: core.NewFakeClock(time.Date(2026, 2, 27, 12, 0, 0, 0, time.UTC)),
	}
}

func TestFunctions(t *testing.T) {
	tests := []struct {
		expr  string
		check func(string) bool
	}{
		{"uuid()", func(s string) bool { return len(s) == 36 && strings.Count(s, "-") == 4 }},
		{"timestamp()", func(s string) bool { return s == strconv.FormatInt(time.Date(2026, 2, 27, 12, 0, 0, 0, time.UTC).Unix(), 10) }},
		{"random(5,5)", func(s string) bool { return s == "5" }},
		{"random( 1 , 3 )", func(s string) bool { n, err := strconv.Atoi(s); return err == nil && n >= 1 && n <= 3 }},
		{"random_string(12)", func(s string) bool { return len(s) == 12 }},
		{"pick(takeout)", func(s string) bool { return s == "takeout" }},
		{"pick(dine_in | delivery)", func(s string) bool { return s == "dine_in" || s == "delivery" }},
		{"date()", func(s string) bool { return s == "2026-02-27" }},
		{"date(+2)", func(s string) bool { return s == "2026-03-01" }},
		{"date(-1, Jan 2)", func(s string) bool { return s == "Feb 26" }},
	}
	r := testResolver()
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, ok, err := r.call(tt.expr)
			if !ok {
				t.Fatal("expected a known function")
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.check(got) {
				t.Errorf("unexpected result %q", got)
			}
		})
	}
}

func TestFunctions_InvalidArgs(t *testing.T) {
	r := testResolver()
	for _, expr := range []string{
		"uuid(1)",
		"timestamp(now)",
		"random(1)",
		"random(a,2)",
		"random(1,b)",
		"random(9,1)",
		"random_string(0)",
		"random_string(x)",
		"random_string(1001)",
		"pick()",
		"date(soon)",
	} {
		t.Run(expr, func(t *testing.T) {
			_, ok, err := r.call(expr)
			if !ok {
				t.Fatal("expected a known function")
			}
			if err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestFunctions_NotACall(t *testing.T) {
	r := testResolver()
	for _, expr := range []string{"product_id", "unknown(1)", "uuid(", "env:HOME"} {
		if _, ok, _ := r.call(expr); ok {
			t.Errorf("%q should not be treated as a function call", expr)
		}
	}
}

func TestSubstitute_FunctionError(t *testing.T) {
	_, err := testResolver().Substitute("/orders/${random(3,1)}")
	if err == nil || !strings.Contains(err.Error(), "random()") {
		t.Errorf("expected random() error, got %v", err)
	}
}
