package template

import (
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"tracewright/internal/core"
)

func userVars() core.Variables {
	v := core.NewVariables()
	v.Set("product_id", "7")
	v.Set("party", 4)
	v.Set("total", 23.5)
	return v
}

func TestSubstitute(t *testing.T) {
	t.Setenv("TRACEWRIGHT_TENANT", "bistro")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no placeholders", "/products", "/products"},
		{"empty", "", ""},
		{"variable", "/products/${product_id}", "/products/7"},
		{"several", "/orders?party=${party}&total=${total}", "/orders?party=4&total=23.5"},
		{"env", "/t/${env:TRACEWRIGHT_TENANT}/products/${product_id}", "/t/bistro/products/7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Substitute(tt.in, userVars())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestSubstitute_ReportsEveryMissingPlaceholder(t *testing.T) {
	_, err := Substitute("/${missing}/${env:TRACEWRIGHT_UNSET_VAR}/${product_id}", userVars())
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{`variable "missing" not found`, `env var "TRACEWRIGHT_UNSET_VAR" not set`} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %q", want, err)
		}
	}
}

func TestSubstitute_NilVariables(t *testing.T) {
	if _, err := Substitute("/products/${product_id}", nil); err == nil {
		t.Error("expected error without variables")
	}
}

func TestResolver_Deterministic(t *testing.T) {
	clock := core.NewFakeClock(time.Date(2026, 5, 30, 19, 0, 0, 0, time.UTC))
	resolve := func() string {
		r := Resolver{Vars: userVars(), Rand: rand.New(rand.NewPCG(9, 9)), Clock: clock}
		out, err := r.Substitute("/reservations?date=${date(+2)}&party=${random(1,8)}&type=${pick(dine_in|takeout|delivery)}&ref=${random_string(6)}")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return out
	}

	first := resolve()
	if second := resolve(); first != second {
		t.Errorf("same seed resolved differently: %q vs %q", first, second)
	}
	if !strings.HasPrefix(first, "/reservations?date=2026-06-01&party=") {
		t.Errorf("unexpected date expansion: %q", first)
	}
}

func TestResolver_FunctionsWinOverVariables(t *testing.T) {
	vars := core.NewVariables()
	vars.Set("uuid()", "shadowed")
	got, err := Resolver{Vars: vars}.Substitute("${uuid()}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == "shadowed" || len(got) != 36 {
		t.Errorf("expected a generated uuid, got %q", got)
	}
}

func BenchmarkSubstitute(b *testing.B) {
	vars := userVars()
	for i := 0; i < b.N; i++ {
		Substitute("/products/${product_id}?party=${party}", vars)
	}
}
