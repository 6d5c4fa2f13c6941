package fakedata

import (
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerator_Deterministic(t *testing.T) {
	a := New(7).Customer()
	b := New(7).Customer()
	assert.Equal(t, a, b)

	c := New(8).Customer()
	assert.NotEqual(t, a, c)
}

func TestGenerator_CustomerUsesTestCards(t *testing.T) {
	pool := make(map[string]bool)
	for _, c := range testCards {
		pool[c.Value.Number] = true
	}

	g := New(1)
	for i := 0; i < 200; i++ {
		c := g.Customer()
		require.True(t, pool[c.Payment.Number], "card %s not a test card", c.Payment.Number)
		assert.NotEmpty(t, c.Email)
		assert.NotEmpty(t, c.FirstName)
		assert.Regexp(t, `^\d{2}/\d{2}$`, c.Payment.Expiry)
		if c.Payment.Brand == "amex" {
			assert.Len(t, c.Payment.CVV, 4)
		}
	}
}

func TestGenerator_NetworkWithinProfile(t *testing.T) {
	g := New(3)
	for i := 0; i < 100; i++ {
		n := g.Network("")
		p, ok := connectionProfiles[n.ConnectionType]
		require.True(t, ok)
		phases := []time.Duration{n.DNS, n.Connect, n.TLS, n.Request, n.Response}
		for j, d := range phases {
			assert.GreaterOrEqual(t, d, time.Duration(p[j][0])*time.Millisecond)
			assert.LessOrEqual(t, d, time.Duration(p[j][1])*time.Millisecond)
		}
		assert.Equal(t, n.DNS+n.Connect+n.TLS+n.Request+n.Response, n.Total())
	}

	assert.Equal(t, "3g", g.Network("3g").ConnectionType)
}

func TestGenerator_Party(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	g := New(5)
	for i := 0; i < 100; i++ {
		p := g.Party(now)
		d, err := time.Parse("2006-01-02", p.Date)
		require.NoError(t, err)
		assert.True(t, d.After(now))
		assert.True(t, d.Before(now.AddDate(0, 0, 32)))
		assert.GreaterOrEqual(t, p.PartySize, 1)
		assert.LessOrEqual(t, p.PartySize, 8)
		assert.Contains(t, timeSlots, p.Time)
	}
}

func TestGenerator_Browser(t *testing.T) {
	b := New(9).Browser()
	assert.NotEmpty(t, b.UserAgent)
	assert.Greater(t, b.ViewportH, 0)
	assert.LessOrEqual(t, b.ViewportW, b.ScreenWidth)
}

func TestGenerator_Sentence(t *testing.T) {
	s := New(2).Sentence(4)
	assert.True(t, strings.HasSuffix(s, "."))
	assert.Len(t, strings.Fields(s), 4)
}

func TestPick_RespectsWeights(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	options := []Weighted[string]{{"a", 1}, {"b", 0}, {"c", 3}}
	counts := map[string]int{}
	for i := 0; i < 40000; i++ {
		counts[Pick(rng, options)]++
	}
	assert.Zero(t, counts["b"])
	assert.InDelta(t, 0.25, float64(counts["a"])/40000, 0.02)
	assert.InDelta(t, 0.75, float64(counts["c"])/40000, 0.02)
}

func TestPick_Empty(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	assert.Equal(t, "", Pick[string](rng, nil))
	assert.Equal(t, "x", Pick(rng, []Weighted[string]{{"x", 0}, {"y", 0}}))
}

func TestBetweenAndJitter(t *testing.T) {
	rng := rand.New(rand.NewPCG(4, 4))
	for i := 0; i < 1000; i++ {
		d := Between(rng, 10*time.Millisecond, 20*time.Millisecond)
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.LessOrEqual(t, d, 20*time.Millisecond)

		j := Jitter(rng, 100*time.Millisecond, 0.2)
		assert.GreaterOrEqual(t, j, 80*time.Millisecond)
		assert.LessOrEqual(t, j, 120*time.Millisecond)
	}
	assert.Equal(t, 5*time.Millisecond, Between(rng, 5*time.Millisecond, 5*time.Millisecond))
}
