package journey

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	QuickBuyer        = "Quick Buyer"
	CasualBrowser     = "Casual Browser"
	ReservationMaker  = "Reservation Maker"
	CartAbandoner     = "Cart Abandoner"
	DetailResearcher  = "Detail Researcher"
	ReturningCustomer = "Returning Customer"
)

// Catalog is an ordered list of journeys. Order matters for positional
// reweighting and for the selection fallback.
type Catalog []Journey

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// Default returns the built-in catalog. Callers get a fresh copy each time.
func Default() Catalog {
	return Catalog{
		{
			Name:   QuickBuyer,
			Weight: 30,
			Steps: []Step{
				{Action: Navigate, Target: "/", Duration: Between(ms(1000), ms(2000))},
				{Action: Navigate, Target: "/menu", Duration: Between(ms(1500), ms(3000))},
				{Action: Browse, Duration: Between(ms(2000), ms(4000))},
				{Action: AddToCart, Duration: Between(ms(800), ms(1500))},
				{Action: AddToCart, Probability: Prob(0.6), Duration: Between(ms(800), ms(1500))},
				{Action: Navigate, Target: "/checkout", Duration: Between(ms(1000), ms(2000))},
				{Action: Checkout, Duration: Between(ms(2000), ms(3500))},
			},
		},
		{
			Name:   CasualBrowser,
			Weight: 25,
			Steps: []Step{
				{Action: Navigate, Target: "/"},
				{Action: Navigate, Target: "/menu", Duration: Between(ms(2000), ms(5000))},
				{Action: Browse, Duration: Between(ms(3000), ms(8000))},
				{Action: ViewDetails, Target: "/products/${product_id}", Duration: Between(ms(2000), ms(6000))},
				{Action: Browse, Probability: Prob(0.7), Duration: Between(ms(3000), ms(6000))},
				{Action: ViewDetails, Target: "/products/${product_id}", Probability: Prob(0.5)},
				{Action: Navigate, Target: "/about", Probability: Prob(0.3)},
			},
		},
		{
			Name:   ReservationMaker,
			Weight: 15,
			Steps: []Step{
				{Action: Navigate, Target: "/", Duration: Between(ms(1000), ms(2500))},
				{Action: Navigate, Target: "/reservations", Duration: Between(ms(1500), ms(3000))},
				{Action: MakeReservation, Duration: Between(ms(2000), ms(4000))},
				{Action: Navigate, Target: "/", Probability: Prob(0.4)},
			},
		},
		{
			Name:   CartAbandoner,
			Weight: 15,
			Steps: []Step{
				{Action: Navigate, Target: "/"},
				{Action: Navigate, Target: "/menu", Duration: Between(ms(2000), ms(4000))},
				{Action: AddToCart, Duration: Between(ms(1000), ms(2000))},
				{Action: AddToCart, Probability: Prob(0.7), Duration: Between(ms(1000), ms(2000))},
				{Action: ViewDetails, Target: "/products/${product_id}", Probability: Prob(0.5)},
				{Action: RemoveFromCart, Probability: Prob(0.5), Duration: Between(ms(800), ms(1600))},
				{Action: Navigate, Target: "/checkout", Probability: Prob(0.6), Duration: Between(ms(4000), ms(9000))},
			},
		},
		{
			Name:   DetailResearcher,
			Weight: 10,
			Steps: []Step{
				{Action: Navigate, Target: "/menu", Duration: Between(ms(2000), ms(4000))},
				{Action: ViewDetails, Target: "/products/${product_id}", Duration: Between(ms(4000), ms(9000))},
				{Action: ViewDetails, Target: "/products/${product_id}", Duration: Between(ms(4000), ms(9000))},
				{Action: ViewDetails, Target: "/products/${product_id}", Probability: Prob(0.6), Duration: Between(ms(4000), ms(9000))},
				{Action: AddToCart, Probability: Prob(0.4)},
				{Action: Navigate, Target: "/checkout", Probability: Prob(0.3)},
				{Action: Checkout, Probability: Prob(0.3)},
			},
		},
		{
			Name:   ReturningCustomer,
			Weight: 5,
			Steps: []Step{
				{Action: Navigate, Target: "/", Duration: Between(ms(500), ms(1000))},
				{Action: Navigate, Target: "/menu", Duration: Between(ms(800), ms(1500))},
				{Action: AddToCart, Duration: Between(ms(500), ms(1000))},
				{Action: AddToCart, Duration: Between(ms(500), ms(1000))},
				{Action: Navigate, Target: "/checkout", Duration: Between(ms(800), ms(1500))},
				{Action: Checkout, Duration: Between(ms(1500), ms(3000))},
				{Action: Navigate, Target: "/reservations", Probability: Prob(0.3)},
				{Action: MakeReservation, Probability: Prob(0.3)},
			},
		},
	}
}

// Names returns journey names in catalog order.
func (c Catalog) Names() []string {
	names := make([]string, len(c))
	for i, j := range c {
		names[i] = j.Name
	}
	return names
}

// Find returns the journey named name.
func (c Catalog) Find(name string) (Journey, bool) {
	for _, j := range c {
		if j.Name == name {
			return j, true
		}
	}
	return Journey{}, false
}

// Validate checks every journey and that names are unique.
func (c Catalog) Validate() error {
	if len(c) == 0 {
		return ErrNoJourneys
	}
	var errs []error
	seen := make(map[string]bool, len(c))
	for _, j := range c {
		if err := j.Validate(); err != nil {
			errs = append(errs, err)
		}
		if seen[j.Name] {
			errs = append(errs, fmt.Errorf("duplicate journey %q", j.Name))
		}
		seen[j.Name] = true
	}
	return errors.Join(errs...)
}

// Reweight returns a copy of c with weights replaced positionally.
func (c Catalog) Reweight(weights []float64) (Catalog, error) {
	if len(weights) != len(c) {
		return nil, fmt.Errorf("got %d weights for %d journeys", len(weights), len(c))
	}
	out := make(Catalog, len(c))
	copy(out, c)
	for i, w := range weights {
		if w < 0 {
			return nil, fmt.Errorf("weight for %q must be >= 0", c[i].Name)
		}
		out[i].Weight = w
	}
	return out, nil
}

// WithMix returns a copy of c where journeys named in mix take the given
// weight and every other journey gets weight 0. An empty mix returns c unchanged.
func (c Catalog) WithMix(mix map[string]float64) (Catalog, error) {
	if len(mix) == 0 {
		return c, nil
	}
	out := make(Catalog, len(c))
	copy(out, c)
	for i := range out {
		out[i].Weight = 0
	}
	for name, w := range mix {
		if w < 0 {
			return nil, fmt.Errorf("weight for %q must be >= 0", name)
		}
		found := false
		for i := range out {
			if out[i].Name == name {
				out[i].Weight = w
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown journey %q", name)
		}
	}
	return out, nil
}

type catalogFile struct {
	Journeys Catalog `yaml:"journeys"`
}

// LoadFile reads a YAML journey catalog.
func LoadFile(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading journey catalog: %w", err)
	}

	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing journey catalog: %w", err)
	}
	if err := f.Journeys.Validate(); err != nil {
		return nil, fmt.Errorf("invalid journey catalog: %w", err)
	}
	return f.Journeys, nil
}
