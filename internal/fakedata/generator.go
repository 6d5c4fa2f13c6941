// Package fakedata produces plausible synthetic customers, browsers, network
// timings and order/party attributes. A Generator is owned by one virtual
// user and is not safe for concurrent use.
package fakedata

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

// testCards are documented processor test numbers; they never authorize real charges.
var testCards = []Weighted[Card]{
	{Card{Brand: "visa", Number: "4111111111111111"}, 35},
	{Card{Brand: "visa", Number: "4242424242424242"}, 25},
	{Card{Brand: "mastercard", Number: "5555555555554444"}, 20},
	{Card{Brand: "mastercard", Number: "5105105105105100"}, 8},
	{Card{Brand: "amex", Number: "378282246310005"}, 8},
	{Card{Brand: "discover", Number: "6011111111111117"}, 4},
}

// Card is a synthetic payment instrument.
type Card struct {
	Brand  string `json:"brand"`
	Number string `json:"number"`
	Expiry string `json:"expiry"`
	CVV    string `json:"cvv"`
}

// Last4 returns the final four digits of the card number.
func (c Card) Last4() string {
	if len(c.Number) < 4 {
		return c.Number
	}
	return c.Number[len(c.Number)-4:]
}

type Address struct {
	Street string `json:"street"`
	City   string `json:"city"`
	State  string `json:"state"`
	Zip    string `json:"zip"`
}

// CustomerProfile is generated once per virtual user and never mutated.
type CustomerProfile struct {
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	Email     string  `json:"email"`
	Phone     string  `json:"phone"`
	Address   Address `json:"address"`
	Payment   Card    `json:"payment"`
}

func (c CustomerProfile) FullName() string {
	return c.FirstName + " " + c.LastName
}

type BrowserFingerprint struct {
	UserAgent    string `json:"userAgent"`
	Platform     string `json:"platform"`
	Language     string `json:"language"`
	Timezone     string `json:"timezone"`
	ScreenWidth  int    `json:"screenWidth"`
	ScreenHeight int    `json:"screenHeight"`
	ViewportW    int    `json:"viewportWidth"`
	ViewportH    int    `json:"viewportHeight"`
}

// NetworkTiming is one sample of the phases of an HTTP exchange.
type NetworkTiming struct {
	ConnectionType string        `json:"connectionType"`
	DNS            time.Duration `json:"dns"`
	Connect        time.Duration `json:"connect"`
	TLS            time.Duration `json:"tls"`
	Request        time.Duration `json:"request"`
	Response       time.Duration `json:"response"`
}

// Total is the sum of all phases.
func (n NetworkTiming) Total() time.Duration {
	return n.DNS + n.Connect + n.TLS + n.Request + n.Response
}

type OrderAttributes struct {
	OrderType    string `json:"orderType"`
	Instructions string `json:"instructions,omitempty"`
}

type PartyAttributes struct {
	Date           string `json:"date"`
	Time           string `json:"time"`
	PartySize      int    `json:"partySize"`
	SpecialRequest string `json:"specialRequest,omitempty"`
}

type screen struct{ w, h int }

var (
	platforms = []Weighted[string]{
		{"Windows", 45}, {"macOS", 25}, {"iOS", 15}, {"Android", 12}, {"Linux", 3},
	}
	screens = []Weighted[screen]{
		{screen{1920, 1080}, 35}, {screen{1366, 768}, 15}, {screen{1536, 864}, 10},
		{screen{2560, 1440}, 10}, {screen{390, 844}, 15}, {screen{414, 896}, 10}, {screen{1280, 720}, 5},
	}
	languages = []Weighted[string]{
		{"en-US", 60}, {"en-GB", 10}, {"es-ES", 10}, {"fr-FR", 7}, {"de-DE", 7}, {"pt-BR", 6},
	}
	connectionTypes = []Weighted[string]{
		{"wifi", 55}, {"4g", 25}, {"ethernet", 12}, {"3g", 8},
	}
	orderTypes = []Weighted[string]{
		{"dine_in", 40}, {"takeout", 35}, {"delivery", 25},
	}
	partySizes = []Weighted[int]{
		{1, 5}, {2, 35}, {3, 12}, {4, 25}, {5, 8}, {6, 9}, {7, 3}, {8, 3},
	}
	timeSlots = []string{
		"11:30", "12:00", "12:30", "13:00", "13:30", "17:30", "18:00", "18:30", "19:00", "19:30", "20:00", "20:30", "21:00",
	}
	specialRequests = []Weighted[string]{
		{"", 55}, {"Window seat please", 10}, {"Celebrating a birthday", 10}, {"High chair needed", 6},
		{"Gluten-free options", 8}, {"Quiet table if possible", 7}, {"Wheelchair accessible seating", 4},
	}
	instructions = []Weighted[string]{
		{"", 60}, {"No onions", 10}, {"Extra napkins", 8}, {"Leave at the door", 8}, {"Sauce on the side", 9}, {"Allergic to nuts", 5},
	}
)

// connectionProfiles holds [min,max] per phase in milliseconds.
var connectionProfiles = map[string][5][2]int{
	"ethernet": {{1, 10}, {2, 15}, {5, 20}, {1, 5}, {10, 60}},
	"wifi":     {{5, 30}, {10, 50}, {15, 60}, {2, 10}, {20, 150}},
	"4g":       {{20, 80}, {30, 120}, {40, 150}, {5, 25}, {50, 300}},
	"3g":       {{60, 200}, {100, 300}, {120, 400}, {20, 80}, {150, 800}},
}

// Generator produces synthetic entities from a seeded source.
type Generator struct {
	faker *gofakeit.Faker
	rng   *rand.Rand
}

// New returns a Generator whose output is fully determined by seed.
func New(seed uint64) *Generator {
	return &Generator{
		faker: gofakeit.New(seed),
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Rand exposes the generator's random source for callers that need
// correlated draws.
func (g *Generator) Rand() *rand.Rand {
	return g.rng
}

func (g *Generator) Customer() CustomerProfile {
	first := g.faker.FirstName()
	last := g.faker.LastName()
	card := Pick(g.rng, testCards)
	card.Expiry = g.faker.CreditCardExp()
	card.CVV = g.faker.CreditCardCvv()
	if card.Brand == "amex" && len(card.CVV) == 3 {
		card.CVV = fmt.Sprintf("%s%d", card.CVV, g.rng.IntN(10))
	}
	return CustomerProfile{
		FirstName: first,
		LastName:  last,
		Email:     g.faker.Email(),
		Phone:     g.faker.Phone(),
		Address: Address{
			Street: g.faker.Street(),
			City:   g.faker.City(),
			State:  g.faker.State(),
			Zip:    g.faker.Zip(),
		},
		Payment: card,
	}
}

func (g *Generator) Browser() BrowserFingerprint {
	s := Pick(g.rng, screens)
	// Browser chrome eats some of the screen.
	chromeH := 80 + g.rng.IntN(60)
	return BrowserFingerprint{
		UserAgent:    g.faker.UserAgent(),
		Platform:     Pick(g.rng, platforms),
		Language:     Pick(g.rng, languages),
		Timezone:     g.faker.TimeZoneRegion(),
		ScreenWidth:  s.w,
		ScreenHeight: s.h,
		ViewportW:    s.w - g.rng.IntN(20),
		ViewportH:    s.h - chromeH,
	}
}

// Network samples one set of phase timings. An empty connectionType draws
// one from the weighted population.
func (g *Generator) Network(connectionType string) NetworkTiming {
	if _, ok := connectionProfiles[connectionType]; !ok {
		connectionType = Pick(g.rng, connectionTypes)
	}
	p := connectionProfiles[connectionType]
	ms := func(i int) time.Duration {
		return time.Duration(p[i][0]+g.rng.IntN(p[i][1]-p[i][0]+1)) * time.Millisecond
	}
	return NetworkTiming{
		ConnectionType: connectionType,
		DNS:            ms(0),
		Connect:        ms(1),
		TLS:            ms(2),
		Request:        ms(3),
		Response:       ms(4),
	}
}

func (g *Generator) Order() OrderAttributes {
	return OrderAttributes{
		OrderType:    Pick(g.rng, orderTypes),
		Instructions: Pick(g.rng, instructions),
	}
}

// Party draws reservation attributes for a date within the next 30 days of now.
func (g *Generator) Party(now time.Time) PartyAttributes {
	day := now.AddDate(0, 0, 1+g.rng.IntN(30))
	return PartyAttributes{
		Date:           day.Format("2006-01-02"),
		Time:           timeSlots[g.rng.IntN(len(timeSlots))],
		PartySize:      Pick(g.rng, partySizes),
		SpecialRequest: Pick(g.rng, specialRequests),
	}
}

// Sentence returns filler text of roughly words words.
func (g *Generator) Sentence(words int) string {
	if words <= 0 {
		words = 1
	}
	parts := make([]string, words)
	for i := range parts {
		parts[i] = g.faker.Word()
	}
	if parts[0] != "" {
		parts[0] = strings.ToUpper(parts[0][:1]) + parts[0][1:]
	}
	return strings.Join(parts, " ") + "."
}
