// Package demo generates synthetic transactions for local development:
// mostly routine daytime traffic with a tunable share of fraud-shaped
// events (night hours, risky corridors, high-risk categories, burner
// devices). A fixed seed reproduces the same stream.
package demo

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlasrisk/atlas/internal/risk"
)

// Defaults matching the standard demo dataset.
const (
	DefaultEvents    = 200
	DefaultFraudRate = 0.05
	DefaultUserCount = 50
)

// backfillDays is how far into the past generated timestamps reach.
const backfillDays = 7

var (
	normalCountries  = []string{"US", "CA", "GB", "DE", "FR", "AU", "JP"}
	fraudCountries   = []string{"NG", "RU", "CN", "BR"}
	normalCategories = []string{"grocery", "restaurant", "retail", "electronics", "jewelry", "travel"}
	fraudCategories  = []string{"electronics", "jewelry", "cryptocurrency"}
	nightHours       = []int{0, 1, 2, 3, 4, 22, 23}
	deviceTypes      = []string{"desktop", "mobile"}
)

// Generator produces synthetic events from a seeded source. Not safe for
// concurrent use; give each goroutine its own generator.
type Generator struct {
	rng       *rand.Rand
	now       time.Time
	users     []string
	fraudRate float64
}

// Option configures a Generator.
type Option func(*Generator)

// WithFraudRate sets the share of fraud-shaped events, clamped to [0, 1].
func WithFraudRate(rate float64) Option {
	return func(g *Generator) { g.fraudRate = math.Min(1, math.Max(0, rate)) }
}

// WithUserCount sets how many synthetic users share the traffic.
func WithUserCount(n int) Option {
	return func(g *Generator) {
		if n < 1 {
			n = 1
		}
		g.users = userPool(n)
	}
}

// WithNow anchors the generated timestamps, for reproducible runs.
func WithNow(now time.Time) Option {
	return func(g *Generator) { g.now = now.UTC() }
}

// NewGenerator creates a generator. The same seed and options reproduce the
// same event stream.
func NewGenerator(seed int64, opts ...Option) *Generator {
	g := &Generator{
		rng:       rand.New(rand.NewSource(seed)),
		now:       time.Now().UTC(),
		users:     userPool(DefaultUserCount),
		fraudRate: DefaultFraudRate,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Events returns n synthetic events in chronological order, ready to replay
// through the scoring engine.
func (g *Generator) Events(n int) []*risk.Event {
	events := make([]*risk.Event, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, g.Next())
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events
}

// Next returns one synthetic event. Roughly fraudRate of them carry the
// fraud shape.
func (g *Generator) Next() *risk.Event {
	if g.rng.Float64() < g.fraudRate {
		return g.fraudEvent()
	}
	return g.normalEvent()
}

// normalEvent is routine daytime spending around a $100 basket.
func (g *Generator) normalEvent() *risk.Event {
	amount := math.Max(5, g.rng.NormFloat64()*50+100)
	hour := 8 + g.rng.Intn(14) // 08:00-21:59
	// Mostly the household's usual devices; the occasional new one.
	fingerprint := fmt.Sprintf("fp_%d", 1+g.rng.Intn(100))
	if g.rng.Float64() < 0.1 {
		fingerprint = fmt.Sprintf("fp_%d", 10000+g.rng.Intn(90000))
	}

	return g.event(amount, hour,
		pick(g.rng, normalCountries),
		pick(g.rng, normalCategories),
		fingerprint,
	)
}

// fraudEvent mixes the three shapes fraudsters show up with: a big-ticket
// grab, a suspiciously round amount, or a small probe.
func (g *Generator) fraudEvent() *risk.Event {
	var amount float64
	switch g.rng.Intn(3) {
	case 0:
		amount = 500 + g.rng.Float64()*4500
	case 1:
		amount = float64(1+g.rng.Intn(10)) * 100
	default:
		amount = 50 + g.rng.Float64()*150
	}
	hour := nightHours[g.rng.Intn(len(nightHours))]
	// Burner device: a fingerprint from a much wider range, almost never
	// seen before.
	fingerprint := fmt.Sprintf("fp_%d", 10000+g.rng.Intn(90000))
	if g.rng.Float64() >= 0.8 {
		fingerprint = fmt.Sprintf("fp_%d", 1+g.rng.Intn(100))
	}

	return g.event(amount, hour,
		pick(g.rng, fraudCountries),
		pick(g.rng, fraudCategories),
		fingerprint,
	)
}

func (g *Generator) event(amount float64, hour int, country, category, fingerprint string) *risk.Event {
	// At least a day back, so forcing the scenario hour below never lands
	// in the future.
	at := g.now.Add(
		-time.Duration(1+g.rng.Intn(backfillDays))*24*time.Hour -
			time.Duration(g.rng.Intn(24))*time.Hour -
			time.Duration(g.rng.Intn(60))*time.Minute,
	)
	at = time.Date(at.Year(), at.Month(), at.Day(), hour, at.Minute(), at.Second(), 0, time.UTC)

	return &risk.Event{
		ID:               fmt.Sprintf("txn_%012x", g.rng.Int63n(1<<48)),
		UserID:           pick(g.rng, g.users),
		Amount:           decimal.NewFromFloat(math.Round(amount*100) / 100),
		Currency:         "USD",
		Timestamp:        at,
		Merchant:         fmt.Sprintf("merch_%d", 1+g.rng.Intn(500)),
		MerchantCategory: category,
		Location: &risk.Location{
			Country: country,
			City:    fmt.Sprintf("City_%d", 1+g.rng.Intn(100)),
			Lat:     25 + g.rng.Float64()*30,
			Lon:     -120 + g.rng.Float64()*160,
		},
		Device: &risk.Device{
			Fingerprint: fingerprint,
			Type:        pick(g.rng, deviceTypes),
		},
	}
}

func userPool(n int) []string {
	users := make([]string, n)
	for i := range users {
		users[i] = fmt.Sprintf("user_%03d", i)
	}
	return users
}

func pick(rng *rand.Rand, options []string) string {
	return options[rng.Intn(len(options))]
}
