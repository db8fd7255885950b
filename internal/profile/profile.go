// Package profile maintains per-user rolling aggregates: running amount
// statistics, known countries and devices, trailing activity windows, and
// the hour-of-day histogram feature extraction reads from.
//
// Profiles are updated after scoring, never during it, so every score is
// computed on the history available before the event arrived. Same-user
// updates are serialized by the stores; different users never contend.
package profile

import (
	"math"
	"time"

	"github.com/atlasrisk/atlas/internal/risk"
)

// Population priors applied to unseen users and to degraded scoring when
// the store is unreachable.
const (
	DefaultAvgAmount = 100.0
	DefaultStdAmount = 50.0
	DefaultAvgPerDay = 2.0
)

// retentionWindow bounds the per-user recent event list. Velocity features
// never look further back than 24h, so older stamps are dropped on update.
const retentionWindow = 24 * time.Hour

// Stamp is one retained observation inside the trailing window.
type Stamp struct {
	At     time.Time `json:"at"`
	Amount float64   `json:"amount"`
}

// UserProfile is the rolling aggregate state for one user. All fields are
// derived incrementally; nothing is recomputed from raw history.
type UserProfile struct {
	UserID         string               `json:"user_id"`
	TotalEvents    int64                `json:"total_events"`
	AvgAmount      float64              `json:"avg_amount"`
	StdAmount      float64              `json:"std_amount"`
	AvgPerDay      float64              `json:"avg_per_day"`
	Countries      map[string]bool      `json:"countries"`
	Devices        map[string]time.Time `json:"devices"` // fingerprint → first seen
	TypicalHours   [24]int              `json:"typical_hours"`
	LastLocation   *risk.Location       `json:"last_location,omitempty"`
	FirstEventAt   time.Time            `json:"first_event_at"`
	LastEventAt    time.Time            `json:"last_event_at"`
	FraudIncidents int                  `json:"fraud_incidents"`
	Recent         []Stamp              `json:"recent"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

// NewDefault returns the population-default profile. Used both for users
// with no history and as the degraded-mode stand-in when the store is down.
// The amount stats act as a prior that real observations displace.
func NewDefault(userID string) *UserProfile {
	p := &UserProfile{
		UserID:    userID,
		AvgAmount: DefaultAvgAmount,
		StdAmount: DefaultStdAmount,
		AvgPerDay: DefaultAvgPerDay,
		Countries: map[string]bool{"US": true},
		Devices:   make(map[string]time.Time),
	}
	// Business hours count as typical until real history says otherwise.
	for h := 8; h <= 21; h++ {
		p.TypicalHours[h] = 1
	}
	return p
}

// Apply folds one event into the rolling aggregates. The caller must hold
// the user's write lock; Apply itself does no synchronization.
func (p *UserProfile) Apply(ev *risk.Event) {
	amount := ev.Amount.InexactFloat64()
	at := ev.Timestamp

	n := p.TotalEvents + 1
	oldAvg := p.AvgAmount
	newAvg := oldAvg + (amount-oldAvg)/float64(n)
	if n >= 2 {
		// Welford in std form: keeps only the stddev between updates.
		variance := p.StdAmount * p.StdAmount
		variance = (variance*float64(n-2) + (amount-oldAvg)*(amount-newAvg)) / float64(n-1)
		if variance < 0 {
			variance = 0
		}
		p.StdAmount = math.Sqrt(variance)
	}
	p.AvgAmount = newAvg
	p.TotalEvents = n

	if p.FirstEventAt.IsZero() || at.Before(p.FirstEventAt) {
		p.FirstEventAt = at
	}
	if at.After(p.LastEventAt) {
		p.LastEventAt = at
	}
	days := at.Sub(p.FirstEventAt).Hours() / 24
	if days < 1 {
		days = 1
	}
	p.AvgPerDay = float64(n) / days

	if ev.Location != nil && ev.Location.Country != "" {
		if p.Countries == nil {
			p.Countries = make(map[string]bool)
		}
		p.Countries[ev.Location.Country] = true
		loc := *ev.Location
		p.LastLocation = &loc
	}
	if ev.Device != nil && ev.Device.Fingerprint != "" {
		if p.Devices == nil {
			p.Devices = make(map[string]time.Time)
		}
		if _, seen := p.Devices[ev.Device.Fingerprint]; !seen {
			p.Devices[ev.Device.Fingerprint] = at
		}
	}
	if h := at.Hour(); h >= 0 && h < 24 {
		p.TypicalHours[h]++
	}

	p.Recent = append(p.Recent, Stamp{At: at, Amount: amount})
	p.trimRecent(at)
	p.UpdatedAt = time.Now()
}

// trimRecent drops stamps older than the retention window. Stamps are
// appended in arrival order, so a single forward scan suffices.
func (p *UserProfile) trimRecent(now time.Time) {
	cutoff := now.Add(-retentionWindow)
	i := 0
	for i < len(p.Recent) && p.Recent[i].At.Before(cutoff) {
		i++
	}
	if i > 0 {
		p.Recent = append(p.Recent[:0], p.Recent[i:]...)
	}
}

// Window reports the count and amount sum of retained events within d
// before now.
func (p *UserProfile) Window(now time.Time, d time.Duration) (count int, sum float64) {
	cutoff := now.Add(-d)
	for _, s := range p.Recent {
		if !s.At.Before(cutoff) && !s.At.After(now) {
			count++
			sum += s.Amount
		}
	}
	return count, sum
}

// IsTypicalHour reports whether the user has ever transacted in this hour.
func (p *UserProfile) IsTypicalHour(hour int) bool {
	if hour < 0 || hour > 23 {
		return false
	}
	return p.TypicalHours[hour] > 0
}

// Clone returns a deep copy safe to read after the store releases the
// user's lock.
func (p *UserProfile) Clone() *UserProfile {
	cp := *p
	cp.Countries = make(map[string]bool, len(p.Countries))
	for k, v := range p.Countries {
		cp.Countries[k] = v
	}
	cp.Devices = make(map[string]time.Time, len(p.Devices))
	for k, v := range p.Devices {
		cp.Devices[k] = v
	}
	if p.LastLocation != nil {
		loc := *p.LastLocation
		cp.LastLocation = &loc
	}
	cp.Recent = make([]Stamp, len(p.Recent))
	copy(cp.Recent, p.Recent)
	return &cp
}
