// Package pattern detects coordinated fraud across transactions: device and
// merchant rings, per-user velocity bursts, impossible travel, and merchant
// categories under attack. The detector is fed one scored event at a time
// and checks each arrival against a bounded sliding window of recent
// observations, so detection keeps up with the stream instead of re-scanning
// history.
package pattern

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/atlasrisk/atlas/internal/features"
	"github.com/atlasrisk/atlas/internal/idgen"
	"github.com/atlasrisk/atlas/internal/metrics"
	"github.com/atlasrisk/atlas/internal/risk"
)

// Type names a detected pattern family.
type Type string

const (
	TypeDeviceRing       Type = "device_ring"
	TypeMerchantRing     Type = "merchant_ring"
	TypeVelocityBurst    Type = "velocity_burst"
	TypeImpossibleTravel Type = "impossible_travel"
	TypeMerchantCluster  Type = "merchant_cluster"
)

// Detection thresholds. A transaction counts as high-risk at or above
// highRiskScore; ring and cluster rules only consider those.
const (
	highRiskScore = 60

	deviceRingMinUsers = 3
	deviceRingMinTxns  = 3

	merchantRingMinUsers = 5
	merchantRingMinTxns  = 5

	burstWindowTxns  = 5
	burstWindow      = time.Hour
	burstMinHighRisk = 3

	travelMinDistanceKM = 1000
	travelMaxGap        = 2 * time.Hour

	clusterMinTxns  = 10
	clusterMinUsers = 3
)

// Window and history bounds.
const (
	maxObservations  = 1000
	observationTTL   = 24 * time.Hour
	historyCap       = 500
	defaultListLimit = 100

	// refireCooldown is how long a fired pattern signature stays quiet
	// before the same ring or burst may be reported again. Measured in
	// event time so replays behave identically.
	refireCooldown = 30 * time.Minute
)

// Pattern is one detected cross-transaction finding.
type Pattern struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	Description string    `json:"description"`
	Confidence  float64   `json:"confidence"`
	EventIDs    []string  `json:"event_ids"`
	UserIDs     []string  `json:"user_ids"`
	DetectedAt  time.Time `json:"detected_at"`
}

// observation is the per-event slice of state the detector keeps.
type observation struct {
	eventID     string
	userID      string
	fingerprint string
	merchant    string
	category    string
	riskScore   int
	lat, lon    float64
	hasCoords   bool
	at          time.Time
}

func (o *observation) highRisk() bool { return o.riskScore >= highRiskScore }

// Detector watches scored events for coordinated fraud. All state is in
// memory: patterns are ephemeral detections, and the alerts raised from
// them carry the durable record.
type Detector struct {
	mu         sync.Mutex
	window     []observation
	history    []*Pattern
	lastFired  map[string]time.Time
	historyCap int
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Detector.
type Option func(*Detector)

// WithLogger sets the detector's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Detector) { d.logger = logger }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// NewDetector creates an empty pattern detector.
func NewDetector(opts ...Option) *Detector {
	d := &Detector{
		lastFired:  make(map[string]time.Time),
		historyCap: historyCap,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Observe feeds one scored event into the window and returns any patterns
// the arrival completes. Window math runs on event time, not wall time.
func (d *Detector) Observe(ev *risk.Event, a *risk.Assessment) []*Pattern {
	if ev == nil || a == nil {
		return nil
	}

	o := observation{
		eventID:   ev.ID,
		userID:    ev.UserID,
		merchant:  ev.Merchant,
		category:  ev.MerchantCategory,
		riskScore: a.RiskScore,
		at:        ev.Timestamp,
	}
	if ev.Device != nil {
		o.fingerprint = ev.Device.Fingerprint
	}
	if ev.Location.HasCoords() {
		o.lat, o.lon = ev.Location.Lat, ev.Location.Lon
		o.hasCoords = true
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.record(o)

	var found []*Pattern
	for _, check := range []func(observation) *Pattern{
		d.checkDeviceRing,
		d.checkMerchantRing,
		d.checkVelocityBurst,
		d.checkImpossibleTravel,
		d.checkMerchantCluster,
	} {
		if p := check(o); p != nil {
			found = append(found, p)
		}
	}

	for _, p := range found {
		d.remember(p)
		metrics.PatternsDetectedTotal.WithLabelValues(string(p.Type)).Inc()
		d.logger.Warn("fraud pattern detected",
			"pattern_id", p.ID,
			"type", string(p.Type),
			"confidence", p.Confidence,
			"users", len(p.UserIDs),
			"events", len(p.EventIDs),
		)
	}
	return found
}

// Get returns a detected pattern by ID.
func (d *Detector) Get(id string) (*Pattern, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.history {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// List returns detected patterns, newest first, optionally filtered by type.
func (d *Detector) List(typ Type, limit int) []*Pattern {
	d.mu.Lock()
	defer d.mu.Unlock()

	if limit <= 0 {
		limit = defaultListLimit
	}
	var result []*Pattern
	for i := len(d.history) - 1; i >= 0 && len(result) < limit; i-- {
		if typ != "" && d.history[i].Type != typ {
			continue
		}
		result = append(result, d.history[i])
	}
	return result
}

// Stats returns detection counts by pattern type.
func (d *Detector) Stats() map[Type]int {
	d.mu.Lock()
	defer d.mu.Unlock()

	stats := make(map[Type]int)
	for _, p := range d.history {
		stats[p.Type]++
	}
	return stats
}

// record appends the observation and trims the window by age and size.
func (d *Detector) record(o observation) {
	d.window = append(d.window, o)

	cutoff := o.at.Add(-observationTTL)
	start := 0
	for start < len(d.window) && d.window[start].at.Before(cutoff) {
		start++
	}
	if over := len(d.window) - start - maxObservations; over > 0 {
		start += over
	}
	if start > 0 {
		d.window = append([]observation(nil), d.window[start:]...)
	}

	for sig, at := range d.lastFired {
		if at.Before(cutoff) {
			delete(d.lastFired, sig)
		}
	}
}

func (d *Detector) remember(p *Pattern) {
	d.history = append(d.history, p)
	if len(d.history) > d.historyCap {
		d.history = d.history[len(d.history)-d.historyCap:]
	}
}

// fire records the signature cooldown and reports whether the pattern may
// be emitted now.
func (d *Detector) fire(sig string, at time.Time) bool {
	if last, ok := d.lastFired[sig]; ok && at.Sub(last) < refireCooldown {
		return false
	}
	d.lastFired[sig] = at
	return true
}

// checkDeviceRing looks for one device fingerprint shared by several users
// in high-risk transactions.
func (d *Detector) checkDeviceRing(o observation) *Pattern {
	if !o.highRisk() || o.fingerprint == "" {
		return nil
	}
	var events []string
	users := make(map[string]bool)
	for i := range d.window {
		w := &d.window[i]
		if w.fingerprint == o.fingerprint && w.highRisk() {
			events = append(events, w.eventID)
			users[w.userID] = true
		}
	}
	if len(users) < deviceRingMinUsers || len(events) < deviceRingMinTxns {
		return nil
	}
	if !d.fire("device:"+o.fingerprint, o.at) {
		return nil
	}
	return &Pattern{
		ID:   "ring_device_" + idgen.Hex(6),
		Type: TypeDeviceRing,
		Description: fmt.Sprintf("Fraud ring detected: %d users sharing device %s...",
			len(users), short(o.fingerprint, 8)),
		Confidence: math.Min(0.9, 0.5+float64(len(users)-deviceRingMinUsers)*0.1),
		EventIDs:   events,
		UserIDs:    sortedKeys(users),
		DetectedAt: d.now().UTC(),
	}
}

// checkMerchantRing looks for many users converging on one merchant with
// high-risk transactions.
func (d *Detector) checkMerchantRing(o observation) *Pattern {
	if !o.highRisk() || o.merchant == "" {
		return nil
	}
	var events []string
	users := make(map[string]bool)
	for i := range d.window {
		w := &d.window[i]
		if w.merchant == o.merchant && w.highRisk() {
			events = append(events, w.eventID)
			users[w.userID] = true
		}
	}
	if len(users) < merchantRingMinUsers || len(events) < merchantRingMinTxns {
		return nil
	}
	if !d.fire("merchant:"+o.merchant, o.at) {
		return nil
	}
	return &Pattern{
		ID:   "ring_merchant_" + idgen.Hex(6),
		Type: TypeMerchantRing,
		Description: fmt.Sprintf("Fraud ring detected: %d high-risk transactions from %d users at merchant %s",
			len(events), len(users), o.merchant),
		Confidence: math.Min(0.85, 0.4+float64(len(users)-merchantRingMinUsers)*0.05),
		EventIDs:   events,
		UserIDs:    sortedKeys(users),
		DetectedAt: d.now().UTC(),
	}
}

// checkVelocityBurst looks at the user's trailing transactions for a tight
// burst carrying several high-risk scores.
func (d *Detector) checkVelocityBurst(o observation) *Pattern {
	var mine []*observation
	for i := range d.window {
		if d.window[i].userID == o.userID {
			mine = append(mine, &d.window[i])
		}
	}
	if len(mine) < burstWindowTxns {
		return nil
	}
	sort.SliceStable(mine, func(i, j int) bool { return mine[i].at.Before(mine[j].at) })

	tail := mine[len(mine)-burstWindowTxns:]
	span := tail[len(tail)-1].at.Sub(tail[0].at)
	if span > burstWindow {
		return nil
	}
	high := 0
	var events []string
	for _, w := range tail {
		events = append(events, w.eventID)
		if w.highRisk() {
			high++
		}
	}
	if high < burstMinHighRisk {
		return nil
	}
	if !d.fire("velocity:"+o.userID, o.at) {
		return nil
	}
	return &Pattern{
		ID:   "velocity_" + idgen.Hex(6),
		Type: TypeVelocityBurst,
		Description: fmt.Sprintf("Velocity burst: %d transactions in %.0f minutes, %d high risk",
			burstWindowTxns, span.Minutes(), high),
		Confidence: 0.75,
		EventIDs:   events,
		UserIDs:    []string{o.userID},
		DetectedAt: d.now().UTC(),
	}
}

// checkImpossibleTravel compares the arrival against the user's previous
// located transaction.
func (d *Detector) checkImpossibleTravel(o observation) *Pattern {
	if !o.hasCoords {
		return nil
	}
	// The arrival itself sits at the end of the window; scan past it.
	var prev *observation
	for i := len(d.window) - 2; i >= 0; i-- {
		w := &d.window[i]
		if w.userID == o.userID && w.hasCoords {
			prev = w
			break
		}
	}
	if prev == nil {
		return nil
	}
	gap := o.at.Sub(prev.at)
	if gap <= 0 || gap >= travelMaxGap {
		return nil
	}
	km := features.HaversineKM(prev.lat, prev.lon, o.lat, o.lon)
	if km <= travelMinDistanceKM {
		return nil
	}
	if !d.fire("travel:"+o.userID, o.at) {
		return nil
	}
	return &Pattern{
		ID:          "location_" + idgen.Hex(6),
		Type:        TypeImpossibleTravel,
		Description: fmt.Sprintf("Impossible travel: %.0fkm in %.1fh", km, gap.Hours()),
		Confidence:  0.9,
		EventIDs:    []string{prev.eventID, o.eventID},
		UserIDs:     []string{o.userID},
		DetectedAt:  d.now().UTC(),
	}
}

// checkMerchantCluster looks for a merchant category drawing high-risk
// transactions from several users at once.
func (d *Detector) checkMerchantCluster(o observation) *Pattern {
	if !o.highRisk() || o.category == "" {
		return nil
	}
	var events []string
	users := make(map[string]bool)
	for i := range d.window {
		w := &d.window[i]
		if w.category == o.category && w.highRisk() {
			events = append(events, w.eventID)
			users[w.userID] = true
		}
	}
	if len(events) < clusterMinTxns || len(users) < clusterMinUsers {
		return nil
	}
	if !d.fire("cluster:"+o.category, o.at) {
		return nil
	}
	return &Pattern{
		ID:   "merchant_" + idgen.Hex(6),
		Type: TypeMerchantCluster,
		Description: fmt.Sprintf("High-risk cluster: %d transactions in category %s from %d users",
			len(events), o.category, len(users)),
		Confidence: 0.7,
		EventIDs:   events,
		UserIDs:    sortedKeys(users),
		DetectedAt: d.now().UTC(),
	}
}

func short(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
