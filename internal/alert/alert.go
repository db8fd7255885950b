// Package alert turns high-risk assessments into reviewable alerts with a
// lifecycle: raised as active, then acknowledged, resolved, or dismissed by
// an operator. Only high and critical assessments produce alerts; everything
// below that threshold is ordinary traffic.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/atlasrisk/atlas/internal/idgen"
	"github.com/atlasrisk/atlas/internal/metrics"
	"github.com/atlasrisk/atlas/internal/risk"
	"github.com/shopspring/decimal"
)

// Severity grades an alert for triage ordering.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
)

// Status is the lifecycle state of an alert. Acknowledged alerts remain in
// the active queue; resolved and dismissed alerts leave it.
type Status string

const (
	StatusActive       Status = "active"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
	StatusDismissed    Status = "dismissed"
)

// Type names the dominant signal behind an alert.
type Type string

const (
	TypeAmountAnomaly       Type = "amount_anomaly"
	TypeVelocityAnomaly     Type = "velocity_anomaly"
	TypeLocationAnomaly     Type = "location_anomaly"
	TypeDeviceAnomaly       Type = "device_anomaly"
	TypeMultipleFlags       Type = "multiple_flags"
	TypeFraudPattern        Type = "fraud_pattern"
	TypeHighRiskTransaction Type = "high_risk_transaction"
)

// Scores at or above this map to high severity even below the critical band.
const highSeverityScore = 75

// An alert is typed multiple_flags when at least multipleFlagCount factors
// each moved the score by more than multipleFlagImpact points.
const (
	multipleFlagCount  = 3
	multipleFlagImpact = 10.0
)

// topFactorRefs is how many contributing factors an alert snapshots.
const topFactorRefs = 3

var (
	// ErrNotFound is returned when no alert exists with the given ID.
	ErrNotFound = errors.New("alert: not found")

	// ErrClosed is returned when a lifecycle transition targets an alert
	// that has already been resolved or dismissed.
	ErrClosed = errors.New("alert: already closed")
)

// FactorRef is a compact snapshot of one contributing factor, kept on the
// alert so triage doesn't need to re-fetch the full assessment.
type FactorRef struct {
	Feature     string  `json:"feature"`
	DisplayName string  `json:"display_name"`
	Impact      float64 `json:"impact"`
}

// Alert is one reviewable high-risk finding.
type Alert struct {
	ID               string          `json:"id"`
	EventID          string          `json:"event_id"`
	UserID           string          `json:"user_id"`
	Type             Type            `json:"type"`
	Severity         Severity        `json:"severity"`
	Status           Status          `json:"status"`
	Title            string          `json:"title"`
	Description      string          `json:"description"`
	RiskScore        int             `json:"risk_score"`
	RiskLevel        risk.Level      `json:"risk_level"`
	Amount           decimal.Decimal `json:"amount"`
	MerchantCategory string          `json:"merchant_category,omitempty"`
	Country          string          `json:"country,omitempty"`
	TopFactors       []FactorRef     `json:"top_factors,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	AcknowledgedAt   *time.Time      `json:"acknowledged_at,omitempty"`
	AcknowledgedBy   string          `json:"acknowledged_by,omitempty"`
	ClosedAt         *time.Time      `json:"closed_at,omitempty"`
	ClosedBy         string          `json:"closed_by,omitempty"`
	Resolution       string          `json:"resolution,omitempty"`
}

// Open reports whether the alert still needs operator attention.
func (a *Alert) Open() bool {
	return a.Status == StatusActive || a.Status == StatusAcknowledged
}

// clone returns a deep copy so stored alerts never alias caller memory.
func (a *Alert) clone() *Alert {
	cp := *a
	if a.TopFactors != nil {
		cp.TopFactors = make([]FactorRef, len(a.TopFactors))
		copy(cp.TopFactors, a.TopFactors)
	}
	if a.AcknowledgedAt != nil {
		t := *a.AcknowledgedAt
		cp.AcknowledgedAt = &t
	}
	if a.ClosedAt != nil {
		t := *a.ClosedAt
		cp.ClosedAt = &t
	}
	return &cp
}

// PatternAlert summarizes a detected cross-transaction pattern for alerting.
// UserID is empty when the pattern spans multiple users.
type PatternAlert struct {
	PatternID   string
	UserID      string
	EventID     string
	Description string
	Confidence  float64
}

// Manager raises alerts from assessments and drives their lifecycle.
type Manager struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates an alert manager on top of the given store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Raise creates an alert for a high or critical assessment. Assessments
// below the high band return (nil, nil): no alert is warranted and that is
// not an error.
func (m *Manager) Raise(ctx context.Context, ev *risk.Event, a *risk.Assessment) (*Alert, error) {
	if a == nil {
		return nil, nil
	}
	if a.RiskLevel != risk.LevelHigh && a.RiskLevel != risk.LevelCritical {
		return nil, nil
	}

	typ := classify(a)
	al := &Alert{
		ID:          "alert_" + idgen.Hex(6),
		EventID:     a.EventID,
		UserID:      a.UserID,
		Type:        typ,
		Severity:    severityFor(a),
		Status:      StatusActive,
		Title:       titleFor(typ, a.RiskLevel),
		Description: describe(ev, a),
		RiskScore:   a.RiskScore,
		RiskLevel:   a.RiskLevel,
		CreatedAt:   m.now().UTC(),
	}
	if ev != nil {
		al.Amount = ev.Amount
		al.MerchantCategory = ev.MerchantCategory
		if ev.Location != nil {
			al.Country = ev.Location.Country
		}
	}
	for i, f := range a.TopFactors {
		if i == topFactorRefs {
			break
		}
		al.TopFactors = append(al.TopFactors, FactorRef{
			Feature:     f.FeatureName,
			DisplayName: f.DisplayName,
			Impact:      f.Impact,
		})
	}

	if err := m.store.Create(ctx, al); err != nil {
		return nil, fmt.Errorf("failed to store alert: %w", err)
	}
	metrics.AlertsTotal.WithLabelValues(string(al.Severity)).Inc()
	m.logger.Info("alert raised",
		"alert_id", al.ID,
		"event_id", al.EventID,
		"user_id", al.UserID,
		"severity", string(al.Severity),
		"type", string(al.Type),
		"risk_score", al.RiskScore,
	)
	return al, nil
}

// RaisePattern creates a fraud_pattern alert for a detected cross-transaction
// pattern. Confidence maps to severity: 0.85+ critical, 0.70+ high, below
// that medium. The alert's score renders confidence on the 0-100 scale.
func (m *Manager) RaisePattern(ctx context.Context, p PatternAlert) (*Alert, error) {
	sev := SeverityMedium
	switch {
	case p.Confidence >= 0.85:
		sev = SeverityCritical
	case p.Confidence >= 0.70:
		sev = SeverityHigh
	}
	al := &Alert{
		ID:          "alert_" + idgen.Hex(6),
		EventID:     p.EventID,
		UserID:      p.UserID,
		Type:        TypeFraudPattern,
		Severity:    sev,
		Status:      StatusActive,
		Title:       "Fraud pattern detected",
		Description: fmt.Sprintf("%s Pattern %s, confidence %.0f%%.", p.Description, p.PatternID, p.Confidence*100),
		RiskScore:   int(math.Round(p.Confidence * 100)),
		RiskLevel:   risk.LevelHigh,
		CreatedAt:   m.now().UTC(),
	}
	if sev == SeverityCritical {
		al.RiskLevel = risk.LevelCritical
	}

	if err := m.store.Create(ctx, al); err != nil {
		return nil, fmt.Errorf("failed to store alert: %w", err)
	}
	metrics.AlertsTotal.WithLabelValues(string(sev)).Inc()
	m.logger.Info("pattern alert raised",
		"alert_id", al.ID,
		"pattern_id", p.PatternID,
		"severity", string(sev),
		"confidence", p.Confidence,
	)
	return al, nil
}

// Acknowledge marks an active alert as being worked by an operator. The
// alert stays in the active queue until resolved or dismissed.
func (m *Manager) Acknowledge(ctx context.Context, id, by string) (*Alert, error) {
	al, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if al.Status != StatusActive {
		return nil, ErrClosed
	}
	now := m.now().UTC()
	al.Status = StatusAcknowledged
	al.AcknowledgedAt = &now
	al.AcknowledgedBy = by
	if err := m.store.Update(ctx, al); err != nil {
		return nil, fmt.Errorf("failed to update alert: %w", err)
	}
	return al, nil
}

// Resolve closes an open alert with a resolution note.
func (m *Manager) Resolve(ctx context.Context, id, by, resolution string) (*Alert, error) {
	return m.close(ctx, id, by, resolution, StatusResolved)
}

// Dismiss closes an open alert as a false positive or non-issue.
func (m *Manager) Dismiss(ctx context.Context, id, by, reason string) (*Alert, error) {
	return m.close(ctx, id, by, reason, StatusDismissed)
}

func (m *Manager) close(ctx context.Context, id, by, note string, status Status) (*Alert, error) {
	al, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !al.Open() {
		return nil, ErrClosed
	}
	now := m.now().UTC()
	al.Status = status
	al.ClosedAt = &now
	al.ClosedBy = by
	al.Resolution = note
	if err := m.store.Update(ctx, al); err != nil {
		return nil, fmt.Errorf("failed to update alert: %w", err)
	}
	return al, nil
}

// Get returns one alert by ID, open or closed.
func (m *Manager) Get(ctx context.Context, id string) (*Alert, error) {
	return m.store.Get(ctx, id)
}

// ListActive returns open alerts, newest first.
func (m *Manager) ListActive(ctx context.Context, f Filter) ([]*Alert, error) {
	return m.store.ListActive(ctx, f)
}

// Stats returns alert counts for dashboards.
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	return m.store.Stats(ctx)
}

// severityFor grades an assessment. Critical band is critical severity; a
// score of highSeverityScore or above is high; the rest of the high band is
// medium.
func severityFor(a *risk.Assessment) Severity {
	switch {
	case a.RiskLevel == risk.LevelCritical:
		return SeverityCritical
	case a.RiskScore >= highSeverityScore:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

// classify picks the alert type from the attribution. Several strong factors
// mean multiple_flags; otherwise the top factor's name decides.
func classify(a *risk.Assessment) Type {
	if len(a.TopFactors) == 0 {
		return TypeHighRiskTransaction
	}
	strong := 0
	for _, f := range a.TopFactors {
		if math.Abs(f.Impact) > multipleFlagImpact {
			strong++
		}
	}
	if strong >= multipleFlagCount {
		return TypeMultipleFlags
	}

	name := a.TopFactors[0].FeatureName
	switch {
	case strings.Contains(name, "velocity") || strings.Contains(name, "txn_count"):
		return TypeVelocityAnomaly
	case strings.Contains(name, "location") || strings.Contains(name, "distance") || strings.Contains(name, "country"):
		return TypeLocationAnomaly
	case strings.Contains(name, "device"):
		return TypeDeviceAnomaly
	case strings.Contains(name, "amount"):
		return TypeAmountAnomaly
	default:
		return TypeHighRiskTransaction
	}
}

func titleFor(typ Type, level risk.Level) string {
	switch typ {
	case TypeAmountAnomaly:
		return "Unusual transaction amount"
	case TypeVelocityAnomaly:
		return "Transaction velocity anomaly"
	case TypeLocationAnomaly:
		return "Suspicious transaction location"
	case TypeDeviceAnomaly:
		return "Unrecognized device activity"
	case TypeMultipleFlags:
		return "Multiple risk indicators"
	case TypeFraudPattern:
		return "Fraud pattern detected"
	default:
		if level == risk.LevelCritical {
			return "Critical risk transaction"
		}
		return "High risk transaction"
	}
}

// describe builds the operator-facing summary line for an alert.
func describe(ev *risk.Event, a *risk.Assessment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Event %s scored %d/100 (%s risk).", a.EventID, a.RiskScore, strings.ToUpper(string(a.RiskLevel)))
	if len(a.TopFactors) > 0 {
		f := a.TopFactors[0]
		fmt.Fprintf(&b, " Primary concern: %s (impact %+.1f points).", f.DisplayName, f.Impact)
	}
	if ev != nil {
		merchant := ev.MerchantCategory
		if merchant == "" {
			merchant = "unknown"
		}
		country := "unknown"
		if ev.Location != nil && ev.Location.Country != "" {
			country = ev.Location.Country
		}
		fmt.Fprintf(&b, " Amount: $%s | User: %s | Merchant: %s | Location: %s.",
			ev.Amount.StringFixed(2), ev.UserID, merchant, country)
	}
	fmt.Fprintf(&b, " Recommended action: %s.", strings.ToUpper(string(a.RecommendedAction)))
	return b.String()
}
