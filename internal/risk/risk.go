// Package risk defines the domain model for transaction risk assessment:
// events, scored assessments, per-feature contributions, and the layered
// explanations attached to every score.
package risk

import (
	"time"

	"github.com/shopspring/decimal"
)

// Level buckets a 0-100 risk score into four bands.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Band thresholds. Lower edges are inclusive: a score of exactly 60 is high.
const (
	ThresholdMedium   = 40
	ThresholdHigh     = 60
	ThresholdCritical = 80
)

// LevelForScore maps a score to its risk band.
func LevelForScore(score int) Level {
	switch {
	case score >= ThresholdCritical:
		return LevelCritical
	case score >= ThresholdHigh:
		return LevelHigh
	case score >= ThresholdMedium:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Action is the recommended disposition for a scored event.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReview  Action = "review"
	ActionBlock   Action = "block"
)

// Direction tells which way a feature pushed the score.
type Direction string

const (
	DirectionIncreasesRisk Direction = "increases_risk"
	DirectionDecreasesRisk Direction = "decreases_risk"
)

// Location is the geographic origin of an event. An empty country with
// zero coordinates means the origin is unknown.
type Location struct {
	Country string  `json:"country"`
	City    string  `json:"city,omitempty"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// HasCoords reports whether the location carries usable coordinates.
// An exact (0,0) is treated as absent rather than a point in the Atlantic.
func (l *Location) HasCoords() bool {
	return l != nil && (l.Lat != 0 || l.Lon != 0)
}

// Device identifies the device an event was initiated from.
type Device struct {
	Fingerprint string `json:"fingerprint"`
	Type        string `json:"type,omitempty"` // "mobile", "desktop", "tablet"
}

// Event is a single transaction or session occurrence submitted for scoring.
// Immutable once scored; the engine never writes back to it.
type Event struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Timestamp        time.Time       `json:"timestamp"`
	Merchant         string          `json:"merchant,omitempty"`
	MerchantCategory string          `json:"merchant_category,omitempty"`
	Location         *Location       `json:"location,omitempty"`
	Device           *Device         `json:"device,omitempty"`
}

// Contribution is one feature's additive share of the final score.
// Impact is signed, on the 0-100 score scale. ImpactPercentage is |impact|
// over the sum of absolute impacts across the full attribution set, so
// percentages stay meaningful when the returned list is truncated.
type Contribution struct {
	FeatureName      string    `json:"feature_name"`
	DisplayName      string    `json:"display_name"`
	Value            float64   `json:"value"`
	Impact           float64   `json:"impact"`
	ImpactPercentage float64   `json:"impact_percentage"`
	Direction        Direction `json:"direction"`
}

// TechnicalExplanation is the exhaustive numeric tier for compliance and
// model engineers.
type TechnicalExplanation struct {
	ModelVersion       string             `json:"model_version"`
	BaseRisk           float64            `json:"base_risk"`
	Contributions      map[string]float64 `json:"contributions"`
	FeatureValues      map[string]float64 `json:"feature_values"`
	ConfidenceInterval [2]float64         `json:"confidence_interval"`
}

// RiskFactor is a templated description of one top contribution, used in
// the business tier.
type RiskFactor struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Impact      float64 `json:"impact"`
}

// BusinessExplanation is the analyst-facing tier.
type BusinessExplanation struct {
	Summary              string       `json:"summary"`
	TopFactors           []RiskFactor `json:"top_factors"`
	ComparisonToBaseline string       `json:"comparison_to_baseline"`
}

// UserExplanation is the customer-facing tier. Plain language only.
type UserExplanation struct {
	Headline      string   `json:"headline"`
	Reasons       []string `json:"reasons"`
	WhatThisMeans string   `json:"what_this_means"`
	NextSteps     string   `json:"next_steps"`
}

// Explanation bundles the three audience tiers. Derived purely from
// contributions and the score, never by re-querying the model. Business
// and User are nil on truncated assessments, which keep only the
// technical tier.
type Explanation struct {
	Technical TechnicalExplanation `json:"technical"`
	Business  *BusinessExplanation `json:"business,omitempty"`
	User      *UserExplanation     `json:"user,omitempty"`
}

// Assessment is the immutable result of scoring one event. Field names are
// the interchange contract with downstream consumers.
//
// Degraded, AttributionApproximate and Truncated record explicit
// degradations. A consumer never has to guess whether a score was produced
// under reduced guarantees.
type Assessment struct {
	EventID                string         `json:"event_id"`
	UserID                 string         `json:"user_id"`
	RiskScore              int            `json:"risk_score"`
	RiskLevel              Level          `json:"risk_level"`
	Confidence             float64        `json:"confidence"`
	RecommendedAction      Action         `json:"recommended_action"`
	AnomalyScore           float64        `json:"anomaly_score"`
	IsAnomaly              bool           `json:"is_anomaly"`
	ModelVersion           string         `json:"model_version"`
	ProcessingTimeMS       float64        `json:"processing_time_ms"`
	TopFactors             []Contribution `json:"top_factors"`
	Explanation            *Explanation   `json:"explanation,omitempty"`
	Degraded               bool           `json:"degraded,omitempty"`
	AttributionApproximate bool           `json:"attribution_approximate,omitempty"`
	Truncated              bool           `json:"truncated,omitempty"`
	ScoredAt               time.Time      `json:"scored_at"`
}
