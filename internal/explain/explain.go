// Package explain composes the three audience tiers of an assessment:
// technical for compliance, business for analysts, user for cardholders.
//
// Composition is pure string work over a finished attribution. It never
// re-queries the model, so explanations always describe exactly the
// numbers the assessment carries.
package explain

import (
	"fmt"
	"math"

	"github.com/atlasrisk/atlas/internal/attribution"
	"github.com/atlasrisk/atlas/internal/features"
	"github.com/atlasrisk/atlas/internal/risk"
)

// Factors below this absolute impact are left out of the analyst tier.
const minFactorImpact = 0.5

// Reasons shown to cardholders come only from factors pushing the score
// up by more than this.
const minReasonImpact = 1.0

// Input carries everything composition needs. Vector and Attribution
// must come from the same scoring pass.
type Input struct {
	Event        *risk.Event
	Vector       *features.Vector
	Attribution  *attribution.Result
	Score        int
	Level        risk.Level
	ModelVersion string
	Interval     [2]float64
}

// Composer renders explanations from a template catalog. The zero value
// is not usable; construct with NewComposer.
type Composer struct {
	templates *templateSet
}

// NewComposer returns a composer on the current template catalog.
func NewComposer() *Composer {
	return &Composer{templates: defaultTemplates()}
}

// TemplateVersion identifies the narrative catalog in use.
func (c *Composer) TemplateVersion() string {
	return c.templates.version
}

// Compose renders all three tiers.
func (c *Composer) Compose(in Input) *risk.Explanation {
	return &risk.Explanation{
		Technical: c.technical(in),
		Business:  c.business(in),
		User:      c.user(in),
	}
}

// TechnicalOnly renders the compliance tier alone. Used when the
// latency budget ran out before narrative composition.
func (c *Composer) TechnicalOnly(in Input) *risk.Explanation {
	return &risk.Explanation{Technical: c.technical(in)}
}

func (c *Composer) technical(in Input) risk.TechnicalExplanation {
	contribs := make(map[string]float64, len(in.Attribution.Contributions))
	for _, cb := range in.Attribution.Contributions {
		contribs[cb.FeatureName] = round4(cb.Impact)
	}
	values := make(map[string]float64, features.Count)
	for name, v := range in.Vector.Map() {
		values[name] = round4(v)
	}
	return risk.TechnicalExplanation{
		ModelVersion:       in.ModelVersion,
		BaseRisk:           round2(in.Attribution.BaseScore),
		Contributions:      contribs,
		FeatureValues:      values,
		ConfidenceInterval: in.Interval,
	}
}

func (c *Composer) business(in Input) *risk.BusinessExplanation {
	var summary string
	switch in.Level {
	case risk.LevelCritical:
		summary = fmt.Sprintf("Critical risk detected (Score: %d/100). Multiple high-risk indicators present. Immediate review required.", in.Score)
	case risk.LevelHigh:
		summary = fmt.Sprintf("High risk transaction (Score: %d/100). Several anomalies detected that warrant investigation.", in.Score)
	case risk.LevelMedium:
		summary = fmt.Sprintf("Moderate risk (Score: %d/100). Some unusual patterns detected but within acceptable thresholds.", in.Score)
	default:
		summary = fmt.Sprintf("Low risk transaction (Score: %d/100). Activity consistent with user's normal behavior.", in.Score)
	}

	ctx := newFactorContext(in)
	var factors []risk.RiskFactor
	for _, cb := range in.Attribution.Top(5) {
		if math.Abs(cb.Impact) < minFactorImpact {
			continue
		}
		factors = append(factors, risk.RiskFactor{
			Title:       cb.DisplayName,
			Description: c.templates.describe(cb.FeatureName, cb.Impact, ctx),
			Impact:      round2(cb.Impact),
		})
	}

	comparison := fmt.Sprintf("Typical transaction for this user: $%.2f. This transaction: $%.2f.",
		ctx.typicalAmount(), ctx.amount)

	return &risk.BusinessExplanation{
		Summary:              summary,
		TopFactors:           factors,
		ComparisonToBaseline: comparison,
	}
}

func (c *Composer) user(in Input) *risk.UserExplanation {
	var headline string
	switch in.Level {
	case risk.LevelCritical, risk.LevelHigh:
		headline = "We flagged this transaction for your protection"
	case risk.LevelMedium:
		headline = "We noticed some unusual activity"
	default:
		headline = "Transaction approved"
	}

	ctx := newFactorContext(in)
	var reasons []string
	top := in.Attribution.Top(5)
	if len(top) > 3 {
		top = top[:3]
	}
	for _, cb := range top {
		if cb.Impact <= minReasonImpact {
			continue
		}
		if reason := c.templates.simpleReason(cb.FeatureName, ctx); reason != "" {
			reasons = append(reasons, reason)
		}
	}
	if len(reasons) == 0 {
		reasons = []string{"This transaction matched typical patterns for your account"}
	}

	var meaning, next string
	switch in.Level {
	case risk.LevelCritical:
		meaning = "This could mean someone is trying to use your account without permission, or you might be making an unusual but legitimate purchase."
		next = "We've temporarily held this transaction. Please confirm if this was you by responding to our verification request."
	case risk.LevelHigh:
		meaning = "This could mean someone is trying to use your account without permission, or you might be making an unusual but legitimate purchase."
		next = "Please review this transaction. If you don't recognize it, please contact us immediately."
	case risk.LevelMedium:
		meaning = "The transaction has some unusual characteristics, but it may still be legitimate."
		next = "No action needed, but please review your recent transactions to ensure they're all legitimate."
	default:
		meaning = "Everything looks normal with this transaction."
		next = "No action needed. Your transaction has been processed successfully."
	}

	return &risk.UserExplanation{
		Headline:      headline,
		Reasons:       reasons,
		WhatThisMeans: meaning,
		NextSteps:     next,
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
