// Package attribution decomposes an assessment score into additive
// per-feature impacts.
//
// Impacts are computed in the model's margin space, where tree-path
// attribution is exactly additive, then rescaled into score points so
// that BaseScore + the sum of impacts equals the assessment score to
// floating point precision. Everything here is deterministic: the same
// vector and artifact always produce the same decomposition.
package attribution

import (
	"fmt"
	"math"
	"sort"

	"github.com/atlasrisk/atlas/internal/features"
	"github.com/atlasrisk/atlas/internal/model"
	"github.com/atlasrisk/atlas/internal/risk"
)

// minTopImpact drops noise-level factors from the headline list. They
// stay in the full decomposition.
const minTopImpact = 0.01

// Result is the full additive decomposition of one score.
//
// Contributions covers every feature, sorted by descending absolute
// impact with ties broken by feature declaration order. Approximate is
// set when the fallback method produced the numbers.
type Result struct {
	BaseScore     float64
	Contributions []risk.Contribution
	Approximate   bool
}

// Attribute decomposes score into per-feature impacts. x must be the
// extractor's full feature vector; score the final integer risk score
// computed from the same artifact.
func Attribute(a *model.Artifact, x []float64, score int) *Result {
	if len(x) != features.Count {
		panic(fmt.Sprintf("attribution: vector has %d features, want %d", len(x), features.Count))
	}

	margin := a.MarginOf(x)
	baseMargin := a.BaselineMargin()
	baseScore := 100 * a.Calibration.Apply(model.Sigmoid(baseMargin))

	var marginShares []float64
	approximate := false
	if a.Classifier != nil {
		marginShares = a.Classifier.Contributions(x)
	} else {
		marginShares = ablate(a.Linear, x)
		approximate = true
	}

	// Rescale margin shares so the decomposition lands exactly on the
	// reported score. The shares sum to margin-baseMargin by
	// construction, so any nonzero denominator preserves additivity.
	target := float64(score) - baseScore
	impacts := make([]float64, len(marginShares))
	if delta := margin - baseMargin; math.Abs(delta) > 1e-12 {
		scale := target / delta
		for i, m := range marginShares {
			impacts[i] = m * scale
		}
	} else if math.Abs(target) > 1e-9 {
		// Every feature sits on the baseline path yet truncation moved
		// the integer score off the base. Nothing to distribute it over;
		// report the score itself as the base.
		baseScore = float64(score)
		approximate = true
	}

	var absTotal float64
	for _, imp := range impacts {
		absTotal += math.Abs(imp)
	}

	names := features.Names()
	contribs := make([]risk.Contribution, features.Count)
	for i := range impacts {
		c := risk.Contribution{
			FeatureName: names[i],
			DisplayName: features.DisplayName(names[i]),
			Value:       x[i],
			Impact:      impacts[i],
			Direction:   risk.DirectionDecreasesRisk,
		}
		if impacts[i] > 0 {
			c.Direction = risk.DirectionIncreasesRisk
		}
		if absTotal > 0 {
			c.ImpactPercentage = round1(math.Abs(impacts[i]) / absTotal * 100)
		}
		contribs[i] = c
	}

	// Descending absolute impact; declaration order breaks ties, which
	// the index order before sorting already encodes.
	sort.SliceStable(contribs, func(i, j int) bool {
		return math.Abs(contribs[i].Impact) > math.Abs(contribs[j].Impact)
	})

	return &Result{
		BaseScore:     baseScore,
		Contributions: contribs,
		Approximate:   approximate,
	}
}

// Top returns up to n leading contributions, skipping those below the
// noise floor.
func (r *Result) Top(n int) []risk.Contribution {
	out := make([]risk.Contribution, 0, n)
	for _, c := range r.Contributions {
		if len(out) == n {
			break
		}
		if math.Abs(c.Impact) <= minTopImpact {
			break // sorted, so everything after is smaller
		}
		out = append(out, c)
	}
	return out
}

// ImpactSum returns the sum of all impacts. BaseScore + ImpactSum is the
// assessment score.
func (r *Result) ImpactSum() float64 {
	var sum float64
	for _, c := range r.Contributions {
		sum += c.Impact
	}
	return sum
}

// ablate measures each feature's margin share by re-evaluating the
// scorecard with that feature zeroed. Exact for a linear model; it does
// not see interactions, which is why results carry the approximate flag.
func ablate(l *model.Linear, x []float64) []float64 {
	out := make([]float64, len(x))
	full := l.Margin(x)
	probe := make([]float64, len(x))
	copy(probe, x)
	for i := range x {
		if x[i] == 0 {
			continue
		}
		probe[i] = 0
		out[i] = full - l.Margin(probe)
		probe[i] = x[i]
	}
	return out
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
