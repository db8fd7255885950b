package attribution

import (
	"math"
	"testing"

	"github.com/atlasrisk/atlas/internal/features"
	"github.com/atlasrisk/atlas/internal/model"
	"github.com/atlasrisk/atlas/internal/risk"
)

func fi(t *testing.T, name string) int {
	t.Helper()
	i, ok := features.Index(name)
	if !ok {
		t.Fatalf("unknown feature %q", name)
	}
	return i
}

func vec(t *testing.T, values map[string]float64) []float64 {
	t.Helper()
	x := make([]float64, features.Count)
	for name, v := range values {
		x[fi(t, name)] = v
	}
	return x
}

// scoreOf runs the model pipeline the way the engine does.
func scoreOf(a *model.Artifact, x []float64) int {
	p := a.Calibration.Apply(a.RawProbability(x))
	return int(p * 100)
}

func TestAttributeAdditivity(t *testing.T) {
	a := model.Builtin()
	vectors := []map[string]float64{
		{}, // calm
		{"amount_zscore": 5, "is_new_device": 1, "is_new_country": 1, "is_night": 1, "amount_vs_avg_ratio": 19},
		{"country_risk": 0.8, "is_impossible_travel": 1, "velocity_score": 0.9, "txn_count_1h": 6},
		{"amount_zscore": 2.5, "behavior_anomaly_score": 0.3},
	}
	for _, m := range vectors {
		x := vec(t, m)
		score := scoreOf(a, x)
		res := Attribute(a, x, score)

		if got := res.BaseScore + res.ImpactSum(); math.Abs(got-float64(score)) > 1e-9 {
			t.Errorf("base %v + impacts %v = %v, want score %d", res.BaseScore, res.ImpactSum(), got, score)
		}
		if res.Approximate {
			t.Error("tree-path attribution flagged approximate")
		}
		if len(res.Contributions) != features.Count {
			t.Errorf("got %d contributions, want %d", len(res.Contributions), features.Count)
		}
	}
}

func TestAttributeOrderingAndTies(t *testing.T) {
	stump := func(f int) model.Tree {
		return model.Tree{Nodes: []model.Node{
			{Feature: f, Threshold: 0.5, Left: 1, Right: 2, Value: 0},
			{Left: -1, Right: -1, Value: 0},
			{Left: -1, Right: -1, Value: 0.8},
		}}
	}
	// Identical stumps on two features: equal impacts, so declaration
	// order decides who leads.
	a := &model.Artifact{
		Version:      "tie-test",
		FeatureNames: features.Names(),
		Classifier: &model.Forest{
			BaseMargin: -1,
			Trees:      []model.Tree{stump(fi(t, "is_new_device")), stump(fi(t, "amount"))},
		},
		Calibration: &model.Calibration{Type: model.CalibrationNone},
	}

	x := vec(t, map[string]float64{"amount": 1, "is_new_device": 1})
	res := Attribute(a, x, scoreOf(a, x))

	if res.Contributions[0].FeatureName != "amount" || res.Contributions[1].FeatureName != "is_new_device" {
		t.Errorf("tie broken as %q, %q; want declaration order amount, is_new_device",
			res.Contributions[0].FeatureName, res.Contributions[1].FeatureName)
	}
	if res.Contributions[0].Impact != res.Contributions[1].Impact {
		t.Errorf("impacts differ: %v vs %v", res.Contributions[0].Impact, res.Contributions[1].Impact)
	}
	for i := 1; i < len(res.Contributions); i++ {
		if math.Abs(res.Contributions[i].Impact) > math.Abs(res.Contributions[i-1].Impact) {
			t.Fatalf("contributions not sorted at %d", i)
		}
	}
}

func TestAttributePercentageClosure(t *testing.T) {
	a := model.Builtin()
	x := vec(t, map[string]float64{"amount_zscore": 5, "country_risk": 0.8, "is_new_device": 1, "velocity_score": 0.9})
	res := Attribute(a, x, scoreOf(a, x))

	var total float64
	for _, c := range res.Contributions {
		total += c.ImpactPercentage
	}
	// Each percentage is rounded to one decimal, so closure holds within
	// the accumulated rounding slack.
	if math.Abs(total-100) > 1.5 {
		t.Errorf("percentages sum to %v, want ~100", total)
	}
}

func TestAttributeDirections(t *testing.T) {
	a := model.Builtin()
	x := vec(t, map[string]float64{"amount_zscore": 5})
	res := Attribute(a, x, scoreOf(a, x))

	for _, c := range res.Contributions {
		switch c.FeatureName {
		case "amount_zscore":
			if c.Direction != risk.DirectionIncreasesRisk || c.Impact <= 0 {
				t.Errorf("amount_zscore: direction %s impact %v, want increases_risk > 0", c.Direction, c.Impact)
			}
		case "country_risk":
			// Low-risk country pulls the score down.
			if c.Direction != risk.DirectionDecreasesRisk || c.Impact >= 0 {
				t.Errorf("country_risk: direction %s impact %v, want decreases_risk < 0", c.Direction, c.Impact)
			}
		}
	}
}

func TestAttributeScorecardFallback(t *testing.T) {
	weights := make([]float64, features.Count)
	weights[fi(t, "amount_zscore")] = 0.5
	weights[fi(t, "country_risk")] = 2
	weights[fi(t, "is_weekend")] = 1 // stays zero in x, must contribute nothing
	a := &model.Artifact{
		Version:      "scorecard-test",
		FeatureNames: features.Names(),
		Linear:       &model.Linear{Bias: -2, Weights: weights},
		Calibration:  &model.Calibration{Type: model.CalibrationNone},
	}

	x := vec(t, map[string]float64{"amount_zscore": 4, "country_risk": 0.8})
	score := scoreOf(a, x)
	res := Attribute(a, x, score)

	if !res.Approximate {
		t.Error("ablation fallback not flagged approximate")
	}
	if got := res.BaseScore + res.ImpactSum(); math.Abs(got-float64(score)) > 1e-9 {
		t.Errorf("base + impacts = %v, want %d", got, score)
	}
	for _, c := range res.Contributions {
		if c.FeatureName == "is_weekend" && c.Impact != 0 {
			t.Errorf("zero-valued feature got impact %v", c.Impact)
		}
	}
}

func TestAttributeDegenerateBaselineVector(t *testing.T) {
	// A vector that routes every tree to a leaf equal to the node mean
	// produces no margin delta to distribute.
	flat := model.Tree{Nodes: []model.Node{
		{Feature: fi(t, "amount"), Threshold: 0.5, Left: 1, Right: 2, Value: 0},
		{Left: -1, Right: -1, Value: 0},
		{Left: -1, Right: -1, Value: 0.9},
	}}

	t.Run("score matches base", func(t *testing.T) {
		a := &model.Artifact{
			Version:      "flat-test",
			FeatureNames: features.Names(),
			Classifier:   &model.Forest{BaseMargin: 0, Trees: []model.Tree{flat}},
			Calibration:  &model.Calibration{Type: model.CalibrationNone},
		}
		x := make([]float64, features.Count)
		res := Attribute(a, x, 50) // sigmoid(0) = 0.5 exactly
		if res.Approximate {
			t.Error("flagged approximate with nothing to explain")
		}
		if res.BaseScore != 50 || res.ImpactSum() != 0 {
			t.Errorf("base %v impacts %v, want 50 and 0", res.BaseScore, res.ImpactSum())
		}
	})

	t.Run("truncation remainder snaps to base", func(t *testing.T) {
		a := &model.Artifact{
			Version:      "flat-test",
			FeatureNames: features.Names(),
			Classifier:   &model.Forest{BaseMargin: 0.1, Trees: []model.Tree{flat}},
			Calibration:  &model.Calibration{Type: model.CalibrationNone},
		}
		x := make([]float64, features.Count)
		score := scoreOf(a, x) // 52 from p=0.52498; base is 52.498
		res := Attribute(a, x, score)
		if !res.Approximate {
			t.Error("degenerate snap not flagged approximate")
		}
		if got := res.BaseScore + res.ImpactSum(); got != float64(score) {
			t.Errorf("base + impacts = %v, want %d", got, score)
		}
	})
}

func TestAttributeTop(t *testing.T) {
	a := model.Builtin()
	x := vec(t, map[string]float64{
		"amount_zscore": 5, "country_risk": 0.8, "is_new_device": 1,
		"is_impossible_travel": 1, "velocity_score": 0.9, "is_night": 1,
	})
	res := Attribute(a, x, scoreOf(a, x))

	top := res.Top(5)
	if len(top) != 5 {
		t.Fatalf("Top(5) returned %d factors", len(top))
	}
	for i, c := range top {
		if math.Abs(c.Impact) <= minTopImpact {
			t.Errorf("factor %d below the noise floor: %v", i, c.Impact)
		}
		if c.FeatureName != res.Contributions[i].FeatureName {
			t.Errorf("Top(5)[%d] = %q, want %q", i, c.FeatureName, res.Contributions[i].FeatureName)
		}
	}

	calm := Attribute(a, make([]float64, features.Count), scoreOf(a, make([]float64, features.Count)))
	for _, c := range calm.Top(5) {
		if math.Abs(c.Impact) <= minTopImpact {
			t.Errorf("calm top factor below the noise floor: %+v", c)
		}
	}
}

func TestAttributeDeterministic(t *testing.T) {
	a := model.Builtin()
	x := vec(t, map[string]float64{"amount_zscore": 5, "country_risk": 0.8, "is_new_device": 1})
	score := scoreOf(a, x)

	r1, r2 := Attribute(a, x, score), Attribute(a, x, score)
	if r1.BaseScore != r2.BaseScore {
		t.Fatalf("base scores differ: %v vs %v", r1.BaseScore, r2.BaseScore)
	}
	for i := range r1.Contributions {
		if r1.Contributions[i] != r2.Contributions[i] {
			t.Fatalf("contribution %d differs: %+v vs %+v", i, r1.Contributions[i], r2.Contributions[i])
		}
	}
}
