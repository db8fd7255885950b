// Package model loads risk model artifacts and evaluates them.
//
// An artifact is a self-contained JSON document: a gradient-boosted tree
// ensemble (or a linear scorecard) that produces a fraud margin, an
// isolation forest for anomaly detection, and a calibration map from raw
// to calibrated probability. Artifacts are produced offline by the
// training pipeline; this package only evaluates them.
package model

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/atlasrisk/atlas/internal/features"
)

// Artifact is the published model format. FeatureNames pins the input
// schema: Validate rejects artifacts trained against a different feature
// order than the extractor produces.
//
// Exactly one of Classifier and Linear must be set.
type Artifact struct {
	Version           string             `json:"version"`
	CreatedAt         time.Time          `json:"created_at"`
	FeatureNames      []string           `json:"feature_names"`
	Metrics           map[string]float64 `json:"metrics,omitempty"`
	TrainingSamples   int                `json:"training_samples,omitempty"`
	TestSamples       int                `json:"test_samples,omitempty"`
	FeatureImportance map[string]float64 `json:"feature_importance,omitempty"`

	Classifier  *Forest          `json:"classifier,omitempty"`
	Linear      *Linear          `json:"linear,omitempty"`
	Anomaly     *IsolationForest `json:"isolation_forest"`
	Calibration *Calibration     `json:"calibration"`
}

// Parse decodes and validates an artifact document.
func Parse(data []byte) (*Artifact, error) {
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to decode model artifact: %w", err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// Validate checks structural integrity and the feature schema binding.
func (a *Artifact) Validate() error {
	if a.Version == "" {
		return fmt.Errorf("model artifact missing version")
	}
	if len(a.FeatureNames) != features.Count {
		return fmt.Errorf("model artifact has %d feature names, extractor produces %d", len(a.FeatureNames), features.Count)
	}
	for i, name := range features.Names() {
		if a.FeatureNames[i] != name {
			return fmt.Errorf("model artifact feature %d is %q, extractor produces %q", i, a.FeatureNames[i], name)
		}
	}
	switch {
	case a.Classifier == nil && a.Linear == nil:
		return fmt.Errorf("model artifact %s has no classifier", a.Version)
	case a.Classifier != nil && a.Linear != nil:
		return fmt.Errorf("model artifact %s has both a tree classifier and a linear scorecard", a.Version)
	}
	if a.Classifier != nil {
		if err := a.Classifier.validate(features.Count); err != nil {
			return fmt.Errorf("model artifact %s: %w", a.Version, err)
		}
	}
	if a.Linear != nil {
		if err := a.Linear.validate(features.Count); err != nil {
			return fmt.Errorf("model artifact %s: %w", a.Version, err)
		}
	}
	if a.Anomaly == nil {
		return fmt.Errorf("model artifact %s has no isolation forest", a.Version)
	}
	if err := a.Anomaly.validate(features.Count); err != nil {
		return fmt.Errorf("model artifact %s: %w", a.Version, err)
	}
	if a.Calibration == nil {
		return fmt.Errorf("model artifact %s has no calibration", a.Version)
	}
	if err := a.Calibration.validate(); err != nil {
		return fmt.Errorf("model artifact %s: %w", a.Version, err)
	}
	return nil
}

// MarginOf returns the uncalibrated log-odds for x.
func (a *Artifact) MarginOf(x []float64) float64 {
	if a.Classifier != nil {
		return a.Classifier.Margin(x)
	}
	return a.Linear.Margin(x)
}

// BaselineMargin is the reference point attribution measures against:
// the training population mean for a forest, the zero vector for a
// scorecard.
func (a *Artifact) BaselineMargin() float64 {
	if a.Classifier != nil {
		return a.Classifier.ExpectedMargin()
	}
	return a.Linear.Bias
}

// RawProbability is the uncalibrated fraud probability for x.
func (a *Artifact) RawProbability(x []float64) float64 {
	return Sigmoid(a.MarginOf(x))
}

// Sigmoid maps a margin to a probability.
func Sigmoid(m float64) float64 {
	return 1 / (1 + math.Exp(-m))
}

func logit(p float64) float64 {
	p = math.Min(math.Max(p, 1e-9), 1-1e-9)
	return math.Log(p / (1 - p))
}
