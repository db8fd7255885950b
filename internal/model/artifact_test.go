package model

import (
	"strings"
	"testing"

	"github.com/atlasrisk/atlas/internal/features"
)

func TestArtifactValidateSchemaBinding(t *testing.T) {
	a := Builtin()
	a.FeatureNames = a.FeatureNames[:5]
	if err := a.Validate(); err == nil {
		t.Error("Validate accepted a truncated schema")
	}

	a = Builtin()
	a.FeatureNames[0], a.FeatureNames[1] = a.FeatureNames[1], a.FeatureNames[0]
	err := a.Validate()
	if err == nil {
		t.Fatal("Validate accepted a reordered schema")
	}
	if !strings.Contains(err.Error(), "feature 0") {
		t.Errorf("error %q does not name the offending position", err)
	}
}

func TestArtifactValidateClassifierExclusivity(t *testing.T) {
	a := Builtin()
	a.Linear = &Linear{Weights: make([]float64, features.Count)}
	if err := a.Validate(); err == nil {
		t.Error("Validate accepted both a forest and a scorecard")
	}

	a = Builtin()
	a.Classifier = nil
	if err := a.Validate(); err == nil {
		t.Error("Validate accepted an artifact with no classifier")
	}

	a = Builtin()
	a.Classifier = nil
	a.Linear = &Linear{Bias: -1.5, Weights: make([]float64, features.Count)}
	if err := a.Validate(); err != nil {
		t.Errorf("Validate rejected a scorecard-only artifact: %v", err)
	}
}

func TestArtifactValidateRequiredSections(t *testing.T) {
	a := Builtin()
	a.Anomaly = nil
	if err := a.Validate(); err == nil {
		t.Error("Validate accepted an artifact without an isolation forest")
	}

	a = Builtin()
	a.Calibration = nil
	if err := a.Validate(); err == nil {
		t.Error("Validate accepted an artifact without calibration")
	}

	a = Builtin()
	a.Version = ""
	if err := a.Validate(); err == nil {
		t.Error("Validate accepted an artifact without a version")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse([]byte("not json")); err == nil {
		t.Error("Parse accepted non-JSON input")
	}
}
