package model

import (
	"math"
	"testing"
)

// twoTreeForest splits on features 0 and 1 with hand-checked values.
func twoTreeForest() *Forest {
	return &Forest{
		BaseMargin: -1.5,
		Trees: []Tree{
			{Nodes: []Node{
				{Feature: 0, Threshold: 10, Left: 1, Right: 2, Value: 0.05},
				{Left: -1, Right: -1, Value: -0.2},
				{Feature: 0, Threshold: 20, Left: 3, Right: 4, Value: 0.6},
				{Left: -1, Right: -1, Value: 0.4},
				{Left: -1, Right: -1, Value: 1.1},
			}},
			{Nodes: []Node{
				{Feature: 1, Threshold: 0.5, Left: 1, Right: 2, Value: -0.01},
				{Left: -1, Right: -1, Value: -0.1},
				{Left: -1, Right: -1, Value: 0.7},
			}},
		},
	}
}

func TestForestMargin(t *testing.T) {
	f := twoTreeForest()
	cases := []struct {
		x    []float64
		want float64
	}{
		{[]float64{5, 0}, -1.5 - 0.2 - 0.1},
		{[]float64{10, 0}, -1.5 - 0.2 - 0.1}, // boundary goes left
		{[]float64{15, 1}, -1.5 + 0.4 + 0.7},
		{[]float64{25, 1}, -1.5 + 1.1 + 0.7},
	}
	for _, tc := range cases {
		if got := f.Margin(tc.x); math.Abs(got-tc.want) > 1e-12 {
			t.Errorf("Margin(%v) = %v, want %v", tc.x, got, tc.want)
		}
	}
	if got, want := f.ExpectedMargin(), -1.5+0.05-0.01; math.Abs(got-want) > 1e-12 {
		t.Errorf("ExpectedMargin() = %v, want %v", got, want)
	}
}

func TestForestContributionsSumToMargin(t *testing.T) {
	f := twoTreeForest()
	for _, x := range [][]float64{
		{5, 0}, {15, 0}, {25, 1}, {10, 0.5}, {30, 0.2},
	} {
		contribs := f.Contributions(x)
		var sum float64
		for _, c := range contribs {
			sum += c
		}
		want := f.Margin(x) - f.ExpectedMargin()
		if math.Abs(sum-want) > 1e-12 {
			t.Errorf("Contributions(%v) sum to %v, want %v", x, sum, want)
		}
	}

	// Two splits on feature 0 along one path must both credit feature 0.
	contribs := f.Contributions([]float64{25, 0})
	wantF0 := (0.6 - 0.05) + (1.1 - 0.6)
	if math.Abs(contribs[0]-wantF0) > 1e-12 {
		t.Errorf("feature 0 contribution = %v, want %v", contribs[0], wantF0)
	}
	if math.Abs(contribs[1]-(-0.1-(-0.01))) > 1e-12 {
		t.Errorf("feature 1 contribution = %v, want %v", contribs[1], -0.1+0.01)
	}
}

func TestTreeValidateRejectsBackwardChildren(t *testing.T) {
	bad := Tree{Nodes: []Node{
		{Feature: 0, Threshold: 1, Left: 1, Right: 2, Value: 0},
		{Feature: 0, Threshold: 2, Left: 0, Right: 2, Value: 0}, // points back at the root
		{Left: -1, Right: -1, Value: 0.5},
	}}
	if err := bad.validate(30); err == nil {
		t.Fatal("validate accepted a tree with a backward child index")
	}
}

func TestLinearMargin(t *testing.T) {
	l := &Linear{Bias: -2, Weights: []float64{0.5, 0, 1.5}}
	if got, want := l.Margin([]float64{2, 100, 1}), -2+1+1.5; math.Abs(got-want) > 1e-12 {
		t.Errorf("Margin = %v, want %v", got, want)
	}
	if err := l.validate(3); err != nil {
		t.Errorf("validate: %v", err)
	}
	if err := l.validate(30); err == nil {
		t.Error("validate accepted a weight count mismatch")
	}
}

func TestSigmoid(t *testing.T) {
	if got := Sigmoid(0); math.Abs(got-0.5) > 1e-12 {
		t.Errorf("Sigmoid(0) = %v, want 0.5", got)
	}
	if got := Sigmoid(10); got <= 0.99 {
		t.Errorf("Sigmoid(10) = %v, want near 1", got)
	}
	if got := Sigmoid(-10); got >= 0.01 {
		t.Errorf("Sigmoid(-10) = %v, want near 0", got)
	}
}
