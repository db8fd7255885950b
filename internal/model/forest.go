package model

import (
	"fmt"
	"math"
)

// Forest is a boosted tree ensemble in margin (log-odds) space.
// Margin(x) = BaseMargin plus each tree's leaf value.
type Forest struct {
	BaseMargin float64 `json:"base_margin"`
	Trees      []Tree  `json:"trees"`
}

// Tree stores nodes in a flat slice, root first. The decision rule is
// x[Feature] <= Threshold goes Left, otherwise Right.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Node is one split or leaf. Left and Right index into the tree's node
// slice and are -1 on leaves. Value is the mean margin of training rows
// routed through the node; on leaves it is the emitted margin. Internal
// values anchor path attribution.
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Value     float64 `json:"value"`
}

// IsLeaf reports whether the node emits a value instead of splitting.
func (n *Node) IsLeaf() bool { return n.Left < 0 && n.Right < 0 }

// Margin evaluates the ensemble for one feature vector.
func (f *Forest) Margin(x []float64) float64 {
	m := f.BaseMargin
	for i := range f.Trees {
		m += f.Trees[i].leafValue(x)
	}
	return m
}

// ExpectedMargin is the ensemble's output at the training population
// mean: BaseMargin plus each tree's root value.
func (f *Forest) ExpectedMargin() float64 {
	m := f.BaseMargin
	for i := range f.Trees {
		if len(f.Trees[i].Nodes) > 0 {
			m += f.Trees[i].Nodes[0].Value
		}
	}
	return m
}

// Contributions decomposes Margin(x) - ExpectedMargin() into per-feature
// margin deltas by walking each tree's decision path and crediting every
// value step to the feature that split it. The returned slice is indexed
// like x and sums to exactly Margin(x) - ExpectedMargin().
func (f *Forest) Contributions(x []float64) []float64 {
	out := make([]float64, len(x))
	for i := range f.Trees {
		f.Trees[i].pathContributions(x, out)
	}
	return out
}

func (t *Tree) leafValue(x []float64) float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.IsLeaf() {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

func (t *Tree) pathContributions(x []float64, out []float64) {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.IsLeaf() {
			return
		}
		next := n.Left
		if x[n.Feature] > n.Threshold {
			next = n.Right
		}
		out[n.Feature] += t.Nodes[next].Value - n.Value
		i = next
	}
}

func (f *Forest) validate(featureCount int) error {
	if len(f.Trees) == 0 {
		return fmt.Errorf("classifier has no trees")
	}
	for ti := range f.Trees {
		if err := f.Trees[ti].validate(featureCount); err != nil {
			return fmt.Errorf("classifier tree %d: %w", ti, err)
		}
	}
	return nil
}

func (t *Tree) validate(featureCount int) error {
	if len(t.Nodes) == 0 {
		return fmt.Errorf("empty tree")
	}
	for i := range t.Nodes {
		n := &t.Nodes[i]
		if math.IsNaN(n.Value) || math.IsInf(n.Value, 0) {
			return fmt.Errorf("node %d has non-finite value", i)
		}
		if n.IsLeaf() {
			continue
		}
		if n.Feature < 0 || n.Feature >= featureCount {
			return fmt.Errorf("node %d splits on feature %d, want [0,%d)", i, n.Feature, featureCount)
		}
		if math.IsNaN(n.Threshold) || math.IsInf(n.Threshold, 0) {
			return fmt.Errorf("node %d has non-finite threshold", i)
		}
		// Children must point forward in the slice so every walk terminates.
		if n.Left <= i || n.Left >= len(t.Nodes) || n.Right <= i || n.Right >= len(t.Nodes) {
			return fmt.Errorf("node %d has children %d/%d outside (%d,%d)", i, n.Left, n.Right, i, len(t.Nodes))
		}
	}
	return nil
}

// Linear is a logistic scorecard used as a lightweight classifier,
// margin = Bias + Weights dot x.
type Linear struct {
	Bias    float64   `json:"bias"`
	Weights []float64 `json:"weights"`
}

// Margin evaluates the scorecard for one feature vector.
func (l *Linear) Margin(x []float64) float64 {
	m := l.Bias
	for i, w := range l.Weights {
		m += w * x[i]
	}
	return m
}

func (l *Linear) validate(featureCount int) error {
	if len(l.Weights) != featureCount {
		return fmt.Errorf("scorecard has %d weights, want %d", len(l.Weights), featureCount)
	}
	for i, w := range l.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("scorecard weight %d is non-finite", i)
		}
	}
	if math.IsNaN(l.Bias) || math.IsInf(l.Bias, 0) {
		return fmt.Errorf("scorecard bias is non-finite")
	}
	return nil
}
