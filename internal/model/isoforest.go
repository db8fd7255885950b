package model

import (
	"fmt"
	"math"
)

// IsolationForest scores how easily a feature vector is isolated from
// the training population. Scores are in (0,1); short average paths
// mean easy isolation and push the score toward 1.
type IsolationForest struct {
	SampleSize int       `json:"sample_size"`
	Threshold  float64   `json:"threshold"`
	Trees      []IsoTree `json:"trees"`
}

// IsoTree stores nodes in a flat slice, root first, same layout as the
// classifier trees. x[Feature] <= Split goes Left.
type IsoTree struct {
	Nodes []IsoNode `json:"nodes"`
}

// IsoNode is one random split. Size is only meaningful on leaves: the
// number of training rows left unseparated there, which extends the
// path length by the expected depth of a random tree over them.
type IsoNode struct {
	Feature int     `json:"feature"`
	Split   float64 `json:"split"`
	Left    int     `json:"left"`
	Right   int     `json:"right"`
	Size    int     `json:"size"`
}

// IsLeaf reports whether the node terminates a path.
func (n *IsoNode) IsLeaf() bool { return n.Left < 0 && n.Right < 0 }

// Score is the standard isolation score 2^(-E[h]/c(n)) for the average
// path length over all trees.
func (f *IsolationForest) Score(x []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	var total float64
	for i := range f.Trees {
		total += f.Trees[i].pathLength(x)
	}
	avg := total / float64(len(f.Trees))
	return math.Exp2(-avg / expectedPathLength(f.SampleSize))
}

// IsAnomalous applies the artifact's decision threshold to a score.
func (f *IsolationForest) IsAnomalous(score float64) bool {
	return score >= f.Threshold
}

func (t *IsoTree) pathLength(x []float64) float64 {
	i, depth := 0, 0
	for {
		n := &t.Nodes[i]
		if n.IsLeaf() {
			return float64(depth) + expectedPathLength(n.Size)
		}
		depth++
		if x[n.Feature] <= n.Split {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// expectedPathLength is c(n), the average depth of an unsuccessful
// search in a binary search tree over n rows.
func expectedPathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	h := math.Log(float64(n-1)) + 0.5772156649
	return 2*h - 2*float64(n-1)/float64(n)
}

func (f *IsolationForest) validate(featureCount int) error {
	if f.SampleSize < 2 {
		return fmt.Errorf("isolation forest sample size %d, want >= 2", f.SampleSize)
	}
	if f.Threshold <= 0 || f.Threshold >= 1 {
		return fmt.Errorf("isolation forest threshold %v, want in (0,1)", f.Threshold)
	}
	if len(f.Trees) == 0 {
		return fmt.Errorf("isolation forest has no trees")
	}
	for ti := range f.Trees {
		t := &f.Trees[ti]
		if len(t.Nodes) == 0 {
			return fmt.Errorf("isolation tree %d is empty", ti)
		}
		for i := range t.Nodes {
			n := &t.Nodes[i]
			if n.IsLeaf() {
				if n.Size < 1 {
					return fmt.Errorf("isolation tree %d leaf %d has size %d", ti, i, n.Size)
				}
				continue
			}
			if n.Feature < 0 || n.Feature >= featureCount {
				return fmt.Errorf("isolation tree %d node %d splits on feature %d, want [0,%d)", ti, i, n.Feature, featureCount)
			}
			if n.Left <= i || n.Left >= len(t.Nodes) || n.Right <= i || n.Right >= len(t.Nodes) {
				return fmt.Errorf("isolation tree %d node %d has children %d/%d outside (%d,%d)", ti, i, n.Left, n.Right, i, len(t.Nodes))
			}
		}
	}
	return nil
}
