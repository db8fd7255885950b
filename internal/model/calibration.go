package model

import (
	"fmt"
	"math"
	"sort"
)

// Calibration types. Isotonic carries a monotone knot table fitted
// offline; sigmoid is Platt scaling on the raw margin.
const (
	CalibrationIsotonic = "isotonic"
	CalibrationSigmoid  = "sigmoid"
	CalibrationNone     = "none"
)

// DefaultIntervalScale sizes confidence intervals when the artifact does
// not carry its own scale: the interval half-width in score points is
// IntervalScale * p * (1-p), widest (5 points) at p = 0.5.
const DefaultIntervalScale = 20.0

// Calibration maps raw model probabilities onto observed fraud rates.
type Calibration struct {
	Type string `json:"type"`

	// Isotonic knots: Xs are raw probabilities, Ys the calibrated values
	// at those points. Both increasing; interpolation is linear.
	Xs []float64 `json:"xs,omitempty"`
	Ys []float64 `json:"ys,omitempty"`

	// Platt coefficients, calibrated = sigmoid(A*logit(raw) + B).
	A float64 `json:"a,omitempty"`
	B float64 `json:"b,omitempty"`

	IntervalScale float64 `json:"interval_scale,omitempty"`
}

// Apply maps a raw probability to a calibrated one. Output is clamped
// to [0,1].
func (c *Calibration) Apply(raw float64) float64 {
	switch c.Type {
	case CalibrationIsotonic:
		return clamp01(c.interpolate(raw))
	case CalibrationSigmoid:
		return clamp01(Sigmoid(c.A*logit(raw) + c.B))
	default:
		return clamp01(raw)
	}
}

func (c *Calibration) interpolate(raw float64) float64 {
	if raw <= c.Xs[0] {
		return c.Ys[0]
	}
	last := len(c.Xs) - 1
	if raw >= c.Xs[last] {
		return c.Ys[last]
	}
	// First knot strictly above raw; the segment starts one before it.
	hi := sort.SearchFloat64s(c.Xs, raw)
	if c.Xs[hi] == raw {
		return c.Ys[hi]
	}
	lo := hi - 1
	frac := (raw - c.Xs[lo]) / (c.Xs[hi] - c.Xs[lo])
	return c.Ys[lo] + frac*(c.Ys[hi]-c.Ys[lo])
}

// HalfWidth is the confidence interval half-width in score points for a
// calibrated probability. It peaks at p = 0.5 and vanishes toward the
// certain ends.
func (c *Calibration) HalfWidth(p float64) float64 {
	scale := c.IntervalScale
	if scale <= 0 {
		scale = DefaultIntervalScale
	}
	return scale * p * (1 - p)
}

// Confidence collapses the interval width onto [0.5, 1]: 1 - 2p(1-p),
// so a maximally uncertain p = 0.5 reports 0.5.
func (c *Calibration) Confidence(p float64) float64 {
	return 1 - 2*p*(1-p)
}

func (c *Calibration) validate() error {
	switch c.Type {
	case CalibrationIsotonic:
		if len(c.Xs) < 2 || len(c.Xs) != len(c.Ys) {
			return fmt.Errorf("isotonic calibration needs matched knots, have %d/%d", len(c.Xs), len(c.Ys))
		}
		for i := 1; i < len(c.Xs); i++ {
			if c.Xs[i] <= c.Xs[i-1] {
				return fmt.Errorf("isotonic calibration knot %d not increasing", i)
			}
			if c.Ys[i] < c.Ys[i-1] {
				return fmt.Errorf("isotonic calibration value %d decreasing", i)
			}
		}
	case CalibrationSigmoid:
		if c.A <= 0 {
			return fmt.Errorf("sigmoid calibration slope %v, want > 0", c.A)
		}
	case CalibrationNone:
	default:
		return fmt.Errorf("unknown calibration type %q", c.Type)
	}
	if math.IsNaN(c.IntervalScale) || c.IntervalScale < 0 {
		return fmt.Errorf("calibration interval scale %v, want >= 0", c.IntervalScale)
	}
	return nil
}

func clamp01(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}
