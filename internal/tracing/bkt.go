// Package tracing implements two-state Bayesian Knowledge Tracing and the
// per-student knowledge state it maintains.
package tracing

import (
	"math"

	"github.com/mathgaling/tutor/internal/platform/apperr"
)

// Defaults applied when a knowledge state is first created.
const (
	DefaultPMastery = 0.3
	DefaultPTransit = 0.1
	DefaultPGuess   = 0.2
	DefaultPSlip    = 0.1

	// DefaultMasteryThreshold is the canonical "mastered" cut-off.
	DefaultMasteryThreshold = 0.8
)

// epsilon below which a posterior denominator counts as zero.
const epsilon = 1e-12

// Params are the four BKT probabilities.
type Params struct {
	PMastery float64 `json:"p_mastery"`
	PTransit float64 `json:"p_transit"`
	PGuess   float64 `json:"p_guess"`
	PSlip    float64 `json:"p_slip"`
}

// DefaultParams returns mastery 0.3, transit 0.1, guess 0.2, slip 0.1.
func DefaultParams() Params {
	return Params{
		PMastery: DefaultPMastery,
		PTransit: DefaultPTransit,
		PGuess:   DefaultPGuess,
		PSlip:    DefaultPSlip,
	}
}

// Validate reports probabilities outside [0,1] or NaN.
func (p Params) Validate() error {
	check := func(name string, v float64) error {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return apperr.Validation("%s %v outside [0,1]", name, v)
		}
		return nil
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"p_mastery", p.PMastery},
		{"p_transit", p.PTransit},
		{"p_guess", p.PGuess},
		{"p_slip", p.PSlip},
	} {
		if err := check(f.name, f.v); err != nil {
			return err
		}
	}
	return nil
}

// Posterior returns P(mastered | observation). ok is false when the
// observation has zero probability under p; the prior is returned unchanged.
func Posterior(p Params, correct bool) (posterior float64, ok bool) {
	var num, den float64
	if correct {
		num = p.PMastery * (1 - p.PSlip)
		den = num + (1-p.PMastery)*p.PGuess
	} else {
		num = p.PMastery * p.PSlip
		den = num + (1-p.PMastery)*(1-p.PGuess)
	}
	if den < epsilon {
		return p.PMastery, false
	}
	return num / den, true
}

// Step applies one observation: posterior, then the learning transition,
// clamped to [0,1]. ok mirrors Posterior; on a degenerate observation the
// mastery is returned unchanged.
func Step(p Params, correct bool) (mastery float64, ok bool) {
	post, ok := Posterior(p, correct)
	if !ok {
		return clamp01(p.PMastery), false
	}
	return clamp01(post + (1-post)*p.PTransit), true
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Crossed reports an upward crossing of threshold.
func Crossed(before, after, threshold float64) bool {
	return before < threshold && after >= threshold
}
