// Package active implements active-inference scoring for planning nodes.
//
// Each node in the planning tree carries a belief distribution over named
// hypotheses about the task outcome. Scoring combines an epistemic term
// (normalized entropy of the beliefs) with a pragmatic term (divergence from
// the caller's goal vector) into an expected free energy; search maximizes
// the negated value.
package active

import (
	"errors"
	"fmt"
	"math"
)

// NormalizationTolerance is the allowed deviation of belief mass from 1.0.
const NormalizationTolerance = 1e-6

// Errors for belief distribution construction.
var (
	ErrEmptyBeliefs   = errors.New("belief distribution must contain at least one hypothesis")
	ErrNegativeBelief = errors.New("belief probabilities must be non-negative")
	ErrNotNormalized  = errors.New("belief probabilities must sum to 1.0")
)

// Distribution is a probability distribution over named hypotheses.
//
// A Distribution is validated at construction and treated as immutable
// afterward; re-scoring a node attaches a fresh distribution rather than
// mutating in place.
type Distribution map[string]float64

// NewDistribution validates and returns a belief distribution.
// The probabilities must be non-negative and sum to 1.0 within
// NormalizationTolerance.
func NewDistribution(beliefs map[string]float64) (Distribution, error) {
	if len(beliefs) == 0 {
		return nil, ErrEmptyBeliefs
	}

	var sum float64
	for name, p := range beliefs {
		if p < 0 {
			return nil, fmt.Errorf("%w: %q = %v", ErrNegativeBelief, name, p)
		}
		sum += p
	}

	if math.Abs(sum-1.0) > NormalizationTolerance {
		return nil, fmt.Errorf("%w: sum = %v", ErrNotNormalized, sum)
	}

	d := make(Distribution, len(beliefs))
	for name, p := range beliefs {
		d[name] = p
	}
	return d, nil
}

// Normalized rescales arbitrary non-negative weights into a valid
// distribution. Used when hypotheses come from an inference-service response
// whose confidence scores do not sum to one.
func Normalized(weights map[string]float64) (Distribution, error) {
	if len(weights) == 0 {
		return nil, ErrEmptyBeliefs
	}

	var sum float64
	for name, w := range weights {
		if w < 0 {
			return nil, fmt.Errorf("%w: %q = %v", ErrNegativeBelief, name, w)
		}
		sum += w
	}

	d := make(Distribution, len(weights))
	if sum == 0 {
		// All-zero weights degrade to a uniform distribution.
		uniform := 1.0 / float64(len(weights))
		for name := range weights {
			d[name] = uniform
		}
		return d, nil
	}

	for name, w := range weights {
		d[name] = w / sum
	}
	return d, nil
}

// Entropy returns the Shannon entropy of the distribution in nats.
func (d Distribution) Entropy() float64 {
	var h float64
	for _, p := range d {
		if p > 0 {
			h -= p * math.Log(p)
		}
	}
	return h
}

// Uncertainty returns the entropy normalized to [0,1] by log(|beliefs|).
// A single-hypothesis distribution has uncertainty 0.
func (d Distribution) Uncertainty() float64 {
	n := len(d)
	if n <= 1 {
		return 0
	}
	return clamp(d.Entropy()/math.Log(float64(n)), 0, 1)
}

// Divergence returns the cosine distance between the distribution and a goal
// vector, clamped to [0,2] and normalized to [0,1]. Hypotheses absent from
// either side contribute zero to the dot product. A zero-magnitude goal
// vector yields maximal divergence.
func (d Distribution) Divergence(goal map[string]float64) float64 {
	var dot, dMag, gMag float64

	for name, p := range d {
		dMag += p * p
		if g, ok := goal[name]; ok {
			dot += p * g
		}
	}
	for _, g := range goal {
		gMag += g * g
	}

	if dMag == 0 || gMag == 0 {
		return 1
	}

	cos := dot / (math.Sqrt(dMag) * math.Sqrt(gMag))
	distance := clamp(1-cos, 0, 2)
	return distance / 2
}

// Clone returns a copy of the distribution.
func (d Distribution) Clone() Distribution {
	out := make(Distribution, len(d))
	for name, p := range d {
		out[name] = p
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
