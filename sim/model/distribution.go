package model

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
)

// DistSpec names a distribution for per-instance initial values.
type DistSpec struct {
	Type   string             `yaml:"type"`
	Params map[string]float64 `yaml:"params,omitempty"`
}

// Sampler draws initial values.
type Sampler interface {
	Sample(rng *rand.Rand) float64
}

// UniformSampler draws from [lo, hi).
type UniformSampler struct {
	lo, hi float64
}

func (s *UniformSampler) Sample(rng *rand.Rand) float64 {
	return s.lo + (s.hi-s.lo)*rng.Float64()
}

// GaussianSampler draws from N(mean, stdDev²), clamped to [min, max] when
// bounds are given.
type GaussianSampler struct {
	mean, stdDev float64
	min, max     float64
	bounded      bool
}

func (s *GaussianSampler) Sample(rng *rand.Rand) float64 {
	val := rng.NormFloat64()*s.stdDev + s.mean
	if s.bounded {
		val = math.Min(s.max, math.Max(s.min, val))
	}
	return val
}

// ExponentialSampler draws exponentially distributed values with the given
// mean.
type ExponentialSampler struct {
	mean float64
}

func (s *ExponentialSampler) Sample(rng *rand.Rand) float64 {
	return rng.ExpFloat64() * s.mean
}

// ParetoLogNormalSampler is a mixture of Pareto and LogNormal distributions.
// With probability mixWeight, draw from Pareto(alpha, xm); otherwise LogNormal(mu, sigma).
type ParetoLogNormalSampler struct {
	alpha     float64 // Pareto shape
	xm        float64 // Pareto scale (minimum)
	mu        float64 // LogNormal mean of ln(X)
	sigma     float64 // LogNormal std dev of ln(X)
	mixWeight float64 // Probability of drawing from Pareto
}

func (s *ParetoLogNormalSampler) Sample(rng *rand.Rand) float64 {
	var val float64
	if rng.Float64() < s.mixWeight {
		u := rng.Float64()
		if u == 0 {
			u = math.SmallestNonzeroFloat64
		}
		val = s.xm / math.Pow(u, 1.0/s.alpha)
	} else {
		val = math.Exp(s.mu + s.sigma*rng.NormFloat64())
	}
	if math.IsInf(val, 0) || math.IsNaN(val) {
		return s.xm
	}
	return val
}

// EmpiricalSampler samples from a discrete distribution by inverse CDF.
type EmpiricalSampler struct {
	values []float64 // sorted
	cdf    []float64
}

// NewEmpiricalSampler creates a sampler from value → weight. Weights are
// normalized; non-positive weights are dropped.
func NewEmpiricalSampler(pdf map[float64]float64) *EmpiricalSampler {
	keys := make([]float64, 0, len(pdf))
	total := 0.0
	for k, w := range pdf {
		if w > 0 {
			keys = append(keys, k)
			total += w
		}
	}
	sort.Float64s(keys)

	s := &EmpiricalSampler{values: keys, cdf: make([]float64, len(keys))}
	cumulative := 0.0
	for i, k := range keys {
		cumulative += pdf[k] / total
		s.cdf[i] = cumulative
	}
	if len(s.cdf) > 0 {
		s.cdf[len(s.cdf)-1] = 1.0
	}
	return s
}

func (s *EmpiricalSampler) Sample(rng *rand.Rand) float64 {
	if len(s.values) == 1 {
		return s.values[0]
	}
	idx := sort.SearchFloat64s(s.cdf, rng.Float64())
	if idx >= len(s.values) {
		idx = len(s.values) - 1
	}
	return s.values[idx]
}

// ConstantSampler always returns the same value without drawing.
type ConstantSampler struct {
	value float64
}

func (s *ConstantSampler) Sample(_ *rand.Rand) float64 {
	return s.value
}

func requireParam(params map[string]float64, keys ...string) error {
	for _, k := range keys {
		if _, ok := params[k]; !ok {
			return fmt.Errorf("distribution requires parameter %q", k)
		}
	}
	return nil
}

// NewSampler creates a Sampler from a DistSpec.
func NewSampler(spec DistSpec) (Sampler, error) {
	p := spec.Params
	switch spec.Type {
	case "uniform":
		if err := requireParam(p, "min", "max"); err != nil {
			return nil, err
		}
		if p["max"] < p["min"] {
			return nil, fmt.Errorf("upper bound %v below lower bound %v", p["max"], p["min"])
		}
		return &UniformSampler{lo: p["min"], hi: p["max"]}, nil

	case "gaussian":
		if err := requireParam(p, "mean", "std_dev"); err != nil {
			return nil, err
		}
		if p["std_dev"] < 0 {
			return nil, fmt.Errorf("std_dev must be non-negative, got %v", p["std_dev"])
		}
		s := &GaussianSampler{mean: p["mean"], stdDev: p["std_dev"]}
		_, hasMin := p["min"]
		_, hasMax := p["max"]
		if hasMin != hasMax {
			return nil, fmt.Errorf("gaussian bounds need both min and max")
		}
		if hasMin {
			if p["max"] < p["min"] {
				return nil, fmt.Errorf("upper bound %v below lower bound %v", p["max"], p["min"])
			}
			s.min, s.max, s.bounded = p["min"], p["max"], true
		}
		return s, nil

	case "exponential":
		if err := requireParam(p, "mean"); err != nil {
			return nil, err
		}
		if p["mean"] <= 0 {
			return nil, fmt.Errorf("exponential mean must be positive, got %v", p["mean"])
		}
		return &ExponentialSampler{mean: p["mean"]}, nil

	case "pareto_lognormal":
		if err := requireParam(p, "alpha", "xm", "mu", "sigma", "mix_weight"); err != nil {
			return nil, err
		}
		if p["alpha"] <= 0 {
			return nil, fmt.Errorf("pareto alpha must be positive, got %v", p["alpha"])
		}
		return &ParetoLogNormalSampler{
			alpha:     p["alpha"],
			xm:        p["xm"],
			mu:        p["mu"],
			sigma:     p["sigma"],
			mixWeight: p["mix_weight"],
		}, nil

	case "constant":
		if err := requireParam(p, "value"); err != nil {
			return nil, err
		}
		return &ConstantSampler{value: p["value"]}, nil

	case "empirical":
		// params map each value to its weight
		pdf := make(map[float64]float64, len(p))
		for k, w := range p {
			v, err := strconv.ParseFloat(k, 64)
			if err != nil {
				return nil, fmt.Errorf("empirical value %q is not a number: %w", k, err)
			}
			if w > 0 {
				pdf[v] = w
			}
		}
		if len(pdf) == 0 {
			return nil, fmt.Errorf("empirical distribution has no positive weights")
		}
		return NewEmpiricalSampler(pdf), nil

	default:
		return nil, fmt.Errorf("unknown distribution type %q; valid: uniform, gaussian, exponential, pareto_lognormal, constant, empirical", spec.Type)
	}
}
