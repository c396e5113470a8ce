package sim

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Stats summarizes a variable over a group.
type Stats struct {
	N        int
	Mean     float64
	Variance float64 // unbiased; 0 for fewer than two members
	Min      float64
	Max      float64
}

// collect freshens label on every non-skipped member of the group of
// typeLabel below from, left to right, and returns members and values.
// A member deleted by an earlier member's computation is skipped.
func (c *Ctx) collect(from *Entity, typeLabel, label string) ([]*Entity, []float64) {
	if c.err != nil || from == nil {
		return nil, nil
	}
	var members []*Entity
	var values []float64
	for e := range SafeIterate(from, typeLabel) {
		if e.skipped {
			continue
		}
		v := c.VS(e, label)
		if c.err != nil {
			return nil, nil
		}
		members = append(members, e)
		values = append(values, v)
	}
	return members, values
}

// Sum adds label over the group of typeLabel below Self.
func (c *Ctx) Sum(typeLabel, label string) float64 { return c.SumS(c.Self, typeLabel, label) }

// SumS adds label over the group of typeLabel below from.
func (c *Ctx) SumS(from *Entity, typeLabel, label string) float64 {
	_, values := c.collect(from, typeLabel, label)
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}

// Count returns the number of non-skipped instances of typeLabel below Self.
func (c *Ctx) Count(typeLabel string) int { return c.CountS(c.Self, typeLabel) }

// CountS returns the number of non-skipped instances of typeLabel below from.
func (c *Ctx) CountS(from *Entity, typeLabel string) int {
	if c.err != nil || from == nil {
		return 0
	}
	n := 0
	for e := range Iterate(from, typeLabel) {
		if !e.skipped {
			n++
		}
	}
	return n
}

// Ave averages label over the group of typeLabel below Self; 0 when empty.
func (c *Ctx) Ave(typeLabel, label string) float64 { return c.AveS(c.Self, typeLabel, label) }

// AveS averages label over the group of typeLabel below from.
func (c *Ctx) AveS(from *Entity, typeLabel, label string) float64 {
	_, values := c.collect(from, typeLabel, label)
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

// WeightedAverage averages label weighted by weightLabel; 0 when the total
// weight is zero.
func (c *Ctx) WeightedAverage(typeLabel, label, weightLabel string) float64 {
	return c.WeightedAverageS(c.Self, typeLabel, label, weightLabel)
}

// WeightedAverageS is WeightedAverage starting from an arbitrary entity.
func (c *Ctx) WeightedAverageS(from *Entity, typeLabel, label, weightLabel string) float64 {
	if c.err != nil || from == nil {
		return 0
	}
	num, den := 0.0, 0.0
	for e := range SafeIterate(from, typeLabel) {
		if e.skipped {
			continue
		}
		x := c.VS(e, label)
		w := c.VS(e, weightLabel)
		if c.err != nil {
			return 0
		}
		num += w * x
		den += w
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// Max returns the largest label over the group of typeLabel below Self.
func (c *Ctx) Max(typeLabel, label string) float64 {
	_, v := c.MaxEntityS(c.Self, typeLabel, label)
	return v
}

// MaxS returns the largest label over the group of typeLabel below from.
func (c *Ctx) MaxS(from *Entity, typeLabel, label string) float64 {
	_, v := c.MaxEntityS(from, typeLabel, label)
	return v
}

// MaxEntityS returns the member holding the largest value and that value.
// The first maximal member in traversal order wins ties. An empty group
// yields (nil, 0).
func (c *Ctx) MaxEntityS(from *Entity, typeLabel, label string) (*Entity, float64) {
	members, values := c.collect(from, typeLabel, label)
	return extreme(members, values, func(a, b float64) bool { return a > b })
}

// Min returns the smallest label over the group of typeLabel below Self.
func (c *Ctx) Min(typeLabel, label string) float64 {
	_, v := c.MinEntityS(c.Self, typeLabel, label)
	return v
}

// MinEntityS returns the member holding the smallest value; first wins ties.
func (c *Ctx) MinEntityS(from *Entity, typeLabel, label string) (*Entity, float64) {
	members, values := c.collect(from, typeLabel, label)
	return extreme(members, values, func(a, b float64) bool { return a < b })
}

func extreme(members []*Entity, values []float64, better func(a, b float64) bool) (*Entity, float64) {
	if len(values) == 0 {
		return nil, 0
	}
	best := 0
	for i := 1; i < len(values); i++ {
		if better(values[i], values[best]) {
			best = i
		}
	}
	return members[best], values[best]
}

// Stat summarizes label over the group of typeLabel below Self.
func (c *Ctx) Stat(typeLabel, label string) Stats { return c.StatS(c.Self, typeLabel, label) }

// StatS summarizes label over the group of typeLabel below from.
func (c *Ctx) StatS(from *Entity, typeLabel, label string) Stats {
	_, values := c.collect(from, typeLabel, label)
	s := Stats{N: len(values)}
	if s.N == 0 {
		return s
	}
	s.Min, s.Max = math.Inf(1), math.Inf(-1)
	for _, v := range values {
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	if s.N == 1 {
		s.Mean = values[0]
		return s
	}
	s.Mean, s.Variance = stat.MeanVariance(values, nil)
	return s
}

// DrawWeighted picks one instance of typeLabel below Self with probability
// proportional to weightLabel. Exactly one random draw is consumed per
// call, even when nothing can be picked.
func (c *Ctx) DrawWeighted(typeLabel, weightLabel string) *Entity {
	return c.DrawWeightedS(c.Self, typeLabel, weightLabel)
}

// DrawWeightedS is DrawWeighted starting from an arbitrary entity.
func (c *Ctx) DrawWeightedS(from *Entity, typeLabel, weightLabel string) *Entity {
	if c.err != nil {
		return nil
	}
	u := c.RND()
	members, weights := c.collect(from, typeLabel, weightLabel)
	if c.err != nil {
		return nil
	}
	total := 0.0
	for i, w := range weights {
		if w < 0 || math.IsNaN(w) {
			c.Abortf("negative weight %v for %q on %s", w, weightLabel, c.Path(members[i]))
			return nil
		}
		total += w
	}
	if total == 0 {
		return nil
	}
	target := u * total
	acc := 0.0
	for i, w := range weights {
		acc += w
		if target < acc {
			return members[i]
		}
	}
	// rounding left target at the total; the last positive weight owns it
	for i := len(weights) - 1; i >= 0; i-- {
		if weights[i] > 0 {
			return members[i]
		}
	}
	return nil
}

// DrawUniform picks one non-skipped instance of typeLabel below Self with
// equal probability, consuming exactly one draw.
func (c *Ctx) DrawUniform(typeLabel string) *Entity { return c.DrawUniformS(c.Self, typeLabel) }

// DrawUniformS is DrawUniform starting from an arbitrary entity.
func (c *Ctx) DrawUniformS(from *Entity, typeLabel string) *Entity {
	if c.err != nil {
		return nil
	}
	u := c.RND()
	if from == nil {
		return nil
	}
	var members []*Entity
	for e := range Iterate(from, typeLabel) {
		if !e.skipped {
			members = append(members, e)
		}
	}
	if len(members) == 0 {
		return nil
	}
	i := int(u * float64(len(members)))
	if i >= len(members) {
		i = len(members) - 1
	}
	return members[i]
}
