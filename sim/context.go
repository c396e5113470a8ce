package sim

import (
	"fmt"
	"iter"
)

// Ctx is handed to every equation body. Self is the entity owning the
// variable being computed.
//
// Errors are sticky: the first failure is recorded, later operations become
// no-ops returning zero values, and the evaluator reports the recorded error
// once the body returns. Bodies therefore read like straight-line math and
// may check Err() when they need to branch on a failure.
type Ctx struct {
	Self *Entity

	ev  *Evaluator
	ch  *chain
	err error
}

// Err returns the first failure recorded on the context.
func (c *Ctx) Err() error { return c.err }

// Fail records err as the equation's outcome. Only the first call counts.
func (c *Ctx) Fail(err error) {
	if c.err == nil && err != nil {
		c.err = err
	}
}

// Abortf fails the computation with a fatal configuration error carrying
// the caller's location.
func (c *Ctx) Abortf(format string, args ...any) {
	se := newSimError(CodeFatalConfig, ErrStructure, c.ev.tree.Path(c.Self), c.label(), c.Step(), format, args...)
	se.Chain = c.ev.frames(c.ch)
	c.Fail(se)
}

func (c *Ctx) label() string {
	if n := len(c.ch.frames); n > 0 {
		return c.ch.frames[n-1].label
	}
	return ""
}

// Step returns the step being computed.
func (c *Ctx) Step() int64 { return c.ev.tree.step }

// Tree returns the tree the equation runs against.
func (c *Ctx) Tree() *Tree { return c.ev.tree }

// Path returns e's location for messages.
func (c *Ctx) Path(e *Entity) string { return c.ev.tree.Path(e) }

// V returns the current value of label as seen from Self.
func (c *Ctx) V(label string) float64 { return c.VLS(c.Self, label, 0) }

// VL returns label's value lag steps ago as seen from Self.
func (c *Ctx) VL(label string, lag int) float64 { return c.VLS(c.Self, label, lag) }

// VS returns the current value of label as seen from e.
func (c *Ctx) VS(e *Entity, label string) float64 { return c.VLS(e, label, 0) }

// VLS returns label's value lag steps ago as seen from e.
func (c *Ctx) VLS(e *Entity, label string, lag int) float64 {
	if c.err != nil {
		return 0
	}
	if e == nil {
		c.Abortf("read of %q from a nil entity", label)
		return 0
	}
	val, err := c.ev.value(c.ch, e, label, lag)
	if err != nil {
		c.Fail(err)
		return 0
	}
	return val
}

// Write publishes value as label's current value, marking it fresh.
func (c *Ctx) Write(label string, value float64) { c.WriteLS(c.Self, label, 0, value) }

// WriteL sets label's value lag steps ago.
func (c *Ctx) WriteL(label string, lag int, value float64) { c.WriteLS(c.Self, label, lag, value) }

// WriteS publishes value as label's current value on e.
func (c *Ctx) WriteS(e *Entity, label string, value float64) { c.WriteLS(e, label, 0, value) }

// WriteLS sets label's lag slot on e.
func (c *Ctx) WriteLS(e *Entity, label string, lag int, value float64) {
	if c.err != nil {
		return
	}
	if e == nil {
		c.Abortf("write of %q to a nil entity", label)
		return
	}
	c.Fail(c.ev.write(c.ch, e, label, lag, value))
}

// Incr adds delta to label's current value and returns the result.
func (c *Ctx) Incr(label string, delta float64) float64 { return c.IncrS(c.Self, label, delta) }

// IncrS adds delta to label's current value on e and returns the result.
func (c *Ctx) IncrS(e *Entity, label string, delta float64) float64 {
	v := c.VS(e, label) + delta
	c.WriteS(e, label, v)
	if c.err != nil {
		return 0
	}
	return v
}

// Mult multiplies label's current value by factor and returns the result.
func (c *Ctx) Mult(label string, factor float64) float64 { return c.MultS(c.Self, label, factor) }

// MultS multiplies label's current value on e by factor and returns the result.
func (c *Ctx) MultS(e *Entity, label string, factor float64) float64 {
	v := c.VS(e, label) * factor
	c.WriteS(e, label, v)
	if c.err != nil {
		return 0
	}
	return v
}

// Search returns the first descendant of Self with the given type.
func (c *Ctx) Search(typeLabel string) *Entity { return c.SearchS(c.Self, typeLabel) }

// SearchS returns the first descendant of from with the given type.
func (c *Ctx) SearchS(from *Entity, typeLabel string) *Entity {
	if c.err != nil || from == nil {
		return nil
	}
	return Search(from, typeLabel)
}

// SearchAt returns the n-th (1-based) instance of typeLabel below Self.
func (c *Ctx) SearchAt(typeLabel string, n int) *Entity {
	if c.err != nil {
		return nil
	}
	return SearchAt(c.Self, typeLabel, n)
}

// SearchCond returns the first instance of typeLabel below Self whose
// current value of label equals value.
func (c *Ctx) SearchCond(typeLabel, label string, value float64) *Entity {
	return c.SearchCondS(c.Self, typeLabel, label, value)
}

// SearchCondS is SearchCond starting from an arbitrary entity.
func (c *Ctx) SearchCondS(from *Entity, typeLabel, label string, value float64) *Entity {
	if c.err != nil || from == nil {
		return nil
	}
	for e := range SafeIterate(from, typeLabel) {
		v := c.VS(e, label)
		if c.err != nil {
			return nil
		}
		if v == value {
			return e
		}
	}
	return nil
}

// Iterate yields the instances of typeLabel below Self. The loop body must
// not delete group members; use SafeIterate for that.
func (c *Ctx) Iterate(typeLabel string) iter.Seq[*Entity] { return c.IterateS(c.Self, typeLabel) }

// IterateS yields the instances of typeLabel below from.
func (c *Ctx) IterateS(from *Entity, typeLabel string) iter.Seq[*Entity] {
	inner := Iterate(from, typeLabel)
	return func(yield func(*Entity) bool) {
		if c.err != nil || from == nil {
			return
		}
		for e := range inner {
			if !yield(e) || c.err != nil {
				return
			}
		}
	}
}

// SafeIterate yields the instances of typeLabel below Self over a snapshot,
// so the body may delete the current element.
func (c *Ctx) SafeIterate(typeLabel string) iter.Seq[*Entity] { return c.SafeIterateS(c.Self, typeLabel) }

// SafeIterateS is SafeIterate starting from an arbitrary entity.
func (c *Ctx) SafeIterateS(from *Entity, typeLabel string) iter.Seq[*Entity] {
	inner := SafeIterate(from, typeLabel)
	return func(yield func(*Entity) bool) {
		if c.err != nil || from == nil {
			return
		}
		for e := range inner {
			if !yield(e) || c.err != nil {
				return
			}
		}
	}
}

// Sort reorders the group of typeLabel below Self by label's current value.
func (c *Ctx) Sort(typeLabel, label string, dir Direction) { c.SortS(c.Self, typeLabel, label, dir) }

// SortS reorders the group of typeLabel below from.
func (c *Ctx) SortS(from *Entity, typeLabel, label string, dir Direction) {
	if c.err != nil || from == nil {
		return
	}
	g := FindGroup(from, typeLabel)
	if g == nil {
		return
	}
	if c.ch.scope != nil && !c.ch.scope.owns(g.owner) {
		c.Fail(c.ev.structural(c.ch, "sorting a group outside the worker subtree"))
		return
	}
	c.Fail(sortGroup(g, dir, func(e *Entity) (float64, error) {
		return c.ev.value(c.ch, e, label, 0)
	}))
}

// AddInstance appends count clones of copyFrom (or the type's blueprint
// when copyFrom is nil) under parent.
func (c *Ctx) AddInstance(parent *Entity, typeLabel string, copyFrom *Entity, count int) []*Entity {
	if c.err != nil {
		return nil
	}
	if err := c.ev.structural(c.ch, "adding instances"); err != nil {
		c.Fail(err)
		return nil
	}
	out, err := c.ev.tree.AddInstance(parent, typeLabel, copyFrom, count)
	if err != nil {
		c.Fail(err)
		return nil
	}
	return out
}

// AddOne appends one blueprint clone of typeLabel under Self.
func (c *Ctx) AddOne(typeLabel string) *Entity {
	out := c.AddInstance(c.Self, typeLabel, nil, 1)
	if len(out) == 0 {
		return nil
	}
	return out[0]
}

// Delete removes e and its subtree.
func (c *Ctx) Delete(e *Entity) {
	if c.err != nil {
		return
	}
	if err := c.ev.structural(c.ch, "deleting entities"); err != nil {
		c.Fail(err)
		return
	}
	c.Fail(c.ev.tree.Delete(e))
}

// Hook returns the entity Self's hook points to, nil when unset or deleted.
func (c *Ctx) Hook() *Entity { return c.HookOf(c.Self) }

// HookOf returns the entity e's hook points to.
func (c *Ctx) HookOf(e *Entity) *Entity {
	if e == nil {
		return nil
	}
	return c.ev.tree.HookTarget(e)
}

// HookAt returns the target of Self's numbered hook i.
func (c *Ctx) HookAt(i int) *Entity {
	return c.ev.tree.Resolve(c.Self.HookAt(i))
}

// SetHook points Self's hook at target.
func (c *Ctx) SetHook(target *Entity) { c.SetHookOf(c.Self, target) }

// SetHookOf points e's hook at target.
func (c *Ctx) SetHookOf(e, target *Entity) {
	if c.err != nil || e == nil {
		return
	}
	if c.ch.scope != nil && !c.ch.scope.owns(e) {
		c.Fail(c.ev.structural(c.ch, "setting a hook outside the worker subtree"))
		return
	}
	c.ev.tree.SetHook(e, target)
}

// SetHookAt sets Self's numbered hook i.
func (c *Ctx) SetHookAt(i int, target *Entity) {
	if c.err != nil {
		return
	}
	if c.ch.scope != nil && !c.ch.scope.owns(c.Self) {
		c.Fail(c.ev.structural(c.ch, "setting a hook outside the worker subtree"))
		return
	}
	c.ev.tree.SetHookAt(c.Self, i, target)
}

// Uniform draws from U[lo, hi).
func (c *Ctx) Uniform(lo, hi float64) float64 {
	return lo + (hi-lo)*c.ev.draws(c.ch).Float64()
}

// Normal draws from N(mean, sd²).
func (c *Ctx) Normal(mean, sd float64) float64 {
	return mean + sd*c.ev.draws(c.ch).NormFloat64()
}

// RND draws from U[0, 1).
func (c *Ctx) RND() float64 {
	return c.ev.draws(c.ch).Float64()
}

func (c *Ctx) String() string {
	return fmt.Sprintf("Ctx(%s.%s@%d)", c.Path(c.Self), c.label(), c.Step())
}
