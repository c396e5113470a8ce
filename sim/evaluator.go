package sim

import (
	"math"
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/abm-sim/abm-sim/sim/trace"
)

// NumericPolicy selects what happens when an equation returns NaN or ±Inf.
type NumericPolicy string

const (
	// NumericFatal aborts the run (default).
	NumericFatal NumericPolicy = "fatal"
	// NumericClamp logs the issue, records it and writes a clamped value:
	// NaN becomes 0, ±Inf becomes ±MaxFloat64.
	NumericClamp NumericPolicy = "clamp"
)

// DefaultMaxDepth bounds nested equation pulls.
const DefaultMaxDepth = 1000

// Evaluator runs equations on demand, memoizing results per step and
// rejecting dependency cycles.
type Evaluator struct {
	tree     *Tree
	reg      *Registry
	policy   NumericPolicy
	maxDepth int
	rng      *PartitionedRNG
}

// NewEvaluator binds a tree to an equation registry.
func NewEvaluator(tree *Tree, reg *Registry, policy NumericPolicy, maxDepth int, rng *PartitionedRNG) *Evaluator {
	if policy == "" {
		policy = NumericFatal
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if rng == nil {
		rng = NewPartitionedRNG(NewSimulationKey(0))
	}
	return &Evaluator{tree: tree, reg: reg, policy: policy, maxDepth: maxDepth, rng: rng}
}

// chain is one evaluation call stack. The host goroutine and every worker
// own a separate chain.
type chain struct {
	frames []chainFrame
	scope  *workerScope // nil outside parallel evaluation
}

type chainFrame struct {
	entity *Entity
	label  string
}

// workerScope confines a parallel worker to the subtree of one group member.
type workerScope struct {
	member       *Entity
	group        *InstanceGroup
	rng          *rand.Rand
	issues       []trace.NumericIssue
	computations []trace.ComputeRecord
}

func (s *workerScope) owns(e *Entity) bool {
	return s.member.isAncestorOf(e)
}

// inSibling reports whether e lies in the subtree of another member of the
// group being evaluated in parallel.
func (s *workerScope) inSibling(e *Entity) bool {
	for cur := e; cur != nil; cur = cur.parent {
		if cur.parent == s.group.owner && cur.TypeLabel == s.group.TypeLabel {
			return cur != s.member
		}
	}
	return false
}

func (ev *Evaluator) frames(ch *chain) []Frame {
	out := make([]Frame, len(ch.frames))
	for i, f := range ch.frames {
		out[i] = Frame{Path: ev.tree.Path(f.entity), Label: f.label}
	}
	return out
}

// Value returns label's value at lag as seen from e, computing it when
// needed. This is the host entry point; equations use Ctx.
func (ev *Evaluator) Value(e *Entity, label string, lag int) (float64, error) {
	return ev.value(&chain{}, e, label, lag)
}

func (ev *Evaluator) value(ch *chain, from *Entity, label string, lag int) (float64, error) {
	owner, v := resolveVariable(from, label)
	if v == nil {
		err := newSimError(CodeFatalConfig, ErrUnknownLabel, ev.tree.Path(from), label, ev.tree.step,
			"variable %q not reachable from %s", label, from.TypeLabel)
		err.Chain = ev.frames(ch)
		return 0, err
	}
	return ev.get(ch, owner, v, lag)
}

// resolveVariable finds label on from itself, then in its descendants, then
// on its ancestors and their descendants.
func resolveVariable(from *Entity, label string) (*Entity, *Variable) {
	if v := from.Variable(label); v != nil {
		return from, v
	}
	if e, v := searchDown(from, label); v != nil {
		return e, v
	}
	for a := from.parent; a != nil; a = a.parent {
		if v := a.Variable(label); v != nil {
			return a, v
		}
		if e, v := searchDown(a, label); v != nil {
			return e, v
		}
	}
	return nil, nil
}

func searchDown(e *Entity, label string) (*Entity, *Variable) {
	for _, g := range e.groups {
		if len(g.instances) == 0 {
			continue
		}
		if v := g.instances[0].Variable(label); v != nil {
			return g.instances[0], v
		}
	}
	for _, g := range e.groups {
		if len(g.instances) == 0 {
			continue
		}
		if owner, v := searchDown(g.instances[0], label); v != nil {
			return owner, v
		}
	}
	return nil, nil
}

// needsCompute reports whether a lag-0 read of v must run an equation.
func (ev *Evaluator) needsCompute(e *Entity, v *Variable) bool {
	switch {
	case v.Kind == KindParameter, v.Flags.Has(FlagSkip), e.skipped:
		return false
	case v.Kind == KindFunction:
		return true
	case v.IsDummy():
		if d := e.Variable(v.Driver); d != nil && !d.IsDummy() {
			return ev.needsCompute(e, d)
		}
		return false
	default:
		return v.lastComputed < ev.tree.step
	}
}

func (ev *Evaluator) get(ch *chain, e *Entity, v *Variable, lag int) (float64, error) {
	if ch.scope != nil && !ch.scope.owns(e) {
		if ch.scope.inSibling(e) {
			return 0, ev.violation(ch, e, v.Label, "read inside a sibling subtree")
		}
		if lag == 0 && ev.needsCompute(e, v) {
			return 0, ev.violation(ch, e, v.Label, "read of a stale variable outside the worker subtree")
		}
	}

	if lag == 0 && ev.needsCompute(e, v) {
		if v.IsDummy() {
			if err := ev.driveDummy(ch, e, v); err != nil {
				return 0, err
			}
		} else if err := ev.compute(ch, e, v); err != nil {
			return 0, err
		}
	}

	val, err := v.slot(lag, ev.tree.DefaultValue)
	if err != nil {
		se := newSimError(CodeFatalConfig, err, ev.tree.Path(e), v.Label, ev.tree.step, "lag %d exceeds depth %d", lag, v.LagDepth)
		se.Chain = ev.frames(ch)
		return 0, se
	}
	return val, nil
}

// driveDummy freshens the dummy's driver; the driver's equation is expected
// to publish the dummy through Write. Whatever was last written is served.
func (ev *Evaluator) driveDummy(ch *chain, e *Entity, v *Variable) error {
	d := e.Variable(v.Driver)
	if d == nil {
		se := newSimError(CodeFatalConfig, ErrUnknownLabel, ev.tree.Path(e), v.Label, ev.tree.step, "dummy driver %q not found", v.Driver)
		se.Chain = ev.frames(ch)
		return se
	}
	if v.computing {
		return ev.cycle(ch, e, v.Label)
	}
	v.computing = true
	ch.frames = append(ch.frames, chainFrame{entity: e, label: v.Label})
	_, err := ev.get(ch, e, d, 0)
	ch.frames = ch.frames[:len(ch.frames)-1]
	v.computing = false
	if err != nil {
		return err
	}
	if v.lastComputed < ev.tree.step {
		v.lastComputed = ev.tree.step
	}
	return nil
}

func (ev *Evaluator) cycle(ch *chain, e *Entity, label string) error {
	se := newSimError(CodeDependencyCycle, ErrDependencyCycle, ev.tree.Path(e), label, ev.tree.step,
		"%q requested while already under computation", label)
	se.Chain = append(ev.frames(ch), Frame{Path: ev.tree.Path(e), Label: label})
	return se
}

func (ev *Evaluator) violation(ch *chain, e *Entity, label, what string) error {
	se := newSimError(CodeParallelViolation, ErrParallelViolation, ev.tree.Path(e), label, ev.tree.step, "%s", what)
	se.Chain = ev.frames(ch)
	return se
}

// compute runs v's equation: Stale → Computing → Fresh.
func (ev *Evaluator) compute(ch *chain, e *Entity, v *Variable) error {
	step := ev.tree.step
	if v.computing {
		return ev.cycle(ch, e, v.Label)
	}
	if len(ch.frames) >= ev.maxDepth {
		se := newSimError(CodeDependencyCycle, ErrDependencyCycle, ev.tree.Path(e), v.Label, step,
			"evaluation depth exceeds %d", ev.maxDepth)
		se.Chain = ev.frames(ch)
		return se
	}
	eq, ok := ev.reg.Lookup(v.Label)
	if !ok {
		se := newSimError(CodeFatalConfig, ErrMissingEquation, ev.tree.Path(e), v.Label, step,
			"no equation registered for %q", v.Label)
		se.Chain = ev.frames(ch)
		return se
	}

	v.computing = true
	ch.frames = append(ch.frames, chainFrame{entity: e, label: v.Label})
	c := &Ctx{Self: e, ev: ev, ch: ch}
	result := eq.Body(c)
	ch.frames = ch.frames[:len(ch.frames)-1]
	v.computing = false

	if c.err != nil {
		return c.err
	}
	if math.IsNaN(result) || math.IsInf(result, 0) {
		if ev.policy != NumericClamp {
			se := newSimError(CodeNumericInvalid, ErrNumericInvalid, ev.tree.Path(e), v.Label, step,
				"equation returned %v", result)
			se.Chain = ev.frames(ch)
			return se
		}
		clamped := clamp(result)
		issue := trace.NumericIssue{Step: step, Path: ev.tree.Path(e), Label: v.Label, Value: result, Replacement: clamped}
		logrus.Warnf("[step %05d] %s.%s returned %v; clamped to %v", step, issue.Path, v.Label, result, clamped)
		if ch.scope != nil {
			ch.scope.issues = append(ch.scope.issues, issue)
		} else {
			ev.tree.trace.RecordIssue(issue)
		}
		result = clamped
	}

	v.history[0] = result
	v.defined[0] = true
	v.lastComputed = step

	if v.Flags.Has(FlagDebug) {
		logrus.Debugf("[step %05d] %s.%s = %g", step, ev.tree.Path(e), v.Label, result)
	}
	if v.Flags.Has(FlagWatch) {
		rec := trace.ComputeRecord{Step: step, Path: ev.tree.Path(e), Label: v.Label, Value: result, Depth: len(ch.frames) + 1}
		if ch.scope != nil {
			ch.scope.computations = append(ch.scope.computations, rec)
		} else {
			ev.tree.trace.RecordComputation(rec)
		}
	}
	return nil
}

func clamp(x float64) float64 {
	switch {
	case math.IsNaN(x):
		return 0
	case math.IsInf(x, 1):
		return math.MaxFloat64
	case math.IsInf(x, -1):
		return -math.MaxFloat64
	}
	return x
}

// write publishes value into label's lag slot on e's resolved owner.
func (ev *Evaluator) write(ch *chain, from *Entity, label string, lag int, value float64) error {
	owner, v := resolveVariable(from, label)
	if v == nil {
		se := newSimError(CodeFatalConfig, ErrUnknownLabel, ev.tree.Path(from), label, ev.tree.step,
			"variable %q not reachable from %s", label, from.TypeLabel)
		se.Chain = ev.frames(ch)
		return se
	}
	if v.Kind == KindParameter {
		se := newSimError(CodeFatalConfig, ErrParameterWrite, ev.tree.Path(owner), label, ev.tree.step,
			"parameter %q is fixed after load", label)
		se.Chain = ev.frames(ch)
		return se
	}
	if ch.scope != nil && !ch.scope.owns(owner) {
		return ev.violation(ch, owner, label, "write outside the worker subtree")
	}
	if err := ev.tree.Write(owner, label, lag, value); err != nil {
		return err
	}
	return nil
}

func (ev *Evaluator) draws(ch *chain) *rand.Rand {
	if ch.scope != nil {
		return ch.scope.rng
	}
	return ev.rng.ForSubsystem(SubsystemEquations)
}

func (ev *Evaluator) structural(ch *chain, what string) error {
	if ch.scope == nil {
		return nil
	}
	se := newSimError(CodeParallelViolation, ErrParallelViolation, ev.tree.Path(ch.scope.member), "", ev.tree.step,
		"%s is not allowed during parallel evaluation", what)
	se.Chain = ev.frames(ch)
	return se
}
