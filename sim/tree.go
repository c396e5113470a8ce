package sim

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/abm-sim/abm-sim/sim/trace"
)

// slot is one arena cell. gen is bumped on every free so stale handles
// stop resolving.
type slot struct {
	gen    uint32
	entity *Entity
}

// Tree owns the entity arena, the current step and the value store.
//
// Structural mutation (AddInstance, Delete) is single-threaded. Only reads
// are allowed concurrently, and only while no mutation can happen.
type Tree struct {
	// DefaultValue is served for lag slots that were never written.
	DefaultValue float64

	root       *Entity
	slots      []slot
	free       []uint32
	live       int
	added      int // instances added by AddInstance
	deleted    int // Delete calls that removed an entity
	step       int64
	blueprints map[string]*Entity
	trace      *trace.SimulationTrace
}

// NewTree creates a tree with an empty root entity of type rootType,
// positioned at step 1.
func NewTree(rootType string) *Tree {
	t := &Tree{
		// index 0 is reserved so the zero Handle never resolves
		slots:      make([]slot, 1),
		step:       1,
		blueprints: make(map[string]*Entity),
		trace:      trace.NewSimulationTrace(trace.TraceConfig{Level: trace.TraceLevelNone}),
	}
	t.root = newEntity(rootType)
	t.register(t.root)
	return t
}

// Root returns the root entity.
func (t *Tree) Root() *Entity { return t.root }

// CurrentStep returns the step being evaluated.
func (t *Tree) CurrentStep() int64 { return t.step }

// SetStep positions the tree at step. Used once by loaders before the run.
func (t *Tree) SetStep(step int64) { t.step = step }

// Churn returns how many instances AddInstance created and how many
// entities Delete removed, subtrees counted once.
func (t *Tree) Churn() (added, deleted int) { return t.added, t.deleted }

// Len returns the number of live entities, root included.
func (t *Tree) Len() int { return t.live }

// Trace returns the trace collecting cemetery series and diagnostics.
func (t *Tree) Trace() *trace.SimulationTrace { return t.trace }

// SetTrace replaces the trace collector.
func (t *Tree) SetTrace(st *trace.SimulationTrace) { t.trace = st }

func (t *Tree) register(e *Entity) {
	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		t.slots = append(t.slots, slot{gen: 1})
		idx = uint32(len(t.slots) - 1)
	}
	t.slots[idx].entity = e
	e.handle = Handle{Index: idx, Gen: t.slots[idx].gen}
	e.deleted = false
	t.live++
}

func (t *Tree) unregister(e *Entity) {
	h := e.handle
	if h.IsNil() || int(h.Index) >= len(t.slots) || t.slots[h.Index].gen != h.Gen {
		return
	}
	t.slots[h.Index].entity = nil
	t.slots[h.Index].gen++
	t.free = append(t.free, h.Index)
	e.deleted = true
	t.live--
}

// Resolve returns the entity behind h, or nil if it has been deleted.
func (t *Tree) Resolve(h Handle) *Entity {
	if h.IsNil() || int(h.Index) >= len(t.slots) {
		return nil
	}
	s := t.slots[h.Index]
	if s.gen != h.Gen {
		return nil
	}
	return s.entity
}

// RegisterBlueprint makes e the tree-wide template for its type. Blueprints
// live outside the arena and are never visited by queries.
func (t *Tree) RegisterBlueprint(e *Entity) {
	t.blueprints[e.TypeLabel] = e
}

// Blueprint returns the tree-wide template for typeLabel.
func (t *Tree) Blueprint(typeLabel string) *Entity {
	return t.blueprints[typeLabel]
}

// NewEntity creates a detached entity of the given type. Attach it with
// Attach or use it as a blueprint.
func (t *Tree) NewEntity(typeLabel string) *Entity {
	return newEntity(typeLabel)
}

// Attach appends a detached entity (and its subtree) to parent's group of
// the entity's type.
func (t *Tree) Attach(parent, child *Entity) error {
	if child.parent != nil || child == t.root {
		return &SimError{Code: CodeFatalConfig, Path: t.Path(child), Message: "entity is already attached", Err: ErrStructure}
	}
	g := parent.ensureGroup(child.TypeLabel)
	if ref := g.schema(); ref != nil && ref != child && !sameSchema(ref, child) {
		return &SimError{Code: CodeFatalConfig, Path: t.Path(parent), Label: child.TypeLabel,
			Message: "instance variables differ from its group's schema", Err: ErrStructure}
	}
	child.parent = parent
	g.instances = append(g.instances, child)
	t.registerSubtree(child)
	return nil
}

// DeclareGroup makes sure parent holds a (possibly empty) group of
// typeLabel bound to the tree-wide blueprint of that type.
func (t *Tree) DeclareGroup(parent *Entity, typeLabel string) *InstanceGroup {
	g := parent.ensureGroup(typeLabel)
	if g.Blueprint == nil {
		g.Blueprint = t.blueprints[typeLabel]
	}
	return g
}

func (t *Tree) registerSubtree(e *Entity) {
	if e.handle.IsNil() || t.Resolve(e.handle) != e {
		t.register(e)
	}
	for _, g := range e.groups {
		for _, c := range g.instances {
			t.registerSubtree(c)
		}
	}
}

// Path returns a human-readable location such as Root/Sector[1]/Firm[2].
// Indices are 1-based positions within the instance group.
func (t *Tree) Path(e *Entity) string {
	if e == nil {
		return "<nil>"
	}
	var parts []string
	for cur := e; cur != nil; cur = cur.parent {
		if cur.parent == nil {
			parts = append(parts, cur.TypeLabel)
			continue
		}
		idx := -1
		if g := cur.parent.Group(cur.TypeLabel); g != nil {
			idx = g.indexOf(cur)
		}
		parts = append(parts, fmt.Sprintf("%s[%d]", cur.TypeLabel, idx+1))
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "/")
}

// Walk visits every live entity in depth-first pre-order: an entity, then
// each of its groups in declaration order, each instance in group order.
// Returning false from fn prunes the entity's subtree.
func (t *Tree) Walk(fn func(e *Entity) bool) {
	walk(t.root, fn)
}

func walk(e *Entity, fn func(*Entity) bool) {
	if !fn(e) {
		return
	}
	for _, g := range e.groups {
		for _, c := range g.Instances() {
			if !c.deleted {
				walk(c, fn)
			}
		}
	}
}

// AddInstance appends count clones of copyFrom into parent's group of
// typeLabel and returns them. With copyFrom nil the group's blueprint is
// used, then an existing instance, then the tree-wide blueprint.
//
// Each clone duplicates the source's variables, lag contents and owned
// sub-children. Clones are stale for the current step.
func (t *Tree) AddInstance(parent *Entity, typeLabel string, copyFrom *Entity, count int) ([]*Entity, error) {
	if parent == nil || parent.deleted {
		return nil, &SimError{Code: CodeFatalConfig, Label: typeLabel, Step: t.step, Message: "add instance under a deleted entity", Err: ErrStructure}
	}
	src := copyFrom
	if src == nil {
		if g := parent.Group(typeLabel); g != nil {
			if g.Blueprint != nil {
				src = g.Blueprint
			} else {
				src = g.schema()
			}
		}
	}
	if src == nil {
		src = t.blueprints[typeLabel]
	}
	if src == nil {
		src = Search(t.root, typeLabel)
	}
	if src == nil {
		return nil, &SimError{Code: CodeFatalConfig, Path: t.Path(parent), Label: typeLabel, Step: t.step,
			Message: fmt.Sprintf("no blueprint or instance of type %q is reachable", typeLabel), Err: ErrUnknownType}
	}
	if src.TypeLabel != typeLabel {
		return nil, &SimError{Code: CodeFatalConfig, Path: t.Path(parent), Label: typeLabel, Step: t.step,
			Message: fmt.Sprintf("copy source has type %q", src.TypeLabel), Err: ErrUnknownType}
	}

	g := parent.ensureGroup(typeLabel)
	if ref := g.schema(); ref != nil && !sameSchema(ref, src) {
		return nil, &SimError{Code: CodeFatalConfig, Path: t.Path(parent), Label: typeLabel, Step: t.step,
			Message: "copy source variables differ from the group's schema", Err: ErrStructure}
	}
	if g.Blueprint == nil {
		g.Blueprint = t.blueprints[typeLabel]
	}

	out := make([]*Entity, 0, count)
	for i := 0; i < count; i++ {
		c := t.clone(src, parent)
		g.instances = append(g.instances, c)
		out = append(out, c)
	}
	t.added += len(out)
	logrus.Debugf("[step %05d] added %d %s under %s", t.step, count, typeLabel, t.Path(parent))
	return out, nil
}

func (t *Tree) clone(src, parent *Entity) *Entity {
	c := newEntity(src.TypeLabel)
	c.parent = parent
	c.skipped = src.skipped
	for _, v := range src.vars {
		cv := v.clone()
		if cv.Kind != KindParameter && cv.lastComputed >= t.step {
			cv.lastComputed = t.step - 1
		}
		c.varIdx[cv.Label] = len(c.vars)
		c.vars = append(c.vars, cv)
	}
	t.register(c)
	for _, g := range src.groups {
		cg := &InstanceGroup{TypeLabel: g.TypeLabel, Blueprint: g.Blueprint, owner: c}
		for _, inst := range g.instances {
			cg.instances = append(cg.instances, t.clone(inst, c))
		}
		c.groups = append(c.groups, cg)
	}
	return c
}

// Delete detaches e from its group, flushes the saved series of its whole
// subtree to the cemetery and frees every arena slot, invalidating hooks
// that point into the subtree.
func (t *Tree) Delete(e *Entity) error {
	if e == nil || e.deleted {
		return nil
	}
	if e == t.root {
		return &SimError{Code: CodeFatalConfig, Path: t.Path(e), Step: t.step, Message: "cannot delete the root", Err: ErrStructure}
	}
	if e.parent == nil {
		return &SimError{Code: CodeFatalConfig, Path: e.TypeLabel, Step: t.step,
			Message: "cannot delete a detached entity or blueprint", Err: ErrStructure}
	}
	if label, busy := underComputation(e); busy {
		return &SimError{Code: CodeFatalConfig, Path: t.Path(e), Label: label, Step: t.step,
			Message: "cannot delete an entity while one of its variables is being computed", Err: ErrStructure}
	}
	path := t.Path(e)
	if g := e.parent.Group(e.TypeLabel); g != nil {
		g.remove(e)
	}
	t.bury(e, path)
	e.parent = nil
	t.deleted++
	logrus.Debugf("[step %05d] deleted %s", t.step, path)
	return nil
}

func underComputation(e *Entity) (string, bool) {
	for _, v := range e.vars {
		if v.computing {
			return v.Label, true
		}
	}
	for _, g := range e.groups {
		for _, c := range g.instances {
			if l, ok := underComputation(c); ok {
				return l, true
			}
		}
	}
	return "", false
}

func (t *Tree) bury(e *Entity, path string) {
	for _, v := range e.vars {
		if v.Flags.Has(FlagSave) && len(v.saved) > 0 {
			t.trace.Bury(trace.Series{
				Path:      path,
				Type:      e.TypeLabel,
				Label:     v.Label,
				Points:    v.saved,
				Deleted:   true,
				DeletedAt: t.step,
			})
			v.saved = nil
		}
	}
	for _, g := range e.groups {
		for i, c := range g.instances {
			t.bury(c, fmt.Sprintf("%s/%s[%d]", path, c.TypeLabel, i+1))
		}
	}
	t.unregister(e)
}

// SetHook points e's primary hook at target. A nil target clears it.
func (t *Tree) SetHook(e, target *Entity) {
	e.hook = handleOf(target)
}

// SetHookAt sets numbered hook i, growing the hook table as needed.
func (t *Tree) SetHookAt(e *Entity, i int, target *Entity) {
	if i < 0 {
		return
	}
	for len(e.hooks) <= i {
		e.hooks = append(e.hooks, NilHandle)
	}
	e.hooks[i] = handleOf(target)
}

// HookTarget resolves e's primary hook. Nil when unset or when the target
// was deleted; callers re-resolve through Search in that case.
func (t *Tree) HookTarget(e *Entity) *Entity {
	return t.Resolve(e.hook)
}

func handleOf(e *Entity) Handle {
	if e == nil || e.deleted {
		return NilHandle
	}
	return e.handle
}

// Read returns history[lag] of e's own variable label without ever
// computing. A lag-0 read of a variable not yet computed this step serves
// the default value.
func (t *Tree) Read(e *Entity, label string, lag int) (float64, error) {
	v := e.Variable(label)
	if v == nil {
		return 0, newSimError(CodeFatalConfig, ErrUnknownLabel, t.Path(e), label, t.step, "variable %q not found on %s", label, e.TypeLabel)
	}
	if lag == 0 && !v.fresh(t.step) {
		return t.DefaultValue, nil
	}
	val, err := v.slot(lag, t.DefaultValue)
	if err != nil {
		return 0, newSimError(CodeFatalConfig, err, t.Path(e), label, t.step, "lag %d exceeds depth %d", lag, v.LagDepth)
	}
	return val, nil
}

// Write sets history[lag] directly, bypassing equations. Writing lag 0
// marks the variable fresh for the current step.
func (t *Tree) Write(e *Entity, label string, lag int, value float64) error {
	v := e.Variable(label)
	if v == nil {
		return newSimError(CodeFatalConfig, ErrUnknownLabel, t.Path(e), label, t.step, "variable %q not found on %s", label, e.TypeLabel)
	}
	if err := v.set(lag, value); err != nil {
		return newSimError(CodeFatalConfig, err, t.Path(e), label, t.step, "lag %d exceeds depth %d", lag, v.LagDepth)
	}
	if lag == 0 && v.Kind != KindParameter {
		v.lastComputed = t.step
	}
	return nil
}

// AdvanceStep shifts every variable's lag window and moves to the next step.
func (t *Tree) AdvanceStep() {
	t.Walk(func(e *Entity) bool {
		for _, v := range e.vars {
			v.shift()
		}
		return true
	})
	t.step++
}

// Check verifies parent/group consistency and per-group schema identity.
func (t *Tree) Check() error {
	var err error
	t.Walk(func(e *Entity) bool {
		if err != nil {
			return false
		}
		if t.Resolve(e.handle) != e {
			err = &SimError{Code: CodeFatalConfig, Path: t.Path(e), Message: "entity not registered in arena", Err: ErrStructure}
			return false
		}
		for _, g := range e.groups {
			if g.owner != e {
				err = &SimError{Code: CodeFatalConfig, Path: t.Path(e), Label: g.TypeLabel, Message: "group owner mismatch", Err: ErrStructure}
				return false
			}
			ref := g.schema()
			for _, c := range g.instances {
				if c.parent != e || c.TypeLabel != g.TypeLabel {
					err = &SimError{Code: CodeFatalConfig, Path: t.Path(c), Message: "parent pointer disagrees with group membership", Err: ErrStructure}
					return false
				}
				if !sameSchema(ref, c) {
					err = &SimError{Code: CodeFatalConfig, Path: t.Path(c), Message: "instance variables differ from group schema", Err: ErrStructure}
					return false
				}
			}
		}
		return true
	})
	return err
}
