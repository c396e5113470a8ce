package sim

// Handle is a generation-checked reference to an entity in a Tree's arena.
// A handle outlives its entity safely: resolving it after deletion yields nil.
type Handle struct {
	Index uint32
	Gen   uint32
}

// NilHandle never resolves.
var NilHandle = Handle{}

// IsNil reports whether h is the zero handle.
func (h Handle) IsNil() bool { return h == NilHandle }

// Entity is a node of the simulation tree.
type Entity struct {
	TypeLabel string

	handle  Handle
	parent  *Entity
	groups  []*InstanceGroup
	vars    []*Variable
	varIdx  map[string]int
	hook    Handle
	hooks   []Handle
	deleted bool
	// skipped entities are excluded from the step driver and aggregates.
	skipped bool
}

func newEntity(typeLabel string) *Entity {
	return &Entity{
		TypeLabel: typeLabel,
		varIdx:    make(map[string]int),
	}
}

// Handle returns the entity's arena handle.
func (e *Entity) Handle() Handle { return e.handle }

// Parent returns the owning entity, nil for the root.
func (e *Entity) Parent() *Entity { return e.parent }

// Deleted reports whether the entity has been removed from its tree.
func (e *Entity) Deleted() bool { return e.deleted }

// Skipped reports whether the entity is excluded from computation.
func (e *Entity) Skipped() bool { return e.skipped }

// SetSkipped toggles computation of the entity's subtree.
func (e *Entity) SetSkipped(skip bool) { e.skipped = skip }

// Variable returns the named variable owned directly by e.
func (e *Entity) Variable(label string) *Variable {
	if i, ok := e.varIdx[label]; ok {
		return e.vars[i]
	}
	return nil
}

// Variables returns the entity's variables in declaration order.
func (e *Entity) Variables() []*Variable {
	return append([]*Variable(nil), e.vars...)
}

// Labels returns variable labels in declaration order.
func (e *Entity) Labels() []string {
	out := make([]string, len(e.vars))
	for i, v := range e.vars {
		out[i] = v.Label
	}
	return out
}

// AddVariable appends a variable. Used while building entities and blueprints.
func (e *Entity) AddVariable(v *Variable) error {
	if _, dup := e.varIdx[v.Label]; dup {
		return &SimError{Code: CodeFatalConfig, Label: v.Label, Message: "variable declared twice on " + e.TypeLabel, Err: ErrStructure}
	}
	e.varIdx[v.Label] = len(e.vars)
	e.vars = append(e.vars, v)
	return nil
}

// Group returns the child group of the given type, or nil.
func (e *Entity) Group(typeLabel string) *InstanceGroup {
	for _, g := range e.groups {
		if g.TypeLabel == typeLabel {
			return g
		}
	}
	return nil
}

// Groups returns the child groups in declaration order.
func (e *Entity) Groups() []*InstanceGroup {
	return append([]*InstanceGroup(nil), e.groups...)
}

// ensureGroup returns the named group, creating an empty one if needed.
func (e *Entity) ensureGroup(typeLabel string) *InstanceGroup {
	if g := e.Group(typeLabel); g != nil {
		return g
	}
	g := &InstanceGroup{TypeLabel: typeLabel, owner: e}
	e.groups = append(e.groups, g)
	return g
}

// Hook returns the primary hook handle.
func (e *Entity) Hook() Handle { return e.hook }

// HookAt returns numbered hook i, or NilHandle when unset.
func (e *Entity) HookAt(i int) Handle {
	if i < 0 || i >= len(e.hooks) {
		return NilHandle
	}
	return e.hooks[i]
}

// isAncestorOf reports whether e is a (non-strict) ancestor of other.
func (e *Entity) isAncestorOf(other *Entity) bool {
	for cur := other; cur != nil; cur = cur.parent {
		if cur == e {
			return true
		}
	}
	return false
}

// InstanceGroup is the ordered set of sibling entities of one type under
// one parent. The blueprint describes the type's schema while the group
// holds no live instances and serves as the default clone source.
type InstanceGroup struct {
	TypeLabel string
	Blueprint *Entity

	owner     *Entity
	instances []*Entity
}

// Owner returns the entity holding the group.
func (g *InstanceGroup) Owner() *Entity { return g.owner }

// Len returns the number of live instances.
func (g *InstanceGroup) Len() int { return len(g.instances) }

// At returns the i-th instance (0-based).
func (g *InstanceGroup) At(i int) *Entity {
	if i < 0 || i >= len(g.instances) {
		return nil
	}
	return g.instances[i]
}

// Instances returns a snapshot of the live instances in current order.
func (g *InstanceGroup) Instances() []*Entity {
	return append([]*Entity(nil), g.instances...)
}

// schema returns a representative entity: the first instance, else the blueprint.
func (g *InstanceGroup) schema() *Entity {
	if len(g.instances) > 0 {
		return g.instances[0]
	}
	return g.Blueprint
}

func (g *InstanceGroup) indexOf(e *Entity) int {
	for i, inst := range g.instances {
		if inst == e {
			return i
		}
	}
	return -1
}

func (g *InstanceGroup) remove(e *Entity) bool {
	i := g.indexOf(e)
	if i < 0 {
		return false
	}
	g.instances = append(g.instances[:i], g.instances[i+1:]...)
	return true
}

// sameSchema reports whether a and b carry identical variable label sets
// with identical lag depths.
func sameSchema(a, b *Entity) bool {
	if len(a.vars) != len(b.vars) {
		return false
	}
	for _, v := range a.vars {
		w := b.Variable(v.Label)
		if w == nil || w.LagDepth != v.LagDepth || w.Kind != v.Kind {
			return false
		}
	}
	return true
}
