package sim

import (
	"fmt"
	"sort"
)

// EquationFunc computes a variable's value for the current step. The Ctx
// exposes the owning entity and every read, query and write operation;
// failures recorded on the Ctx abort the computation.
type EquationFunc func(c *Ctx) float64

// Equation binds a variable label to its body.
type Equation struct {
	Label string
	// LagSensitive marks bodies that read the variable's own past values,
	// so the variable must keep at least one lag.
	LagSensitive bool
	Body         EquationFunc
}

// Unit is a named set of equations contributed to the label space.
type Unit struct {
	Name      string
	Equations []Equation
}

// Registry is the label→equation table, built once from all loaded units.
type Registry struct {
	equations map[string]Equation
	owner     map[string]string // label → unit name
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		equations: make(map[string]Equation),
		owner:     make(map[string]string),
	}
}

// Load adds every equation of the given units. A label registered twice,
// within a unit or across units, is a fatal configuration error and leaves
// the registry unchanged.
func (r *Registry) Load(units ...Unit) error {
	staged := make(map[string]string)
	for _, u := range units {
		for _, eq := range u.Equations {
			if eq.Body == nil {
				return &SimError{Code: CodeFatalConfig, Label: eq.Label,
					Message: fmt.Sprintf("unit %q registers %q without a body", u.Name, eq.Label), Err: ErrMissingEquation}
			}
			prev, dup := r.owner[eq.Label]
			if !dup {
				prev, dup = staged[eq.Label]
			}
			if dup {
				return &SimError{Code: CodeFatalConfig, Label: eq.Label,
					Message: fmt.Sprintf("label registered by unit %q and unit %q", prev, u.Name), Err: ErrDuplicateLabel}
			}
			staged[eq.Label] = u.Name
		}
	}
	for _, u := range units {
		for _, eq := range u.Equations {
			r.equations[eq.Label] = eq
			r.owner[eq.Label] = u.Name
		}
	}
	return nil
}

// Lookup returns the equation for label.
func (r *Registry) Lookup(label string) (Equation, bool) {
	eq, ok := r.equations[label]
	return eq, ok
}

// Labels returns the registered labels in sorted order.
func (r *Registry) Labels() []string {
	out := make([]string, 0, len(r.equations))
	for l := range r.equations {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered equations.
func (r *Registry) Len() int { return len(r.equations) }

// CheckTree verifies every computed variable in the tree (and in registered
// blueprints) has an equation, that dummies name a driver on the same
// entity, and that lag-sensitive equations have a lag to read.
func (r *Registry) CheckTree(t *Tree) error {
	var err error
	check := func(e *Entity) bool {
		if err != nil {
			return false
		}
		err = r.checkEntity(t, e)
		return err == nil
	}
	t.Walk(check)
	if err != nil {
		return err
	}
	types := make([]string, 0, len(t.blueprints))
	for typ := range t.blueprints {
		types = append(types, typ)
	}
	sort.Strings(types)
	for _, typ := range types {
		if err := r.checkEntity(t, t.blueprints[typ]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) checkEntity(t *Tree, e *Entity) error {
	for _, v := range e.vars {
		if v.Kind == KindParameter || v.Flags.Has(FlagSkip) {
			continue
		}
		if v.IsDummy() {
			if e.Variable(v.Driver) == nil {
				return newSimError(CodeFatalConfig, ErrUnknownLabel, t.Path(e), v.Label, t.step,
					"dummy driver %q not found on %s", v.Driver, e.TypeLabel)
			}
			continue
		}
		eq, ok := r.equations[v.Label]
		if !ok {
			return newSimError(CodeFatalConfig, ErrMissingEquation, t.Path(e), v.Label, t.step,
				"no equation registered for %q", v.Label)
		}
		if eq.LagSensitive && v.LagDepth < 1 {
			return newSimError(CodeFatalConfig, ErrLagOutOfRange, t.Path(e), v.Label, t.step,
				"equation reads past values but the variable keeps no lags")
		}
	}
	return nil
}
