package sim

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// declare adds a variable to e, seeding history[0], history[1], ... from
// values in order.
func declare(t *testing.T, e *Entity, label string, kind Kind, lag int, flags Flags, values ...float64) *Variable {
	t.Helper()
	v := NewVariable(label, kind, lag, flags)
	for i, x := range values {
		require.NoError(t, v.Seed(i, x))
	}
	require.NoError(t, e.AddVariable(v))
	return v
}

// attachN attaches n entities of typeLabel under parent, each prepared by
// build, and returns them in order.
func attachN(t *testing.T, tree *Tree, parent *Entity, typeLabel string, n int, build func(e *Entity)) []*Entity {
	t.Helper()
	out := make([]*Entity, 0, n)
	for i := 0; i < n; i++ {
		e := tree.NewEntity(typeLabel)
		if build != nil {
			build(e)
		}
		require.NoError(t, tree.Attach(parent, e))
		out = append(out, e)
	}
	return out
}

// registry loads equations into a fresh registry under one unit.
func registry(t *testing.T, eqs ...Equation) *Registry {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, reg.Load(Unit{Name: "test", Equations: eqs}))
	return reg
}

// constant returns a body that always yields x.
func constant(x float64) EquationFunc {
	return func(*Ctx) float64 { return x }
}

// counting wraps body and counts invocations.
func counting(calls *int, body EquationFunc) EquationFunc {
	return func(c *Ctx) float64 {
		*calls++
		return body(c)
	}
}

// sectorTree builds Root → Sector → n Firms, each firm carrying a share
// parameter of value share and a saved variable "sales" with one lag.
func sectorTree(t *testing.T, n int, share float64) (*Tree, *Entity, []*Entity) {
	t.Helper()
	tree := NewTree("Root")
	sectors := attachN(t, tree, tree.Root(), "Sector", 1, func(e *Entity) {
		declare(t, e, "TotalShare", KindVariable, 0, FlagSave)
	})
	firms := attachN(t, tree, sectors[0], "Firm", n, func(e *Entity) {
		declare(t, e, "share", KindParameter, 0, 0, share)
		declare(t, e, "sales", KindVariable, 1, FlagSave)
	})
	return tree, sectors[0], firms
}

func newTestEvaluator(tree *Tree, reg *Registry) *Evaluator {
	return NewEvaluator(tree, reg, NumericFatal, 0, NewPartitionedRNG(NewSimulationKey(7)))
}
