package model

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/abm-sim/abm-sim/sim"
)

// Build validates the snapshot and constructs the tree it describes. Every
// declared type becomes a tree-wide blueprint carrying its declared
// initial values, so instances added at run time start from them. Drawn
// initial values come from the model stream of seed, in tree order.
func (m *Model) Build(seed int64) (*sim.Tree, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	tree := sim.NewTree(m.Root.Type)
	tree.DefaultValue = m.DefaultValue

	for _, name := range m.typeNames() {
		bp, err := m.newEntity(tree, name)
		if err != nil {
			return nil, err
		}
		tree.RegisterBlueprint(bp)
	}

	root := tree.Root()
	if err := m.declare(root, m.Root.Type); err != nil {
		return nil, err
	}
	if err := applyOverrides(root, m.Root.Values); err != nil {
		return nil, fmt.Errorf("%s: %w", tree.Path(root), err)
	}
	root.SetSkipped(m.Root.Skip)
	b := &builder{m: m, tree: tree, rng: sim.NewPartitionedRNG(sim.NewSimulationKey(seed)).ForSubsystem(sim.SubsystemModel)}
	if err := b.children(root, m.Root.Children); err != nil {
		return nil, err
	}
	if err := tree.Check(); err != nil {
		return nil, err
	}
	logrus.Debugf("built model: %d entities, %d types", tree.Len(), len(m.Types))
	return tree, nil
}

type builder struct {
	m    *Model
	tree *sim.Tree
	rng  *rand.Rand
}

func (b *builder) children(parent *sim.Entity, children []NodeSpec) error {
	tree := b.tree
	for _, n := range children {
		tree.DeclareGroup(parent, n.Type)
		samplers, labels, err := newSamplers(n.Draw)
		if err != nil {
			return err
		}
		for i := 0; i < n.count(); i++ {
			e, err := b.m.newEntity(tree, n.Type)
			if err != nil {
				return err
			}
			if err := applyOverrides(e, n.Values); err != nil {
				return err
			}
			if err := applyOverrides(e, b.draw(samplers, labels)); err != nil {
				return err
			}
			if i < len(n.Instances) {
				if err := applyOverrides(e, n.Instances[i]); err != nil {
					return err
				}
			}
			e.SetSkipped(n.Skip)
			if err := tree.Attach(parent, e); err != nil {
				return err
			}
			if err := b.children(e, n.Children); err != nil {
				return err
			}
		}
	}
	return nil
}

// newSamplers builds one sampler per label and returns the labels sorted,
// which fixes the draw order.
func newSamplers(specs map[string]DistSpec) (map[string]Sampler, []string, error) {
	if len(specs) == 0 {
		return nil, nil, nil
	}
	samplers := make(map[string]Sampler, len(specs))
	labels := make([]string, 0, len(specs))
	for l, d := range specs {
		s, err := NewSampler(d)
		if err != nil {
			return nil, nil, fmt.Errorf("draw %q: %w", l, err)
		}
		samplers[l] = s
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return samplers, labels, nil
}

// draw samples one value per label, in label order.
func (b *builder) draw(samplers map[string]Sampler, labels []string) map[string]float64 {
	if len(labels) == 0 {
		return nil
	}
	out := make(map[string]float64, len(labels))
	for _, l := range labels {
		out[l] = samplers[l].Sample(b.rng)
	}
	return out
}

// newEntity creates a detached entity with the type's declared variables
// and initial values.
func (m *Model) newEntity(tree *sim.Tree, typeName string) (*sim.Entity, error) {
	e := tree.NewEntity(typeName)
	if err := m.declare(e, typeName); err != nil {
		return nil, err
	}
	return e, nil
}

func (m *Model) declare(e *sim.Entity, typeName string) error {
	for _, vs := range m.Types[typeName].Variables {
		v, err := vs.build()
		if err != nil {
			return fmt.Errorf("type %s: variable %q: %w", typeName, vs.Label, err)
		}
		if err := e.AddVariable(v); err != nil {
			return err
		}
	}
	return nil
}

func (vs VariableSpec) build() (*sim.Variable, error) {
	kind, err := sim.ParseKind(vs.Kind)
	if err != nil {
		return nil, err
	}
	flags, err := parseFlags(vs.Flags)
	if err != nil {
		return nil, err
	}
	v := sim.NewVariable(vs.Label, kind, vs.Lag, flags)
	v.Driver = vs.Driver
	if vs.Value != nil {
		if err := v.Seed(0, *vs.Value); err != nil {
			return nil, err
		}
	}
	for i, x := range vs.Lags {
		if err := v.Seed(i+1, x); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// applyOverrides sets parameter values and first lags in label order so
// failures are reported deterministically.
func applyOverrides(e *sim.Entity, values map[string]float64) error {
	labels := make([]string, 0, len(values))
	for l := range values {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	for _, l := range labels {
		v := e.Variable(l)
		if v == nil {
			return fmt.Errorf("unknown variable %q on %s", l, e.TypeLabel)
		}
		lag := 1
		if v.Kind == sim.KindParameter {
			lag = 0
		}
		if err := v.Seed(lag, values[l]); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of entities the snapshot creates, root included.
func (m *Model) Count() int {
	return 1 + countNodes(m.Root.Children)
}

func countNodes(nodes []NodeSpec) int {
	total := 0
	for _, n := range nodes {
		total += n.count() * (1 + countNodes(n.Children))
	}
	return total
}
