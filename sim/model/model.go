// Package model loads model snapshots: the entity types with their
// variables, the initial tree and the initial lag values, read from YAML.
package model

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/abm-sim/abm-sim/sim"
)

// CurrentVersion is the snapshot format version this package reads.
const CurrentVersion = 1

// Model is a parsed snapshot.
type Model struct {
	Version      int                 `yaml:"version"`
	DefaultValue float64             `yaml:"default_value,omitempty"`
	Types        map[string]TypeSpec `yaml:"types"`
	Root         NodeSpec            `yaml:"root"`
}

// TypeSpec declares the variables every entity of a type carries.
type TypeSpec struct {
	Variables []VariableSpec `yaml:"variables"`
}

// VariableSpec declares one variable.
//
// Parameters take their value from Value. Computed variables take their
// initial history from Lags: Lags[0] is the value one step before the first
// step, Lags[1] two steps before, and so on.
type VariableSpec struct {
	Label  string    `yaml:"label"`
	Kind   string    `yaml:"kind,omitempty"`
	Lag    int       `yaml:"lag,omitempty"`
	Value  *float64  `yaml:"value,omitempty"`
	Lags   []float64 `yaml:"lags,omitempty"`
	Flags  []string  `yaml:"flags,omitempty"`
	Driver string    `yaml:"driver,omitempty"`
}

// NodeSpec places Count entities of Type under the enclosing node.
//
// Values overrides the initial value of the listed variables on every
// instance; Draw samples it per instance from a distribution; Instances[i]
// overrides instance i on top of both. An override sets a parameter's value
// or a computed variable's first lag.
type NodeSpec struct {
	Type      string               `yaml:"type"`
	Count     *int                 `yaml:"count,omitempty"`
	Skip      bool                 `yaml:"skip,omitempty"`
	Values    map[string]float64   `yaml:"values,omitempty"`
	Draw      map[string]DistSpec  `yaml:"draw,omitempty"`
	Instances []map[string]float64 `yaml:"instances,omitempty"`
	Children  []NodeSpec           `yaml:"children,omitempty"`
}

// count returns the number of instances, 1 when unset.
func (n NodeSpec) count() int {
	if n.Count == nil {
		return 1
	}
	return *n.Count
}

// validFlags maps the accepted flag spellings.
var validFlags = map[string]sim.Flags{
	"save":     sim.FlagSave,
	"plot":     sim.FlagPlot,
	"debug":    sim.FlagDebug,
	"watch":    sim.FlagWatch,
	"parallel": sim.FlagParallel,
	"skip":     sim.FlagSkip,
}

// LoadModel reads and strictly parses a snapshot file. Unrecognized keys
// are rejected.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model: %w", err)
	}
	m, err := ParseModel(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// ParseModel strictly parses snapshot YAML.
func ParseModel(data []byte) (*Model, error) {
	var m Model
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&m); err != nil {
		return nil, fmt.Errorf("parsing model: %w", err)
	}
	return &m, nil
}

// Validate checks the snapshot for internal consistency.
func (m *Model) Validate() error {
	if m.Version != CurrentVersion {
		return fmt.Errorf("unsupported model version %d; expected %d", m.Version, CurrentVersion)
	}
	if len(m.Types) == 0 {
		return fmt.Errorf("model declares no types")
	}
	for _, name := range m.typeNames() {
		if err := m.Types[name].validate(name); err != nil {
			return err
		}
	}
	if m.Root.Type == "" {
		return fmt.Errorf("root.type is required")
	}
	if m.Root.count() != 1 {
		return fmt.Errorf("root count must be 1, got %d", m.Root.count())
	}
	if len(m.Root.Instances) > 0 {
		return fmt.Errorf("root does not take per-instance overrides")
	}
	return m.validateNode(m.Root, m.Root.Type)
}

func (m *Model) typeNames() []string {
	names := make([]string, 0, len(m.Types))
	for name := range m.Types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (ts TypeSpec) validate(typeName string) error {
	seen := make(map[string]bool, len(ts.Variables))
	for _, vs := range ts.Variables {
		if vs.Label == "" {
			return fmt.Errorf("type %s: variable without a label", typeName)
		}
		if seen[vs.Label] {
			return fmt.Errorf("type %s: variable %q declared twice", typeName, vs.Label)
		}
		seen[vs.Label] = true
	}
	for _, vs := range ts.Variables {
		if err := vs.validate(ts); err != nil {
			return fmt.Errorf("type %s: variable %q: %w", typeName, vs.Label, err)
		}
	}
	return nil
}

func (ts TypeSpec) variable(label string) (VariableSpec, bool) {
	for _, vs := range ts.Variables {
		if vs.Label == label {
			return vs, true
		}
	}
	return VariableSpec{}, false
}

func (vs VariableSpec) validate(ts TypeSpec) error {
	kind, err := sim.ParseKind(vs.Kind)
	if err != nil {
		return err
	}
	if vs.Lag < 0 {
		return fmt.Errorf("lag must be non-negative, got %d", vs.Lag)
	}
	if _, err := parseFlags(vs.Flags); err != nil {
		return err
	}
	if kind == sim.KindParameter {
		switch {
		case vs.Lag != 0:
			return fmt.Errorf("parameters keep no lags")
		case len(vs.Lags) > 0:
			return fmt.Errorf("parameters take value, not lags")
		case vs.Driver != "":
			return fmt.Errorf("parameters cannot have a driver")
		}
		return nil
	}
	if vs.Value != nil {
		return fmt.Errorf("computed variables take lags, not value")
	}
	if len(vs.Lags) > vs.Lag {
		return fmt.Errorf("%d initial lags given but lag depth is %d", len(vs.Lags), vs.Lag)
	}
	if vs.Driver != "" {
		if vs.Driver == vs.Label {
			return fmt.Errorf("a variable cannot drive itself")
		}
		d, ok := ts.variable(vs.Driver)
		if !ok {
			return fmt.Errorf("driver %q is not declared on the same type", vs.Driver)
		}
		if d.Driver != "" {
			return fmt.Errorf("driver %q is itself a dummy", vs.Driver)
		}
		if kind != sim.KindVariable {
			return fmt.Errorf("only kind variable may have a driver")
		}
	}
	return nil
}

func (m *Model) validateNode(n NodeSpec, path string) error {
	ts, ok := m.Types[n.Type]
	if !ok {
		return fmt.Errorf("%s: unknown type %q", path, n.Type)
	}
	if n.count() < 0 {
		return fmt.Errorf("%s: count must be non-negative, got %d", path, n.count())
	}
	if len(n.Instances) > n.count() {
		return fmt.Errorf("%s: %d instance overrides for %d instances", path, len(n.Instances), n.count())
	}
	if err := checkOverrides(ts, n.Values); err != nil {
		return fmt.Errorf("%s: values: %w", path, err)
	}
	for label, d := range n.Draw {
		if _, err := NewSampler(d); err != nil {
			return fmt.Errorf("%s: draw %q: %w", path, label, err)
		}
		if err := checkOverrides(ts, map[string]float64{label: 0}); err != nil {
			return fmt.Errorf("%s: draw: %w", path, err)
		}
	}
	for i, ov := range n.Instances {
		if err := checkOverrides(ts, ov); err != nil {
			return fmt.Errorf("%s: instances[%d]: %w", path, i, err)
		}
	}
	seen := make(map[string]bool, len(n.Children))
	for _, c := range n.Children {
		if seen[c.Type] {
			return fmt.Errorf("%s: child type %q listed twice", path, c.Type)
		}
		seen[c.Type] = true
		if err := m.validateNode(c, path+"/"+c.Type); err != nil {
			return err
		}
	}
	return nil
}

func checkOverrides(ts TypeSpec, values map[string]float64) error {
	for label := range values {
		vs, ok := ts.variable(label)
		if !ok {
			return fmt.Errorf("unknown variable %q", label)
		}
		kind, _ := sim.ParseKind(vs.Kind)
		if kind != sim.KindParameter && vs.Lag < 1 {
			return fmt.Errorf("variable %q keeps no lags to initialize", label)
		}
	}
	return nil
}

func parseFlags(names []string) (sim.Flags, error) {
	var f sim.Flags
	for _, n := range names {
		bit, ok := validFlags[n]
		if !ok {
			return 0, fmt.Errorf("unknown flag %q; valid: save, plot, debug, watch, parallel, skip", n)
		}
		f |= bit
	}
	return f, nil
}
