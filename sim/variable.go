package sim

import (
	"fmt"

	"github.com/abm-sim/abm-sim/sim/trace"
)

// Kind distinguishes how a variable's value is produced.
type Kind int

const (
	// KindParameter values are set at load time and never recomputed.
	KindParameter Kind = iota
	// KindVariable values are computed at most once per step and cached.
	KindVariable
	// KindFunction values are recomputed on every lag-0 request.
	KindFunction
)

func (k Kind) String() string {
	switch k {
	case KindParameter:
		return "parameter"
	case KindVariable:
		return "variable"
	case KindFunction:
		return "function"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind maps the configuration spelling of a kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "parameter", "param":
		return KindParameter, nil
	case "", "variable", "var":
		return KindVariable, nil
	case "function", "func":
		return KindFunction, nil
	}
	return 0, fmt.Errorf("unknown variable kind %q; valid: parameter, variable, function", s)
}

// Flags are per-variable switches set by the configuration.
type Flags uint8

const (
	FlagSave Flags = 1 << iota
	FlagPlot
	FlagDebug
	FlagWatch
	// FlagParallel marks a variable as eligible for parallel evaluation
	// across the instances of its group.
	FlagParallel
	// FlagSkip excludes the variable from computation; reads serve its
	// last stored value.
	FlagSkip
)

// Has reports whether every bit of f2 is set in f.
func (f Flags) Has(f2 Flags) bool { return f&f2 == f2 }

// Variable is a named, lag-historied quantity owned by an entity.
//
// history[0] is the current step's value, history[k] the value k steps ago.
// defined tracks which slots have ever been written; undefined slots read as
// the configured default.
type Variable struct {
	Label    string
	Kind     Kind
	LagDepth int
	Flags    Flags
	// Driver names the variable whose computation publishes this one.
	// Non-empty marks a dummy variable.
	Driver string

	history      []float64
	defined      []bool
	lastComputed int64
	computing    bool
	// saved holds (step, value) points while FlagSave is set.
	saved []Point
}

// Point is one observation of a saved variable.
type Point = trace.Point

// NewVariable allocates a variable with an all-undefined lag window.
// Parameters always get lag depth 0.
func NewVariable(label string, kind Kind, lagDepth int, flags Flags) *Variable {
	if kind == KindParameter || lagDepth < 0 {
		lagDepth = 0
	}
	return &Variable{
		Label:        label,
		Kind:         kind,
		LagDepth:     lagDepth,
		Flags:        flags,
		history:      make([]float64, lagDepth+1),
		defined:      make([]bool, lagDepth+1),
		lastComputed: -1,
	}
}

// IsDummy reports whether the variable's freshness is driven by another.
func (v *Variable) IsDummy() bool { return v.Driver != "" }

// Seed sets a lag slot at load time without touching freshness.
func (v *Variable) Seed(lag int, value float64) error {
	if lag < 0 || lag > v.LagDepth {
		return fmt.Errorf("seeding %s lag %d (depth %d): %w", v.Label, lag, v.LagDepth, ErrLagOutOfRange)
	}
	v.history[lag] = value
	v.defined[lag] = true
	return nil
}

// LastComputed returns the step of the last computation, -1 if never.
func (v *Variable) LastComputed() int64 { return v.lastComputed }

// fresh reports whether history[0] is valid for step.
func (v *Variable) fresh(step int64) bool {
	switch {
	case v.Kind == KindParameter:
		return true
	case v.Flags.Has(FlagSkip):
		return true
	default:
		return v.lastComputed >= step
	}
}

// slot returns the raw value at lag, falling back to def for undefined slots.
// Parameters serve history[0] at every lag.
func (v *Variable) slot(lag int, def float64) (float64, error) {
	if v.Kind == KindParameter {
		lag = 0
	}
	if lag < 0 || lag > v.LagDepth {
		return 0, ErrLagOutOfRange
	}
	if !v.defined[lag] {
		return def, nil
	}
	return v.history[lag], nil
}

func (v *Variable) set(lag int, value float64) error {
	if lag < 0 || lag > v.LagDepth {
		return ErrLagOutOfRange
	}
	v.history[lag] = value
	v.defined[lag] = true
	return nil
}

// shift moves the lag window one step back. history[0] keeps its value but
// is no longer fresh for the new step.
func (v *Variable) shift() {
	if v.Kind == KindParameter {
		return
	}
	for k := v.LagDepth; k >= 1; k-- {
		v.history[k] = v.history[k-1]
		v.defined[k] = v.defined[k-1]
	}
}

// clone copies the lag window and flags; saved points are not copied so a
// clone starts its own series.
func (v *Variable) clone() *Variable {
	c := *v
	c.history = append([]float64(nil), v.history...)
	c.defined = append([]bool(nil), v.defined...)
	c.computing = false
	c.saved = nil
	return &c
}

// Saved returns the retained observations of a save-flagged variable.
func (v *Variable) Saved() []Point {
	return append([]Point(nil), v.saved...)
}
