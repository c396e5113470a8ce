package sim

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Load_DuplicateLabel(t *testing.T) {
	tests := []struct {
		name  string
		units []Unit
	}{
		{
			name: "across units",
			units: []Unit{
				{Name: "a", Equations: []Equation{{Label: "x", Body: constant(1)}}},
				{Name: "b", Equations: []Equation{{Label: "x", Body: constant(2)}}},
			},
		},
		{
			name: "within a unit",
			units: []Unit{
				{Name: "a", Equations: []Equation{{Label: "x", Body: constant(1)}, {Label: "x", Body: constant(2)}}},
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			reg := NewRegistry()
			err := reg.Load(tc.units...)

			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDuplicateLabel))
			var se *SimError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, CodeFatalConfig, se.Code)
			assert.Equal(t, "x", se.Label)
			assert.Equal(t, 0, reg.Len(), "a failed load leaves the registry unchanged")
		})
	}
}

func TestRegistry_Load_AgainstExistingLabels(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Load(Unit{Name: "a", Equations: []Equation{{Label: "x", Body: constant(1)}}}))

	err := reg.Load(Unit{Name: "b", Equations: []Equation{{Label: "y", Body: constant(1)}, {Label: "x", Body: constant(1)}}})

	assert.True(t, errors.Is(err, ErrDuplicateLabel))
	assert.Contains(t, err.Error(), `unit "a" and unit "b"`)
	assert.Equal(t, []string{"x"}, reg.Labels())
}

func TestRegistry_Load_NilBody(t *testing.T) {
	err := NewRegistry().Load(Unit{Name: "a", Equations: []Equation{{Label: "x"}}})
	assert.True(t, errors.Is(err, ErrMissingEquation))
}

func TestRegistry_CheckTree(t *testing.T) {
	tests := []struct {
		name    string
		build   func(t *testing.T, tree *Tree)
		wantErr error
	}{
		{
			name: "every computed variable bound",
			build: func(t *testing.T, tree *Tree) {
				declare(t, tree.Root(), "x", KindVariable, 1, 0)
				declare(t, tree.Root(), "p", KindParameter, 0, 0, 1)
				declare(t, tree.Root(), "off", KindVariable, 0, FlagSkip)
			},
		},
		{
			name: "missing equation",
			build: func(t *testing.T, tree *Tree) {
				declare(t, tree.Root(), "nobody", KindVariable, 0, 0)
			},
			wantErr: ErrMissingEquation,
		},
		{
			name: "dummy without its driver",
			build: func(t *testing.T, tree *Tree) {
				declare(t, tree.Root(), "d", KindVariable, 0, 0).Driver = "absent"
			},
			wantErr: ErrUnknownLabel,
		},
		{
			name: "lag-sensitive equation without lags",
			build: func(t *testing.T, tree *Tree) {
				declare(t, tree.Root(), "x", KindVariable, 0, 0)
			},
			wantErr: ErrLagOutOfRange,
		},
		{
			name: "blueprint checked too",
			build: func(t *testing.T, tree *Tree) {
				declare(t, tree.Root(), "x", KindVariable, 1, 0)
				bp := tree.NewEntity("Later")
				declare(t, bp, "unbound", KindVariable, 0, 0)
				tree.RegisterBlueprint(bp)
			},
			wantErr: ErrMissingEquation,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tree := NewTree("Root")
			tc.build(t, tree)
			reg := registry(t, Equation{Label: "x", LagSensitive: true, Body: constant(1)})

			err := reg.CheckTree(tree)

			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tc.wantErr), "got %v", err)
		})
	}
}

func TestSimError_Format(t *testing.T) {
	err := &SimError{
		Code:    CodeDependencyCycle,
		Path:    "Root/Sector[1]",
		Label:   "A",
		Step:    3,
		Chain:   []Frame{{"Root/Sector[1]", "A"}, {"Root", "B"}},
		Message: "cycle",
		Err:     ErrDependencyCycle,
	}
	assert.Equal(t, "DEPENDENCY_CYCLE: cycle (entity=Root/Sector[1], label=A, step=3) chain: Root/Sector[1].A -> Root.B", err.Error())
	assert.True(t, errors.Is(err, ErrDependencyCycle))
	assert.True(t, IsFatal(err))
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{in: "", want: KindVariable},
		{in: "variable", want: KindVariable},
		{in: "param", want: KindParameter},
		{in: "parameter", want: KindParameter},
		{in: "func", want: KindFunction},
		{in: "function", want: KindFunction},
		{in: "macro", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseKind(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestVariable_ParameterKeepsNoLags(t *testing.T) {
	v := NewVariable("p", KindParameter, 3, 0)
	assert.Equal(t, 0, v.LagDepth)
	assert.ErrorIs(t, v.Seed(1, 2), ErrLagOutOfRange)
	require.NoError(t, v.Seed(0, 2))
	v.shift()
	got, err := v.slot(2, -1)
	require.NoError(t, err)
	assert.Equal(t, 2.0, got)
}
