package sim

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTree_AdvanceStep_ShiftsLagWindow(t *testing.T) {
	// GIVEN a variable with two lags at step 1
	tree := NewTree("Root")
	declare(t, tree.Root(), "x", KindVariable, 2, 0)
	require.Equal(t, int64(1), tree.CurrentStep())

	// WHEN 5 is written at step 1 and 7 at step 2
	require.NoError(t, tree.Write(tree.Root(), "x", 0, 5))
	tree.AdvanceStep()
	lag1, err := tree.Read(tree.Root(), "x", 1)
	require.NoError(t, err)
	assert.Equal(t, 5.0, lag1, "value written at step 1 must be lag 1 at step 2")

	require.NoError(t, tree.Write(tree.Root(), "x", 0, 7))
	tree.AdvanceStep()

	// THEN at step 3 the window holds (7, 5)
	assert.Equal(t, int64(3), tree.CurrentStep())
	lag1, _ = tree.Read(tree.Root(), "x", 1)
	lag2, _ := tree.Read(tree.Root(), "x", 2)
	assert.Equal(t, 7.0, lag1)
	assert.Equal(t, 5.0, lag2)
}

func TestTree_Read_StaleLagZeroServesDefault(t *testing.T) {
	tree := NewTree("Root")
	tree.DefaultValue = -1
	declare(t, tree.Root(), "x", KindVariable, 1, 0, 3)

	// history[0] holds 3 but nothing computed it this step
	got, err := tree.Read(tree.Root(), "x", 0)
	require.NoError(t, err)
	assert.Equal(t, -1.0, got)

	// undefined lag slot also reads as the default
	got, err = tree.Read(tree.Root(), "x", 1)
	require.NoError(t, err)
	assert.Equal(t, -1.0, got)
}

func TestTree_Read_LagBeyondDepth_IsFatal(t *testing.T) {
	tree := NewTree("Root")
	declare(t, tree.Root(), "x", KindVariable, 1, 0)

	_, err := tree.Read(tree.Root(), "x", 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLagOutOfRange))
	var se *SimError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, CodeFatalConfig, se.Code)
	assert.Equal(t, "x", se.Label)

	err = tree.Write(tree.Root(), "x", 3, 1)
	assert.True(t, errors.Is(err, ErrLagOutOfRange))
}

func TestTree_Read_ParameterServesValueAtAnyLag(t *testing.T) {
	tree := NewTree("Root")
	declare(t, tree.Root(), "p", KindParameter, 0, 0, 3)
	tree.AdvanceStep()

	for _, lag := range []int{0, 1, 4} {
		got, err := tree.Read(tree.Root(), "p", lag)
		require.NoError(t, err)
		assert.Equal(t, 3.0, got, "lag %d", lag)
	}
}

func TestTree_Read_UnknownLabel(t *testing.T) {
	tree := NewTree("Root")
	_, err := tree.Read(tree.Root(), "nope", 0)
	assert.True(t, errors.Is(err, ErrUnknownLabel))
}

func TestTree_Write_LagZeroMarksFresh(t *testing.T) {
	tree := NewTree("Root")
	v := declare(t, tree.Root(), "x", KindVariable, 0, 0)
	assert.False(t, v.fresh(tree.CurrentStep()))

	require.NoError(t, tree.Write(tree.Root(), "x", 0, 2))

	assert.True(t, v.fresh(tree.CurrentStep()))
	got, _ := tree.Read(tree.Root(), "x", 0)
	assert.Equal(t, 2.0, got)
}

func TestTree_Path(t *testing.T) {
	tree, sector, firms := sectorTree(t, 3, 0.2)
	assert.Equal(t, "Root", tree.Path(tree.Root()))
	assert.Equal(t, "Root/Sector[1]", tree.Path(sector))
	assert.Equal(t, "Root/Sector[1]/Firm[3]", tree.Path(firms[2]))
	assert.Equal(t, "<nil>", tree.Path(nil))
}

func TestTree_Walk_PreOrder(t *testing.T) {
	tree, _, _ := sectorTree(t, 2, 0.5)
	var types []string
	tree.Walk(func(e *Entity) bool {
		types = append(types, e.TypeLabel)
		return true
	})
	assert.Equal(t, []string{"Root", "Sector", "Firm", "Firm"}, types)
}

func TestTree_AddInstance_CloneIsIndependent(t *testing.T) {
	// GIVEN a firm whose sales were computed this step
	tree, sector, firms := sectorTree(t, 1, 0.2)
	require.NoError(t, tree.Write(firms[0], "sales", 0, 9))

	// WHEN it is cloned
	out, err := tree.AddInstance(sector, "Firm", firms[0], 1)
	require.NoError(t, err)
	require.Len(t, out, 1)
	clone := out[0]

	// THEN the clone copies values but is stale for the current step
	assert.Equal(t, 2, sector.Group("Firm").Len())
	assert.Equal(t, tree.CurrentStep()-1, clone.Variable("sales").LastComputed())
	got, _ := tree.Read(clone, "sales", 0)
	assert.Equal(t, tree.DefaultValue, got)

	// AND writes to the clone never reach the source
	require.NoError(t, tree.Write(clone, "share", 0, 0.5))
	src, _ := tree.Read(firms[0], "share", 0)
	assert.Equal(t, 0.2, src)
	assert.NotEqual(t, firms[0].Handle(), clone.Handle())
	require.NoError(t, tree.Check())
}

func TestTree_AddInstance_FromBlueprint(t *testing.T) {
	tree := NewTree("Root")
	bp := tree.NewEntity("Worker")
	declare(t, bp, "w", KindParameter, 0, 0, 1)
	tree.RegisterBlueprint(bp)

	out, err := tree.AddInstance(tree.Root(), "Worker", nil, 2)
	require.NoError(t, err)
	require.Len(t, out, 2)

	require.NoError(t, tree.Write(out[0], "w", 0, 4))
	other, _ := tree.Read(out[1], "w", 0)
	orig, _ := tree.Read(bp, "w", 0)
	assert.Equal(t, 1.0, other)
	assert.Equal(t, 1.0, orig, "blueprint must not change")
	assert.Same(t, bp, tree.Root().Group("Worker").Blueprint)
	assert.Equal(t, 3, tree.Len())
}

func TestTree_AddInstance_UnknownType(t *testing.T) {
	tree, sector, _ := sectorTree(t, 1, 0.2)

	tests := []struct {
		name     string
		typ      string
		copyFrom *Entity
	}{
		{name: "no source anywhere", typ: "Ghost"},
		{name: "copy source of another type", typ: "Firm", copyFrom: sector},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tree.AddInstance(sector, tc.typ, tc.copyFrom, 1)
			assert.True(t, errors.Is(err, ErrUnknownType))
		})
	}
}

func TestTree_Attach_SchemaMismatch(t *testing.T) {
	tree, sector, _ := sectorTree(t, 1, 0.2)
	odd := tree.NewEntity("Firm")
	declare(t, odd, "share", KindParameter, 0, 0, 1)

	err := tree.Attach(sector, odd)
	assert.True(t, errors.Is(err, ErrStructure))
	assert.Equal(t, 1, sector.Group("Firm").Len())
}

func TestTree_Delete_FlushesSeriesToCemetery(t *testing.T) {
	// GIVEN a firm with two saved points
	tree, sector, firms := sectorTree(t, 3, 0.2)
	firms[1].Variable("sales").saved = []Point{{Step: 1, Value: 3}, {Step: 2, Value: 4}}
	before := tree.Len()

	// WHEN it is deleted
	require.NoError(t, tree.Delete(firms[1]))

	// THEN its series moves to the cemetery under its last path
	cem := tree.Trace().Cemetery
	require.Len(t, cem, 1)
	assert.Equal(t, "Root/Sector[1]/Firm[2]", cem[0].Path)
	assert.Equal(t, "sales", cem[0].Label)
	assert.True(t, cem[0].Deleted)
	assert.Equal(t, tree.CurrentStep(), cem[0].DeletedAt)
	assert.Len(t, cem[0].Points, 2)

	// AND the group and arena shrink
	assert.Equal(t, 2, sector.Group("Firm").Len())
	assert.Equal(t, before-1, tree.Len())
	assert.True(t, firms[1].Deleted())
	assert.Nil(t, tree.Resolve(firms[1].Handle()))
	require.NoError(t, tree.Check())
}

func TestTree_Delete_Subtree(t *testing.T) {
	tree, sector, firms := sectorTree(t, 2, 0.2)
	require.NoError(t, tree.Delete(sector))

	assert.Equal(t, 1, tree.Len())
	for _, f := range firms {
		assert.True(t, f.Deleted())
		assert.Nil(t, tree.Resolve(f.Handle()))
	}
	assert.Equal(t, 0, tree.Root().Group("Sector").Len())
}

func TestTree_Delete_InvalidatesHooks(t *testing.T) {
	// GIVEN a sector hooked to its second firm
	tree, sector, firms := sectorTree(t, 3, 0.2)
	tree.SetHook(sector, firms[1])
	tree.SetHookAt(sector, 2, firms[2])
	require.Same(t, firms[1], tree.HookTarget(sector))

	// WHEN the firm is deleted and its slot reused
	require.NoError(t, tree.Delete(firms[1]))
	reused, err := tree.AddInstance(sector, "Firm", nil, 1)
	require.NoError(t, err)

	// THEN the hook no longer resolves, even though the index was recycled
	assert.Nil(t, tree.HookTarget(sector))
	assert.Equal(t, firms[1].Handle().Index, reused[0].Handle().Index)
	assert.NotEqual(t, firms[1].Handle().Gen, reused[0].Handle().Gen)
	assert.Same(t, firms[2], tree.Resolve(sector.HookAt(2)))
	assert.Equal(t, NilHandle, sector.HookAt(7))
}

func TestTree_Delete_Refused(t *testing.T) {
	tree, _, firms := sectorTree(t, 2, 0.2)

	err := tree.Delete(tree.Root())
	assert.True(t, errors.Is(err, ErrStructure))

	firms[0].Variable("sales").computing = true
	err = tree.Delete(firms[0])
	assert.True(t, errors.Is(err, ErrStructure))
	assert.False(t, firms[0].Deleted())
}

func TestTree_Delete_DetachedOrBlueprint(t *testing.T) {
	tree, _, _ := sectorTree(t, 2, 0.2)
	bp := tree.NewEntity("Firm")
	tree.RegisterBlueprint(bp)

	tests := []struct {
		name string
		e    *Entity
	}{
		{name: "blueprint", e: bp},
		{name: "never attached", e: tree.NewEntity("Firm")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tree.Delete(tc.e)

			require.Error(t, err)
			assert.ErrorIs(t, err, ErrStructure)
			assert.Contains(t, err.Error(), "detached entity or blueprint")
			assert.False(t, tc.e.Deleted())
		})
	}
	assert.Equal(t, 4, tree.Len())
}

func TestTree_Delete_BlueprintFromEquation(t *testing.T) {
	// GIVEN a sector equation deleting the firm blueprint
	tree, sector, _ := sectorTree(t, 2, 0.2)
	tree.RegisterBlueprint(tree.NewEntity("Firm"))
	reg := registry(t, Equation{Label: "TotalShare", Body: func(c *Ctx) float64 {
		c.Delete(c.Tree().Blueprint("Firm"))
		return 1
	}})
	ev := newTestEvaluator(tree, reg)

	// WHEN it is computed
	_, err := ev.Value(sector, "TotalShare", 0)

	// THEN it fails cleanly and the variable is not left under computation
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStructure)
	assert.False(t, sector.Variable("TotalShare").computing)
	assert.NotNil(t, tree.Blueprint("Firm"))
}

func TestTree_Resolve_NilHandle(t *testing.T) {
	tree := NewTree("Root")
	assert.Nil(t, tree.Resolve(NilHandle))
	assert.Nil(t, tree.Resolve(Handle{Index: 99, Gen: 1}))
	assert.Same(t, tree.Root(), tree.Resolve(tree.Root().Handle()))
}
