package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// idTree builds Root → Sector → Firm×len(ids), each firm carrying an "id"
// parameter from ids.
func idTree(t *testing.T, ids ...float64) (*Tree, *Entity, []*Entity) {
	t.Helper()
	tree := NewTree("Root")
	sector := attachN(t, tree, tree.Root(), "Sector", 1, func(e *Entity) {
		declare(t, e, "pick", KindVariable, 0, 0)
	})[0]
	firms := make([]*Entity, 0, len(ids))
	for _, id := range ids {
		firms = append(firms, attachN(t, tree, sector, "Firm", 1, func(e *Entity) {
			declare(t, e, "id", KindParameter, 0, 0, id)
			declare(t, e, "score", KindVariable, 0, 0)
		})...)
	}
	return tree, sector, firms
}

func ids(t *testing.T, tree *Tree, seq func(func(*Entity) bool)) []float64 {
	t.Helper()
	var out []float64
	for e := range seq {
		v, err := tree.Read(e, "id", 0)
		require.NoError(t, err)
		out = append(out, v)
	}
	return out
}

func TestSearch_FindsFirstInstanceDepthFirst(t *testing.T) {
	tree, sector, firms := idTree(t, 1, 2, 3)

	assert.Same(t, sector, Search(tree.Root(), "Sector"))
	assert.Same(t, firms[0], Search(tree.Root(), "Firm"))
	assert.Same(t, firms[2], SearchAt(tree.Root(), "Firm", 3))
	assert.Nil(t, SearchAt(sector, "Firm", 0))
	assert.Nil(t, SearchAt(sector, "Firm", 4))
	assert.Nil(t, Search(sector, "Sector"), "search never looks upward")
	assert.Nil(t, Search(tree.Root(), "Ghost"))
}

func TestFindGroup_PrefersPopulatedGroup(t *testing.T) {
	// GIVEN an empty Firm group under the root and a populated one deeper
	tree, sector, _ := idTree(t, 1, 2)
	bp := tree.NewEntity("Firm")
	tree.RegisterBlueprint(bp)
	empty := tree.DeclareGroup(tree.Root(), "Firm")

	// THEN the populated group wins, and the empty one still surfaces alone
	assert.Same(t, sector.Group("Firm"), FindGroup(tree.Root(), "Firm"))
	require.NoError(t, tree.Delete(sector))
	assert.Same(t, empty, FindGroup(tree.Root(), "Firm"))
	assert.Same(t, bp, BlueprintOf(tree.Root(), "Firm"))
}

func TestIterate_LiveOrderAndRestartable(t *testing.T) {
	tree, sector, _ := idTree(t, 1, 2, 3)
	seq := Iterate(sector, "Firm")

	assert.Equal(t, []float64{1, 2, 3}, ids(t, tree, seq))
	assert.Equal(t, []float64{1, 2, 3}, ids(t, tree, seq), "a second pass restarts")

	var first []float64
	for e := range seq {
		v, _ := tree.Read(e, "id", 0)
		first = append(first, v)
		break
	}
	assert.Equal(t, []float64{1}, first)
}

func TestSafeIterate_DeletingEvenMembers(t *testing.T) {
	// GIVEN five firms with ids 1..5
	tree, sector, _ := idTree(t, 1, 2, 3, 4, 5)

	// WHEN the body deletes every even id while iterating
	var visited []float64
	for e := range SafeIterate(sector, "Firm") {
		id, err := tree.Read(e, "id", 0)
		require.NoError(t, err)
		visited = append(visited, id)
		if int(id)%2 == 0 {
			require.NoError(t, tree.Delete(e))
		}
	}

	// THEN all five were visited and three remain in order
	assert.Equal(t, []float64{1, 2, 3, 4, 5}, visited)
	assert.Equal(t, []float64{1, 3, 5}, ids(t, tree, Iterate(sector, "Firm")))
	require.NoError(t, tree.Check())
}

func TestSafeIterate_SkipsMembersDeletedBeforeTheirTurn(t *testing.T) {
	tree, sector, firms := idTree(t, 1, 2, 3)

	var visited []float64
	for e := range SafeIterate(sector, "Firm") {
		id, _ := tree.Read(e, "id", 0)
		visited = append(visited, id)
		if id == 1 {
			require.NoError(t, tree.Delete(firms[1]))
			_, err := tree.AddInstance(sector, "Firm", firms[0], 1)
			require.NoError(t, err)
		}
	}
	assert.Equal(t, []float64{1, 3}, visited, "deleted member skipped, added member not visited")
	assert.Equal(t, 3, sector.Group("Firm").Len())
}

func TestSearchCond_FreshensValues(t *testing.T) {
	// GIVEN firms whose score is computed as id*10
	tree, sector, firms := idTree(t, 1, 2, 3)
	reg := registry(t,
		Equation{Label: "score", Body: func(c *Ctx) float64 { return c.V("id") * 10 }},
		Equation{Label: "pick", Body: func(c *Ctx) float64 {
			e := c.SearchCond("Firm", "score", 20)
			if e == nil {
				return -1
			}
			return c.VS(e, "id")
		}},
	)
	ev := newTestEvaluator(tree, reg)

	// WHEN the sector searches for score == 20
	got, err := ev.Value(sector, "pick", 0)

	// THEN the second firm matches, and only firms up to it were computed
	require.NoError(t, err)
	assert.Equal(t, 2.0, got)
	assert.Equal(t, int64(1), firms[1].Variable("score").LastComputed())
	assert.Equal(t, int64(-1), firms[2].Variable("score").LastComputed())
}

func TestSort_StableByFreshenedValue(t *testing.T) {
	// scores are id mod 10: 31→1, 21→1, 22→2, 11→1
	tests := []struct {
		name string
		dir  Direction
		want []float64
	}{
		{name: "ascending keeps tie order", dir: Ascending, want: []float64{31, 21, 11, 22}},
		{name: "descending keeps tie order", dir: Descending, want: []float64{22, 31, 21, 11}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tree, sector, _ := idTree(t, 31, 21, 22, 11)
			reg := registry(t,
				Equation{Label: "score", Body: func(c *Ctx) float64 {
					return float64(int(c.V("id")) % 10)
				}},
				Equation{Label: "pick", Body: func(c *Ctx) float64 {
					c.Sort("Firm", "score", tc.dir)
					return 0
				}},
			)

			_, err := newTestEvaluator(tree, reg).Value(sector, "pick", 0)

			require.NoError(t, err)
			assert.Equal(t, tc.want, ids(t, tree, Iterate(sector, "Firm")))
		})
	}
}
