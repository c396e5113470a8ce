package sim

import (
	"iter"
	"sort"
)

// Direction orders Sort results.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

// FindGroup locates the instance group of typeLabel below from. from's own
// groups are checked first, then each instance's subtree depth-first. The
// first group holding live instances wins; failing that, the first empty
// group of that type is returned so callers can still see its blueprint.
func FindGroup(from *Entity, typeLabel string) *InstanceGroup {
	var empty *InstanceGroup
	g := findGroup(from, typeLabel, &empty)
	if g == nil {
		return empty
	}
	return g
}

func findGroup(e *Entity, typeLabel string, empty **InstanceGroup) *InstanceGroup {
	for _, g := range e.groups {
		if g.TypeLabel != typeLabel {
			continue
		}
		if len(g.instances) > 0 {
			return g
		}
		if *empty == nil {
			*empty = g
		}
	}
	for _, g := range e.groups {
		for _, c := range g.instances {
			if found := findGroup(c, typeLabel, empty); found != nil {
				return found
			}
		}
	}
	return nil
}

// Search returns the first descendant of from with the given type, or nil.
func Search(from *Entity, typeLabel string) *Entity {
	if g := FindGroup(from, typeLabel); g != nil {
		return g.At(0)
	}
	return nil
}

// SearchAt returns the n-th (1-based) instance of typeLabel below from.
func SearchAt(from *Entity, typeLabel string, n int) *Entity {
	if g := FindGroup(from, typeLabel); g != nil {
		return g.At(n - 1)
	}
	return nil
}

// BlueprintOf returns the schema entity of typeLabel below from: the group's
// blueprint, else its first instance.
func BlueprintOf(from *Entity, typeLabel string) *Entity {
	g := FindGroup(from, typeLabel)
	if g == nil {
		return nil
	}
	if g.Blueprint != nil {
		return g.Blueprint
	}
	return g.schema()
}

// Iterate yields the instances of typeLabel below from in current group
// order. The body must not delete instances of the group; use SafeIterate
// for that.
func Iterate(from *Entity, typeLabel string) iter.Seq[*Entity] {
	return func(yield func(*Entity) bool) {
		g := FindGroup(from, typeLabel)
		if g == nil {
			return
		}
		for i := 0; i < len(g.instances); i++ {
			if !yield(g.instances[i]) {
				return
			}
		}
	}
}

// SafeIterate is Iterate over a snapshot taken before the first element is
// yielded. The body may delete the current element or any other member;
// members deleted before their turn are skipped and members added during
// the loop are not visited.
func SafeIterate(from *Entity, typeLabel string) iter.Seq[*Entity] {
	return func(yield func(*Entity) bool) {
		g := FindGroup(from, typeLabel)
		if g == nil {
			return
		}
		for _, e := range g.Instances() {
			if e.deleted {
				continue
			}
			if !yield(e) {
				return
			}
		}
	}
}

// sortGroup reorders g in place by key. Ties keep their traversal order.
func sortGroup(g *InstanceGroup, dir Direction, key func(*Entity) (float64, error)) error {
	keys := make(map[*Entity]float64, len(g.instances))
	for _, e := range g.Instances() {
		k, err := key(e)
		if err != nil {
			return err
		}
		keys[e] = k
	}
	sort.SliceStable(g.instances, func(i, j int) bool {
		a, b := keys[g.instances[i]], keys[g.instances[j]]
		if dir == Descending {
			return a > b
		}
		return a < b
	})
	return nil
}
