// Package sim provides the evaluation kernel of the agent-based simulator.
//
// # Reading Guide
//
// Start with these files to understand the kernel:
//   - tree.go: the entity arena, structural mutation and the value store
//   - evaluator.go: lazy, memoized equation evaluation (Stale → Computing → Fresh)
//   - simulator.go: the step driver, Run/Step/Stop and observation series
//
// # Architecture
//
// A model is a tree of entities. Each entity owns labelled variables with
// a bounded lag history and ordered groups of child entities of one type.
// Equations are registered per label in a Registry (equation.go) and pulled
// on demand: reading a stale variable at lag 0 runs its equation, which may
// read other variables and so pull their equations in turn. Each variable
// is computed at most once per step.
//
// Equations see the tree only through *Ctx (context.go, aggregate.go):
// value access, group queries, aggregates, structural mutation, hooks and
// random draws. The Scheduler (scheduler.go) evaluates variables flagged as
// parallel across the instances of a group with a bounded worker pool.
//
// Sub-packages:
//   - sim/model/: YAML model snapshots and tree construction
//   - sim/trace/: saved series, cemetery and diagnostic records
//   - sim/equations/: equation units
//
// # Determinism
//
// Given the same model, equation units and seed, a sequential run is
// reproducible bit for bit. Random draws come from PartitionedRNG (rng.go);
// parallel workers draw from per-branch streams, so a parallel run is
// reproducible but differs from the sequential one.
package sim
