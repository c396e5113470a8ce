package sim

import (
	"fmt"
	"hash/fnv"
	"math/rand"
)

// === SimulationKey ===

// SimulationKey uniquely identifies a reproducible simulation run.
// Two sequential runs with the same SimulationKey and identical model
// MUST produce bit-for-bit identical results.
type SimulationKey int64

// NewSimulationKey creates a SimulationKey from a seed value.
func NewSimulationKey(seed int64) SimulationKey {
	return SimulationKey(seed)
}

// === Subsystem Constants ===

const (
	// SubsystemEquations is the single linear draw sequence shared by all
	// equations evaluated on the host goroutine. Uses the master seed directly.
	SubsystemEquations = "equations"

	// SubsystemModel is used by loaders that randomize initial values.
	SubsystemModel = "model"
)

// SubsystemBranch returns the stream name for a parallel worker evaluating
// the group member with handle h at step.
func SubsystemBranch(step int64, h Handle) string {
	return fmt.Sprintf("branch_%d_%d_%d", step, h.Index, h.Gen)
}

// === PartitionedRNG ===

// PartitionedRNG provides deterministic, isolated RNG instances per subsystem.
//
// Derivation formula:
//   - For SubsystemEquations: uses masterSeed directly
//   - For all other subsystems: masterSeed XOR fnv1a64(subsystemName)
//
// Thread-safety: NOT thread-safe. ForSubsystem must be called from the host
// goroutine; Stream results may be handed to one worker each.
type PartitionedRNG struct {
	key        SimulationKey
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a SimulationKey.
func NewPartitionedRNG(key SimulationKey) *PartitionedRNG {
	return &PartitionedRNG{
		key:        key,
		subsystems: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns a deterministically-seeded RNG for the named subsystem.
// The same subsystem name always returns the same *rand.Rand instance (cached).
// Never returns nil.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}
	rng := p.Stream(name)
	p.subsystems[name] = rng
	return rng
}

// Stream returns a fresh, uncached RNG seeded for name. Used for per-branch
// streams that live for a single parallel evaluation.
func (p *PartitionedRNG) Stream(name string) *rand.Rand {
	return rand.New(rand.NewSource(p.derive(name)))
}

func (p *PartitionedRNG) derive(name string) int64 {
	if name == SubsystemEquations {
		return int64(p.key)
	}
	return int64(p.key) ^ fnv1a64(name)
}

// Key returns the SimulationKey used to create this PartitionedRNG.
func (p *PartitionedRNG) Key() SimulationKey {
	return p.key
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
