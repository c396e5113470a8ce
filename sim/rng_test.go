package sim

import (
	"math"
	"math/rand"
	"testing"
)

// === SimulationKey Tests ===

func TestSimulationKey_Creation(t *testing.T) {
	tests := []struct {
		name string
		seed int64
	}{
		{"positive seed", 42},
		{"zero seed", 0},
		{"negative seed", -1},
		{"max int64", math.MaxInt64},
		{"min int64", math.MinInt64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := NewSimulationKey(tt.seed)
			if int64(key) != tt.seed {
				t.Errorf("NewSimulationKey(%d) = %d, want %d", tt.seed, key, tt.seed)
			}
		})
	}
}

// === PartitionedRNG Tests ===

func TestPartitionedRNG_DeterministicDerivation(t *testing.T) {
	// BDD: Same key+name produces same sequence
	rng1 := NewPartitionedRNG(NewSimulationKey(42))
	rng2 := NewPartitionedRNG(NewSimulationKey(42))

	for i := 0; i < 3; i++ {
		a := rng1.ForSubsystem(SubsystemModel).Float64()
		b := rng2.ForSubsystem(SubsystemModel).Float64()
		if a != b {
			t.Errorf("Value %d: got %v and %v, want identical", i, a, b)
		}
	}
}

func TestPartitionedRNG_SubsystemIsolation(t *testing.T) {
	// BDD: Drawing from subsystem A doesn't affect subsystem B
	rngA := NewPartitionedRNG(NewSimulationKey(42))

	for i := 0; i < 10; i++ {
		rngA.ForSubsystem(SubsystemEquations).Float64()
	}
	aModelFirst := rngA.ForSubsystem(SubsystemModel).Float64()

	fresh := NewPartitionedRNG(NewSimulationKey(42))
	expectedFirst := fresh.ForSubsystem(SubsystemModel).Float64()

	if aModelFirst != expectedFirst {
		t.Errorf("A's model first value = %v, want %v (isolation broken)", aModelFirst, expectedFirst)
	}
}

func TestPartitionedRNG_EquationsUseMasterSeed(t *testing.T) {
	// BDD: "equations" subsystem uses master seed directly
	seed := int64(42)
	rng := NewPartitionedRNG(NewSimulationKey(seed))
	eqRNG := rng.ForSubsystem(SubsystemEquations)
	directRNG := newRandFromSeed(seed)

	for i := 0; i < 10; i++ {
		got := eqRNG.Float64()
		want := directRNG.Float64()
		if got != want {
			t.Errorf("Value %d: equations RNG = %v, direct RNG = %v", i, got, want)
		}
	}
}

func TestPartitionedRNG_CachesInstance(t *testing.T) {
	rng := NewPartitionedRNG(NewSimulationKey(42))
	if rng.ForSubsystem(SubsystemEquations) != rng.ForSubsystem(SubsystemEquations) {
		t.Error("ForSubsystem returned different instances for same name")
	}
}

func TestPartitionedRNG_StreamIsUncached(t *testing.T) {
	// BDD: Stream returns a new generator each call, replaying the same sequence
	rng := NewPartitionedRNG(NewSimulationKey(7))
	name := SubsystemBranch(3, Handle{Index: 4, Gen: 1})

	s1 := rng.Stream(name)
	s2 := rng.Stream(name)
	if s1 == s2 {
		t.Fatal("Stream returned the same instance twice")
	}
	if s1.Float64() != s2.Float64() {
		t.Error("Stream sequences for the same name differ")
	}
	if len(rng.subsystems) != 0 {
		t.Errorf("Stream populated the cache with %d entries", len(rng.subsystems))
	}
}

func TestPartitionedRNG_Key(t *testing.T) {
	seed := int64(12345)
	rng := NewPartitionedRNG(NewSimulationKey(seed))
	if rng.Key() != SimulationKey(seed) {
		t.Errorf("Key() = %v, want %v", rng.Key(), seed)
	}
}

func TestPartitionedRNG_NegativeSeed(t *testing.T) {
	rng := NewPartitionedRNG(NewSimulationKey(math.MinInt64))
	val := rng.ForSubsystem(SubsystemEquations).Float64()
	if val < 0 || val >= 1 {
		t.Errorf("Float64() returned %v, want [0, 1)", val)
	}
}

// === fnv1a64 Tests ===

func TestFnv1a64_Collision(t *testing.T) {
	// Different subsystem names should produce different hashes (spot check)
	names := []string{
		SubsystemEquations,
		SubsystemModel,
		SubsystemBranch(1, Handle{Index: 1, Gen: 1}),
		SubsystemBranch(1, Handle{Index: 2, Gen: 1}),
		SubsystemBranch(2, Handle{Index: 1, Gen: 1}),
		SubsystemBranch(1, Handle{Index: 1, Gen: 2}),
		"",
	}

	hashes := make(map[int64]string)
	for _, name := range names {
		h := fnv1a64(name)
		if existing, ok := hashes[h]; ok {
			t.Errorf("Hash collision: %q and %q both hash to %d", name, existing, h)
		}
		hashes[h] = name
	}
}

func TestSubsystemBranch(t *testing.T) {
	got := SubsystemBranch(12, Handle{Index: 5, Gen: 2})
	if got != "branch_12_5_2" {
		t.Errorf("SubsystemBranch = %q, want %q", got, "branch_12_5_2")
	}
}

// === Benchmark ===

func BenchmarkPartitionedRNG_ForSubsystem_CacheHit(b *testing.B) {
	rng := NewPartitionedRNG(NewSimulationKey(42))
	rng.ForSubsystem(SubsystemEquations)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rng.ForSubsystem(SubsystemEquations)
	}
}

// newRandFromSeed creates a *rand.Rand with the given seed
func newRandFromSeed(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}
