package sim

import (
	"fmt"
	"math"
	"time"

	"github.com/abm-sim/abm-sim/sim/trace"
)

// EvalConfig groups evaluator parameters.
type EvalConfig struct {
	DefaultValue  float64       // served for lag slots never written
	NumericPolicy NumericPolicy // "fatal" (default) or "clamp"
	MaxDepth      int           // bound on nested equation pulls (default 1000)
}

// NewEvalConfig creates an EvalConfig. All fields are set explicitly.
func NewEvalConfig(defaultValue float64, policy NumericPolicy, maxDepth int) EvalConfig {
	return EvalConfig{DefaultValue: defaultValue, NumericPolicy: policy, MaxDepth: maxDepth}
}

// ParallelConfig groups scheduler parameters.
type ParallelConfig struct {
	Workers     int           // max concurrent workers; ≤1 disables parallel mode
	WaitTimeout time.Duration // host wait bound per batch; 0 = unbounded
}

// NewParallelConfig creates a ParallelConfig. All fields are set explicitly.
func NewParallelConfig(workers int, waitTimeout time.Duration) ParallelConfig {
	return ParallelConfig{Workers: workers, WaitTimeout: waitTimeout}
}

// Config is the full run configuration.
type Config struct {
	Seed       int64
	MaxSteps   int64 // used by Run when called with maxSteps ≤ 0
	TraceLevel trace.TraceLevel
	Eval       EvalConfig
	Parallel   ParallelConfig
}

// DefaultConfig returns a sequential, fatal-on-NaN configuration.
func DefaultConfig() Config {
	return Config{
		Seed:       42,
		MaxSteps:   100,
		TraceLevel: trace.TraceLevelNone,
		Eval:       NewEvalConfig(0, NumericFatal, DefaultMaxDepth),
		Parallel:   NewParallelConfig(1, 0),
	}
}

var validNumericPolicies = map[NumericPolicy]bool{
	"": true, NumericFatal: true, NumericClamp: true,
}

// Validate checks that all fields are usable.
func (c Config) Validate() error {
	if c.MaxSteps < 0 {
		return fmt.Errorf("max steps must be non-negative, got %d", c.MaxSteps)
	}
	if !trace.IsValidTraceLevel(string(c.TraceLevel)) {
		return fmt.Errorf("unknown trace level %q; valid: none, watch", c.TraceLevel)
	}
	if !validNumericPolicies[c.Eval.NumericPolicy] {
		return fmt.Errorf("unknown numeric policy %q; valid: fatal, clamp", c.Eval.NumericPolicy)
	}
	if math.IsNaN(c.Eval.DefaultValue) || math.IsInf(c.Eval.DefaultValue, 0) {
		return fmt.Errorf("default value must be a finite number, got %f", c.Eval.DefaultValue)
	}
	if c.Eval.MaxDepth < 0 {
		return fmt.Errorf("max depth must be non-negative, got %d", c.Eval.MaxDepth)
	}
	if c.Parallel.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", c.Parallel.Workers)
	}
	if c.Parallel.WaitTimeout < 0 {
		return fmt.Errorf("wait timeout must be non-negative, got %s", c.Parallel.WaitTimeout)
	}
	return nil
}
