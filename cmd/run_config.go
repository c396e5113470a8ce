package cmd

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	sim "github.com/abm-sim/abm-sim/sim"
	"github.com/abm-sim/abm-sim/sim/trace"
)

// RunConfig is the optional --config file. Unset fields keep the defaults;
// flags given explicitly on the command line override the file.
type RunConfig struct {
	Seed          *int64         `yaml:"seed,omitempty"`
	Steps         *int64         `yaml:"steps,omitempty"`
	NumericPolicy string         `yaml:"numeric_policy,omitempty"`
	DefaultValue  *float64       `yaml:"default_value,omitempty"`
	MaxDepth      *int           `yaml:"max_depth,omitempty"`
	Workers       *int           `yaml:"workers,omitempty"`
	WaitTimeout   *time.Duration `yaml:"wait_timeout,omitempty"`
	TraceLevel    string         `yaml:"trace_level,omitempty"`
}

// loadRunConfig parses a run config file. Uses strict field checking so
// typos fail loudly.
func loadRunConfig(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading run config: %w", err)
	}
	var rc RunConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&rc); err != nil {
		return nil, fmt.Errorf("parsing run config %s: %w", path, err)
	}
	return &rc, nil
}

// apply overlays the fields set in rc onto cfg.
func (rc *RunConfig) apply(cfg *sim.Config) {
	if rc.Seed != nil {
		cfg.Seed = *rc.Seed
	}
	if rc.Steps != nil {
		cfg.MaxSteps = *rc.Steps
	}
	if rc.NumericPolicy != "" {
		cfg.Eval.NumericPolicy = sim.NumericPolicy(rc.NumericPolicy)
	}
	if rc.DefaultValue != nil {
		cfg.Eval.DefaultValue = *rc.DefaultValue
	}
	if rc.MaxDepth != nil {
		cfg.Eval.MaxDepth = *rc.MaxDepth
	}
	if rc.Workers != nil {
		cfg.Parallel.Workers = *rc.Workers
	}
	if rc.WaitTimeout != nil {
		cfg.Parallel.WaitTimeout = *rc.WaitTimeout
	}
	if rc.TraceLevel != "" {
		cfg.TraceLevel = trace.TraceLevel(rc.TraceLevel)
	}
}

// resolveConfig builds the run configuration: defaults, then the model's
// default value, then the --config file, then flags the user changed.
func resolveConfig(cmd *cobra.Command, modelDefault float64) (sim.Config, error) {
	cfg := sim.DefaultConfig()
	cfg.Eval.DefaultValue = modelDefault
	if configPath != "" {
		rc, err := loadRunConfig(configPath)
		if err != nil {
			return sim.Config{}, err
		}
		rc.apply(&cfg)
	}

	flags := cmd.Flags()
	if flags.Changed("seed") {
		cfg.Seed = seed
	}
	if flags.Changed("steps") {
		cfg.MaxSteps = maxSteps
	}
	if flags.Changed("numeric-policy") {
		cfg.Eval.NumericPolicy = sim.NumericPolicy(numericPolicy)
	}
	if flags.Changed("default-value") {
		cfg.Eval.DefaultValue = defaultValue
	}
	if flags.Changed("max-depth") {
		cfg.Eval.MaxDepth = maxDepth
	}
	if flags.Changed("workers") {
		cfg.Parallel.Workers = workers
	}
	if flags.Changed("wait-timeout") {
		cfg.Parallel.WaitTimeout = waitTimeout
	}
	if flags.Changed("trace-level") {
		cfg.TraceLevel = trace.TraceLevel(traceLevel)
	}
	if err := cfg.Validate(); err != nil {
		return sim.Config{}, err
	}
	return cfg, nil
}
