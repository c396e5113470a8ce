package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	sim "github.com/abm-sim/abm-sim/sim"
	"github.com/abm-sim/abm-sim/sim/equations/market"
	"github.com/abm-sim/abm-sim/sim/model"
)

var (
	// Inputs
	modelPath   string // Model snapshot YAML
	configPath  string // Optional run config YAML; flags given explicitly win
	resultsPath string // File to write saved series and metrics as JSON

	// Run configuration
	seed          int64         // Seed for equation draws and drawn initial values
	maxSteps      int64         // Number of steps to run
	logLevel      string        // Log verbosity level
	numericPolicy string        // fatal or clamp
	defaultValue  float64       // Value served for lag slots never written
	maxDepth      int           // Bound on nested evaluation depth
	workers       int           // Parallel workers; 1 runs sequentially
	waitTimeout   time.Duration // Bound on the host wait for a parallel batch
	traceLevel    string        // none or watch
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:          "abm-sim",
	Short:        "Step-based evaluation kernel for agent-based simulation models",
	SilenceUsage: true,
}

// runCmd loads a model, runs it with the market equations and reports
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a model",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := setLogLevel(); err != nil {
			return err
		}
		s, err := newSimulator(cmd)
		if err != nil {
			return err
		}
		runErr := s.Run(cmd.Context(), s.Config.MaxSteps)

		out := cmd.OutOrStdout()
		s.Metrics().Print(out)
		printSeriesSummary(out, s.Series())
		if resultsPath != "" {
			if err := saveResults(resultsPath, s); err != nil {
				return err
			}
			logrus.Infof("Results written to %s", resultsPath)
		}
		if runErr != nil {
			return fmt.Errorf("run halted after %d steps: %w", s.StepsRun(), runErr)
		}
		logrus.Info("Simulation complete.")
		return nil
	},
}

// validateCmd checks a model without running it
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Parse, validate and build a model, checking every computed variable has an equation",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := setLogLevel(); err != nil {
			return err
		}
		m, tree, err := buildModel()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: OK (%d entities, %d types)\n", modelPath, tree.Len(), len(m.Types))
		return nil
	},
}

// inspectCmd prints the entity tree a model builds
var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print the entity tree of a model",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := setLogLevel(); err != nil {
			return err
		}
		m, err := loadModel()
		if err != nil {
			return err
		}
		tree, err := m.Build(seed)
		if err != nil {
			return err
		}
		printTree(cmd.OutOrStdout(), tree)
		return nil
	},
}

func setLogLevel() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	logrus.SetLevel(level)
	return nil
}

// equationRegistry loads every equation unit the CLI ships with.
func equationRegistry() (*sim.Registry, error) {
	reg := sim.NewRegistry()
	if err := reg.Load(market.Unit()); err != nil {
		return nil, err
	}
	return reg, nil
}

// buildModel loads, builds and checks the model at modelPath.
// loadModel reads the model named by --model.
func loadModel() (*model.Model, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("--model is required")
	}
	return model.LoadModel(modelPath)
}

func buildModel() (*model.Model, *sim.Tree, error) {
	m, err := loadModel()
	if err != nil {
		return nil, nil, err
	}
	tree, err := m.Build(seed)
	if err != nil {
		return nil, nil, err
	}
	reg, err := equationRegistry()
	if err != nil {
		return nil, nil, err
	}
	if err := reg.CheckTree(tree); err != nil {
		return nil, nil, err
	}
	return m, tree, nil
}

// newSimulator resolves the run config for cmd and wires a simulator for
// the model at modelPath.
func newSimulator(cmd *cobra.Command) (*sim.Simulator, error) {
	m, err := loadModel()
	if err != nil {
		return nil, err
	}
	cfg, err := resolveConfig(cmd, m.DefaultValue)
	if err != nil {
		return nil, err
	}
	tree, err := m.Build(cfg.Seed)
	if err != nil {
		return nil, err
	}
	reg, err := equationRegistry()
	if err != nil {
		return nil, err
	}
	return sim.NewSimulator(cfg, tree, reg)
}

// Execute runs the CLI root command. An interrupt stops a run between steps.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

// addModelFlags registers the flags every subcommand shares.
func addModelFlags(c *cobra.Command) {
	c.Flags().StringVar(&modelPath, "model", "", "Model snapshot YAML file")
	c.Flags().Int64Var(&seed, "seed", 42, "Seed for equation draws and drawn initial values")
	c.Flags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
}

// addRunFlags registers the run configuration flags on c.
func addRunFlags(c *cobra.Command) {
	defaults := sim.DefaultConfig()
	c.Flags().StringVar(&configPath, "config", "", "Run config YAML; explicitly given flags override it")
	c.Flags().StringVar(&resultsPath, "results-path", "", "Write saved series and metrics to this JSON file")
	c.Flags().Int64Var(&maxSteps, "steps", defaults.MaxSteps, "Number of steps to run")
	c.Flags().StringVar(&numericPolicy, "numeric-policy", string(defaults.Eval.NumericPolicy), "Handling of NaN/Inf results (fatal, clamp)")
	c.Flags().Float64Var(&defaultValue, "default-value", 0, "Value for lag slots never written (default: the model's default_value)")
	c.Flags().IntVar(&maxDepth, "max-depth", defaults.Eval.MaxDepth, "Maximum nested evaluation depth")
	c.Flags().IntVar(&workers, "workers", defaults.Parallel.Workers, "Workers for parallel-flagged variables; 1 runs sequentially")
	c.Flags().DurationVar(&waitTimeout, "wait-timeout", 0, "Abort when a parallel batch takes longer than this; 0 waits indefinitely")
	c.Flags().StringVar(&traceLevel, "trace-level", string(defaults.TraceLevel), "Trace level (none, watch)")
}

// init sets up CLI flags and subcommands
func init() {
	for _, c := range []*cobra.Command{runCmd, validateCmd, inspectCmd} {
		addModelFlags(c)
	}
	addRunFlags(runCmd)

	rootCmd.AddCommand(runCmd, validateCmd, inspectCmd)
}
