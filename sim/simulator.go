// sim/simulator.go
package sim

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/abm-sim/abm-sim/sim/trace"
)

// Simulator drives a tree step by step: every computed variable is pulled
// in tree order, saved variables are recorded, then lag windows shift.
type Simulator struct {
	Config   Config
	RunID    string
	Tree     *Tree
	Registry *Registry

	rng      *PartitionedRNG
	eval     *Evaluator
	sched    *Scheduler
	stopped  atomic.Bool
	err      error // first fatal error; sticky
	stepsRun int64
	metrics  Metrics

	// churn already on the tree when the simulator was created
	baseAdded, baseDeleted int
}

// NewSimulator validates cfg, checks the tree's structure and that every
// computed variable has an equation, and wires evaluator and scheduler.
func NewSimulator(cfg Config, tree *Tree, reg *Registry) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := tree.Check(); err != nil {
		return nil, err
	}
	if err := reg.CheckTree(tree); err != nil {
		return nil, err
	}
	tree.DefaultValue = cfg.Eval.DefaultValue
	tree.trace.Config.Level = cfg.TraceLevel

	rng := NewPartitionedRNG(NewSimulationKey(cfg.Seed))
	s := &Simulator{
		Config:   cfg,
		RunID:    uuid.NewString(),
		Tree:     tree,
		Registry: reg,
		rng:      rng,
		eval:     NewEvaluator(tree, reg, cfg.Eval.NumericPolicy, cfg.Eval.MaxDepth, rng),
		sched:    NewScheduler(cfg.Parallel.Workers, cfg.Parallel.WaitTimeout),
	}
	s.baseAdded, s.baseDeleted = tree.Churn()
	s.metrics.PeakEntities = tree.Len()
	return s, nil
}

// RNG returns the run's partitioned generator.
func (s *Simulator) RNG() *PartitionedRNG { return s.rng }

// Evaluator returns the run's evaluator.
func (s *Simulator) Evaluator() *Evaluator { return s.eval }

// StepsRun returns the number of completed steps.
func (s *Simulator) StepsRun() int64 { return s.stepsRun }

// Err returns the fatal error that halted the run, if any.
func (s *Simulator) Err() error { return s.err }

// Stop asks Run to return before the next step. Safe from any goroutine,
// including from inside an equation; the current step always completes.
func (s *Simulator) Stop() { s.stopped.Store(true) }

// Stopped reports whether Stop has been called.
func (s *Simulator) Stopped() bool { return s.stopped.Load() }

// Value returns label's value at lag as seen from e, computing it if needed.
func (s *Simulator) Value(e *Entity, label string, lag int) (float64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.eval.Value(e, label, lag)
}

// Run executes up to maxSteps steps (Config.MaxSteps when maxSteps ≤ 0).
// Cancellation of ctx and Stop are honored between steps only.
func (s *Simulator) Run(ctx context.Context, maxSteps int64) error {
	if maxSteps <= 0 {
		maxSteps = s.Config.MaxSteps
	}
	start := time.Now()
	defer func() { s.metrics.Elapsed += time.Since(start) }()
	logrus.Infof("Starting run %s: steps=%d, seed=%d, workers=%d, policy=%s",
		s.RunID, maxSteps, s.Config.Seed, s.Config.Parallel.Workers, s.eval.policy)

	for i := int64(0); i < maxSteps; i++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run cancelled before step %d: %w", s.Tree.step, err)
		}
		if s.stopped.Load() {
			logrus.Infof("[step %05d] Run stopped", s.Tree.step)
			return nil
		}
		if err := s.Step(); err != nil {
			return err
		}
	}
	logrus.Infof("Run %s complete: %d steps in %s", s.RunID, s.stepsRun, time.Since(start))
	return nil
}

// Step evaluates one logical step. Each call advances the tree, so it must
// be called exactly once per step. After a fatal error every call returns
// that error.
func (s *Simulator) Step() error {
	if s.err != nil {
		return s.err
	}
	if s.stopped.Load() {
		return ErrStopped
	}
	step := s.Tree.step
	logrus.Debugf("[step %05d] Executing", step)

	if err := s.update(s.Tree.root); err != nil {
		s.err = err
		logrus.Errorf("[step %05d] Run halted: %v", step, err)
		return err
	}
	s.record(step)
	s.Tree.AdvanceStep()
	s.stepsRun++
	s.metrics.PeakEntities = max(s.metrics.PeakEntities, s.Tree.Len())
	return nil
}

// update computes the variables of e, then its groups, depth-first.
// Parallel-eligible variables of a group are evaluated across the group
// before its instances are visited.
func (s *Simulator) update(e *Entity) error {
	if e.deleted || e.skipped {
		return nil
	}
	for _, v := range e.Variables() {
		if e.deleted {
			return nil
		}
		if v.Kind != KindVariable || v.Flags.Has(FlagSkip) {
			continue
		}
		if _, err := s.eval.get(&chain{}, e, v, 0); err != nil {
			return err
		}
	}
	for _, g := range e.Groups() {
		if ref := g.schema(); ref != nil {
			for _, v := range ref.Variables() {
				if !s.sched.eligible(g, v.Label) {
					continue
				}
				if err := s.sched.Evaluate(s.eval, g, v.Label); err != nil {
					return err
				}
			}
		}
		for _, c := range g.Instances() {
			if err := s.update(c); err != nil {
				return err
			}
		}
	}
	return nil
}

// record appends the step's value of every save-flagged variable that is
// valid for the step.
func (s *Simulator) record(step int64) {
	s.Tree.Walk(func(e *Entity) bool {
		for _, v := range e.vars {
			if !v.Flags.Has(FlagSave) || !v.fresh(step) || !v.defined[0] {
				continue
			}
			v.saved = append(v.saved, Point{Step: step, Value: v.history[0]})
		}
		return true
	})
}

// Series returns every saved series: live entities first in tree order,
// then the cemetery in deletion order.
func (s *Simulator) Series() []trace.Series {
	var out []trace.Series
	s.Tree.Walk(func(e *Entity) bool {
		for _, v := range e.vars {
			if !v.Flags.Has(FlagSave) {
				continue
			}
			out = append(out, trace.Series{
				Path:   s.Tree.Path(e),
				Type:   e.TypeLabel,
				Label:  v.Label,
				Points: v.Saved(),
			})
		}
		return true
	})
	return append(out, s.Tree.trace.Cemetery...)
}

// Issues returns the numeric issues recorded under the clamp policy.
func (s *Simulator) Issues() []trace.NumericIssue {
	return s.Tree.trace.Issues
}

// Trace returns the run's trace.
func (s *Simulator) Trace() *trace.SimulationTrace {
	return s.Tree.trace
}
