package sim

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Scheduler evaluates one parallel-eligible variable across the instances
// of a group with a bounded worker pool, one task per instance.
//
// Workers are confined to their instance's subtree. A worker that reads a
// stale variable outside it, touches a sibling's subtree, writes outside
// it or mutates the tree fails with ErrParallelViolation; the scheduler
// then disables parallel mode for that label for the rest of the run and
// evaluates the unfinished instances sequentially.
type Scheduler struct {
	workers  int
	timeout  time.Duration
	disabled map[string]bool
}

// NewScheduler creates a scheduler with at most workers concurrent tasks.
// timeout bounds the host's wait for a batch; zero waits indefinitely.
func NewScheduler(workers int, timeout time.Duration) *Scheduler {
	return &Scheduler{
		workers:  workers,
		timeout:  timeout,
		disabled: make(map[string]bool),
	}
}

// Disabled reports whether label has been demoted to sequential evaluation.
func (s *Scheduler) Disabled(label string) bool { return s.disabled[label] }

// eligible reports whether label on g may run in parallel.
func (s *Scheduler) eligible(g *InstanceGroup, label string) bool {
	if s.workers <= 1 || s.disabled[label] || len(g.instances) < 2 {
		return false
	}
	ref := g.schema()
	if ref == nil {
		return false
	}
	v := ref.Variable(label)
	return v != nil && v.Kind == KindVariable && v.Flags.Has(FlagParallel) && !v.IsDummy()
}

type workerResult struct {
	scope *workerScope
	err   error
}

// Evaluate freshens label on every stale, non-skipped instance of g.
// It must be called from the host goroutine with an empty call chain.
func (s *Scheduler) Evaluate(ev *Evaluator, g *InstanceGroup, label string) error {
	step := ev.tree.step
	var pending []*Entity
	for _, e := range g.Instances() {
		if e.deleted || e.skipped {
			continue
		}
		if v := e.Variable(label); v != nil && ev.needsCompute(e, v) {
			pending = append(pending, e)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	if len(pending) < 2 || !s.eligible(g, label) {
		return s.sequential(ev, pending, label)
	}

	results := make([]workerResult, len(pending))
	var eg errgroup.Group
	eg.SetLimit(s.workers)
	for i, e := range pending {
		scope := &workerScope{
			member: e,
			group:  g,
			rng:    ev.rng.Stream(SubsystemBranch(step, e.handle)),
		}
		eg.Go(func() error {
			ch := &chain{scope: scope}
			_, err := ev.get(ch, e, e.Variable(label), 0)
			results[i] = workerResult{scope: scope, err: err}
			return nil
		})
	}
	if err := s.wait(&eg, step, g, label); err != nil {
		return err
	}

	var retry []*Entity
	for i, r := range results {
		for _, issue := range r.scope.issues {
			ev.tree.trace.RecordIssue(issue)
		}
		for _, rec := range r.scope.computations {
			ev.tree.trace.RecordComputation(rec)
		}
		switch {
		case r.err == nil:
		case errors.Is(r.err, ErrParallelViolation):
			retry = append(retry, pending[i])
			if !s.disabled[label] {
				logrus.Warnf("[step %05d] %s: parallel evaluation of %q disabled, falling back to sequential: %v",
					step, g.TypeLabel, label, r.err)
				s.disabled[label] = true
			}
		default:
			return r.err
		}
	}
	return s.sequential(ev, retry, label)
}

func (s *Scheduler) wait(eg *errgroup.Group, step int64, g *InstanceGroup, label string) error {
	if s.timeout <= 0 {
		return eg.Wait()
	}
	done := make(chan error, 1)
	go func() { done <- eg.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(s.timeout):
		return &SimError{
			Code:    CodeWaitTimeout,
			Path:    g.TypeLabel,
			Label:   label,
			Step:    step,
			Message: fmt.Sprintf("parallel workers did not finish within %s", s.timeout),
			Err:     ErrWaitTimeout,
		}
	}
}

func (s *Scheduler) sequential(ev *Evaluator, members []*Entity, label string) error {
	for _, e := range members {
		if e.deleted {
			continue
		}
		v := e.Variable(label)
		if v == nil {
			continue
		}
		if _, err := ev.get(&chain{}, e, v, 0); err != nil {
			return err
		}
	}
	return nil
}
