// Tracks run-wide statistics such as population churn, saved series and
// numeric issues for final reporting.

package sim

import (
	"fmt"
	"io"
	"time"
)

// Metrics aggregates statistics about a run for final reporting.
type Metrics struct {
	RunID         string
	StepsRun      int64
	LiveEntities  int           // entities alive at the end, root included
	PeakEntities  int           // max live entities after any completed step
	Entered       int           // instances added during the run
	Exited        int           // entities deleted during the run
	SavedSeries   int           // series of live entities
	BuriedSeries  int           // series flushed from deleted entities
	SavedPoints   int           // points across all series
	NumericIssues int           // results clamped under the clamp policy
	Elapsed       time.Duration // wall time spent inside Run
}

// Metrics returns the run's statistics so far.
func (s *Simulator) Metrics() Metrics {
	m := s.metrics
	m.RunID = s.RunID
	m.StepsRun = s.stepsRun
	m.LiveEntities = s.Tree.Len()
	m.Entered, m.Exited = s.Tree.Churn()
	m.Entered -= s.baseAdded
	m.Exited -= s.baseDeleted
	for _, sr := range s.Series() {
		if sr.Deleted {
			m.BuriedSeries++
		} else {
			m.SavedSeries++
		}
		m.SavedPoints += len(sr.Points)
	}
	m.NumericIssues = len(s.Issues())
	return m
}

// Print displays the metrics at the end of a run.
func (m Metrics) Print(w io.Writer) {
	fmt.Fprintln(w, "=== Simulation Metrics ===")
	fmt.Fprintf(w, "Run ID               : %s\n", m.RunID)
	fmt.Fprintf(w, "Steps Run            : %d\n", m.StepsRun)
	fmt.Fprintf(w, "Live Entities        : %d (peak %d)\n", m.LiveEntities, m.PeakEntities)
	fmt.Fprintf(w, "Entered / Exited     : %d / %d\n", m.Entered, m.Exited)
	fmt.Fprintf(w, "Saved Series         : %d live, %d buried, %d points\n", m.SavedSeries, m.BuriedSeries, m.SavedPoints)
	fmt.Fprintf(w, "Numeric Issues       : %d\n", m.NumericIssues)
	if m.StepsRun > 0 && m.Elapsed > 0 {
		fmt.Fprintf(w, "Average Step Time    : %s\n", m.Elapsed/time.Duration(m.StepsRun))
	}
}
