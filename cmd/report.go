package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	sim "github.com/abm-sim/abm-sim/sim"
	"github.com/abm-sim/abm-sim/sim/trace"
)

// Results is the JSON document written by --results-path.
type Results struct {
	RunID   string         `json:"run_id"`
	Seed    int64          `json:"seed"`
	Metrics ResultMetrics  `json:"metrics"`
	Series  []ResultSeries `json:"series"`
	Issues  []ResultIssue  `json:"numeric_issues,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// ResultMetrics mirrors sim.Metrics.
type ResultMetrics struct {
	StepsRun      int64   `json:"steps_run"`
	LiveEntities  int     `json:"live_entities"`
	PeakEntities  int     `json:"peak_entities"`
	Entered       int     `json:"entered"`
	Exited        int     `json:"exited"`
	SavedPoints   int     `json:"saved_points"`
	ElapsedSecond float64 `json:"elapsed_seconds"`
}

// ResultSeries is one saved series; Points holds [step, value] pairs.
type ResultSeries struct {
	Path      string       `json:"path"`
	Type      string       `json:"type"`
	Label     string       `json:"label"`
	Deleted   bool         `json:"deleted,omitempty"`
	DeletedAt int64        `json:"deleted_at,omitempty"`
	Points    [][2]float64 `json:"points"`
}

// ResultIssue is one clamped result.
type ResultIssue struct {
	Step        int64   `json:"step"`
	Path        string  `json:"path"`
	Label       string  `json:"label"`
	Replacement float64 `json:"replacement"`
}

func newResults(s *sim.Simulator) Results {
	m := s.Metrics()
	r := Results{
		RunID: s.RunID,
		Seed:  s.Config.Seed,
		Metrics: ResultMetrics{
			StepsRun:      m.StepsRun,
			LiveEntities:  m.LiveEntities,
			PeakEntities:  m.PeakEntities,
			Entered:       m.Entered,
			Exited:        m.Exited,
			SavedPoints:   m.SavedPoints,
			ElapsedSecond: m.Elapsed.Seconds(),
		},
	}
	for _, sr := range s.Series() {
		out := ResultSeries{Path: sr.Path, Type: sr.Type, Label: sr.Label, Deleted: sr.Deleted, DeletedAt: sr.DeletedAt}
		out.Points = make([][2]float64, len(sr.Points))
		for i, p := range sr.Points {
			out.Points[i] = [2]float64{float64(p.Step), p.Value}
		}
		r.Series = append(r.Series, out)
	}
	for _, is := range s.Issues() {
		r.Issues = append(r.Issues, ResultIssue{Step: is.Step, Path: is.Path, Label: is.Label, Replacement: is.Replacement})
	}
	if err := s.Err(); err != nil {
		r.Error = err.Error()
	}
	return r
}

// saveResults writes the run's series and metrics to path as JSON.
func saveResults(path string, s *sim.Simulator) error {
	data, err := json.MarshalIndent(newResults(s), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing results: %w", err)
	}
	return nil
}

// printSeriesSummary prints one line per saved series.
func printSeriesSummary(w io.Writer, series []trace.Series) {
	if len(series) == 0 {
		return
	}
	fmt.Fprintln(w, "=== Saved Series ===")
	for _, sr := range series {
		sum := trace.SummarizeSeries(sr)
		name := sr.Path + "." + sr.Label
		if sr.Deleted {
			name += fmt.Sprintf(" (deleted at step %d)", sr.DeletedAt)
		}
		if sum.Count == 0 {
			fmt.Fprintf(w, "%-48s n=0\n", name)
			continue
		}
		fmt.Fprintf(w, "%-48s n=%-4d mean=%-12.4g min=%-12.4g max=%-12.4g last=%.4g\n",
			name, sum.Count, sum.Mean, sum.Min, sum.Max, sum.Last)
	}
}

// printTree prints one line per live entity, indented by depth, with its
// variables and their kinds.
func printTree(w io.Writer, tree *sim.Tree) {
	tree.Walk(func(e *sim.Entity) bool {
		path := tree.Path(e)
		depth := strings.Count(path, "/")
		var vars []string
		for _, v := range e.Variables() {
			desc := v.Label
			switch {
			case v.IsDummy():
				desc += "<-" + v.Driver
			case v.Kind != sim.KindVariable:
				desc += ":" + v.Kind.String()
			}
			if v.LagDepth > 0 {
				desc += fmt.Sprintf("[%d]", v.LagDepth)
			}
			vars = append(vars, desc)
		}
		line := strings.Repeat("  ", depth) + path
		if e.Skipped() {
			line += " (skipped)"
		}
		if len(vars) > 0 {
			line += ": " + strings.Join(vars, " ")
		}
		fmt.Fprintln(w, line)
		return true
	})
}
