package trace

import "math"

// SeriesSummary aggregates one saved series.
type SeriesSummary struct {
	Path  string
	Label string
	Count int
	Mean  float64
	Min   float64
	Max   float64
	Last  float64
}

// SummarizeSeries computes count, mean, extremes and last value.
// Safe for empty series (returns zero-value statistics).
func SummarizeSeries(s Series) SeriesSummary {
	summary := SeriesSummary{Path: s.Path, Label: s.Label, Count: len(s.Points)}
	if len(s.Points) == 0 {
		return summary
	}
	summary.Min = math.Inf(1)
	summary.Max = math.Inf(-1)
	total := 0.0
	for _, p := range s.Points {
		total += p.Value
		summary.Min = math.Min(summary.Min, p.Value)
		summary.Max = math.Max(summary.Max, p.Value)
	}
	summary.Mean = total / float64(len(s.Points))
	summary.Last = s.Points[len(s.Points)-1].Value
	return summary
}

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	BuriedSeries     int
	NumericIssues    int
	Computations     int
	IssuesByLabel    map[string]int // variable label → count of clamped results
	ComputedByLabel  map[string]int // variable label → count of watched computations
	DistinctEntities int            // entities that produced at least one issue
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		IssuesByLabel:   make(map[string]int),
		ComputedByLabel: make(map[string]int),
	}
	if st == nil {
		return summary
	}

	summary.BuriedSeries = len(st.Cemetery)
	summary.NumericIssues = len(st.Issues)
	summary.Computations = len(st.Computations)

	entities := make(map[string]bool)
	for _, issue := range st.Issues {
		summary.IssuesByLabel[issue.Label]++
		entities[issue.Path] = true
	}
	for _, rec := range st.Computations {
		summary.ComputedByLabel[rec.Label]++
	}
	summary.DistinctEntities = len(entities)

	return summary
}
