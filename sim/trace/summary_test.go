package trace

import "testing"

func TestSummarize_EmptyTrace_ZeroValues(t *testing.T) {
	// GIVEN an empty trace
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelWatch})

	// WHEN summarized
	summary := Summarize(st)

	// THEN all counts are zero
	if summary.BuriedSeries != 0 || summary.NumericIssues != 0 || summary.Computations != 0 {
		t.Errorf("expected zero counts, got %+v", summary)
	}
	if summary.DistinctEntities != 0 {
		t.Errorf("expected 0 distinct entities, got %d", summary.DistinctEntities)
	}
	if len(summary.IssuesByLabel) != 0 {
		t.Error("expected empty issue distribution")
	}
}

func TestSummarize_NilTrace_ZeroValues(t *testing.T) {
	summary := Summarize(nil)
	if summary == nil {
		t.Fatal("expected non-nil summary for nil trace")
	}
	if summary.NumericIssues != 0 {
		t.Errorf("expected 0 issues, got %d", summary.NumericIssues)
	}
}

func TestSummarize_PopulatedTrace_CorrectCounts(t *testing.T) {
	// GIVEN a trace with issues on two entities and watched computations
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelWatch})
	st.RecordIssue(NumericIssue{Step: 1, Path: "Root/Firm[1]", Label: "Price"})
	st.RecordIssue(NumericIssue{Step: 2, Path: "Root/Firm[1]", Label: "Price"})
	st.RecordIssue(NumericIssue{Step: 2, Path: "Root/Firm[2]", Label: "Cost"})
	st.RecordComputation(ComputeRecord{Step: 1, Label: "Price"})
	st.Bury(Series{Label: "Price"})

	// WHEN summarized
	summary := Summarize(st)

	// THEN counts match
	if summary.NumericIssues != 3 {
		t.Errorf("expected 3 issues, got %d", summary.NumericIssues)
	}
	if summary.IssuesByLabel["Price"] != 2 {
		t.Errorf("expected 2 Price issues, got %d", summary.IssuesByLabel["Price"])
	}
	if summary.DistinctEntities != 2 {
		t.Errorf("expected 2 distinct entities, got %d", summary.DistinctEntities)
	}
	if summary.ComputedByLabel["Price"] != 1 {
		t.Errorf("expected 1 watched computation, got %d", summary.ComputedByLabel["Price"])
	}
	if summary.BuriedSeries != 1 {
		t.Errorf("expected 1 buried series, got %d", summary.BuriedSeries)
	}
}

func TestSummarizeSeries_Statistics(t *testing.T) {
	// GIVEN a series 2, 6, 4
	s := Series{Path: "Root", Label: "X", Points: []Point{{1, 2}, {2, 6}, {3, 4}}}

	// WHEN summarized
	sum := SummarizeSeries(s)

	// THEN count, mean, extremes and last match
	if sum.Count != 3 {
		t.Errorf("expected count 3, got %d", sum.Count)
	}
	if sum.Mean != 4 {
		t.Errorf("expected mean 4, got %v", sum.Mean)
	}
	if sum.Min != 2 || sum.Max != 6 {
		t.Errorf("expected min 2 max 6, got %v %v", sum.Min, sum.Max)
	}
	if sum.Last != 4 {
		t.Errorf("expected last 4, got %v", sum.Last)
	}
}

func TestSummarizeSeries_Empty(t *testing.T) {
	sum := SummarizeSeries(Series{Label: "X"})
	if sum.Count != 0 || sum.Mean != 0 || sum.Min != 0 || sum.Max != 0 {
		t.Errorf("expected zero summary, got %+v", sum)
	}
}
