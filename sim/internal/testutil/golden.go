// Package testutil provides shared test infrastructure for the kernel, the
// model loader and the equation units: float and series assertions and
// temp model files.
package testutil

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/abm-sim/abm-sim/sim/trace"
)

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}

// AssertSeriesValues checks a saved series point by point against want,
// with steps expected to run consecutively from firstStep.
func AssertSeriesValues(t *testing.T, s trace.Series, firstStep int64, want []float64, relTol float64) {
	t.Helper()
	if len(s.Points) != len(want) {
		t.Fatalf("%s.%s: got %d points, want %d", s.Path, s.Label, len(s.Points), len(want))
	}
	for i, p := range s.Points {
		if p.Step != firstStep+int64(i) {
			t.Errorf("%s.%s point %d: step %d, want %d", s.Path, s.Label, i, p.Step, firstStep+int64(i))
		}
		AssertFloat64Equal(t, s.Path+"."+s.Label, want[i], p.Value, relTol)
	}
}

// FindSeries returns the series with the given path and label, failing the
// test when absent.
func FindSeries(t *testing.T, series []trace.Series, path, label string) trace.Series {
	t.Helper()
	for _, s := range series {
		if s.Path == path && s.Label == label {
			return s
		}
	}
	t.Fatalf("no series %s.%s among %d series", path, label, len(series))
	return trace.Series{}
}

// WriteModel writes content to a fresh file in a test temp dir and returns
// its path.
func WriteModel(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing model: %v", err)
	}
	return path
}
