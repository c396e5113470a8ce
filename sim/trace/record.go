// Package trace provides observation records for simulation runs: saved
// variable series, the cemetery of deleted entities' series, numeric issues
// and per-computation records of watched variables.
// It has no dependencies on sim/ and stores pure data types.
package trace

// Point is one (step, value) observation.
type Point struct {
	Step  int64
	Value float64
}

// Series is the saved history of one variable on one entity.
type Series struct {
	Path      string // entity path at the time the series was flushed
	Type      string // entity type label
	Label     string
	Points    []Point
	Deleted   bool  // true for series flushed from a deleted entity
	DeletedAt int64 // step of deletion; 0 if live
}

// Last returns the most recent point and false for an empty series.
func (s Series) Last() (Point, bool) {
	if len(s.Points) == 0 {
		return Point{}, false
	}
	return s.Points[len(s.Points)-1], true
}

// NumericIssue records an equation result that was NaN or infinite.
type NumericIssue struct {
	Step        int64
	Path        string
	Label       string
	Value       float64 // the offending result
	Replacement float64 // the clamped value written instead
}

// ComputeRecord captures one computation of a watched variable.
type ComputeRecord struct {
	Step  int64
	Path  string
	Label string
	Value float64
	Depth int // call-chain depth at which the computation ran
}
