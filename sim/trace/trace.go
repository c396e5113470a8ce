package trace

// TraceLevel controls which records are collected during a run.
type TraceLevel string

const (
	// TraceLevelNone keeps only saved series and numeric issues.
	TraceLevelNone TraceLevel = "none"
	// TraceLevelWatch also records every computation of watch-flagged variables.
	TraceLevelWatch TraceLevel = "watch"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:  true,
	TraceLevelWatch: true,
	"":              true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
}

// SimulationTrace collects records during a run.
type SimulationTrace struct {
	Config       TraceConfig
	Cemetery     []Series
	Issues       []NumericIssue
	Computations []ComputeRecord
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
func NewSimulationTrace(config TraceConfig) *SimulationTrace {
	return &SimulationTrace{
		Config:       config,
		Cemetery:     make([]Series, 0),
		Issues:       make([]NumericIssue, 0),
		Computations: make([]ComputeRecord, 0),
	}
}

// Bury appends the series of a deleted entity.
func (st *SimulationTrace) Bury(s Series) {
	st.Cemetery = append(st.Cemetery, s)
}

// RecordIssue appends a numeric issue.
func (st *SimulationTrace) RecordIssue(issue NumericIssue) {
	st.Issues = append(st.Issues, issue)
}

// RecordComputation appends a compute record when watching is enabled.
func (st *SimulationTrace) RecordComputation(rec ComputeRecord) {
	if st.Config.Level != TraceLevelWatch {
		return
	}
	st.Computations = append(st.Computations, rec)
}
