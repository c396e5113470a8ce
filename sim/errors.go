package sim

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Every error returned by the kernel wraps one of these so
// callers can classify failures with errors.Is.
var (
	ErrUnknownLabel      = errors.New("unknown variable label")
	ErrDuplicateLabel    = errors.New("duplicate equation label")
	ErrMissingEquation   = errors.New("no equation for variable")
	ErrUnknownType       = errors.New("unknown entity type")
	ErrLagOutOfRange     = errors.New("lag exceeds variable lag depth")
	ErrDependencyCycle   = errors.New("dependency cycle")
	ErrNumericInvalid    = errors.New("equation produced an invalid number")
	ErrParallelViolation = errors.New("parallel evaluation violation")
	ErrParameterWrite    = errors.New("write to a parameter")
	ErrStructure         = errors.New("invalid tree structure")
	ErrStopped           = errors.New("simulation stopped")
	ErrWaitTimeout       = errors.New("parallel wait timed out")
)

// ErrorCode categorizes kernel errors.
type ErrorCode string

const (
	// CodeFatalConfig covers unknown labels, duplicate registrations and
	// structural corruption. Always aborts the run.
	CodeFatalConfig ErrorCode = "FATAL_CONFIG"
	// CodeNumericInvalid indicates an equation returned NaN or ±Inf.
	CodeNumericInvalid ErrorCode = "NUMERIC_INVALID"
	// CodeDependencyCycle indicates a variable was requested while already
	// under computation, or the evaluation depth bound was exceeded.
	CodeDependencyCycle ErrorCode = "DEPENDENCY_CYCLE"
	// CodeParallelViolation indicates a worker touched state outside its
	// own subtree. Never surfaces from Run: the scheduler recovers from it.
	CodeParallelViolation ErrorCode = "PARALLEL_VIOLATION"
	// CodeWaitTimeout indicates the host gave up waiting on parallel workers.
	// Fatal: the step is left half computed.
	CodeWaitTimeout ErrorCode = "WAIT_TIMEOUT"
)

// Frame is one (entity, label) pair on an evaluation call chain.
type Frame struct {
	Path  string
	Label string
}

func (f Frame) String() string {
	return f.Path + "." + f.Label
}

// SimError is the structured error surfaced to the host. It carries the
// (entity path, label, step, message) tuple plus, for cycles, the chain of
// frames that formed the cycle.
type SimError struct {
	Code    ErrorCode
	Path    string
	Label   string
	Step    int64
	Chain   []Frame
	Message string
	Err     error
}

// Error implements the error interface.
func (e *SimError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)
	if e.Path != "" || e.Label != "" {
		fmt.Fprintf(&b, " (entity=%s, label=%s, step=%d)", e.Path, e.Label, e.Step)
	}
	if len(e.Chain) > 0 {
		parts := make([]string, len(e.Chain))
		for i, f := range e.Chain {
			parts[i] = f.String()
		}
		fmt.Fprintf(&b, " chain: %s", strings.Join(parts, " -> "))
	}
	return b.String()
}

// Unwrap exposes the sentinel for errors.Is.
func (e *SimError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err must abort the run.
func IsFatal(err error) bool {
	var se *SimError
	if errors.As(err, &se) {
		return se.Code != CodeParallelViolation
	}
	return err != nil
}

func newSimError(code ErrorCode, sentinel error, path, label string, step int64, format string, args ...any) *SimError {
	return &SimError{
		Code:    code,
		Path:    path,
		Label:   label,
		Step:    step,
		Message: fmt.Sprintf(format, args...),
		Err:     sentinel,
	}
}
