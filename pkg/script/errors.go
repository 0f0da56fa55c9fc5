package script

import (
	"fmt"
	"time"
)

// Compile phases.
const (
	PhaseParse    = "parse"
	PhaseBind     = "bind"
	PhaseValidate = "validate"
)

// CompileError reports source that could not be turned into a running
// version. The previously active version is unaffected.
type CompileError struct {
	Engine  string
	Phase   string
	Line    int // 1-based, zero when unknown
	Column  int
	Message string
	Err     error
}

func (e *CompileError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s %s error at %d:%d: %s", e.Engine, e.Phase, e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("%s %s error: %s", e.Engine, e.Phase, e.Message)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

// InvocationError reports a failure while a program processed one block.
type InvocationError struct {
	Generation uint64
	Cause      error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("generation %d: invocation failed: %v", e.Generation, e.Cause)
}

func (e *InvocationError) Unwrap() error {
	return e.Cause
}

// TimeoutError reports a call that exceeded its budget, or that was refused
// because an earlier abandoned call is still running.
type TimeoutError struct {
	Generation uint64
	Budget     time.Duration
	Busy       bool
	// Elapsed is how long the abandoned call has been running when Busy.
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Busy {
		return fmt.Sprintf("generation %d: executor busy with an abandoned call (running %v)", e.Generation, e.Elapsed)
	}
	return fmt.Sprintf("generation %d: invocation exceeded %v", e.Generation, e.Budget)
}
