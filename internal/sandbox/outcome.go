package sandbox

import "time"

// OutcomeKind classifies how a supervised run ended.
type OutcomeKind string

const (
	OutcomeCompleted      OutcomeKind = "completed"
	OutcomeTimedOut       OutcomeKind = "timed_out"
	OutcomeMemoryExceeded OutcomeKind = "memory_exceeded"
	OutcomeCompileFailed  OutcomeKind = "compile_failed"
	OutcomeRuntimeCrashed OutcomeKind = "runtime_crashed"
	OutcomeSandboxError   OutcomeKind = "sandbox_error"
)

// Outcome is everything the monitor observed about one test-case run.
// It is a plain value: partial failures travel as data, so one broken
// test case can never abort an in-progress sibling.
type Outcome struct {
	TestCaseID      string
	Kind            OutcomeKind
	ExitCode        int
	Stdout          string
	Stderr          string
	Elapsed         time.Duration
	PeakMemoryBytes int64
}
