// Package verdict turns execution outcomes into per-test verdicts and
// aggregates them into a submission-level result.
package verdict

import (
	"strings"

	"github.com/muazhussain/Judgebox-Judge/internal/sandbox"
)

// Status is the classification of a single test case, and doubles as
// the submission-level aggregate.
type Status string

const (
	StatusAccepted            Status = "ACCEPTED"
	StatusWrongAnswer         Status = "WRONG_ANSWER"
	StatusRuntimeError        Status = "RUNTIME_ERROR"
	StatusTimeLimitExceeded   Status = "TIME_LIMIT_EXCEEDED"
	StatusMemoryLimitExceeded Status = "MEMORY_LIMIT_EXCEEDED"
	StatusCompileError        Status = "COMPILE_ERROR"
)

// TestVerdict is the judged result of one test case.
type TestVerdict struct {
	TestCaseID      string `json:"testCaseId"`
	Status          Status `json:"status"`
	ExecutionTimeMs int64  `json:"executionTime"`
	MemoryUsedBytes int64  `json:"memoryUsed"`
}

// Evaluate maps an execution outcome to a verdict. Only a completed run
// has its output compared against the expected output; every other
// outcome kind carries its status directly.
func Evaluate(out sandbox.Outcome, expectedOutput string) TestVerdict {
	v := TestVerdict{
		TestCaseID:      out.TestCaseID,
		ExecutionTimeMs: out.Elapsed.Milliseconds(),
		MemoryUsedBytes: out.PeakMemoryBytes,
	}

	switch out.Kind {
	case sandbox.OutcomeCompileFailed:
		v.Status = StatusCompileError
	case sandbox.OutcomeTimedOut:
		v.Status = StatusTimeLimitExceeded
	case sandbox.OutcomeMemoryExceeded:
		v.Status = StatusMemoryLimitExceeded
	case sandbox.OutcomeRuntimeCrashed, sandbox.OutcomeSandboxError:
		v.Status = StatusRuntimeError
	case sandbox.OutcomeCompleted:
		if Normalize(out.Stdout) == Normalize(expectedOutput) {
			v.Status = StatusAccepted
		} else {
			v.Status = StatusWrongAnswer
		}
	default:
		v.Status = StatusRuntimeError
	}
	return v
}

// Normalize strips trailing whitespace from every line and drops
// trailing blank lines. Comparison is exact otherwise: leading spaces
// and interior blank lines still count.
func Normalize(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	n := len(lines)
	for n > 0 && lines[n-1] == "" {
		n--
	}
	return strings.Join(lines[:n], "\n")
}
