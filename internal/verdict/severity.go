package verdict

// SeverityPolicy orders statuses from most to least severe. The
// aggregate of a submission is the most severe status among its test
// verdicts. The ordering is policy, not a hard-coded rule; callers can
// supply their own.
type SeverityPolicy []Status

// DefaultSeverity follows the common judge convention.
func DefaultSeverity() SeverityPolicy {
	return SeverityPolicy{
		StatusCompileError,
		StatusRuntimeError,
		StatusTimeLimitExceeded,
		StatusMemoryLimitExceeded,
		StatusWrongAnswer,
		StatusAccepted,
	}
}

func (p SeverityPolicy) rank(s Status) int {
	for i, candidate := range p {
		if candidate == s {
			return i
		}
	}
	// Unknown statuses sort most severe so they can never masquerade as
	// a pass.
	return -1
}

// Aggregate scans every verdict and returns the most severe status. It
// never short-circuits: by the time it runs, each test case already has
// a recorded verdict. An empty slice aggregates to ACCEPTED.
func (p SeverityPolicy) Aggregate(verdicts []TestVerdict) Status {
	agg := StatusAccepted
	best := p.rank(agg)
	for _, v := range verdicts {
		if r := p.rank(v.Status); r < best {
			agg = v.Status
			best = r
		}
	}
	return agg
}
