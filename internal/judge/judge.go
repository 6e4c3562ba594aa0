// Package judge drives the launch, supervise, evaluate, release
// pipeline for a submission and assembles the final result.
package judge

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/muazhussain/Judgebox-Judge/internal/languages"
	"github.com/muazhussain/Judgebox-Judge/internal/metrics"
	"github.com/muazhussain/Judgebox-Judge/internal/sandbox"
	"github.com/muazhussain/Judgebox-Judge/internal/verdict"
)

// Submission is one piece of user code to judge. Immutable once
// accepted; the judge owns it for the duration of one run.
type Submission struct {
	SubmissionID string
	ProblemID    string
	Language     string
	SourceCode   string
}

// TestCase is one input/expected-output pair with its limits. Supplied
// externally, read-only here.
type TestCase struct {
	TestCaseID       string
	Input            string
	ExpectedOutput   string
	TimeLimitMs      int64
	MemoryLimitBytes int64
}

// Result is the submission-level outcome: the aggregate status plus
// one verdict per test case in original test-case order. A submission
// that fails to compile carries zero test verdicts.
type Result struct {
	SubmissionID string                `json:"submissionId"`
	Result       verdict.Status        `json:"result"`
	TestResults  []verdict.TestVerdict `json:"testResults"`
}

// Options tune one Judge instance.
type Options struct {
	// MaxConcurrentSandboxes bounds parallel test-case execution.
	// Unbounded container fan-out is a resource-exhaustion risk, so
	// zero or negative falls back to 1.
	MaxConcurrentSandboxes int

	// MaxProcesses and CPUQuota are passed through to every sandbox.
	MaxProcesses int64
	CPUQuota     int64

	// Severity picks the aggregate status; nil means DefaultSeverity.
	Severity verdict.SeverityPolicy
}

// Judge composes the registry, launcher, monitor and releaser into the
// judging pipeline.
type Judge struct {
	registry *languages.Registry
	launcher *sandbox.Launcher
	monitor  *sandbox.Monitor
	releaser *sandbox.Releaser
	severity verdict.SeverityPolicy
	parallel int
	procs    int64
	cpuQuota int64
	logger   *zerolog.Logger
}

func New(registry *languages.Registry, launcher *sandbox.Launcher, monitor *sandbox.Monitor, releaser *sandbox.Releaser, logger *zerolog.Logger, opts Options) *Judge {
	severity := opts.Severity
	if severity == nil {
		severity = verdict.DefaultSeverity()
	}
	parallel := opts.MaxConcurrentSandboxes
	if parallel < 1 {
		parallel = 1
	}
	return &Judge{
		registry: registry,
		launcher: launcher,
		monitor:  monitor,
		releaser: releaser,
		severity: severity,
		parallel: parallel,
		procs:    opts.MaxProcesses,
		cpuQuota: opts.CPUQuota,
		logger:   logger,
	}
}

// Judge runs sub against tests and returns the assembled result.
//
// An unsupported language fails before any sandbox work with
// languages.ErrUnsupportedLanguage. A submission-level compile failure
// returns a COMPILE_ERROR result with zero test verdicts and launches
// no per-test sandboxes. Per-test failures, including an unreachable
// container runtime, are recorded as that test's verdict and never
// abort siblings. Cancelling ctx stops and releases all in-flight
// sandboxes before returning.
func (j *Judge) Judge(ctx context.Context, sub Submission, tests []TestCase) (*Result, error) {
	profile, err := j.registry.Get(sub.Language)
	if err != nil {
		return nil, err
	}

	log := j.logger.With().Str("submission_id", sub.SubmissionID).Str("language", profile.ID).Logger()

	if profile.NeedsCompile() {
		done, res := j.compileProbe(ctx, log, sub, tests, profile)
		if done {
			return res, nil
		}
	}

	verdicts := make([]verdict.TestVerdict, len(tests))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.parallel)
	for i, tc := range tests {
		g.Go(func() error {
			verdicts[i] = j.runTest(gctx, log, sub, profile, tc)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{
		SubmissionID: sub.SubmissionID,
		Result:       j.severity.Aggregate(verdicts),
		TestResults:  verdicts,
	}
	metrics.SubmissionsTotal.WithLabelValues(profile.ID, string(result.Result)).Inc()
	log.Info().Str("result", string(result.Result)).Int("test_cases", len(tests)).Msg("submission judged")
	return result, nil
}

// compileProbe compiles the submission once in a throwaway sandbox. A
// compile failure is terminal for the whole run: done=true with the
// short-circuit result. Infrastructure failures are not terminal; the
// per-test launches will surface them as per-test verdicts.
func (j *Judge) compileProbe(ctx context.Context, log zerolog.Logger, sub Submission, tests []TestCase, profile languages.Profile) (bool, *Result) {
	err := j.launcher.Compile(ctx, j.launchSpec(sub, profile, probeLimits(tests)))
	if err == nil {
		return false, nil
	}

	var compileErr *sandbox.CompileError
	if errors.As(err, &compileErr) {
		log.Info().Int("exit_code", compileErr.ExitCode).Msg("submission failed to compile")
		metrics.SubmissionsTotal.WithLabelValues(profile.ID, string(verdict.StatusCompileError)).Inc()
		return true, &Result{
			SubmissionID: sub.SubmissionID,
			Result:       verdict.StatusCompileError,
			TestResults:  []verdict.TestVerdict{},
		}
	}

	log.Warn().Err(err).Msg("compile probe could not run; continuing to per-test execution")
	return false, nil
}

// probeLimits picks caps for the compile probe: the tightest memory
// limit among the tests, so a submission cannot compile under looser
// caps than it will run with.
func probeLimits(tests []TestCase) TestCase {
	probe := TestCase{}
	for _, tc := range tests {
		if probe.MemoryLimitBytes == 0 || (tc.MemoryLimitBytes > 0 && tc.MemoryLimitBytes < probe.MemoryLimitBytes) {
			probe.MemoryLimitBytes = tc.MemoryLimitBytes
		}
	}
	return probe
}

// runTest executes one test case end to end. Every exit path either
// never produced a handle or pairs it with a release.
func (j *Judge) runTest(ctx context.Context, log zerolog.Logger, sub Submission, profile languages.Profile, tc TestCase) verdict.TestVerdict {
	tlog := log.With().Str("test_case_id", tc.TestCaseID).Logger()

	launchStart := time.Now()
	handle, err := j.launcher.Launch(ctx, j.launchSpec(sub, profile, tc))
	if err != nil {
		outcome := j.classifyLaunchError(tlog, err)
		outcome.TestCaseID = tc.TestCaseID
		return j.record(profile, tc, outcome)
	}
	metrics.SandboxCreation.Observe(float64(time.Since(launchStart).Milliseconds()))

	defer func() {
		if err := j.releaser.Release(handle); err != nil {
			tlog.Error().Err(err).Msg("sandbox leaked past release")
		}
	}()

	outcome := j.monitor.Supervise(ctx, handle, time.Duration(tc.TimeLimitMs)*time.Millisecond, tc.MemoryLimitBytes)
	outcome.TestCaseID = tc.TestCaseID
	return j.record(profile, tc, outcome)
}

func (j *Judge) classifyLaunchError(log zerolog.Logger, err error) sandbox.Outcome {
	var compileErr *sandbox.CompileError
	if errors.As(err, &compileErr) {
		// The probe passed but this container's compile did not.
		// Extremely rare (flaky toolchain); judged as a compile failure
		// for this test case.
		return sandbox.Outcome{Kind: sandbox.OutcomeCompileFailed, ExitCode: compileErr.ExitCode, Stderr: compileErr.Stderr}
	}
	log.Error().Err(err).Msg("sandbox launch failed")
	return sandbox.Outcome{Kind: sandbox.OutcomeSandboxError, Stderr: err.Error()}
}

func (j *Judge) record(profile languages.Profile, tc TestCase, outcome sandbox.Outcome) verdict.TestVerdict {
	v := verdict.Evaluate(outcome, tc.ExpectedOutput)
	metrics.TestCasesTotal.WithLabelValues(profile.ID, string(v.Status)).Inc()
	metrics.TestCaseDuration.WithLabelValues(profile.ID).Observe(float64(v.ExecutionTimeMs))
	if v.MemoryUsedBytes > 0 {
		metrics.PeakMemory.WithLabelValues(profile.ID).Observe(float64(v.MemoryUsedBytes))
	}
	return v
}

func (j *Judge) launchSpec(sub Submission, profile languages.Profile, tc TestCase) sandbox.LaunchSpec {
	return sandbox.LaunchSpec{
		Image:          profile.Image,
		SourceFile:     profile.SourceFile,
		SourceCode:     sub.SourceCode,
		CompileCommand: profile.CompileCommand,
		RunCommand:     profile.RunCommand,
		Stdin:          tc.Input,
		Caps: sandbox.ResourceCaps{
			MemoryLimitBytes: tc.MemoryLimitBytes,
			CPUQuota:         j.cpuQuota,
			MaxProcesses:     j.procs,
			NetworkDisabled:  true,
		},
	}
}
