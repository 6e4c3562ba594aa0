package judge_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/muazhussain/Judgebox-Judge/internal/judge"
	"github.com/muazhussain/Judgebox-Judge/internal/languages"
	"github.com/muazhussain/Judgebox-Judge/internal/sandbox"
	"github.com/muazhussain/Judgebox-Judge/internal/verdict"
)

// fakeRuntime simulates the container runtime for whole judge runs.
// The run command echoes its stdin by default; inputs with special
// prefixes change behavior:
//
//	loop        blocks until the container is terminated
//	sleep:<ms>  delays before echoing
//	crash       exits non-zero
type fakeRuntime struct {
	mu         sync.Mutex
	nextID     int
	kills      map[string]chan struct{}
	killed     map[string]bool
	removed    map[string]int
	created    []string
	failCreate map[int]error // 1-based create call -> error
	compileErr bool
	memStats   sandbox.Stats
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		kills:      make(map[string]chan struct{}),
		killed:     make(map[string]bool),
		removed:    make(map[string]int),
		failCreate: make(map[int]error),
	}
}

func (f *fakeRuntime) Create(ctx context.Context, image string, caps sandbox.ResourceCaps) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	if err, ok := f.failCreate[f.nextID]; ok {
		return "", fmt.Errorf("%w: %v", sandbox.ErrSandboxCreation, err)
	}
	id := fmt.Sprintf("ctr-%d", f.nextID)
	f.created = append(f.created, id)
	f.kills[id] = make(chan struct{})
	return id, nil
}

func (f *fakeRuntime) Exec(ctx context.Context, containerID string, cmd []string, stdin string) (sandbox.ExecResult, error) {
	if len(cmd) == 3 && cmd[0] == "sh" && strings.HasPrefix(cmd[2], "cat > ") {
		return sandbox.ExecResult{}, nil // source write
	}
	if cmd[0] == "g++" || cmd[0] == "tsc" {
		if f.compileErr {
			return sandbox.ExecResult{ExitCode: 1, Stderr: "error: expected ';' before '}'"}, nil
		}
		return sandbox.ExecResult{}, nil
	}

	switch {
	case stdin == "loop":
		f.mu.Lock()
		kill := f.kills[containerID]
		f.mu.Unlock()
		select {
		case <-kill:
			return sandbox.ExecResult{ExitCode: 137}, nil
		case <-ctx.Done():
			return sandbox.ExecResult{}, ctx.Err()
		}
	case strings.HasPrefix(stdin, "sleep:"):
		var ms int
		fmt.Sscanf(stdin, "sleep:%d", &ms)
		time.Sleep(time.Duration(ms) * time.Millisecond)
		return sandbox.ExecResult{Stdout: stdin + "\n"}, nil
	case stdin == "crash":
		return sandbox.ExecResult{ExitCode: 2, Stderr: "segfault"}, nil
	default:
		return sandbox.ExecResult{Stdout: stdin + "\n"}, nil
	}
}

func (f *fakeRuntime) Stats(ctx context.Context, containerID string) (sandbox.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.memStats, nil
}

func (f *fakeRuntime) Terminate(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.killed[containerID] {
		f.killed[containerID] = true
		if ch, ok := f.kills[containerID]; ok {
			close(ch)
		}
	}
	return nil
}

func (f *fakeRuntime) Remove(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed[containerID]++
	return nil
}

func (f *fakeRuntime) EnsureImage(ctx context.Context, image string) error { return nil }

// assertReleasedExactlyOnce verifies every created container was
// removed exactly once.
func (f *fakeRuntime) assertReleasedExactlyOnce(t *testing.T) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.created {
		if n := f.removed[id]; n != 1 {
			t.Errorf("container %s removed %d times, want exactly 1", id, n)
		}
	}
}

func newJudge(t *testing.T, rt sandbox.Runtime, opts judge.Options) *judge.Judge {
	t.Helper()
	logger := zerolog.Nop()
	registry, err := languages.NewRegistry(languages.Defaults()...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	launcher := sandbox.NewLauncher(rt, &logger)
	monitor := sandbox.NewMonitor(rt, &logger, time.Millisecond)
	releaser := sandbox.NewReleaser(rt, &logger, time.Second)
	return judge.New(registry, launcher, monitor, releaser, &logger, opts)
}

func pythonSubmission() judge.Submission {
	return judge.Submission{
		SubmissionID: "sub-1",
		ProblemID:    "prob-1",
		Language:     "python",
		SourceCode:   "print(input())",
	}
}

func testCase(id, input, expected string) judge.TestCase {
	return judge.TestCase{
		TestCaseID:       id,
		Input:            input,
		ExpectedOutput:   expected,
		TimeLimitMs:      2000,
		MemoryLimitBytes: 256 << 20,
	}
}

func TestJudgeAllAccepted(t *testing.T) {
	rt := newFakeRuntime()
	j := newJudge(t, rt, judge.Options{MaxConcurrentSandboxes: 2})

	tests := []judge.TestCase{
		testCase("t1", "hello", "hello"),
		testCase("t2", "world", "world"),
	}
	res, err := j.Judge(context.Background(), pythonSubmission(), tests)
	if err != nil {
		t.Fatalf("Judge: %v", err)
	}

	if res.Result != verdict.StatusAccepted {
		t.Errorf("result = %s, want ACCEPTED", res.Result)
	}
	if len(res.TestResults) != 2 {
		t.Fatalf("got %d test results, want 2", len(res.TestResults))
	}
	for _, v := range res.TestResults {
		if v.Status != verdict.StatusAccepted {
			t.Errorf("test %s = %s, want ACCEPTED", v.TestCaseID, v.Status)
		}
	}
	rt.assertReleasedExactlyOnce(t)
}

func TestJudgeInfiniteLoopTimesOut(t *testing.T) {
	rt := newFakeRuntime()
	j := newJudge(t, rt, judge.Options{MaxConcurrentSandboxes: 1})

	tc := testCase("t1", "loop", "never")
	tc.TimeLimitMs = 50
	res, err := j.Judge(context.Background(), pythonSubmission(), []judge.TestCase{tc})
	if err != nil {
		t.Fatalf("Judge: %v", err)
	}

	if res.Result != verdict.StatusTimeLimitExceeded {
		t.Errorf("result = %s, want TIME_LIMIT_EXCEEDED", res.Result)
	}
	if got := res.TestResults[0].ExecutionTimeMs; got != 50 {
		t.Errorf("execution time = %d, want the 50ms limit", got)
	}
	rt.assertReleasedExactlyOnce(t)
}

func TestJudgeCompileErrorShortCircuits(t *testing.T) {
	rt := newFakeRuntime()
	rt.compileErr = true
	j := newJudge(t, rt, judge.Options{MaxConcurrentSandboxes: 2})

	sub := judge.Submission{
		SubmissionID: "sub-cpp",
		Language:     "cpp",
		SourceCode:   "int main() { return 0 }",
	}
	tests := []judge.TestCase{
		testCase("t1", "a", "a"),
		testCase("t2", "b", "b"),
	}
	res, err := j.Judge(context.Background(), sub, tests)
	if err != nil {
		t.Fatalf("Judge: %v", err)
	}

	if res.Result != verdict.StatusCompileError {
		t.Errorf("result = %s, want COMPILE_ERROR", res.Result)
	}
	if len(res.TestResults) != 0 {
		t.Errorf("got %d test results, want 0 on submission-level compile error", len(res.TestResults))
	}
	// Only the probe sandbox; no per-test sandboxes were launched.
	rt.mu.Lock()
	created := len(rt.created)
	rt.mu.Unlock()
	if created != 1 {
		t.Errorf("%d sandboxes created, want 1 (the compile probe)", created)
	}
	rt.assertReleasedExactlyOnce(t)
}

func TestJudgeUnsupportedLanguage(t *testing.T) {
	rt := newFakeRuntime()
	j := newJudge(t, rt, judge.Options{})

	sub := pythonSubmission()
	sub.Language = "cobol"
	_, err := j.Judge(context.Background(), sub, []judge.TestCase{testCase("t1", "a", "a")})
	if !errors.Is(err, languages.ErrUnsupportedLanguage) {
		t.Fatalf("Judge = %v, want ErrUnsupportedLanguage", err)
	}
	rt.mu.Lock()
	created := len(rt.created)
	rt.mu.Unlock()
	if created != 0 {
		t.Errorf("%d sandboxes created before language validation", created)
	}
}

func TestJudgeLaunchFailureIsolatedToOneTest(t *testing.T) {
	rt := newFakeRuntime()
	rt.failCreate[2] = errors.New("daemon unreachable")
	j := newJudge(t, rt, judge.Options{MaxConcurrentSandboxes: 1})

	tests := []judge.TestCase{
		testCase("t1", "a", "a"),
		testCase("t2", "b", "b"),
		testCase("t3", "c", "c"),
	}
	res, err := j.Judge(context.Background(), pythonSubmission(), tests)
	if err != nil {
		t.Fatalf("Judge: %v", err)
	}

	want := []verdict.Status{verdict.StatusAccepted, verdict.StatusRuntimeError, verdict.StatusAccepted}
	for i, v := range res.TestResults {
		if v.Status != want[i] {
			t.Errorf("test %d = %s, want %s", i, v.Status, want[i])
		}
	}
	if res.Result != verdict.StatusRuntimeError {
		t.Errorf("result = %s, want RUNTIME_ERROR", res.Result)
	}
	rt.assertReleasedExactlyOnce(t)
}

func TestJudgePreservesTestCaseOrder(t *testing.T) {
	rt := newFakeRuntime()
	j := newJudge(t, rt, judge.Options{MaxConcurrentSandboxes: 3})

	// t1 finishes last despite being first.
	tests := []judge.TestCase{
		testCase("t1", "sleep:100", "sleep:100"),
		testCase("t2", "b", "b"),
		testCase("t3", "c", "c"),
	}
	res, err := j.Judge(context.Background(), pythonSubmission(), tests)
	if err != nil {
		t.Fatalf("Judge: %v", err)
	}

	if len(res.TestResults) != 3 {
		t.Fatalf("got %d test results, want 3", len(res.TestResults))
	}
	for i, wantID := range []string{"t1", "t2", "t3"} {
		if res.TestResults[i].TestCaseID != wantID {
			t.Errorf("position %d holds %s, want %s", i, res.TestResults[i].TestCaseID, wantID)
		}
	}
	if res.Result != verdict.StatusAccepted {
		t.Errorf("result = %s, want ACCEPTED", res.Result)
	}
}

func TestJudgeMemoryViolationKillsBeforeAccept(t *testing.T) {
	rt := newFakeRuntime()
	rt.memStats = sandbox.Stats{MemoryBytes: 512 << 20, PeakMemoryBytes: 512 << 20}
	j := newJudge(t, rt, judge.Options{MaxConcurrentSandboxes: 1})

	// The program would eventually echo the right answer, but its
	// sampled memory crosses the limit first.
	tc := testCase("t1", "loop", "loop")
	res, err := j.Judge(context.Background(), pythonSubmission(), []judge.TestCase{tc})
	if err != nil {
		t.Fatalf("Judge: %v", err)
	}

	if res.Result != verdict.StatusMemoryLimitExceeded {
		t.Errorf("result = %s, want MEMORY_LIMIT_EXCEEDED", res.Result)
	}
	if res.TestResults[0].MemoryUsedBytes != 512<<20 {
		t.Errorf("memory used = %d, want %d", res.TestResults[0].MemoryUsedBytes, int64(512<<20))
	}
	rt.assertReleasedExactlyOnce(t)
}

func TestJudgeCancellationReleasesAllSandboxes(t *testing.T) {
	rt := newFakeRuntime()
	j := newJudge(t, rt, judge.Options{MaxConcurrentSandboxes: 2})

	tests := []judge.TestCase{
		testCase("t1", "loop", "x"),
		testCase("t2", "loop", "y"),
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := j.Judge(ctx, pythonSubmission(), tests)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Judge = %v, want context.Canceled", err)
	}
	rt.assertReleasedExactlyOnce(t)
}

func TestJudgeWrongAnswer(t *testing.T) {
	rt := newFakeRuntime()
	j := newJudge(t, rt, judge.Options{MaxConcurrentSandboxes: 1})

	tests := []judge.TestCase{
		testCase("t1", "a", "a"),
		testCase("t2", "b", "not-b"),
	}
	res, err := j.Judge(context.Background(), pythonSubmission(), tests)
	if err != nil {
		t.Fatalf("Judge: %v", err)
	}
	if res.Result != verdict.StatusWrongAnswer {
		t.Errorf("result = %s, want WRONG_ANSWER", res.Result)
	}
	if res.TestResults[0].Status != verdict.StatusAccepted {
		t.Errorf("t1 = %s, want ACCEPTED", res.TestResults[0].Status)
	}
}

func TestJudgeRuntimeCrash(t *testing.T) {
	rt := newFakeRuntime()
	j := newJudge(t, rt, judge.Options{MaxConcurrentSandboxes: 1})

	res, err := j.Judge(context.Background(), pythonSubmission(), []judge.TestCase{testCase("t1", "crash", "anything")})
	if err != nil {
		t.Fatalf("Judge: %v", err)
	}
	if res.Result != verdict.StatusRuntimeError {
		t.Errorf("result = %s, want RUNTIME_ERROR", res.Result)
	}
}
