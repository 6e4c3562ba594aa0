package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LaunchSpec describes one (submission, test case) execution unit.
type LaunchSpec struct {
	Image          string
	SourceFile     string
	SourceCode     string
	CompileCommand []string
	RunCommand     []string
	Stdin          string
	Caps           ResourceCaps
}

// CompileError reports a failed compile step. It carries the compiler's
// output so the verdict can surface it.
type CompileError struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compilation failed with exit code %d", e.ExitCode)
}

type runExit struct {
	res ExecResult
	err error
}

// Handle is the exclusive reference to one live sandbox. It is created
// by the Launcher, handed to the Monitor, and finally consumed by the
// Releaser; it is never shared between test cases.
type Handle struct {
	ContainerID string
	CreatedAt   time.Time
	Caps        ResourceCaps

	startedAt time.Time
	wait      chan runExit

	releaseOnce sync.Once
}

// StartedAt is the instant the run command began executing.
func (h *Handle) StartedAt() time.Time { return h.startedAt }

// Launcher creates sandboxes: container with caps applied up front,
// source written in, optional compile, and the run command started with
// the test input on stdin. Limits are in place before any user code
// executes.
type Launcher struct {
	rt     Runtime
	logger *zerolog.Logger
}

func NewLauncher(rt Runtime, logger *zerolog.Logger) *Launcher {
	return &Launcher{rt: rt, logger: logger}
}

// Launch prepares a sandbox for spec and starts the run command. On a
// compile failure it returns a *CompileError and no handle; the
// throwaway container is already gone. Any returned Handle must be
// passed to a Releaser on every exit path.
func (l *Launcher) Launch(ctx context.Context, spec LaunchSpec) (*Handle, error) {
	id, err := l.rt.Create(ctx, spec.Image, spec.Caps)
	if err != nil {
		return nil, err
	}

	h := &Handle{
		ContainerID: id,
		CreatedAt:   time.Now(),
		Caps:        spec.Caps,
		wait:        make(chan runExit, 1),
	}

	if err := l.prepare(ctx, id, spec); err != nil {
		l.teardown(id)
		return nil, err
	}

	h.startedAt = time.Now()
	go func() {
		res, err := l.rt.Exec(ctx, id, spec.RunCommand, spec.Stdin)
		h.wait <- runExit{res: res, err: err}
	}()

	return h, nil
}

// Compile runs only the compile step of spec in a throwaway sandbox.
// Used for the submission-level compile probe: a failure here
// short-circuits the whole judge run before any per-test sandbox is
// launched.
func (l *Launcher) Compile(ctx context.Context, spec LaunchSpec) error {
	if len(spec.CompileCommand) == 0 {
		return nil
	}
	id, err := l.rt.Create(ctx, spec.Image, spec.Caps)
	if err != nil {
		return err
	}
	defer l.teardown(id)

	return l.prepare(ctx, id, spec)
}

// prepare writes the source file and runs the compile step, if any.
func (l *Launcher) prepare(ctx context.Context, id string, spec LaunchSpec) error {
	writeCmd := []string{"sh", "-c", fmt.Sprintf("cat > %s/%s", workDir, spec.SourceFile)}
	res, err := l.rt.Exec(ctx, id, writeCmd, spec.SourceCode)
	if err != nil {
		return fmt.Errorf("%w: write source: %v", ErrSandboxCreation, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%w: write source exited %d: %s", ErrSandboxCreation, res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	if len(spec.CompileCommand) == 0 {
		return nil
	}

	res, err = l.rt.Exec(ctx, id, spec.CompileCommand, "")
	if err != nil {
		return fmt.Errorf("%w: compile: %v", ErrSandboxCreation, err)
	}
	if res.ExitCode != 0 {
		return &CompileError{ExitCode: res.ExitCode, Stdout: res.Stdout, Stderr: res.Stderr}
	}
	return nil
}

// teardown is the launcher's private cleanup for sandboxes that never
// made it to a Handle.
func (l *Launcher) teardown(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := l.rt.Remove(ctx, id); err != nil {
		l.logger.Warn().Err(err).Str("container_id", id).Msg("failed to remove half-launched sandbox")
	}
}
