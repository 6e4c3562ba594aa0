package sandbox

import (
	"context"
	"errors"
)

var (
	// ErrSandboxCreation means the container runtime was unreachable or
	// rejected the requested constraints. It is never downgraded: a
	// sandbox that cannot get its limits does not run at all.
	ErrSandboxCreation = errors.New("sandbox creation failed")

	// ErrSandboxTeardown means terminate/remove did not complete. The
	// affected test case is reported, sibling sandboxes are unaffected.
	ErrSandboxTeardown = errors.New("sandbox teardown failed")
)

// ResourceCaps are the hard limits applied to a sandbox at creation
// time, before any user code executes.
type ResourceCaps struct {
	MemoryLimitBytes int64
	CPUQuota         int64 // microseconds of CPU per 100ms period
	MaxProcesses     int64
	NetworkDisabled  bool
}

// ExecResult is the captured output of one command run inside a sandbox.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Stats is a point-in-time memory reading for a running sandbox.
type Stats struct {
	MemoryBytes     int64
	PeakMemoryBytes int64
}

// Runtime is the container runtime capability injected into the
// launcher, monitor and releaser. The production implementation talks
// to Docker; tests substitute fakes that simulate timeouts, memory
// violations and daemon failures.
type Runtime interface {
	// Create starts an idle container from image with caps applied and
	// returns its id.
	Create(ctx context.Context, image string, caps ResourceCaps) (string, error)

	// Exec runs cmd inside the container with stdin attached, blocking
	// until the command exits or ctx is done.
	Exec(ctx context.Context, containerID string, cmd []string, stdin string) (ExecResult, error)

	// Stats samples current and peak memory usage.
	Stats(ctx context.Context, containerID string) (Stats, error)

	// Terminate force-kills everything inside the container.
	Terminate(ctx context.Context, containerID string) error

	// Remove destroys the container and its filesystem scope.
	Remove(ctx context.Context, containerID string) error

	// EnsureImage pulls image if it is not present locally.
	EnsureImage(ctx context.Context, image string) error
}
