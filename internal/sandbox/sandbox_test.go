package sandbox_test

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/muazhussain/Judgebox-Judge/internal/sandbox"
)

// fakeRuntime simulates a container runtime. Behavior is overridable
// per test through the function hooks; by default every container
// starts, every exec succeeds with empty output, and kills release any
// exec blocked on its kill channel.
type fakeRuntime struct {
	mu      sync.Mutex
	nextID  int
	kills   map[string]chan struct{}
	killed  map[string]bool
	removed map[string]int
	creates int

	createFn func(ctx context.Context, image string, caps sandbox.ResourceCaps) (string, error)
	execFn   func(ctx context.Context, containerID string, cmd []string, stdin string) (sandbox.ExecResult, error)
	statsFn  func(ctx context.Context, containerID string) (sandbox.Stats, error)
	removeFn func(ctx context.Context, containerID string) error
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		kills:   make(map[string]chan struct{}),
		killed:  make(map[string]bool),
		removed: make(map[string]int),
	}
}

func (f *fakeRuntime) Create(ctx context.Context, image string, caps sandbox.ResourceCaps) (string, error) {
	if f.createFn != nil {
		id, err := f.createFn(ctx, image, caps)
		if err != nil {
			return "", err
		}
		f.register(id)
		return id, nil
	}
	f.mu.Lock()
	f.nextID++
	id := fmt.Sprintf("ctr-%d", f.nextID)
	f.mu.Unlock()
	f.register(id)
	return id, nil
}

func (f *fakeRuntime) register(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if _, ok := f.kills[id]; !ok {
		f.kills[id] = make(chan struct{})
	}
}

func (f *fakeRuntime) Exec(ctx context.Context, containerID string, cmd []string, stdin string) (sandbox.ExecResult, error) {
	if f.execFn != nil {
		return f.execFn(ctx, containerID, cmd, stdin)
	}
	return sandbox.ExecResult{}, nil
}

func (f *fakeRuntime) Stats(ctx context.Context, containerID string) (sandbox.Stats, error) {
	if f.statsFn != nil {
		return f.statsFn(ctx, containerID)
	}
	return sandbox.Stats{}, nil
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
	if f.removeFn != nil {
		return f.removeFn(ctx, containerID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed[containerID]++
	return nil
}

func (f *fakeRuntime) EnsureImage(ctx context.Context, image string) error {
	return nil
}

// killChan returns the channel closed when containerID is terminated.
func (f *fakeRuntime) killChan(containerID string) <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.kills[containerID]
	if !ok {
		ch = make(chan struct{})
		f.kills[containerID] = ch
	}
	return ch
}

func (f *fakeRuntime) removeCount(containerID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.removed[containerID]
}

func (f *fakeRuntime) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates
}

// isWriteCmd reports whether cmd is the launcher's source-write step.
func isWriteCmd(cmd []string) bool {
	return len(cmd) == 3 && cmd[0] == "sh" && strings.HasPrefix(cmd[2], "cat > ")
}

func testLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func pythonSpec(stdin string) sandbox.LaunchSpec {
	return sandbox.LaunchSpec{
		Image:      "python:3.11-slim",
		SourceFile: "solution.py",
		SourceCode: "print(input())",
		RunCommand: []string{"python", "solution.py"},
		Stdin:      stdin,
		Caps:       sandbox.ResourceCaps{MemoryLimitBytes: 256 << 20, NetworkDisabled: true},
	}
}
