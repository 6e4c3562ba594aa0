package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/rs/zerolog"
)

// workDir is the tmpfs-backed directory inside every sandbox where the
// source file is written and commands run.
const workDir = "/home/sandbox"

// DockerRuntime implements Runtime against a Docker daemon.
type DockerRuntime struct {
	cli    *client.Client
	logger *zerolog.Logger
}

func NewDockerRuntime(logger *zerolog.Logger) (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSandboxCreation, err)
	}
	return &DockerRuntime{cli: cli, logger: logger}, nil
}

func (r *DockerRuntime) Create(ctx context.Context, img string, caps ResourceCaps) (string, error) {
	pidsLimit := caps.MaxProcesses
	if pidsLimit <= 0 {
		pidsLimit = 64
	}
	cpuQuota := caps.CPUQuota
	if cpuQuota <= 0 {
		cpuQuota = 100000 // 1 CPU
	}

	resp, err := r.cli.ContainerCreate(ctx, &container.Config{
		Image:           img,
		Cmd:             []string{"sleep", "infinity"}, // idle until exec
		Tty:             false,
		OpenStdin:       true,
		NetworkDisabled: caps.NetworkDisabled,
		WorkingDir:      workDir,
	}, &container.HostConfig{
		Resources: container.Resources{
			Memory:     caps.MemoryLimitBytes,
			MemorySwap: caps.MemoryLimitBytes, // no swap escape hatch
			CPUQuota:   cpuQuota,
			PidsLimit:  &pidsLimit,
		},
		NetworkMode: "none",
		SecurityOpt: []string{"no-new-privileges"},
		CapDrop:     []string{"ALL"},
		Tmpfs: map[string]string{
			workDir: "rw,exec,nosuid,size=64m,mode=1777",
			"/tmp":  "rw,noexec,nosuid,size=16m,mode=1777",
		},
	}, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("%w: create container: %v", ErrSandboxCreation, err)
	}

	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Creation half-succeeded; the caller never sees the id, so the
		// container is our mess to remove.
		_ = r.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("%w: start container: %v", ErrSandboxCreation, err)
	}

	r.logger.Debug().Str("container_id", resp.ID).Str("image", img).Msg("sandbox created")
	return resp.ID, nil
}

func (r *DockerRuntime) Exec(ctx context.Context, containerID string, cmd []string, stdin string) (ExecResult, error) {
	execResp, err := r.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		WorkingDir:   workDir,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return ExecResult{}, fmt.Errorf("create exec: %w", err)
	}

	attach, err := r.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return ExecResult{}, fmt.Errorf("attach exec: %w", err)
	}
	defer attach.Close()

	go func() {
		if stdin != "" {
			_, _ = attach.Conn.Write([]byte(stdin))
		}
		_ = attach.CloseWrite()
	}()

	var stdout, stderr bytes.Buffer
	copied := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		copied <- err
	}()

	select {
	case err := <-copied:
		// A killed container tears the stream down mid-copy; that is an
		// expected way for this call to end, not an observation failure.
		if err != nil && ctx.Err() == nil {
			r.logger.Debug().Err(err).Str("container_id", containerID).Msg("exec stream closed")
		}
	case <-ctx.Done():
		return ExecResult{}, ctx.Err()
	}

	exitCode, err := r.waitExec(ctx, execResp.ID)
	if err != nil {
		return ExecResult{}, err
	}
	return ExecResult{
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// waitExec polls until the exec process is reaped and returns its exit
// code. The stream closing slightly precedes the inspect state flip.
func (r *DockerRuntime) waitExec(ctx context.Context, execID string) (int, error) {
	for {
		inspect, err := r.cli.ContainerExecInspect(ctx, execID)
		if err != nil {
			return 0, fmt.Errorf("inspect exec: %w", err)
		}
		if !inspect.Running {
			return inspect.ExitCode, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (r *DockerRuntime) Stats(ctx context.Context, containerID string) (Stats, error) {
	resp, err := r.cli.ContainerStatsOneShot(ctx, containerID)
	if err != nil {
		return Stats{}, fmt.Errorf("container stats: %w", err)
	}
	defer resp.Body.Close()

	var raw container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Stats{}, fmt.Errorf("decode stats: %w", err)
	}

	usage := int64(raw.MemoryStats.Usage)
	peak := int64(raw.MemoryStats.MaxUsage) // zero on cgroup v2
	if usage > peak {
		peak = usage
	}
	return Stats{MemoryBytes: usage, PeakMemoryBytes: peak}, nil
}

func (r *DockerRuntime) Terminate(ctx context.Context, containerID string) error {
	if err := r.cli.ContainerKill(ctx, containerID, "KILL"); err != nil {
		return fmt.Errorf("kill container: %w", err)
	}
	return nil
}

func (r *DockerRuntime) Remove(ctx context.Context, containerID string) error {
	if err := r.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}

func (r *DockerRuntime) EnsureImage(ctx context.Context, img string) error {
	_, _, err := r.cli.ImageInspectWithRaw(ctx, img)
	if err == nil {
		return nil
	}

	r.logger.Info().Str("image", img).Msg("pulling image")
	reader, err := r.cli.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", img, err)
	}
	defer reader.Close()

	// The pull only completes once the progress stream is drained.
	_, _ = io.Copy(io.Discard, reader)
	return nil
}
