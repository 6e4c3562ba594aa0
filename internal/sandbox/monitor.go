package sandbox

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// DefaultSampleInterval is how often the monitor reads memory stats
// while the run is in flight.
const DefaultSampleInterval = 100 * time.Millisecond

// Monitor supervises a running sandbox: wall-clock deadline, periodic
// memory sampling, and outcome classification. It never tears the
// sandbox down for good; that stays with the Releaser, which runs on
// every exit path regardless of what the monitor observed.
type Monitor struct {
	rt             Runtime
	logger         *zerolog.Logger
	sampleInterval time.Duration
}

func NewMonitor(rt Runtime, logger *zerolog.Logger, sampleInterval time.Duration) *Monitor {
	if sampleInterval <= 0 {
		sampleInterval = DefaultSampleInterval
	}
	return &Monitor{rt: rt, logger: logger, sampleInterval: sampleInterval}
}

// Supervise blocks until the sandboxed run exits, the time limit
// elapses, the memory limit is crossed, or ctx is cancelled. On a
// limit violation the sandbox is killed immediately; the monitor does
// not wait for natural completion.
func (m *Monitor) Supervise(ctx context.Context, h *Handle, timeLimit time.Duration, memoryLimitBytes int64) Outcome {
	deadline := time.NewTimer(timeLimit)
	defer deadline.Stop()
	ticker := time.NewTicker(m.sampleInterval)
	defer ticker.Stop()

	var peak int64
	for {
		select {
		case exit := <-h.wait:
			elapsed := time.Since(h.startedAt)
			peak = m.postMortemPeak(h.ContainerID, peak)
			if exit.err != nil {
				m.logger.Error().Err(exit.err).Str("container_id", h.ContainerID).Msg("lost sight of sandboxed process")
				return Outcome{Kind: OutcomeSandboxError, Elapsed: elapsed, PeakMemoryBytes: peak, Stderr: exit.err.Error()}
			}
			kind := OutcomeCompleted
			if exit.res.ExitCode != 0 {
				kind = OutcomeRuntimeCrashed
			}
			return Outcome{
				Kind:            kind,
				ExitCode:        exit.res.ExitCode,
				Stdout:          exit.res.Stdout,
				Stderr:          exit.res.Stderr,
				Elapsed:         elapsed,
				PeakMemoryBytes: peak,
			}

		case <-deadline.C:
			m.kill(h.ContainerID)
			// Reported as the limit, not however far past it the kill
			// landed.
			return Outcome{Kind: OutcomeTimedOut, Elapsed: timeLimit, PeakMemoryBytes: peak}

		case <-ticker.C:
			st, err := m.rt.Stats(ctx, h.ContainerID)
			if err != nil {
				// Transient: the container may be between exec and exit.
				continue
			}
			if st.PeakMemoryBytes > peak {
				peak = st.PeakMemoryBytes
			}
			if memoryLimitBytes > 0 && peak > memoryLimitBytes {
				m.kill(h.ContainerID)
				return Outcome{Kind: OutcomeMemoryExceeded, Elapsed: time.Since(h.startedAt), PeakMemoryBytes: peak}
			}

		case <-ctx.Done():
			m.kill(h.ContainerID)
			return Outcome{Kind: OutcomeSandboxError, Elapsed: time.Since(h.startedAt), PeakMemoryBytes: peak, Stderr: ctx.Err().Error()}
		}
	}
}

// kill force-terminates the container, detached from the supervising
// context so a cancelled judge run can still stop its sandboxes.
func (m *Monitor) kill(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.rt.Terminate(ctx, containerID); err != nil {
		m.logger.Warn().Err(err).Str("container_id", containerID).Msg("failed to terminate sandbox")
	}
}

// postMortemPeak folds the runtime's final accounting into the sampled
// peak, best effort.
func (m *Monitor) postMortemPeak(containerID string, sampled int64) int64 {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := m.rt.Stats(ctx, containerID)
	if err != nil {
		return sampled
	}
	if st.PeakMemoryBytes > sampled {
		return st.PeakMemoryBytes
	}
	return sampled
}
