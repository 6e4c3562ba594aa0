package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/muazhussain/Judgebox-Judge/internal/metrics"
)

// DefaultReleaseTimeout bounds how long one teardown may take.
const DefaultReleaseTimeout = 15 * time.Second

// Releaser guarantees sandbox teardown exactly once per handle. Release
// is idempotent: the first call does the work, every later call is a
// no-op. A teardown failure is logged and reported for the affected
// test case, but never stops cleanup of other sandboxes.
type Releaser struct {
	rt      Runtime
	logger  *zerolog.Logger
	timeout time.Duration
}

func NewReleaser(rt Runtime, logger *zerolog.Logger, timeout time.Duration) *Releaser {
	if timeout <= 0 {
		timeout = DefaultReleaseTimeout
	}
	return &Releaser{rt: rt, logger: logger, timeout: timeout}
}

// Release destroys the sandbox behind h: kill whatever is still
// running, then remove the container and its filesystem scope. Detached
// from the judge run's context so cancellation still cleans up.
func (r *Releaser) Release(h *Handle) error {
	if h == nil {
		return nil
	}
	var releaseErr error
	h.releaseOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		// Kill first so remove does not race a live process tree. An
		// already-exited container makes the kill fail; that is fine.
		if err := r.rt.Terminate(ctx, h.ContainerID); err != nil {
			r.logger.Debug().Err(err).Str("container_id", h.ContainerID).Msg("terminate during release")
		}

		if err := r.rt.Remove(ctx, h.ContainerID); err != nil {
			metrics.TeardownFailures.Inc()
			r.logger.Error().Err(err).Str("container_id", h.ContainerID).Msg("sandbox teardown failed")
			releaseErr = fmt.Errorf("%w: %v", ErrSandboxTeardown, err)
			return
		}
		r.logger.Debug().Str("container_id", h.ContainerID).Msg("sandbox released")
	})
	return releaseErr
}
