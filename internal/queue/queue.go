package queue

import (
	"context"
	"errors"

	"github.com/muazhussain/Judgebox-Judge/internal/judge"
	"github.com/muazhussain/Judgebox-Judge/internal/metrics"
)

// ErrQueueFull is returned by Submit when the queue is at capacity.
var ErrQueueFull = errors.New("judge queue full")

// Job is one submission waiting to be judged, together with the
// channels its result travels back on.
type Job struct {
	ID         string
	Submission judge.Submission
	TestCases  []judge.TestCase
	Result     chan *judge.Result
	Err        chan error
	Ctx        context.Context
}

// Manager is a bounded FIFO between the HTTP layer and the worker
// pool. Backpressure is explicit: a full queue rejects instead of
// buffering without bound.
type Manager struct {
	jobs chan *Job
}

func NewManager(capacity int) *Manager {
	return &Manager{jobs: make(chan *Job, capacity)}
}

// Submit enqueues a job without blocking.
func (m *Manager) Submit(job *Job) error {
	select {
	case m.jobs <- job:
		metrics.QueueDepth.Set(float64(len(m.jobs)))
		return nil
	default:
		return ErrQueueFull
	}
}

// NextJob is the worker-side receive channel.
func (m *Manager) NextJob() <-chan *Job {
	return m.jobs
}

// Depth is the number of jobs currently waiting.
func (m *Manager) Depth() int {
	return len(m.jobs)
}
