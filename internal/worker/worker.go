package worker

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/muazhussain/Judgebox-Judge/internal/judge"
	"github.com/muazhussain/Judgebox-Judge/internal/metrics"
	"github.com/muazhussain/Judgebox-Judge/internal/queue"
)

// Worker pulls submissions off the queue and judges them, one at a
// time. Parallelism across test cases happens inside the judge; the
// worker count bounds how many submissions are in flight at once.
type Worker struct {
	id      int
	judge   *judge.Judge
	manager *queue.Manager
	logger  *zerolog.Logger
}

func New(id int, j *judge.Judge, manager *queue.Manager, logger *zerolog.Logger) *Worker {
	return &Worker{id: id, judge: j, manager: manager, logger: logger}
}

func (w *Worker) Start(ctx context.Context) {
	w.logger.Info().Int("worker_id", w.id).Msg("worker started")
	for {
		select {
		case job := <-w.manager.NextJob():
			metrics.ActiveWorkers.Inc()
			w.process(job)
			metrics.ActiveWorkers.Dec()
			metrics.QueueDepth.Set(float64(w.manager.Depth()))
		case <-ctx.Done():
			w.logger.Info().Int("worker_id", w.id).Msg("worker stopping")
			return
		}
	}
}

func (w *Worker) process(job *queue.Job) {
	w.logger.Info().
		Int("worker_id", w.id).
		Str("job_id", job.ID).
		Str("submission_id", job.Submission.SubmissionID).
		Msg("judging submission")

	result, err := w.judge.Judge(job.Ctx, job.Submission, job.TestCases)
	if err != nil {
		job.Err <- err
		return
	}
	job.Result <- result
}
