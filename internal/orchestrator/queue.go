package orchestrator

import (
	"context"
	"sync"

	"log/slog"

	"github.com/google/uuid"

	"github.com/testpulse/admitflow/internal/runner"
)

// startJob is one queued automation start.
type startJob struct {
	JobID  uuid.UUID
	Runner *runner.Runner
}

// startQueue fans queued jobs out to a fixed pool of workers. A worker is
// only occupied until its runner completes, fails, or parks at a
// suspension point; parked jobs don't hold a worker.
type startQueue struct {
	logger  *slog.Logger
	workers int

	ch   chan startJob
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool
}

type queueOption func(*startQueue)

func withWorkers(n int) queueOption {
	return func(q *startQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func withQueueSize(n int) queueOption {
	return func(q *startQueue) {
		if n > 0 {
			q.ch = make(chan startJob, n)
		}
	}
}

func newStartQueue(logger *slog.Logger, opts ...queueOption) *startQueue {
	q := &startQueue{
		logger:  logger,
		workers: 4,
		ch:      make(chan startJob, 64),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *startQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("worker started", "worker_id", workerID)

				for job := range q.ch {
					job.Runner.Start(context.Background())
				}

				q.logger.Info("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *startQueue) Enqueue(job startJob) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn("cannot enqueue: queue is shutting down", "job_id", job.JobID)
		return
	}
	select {
	case q.ch <- job:
		q.logger.Info("queued job for automation", "job_id", job.JobID)
	default:
		q.logger.Warn("queue full, applying backpressure", "job_id", job.JobID)
		q.ch <- job
	}
}

func (q *startQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
	}
}
