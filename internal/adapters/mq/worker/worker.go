// Package worker runs batch analyses taken off the queue.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/okian/courtside/internal/adapters/mq/queue"
	"github.com/okian/courtside/internal/domain/model"
	"github.com/okian/courtside/internal/domain/scoring"
	"github.com/okian/courtside/pkg/logger"
	"github.com/okian/courtside/pkg/metrics"
)

// Default worker configuration constants.
const (
	poolShutdownTimeout = 30 * time.Second
)

// Task abstracts what workers read off the queue.
type Task = queue.Task

// Recorder tracks job state as workers progress.
type Recorder interface {
	MarkRunning(ctx context.Context, jobID string) error
	Complete(ctx context.Context, jobID string, result *model.AnalysisResult) error
	Fail(ctx context.Context, jobID string, cause error) error
}

// Queue defines how workers receive tasks.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Task
}

// ResultHook observes every finished analysis.
type ResultHook func(ctx context.Context, task Task, result *model.AnalysisResult)

// FailureHook observes every failed analysis.
type FailureHook func(ctx context.Context, task Task, err error)

// Worker processes tasks until stopped.
type Worker interface {
	// Run starts the worker loop until ctx is canceled or the queue closes.
	Run(ctx context.Context)

	// Shutdown stops the worker after the task in hand.
	Shutdown(ctx context.Context) error
}

// counters are shared by the workers of a pool.
type counters struct {
	active    atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
}

// InMemoryWorker analyzes tasks from a Queue.
type InMemoryWorker struct {
	queue    Queue
	analyzer scoring.Analyzer
	recorder Recorder
	name     string

	onResult  ResultHook
	onFailure FailureHook
	stats     *counters

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, analyzer scoring.Analyzer, recorder Recorder, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    q,
		analyzer: analyzer,
		recorder: recorder,
		name:     "worker",
		stats:    &counters{},
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	tasks := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case t, ok := <-tasks:
			if !ok {
				return
			}
			if err := w.process(ctx, t); err != nil {
				w.logger.Error(ctx, "analysis task failed", logger.String("job_id", t.JobID), logger.Error(err))
			}
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	select {
	case <-w.shutdown:
	default:
		close(w.shutdown)
	}
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// process handles a single task.
func (w *InMemoryWorker) process(ctx context.Context, t Task) error { //nolint:gocritic // hugeParam: Task is passed by value for channel semantics
	start := time.Now()
	metrics.UpdateWorkerActiveCount(int(w.stats.active.Add(1)))
	defer func() {
		metrics.UpdateWorkerActiveCount(int(w.stats.active.Add(-1)))
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	if err := w.recorder.MarkRunning(ctx, t.JobID); err != nil {
		metrics.RecordWorkerError()
		return fmt.Errorf("mark %s running: %w", t.JobID, err)
	}

	result, err := w.analyzer.Analyze(ctx, scoring.Request{
		Media:    t.Media,
		MimeType: t.MimeType,
		Language: t.Language,
		Quality:  t.Quality,
	})
	if err != nil {
		w.stats.failed.Add(1)
		metrics.RecordWorkerError()
		if ferr := w.recorder.Fail(ctx, t.JobID, err); ferr != nil {
			w.logger.Error(ctx, "recording failure failed", logger.String("job_id", t.JobID), logger.Error(ferr))
		}
		if w.onFailure != nil {
			w.onFailure(ctx, t, err)
		}
		return fmt.Errorf("analyze %s: %w", t.JobID, err)
	}

	if err := w.recorder.Complete(ctx, t.JobID, result); err != nil {
		metrics.RecordWorkerError()
		return fmt.Errorf("complete %s: %w", t.JobID, err)
	}
	w.stats.processed.Add(1)
	if w.onResult != nil {
		w.onResult(ctx, t, result)
	}
	w.logger.Debug(ctx, "analysis task done",
		logger.String("job_id", t.JobID),
		logger.String("result_id", result.ID),
		logger.Duration("took", time.Since(start)),
	)
	return nil
}

// Pool manages multiple workers.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	stats   *counters
	logger  logger.Logger
}

// NewPool creates a worker pool. Options apply to every worker.
func NewPool(workerCount int, q Queue, analyzer scoring.Analyzer, recorder Recorder, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}
	p := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		stats:   &counters{},
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := 0; i < workerCount; i++ {
		wopts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		wopts = append(wopts, withCounters(p.stats))
		p.workers[i] = NewInMemoryWorker(q, analyzer, recorder, wopts...)
	}

	metrics.UpdateWorkerCount(workerCount)
	metrics.UpdateWorkerActiveCount(0)
	return p
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	p.logger.Info(ctx, "worker pool started", logger.Int("workers", len(p.workers)))
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Active returns the number of workers busy with a task.
func (p *Pool) Active() int { return int(p.stats.active.Load()) }

// Processed returns the number of completed analyses.
func (p *Pool) Processed() int64 { return p.stats.processed.Load() }

// Failed returns the number of failed analyses.
func (p *Pool) Failed() int64 { return p.stats.failed.Load() }

// Shutdown closes the queue and waits for the workers to finish the task in hand.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	for i, w := range p.workers {
		if err := w.Shutdown(shutdownCtx); err != nil {
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}
	return nil
}
