package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-marks-engine/pkg/tracing"
)

// Job outcomes reported to an Observer.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeRetried   = "retried"
	OutcomeDead      = "dead"
	OutcomeDropped   = "dropped"
)

// Job is one unit of background work. Trace carries the enqueuing span context.
type Job struct {
	ID       string
	Type     string
	Payload  interface{}
	Attempt  int
	Enqueued time.Time
	Trace    map[string]string
}

// Handler processes a job.
type Handler func(context.Context, Job) error

// Observer is told how each job run ended.
type Observer interface {
	ObserveJob(queue, jobType, outcome string)
}

// QueueConfig sizes the worker pool and its retry policy.
type QueueConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
	Observer   Observer
}

// Queue dispatches jobs by type to a fixed pool of goroutines.
// Failed jobs are retried with linear backoff until MaxRetries, then dropped as dead.
type Queue struct {
	name string
	cfg  QueueConfig

	mu       sync.RWMutex
	handlers map[string]Handler
	running  bool
	ctx      context.Context
	cancel   context.CancelFunc

	jobs chan Job
	wg   sync.WaitGroup
}

// NewQueue builds a stopped queue.
func NewQueue(name string, cfg QueueConfig) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.Workers * 16
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Queue{
		name:     name,
		cfg:      cfg,
		handlers: make(map[string]Handler),
		jobs:     make(chan Job, cfg.BufferSize),
	}
}

// Register binds a handler to a job type. Call before Start.
func (q *Queue) Register(jobType string, handler Handler) {
	q.mu.Lock()
	q.handlers[jobType] = handler
	q.mu.Unlock()
}

// Start launches the workers; later calls are no-ops.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	q.running = true
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.work()
	}
	q.cfg.Logger.Info("queue started", zap.String("queue", q.name), zap.Int("workers", q.cfg.Workers))
}

// Stop cancels the workers and waits for in-flight jobs to return.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.cancel()
	q.running = false
	q.mu.Unlock()
	q.wg.Wait()
	q.cfg.Logger.Info("queue stopped", zap.String("queue", q.name))
}

// ErrQueueFull is returned by TryEnqueue when the buffer has no room.
var ErrQueueFull = errors.New("queue full")

// Enqueue schedules job, stamping an id and the trace context of ctx.
// It blocks while the buffer is full.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	job, runCtx, err := q.prepare(ctx, job)
	if err != nil {
		return err
	}
	select {
	case q.jobs <- job:
		return nil
	case <-runCtx.Done():
		return fmt.Errorf("queue %s stopped: %w", q.name, runCtx.Err())
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryEnqueue is Enqueue without waiting: a full buffer fails with ErrQueueFull
// and the job is counted as dropped.
func (q *Queue) TryEnqueue(ctx context.Context, job Job) error {
	job, _, err := q.prepare(ctx, job)
	if err != nil {
		return err
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		q.observe(job.Type, OutcomeDropped)
		return fmt.Errorf("queue %s: %w", q.name, ErrQueueFull)
	}
}

func (q *Queue) prepare(ctx context.Context, job Job) (Job, context.Context, error) {
	q.mu.RLock()
	running, runCtx := q.running, q.ctx
	_, known := q.handlers[job.Type]
	q.mu.RUnlock()

	if !running {
		return job, nil, fmt.Errorf("queue %s not started", q.name)
	}
	if !known {
		return job, nil, fmt.Errorf("queue %s has no handler for %q", q.name, job.Type)
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Enqueued.IsZero() {
		job.Enqueued = time.Now().UTC()
	}
	if job.Trace == nil {
		job.Trace = map[string]string{}
		otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(job.Trace))
	}
	return job, runCtx, nil
}

func (q *Queue) work() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-q.jobs:
			q.run(job)
		}
	}
}

func (q *Queue) run(job Job) {
	q.mu.RLock()
	handler := q.handlers[job.Type]
	q.mu.RUnlock()

	ctx := otel.GetTextMapPropagator().Extract(q.ctx, propagation.MapCarrier(job.Trace))
	ctx, span := tracing.Start(ctx, "job "+job.Type,
		attribute.String("job.queue", q.name),
		attribute.String("job.id", job.ID),
		attribute.Int("job.attempt", job.Attempt))
	err := handler(ctx, job)
	tracing.End(span, err)

	if err == nil {
		q.observe(job.Type, OutcomeSucceeded)
		return
	}
	q.retry(job, err)
}

func (q *Queue) retry(job Job, cause error) {
	job.Attempt++
	fields := []zap.Field{
		zap.String("queue", q.name),
		zap.String("job_id", job.ID),
		zap.String("type", job.Type),
		zap.Int("attempt", job.Attempt),
		zap.Error(cause),
	}
	if job.Attempt > q.cfg.MaxRetries {
		q.observe(job.Type, OutcomeDead)
		q.cfg.Logger.Error("job exceeded retries", fields...)
		return
	}
	q.observe(job.Type, OutcomeRetried)
	q.cfg.Logger.Warn("job failed, retrying", fields...)

	go func() {
		timer := time.NewTimer(q.cfg.RetryDelay * time.Duration(job.Attempt))
		defer timer.Stop()
		select {
		case <-q.ctx.Done():
		case <-timer.C:
			if err := q.Enqueue(q.ctx, job); err != nil {
				q.cfg.Logger.Error("failed to requeue job", zap.String("queue", q.name), zap.String("job_id", job.ID), zap.Error(err))
			}
		}
	}()
}

func (q *Queue) observe(jobType, outcome string) {
	if q.cfg.Observer != nil {
		q.cfg.Observer.ObserveJob(q.name, jobType, outcome)
	}
}
