package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	apperrors "reconflow/pkg/errors"
	"reconflow/pkg/logger"
	"reconflow/pkg/metrics"
)

// TaskKind selects the pool a task runs in.
type TaskKind string

const (
	KindPipeline TaskKind = "pipeline"
	KindVuln     TaskKind = "vuln"
)

// Task outcomes as recorded in logs and metrics.
const (
	OutcomeOK        = "ok"
	OutcomeFailed    = "failed"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
	OutcomePanic     = "panic"
)

// Task is a unit of background work. The context carries the task id under
// logger.TaskIDKey and is cancelled on timeout or forced shutdown.
type Task func(ctx context.Context) error

// PanicError is reported for a task that panicked.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

type Options struct {
	PipelineWorkers int
	VulnWorkers     int
	// TaskTimeout bounds each task; zero means no limit.
	TaskTimeout time.Duration
	Logger      *logger.Logger
	Metrics     *metrics.Metrics
}

type pool struct {
	kind    TaskKind
	sem     *semaphore.Weighted
	workers int
	running int
	queued  int
}

// PoolStatus is a snapshot of one pool.
type PoolStatus struct {
	Kind    TaskKind `json:"kind"`
	Workers int      `json:"workers"`
	Running int      `json:"running"`
	Queued  int      `json:"queued"`
}

// Scheduler runs fire-and-forget tasks in bounded pools, one per task kind.
type Scheduler struct {
	baseCtx context.Context
	cancel  context.CancelFunc

	pools       map[TaskKind]*pool
	taskTimeout time.Duration

	mu       sync.Mutex
	closed   bool
	inflight int
	idle     chan struct{}

	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewScheduler(opts Options) *Scheduler {
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		baseCtx:     ctx,
		cancel:      cancel,
		taskTimeout: opts.TaskTimeout,
		pools: map[TaskKind]*pool{
			KindPipeline: newPool(KindPipeline, opts.PipelineWorkers),
			KindVuln:     newPool(KindVuln, opts.VulnWorkers),
		},
		idle:    closedChan(),
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}

	s.logger.WithFields(logger.Fields{
		"pipeline_workers": s.pools[KindPipeline].workers,
		"vuln_workers":     s.pools[KindVuln].workers,
		"task_timeout":     opts.TaskTimeout.String(),
	}).Info("Scheduler initialized")
	return s
}

func newPool(kind TaskKind, workers int) *pool {
	if workers < 1 {
		workers = 1
	}
	return &pool{kind: kind, sem: semaphore.NewWeighted(int64(workers)), workers: workers}
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Submit queues task and returns its id immediately. It fails only when the
// scheduler is stopped or the kind is unknown.
func (s *Scheduler) Submit(kind TaskKind, name string, task Task) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", apperrors.ErrSchedulerClosed
	}
	p, ok := s.pools[kind]
	if !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("unknown task kind %q", kind)
	}
	p.queued++
	if s.inflight == 0 {
		s.idle = make(chan struct{})
	}
	s.inflight++
	queued, running := p.queued, p.running
	s.mu.Unlock()

	id := uuid.NewString()
	s.metrics.TaskQueued(string(kind))
	s.logger.WithFields(logger.Fields{
		"task_id": id,
		"kind":    kind,
		"task":    name,
		"queued":  queued,
		"running": running,
		"slots":   p.workers,
	}).Info("Task added to queue")

	go s.run(p, id, name, task)
	return id, nil
}

func (s *Scheduler) run(p *pool, id, name string, task Task) {
	defer s.done()

	ctx := context.WithValue(s.baseCtx, logger.TaskIDKey, id)
	log := s.logger.WithContext(ctx).WithFields(map[string]interface{}{"kind": p.kind, "task": name})

	if err := p.sem.Acquire(s.baseCtx, 1); err != nil {
		s.mu.Lock()
		p.queued--
		s.mu.Unlock()
		s.metrics.TaskAbandoned(string(p.kind))
		log.Warn("Task cancelled before it could start")
		// Still invoked so it can record the cancellation.
		_ = invoke(ctx, task)
		return
	}
	defer p.sem.Release(1)

	s.mu.Lock()
	p.queued--
	p.running++
	s.mu.Unlock()
	s.metrics.TaskStarted(string(p.kind))
	log.Info("Task execution started")

	if s.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.taskTimeout)
		defer cancel()
	}

	start := time.Now()
	err := invoke(ctx, task)
	outcome := classify(err)

	s.mu.Lock()
	p.running--
	s.mu.Unlock()
	s.metrics.TaskFinished(string(p.kind), outcome)

	log = log.WithFields(map[string]interface{}{"outcome": outcome, "duration": time.Since(start).String()})
	if err != nil {
		var panicErr *PanicError
		if errors.As(err, &panicErr) {
			log = log.WithField("stack", string(panicErr.Stack))
		}
		log.WithError(err).Error("Task failed")
		return
	}
	log.Info("Task completed, slot released")
}

func (s *Scheduler) done() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--
	if s.inflight == 0 {
		close(s.idle)
	}
}

func invoke(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return task(ctx)
}

func classify(err error) string {
	var panicErr *PanicError
	switch {
	case err == nil:
		return OutcomeOK
	case errors.As(err, &panicErr):
		return OutcomePanic
	case errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	case errors.Is(err, context.Canceled):
		return OutcomeCancelled
	default:
		return OutcomeFailed
	}
}

// Wait blocks until no task is queued or running, or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.inflight == 0 {
			s.mu.Unlock()
			return nil
		}
		idle := s.idle
		s.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stop rejects new tasks and waits for queued and running ones. If ctx ends
// first the remaining tasks are cancelled and Stop returns once they exit.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	err := s.Wait(ctx)
	s.cancel()
	if err != nil {
		s.logger.WithError(err).Warn("Scheduler stop deadline reached, cancelling tasks")
		_ = s.Wait(context.Background())
		return err
	}
	s.logger.Info("Scheduler stopped")
	return nil
}

// Status returns a snapshot of both pools, pipeline first.
func (s *Scheduler) Status() []PoolStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]PoolStatus, 0, len(s.pools))
	for _, kind := range []TaskKind{KindPipeline, KindVuln} {
		p := s.pools[kind]
		out = append(out, PoolStatus{Kind: kind, Workers: p.workers, Running: p.running, Queued: p.queued})
	}
	return out
}
