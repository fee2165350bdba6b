// Package scheduler offers queued tasks to runners on a periodic tick,
// keeping at most Concurrency of them processing at once.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"coursebot/internal/async"
	cberrors "coursebot/internal/errors"
	"coursebot/internal/logging"
	"coursebot/internal/queue"
)

const (
	DefaultConcurrency  = 3
	DefaultTickInterval = 2 * time.Second
)

// ErrStopped is returned by AddItem after Stop.
var ErrStopped = errors.New("scheduler: stopped")

// Config holds scheduler configuration.
type Config struct {
	Concurrency  int
	TickInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	return c
}

// RunFunc processes one claimed task. It is expected to remove the task from
// the queue when done; an error or panic makes the scheduler remove it.
type RunFunc func(ctx context.Context, task queue.Task) error

// Metrics receives scheduler observations. Implementations must be safe for
// concurrent use.
type Metrics interface {
	QueueDepth(pending, processing int)
	RunnerExited(err error)
}

type nopMetrics struct{}

func (nopMetrics) QueueDepth(int, int) {}
func (nopMetrics) RunnerExited(error)  {}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTickSource replaces the source derived from Config.TickInterval.
func WithTickSource(src TickSource) Option {
	return func(s *Scheduler) {
		if src != nil {
			s.source = src
		}
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logging.OrNop(logger)
	}
}

// WithMetrics registers a metrics sink.
func WithMetrics(m Metrics) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

// Scheduler drives the admission queue. The tick source runs only while
// the queue is non-empty.
type Scheduler struct {
	config  Config
	queue   *queue.Queue
	run     RunFunc
	source  TickSource
	logger  logging.Logger
	metrics Metrics

	tickMu sync.Mutex // held for the duration of a tick

	mu      sync.Mutex
	started bool
	stopped bool
	ticking bool

	runCtx     context.Context
	cancelRuns context.CancelFunc
	runners    sync.WaitGroup
	stoppedCh  chan struct{}
}

// New creates a scheduler over q. Call Start before work is picked up.
func New(cfg Config, q *queue.Queue, run RunFunc, opts ...Option) *Scheduler {
	cfg = cfg.withDefaults()
	runCtx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		config:     cfg,
		queue:      q,
		run:        run,
		logger:     logging.NewComponentLogger("Scheduler"),
		metrics:    nopMetrics{},
		runCtx:     runCtx,
		cancelRuns: cancel,
		stoppedCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.source == nil {
		s.source = NewTickSource(cfg.TickInterval, s.logger)
	}
	return s
}

// Config returns the effective configuration.
func (s *Scheduler) Config() Config {
	return s.config
}

// Queue returns the underlying queue.
func (s *Scheduler) Queue() *queue.Queue {
	return s.queue
}

// AddItem enqueues a request and wakes the tick source when it is idle.
func (s *Scheduler) AddItem(id string, req queue.Request) (queue.Task, error) {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return queue.Task{}, ErrStopped
	}

	task, err := s.queue.Add(id, req)
	if err != nil {
		return queue.Task{}, err
	}
	s.logger.Info("queued task %s at position %d", id, task.Status.Position)
	s.reportDepth()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started && !s.stopped {
		s.wakeLocked()
	}
	return task, nil
}

// Start enables ticking. Runner contexts are cancelled when ctx is done or
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return nil
	}
	s.started = true
	context.AfterFunc(ctx, s.cancelRuns)

	if !s.queue.IsEmpty() {
		s.wakeLocked()
	}
	s.logger.Info("scheduler started (concurrency=%d, tick=%s)", s.config.Concurrency, s.config.TickInterval)
	return nil
}

func (s *Scheduler) wakeLocked() {
	if s.ticking {
		return
	}
	if err := s.source.Start(s.onTick); err != nil {
		s.logger.Error("start tick source: %v", err)
		return
	}
	s.ticking = true
}

func (s *Scheduler) onTick() {
	s.Tick(s.runCtx)
}

// Tick runs one scheduling pass and returns the number of runners launched.
// An empty queue puts the scheduler to sleep until the next AddItem. A tick
// that starts while another is in progress is skipped.
func (s *Scheduler) Tick(ctx context.Context) int {
	if !s.tickMu.TryLock() {
		return 0
	}
	defer s.tickMu.Unlock()

	if s.isStopped() || s.sleepIfEmpty() {
		return 0
	}

	claimed := s.queue.Claim(s.config.Concurrency)
	for _, task := range claimed {
		s.launch(ctx, task)
	}
	if len(claimed) > 0 {
		s.reportDepth()
	}
	return len(claimed)
}

func (s *Scheduler) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Scheduler) sleepIfEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.queue.IsEmpty() {
		return false
	}
	if s.ticking {
		s.source.Stop()
		s.ticking = false
		s.logger.Debug("queue drained, tick source idle")
	}
	return true
}

func (s *Scheduler) launch(parent context.Context, task queue.Task) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	detach := context.AfterFunc(s.runCtx, cancel)

	s.runners.Add(1)
	id := task.ID
	s.logger.Info("starting runner for task %s", id)

	async.Spawn(s.logger, "scheduler.runner."+id, func() error {
		return s.run(ctx, task)
	}, func(err error) {
		defer s.runners.Done()
		detach()
		cancel()
		s.settle(id, err)
	})
}

// settle removes a task whose runner failed or panicked.
func (s *Scheduler) settle(id string, err error) {
	removed := s.queue.Remove(id)
	s.metrics.RunnerExited(err)
	s.reportDepth()

	switch {
	case err == nil:
		if removed {
			s.logger.Warn("runner for task %s returned without removing it", id)
		}
	default:
		var panicErr *async.PanicError
		if errors.As(err, &panicErr) {
			err = cberrors.Fault(id, "run", err)
		}
		s.logger.Error("runner for task %s failed: %v", id, err)
	}
}

func (s *Scheduler) reportDepth() {
	processing := s.queue.ProcessingCount()
	s.metrics.QueueDepth(s.queue.Len()-processing, processing)
}

// Stop halts ticking, cancels in-flight runners and waits for them to exit
// or for ctx to expire. Stop is idempotent.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		select {
		case <-s.stoppedCh:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("scheduler stop: %w", ctx.Err())
		}
	}
	s.stopped = true
	if s.ticking {
		s.source.Stop()
		s.ticking = false
	}
	s.mu.Unlock()

	// Wait for an in-flight tick so no runner is launched after this point.
	s.tickMu.Lock()
	s.tickMu.Unlock()

	s.cancelRuns()
	waited := make(chan struct{})
	go func() {
		s.runners.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		close(s.stoppedCh)
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		go func() {
			<-waited
			close(s.stoppedCh)
		}()
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// Done is closed once Stop has finished waiting for all runners.
func (s *Scheduler) Done() <-chan struct{} {
	return s.stoppedCh
}
