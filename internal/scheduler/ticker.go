package scheduler

import (
	"fmt"
	"sync"
	"time"

	"coursebot/internal/async"
	"coursebot/internal/logging"

	"github.com/robfig/cron/v3"
)

// TickSource invokes a tick function periodically while started. Stop must
// not wait for an in-flight tick, since a tick may stop its own source.
type TickSource interface {
	Start(tick func()) error
	Stop()
}

// NewTickSource picks a cron-backed source for whole-second intervals and a
// ticker-backed one otherwise.
func NewTickSource(interval time.Duration, logger logging.Logger) TickSource {
	if interval >= time.Second && interval%time.Second == 0 {
		return NewCronSource(interval, logger)
	}
	return NewIntervalSource(interval, logger)
}

// CronSource fires on an "@every" cron schedule. Overlapping runs are skipped.
type CronSource struct {
	interval time.Duration
	logger   logging.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewCronSource creates a cron source. Sub-second precision is lost.
func NewCronSource(interval time.Duration, logger logging.Logger) *CronSource {
	return &CronSource{interval: interval, logger: logging.OrNop(logger)}
}

// Start schedules tick. Starting a running source is a no-op.
func (s *CronSource) Start(tick func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger{s.logger}),
		cron.SkipIfStillRunning(cronLogger{s.logger}),
	))
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := c.AddFunc(spec, tick); err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}
	c.Start()
	s.cron = c
	return nil
}

// Stop halts the schedule without waiting for a running tick.
func (s *CronSource) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		c.Stop()
	}
}

// cronLogger adapts logging.Logger to cron's key/value logger.
type cronLogger struct {
	logger logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: %s %v", msg, keysAndValues)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: %s: %v %v", msg, err, keysAndValues)
}

// IntervalSource fires on a time.Ticker.
type IntervalSource struct {
	interval time.Duration
	logger   logging.Logger

	mu   sync.Mutex
	stop chan struct{}
}

// NewIntervalSource creates a ticker source.
func NewIntervalSource(interval time.Duration, logger logging.Logger) *IntervalSource {
	return &IntervalSource{interval: interval, logger: logging.OrNop(logger)}
}

// Start begins ticking. Starting a running source is a no-op.
func (s *IntervalSource) Start(tick func()) error {
	if s.interval <= 0 {
		return fmt.Errorf("tick interval must be positive, got %s", s.interval)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return nil
	}
	stop := make(chan struct{})
	s.stop = stop

	async.Go(s.logger, "scheduler.interval", func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				tick()
			}
		}
	})
	return nil
}

// Stop halts ticking.
func (s *IntervalSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

// ManualSource only ticks when Fire is called.
type ManualSource struct {
	mu     sync.Mutex
	tick   func()
	starts int
}

// NewManualSource creates a manual source.
func NewManualSource() *ManualSource {
	return &ManualSource{}
}

func (s *ManualSource) Start(tick func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tick == nil {
		s.starts++
	}
	s.tick = tick
	return nil
}

func (s *ManualSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tick = nil
}

// Fire runs one tick synchronously and reports whether the source was active.
func (s *ManualSource) Fire() bool {
	s.mu.Lock()
	tick := s.tick
	s.mu.Unlock()
	if tick == nil {
		return false
	}
	tick()
	return true
}

// Active reports whether the source is started.
func (s *ManualSource) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick != nil
}

// Starts returns how many times the source went from idle to started.
func (s *ManualSource) Starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}
