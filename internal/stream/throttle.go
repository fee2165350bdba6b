package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"coursebot/internal/logging"
)

// DefaultFlushInterval is the period between throttled flushes.
const DefaultFlushInterval = 1500 * time.Millisecond

// DefaultSendAttempts is how many flushes may fail to send a segment before
// it is skipped so later segments can go out.
const DefaultSendAttempts = 3

// Sender is the subset of an output channel the throttle writes to.
type Sender interface {
	Send(ctx context.Context, text string) (messageID string, err error)
	Edit(ctx context.Context, messageID, text string) error
}

// FlushStats counts the channel calls made by one flush.
type FlushStats struct {
	Sends      int
	SendErrors int
	Skipped    int // segments given up on
	Edits      int
	EditErrors int
}

// Calls returns the total number of channel calls.
func (s FlushStats) Calls() int {
	return s.Sends + s.SendErrors + s.Edits
}

func (s *FlushStats) add(o FlushStats) {
	s.Sends += o.Sends
	s.SendErrors += o.SendErrors
	s.Skipped += o.Skipped
	s.Edits += o.Edits
	s.EditErrors += o.EditErrors
}

// Throttle reconciles sent messages with the aggregator's segments on a
// fixed interval, minimizing send and edit calls.
type Throttle struct {
	agg      *Aggregator
	sender   Sender
	interval time.Duration
	attempts int
	logger   logging.Logger
	onFlush  func(FlushStats)

	flushMu      sync.Mutex
	handles      []string // message id per segment; "" when the segment was skipped
	lastSent     []string // content last sent under each handle
	sendFailures int      // failed sends of the next unsent segment

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
}

// ThrottleOption configures a Throttle.
type ThrottleOption func(*Throttle)

// WithInterval overrides DefaultFlushInterval.
func WithInterval(d time.Duration) ThrottleOption {
	return func(t *Throttle) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithSendAttempts overrides DefaultSendAttempts.
func WithSendAttempts(n int) ThrottleOption {
	return func(t *Throttle) {
		if n > 0 {
			t.attempts = n
		}
	}
}

// WithLogger sets the logger used for swallowed edit failures.
func WithLogger(logger logging.Logger) ThrottleOption {
	return func(t *Throttle) {
		t.logger = logging.OrNop(logger)
	}
}

// WithFlushObserver registers a callback invoked after every flush that made calls.
func WithFlushObserver(fn func(FlushStats)) ThrottleOption {
	return func(t *Throttle) {
		t.onFlush = fn
	}
}

// NewThrottle creates a throttle relaying agg to sender.
func NewThrottle(agg *Aggregator, sender Sender, opts ...ThrottleOption) *Throttle {
	t := &Throttle{
		agg:      agg,
		sender:   sender,
		interval: DefaultFlushInterval,
		attempts: DefaultSendAttempts,
		logger:   logging.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// Flush sends every segment that has no message yet, in order, then edits
// each message whose segment changed since it was last sent. A flush with
// nothing new makes no calls. A failed send stops the flush and is returned;
// once a segment has failed the configured number of attempts it is skipped
// and the following segments are sent. Edit failures are logged and retried
// on the next flush.
func (t *Throttle) Flush(ctx context.Context) (FlushStats, error) {
	t.flushMu.Lock()
	defer t.flushMu.Unlock()

	var stats FlushStats
	segments := t.agg.Segments()
	if len(segments) == 0 {
		return stats, nil
	}
	defer func() {
		if t.onFlush != nil && stats.Calls() > 0 {
			t.onFlush(stats)
		}
	}()

	for len(t.handles) < len(segments) {
		index := len(t.handles)
		content := segments[index]
		if content == "" {
			t.skip(content)
			continue
		}
		messageID, err := t.sender.Send(ctx, content)
		if err != nil {
			stats.SendErrors++
			t.sendFailures++
			if t.sendFailures < t.attempts {
				return stats, fmt.Errorf("send segment %d: %w", index, err)
			}
			t.logger.Error("giving up on segment %d after %d failed sends: %v", index, t.sendFailures, err)
			stats.Skipped++
			t.skip(content)
			continue
		}
		stats.Sends++
		t.sendFailures = 0
		t.handles = append(t.handles, messageID)
		t.lastSent = append(t.lastSent, content)
	}

	for i, messageID := range t.handles {
		if messageID == "" || t.lastSent[i] == segments[i] {
			continue
		}
		stats.Edits++
		if err := t.sender.Edit(ctx, messageID, segments[i]); err != nil {
			stats.EditErrors++
			t.logger.Warn("edit message %s failed: %v", messageID, err)
			continue
		}
		t.lastSent[i] = segments[i]
	}
	return stats, nil
}

func (t *Throttle) skip(content string) {
	t.sendFailures = 0
	t.handles = append(t.handles, "")
	t.lastSent = append(t.lastSent, content)
}

// Drain flushes until every segment has been sent or skipped, or ctx is done.
// It is meant for the last flush of a stream, when no later tick will retry.
func (t *Throttle) Drain(ctx context.Context) (FlushStats, error) {
	var total FlushStats
	for {
		stats, err := t.Flush(ctx)
		total.add(stats)
		if err == nil {
			return total, nil
		}
		if ctx.Err() != nil {
			return total, err
		}
	}
}

// Sent returns the ids of the messages sent so far, in segment order.
// Skipped segments are left out.
func (t *Throttle) Sent() []string {
	t.flushMu.Lock()
	defer t.flushMu.Unlock()
	out := make([]string, 0, len(t.handles))
	for _, id := range t.handles {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

// Start begins periodic flushing until Stop is called or ctx is done.
// Calling Start on a running throttle is a no-op.
func (t *Throttle) Start(ctx context.Context) {
	t.lifecycleMu.Lock()
	defer t.lifecycleMu.Unlock()
	if t.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := t.Flush(ctx); err != nil && ctx.Err() == nil {
					t.logger.Warn("throttled flush failed: %v", err)
				}
			}
		}
	}()
}

// Stop halts periodic flushing and waits for an in-flight flush to finish,
// so a following final Flush never overlaps a timer flush. Stop is idempotent.
func (t *Throttle) Stop() {
	t.lifecycleMu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel = nil
	t.lifecycleMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
