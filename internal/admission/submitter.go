// Package admission is the caller-facing entry point: it validates a
// submission, assigns an id, filters duplicates and floods, and hands the
// request to the scheduler.
package admission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"coursebot/internal/channels"
	"coursebot/internal/logging"
	"coursebot/internal/observability"
	"coursebot/internal/queue"
	id "coursebot/internal/utils/id"

	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	ErrEmptyPrompt         = errors.New("admission: prompt is empty")
	ErrPromptTooLong       = errors.New("admission: prompt is too long")
	ErrDuplicateSubmission = errors.New("admission: duplicate submission")
	ErrRateLimited         = errors.New("admission: rate limited")
)

const (
	DefaultMaxPromptBytes    = 4000
	DefaultDedupSize         = 1024
	DefaultDedupTTL          = 10 * time.Minute
	DefaultRequestsPerMinute = 6
	DefaultBurst             = 3
)

// Config tunes admission. RequestsPerMinute < 0 disables rate limiting.
type Config struct {
	RequestsPerMinute int
	Burst             int
	DedupSize         int
	DedupTTL          time.Duration
	MaxPromptBytes    int
}

func (c Config) withDefaults() Config {
	if c.RequestsPerMinute == 0 {
		c.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if c.Burst <= 0 {
		c.Burst = DefaultBurst
	}
	if c.DedupSize <= 0 {
		c.DedupSize = DefaultDedupSize
	}
	if c.DedupTTL <= 0 {
		c.DedupTTL = DefaultDedupTTL
	}
	if c.MaxPromptBytes <= 0 {
		c.MaxPromptBytes = DefaultMaxPromptBytes
	}
	return c
}

// Enqueuer accepts admitted requests. *scheduler.Scheduler implements it.
type Enqueuer interface {
	AddItem(id string, req queue.Request) (queue.Task, error)
}

// Recorder counts admission results.
type Recorder interface {
	RecordAdmission(result string)
}

// Submission is one incoming prompt. ID is the host's idempotency key (for
// example an interaction id); an empty ID gets a generated task id.
type Submission struct {
	ID     string
	Prompt string
	Origin channels.Origin
	Ack    channels.Acknowledger
}

// Submitter admits submissions into the scheduler.
type Submitter struct {
	config   Config
	enqueuer Enqueuer
	limiter  *userLimiter
	logger   logging.Logger
	recorder Recorder
	newID    func() string
	now      func() time.Time

	dedupMu sync.Mutex
	dedup   *lru.Cache[string, time.Time]
}

// Option configures a Submitter.
type Option func(*Submitter)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Submitter) { s.logger = logging.OrNop(logger) }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Submitter) { s.recorder = r }
}

// WithClock overrides the time source for dedup expiry and rate limiting.
func WithClock(now func() time.Time) Option {
	return func(s *Submitter) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides task id generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Submitter) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewSubmitter creates a submitter in front of enqueuer.
func NewSubmitter(cfg Config, enqueuer Enqueuer, opts ...Option) (*Submitter, error) {
	if enqueuer == nil {
		return nil, fmt.Errorf("admission requires an enqueuer")
	}
	cfg = cfg.withDefaults()
	dedup, err := lru.New[string, time.Time](cfg.DedupSize)
	if err != nil {
		return nil, fmt.Errorf("admission deduper init: %w", err)
	}
	s := &Submitter{
		config:   cfg,
		enqueuer: enqueuer,
		logger:   logging.NewComponentLogger("Admission"),
		newID:    id.NewTaskID,
		now:      time.Now,
		dedup:    dedup,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.limiter = newUserLimiter(cfg.RequestsPerMinute, cfg.Burst, s.now)
	return s, nil
}

// Submit admits sub and returns the queued task. On success the
// acknowledgment is updated with the queue position.
func (s *Submitter) Submit(ctx context.Context, sub Submission) (queue.Task, error) {
	prompt := strings.TrimSpace(sub.Prompt)
	switch {
	case prompt == "":
		s.record(observability.AdmissionRejected)
		return queue.Task{}, ErrEmptyPrompt
	case len(prompt) > s.config.MaxPromptBytes:
		s.record(observability.AdmissionRejected)
		return queue.Task{}, fmt.Errorf("%w: %d bytes, limit %d", ErrPromptTooLong, len(prompt), s.config.MaxPromptBytes)
	}

	taskID := strings.TrimSpace(sub.ID)
	if taskID == "" {
		taskID = s.newID()
	} else if s.isDuplicate(taskID) {
		s.record(observability.AdmissionDuplicate)
		return queue.Task{}, ErrDuplicateSubmission
	}

	if !s.limiter.allow(limiterKey(sub.Origin)) {
		s.record(observability.AdmissionRateLimited)
		s.logger.Info("rate limited submission from %s", sub.Origin.UserID)
		return queue.Task{}, ErrRateLimited
	}

	ack := sub.Ack
	if ack == nil {
		ack = channels.NopAck()
	}
	task, err := s.enqueuer.AddItem(taskID, queue.Request{
		Prompt: prompt,
		Origin: sub.Origin,
		Ack:    ack,
	})
	if err != nil {
		s.record(observability.AdmissionRejected)
		return queue.Task{}, fmt.Errorf("enqueue %s: %w", taskID, err)
	}
	s.record(observability.AdmissionAccepted)

	if err := ack.Update(ctx, PositionMessage(task.Status.Position)); err != nil {
		s.logger.Debug("update ack for %s: %v", taskID, err)
	}
	return task, nil
}

// PositionMessage is the acknowledgment text for a zero-based queue position.
func PositionMessage(position int) string {
	if position == 0 {
		return "Got it! Your answer will appear in a new thread shortly."
	}
	return fmt.Sprintf("Got it! You are #%d in the queue. Your answer will appear in a new thread.", position+1)
}

func (s *Submitter) isDuplicate(key string) bool {
	s.dedupMu.Lock()
	defer s.dedupMu.Unlock()

	now := s.now()
	if ts, ok := s.dedup.Get(key); ok {
		if now.Sub(ts) <= s.config.DedupTTL {
			return true
		}
		s.dedup.Remove(key)
	}
	s.dedup.Add(key, now)
	return false
}

func (s *Submitter) record(result string) {
	if s.recorder != nil {
		s.recorder.RecordAdmission(result)
	}
}

func limiterKey(origin channels.Origin) string {
	if origin.UserID == "" {
		return ""
	}
	return origin.Platform + ":" + origin.UserID
}
