// Package runner executes one admitted task end to end: output channel,
// policy check, generation stream, throttled relay, and cleanup.
package runner

import (
	"context"
	"time"

	"coursebot/internal/channels"
	cberrors "coursebot/internal/errors"
	"coursebot/internal/llm"
	"coursebot/internal/logging"
	"coursebot/internal/observability"
	"coursebot/internal/policy"
	"coursebot/internal/queue"
	"coursebot/internal/stream"
	id "coursebot/internal/utils/id"

	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultCourseName        = "Course"
	DefaultGracePeriod       = 500 * time.Millisecond
	DefaultIdleTimeout       = 2 * time.Minute
	DefaultMaxStreamDuration = 10 * time.Minute
	cleanupTimeout           = 30 * time.Second
)

// Config tunes a Runner. Zero values fall back to defaults; a negative
// GracePeriod disables the pause before the final flush.
type Config struct {
	Model             string
	CourseName        string
	SegmentBudget     int
	FlushInterval     time.Duration
	GracePeriod       time.Duration
	IdleTimeout       time.Duration
	MaxStreamDuration time.Duration
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = llm.DefaultModel
	}
	if c.CourseName == "" {
		c.CourseName = DefaultCourseName
	}
	if c.SegmentBudget <= 0 {
		c.SegmentBudget = stream.DefaultSegmentBudget
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = stream.DefaultFlushInterval
	}
	switch {
	case c.GracePeriod == 0:
		c.GracePeriod = DefaultGracePeriod
	case c.GracePeriod < 0:
		c.GracePeriod = 0
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.MaxStreamDuration <= 0 {
		c.MaxStreamDuration = DefaultMaxStreamDuration
	}
	return c
}

// Metrics receives runner observations.
type Metrics interface {
	RecordOutcome(outcome string, duration time.Duration)
	RecordRelayCalls(sends, edits, editErrors int)
}

type nopMetrics struct{}

func (nopMetrics) RecordOutcome(string, time.Duration) {}
func (nopMetrics) RecordRelayCalls(int, int, int)      {}

// Deps are the collaborators a Runner needs.
type Deps struct {
	Host      channels.Host
	Gate      *policy.Gate
	Generator llm.StreamOpener
	Queue     *queue.Queue
	Logger    logging.Logger
	Metrics   Metrics
	Tracer    *observability.TracerProvider
}

// Runner processes claimed tasks. It is safe for concurrent use.
type Runner struct {
	config    Config
	host      channels.Host
	gate      *policy.Gate
	generator llm.StreamOpener
	queue     *queue.Queue
	logger    logging.Logger
	metrics   Metrics
	tracer    *observability.TracerProvider
	now       func() time.Time
	sleep     func(time.Duration)
}

// New creates a runner. A nil gate uses the default rules.
func New(cfg Config, deps Deps) *Runner {
	r := &Runner{
		config:    cfg.withDefaults(),
		host:      deps.Host,
		gate:      deps.Gate,
		generator: deps.Generator,
		queue:     deps.Queue,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		tracer:    deps.Tracer,
		now:       time.Now,
		sleep:     time.Sleep,
	}
	if r.gate == nil {
		r.gate = policy.MustDefault()
	}
	if logging.IsNil(r.logger) {
		r.logger = logging.NewComponentLogger("Runner")
	}
	if r.metrics == nil {
		r.metrics = nopMetrics{}
	}
	if r.tracer == nil {
		r.tracer = observability.NoopTracer()
	}
	return r
}

// Config returns the effective configuration.
func (r *Runner) Config() Config {
	return r.config
}

// Run executes task. Every path finalizes the acknowledgment and removes
// the task from the queue. Only a failure to create the output channel is
// returned, as a *errors.RunnerFault.
func (r *Runner) Run(ctx context.Context, task queue.Task) (err error) {
	started := r.now()
	origin := task.Request.Origin
	ctx = id.WithIDs(ctx, id.IDs{TaskID: task.ID, UserID: origin.UserID})
	ctx, _ = id.EnsureLogID(ctx, id.NewLogID)
	logger := logging.FromContext(ctx, r.logger)

	ctx, span := r.tracer.StartSpan(ctx, observability.SpanTaskRun,
		attribute.String(observability.AttrModel, r.config.Model))

	ack := task.Request.Ack
	if ack == nil {
		ack = channels.NopAck()
	}

	outcome := observability.OutcomeCompleted
	var relay *stream.Throttle

	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()

		if relay != nil {
			relay.Stop()
			if r.config.GracePeriod > 0 {
				r.sleep(r.config.GracePeriod)
			}
			if _, flushErr := relay.Drain(cleanupCtx); flushErr != nil {
				logger.Warn("final flush for task %s failed: %v", task.ID, flushErr)
			}
		}
		if ackErr := ack.Finalize(cleanupCtx); ackErr != nil {
			logger.Debug("finalize ack for task %s: %v", task.ID, ackErr)
		}
		r.queue.Remove(task.ID)

		span.SetAttributes(attribute.String(observability.AttrOutcome, outcome))
		observability.EndSpan(span, err)
		r.metrics.RecordOutcome(outcome, r.now().Sub(started))
		logger.Info("task %s finished: %s", task.ID, outcome)
	}()

	channel, err := r.host.CreateChannel(ctx, origin, channels.ThreadName(origin.DisplayName))
	if err != nil {
		outcome = observability.OutcomeFault
		return cberrors.Fault(task.ID, "create channel", err)
	}
	r.queue.AssignChannel(task.ID, channel)

	if decision := r.gate.Classify(task.Request.Prompt); decision.Blocked() {
		outcome = observability.OutcomeBlocked
		span.SetAttributes(attribute.String(observability.AttrRule, decision.Rule))
		logger.Info("task %s blocked by rule %s", task.ID, decision.Rule)
		r.post(ctx, logger, channel, RefusalMessage)
		return nil
	}

	messages := llm.BuildMessages(r.config.CourseName, task.Request.Prompt)

	streamCtx, cancelStream := context.WithTimeout(ctx, r.config.MaxStreamDuration)
	defer cancelStream()

	body, openErr := r.generator.OpenStream(streamCtx, r.config.Model, messages)
	if openErr != nil {
		outcome = observability.OutcomeUnreachable
		logger.Warn("generation service unreachable for task %s: %v", task.ID, openErr)
		r.post(ctx, logger, channel, ConnectivityMessage)
		return nil
	}
	defer body.Close()

	agg := stream.NewAggregator(r.config.SegmentBudget)
	relay = stream.NewThrottle(agg, channel,
		stream.WithInterval(r.config.FlushInterval),
		stream.WithLogger(logger),
		stream.WithFlushObserver(func(s stream.FlushStats) {
			r.metrics.RecordRelayCalls(s.Sends, s.Edits, s.EditErrors)
		}),
	)
	relay.Start(ctx)

	dec := stream.NewDecoder(logger)
	if streamErr := stream.Consume(streamCtx, body, dec, agg, r.config.IdleTimeout); streamErr != nil {
		outcome = observability.OutcomeStreamError
		logger.Warn("stream for task %s failed: %v", task.ID, streamErr)
		r.post(context.WithoutCancel(ctx), logger, channel, StreamErrorMessage)
	}
	if dropped := dec.Dropped(); dropped > 0 {
		logger.Debug("task %s dropped %d malformed stream lines", task.ID, dropped)
	}
	span.SetAttributes(attribute.Int(observability.AttrSegments, agg.Len()))
	return nil
}

func (r *Runner) post(ctx context.Context, logger logging.Logger, channel channels.Channel, text string) {
	if _, err := channel.Send(ctx, text); err != nil {
		logger.Warn("post to channel %s failed: %v", channel.ID(), err)
	}
}
