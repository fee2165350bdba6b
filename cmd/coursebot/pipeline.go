package main

import (
	"context"
	"errors"
	"fmt"

	"coursebot/internal/admission"
	"coursebot/internal/channels"
	"coursebot/internal/config"
	"coursebot/internal/llm"
	"coursebot/internal/logging"
	"coursebot/internal/observability"
	"coursebot/internal/policy"
	"coursebot/internal/queue"
	"coursebot/internal/runner"
	"coursebot/internal/scheduler"
)

// pipeline is the queue, scheduler, runner and admission entry point wired
// over one host.
type pipeline struct {
	queue     *queue.Queue
	scheduler *scheduler.Scheduler
	runner    *runner.Runner
	submitter *admission.Submitter
	generator *llm.OllamaClient
	metrics   *observability.Metrics
	tracer    *observability.TracerProvider
	logger    logging.Logger
}

type pipelineOption func(*pipelineOptions)

type pipelineOptions struct {
	generator llm.StreamOpener
	tickSrc   scheduler.TickSource
}

// withGenerator replaces the Ollama client as the stream source.
func withGenerator(g llm.StreamOpener) pipelineOption {
	return func(o *pipelineOptions) { o.generator = g }
}

func withTickSource(src scheduler.TickSource) pipelineOption {
	return func(o *pipelineOptions) { o.tickSrc = src }
}

func newPipeline(cfg config.Config, host channels.Host, opts ...pipelineOption) (*pipeline, error) {
	options := pipelineOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	logger := logging.NewComponentLogger("Main")

	gate, err := policy.FromFile(cfg.Policy.RulesFile)
	if err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}

	tracer, err := observability.NewTracerProvider(cfg.Observability.Tracing)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	var metrics *observability.Metrics
	if cfg.Observability.Metrics.Enabled {
		metrics = observability.NewRegistryMetrics()
	}

	ollama := llm.NewOllamaClient(llm.OllamaConfig{
		BaseURL:       cfg.Ollama.BaseURL,
		HeaderTimeout: cfg.Ollama.HeaderTimeout,
	})
	var generator llm.StreamOpener = ollama
	if options.generator != nil {
		generator = options.generator
	}

	q := queue.New()
	run := runner.New(runner.Config{
		Model:             cfg.Ollama.Model,
		CourseName:        cfg.Runner.CourseName,
		SegmentBudget:     cfg.Stream.SegmentBudget,
		FlushInterval:     cfg.Stream.FlushInterval,
		GracePeriod:       cfg.Stream.GracePeriod,
		IdleTimeout:       cfg.Runner.StreamIdleTimeout,
		MaxStreamDuration: cfg.Runner.MaxStreamDuration,
	}, runner.Deps{
		Host:      host,
		Gate:      gate,
		Generator: generator,
		Queue:     q,
		Metrics:   metrics,
		Tracer:    tracer,
	})

	schedOpts := []scheduler.Option{scheduler.WithMetrics(metrics)}
	if options.tickSrc != nil {
		schedOpts = append(schedOpts, scheduler.WithTickSource(options.tickSrc))
	}
	sched := scheduler.New(scheduler.Config{
		Concurrency:  cfg.Queue.Concurrency,
		TickInterval: cfg.Queue.TickInterval,
	}, q, run.Run, schedOpts...)

	submitter, err := admission.NewSubmitter(admission.Config{
		RequestsPerMinute: cfg.Admission.RequestsPerMinute,
		Burst:             cfg.Admission.Burst,
		DedupSize:         cfg.Admission.DedupSize,
		DedupTTL:          cfg.Admission.DedupTTL,
		MaxPromptBytes:    cfg.Admission.MaxPromptBytes,
	}, sched, admission.WithRecorder(metrics))
	if err != nil {
		return nil, err
	}

	return &pipeline{
		queue:     q,
		scheduler: sched,
		runner:    run,
		submitter: submitter,
		generator: ollama,
		metrics:   metrics,
		tracer:    tracer,
		logger:    logger,
	}, nil
}

func (p *pipeline) start(ctx context.Context) error {
	return p.scheduler.Start(ctx)
}

// shutdown stops the scheduler, waiting for in-flight runners within ctx,
// and flushes pending spans.
func (p *pipeline) shutdown(ctx context.Context) error {
	var errs []error
	if err := p.scheduler.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
	}
	if err := p.tracer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown tracer: %w", err))
	}
	return errors.Join(errs...)
}
