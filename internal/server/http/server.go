// Package http exposes the prompt queue over HTTP: submissions, queue and
// transcript views, a live websocket feed of output channels, health and
// metrics.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"coursebot/internal/admission"
	"coursebot/internal/channels/memory"
	"coursebot/internal/logging"
	"coursebot/internal/observability"
	"coursebot/internal/queue"
)

const (
	defaultReadTimeout   = 30 * time.Second
	defaultShutdownGrace = 10 * time.Second
	// Platform tags origins of requests submitted over HTTP.
	Platform = "http"
)

// Submitter admits prompts. *admission.Submitter implements it.
type Submitter interface {
	Submit(ctx context.Context, sub admission.Submission) (queue.Task, error)
}

// QueueView reads the admission queue.
type QueueView interface {
	Get(id string) (queue.Task, bool)
	Snapshot() []queue.Task
}

// TranscriptStore serves output channels written by the memory host.
type TranscriptStore interface {
	Transcript(channelID string) (memory.Transcript, bool)
	Transcripts() []memory.Transcript
	Subscribe(channelID string, buffer int) (<-chan memory.Event, func())
}

// Pinger checks a dependency. *llm.OllamaClient implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config configures the server.
type Config struct {
	Addr  string
	Debug bool
}

// Deps are the collaborators the handlers read from.
type Deps struct {
	Submitter   Submitter
	Queue       QueueView
	Transcripts TranscriptStore
	Generator   Pinger       // optional
	Metrics     http.Handler // optional, served on /metrics
	Tracer      *observability.TracerProvider
	Logger      logging.Logger
}

// Server is the HTTP front end.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	upgrader   websocket.Upgrader
	deps       Deps
	logger     logging.Logger
	startTime  time.Time
}

// NewServer builds the server and its routes.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if deps.Submitter == nil || deps.Queue == nil || deps.Transcripts == nil {
		return nil, fmt.Errorf("http server requires a submitter, queue and transcript store")
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := deps.Logger
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("HTTP")
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(observabilityMiddleware(deps.Tracer, logger))

	s := &Server{
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
		deps:      deps,
		logger:    logger,
		startTime: time.Now(),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           engine,
		ReadHeaderTimeout: defaultReadTimeout,
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", s.handleHealth)
	if s.deps.Metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.deps.Metrics))
	}

	api := s.engine.Group("/v1")
	api.Use(jsonMiddleware())
	{
		api.POST("/prompts", s.handleSubmit)
		api.GET("/queue", s.handleQueue)
		api.GET("/tasks/:id", s.handleTask)
		api.GET("/channels/:id", s.handleChannel)
	}
	// The websocket route sits outside the JSON group; upgrades carry no body.
	s.engine.GET("/v1/channels/:id/ws", s.handleChannelStream)
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	// Requests inherit ctx so websocket feeds end on shutdown.
	s.httpServer.BaseContext = func(net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultShutdownGrace)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("shutdown: %v", err)
		return err
	}
	return <-errCh
}
