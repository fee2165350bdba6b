package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"coursebot/internal/admission"
	"coursebot/internal/channels"
	"coursebot/internal/channels/memory"
	"coursebot/internal/queue"
	"coursebot/internal/scheduler"
	id "coursebot/internal/utils/id"
)

const (
	healthTimeout  = 3 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsEventBuffer  = 64
)

// SubmitRequest is the body of POST /v1/prompts.
type SubmitRequest struct {
	ID          string `json:"id,omitempty"` // optional idempotency key
	Prompt      string `json:"prompt"`
	UserID      string `json:"user_id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// TaskView is the public shape of a task.
type TaskView struct {
	ID          string    `json:"id"`
	State       string    `json:"state"` // queued, processing, finished
	Position    *int      `json:"position,omitempty"`
	ChannelID   string    `json:"channel_id,omitempty"`
	UserID      string    `json:"user_id,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	EnqueuedAt  time.Time `json:"enqueued_at,omitzero"`
	StartedAt   time.Time `json:"started_at,omitzero"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func errorBody(msg string) errorResponse {
	return errorResponse{Error: msg}
}

func (s *Server) handleSubmit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid request body: "+err.Error()))
		return
	}

	taskID := strings.TrimSpace(req.ID)
	if taskID == "" {
		taskID = id.NewTaskID()
	}
	// The task id doubles as the origin channel so the output channel can
	// be found after the task has left the queue.
	origin := channels.Origin{
		Platform:    Platform,
		ChannelID:   taskID,
		UserID:      strings.TrimSpace(req.UserID),
		DisplayName: strings.TrimSpace(req.DisplayName),
	}
	if origin.UserID == "" {
		origin.UserID = c.ClientIP()
	}

	ack := memory.NewAck()
	task, err := s.deps.Submitter.Submit(c.Request.Context(), admission.Submission{
		ID:     taskID,
		Prompt: req.Prompt,
		Origin: origin,
		Ack:    ack,
	})
	if err != nil {
		_ = c.Error(err)
		c.JSON(submitErrorStatus(err), errorBody(err.Error()))
		return
	}

	message := ""
	if updates := ack.Updates(); len(updates) > 0 {
		message = updates[len(updates)-1]
	}
	c.JSON(http.StatusAccepted, gin.H{
		"task":    viewOfTask(task),
		"message": message,
	})
}

func submitErrorStatus(err error) int {
	switch {
	case errors.Is(err, admission.ErrEmptyPrompt), errors.Is(err, admission.ErrPromptTooLong):
		return http.StatusBadRequest
	case errors.Is(err, admission.ErrDuplicateSubmission), errors.Is(err, queue.ErrDuplicateID):
		return http.StatusConflict
	case errors.Is(err, admission.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, scheduler.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleQueue(c *gin.Context) {
	tasks := s.deps.Queue.Snapshot()
	views := make([]TaskView, 0, len(tasks))
	processing := 0
	for _, task := range tasks {
		if task.Status.Processing {
			processing++
		}
		views = append(views, viewOfTask(task))
	}
	c.JSON(http.StatusOK, gin.H{
		"pending":    len(tasks) - processing,
		"processing": processing,
		"tasks":      views,
	})
}

func (s *Server) handleTask(c *gin.Context) {
	taskID := c.Param("id")
	if task, ok := s.deps.Queue.Get(taskID); ok {
		c.JSON(http.StatusOK, viewOfTask(task))
		return
	}
	for _, transcript := range s.deps.Transcripts.Transcripts() {
		if transcript.Origin.Platform == Platform && transcript.Origin.ChannelID == taskID {
			c.JSON(http.StatusOK, TaskView{
				ID:          taskID,
				State:       "finished",
				ChannelID:   transcript.ChannelID,
				UserID:      transcript.Origin.UserID,
				DisplayName: transcript.Origin.DisplayName,
			})
			return
		}
	}
	c.JSON(http.StatusNotFound, errorBody("task not found"))
}

func (s *Server) handleChannel(c *gin.Context) {
	transcript, ok := s.deps.Transcripts.Transcript(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, errorBody("channel not found"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"channel": transcript,
		"text":    transcript.Text(),
	})
}

// streamMessage is one websocket frame. The first frame is a snapshot of the
// transcript; later frames carry individual sends and edits.
type streamMessage struct {
	Kind       string             `json:"kind"`
	Transcript *memory.Transcript `json:"transcript,omitempty"`
	Event      *memory.Event      `json:"event,omitempty"`
}

func (s *Server) handleChannelStream(c *gin.Context) {
	channelID := c.Param("id")
	transcript, ok := s.deps.Transcripts.Transcript(channelID)
	if !ok {
		c.JSON(http.StatusNotFound, errorBody("channel not found"))
		return
	}

	// Subscribe before the snapshot so no event between the two is lost.
	events, cancel := s.deps.Transcripts.Subscribe(channelID, wsEventBuffer)
	defer cancel()
	transcript, _ = s.deps.Transcripts.Transcript(channelID)

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade for %s: %v", channelID, err)
		return
	}
	defer conn.Close()

	ctx, stop := context.WithCancel(c.Request.Context())
	defer stop()
	// Drain client frames so close messages are processed.
	go func() {
		defer stop()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := writeFrame(conn, streamMessage{Kind: "snapshot", Transcript: &transcript}); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(wsWriteTimeout))
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if err := writeFrame(conn, streamMessage{Kind: evt.Kind, Event: &evt}); err != nil {
				s.logger.Debug("websocket write for %s: %v", channelID, err)
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, msg streamMessage) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}

func (s *Server) handleHealth(c *gin.Context) {
	tasks := s.deps.Queue.Snapshot()
	processing := 0
	for _, task := range tasks {
		if task.Status.Processing {
			processing++
		}
	}

	status := http.StatusOK
	body := gin.H{
		"status": "ok",
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
		"queue": gin.H{
			"pending":    len(tasks) - processing,
			"processing": processing,
		},
	}
	if s.deps.Generator != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()
		if err := s.deps.Generator.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["generator"] = err.Error()
		} else {
			body["generator"] = "ok"
		}
	}
	c.JSON(status, body)
}

func viewOfTask(task queue.Task) TaskView {
	view := TaskView{
		ID:          task.ID,
		State:       "queued",
		UserID:      task.Request.Origin.UserID,
		DisplayName: task.Request.Origin.DisplayName,
		EnqueuedAt:  task.EnqueuedAt,
		StartedAt:   task.StartedAt,
	}
	position := task.Status.Position
	view.Position = &position
	if task.Status.Processing {
		view.State = "processing"
	}
	if task.Channel != nil {
		view.ChannelID = task.Channel.ID()
	}
	return view
}
