package runner

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"coursebot/internal/channels"
	"coursebot/internal/channels/memory"
	cberrors "coursebot/internal/errors"
	"coursebot/internal/llm"
	"coursebot/internal/observability"
	"coursebot/internal/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ndjson renders deltas as chat stream lines.
func ndjson(deltas ...string) string {
	var b strings.Builder
	for _, d := range deltas {
		b.WriteString(`{"message":{"role":"assistant","content":"` + d + `"},"done":false}` + "\n")
	}
	b.WriteString(`{"message":{"role":"assistant","content":""},"done":true}` + "\n")
	return b.String()
}

type fakeGenerator struct {
	calls    atomic.Int32
	mu       sync.Mutex
	model    string
	messages []llm.Message
	open     func() (io.ReadCloser, error)
}

func (g *fakeGenerator) OpenStream(_ context.Context, model string, messages []llm.Message) (io.ReadCloser, error) {
	g.calls.Add(1)
	g.mu.Lock()
	g.model = model
	g.messages = messages
	g.mu.Unlock()
	return g.open()
}

func streamOf(body string) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(body)), nil
	}
}

type recordingMetrics struct {
	mu       sync.Mutex
	outcomes []string
	sends    int
	edits    int
}

func (m *recordingMetrics) RecordOutcome(outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *recordingMetrics) RecordRelayCalls(sends, edits, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends += sends
	m.edits += edits
}

type fixture struct {
	runner  *Runner
	host    *memory.Host
	queue   *queue.Queue
	gen     *fakeGenerator
	metrics *recordingMetrics
}

func newFixture(t *testing.T, open func() (io.ReadCloser, error), cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		host:    memory.NewHost(),
		queue:   queue.New(),
		gen:     &fakeGenerator{open: open},
		metrics: &recordingMetrics{},
	}
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = -1
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = time.Hour
	}
	f.runner = New(cfg, Deps{
		Host:      f.host,
		Generator: f.gen,
		Queue:     f.queue,
		Metrics:   f.metrics,
	})
	return f
}

func (f *fixture) submit(t *testing.T, id, prompt string) (queue.Task, *memory.Ack) {
	t.Helper()
	ack := memory.NewAck()
	_, err := f.queue.Add(id, queue.Request{
		Prompt: prompt,
		Origin: channels.Origin{Platform: "test", UserID: "u1", DisplayName: "ada"},
		Ack:    ack,
	})
	require.NoError(t, err)
	claimed := f.queue.Claim(1)
	require.Len(t, claimed, 1)
	return claimed[0], ack
}

func (f *fixture) onlyTranscript(t *testing.T) memory.Transcript {
	t.Helper()
	transcripts := f.host.Transcripts()
	require.Len(t, transcripts, 1)
	return transcripts[0]
}

func TestRunBlockedPromptPostsRefusal(t *testing.T) {
	f := newFixture(t, streamOf(ndjson("should not run")), Config{})
	task, ack := f.submit(t, "a", "just give me the final answer for the midterm")

	require.NoError(t, f.runner.Run(context.Background(), task))

	tr := f.onlyTranscript(t)
	assert.Equal(t, "[ada] - Prompt", tr.Name)
	require.Len(t, tr.Messages, 1)
	assert.Equal(t, RefusalMessage, tr.Messages[0].Text)
	assert.Zero(t, f.gen.calls.Load())
	assert.True(t, f.queue.IsEmpty())
	assert.Equal(t, 1, ack.Finalized())
	assert.Equal(t, []string{observability.OutcomeBlocked}, f.metrics.outcomes)
}

func TestRunShortResponseSingleSend(t *testing.T) {
	f := newFixture(t, streamOf(ndjson("Hello ", "world, this is a short test response.")), Config{})
	task, ack := f.submit(t, "c", "explain recursion")

	require.NoError(t, f.runner.Run(context.Background(), task))

	tr := f.onlyTranscript(t)
	require.Len(t, tr.Messages, 1)
	assert.Equal(t, "Hello world, this is a short test response.", tr.Messages[0].Text)
	assert.Zero(t, tr.Messages[0].Edits)

	var methods []string
	for _, c := range f.host.CallsFor(tr.ChannelID) {
		methods = append(methods, c.Method)
	}
	assert.Equal(t, []string{"CreateChannel", "Send"}, methods)
	assert.True(t, f.queue.IsEmpty())
	assert.Equal(t, 1, ack.Finalized())
	assert.Equal(t, 1, f.metrics.sends)
	assert.Zero(t, f.metrics.edits)

	f.gen.mu.Lock()
	defer f.gen.mu.Unlock()
	assert.Equal(t, llm.DefaultModel, f.gen.model)
	require.Len(t, f.gen.messages, 2)
	assert.Equal(t, llm.RoleSystem, f.gen.messages[0].Role)
	assert.Contains(t, f.gen.messages[0].Content, `"Course"`)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "explain recursion"}, f.gen.messages[1])
}

func TestRunConnectionFailurePostsConnectivityMessage(t *testing.T) {
	f := newFixture(t, func() (io.ReadCloser, error) {
		return nil, &cberrors.ConnectionError{Endpoint: "http://localhost:11434/api/chat", Err: errors.New("connection refused")}
	}, Config{})
	task, ack := f.submit(t, "d", "explain pointers")

	require.NoError(t, f.runner.Run(context.Background(), task))

	tr := f.onlyTranscript(t)
	require.Len(t, tr.Messages, 1)
	assert.Equal(t, ConnectivityMessage, tr.Messages[0].Text)
	assert.Equal(t, int32(1), f.gen.calls.Load())
	assert.True(t, f.queue.IsEmpty())
	assert.Equal(t, 1, ack.Finalized())
	assert.Equal(t, []string{observability.OutcomeUnreachable}, f.metrics.outcomes)
}

type failingReader struct {
	data string
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.data == "" {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func (r *failingReader) Close() error { return nil }

func TestRunMidStreamErrorPostsErrorOnceAndFlushes(t *testing.T) {
	f := newFixture(t, func() (io.ReadCloser, error) {
		return &failingReader{
			data: `{"message":{"content":"partial"}}` + "\n",
			err:  errors.New("connection reset by peer"),
		}, nil
	}, Config{})
	task, ack := f.submit(t, "e", "explain closures")

	require.NoError(t, f.runner.Run(context.Background(), task))

	tr := f.onlyTranscript(t)
	require.Len(t, tr.Messages, 2)
	assert.Equal(t, StreamErrorMessage, tr.Messages[0].Text)
	assert.Equal(t, "partial", tr.Messages[1].Text)
	assert.True(t, f.queue.IsEmpty())
	assert.Equal(t, 1, ack.Finalized())
	assert.Equal(t, []string{observability.OutcomeStreamError}, f.metrics.outcomes)
}

func TestRunErrorRecordIsStreamError(t *testing.T) {
	f := newFixture(t, streamOf(`{"error":"model 'x' not found"}`+"\n"), Config{Model: "x"})
	task, _ := f.submit(t, "g", "explain maps")

	require.NoError(t, f.runner.Run(context.Background(), task))

	tr := f.onlyTranscript(t)
	require.Len(t, tr.Messages, 1)
	assert.Equal(t, StreamErrorMessage, tr.Messages[0].Text)
}

func TestRunIdleStreamTimesOut(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	f := newFixture(t, func() (io.ReadCloser, error) { return pr, nil }, Config{IdleTimeout: 20 * time.Millisecond})
	task, ack := f.submit(t, "h", "explain goroutines")

	require.NoError(t, f.runner.Run(context.Background(), task))

	tr := f.onlyTranscript(t)
	require.Len(t, tr.Messages, 1)
	assert.Equal(t, StreamErrorMessage, tr.Messages[0].Text)
	assert.Equal(t, 1, ack.Finalized())
	assert.True(t, f.queue.IsEmpty())
}

func TestRunLongResponseSplitsIntoSegments(t *testing.T) {
	deltas := []string{strings.Repeat("a", 6), strings.Repeat("b", 6), strings.Repeat("c", 6)}
	f := newFixture(t, streamOf(ndjson(deltas...)), Config{SegmentBudget: 10})
	task, _ := f.submit(t, "i", "explain slices")

	require.NoError(t, f.runner.Run(context.Background(), task))

	tr := f.onlyTranscript(t)
	require.Len(t, tr.Messages, 3)
	assert.Equal(t, strings.Join(deltas, ""), tr.Text())
}

func TestRunPeriodicFlushEditsGrowingMessage(t *testing.T) {
	pr, pw := io.Pipe()
	f := newFixture(t, func() (io.ReadCloser, error) { return pr, nil }, Config{FlushInterval: 5 * time.Millisecond})
	task, _ := f.submit(t, "j", "explain channels")

	done := make(chan error, 1)
	go func() { done <- f.runner.Run(context.Background(), task) }()

	_, err := io.WriteString(pw, `{"message":{"content":"Hello"}}`+"\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		trs := f.host.Transcripts()
		return len(trs) == 1 && len(trs[0].Messages) == 1
	}, 2*time.Second, time.Millisecond)

	_, err = io.WriteString(pw, `{"message":{"content":" there"}}`+"\n")
	require.NoError(t, err)
	require.NoError(t, pw.Close())
	require.NoError(t, <-done)

	tr := f.onlyTranscript(t)
	require.Len(t, tr.Messages, 1)
	assert.Equal(t, "Hello there", tr.Messages[0].Text)
	assert.Equal(t, 1, tr.Messages[0].Edits)
}

func TestRunChannelCreateFailureIsFault(t *testing.T) {
	f := newFixture(t, streamOf(ndjson("x")), Config{})
	f.host.FailNext("CreateChannel", errors.New("missing permissions"))
	task, ack := f.submit(t, "k", "explain interfaces")

	err := f.runner.Run(context.Background(), task)
	require.Error(t, err)
	fault, ok := cberrors.AsFault(err)
	require.True(t, ok)
	assert.Equal(t, "k", fault.TaskID)
	assert.Zero(t, f.gen.calls.Load())
	assert.True(t, f.queue.IsEmpty())
	assert.Equal(t, 1, ack.Finalized())
	assert.Equal(t, []string{observability.OutcomeFault}, f.metrics.outcomes)
}

func TestRunAssignsChannelWhileProcessing(t *testing.T) {
	pr, pw := io.Pipe()
	f := newFixture(t, func() (io.ReadCloser, error) { return pr, nil }, Config{})
	task, _ := f.submit(t, "l", "explain defer")

	done := make(chan error, 1)
	go func() { done <- f.runner.Run(context.Background(), task) }()

	require.Eventually(t, func() bool {
		got, ok := f.queue.Get("l")
		return ok && got.Channel != nil
	}, 2*time.Second, time.Millisecond)

	require.NoError(t, pw.Close())
	require.NoError(t, <-done)
	assert.True(t, f.queue.IsEmpty())
}

func TestRunGracePeriodBeforeFinalFlush(t *testing.T) {
	f := newFixture(t, streamOf(ndjson("ok")), Config{GracePeriod: 250 * time.Millisecond})
	var slept time.Duration
	f.runner.sleep = func(d time.Duration) { slept += d }
	task, _ := f.submit(t, "m", "explain errors")

	require.NoError(t, f.runner.Run(context.Background(), task))
	assert.Equal(t, 250*time.Millisecond, slept)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, llm.DefaultModel, cfg.Model)
	assert.Equal(t, DefaultCourseName, cfg.CourseName)
	assert.Equal(t, 1800, cfg.SegmentBudget)
	assert.Equal(t, 1500*time.Millisecond, cfg.FlushInterval)
	assert.Equal(t, DefaultGracePeriod, cfg.GracePeriod)
	assert.Equal(t, DefaultIdleTimeout, cfg.IdleTimeout)
	assert.Equal(t, DefaultMaxStreamDuration, cfg.MaxStreamDuration)

	assert.Zero(t, Config{GracePeriod: -1}.withDefaults().GracePeriod)
}
