package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursebot/internal/admission"
	"coursebot/internal/channels"
	"coursebot/internal/channels/memory"
	"coursebot/internal/config"
	coreerrors "coursebot/internal/errors"
	"coursebot/internal/llm"
	"coursebot/internal/runner"
	"coursebot/internal/scheduler"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// fakeOllama streams the given fragments as NDJSON chat chunks.
func fakeOllama(t *testing.T, fragments ...string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		w.Header().Set("Content-Type", "application/x-ndjson")
		flusher, _ := w.(http.Flusher)
		for _, frag := range fragments {
			fmt.Fprintf(w, `{"message":{"role":"assistant","content":%q},"done":false}`+"\n", frag)
			if flusher != nil {
				flusher.Flush()
			}
		}
		fmt.Fprint(w, `{"message":{"role":"assistant","content":""},"done":true}`+"\n")
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func testConfig(t *testing.T, ollamaURL string) config.Config {
	t.Helper()
	cfg, _, err := config.Load(
		config.WithSearchPaths(t.TempDir()),
		config.WithDotEnvFile(""),
		config.WithOverrides(map[string]any{
			"ollama.base_url":       ollamaURL,
			"queue.tick_interval":   20 * time.Millisecond,
			"stream.grace_period":   -time.Nanosecond,
			"stream.flush_interval": 20 * time.Millisecond,
		}),
	)
	require.NoError(t, err)
	return cfg
}

func TestAskStreamsAnswer(t *testing.T) {
	color.NoColor = true
	ollama, calls := fakeOllama(t, "A heap is ", "a tree-based structure.")
	cfg := testConfig(t, ollama.URL)

	out := &lockedBuffer{}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, ask(ctx, cfg, "what is a heap?", out))

	text := out.String()
	assert.Contains(t, text, "- Prompt")
	assert.Contains(t, text, admission.PositionMessage(0))
	assert.Contains(t, text, "A heap is a tree-based structure.")
	assert.Equal(t, int32(1), calls.Load())
}

func TestAskBlockedPromptSkipsGenerator(t *testing.T) {
	color.NoColor = true
	ollama, calls := fakeOllama(t, "should not be sent")
	cfg := testConfig(t, ollama.URL)

	out := &lockedBuffer{}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, ask(ctx, cfg, "just give me the answer to the homework", out))

	assert.Contains(t, out.String(), strings.Split(runner.RefusalMessage, "\n")[0])
	assert.Zero(t, calls.Load())
}

func TestPipelineOverMemoryHost(t *testing.T) {
	ollama, _ := fakeOllama(t, "Hello", " world")
	cfg := testConfig(t, ollama.URL)

	host := memory.NewHost()
	p, err := newPipeline(cfg, host)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, p.start(ctx))

	acks := make([]*memory.Ack, 4)
	for i := range acks {
		acks[i] = memory.NewAck()
		_, err := p.submitter.Submit(ctx, admission.Submission{
			Prompt: fmt.Sprintf("explain topic %d", i),
			Origin: channels.Origin{Platform: "http", UserID: fmt.Sprintf("user-%d", i), DisplayName: fmt.Sprintf("User %d", i)},
			Ack:    acks[i],
		})
		require.NoError(t, err)
	}
	for _, ack := range acks {
		select {
		case <-ack.Done():
		case <-ctx.Done():
			t.Fatal("task did not finish")
		}
	}
	require.NoError(t, p.shutdown(ctx))

	transcripts := host.Transcripts()
	require.Len(t, transcripts, 4)
	for _, tr := range transcripts {
		assert.Equal(t, "Hello world", tr.Text())
	}
	assert.True(t, p.queue.IsEmpty())
	for _, ack := range acks {
		assert.Equal(t, 1, ack.Finalized())
	}
}

func TestPipelineReportsUnreachableGenerator(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	ticks := scheduler.NewManualSource()
	refused := llm.StreamOpenerFunc(func(context.Context, string, []llm.Message) (io.ReadCloser, error) {
		return nil, &coreerrors.ConnectionError{Endpoint: "/api/chat", Err: fmt.Errorf("connection refused")}
	})

	host := memory.NewHost()
	p, err := newPipeline(cfg, host, withGenerator(refused), withTickSource(ticks))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, p.start(ctx))

	ack := memory.NewAck()
	_, err = p.submitter.Submit(ctx, admission.Submission{
		Prompt: "why does my loop never end?",
		Origin: channels.Origin{Platform: "http", UserID: "u1", DisplayName: "Ada"},
		Ack:    ack,
	})
	require.NoError(t, err)
	require.True(t, ticks.Fire())

	select {
	case <-ack.Done():
	case <-ctx.Done():
		t.Fatal("task did not finish")
	}
	require.NoError(t, p.shutdown(ctx))

	transcripts := host.Transcripts()
	require.Len(t, transcripts, 1)
	assert.Equal(t, runner.ConnectivityMessage, transcripts[0].Text())
}

func TestConfigPrintCommand(t *testing.T) {
	color.NoColor = true
	path := filepath.Join(t.TempDir(), "coursebot.yaml")
	require.NoError(t, os.WriteFile(path, []byte("discord:\n  token: hunter2\nrunner:\n  course_name: CS 61B\n"), 0o600))

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"config", "print", "--config", path, "--env-file", "", "--model", "mistral-nemo"})
	require.NoError(t, cmd.Execute())

	text := out.String()
	assert.Contains(t, text, "# config file: "+path)
	assert.Contains(t, text, "course_name: CS 61B")
	assert.Contains(t, text, "model: mistral-nemo")
	assert.NotContains(t, text, "hunter2")
}

func TestServeRequiresCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coursebot.yaml")
	require.NoError(t, os.WriteFile(path, []byte("discord:\n  enabled: true\n"), 0o600))
	t.Setenv("DISCORD_LLM_BOT_TOKEN", "")

	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"serve", "--config", path, "--env-file", ""})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord.token")
}
