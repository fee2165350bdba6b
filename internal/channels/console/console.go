// Package console renders output channels to a terminal. Edits that extend
// a message print only the new suffix, so a streamed answer reads naturally.
package console

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"coursebot/internal/channels"

	"github.com/fatih/color"
)

// Platform tags origins of prompts typed on the terminal.
const Platform = "console"

var (
	cyan = color.New(color.FgCyan).SprintFunc()
	gray = color.New(color.FgHiBlack).SprintFunc()
	bold = color.New(color.Bold).SprintFunc()
)

// Host writes every channel to a shared writer.
type Host struct {
	mu  sync.Mutex
	out io.Writer
	seq int
}

var _ channels.Host = (*Host)(nil)

// NewHost creates a console host writing to out.
func NewHost(out io.Writer) *Host {
	return &Host{out: out}
}

func (h *Host) CreateChannel(_ context.Context, _ channels.Origin, name string) (channels.Channel, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	ch := &Channel{host: h, id: fmt.Sprintf("console-%d", h.seq), sent: make(map[string]string)}
	fmt.Fprintf(h.out, "%s\n", bold(cyan("# "+name)))
	return ch, nil
}

// Channel prints messages as they arrive.
type Channel struct {
	host *Host
	id   string
	seq  int
	sent map[string]string
	last string
}

func (c *Channel) ID() string { return c.id }

func (c *Channel) Send(_ context.Context, text string) (string, error) {
	h := c.host
	h.mu.Lock()
	defer h.mu.Unlock()
	c.seq++
	msgID := fmt.Sprintf("%s-%d", c.id, c.seq)
	if c.seq > 1 {
		fmt.Fprintln(h.out)
	}
	fmt.Fprint(h.out, text)
	c.sent[msgID] = text
	c.last = msgID
	return msgID, nil
}

func (c *Channel) Edit(_ context.Context, messageID, text string) error {
	h := c.host
	h.mu.Lock()
	defer h.mu.Unlock()
	prev, ok := c.sent[messageID]
	if !ok {
		return fmt.Errorf("console: unknown message %s", messageID)
	}
	c.sent[messageID] = text
	if messageID == c.last && strings.HasPrefix(text, prev) {
		fmt.Fprint(h.out, text[len(prev):])
		return nil
	}
	fmt.Fprintf(h.out, "\n%s\n%s", gray("(edited)"), text)
	return nil
}

// Ack prints status updates through its host and signals when the task ends.
type Ack struct {
	host *Host
	once sync.Once
	done chan struct{}
}

var _ channels.Acknowledger = (*Ack)(nil)

// NewAck creates an acknowledger that shares the host's writer and lock, so
// its lines never interleave with channel output.
func (h *Host) NewAck() *Ack {
	return &Ack{host: h, done: make(chan struct{})}
}

func (a *Ack) Update(_ context.Context, text string) error {
	h := a.host
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprintln(h.out, gray(text))
	return err
}

func (a *Ack) Finalize(context.Context) error {
	a.once.Do(func() {
		h := a.host
		h.mu.Lock()
		fmt.Fprintln(h.out)
		h.mu.Unlock()
		close(a.done)
	})
	return nil
}

// Done is closed once the task has finished.
func (a *Ack) Done() <-chan struct{} {
	return a.done
}
