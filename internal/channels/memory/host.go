// Package memory is an in-process channel host. It keeps a transcript of
// every output channel, records each outbound call, and lets observers
// subscribe to a channel's live updates.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"coursebot/internal/channels"
)

// ErrUnknownMessage is returned by Edit for a message id the channel never sent.
var ErrUnknownMessage = errors.New("memory: unknown message")

// Call records a single outbound call made through the host.
type Call struct {
	Method    string // "CreateChannel", "Send", "Edit"
	ChannelID string
	MessageID string
	Text      string
}

// Message is the current state of one sent message.
type Message struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Edits int    `json:"edits"`
}

// Transcript is a snapshot of an output channel.
type Transcript struct {
	ChannelID string          `json:"channel_id"`
	Name      string          `json:"name"`
	Origin    channels.Origin `json:"origin"`
	CreatedAt time.Time       `json:"created_at"`
	Messages  []Message       `json:"messages"`
}

// Text returns the concatenated message contents.
func (t Transcript) Text() string {
	var out string
	for _, m := range t.Messages {
		out += m.Text
	}
	return out
}

// Event is a live update published to subscribers.
type Event struct {
	Kind      string `json:"kind"` // "send" or "edit"
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
	Text      string `json:"text"`
}

// Host implements channels.Host in memory. It is safe for concurrent use.
type Host struct {
	mu       sync.Mutex
	channels map[string]*Channel
	order    []string
	calls    []Call
	failures map[string]error
	subs     map[string]map[int]chan Event
	nextSub  int
	seq      int
	now      func() time.Time
}

var _ channels.Host = (*Host)(nil)

// NewHost creates an empty host.
func NewHost() *Host {
	return &Host{
		channels: make(map[string]*Channel),
		failures: make(map[string]error),
		subs:     make(map[string]map[int]chan Event),
		now:      time.Now,
	}
}

// FailNext makes the next call of method ("CreateChannel", "Send", "Edit")
// return err. The failure is recorded as a call and then cleared.
func (h *Host) FailNext(method string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures[method] = err
}

func (h *Host) popFailureLocked(method string) error {
	err := h.failures[method]
	delete(h.failures, method)
	return err
}

// CreateChannel opens a new output channel.
func (h *Host) CreateChannel(_ context.Context, origin channels.Origin, name string) (channels.Channel, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.popFailureLocked("CreateChannel"); err != nil {
		h.calls = append(h.calls, Call{Method: "CreateChannel", Text: name})
		return nil, err
	}
	h.seq++
	ch := &Channel{
		host:      h,
		id:        fmt.Sprintf("mem-channel-%d", h.seq),
		name:      name,
		origin:    origin,
		createdAt: h.now(),
	}
	h.channels[ch.id] = ch
	h.order = append(h.order, ch.id)
	h.calls = append(h.calls, Call{Method: "CreateChannel", ChannelID: ch.id, Text: name})
	return ch, nil
}

// Calls returns every recorded call in order.
func (h *Host) Calls() []Call {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Call, len(h.calls))
	copy(out, h.calls)
	return out
}

// CallsFor returns the calls recorded for one channel.
func (h *Host) CallsFor(channelID string) []Call {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Call
	for _, c := range h.calls {
		if c.ChannelID == channelID {
			out = append(out, c)
		}
	}
	return out
}

// Transcript returns a snapshot of a channel.
func (h *Host) Transcript(channelID string) (Transcript, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.channels[channelID]
	if !ok {
		return Transcript{}, false
	}
	return ch.transcriptLocked(), true
}

// Transcripts returns every channel in creation order.
func (h *Host) Transcripts() []Transcript {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Transcript, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.channels[id].transcriptLocked())
	}
	return out
}

// Subscribe returns a stream of updates for channelID and a function that
// cancels the subscription. Events are dropped when the buffer is full.
func (h *Host) Subscribe(channelID string, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, buffer)
	h.nextSub++
	key := h.nextSub
	if h.subs[channelID] == nil {
		h.subs[channelID] = make(map[int]chan Event)
	}
	h.subs[channelID][key] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[channelID], key)
			if len(h.subs[channelID]) == 0 {
				delete(h.subs, channelID)
			}
			close(ch)
		})
	}
}

func (h *Host) publishLocked(evt Event) {
	for _, sub := range h.subs[evt.ChannelID] {
		select {
		case sub <- evt:
		default:
		}
	}
}

// Channel is an in-memory output channel.
type Channel struct {
	host      *Host
	id        string
	name      string
	origin    channels.Origin
	createdAt time.Time
	messages  []Message
	msgSeq    int
}

var _ channels.Channel = (*Channel)(nil)

func (c *Channel) ID() string { return c.id }

// Name returns the channel name given at creation.
func (c *Channel) Name() string { return c.name }

func (c *Channel) Send(_ context.Context, text string) (string, error) {
	h := c.host
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.popFailureLocked("Send"); err != nil {
		h.calls = append(h.calls, Call{Method: "Send", ChannelID: c.id, Text: text})
		return "", err
	}
	c.msgSeq++
	msgID := fmt.Sprintf("%s-msg-%d", c.id, c.msgSeq)
	c.messages = append(c.messages, Message{ID: msgID, Text: text})
	h.calls = append(h.calls, Call{Method: "Send", ChannelID: c.id, MessageID: msgID, Text: text})
	h.publishLocked(Event{Kind: "send", ChannelID: c.id, MessageID: msgID, Text: text})
	return msgID, nil
}

func (c *Channel) Edit(_ context.Context, messageID, text string) error {
	h := c.host
	h.mu.Lock()
	defer h.mu.Unlock()

	h.calls = append(h.calls, Call{Method: "Edit", ChannelID: c.id, MessageID: messageID, Text: text})
	if err := h.popFailureLocked("Edit"); err != nil {
		return err
	}
	for i := range c.messages {
		if c.messages[i].ID == messageID {
			c.messages[i].Text = text
			c.messages[i].Edits++
			h.publishLocked(Event{Kind: "edit", ChannelID: c.id, MessageID: messageID, Text: text})
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownMessage, messageID)
}

func (c *Channel) transcriptLocked() Transcript {
	msgs := make([]Message, len(c.messages))
	copy(msgs, c.messages)
	return Transcript{
		ChannelID: c.id,
		Name:      c.name,
		Origin:    c.origin,
		CreatedAt: c.createdAt,
		Messages:  msgs,
	}
}
