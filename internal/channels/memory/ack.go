package memory

import (
	"context"
	"sync"

	"coursebot/internal/channels"
)

// Ack records acknowledgment updates and finalization.
type Ack struct {
	mu        sync.Mutex
	updates   []string
	finalized int
	done      chan struct{}
}

var _ channels.Acknowledger = (*Ack)(nil)

// NewAck creates a recording acknowledger.
func NewAck() *Ack {
	return &Ack{done: make(chan struct{})}
}

func (a *Ack) Update(_ context.Context, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.updates = append(a.updates, text)
	return nil
}

func (a *Ack) Finalize(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.finalized++
	if a.finalized == 1 {
		close(a.done)
	}
	return nil
}

// Updates returns the texts passed to Update.
func (a *Ack) Updates() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.updates...)
}

// Finalized returns how many times Finalize was called.
func (a *Ack) Finalized() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.finalized
}

// Done is closed on the first Finalize.
func (a *Ack) Done() <-chan struct{} {
	return a.done
}
