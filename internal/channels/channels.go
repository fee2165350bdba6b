// Package channels defines the host messaging contracts the task pipeline
// writes to. Concrete hosts live in subpackages (discord, memory, console).
package channels

import "context"

// Origin identifies where a request came from on the host platform.
type Origin struct {
	Platform    string `json:"platform"`   // "discord", "http", "console"
	ChannelID   string `json:"channel_id"` // parent channel the output channel is created under
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// Host creates per-task output channels.
type Host interface {
	CreateChannel(ctx context.Context, origin Origin, name string) (Channel, error)
}

// Channel is a per-task destination for the streamed answer.
type Channel interface {
	ID() string
	// Send posts a new message and returns its handle.
	Send(ctx context.Context, text string) (messageID string, err error)
	// Edit replaces the content of a previously sent message.
	Edit(ctx context.Context, messageID, text string) error
}

// Acknowledger resolves the private acknowledgment given to the requester
// when the request was accepted.
type Acknowledger interface {
	// Update replaces the acknowledgment text (e.g. to show the queue position).
	Update(ctx context.Context, text string) error
	// Finalize resolves the acknowledgment once the task has ended.
	Finalize(ctx context.Context) error
}

type nopAck struct{}

func (nopAck) Update(context.Context, string) error { return nil }
func (nopAck) Finalize(context.Context) error       { return nil }

// NopAck returns an Acknowledger that does nothing.
func NopAck() Acknowledger {
	return nopAck{}
}

// ThreadName is the output channel name used for a submitter.
func ThreadName(displayName string) string {
	if displayName == "" {
		displayName = "anonymous"
	}
	return "[" + displayName + "] - Prompt"
}
