// Package llm talks to the text-generation service.
package llm

import (
	"context"
	"io"
)

// Role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the chat history sent to the generation service.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// StreamOpener opens a streaming chat completion. The returned reader yields
// raw newline-delimited JSON fragments; the caller must close it.
//
// Open-time failures are returned as *errors.ConnectionError. Failures while
// reading surface from the reader.
type StreamOpener interface {
	OpenStream(ctx context.Context, model string, messages []Message) (io.ReadCloser, error)
}

// StreamOpenerFunc adapts a function to StreamOpener.
type StreamOpenerFunc func(ctx context.Context, model string, messages []Message) (io.ReadCloser, error)

// OpenStream calls f.
func (f StreamOpenerFunc) OpenStream(ctx context.Context, model string, messages []Message) (io.ReadCloser, error) {
	return f(ctx, model, messages)
}
