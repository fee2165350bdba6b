package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"plain", base, KindUnknown},
		{"connection", &ConnectionError{Endpoint: "http://x", Err: base}, KindConnection},
		{"wrapped stream", fmt.Errorf("consume: %w", &StreamError{Err: base}), KindStream},
		{"parse", &ParseError{Line: "{", Err: base}, KindParse},
		{"fault over stream", Fault("t1", "flush", &StreamError{Err: base}), KindRunnerFault},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestFaultNilPassthrough(t *testing.T) {
	assert.NoError(t, Fault("t1", "create channel", nil))

	err := Fault("t1", "create channel", context.Canceled)
	fault, ok := AsFault(err)
	require.True(t, ok)
	assert.Equal(t, "t1", fault.TaskID)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "task t1: create channel: context canceled", err.Error())
}

func TestConnectionErrorMessage(t *testing.T) {
	err := &ConnectionError{Endpoint: "http://localhost:11434/api/chat", StatusCode: 502, Err: errors.New("bad gateway")}
	assert.Contains(t, err.Error(), "status 502")

	refused := &ConnectionError{Endpoint: "http://localhost:11434/api/chat", Err: syscall.ECONNREFUSED}
	assert.Contains(t, refused.Error(), "unreachable")
	assert.ErrorIs(t, refused, syscall.ECONNREFUSED)
}

func TestParseErrorTruncatesLine(t *testing.T) {
	line := make([]byte, 200)
	for i := range line {
		line[i] = 'x'
	}
	err := &ParseError{Line: string(line), Err: errors.New("unexpected end")}
	assert.Less(t, len(err.Error()), 150)
}

func TestIsNetworkError(t *testing.T) {
	assert.False(t, IsNetworkError(nil))
	assert.False(t, IsNetworkError(errors.New("invalid model")))
	assert.True(t, IsNetworkError(&net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}))
	assert.True(t, IsNetworkError(fmt.Errorf("post: %w", syscall.ECONNRESET)))
	assert.True(t, IsNetworkError(errors.New("dial tcp: lookup ollama: no such host")))
}
