package errors

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// Kind classifies failures crossing the task pipeline.
type Kind int

const (
	// KindUnknown is any error outside the taxonomy.
	KindUnknown Kind = iota
	// KindConnection means the generation service was unreachable when the stream was opened.
	KindConnection
	// KindStream means an open stream failed while being consumed.
	KindStream
	// KindParse means a single stream record could not be decoded.
	KindParse
	// KindRunnerFault is an unexpected failure inside a task runner.
	KindRunnerFault
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindStream:
		return "stream"
	case KindParse:
		return "parse"
	case KindRunnerFault:
		return "runner_fault"
	default:
		return "unknown"
	}
}

// ConnectionError reports that the generation service could not be reached
// at stream-open time.
type ConnectionError struct {
	Endpoint   string
	StatusCode int // non-zero when the service answered with a failure status
	Err        error
}

func (e *ConnectionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("generation service %s returned status %d: %v", e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("generation service %s unreachable: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// StreamError reports a failure while consuming an already open stream.
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream failed: %v", e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// ParseError reports a single malformed stream record. It never aborts a stream.
type ParseError struct {
	Line string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed stream record %q: %v", truncate(e.Line, 80), e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// RunnerFault wraps an unexpected failure inside a task runner. It is the only
// error class that reaches the scheduler.
type RunnerFault struct {
	TaskID string
	Op     string
	Err    error
}

func (e *RunnerFault) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("task %s: %v", e.TaskID, e.Err)
	}
	return fmt.Sprintf("task %s: %s: %v", e.TaskID, e.Op, e.Err)
}

func (e *RunnerFault) Unwrap() error {
	return e.Err
}

// Fault wraps err as a RunnerFault for taskID. A nil err yields nil.
func Fault(taskID, op string, err error) error {
	if err == nil {
		return nil
	}
	return &RunnerFault{TaskID: taskID, Op: op, Err: err}
}

// IsConnection reports whether err is a ConnectionError.
func IsConnection(err error) bool {
	var target *ConnectionError
	return errors.As(err, &target)
}

// IsStream reports whether err is a StreamError.
func IsStream(err error) bool {
	var target *StreamError
	return errors.As(err, &target)
}

// IsParse reports whether err is a ParseError.
func IsParse(err error) bool {
	var target *ParseError
	return errors.As(err, &target)
}

// AsFault extracts a RunnerFault from err.
func AsFault(err error) (*RunnerFault, bool) {
	var target *RunnerFault
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// KindOf classifies err. Faults win over the errors they wrap.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case isFault(err):
		return KindRunnerFault
	case IsConnection(err):
		return KindConnection
	case IsStream(err):
		return KindStream
	case IsParse(err):
		return KindParse
	default:
		return KindUnknown
	}
}

func isFault(err error) bool {
	_, ok := AsFault(err)
	return ok
}

// IsNetworkError reports whether err looks like a transport-level failure
// (refused, reset, DNS, timeout).
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	networkPatterns := []string{
		"connection refused",
		"connection reset",
		"no such host",
		"broken pipe",
		"i/o timeout",
	}
	for _, pattern := range networkPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
