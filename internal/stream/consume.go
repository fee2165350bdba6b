package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	cberrors "coursebot/internal/errors"
)

// ErrIdleTimeout is wrapped in a StreamError when the upstream stream
// produced no bytes for longer than the idle timeout.
var ErrIdleTimeout = errors.New("stream idle timeout")

const readBufferSize = 32 * 1024

type chunk struct {
	data []byte
	err  error
}

// Consume reads raw fragments from r until EOF, decoding deltas into agg.
// It returns nil on a clean end of stream and a *errors.StreamError on a
// read failure, an error record, an idle timeout, or ctx cancellation.
// idleTimeout <= 0 disables the idle watchdog. The caller closes r.
func Consume(ctx context.Context, r io.Reader, dec *Decoder, agg *Aggregator, idleTimeout time.Duration) error {
	stop := make(chan struct{})
	defer close(stop)

	chunks := make(chan chunk)
	go func() {
		buf := make([]byte, readBufferSize)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				data := append([]byte(nil), buf[:n]...)
				select {
				case chunks <- chunk{data: data}:
				case <-stop:
					return
				}
			}
			if err != nil {
				select {
				case chunks <- chunk{err: err}:
				case <-stop:
				}
				return
			}
		}
	}()

	var idle <-chan time.Time
	var timer *time.Timer
	if idleTimeout > 0 {
		timer = time.NewTimer(idleTimeout)
		defer timer.Stop()
		idle = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return &cberrors.StreamError{Err: ctx.Err()}
		case <-idle:
			return &cberrors.StreamError{Err: fmt.Errorf("%w after %s", ErrIdleTimeout, idleTimeout)}
		case c := <-chunks:
			if c.err != nil {
				if errors.Is(c.err, io.EOF) {
					return dec.Finish(agg.Append)
				}
				return &cberrors.StreamError{Err: c.err}
			}
			if err := dec.Feed(c.data, agg.Append); err != nil {
				return err
			}
			if timer != nil {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(idleTimeout)
			}
		}
	}
}
