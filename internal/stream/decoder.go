// Package stream turns a raw generation stream into bounded message segments
// and relays them to an output channel on a timer.
package stream

import (
	"bytes"
	"encoding/json"
	"errors"

	cberrors "coursebot/internal/errors"
	"coursebot/internal/logging"
)

type record struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

// Decoder line-buffers raw fragments and decodes each complete line as a
// chat record. Malformed lines are dropped.
type Decoder struct {
	buf     []byte
	dropped int
	done    bool
	logger  logging.Logger
}

// NewDecoder creates a decoder. logger may be nil.
func NewDecoder(logger logging.Logger) *Decoder {
	return &Decoder{logger: logging.OrNop(logger)}
}

// Feed appends fragment and emits the delta of every complete line. A record
// carrying an error field ends the stream with a StreamError.
func (d *Decoder) Feed(fragment []byte, emit func(delta string)) error {
	d.buf = append(d.buf, fragment...)
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			return nil
		}
		line := d.buf[:idx]
		d.buf = d.buf[idx+1:]
		if err := d.decodeLine(line, emit); err != nil {
			return err
		}
	}
}

// Finish decodes whatever remains after the last newline once the stream has ended.
func (d *Decoder) Finish(emit func(delta string)) error {
	line := d.buf
	d.buf = nil
	return d.decodeLine(line, emit)
}

// Dropped returns how many malformed lines were discarded.
func (d *Decoder) Dropped() int {
	return d.dropped
}

// Done reports whether a record marked the stream as complete.
func (d *Decoder) Done() bool {
	return d.done
}

func (d *Decoder) decodeLine(raw []byte, emit func(string)) error {
	line := bytes.TrimSpace(raw)
	if len(line) == 0 {
		return nil
	}

	var rec record
	if err := json.Unmarshal(line, &rec); err != nil {
		d.dropped++
		d.logger.Debug("%v", &cberrors.ParseError{Line: string(line), Err: err})
		return nil
	}
	if rec.Error != "" {
		return &cberrors.StreamError{Err: errors.New(rec.Error)}
	}
	if rec.Done {
		d.done = true
	}
	if rec.Message.Content != "" && emit != nil {
		emit(rec.Message.Content)
	}
	return nil
}
