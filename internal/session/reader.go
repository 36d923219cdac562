// internal/session/reader.go
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"lostwheel-gateway/internal/data"
)

// maxLineLength bounds a device record; longer input is a protocol error.
const maxLineLength = 256

// read is the reader goroutine. It exits when ctx is cancelled or on the
// first error, which moves the session to Failed.
func (s *Session) read(ctx context.Context, r *run) {
	defer close(r.done)

	lines := newLineScanner(r.conn)
	for {
		if ctx.Err() != nil {
			return
		}
		line, ok, err := lines.next()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.fail(r, s.readError(err))
			return
		}
		if !ok {
			continue
		}
		if err := s.handle(r, line); err != nil {
			s.fail(r, err)
			return
		}
	}
}

func (s *Session) readError(err error) error {
	var perr *data.ProtocolError
	if errors.As(err, &perr) {
		return fmt.Errorf("session %s: %w", s.id, err)
	}
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return &ConnectionError{Session: s.id, Locator: s.device.Locator, Op: "read", Err: err}
}

func (s *Session) handle(r *run, line []byte) error {
	deviceTS, count, err := data.ParseLine(line)
	if err != nil {
		return fmt.Errorf("session %s: %w", s.id, err)
	}
	sample := data.NewSample(s.opts.Now(), deviceTS, count)

	if r.sink != nil {
		if err := r.sink.Write(sample); err != nil {
			return &SinkError{Session: s.id, Path: r.sink.Path(), Op: "write", Err: err}
		}
		s.metrics.RowRecorded(s.id)
	}

	s.mu.Lock()
	s.raw.Append(sample)
	before := s.binned.Committed()
	s.binned.Append(sample)
	committed := s.binned.Committed() != before
	r.samples++
	if r.sink != nil {
		r.rows++
	}
	r.intervals.observe(sample.ProducerTimestamp)
	s.mu.Unlock()

	s.metrics.SampleRead(s.id)
	if committed {
		s.metrics.BinCommitted(s.id)
	}
	s.publish(sample)
	return nil
}

// lineScanner splits a device stream into newline-terminated records. Unlike
// bufio.Scanner it tolerates reads that return no data on timeout, so the
// caller can poll for cancellation between reads.
type lineScanner struct {
	src     io.Reader
	buf     []byte
	chunk   []byte
	readErr error
}

func newLineScanner(src io.Reader) *lineScanner {
	return &lineScanner{src: src, chunk: make([]byte, 128)}
}

// next returns the next complete line without its terminator. ok is false
// when a read returned without completing one; an empty line is still a line.
func (l *lineScanner) next() (line []byte, ok bool, err error) {
	for {
		if i := bytes.IndexByte(l.buf, '\n'); i >= 0 {
			if i > maxLineLength {
				return nil, false, tooLong(l.buf)
			}
			line = make([]byte, i)
			copy(line, l.buf[:i])
			l.buf = l.buf[i+1:]
			return line, true, nil
		}
		if len(l.buf) > maxLineLength {
			return nil, false, tooLong(l.buf)
		}
		if l.readErr != nil {
			return nil, false, l.readErr
		}

		n, err := l.src.Read(l.chunk)
		l.buf = append(l.buf, l.chunk[:n]...)
		if err != nil {
			l.readErr = err
			continue
		}
		if n == 0 {
			return nil, false, nil
		}
	}
}

func tooLong(buf []byte) error {
	return &data.ProtocolError{Line: string(buf[:maxLineLength]), Reason: "line too long"}
}
