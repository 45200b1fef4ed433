package pipeline

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/cloudwego/eino/schema"
)

// Stream is a pull-based answer stream. Next returns fragments in order and
// io.EOF once the answer is complete. Close may be called at any point, also
// from another goroutine while Next is blocked; it cancels the upstream
// request and is safe to call more than once. Next itself is used by one
// goroutine at a time.
type Stream struct {
	ctx     context.Context
	cancel  context.CancelFunc
	sr      *schema.StreamReader[*schema.Message]
	sources []Document
	onDone  func(full string)

	// mu guards everything below.
	mu      sync.Mutex
	buf     strings.Builder
	done    bool
	err     error
	reading bool
	closed  bool
	// released is set once the reader is closed and the hooks have run.
	released bool
	onClose  []func()
}

func newStream(ctx context.Context, cancel context.CancelFunc, sr *schema.StreamReader[*schema.Message], sources []Document, onDone func(string)) *Stream {
	return &Stream{ctx: ctx, cancel: cancel, sr: sr, sources: sources, onDone: onDone}
}

// Next returns the next non-empty fragment, io.EOF at the end, or a
// *Error when the upstream fails or the stream was closed early.
func (s *Stream) Next() (string, error) {
	s.mu.Lock()
	switch {
	case s.done:
		s.mu.Unlock()
		return "", io.EOF
	case s.err != nil:
		err := s.err
		s.mu.Unlock()
		return "", err
	case s.closed:
		s.err = &Error{Kind: KindCanceled, Err: context.Canceled}
		s.mu.Unlock()
		return "", s.err
	}
	s.reading = true
	s.mu.Unlock()

	frag, err := s.recv()

	s.mu.Lock()
	s.reading = false
	switch {
	case s.closed:
		s.err = &Error{Kind: KindCanceled, Err: context.Canceled}
		frag, err = "", s.err
	case errors.Is(err, io.EOF):
		s.done = true
	case err != nil:
		s.err = upstream(s.ctx, err)
		err = s.err
	default:
		s.buf.WriteString(frag)
	}
	full := s.buf.String()
	s.mu.Unlock()

	if errors.Is(err, io.EOF) {
		s.onDone(full)
	}
	if err != nil {
		s.Close()
	}
	return frag, err
}

// recv returns the next non-empty fragment from the upstream reader.
func (s *Stream) recv() (string, error) {
	for {
		msg, err := s.sr.Recv()
		if err != nil {
			return "", err
		}
		if msg != nil && msg.Content != "" {
			return msg.Content, nil
		}
	}
}

// Sources returns the chunks the answer is grounded on.
func (s *Stream) Sources() []Document { return s.sources }

// Text returns everything received so far.
func (s *Stream) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// Completed reports whether the stream was read to io.EOF.
func (s *Stream) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// AfterClose registers f to run once when the stream is closed, whether by
// Close, completion or failure. Hooks never run while Next is in progress.
func (s *Stream) AfterClose(f func()) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		f()
		return
	}
	s.onClose = append(s.onClose, f)
	s.mu.Unlock()
}

// Close cancels the upstream request. The reader is released and the hooks
// run here, or when a concurrent Next returns.
func (s *Stream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.release()
	return nil
}

// release closes the reader and runs the hooks once the stream is closed and
// no Next is in flight.
func (s *Stream) release() {
	s.mu.Lock()
	if !s.closed || s.reading || s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	hooks := s.onClose
	s.onClose = nil
	s.mu.Unlock()

	s.sr.Close()
	for _, f := range hooks {
		f()
	}
}

// Collect reads s to the end and closes it, returning the full answer.
func Collect(s *Stream) (string, error) {
	defer s.Close()
	for {
		_, err := s.Next()
		if errors.Is(err, io.EOF) {
			return s.Text(), nil
		}
		if err != nil {
			return s.Text(), err
		}
	}
}
