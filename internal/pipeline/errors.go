package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies pipeline failures for the UI boundary.
type Kind string

const (
	// KindNotLoaded means no collection index is loaded.
	KindNotLoaded Kind = "not_loaded"
	// KindUpstream means retrieval, embedding or the LLM call failed.
	KindUpstream Kind = "upstream"
	// KindInvalidInput means the question was empty.
	KindInvalidInput Kind = "invalid_input"
	// KindCanceled means the caller gave up before the answer completed.
	KindCanceled Kind = "canceled"
)

var (
	// ErrNotLoaded is returned when asking before a collection is loaded.
	ErrNotLoaded = errors.New("collection not loaded")
	// ErrUpstream wraps failures of the embedding or LLM services.
	ErrUpstream = errors.New("upstream service error")
	// ErrEmptyQuestion is returned for blank questions.
	ErrEmptyQuestion = errors.New("question is empty")
)

// Error is the error type returned by Ask, AskStream and Stream.Next.
// errors.Is matches both the kind's sentinel and the underlying cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		if s := e.sentinel(); s != nil {
			return "pipeline: " + s.Error()
		}
		return "pipeline: " + string(e.Kind)
	}
	return fmt.Sprintf("pipeline: %s: %v", e.Kind, e.Err)
}

func (e *Error) sentinel() error {
	switch e.Kind {
	case KindNotLoaded:
		return ErrNotLoaded
	case KindUpstream:
		return ErrUpstream
	case KindInvalidInput:
		return ErrEmptyQuestion
	}
	return nil
}

// Unwrap exposes the kind sentinel and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if s := e.sentinel(); s != nil {
		out = append(out, s)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// KindOf returns the Kind of err, or "" when err is nil or not a pipeline
// error.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// upstream classifies err as an upstream failure, or as cancellation when the
// context ended.
func upstream(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindCanceled, Err: err}
	}
	return &Error{Kind: KindUpstream, Err: err}
}
