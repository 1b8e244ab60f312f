package errors

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
)

// Kind classifies an error per the four OpenSRF error categories: a
// transport failure recovered or propagated by the bus client, a protocol
// violation that should be logged and dropped, an application error
// surfaced as a STATUS >= 400, or a panic that forces the owning drone to
// exit after the current call completes.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransport
	KindProtocol
	KindApplication
	KindPanic
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindApplication:
		return "application"
	case KindPanic:
		return "panic"
	default:
		return "unknown"
	}
}

type kindError struct {
	kind Kind
	err  error
}

func (k *kindError) Error() string { return k.err.Error() }
func (k *kindError) Unwrap() error { return k.err }

// Mark annotates err with a Kind so that KindOf can recover it later without
// string-matching the error message. Returns nil if err is nil.
func Mark(err error, kind Kind) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// KindOf returns the Kind most recently attached with Mark, or KindUnknown
// if err (or anything it wraps) was never marked.
func KindOf(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindUnknown
}

// New creates a new error with file and line number information.
func New(format string, a ...interface{}) error {
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		file = "???"
		line = 0
	} else {
		file = filepath.Base(file)
	}
	return fmt.Errorf("[%s:%d] %s", file, line, fmt.Sprintf(format, a...))
}

// Wrapf adds context (including file and line number) to an existing error.
// If the provided error is nil, Wrapf returns nil.
func Wrapf(err error, format string, a ...interface{}) error {
	if err == nil {
		return nil
	}
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		file = "???"
		line = 0
	} else {
		file = filepath.Base(file)
	}
	return fmt.Errorf("[%s:%d] %s: %w", file, line, fmt.Sprintf(format, a...), err)
}
