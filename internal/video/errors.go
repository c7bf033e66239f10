package video

import (
	"errors"
	"fmt"
)

var (
	// ErrEndOfStream is returned by finite sources once exhausted.
	ErrEndOfStream = errors.New("end of stream")
	// ErrMalformedFrame marks images that are empty or not 3-channel.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrPopTimeout is returned when no frame arrived within the pop timeout.
	ErrPopTimeout = errors.New("no frame within timeout")
	// ErrSourceClosed is returned by Read after Close.
	ErrSourceClosed = errors.New("source closed")
)

// OpenError means the source could not be opened after every attempt.
type OpenError struct {
	Source   string
	Attempts int
	Err      error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open %s: failed after %d attempts: %v", e.Source, e.Attempts, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// ReadError is a transient failure to produce one frame.
type ReadError struct {
	Source string
	Err    error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Source, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying a read for.
func IsTransient(err error) bool {
	var re *ReadError
	return errors.As(err, &re)
}
