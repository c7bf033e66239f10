// Package videotest provides synthetic frames and a scriptable Source
// for tests of code built on package video.
package videotest

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/vzahanych/scene-sentry/internal/video"
)

// ErrOpen is what FakeSource returns for scripted open failures.
var ErrOpen = errors.New("fake: device busy")

// SolidMat returns a rows x cols BGR image filled with one gray level.
func SolidMat(rows, cols int, level float64) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(level, level, level, 0), rows, cols, gocv.MatTypeCV8UC3)
}

// SolidFrame wraps SolidMat in a Frame.
func SolidFrame(rows, cols int, level float64) *video.Frame {
	return video.NewFrame(SolidMat(rows, cols, level), "test")
}

// SquareFrame is a dark frame with a bright filled square, useful to
// trigger motion against a plain dark frame.
func SquareFrame(rows, cols int, background float64, square image.Rectangle) *video.Frame {
	mat := SolidMat(rows, cols, background)
	_ = gocv.Rectangle(&mat, square, color.RGBA{R: 255, G: 255, B: 255, A: 0}, -1)
	return video.NewFrame(mat, "test")
}

// FakeSource is a Source driven by a script.
type FakeSource struct {
	// OpenFailures is how many Open calls fail before one succeeds.
	// Negative means every call fails.
	OpenFailures int
	// Next produces the n-th frame (starting at 0). Nil means the
	// source is empty and Read returns ErrEndOfStream.
	Next func(n int) (*video.Frame, error)
	// ReadDelay simulates the device frame interval.
	ReadDelay time.Duration

	mu     sync.Mutex
	opens  int
	reads  int
	closes int
	open   bool
	closed bool
}

func (s *FakeSource) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	if s.OpenFailures < 0 || s.opens <= s.OpenFailures {
		return ErrOpen
	}
	s.open = true
	return nil
}

func (s *FakeSource) Read() (*video.Frame, error) {
	if s.ReadDelay > 0 {
		time.Sleep(s.ReadDelay)
	}

	s.mu.Lock()
	n := s.reads
	s.reads++
	closed, open := s.closed, s.open
	s.mu.Unlock()

	if closed {
		return nil, video.ErrSourceClosed
	}
	if !open {
		return nil, errors.New("fake: read before open")
	}
	if s.Next == nil {
		return nil, video.ErrEndOfStream
	}
	return s.Next(n)
}

func (s *FakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	s.closed = true
	return nil
}

func (s *FakeSource) String() string { return "fake" }

func (s *FakeSource) Opens() int  { s.mu.Lock(); defer s.mu.Unlock(); return s.opens }
func (s *FakeSource) Reads() int  { s.mu.Lock(); defer s.mu.Unlock(); return s.reads }
func (s *FakeSource) Closes() int { s.mu.Lock(); defer s.mu.Unlock(); return s.closes }

// Frames returns a Next func yielding count solid frames, then the end
// of the stream.
func Frames(count, rows, cols int, level float64) func(int) (*video.Frame, error) {
	return func(n int) (*video.Frame, error) {
		if n >= count {
			return nil, video.ErrEndOfStream
		}
		return SolidFrame(rows, cols, level), nil
	}
}

// Endless returns a Next func that never runs out of frames.
func Endless(rows, cols int, level float64) func(int) (*video.Frame, error) {
	return func(int) (*video.Frame, error) {
		return SolidFrame(rows, cols, level), nil
	}
}
