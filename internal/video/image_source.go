package video

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// ImageSource yields a single still image, then ErrEndOfStream.
type ImageSource struct {
	path string

	mu     sync.Mutex
	frame  *Frame
	served bool
	closed bool
}

func NewImageSource(path string) *ImageSource {
	return &ImageSource{path: path}
}

func (s *ImageSource) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSourceClosed
	}
	if s.frame != nil || s.served {
		return nil
	}
	if _, err := os.Stat(s.path); err != nil {
		return err
	}
	mat := gocv.IMRead(s.path, gocv.IMReadColor)
	frame := NewFrame(mat, s.path)
	if err := frame.Validate(); err != nil {
		frame.Close()
		return fmt.Errorf("load %s: %w", s.path, err)
	}
	s.frame = frame
	return nil
}

func (s *ImageSource) Read() (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSourceClosed
	}
	if s.served || s.frame == nil {
		return nil, ErrEndOfStream
	}
	s.served = true
	f := s.frame
	s.frame = nil
	return f, nil
}

func (s *ImageSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.frame.Close()
	s.frame = nil
	return nil
}

func (s *ImageSource) String() string { return s.path }
