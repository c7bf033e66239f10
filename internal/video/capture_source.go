package video

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"gocv.io/x/gocv"

	"github.com/vzahanych/scene-sentry/internal/logger"
)

// grabber is the part of gocv.VideoCapture a CaptureSource drives.
type grabber interface {
	Read(m *gocv.Mat) bool
	Close() error
}

// CaptureSource reads frames through OpenCV: local devices, network
// streams and video files.
type CaptureSource struct {
	ref    Ref
	logger *logger.Logger
	probe  *RTSPProbe

	mu     sync.Mutex
	vc     grabber
	closed bool
	// reads in flight; Close leaves vc to the last one.
	reading int
}

func NewCaptureSource(ref Ref, log *logger.Logger) *CaptureSource {
	return &CaptureSource{ref: ref, logger: log}
}

// Open opens the device or stream. A failed attempt leaves the source
// ready for another Open.
func (s *CaptureSource) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSourceClosed
	}
	if s.vc != nil {
		return nil
	}

	if s.probe != nil {
		res, err := s.probe.Probe(ctx, s.ref.Raw)
		if err != nil {
			return fmt.Errorf("rtsp probe: %w", err)
		}
		s.logger.Debug("RTSP probe succeeded", "source", s.String(), "codecs", res.Codecs, "first_packet", res.FirstPacket)
	}

	var target interface{} = s.ref.Raw
	if s.ref.Kind == KindDevice {
		target = s.ref.Device
	}
	vc, err := gocv.OpenVideoCapture(target)
	if err != nil {
		return err
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return errors.New("capture did not open")
	}
	s.vc = vc
	return nil
}

// Read grabs the next frame. Live sources report a failed grab as a
// transient ReadError; files report it as the end of the stream.
func (s *CaptureSource) Read() (*Frame, error) {
	s.mu.Lock()
	vc := s.vc
	if s.closed || vc == nil {
		s.mu.Unlock()
		return nil, ErrSourceClosed
	}
	s.reading++
	s.mu.Unlock()

	mat := gocv.NewMat()
	ok := vc.Read(&mat)
	if s.endRead() {
		_ = mat.Close()
		return nil, ErrSourceClosed
	}
	if !ok || mat.Empty() {
		_ = mat.Close()
		if !s.ref.Live() {
			return nil, ErrEndOfStream
		}
		return nil, &ReadError{Source: s.String(), Err: errors.New("grab failed")}
	}

	frame := NewFrame(mat, s.String())
	if err := frame.Validate(); err != nil {
		frame.Close()
		return nil, &ReadError{Source: s.String(), Err: err}
	}
	return frame, nil
}

// endRead reports whether the source was closed during the read, and
// releases the device if this was the last read holding it.
func (s *CaptureSource) endRead() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reading--
	if !s.closed {
		return false
	}
	if s.reading == 0 && s.vc != nil {
		if err := s.vc.Close(); err != nil {
			s.logger.Warn("Failed to release capture", "source", s.String(), "error", err)
		}
		s.vc = nil
	}
	return true
}

// Close releases the capture device once. A grab still blocked in the
// device keeps it open until that grab returns.
func (s *CaptureSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.vc == nil || s.reading > 0 {
		return nil
	}
	err := s.vc.Close()
	s.vc = nil
	return err
}

// String names the source with any password redacted.
func (s *CaptureSource) String() string {
	if s.ref.Kind == KindDevice {
		return fmt.Sprintf("device:%d", s.ref.Device)
	}
	if u, err := url.Parse(s.ref.Raw); err == nil && u.User != nil {
		return u.Redacted()
	}
	return s.ref.Raw
}
