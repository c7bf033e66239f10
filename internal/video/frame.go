package video

import (
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Frame is one decoded BGR image. Exactly one pipeline stage owns a
// frame at a time; the owner closes it when done.
type Frame struct {
	Mat        gocv.Mat
	Seq        uint64    // arrival order, assigned by the capture loop
	CapturedAt time.Time // when the source produced it
	Source     string

	closeOnce sync.Once
}

// NewFrame takes ownership of mat.
func NewFrame(mat gocv.Mat, source string) *Frame {
	return &Frame{Mat: mat, CapturedAt: time.Now(), Source: source}
}

func (f *Frame) Width() int  { return f.Mat.Cols() }
func (f *Frame) Height() int { return f.Mat.Rows() }

// Validate rejects frames the heuristics and classifier cannot handle:
// empty images and anything other than 3-channel BGR.
func (f *Frame) Validate() error {
	if f == nil || f.Mat.Empty() {
		return fmt.Errorf("%w: empty image", ErrMalformedFrame)
	}
	if ch := f.Mat.Channels(); ch != 3 {
		return fmt.Errorf("%w: %d channels, want 3", ErrMalformedFrame, ch)
	}
	if f.Mat.Rows() == 0 || f.Mat.Cols() == 0 {
		return fmt.Errorf("%w: zero size", ErrMalformedFrame)
	}
	return nil
}

// Close releases the native image. Safe to call more than once.
func (f *Frame) Close() {
	if f == nil {
		return
	}
	f.closeOnce.Do(func() { _ = f.Mat.Close() })
}

// EncodeJPEG returns the frame as JPEG bytes.
func (f *Frame) EncodeJPEG(quality int) ([]byte, error) {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, f.Mat, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, err
	}
	defer buf.Close()

	src := buf.GetBytes()
	out := make([]byte, len(src))
	copy(out, src)
	return out, nil
}

// CloseFrame is the eviction callback for frame channels.
func CloseFrame(f *Frame) { f.Close() }
