package scene

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// MotionConfig tunes MotionDetector.
type MotionConfig struct {
	MinArea          float64 // smallest changed region that counts as motion
	DiffThreshold    float32 // per-pixel difference that counts as changed
	BlurSize         int     // Gaussian kernel size, odd
	DilateIterations int
}

// DefaultMotionConfig matches the detector's historical tuning.
var DefaultMotionConfig = MotionConfig{MinArea: 500, DiffThreshold: 25, BlurSize: 21, DilateIterations: 2}

// MotionDetector compares each frame against the previous one. It keeps
// exactly one prior frame, blurred and grayscale. Not safe for
// concurrent use; the processing goroutine owns it.
type MotionDetector struct {
	cfg    MotionConfig
	prior  gocv.Mat
	kernel gocv.Mat

	gray   gocv.Mat
	delta  gocv.Mat
	thresh gocv.Mat
}

func NewMotionDetector(cfg MotionConfig) *MotionDetector {
	if cfg.BlurSize <= 0 || cfg.BlurSize%2 == 0 {
		cfg.BlurSize = DefaultMotionConfig.BlurSize
	}
	if cfg.DiffThreshold <= 0 {
		cfg.DiffThreshold = DefaultMotionConfig.DiffThreshold
	}
	if cfg.DilateIterations < 0 {
		cfg.DilateIterations = 0
	}
	return &MotionDetector{
		cfg:    cfg,
		prior:  gocv.NewMat(),
		kernel: gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3)),
		gray:   gocv.NewMat(),
		delta:  gocv.NewMat(),
		thresh: gocv.NewMat(),
	}
}

// Detect reports whether frame differs from the previous frame by a
// region of at least MinArea pixels. The first call only primes the
// detector and returns false. The prior is replaced on every call that
// gets past preprocessing.
func (m *MotionDetector) Detect(frame gocv.Mat) (bool, error) {
	if err := m.preprocess(frame, &m.gray); err != nil {
		return false, err
	}

	if m.prior.Empty() || m.prior.Rows() != m.gray.Rows() || m.prior.Cols() != m.gray.Cols() {
		m.gray.CopyTo(&m.prior)
		return false, nil
	}

	defer m.gray.CopyTo(&m.prior)

	if err := gocv.AbsDiff(m.prior, m.gray, &m.delta); err != nil {
		return false, fmt.Errorf("absdiff: %w", err)
	}
	gocv.Threshold(m.delta, &m.thresh, m.cfg.DiffThreshold, 255, gocv.ThresholdBinary)
	for i := 0; i < m.cfg.DilateIterations; i++ {
		if err := gocv.Dilate(m.thresh, &m.thresh, m.kernel); err != nil {
			return false, fmt.Errorf("dilate: %w", err)
		}
	}

	contours := gocv.FindContours(m.thresh, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()
	for i := 0; i < contours.Size(); i++ {
		if gocv.ContourArea(contours.At(i)) >= m.cfg.MinArea {
			return true, nil
		}
	}
	return false, nil
}

// preprocess converts frame to blurred grayscale into dst.
func (m *MotionDetector) preprocess(frame gocv.Mat, dst *gocv.Mat) error {
	if frame.Empty() {
		return fmt.Errorf("empty frame")
	}
	if err := gocv.CvtColor(frame, dst, gocv.ColorBGRToGray); err != nil {
		return fmt.Errorf("grayscale: %w", err)
	}
	size := image.Pt(m.cfg.BlurSize, m.cfg.BlurSize)
	if err := gocv.GaussianBlur(*dst, dst, size, 0, 0, gocv.BorderDefault); err != nil {
		return fmt.Errorf("blur: %w", err)
	}
	return nil
}

// HasPrior reports whether a frame has been seen since creation or Reset.
func (m *MotionDetector) HasPrior() bool { return !m.prior.Empty() }

// Prior returns a copy of the retained frame. The caller closes it.
func (m *MotionDetector) Prior() gocv.Mat { return m.prior.Clone() }

// Reset forgets the prior frame.
func (m *MotionDetector) Reset() {
	_ = m.prior.Close()
	m.prior = gocv.NewMat()
}

// Close releases native memory.
func (m *MotionDetector) Close() {
	_ = m.prior.Close()
	_ = m.kernel.Close()
	_ = m.gray.Close()
	_ = m.delta.Close()
	_ = m.thresh.Close()
}
