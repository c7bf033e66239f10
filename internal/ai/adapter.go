package ai

import (
	"context"
	"time"

	"github.com/vzahanych/scene-sentry/internal/logger"
	"github.com/vzahanych/scene-sentry/internal/video"
)

// Backend is the external classifier: JPEG in, raw boxes out.
type Backend interface {
	Infer(ctx context.Context, jpeg []byte) (*InferenceResponse, error)
}

// AdapterConfig configures an Adapter.
type AdapterConfig struct {
	// ClassNames resolves class indices for classifiers that omit names.
	ClassNames []string
	Filter     Filter
	// Annotate draws detections onto the frame in place.
	Annotate    bool
	JPEGQuality int
}

// Result is the outcome of classifying one frame.
type Result struct {
	Detections []Detection
	// Rejected holds per-detection problems: unresolvable classes,
	// bad confidences, failed drawing. None of them fail the frame.
	Rejected      []error
	InferenceTime time.Duration
}

// Adapter turns the classifier's raw output into validated detections.
type Adapter struct {
	backend Backend
	cfg     AdapterConfig
	logger  *logger.Logger
}

func NewAdapter(backend Backend, cfg AdapterConfig, log *logger.Logger) *Adapter {
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 95
	}
	return &Adapter{backend: backend, cfg: cfg, logger: log}
}

// Detect classifies frame. It fails only when the frame cannot be
// encoded (*EncodeError) or the classifier call fails (*DetectionError
// with Index -1).
func (a *Adapter) Detect(ctx context.Context, frame *video.Frame) (*Result, error) {
	img, err := frame.EncodeJPEG(a.cfg.JPEGQuality)
	if err != nil {
		return nil, &EncodeError{Err: err}
	}

	start := time.Now()
	resp, err := a.backend.Infer(ctx, img)
	if err != nil {
		return nil, &DetectionError{Index: -1, Err: err}
	}

	res := &Result{InferenceTime: time.Since(start)}
	res.Detections, res.Rejected = Normalize(resp.BoundingBoxes, a.cfg.ClassNames, frame.Width(), frame.Height(), a.cfg.Filter)
	for _, rej := range res.Rejected {
		a.logger.Debug("Detection rejected", "seq", frame.Seq, "error", rej)
	}

	if a.cfg.Annotate && len(res.Detections) > 0 {
		res.Rejected = append(res.Rejected, Annotate(&frame.Mat, res.Detections)...)
	}
	return res, nil
}
