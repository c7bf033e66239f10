package video

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/vzahanych/scene-sentry/internal/logger"
)

// CaptureConfig configures a CaptureLoop.
type CaptureConfig struct {
	// ReadBackoff is the pause after a failed read.
	ReadBackoff time.Duration
	// Paced makes the loop wait for a free slot before reading. Only
	// finite sources are paced; live sources always read and evict.
	Paced bool
	// OnReadError, if set, is told about every failed read.
	OnReadError func(err error)
}

// CaptureLoop moves frames from a Source into a Channel as fast as the
// source produces them. Pushing never blocks.
type CaptureLoop struct {
	src    Source
	out    *Channel[*Frame]
	cfg    CaptureConfig
	logger *logger.Logger

	captured   atomic.Uint64
	readErrors atomic.Uint64
}

func NewCaptureLoop(src Source, out *Channel[*Frame], cfg CaptureConfig, log *logger.Logger) *CaptureLoop {
	if cfg.ReadBackoff <= 0 {
		cfg.ReadBackoff = 100 * time.Millisecond
	}
	return &CaptureLoop{src: src, out: out, cfg: cfg, logger: log}
}

// Run loops until ctx is cancelled (returns nil) or the source ends
// (returns ErrEndOfStream).
func (c *CaptureLoop) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if c.cfg.Paced && !c.out.WaitNotFull(ctx, time.Second) {
			continue
		}

		frame, err := c.src.Read()
		if err == nil {
			frame.Seq = c.captured.Add(1)
			if c.out.Push(frame) {
				c.logger.Debug("Frame channel full, dropped oldest frame", "seq", frame.Seq)
			}
			continue
		}

		switch {
		case errors.Is(err, ErrEndOfStream):
			c.logger.Info("Source exhausted", "source", c.src.String(), "frames", c.captured.Load())
			return ErrEndOfStream
		case errors.Is(err, ErrSourceClosed):
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		c.readErrors.Add(1)
		if c.cfg.OnReadError != nil {
			c.cfg.OnReadError(err)
		}
		timer := time.NewTimer(c.cfg.ReadBackoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil
		}
	}
}

// Captured is the number of frames pushed so far.
func (c *CaptureLoop) Captured() uint64 { return c.captured.Load() }

// ReadErrors is the number of failed reads so far.
func (c *CaptureLoop) ReadErrors() uint64 { return c.readErrors.Load() }
