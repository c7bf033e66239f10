package video

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/vzahanych/scene-sentry/internal/logger"
)

// stalledGrabber blocks in Read until release is closed.
type stalledGrabber struct {
	entered chan struct{}
	release chan struct{}
	closes  atomic.Int32
	// closedDuringRead is set when Close lands while Read is blocked.
	closedDuringRead atomic.Bool
	inRead           atomic.Bool
}

func newStalledGrabber() *stalledGrabber {
	return &stalledGrabber{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *stalledGrabber) Read(*gocv.Mat) bool {
	g.inRead.Store(true)
	close(g.entered)
	<-g.release
	g.inRead.Store(false)
	return false
}

func (g *stalledGrabber) Close() error {
	if g.inRead.Load() {
		g.closedDuringRead.Store(true)
	}
	g.closes.Add(1)
	return nil
}

func TestCaptureSource_CloseWaitsForStalledRead(t *testing.T) {
	g := newStalledGrabber()
	s := NewCaptureSource(ParseRef("rtsp://cam.local/stream"), logger.NewNopLogger())
	s.vc = g

	errc := make(chan error, 1)
	go func() {
		_, err := s.Read()
		errc <- err
	}()
	<-g.entered

	require.NoError(t, s.Close())
	assert.Zero(t, g.closes.Load(), "device stays open while a grab is blocked")

	close(g.release)
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrSourceClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("read did not return")
	}

	assert.EqualValues(t, 1, g.closes.Load())
	assert.False(t, g.closedDuringRead.Load())

	require.NoError(t, s.Close())
	assert.EqualValues(t, 1, g.closes.Load())
	_, err := s.Read()
	assert.ErrorIs(t, err, ErrSourceClosed)
}

func TestCaptureSource_CloseIdleReleasesDevice(t *testing.T) {
	g := newStalledGrabber()
	s := NewCaptureSource(ParseRef("clip.mp4"), logger.NewNopLogger())
	s.vc = g

	require.NoError(t, s.Close())
	assert.EqualValues(t, 1, g.closes.Load())
	assert.Nil(t, s.vc)
}
