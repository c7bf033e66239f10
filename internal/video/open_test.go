package video_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/scene-sentry/internal/video"
	"github.com/vzahanych/scene-sentry/internal/video/videotest"
)

func TestOpenWithRetry_SucceedsAfterFailures(t *testing.T) {
	src := &videotest.FakeSource{OpenFailures: 2}
	var failures []int

	err := video.OpenWithRetry(context.Background(), src, video.OpenPolicy{
		Attempts:  3,
		Interval:  time.Millisecond,
		OnFailure: func(attempt int, err error) { failures = append(failures, attempt) },
	})
	require.NoError(t, err)
	assert.Equal(t, 3, src.Opens())
	assert.Equal(t, []int{1, 2}, failures)
}

func TestOpenWithRetry_GivesUpAfterThreeAttempts(t *testing.T) {
	src := &videotest.FakeSource{OpenFailures: -1}

	start := time.Now()
	err := video.OpenWithRetry(context.Background(), src, video.OpenPolicy{Attempts: 3, Interval: 20 * time.Millisecond})

	var openErr *video.OpenError
	require.True(t, errors.As(err, &openErr))
	assert.Equal(t, 3, openErr.Attempts)
	assert.ErrorIs(t, err, videotest.ErrOpen)
	assert.Equal(t, 3, src.Opens())
	assert.Equal(t, 0, src.Reads())
	// Two waits between three attempts.
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestOpenWithRetry_Cancelled(t *testing.T) {
	src := &videotest.FakeSource{OpenFailures: -1}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := video.OpenWithRetry(ctx, src, video.OpenPolicy{Attempts: 3, Interval: time.Hour})
	var openErr *video.OpenError
	require.True(t, errors.As(err, &openErr))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, src.Opens())
}
