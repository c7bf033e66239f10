package video_test

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/scene-sentry/internal/logger"
	"github.com/vzahanych/scene-sentry/internal/video"
	"github.com/vzahanych/scene-sentry/internal/video/videotest"
)

func jpegLine(t *testing.T, rows, cols int) string {
	t.Helper()
	f := videotest.SolidFrame(rows, cols, 128)
	defer f.Close()
	data, err := f.EncodeJPEG(90)
	require.NoError(t, err)
	return fmt.Sprintf(`{"image":"%s"}`, base64.StdEncoding.EncodeToString(data))
}

func TestPipeSource_DecodesFramesAndSkipsEmpty(t *testing.T) {
	input := strings.Join([]string{
		jpegLine(t, 24, 32),
		"",
		`{"status":"ping"}`,
		jpegLine(t, 48, 64),
	}, "\n")

	src := video.NewPipeSource(strings.NewReader(input), logger.NewNopLogger())
	require.NoError(t, src.Open(context.Background()))
	defer src.Close()

	f1, err := src.Read()
	require.NoError(t, err)
	assert.Equal(t, 32, f1.Width())
	assert.Equal(t, 24, f1.Height())
	f1.Close()

	f2, err := src.Read()
	require.NoError(t, err)
	assert.Equal(t, 64, f2.Width())
	assert.Equal(t, 3, f2.Mat.Channels())
	f2.Close()

	_, err = src.Read()
	assert.ErrorIs(t, err, video.ErrEndOfStream)
	assert.Equal(t, 2, src.Skipped())
}

func TestPipeSource_BadPayloadIsTransient(t *testing.T) {
	input := `{"image":"not base64!!"}` + "\n" + `{oops` + "\n" + jpegLine(t, 8, 8)

	src := video.NewPipeSource(strings.NewReader(input), logger.NewNopLogger())
	require.NoError(t, src.Open(context.Background()))

	_, err := src.Read()
	assert.True(t, video.IsTransient(err))
	_, err = src.Read()
	assert.True(t, video.IsTransient(err))

	f, err := src.Read()
	require.NoError(t, err)
	f.Close()
}

func TestPipeSource_CloseUnblocksRead(t *testing.T) {
	src := video.NewPipeSource(blockingReader{}, logger.NewNopLogger())
	require.NoError(t, src.Open(context.Background()))

	done := make(chan error, 1)
	go func() {
		_, err := src.Read()
		done <- err
	}()
	require.NoError(t, src.Close())
	assert.True(t, errors.Is(<-done, video.ErrSourceClosed))
	assert.ErrorIs(t, src.Open(context.Background()), video.ErrSourceClosed)
}

func TestPipeSource_NoInput(t *testing.T) {
	src := video.NewPipeSource(nil, logger.NewNopLogger())
	assert.Error(t, src.Open(context.Background()))
}

type blockingReader struct{}

func (blockingReader) Read(p []byte) (int, error) { select {} }
