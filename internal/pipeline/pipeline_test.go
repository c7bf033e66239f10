package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/vzahanych/scene-sentry/internal/ai"
	"github.com/vzahanych/scene-sentry/internal/alert"
	"github.com/vzahanych/scene-sentry/internal/events"
	"github.com/vzahanych/scene-sentry/internal/logger"
	"github.com/vzahanych/scene-sentry/internal/scene"
	"github.com/vzahanych/scene-sentry/internal/state"
	"github.com/vzahanych/scene-sentry/internal/video"
	"github.com/vzahanych/scene-sentry/internal/video/videotest"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) records(t *testing.T) []events.Record {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []events.Record
	sc := bufio.NewScanner(bytes.NewReader(b.buf.Bytes()))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<24)
	for sc.Scan() {
		var rec events.Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		out = append(out, rec)
	}
	return out
}

type fakeDetector struct {
	calls atomic.Int64
	fn    func(seq uint64) ([]ai.Detection, error)
}

func (d *fakeDetector) Detect(_ context.Context, frame *video.Frame) (*ai.Result, error) {
	d.calls.Add(1)
	if d.fn == nil {
		return &ai.Result{}, nil
	}
	dets, err := d.fn(frame.Seq)
	if err != nil {
		return nil, &ai.DetectionError{Index: -1, Err: err}
	}
	return &ai.Result{Detections: dets}, nil
}

type fakeAnalyzer struct {
	sig    scene.Signal
	closes atomic.Int64
}

func (a *fakeAnalyzer) Analyze(gocv.Mat) (scene.Signal, error) { return a.sig, nil }
func (a *fakeAnalyzer) Close()                                 { a.closes.Add(1) }

type fakeSink struct {
	mu        sync.Mutex
	decisions []alert.Decision
	seqs      []uint64
	err       error
}

func (s *fakeSink) Persist(_ context.Context, frame *video.Frame, d alert.Decision, dets []ai.Detection) (*alert.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, d)
	s.seqs = append(s.seqs, frame.Seq)
	if s.err != nil {
		return &alert.Event{ID: "alert-1", FrameSeq: frame.Seq, Reasons: d.Reasons}, s.err
	}
	return &alert.Event{ID: "alert-1", FrameSeq: frame.Seq, Reasons: d.Reasons, SavedPath: "/tmp/" + alert.Filename(d, time.Now())}, nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.decisions)
}

type fakeRuns struct {
	mu       sync.Mutex
	started  []state.RunRecord
	finished []string
	frames   uint64
}

func (r *fakeRuns) StartRun(_ context.Context, run state.RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, run)
	return nil
}

func (r *fakeRuns) FinishRun(_ context.Context, _ string, frames, _ uint64, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, reason)
	r.frames = frames
	return nil
}

type harness struct {
	p        *Pipeline
	src      *videotest.FakeSource
	detector *fakeDetector
	analyzer *fakeAnalyzer
	sink     *fakeSink
	runs     *fakeRuns
	out      *syncBuffer
	exits    atomic.Int64
}

func newHarness(t *testing.T, src *videotest.FakeSource, cfg Config, mutate func(*Deps)) *harness {
	t.Helper()
	h := &harness{
		src:      src,
		detector: &fakeDetector{},
		analyzer: &fakeAnalyzer{},
		sink:     &fakeSink{},
		runs:     &fakeRuns{},
		out:      &syncBuffer{},
	}
	if cfg.Open.Attempts == 0 {
		cfg.Open = video.OpenPolicy{Attempts: 3, Interval: 10 * time.Millisecond}
	}
	if cfg.PopTimeout == 0 {
		cfg.PopTimeout = 50 * time.Millisecond
	}
	deps := Deps{
		Source:   src,
		Detector: h.detector,
		Analyzer: h.analyzer,
		Policy:   alert.NewPolicy(alert.PolicyConfig{DangerousLabels: []string{"gun", "knife"}, NightMotion: true}),
		Sink:     h.sink,
		Emitter:  events.NewEmitter(h.out, logger.NewNopLogger()),
		Runs:     h.runs,
		RunID:    "run-test",
		Exit:     func(int) { h.exits.Add(1) },
	}
	if mutate != nil {
		mutate(&deps)
	}
	h.p = New(cfg, deps, logger.NewNopLogger())
	return h
}

func waitDone(t *testing.T, p *Pipeline) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("pipeline did not stop, state %s", p.State())
	}
}

func messages(recs []events.Record, status events.Status) []string {
	var out []string
	for _, r := range recs {
		if r.Status == status {
			out = append(out, r.Message)
		}
	}
	return out
}

func TestPipeline_OpenFailureStartsNothing(t *testing.T) {
	h := newHarness(t, &videotest.FakeSource{OpenFailures: -1, Next: videotest.Endless(8, 8, 10)}, Config{}, nil)

	err := h.p.Start(context.Background())

	var openErr *video.OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, 3, openErr.Attempts)
	assert.ErrorIs(t, err, videotest.ErrOpen)

	assert.Equal(t, 3, h.src.Opens())
	assert.Zero(t, h.src.Reads())
	assert.Equal(t, StateStopped, h.p.State())
	assert.Equal(t, ExitOpenFailed, h.p.ExitReason())
	waitDone(t, h.p)
	assert.EqualValues(t, 1, h.analyzer.closes.Load())

	errs := messages(h.out.records(t), events.StatusError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "failed to open source")
	assert.Len(t, messages(h.out.records(t), events.StatusWarning), 3, "one warning per failed attempt")

	assert.NoError(t, h.p.Stop(context.Background()))
	assert.Equal(t, []string{ExitOpenFailed}, h.runs.finished)
}

func TestPipeline_OpenRetrySucceeds(t *testing.T) {
	h := newHarness(t, &videotest.FakeSource{OpenFailures: 2, Next: videotest.Frames(3, 8, 8, 10)}, Config{Paced: true}, nil)

	require.NoError(t, h.p.Start(context.Background()))
	waitDone(t, h.p)
	assert.Equal(t, 3, h.src.Opens())
	assert.Equal(t, uint64(3), h.p.Stats().Frames)
}

func TestPipeline_EndOfStream(t *testing.T) {
	h := newHarness(t, &videotest.FakeSource{Next: videotest.Frames(12, 8, 8, 10)}, Config{Paced: true}, nil)

	require.NoError(t, h.p.Start(context.Background()))
	waitDone(t, h.p)

	stats := h.p.Stats()
	assert.Equal(t, StateStopped, stats.State)
	assert.Equal(t, uint64(12), stats.Frames, "paced capture hands over every frame")
	assert.Zero(t, stats.Dropped)
	assert.Equal(t, ExitEndOfStream, stats.ExitReason)
	assert.Equal(t, 1, h.src.Closes())
	assert.EqualValues(t, 12, h.detector.calls.Load())

	require.Len(t, h.runs.started, 1)
	assert.Equal(t, "run-test", h.runs.started[0].ID)
	assert.Equal(t, []string{ExitEndOfStream}, h.runs.finished)
	assert.Equal(t, uint64(12), h.runs.frames)
}

func TestPipeline_StopIsIdempotent(t *testing.T) {
	h := newHarness(t, &videotest.FakeSource{Next: videotest.Endless(8, 8, 10), ReadDelay: 2 * time.Millisecond}, Config{}, nil)

	require.NoError(t, h.p.Start(context.Background()))
	assert.Eventually(t, func() bool { return h.p.Stats().Frames > 3 }, 5*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.p.Stop(ctx))
	require.NoError(t, h.p.Stop(ctx))

	assert.Equal(t, StateStopped, h.p.State())
	assert.Equal(t, ExitStopped, h.p.ExitReason())
	assert.Equal(t, 1, h.src.Closes())
	assert.EqualValues(t, 1, h.analyzer.closes.Load())
	assert.Zero(t, h.p.Stats().Buffered)
	assert.ErrorIs(t, h.p.Start(context.Background()), ErrNotIdle)
}

func TestPipeline_StopBeforeStart(t *testing.T) {
	h := newHarness(t, &videotest.FakeSource{Next: videotest.Endless(8, 8, 10)}, Config{}, nil)

	require.NoError(t, h.p.Stop(context.Background()))
	waitDone(t, h.p)
	assert.Equal(t, StateStopped, h.p.State())
	assert.ErrorIs(t, h.p.Start(context.Background()), ErrNotIdle)
	assert.Zero(t, h.src.Opens())
}

func TestPipeline_DangerousObjectRaisesAlert(t *testing.T) {
	h := newHarness(t, &videotest.FakeSource{Next: videotest.Frames(5, 8, 8, 10)}, Config{Paced: true}, nil)
	h.detector.fn = func(seq uint64) ([]ai.Detection, error) {
		if seq == 3 {
			return []ai.Detection{{Label: "person", Confidence: 0.8}, {Label: "gun", Confidence: 0.9}}, nil
		}
		return nil, nil
	}

	require.NoError(t, h.p.Start(context.Background()))
	waitDone(t, h.p)

	require.Equal(t, 1, h.sink.count())
	assert.Equal(t, []alert.Reason{alert.ReasonDangerousObjects}, h.sink.decisions[0].Reasons)
	assert.Equal(t, []uint64{3}, h.sink.seqs)
	assert.Equal(t, uint64(1), h.p.Stats().Alerts)

	recs := h.out.records(t)
	assert.Contains(t, messages(recs, events.StatusWarning), "potentially dangerous objects detected: gun")
	assert.Contains(t, messages(recs, events.StatusInfo), "detected 2 objects: person, gun")

	var saved *events.Record
	for i := range recs {
		if recs[i].AlertID != "" {
			saved = &recs[i]
		}
	}
	require.NotNil(t, saved)
	assert.Equal(t, []string{"dangerous_objects"}, saved.Reasons)
	assert.True(t, strings.HasPrefix(saved.Message, "saved frame: "))
	assert.Zero(t, h.exits.Load())
}

func TestPipeline_PersistFailureStillReportsAlert(t *testing.T) {
	h := newHarness(t, &videotest.FakeSource{Next: videotest.Frames(3, 8, 8, 10)}, Config{Paced: true}, nil)
	h.sink.err = &alert.PersistError{Path: "/results/detection_dangerous_objects.jpg", Err: alert.ErrDiskFull}
	h.detector.fn = func(seq uint64) ([]ai.Detection, error) {
		if seq == 2 {
			return []ai.Detection{{Label: "gun", Confidence: 0.9}}, nil
		}
		return nil, nil
	}

	require.NoError(t, h.p.Start(context.Background()))
	waitDone(t, h.p)

	require.Equal(t, 1, h.sink.count())
	assert.Equal(t, uint64(1), h.p.Stats().Alerts)

	recs := h.out.records(t)
	errs := messages(recs, events.StatusError)
	require.Len(t, errs, 1)
	assert.True(t, strings.HasPrefix(errs[0], "frame 2: failed to save frame: persist "), errs[0])
	assert.Contains(t, errs[0], alert.ErrDiskFull.Error())

	var alerted *events.Record
	for i := range recs {
		if recs[i].AlertID != "" {
			alerted = &recs[i]
		}
	}
	require.NotNil(t, alerted)
	assert.Equal(t, "alert-1", alerted.AlertID)
	assert.Empty(t, alerted.SavedPath)
	assert.Equal(t, []string{"dangerous_objects"}, alerted.Reasons)
	require.Len(t, alerted.Detections, 1)
	assert.Equal(t, "gun", alerted.Detections[0].Label)
	assert.Equal(t, uint64(2), alerted.Frame)
	assert.Equal(t, "alert alert-1 (frame not saved)", alerted.Message)
}

func TestPipeline_NightMotion(t *testing.T) {
	h := newHarness(t, &videotest.FakeSource{Next: videotest.Frames(2, 8, 8, 10)}, Config{Paced: true}, nil)
	h.analyzer.sig = scene.Signal{MotionDetected: true, IsNight: true, Brightness: 12}

	require.NoError(t, h.p.Start(context.Background()))
	waitDone(t, h.p)

	require.Equal(t, 2, h.sink.count())
	assert.Equal(t, []alert.Reason{alert.ReasonNightMotion}, h.sink.decisions[0].Reasons)
	assert.Contains(t, messages(h.out.records(t), events.StatusWarning), "motion detected in night mode")
}

func TestPipeline_StopOnDanger(t *testing.T) {
	h := newHarness(t, &videotest.FakeSource{Next: videotest.Frames(50, 8, 8, 10)}, Config{Paced: true, StopOnDanger: true}, nil)
	h.detector.fn = func(seq uint64) ([]ai.Detection, error) {
		if seq >= 4 {
			return []ai.Detection{{Label: "knife", Confidence: 0.7}}, nil
		}
		return nil, nil
	}

	require.NoError(t, h.p.Start(context.Background()))
	waitDone(t, h.p)

	assert.EqualValues(t, 1, h.exits.Load())
	assert.Equal(t, 1, h.sink.count(), "persists exactly once")
	assert.Equal(t, ExitStopOnDanger, h.p.ExitReason())
	assert.EqualValues(t, 4, h.detector.calls.Load(), "no frame is classified after the exit")

	warnings := messages(h.out.records(t), events.StatusWarning)
	assert.Contains(t, warnings, "stopping on first dangerous detection: knife")
}

func TestPipeline_StatusCadence(t *testing.T) {
	h := newHarness(t, &videotest.FakeSource{Next: videotest.Frames(25, 8, 8, 10)}, Config{Paced: true, StatusEvery: 10}, nil)

	require.NoError(t, h.p.Start(context.Background()))
	waitDone(t, h.p)

	var status []string
	for _, m := range messages(h.out.records(t), events.StatusInfo) {
		if strings.HasPrefix(m, "processed ") {
			status = append(status, m)
		}
	}
	require.Len(t, status, 2)
	assert.True(t, strings.HasPrefix(status[0], "processed 10 frames"))
	assert.True(t, strings.HasPrefix(status[1], "processed 20 frames"))
	assert.Contains(t, status[0], "scene: day")
}

func TestPipeline_DetectorErrorsAreRecovered(t *testing.T) {
	h := newHarness(t, &videotest.FakeSource{Next: videotest.Frames(6, 8, 8, 10)}, Config{Paced: true}, nil)
	h.detector.fn = func(seq uint64) ([]ai.Detection, error) {
		switch seq {
		case 2:
			return nil, errors.New("classifier unavailable")
		case 4:
			panic("native crash")
		}
		return nil, nil
	}

	require.NoError(t, h.p.Start(context.Background()))
	waitDone(t, h.p)

	stats := h.p.Stats()
	assert.Equal(t, uint64(6), stats.Frames)
	assert.Equal(t, uint64(2), stats.Errors)

	errs := messages(h.out.records(t), events.StatusError)
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "frame 2: detection failed")
	assert.Contains(t, errs[1], "panicked")
}

func TestPipeline_StreamFrames(t *testing.T) {
	h := newHarness(t, &videotest.FakeSource{Next: videotest.Frames(4, 8, 8, 10)}, Config{Paced: true, StreamFrames: true, StatusEvery: 4}, nil)
	h.detector.fn = func(seq uint64) ([]ai.Detection, error) {
		if seq == 2 {
			return []ai.Detection{{Label: "person", Confidence: 0.5}}, nil
		}
		return nil, nil
	}

	require.NoError(t, h.p.Start(context.Background()))
	waitDone(t, h.p)

	var frames []events.Record
	for _, r := range h.out.records(t) {
		if r.Status == events.StatusFrame {
			frames = append(frames, r)
		}
	}
	require.Len(t, frames, 2, "one with detections, one on the status interval")
	assert.Equal(t, uint64(2), frames[0].Frame)
	assert.NotEmpty(t, frames[0].Image)
	assert.Equal(t, uint64(4), frames[1].Frame)
}

func TestPipeline_ReadErrorsAreReported(t *testing.T) {
	src := &videotest.FakeSource{Next: func(n int) (*video.Frame, error) {
		if n < 2 {
			return nil, &video.ReadError{Source: "fake", Err: errors.New("grab failed")}
		}
		return videotest.Frames(3, 8, 8, 10)(n - 2)
	}}
	h := newHarness(t, src, Config{Paced: true, ReadBackoff: time.Millisecond}, nil)

	require.NoError(t, h.p.Start(context.Background()))
	waitDone(t, h.p)

	stats := h.p.Stats()
	assert.Equal(t, uint64(3), stats.Frames)
	assert.Equal(t, uint64(2), stats.ReadErrors)
	assert.Len(t, messages(h.out.records(t), events.StatusError), 2)
}
