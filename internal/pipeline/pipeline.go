// Package pipeline runs the capture and processing loops for one source
// and owns their lifecycle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/vzahanych/scene-sentry/internal/ai"
	"github.com/vzahanych/scene-sentry/internal/alert"
	"github.com/vzahanych/scene-sentry/internal/events"
	"github.com/vzahanych/scene-sentry/internal/logger"
	"github.com/vzahanych/scene-sentry/internal/scene"
	"github.com/vzahanych/scene-sentry/internal/service"
	"github.com/vzahanych/scene-sentry/internal/state"
	"github.com/vzahanych/scene-sentry/internal/video"
)

// ErrNotIdle is returned by Start on a pipeline that already started.
var ErrNotIdle = errors.New("pipeline already started")

// ErrStopped is returned by Start when Stop won the race with it.
var ErrStopped = errors.New("pipeline stopped before it started")

// Detector classifies one frame.
type Detector interface {
	Detect(ctx context.Context, frame *video.Frame) (*ai.Result, error)
}

// Heuristics computes the scene signal for one frame.
type Heuristics interface {
	Analyze(frame gocv.Mat) (scene.Signal, error)
	Close()
}

// Persister stores frames the policy flagged.
type Persister interface {
	Persist(ctx context.Context, frame *video.Frame, d alert.Decision, dets []ai.Detection) (*alert.Event, error)
}

// RunLedger records pipeline runs.
type RunLedger interface {
	StartRun(ctx context.Context, run state.RunRecord) error
	FinishRun(ctx context.Context, id string, frames, alerts uint64, reason string) error
}

// Config tunes the loops.
type Config struct {
	Open        video.OpenPolicy
	ReadBackoff time.Duration
	// Paced makes capture wait for room instead of evicting; used for
	// finite sources.
	Paced        bool
	PopTimeout   time.Duration
	StatusEvery  int
	StreamFrames bool
	JPEGQuality  int
	StopOnDanger bool
	// DrainTimeout bounds how long Stop waits for a blocked read before
	// closing the source underneath it.
	DrainTimeout time.Duration
}

// Deps are the collaborators a Pipeline drives. Runs and Exit are
// optional.
type Deps struct {
	Source   video.Source
	Detector Detector
	Analyzer Heuristics
	Policy   *alert.Policy
	Sink     Persister
	Emitter  *events.Emitter
	Runs     RunLedger
	RunID    string
	// Exit ends the process on the first dangerous detection when
	// StopOnDanger is set. Defaults to os.Exit.
	Exit func(code int)
}

// Pipeline moves frames from a source through the heuristics, the
// detector and the danger policy. Two goroutines run while it is
// Running: capture pushes into a two-slot drop-oldest channel, processing
// pops from it.
type Pipeline struct {
	*service.ServiceBase

	cfg  Config
	deps Deps

	ch      *video.Channel[*video.Frame]
	capture *video.CaptureLoop

	started  atomic.Bool
	state    atomic.Int32
	frames   atomic.Uint64
	alerts   atomic.Uint64
	errCount atomic.Uint64

	mu         sync.Mutex
	startedAt  time.Time
	cancel     context.CancelFunc
	exitReason string
	lastSignal scene.Signal

	captureDone chan struct{}
	processDone chan struct{}
	done        chan struct{}
	doneOnce    sync.Once
	stopOnce    sync.Once
}

// New builds an idle pipeline.
func New(cfg Config, deps Deps, log *logger.Logger) *Pipeline {
	if cfg.Open.Attempts <= 0 {
		cfg.Open = video.DefaultOpenPolicy
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = time.Second
	}
	if cfg.StatusEvery <= 0 {
		cfg.StatusEvery = 30
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 95
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 5 * time.Second
	}
	if deps.Exit == nil {
		deps.Exit = os.Exit
	}

	p := &Pipeline{
		ServiceBase: service.NewServiceBase("pipeline", log),
		cfg:         cfg,
		deps:        deps,
		ch:          video.NewFrameChannel(),
		captureDone: make(chan struct{}),
		processDone: make(chan struct{}),
		done:        make(chan struct{}),
	}
	p.capture = video.NewCaptureLoop(deps.Source, p.ch, video.CaptureConfig{
		ReadBackoff: cfg.ReadBackoff,
		Paced:       cfg.Paced,
		OnReadError: func(err error) {
			p.errCount.Add(1)
			p.emit(events.Error("failed to read frame", err))
		},
	}, p.Logger())
	return p
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State { return State(p.state.Load()) }

// Done is closed once the pipeline reaches Stopped, whether through
// Stop, the end of a finite source, or a failed Start.
func (p *Pipeline) Done() <-chan struct{} { return p.done }

// ExitReason says why the pipeline stopped; empty while it runs.
func (p *Pipeline) ExitReason() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitReason
}

// Start opens the source, retrying per the open policy, and launches the
// loops. If the source never opens Start returns the *video.OpenError,
// the pipeline moves straight to Stopped and no goroutine is started.
func (p *Pipeline) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrNotIdle
	}
	p.Status().Set(service.StatusStarting)
	p.mu.Lock()
	p.startedAt = time.Now()
	p.mu.Unlock()
	src := p.deps.Source
	p.recordRunStart(ctx)

	policy := p.cfg.Open
	policy.OnFailure = func(attempt int, err error) {
		p.LogWarn("Failed to open source", "source", src.String(), "attempt", attempt, "of", p.cfg.Open.Attempts, "error", err)
		p.emit(events.Warning(fmt.Sprintf("failed to open %s (attempt %d/%d): %v", src.String(), attempt, p.cfg.Open.Attempts, err)))
	}
	if err := video.OpenWithRetry(ctx, src, policy); err != nil {
		p.emit(events.Error("failed to open source", err))
		p.LogError("Source did not open", err, "source", src.String())
		p.abortStart(ExitOpenFailed)
		p.Status().Fail(err)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	if !p.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		// Stop arrived while the source was opening.
		cancel()
		p.abortStart(ExitStopped)
		return ErrStopped
	}

	// streamCtx additionally ends when capture stops, waking a blocked pop.
	streamCtx, endStream := context.WithCancel(runCtx)
	go func() {
		defer close(p.captureDone)
		defer endStream()
		p.runCapture(runCtx)
	}()
	go func() {
		defer close(p.processDone)
		p.runProcess(runCtx, streamCtx)
	}()

	p.Status().Set(service.StatusRunning)
	p.LogInfo("Pipeline started", "source", src.String(), "run_id", p.deps.RunID)
	p.emit(events.Info(fmt.Sprintf("started processing %s", src.String())))
	return nil
}

// abortStart releases what Start acquired when no loop was launched.
func (p *Pipeline) abortStart(reason string) {
	_ = p.deps.Source.Close()
	p.deps.Analyzer.Close()
	p.setExitReason(reason)
	p.recordRunFinish()
	p.state.Store(int32(StateStopped))
	p.closeDone()
}

func (p *Pipeline) runCapture(ctx context.Context) {
	err := p.capture.Run(ctx)
	switch {
	case err == nil:
	case errors.Is(err, video.ErrEndOfStream):
		p.setExitReason(ExitEndOfStream)
		p.emit(events.Info(fmt.Sprintf("end of stream after %d frames", p.capture.Captured())))
	default:
		p.setExitReason(ExitCaptureError)
		p.emit(events.Error("capture stopped", err))
	}
}

// Stop drains and stops the pipeline, waiting until it is Stopped or ctx
// ends. Calling Stop again, or on a pipeline that never started, is a
// no-op.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() {
		go p.shutdown(ExitStopped)
	})
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stopAsync is used by the loops themselves, which cannot wait on their
// own exit.
func (p *Pipeline) stopAsync(reason string) {
	p.stopOnce.Do(func() {
		go p.shutdown(reason)
	})
}

func (p *Pipeline) shutdown(reason string) {
	switch {
	case p.state.CompareAndSwap(int32(StateIdle), int32(StateStopped)):
		// Never started, or Start is still opening the source and will
		// clean up after itself.
		if p.started.CompareAndSwap(false, true) {
			p.deps.Analyzer.Close()
			p.closeDone()
		}
		p.Status().Set(service.StatusStopped)
		return
	case !p.state.CompareAndSwap(int32(StateRunning), int32(StateDraining)):
		// Stopped by a failed Start.
		return
	}

	p.setExitReason(reason)
	p.Status().Set(service.StatusStopping)
	p.LogInfo("Pipeline draining", "reason", p.ExitReason())

	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	cancel()

	<-p.processDone
	select {
	case <-p.captureDone:
	case <-time.After(p.cfg.DrainTimeout):
		p.LogWarn("Capture did not return, closing source under it", "timeout", p.cfg.DrainTimeout)
		_ = p.deps.Source.Close()
		<-p.captureDone
	}

	dropped := p.ch.Drain()
	if err := p.deps.Source.Close(); err != nil {
		p.LogWarn("Failed to close source", "error", err)
	}
	p.deps.Analyzer.Close()
	p.recordRunFinish()

	stats := p.Stats()
	p.state.Store(int32(StateStopped))
	p.Status().Set(service.StatusStopped)
	p.LogInfo("Pipeline stopped",
		"reason", stats.ExitReason,
		"frames", stats.Frames,
		"alerts", stats.Alerts,
		"dropped", stats.Dropped,
		"discarded", dropped,
	)
	p.emit(events.Info(fmt.Sprintf("stopped (%s): %d frames processed, %d alerts", stats.ExitReason, stats.Frames, stats.Alerts)))
	p.closeDone()
}

func (p *Pipeline) closeDone() {
	p.doneOnce.Do(func() { close(p.done) })
}

// setExitReason keeps the first reason given.
func (p *Pipeline) setExitReason(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exitReason == "" {
		p.exitReason = reason
	}
}

func (p *Pipeline) emit(rec events.Record) {
	if p.deps.Emitter != nil {
		p.deps.Emitter.Emit(rec)
	}
}

func (p *Pipeline) recordRunStart(ctx context.Context) {
	if p.deps.Runs == nil || p.deps.RunID == "" {
		return
	}
	p.mu.Lock()
	run := state.RunRecord{ID: p.deps.RunID, Source: p.deps.Source.String(), StartedAt: p.startedAt}
	p.mu.Unlock()
	if err := p.deps.Runs.StartRun(ctx, run); err != nil {
		p.LogWarn("Failed to record run start", "run_id", p.deps.RunID, "error", err)
	}
}

func (p *Pipeline) recordRunFinish() {
	if p.deps.Runs == nil || p.deps.RunID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.deps.Runs.FinishRun(ctx, p.deps.RunID, p.frames.Load(), p.alerts.Load(), p.ExitReason()); err != nil {
		p.LogWarn("Failed to record run finish", "run_id", p.deps.RunID, "error", err)
	}
}
