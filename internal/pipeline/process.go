package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vzahanych/scene-sentry/internal/ai"
	"github.com/vzahanych/scene-sentry/internal/alert"
	"github.com/vzahanych/scene-sentry/internal/events"
	"github.com/vzahanych/scene-sentry/internal/scene"
	"github.com/vzahanych/scene-sentry/internal/video"
)

// runProcess pops and handles frames until runCtx is cancelled (a Stop)
// or streamCtx ends without it (capture finished; the remaining frames
// are handled first).
func (p *Pipeline) runProcess(runCtx, streamCtx context.Context) {
	window := time.Now()
	for {
		if runCtx.Err() != nil {
			return
		}

		frame, err := p.ch.Pop(streamCtx, p.cfg.PopTimeout)
		switch {
		case err == nil:
			if p.handleFrame(runCtx, frame, &window) {
				return
			}
			continue
		case errors.Is(err, video.ErrPopTimeout):
			continue
		case runCtx.Err() != nil:
			return
		}

		// Capture ended on its own: finish what it left behind.
		for runCtx.Err() == nil {
			frame, ok := p.ch.TryPop()
			if !ok {
				break
			}
			if p.handleFrame(runCtx, frame, &window) {
				return
			}
		}
		p.stopAsync(p.ExitReason())
		return
	}
}

// handleFrame runs one frame through night, motion, detector, policy and
// sink. Failures are reported as error records and never end the loop;
// only the stop-on-danger exit does, by returning true.
func (p *Pipeline) handleFrame(ctx context.Context, frame *video.Frame, window *time.Time) (stop bool) {
	defer frame.Close()
	defer func() {
		if r := recover(); r != nil {
			p.errCount.Add(1)
			p.LogError("Recovered from panic while processing frame", fmt.Errorf("%v", r), "seq", frame.Seq)
			p.emit(events.Error(fmt.Sprintf("frame %d: processing panicked: %v", frame.Seq, r), nil))
			stop = false
		}
	}()

	n := p.frames.Add(1)
	statusDue := n%uint64(p.cfg.StatusEvery) == 0

	sig, err := p.deps.Analyzer.Analyze(frame.Mat)
	if err != nil {
		p.frameError(frame, "scene analysis failed", err)
	}
	p.mu.Lock()
	p.lastSignal = sig
	p.mu.Unlock()

	var dets []ai.Detection
	res, err := p.deps.Detector.Detect(ctx, frame)
	if err != nil {
		p.frameError(frame, "detection failed", err)
	} else {
		dets = res.Detections
		for _, rej := range res.Rejected {
			p.frameError(frame, "detection skipped", rej)
		}
	}

	if len(dets) > 0 {
		p.emit(events.Info(fmt.Sprintf("detected %d objects: %s", len(dets), strings.Join(ai.Labels(dets), ", "))))
	} else if statusDue {
		p.emit(events.Info("no objects detected"))
	}

	decision := p.deps.Policy.Evaluate(dets, sig)
	if len(decision.Dangerous) > 0 {
		p.emit(events.Warning("potentially dangerous objects detected: " + strings.Join(ai.Labels(decision.Dangerous), ", ")))
	}
	if decision.NightMotion {
		p.emit(events.Warning("motion detected in night mode"))
	}
	if decision.ShouldPersist {
		p.persist(ctx, frame, decision, dets)
	}

	if p.cfg.StreamFrames && (len(dets) > 0 || statusDue) {
		p.emitFrame(frame, dets)
	}

	if p.cfg.StopOnDanger && len(decision.Dangerous) > 0 {
		p.setExitReason(ExitStopOnDanger)
		p.LogWarn("Dangerous object found, exiting", "labels", ai.Labels(decision.Dangerous), "seq", frame.Seq)
		p.emit(events.Warning("stopping on first dangerous detection: " + strings.Join(ai.Labels(decision.Dangerous), ", ")))
		p.deps.Exit(0)
		// Only reached when Exit returns, as it does in tests.
		p.stopAsync(ExitStopOnDanger)
		return true
	}

	if statusDue {
		p.emitStatus(n, sig, window)
	}
	return false
}

func (p *Pipeline) persist(ctx context.Context, frame *video.Frame, d alert.Decision, dets []ai.Detection) {
	p.alerts.Add(1)
	ev, err := p.deps.Sink.Persist(ctx, frame, d, dets)
	if err != nil {
		p.frameError(frame, "failed to save frame", err)
		if ev == nil {
			return
		}
	}
	rec := events.Record{
		Status:     events.StatusInfo,
		Frame:      frame.Seq,
		Detections: dets,
		Reasons:    d.ReasonStrings(),
		AlertID:    ev.ID,
		SavedPath:  ev.SavedPath,
	}
	if ev.SavedPath == "" {
		p.LogWarn("Alert raised without saved frame", "alert_id", ev.ID, "reasons", d.Tag())
		rec.Message = "alert " + ev.ID + " (frame not saved)"
	} else {
		p.LogInfo("Alert saved", "alert_id", ev.ID, "reasons", d.Tag(), "path", ev.SavedPath)
		rec.Message = "saved frame: " + ev.SavedPath
	}
	p.emit(rec)
}

func (p *Pipeline) emitFrame(frame *video.Frame, dets []ai.Detection) {
	img, err := frame.EncodeJPEG(p.cfg.JPEGQuality)
	if err != nil {
		p.frameError(frame, "failed to encode frame", &ai.EncodeError{Err: err})
		return
	}
	p.emit(events.FrameRecord(frame.Seq, img, dets))
}

func (p *Pipeline) emitStatus(n uint64, sig scene.Signal, window *time.Time) {
	elapsed := time.Since(*window)
	*window = time.Now()
	fps := 0.0
	if elapsed > 0 {
		fps = float64(p.cfg.StatusEvery) / elapsed.Seconds()
	}
	p.emit(events.Info(fmt.Sprintf("processed %d frames (%.1f fps), scene: %s, brightness %.1f",
		n, fps, sig.Condition(), sig.Brightness)))
}

func (p *Pipeline) frameError(frame *video.Frame, msg string, err error) {
	p.errCount.Add(1)
	p.LogDebug("Frame error", "seq", frame.Seq, "stage", msg, "error", err)
	p.emit(events.Error(fmt.Sprintf("frame %d: %s", frame.Seq, msg), err))
}
