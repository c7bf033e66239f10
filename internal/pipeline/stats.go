package pipeline

import (
	"time"

	"github.com/vzahanych/scene-sentry/internal/scene"
)

// Stats is a point-in-time view of a pipeline, shaped for the status API.
type Stats struct {
	State      State        `json:"state"`
	Source     string       `json:"source"`
	RunID      string       `json:"run_id,omitempty"`
	StartedAt  time.Time    `json:"started_at,omitempty"`
	Frames     uint64       `json:"frames_processed"`
	Captured   uint64       `json:"frames_captured"`
	Dropped    uint64       `json:"frames_dropped"`
	ReadErrors uint64       `json:"read_errors"`
	Alerts     uint64       `json:"alerts"`
	Errors     uint64       `json:"errors"`
	Buffered   int          `json:"buffered"`
	LastSignal scene.Signal `json:"last_signal"`
	ExitReason string       `json:"exit_reason,omitempty"`
}

// Stats may be called from any goroutine.
func (p *Pipeline) Stats() Stats {
	_, dropped := p.ch.Stats()
	p.mu.Lock()
	sig, reason, started := p.lastSignal, p.exitReason, p.startedAt
	p.mu.Unlock()

	return Stats{
		State:      p.State(),
		Source:     p.deps.Source.String(),
		RunID:      p.deps.RunID,
		StartedAt:  started,
		Frames:     p.frames.Load(),
		Captured:   p.capture.Captured(),
		Dropped:    dropped,
		ReadErrors: p.capture.ReadErrors(),
		Alerts:     p.alerts.Load(),
		Errors:     p.errCount.Load(),
		Buffered:   p.ch.Len(),
		LastSignal: sig,
		ExitReason: reason,
	}
}
