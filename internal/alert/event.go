package alert

import (
	"time"

	"github.com/google/uuid"

	"github.com/vzahanych/scene-sentry/internal/ai"
	"github.com/vzahanych/scene-sentry/internal/state"
)

// Event is one alert: a frame the policy decided to persist.
type Event struct {
	ID         string         `json:"id"`
	RunID      string         `json:"run_id,omitempty"`
	FrameSeq   uint64         `json:"frame"`
	Reasons    []Reason       `json:"reasons"`
	Detections []ai.Detection `json:"detections,omitempty"`
	// SavedPath is empty when the image could not be written.
	SavedPath string    `json:"saved_path,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func newEvent(runID string, seq uint64, d Decision, dets []ai.Detection, now time.Time) *Event {
	return &Event{
		ID:         uuid.New().String(),
		RunID:      runID,
		FrameSeq:   seq,
		Reasons:    append([]Reason(nil), d.Reasons...),
		Detections: append([]ai.Detection(nil), dets...),
		CreatedAt:  now,
	}
}

func (e *Event) reasonStrings() []string {
	out := make([]string, len(e.Reasons))
	for i, r := range e.Reasons {
		out[i] = string(r)
	}
	return out
}

// Record converts the event into its ledger row.
func (e *Event) Record(persistErr error) state.AlertRecord {
	rec := state.AlertRecord{
		ID:         e.ID,
		RunID:      e.RunID,
		FrameSeq:   e.FrameSeq,
		Reasons:    e.reasonStrings(),
		Detections: e.Detections,
		SavedPath:  e.SavedPath,
		CreatedAt:  e.CreatedAt,
	}
	if persistErr != nil {
		rec.PersistError = persistErr.Error()
	}
	return rec
}
