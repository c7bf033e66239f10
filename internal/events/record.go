package events

import (
	"encoding/base64"

	"github.com/vzahanych/scene-sentry/internal/ai"
)

// Status classifies a record on the output stream.
type Status string

const (
	StatusInfo    Status = "info"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
	StatusFrame   Status = "frame"
)

// Record is one line of the output stream. Consumers key on Status and
// ignore fields they do not know.
type Record struct {
	Status     Status         `json:"status"`
	Message    string         `json:"message,omitempty"`
	Image      string         `json:"image,omitempty"` // base64 JPEG
	Detections []ai.Detection `json:"detections,omitempty"`
	Frame      uint64         `json:"frame,omitempty"`
	Reasons    []string       `json:"reasons,omitempty"`
	AlertID    string         `json:"alert_id,omitempty"`
	SavedPath  string         `json:"saved_path,omitempty"`
}

func Info(msg string) Record { return Record{Status: StatusInfo, Message: msg} }

func Warning(msg string) Record { return Record{Status: StatusWarning, Message: msg} }

// Error builds an error record; err may be nil.
func Error(msg string, err error) Record {
	if err != nil {
		if msg == "" {
			msg = err.Error()
		} else {
			msg = msg + ": " + err.Error()
		}
	}
	return Record{Status: StatusError, Message: msg}
}

// FrameRecord carries an encoded frame and what was detected in it.
func FrameRecord(seq uint64, jpeg []byte, dets []ai.Detection) Record {
	return Record{
		Status:     StatusFrame,
		Frame:      seq,
		Image:      base64.StdEncoding.EncodeToString(jpeg),
		Detections: dets,
	}
}
