package alert

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"gocv.io/x/gocv"

	"github.com/vzahanych/scene-sentry/internal/ai"
	"github.com/vzahanych/scene-sentry/internal/logger"
	"github.com/vzahanych/scene-sentry/internal/state"
	"github.com/vzahanych/scene-sentry/internal/video"
)

// TimestampLayout is the file-name timestamp, YYYYMMDD_HHMMSS.
const TimestampLayout = "20060102_150405"

// ErrDiskFull is wrapped by PersistError when the results disk is over
// its usage limit.
var ErrDiskFull = errors.New("disk usage over limit")

// PersistError reports an alert image that could not be written.
type PersistError struct {
	Path string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Path, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// Filename is detection_<reasons>_<YYYYMMDD_HHMMSS>.jpg. Two alerts with
// the same reasons in the same second share a name; the later one wins.
func Filename(d Decision, t time.Time) string {
	return fmt.Sprintf("detection_%s_%s.jpg", d.Tag(), t.Format(TimestampLayout))
}

// FrameWriter writes an image to disk.
type FrameWriter interface {
	WriteFrame(path string, mat gocv.Mat) error
}

// IMWriter writes through OpenCV, picking the codec from the extension.
type IMWriter struct{}

func (IMWriter) WriteFrame(path string, mat gocv.Mat) error {
	if !gocv.IMWrite(path, mat) {
		return errors.New("imwrite failed")
	}
	return nil
}

// SpaceChecker reports whether another image may be written.
type SpaceChecker interface {
	CheckDiskSpace(ctx context.Context) (bool, error)
}

// Recorder stores alert rows.
type Recorder interface {
	SaveAlert(ctx context.Context, rec state.AlertRecord) error
}

// SinkConfig configures NewSink. Space and Ledger are optional.
type SinkConfig struct {
	Dir    string
	RunID  string
	Writer FrameWriter
	Space  SpaceChecker
	Ledger Recorder
	Now    func() time.Time
}

// Sink persists frames the policy flagged.
type Sink struct {
	dir    string
	runID  string
	writer FrameWriter
	space  SpaceChecker
	ledger Recorder
	now    func() time.Time
	logger *logger.Logger
}

func NewSink(cfg SinkConfig, log *logger.Logger) *Sink {
	s := &Sink{
		dir:    cfg.Dir,
		runID:  cfg.RunID,
		writer: cfg.Writer,
		space:  cfg.Space,
		ledger: cfg.Ledger,
		now:    cfg.Now,
		logger: log,
	}
	if s.writer == nil {
		s.writer = IMWriter{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Persist writes frame under the decision's file name and records the
// alert. The event is returned even when writing fails; the error is
// then a *PersistError and the event has no SavedPath.
func (s *Sink) Persist(ctx context.Context, frame *video.Frame, d Decision, dets []ai.Detection) (*Event, error) {
	now := s.now()
	ev := newEvent(s.runID, frame.Seq, d, dets, now)
	path := filepath.Join(s.dir, Filename(d, now))

	err := s.write(ctx, path, frame)
	if err == nil {
		ev.SavedPath = path
	}

	if s.ledger != nil {
		if lerr := s.ledger.SaveAlert(ctx, ev.Record(err)); lerr != nil {
			s.logger.Warn("Failed to record alert", "alert_id", ev.ID, "error", lerr)
		}
	}
	return ev, err
}

func (s *Sink) write(ctx context.Context, path string, frame *video.Frame) error {
	if s.space != nil {
		ok, err := s.space.CheckDiskSpace(ctx)
		if err != nil {
			s.logger.Warn("Disk space check failed", "error", err)
		} else if !ok {
			return &PersistError{Path: path, Err: ErrDiskFull}
		}
	}
	if err := s.writer.WriteFrame(path, frame.Mat); err != nil {
		return &PersistError{Path: path, Err: err}
	}
	return nil
}
