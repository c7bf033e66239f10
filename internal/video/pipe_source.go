package video

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"gocv.io/x/gocv"

	"github.com/vzahanych/scene-sentry/internal/logger"
)

// maxPipeLine bounds one JSON record; a 4K JPEG in base64 fits easily.
const maxPipeLine = 32 << 20

// pipeRecord is one input line: {"image": "<base64 JPEG>"}.
type pipeRecord struct {
	Image string `json:"image"`
}

type pipeLine struct {
	data []byte
	err  error
}

// PipeSource decodes frames from line-delimited JSON, typically stdin fed
// by another process. Lines without an image are skipped.
type PipeSource struct {
	r      io.Reader
	logger *logger.Logger

	startOnce sync.Once
	lines     chan pipeLine
	done      chan struct{}
	closeOnce sync.Once
	skipped   int
}

func NewPipeSource(r io.Reader, log *logger.Logger) *PipeSource {
	return &PipeSource{
		r:      r,
		logger: log,
		lines:  make(chan pipeLine),
		done:   make(chan struct{}),
	}
}

// Open starts the line reader. Reading stdin cannot be interrupted, so
// the reader runs on its own goroutine and Read selects against Close.
func (s *PipeSource) Open(ctx context.Context) error {
	if s.r == nil {
		return errors.New("no input stream")
	}
	select {
	case <-s.done:
		return ErrSourceClosed
	default:
	}
	s.startOnce.Do(func() { go s.scan() })
	return nil
}

func (s *PipeSource) scan() {
	sc := bufio.NewScanner(s.r)
	sc.Buffer(make([]byte, 0, 64*1024), maxPipeLine)
	for sc.Scan() {
		line := make([]byte, len(sc.Bytes()))
		copy(line, sc.Bytes())
		select {
		case s.lines <- pipeLine{data: line}:
		case <-s.done:
			return
		}
	}
	end := pipeLine{err: ErrEndOfStream}
	if err := sc.Err(); err != nil {
		end.err = fmt.Errorf("%w: %v", ErrEndOfStream, err)
	}
	select {
	case s.lines <- end:
	case <-s.done:
	}
	close(s.lines)
}

// Read returns the next decodable frame.
func (s *PipeSource) Read() (*Frame, error) {
	for {
		var (
			ln pipeLine
			ok bool
		)
		select {
		case ln, ok = <-s.lines:
			if !ok {
				return nil, ErrEndOfStream
			}
		case <-s.done:
			return nil, ErrSourceClosed
		}
		if ln.err != nil {
			return nil, ln.err
		}

		frame, err := s.decode(ln.data)
		if err != nil {
			return nil, &ReadError{Source: s.String(), Err: err}
		}
		if frame == nil {
			s.skipped++
			continue
		}
		return frame, nil
	}
}

// decode returns nil, nil for lines that carry no image.
func (s *PipeSource) decode(line []byte) (*Frame, error) {
	if len(strings.TrimSpace(string(line))) == 0 {
		return nil, nil
	}

	var rec pipeRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, fmt.Errorf("invalid record: %w", err)
	}
	if rec.Image == "" {
		return nil, nil
	}

	payload := rec.Image
	if i := strings.Index(payload, "base64,"); i >= 0 && strings.HasPrefix(payload, "data:") {
		payload = payload[i+len("base64,"):]
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}

	mat, err := gocv.IMDecode(raw, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	frame := NewFrame(mat, s.String())
	if err := frame.Validate(); err != nil {
		frame.Close()
		return nil, err
	}
	return frame, nil
}

// Close stops Read. The reader goroutine exits once its pending line is
// consumed or the input ends.
func (s *PipeSource) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *PipeSource) String() string { return "pipe" }

// Skipped counts lines that carried no image. Only valid from the
// reading goroutine.
func (s *PipeSource) Skipped() int { return s.skipped }
