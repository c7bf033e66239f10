package events

import (
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"

	"github.com/vzahanych/scene-sentry/internal/logger"
)

// Emitter writes records as line-delimited JSON and fans every line out
// to subscribers. Lines from concurrent callers never interleave.
// Subscribers that fall behind miss lines; they never slow the writer.
type Emitter struct {
	mu     sync.Mutex
	w      io.Writer
	logger *logger.Logger

	subs   map[int]chan []byte
	nextID int
	closed bool

	emitted atomic.Uint64
	failed  atomic.Uint64
}

func NewEmitter(w io.Writer, log *logger.Logger) *Emitter {
	return &Emitter{w: w, logger: log, subs: make(map[int]chan []byte)}
}

// Emit writes rec. A record that cannot be encoded is replaced by an
// error record saying so. Write failures are logged, never returned:
// the output stream going away must not stop the pipeline.
func (e *Emitter) Emit(rec Record) {
	line, err := json.Marshal(rec)
	if err != nil {
		line, _ = json.Marshal(Error("failed to encode "+string(rec.Status)+" record", err))
	}
	line = append(line, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.w != nil {
		if _, err := e.w.Write(line); err != nil {
			e.failed.Add(1)
			e.logger.Warn("Failed to write record", "status", rec.Status, "error", err)
		}
	}
	e.emitted.Add(1)

	for _, ch := range e.subs {
		select {
		case ch <- line:
		default:
		}
	}
}

// Subscribe returns a channel receiving every emitted line (newline
// included) and a func that cancels the subscription.
func (e *Emitter) Subscribe(buffer int) (<-chan []byte, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan []byte, buffer)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := e.nextID
	e.nextID++
	e.subs[id] = ch
	e.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if c, ok := e.subs[id]; ok {
				delete(e.subs, id)
				close(c)
			}
		})
	}
}

// Close ends every subscription. Later records still reach the writer.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for id, ch := range e.subs {
		delete(e.subs, id)
		close(ch)
	}
}

// Counts returns how many records were emitted and how many writes failed.
func (e *Emitter) Counts() (emitted, failed uint64) {
	return e.emitted.Load(), e.failed.Load()
}
