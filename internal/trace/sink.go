// Package trace implements the trace/audit subsystem: a structured per-run
// event sink (stdout or file, via afero so tests can use an in-memory
// filesystem) and the append-only release audit store.
package trace

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// Event is one structured trace record (§4.8): every event carries the run
// identity so a reader can reconstruct a run's timeline from a flat log.
type Event struct {
	RunID       string                 `json:"run_id"`
	ParentRunID string                 `json:"parent_run_id,omitempty"`
	CutID       string                 `json:"cut_id,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Level       string                 `json:"level"`
	Event       string                 `json:"event"`
	Message     string                 `json:"message,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// Sink accepts trace events for a run. Implementations must be safe for
// concurrent use by multiple goroutines within the same run.
type Sink interface {
	Emit(e Event) error
	Close() error
}

// StdoutSink writes one JSON line per event to an io.Writer (typically
// os.Stdout).
type StdoutSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewStdoutSink wraps w (normally os.Stdout) as a Sink.
func NewStdoutSink(w interface{ Write([]byte) (int, error) }) *StdoutSink {
	return &StdoutSink{enc: json.NewEncoder(writerAdapter{w})}
}

type writerAdapter struct{ w interface{ Write([]byte) (int, error) } }

func (a writerAdapter) Write(p []byte) (int, error) { return a.w.Write(p) }

func (s *StdoutSink) Emit(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(e)
}

func (s *StdoutSink) Close() error { return nil }

// FileSink appends one JSON line per event to <trace-path>/<run_id>/trace.log
// (§6 persisted state layout), via afero so the backing store can be a real
// disk (afero.NewOsFs()) or an in-memory fs in tests. Writes are
// synchronous and have no deadline; a marshal or write error is passed to
// onDropped and returned from Emit.
type FileSink struct {
	fs        afero.Fs
	path      string
	mu        sync.Mutex
	file      afero.File
	onDropped func(err error)
}

// NewFileSink opens (creating as needed) <tracePath>/<runID>/trace.log on fs.
func NewFileSink(fs afero.Fs, tracePath, runID string, onDropped func(err error)) (*FileSink, error) {
	dir := filepath.Join(tracePath, runID)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := fs.OpenFile(filepath.Join(dir, "trace.log"), osAppendFlags(), 0o644)
	if err != nil {
		return nil, err
	}
	if onDropped == nil {
		onDropped = func(error) {}
	}
	return &FileSink{fs: fs, path: dir, file: f, onDropped: onDropped}, nil
}

func osAppendFlags() int {
	const (
		oAppend = 0x400
		oCreate = 0x40
		oWrOnly = 0x1
	)
	return oAppend | oCreate | oWrOnly
}

func (s *FileSink) Emit(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	line, err := json.Marshal(e)
	if err != nil {
		s.onDropped(err)
		return err
	}
	line = append(line, '\n')
	if _, err := s.file.Write(line); err != nil {
		s.onDropped(err)
		return err
	}
	return nil
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// NewEvent builds an Event stamped at t (pass time.Now() at the call site;
// this package never calls it itself so tests can supply a fixed clock).
func NewEvent(runID, level, kind, message string, details map[string]interface{}, t time.Time) Event {
	e := Event{RunID: runID, Timestamp: t, Level: level, Event: kind, Message: message, Details: details}
	e.CutID = CutID(runID)
	return e
}

// CutID derives the glossary's "cut-id": a short stable hash of a run-id
// used to correlate log lines without printing the full UUID on every line.
func CutID(runID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(runID))
	return fmt.Sprintf("%08x", h.Sum32())
}
