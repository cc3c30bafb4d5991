// Package report delivers per-file outcome lines to human-facing sinks: the
// structured log, an attached terminal and the in-memory buffer behind the
// status API.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Level is the severity of an entry.
type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelWarn
	LevelError
)

// String returns the lowercase level name.
func (l Level) String() string {
	switch l {
	case LevelSuccess:
		return "success"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// MarshalText renders the level name in JSON.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText parses a level name. Unknown names are an error.
func (l *Level) UnmarshalText(b []byte) error {
	switch string(b) {
	case "info":
		*l = LevelInfo
	case "success":
		*l = LevelSuccess
	case "warn":
		*l = LevelWarn
	case "error":
		*l = LevelError
	default:
		return fmt.Errorf("unknown level %q", b)
	}
	return nil
}

// Entry is one append-only outcome line.
type Entry struct {
	ID      string    `json:"id"`
	Time    time.Time `json:"time"`
	Level   Level     `json:"level"`
	File    string    `json:"file"`
	Status  string    `json:"status"`
	Table   string    `json:"table,omitempty"`
	Rows    int64     `json:"rows,omitempty"`
	Code    string    `json:"code,omitempty"`
	Message string    `json:"message"`
}

// Line renders the entry as a single human-readable line.
func (e Entry) Line() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s [%s]", e.File, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}

// Stamp fills in ID and Time when they are unset.
func (e Entry) Stamp() Entry {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	if e.ID == "" {
		e.ID = ulid.MustNew(ulid.Timestamp(e.Time), ulid.DefaultEntropy()).String()
	}
	return e
}

// Sink accepts outcome entries. Implementations must be safe for concurrent use.
type Sink interface {
	Report(ctx context.Context, e Entry)
}

// Multi fans an entry out to every sink, stamping it once so all sinks see the same ID.
func Multi(sinks ...Sink) Sink {
	return multi(sinks)
}

type multi []Sink

func (m multi) Report(ctx context.Context, e Entry) {
	e = e.Stamp()
	for _, s := range m {
		s.Report(ctx, e)
	}
}

// Discard drops every entry.
var Discard Sink = discard{}

type discard struct{}

func (discard) Report(context.Context, Entry) {}

// LogSink writes entries to a slog logger.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink returns a sink over log, or over the default logger when log is nil.
func NewLogSink(log *slog.Logger) *LogSink {
	if log == nil {
		log = slog.Default()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Report(ctx context.Context, e Entry) {
	level := slog.LevelInfo
	switch e.Level {
	case LevelWarn:
		level = slog.LevelWarn
	case LevelError:
		level = slog.LevelError
	}

	attrs := []any{"path", e.File, "status", e.Status}
	if e.Table != "" {
		attrs = append(attrs, "table", e.Table, "rows", e.Rows)
	}
	if e.Code != "" {
		attrs = append(attrs, "code", e.Code)
	}
	s.log.Log(ctx, level, e.Message, attrs...)
}

// RingSink keeps the most recent entries in memory.
type RingSink struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	full    bool
}

// NewRingSink keeps up to size entries. A non-positive size keeps one.
func NewRingSink(size int) *RingSink {
	if size <= 0 {
		size = 1
	}
	return &RingSink{entries: make([]Entry, size)}
}

func (r *RingSink) Report(_ context.Context, e Entry) {
	e = e.Stamp()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[r.next] = e
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
}

// Recent returns up to limit entries, newest first. limit <= 0 returns all.
func (r *RingSink) Recent(limit int) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.next
	if r.full {
		n = len(r.entries)
	}
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]Entry, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (r.next - 1 - i + len(r.entries)) % len(r.entries)
		out = append(out, r.entries[idx])
	}
	return out
}

// Len returns the number of buffered entries.
func (r *RingSink) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.full {
		return len(r.entries)
	}
	return r.next
}
