package testutil

import (
	"context"
	"log/slog"
	"sync"
)

// LogEntry is one captured log record.
type LogEntry struct {
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// LogSink is a slog.Handler that keeps every record in memory so tests can
// assert on what was logged.
//
// Thread-safety: LogSink is safe for concurrent use. Handlers derived with
// WithAttrs/WithGroup share the parent's entries.
type LogSink struct {
	mu      *sync.Mutex
	entries *[]LogEntry
	attrs   []slog.Attr
	group   string
}

// NewLogSink creates an empty sink.
func NewLogSink() *LogSink {
	return &LogSink{mu: &sync.Mutex{}, entries: &[]LogEntry{}}
}

// Logger returns a logger writing into the sink at every level.
func (s *LogSink) Logger() *slog.Logger {
	return slog.New(s)
}

// Entries returns a copy of the captured records in order.
func (s *LogSink) Entries() []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]LogEntry(nil), (*s.entries)...)
}

// Messages returns the messages logged at level.
func (s *LogSink) Messages(level slog.Level) []string {
	var out []string
	for _, e := range s.Entries() {
		if e.Level == level {
			out = append(out, e.Message)
		}
	}
	return out
}

// Find returns the first entry with the given message.
func (s *LogSink) Find(message string) (LogEntry, bool) {
	for _, e := range s.Entries() {
		if e.Message == message {
			return e, true
		}
	}
	return LogEntry{}, false
}

func (s *LogSink) Enabled(context.Context, slog.Level) bool { return true }

func (s *LogSink) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]any, len(s.attrs)+r.NumAttrs())
	for _, a := range s.attrs {
		attrs[s.key(a.Key)] = a.Value.Resolve().Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[s.key(a.Key)] = a.Value.Resolve().Any()
		return true
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	*s.entries = append(*s.entries, LogEntry{Level: r.Level, Message: r.Message, Attrs: attrs})
	return nil
}

func (s *LogSink) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *s
	next.attrs = append(append([]slog.Attr(nil), s.attrs...), attrs...)
	return &next
}

func (s *LogSink) WithGroup(name string) slog.Handler {
	next := *s
	next.group = s.key(name)
	return &next
}

func (s *LogSink) key(k string) string {
	if s.group == "" {
		return k
	}
	return s.group + "." + k
}
