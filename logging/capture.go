package logging

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// CaptureEntry is one recorded log record.
type CaptureEntry struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

type captureStore struct {
	mu      sync.Mutex
	entries []CaptureEntry
}

func (s *captureStore) add(e CaptureEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
}

// CaptureHandler is an slog.Handler that records every log record in memory
// while passing it through to an underlying handler. Tests use it to assert
// on warnings that never surface through return values. Handlers derived via
// With share the same store, so capture survives logger.With chains.
type CaptureHandler struct {
	underlying slog.Handler
	store      *captureStore
	attrs      []slog.Attr
}

// NewCaptureHandler creates a capturing handler. A nil underlying handler
// discards the pass-through output.
func NewCaptureHandler(underlying slog.Handler) *CaptureHandler {
	if underlying == nil {
		underlying = slog.NewTextHandler(io.Discard, nil)
	}
	return &CaptureHandler{underlying: underlying, store: &captureStore{}}
}

// Enabled returns true for every level so the capture is complete; the
// underlying handler still applies its own filtering on output.
func (h *CaptureHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return true
}

func (h *CaptureHandler) Handle(ctx context.Context, r slog.Record) error {
	e := CaptureEntry{
		Time:    r.Time,
		Level:   r.Level,
		Message: r.Message,
		Attrs:   make(map[string]any, r.NumAttrs()+len(h.attrs)),
	}
	for _, a := range h.attrs {
		e.Attrs[a.Key] = resolveValue(a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		e.Attrs[a.Key] = resolveValue(a.Value)
		return true
	})
	h.store.add(e)

	if h.underlying.Enabled(ctx, r.Level) {
		return h.underlying.Handle(ctx, r)
	}
	return nil
}

func (h *CaptureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &CaptureHandler{
		underlying: h.underlying.WithAttrs(attrs),
		store:      h.store,
		attrs:      merged,
	}
}

func (h *CaptureHandler) WithGroup(name string) slog.Handler {
	return &CaptureHandler{
		underlying: h.underlying.WithGroup(name),
		store:      h.store,
		attrs:      h.attrs,
	}
}

// Entries returns a copy of everything captured so far.
func (h *CaptureHandler) Entries() []CaptureEntry {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	out := make([]CaptureEntry, len(h.store.entries))
	copy(out, h.store.entries)
	return out
}

// HasMessage reports whether any captured record carries the exact message.
func (h *CaptureHandler) HasMessage(msg string) bool {
	for _, e := range h.Entries() {
		if e.Message == msg {
			return true
		}
	}
	return false
}

// resolveValue converts a slog.Value into a plain comparable value; errors
// become their message string.
func resolveValue(v slog.Value) any {
	v = v.Resolve()
	if err, ok := v.Any().(error); ok {
		return err.Error()
	}
	return v.Any()
}
