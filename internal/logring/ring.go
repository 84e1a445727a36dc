// Package logring keeps the most recent log lines in memory so display
// layers can show them without tailing a file.
package logring

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultCapacity is the number of lines a Ring keeps by default.
const DefaultCapacity = 500

const timeLayout = "2006-01-02 15:04:05"

// Ring is a bounded buffer of rendered log lines. Safe for concurrent use.
type Ring struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

// NewRing returns a ring holding up to capacity lines.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{lines: make([]string, capacity)}
}

// Add appends a line, evicting the oldest when full.
func (r *Ring) Add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines[r.next] = line
	r.next = (r.next + 1) % len(r.lines)
	if r.next == 0 {
		r.full = true
	}
}

// Len returns how many lines are held.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.len()
}

func (r *Ring) len() int {
	if r.full {
		return len(r.lines)
	}
	return r.next
}

// Tail returns a copy of the last n lines, oldest first.
func (r *Ring) Tail(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.len()
	if n <= 0 || n > size {
		n = size
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		idx := (r.next - n + i + len(r.lines)) % len(r.lines)
		out[i] = r.lines[idx]
	}
	return out
}

// Handler is a slog.Handler that copies every record it handles into a
// Ring and then passes it to the next handler (if any).
type Handler struct {
	ring   *Ring
	next   slog.Handler
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
}

// NewHandler wraps next. With a nil next, records at or above level are
// only kept in the ring.
func NewHandler(ring *Ring, next slog.Handler, level slog.Leveler) *Handler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &Handler{ring: ring, next: next, level: level}
}

func (h *Handler) Enabled(ctx context.Context, l slog.Level) bool {
	if l >= h.level.Level() {
		return true
	}
	return h.next != nil && h.next.Enabled(ctx, l)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.level.Level() {
		h.ring.Add(h.render(r))
	}
	if h.next != nil && h.next.Enabled(ctx, r.Level) {
		return h.next.Handle(ctx, r)
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := h.clone()
	prefix := strings.Join(h.groups, ".")
	for _, a := range attrs {
		if prefix != "" {
			a.Key = prefix + "." + a.Key
		}
		c.attrs = append(c.attrs, a)
	}
	if h.next != nil {
		c.next = h.next.WithAttrs(attrs)
	}
	return c
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := h.clone()
	c.groups = append(c.groups, name)
	if h.next != nil {
		c.next = h.next.WithGroup(name)
	}
	return c
}

func (h *Handler) clone() *Handler {
	return &Handler{
		ring:   h.ring,
		next:   h.next,
		level:  h.level,
		attrs:  append([]slog.Attr(nil), h.attrs...),
		groups: append([]string(nil), h.groups...),
	}
}

// render formats a record as "[2006-01-02 15:04:05] msg k=v ...". Warnings
// and errors carry their level before the message.
func (h *Handler) render(r slog.Record) string {
	var b strings.Builder
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	fmt.Fprintf(&b, "[%s] ", ts.Format(timeLayout))
	if r.Level >= slog.LevelWarn {
		b.WriteString(r.Level.String() + ": ")
	}
	b.WriteString(r.Message)

	for _, a := range h.attrs {
		writeAttr(&b, "", a)
	}
	prefix := strings.Join(h.groups, ".")
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, prefix, a)
		return true
	})
	return b.String()
}

func writeAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			writeAttr(b, key, ga)
		}
		return
	}
	val := a.Value.String()
	if strings.ContainsAny(val, " =\"") {
		val = fmt.Sprintf("%q", val)
	}
	fmt.Fprintf(b, " %s=%s", key, val)
}
