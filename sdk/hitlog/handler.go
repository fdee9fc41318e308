package hitlog

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"
)

// Handler is a slog.Handler that uploads every record to /api/upload-log.
type Handler struct {
	client  *Client
	level   slog.Leveler
	service string
	host    string
	attrs   []slog.Attr
	groups  []string
}

// NewHandler wraps c, which should target LogEndpoint. A nil level means slog.LevelInfo.
func NewHandler(c *Client, service string, level slog.Leveler) *Handler {
	if level == nil {
		level = slog.LevelInfo
	}
	host, _ := os.Hostname()
	return &Handler{client: c, level: level, service: service, host: host}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	rec := map[string]interface{}{
		"level":   r.Level.String(),
		"message": r.Message,
		"service": h.service,
		"host":    h.host,
	}
	if !r.Time.IsZero() {
		rec["ts"] = r.Time.UnixMilli()
	} else {
		rec["ts"] = time.Now().UnixMilli()
	}
	if r.PC != 0 {
		fs := runtime.CallersFrames([]uintptr{r.PC})
		f, _ := fs.Next()
		rec["file"] = f.File
		rec["line"] = f.Line
	}

	attrs := make(map[string]interface{}, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		addAttr(attrs, a)
	}
	target := attrs
	for _, g := range h.groups {
		sub, ok := target[g].(map[string]interface{})
		if !ok {
			sub = make(map[string]interface{})
			target[g] = sub
		}
		target = sub
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(target, a)
		return true
	})
	if len(attrs) > 0 {
		rec["attributes"] = attrs
	}

	return h.client.Enqueue(rec)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	if len(h.groups) > 0 {
		// nest under the open groups
		g := slog.Group(h.groups[len(h.groups)-1], attrsToAny(attrs)...)
		for i := len(h.groups) - 2; i >= 0; i-- {
			g = slog.Group(h.groups[i], g)
		}
		attrs = []slog.Attr{g}
	}
	h2.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &h2
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.groups = append(append([]string(nil), h.groups...), name)
	return &h2
}

func addAttr(m map[string]interface{}, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		group := a.Value.Group()
		if len(group) == 0 {
			return
		}
		dst := m
		if a.Key != "" {
			sub, ok := m[a.Key].(map[string]interface{})
			if !ok {
				sub = make(map[string]interface{})
				m[a.Key] = sub
			}
			dst = sub
		}
		for _, ga := range group {
			addAttr(dst, ga)
		}
		return
	}
	switch a.Value.Kind() {
	case slog.KindTime:
		m[a.Key] = a.Value.Time().UnixMilli()
	case slog.KindDuration:
		m[a.Key] = a.Value.Duration().String()
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			m[a.Key] = err.Error()
			return
		}
		m[a.Key] = a.Value.Any()
	default:
		m[a.Key] = a.Value.Any()
	}
}

func attrsToAny(attrs []slog.Attr) []any {
	out := make([]any, len(attrs))
	for i, a := range attrs {
		out[i] = a
	}
	return out
}
