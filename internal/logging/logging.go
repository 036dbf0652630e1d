package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Key constants for structured log fields.
const (
	KeyComponent  = "component"
	KeyOutput     = "output"
	KeyDurationMs = "durationMs"
	KeyError      = "error"
	KeyHResult    = "hresult"
)

type contextKey struct{}

// rebindHandler is the root handler behind every logger handed out by L.
// Loggers are typically created in package-level vars before Init runs, so
// the handler they resolve to is swapped in place. Attrs and groups added
// through With are replayed onto the current sink; the result is cached per
// sink generation.
type rebindHandler struct {
	root  *rebindRoot
	chain []func(slog.Handler) slog.Handler
	cache atomic.Pointer[boundHandler]
}

type rebindRoot struct {
	sink atomic.Pointer[boundHandler]
	gen  atomic.Uint64
}

type boundHandler struct {
	gen uint64
	h   slog.Handler
}

func newRebindHandler(h slog.Handler) *rebindHandler {
	root := &rebindRoot{}
	root.sink.Store(&boundHandler{h: h})
	return &rebindHandler{root: root}
}

func (r *rebindRoot) swap(h slog.Handler) {
	r.sink.Store(&boundHandler{gen: r.gen.Add(1), h: h})
}

func (h *rebindHandler) resolve() slog.Handler {
	sink := h.root.sink.Load()
	if len(h.chain) == 0 {
		return sink.h
	}
	if c := h.cache.Load(); c != nil && c.gen == sink.gen {
		return c.h
	}
	out := sink.h
	for _, apply := range h.chain {
		out = apply(out)
	}
	h.cache.Store(&boundHandler{gen: sink.gen, h: out})
	return out
}

func (h *rebindHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.resolve().Enabled(ctx, level)
}

func (h *rebindHandler) Handle(ctx context.Context, record slog.Record) error {
	return h.resolve().Handle(ctx, record)
}

func (h *rebindHandler) derive(step func(slog.Handler) slog.Handler) *rebindHandler {
	chain := make([]func(slog.Handler) slog.Handler, 0, len(h.chain)+1)
	chain = append(chain, h.chain...)
	chain = append(chain, step)
	return &rebindHandler{root: h.root, chain: chain}
}

func (h *rebindHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	attrs = append([]slog.Attr(nil), attrs...)
	return h.derive(func(base slog.Handler) slog.Handler { return base.WithAttrs(attrs) })
}

func (h *rebindHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.derive(func(base slog.Handler) slog.Handler { return base.WithGroup(name) })
}

var (
	rootHandler   = newRebindHandler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	defaultLogger = slog.New(rootHandler)
)

func init() {
	slog.SetDefault(defaultLogger)
}

// Init points every logger at a new sink. format is "json" or "text",
// level one of debug, info, warn or error. A nil output logs to stderr;
// stdout is left to commands that print data.
func Init(format, level string, output io.Writer) {
	if output == nil {
		output = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	rootHandler.root.swap(handler)
}

// L returns a logger tagged with the given component name.
func L(component string) *slog.Logger {
	return defaultLogger.With(slog.String(KeyComponent, component))
}

// WithOutput returns a child logger tagged with a display output index.
func WithOutput(logger *slog.Logger, index int) *slog.Logger {
	return logger.With(slog.Int(KeyOutput, index))
}

// NewContext returns a new context carrying the given logger.
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext extracts the logger from context, falling back to the default.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return l
	}
	return defaultLogger
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
