// Package audit defines the security event model and sinks. Every
// state-changing operation in the library can emit an Entry; hosts decide
// where entries go by wiring a Logger (or none at all).
package audit

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"
)

// Entry is a single security event.
type Entry struct {
	At        time.Time      `json:"at"`
	Event     string         `json:"event"`
	User      string         `json:"user,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Logger receives audit entries. Implementations must be safe for
// concurrent use. Log errors never abort the operation that produced the
// entry; callers emit best-effort.
type Logger interface {
	Log(ctx context.Context, entry Entry) error
}

// LoggerFunc adapts a function to the Logger interface.
type LoggerFunc func(ctx context.Context, entry Entry) error

func (f LoggerFunc) Log(ctx context.Context, entry Entry) error { return f(ctx, entry) }

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches a request identifier to the context so entries
// emitted downstream carry it.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFrom extracts the request identifier from the context, if any.
func RequestIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// JSONLogger writes one JSON object per entry, newline-terminated.
type JSONLogger struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

// JSONOption configures a JSONLogger.
type JSONOption func(*JSONLogger)

// WithClock overrides the timestamp source used when an entry has no
// timestamp of its own.
func WithClock(fn func() time.Time) JSONOption {
	return func(l *JSONLogger) {
		if fn != nil {
			l.now = fn
		}
	}
}

// NewJSONLogger builds a line-oriented JSON sink over w.
func NewJSONLogger(w io.Writer, opts ...JSONOption) *JSONLogger {
	l := &JSONLogger{w: w, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Log writes the entry, stamping missing timestamps and picking up the
// request id from ctx when the entry carries none.
func (l *JSONLogger) Log(ctx context.Context, entry Entry) error {
	if entry.At.IsZero() {
		entry.At = l.now().UTC()
	}
	if entry.RequestID == "" {
		entry.RequestID = RequestIDFrom(ctx)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.w.Write(data)
	return err
}

type multiLogger struct {
	sinks []Logger
}

// Multi fans entries out to every sink. All sinks are attempted; the first
// error is returned.
func Multi(sinks ...Logger) Logger {
	kept := make([]Logger, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return multiLogger{sinks: kept}
}

func (m multiLogger) Log(ctx context.Context, entry Entry) error {
	var first error
	for _, s := range m.sinks {
		if err := s.Log(ctx, entry); err != nil && first == nil {
			first = err
		}
	}
	return first
}
