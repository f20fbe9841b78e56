// Package testlog provides a log handler for unit tests.
package testlog

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/log"
)

// logger routes records into t.Log and stops once the test has finished,
// since goroutines may outlive it.
type logger struct {
	t  testing.TB
	l  log.Logger
	mu *sync.Mutex
	h  *bufHandler

	done *bool
}

// bufHandler collects records until the logger flushes them. Handlers
// derived through WithAttrs share the same buffer.
type bufHandler struct {
	buf   *[]slog.Record
	attrs []slog.Attr
	level slog.Level
}

func (h *bufHandler) Handle(_ context.Context, r slog.Record) error {
	r = r.Clone()
	r.AddAttrs(h.attrs...)
	*h.buf = append(*h.buf, r)
	return nil
}

func (h *bufHandler) Enabled(_ context.Context, lvl slog.Level) bool {
	return lvl >= h.level
}

func (h *bufHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &bufHandler{
		buf:   h.buf,
		attrs: append(append([]slog.Attr{}, h.attrs...), attrs...),
		level: h.level,
	}
}

func (h *bufHandler) WithGroup(_ string) slog.Handler {
	panic("not implemented")
}

// Logger returns a logger which logs to the unit test log of t.
func Logger(t testing.TB, level slog.Level) log.Logger {
	handler := &bufHandler{buf: new([]slog.Record), level: level}
	done := false
	l := &logger{
		t:    t,
		l:    log.NewLogger(handler),
		mu:   new(sync.Mutex),
		h:    handler,
		done: &done,
	}
	t.Cleanup(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		*l.done = true
	})
	return l
}

func (l *logger) Handler() slog.Handler {
	return l.l.Handler()
}

func (l *logger) Write(level slog.Level, msg string, ctx ...interface{}) {
	l.t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.l.Write(level, msg, ctx...)
	l.flush()
}

func (l *logger) Enabled(ctx context.Context, level slog.Level) bool {
	return l.l.Enabled(ctx, level)
}

func (l *logger) Trace(msg string, ctx ...interface{}) {
	l.t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.l.Trace(msg, ctx...)
	l.flush()
}

func (l *logger) Log(level slog.Level, msg string, ctx ...interface{}) {
	l.t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.l.Log(level, msg, ctx...)
	l.flush()
}

func (l *logger) Debug(msg string, ctx ...interface{}) {
	l.t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.l.Debug(msg, ctx...)
	l.flush()
}

func (l *logger) Info(msg string, ctx ...interface{}) {
	l.t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.l.Info(msg, ctx...)
	l.flush()
}

func (l *logger) Warn(msg string, ctx ...interface{}) {
	l.t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.l.Warn(msg, ctx...)
	l.flush()
}

func (l *logger) Error(msg string, ctx ...interface{}) {
	l.t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.l.Error(msg, ctx...)
	l.flush()
}

func (l *logger) Crit(msg string, ctx ...interface{}) {
	l.t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.l.Crit(msg, ctx...)
	l.flush()
}

func (l *logger) New(ctx ...interface{}) log.Logger {
	return l.With(ctx...)
}

func (l *logger) With(ctx ...interface{}) log.Logger {
	return &logger{l.t, l.l.With(ctx...), l.mu, l.h, l.done}
}

// flush writes all buffered messages and clears the buffer.
func (l *logger) flush() {
	l.t.Helper()
	if *l.done {
		*l.h.buf = nil
		return
	}
	var out bytes.Buffer
	term := log.NewTerminalHandler(&out, false)
	for _, r := range *l.h.buf {
		out.Reset()
		if err := term.Handle(context.Background(), r); err != nil {
			continue
		}
		l.t.Logf("%s", bytes.TrimRight(out.Bytes(), "\n"))
	}
	*l.h.buf = nil
}
