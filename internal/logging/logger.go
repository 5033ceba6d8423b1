// Package logging provides the small async, buffered logger used across the
// request-forwarding core. It is a direct descendant of gorox's own
// hand-rolled logger (hemi/internal/logger.go): a channel-fed goroutine
// drains queued log lines into the destination writer. No structured-logging
// third-party library appears anywhere in the retrieval pack, so this
// ambient concern stays in the teacher's own idiom.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"
)

// Logger is a leveled, asynchronous line logger. Zero value is not usable;
// construct with New.
type Logger struct {
	out    io.Writer
	queue  chan string
	closed chan struct{}
}

// New starts a Logger that writes formatted lines to w. Call Close when
// done to flush and stop the background goroutine.
func New(w io.Writer) *Logger {
	l := &Logger{
		out:    w,
		queue:  make(chan string, 256),
		closed: make(chan struct{}),
	}
	go l.drain()
	return l
}

// NewFile opens path for appending and wraps it in a Logger.
func NewFile(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return New(f), nil
}

func (l *Logger) drain() {
	defer close(l.closed)
	for s := range l.queue {
		io.WriteString(l.out, s)
	}
	if c, ok := l.out.(io.Closer); ok {
		c.Close()
	}
}

func (l *Logger) emit(level, format string, v []any) {
	ts := time.Now().Format("2006-01-02T15:04:05.000Z07:00")
	line := fmt.Sprintf("%s [%s] %s\n", ts, level, fmt.Sprintf(format, v...))
	select {
	case l.queue <- line:
	default:
		// Queue is full; drop rather than block the driver loop that's
		// almost certainly the caller.
	}
}

func (l *Logger) Debugf(format string, v ...any) { l.emit("DEBUG", format, v) }
func (l *Logger) Infof(format string, v ...any)  { l.emit("INFO", format, v) }
func (l *Logger) Warnf(format string, v ...any)  { l.emit("WARN", format, v) }
func (l *Logger) Errorf(format string, v ...any) { l.emit("ERROR", format, v) }

// Close stops accepting new lines, flushes the queue and waits for the
// background goroutine to finish.
func (l *Logger) Close() error {
	close(l.queue)
	<-l.closed
	return nil
}

// Nop returns a Logger that discards everything, useful in tests.
func Nop() *Logger {
	return New(io.Discard)
}
