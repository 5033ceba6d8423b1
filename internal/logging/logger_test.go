package logging

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

// syncBuffer wraps bytes.Buffer with a mutex since the drain goroutine
// writes concurrently with the test's assertions after Close.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func TestLoggerWritesFormattedLines(t *testing.T) {
	buf := &syncBuffer{}
	l := New(buf)
	l.Infof("client %d attached", 7)
	l.Warnf("wrong connect password")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "[INFO] client 7 attached") {
		t.Fatalf("missing info line, got: %q", out)
	}
	if !strings.Contains(out, "[WARN] wrong connect password") {
		t.Fatalf("missing warn line, got: %q", out)
	}
}

func TestNopDiscardsAndClosesCleanly(t *testing.T) {
	l := Nop()
	l.Errorf("should vanish")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
