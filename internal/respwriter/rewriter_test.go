package respwriter

import (
	"strings"
	"testing"
)

func TestRewriteSynthesizesKnownReasonPhrase(t *testing.T) {
	header := []byte("Status: 200\r\nContent-Length: 2\r\n\r\n")
	out, err := Rewrite(header, true, "X-Powered-By: passrelay/1.0")
	if err != nil {
		t.Fatalf("Rewrite error: %v", err)
	}
	s := string(out)
	if !strings.HasPrefix(s, "HTTP/1.1 200 OK\r\n") {
		t.Fatalf("missing synthesized status line: %q", s)
	}
	if !strings.Contains(s, "X-Powered-By: passrelay/1.0\r\n") {
		t.Fatalf("missing identity header: %q", s)
	}
	if !strings.Contains(s, "Status: 200 OK\r\n") {
		t.Fatalf("Status line not rewritten with reason phrase: %q", s)
	}
}

func TestRewriteSynthesizesTeapotReasonPhrase(t *testing.T) {
	header := []byte("Status: 418\r\n\r\n")
	out, err := Rewrite(header, true, "X-Powered-By: passrelay/1.0")
	if err != nil {
		t.Fatalf("Rewrite error: %v", err)
	}
	if !strings.Contains(string(out), "HTTP/1.1 418 I'm a teapot\r\n") {
		t.Fatalf("expected known reason phrase for 418, got %q", out)
	}
}

func TestRewriteLeavesExistingReasonPhraseAlone(t *testing.T) {
	header := []byte("Status: 404 Nope\r\n\r\n")
	out, err := Rewrite(header, true, "X-Powered-By: passrelay/1.0")
	if err != nil {
		t.Fatalf("Rewrite error: %v", err)
	}
	if !strings.Contains(string(out), "HTTP/1.1 404 Nope\r\n") {
		t.Fatalf("expected original reason phrase preserved, got %q", out)
	}
}

func TestRewriteWithoutPrintStatusLine(t *testing.T) {
	header := []byte("Status: 200 OK\r\n\r\n")
	out, err := Rewrite(header, false, "X-Powered-By: passrelay/1.0")
	if err != nil {
		t.Fatalf("Rewrite error: %v", err)
	}
	if strings.HasPrefix(string(out), "HTTP/1.1") {
		t.Fatalf("should not prepend a status line when disabled: %q", out)
	}
}

func TestRewriteMissingStatusIsError(t *testing.T) {
	header := []byte("Content-Type: text/plain\r\n\r\n")
	_, err := Rewrite(header, true, "X-Powered-By: passrelay/1.0")
	if err != ErrMissingStatus {
		t.Fatalf("expected ErrMissingStatus, got %v", err)
	}
}
