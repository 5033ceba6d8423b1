package respwriter

import (
	"strings"
	"testing"
)

func TestErrorPageUndisclosedWhenNotFriendly(t *testing.T) {
	body, err := ErrorPage(DefaultRenderer{}, false, PageParams{}, nil)
	if err != nil {
		t.Fatalf("ErrorPage error: %v", err)
	}
	if !strings.Contains(body, "Internal server error") {
		t.Fatalf("expected undisclosed error page, got %q", body)
	}
}

func TestErrorPageFriendlyWithoutSpawnFailure(t *testing.T) {
	body, err := ErrorPage(DefaultRenderer{}, true, PageParams{
		AppRoot:     "/var/app",
		Environment: "production",
		Message:     "pool checkout failed",
	}, nil)
	if err != nil {
		t.Fatalf("ErrorPage error: %v", err)
	}
	if !strings.Contains(body, "Internal server error") {
		t.Fatalf("expected generic title, got %q", body)
	}
	if !strings.Contains(body, "pool checkout failed") {
		t.Fatalf("expected message embedded, got %q", body)
	}
	if !strings.Contains(body, "/var/app") {
		t.Fatalf("expected app root embedded, got %q", body)
	}
}

func TestErrorPageFriendlyWithSpawnFailureHTML(t *testing.T) {
	body, err := ErrorPage(DefaultRenderer{}, true, PageParams{
		Message: "could not spawn",
	}, &SpawnFailure{
		Annotations: map[string]string{"error_page": "<p>custom html</p>"},
		HasHTML:     true,
	})
	if err != nil {
		t.Fatalf("ErrorPage error: %v", err)
	}
	if !strings.Contains(body, "Web application could not be started") {
		t.Fatalf("expected spawn-failure title, got %q", body)
	}
	if !strings.Contains(body, "<p>custom html</p>") {
		t.Fatalf("expected raw HTML annotation embedded verbatim, got %q", body)
	}
}

func TestErrorResponseHeaderIncludesContentLength(t *testing.T) {
	h := ErrorResponseHeader(true, 42)
	s := string(h)
	if !strings.HasPrefix(s, "HTTP/1.1 500 Internal Server Error\r\n") {
		t.Fatalf("missing status line: %q", s)
	}
	if !strings.Contains(s, "Content-Length: 42\r\n") {
		t.Fatalf("missing content length: %q", s)
	}
	if !strings.Contains(s, "Content-Type: text/html; charset=UTF-8\r\n") {
		t.Fatalf("missing content type: %q", s)
	}
}
