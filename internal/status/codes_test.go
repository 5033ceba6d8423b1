package status

import "testing"

func TestKnownCode(t *testing.T) {
	if got := ReasonPhrase(200); got != "OK" {
		t.Fatalf("ReasonPhrase(200) = %q", got)
	}
	if got := ReasonPhrase(418); got != "I'm a teapot" {
		t.Fatalf("ReasonPhrase(418) = %q", got)
	}
}

func TestUnknownCode(t *testing.T) {
	if got := ReasonPhrase(799); got != UnknownReasonPhrase {
		t.Fatalf("ReasonPhrase(799) = %q, want %q", got, UnknownReasonPhrase)
	}
}
