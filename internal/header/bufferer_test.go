package header

import "testing"

func TestBuffererFindsTerminatorAcrossFeeds(t *testing.T) {
	b := NewBufferer(1024)
	msg := "Status: 200 OK\r\nContent-Type: text/plain\r\n\r\nbody follows"
	n1 := b.Feed([]byte(msg[:20]))
	if !b.AcceptingInput() {
		t.Fatalf("should still be accepting input after partial feed")
	}
	n2 := b.Feed([]byte(msg[20:]))
	if !b.complete {
		t.Fatalf("expected header to complete")
	}
	consumedTotal := n1 + n2
	headerLen := len("Status: 200 OK\r\nContent-Type: text/plain\r\n\r\n")
	if consumedTotal != headerLen {
		t.Fatalf("consumed %d, want %d (leftover should be unconsumed)", consumedTotal, headerLen)
	}
	if string(b.GetData()) != msg[:headerLen] {
		t.Fatalf("GetData = %q", b.GetData())
	}
}

func TestBuffererSplitAcrossTerminatorBytes(t *testing.T) {
	b := NewBufferer(1024)
	full := "X: 1\r\n\r\n"
	for i := 0; i < len(full); i++ {
		b.Feed([]byte{full[i]})
	}
	if !b.complete {
		t.Fatalf("expected completion after feeding terminator one byte at a time")
	}
	if string(b.GetData()) != full {
		t.Fatalf("GetData = %q, want %q", b.GetData(), full)
	}
}

func TestBuffererRejectsOversizedHeader(t *testing.T) {
	b := NewBufferer(8)
	b.Feed([]byte("this header block is way too long"))
	if !b.HasError() {
		t.Fatalf("expected HasError once maxSize exceeded")
	}
}

func TestBuffererFalseMatchInTerminatorPrefix(t *testing.T) {
	b := NewBufferer(1024)
	// "\r\n\r" followed by "X" then the real terminator — the false-start
	// at matched==3 must reset cleanly rather than corrupt the scan.
	b.Feed([]byte("A: 1\r\n\rX\r\n\r\n"))
	if !b.complete {
		t.Fatalf("expected eventual completion despite a false partial match")
	}
}
