package header

// Bufferer is a streaming accumulator for HTTP-style response headers: it
// scans incoming bytes for the blank-line terminator "\r\n\r\n" and exposes
// the accumulated header block once found. Bytes beyond the terminator are
// left unconsumed so the caller can route them to the body pipe instead.
//
// Grounded on the header-buffering loop in
// original_source/.../RequestHandler.h (bufferedData/bufferedSize around
// processResponseHeader) — that logic is reproduced here as a standalone
// accumulator rather than inline client state.
type Bufferer struct {
	maxSize int

	buf     []byte
	matched int // how many bytes of "\r\n\r\n" match the current tail of buf

	complete bool
	errored  bool
}

// NewBufferer returns a Bufferer that errors once more than maxSize bytes
// have been buffered without finding the terminator.
func NewBufferer(maxSize int) *Bufferer {
	return &Bufferer{maxSize: maxSize}
}

var terminator = []byte("\r\n\r\n")

// Feed consumes bytes until the terminator is found or data runs out,
// returning the number of bytes consumed. Once Complete() is true, any
// bytes beyond what was consumed belong to the response body.
func (b *Bufferer) Feed(data []byte) int {
	consumed := 0
	for consumed < len(data) && !b.complete && !b.errored {
		c := data[consumed]
		b.buf = append(b.buf, c)
		consumed++

		if c == terminator[b.matched] {
			b.matched++
			if b.matched == len(terminator) {
				b.complete = true
				break
			}
		} else if c == terminator[0] {
			b.matched = 1
		} else {
			b.matched = 0
		}

		if len(b.buf) > b.maxSize {
			b.errored = true
		}
	}
	return consumed
}

// AcceptingInput reports whether Feed should still be called.
func (b *Bufferer) AcceptingInput() bool { return !b.complete && !b.errored }

// HasError reports whether the header exceeded maxSize before completing.
func (b *Bufferer) HasError() bool { return b.errored }

// GetData returns the full accumulated header block, including the
// trailing terminator, once AcceptingInput is false and HasError is false.
func (b *Bufferer) GetData() []byte { return b.buf }
