package client

import "net"

// chunk is one delivery from a reader goroutine: either data or a
// terminal error (io.EOF included).
type chunk struct {
	data []byte
	err  error
}

// reader issues one blocking Read at a time on conn, handing the result
// to the driver goroutine and then waiting for an explicit Resume before
// reading again. This is the pull-based analogue of the original's
// "non-blocking fd + onReadable" watcher: instead of an edge-triggered
// callback the driver controls pacing by withholding Resume, which is
// exactly the suspension point spec.md §9 calls out as the right way to
// express backpressure without pooled polling.
type reader struct {
	conn   net.Conn
	out    chan chunk
	resume chan struct{}
}

func newReader(conn net.Conn) *reader {
	r := &reader{
		conn:   conn,
		out:    make(chan chunk),
		resume: make(chan struct{}, 1),
	}
	r.resume <- struct{}{}
	go r.loop()
	return r
}

func (r *reader) loop() {
	buf := make([]byte, 32*1024)
	for range r.resume {
		n, err := r.conn.Read(buf)
		if n > 0 {
			cp := make([]byte, n)
			copy(cp, buf[:n])
			r.out <- chunk{data: cp}
		}
		if err != nil {
			r.out <- chunk{err: err}
			return
		}
	}
}

// Resume permits the next Read. Safe to call multiple times without a
// matching chunk having been consumed; it never blocks.
func (r *reader) Resume() {
	select {
	case r.resume <- struct{}{}:
	default:
	}
}
