package pool

import (
	"net"
	"sync/atomic"
)

// Session is an opaque handle on a connected worker: a socket plus the
// per-checkout handshake password the worker dispatch frame appends
// (spec.md §3 "Session", §4 "Worker dispatch frame"). Owned by a Client
// between successful checkout and disconnect.
type Session struct {
	conn            net.Conn
	connectPassword string
	node            *node

	broken atomic.Bool
}

// Conn returns the underlying worker socket.
func (s *Session) Conn() net.Conn { return s.conn }

// ConnectPassword returns the per-session handshake secret appended to
// the worker dispatch frame as PASSENGER_CONNECT_PASSWORD's value.
func (s *Session) ConnectPassword() string { return s.connectPassword }

// MarkBroken flags the session as unfit for reuse; Release will close it
// instead of returning it to the idle pool.
func (s *Session) MarkBroken() { s.broken.Store(true) }

// IsBroken reports whether MarkBroken has been called.
func (s *Session) IsBroken() bool { return s.broken.Load() }

// Close releases the underlying connection immediately, bypassing the
// idle pool.
func (s *Session) Close() error { return s.conn.Close() }
