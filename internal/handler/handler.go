//go:build linux

// Package handler wires the acceptor to the per-connection Client driver
// and keeps the active-client table the rest of the core is described
// against (spec.md §2, "Acceptor and registry... keeps the active-client
// table keyed by fd"; §3's Client data model names "identity: a stable
// integer name (last-seen fd number) for logging"). Grounded on
// hexinfra-gorox/hemi/internal/stage.go's Stage-owns-table pattern: a
// single owner holds a lock-guarded map of live components and drives
// their lifecycle, rather than each component registering itself in some
// global.
package handler

import (
	"net"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/hexinfra/passrelay/internal/acceptor"
	"github.com/hexinfra/passrelay/internal/client"
	"github.com/hexinfra/passrelay/internal/config"
	"github.com/hexinfra/passrelay/internal/logging"
	"github.com/hexinfra/passrelay/internal/respwriter"
)

// Handler owns the listening acceptor and the table of Clients it has
// handed connections to. It is the top-level piece cmd/passrelayd drives.
type Handler struct {
	opts   *config.Options
	pool   client.Pool
	render respwriter.Renderer
	logger *logging.Logger

	nextID int64

	mu      sync.Mutex
	clients map[int64]*client.Client
	acc     *acceptor.Acceptor
}

// New constructs a Handler. opts, pool, render and logger are shared by
// every Client the Handler creates, following client.New's own signature.
func New(opts *config.Options, pool client.Pool, render respwriter.Renderer, logger *logging.Logger) *Handler {
	return &Handler{
		opts:    opts,
		pool:    pool,
		render:  render,
		logger:  logger,
		clients: make(map[int64]*client.Client),
	}
}

// Serve binds network/address via internal/acceptor and runs until the
// acceptor returns an error (typically because Close was called).
func (h *Handler) Serve(network, address string) error {
	acc, err := acceptor.New(network, address, h.opts.AcceptBurst)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.acc = acc
	h.mu.Unlock()

	h.logger.Infof("listening on %s %s", network, acc.Addr())
	return acc.Run(h.handleConn)
}

// Addr reports the acceptor's bound address, once Serve has started.
func (h *Handler) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.acc == nil {
		return ""
	}
	return h.acc.Addr()
}

// Close stops accepting new connections. Clients already registered keep
// running; they unregister themselves as they finish.
func (h *Handler) Close() error {
	h.mu.Lock()
	acc := h.acc
	h.mu.Unlock()
	if acc == nil {
		return nil
	}
	return acc.Close()
}

// ActiveCount reports how many Clients are currently registered.
func (h *Handler) ActiveCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ClientSnapshot is one Client's diagnostic state as of the moment
// Inspect was called.
type ClientSnapshot struct {
	ID    int64
	Phase client.Phase
}

// Snapshot is the diagnostic dump Inspect returns: a point-in-time view
// of the active-client table, the Go translation of the original's
// RequestHandler::inspect/Client::inspect debug helper (SPEC_FULL.md
// "SUPPLEMENTED FEATURES" §2 — no admin protocol exposes it, it's just
// available to call).
type Snapshot struct {
	Count   int
	Clients []ClientSnapshot
}

// Inspect returns a snapshot of every currently-registered Client's id
// and phase. Phase() reads the driver's atomic phase mirror, so this is
// safe to call concurrently with every Client's own driver goroutine.
func (h *Handler) Inspect() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	snap := Snapshot{Count: len(h.clients)}
	for id, cl := range h.clients {
		snap.Clients = append(snap.Clients, ClientSnapshot{ID: id, Phase: cl.Phase()})
	}
	return snap
}

// handleConn is the acceptor's per-connection callback. It runs on the
// acceptor's own goroutine only long enough to register the Client and
// spawn its driver goroutine; nothing here touches Client state after
// client.New returns.
func (h *Handler) handleConn(conn net.Conn) {
	id := identityFor(conn, &h.nextID)
	cl := client.New(id, conn, h.opts, h.pool, h.render, h.logger)

	h.register(id, cl)
	go func() {
		defer h.unregister(id)
		cl.Run()
	}()
}

func (h *Handler) register(id int64, cl *client.Client) {
	h.mu.Lock()
	h.clients[id] = cl
	h.mu.Unlock()
}

func (h *Handler) unregister(id int64) {
	h.mu.Lock()
	delete(h.clients, id)
	h.mu.Unlock()
}

// identityFor prefers the connection's real OS file descriptor number, the
// same "last-seen fd number" identity spec.md's data model describes,
// falling back to an incrementing counter for Conn implementations that
// don't expose one (e.g. net.Pipe, used in tests).
func identityFor(conn net.Conn, nextID *int64) int64 {
	if sc, ok := conn.(syscall.Conn); ok {
		if raw, err := sc.SyscallConn(); err == nil {
			var fd int64 = -1
			err := raw.Control(func(rawFd uintptr) {
				fd = int64(rawFd)
			})
			if err == nil && fd >= 0 {
				return fd
			}
		}
	}
	return atomic.AddInt64(nextID, 1)
}
