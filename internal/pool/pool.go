// Package pool is a concrete, minimal application pool satisfying the
// AsyncGet interface the core's CheckoutSession phase depends on
// (spec.md §1, "explicitly out of scope... the core only consumes its
// interface"). It dials worker backends registered per app-root+app-type
// key, reuses idle sessions, and issues a fresh handshake password per
// checkout.
//
// Grounded on the Node/Backend/FetchConn/StoreConn pooling idiom in
// hemi/internal/net_backend_tcps.go (tcpsNode.fetchConn/storeConn,
// poolTConn), collapsed from gorox's full component-lifecycle machinery
// into the single concern this package needs.
package pool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"

	"github.com/dchest/uniuri"
)

// CheckoutOptions mirrors the PASSENGER_* request-header passthroughs
// spec.md §6 names as pool-option sources.
type CheckoutOptions struct {
	AppRoot          string
	AppType          string
	SpawnMethod      string
	StartCommand     string
	LoadShellEnvvars bool
}

func (o CheckoutOptions) key() string { return o.AppRoot + "\x00" + o.AppType }

// SpawnFailure is returned (wrapped) by AsyncGet when no backend is
// registered or dialing fails, and carries the optional annotations the
// error-response writer merges into a friendly error page.
type SpawnFailure struct {
	Message     string
	Annotations map[string]string
	HasHTML     bool
}

func (e *SpawnFailure) Error() string { return e.Message }

// ErrRetryable marks a SpawnFailure the Client's CheckoutSession phase
// should retry (spec.md §4, "session.initiate throws retryably").
var ErrRetryable = errors.New("pool: transient checkout failure")

// Backend describes where to dial workers for a given app type: a
// network ("tcp" or "unix") and address, the same two knobs
// tcpsNode._dialTCP/_dialUDS branch on.
type Backend struct {
	Network string
	Address string
}

// Pool is a thread-safe application pool. The zero value is not usable;
// construct with New.
type Pool struct {
	mu       sync.Mutex
	backends map[string]Backend // keyed by app type
	nodes    map[string]*node   // keyed by CheckoutOptions.key()
}

// New returns an empty Pool. Register backends with RegisterBackend
// before any AsyncGet call for that app type.
func New() *Pool {
	return &Pool{
		backends: make(map[string]Backend),
		nodes:    make(map[string]*node),
	}
}

// RegisterBackend associates an app type with a dial target. In the
// original this is where a spawner would fork a worker process;
// SPEC_FULL's reference pool instead dials a pre-started worker listener,
// since process spawning is outside what a library can portably do.
func (p *Pool) RegisterBackend(appType string, b Backend) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.backends[appType] = b
}

func (p *Pool) nodeFor(opts CheckoutOptions) (*node, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n, ok := p.nodes[opts.key()]; ok {
		return n, nil
	}
	backend, ok := p.backends[opts.AppType]
	if !ok {
		return nil, &SpawnFailure{
			Message: fmt.Sprintf("no backend registered for app type %q", opts.AppType),
			Annotations: map[string]string{
				"app_type": opts.AppType,
			},
		}
	}
	n := newNode(backend)
	p.nodes[opts.key()] = n
	return n, nil
}

// AsyncGet checks out a Session for opts, invoking callback exactly once
// with either a Session or an error. Per spec.md §4/§5, the callback may
// fire synchronously (idle session reused, no lock contention) or
// asynchronously from another goroutine (a fresh dial was required); the
// caller is responsible for marshaling the asynchronous case back onto
// its own owning goroutine before touching Client state.
func (p *Pool) AsyncGet(ctx context.Context, opts CheckoutOptions, callback func(*Session, error)) {
	n, err := p.nodeFor(opts)
	if err != nil {
		callback(nil, err)
		return
	}

	if sess := n.fetchIdle(); sess != nil {
		callback(sess, nil)
		return
	}

	go func() {
		sess, err := n.dial(ctx)
		callback(sess, err)
	}()
}

// Release returns a session to its node's idle pool, or closes it if it's
// broken, mirroring tcpsNode.storeConn.
func (p *Pool) Release(sess *Session) {
	sess.node.store(sess)
}

type node struct {
	backend Backend

	mu   sync.Mutex
	idle []*Session
}

func newNode(backend Backend) *node {
	return &node{backend: backend}
}

func (n *node) fetchIdle() *Session {
	n.mu.Lock()
	defer n.mu.Unlock()
	for len(n.idle) > 0 {
		sess := n.idle[len(n.idle)-1]
		n.idle = n.idle[:len(n.idle)-1]
		if !sess.IsBroken() {
			return sess
		}
		sess.Close()
	}
	return nil
}

func (n *node) dial(ctx context.Context) (*Session, error) {
	var conn net.Conn
	var err error
	dialer := net.Dialer{}
	conn, err = dialer.DialContext(ctx, n.backend.Network, n.backend.Address)
	if err != nil {
		failure := &SpawnFailure{
			Message: fmt.Sprintf("could not spawn or connect to application at %s:%s: %v", n.backend.Network, n.backend.Address, err),
			Annotations: map[string]string{
				"network": n.backend.Network,
				"address": n.backend.Address,
			},
		}
		if isRetryableDialError(err) {
			return nil, fmt.Errorf("%w: %w", ErrRetryable, failure)
		}
		return nil, failure
	}
	return &Session{
		conn:            conn,
		connectPassword: uniuri.New(),
		node:            n,
	}, nil
}

// isRetryableDialError reports whether err looks like the app is still
// spawning rather than permanently unreachable: connection refused (no
// listener bound yet) or a dial timeout, mirroring the original's
// SystemException retry during session initiation.
func isRetryableDialError(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

func (n *node) store(sess *Session) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if sess.IsBroken() {
		sess.Close()
		return
	}
	n.idle = append(n.idle, sess)
}
