// Package client implements the per-connection request lifecycle engine:
// accept through authentication, header parsing, optional body buffering,
// session checkout, header dispatch to the worker, and bidirectional
// streaming until either side closes. This is the Go translation of
// original_source/.../RequestHandler.h's Client class and its
// state_*/on* callback methods, expressed as one driver goroutine per
// Client selecting over channel events instead of being dispatched by a
// shared libev reactor — see SPEC_FULL.md §CONCURRENCY.
package client

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/xid"

	"github.com/hexinfra/passrelay/internal/config"
	"github.com/hexinfra/passrelay/internal/header"
	"github.com/hexinfra/passrelay/internal/logging"
	"github.com/hexinfra/passrelay/internal/pool"
	"github.com/hexinfra/passrelay/internal/respwriter"
	"github.com/hexinfra/passrelay/internal/rherrors"
	"github.com/hexinfra/passrelay/internal/spillpipe"
)

// Pool is the subset of *pool.Pool the Client depends on, narrowed to an
// interface so tests can supply a fake (spec.md §1: "the core only
// consumes its interface").
type Pool interface {
	AsyncGet(ctx context.Context, opts pool.CheckoutOptions, callback func(*pool.Session, error))
}

// Client drives one accepted connection through its lifecycle. Exactly
// one goroutine (Run's caller) ever mutates its state; auxiliary reader
// goroutines and the pool callback only ever communicate with it by
// sending on channels it owns.
type Client struct {
	ID int64

	conn    net.Conn
	opts    *config.Options
	pool    Pool
	render  respwriter.Renderer
	logger  *logging.Logger
	spillID string

	phase Phase
	// phaseAtomic mirrors phase for Phase(), the only field on Client
	// safe to read from outside the driver goroutine (used by
	// internal/handler's Inspect for diagnostics). phase itself stays the
	// driver's own plain field; setPhase is the one place both are kept
	// in sync.
	phaseAtomic     atomic.Int32
	bgOps           int
	checkoutOptions pool.CheckoutOptions
	checkoutAttempt int

	passwordBuf []byte

	headerParser   *header.Parser
	headerMap      *header.Map
	headerModified bool
	buffering      bool
	contentLen     int64 // -1 means stream to EOF
	bodyRemain     int64

	pendingClientBody []byte // body bytes that arrived bundled with the header/earlier chunk

	bodyPipe *spillpipe.Pipe // used only when PASSENGER_BUFFERING is set
	outPipe  *spillpipe.Pipe // client output pipe; always present

	// bodyCommitCh/outCommitCh relay a spill pipe's OnCommit signal onto
	// the driver goroutine: OnCommit is invoked from the pipe's internal
	// spill-to-disk goroutine, and only the driver goroutine may touch
	// Client state (spec.md §5).
	bodyCommitCh              chan error
	outCommitCh               chan error
	clientBodyBlockedOnCommit bool
	workerBlockedOnOutCommit  bool

	session    *pool.Session
	workerConn net.Conn
	workerRd   *reader

	respBufferer  *header.Bufferer
	respRewritten bool

	clientReadHalfClosed bool

	clientRd *reader

	timer *time.Timer

	checkoutCh chan checkoutResult

	disconnectErr error
}

// New constructs a Client ready to Run. id becomes c.ID; the spill pipes'
// file-naming tags come from a per-Client xid (c.spillID), so both of a
// Client's spill files share one traceable prefix.
func New(id int64, conn net.Conn, opts *config.Options, p Pool, render respwriter.Renderer, logger *logging.Logger) *Client {
	c := &Client{
		ID:           id,
		conn:         conn,
		opts:         opts,
		pool:         p,
		render:       render,
		logger:       logger,
		spillID:      xid.New().String(),
		bodyCommitCh: make(chan error, 1),
		outCommitCh:  make(chan error, 1),
		checkoutCh:   make(chan checkoutResult, 1),
	}
	c.setPhase(PhaseBeginReadPassword)
	c.outPipe = spillpipe.New(opts.SpillDir, opts.SpillWatermark)
	c.outPipe.Tag = c.spillID + "-out"
	c.outPipe.OnData = c.onOutputData
	c.outPipe.OnEnd = c.onOutputEnd
	c.outPipe.OnError = func(err error) { c.fail(rherrors.Wrap(rherrors.KindSpillPipe, "client output spill pipe", err)) }
	c.outPipe.OnCommit = func(err error) {
		select {
		case c.outCommitCh <- err:
		default:
		}
	}
	return c
}

type checkoutResult struct {
	session *pool.Session
	err     error
}

// setPhase is the one place c.phase is ever assigned; every call site
// goes through this instead of writing the field directly, so the
// atomic mirror Phase() reads never drifts from the driver's own phase.
func (c *Client) setPhase(p Phase) {
	c.phase = p
	c.phaseAtomic.Store(int32(p))
}

// Phase reports the Client's current lifecycle phase. Unlike every other
// field, it's safe to call from any goroutine: internal/handler's
// Inspect polls it for diagnostics while the driver goroutine keeps
// running. Backed by an atomic mirror, not the mutex-free phase field
// itself (spec.md §5 still reserves that one for the driver alone).
func (c *Client) Phase() Phase {
	return Phase(c.phaseAtomic.Load())
}

// Run drives the Client to completion, blocking until it disconnects.
// Each select case below is one of the "effective awaits" spec.md §5
// lists: client readable, worker readable, a pipe's commit signal, the
// pool checkout result, or the phase timer.
func (c *Client) Run() {
	c.clientRd = newReader(c.conn)
	c.armTimer(c.opts.Timeouts.Password)

	for c.phase != PhaseDisconnected {
		var timerC <-chan time.Time
		if c.timer != nil {
			timerC = c.timer.C
		}
		var workerOut chan chunk
		if c.workerRd != nil {
			workerOut = c.workerRd.out
		}

		select {
		case ch := <-c.clientOutChan():
			c.handleClientChunk(ch)
		case ch := <-workerOut:
			c.handleWorkerChunk(ch)
		case res := <-c.checkoutResultChanOrNil():
			c.handleCheckoutResult(res.session, res.err)
		case err := <-c.bodyCommitCh:
			c.handleBodyCommit(err)
		case err := <-c.outCommitCh:
			c.handleOutCommit(err)
		case <-timerC:
			c.handleTimeout()
		}
	}

	c.cleanup()
}

// clientOutChan returns the client reader's channel, or a nil channel
// (select skips nil channels forever) once the client read side has been
// half-closed, e.g. after an EPIPE while forwarding the request body.
func (c *Client) clientOutChan() chan chunk {
	if c.clientRd == nil || c.clientReadHalfClosed {
		return nil
	}
	return c.clientRd.out
}

// checkoutResultChanOrNil gates the checkout-result select case to the
// CheckoutSession phase so a stray late delivery (shouldn't happen, since
// at most one checkout is ever outstanding) can't be misread in another
// phase.
func (c *Client) checkoutResultChanOrNil() chan checkoutResult {
	if c.phase != PhaseCheckoutSession {
		return nil
	}
	return c.checkoutCh
}

func (c *Client) handleOutCommit(err error) {
	if err != nil {
		c.outPipe.Fail(err)
		return
	}
	c.outPipe.Drain()
	c.workerBlockedOnOutCommit = false
	if c.workerRd != nil && c.phase == PhaseForwardBody {
		c.workerRd.Resume()
	}
}

func (c *Client) armTimer(d time.Duration) {
	if d <= 0 {
		c.timer = nil
		return
	}
	c.timer = time.NewTimer(d)
}

func (c *Client) disarmTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Client) handleTimeout() {
	switch c.phase {
	case PhaseBeginReadPassword, PhaseReadPassword:
		c.disconnect(rherrors.New(rherrors.KindTimeout, "no connect password received within timeout"))
	case PhaseCheckoutSession:
		c.disconnect(rherrors.New(rherrors.KindTimeout, "session checkout timed out"))
	case PhaseSendHeaderToApp:
		c.disconnect(rherrors.New(rherrors.KindTimeout, "timed out sending header to application"))
	case PhaseForwardBody:
		c.disconnect(rherrors.New(rherrors.KindTimeout, "idle timeout while forwarding body"))
	default:
		c.timer = nil
	}
}

// fail is the InternalInvariantViolation / generic-error path: render an
// error page if we haven't dispatched to the worker yet, otherwise just
// disconnect, per spec.md §7 "Post-dispatch errors ... cannot rewrite the
// response; the connection is closed."
func (c *Client) fail(err error) {
	if c.phase < PhaseForwardBody {
		c.writeErrorPage(err, nil)
		return
	}
	c.disconnect(err)
}

func (c *Client) disconnect(err error) {
	if c.phase == PhaseDisconnected {
		return
	}
	c.disconnectErr = err
	c.setPhase(PhaseDisconnected)
	if c.logger != nil {
		var re *rherrors.Error
		quiet := errors.As(err, &re) && re.Quiet
		switch {
		case err != nil && !quiet:
			c.logger.Warnf("client %d disconnected: %v", c.ID, err)
		case err != nil:
			c.logger.Debugf("client %d disconnected: %v", c.ID, err)
		default:
			c.logger.Debugf("client %d disconnected", c.ID)
		}
	}
}

func (c *Client) cleanup() {
	c.disarmTimer()
	c.conn.Close()
	if c.workerConn != nil {
		c.workerConn.Close()
	}
	if c.session != nil {
		if c.disconnectErr != nil {
			c.session.MarkBroken()
		}
		if releaser, ok := c.pool.(interface{ Release(*pool.Session) }); ok {
			releaser.Release(c.session)
		}
	}
	if c.bodyPipe != nil {
		c.bodyPipe.Close()
	}
	c.outPipe.Close()
}

// Resettable reports whether this Client holds no in-flight background
// work and could safely be pooled/reused (spec.md §3 invariant); SPEC_FULL
// drops actual object pooling per spec.md §9 but keeps the predicate for
// observability/testing.
func (c *Client) Resettable() bool {
	return c.phase == PhaseDisconnected && c.bgOps == 0 && c.outPipe.Resettable() &&
		(c.bodyPipe == nil || c.bodyPipe.Resettable())
}

func (c *Client) onOutputData(data []byte, ack spillpipe.Ack) {
	n, err := c.conn.Write(data)
	if err != nil {
		if isEPIPE(err) {
			// Response-forward EPIPE: disconnect immediately per the
			// preserved asymmetry in spec.md §9's open question.
			ack(n, true)
			c.disconnect(rherrors.Quiet(rherrors.KindClientSocket, "client hung up"))
			return
		}
		ack(n, true)
		c.disconnect(rherrors.Wrap(rherrors.KindClientSocket, "writing to client", err))
		return
	}
	ack(n, false)
}

func (c *Client) onOutputEnd() {
	c.disconnect(nil)
}

func isEPIPE(err error) bool {
	return err == io.ErrClosedPipe || isBrokenPipe(err)
}
