package client

import (
	"bytes"

	"github.com/hexinfra/passrelay/internal/rherrors"
)

// handleClientChunk dispatches a delivered client chunk to the phase-
// appropriate handler. Each handler below is responsible for deciding
// whether to Resume the client reader: phases that want more client bytes
// right away resume immediately, phases that are intentionally pausing
// client input (checkout, header-send in non-buffering mode, a spill
// pipe that's committing to disk) leave it paused.
func (c *Client) handleClientChunk(ch chunk) {
	if ch.err != nil {
		c.handleClientEOF(ch.err)
		return
	}

	switch c.phase {
	case PhaseBeginReadPassword, PhaseReadPassword:
		c.feedPassword(ch.data)
	case PhaseReadHeader:
		c.feedHeader(ch.data)
	case PhaseBufferBody:
		c.feedBufferedBody(ch.data)
	case PhaseForwardBody:
		c.feedForwardBody(ch.data)
	default:
		// Arrived while we weren't expecting client bytes (checkout or
		// header-send in non-buffering mode); stash it for ForwardBody.
		// Deliberately does not Resume: the client read side stays paused
		// until ForwardBody begins.
		c.pendingClientBody = append(c.pendingClientBody, ch.data...)
	}
}

func (c *Client) handleClientEOF(err error) {
	switch c.phase {
	case PhaseBeginReadPassword, PhaseReadPassword:
		c.disconnect(rherrors.Wrap(rherrors.KindClientSocket, "client disconnected during password phase", err))
	case PhaseReadHeader:
		c.disconnect(rherrors.Wrap(rherrors.KindClientSocket, "client disconnected while sending header", err))
	case PhaseBufferBody:
		c.bodyPipe.End()
		c.beginCheckout()
	case PhaseForwardBody:
		c.onClientBodyDone()
	default:
		// Nothing meaningful to do; the worker side already has everything
		// it needs or we're already tearing down.
	}
}

// feedPassword implements the password check in spec.md §4.4: buffer
// until the accumulated length reaches the configured password length,
// then compare byte-for-byte.
func (c *Client) feedPassword(data []byte) {
	want := c.opts.RequestSocketPassword
	c.passwordBuf = append(c.passwordBuf, data...)

	if len(c.passwordBuf) < len(want) {
		c.setPhase(PhaseReadPassword)
		c.clientRd.Resume()
		return
	}

	if !bytes.Equal(c.passwordBuf[:len(want)], want) {
		c.disconnect(rherrors.New(rherrors.KindProtocol, "wrong connect password"))
		return
	}

	leftover := c.passwordBuf[len(want):]
	c.passwordBuf = nil
	c.disarmTimer()
	c.setPhase(PhaseReadHeader)
	c.headerParser = newHeaderParser(c.opts.MaxHeaderSize)
	if len(leftover) > 0 {
		c.feedHeader(leftover)
	} else {
		c.clientRd.Resume()
	}
}
