package client

import (
	"github.com/hexinfra/passrelay/internal/header"
	"github.com/hexinfra/passrelay/internal/respwriter"
	"github.com/hexinfra/passrelay/internal/rherrors"
	"github.com/hexinfra/passrelay/internal/spillpipe"
)

func newRespBufferer(maxSize int) *header.Bufferer {
	return header.NewBufferer(maxSize)
}

// writeToWorker sends data to the worker, applying the request-forward
// EPIPE rule from spec.md §9's preserved open question: on EPIPE,
// half-close the client's read side but keep the response flowing until
// the output pipe drains, rather than disconnecting outright.
func (c *Client) writeToWorker(data []byte) {
	if _, err := c.workerConn.Write(data); err != nil {
		if isEPIPE(err) {
			c.clientReadHalfClosed = true
			return
		}
		c.disconnect(rherrors.Wrap(rherrors.KindWorkerSocket, "writing body to application", err))
	}
}

// feedForwardBody implements the "ForwardBody | client/spill data |
// ForwardBody" row for non-buffering mode: bytes read live from the
// client go straight to the worker.
func (c *Client) feedForwardBody(data []byte) {
	c.writeToWorker(data)
	if c.phase != PhaseForwardBody || c.clientReadHalfClosed {
		return
	}
	if c.contentLen >= 0 {
		c.bodyRemain -= int64(len(data))
		if c.bodyRemain <= 0 {
			c.onClientBodyDone()
			return
		}
	}
	c.clientRd.Resume()
}

// onBodyPipeData drains the client-body spill pipe into the worker once
// buffering is in effect, applying the same EPIPE half-close rule as the
// live-forwarding path.
func (c *Client) onBodyPipeData(data []byte, ack spillpipe.Ack) {
	c.writeToWorker(data)
	ack(len(data), c.clientReadHalfClosed || c.phase != PhaseForwardBody)
}

// onClientBodyDone half-closes the worker write side once the request
// body (live or buffered) has been fully forwarded, per the "ForwardBody
// | client EOF / spill end | ForwardBody | half-close the worker write
// side" row.
func (c *Client) onClientBodyDone() {
	if cw, ok := c.workerConn.(interface{ CloseWrite() error }); ok {
		cw.CloseWrite()
	}
}

// handleWorkerChunk implements the response half of ForwardBody: buffer
// until the HTTP-style header terminator, rewrite it, then pass
// everything after straight through to the client output pipe.
func (c *Client) handleWorkerChunk(ch chunk) {
	if ch.err != nil {
		c.handleWorkerEOF(ch.err)
		return
	}

	if c.respRewritten {
		c.deliverToOutput(ch.data)
		return
	}

	consumed := c.respBufferer.Feed(ch.data)
	if c.respBufferer.HasError() {
		c.writeErrorPage(rherrors.New(rherrors.KindProtocol, "application response header too large"), nil)
		return
	}
	if c.respBufferer.AcceptingInput() {
		c.resumeWorkerIfAble()
		return
	}

	rest := ch.data[consumed:]
	out, err := respwriter.Rewrite(c.respBufferer.GetData(), c.printStatusLine(), c.identityHeader())
	if err != nil {
		c.writeErrorPage(rherrors.Wrap(rherrors.KindProtocol, "application sent malformed response", err), nil)
		return
	}
	c.respRewritten = true
	c.deliverToOutput(out)
	if len(rest) > 0 {
		c.deliverToOutput(rest)
	}
}

func (c *Client) handleWorkerEOF(err error) {
	if !c.respRewritten && c.respBufferer.AcceptingInput() {
		c.writeErrorPage(rherrors.Wrap(rherrors.KindWorkerSocket, "application closed connection before sending a response", err), nil)
		return
	}
	c.outPipe.End()
}

// deliverToOutput writes response bytes into the client output pipe,
// applying the same commit-pause/background-op bookkeeping the request
// side uses for the body spill pipe.
func (c *Client) deliverToOutput(data []byte) {
	if len(data) == 0 {
		c.resumeWorkerIfAble()
		return
	}
	if ok := c.outPipe.Write(data); !ok {
		c.workerBlockedOnOutCommit = true
		return
	}
	c.resumeWorkerIfAble()
}

func (c *Client) resumeWorkerIfAble() {
	if !c.workerBlockedOnOutCommit && c.workerRd != nil {
		c.workerRd.Resume()
	}
}

func (c *Client) printStatusLine() bool {
	return boolOption(c.headerMap, "PASSENGER_PRINT_STATUS_LINE", c.opts.PrintStatusLine)
}

func (c *Client) identityHeader() string {
	return "X-Powered-By: " + c.opts.ServerIdentity
}
