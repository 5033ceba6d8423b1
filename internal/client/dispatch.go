package client

import (
	"encoding/binary"

	"github.com/hexinfra/passrelay/internal/header"
	"github.com/hexinfra/passrelay/internal/rherrors"
)

// buildDispatchFrame assembles the bytes sent to the worker per spec.md §4
// "Worker dispatch frame": a 32-bit big-endian length prefix (covering only
// the payload), the (possibly rebuilt) header block, then two appended
// null-terminated strings PASSENGER_CONNECT_PASSWORD and the session's
// connect password.
func buildDispatchFrame(parser *header.Parser, modified bool, connectPassword string) []byte {
	headerBlock := parser.RebuildData(modified)

	const key = "PASSENGER_CONNECT_PASSWORD"
	payloadLen := len(headerBlock) + len(key) + 1 + len(connectPassword) + 1

	frame := make([]byte, 4, 4+payloadLen)
	binary.BigEndian.PutUint32(frame, uint32(payloadLen))
	frame = append(frame, headerBlock...)
	frame = append(frame, key...)
	frame = append(frame, 0)
	frame = append(frame, connectPassword...)
	frame = append(frame, 0)
	return frame
}

// beginSendHeaderToApp writes the dispatch frame to the worker socket and
// proceeds to ForwardBody. A blocking Write is the idiomatic Go stand-in
// for the original's "flush header buffer on worker-writable" loop
// (spec.md §9: Go's blocking net.Conn.Write already provides the
// equivalent backpressure).
func (c *Client) beginSendHeaderToApp() {
	c.setPhase(PhaseSendHeaderToApp)
	c.armTimer(c.opts.Timeouts.HeaderSend)

	c.workerConn = c.session.Conn()
	frame := buildDispatchFrame(c.headerParser, c.headerModified, c.session.ConnectPassword())

	if _, err := c.workerConn.Write(frame); err != nil {
		c.disconnect(rherrors.Wrap(rherrors.KindWorkerSocket, "writing header to application", err))
		return
	}

	c.beginForwardBody()
}

func (c *Client) beginForwardBody() {
	c.disarmTimer()
	c.setPhase(PhaseForwardBody)
	c.armTimer(c.opts.Timeouts.IdleForward)

	c.workerRd = newReader(c.workerConn)
	c.respBufferer = newRespBufferer(c.opts.MaxResponseHeaderSize)

	if c.buffering {
		c.bodyPipe.OnData = c.onBodyPipeData
		c.bodyPipe.OnEnd = c.onClientBodyDone
		c.bodyPipe.Start()
		return
	}

	if len(c.pendingClientBody) > 0 {
		pending := c.pendingClientBody
		c.pendingClientBody = nil
		c.writeToWorker(pending)
	}
	if c.contentLen == 0 {
		c.onClientBodyDone()
		return
	}
	c.clientRd.Resume()
}
