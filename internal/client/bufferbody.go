package client

import (
	"github.com/hexinfra/passrelay/internal/rherrors"
	"github.com/hexinfra/passrelay/internal/spillpipe"
)

// newBodyPipe creates the client-body spill pipe used only when
// PASSENGER_BUFFERING is set. It starts paused: nothing drains it until
// ForwardBody begins writing its contents to the worker (see dispatch.go).
// OnCommit is delivered through c.bodyCommitCh rather than called
// directly, since it fires from the pipe's internal spill goroutine and
// only the driver goroutine may touch Client state (spec.md §5).
func newBodyPipe(c *Client) *spillpipe.Pipe {
	p := spillpipe.New(c.opts.SpillDir, c.opts.SpillWatermark)
	p.Tag = c.spillID + "-body"
	p.Stop()
	p.OnCommit = func(err error) {
		select {
		case c.bodyCommitCh <- err:
		default:
		}
	}
	p.OnError = func(err error) {
		c.fail(rherrors.Wrap(rherrors.KindSpillPipe, "client body spill pipe", err))
	}
	return p
}

// feedBufferedBody implements the BufferBody row of spec.md §4.4: write
// into the client-body spill pipe; if it reports spilling to disk, pause
// client input and bump the background-op counter until OnCommit fires.
func (c *Client) feedBufferedBody(data []byte) {
	if ok := c.bodyPipe.Write(data); !ok {
		c.bgOps++
		c.clientBodyBlockedOnCommit = true
		return
	}
	c.clientRd.Resume()
}

// handleBodyCommit processes a commit signal for the body spill pipe,
// relayed via c.bodyCommitCh. Mirrors the "BufferBody | spill onCommit |
// BufferBody | decrement bg-op, resume client input" row.
func (c *Client) handleBodyCommit(err error) {
	if err != nil {
		c.bodyPipe.Fail(err)
		return
	}
	c.bodyPipe.Drain()
	c.bgOps--
	if c.bgOps < 0 {
		c.bgOps = 0
	}
	c.clientBodyBlockedOnCommit = false
	if c.phase == PhaseBufferBody {
		c.clientRd.Resume()
	}
}
