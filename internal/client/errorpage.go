package client

import (
	"github.com/hexinfra/passrelay/internal/pool"
	"github.com/hexinfra/passrelay/internal/respwriter"
)

// writeErrorPage implements the Error-Response Writer (spec.md §4.6):
// render a 500 page (friendly HTML or undisclosed, per
// PASSENGER_FRIENDLY_ERROR_PAGES) and schedule it as the sole response.
// Only called before any response byte has reached the client: from the
// phases before ForwardBody, and from ForwardBody while the worker's
// response header is still being buffered.
func (c *Client) writeErrorPage(cause error, failure *respwriter.SpawnFailure) {
	c.disarmTimer()
	c.setPhase(PhaseWriteSimpleResponse)

	message := ""
	if cause != nil {
		message = cause.Error()
	}

	body, err := respwriter.ErrorPage(c.render, c.friendlyErrorPages(), respwriter.PageParams{
		AppRoot:     c.checkoutOptions.AppRoot,
		Environment: "production",
		Message:     message,
	}, failure)
	if err != nil {
		body = "Internal server error"
	}

	headerBlock := respwriter.ErrorResponseHeader(c.printStatusLineForError(), len(body))
	c.outPipe.Write(headerBlock)
	c.outPipe.Write([]byte(body))
	c.outPipe.End()
}

// writeErrorPageFromSpawnFailure adapts a pool.SpawnFailure into the
// respwriter.SpawnFailure shape, carrying its annotations and HasHTML
// flag into the friendly error page per spec.md §4.6.
func (c *Client) writeErrorPageFromSpawnFailure(f *pool.SpawnFailure) {
	c.writeErrorPage(f, &respwriter.SpawnFailure{
		Annotations: f.Annotations,
		HasHTML:     f.HasHTML,
	})
}

func (c *Client) friendlyErrorPages() bool {
	if c.headerMap == nil {
		return c.opts.FriendlyErrorPages
	}
	return boolOption(c.headerMap, "PASSENGER_FRIENDLY_ERROR_PAGES", c.opts.FriendlyErrorPages)
}

func (c *Client) printStatusLineForError() bool {
	if c.headerMap == nil {
		return c.opts.PrintStatusLine
	}
	return boolOption(c.headerMap, "PASSENGER_PRINT_STATUS_LINE", c.opts.PrintStatusLine)
}
