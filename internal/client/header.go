package client

import (
	"strconv"

	"github.com/hexinfra/passrelay/internal/header"
	"github.com/hexinfra/passrelay/internal/pool"
	"github.com/hexinfra/passrelay/internal/rherrors"
)

func newHeaderParser(maxSize int) *header.Parser {
	return header.NewParser(maxSize)
}

func (c *Client) feedHeader(data []byte) {
	consumed := c.headerParser.Feed(data)

	if c.headerParser.HasError() {
		if c.headerParser.GetErrorReason() == header.ErrorLimitReached {
			c.disconnect(rherrors.New(rherrors.KindProtocol, "SCGI header too large"))
		} else {
			c.disconnect(rherrors.New(rherrors.KindProtocol, "invalid SCGI header"))
		}
		return
	}

	if c.headerParser.AcceptingInput() {
		return
	}

	leftover := data[consumed:]
	c.onHeaderComplete(leftover)
}

// onHeaderComplete implements "Header normalization (ReadHeader
// completion)" from spec.md §4.4: HTTP_CONTENT_LENGTH/HTTP_CONTENT_TYPE
// get folded into their non-HTTP_-prefixed counterparts, and the choice
// to buffer the body is read from PASSENGER_BUFFERING.
func (c *Client) onHeaderComplete(leftover []byte) {
	m := c.headerParser.GetMap()
	modified := false

	modified = foldHeader(m, "HTTP_CONTENT_LENGTH", "CONTENT_LENGTH") || modified
	modified = foldHeader(m, "HTTP_CONTENT_TYPE", "CONTENT_TYPE") || modified
	if modified {
		c.headerParser.MarkModified()
	}
	c.headerModified = modified

	c.headerMap = m
	c.buffering = boolOption(m, "PASSENGER_BUFFERING", false)
	c.contentLen = -1
	if v, ok := m.Get("CONTENT_LENGTH"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.contentLen = n
		}
	}
	c.bodyRemain = c.contentLen

	c.checkoutOptions = checkoutOptionsFromHeader(m)

	if c.buffering && c.contentLen != 0 {
		c.setPhase(PhaseBufferBody)
		c.bodyPipe = newBodyPipe(c)
		if len(leftover) > 0 {
			c.feedBufferedBody(leftover)
		} else {
			c.clientRd.Resume()
		}
		return
	}

	// Non-buffering (or zero-length body): go straight to checkout. Any
	// body bytes that arrived bundled with the header wait in
	// pendingClientBody for ForwardBody.
	c.buffering = false
	if len(leftover) > 0 {
		c.pendingClientBody = append(c.pendingClientBody, leftover...)
	}
	c.beginCheckout()
}

// foldHeader implements rule 1 of header normalization: if src exists,
// move it to dst when dst is absent, otherwise drop it.
func foldHeader(m *header.Map, src, dst string) bool {
	v, ok := m.Get(src)
	if !ok {
		return false
	}
	if _, exists := m.Get(dst); !exists {
		m.Set(dst, v)
	}
	m.Delete(src)
	return true
}

func boolOption(m *header.Map, name string, def bool) bool {
	v, ok := m.Get(name)
	if !ok {
		return def
	}
	return v == "true"
}

// checkoutOptionsFromHeader copies the PASSENGER_* pool-option
// passthroughs spec.md §4 names (CheckoutSession row) from the parsed
// request header into a pool.CheckoutOptions.
func checkoutOptionsFromHeader(m *header.Map) pool.CheckoutOptions {
	get := func(name string) string {
		v, _ := m.Get(name)
		return v
	}
	return pool.CheckoutOptions{
		AppRoot:          get("PASSENGER_APP_ROOT"),
		AppType:          get("PASSENGER_APP_TYPE"),
		SpawnMethod:      get("PASSENGER_SPAWN_METHOD"),
		StartCommand:     get("PASSENGER_START_COMMAND"),
		LoadShellEnvvars: boolOption(m, "PASSENGER_LOAD_SHELL_ENVVARS", false),
	}
}
