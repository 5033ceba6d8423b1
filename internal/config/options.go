// Package config holds the in-process options that drive the request-
// forwarding core. Loading these from a file or CLI is explicitly out of
// scope (spec.md §1); this package only fills sane defaults for whatever
// the embedder did not set, following gorox's
// ConfigureBool/ConfigureInt64/ConfigureDuration defaulting idiom
// (hemi/internal/component.go) collapsed into a single struct method.
package config

import "time"

// Timeouts bundles the per-phase deadlines applied to a Client's single
// reusable timer. Zero means "no timeout for this phase", matching the
// upstream behavior of only ever visibly arming the password-read timer
// (spec.md §9, Open Question 1).
type Timeouts struct {
	Password    time.Duration
	Checkout    time.Duration
	HeaderSend  time.Duration
	IdleForward time.Duration
}

// Options configures a RequestHandler and the Clients it drives.
type Options struct {
	// RequestSocketPassword is the fixed-length shared secret clients must
	// present byte-for-byte before anything else is read from them.
	RequestSocketPassword []byte

	// ServerIdentity is the value used to build the X-Powered-By-style
	// response header appended by the response rewriter.
	ServerIdentity string

	// SpillDir is where spillable pipes create their overflow files.
	SpillDir string
	// SpillWatermark is the number of in-memory bytes a spillable pipe
	// holds before it starts writing to disk.
	SpillWatermark int

	// AcceptBurst caps how many connections the acceptor pulls off the
	// listener per wakeup before yielding, per spec.md §4.7.
	AcceptBurst int

	// MaxCheckoutAttempts bounds session-initiation retries (spec.md §4,
	// CheckoutSession row; original_source carries the literal value 10).
	MaxCheckoutAttempts int

	Timeouts Timeouts

	// FriendlyErrorPages and PrintStatusLine are the global defaults used
	// when a request doesn't override them via PASSENGER_FRIENDLY_ERROR_PAGES
	// / PASSENGER_PRINT_STATUS_LINE.
	FriendlyErrorPages bool
	PrintStatusLine    bool

	// MaxHeaderSize bounds the SCGI-style request header block.
	MaxHeaderSize int
	// MaxResponseHeaderSize bounds the worker's HTTP-style response header
	// block buffered before passthrough begins.
	MaxResponseHeaderSize int
}

// FillDefaults mutates o, filling in any zero-valued field with the
// upstream-equivalent default.
func (o *Options) FillDefaults() {
	if o.ServerIdentity == "" {
		o.ServerIdentity = "passrelay/1.0"
	}
	if o.SpillDir == "" {
		o.SpillDir = "/tmp"
	}
	if o.SpillWatermark <= 0 {
		o.SpillWatermark = 128 * 1024
	}
	if o.AcceptBurst <= 0 {
		o.AcceptBurst = 10
	}
	if o.MaxCheckoutAttempts <= 0 {
		o.MaxCheckoutAttempts = 10
	}
	if o.Timeouts.Password <= 0 {
		o.Timeouts.Password = 15 * time.Second
	}
	if o.MaxHeaderSize <= 0 {
		o.MaxHeaderSize = 64 * 1024
	}
	if o.MaxResponseHeaderSize <= 0 {
		o.MaxResponseHeaderSize = 64 * 1024
	}
	// FriendlyErrorPages and PrintStatusLine default true; since bool zero
	// value is false, callers use NewOptions to get the true default and
	// FillDefaults leaves explicit false alone.
}

// NewOptions returns an Options with every default applied, including the
// two booleans that default true (PASSENGER_FRIENDLY_ERROR_PAGES and
// PASSENGER_PRINT_STATUS_LINE per spec.md §6).
func NewOptions() *Options {
	o := &Options{
		FriendlyErrorPages: true,
		PrintStatusLine:    true,
	}
	o.FillDefaults()
	return o
}
