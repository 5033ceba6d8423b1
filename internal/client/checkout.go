package client

import (
	"context"
	"errors"

	"github.com/hexinfra/passrelay/internal/pool"
	"github.com/hexinfra/passrelay/internal/rherrors"
)

// beginCheckout enters CheckoutSession and asks the pool for a session.
// Per spec.md §5 ("asyncGet may fire synchronously or asynchronously"),
// AsyncGet's callback always lands on c.checkoutCh so the driver handles
// both cases identically; this also satisfies "must hop back onto the
// event-loop thread before touching Client state" without any special
// casing.
func (c *Client) beginCheckout() {
	c.setPhase(PhaseCheckoutSession)
	c.checkoutAttempt++
	c.armTimer(c.opts.Timeouts.Checkout)

	ctx := context.Background()
	c.pool.AsyncGet(ctx, c.checkoutOptions, func(sess *pool.Session, err error) {
		c.checkoutCh <- checkoutResult{session: sess, err: err}
	})
}

func (c *Client) handleCheckoutResult(sess *pool.Session, err error) {
	c.disarmTimer()
	if err == nil {
		c.session = sess
		c.beginSendHeaderToApp()
		return
	}

	if errors.Is(err, pool.ErrRetryable) && c.checkoutAttempt < c.opts.MaxCheckoutAttempts {
		c.beginCheckout()
		return
	}
	if c.checkoutAttempt >= c.opts.MaxCheckoutAttempts {
		c.disconnect(rherrors.Wrap(rherrors.KindSessionCheckout, "exceeded maximum checkout attempts", err))
		return
	}

	var failure *pool.SpawnFailure
	if errors.As(err, &failure) {
		c.writeErrorPageFromSpawnFailure(failure)
		return
	}
	c.writeErrorPage(rherrors.Wrap(rherrors.KindSessionCheckout, "session checkout failed", err), nil)
}
