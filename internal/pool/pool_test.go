package pool

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func startFakeWorker(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				buf := make([]byte, 4096)
				for {
					if _, err := c.Read(buf); err != nil {
						return
					}
				}
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func TestAsyncGetDialsOnFirstCheckout(t *testing.T) {
	addr := startFakeWorker(t)
	p := New()
	p.RegisterBackend("rack", Backend{Network: "tcp", Address: addr})

	done := make(chan struct{})
	var gotErr error
	var gotSession *Session
	p.AsyncGet(context.Background(), CheckoutOptions{AppRoot: "/app", AppType: "rack"}, func(s *Session, err error) {
		gotSession, gotErr = s, err
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for AsyncGet callback")
	}
	require.NoError(t, gotErr)
	require.NotNil(t, gotSession)
	require.NotEmpty(t, gotSession.ConnectPassword())
}

func TestAsyncGetReusesReleasedSessionSynchronously(t *testing.T) {
	addr := startFakeWorker(t)
	p := New()
	p.RegisterBackend("rack", Backend{Network: "tcp", Address: addr})
	opts := CheckoutOptions{AppRoot: "/app", AppType: "rack"}

	first := make(chan *Session, 1)
	p.AsyncGet(context.Background(), opts, func(s *Session, err error) {
		require.NoError(t, err)
		first <- s
	})
	sess := <-first
	p.Release(sess)

	var reused *Session
	p.AsyncGet(context.Background(), opts, func(s *Session, err error) {
		require.NoError(t, err)
		reused = s
	})
	require.Same(t, sess, reused, "idle session should be handed back without dialing again")
}

func TestAsyncGetErrorsWithoutBackend(t *testing.T) {
	p := New()
	done := make(chan error, 1)
	p.AsyncGet(context.Background(), CheckoutOptions{AppRoot: "/app", AppType: "missing"}, func(s *Session, err error) {
		done <- err
	})
	err := <-done
	require.Error(t, err)
	var failure *SpawnFailure
	require.ErrorAs(t, err, &failure)
	require.Equal(t, "missing", failure.Annotations["app_type"])
}

func TestAsyncGetConnectionRefusedIsRetryable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close()) // nothing listens at addr from here on

	p := New()
	p.RegisterBackend("rack", Backend{Network: "tcp", Address: addr})

	done := make(chan error, 1)
	p.AsyncGet(context.Background(), CheckoutOptions{AppRoot: "/app", AppType: "rack"}, func(s *Session, err error) {
		done <- err
	})

	var gotErr error
	select {
	case gotErr = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for AsyncGet callback")
	}

	require.Error(t, gotErr)
	require.ErrorIs(t, gotErr, ErrRetryable)
	var failure *SpawnFailure
	require.ErrorAs(t, gotErr, &failure)
	require.Equal(t, addr, failure.Annotations["address"])
}

func TestReleaseOfBrokenSessionClosesRatherThanPools(t *testing.T) {
	addr := startFakeWorker(t)
	p := New()
	p.RegisterBackend("rack", Backend{Network: "tcp", Address: addr})
	opts := CheckoutOptions{AppRoot: "/app", AppType: "rack"}

	done := make(chan *Session, 1)
	p.AsyncGet(context.Background(), opts, func(s *Session, err error) {
		require.NoError(t, err)
		done <- s
	})
	sess := <-done
	sess.MarkBroken()
	p.Release(sess)

	done2 := make(chan *Session, 1)
	p.AsyncGet(context.Background(), opts, func(s *Session, err error) {
		require.NoError(t, err)
		done2 <- s
	})
	sess2 := <-done2
	require.NotSame(t, sess, sess2)
}
