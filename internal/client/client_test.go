package client

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hexinfra/passrelay/internal/config"
	"github.com/hexinfra/passrelay/internal/header"
	"github.com/hexinfra/passrelay/internal/logging"
	"github.com/hexinfra/passrelay/internal/pool"
	"github.com/hexinfra/passrelay/internal/respwriter"
)

const testPassword = "sekret"

func testOptions() *config.Options {
	o := config.NewOptions()
	o.RequestSocketPassword = []byte(testPassword)
	o.Timeouts.Password = 2 * time.Second
	return o
}

// encodeSCGIHeader builds a netstring-framed request header block from
// alternating key/value pairs, the same wire shape a real client sends
// ahead of the request body.
func encodeSCGIHeader(pairs ...string) []byte {
	m := header.NewMap()
	for i := 0; i+1 < len(pairs); i += 2 {
		m.Set(pairs[i], pairs[i+1])
	}
	body := m.Serialize()
	out := []byte(itoa(len(body)))
	out = append(out, ':')
	out = append(out, body...)
	out = append(out, ',')
	return out
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

// newClientPair returns a real loopback TCP connection pair so tests can
// exercise half-close (CloseWrite) the way an actual client socket would;
// clientSide plays the remote client, serverSide is handed to a Client.
func newClientPair(t *testing.T) (clientSide, serverSide net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	clientSide, err = net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	serverSide = <-accepted
	return clientSide, serverSide
}

// startFakeWorkerListener starts a TCP listener whose accepted connections
// are handed to handle, mirroring a worker application process.
func startFakeWorkerListener(t *testing.T, handle func(conn net.Conn, frame []byte)) string {
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
				frame := readDispatchFrame(t, c)
				handle(c, frame)
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func readDispatchFrame(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(conn, lenBuf); err != nil {
		return nil
	}
	n := binary.BigEndian.Uint32(lenBuf)
	payload := make([]byte, n)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return nil
	}
	return payload
}

// newTestPool builds a real pool.Pool wired to a fake worker listener for
// the given app type, satisfying the Client's Pool interface end to end.
func newTestPool(t *testing.T, appType, addr string) *pool.Pool {
	p := pool.New()
	p.RegisterBackend(appType, pool.Backend{Network: "tcp", Address: addr})
	return p
}

func newTestClient(opts *config.Options, conn net.Conn, p Pool) *Client {
	return New(1, conn, opts, p, respwriter.DefaultRenderer{}, logging.Nop())
}

func readAll(t *testing.T, conn net.Conn, timeout time.Duration) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))
	var out []byte
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		out = append(out, buf[:n]...)
		if err != nil {
			return out
		}
	}
}

func TestHappyPathNoBuffering(t *testing.T) {
	addr := startFakeWorkerListener(t, func(conn net.Conn, frame []byte) {
		require.Contains(t, string(frame), "PASSENGER_CONNECT_PASSWORD")
		conn.Write([]byte("Status: 200 OK\r\nContent-Type: text/plain\r\n\r\nhello"))
		conn.Close()
	})
	p := newTestPool(t, "rack", addr)

	clientConn, serverConn := newClientPair(t)
	cl := newTestClient(testOptions(), serverConn, p)

	done := make(chan struct{})
	go func() { cl.Run(); close(done) }()

	clientConn.Write([]byte(testPassword))
	clientConn.Write(encodeSCGIHeader(
		"CONTENT_LENGTH", "0",
		"PASSENGER_APP_ROOT", "/app",
		"PASSENGER_APP_TYPE", "rack",
	))

	resp := readAll(t, clientConn, 2*time.Second)
	require.Contains(t, string(resp), "HTTP/1.1 200 OK")
	require.Contains(t, string(resp), "hello")

	<-done
	require.Equal(t, PhaseDisconnected, cl.phase)
}

func TestWrongPasswordDisconnects(t *testing.T) {
	p := newTestPool(t, "rack", "127.0.0.1:1")
	clientConn, serverConn := newClientPair(t)
	cl := newTestClient(testOptions(), serverConn, p)

	done := make(chan struct{})
	go func() { cl.Run(); close(done) }()

	clientConn.Write([]byte("wrongpw"))

	resp := readAll(t, clientConn, 2*time.Second)
	require.Empty(t, resp)
	<-done
	require.Equal(t, PhaseDisconnected, cl.phase)
	require.Nil(t, cl.session)
}

func TestPasswordTimeoutDisconnects(t *testing.T) {
	opts := testOptions()
	opts.Timeouts.Password = 30 * time.Millisecond
	p := newTestPool(t, "rack", "127.0.0.1:1")
	clientConn, serverConn := newClientPair(t)
	cl := newTestClient(opts, serverConn, p)

	done := make(chan struct{})
	go func() { cl.Run(); close(done) }()

	buf := make([]byte, 1)
	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := clientConn.Read(buf)
	require.ErrorIs(t, err, io.EOF)
	<-done
}

func TestBufferedBodyWithDiskSpill(t *testing.T) {
	bodyLen := 4096
	body := make([]byte, bodyLen)
	for i := range body {
		body[i] = byte('a' + i%26)
	}

	received := make(chan []byte, 1)
	addr := startFakeWorkerListener(t, func(conn net.Conn, frame []byte) {
		got := make([]byte, bodyLen)
		if _, err := io.ReadFull(conn, got); err == nil {
			received <- got
		} else {
			received <- nil
		}
		conn.Write([]byte("Status: 200 OK\r\n\r\nok"))
		conn.Close()
	})
	p := newTestPool(t, "rack", addr)

	opts := testOptions()
	opts.SpillWatermark = 64 // force spilling well before the full body arrives
	clientConn, serverConn := newClientPair(t)
	cl := newTestClient(opts, serverConn, p)

	done := make(chan struct{})
	go func() { cl.Run(); close(done) }()

	clientConn.Write([]byte(testPassword))
	clientConn.Write(encodeSCGIHeader(
		"CONTENT_LENGTH", itoa(bodyLen),
		"PASSENGER_APP_ROOT", "/app",
		"PASSENGER_APP_TYPE", "rack",
		"PASSENGER_BUFFERING", "true",
	))
	clientConn.Write(body)
	clientConn.(*net.TCPConn).CloseWrite()

	select {
	case got := <-received:
		require.Equal(t, body, got)
	case <-time.After(3 * time.Second):
		t.Fatal("worker never received the full buffered body")
	}

	readAll(t, clientConn, 2*time.Second)
	<-done
}

func TestCheckoutFailureRendersFriendlyErrorPage(t *testing.T) {
	p := pool.New() // no backend registered for "rack"
	clientConn, serverConn := newClientPair(t)
	cl := newTestClient(testOptions(), serverConn, p)

	done := make(chan struct{})
	go func() { cl.Run(); close(done) }()

	clientConn.Write([]byte(testPassword))
	clientConn.Write(encodeSCGIHeader(
		"CONTENT_LENGTH", "0",
		"PASSENGER_APP_ROOT", "/app",
		"PASSENGER_APP_TYPE", "rack",
	))

	resp := readAll(t, clientConn, 2*time.Second)
	require.Contains(t, string(resp), "HTTP/1.1 500")
	require.Contains(t, string(resp), "Web application could not be started")
	require.Contains(t, string(resp), "rack")
	<-done
}

// flakyPool fails AsyncGet with a retryable error a fixed number of
// times before delegating to a real pool.Pool, letting tests drive the
// CheckoutSession retry loop deterministically instead of racing real
// sockets to simulate a transiently-unreachable backend.
type flakyPool struct {
	real         *pool.Pool
	failuresLeft int
}

func (f *flakyPool) AsyncGet(ctx context.Context, opts pool.CheckoutOptions, callback func(*pool.Session, error)) {
	if f.failuresLeft > 0 {
		f.failuresLeft--
		callback(nil, fmt.Errorf("%w: simulated transient failure", pool.ErrRetryable))
		return
	}
	f.real.AsyncGet(ctx, opts, callback)
}

// alwaysRetryablePool always reports the same retryable failure, used to
// drive CheckoutSession past MaxCheckoutAttempts.
type alwaysRetryablePool struct{}

func (alwaysRetryablePool) AsyncGet(ctx context.Context, opts pool.CheckoutOptions, callback func(*pool.Session, error)) {
	callback(nil, fmt.Errorf("%w: simulated transient failure", pool.ErrRetryable))
}

func TestCheckoutRetriesThenSucceeds(t *testing.T) {
	addr := startFakeWorkerListener(t, func(conn net.Conn, frame []byte) {
		conn.Write([]byte("Status: 200 OK\r\n\r\nrecovered"))
		conn.Close()
	})
	real := newTestPool(t, "rack", addr)
	p := &flakyPool{real: real, failuresLeft: 2}

	clientConn, serverConn := newClientPair(t)
	cl := newTestClient(testOptions(), serverConn, p)

	done := make(chan struct{})
	go func() { cl.Run(); close(done) }()

	clientConn.Write([]byte(testPassword))
	clientConn.Write(encodeSCGIHeader(
		"CONTENT_LENGTH", "0",
		"PASSENGER_APP_ROOT", "/app",
		"PASSENGER_APP_TYPE", "rack",
	))

	resp := readAll(t, clientConn, 2*time.Second)
	require.Contains(t, string(resp), "HTTP/1.1 200 OK")
	require.Contains(t, string(resp), "recovered")

	<-done
	require.Equal(t, 3, cl.checkoutAttempt, "expected 2 retries (attempts 1-2) before the 3rd attempt succeeded")
}

func TestCheckoutExhaustsRetriesAndDisconnects(t *testing.T) {
	opts := testOptions()
	opts.MaxCheckoutAttempts = 3
	p := alwaysRetryablePool{}

	clientConn, serverConn := newClientPair(t)
	cl := newTestClient(opts, serverConn, p)

	done := make(chan struct{})
	go func() { cl.Run(); close(done) }()

	clientConn.Write([]byte(testPassword))
	clientConn.Write(encodeSCGIHeader(
		"CONTENT_LENGTH", "0",
		"PASSENGER_APP_ROOT", "/app",
		"PASSENGER_APP_TYPE", "rack",
	))

	resp := readAll(t, clientConn, 2*time.Second)
	require.Empty(t, resp, "exhausted retries should disconnect without a response")

	<-done
	require.Equal(t, PhaseDisconnected, cl.phase)
	require.Equal(t, 3, cl.checkoutAttempt)
}

func TestMissingReasonPhraseIsSynthesized(t *testing.T) {
	addr := startFakeWorkerListener(t, func(conn net.Conn, frame []byte) {
		conn.Write([]byte("Status: 404\r\n\r\nnot found"))
		conn.Close()
	})
	p := newTestPool(t, "rack", addr)

	clientConn, serverConn := newClientPair(t)
	cl := newTestClient(testOptions(), serverConn, p)

	done := make(chan struct{})
	go func() { cl.Run(); close(done) }()

	clientConn.Write([]byte(testPassword))
	clientConn.Write(encodeSCGIHeader(
		"CONTENT_LENGTH", "0",
		"PASSENGER_APP_ROOT", "/app",
		"PASSENGER_APP_TYPE", "rack",
	))

	resp := readAll(t, clientConn, 2*time.Second)
	require.Contains(t, string(resp), "HTTP/1.1 404 Not Found")
	require.Contains(t, string(resp), "Status: 404 Not Found")
	<-done
}
