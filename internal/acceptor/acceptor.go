//go:build linux

// Package acceptor implements the connection acceptor described in
// spec.md §4.7: a listening socket polled for readiness, pulling up to a
// configured burst of pending connections off it per wakeup before
// yielding. Grounded on the raw socket+epoll+accept4 loop in
// other_examples/goceleris-benchmarks__http1.go
// (acceptConnections/eventLoop), scoped to just the listening socket —
// once a connection is accepted it's handed off as an ordinary net.Conn
// so that every Client's own I/O runs through the Go runtime's poller via
// the goroutine-per-Client model in internal/client, rather than a
// second hand-rolled reactor.
package acceptor

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// Acceptor owns a non-blocking listening socket and an epoll instance
// watching only that one fd.
type Acceptor struct {
	fd      int
	epollFd int
	burst   int
}

// New binds and listens on network ("tcp", "tcp4", "tcp6" or "unix") at
// address, accepting up to burst connections per readiness notification
// before yielding control back to Run's caller.
func New(network, address string, burst int) (*Acceptor, error) {
	if burst <= 0 {
		burst = 10
	}

	sockaddr, family, err := resolveSockaddr(network, address)
	if err != nil {
		return nil, err
	}
	if network == "unix" {
		os.Remove(address) // stale socket file from a prior run
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("acceptor: socket: %w", err)
	}
	if family != unix.AF_UNIX {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	}
	if err := unix.Bind(fd, sockaddr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("acceptor: bind %s %s: %w", network, address, err)
	}
	if err := unix.Listen(fd, 1024); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("acceptor: listen: %w", err)
	}

	epollFd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("acceptor: epoll_create1: %w", err)
	}
	event := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(epollFd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
		unix.Close(epollFd)
		unix.Close(fd)
		return nil, fmt.Errorf("acceptor: epoll_ctl add: %w", err)
	}

	return &Acceptor{fd: fd, epollFd: epollFd, burst: burst}, nil
}

// Run blocks, waiting for the listening socket to become readable and
// invoking handle for each connection accepted, until the acceptor is
// closed or a non-EAGAIN accept error occurs.
func (a *Acceptor) Run(handle func(net.Conn)) error {
	events := make([]unix.EpollEvent, 1)
	for {
		_, err := unix.EpollWait(a.epollFd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("acceptor: epoll_wait: %w", err)
		}
		if err := a.acceptBurst(handle); err != nil {
			return err
		}
	}
}

// acceptBurst pulls up to a.burst connections off the listening socket,
// matching spec.md §4.7: "accept up to AcceptBurst per tick, fatal on any
// non-EAGAIN error".
func (a *Acceptor) acceptBurst(handle func(net.Conn)) error {
	for i := 0; i < a.burst; i++ {
		connFd, _, err := unix.Accept4(a.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err == unix.ENOSYS {
			// No accept4: plain accept, then set the flags explicitly.
			if connFd, _, err = unix.Accept(a.fd); err == nil {
				unix.CloseOnExec(connFd)
				if err = unix.SetNonblock(connFd, true); err != nil {
					unix.Close(connFd)
				}
			}
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return nil
			}
			return fmt.Errorf("acceptor: accept4: %w", err)
		}

		file := os.NewFile(uintptr(connFd), "passrelay-accepted-conn")
		conn, err := net.FileConn(file)
		file.Close() // net.FileConn dup()s the fd; our reference is no longer needed
		if err != nil {
			continue
		}
		handle(conn)
	}
	return nil
}

// Addr reports the address the listening socket is actually bound to,
// useful when address asked for an ephemeral port ("host:0").
func (a *Acceptor) Addr() string {
	sa, err := unix.Getsockname(a.fd)
	if err != nil {
		return ""
	}
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(v.Addr[:]).String(), strconv.Itoa(v.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(v.Addr[:]).String(), strconv.Itoa(v.Port))
	case *unix.SockaddrUnix:
		return v.Name
	default:
		return ""
	}
}

// Close releases the listening socket and the epoll instance.
func (a *Acceptor) Close() error {
	unix.Close(a.epollFd)
	return unix.Close(a.fd)
}

func resolveSockaddr(network, address string) (unix.Sockaddr, int, error) {
	switch network {
	case "unix":
		return &unix.SockaddrUnix{Name: address}, unix.AF_UNIX, nil
	case "tcp", "tcp4", "tcp6":
		addr, err := net.ResolveTCPAddr("tcp", address)
		if err != nil {
			return nil, 0, fmt.Errorf("acceptor: resolve %q: %w", address, err)
		}
		if ip4 := addr.IP.To4(); ip4 != nil && network != "tcp6" {
			sa := &unix.SockaddrInet4{Port: addr.Port}
			copy(sa.Addr[:], ip4)
			return sa, unix.AF_INET, nil
		}
		ip16 := addr.IP.To16()
		if ip16 == nil {
			ip16 = net.IPv6zero
		}
		sa := &unix.SockaddrInet6{Port: addr.Port}
		copy(sa.Addr[:], ip16)
		return sa, unix.AF_INET6, nil
	default:
		return nil, 0, fmt.Errorf("acceptor: unsupported network %q", network)
	}
}
