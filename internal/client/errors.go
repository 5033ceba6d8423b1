package client

import (
	"errors"
	"strings"
	"syscall"
)

// isBrokenPipe detects EPIPE across the net.OpError/os.SyscallError
// wrapping chain net.Conn.Write produces, with a string fallback for
// platforms where syscall.EPIPE isn't comparable this way.
func isBrokenPipe(err error) bool {
	if errors.Is(err, syscall.EPIPE) {
		return true
	}
	return strings.Contains(err.Error(), "broken pipe")
}
