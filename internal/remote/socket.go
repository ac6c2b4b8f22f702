package remote

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// listenTCP binds and listens on the given IPv4 port and returns the listen
// descriptor in non-blocking mode plus the actual bound port (useful when
// port is 0). Binding failure is unrecoverable and surfaces to the caller.
func listenTCP(port int) (fd, boundPort int, err error) {
	fd, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, 0, fmt.Errorf("creating listen socket: %w", err)
	}
	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, 0, fmt.Errorf("setting SO_REUSEADDR: %w", err)
	}
	sa := &unix.SockaddrInet4{Port: port}
	if err = unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, 0, fmt.Errorf("binding port %d: %w", port, err)
	}
	if err = unix.Listen(fd, 16); err != nil {
		unix.Close(fd)
		return -1, 0, fmt.Errorf("listening on port %d: %w", port, err)
	}
	bound, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return -1, 0, fmt.Errorf("querying bound address: %w", err)
	}
	return fd, bound.(*unix.SockaddrInet4).Port, nil
}

// dialTCP connects to host:port and returns a blocking connected socket
// descriptor. Connection failure is unrecoverable and surfaces to the
// caller.
func dialTCP(addr string) (int, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp4", addr)
	if err != nil {
		return -1, fmt.Errorf("resolving %s: %w", addr, err)
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("creating socket: %w", err)
	}
	sa := &unix.SockaddrInet4{Port: tcpAddr.Port}
	copy(sa.Addr[:], tcpAddr.IP.To4())
	if err := unix.Connect(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return fd, nil
}
