// TCP listener with an explicit accept backlog.
//
// net.Listen always asks the kernel for the system maximum backlog. The
// daemon wants a small fixed queue, so the socket is built with
// golang.org/x/sys/unix and handed to the runtime poller via net.FileListener.

//go:build unix

package listener

import (
	"fmt"
	"net"
	"net/netip"
	"os"

	"golang.org/x/sys/unix"
)

// ///////////////////////////////////////////////
// Listen
// ///////////////////////////////////////////////

// Listen binds a TCP listener on the literal address and port with the given
// backlog. No name resolution takes place: address must be an IP literal.
// Port 0 binds an ephemeral port.
func Listen(address string, port, backlog int) (net.Listener, error) {
	ap, err := Resolve(address, port)
	if err != nil {
		return nil, err
	}

	domain, sa := sockaddr(ap)
	fd, err := unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	unix.CloseOnExec(fd)

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", ap, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listen %s: %w", ap, err)
	}

	// net.FileListener dups the descriptor; f owns the original.
	f := os.NewFile(uintptr(fd), "tcp:"+ap.String())
	defer f.Close()
	ln, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", ap, err)
	}
	return ln, nil
}

// Resolve converts a literal address and numeric port into an AddrPort.
// IPv4-mapped IPv6 addresses are unmapped.
func Resolve(address string, port int) (netip.AddrPort, error) {
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("resolve %q: not a numeric address: %w", address, err)
	}
	if port < 0 || port > 65535 {
		return netip.AddrPort{}, fmt.Errorf("resolve port %d: out of range", port)
	}
	return netip.AddrPortFrom(addr.Unmap(), uint16(port)), nil
}

// sockaddr returns the socket domain and address for ap.
func sockaddr(ap netip.AddrPort) (int, unix.Sockaddr) {
	if ap.Addr().Is4() {
		return unix.AF_INET, &unix.SockaddrInet4{Port: int(ap.Port()), Addr: ap.Addr().As4()}
	}
	return unix.AF_INET6, &unix.SockaddrInet6{Port: int(ap.Port()), Addr: ap.Addr().As16()}
}
