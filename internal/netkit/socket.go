package netkit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/weftline/corenet/internal/hook"
)

// Socket wraps a non-blocking file descriptor registered with the hook
// layer, the Go counterpart of sylar::Socket: create/bind/listen/connect
// plus recv/send that transparently fiber-yield when ctx opted into
// hooking.
type Socket struct {
	mu        sync.Mutex
	fd        int
	family    Family
	local     Address
	peer      Address
	connected bool
	closed    bool
}

// NewTCPSocket creates a non-blocking TCP socket for the given family.
func NewTCPSocket(family Family) (*Socket, error) {
	domain := unix.AF_INET
	if family == FamilyIPv6 {
		domain = unix.AF_INET6
	}
	fd, err := hook.Socket(domain, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("netkit: socket: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &Socket{fd: fd, family: family}, nil
}

// FD returns the underlying descriptor.
func (s *Socket) FD() int { return s.fd }

// IsConnected reports whether Connect/Accept has established a peer.
func (s *Socket) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected && !s.closed
}

// SetReuseAddr enables SO_REUSEADDR, mirroring the bind-before-listen setup
// every TCP server example in this module performs.
func (s *Socket) SetReuseAddr() error {
	return unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
}

// Bind binds the socket to addr.
func (s *Socket) Bind(addr Address) error {
	sa, err := addr.Sockaddr()
	if err != nil {
		return err
	}
	if err := unix.Bind(s.fd, sa); err != nil {
		return fmt.Errorf("netkit: bind %s: %w", addr, err)
	}
	s.local = addr
	return nil
}

// Listen marks the socket as a listening socket with the given backlog.
func (s *Socket) Listen(backlog int) error {
	if err := unix.Listen(s.fd, backlog); err != nil {
		return fmt.Errorf("netkit: listen: %w", err)
	}
	return nil
}

// Accept fiber-yields until a connection is ready, returning a connected
// Socket for the peer.
func (s *Socket) Accept(ctx context.Context) (*Socket, error) {
	connFD, sa, err := hook.Accept(ctx, s.fd)
	if err != nil {
		return nil, fmt.Errorf("netkit: accept: %w", err)
	}
	if err := unix.SetNonblock(connFD, true); err != nil {
		unix.Close(connFD)
		return nil, err
	}
	peer, _ := fromSockaddr(sa)
	return &Socket{fd: connFD, family: s.family, peer: peer, connected: true}, nil
}

// Connect fiber-yields until the connection completes or times out.
func (s *Socket) Connect(ctx context.Context, addr Address, timeout time.Duration) error {
	sa, err := addr.Sockaddr()
	if err != nil {
		return err
	}
	if err := hook.Connect(ctx, s.fd, sa, timeout); err != nil {
		return fmt.Errorf("netkit: connect %s: %w", addr, err)
	}
	s.mu.Lock()
	s.peer = addr
	s.connected = true
	s.mu.Unlock()
	return nil
}

// Recv reads up to len(buf) bytes, fiber-yielding on EAGAIN.
func (s *Socket) Recv(ctx context.Context, buf []byte) (int, error) {
	return hook.Read(ctx, s.fd, buf)
}

// Send performs one write of buf, fiber-yielding while the socket is not
// writable; it may write fewer than len(buf) bytes (see
// SocketStream.WriteFixSize for a loop that writes all of it).
func (s *Socket) Send(ctx context.Context, buf []byte) (int, error) {
	n, err := hook.Write(ctx, s.fd, buf)
	if err != nil {
		return n, err
	}
	return n, nil
}

// SetRecvTimeout/SetSendTimeout configure the hook layer's per-fd
// deadlines, the equivalent of setsockopt(SO_RCVTIMEO/SO_SNDTIMEO).
func (s *Socket) SetRecvTimeout(d time.Duration) { hook.SetTimeout(s.fd, hook.RecvTimeout, d) }
func (s *Socket) SetSendTimeout(d time.Duration) { hook.SetTimeout(s.fd, hook.SendTimeout, d) }

// Close releases the descriptor and its hook bookkeeping.
func (s *Socket) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return hook.Close(ctx, s.fd)
}

func fromSockaddr(sa unix.Sockaddr) (Address, error) {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return Address{Family: FamilyIPv4, IP: append([]byte(nil), v.Addr[:]...), Port: v.Port}, nil
	case *unix.SockaddrInet6:
		return Address{Family: FamilyIPv6, IP: append([]byte(nil), v.Addr[:]...), Port: v.Port}, nil
	case *unix.SockaddrUnix:
		return Address{Family: FamilyUnix, Path: v.Name}, nil
	default:
		return Address{}, fmt.Errorf("netkit: unsupported sockaddr type %T", sa)
	}
}
