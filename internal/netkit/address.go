// Package netkit provides the address/socket/stream layer: parsing and
// resolving "host:port"/"[ipv6]:port"/unix-path endpoints, a non-blocking
// socket wrapper registered with the hook layer, and a stream abstraction
// with exact-length read/write helpers. Grounded on the original's
// Address/Socket/SocketStream trio, re-expressed with net.Addr-flavored
// types plus unix fds instead of sockaddr structs.
package netkit

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Family distinguishes the address families this module resolves to.
type Family int

const (
	FamilyIPv4 Family = iota
	FamilyIPv6
	FamilyUnix
)

// Address is a resolved endpoint: an IPv4/IPv6 socket address or a Unix
// domain socket path, carrying enough information to build a
// unix.Sockaddr for bind/connect.
type Address struct {
	Family Family
	IP     net.IP
	Port   int
	Path   string // FamilyUnix only
}

// String renders the address the way the original's toString() does:
// "ip:port", "[ipv6]:port", or a bare path for Unix sockets.
func (a Address) String() string {
	switch a.Family {
	case FamilyUnix:
		return a.Path
	case FamilyIPv6:
		return fmt.Sprintf("[%s]:%d", a.IP.String(), a.Port)
	default:
		return fmt.Sprintf("%s:%d", a.IP.String(), a.Port)
	}
}

// Sockaddr converts the Address into the unix package's sockaddr
// representation for use with bind(2)/connect(2).
func (a Address) Sockaddr() (unix.Sockaddr, error) {
	switch a.Family {
	case FamilyUnix:
		return &unix.SockaddrUnix{Name: a.Path}, nil
	case FamilyIPv6:
		var sa unix.SockaddrInet6
		ip := a.IP.To16()
		if ip == nil {
			return nil, fmt.Errorf("netkit: %q is not a valid IPv6 address", a.IP)
		}
		copy(sa.Addr[:], ip)
		sa.Port = a.Port
		return &sa, nil
	default:
		var sa unix.SockaddrInet4
		ip := a.IP.To4()
		if ip == nil {
			return nil, fmt.Errorf("netkit: %q is not a valid IPv4 address", a.IP)
		}
		copy(sa.Addr[:], ip)
		sa.Port = a.Port
		return &sa, nil
	}
}

// ParseUnix builds a Unix domain socket Address from a filesystem path.
func ParseUnix(path string) Address {
	return Address{Family: FamilyUnix, Path: path}
}

// Parse splits "host:port" or "[ipv6]:port" the way the original's
// Lookup() does before handing the host part to getaddrinfo: bracket
// stripping for IPv6 literals, single-colon splitting for IPv4/hostnames.
func Parse(hostport string) (host string, port int, isV6Literal bool, err error) {
	if strings.HasPrefix(hostport, "[") {
		end := strings.IndexByte(hostport, ']')
		if end < 0 {
			return "", 0, false, fmt.Errorf("netkit: unterminated IPv6 literal in %q", hostport)
		}
		host = hostport[1:end]
		rest := hostport[end+1:]
		if strings.HasPrefix(rest, ":") {
			p, perr := strconv.Atoi(rest[1:])
			if perr != nil {
				return "", 0, false, fmt.Errorf("netkit: invalid port in %q: %w", hostport, perr)
			}
			port = p
		}
		return host, port, true, nil
	}

	idx := strings.LastIndexByte(hostport, ':')
	if idx < 0 {
		return hostport, 0, false, nil
	}
	host = hostport[:idx]
	p, perr := strconv.Atoi(hostport[idx+1:])
	if perr != nil {
		return "", 0, false, fmt.Errorf("netkit: invalid port in %q: %w", hostport, perr)
	}
	return host, p, false, nil
}

// Lookup resolves hostport into every matching Address, the Go equivalent
// of Address::Lookup's getaddrinfo loop via net.DefaultResolver.
func Lookup(ctx context.Context, hostport string) ([]Address, error) {
	host, port, isV6Literal, err := Parse(hostport)
	if err != nil {
		return nil, err
	}

	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("netkit: lookup %q: %w", hostport, err)
	}

	out := make([]Address, 0, len(ips))
	for _, ip := range ips {
		fam := FamilyIPv4
		if ip.To4() == nil {
			fam = FamilyIPv6
		} else if isV6Literal {
			// an IPv4-mapped literal explicitly bracketed stays IPv6
			fam = FamilyIPv6
		}
		out = append(out, Address{Family: fam, IP: ip, Port: port})
	}
	return out, nil
}

// LookupAny returns the first resolved Address, mirroring
// Address::LookupAny.
func LookupAny(ctx context.Context, hostport string) (Address, error) {
	addrs, err := Lookup(ctx, hostport)
	if err != nil {
		return Address{}, err
	}
	if len(addrs) == 0 {
		return Address{}, fmt.Errorf("netkit: no addresses resolved for %q", hostport)
	}
	return addrs[0], nil
}
