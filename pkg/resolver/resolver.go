// Package resolver turns a user supplied host token into an address and an
// optional display name.
package resolver

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/Wa4h1h/lockstep-tftp/pkg/utils"
)

const (
	maxHostNameLen  = 255
	maxHostLabelLen = 63
)

// Lookuper is the subset of *net.Resolver used for name resolution.
type Lookuper interface {
	LookupAddr(ctx context.Context, addr string) ([]string, error)
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

type Host struct {
	Addr        netip.Addr
	DisplayName string
}

func (h Host) String() string {
	if h.DisplayName == "" {
		return h.Addr.String()
	}

	return fmt.Sprintf("'%s' (%s)", h.DisplayName, h.Addr)
}

type Resolver struct {
	lookup Lookuper
}

func New(lookup Lookuper) *Resolver {
	if lookup == nil {
		lookup = net.DefaultResolver
	}

	return &Resolver{lookup: lookup}
}

// Resolve maps token to an address. A literal address gets a best effort
// reverse lookup; anything else must be a valid host name that resolves.
func (r *Resolver) Resolve(ctx context.Context, token string) (Host, error) {
	token = strings.TrimSpace(token)

	if addr, err := netip.ParseAddr(token); err == nil {
		h := Host{Addr: addr}

		if names, err := r.lookup.LookupAddr(ctx, addr.String()); err == nil && len(names) > 0 {
			h.DisplayName = strings.TrimSuffix(names[0], ".")
		}

		return h, nil
	}

	name, err := ValidateHostName(token)
	if err != nil {
		return Host{}, err
	}

	addrs, err := r.lookup.LookupNetIP(ctx, "ip", name)
	if err != nil || len(addrs) == 0 {
		return Host{}, fmt.Errorf("%w: %s", utils.ErrHostUnreachable, name)
	}

	// prefer ipv4, the server listens on udp4 by default
	addr := addrs[0]
	for _, a := range addrs {
		if a.Unmap().Is4() {
			addr = a
			break
		}
	}

	return Host{Addr: addr.Unmap(), DisplayName: name}, nil
}

// ResolveUDP resolves token and attaches port.
func (r *Resolver) ResolveUDP(ctx context.Context, token string, port uint16) (*net.UDPAddr, Host, error) {
	h, err := r.Resolve(ctx, token)
	if err != nil {
		return nil, h, err
	}

	return net.UDPAddrFromAddrPort(netip.AddrPortFrom(h.Addr, port)), h, nil
}

// ValidateHostName checks the syntax of a host name and returns it with an
// optional trailing dot removed.
func ValidateHostName(name string) (string, error) {
	name = strings.TrimSuffix(name, ".")

	if name == "" || len(name) > maxHostNameLen {
		return "", fmt.Errorf("%w: %q", utils.ErrInvalidHostName, name)
	}

	for _, label := range strings.Split(name, ".") {
		if !validLabel(label) {
			return "", fmt.Errorf("%w: %q", utils.ErrInvalidHostName, name)
		}
	}

	return name, nil
}

func validLabel(label string) bool {
	if len(label) == 0 || len(label) > maxHostLabelLen {
		return false
	}

	if label[0] == '-' || label[len(label)-1] == '-' {
		return false
	}

	for i := 0; i < len(label); i++ {
		c := label[i]

		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
		default:
			return false
		}
	}

	return true
}
