// Package ssrf vets hook destinations before any connection is opened.
package ssrf

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/shohag/formhook/internal/faults"
)

// Resolver turns a host name into addresses. *net.Resolver satisfies it;
// tests inject their own.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

var blockedNets = mustParseCIDRs(
	"0.0.0.0/8",     // current network
	"100.64.0.0/10", // shared address space
	"192.0.0.0/24",  // IETF protocol assignments
	"198.18.0.0/15", // benchmarking
	"240.0.0.0/4",   // reserved
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}

// Guard rejects destinations that resolve to private, loopback or
// link-local addresses unless they are explicitly allowed.
type Guard struct {
	resolver     Resolver
	allowedNets  []*net.IPNet
	allowedHosts map[string]bool
}

// NewGuard builds a guard. allowedIPs accepts single addresses or CIDRs.
func NewGuard(resolver Resolver, allowedIPs, allowedHosts []string) (*Guard, error) {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	g := &Guard{resolver: resolver, allowedHosts: map[string]bool{}}
	for _, raw := range allowedIPs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			ip := net.ParseIP(raw)
			if ip == nil {
				return nil, fmt.Errorf("ssrf: invalid allowed ip %q", raw)
			}
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			raw = fmt.Sprintf("%s/%d", ip.String(), bits)
		}
		_, n, err := net.ParseCIDR(raw)
		if err != nil {
			return nil, fmt.Errorf("ssrf: invalid allowed network %q: %w", raw, err)
		}
		g.allowedNets = append(g.allowedNets, n)
	}
	for _, h := range allowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			g.allowedHosts[h] = true
		}
	}
	return g, nil
}

// Blocked reports whether ip lies in a range hooks may not reach.
func Blocked(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsInterfaceLocalMulticast() {
		return true
	}
	for _, n := range blockedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func (g *Guard) allowed(ip net.IP) bool {
	for _, n := range g.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Check resolves the host of rawURL and returns the address to dial. Every
// resolved address must pass, so a host cannot smuggle one internal record
// among public ones.
func (g *Guard) Check(ctx context.Context, rawURL string) (net.IP, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, faults.NewSSRFBlocked(rawURL, "invalid url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, faults.NewSSRFBlocked(u.Host, fmt.Sprintf("scheme %q not allowed", u.Scheme))
	}
	host := u.Hostname()
	if host == "" {
		return nil, faults.NewSSRFBlocked(rawURL, "empty host")
	}

	var ips []net.IP
	if ip := net.ParseIP(host); ip != nil {
		ips = []net.IP{ip}
	} else {
		addrs, err := g.resolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, faults.NewTransportFailure(fmt.Errorf("resolve %s: %w", host, err))
		}
		for _, a := range addrs {
			ips = append(ips, a.IP)
		}
	}
	if len(ips) == 0 {
		return nil, faults.NewTransportFailure(fmt.Errorf("resolve %s: no addresses", host))
	}

	if g.allowedHosts[strings.ToLower(host)] {
		return ips[0], nil
	}
	for _, ip := range ips {
		if Blocked(ip) && !g.allowed(ip) {
			return nil, faults.NewSSRFBlocked(host, fmt.Sprintf("address %s is not publicly routable", ip))
		}
	}
	return ips[0], nil
}
