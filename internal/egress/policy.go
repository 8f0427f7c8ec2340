// Package egress enforces the outbound HTTP policy for tenant-configured
// endpoints (custom tools, MCP servers): scheme and credential checks, an
// optional host allowlist, and SSRF protection against private address space.
package egress

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"
)

const resolveTimeout = 1500 * time.Millisecond

// PolicyError is any egress policy violation.
type PolicyError struct {
	Reason string
}

func (e *PolicyError) Error() string { return "egress blocked: " + e.Reason }

// Policy validates destination URLs before any outbound request.
type Policy struct {
	allowlist []string
	resolver  *net.Resolver
}

// NewPolicy builds a policy with an explicit allowlist. Empty allowlist means
// any public host is permitted.
func NewPolicy(allowlist []string) *Policy {
	cleaned := make([]string, 0, len(allowlist))
	for _, h := range allowlist {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			cleaned = append(cleaned, h)
		}
	}
	return &Policy{allowlist: cleaned, resolver: net.DefaultResolver}
}

// FromEnv builds a policy from the EGRESS_ALLOWLIST env var (comma-separated
// host suffixes).
func FromEnv() *Policy {
	raw := os.Getenv("EGRESS_ALLOWLIST")
	if strings.TrimSpace(raw) == "" {
		return NewPolicy(nil)
	}
	return NewPolicy(strings.Split(raw, ","))
}

// CheckURL validates rawURL against the policy. DNS resolution is bounded and
// every resolved address must be public.
func (p *Policy) CheckURL(ctx context.Context, rawURL string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return &PolicyError{Reason: "invalid url"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &PolicyError{Reason: fmt.Sprintf("scheme %q not allowed", u.Scheme)}
	}
	if u.User != nil {
		return &PolicyError{Reason: "credentials in url"}
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return &PolicyError{Reason: "missing host"}
	}
	if !p.hostAllowed(host) {
		return &PolicyError{Reason: fmt.Sprintf("host %q not in allowlist", host)}
	}

	// IP literals need no DNS round trip.
	if ip := net.ParseIP(host); ip != nil {
		if blockedIP(ip) {
			return &PolicyError{Reason: fmt.Sprintf("ip %s is not public", ip)}
		}
		return nil
	}

	resolveCtx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()
	addrs, err := p.resolver.LookupIPAddr(resolveCtx, host)
	if err != nil {
		return &PolicyError{Reason: fmt.Sprintf("dns resolution failed for %q", host)}
	}
	if len(addrs) == 0 {
		return &PolicyError{Reason: fmt.Sprintf("no addresses for %q", host)}
	}
	for _, addr := range addrs {
		if blockedIP(addr.IP) {
			return &PolicyError{Reason: fmt.Sprintf("host %q resolves to non-public %s", host, addr.IP)}
		}
	}
	return nil
}

func (p *Policy) hostAllowed(host string) bool {
	if len(p.allowlist) == 0 {
		return true
	}
	for _, allowed := range p.allowlist {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

func blockedIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsMulticast() ||
		ip.IsUnspecified() ||
		isReserved(ip)
}

// isReserved covers ranges the net package predicates miss.
func isReserved(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		switch {
		case v4[0] == 100 && v4[1] >= 64 && v4[1] <= 127: // CGNAT 100.64/10
			return true
		case v4[0] == 192 && v4[1] == 0 && v4[2] == 0: // 192.0.0.0/24
			return true
		case v4[0] == 192 && v4[1] == 0 && v4[2] == 2: // TEST-NET-1
			return true
		case v4[0] == 198 && v4[1] == 18 || v4[0] == 198 && v4[1] == 19: // benchmarking
			return true
		case v4[0] == 198 && v4[1] == 51 && v4[2] == 100: // TEST-NET-2
			return true
		case v4[0] == 203 && v4[1] == 0 && v4[2] == 113: // TEST-NET-3
			return true
		case v4[0] >= 240: // 240/4 reserved + broadcast
			return true
		}
		return false
	}
	// Unique local addresses fc00::/7.
	return len(ip) == net.IPv6len && (ip[0]&0xfe) == 0xfc
}
