package security

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// blockedNetworks are ranges a server-side fetch must never reach
var blockedNetworks = mustParseCIDRs(
	"127.0.0.0/8",    // IPv4 loopback
	"10.0.0.0/8",     // RFC1918 private
	"172.16.0.0/12",  // RFC1918 private
	"192.168.0.0/16", // RFC1918 private
	"169.254.0.0/16", // Link-local, cloud metadata
	"100.64.0.0/10",  // Carrier-grade NAT
	"0.0.0.0/8",      // "This" network
	"::1/128",        // IPv6 loopback
	"fc00::/7",       // IPv6 unique local
	"fe80::/10",      // IPv6 link-local
)

// blockedHosts are names that resolve to infrastructure inside the deployment
var blockedHosts = []string{
	"localhost",
	"localhost.localdomain",
	"ip6-localhost",
	"ip6-loopback",
	"metadata.google.internal",
	"kubernetes.default",
	"kubernetes.default.svc",
}

// LookupFunc resolves a hostname; net.DefaultResolver.LookupIPAddr fits
type LookupFunc func(ctx context.Context, host string) ([]net.IPAddr, error)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	networks := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("security: bad CIDR %q: %v", cidr, err))
		}
		networks = append(networks, network)
	}
	return networks
}

// IsBlockedIP reports whether ip belongs to a private or internal range.
// A nil IP is blocked.
func IsBlockedIP(ip net.IP) bool {
	if ip == nil {
		return true
	}
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// IsBlockedHost reports whether hostname or one of its parents is blocklisted
func IsBlockedHost(hostname string) bool {
	hostname = strings.ToLower(strings.TrimSuffix(hostname, "."))
	for _, blocked := range blockedHosts {
		if hostname == blocked || strings.HasSuffix(hostname, "."+blocked) {
			return true
		}
	}
	return false
}

// CheckOutboundURL parses a URL the server is about to fetch on a caller's behalf.
// Only http and https are accepted, and hosts that reach internal networks are rejected.
// When lookup is set the hostname is resolved and every address is checked; a failed
// lookup passes since the fetch itself will fail.
func CheckOutboundURL(ctx context.Context, rawURL string, lookup LookupFunc) (*url.URL, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("only HTTP/HTTPS URLs are supported, got: %s", parsed.Scheme)
	}

	hostname := parsed.Hostname()
	if hostname == "" {
		return nil, fmt.Errorf("URL has no host: %s", rawURL)
	}
	if IsBlockedHost(hostname) {
		return nil, fmt.Errorf("access to internal hostname '%s' is not allowed", hostname)
	}

	if ip := net.ParseIP(hostname); ip != nil {
		if IsBlockedIP(ip) {
			return nil, fmt.Errorf("access to private IP address '%s' is not allowed", hostname)
		}
		return parsed, nil
	}

	if lookup == nil {
		return parsed, nil
	}
	addrs, err := lookup(ctx, hostname)
	if err != nil {
		return parsed, nil
	}
	for _, addr := range addrs {
		if IsBlockedIP(addr.IP) {
			return nil, fmt.Errorf("hostname '%s' resolves to private IP address '%s'", hostname, addr.IP)
		}
	}
	return parsed, nil
}
