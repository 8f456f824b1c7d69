package webfetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrBlockedURL is returned for URLs that resolve to private or reserved
// addresses, or that use a scheme other than http(s).
var ErrBlockedURL = errors.New("url not allowed")

var metadataIP = net.ParseIP("169.254.169.254")

// Resolver looks up the addresses of a host. net.DefaultResolver satisfies it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// isPrivateOrReservedIP checks if an IP address is private, loopback, or reserved.
func isPrivateOrReservedIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	return ip.IsLoopback() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsPrivate() ||
		ip.IsUnspecified() ||
		ip.IsMulticast() ||
		ip.Equal(metadataIP)
}

// ValidateURL rejects URLs that could reach internal services.
//
// Hosts that fail to resolve are allowed through; the fetch itself will
// fail if they are unreachable.
func ValidateURL(ctx context.Context, resolver Resolver, rawURL string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid URL: %v", ErrBlockedURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme must be http or https, got %q", ErrBlockedURL, parsed.Scheme)
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return nil, fmt.Errorf("%w: missing hostname", ErrBlockedURL)
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return nil, fmt.Errorf("%w: localhost", ErrBlockedURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isPrivateOrReservedIP(ip) {
			return nil, fmt.Errorf("%w: %s is a private or reserved address", ErrBlockedURL, host)
		}
		return parsed, nil
	}

	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return parsed, nil
	}
	for _, addr := range addrs {
		if isPrivateOrReservedIP(addr.IP) {
			return nil, fmt.Errorf("%w: %s resolves to a private or reserved address", ErrBlockedURL, host)
		}
	}
	return parsed, nil
}
