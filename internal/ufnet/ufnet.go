// Package ufnet contains utilities for hostname parsing.
package ufnet

import (
	"net/netip"
	"strings"
)

// ExtractHostname quickly retrieves hostname from the given URL.
//
// NOTE: ExtractHostname is an optimized, best-effort function to retrieve a
// hostname from a URL-like string.  The result is not guaranteed to be correct
// for some edge cases, like URLs with "//" in the query of a relative URL.
func ExtractHostname(url string) (hostname string) {
	firstIdx := strings.Index(url, "//")
	if firstIdx == -1 {
		// Non-hierarchical URLs, like data: or about:, have no host.
		return ""
	}

	firstIdx += 2
	nextIdx := strings.IndexAny(url[firstIdx:], "/?#")
	if nextIdx == -1 {
		nextIdx = len(url)
	} else {
		nextIdx += firstIdx
	}

	if nextIdx <= firstIdx {
		return ""
	}

	return stripPort(stripUserinfo(url[firstIdx:nextIdx]))
}

// stripUserinfo removes the "user:password@" part of an authority.
func stripUserinfo(authority string) (host string) {
	if i := strings.LastIndexByte(authority, '@'); i >= 0 {
		return authority[i+1:]
	}

	return authority
}

// stripPort removes the port from host, keeping the brackets of IPv6
// addresses.
func stripPort(host string) (h string) {
	if strings.HasPrefix(host, "[") {
		if end := strings.IndexByte(host, ']'); end >= 0 {
			return host[:end+1]
		}

		return host
	}

	if i := strings.IndexByte(host, ':'); i >= 0 {
		return host[:i]
	}

	return host
}

// NormalizeHostname returns the hostname of url in lower case and without the
// trailing dot, the form document domains are compared in.
func NormalizeHostname(url string) (hostname string) {
	hostname = ExtractHostname(url)

	return strings.ToLower(strings.TrimSuffix(hostname, "."))
}

// isAddrRune returns true if r is a valid rune of string representation of an
// IP address.
func isAddrRune(r rune) (ok bool) {
	switch {
	case r == '.', r == ':',
		r >= '0' && r <= '9',
		r >= 'A' && r <= 'F',
		r >= 'a' && r <= 'f',
		r == '[', r == ']':
		return true
	default:
		return false
	}
}

// IsIPHost returns true if host is an IP address, optionally in brackets.  It
// avoids parsing hosts that cannot be addresses.
func IsIPHost(host string) (ok bool) {
	if len(host) < len("::") {
		return false
	}

	for _, r := range host {
		if !isAddrRune(r) {
			return false
		}
	}

	_, err := netip.ParseAddr(strings.TrimSuffix(strings.TrimPrefix(host, "["), "]"))

	return err == nil
}
