package abpfilter

import (
	"strings"

	"github.com/AdguardTeam/abpfilter/filters"
	"github.com/AdguardTeam/abpfilter/internal/ufnet"
	"golang.org/x/net/publicsuffix"
)

// maxURLLength limits the URL length by 4 KiB.  There can be URLs longer than
// a megabyte, and it makes no sense to go through the whole URL.
const maxURLLength = 4 * 1024

// Request is a web request to filter together with the document that made it.
type Request struct {
	// URL is the full request URL.
	URL string

	// Hostname is the lowercased hostname of URL.
	Hostname string

	// Domain is the effective top-level domain of the request with an
	// additional label.
	Domain string

	// SourceURL is the full URL of the document that made the request.  It
	// is empty for top-level navigations.
	SourceURL string

	// SourceHostname is the lowercased hostname of SourceURL.  It is the
	// document domain the filters are checked against.
	SourceHostname string

	// SourceDomain is the effective top-level domain of the source with an
	// additional label.
	SourceDomain string

	// Sitekey is the public key the document was signed with, if any.
	Sitekey string

	// ContentType is the type of the requested resource.
	ContentType filters.ContentType

	// ThirdParty is true if the request goes to a registered domain other
	// than that of the source.
	ThirdParty bool
}

// NewRequest returns a new *Request for url made by the document at
// sourceURL.  sourceURL may be empty.
func NewRequest(url, sourceURL string, contentType filters.ContentType) (r *Request) {
	if len(url) > maxURLLength {
		url = url[:maxURLLength]
	}

	if len(sourceURL) > maxURLLength {
		sourceURL = sourceURL[:maxURLLength]
	}

	r = &Request{
		URL:            url,
		Hostname:       ufnet.NormalizeHostname(url),
		SourceURL:      sourceURL,
		SourceHostname: ufnet.NormalizeHostname(sourceURL),
		ContentType:    contentType,
	}

	r.Domain = registeredDomain(r.Hostname)
	r.SourceDomain = registeredDomain(r.SourceHostname)
	r.ThirdParty = r.SourceDomain != "" && r.SourceDomain != r.Domain

	return r
}

// registeredDomain returns the effective top-level domain of host plus one
// label, or host itself if there is none, as for IP addresses.
func registeredDomain(host string) (domain string) {
	if ufnet.IsIPHost(host) {
		return host
	}

	if domain = effectiveTLDPlusOne(host); domain != "" {
		return domain
	}

	return host
}

// effectiveTLDPlusOne is a faster version of
// [publicsuffix.EffectiveTLDPlusOne] that avoids using fmt.Errorf when the
// domain is less or equal the suffix.
func effectiveTLDPlusOne(host string) (domain string) {
	hostLen := len(host)
	if hostLen < 1 {
		return ""
	}

	if host[0] == '.' || host[hostLen-1] == '.' {
		return ""
	}

	suffix, _ := publicsuffix.PublicSuffix(host)

	i := hostLen - len(suffix) - 1
	if i < 0 || host[i] != '.' {
		return ""
	}

	return host[1+strings.LastIndex(host[:i], "."):]
}
