package filters

import (
	"slices"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
)

// DomainSet is the set of domains a filter is restricted to.  A nil
// *DomainSet means that the filter is not restricted.
type DomainSet struct {
	// entries maps lower-cased domains to true for included and to false for
	// excluded ones.
	entries map[string]bool

	// fallback is the result for documents whose domain isn't in entries.  It
	// is true only when there are no included domains.
	fallback bool

	// ignoreTrailingDot is true for request filters, which treat "example.com."
	// as "example.com".
	ignoreTrailingDot bool
}

// parseDomains parses the domain list of a filter.  sep is "|" for request
// filters and "," for element hiding ones.  It returns nil if source has no
// entries.
func parseDomains(source, sep string, ignoreTrailingDot bool) (d *DomainSet) {
	if source == "" {
		return nil
	}

	list := strings.Split(source, sep)
	if len(list) == 1 && !strings.HasPrefix(list[0], "~") {
		domain := normalizeDomain(list[0], ignoreTrailingDot)

		return &DomainSet{
			entries:           map[string]bool{domain: true},
			ignoreTrailingDot: ignoreTrailingDot,
		}
	}

	d = &DomainSet{
		entries:           make(map[string]bool, len(list)),
		ignoreTrailingDot: ignoreTrailingDot,
	}

	hasIncludes := false
	for _, domain := range list {
		if ignoreTrailingDot {
			domain = strings.TrimRight(domain, ".")
		}

		if domain == "" {
			continue
		}

		include := true
		if domain[0] == '~' {
			include = false
			domain = domain[1:]
			if domain == "" {
				continue
			}
		} else {
			hasIncludes = true
		}

		d.entries[normalizeDomain(domain, ignoreTrailingDot)] = include
	}

	if len(d.entries) == 0 {
		return nil
	}

	d.fallback = !hasIncludes

	return d
}

// normalizeDomain lower-cases domain and converts internationalized names to
// their ASCII form so that they compare equal to punycode document domains.
func normalizeDomain(domain string, trimDot bool) (norm string) {
	if trimDot {
		domain = strings.TrimRight(domain, ".")
	}

	domain = strings.ToLower(domain)
	if isASCII(domain) {
		return domain
	}

	ascii, err := idna.Lookup.ToASCII(domain)
	if err != nil {
		return domain
	}

	return ascii
}

// isASCII returns true if s contains only ASCII characters.
func isASCII(s string) (ok bool) {
	for i := range len(s) {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}

	return true
}

// ActiveOn returns true if the set allows the document domain.  Labels are
// stripped from the left until a listed domain is found.  An empty docDomain
// never satisfies a restricted set.
func (d *DomainSet) ActiveOn(docDomain string) (ok bool) {
	if d == nil {
		return true
	}

	if docDomain == "" {
		return false
	}

	docDomain = normalizeDomain(docDomain, d.ignoreTrailingDot)
	for {
		if include, found := d.entries[docDomain]; found {
			return include
		}

		i := strings.IndexByte(docDomain, '.')
		if i < 0 {
			break
		}

		docDomain = docDomain[i+1:]
	}

	return d.fallback
}

// activeOnlyOn returns true if every included domain of the set is docDomain
// or one of its subdomains.
func (d *DomainSet) activeOnlyOn(docDomain string) (ok bool) {
	if d == nil || d.fallback || docDomain == "" {
		return false
	}

	docDomain = normalizeDomain(docDomain, d.ignoreTrailingDot)
	for domain, include := range d.entries {
		if include && domain != docDomain && !strings.HasSuffix(domain, "."+docDomain) {
			return false
		}
	}

	return true
}

// Generic returns true if the set has no included domains, so the filter
// applies to every domain not explicitly excluded.
func (d *DomainSet) Generic() (ok bool) {
	return d == nil || d.fallback
}

// Entries returns a copy of the domain map.
func (d *DomainSet) Entries() (entries map[string]bool) {
	if d == nil {
		return nil
	}

	entries = make(map[string]bool, len(d.entries))
	for k, v := range d.entries {
		entries[k] = v
	}

	return entries
}

// String implements the [fmt.Stringer] interface for *DomainSet.  It returns
// the sorted entries joined with "|", excluded ones prefixed with "~".
func (d *DomainSet) String() (s string) {
	if d == nil {
		return ""
	}

	list := make([]string, 0, len(d.entries))
	for domain, include := range d.entries {
		if include {
			list = append(list, domain)
		} else {
			list = append(list, "~"+domain)
		}
	}

	slices.Sort(list)

	return strings.Join(list, "|")
}
