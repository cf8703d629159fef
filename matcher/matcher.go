// Package matcher contains the keyword index that answers whether any of the
// request filters match a request.
package matcher

import (
	"math"
	"slices"
	"strings"

	"github.com/AdguardTeam/abpfilter/filters"
)

// minKeywordLength is the minimum length of a keyword.
const minKeywordLength = 3

// Request is a single request to match filters against.
type Request struct {
	// URL is the address of the requested resource.
	URL string

	// DocDomain is the hostname of the document that made the request.  It
	// may be empty.
	DocDomain string

	// Sitekey is the public key the document was signed with, if any.
	Sitekey string

	// ContentType is the content type of the request, usually a single bit.
	ContentType filters.ContentType

	// ThirdParty is true if the request goes to a domain other than that of
	// the document.
	ThirdParty bool

	// SpecificOnly makes the matcher ignore blocking filters that aren't
	// restricted to domains.
	SpecificOnly bool
}

// Matcher is a keyword index over blocking or whitelist filters.  Each filter
// is put into the bucket of one of the keywords of its pattern, so a request
// only needs to be checked against the buckets of the keywords its URL has.
// Matcher is not safe for concurrent use, see [Combined].
type Matcher struct {
	// filterByKeyword maps keywords to their filters in the order they were
	// added.  The empty keyword holds filters without a usable keyword.
	filterByKeyword map[string][]*filters.Filter

	// keywordByFilter maps filter texts to the keywords they were added
	// with.
	keywordByFilter map[string]string
}

// New returns a new empty *Matcher.
func New() (m *Matcher) {
	return &Matcher{
		filterByKeyword: map[string][]*filters.Filter{},
		keywordByFilter: map[string]string{},
	}
}

// Clear removes all filters.
func (m *Matcher) Clear() {
	clear(m.filterByKeyword)
	clear(m.keywordByFilter)
}

// Len returns the number of filters in the index.
func (m *Matcher) Len() (n int) {
	return len(m.keywordByFilter)
}

// Add adds a request filter to the index.  Filters of other kinds and filters
// that are already in the index are ignored.
func (m *Matcher) Add(f *filters.Filter) {
	if f.Request() == nil {
		return
	}

	if _, ok := m.keywordByFilter[f.Text()]; ok {
		return
	}

	kw := m.FindKeyword(f)
	m.filterByKeyword[kw] = append(m.filterByKeyword[kw], f)
	m.keywordByFilter[f.Text()] = kw
}

// Remove removes f from the index.  It does nothing if f isn't there.
func (m *Matcher) Remove(f *filters.Filter) {
	text := f.Text()
	kw, ok := m.keywordByFilter[text]
	if !ok {
		return
	}

	bucket := slices.DeleteFunc(m.filterByKeyword[kw], func(g *filters.Filter) (found bool) {
		return g.Text() == text
	})
	if len(bucket) == 0 {
		delete(m.filterByKeyword, kw)
	} else {
		m.filterByKeyword[kw] = bucket
	}

	delete(m.keywordByFilter, text)
}

// HasFilter returns true if f is in the index.
func (m *Matcher) HasFilter(f *filters.Filter) (ok bool) {
	_, ok = m.keywordByFilter[f.Text()]

	return ok
}

// KeywordFor returns the keyword f was added with.  ok is false if f isn't
// in the index.
func (m *Matcher) KeywordFor(f *filters.Filter) (kw string, ok bool) {
	kw, ok = m.keywordByFilter[f.Text()]

	return kw, ok
}

// FindKeyword returns the keyword that f would be added with: the candidate
// with the fewest filters already in its bucket, the longest one of those on
// a tie, and the first of those on a full tie.  It returns an empty string if
// the pattern has no candidates.
func (m *Matcher) FindKeyword(f *filters.Filter) (kw string) {
	p := f.Request()
	if p == nil || p.IsRegexp() {
		return ""
	}

	bestCount := math.MaxInt
	for _, cand := range keywordCandidates(strings.ToLower(p.Pattern())) {
		count := len(m.filterByKeyword[cand])
		if count < bestCount || (count == bestCount && len(cand) > len(kw)) {
			kw, bestCount = cand, count
		}
	}

	return kw
}

// MatchesAny returns the first filter that matches req, or nil if there is
// none.
func (m *Matcher) MatchesAny(req *Request) (f *filters.Filter) {
	for _, kw := range urlKeywords(strings.ToLower(req.URL)) {
		if f = m.checkEntryMatch(kw, req); f != nil {
			return f
		}
	}

	return nil
}

// checkEntryMatch returns the first filter of the bucket of kw that matches
// req.
func (m *Matcher) checkEntryMatch(kw string, req *Request) (f *filters.Filter) {
	for _, f = range m.filterByKeyword[kw] {
		if req.SpecificOnly && f.Kind() == filters.KindBlocking && f.IsGeneric() {
			continue
		}

		if f.Matches(req.URL, req.ContentType, req.DocDomain, req.ThirdParty, req.Sitekey) {
			return f
		}
	}

	return nil
}

// hasBucket returns true if there are filters with the keyword kw.
func (m *Matcher) hasBucket(kw string) (ok bool) {
	_, ok = m.filterByKeyword[kw]

	return ok
}

// isKeywordByte returns true if c can be a part of a keyword.
func isKeywordByte(c byte) (ok bool) {
	return (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '%'
}

// keywordCandidates returns the keyword candidates of a lower-cased pattern.
// A candidate is a run of at least three keyword bytes that is both preceded
// and followed by a byte that is neither a keyword byte nor a "*".
func keywordCandidates(pattern string) (cands []string) {
	for i := 0; i < len(pattern); i++ {
		if c := pattern[i]; isKeywordByte(c) || c == '*' {
			continue
		}

		start := i + 1
		end := start
		for end < len(pattern) && isKeywordByte(pattern[end]) {
			end++
		}

		if end-start >= minKeywordLength && end < len(pattern) && pattern[end] != '*' {
			cands = append(cands, pattern[start:end])
		}

		if end > start {
			// pattern[end] is the next possible preceding byte.
			i = end - 1
		}
	}

	return cands
}

// urlKeywords returns the distinct runs of at least three keyword bytes in a
// lower-cased URL in the order of their appearance, followed by the empty
// keyword.
func urlKeywords(u string) (kws []string) {
	seen := map[string]struct{}{}
	for i := 0; i < len(u); {
		if !isKeywordByte(u[i]) {
			i++

			continue
		}

		start := i
		for i < len(u) && isKeywordByte(u[i]) {
			i++
		}

		if i-start < minKeywordLength {
			continue
		}

		kw := u[start:i]
		if _, ok := seen[kw]; !ok {
			seen[kw] = struct{}{}
			kws = append(kws, kw)
		}
	}

	return append(kws, "")
}
