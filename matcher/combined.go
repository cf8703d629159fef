package matcher

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/AdguardTeam/abpfilter/filters"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the default number of results [Combined] keeps.
const DefaultCacheSize = 1000

// Combined keeps blocking and whitelist filters in separate matchers and caches
// the results.  A matching whitelist filter always wins over blocking ones.
// Combined is safe for concurrent use.
type Combined struct {
	// mu protects blacklist and whitelist.  Cache entries are only added
	// under the read lock and the cache is purged under the write lock, so
	// that a result computed before a mutation never gets cached after it.
	mu *sync.RWMutex

	blacklist *Matcher
	whitelist *Matcher

	// cache maps the keys of requests to their results, including the nil
	// ones.
	cache *lru.Cache[string, *filters.Filter]
}

// NewCombined returns a new empty *Combined that keeps up to cacheSize
// results.  If cacheSize is not positive, [DefaultCacheSize] is used.
func NewCombined(cacheSize int) (c *Combined, err error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}

	cache, err := lru.New[string, *filters.Filter](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating result cache: %w", err)
	}

	return &Combined{
		mu:        &sync.RWMutex{},
		blacklist: New(),
		whitelist: New(),
		cache:     cache,
	}, nil
}

// matcherFor returns the matcher that f belongs to.
func (c *Combined) matcherFor(f *filters.Filter) (m *Matcher) {
	if f.Kind() == filters.KindWhitelist {
		return c.whitelist
	}

	return c.blacklist
}

// Add adds a blocking or a whitelist filter.
func (c *Combined) Add(f *filters.Filter) {
	if !f.Kind().IsRequest() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.matcherFor(f).Add(f)
	c.cache.Purge()
}

// Remove removes a blocking or a whitelist filter.
func (c *Combined) Remove(f *filters.Filter) {
	if !f.Kind().IsRequest() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.matcherFor(f).Remove(f)
	c.cache.Purge()
}

// Clear removes all filters.
func (c *Combined) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.blacklist.Clear()
	c.whitelist.Clear()
	c.cache.Purge()
}

// HasFilter returns true if f has been added.
func (c *Combined) HasFilter(f *filters.Filter) (ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.matcherFor(f).HasFilter(f)
}

// Len returns the number of blocking and whitelist filters.
func (c *Combined) Len() (n int) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.blacklist.Len() + c.whitelist.Len()
}

// IsSlowFilter returns true if f has or would have no keyword, so that it is
// checked against every request.
func (c *Combined) IsSlowFilter(f *filters.Filter) (ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	m := c.matcherFor(f)
	if kw, found := m.KeywordFor(f); found {
		return kw == ""
	}

	return m.FindKeyword(f) == ""
}

// MatchesAny returns the filter that decides about req: a whitelist filter if
// any matches, otherwise the first matching blocking filter, otherwise nil.
func (c *Combined) MatchesAny(req *Request) (f *filters.Filter) {
	key := cacheKey(req)

	c.mu.RLock()
	defer c.mu.RUnlock()

	if cached, ok := c.cache.Get(key); ok {
		return cached
	}

	f = c.matchesAny(req)
	c.cache.Add(key, f)

	return f
}

// matchesAny looks req up in both matchers.  c.mu must be locked for reading.
func (c *Combined) matchesAny(req *Request) (f *filters.Filter) {
	var blacklistHit *filters.Filter
	for _, kw := range urlKeywords(strings.ToLower(req.URL)) {
		if c.whitelist.hasBucket(kw) {
			if f = c.whitelist.checkEntryMatch(kw, req); f != nil {
				return f
			}
		}

		if blacklistHit == nil && c.blacklist.hasBucket(kw) {
			blacklistHit = c.blacklist.checkEntryMatch(kw, req)
		}
	}

	return blacklistHit
}

// cacheKey returns the result cache key for req.
func cacheKey(req *Request) (key string) {
	b := &strings.Builder{}
	b.Grow(len(req.URL) + len(req.DocDomain) + len(req.Sitekey) + 24)

	b.WriteString(req.URL)
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(uint64(req.ContentType), 10))
	b.WriteByte(' ')
	b.WriteString(req.DocDomain)
	b.WriteByte(' ')
	b.WriteString(strconv.FormatBool(req.ThirdParty))
	b.WriteByte(' ')
	b.WriteString(req.Sitekey)
	b.WriteByte(' ')
	b.WriteString(strconv.FormatBool(req.SpecificOnly))

	return b.String()
}
