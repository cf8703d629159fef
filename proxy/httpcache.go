package proxy

import (
	"fmt"
	"net/http"
	"time"

	"github.com/AdguardTeam/abpfilter/filters"
	"github.com/AdguardTeam/golibs/httphdr"
)

// suppressCachePeriod is the time after the start during which the cache of
// the pages is suppressed, so that they get the new content script.
const suppressCachePeriod = 1 * time.Minute

// defaultCacheExpiration is the lifetime of the content script in the browser
// cache.
const defaultCacheExpiration = 1 * time.Hour

// staticContentTypes are the content types the cache is never suppressed for.
const staticContentTypes = filters.TypeImage |
	filters.TypeFont |
	filters.TypeScript |
	filters.TypeStylesheet |
	filters.TypeMedia

// shouldSuppressCache returns true if the cache should be suppressed for the
// request of ses.
func (s *Server) shouldSuppressCache(ses *session) (ok bool) {
	if s.clock.Now().Sub(s.createdAt) > suppressCachePeriod {
		return false
	}

	return ses.request.ContentType&staticContentTypes == 0
}

// suppressCache removes the conditional headers from r.
func suppressCache(r *http.Request) {
	// Last modified time based caching.
	r.Header.Del("If-Modified-Since")
	r.Header.Del("If-Unmodified-Since")

	// ETag based caching.
	r.Header.Del("If-None-Match")
	r.Header.Del("If-Match")
	r.Header.Del("If-Range")
}

// enableCache sets the caching headers on res.
func (s *Server) enableCache(res *http.Response) {
	expires := s.clock.Now().Add(defaultCacheExpiration)

	res.Header.Del("Pragma")
	res.Header.Set("Last-Modified", "Wed, 01 Jan 2010 01:00:00 GMT")
	res.Header.Set(httphdr.CacheControl, fmt.Sprintf("public, max-age=%d", int(defaultCacheExpiration.Seconds())))
	res.Header.Set("Expires", expires.UTC().Format(http.TimeFormat))
}
