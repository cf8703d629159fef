// Package subscription contains the filter subscription types: user filter
// groups, subscriptions managed by other applications, and downloadable filter
// lists.
package subscription

import (
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/AdguardTeam/abpfilter/filters"
	"github.com/google/uuid"
)

// Kind is the variant of a [Subscription].
type Kind uint8

// Kind values.
const (
	// KindSpecial is a group of user-defined filters.  Its URL starts with
	// "~".
	KindSpecial Kind = iota

	// KindExternal is a filter list managed by another application.  It is
	// never persisted.
	KindExternal

	// KindDownloadable is a filter list that is downloaded from its URL.
	KindDownloadable
)

// String implements the [fmt.Stringer] interface for Kind.
func (k Kind) String() (s string) {
	switch k {
	case KindSpecial:
		return "special"
	case KindExternal:
		return "external"
	case KindDownloadable:
		return "downloadable"
	default:
		return "kind" + strconv.Itoa(int(k))
	}
}

// UserGroupPrefix is the URL prefix of the groups created for user filters.
const UserGroupPrefix = "~user~"

// serializedSectionTag starts the section that stores a subscription.
const serializedSectionTag = "[Subscription]"

// Subscription is an ordered list of filters with metadata.  Subscriptions are
// identified by their URL and are always used by pointer.  It is safe for
// concurrent use, but callers should change subscriptions that belong to a
// storage through that storage, so that the listeners are notified.
type Subscription struct {
	// mu protects all fields except url and kind.
	mu *sync.RWMutex

	// filters are the filters of the subscription, in order.
	filters []*filters.Filter

	// state is the download state.  Only lastDownload is used by special
	// subscriptions.
	state State

	url   string
	title string

	kind       Kind
	defaults   Defaults
	fixedTitle bool
	disabled   bool
}

// newSubscription returns a new subscription with no filters.
func newSubscription(u string, kind Kind) (s *Subscription) {
	s = &Subscription{
		mu:   &sync.RWMutex{},
		url:  u,
		kind: kind,
	}

	if kind != KindSpecial {
		s.title = u
	}

	return s
}

// New returns a new subscription for u.  URLs that start with "~" or that
// aren't absolute make special subscriptions, others make downloadable ones.
func New(u string) (s *Subscription) {
	if IsSpecialURL(u) {
		return newSubscription(u, KindSpecial)
	}

	return newSubscription(u, KindDownloadable)
}

// NewExternal returns a new external subscription.
func NewExternal(u, title string) (s *Subscription) {
	s = newSubscription(u, KindExternal)
	if title != "" {
		s.title = title
	}

	return s
}

// NewUserGroup returns a new special subscription with a unique URL for the
// filters of the given kinds.
func NewUserGroup(d Defaults) (s *Subscription) {
	id, err := uuid.NewV7()
	if err != nil {
		// Only happens when the system random source fails.
		id = uuid.New()
	}

	s = newSubscription(UserGroupPrefix+id.String(), KindSpecial)
	s.defaults = d

	return s
}

// NewGroupForFilter returns a new user group that holds f and is the default
// group for filters of its kind.
func NewGroupForFilter(f *filters.Filter) (s *Subscription) {
	s = NewUserGroup(DefaultsFor(f))
	s.filters = []*filters.Filter{f}

	return s
}

// IsSpecialURL returns true if u is the URL of a special subscription.
func IsSpecialURL(u string) (ok bool) {
	if strings.HasPrefix(u, "~") {
		return true
	}

	parsed, err := url.Parse(u)

	return err != nil || parsed.Scheme == "" || (parsed.Host == "" && parsed.Opaque == "" && parsed.Path == "")
}

// URL returns the identifier of the subscription.
func (s *Subscription) URL() (u string) {
	return s.url
}

// String implements the [fmt.Stringer] interface for *Subscription.
func (s *Subscription) String() (str string) {
	return s.url
}

// Kind returns the variant of the subscription.
func (s *Subscription) Kind() (k Kind) {
	return s.kind
}

// Title returns the title of the subscription.  Downloadable subscriptions
// without a title use their URL.
func (s *Subscription) Title() (t string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.title
}

// SetTitle changes the title and reports whether it has changed.
func (s *Subscription) SetTitle(t string) (changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed = s.title != t
	s.title = t

	return changed
}

// FixedTitle returns true if the title has been set by the user and must not
// be replaced by the one from the downloaded list.
func (s *Subscription) FixedTitle() (ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.fixedTitle
}

// SetFixedTitle sets the fixed title flag.
func (s *Subscription) SetFixedTitle(fixed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fixedTitle = fixed
}

// Disabled returns true if the subscription is disabled.
func (s *Subscription) Disabled() (ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.disabled
}

// SetDisabled changes the disabled state and reports whether it has changed.
func (s *Subscription) SetDisabled(disabled bool) (changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed = s.disabled != disabled
	s.disabled = disabled

	return changed
}

// Defaults returns the filter kinds a special subscription is the default
// group for.
func (s *Subscription) Defaults() (d Defaults) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.defaults
}

// SetDefaults sets the filter kinds a special subscription is the default
// group for.  It does nothing for other kinds of subscriptions.
func (s *Subscription) SetDefaults(d Defaults) {
	if s.kind != KindSpecial {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.defaults = d
}

// IsDefaultFor returns true if f should be put into this special
// subscription when no subscription is given explicitly.
func (s *Subscription) IsDefaultFor(f *filters.Filter) (ok bool) {
	return s.Defaults().includes(f)
}

// State returns a copy of the download state.
func (s *Subscription) State() (st State) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state
}

// SetState replaces the download state.
func (s *Subscription) SetState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = st
}

// Filters returns a copy of the filter list.
func (s *Subscription) Filters() (fs []*filters.Filter) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.filters)
}

// Len returns the number of filters.
func (s *Subscription) Len() (n int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.filters)
}

// FilterAt returns the filter at position i or nil if i is out of range.
func (s *Subscription) FilterAt(i int) (f *filters.Filter) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i < 0 || i >= len(s.filters) {
		return nil
	}

	return s.filters[i]
}

// IndexOf returns the first position of f at or after start, or -1.
func (s *Subscription) IndexOf(f *filters.Filter, start int) (i int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i = max(start, 0); i < len(s.filters); i++ {
		if s.filters[i] == f {
			return i
		}
	}

	return -1
}

// SetFilters replaces the filter list and returns the previous one.
func (s *Subscription) SetFilters(fs []*filters.Filter) (prev []*filters.Filter) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev = s.filters
	s.filters = slices.Clone(fs)

	return prev
}

// InsertFilter inserts f at position pos.  pos is clamped to the list bounds,
// and the actual position is returned.
func (s *Subscription) InsertFilter(f *filters.Filter, pos int) (at int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at = min(max(pos, 0), len(s.filters))
	s.filters = slices.Insert(s.filters, at, f)

	return at
}

// RemoveFilterAt removes the filter at pos and returns it, or nil if pos is
// out of range.
func (s *Subscription) RemoveFilterAt(pos int) (f *filters.Filter) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pos < 0 || pos >= len(s.filters) {
		return nil
	}

	f = s.filters[pos]
	s.filters = slices.Delete(s.filters, pos, pos+1)

	return f
}

// Serialize returns the lines of the "[Subscription]" section that stores s.
// Only the fields that differ from the defaults are written.
func (s *Subscription) Serialize() (lines []string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lines = []string{serializedSectionTag, "url=" + s.url}
	lines = appendIf(lines, s.title != "", "title", s.title)
	lines = appendIf(lines, s.fixedTitle, "fixedTitle", "true")
	lines = appendIf(lines, s.disabled, "disabled", "true")

	if s.kind == KindSpecial {
		lines = appendIf(lines, s.defaults != 0, "defaults", s.defaults.String())
		lines = appendTime(lines, "lastDownload", s.state.LastDownload)

		return lines
	}

	st := &s.state
	lines = appendIf(lines, st.Homepage != "", "homepage", st.Homepage)
	lines = appendTime(lines, "lastDownload", st.LastDownload)
	lines = appendIf(lines, st.Status != "", "downloadStatus", string(st.Status))
	lines = appendTime(lines, "lastSuccess", st.LastSuccess)
	lines = appendTime(lines, "lastCheck", st.LastCheck)
	lines = appendTime(lines, "expires", st.Expires)
	lines = appendTime(lines, "softExpiration", st.SoftExpiration)
	lines = appendUint(lines, "errors", st.Errors)
	lines = appendUint(lines, "version", st.Version)
	lines = appendIf(lines, st.RequiredVersion != "", "requiredVersion", st.RequiredVersion)
	lines = appendUint(lines, "downloadCount", st.DownloadCount)
	lines = appendIf(lines, st.Gone, "gone", "true")

	return lines
}

// SerializeFilters returns the lines of the "[Subscription filters]" section
// that lists the filters of s, or nil if there are none.
func (s *Subscription) SerializeFilters() (lines []string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.filters) == 0 {
		return nil
	}

	lines = make([]string, 0, len(s.filters)+1)
	lines = append(lines, "[Subscription filters]")
	for _, f := range s.filters {
		lines = append(lines, strings.ReplaceAll(f.Text(), "[", `\[`))
	}

	return lines
}

// FromObject returns the subscription stored in the key-value pairs of a
// "[Subscription]" section.  It returns nil if obj has no URL.
func FromObject(obj map[string]string) (s *Subscription) {
	u := obj["url"]
	if u == "" {
		return nil
	}

	s = New(u)
	if title, ok := obj["title"]; ok {
		s.title = title
	}

	s.fixedTitle = obj["fixedTitle"] == "true"
	s.disabled = obj["disabled"] == "true"
	s.state.LastDownload = parseTime(obj["lastDownload"])

	if s.kind == KindSpecial {
		s.defaults = ParseDefaults(obj["defaults"])
		if _, hasTitle := obj["title"]; !hasTitle {
			if legacy, ok := legacyGroups[u]; ok {
				s.title, s.defaults = legacy.title, legacy.defaults
			}
		}

		return s
	}

	st := &s.state
	st.Homepage = obj["homepage"]
	st.Status = Status(obj["downloadStatus"])
	st.LastSuccess = parseTime(obj["lastSuccess"])
	st.LastCheck = parseTime(obj["lastCheck"])
	st.Expires = parseTime(obj["expires"])
	st.SoftExpiration = parseTime(obj["softExpiration"])
	st.Errors = parseUint(obj["errors"])
	st.Version = parseUint(obj["version"])
	st.RequiredVersion = obj["requiredVersion"]
	st.DownloadCount = parseUint(obj["downloadCount"])
	st.Gone = obj["gone"] == "true"

	return s
}

// appendIf appends the key-value line if cond is true.
func appendIf(lines []string, cond bool, key, val string) (res []string) {
	if !cond {
		return lines
	}

	return append(lines, key+"="+val)
}

// appendTime appends a non-zero time as Unix seconds.
func appendTime(lines []string, key string, t time.Time) (res []string) {
	return appendIf(lines, !t.IsZero(), key, strconv.FormatInt(t.Unix(), 10))
}

// appendUint appends a non-zero number.
func appendUint(lines []string, key string, n uint) (res []string) {
	return appendIf(lines, n != 0, key, strconv.FormatUint(uint64(n), 10))
}

// parseTime parses Unix seconds.  Invalid and non-positive values give zero
// time.
func parseTime(s string) (t time.Time) {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil || sec <= 0 {
		return time.Time{}
	}

	return time.Unix(sec, 0)
}

// parseUint parses a non-negative number, returning 0 for invalid ones.
func parseUint(s string) (n uint) {
	v, err := strconv.ParseUint(s, 10, 0)
	if err != nil {
		return 0
	}

	return uint(v)
}
