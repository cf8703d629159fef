// Package filters contains the Adblock Plus filter types and the parser that
// builds them from the lines of a filter list.
package filters

import (
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Kind is the discriminant of a [Filter].
type Kind uint8

// Kind values.
const (
	KindInvalid Kind = iota
	KindComment
	KindBlocking
	KindWhitelist
	KindElemHide
	KindElemHideException
	KindCSSProperty
)

// String implements the [fmt.Stringer] interface for Kind.  The names are the
// ones used by filter list tooling.
func (k Kind) String() (s string) {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindComment:
		return "comment"
	case KindBlocking:
		return "filterlist"
	case KindWhitelist:
		return "whitelist"
	case KindElemHide:
		return "elemhide"
	case KindElemHideException:
		return "elemhideexception"
	case KindCSSProperty:
		return "cssrule"
	default:
		return "kind" + strconv.Itoa(int(k))
	}
}

// IsActive returns true if filters of this kind can be enabled, disabled and
// hit.
func (k Kind) IsActive() (ok bool) {
	return k >= KindBlocking && k <= KindCSSProperty
}

// IsRequest returns true for blocking and whitelist filters.
func (k Kind) IsRequest() (ok bool) {
	return k == KindBlocking || k == KindWhitelist
}

// IsElemHide returns true for element hiding filters, their exceptions, and
// CSS property filters.
func (k Kind) IsElemHide() (ok bool) {
	return k == KindElemHide || k == KindElemHideException || k == KindCSSProperty
}

// Reason describes why a filter is invalid.
type Reason string

// Reason values.
const (
	ReasonInvalidRegexp Reason = "invalid regular expression"
	ReasonUnknownOption Reason = "unknown filter option"
	ReasonNoContentType Reason = "filter options exclude every content type"
	ReasonDuplicateID   Reason = "duplicate id in element hiding filter"
	ReasonNoCriteria    Reason = "element hiding filter has no criteria"
	ReasonInvalidDomain Reason = "empty domain in element hiding filter"
	ReasonCSSNoDomain   Reason = "css property filter needs an active domain"
)

// serializedSectionTag starts the section that stores the state of a filter.
const serializedSectionTag = "[Filter]"

// Tristate is an optional boolean filter option.
type Tristate int8

// Tristate values.
const (
	Unset Tristate = iota
	True
	False
)

// TristateOf returns True or False for b.
func TristateOf(b bool) (t Tristate) {
	if b {
		return True
	}

	return False
}

// String implements the [fmt.Stringer] interface for Tristate.
func (t Tristate) String() (s string) {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "null"
	}
}

// Filter is a single parsed filter.  Filters are created by a [Registry] and
// are identified by their text, so they are always used by pointer.  The
// payload fields that are set depend on the kind.
type Filter struct {
	// request is set for KindBlocking and KindWhitelist.
	request *RequestPattern

	// selector is set for the element hiding kinds.
	selector *Selector

	// domains is nil when the filter is not restricted to domains.
	domains *DomainSet

	// mu protects lastHit, hitCount, and disabled.
	mu *sync.Mutex

	lastHit  time.Time
	text     string
	reason   Reason
	hitCount uint
	kind     Kind
	disabled bool
}

// Text returns the normalized text of the filter.
func (f *Filter) Text() (text string) {
	return f.text
}

// String implements the [fmt.Stringer] interface for *Filter.
func (f *Filter) String() (s string) {
	return f.text
}

// Kind returns the kind of the filter.
func (f *Filter) Kind() (k Kind) {
	return f.kind
}

// Reason returns the reason why an invalid filter couldn't be parsed.
func (f *Filter) Reason() (r Reason) {
	return f.reason
}

// Domains returns the domain restrictions of the filter, if any.
func (f *Filter) Domains() (d *DomainSet) {
	return f.domains
}

// Request returns the request pattern of blocking and whitelist filters, nil
// for other kinds.
func (f *Filter) Request() (p *RequestPattern) {
	return f.request
}

// Selector returns the selector data of element hiding filters, nil for other
// kinds.
func (f *Filter) Selector() (s *Selector) {
	return f.selector
}

// Disabled returns true if the user has disabled the filter.
func (f *Filter) Disabled() (ok bool) {
	if !f.kind.IsActive() {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.disabled
}

// SetDisabled changes the disabled state of an active filter and reports
// whether it has changed.
func (f *Filter) SetDisabled(disabled bool) (changed bool) {
	if !f.kind.IsActive() {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	changed = f.disabled != disabled
	f.disabled = disabled

	return changed
}

// HitCount returns the number of times the filter has matched.
func (f *Filter) HitCount() (n uint) {
	if !f.kind.IsActive() {
		return 0
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.hitCount
}

// SetHitCount sets the hit counter of an active filter and reports whether it
// has changed.
func (f *Filter) SetHitCount(n uint) (changed bool) {
	if !f.kind.IsActive() {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	changed = f.hitCount != n
	f.hitCount = n

	return changed
}

// IncrementHit atomically increases the hit counter of an active filter and
// sets its last hit time to now.  lastChanged is false if the stored time
// hasn't changed.
func (f *Filter) IncrementHit(now time.Time) (ok, lastChanged bool) {
	if !f.kind.IsActive() {
		return false, false
	}

	now = time.UnixMilli(now.UnixMilli())

	f.mu.Lock()
	defer f.mu.Unlock()

	f.hitCount++
	lastChanged = !f.lastHit.Equal(now)
	f.lastHit = now

	return true, lastChanged
}

// LastHit returns the time of the last match, or zero time if the filter has
// never matched.
func (f *Filter) LastHit() (t time.Time) {
	if !f.kind.IsActive() {
		return time.Time{}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.lastHit
}

// SetLastHit sets the time of the last match and reports whether it has
// changed.  The time is kept with millisecond precision, as it is stored.
func (f *Filter) SetLastHit(t time.Time) (changed bool) {
	if !f.kind.IsActive() {
		return false
	}

	if !t.IsZero() {
		t = time.UnixMilli(t.UnixMilli())
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	changed = !f.lastHit.Equal(t)
	f.lastHit = t

	return changed
}

// Serialize returns the lines of the "[Filter]" section that stores the state
// of f.  It returns nil for filters with default state, as well as for
// comments and invalid filters.
func (f *Filter) Serialize() (lines []string) {
	if !f.kind.IsActive() {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.disabled && f.hitCount == 0 && f.lastHit.IsZero() {
		return nil
	}

	lines = []string{serializedSectionTag, "text=" + f.text}
	if f.disabled {
		lines = append(lines, "disabled=true")
	}

	if f.hitCount != 0 {
		lines = append(lines, "hitCount="+strconv.FormatUint(uint64(f.hitCount), 10))
	}

	if !f.lastHit.IsZero() {
		lines = append(lines, "lastHit="+strconv.FormatInt(f.lastHit.UnixMilli(), 10))
	}

	return lines
}

// IsActiveOnDomain returns true if the filter applies to documents on
// docDomain with the given sitekey.
func (f *Filter) IsActiveOnDomain(docDomain, sitekey string) (ok bool) {
	if f.request != nil && len(f.request.sitekeys) > 0 {
		if sitekey == "" || !slices.Contains(f.request.sitekeys, strings.ToUpper(sitekey)) {
			return false
		}
	}

	return f.domains.ActiveOn(docDomain)
}

// IsActiveOnlyOnDomain returns true if the filter is restricted to docDomain
// and its subdomains.
func (f *Filter) IsActiveOnlyOnDomain(docDomain string) (ok bool) {
	return f.domains.activeOnlyOn(docDomain)
}

// IsGeneric returns true if the filter isn't restricted to particular domains
// or sitekeys.
func (f *Filter) IsGeneric() (ok bool) {
	if f.request != nil && len(f.request.sitekeys) > 0 {
		return false
	}

	return f.domains.Generic()
}
