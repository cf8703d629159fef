package filters

import (
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"
)

// Registry interns filters by their normalized text.  It is safe for
// concurrent use.
type Registry struct {
	// mu protects known.
	mu *sync.Mutex

	// known maps normalized filter texts to filters.
	known map[string]*Filter
}

// NewRegistry returns a new properly initialized *Registry.
func NewRegistry() (r *Registry) {
	return &Registry{
		mu:    &sync.Mutex{},
		known: map[string]*Filter{},
	}
}

// FromText returns the filter for text, parsing it if it's not known yet.
// text is normalized first.  It returns nil if the normalized text is empty.
func (r *Registry) FromText(text string) (f *Filter) {
	text = Normalize(text)
	if text == "" {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if f = r.known[text]; f != nil {
		return f
	}

	f = Parse(text)
	r.known[text] = f

	return f
}

// FromObject returns the filter described by the key-value pairs of a stored
// "[Filter]" section and restores its state.  It returns nil if obj has no
// text.
func (r *Registry) FromObject(obj map[string]string) (f *Filter) {
	text, ok := obj["text"]
	if !ok {
		return nil
	}

	f = r.FromText(text)
	if f == nil || !f.kind.IsActive() {
		return f
	}

	if v, ok := obj["disabled"]; ok {
		f.SetDisabled(v == "true")
	}

	if v, ok := obj["hitCount"]; ok {
		n, _ := strconv.ParseUint(v, 10, 0)
		f.SetHitCount(uint(n))
	}

	if v, ok := obj["lastHit"]; ok {
		var t time.Time
		if ms, _ := strconv.ParseInt(v, 10, 64); ms > 0 {
			t = time.UnixMilli(ms)
		}

		f.SetLastHit(t)
	}

	return f
}

// Known returns the filter with the given normalized text if the registry has
// it.
func (r *Registry) Known(text string) (f *Filter, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok = r.known[text]

	return f, ok
}

// Len returns the number of known filters.
func (r *Registry) Len() (n int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.known)
}

// All returns all known filters in no particular order.
func (r *Registry) All() (all []*Filter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all = make([]*Filter, 0, len(r.known))
	for _, f := range r.known {
		all = append(all, f)
	}

	return all
}

// Parse parses a normalized filter text.  It never fails, text that cannot be
// parsed results in a filter of KindInvalid.  Parse doesn't intern the result,
// use [Registry.FromText] for that.
func Parse(text string) (f *Filter) {
	if strings.IndexByte(text, '#') >= 0 {
		if m := elemHideRe.FindStringSubmatch(text); m != nil {
			return newElemHideFilter(text, m)
		}
	}

	if strings.HasPrefix(text, "!") {
		return &Filter{text: text, kind: KindComment}
	}

	return newRequestFilter(text)
}

// newInvalid returns an invalid filter.
func newInvalid(text string, reason Reason) (f *Filter) {
	return &Filter{
		text:   text,
		reason: reason,
		kind:   KindInvalid,
	}
}

// Normalize removes line breaks and other non-space whitespace from text.
// Spaces are kept inside comments and in the selectors of element hiding
// filters, and removed everywhere else.
func Normalize(text string) (norm string) {
	if text == "" {
		return ""
	}

	text = strings.Map(func(r rune) rune {
		if r != ' ' && unicode.IsSpace(r) {
			return -1
		}

		return r
	}, text)

	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "!") {
		return trimmed
	}

	if elemHideRe.MatchString(text) {
		// The separator is the first "#", optionally followed by "@" and
		// another "#".
		i := strings.IndexByte(text, '#')
		j := i + 1
		if j < len(text) && text[j] == '@' {
			j++
		}

		if j < len(text) && text[j] == '#' {
			j++
		}

		return removeSpaces(text[:i]) + text[i:j] + strings.TrimSpace(text[j:])
	}

	return removeSpaces(text)
}

// removeSpaces removes all whitespace from s.
func removeSpaces(s string) (res string) {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}

		return r
	}, s)
}
