// Package elemhide contains the index of element hiding filters.
package elemhide

import (
	"slices"
	"sync"

	"github.com/AdguardTeam/abpfilter/filters"
)

// Index keeps element hiding filters, their exceptions, and CSS property
// filters, and answers which of them apply to a document domain.  Index is
// safe for concurrent use.
type Index struct {
	// mu protects all fields.
	mu *sync.RWMutex

	// selectors are the element hiding filters in the order they were added.
	selectors []*filters.Filter

	// cssRules are the CSS property filters in the order they were added.
	cssRules []*filters.Filter

	// exceptions maps selectors to the exceptions for them in the order they
	// were added.
	exceptions map[string][]*filters.Filter

	// known contains every filter in the index.
	known map[*filters.Filter]struct{}
}

// New returns a new empty *Index.
func New() (idx *Index) {
	return &Index{
		mu:         &sync.RWMutex{},
		exceptions: map[string][]*filters.Filter{},
		known:      map[*filters.Filter]struct{}{},
	}
}

// Add adds f to the index.  Filters that aren't element hiding ones and the
// filters that are already there are ignored.
func (idx *Index) Add(f *filters.Filter) {
	if !f.Kind().IsElemHide() {
		return
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.known[f]; ok {
		return
	}

	idx.known[f] = struct{}{}
	switch f.Kind() {
	case filters.KindElemHideException:
		sel := f.Selector().CSS()
		idx.exceptions[sel] = append(idx.exceptions[sel], f)
	case filters.KindCSSProperty:
		idx.cssRules = append(idx.cssRules, f)
	default:
		idx.selectors = append(idx.selectors, f)
	}
}

// Remove removes f from the index.
func (idx *Index) Remove(f *filters.Filter) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.known[f]; !ok {
		return
	}

	delete(idx.known, f)
	isF := func(other *filters.Filter) (found bool) { return other == f }
	switch f.Kind() {
	case filters.KindElemHideException:
		sel := f.Selector().CSS()
		list := slices.DeleteFunc(idx.exceptions[sel], isF)
		if len(list) == 0 {
			delete(idx.exceptions, sel)
		} else {
			idx.exceptions[sel] = list
		}
	case filters.KindCSSProperty:
		idx.cssRules = slices.DeleteFunc(idx.cssRules, isF)
	default:
		idx.selectors = slices.DeleteFunc(idx.selectors, isF)
	}
}

// Clear removes all filters.
func (idx *Index) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.selectors, idx.cssRules = nil, nil
	clear(idx.exceptions)
	clear(idx.known)
}

// Len returns the number of filters in the index.
func (idx *Index) Len() (n int) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return len(idx.known)
}

// Exception returns the most recently added exception that disables f on
// domain, or nil if there is none.
func (idx *Index) Exception(f *filters.Filter, domain string) (exc *filters.Filter) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return idx.exception(f, domain)
}

// exception is the locked part of [Index.Exception].  idx.mu must be locked
// for reading.
func (idx *Index) exception(f *filters.Filter, domain string) (exc *filters.Filter) {
	for _, exc = range slices.Backward(idx.exceptions[f.Selector().CSS()]) {
		if exc.IsActiveOnDomain(domain, "") {
			return exc
		}
	}

	return nil
}

// SelectorsForDomain returns the selectors to hide on domain in the order their
// filters were added.  If specificOnly is true, the filters that aren't
// restricted to particular domains are skipped.
func (idx *Index) SelectorsForDomain(domain string, specificOnly bool) (sels []string) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	for _, f := range idx.selectors {
		if specificOnly && f.IsGeneric() {
			continue
		}

		if f.IsActiveOnDomain(domain, "") && idx.exception(f, domain) == nil {
			sels = append(sels, f.Selector().CSS())
		}
	}

	return sels
}

// CSSRulesForDomain returns the CSS property filters that apply to domain.
func (idx *Index) CSSRulesForDomain(domain string) (fs []*filters.Filter) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	for _, f := range idx.cssRules {
		if f.IsGeneric() {
			continue
		}

		if f.IsActiveOnDomain(domain, "") && idx.exception(f, domain) == nil {
			fs = append(fs, f)
		}
	}

	return fs
}
