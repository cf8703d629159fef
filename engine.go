// Package abpfilter is an Adblock Plus compatible content filtering engine.
// It keeps the filters of a [filterlist.Storage] indexed and answers whether
// requests should be blocked and which page elements should be hidden.
package abpfilter

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/AdguardTeam/abpfilter/elemhide"
	"github.com/AdguardTeam/abpfilter/filterlist"
	"github.com/AdguardTeam/abpfilter/filters"
	"github.com/AdguardTeam/abpfilter/internal/ufnet"
	"github.com/AdguardTeam/abpfilter/matcher"
	"github.com/AdguardTeam/abpfilter/notifier"
	"github.com/AdguardTeam/golibs/errors"
)

// EngineConfig is the configuration of an [Engine].
type EngineConfig struct {
	// Logger is used to log the index changes.  If nil, [slog.Default] is
	// used.
	Logger *slog.Logger

	// Storage is the source of the filters.  It must not be nil.
	Storage *filterlist.Storage

	// CacheSize is the number of request results to cache.  If not positive,
	// [matcher.DefaultCacheSize] is used.
	CacheSize int
}

// Engine mirrors the enabled filters of a storage into the request matcher and
// the element hiding index.  A filter is indexed while it is enabled and
// belongs to at least one enabled subscription.  Engine is safe for concurrent
// use.
type Engine struct {
	logger   *slog.Logger
	storage  *filterlist.Storage
	matcher  *matcher.Combined
	elemHide *elemhide.Index
	listener *notifier.ListenerFunc[filterlist.Event]

	// mu serializes the index updates, so that the last event handled always
	// leaves the indexes in the state of the storage.
	mu *sync.Mutex
}

// NewEngine returns a new *Engine that indexes the current filters of the
// storage and follows its changes until [Engine.Close] is called.  c.Storage
// must not be nil.
func NewEngine(c *EngineConfig) (e *Engine, err error) {
	if c.Storage == nil {
		panic(errors.Error("abpfilter: nil storage"))
	}

	m, err := matcher.NewCombined(c.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating matcher: %w", err)
	}

	e = &Engine{
		logger:   c.Logger,
		storage:  c.Storage,
		matcher:  m,
		elemHide: elemhide.New(),
		mu:       &sync.Mutex{},
	}

	if e.logger == nil {
		e.logger = slog.Default()
	}

	e.listener = &notifier.ListenerFunc[filterlist.Event]{F: e.handle}
	e.storage.Notifier().AddListener(e.listener)
	e.rebuild()

	return e, nil
}

// Close stops following the changes of the storage.
func (e *Engine) Close() {
	e.storage.Notifier().RemoveListener(e.listener)
}

// Storage returns the storage the engine follows.
func (e *Engine) Storage() (s *filterlist.Storage) {
	return e.storage
}

// RequestFilterCount returns the number of indexed blocking and whitelist
// filters.
func (e *Engine) RequestFilterCount() (n int) {
	return e.matcher.Len()
}

// ElemHideFilterCount returns the number of indexed element hiding filters,
// exceptions, and CSS property filters.
func (e *Engine) ElemHideFilterCount() (n int) {
	return e.elemHide.Len()
}

// handle updates the indexes after a change of the storage.
func (e *Engine) handle(ev filterlist.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch ev.Action {
	case filterlist.ActionLoad:
		e.rebuildLocked()
	case
		filterlist.ActionSubscriptionAdded,
		filterlist.ActionSubscriptionRemoved,
		filterlist.ActionSubscriptionDisabled:
		e.syncAll(ev.Subscription.Filters())
	case filterlist.ActionSubscriptionUpdated:
		e.syncAll(ev.OldFilters)
		e.syncAll(ev.Subscription.Filters())
	case
		filterlist.ActionFilterAdded,
		filterlist.ActionFilterRemoved,
		filterlist.ActionFilterDisabled:
		e.sync(ev.Filter)
	default:
		// Moves, titles, download states, and statistics don't change what
		// is active.
	}
}

// rebuild indexes all active filters from scratch.
func (e *Engine) rebuild() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rebuildLocked()
}

// rebuildLocked is the locked part of [Engine.rebuild].  e.mu must be locked.
func (e *Engine) rebuildLocked() {
	e.matcher.Clear()
	e.elemHide.Clear()

	for _, sub := range e.storage.Subscriptions() {
		if sub.Disabled() {
			continue
		}

		for _, f := range sub.Filters() {
			if !f.Disabled() {
				e.add(f)
			}
		}
	}

	e.logger.Debug(
		"rebuilt filter indexes",
		"request_filters", e.matcher.Len(),
		"elemhide_filters", e.elemHide.Len(),
	)
}

// syncAll calls [Engine.sync] for each of fs.  e.mu must be locked.
func (e *Engine) syncAll(fs []*filters.Filter) {
	for _, f := range fs {
		e.sync(f)
	}
}

// sync adds f to the indexes or removes it from them depending on whether it
// is active now.  e.mu must be locked.
func (e *Engine) sync(f *filters.Filter) {
	if e.isActive(f) {
		e.add(f)
	} else {
		e.remove(f)
	}
}

// isActive returns true if f is enabled and belongs to at least one enabled
// subscription in storage.
func (e *Engine) isActive(f *filters.Filter) (ok bool) {
	if f.Disabled() {
		return false
	}

	for _, sub := range e.storage.SubscriptionsOf(f) {
		if !sub.Disabled() {
			return true
		}
	}

	return false
}

// add puts f into the index for its kind.
func (e *Engine) add(f *filters.Filter) {
	switch k := f.Kind(); {
	case k.IsRequest():
		e.matcher.Add(f)
	case k.IsElemHide():
		e.elemHide.Add(f)
	}
}

// remove removes f from the index for its kind.
func (e *Engine) remove(f *filters.Filter) {
	switch k := f.Kind(); {
	case k.IsRequest():
		e.matcher.Remove(f)
	case k.IsElemHide():
		e.elemHide.Remove(f)
	}
}

// Result is the decision about a request.
type Result struct {
	// Filter is the filter that decided about the request.  It is nil if no
	// filter matches.
	Filter *filters.Filter

	// DocumentWhitelisted is true if the document that made the request is
	// whitelisted with $document.  Filter is the exception then.
	DocumentWhitelisted bool

	// SpecificOnly is true if the generic blocking filters have been skipped
	// because of a $genericblock exception for the document.
	SpecificOnly bool
}

// Blocked returns true if the request must be blocked.
func (r *Result) Blocked() (ok bool) {
	return r.Filter != nil && r.Filter.Kind() == filters.KindBlocking
}

// MatchRequest decides about req.  The hit statistics of the deciding filters
// are updated.
func (e *Engine) MatchRequest(req *Request) (res *Result) {
	res = &Result{}

	if req.SourceURL != "" {
		if f := e.documentException(req.SourceURL, req.SourceHostname, req.Sitekey, filters.TypeDocument); f != nil {
			e.storage.IncreaseHitCount(f)
			res.Filter, res.DocumentWhitelisted = f, true

			return res
		}

		if f := e.documentException(req.SourceURL, req.SourceHostname, req.Sitekey, filters.TypeGenericBlock); f != nil {
			e.storage.IncreaseHitCount(f)
			res.SpecificOnly = true
		}
	}

	res.Filter = e.matcher.MatchesAny(&matcher.Request{
		URL:          req.URL,
		DocDomain:    req.SourceHostname,
		Sitekey:      req.Sitekey,
		ContentType:  req.ContentType,
		ThirdParty:   req.ThirdParty,
		SpecificOnly: res.SpecificOnly,
	})
	if res.Filter != nil {
		e.storage.IncreaseHitCount(res.Filter)
	}

	return res
}

// documentException returns the whitelist filter with the type t that applies
// to the document at u, or nil if there is none.
func (e *Engine) documentException(u, docDomain, sitekey string, t filters.ContentType) (f *filters.Filter) {
	f = e.matcher.MatchesAny(&matcher.Request{
		URL:         u,
		DocDomain:   docDomain,
		Sitekey:     sitekey,
		ContentType: t,
	})
	if f == nil || f.Kind() != filters.KindWhitelist {
		return nil
	}

	return f
}

// Cosmetic is the element hiding to apply to a page.
type Cosmetic struct {
	// Exception is the $document or $elemhide exception that disables element
	// hiding on the page, if any.
	Exception *filters.Filter

	// Selectors are the CSS selectors of the elements to hide.
	Selectors []string

	// CSSRules are the CSS property filters that apply to the page.
	CSSRules []*filters.Filter

	// SpecificOnly is true if generic selectors have been skipped because of
	// a $generichide exception.
	SpecificOnly bool
}

// selectorGroupSize is the maximum number of selectors in a single style rule.
// Browsers drop whole rules with too many selectors.
const selectorGroupSize = 1000

// StyleSheet returns the CSS that hides the elements matching c.Selectors.
func (c *Cosmetic) StyleSheet() (css string) {
	b := &strings.Builder{}
	for i := 0; i < len(c.Selectors); i += selectorGroupSize {
		group := c.Selectors[i:min(i+selectorGroupSize, len(c.Selectors))]
		b.WriteString(strings.Join(group, ", "))
		b.WriteString(" {display: none !important;}\n")
	}

	return b.String()
}

// ElementHiding returns the element hiding for the page at pageURL signed
// with sitekey, which may be empty.
func (e *Engine) ElementHiding(pageURL, sitekey string) (c *Cosmetic) {
	c = &Cosmetic{}
	host := ufnet.NormalizeHostname(pageURL)

	for _, t := range []filters.ContentType{filters.TypeDocument, filters.TypeElemHide} {
		if f := e.documentException(pageURL, host, sitekey, t); f != nil {
			e.storage.IncreaseHitCount(f)
			c.Exception = f

			return c
		}
	}

	if f := e.documentException(pageURL, host, sitekey, filters.TypeGenericHide); f != nil {
		e.storage.IncreaseHitCount(f)
		c.SpecificOnly = true
	}

	c.Selectors = e.elemHide.SelectorsForDomain(host, c.SpecificOnly)
	c.CSSRules = e.elemHide.CSSRulesForDomain(host)

	return c
}
