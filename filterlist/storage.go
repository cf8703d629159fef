// Package filterlist contains the storage of filter subscriptions.
package filterlist

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/AdguardTeam/abpfilter/filters"
	"github.com/AdguardTeam/abpfilter/notifier"
	"github.com/AdguardTeam/abpfilter/subscription"
	"github.com/AdguardTeam/golibs/timeutil"
)

// DefaultBackupInterval is the default minimum time between two backups of
// the storage file.
const DefaultBackupInterval = 24 * time.Hour

// Config is the configuration of a [Storage].
type Config struct {
	// Logger is used to log the disk operations.  If nil, [slog.Default] is
	// used.
	Logger *slog.Logger

	// Registry interns the filters of the storage.  If nil, a new registry
	// is created.
	Registry *filters.Registry

	// Notifier receives the changes of the storage.  If nil, a new notifier
	// is created.
	Notifier *notifier.Notifier[Event]

	// Clock is used for hit times and backup ages.  If nil,
	// [timeutil.SystemClock] is used.
	Clock timeutil.Clock

	// Path is the file used by [Storage.LoadFromDisk] and
	// [Storage.SaveToDisk].
	Path string

	// Backups is the number of backup copies of the file to keep.
	Backups int

	// BackupInterval is the minimum time between two backups.  If zero,
	// [DefaultBackupInterval] is used.
	BackupInterval time.Duration

	// SaveStats enables the hit statistics.
	SaveStats bool
}

// Storage is the ordered list of subscriptions with a reverse index from
// filters to the subscriptions that contain them.  Every change is reported
// through the notifier after the storage is unlocked, so listeners may call
// the read methods.  Storage is safe for concurrent use.
type Storage struct {
	logger   *slog.Logger
	registry *filters.Registry
	notifier *notifier.Notifier[Event]
	clock    timeutil.Clock

	// mu protects subscriptions, byURL, and subsByFilter.
	mu *sync.RWMutex

	// subscriptions are the subscriptions in order.
	subscriptions []*subscription.Subscription

	// byURL maps the URLs of subscriptions to them.
	byURL map[string]*subscription.Subscription

	// subsByFilter maps filters to the subscriptions in storage that contain
	// them, in the order they have been added.
	subsByFilter map[*filters.Filter][]*subscription.Subscription

	// diskMu serializes the file operations.
	diskMu *sync.Mutex

	path           string
	backups        int
	backupInterval time.Duration
	saveStats      bool
}

// New returns a new empty *Storage.  c must not be nil.
func New(c *Config) (s *Storage) {
	s = &Storage{
		logger:         c.Logger,
		registry:       c.Registry,
		notifier:       c.Notifier,
		clock:          c.Clock,
		mu:             &sync.RWMutex{},
		byURL:          map[string]*subscription.Subscription{},
		subsByFilter:   map[*filters.Filter][]*subscription.Subscription{},
		diskMu:         &sync.Mutex{},
		path:           c.Path,
		backups:        c.Backups,
		backupInterval: c.BackupInterval,
		saveStats:      c.SaveStats,
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}

	if s.registry == nil {
		s.registry = filters.NewRegistry()
	}

	if s.notifier == nil {
		s.notifier = notifier.New[Event]()
	}

	if s.clock == nil {
		s.clock = timeutil.SystemClock{}
	}

	if s.backupInterval == 0 {
		s.backupInterval = DefaultBackupInterval
	}

	return s
}

// Registry returns the filter registry of the storage.
func (s *Storage) Registry() (r *filters.Registry) {
	return s.registry
}

// Notifier returns the notifier that receives the changes of the storage.
func (s *Storage) Notifier() (n *notifier.Notifier[Event]) {
	return s.notifier
}

// dispatch sends events to the listeners.  s.mu must not be locked.
func (s *Storage) dispatch(events ...Event) {
	for _, e := range events {
		s.notifier.Trigger(e)
	}
}

// Subscriptions returns the subscriptions in order.
func (s *Storage) Subscriptions() (subs []*subscription.Subscription) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.subscriptions)
}

// Subscription returns the subscription in storage with the given URL.
func (s *Storage) Subscription(u string) (sub *subscription.Subscription, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok = s.byURL[u]

	return sub, ok
}

// Has returns true if sub itself is in storage.
func (s *Storage) Has(sub *subscription.Subscription) (ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.isKnown(sub)
}

// SubscriptionsOf returns the subscriptions in storage that contain f.
func (s *Storage) SubscriptionsOf(f *filters.Filter) (subs []*subscription.Subscription) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.subsByFilter[f])
}

// isKnown returns true if sub is in storage.  s.mu must be locked.
func (s *Storage) isKnown(sub *subscription.Subscription) (ok bool) {
	return sub != nil && s.byURL[sub.URL()] == sub
}

// indexOf returns the position of the subscription with the URL of sub, or -1.
// s.mu must be locked.
func (s *Storage) indexOf(sub *subscription.Subscription) (i int) {
	u := sub.URL()

	return slices.IndexFunc(s.subscriptions, func(other *subscription.Subscription) (found bool) {
		return other.URL() == u
	})
}

// indexFilters adds sub to the reverse index entries of fs.  s.mu must be
// locked.
func (s *Storage) indexFilters(sub *subscription.Subscription, fs []*filters.Filter) {
	for _, f := range fs {
		if !slices.Contains(s.subsByFilter[f], sub) {
			s.subsByFilter[f] = append(s.subsByFilter[f], sub)
		}
	}
}

// unindexFilters removes sub from the reverse index entries of fs.  s.mu must
// be locked.
func (s *Storage) unindexFilters(sub *subscription.Subscription, fs []*filters.Filter) {
	for _, f := range fs {
		s.unindexFilter(sub, f)
	}
}

// unindexFilter removes sub from the reverse index entry of f.  s.mu must be
// locked.
func (s *Storage) unindexFilter(sub *subscription.Subscription, f *filters.Filter) {
	subs := slices.DeleteFunc(s.subsByFilter[f], func(other *subscription.Subscription) (found bool) {
		return other == sub
	})
	if len(subs) == 0 {
		delete(s.subsByFilter, f)
	} else {
		s.subsByFilter[f] = subs
	}
}

// AddSubscription appends sub and reports whether it has been added.  A
// subscription with a URL that is already in storage isn't added.  Unless
// silent is true, the listeners are notified.
func (s *Storage) AddSubscription(sub *subscription.Subscription, silent bool) (added bool) {
	func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		added = s.addSubscription(sub)
	}()

	if added && !silent {
		s.dispatch(Event{Action: ActionSubscriptionAdded, Subscription: sub})
	}

	return added
}

// addSubscription appends sub if its URL isn't known.  s.mu must be locked.
func (s *Storage) addSubscription(sub *subscription.Subscription) (added bool) {
	if _, ok := s.byURL[sub.URL()]; ok {
		return false
	}

	s.subscriptions = append(s.subscriptions, sub)
	s.byURL[sub.URL()] = sub
	s.indexFilters(sub, sub.Filters())

	return true
}

// RemoveSubscription removes the subscription with the URL of sub and reports
// whether it has been there.  Unless silent is true, the listeners are
// notified.
func (s *Storage) RemoveSubscription(sub *subscription.Subscription, silent bool) (removed bool) {
	var stored *subscription.Subscription
	func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		i := s.indexOf(sub)
		if i < 0 {
			return
		}

		stored = s.subscriptions[i]
		s.unindexFilters(stored, stored.Filters())
		s.subscriptions = slices.Delete(s.subscriptions, i, i+1)
		delete(s.byURL, stored.URL())
	}()

	if stored == nil {
		return false
	}

	if !silent {
		s.dispatch(Event{Action: ActionSubscriptionRemoved, Subscription: stored})
	}

	return true
}

// MoveSubscription moves sub so that it's placed before insertBefore.  If
// insertBefore is nil or isn't in storage, sub is moved to the end.
func (s *Storage) MoveSubscription(sub, insertBefore *subscription.Subscription) {
	moved := false
	func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		cur := s.indexOf(sub)
		if cur < 0 {
			return
		}

		pos := len(s.subscriptions)
		if insertBefore != nil {
			if i := s.indexOf(insertBefore); i >= 0 {
				pos = i
			}
		}

		if cur < pos {
			pos--
		}

		if cur == pos {
			return
		}

		stored := s.subscriptions[cur]
		s.subscriptions = slices.Delete(s.subscriptions, cur, cur+1)
		s.subscriptions = slices.Insert(s.subscriptions, pos, stored)
		moved = true
	}()

	if moved {
		s.dispatch(Event{Action: ActionSubscriptionMoved, Subscription: sub})
	}
}

// ReplaceSubscription puts sub into the place of old, which keeps the order of
// subscriptions when a filter list moves to a new URL.  It reports whether the
// replacement has been done: old must be in storage and the URL of sub must
// not be.  The listeners get a removal of old and an addition of sub.
func (s *Storage) ReplaceSubscription(old, sub *subscription.Subscription) (ok bool) {
	func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if _, known := s.byURL[sub.URL()]; known || !s.isKnown(old) {
			return
		}

		i := slices.Index(s.subscriptions, old)
		s.unindexFilters(old, old.Filters())
		delete(s.byURL, old.URL())

		s.subscriptions[i] = sub
		s.byURL[sub.URL()] = sub
		s.indexFilters(sub, sub.Filters())
		ok = true
	}()

	if ok {
		s.dispatch(
			Event{Action: ActionSubscriptionRemoved, Subscription: old},
			Event{Action: ActionSubscriptionAdded, Subscription: sub},
		)
	}

	return ok
}

// UpdateSubscriptionFilters replaces the filters of sub.  The listeners get
// the previous filters in [Event.OldFilters].
func (s *Storage) UpdateSubscriptionFilters(sub *subscription.Subscription, fs []*filters.Filter) {
	var old []*filters.Filter
	func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		known := s.isKnown(sub)
		old = sub.SetFilters(fs)
		if known {
			s.unindexFilters(sub, old)
			s.indexFilters(sub, fs)
		}
	}()

	s.dispatch(Event{Action: ActionSubscriptionUpdated, Subscription: sub, OldFilters: old})
}

// SetSubscriptionDisabled enables or disables sub.
func (s *Storage) SetSubscriptionDisabled(sub *subscription.Subscription, disabled bool) {
	if sub.SetDisabled(disabled) {
		s.dispatch(Event{Action: ActionSubscriptionDisabled, Subscription: sub})
	}
}

// SetSubscriptionTitle changes the title of sub.
func (s *Storage) SetSubscriptionTitle(sub *subscription.Subscription, title string) {
	if sub.SetTitle(title) {
		s.dispatch(Event{Action: ActionSubscriptionTitle, Subscription: sub})
	}
}

// EditSubscription changes the download state of sub with fn.  fn is called
// with the storage locked, so it must not call the methods of the storage.
func (s *Storage) EditSubscription(sub *subscription.Subscription, fn func(st *subscription.State)) {
	func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		st := sub.State()
		fn(&st)
		sub.SetState(st)
	}()

	s.dispatch(Event{Action: ActionSubscriptionState, Subscription: sub})
}

// AddFilter inserts f into sub at pos.  A negative pos means the end of the
// list.  If sub is nil, f is added to the first enabled special subscription
// that is the default one for its kind, or to the first enabled special
// subscription without defaults, or to a new special subscription, unless it
// already is in an enabled special subscription.  Unless silent is true, the
// listeners are notified.
func (s *Storage) AddFilter(f *filters.Filter, sub *subscription.Subscription, pos int, silent bool) {
	var events []Event
	func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		events = s.addFilter(f, sub, pos)
	}()

	if !silent {
		s.dispatch(events...)
	}
}

// addFilter is the locked part of [Storage.AddFilter].  s.mu must be locked.
func (s *Storage) addFilter(f *filters.Filter, sub *subscription.Subscription, pos int) (events []Event) {
	if sub == nil {
		if slices.ContainsFunc(s.subsByFilter[f], isEnabledSpecial) {
			return nil
		}

		sub = s.groupForFilter(f)
	}

	if sub == nil {
		sub = subscription.NewGroupForFilter(f)
		s.addSubscription(sub)

		return []Event{{Action: ActionSubscriptionAdded, Subscription: sub}}
	}

	if pos < 0 {
		pos = sub.Len()
	}

	if s.isKnown(sub) {
		s.indexFilters(sub, []*filters.Filter{f})
	}

	pos = sub.InsertFilter(f, pos)

	return []Event{{Action: ActionFilterAdded, Filter: f, Subscription: sub, Position: pos}}
}

// groupForFilter returns the special subscription f should be added to by
// default, or nil if there is none.  s.mu must be locked.
func (s *Storage) groupForFilter(f *filters.Filter) (group *subscription.Subscription) {
	var general *subscription.Subscription
	for _, sub := range s.subscriptions {
		if !isEnabledSpecial(sub) {
			continue
		}

		if sub.IsDefaultFor(f) {
			return sub
		}

		if general == nil && sub.Defaults() == 0 {
			general = sub
		}
	}

	return general
}

// isEnabledSpecial returns true if sub is an enabled user filter group.
func isEnabledSpecial(sub *subscription.Subscription) (ok bool) {
	return sub.Kind() == subscription.KindSpecial && !sub.Disabled()
}

// RemoveFilter removes f from the special subscriptions.  If sub is nil, f is
// removed from every special subscription in storage that contains it.  If
// pos is negative, every occurrence of f is removed, otherwise only the one at
// pos.  The listeners are notified about every removal.
func (s *Storage) RemoveFilter(f *filters.Filter, sub *subscription.Subscription, pos int) {
	var events []Event
	func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		subs := []*subscription.Subscription{sub}
		if sub == nil {
			subs = slices.Clone(s.subsByFilter[f])
		}

		for _, sub = range subs {
			if sub.Kind() == subscription.KindSpecial {
				events = append(events, s.removeFilter(f, sub, pos)...)
			}
		}
	}()

	s.dispatch(events...)
}

// removeFilter removes f from sub at pos, or everywhere in sub if pos is
// negative.  s.mu must be locked.
func (s *Storage) removeFilter(
	f *filters.Filter,
	sub *subscription.Subscription,
	pos int,
) (events []Event) {
	var positions []int
	if pos < 0 {
		for i := sub.IndexOf(f, 0); i >= 0; i = sub.IndexOf(f, i+1) {
			positions = append(positions, i)
		}
	} else {
		positions = []int{pos}
	}

	for _, p := range slices.Backward(positions) {
		if sub.FilterAt(p) != f {
			continue
		}

		sub.RemoveFilterAt(p)
		if sub.IndexOf(f, 0) < 0 {
			s.unindexFilter(sub, f)
		}

		events = append(events, Event{
			Action:       ActionFilterRemoved,
			Filter:       f,
			Subscription: sub,
			Position:     p,
		})
	}

	return events
}

// MoveFilter moves the filter f at position from in special subscription sub
// to position to, which is clamped to the bounds of the list.
func (s *Storage) MoveFilter(f *filters.Filter, sub *subscription.Subscription, from, to int) {
	moved := false
	func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if sub.Kind() != subscription.KindSpecial || sub.FilterAt(from) != f {
			return
		}

		to = min(max(to, 0), sub.Len()-1)
		if from == to {
			return
		}

		sub.RemoveFilterAt(from)
		sub.InsertFilter(f, to)
		moved = true
	}()

	if moved {
		s.dispatch(Event{
			Action:       ActionFilterMoved,
			Filter:       f,
			Subscription: sub,
			Position:     from,
			NewPosition:  to,
		})
	}
}

// SetFilterDisabled enables or disables f.
func (s *Storage) SetFilterDisabled(f *filters.Filter, disabled bool) {
	if f.Kind().IsActive() && f.SetDisabled(disabled) {
		s.dispatch(Event{Action: ActionFilterDisabled, Filter: f})
	}
}

// IncreaseHitCount records a hit of f, if the statistics are enabled.
func (s *Storage) IncreaseHitCount(f *filters.Filter) {
	if !s.saveStats || !f.Kind().IsActive() {
		return
	}

	ok, lastChanged := f.IncrementHit(s.clock.Now())
	if !ok {
		return
	}

	s.dispatch(Event{Action: ActionFilterHitCount, Filter: f})
	if lastChanged {
		s.dispatch(Event{Action: ActionFilterLastHit, Filter: f})
	}
}

// ResetHitCounts resets the statistics of fs.  If fs is nil, the statistics of
// all known filters are reset.
func (s *Storage) ResetHitCounts(fs []*filters.Filter) {
	if fs == nil {
		fs = s.registry.All()
	}

	for _, f := range fs {
		if f.Kind().IsActive() {
			s.setHits(f, 0, time.Time{})
		}
	}
}

// setHits sets the statistics of f and notifies the listeners about the
// changed ones.
func (s *Storage) setHits(f *filters.Filter, n uint, last time.Time) {
	if f.SetHitCount(n) {
		s.dispatch(Event{Action: ActionFilterHitCount, Filter: f})
	}

	if f.SetLastHit(last) {
		s.dispatch(Event{Action: ActionFilterLastHit, Filter: f})
	}
}
