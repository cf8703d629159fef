package filterlist

import (
	"github.com/AdguardTeam/abpfilter/filters"
	"github.com/AdguardTeam/abpfilter/subscription"
)

// Action is the name of a change in a [Storage].
type Action string

// Action values.
const (
	ActionLoad Action = "load"
	ActionSave Action = "save"

	ActionSubscriptionAdded    Action = "subscription.added"
	ActionSubscriptionRemoved  Action = "subscription.removed"
	ActionSubscriptionMoved    Action = "subscription.moved"
	ActionSubscriptionUpdated  Action = "subscription.updated"
	ActionSubscriptionDisabled Action = "subscription.disabled"
	ActionSubscriptionTitle    Action = "subscription.title"

	// ActionSubscriptionState is sent when the download state of a
	// subscription changes.  The filters stay the same.
	ActionSubscriptionState Action = "subscription.state"

	ActionFilterAdded    Action = "filter.added"
	ActionFilterRemoved  Action = "filter.removed"
	ActionFilterMoved    Action = "filter.moved"
	ActionFilterDisabled Action = "filter.disabled"
	ActionFilterHitCount Action = "filter.hitCount"
	ActionFilterLastHit  Action = "filter.lastHit"
)

// Event is a change in a [Storage].  Only the fields that make sense for the
// action are set.
type Event struct {
	// Filter is the filter of a "filter.*" event.
	Filter *filters.Filter

	// Subscription is the subscription of a "subscription.*" event, or the
	// subscription that a filter has been added to, removed from, or moved
	// within.
	Subscription *subscription.Subscription

	// OldFilters are the previous filters of the subscription in a
	// "subscription.updated" event.
	OldFilters []*filters.Filter

	// Action is the kind of the change.
	Action Action

	// Position is the position of the filter in a "filter.added",
	// "filter.removed", or "filter.moved" event.
	Position int

	// NewPosition is the position a filter has been moved to in a
	// "filter.moved" event.
	NewPosition int
}
