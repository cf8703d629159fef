package subscription

import (
	"strings"
	"time"

	"github.com/AdguardTeam/abpfilter/filters"
)

// Status is the result of the last download of a subscription.
type Status string

// Status values.
const (
	StatusOK               Status = "synchronize_ok"
	StatusInvalidData      Status = "synchronize_invalid_data"
	StatusChecksumMismatch Status = "synchronize_checksum_mismatch"
	StatusConnectionError  Status = "synchronize_connection_error"
	StatusInvalidURL       Status = "synchronize_invalid_url"
)

// State is the download state of a downloadable subscription.  Zero times
// mean "never".
type State struct {
	// LastCheck is the last time the scheduler looked at the subscription.
	LastCheck time.Time

	// LastDownload is the time of the last download attempt.
	LastDownload time.Time

	// LastSuccess is the time of the last successful download.
	LastSuccess time.Time

	// SoftExpiration is when the subscription should be downloaded again.
	SoftExpiration time.Time

	// Expires is when the subscription must be downloaded again.
	Expires time.Time

	// Homepage is the homepage of the filter list, from its header.
	Homepage string

	// RequiredVersion is the version the filter list requires, from its
	// header.
	RequiredVersion string

	// NextURL is the target of a redirect chain that is being followed.  It
	// is not persisted.
	NextURL string

	// Status is the result of the last download.
	Status Status

	// Errors is the number of failed downloads since the last successful one
	// or since the last fallback check.
	Errors uint

	// Version is the version of the filter list, from its header.
	Version uint

	// DownloadCount is the number of successful downloads.
	DownloadCount uint

	// Gone is true if the fallback server has reported that the filter list
	// doesn't exist anymore.  Gone subscriptions are not downloaded
	// automatically.
	Gone bool

	// UpgradeRequired is true if RequiredVersion is newer than the version of
	// this module.  It is not persisted.
	UpgradeRequired bool
}

// Defaults is a set of filter kinds a special subscription is the default
// group for.
type Defaults uint8

// Defaults values.
const (
	DefaultBlocking Defaults = 1 << iota
	DefaultWhitelist
	DefaultElemHide
)

// defaultNames are the persisted names of the defaults in order.
var defaultNames = []struct {
	name string
	d    Defaults
}{
	{name: "blocking", d: DefaultBlocking},
	{name: "whitelist", d: DefaultWhitelist},
	{name: "elemhide", d: DefaultElemHide},
}

// ParseDefaults parses a space-separated list of defaults.  Unknown names are
// ignored.
func ParseDefaults(s string) (d Defaults) {
	for _, name := range strings.Fields(s) {
		for _, dn := range defaultNames {
			if dn.name == name {
				d |= dn.d
			}
		}
	}

	return d
}

// String implements the [fmt.Stringer] interface for Defaults.
func (d Defaults) String() (s string) {
	names := make([]string, 0, len(defaultNames))
	for _, dn := range defaultNames {
		if d&dn.d != 0 {
			names = append(names, dn.name)
		}
	}

	return strings.Join(names, " ")
}

// DefaultsFor returns the defaults a group created for f has.  Comments and
// invalid filters need no defaults.
func DefaultsFor(f *filters.Filter) (d Defaults) {
	switch k := f.Kind(); {
	case k == filters.KindBlocking:
		return DefaultBlocking
	case k == filters.KindWhitelist:
		return DefaultWhitelist
	case k.IsElemHide():
		return DefaultElemHide
	default:
		return 0
	}
}

// includes returns true if f belongs to a group with these defaults.
func (d Defaults) includes(f *filters.Filter) (ok bool) {
	return d&DefaultsFor(f) != 0
}

// legacyGroups are the special subscriptions of old storage files, which had
// their kind encoded in the URL.
var legacyGroups = map[string]struct {
	title    string
	defaults Defaults
}{
	"~fl~": {title: "Ad Blocking Rules", defaults: DefaultBlocking},
	"~wl~": {title: "Exception Rules", defaults: DefaultWhitelist},
	"~eh~": {title: "Element Hiding Rules", defaults: DefaultElemHide},
}
