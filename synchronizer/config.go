package synchronizer

import (
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/AdguardTeam/abpfilter/filterlist"
)

// Version is the version of this module reported to filter list servers and
// compared against the versions that filter lists require.
const Version = "1.0.0"

// Default values of [Config] fields.
const (
	DefaultInitialDelay   = 6 * time.Minute
	DefaultCheckInterval  = 1 * time.Hour
	DefaultMaxAbsence     = 24 * time.Hour
	DefaultMinRetry       = 24 * time.Hour
	DefaultExpiration     = 5 * 24 * time.Hour
	DefaultMinExpiration  = 1 * time.Hour
	DefaultMaxExpiration  = 14 * 24 * time.Hour
	DefaultMaxRedirects   = 5
	DefaultFallbackErrors = 5
)

// Config is the configuration structure for a [Synchronizer].
type Config struct {
	// Logger is used to log the downloads.  If nil, [slog.Default] is used.
	Logger *slog.Logger

	// Storage contains the subscriptions to keep up to date.  It must not be
	// nil.
	Storage *filterlist.Storage

	// Fetcher downloads filter lists.  It must not be nil.
	Fetcher Fetcher

	// Scheduler provides the current time and runs the periodic checks.  If
	// nil, [SystemScheduler] is used.
	Scheduler Scheduler

	// Rand returns a random number in [0, 1) used to spread the downloads
	// over time.  If nil, [rand.Float64] is used.
	Rand func() (f float64)

	// Version is compared with the versions filter lists require.  If empty,
	// [Version] is used.
	Version string

	// FallbackURL is the template of the URL asked about subscriptions that
	// keep failing.  The placeholders %VERSION%, %SUBSCRIPTION%, %URL%,
	// %ERROR%, %CHANNELSTATUS% and %RESPONSESTATUS% are replaced with the
	// escaped values.  If empty, the fallback is disabled.
	FallbackURL string

	// InitialDelay is the delay of the first check after [Synchronizer.Start].
	InitialDelay time.Duration

	// CheckInterval is the interval between the checks of the subscriptions.
	CheckInterval time.Duration

	// MaxAbsence is the longest gap between two checks that isn't treated as
	// the process being suspended.  Longer gaps postpone the soft expiration
	// so that the servers aren't hit by everyone at once.
	MaxAbsence time.Duration

	// MinRetry is the minimum interval between a failed download and the next
	// automatic one.
	MinRetry time.Duration

	// DefaultExpiration is used for filter lists without an "Expires"
	// comment.
	DefaultExpiration time.Duration

	// MinExpiration and MaxExpiration limit the expiration interval of filter
	// lists.
	MinExpiration time.Duration
	MaxExpiration time.Duration

	// MaxRedirects is the maximum length of a chain of "Redirect" comments.
	MaxRedirects int

	// FallbackErrors is the number of failed automatic downloads after which
	// the fallback URL is asked.
	FallbackErrors uint

	// DisableAutoUpdate turns off the automatic downloads.  See also
	// [Synchronizer.SetAutoUpdate].
	DisableAutoUpdate bool
}

// orDefault returns d if v is not positive.
func orDefault[T time.Duration | int | uint](v, d T) (res T) {
	if v <= 0 {
		return d
	}

	return v
}

// withDefaults returns a copy of c with the defaults applied.
func (c *Config) withDefaults() (conf *Config) {
	conf = &Config{}
	*conf = *c

	if conf.Logger == nil {
		conf.Logger = slog.Default()
	}

	if conf.Scheduler == nil {
		conf.Scheduler = SystemScheduler{}
	}

	if conf.Rand == nil {
		conf.Rand = rand.Float64
	}

	if conf.Version == "" {
		conf.Version = Version
	}

	conf.InitialDelay = orDefault(conf.InitialDelay, DefaultInitialDelay)
	conf.CheckInterval = orDefault(conf.CheckInterval, DefaultCheckInterval)
	conf.MaxAbsence = orDefault(conf.MaxAbsence, DefaultMaxAbsence)
	conf.MinRetry = orDefault(conf.MinRetry, DefaultMinRetry)
	conf.DefaultExpiration = orDefault(conf.DefaultExpiration, DefaultExpiration)
	conf.MinExpiration = orDefault(conf.MinExpiration, DefaultMinExpiration)
	conf.MaxExpiration = orDefault(conf.MaxExpiration, DefaultMaxExpiration)
	conf.MaxRedirects = orDefault(conf.MaxRedirects, DefaultMaxRedirects)
	conf.FallbackErrors = orDefault(conf.FallbackErrors, DefaultFallbackErrors)

	return conf
}
