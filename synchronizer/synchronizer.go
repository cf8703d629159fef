// Package synchronizer keeps the downloadable subscriptions of a filter
// storage up to date.
package synchronizer

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/AdguardTeam/abpfilter/filterlist"
	"github.com/AdguardTeam/abpfilter/filters"
	"github.com/AdguardTeam/abpfilter/subscription"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// Redirect errors.
const (
	errRedirectIgnored  errors.Error = "redirect ignored"
	errRedirectLoop     errors.Error = "redirect loop"
	errTooManyRedirects errors.Error = "too many redirects"
	errRedirectKnown    errors.Error = "redirect to another subscription"
)

// fallbackReplyRe matches the replies of the fallback server.
var fallbackReplyRe = regexp.MustCompile(`^(\d+)(?:\s+(\S+))?$`)

// Synchronizer periodically downloads the downloadable subscriptions of a
// storage.
type Synchronizer struct {
	logger    *slog.Logger
	storage   *filterlist.Storage
	registry  *filters.Registry
	fetcher   Fetcher
	scheduler Scheduler
	rand      func() (f float64)

	// ctx is the context of the downloads.  cancel cancels it on shutdown.
	ctx    context.Context
	cancel context.CancelFunc

	// mu protects downloading, cancelTick, autoUpdate and done.
	mu *sync.Mutex

	// downloading are the URLs of the subscriptions being downloaded.
	downloading map[string]struct{}

	// cancelTick cancels the next check.
	cancelTick func()

	// wg tracks the download goroutines.
	wg *sync.WaitGroup

	version     string
	fallbackURL string

	initialDelay      time.Duration
	checkInterval     time.Duration
	maxAbsence        time.Duration
	minRetry          time.Duration
	defaultExpiration time.Duration
	minExpiration     time.Duration
	maxExpiration     time.Duration

	maxRedirects   int
	fallbackErrors uint

	autoUpdate bool
	done       bool
}

// New returns a new synchronizer.  c must not be nil, and its Storage and
// Fetcher must be set.  Call [Synchronizer.Start] to start the checks.
func New(c *Config) (s *Synchronizer) {
	if c.Storage == nil {
		panic(errors.Error("synchronizer: nil storage"))
	} else if c.Fetcher == nil {
		panic(errors.Error("synchronizer: nil fetcher"))
	}

	c = c.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	return &Synchronizer{
		logger:            c.Logger,
		storage:           c.Storage,
		registry:          c.Storage.Registry(),
		fetcher:           c.Fetcher,
		scheduler:         c.Scheduler,
		rand:              c.Rand,
		ctx:               ctx,
		cancel:            cancel,
		mu:                &sync.Mutex{},
		downloading:       map[string]struct{}{},
		wg:                &sync.WaitGroup{},
		version:           c.Version,
		fallbackURL:       c.FallbackURL,
		initialDelay:      c.InitialDelay,
		checkInterval:     c.CheckInterval,
		maxAbsence:        c.MaxAbsence,
		minRetry:          c.MinRetry,
		defaultExpiration: c.DefaultExpiration,
		minExpiration:     c.MinExpiration,
		maxExpiration:     c.MaxExpiration,
		maxRedirects:      c.MaxRedirects,
		fallbackErrors:    c.FallbackErrors,
		autoUpdate:        !c.DisableAutoUpdate,
	}
}

// Start schedules the first check of the subscriptions.  Calling it more than
// once has no effect.
func (s *Synchronizer) Start(ctx context.Context) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return errors.Error("synchronizer is shut down")
	} else if s.cancelTick != nil {
		return nil
	}

	s.cancelTick = s.scheduler.Schedule(s.initialDelay, s.tick)
	s.logger.DebugContext(ctx, "started", "initial_delay", s.initialDelay)

	return nil
}

// Shutdown stops the checks, cancels the downloads in progress and waits for
// them to finish or for ctx to be done.  The results of cancelled downloads
// are dropped.
func (s *Synchronizer) Shutdown(ctx context.Context) (err error) {
	func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		s.done = true
		if s.cancelTick != nil {
			s.cancelTick()
		}
	}()

	s.cancel()

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return errors.Annotate(ctx.Err(), "waiting for downloads: %w")
	}
}

// Wait blocks until there are no downloads in progress.
func (s *Synchronizer) Wait() {
	s.wg.Wait()
}

// SetAutoUpdate turns the automatic downloads on or off.  Manual downloads
// with [Synchronizer.Execute] are always possible.
func (s *Synchronizer) SetAutoUpdate(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.autoUpdate = enabled
}

// IsExecuting returns true if the subscription with URL u is being
// downloaded.
func (s *Synchronizer) IsExecuting(u string) (ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok = s.downloading[u]

	return ok
}

// Execute starts a manual download of sub, unless it is being downloaded
// already.  Failed manual downloads aren't counted as errors and never ask the
// fallback server.
func (s *Synchronizer) Execute(sub *subscription.Subscription) {
	if sub.Kind() != subscription.KindDownloadable {
		return
	}

	s.startDownload(sub, true)
}

// tick checks every downloadable subscription and starts the downloads of the
// expired ones.
func (s *Synchronizer) tick() {
	var auto bool
	func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.done {
			return
		}

		s.cancelTick = s.scheduler.Schedule(s.checkInterval, s.tick)
		auto = s.autoUpdate
	}()

	if !auto {
		return
	}

	now := s.scheduler.Now()
	for _, sub := range s.storage.Subscriptions() {
		if sub.Kind() == subscription.KindDownloadable && s.check(sub, now) {
			s.startDownload(sub, false)
		}
	}
}

// check updates the expiration times of sub and reports whether it must be
// downloaded.
func (s *Synchronizer) check(sub *subscription.Subscription, now time.Time) (download bool) {
	s.storage.EditSubscription(sub, func(st *subscription.State) {
		if !st.LastCheck.IsZero() {
			if gap := now.Sub(st.LastCheck); gap > s.maxAbsence {
				// The process was probably suspended, so don't make everyone
				// download at once.
				st.SoftExpiration = st.SoftExpiration.Add(gap)
			}
		}

		st.LastCheck = now

		// Fix the times that are too far away, for example because the
		// system clock has been changed.
		limit := now.Add(s.maxExpiration)
		if st.Expires.After(limit) {
			st.Expires = limit
		}

		if st.SoftExpiration.After(limit) {
			st.SoftExpiration = limit
		}

		switch {
		case st.Gone:
			download = false
		case st.SoftExpiration.After(now) && st.Expires.After(now):
			download = false
		case !st.LastDownload.Equal(st.LastSuccess) && now.Sub(st.LastDownload) < s.minRetry:
			download = false
		default:
			download = true
		}
	})

	return download
}

// download is a download of a subscription in progress.
type download struct {
	sub *subscription.Subscription

	// visited are the URLs of the redirect chain.
	visited map[string]struct{}

	// url is the URL being downloaded.
	url string

	redirects int
	manual    bool
	fellBack  bool
}

// startDownload starts downloading sub on a new goroutine.
func (s *Synchronizer) startDownload(sub *subscription.Subscription, manual bool) {
	u := sub.URL()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return
	} else if _, ok := s.downloading[u]; ok {
		return
	}

	s.downloading[u] = struct{}{}
	s.wg.Add(1)

	d := &download{
		sub:     sub,
		visited: map[string]struct{}{u: {}},
		url:     u,
		manual:  manual,
	}

	go s.run(d)
}

// run downloads d and follows its redirects.
func (s *Synchronizer) run(d *download) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		delete(s.downloading, d.sub.URL())
	}()

	defer slogutil.RecoverAndLog(s.ctx, s.logger)

	for next := s.downloadOnce(s.ctx, d); next != ""; next = s.downloadOnce(s.ctx, d) {
		d.url = next
	}
}

// downloadOnce downloads d.url and handles the result.  next is the URL to
// download next, if any.
func (s *Synchronizer) downloadOnce(ctx context.Context, d *download) (next string) {
	s.logger.DebugContext(ctx, "downloading", "subscription", d.sub.URL(), "url", d.url)

	resp, err := s.fetcher.Fetch(ctx, d.url)
	if ctx.Err() != nil {
		return ""
	} else if err != nil {
		s.logger.DebugContext(ctx, "download failed", "url", d.url, slogutil.KeyError, err)

		status := subscription.StatusConnectionError
		if errors.Is(err, ErrInvalidURL) {
			status = subscription.StatusInvalidURL
		}

		return s.onError(ctx, d, status, -1, 0)
	}

	if resp.Status != 0 && resp.Status != http.StatusOK {
		return s.onError(ctx, d, subscription.StatusConnectionError, 0, resp.Status)
	}

	l, status := parseList(resp.Body)
	if status != "" {
		return s.onError(ctx, d, status, 0, resp.Status)
	}

	if target := l.params["redirect"]; target != "" {
		next, err = s.redirectTarget(d, target)
		if err == nil {
			s.storage.EditSubscription(d.sub, func(st *subscription.State) { st.NextURL = next })

			return next
		} else if !errors.Is(err, errRedirectIgnored) {
			s.logger.DebugContext(ctx, "not following redirect", "url", d.url, slogutil.KeyError, err)

			return s.onError(ctx, d, subscription.StatusConnectionError, 0, resp.Status)
		}
	}

	return s.onSuccess(ctx, d, l)
}

// redirectTarget validates the redirect of d to target and returns the URL to
// download.  The redirects to a URL with another scheme and to non-absolute
// URLs are ignored.
func (s *Synchronizer) redirectTarget(d *download, target string) (next string, err error) {
	u, err := url.Parse(strings.TrimSpace(target))
	if err != nil || !u.IsAbs() {
		return "", errRedirectIgnored
	}

	cur, err := url.Parse(d.url)
	if err != nil || !strings.EqualFold(cur.Scheme, u.Scheme) {
		return "", errRedirectIgnored
	}

	next = u.String()
	if _, ok := d.visited[next]; ok {
		return "", errRedirectLoop
	} else if d.redirects >= s.maxRedirects {
		return "", errTooManyRedirects
	} else if s.isOtherSubscription(d.sub, next) {
		return "", errRedirectKnown
	}

	d.visited[next] = struct{}{}
	d.redirects++

	return next, nil
}

// isOtherSubscription returns true if u is the URL of a subscription in
// storage other than sub.
func (s *Synchronizer) isOtherSubscription(sub *subscription.Subscription, u string) (ok bool) {
	known, ok := s.storage.Subscription(u)

	return ok && known != sub
}

// onSuccess applies a downloaded filter list to the subscription.  If the
// list has been downloaded from a redirect target, the subscription is
// replaced with one for the new URL.
func (s *Synchronizer) onSuccess(ctx context.Context, d *download, l *list) (next string) {
	sub := d.sub
	if d.url != sub.URL() {
		moved := subscription.New(d.url)
		moved.SetTitle(sub.Title())
		moved.SetDisabled(sub.Disabled())
		moved.SetState(subscription.State{LastCheck: sub.State().LastCheck})

		if !s.storage.ReplaceSubscription(sub, moved) {
			if !s.storage.Has(sub) {
				return ""
			}

			return s.onError(ctx, d, subscription.StatusConnectionError, 0, 0)
		}

		s.logger.InfoContext(ctx, "subscription moved", "from", sub.URL(), "to", moved.URL())
		sub = moved
	} else if !s.storage.Has(sub) {
		return ""
	}

	now := s.scheduler.Now()
	interval := expirationInterval(l.params["expires"], s.defaultExpiration)
	interval = min(max(interval, s.minExpiration), s.maxExpiration)
	soft := time.Duration(float64(interval) * (0.8 + 0.4*s.rand())).Round(time.Second)

	s.storage.EditSubscription(sub, func(st *subscription.State) {
		st.LastSuccess, st.LastDownload = now, now
		st.Status = subscription.StatusOK
		st.Errors = 0
		st.DownloadCount++
		st.Gone = false
		st.NextURL = ""
		if hp := homepage(l.params["homepage"]); hp != "" {
			st.Homepage = hp
		}

		st.Version = leadingUint(l.params["version"])
		st.SoftExpiration = now.Add(soft)
		st.Expires = now.Add(2 * interval)
		st.RequiredVersion = l.requiredVersion
		st.UpgradeRequired = upgradeRequired(l.requiredVersion, s.version)
	})

	if title := l.params["title"]; title != "" {
		s.storage.SetSubscriptionTitle(sub, title)
		sub.SetFixedTitle(true)
	} else {
		sub.SetFixedTitle(false)
	}

	fs := make([]*filters.Filter, 0, len(l.filters))
	for _, text := range l.filters {
		fs = append(fs, s.registry.FromText(text))
	}

	s.storage.UpdateSubscriptionFilters(sub, fs)
	s.logger.DebugContext(ctx, "downloaded", "subscription", sub.URL(), "filters", len(fs))

	return ""
}

// onError records a failed download.  Automatic downloads that failed too
// many times ask the fallback server, which can redirect the download.
func (s *Synchronizer) onError(
	ctx context.Context,
	d *download,
	status subscription.Status,
	channelStatus int,
	responseStatus int,
) (next string) {
	if !s.storage.Has(d.sub) {
		return ""
	}

	s.logger.InfoContext(
		ctx,
		"download failed",
		"subscription", d.sub.URL(),
		"url", d.url,
		"status", status,
		"response_status", responseStatus,
	)

	now := s.scheduler.Now()
	var fallback bool
	s.storage.EditSubscription(d.sub, func(st *subscription.State) {
		st.LastDownload = now
		st.Status = status
		st.NextURL = ""
		if d.manual {
			return
		}

		st.Errors++
		if s.fallbackURL != "" && !d.fellBack && st.Errors >= s.fallbackErrors && isHTTP(d.sub.URL()) {
			st.Errors = 0
			fallback = true
		}
	})

	if !fallback {
		return ""
	}

	d.fellBack = true

	return s.askFallback(ctx, d, status, channelStatus, responseStatus)
}

// askFallback asks the fallback server about the failing subscription of d.
// The server can redirect the download or tell that the list is gone.
func (s *Synchronizer) askFallback(
	ctx context.Context,
	d *download,
	status subscription.Status,
	channelStatus int,
	responseStatus int,
) (next string) {
	fallbackURL := strings.NewReplacer(
		"%VERSION%", escape(s.version),
		"%SUBSCRIPTION%", escape(d.sub.URL()),
		"%URL%", escape(d.url),
		"%ERROR%", escape(string(status)),
		"%CHANNELSTATUS%", escape(strconv.Itoa(channelStatus)),
		"%RESPONSESTATUS%", escape(strconv.Itoa(responseStatus)),
	).Replace(s.fallbackURL)

	resp, err := s.fetcher.Fetch(ctx, fallbackURL)
	if ctx.Err() != nil || !s.storage.Has(d.sub) {
		return ""
	} else if err != nil {
		s.logger.WarnContext(ctx, "asking fallback", "subscription", d.sub.URL(), slogutil.KeyError, err)

		return ""
	}

	m := fallbackReplyRe.FindStringSubmatch(strings.TrimSpace(resp.Body))
	switch {
	case m == nil:
		return ""
	case m[1] == "301" && isHTTP(m[2]):
		if s.isOtherSubscription(d.sub, m[2]) {
			s.logger.InfoContext(
				ctx,
				"not following fallback redirect",
				"subscription", d.sub.URL(),
				"to", m[2],
				slogutil.KeyError, errRedirectKnown,
			)

			return ""
		}

		s.logger.InfoContext(ctx, "fallback redirect", "subscription", d.sub.URL(), "to", m[2])

		d.visited = map[string]struct{}{d.sub.URL(): {}, m[2]: {}}
		d.redirects = 0
		s.storage.EditSubscription(d.sub, func(st *subscription.State) { st.NextURL = m[2] })

		return m[2]
	case m[1] == "410":
		s.logger.InfoContext(ctx, "subscription gone", "subscription", d.sub.URL())

		s.storage.EditSubscription(d.sub, func(st *subscription.State) { st.Gone = true })

		return ""
	default:
		return ""
	}
}

// isHTTP returns true if u is an HTTP(S) URL.
func isHTTP(u string) (ok bool) {
	scheme, _, found := strings.Cut(u, "://")

	return found && (strings.EqualFold(scheme, "http") || strings.EqualFold(scheme, "https"))
}

// escape escapes s the way URL components are escaped in browsers.
func escape(s string) (esc string) {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
