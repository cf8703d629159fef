package synchronizer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/c2h5oh/datasize"
)

// Response is a downloaded filter list.
type Response struct {
	// Body is the text of the filter list.
	Body string

	// Status is the HTTP status code.  It is zero for the schemes other than
	// HTTP.
	Status int
}

// Fetcher downloads filter lists.
type Fetcher interface {
	// Fetch downloads the document at rawURL.  err must wrap [ErrInvalidURL]
	// if rawURL cannot be requested at all.  An HTTP response with any status
	// is not an error.
	Fetch(ctx context.Context, rawURL string) (resp *Response, err error)
}

// Scheduler is the source of time for a [Synchronizer].
type Scheduler interface {
	timeutil.Clock

	// Schedule runs f once delay has passed.  cancel prevents f from running
	// if it hasn't started yet.
	Schedule(delay time.Duration, f func()) (cancel func())
}

// SystemScheduler is a [Scheduler] that uses the system time.
type SystemScheduler struct {
	timeutil.SystemClock
}

// type check
var _ Scheduler = SystemScheduler{}

// Schedule implements the [Scheduler] interface for SystemScheduler.
func (SystemScheduler) Schedule(delay time.Duration, f func()) (cancel func()) {
	t := time.AfterFunc(delay, f)

	return func() { t.Stop() }
}

const (
	// ErrInvalidURL is returned by fetchers for URLs that cannot be
	// requested.
	ErrInvalidURL errors.Error = "invalid url"

	// ErrTooLarge is returned by [HTTPFetcher] for documents larger than the
	// limit.
	ErrTooLarge errors.Error = "document too large"
)

// Default values of [HTTPFetcherConfig] fields.
const (
	DefaultTimeout = 1 * time.Minute
	DefaultMaxSize = 64 * datasize.MB
)

// HTTPFetcherConfig is the configuration structure for an [HTTPFetcher].
type HTTPFetcherConfig struct {
	// UserAgent is the value of the User-Agent header.  If empty,
	// "abpfilter/" followed by [Version] is used.
	UserAgent string

	// Timeout is the timeout of a whole download.  If not positive,
	// [DefaultTimeout] is used.
	Timeout time.Duration

	// MaxSize is the maximum size of a document.  If zero, [DefaultMaxSize] is
	// used.
	MaxSize datasize.ByteSize

	// AllowFiles enables file:// URLs.  Paths are resolved from the root of
	// the file system.
	AllowFiles bool
}

// HTTPFetcher is a [Fetcher] that uses HTTP(S) and, optionally, local files.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	maxSize   datasize.ByteSize
	files     bool
}

// type check
var _ Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher returns a new properly initialized *HTTPFetcher.  c must not
// be nil.
func NewHTTPFetcher(c *HTTPFetcherConfig) (f *HTTPFetcher) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if c.AllowFiles {
		transport.RegisterProtocol("file", http.NewFileTransport(http.Dir("/")))
	}

	f = &HTTPFetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   c.Timeout,
		},
		userAgent: c.UserAgent,
		maxSize:   c.MaxSize,
		files:     c.AllowFiles,
	}

	if f.client.Timeout <= 0 {
		f.client.Timeout = DefaultTimeout
	}

	if f.userAgent == "" {
		f.userAgent = "abpfilter/" + Version
	}

	if f.maxSize == 0 {
		f.maxSize = DefaultMaxSize
	}

	return f
}

// Fetch implements the [Fetcher] interface for *HTTPFetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (resp *Response, err error) {
	defer func() { err = errors.Annotate(err, "fetching %q: %w", rawURL) }()

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}

	scheme := strings.ToLower(u.Scheme)
	switch {
	case scheme == "http", scheme == "https":
		// Go on.
	case scheme == "file" && f.files:
		// Go on.
	default:
		return nil, fmt.Errorf("%w: scheme %q is not supported", ErrInvalidURL, u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}

	req.Header.Set(httphdr.UserAgent, f.userAgent)
	req.Header.Set(httphdr.Accept, "text/plain")

	httpResp, err := f.client.Do(req)
	if err != nil {
		// Don't wrap the error, since it's informative enough as is.
		return nil, err
	}
	defer func() { err = errors.WithDeferred(err, httpResp.Body.Close()) }()

	limit := int64(f.maxSize.Bytes())
	body, err := io.ReadAll(io.LimitReader(httpResp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	} else if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: limit is %s", ErrTooLarge, f.maxSize)
	}

	resp = &Response{
		Body:   string(body),
		Status: httpResp.StatusCode,
	}

	if scheme == "file" {
		resp.Status = fileStatus(httpResp.StatusCode)
	}

	return resp, nil
}

// fileStatus converts the status of a local file response into the one of a
// non-HTTP download.  Missing files keep their error status.
func fileStatus(code int) (status int) {
	if code == http.StatusOK {
		return 0
	}

	return code
}
