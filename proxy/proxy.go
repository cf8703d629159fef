// Package proxy implements a MITM proxy that blocks requests and hides page
// elements with an [abpfilter.Engine].
package proxy

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AdguardTeam/abpfilter"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/AdguardTeam/gomitmproxy"
)

// Session property keys.
const (
	sessionPropKey    = "session"
	requestBlockedKey = "blocked"
)

// DefaultInjectionHost is the default host that serves the content script.
const DefaultInjectionHost = "injections.abpfilter.invalid"

// Config is the configuration of a [Server].
type Config struct {
	// Logger is used to log the filtering decisions.  If nil, [slog.Default]
	// is used.
	Logger *slog.Logger

	// Engine decides about requests and element hiding.  It must not be nil.
	Engine *abpfilter.Engine

	// Clock is used for the cache headers.  If nil, [timeutil.SystemClock]
	// is used.
	Clock timeutil.Clock

	// InjectionHost is the host of the content script that applies the CSS
	// property filters:
	//
	//   - the proxy injects <script src="//INJECTION_HOST/content-script.js?url=URL&ts=TS">
	//     into HTML documents that have CSS property filters;
	//   - requests to the host never leave the proxy, it answers them with
	//     the script for the page URL.
	//
	// If empty, [DefaultInjectionHost] is used.
	InjectionHost string

	// ProxyConfig is the configuration of the MITM proxy.  Its handlers are
	// set by [NewServer].
	ProxyConfig gomitmproxy.Config

	// CompressContentScript makes the proxy serve the content script
	// gzipped, which saves traffic when the proxy is on a public server.
	CompressContentScript bool
}

// String implements the [fmt.Stringer] interface for *Config.
func (c *Config) String() (s string) {
	b := &strings.Builder{}

	if addr := c.ProxyConfig.ListenAddr; addr != nil {
		_, _ = fmt.Fprintf(b, "listen addr: %s; ", addr)
	}

	_, _ = fmt.Fprintf(b, "mitm: %t; ", c.ProxyConfig.MITMConfig != nil)
	_, _ = fmt.Fprintf(b, "https proxy: %t; ", c.ProxyConfig.TLSConfig != nil)

	if c.ProxyConfig.Username != "" {
		_, _ = fmt.Fprintf(b, "proxy auth user: %s; ", c.ProxyConfig.Username)
	}

	if c.ProxyConfig.APIHost != "" {
		_, _ = fmt.Fprintf(b, "api host: %s; ", c.ProxyConfig.APIHost)
	}

	_, _ = fmt.Fprintf(b, "injection host: %s", c.InjectionHost)

	return b.String()
}

// Server is a filtering MITM proxy.
type Server struct {
	logger      *slog.Logger
	engine      *abpfilter.Engine
	clock       timeutil.Clock
	proxyServer *gomitmproxy.Proxy

	// createdAt is the time the server was created at.  It also versions the
	// content script.
	createdAt time.Time

	injectionHost         string
	compressContentScript bool
}

// NewServer returns a new properly initialized *Server.  c must not be nil.
func NewServer(c *Config) (s *Server, err error) {
	if c.Engine == nil {
		return nil, errors.Error("proxy: no engine")
	}

	s = &Server{
		logger:                c.Logger,
		engine:                c.Engine,
		clock:                 c.Clock,
		injectionHost:         c.InjectionHost,
		compressContentScript: c.CompressContentScript,
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}

	if s.clock == nil {
		s.clock = timeutil.SystemClock{}
	}

	if s.injectionHost == "" {
		s.injectionHost = DefaultInjectionHost
	}

	s.createdAt = s.clock.Now()
	s.logger.Info("initializing proxy server", "config", c)

	proxyConf := c.ProxyConfig
	proxyConf.OnRequest = s.onRequest
	proxyConf.OnResponse = s.onResponse
	proxyConf.OnConnect = s.onConnect
	s.proxyServer = gomitmproxy.NewProxy(proxyConf)

	return s, nil
}

// Start starts the proxy server.
func (s *Server) Start() (err error) {
	return s.proxyServer.Start()
}

// Close stops the proxy server.
func (s *Server) Close() {
	s.proxyServer.Close()
}
