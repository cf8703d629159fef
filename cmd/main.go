// Command abpfilter runs a filtering MITM proxy that keeps its filter lists up
// to date.
package main

import (
	"context"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AdguardTeam/abpfilter"
	"github.com/AdguardTeam/abpfilter/filterlist"
	"github.com/AdguardTeam/abpfilter/filters"
	"github.com/AdguardTeam/abpfilter/proxy"
	"github.com/AdguardTeam/abpfilter/subscription"
	"github.com/AdguardTeam/abpfilter/synchronizer"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/gomitmproxy"
	"github.com/AdguardTeam/gomitmproxy/mitm"
)

// keyPrefix is the log attribute with the name of the component.
const keyPrefix = "prefix"

// shutdownTimeout is the time given to the downloads in progress to finish.
const shutdownTimeout = 10 * time.Second

func main() {
	opts, ok, code := parseOptions(os.Args[1:])
	if !ok {
		os.Exit(code)
	}

	logger, closeLog, err := newLogger(opts)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "creating logger: %s\n", err)
		os.Exit(1)
	}

	err = run(opts, logger)
	if err != nil {
		logger.Error("running", slogutil.KeyError, err)
	}

	err = errors.Join(err, closeLog())
	if err != nil {
		os.Exit(1)
	}
}

// newLogger returns the logger writing to the output of opts.
func newLogger(opts *Options) (l *slog.Logger, closeLog func() (err error), err error) {
	var w io.Writer = os.Stderr
	closeLog = func() (err error) { return nil }
	if opts.LogOutput != "" {
		// #nosec G302 -- The log file is meant to be readable.
		f, fErr := os.OpenFile(opts.LogOutput, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if fErr != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", fErr)
		}

		w, closeLog = f, f.Close
	}

	lvl := slog.LevelInfo
	if opts.Verbose {
		lvl = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), closeLog, nil
}

// run sets up the storage and the synchronizer and either checks a URL or
// runs the proxy until a signal arrives.
func run(opts *Options, logger *slog.Logger) (err error) {
	ctx := context.Background()

	storage := filterlist.New(&filterlist.Config{
		Logger:    logger.With(keyPrefix, "filterlist"),
		Path:      opts.StoragePath,
		Backups:   opts.Backups,
		SaveStats: true,
	})

	if opts.StoragePath != "" {
		err = storage.LoadFromDisk(ctx)
		if err != nil {
			return fmt.Errorf("loading storage: %w", err)
		}
	}

	for _, u := range opts.Subscriptions {
		if _, ok := storage.Subscription(u); !ok {
			storage.AddSubscription(subscription.New(u), false)
		}
	}

	engine, err := abpfilter.NewEngine(&abpfilter.EngineConfig{
		Logger:  logger.With(keyPrefix, "engine"),
		Storage: storage,
	})
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	defer engine.Close()

	syncer := synchronizer.New(&synchronizer.Config{
		Logger:  logger.With(keyPrefix, "synchronizer"),
		Storage: storage,
		Fetcher: synchronizer.NewHTTPFetcher(&synchronizer.HTTPFetcherConfig{
			MaxSize:    opts.MaxListSize.ByteSize,
			AllowFiles: true,
		}),
		FallbackURL:       opts.FallbackURL,
		DisableAutoUpdate: opts.NoAutoUpdate,
	})

	if opts.Check != "" {
		return check(ctx, opts, engine, storage, syncer)
	}

	return serve(ctx, opts, logger, engine, storage, syncer)
}

// check downloads the subscriptions that have no filters yet and prints the
// decision about the URL of opts.
func check(
	ctx context.Context,
	opts *Options,
	engine *abpfilter.Engine,
	storage *filterlist.Storage,
	syncer *synchronizer.Synchronizer,
) (err error) {
	t, ok := filters.ContentTypeFromName(opts.CheckType)
	if !ok {
		return fmt.Errorf("unknown content type %q", opts.CheckType)
	}

	for _, sub := range storage.Subscriptions() {
		if sub.Kind() == subscription.KindDownloadable && sub.Len() == 0 {
			syncer.Execute(sub)
		}
	}

	syncer.Wait()

	req := abpfilter.NewRequest(opts.Check, opts.CheckSource, t)
	req.Sitekey = opts.CheckSitekey

	res := engine.MatchRequest(req)
	switch {
	case res.DocumentWhitelisted:
		fmt.Printf("allowed: document whitelisted by %s\n", res.Filter)
	case res.Filter == nil:
		fmt.Println("allowed: no matching filter")
	case res.Blocked():
		fmt.Printf("blocked by %s\n", res.Filter)
	default:
		fmt.Printf("allowed by %s\n", res.Filter)
	}

	if t == filters.TypeDocument {
		c := engine.ElementHiding(opts.Check, opts.CheckSitekey)
		if c.Exception != nil {
			fmt.Printf("element hiding disabled by %s\n", c.Exception)
		} else {
			fmt.Printf("selectors: %d, css property filters: %d\n", len(c.Selectors), len(c.CSSRules))
		}
	}

	return saveStorage(ctx, opts, storage)
}

// serve runs the proxy until SIGINT or SIGTERM.
func serve(
	ctx context.Context,
	opts *Options,
	logger *slog.Logger,
	engine *abpfilter.Engine,
	storage *filterlist.Storage,
	syncer *synchronizer.Synchronizer,
) (err error) {
	conf, err := newServerConfig(opts, logger, engine)
	if err != nil {
		return fmt.Errorf("creating proxy config: %w", err)
	}

	server, err := proxy.NewServer(conf)
	if err != nil {
		return fmt.Errorf("creating proxy: %w", err)
	}

	logger.InfoContext(ctx, "starting proxy", "config", conf)

	err = syncer.Start(ctx)
	if err != nil {
		return fmt.Errorf("starting synchronizer: %w", err)
	}

	err = server.Start()
	if err != nil {
		return errors.WithDeferred(fmt.Errorf("starting proxy: %w", err), shutdown(ctx, opts, storage, syncer))
	}

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signalCh
	logger.InfoContext(ctx, "shutting down", "signal", sig)

	server.Close()

	return shutdown(ctx, opts, storage, syncer)
}

// shutdown stops syncer and saves the storage.
func shutdown(
	ctx context.Context,
	opts *Options,
	storage *filterlist.Storage,
	syncer *synchronizer.Synchronizer,
) (err error) {
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	err = syncer.Shutdown(shutdownCtx)
	if err != nil {
		err = fmt.Errorf("shutting down synchronizer: %w", err)
	}

	return errors.Join(err, saveStorage(ctx, opts, storage))
}

// saveStorage saves storage if it has a file.
func saveStorage(ctx context.Context, opts *Options, storage *filterlist.Storage) (err error) {
	if opts.StoragePath == "" {
		return nil
	}

	err = storage.SaveToDisk(ctx)
	if err != nil {
		return fmt.Errorf("saving storage: %w", err)
	}

	return nil
}

// newServerConfig returns the proxy configuration for opts.
func newServerConfig(
	opts *Options,
	logger *slog.Logger,
	engine *abpfilter.Engine,
) (conf *proxy.Config, err error) {
	listenIP, err := netip.ParseAddr(opts.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("parsing listen address: %w", err)
	}

	mitmConfig, err := newMITMConfig(opts)
	if err != nil {
		return nil, err
	}

	var tlsConfig *tls.Config
	if opts.HTTPSProxy {
		if opts.HTTPSHostname == "" {
			return nil, errors.Error("https hostname must be specified")
		} else if mitmConfig == nil {
			return nil, errors.Error("https proxy requires the root certificate")
		}

		var proxyCert *tls.Certificate
		proxyCert, err = mitmConfig.GetOrCreateCert(opts.HTTPSHostname)
		if err != nil {
			return nil, fmt.Errorf("generating https proxy certificate for %s: %w", opts.HTTPSHostname, err)
		}

		tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{*proxyCert},
			ServerName:   opts.HTTPSHostname,
			MinVersion:   tls.VersionTLS12,
		}
	}

	return &proxy.Config{
		Logger:                logger.With(keyPrefix, "proxy"),
		Engine:                engine,
		CompressContentScript: true,
		ProxyConfig: gomitmproxy.Config{
			ListenAddr: net.TCPAddrFromAddrPort(netip.AddrPortFrom(listenIP, uint16(opts.ListenPort))),
			TLSConfig:  tlsConfig,

			Username: opts.ProxyUser,
			Password: opts.ProxyPassword,

			MITMConfig: mitmConfig,
		},
	}, nil
}

// newMITMConfig loads the root certificate of opts.  mitmConfig is nil if
// there is no certificate, and then HTTPS is tunneled without filtering.
func newMITMConfig(opts *Options) (mitmConfig *mitm.Config, err error) {
	if opts.TLSCertPath == "" && opts.TLSKeyPath == "" {
		return nil, nil
	}

	tlsCert, err := tls.LoadX509KeyPair(opts.TLSCertPath, opts.TLSKeyPath)
	if err != nil {
		return nil, fmt.Errorf("loading root ca: %w", err)
	}

	privateKey, ok := tlsCert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("root ca key: unsupported type %T", tlsCert.PrivateKey)
	}

	x509c, err := x509.ParseCertificate(tlsCert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("parsing root ca: %w", err)
	}

	mitmConfig, err = mitm.NewConfig(x509c, privateKey, nil)
	if err != nil {
		return nil, fmt.Errorf("creating mitm config: %w", err)
	}

	mitmConfig.SetValidity(7 * 24 * time.Hour)
	mitmConfig.SetOrganization("abpfilter")

	return mitmConfig, nil
}
