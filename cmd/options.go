package main

import (
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	goFlags "github.com/jessevdk/go-flags"
)

// Options are the command-line options.
type Options struct {
	// ConfigFile is the path to an INI file with the options.  The options
	// given on the command line take precedence.
	ConfigFile string `long:"config" description:"Path to an INI file with the options." no-ini:"true"`

	// Verbose enables the debug logging.
	Verbose bool `short:"v" long:"verbose" description:"Verbose output (optional)." optional:"yes" optional-value:"true"`

	// LogOutput is the path to the log file.
	LogOutput string `short:"o" long:"output" description:"Path to the log file. If not set, it writes to stderr." default:""`

	// ListenAddr is the address the proxy listens on.
	ListenAddr string `short:"l" long:"listen" description:"Listen address." default:"0.0.0.0"`

	// ListenPort is the port the proxy listens on.
	ListenPort int `short:"p" long:"port" description:"Listen port." default:"8080"`

	// TLSCertPath is the path to the root certificate used to sign the MITM
	// certificates.
	TLSCertPath string `short:"c" long:"ca-cert" description:"Path to a file with the root certificate."`

	// TLSKeyPath is the path to the private key of the root certificate.
	TLSKeyPath string `short:"k" long:"ca-key" description:"Path to a file with the CA private key."`

	// StoragePath is the file the subscriptions are kept in between runs.
	StoragePath string `short:"s" long:"storage" description:"Path to the filter storage file. If not set, nothing is saved."`

	// Backups is the number of backup copies of the storage file.
	Backups int `long:"backups" description:"Number of backup copies of the storage file." default:"3"`

	// Subscriptions are the URLs of the filter lists to subscribe to.
	Subscriptions []string `short:"f" long:"subscription" description:"URL of a filter list, file:// is allowed. Can be specified multiple times."`

	// FallbackURL is the template of the URL asked about the subscriptions
	// that keep failing.
	FallbackURL string `long:"fallback-url" description:"Template of the fallback URL for failing subscriptions."`

	// MaxListSize is the maximum size of a downloaded filter list.
	MaxListSize byteSize `long:"max-list-size" description:"Maximum size of a filter list, e.g. 10MB." default:"64MB"`

	// NoAutoUpdate disables the periodic downloads.
	NoAutoUpdate bool `long:"no-auto-update" description:"Don't update the subscriptions automatically." optional:"yes" optional-value:"true"`

	// ProxyUser is the proxy auth username.
	ProxyUser string `short:"u" long:"username" description:"Proxy auth username. If specified, proxy authorization is required."`

	// ProxyPassword is the proxy auth password.
	ProxyPassword string `short:"a" long:"password" description:"Proxy auth password. If specified, proxy authorization is required."`

	// HTTPSProxy makes the proxy accept TLS connections.
	HTTPSProxy bool `short:"t" long:"https" description:"Run an HTTPS proxy (otherwise, it runs plain HTTP proxy)." optional:"yes" optional-value:"true"`

	// HTTPSHostname is the server name of the HTTPS proxy.
	HTTPSHostname string `short:"n" long:"https-name" description:"Server name or IP address of the HTTPS proxy."`

	// Check is the URL to check against the filters instead of running the
	// proxy.
	Check string `long:"check" description:"Print the decision about the URL and exit." no-ini:"true"`

	// CheckSource is the URL of the document that makes the checked request.
	CheckSource string `long:"source" description:"Document URL for --check." no-ini:"true"`

	// CheckType is the content type of the checked request.
	CheckType string `long:"type" description:"Content type for --check, e.g. image or script." default:"document" no-ini:"true"`

	// CheckSitekey is the sitekey of the document for --check.
	CheckSitekey string `long:"sitekey" description:"Sitekey of the document for --check." no-ini:"true"`
}

// byteSize is a [datasize.ByteSize] that go-flags can parse.
type byteSize struct {
	datasize.ByteSize
}

// type check
var _ goFlags.Unmarshaler = (*byteSize)(nil)

// UnmarshalFlag implements the [goFlags.Unmarshaler] interface for *byteSize.
func (b *byteSize) UnmarshalFlag(value string) (err error) {
	return b.UnmarshalText([]byte(value))
}

// type check
var _ goFlags.Marshaler = byteSize{}

// MarshalFlag implements the [goFlags.Marshaler] interface for byteSize.
func (b byteSize) MarshalFlag() (value string, err error) {
	return b.HumanReadable(), nil
}

// parseOptions parses the command line and the INI file it names.  The
// command line is parsed again after the file so that it takes precedence.
// ok is false if the program should exit with code.
func parseOptions(args []string) (opts *Options, ok bool, code int) {
	opts = &Options{}
	parser := goFlags.NewParser(opts, goFlags.Default)

	_, err := parser.ParseArgs(args)
	if err != nil {
		return nil, false, exitCode(err)
	}

	if opts.ConfigFile == "" {
		return opts, true, 0
	}

	err = goFlags.NewIniParser(parser).ParseFile(opts.ConfigFile)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "parsing %s: %s\n", opts.ConfigFile, err)

		return nil, false, 1
	}

	_, err = parser.ParseArgs(args)
	if err != nil {
		return nil, false, exitCode(err)
	}

	opts.Subscriptions = dedup(opts.Subscriptions)

	return opts, true, 0
}

// exitCode returns the exit code for a parsing error.  go-flags prints the
// errors itself.
func exitCode(err error) (code int) {
	if flagsErr, ok := err.(*goFlags.Error); ok && flagsErr.Type == goFlags.ErrHelp {
		return 0
	}

	return 1
}

// dedup returns the unique strings of ss in their order.
func dedup(ss []string) (res []string) {
	seen := make(map[string]struct{}, len(ss))
	for _, s := range ss {
		if _, ok := seen[s]; ok {
			continue
		}

		seen[s] = struct{}{}
		res = append(res, s)
	}

	return res
}
