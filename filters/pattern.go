package filters

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/dlclark/regexp2"
)

// MatchTimeout bounds a single regular expression match.  A match that takes
// longer is treated as a miss.
const MatchTimeout = 100 * time.Millisecond

// separatorClass is what the "^" placeholder of a pattern translates to: any
// character except a letter, a digit, or one of "_-.%", or the end of the
// address.
const separatorClass = `(?:[\x00-\x24\x26-\x2C\x2F\x3A-\x40\x5B-\x5E\x60\x7B-\x7F]|$)`

// domainAnchor is what a leading "||" translates to.
const domainAnchor = `^[\w\-]+:\/+(?!\/)(?:[^\/]+\.)?`

// optionsRe matches the options suffix of a request filter.
var optionsRe = regexp.MustCompile(`\$(~?[\w-]+(?:=[^,\s]+)?(?:,~?[\w-]+(?:=[^,\s]+)?)*)$`)

// schemeRe matches patterns that start with a scheme, optionally anchored.
var schemeRe = regexp.MustCompile(`^\|?[\w-]+:`)

// RequestPattern is the payload of blocking and whitelist filters.
type RequestPattern struct {
	// once guards the lazy compilation of re.
	once *sync.Once

	// re is the compiled pattern.  It is compiled on first use unless the
	// filter is a literal regular expression.
	re *regexp2.Regexp

	// source is the regular expression source.
	source string

	// pattern is the filter text without the "@@" prefix and the options.
	pattern string

	// sitekeys are the upper-cased sitekeys the filter is restricted to.
	sitekeys []string

	contentType ContentType
	thirdParty  Tristate
	collapse    Tristate
	matchCase   bool
	isRegexp    bool
}

// Pattern returns the pattern part of the filter text, without the exception
// prefix and the options.
func (p *RequestPattern) Pattern() (s string) {
	return p.pattern
}

// IsRegexp returns true if the pattern is a "/regexp/" literal.
func (p *RequestPattern) IsRegexp() (ok bool) {
	return p.isRegexp
}

// RegexpSource returns the source of the regular expression the pattern was
// translated into.
func (p *RequestPattern) RegexpSource() (s string) {
	return p.source
}

// ContentType returns the content types the filter applies to.
func (p *RequestPattern) ContentType() (t ContentType) {
	return p.contentType
}

// MatchCase returns true if the pattern is case-sensitive.
func (p *RequestPattern) MatchCase() (ok bool) {
	return p.matchCase
}

// ThirdParty returns whether the filter is restricted to third-party or to
// first-party requests.
func (p *RequestPattern) ThirdParty() (t Tristate) {
	return p.thirdParty
}

// Collapse returns the $collapse option of blocking filters.
func (p *RequestPattern) Collapse() (t Tristate) {
	return p.collapse
}

// Sitekeys returns the upper-cased sitekeys of the filter.  Callers must not
// modify the returned slice.
func (p *RequestPattern) Sitekeys() (keys []string) {
	return p.sitekeys
}

// regexp returns the compiled pattern, compiling it if necessary.  It returns
// nil if the source doesn't compile, which cannot happen for patterns that
// were translated by toRegExp.
func (p *RequestPattern) regexp() (re *regexp2.Regexp) {
	p.once.Do(func() {
		if p.re == nil {
			p.re, _ = compilePattern(p.source, p.matchCase)
		}
	})

	return p.re
}

// test returns true if location matches the pattern.
func (p *RequestPattern) test(location string) (ok bool) {
	re := p.regexp()
	if re == nil {
		return false
	}

	ok, err := re.MatchString(location)

	return err == nil && ok
}

// compilePattern compiles a JavaScript-flavored regular expression.
func compilePattern(source string, matchCase bool) (re *regexp2.Regexp, err error) {
	opts := regexp2.RegexOptions(regexp2.ECMAScript)
	if !matchCase {
		opts |= regexp2.IgnoreCase
	}

	re, err = regexp2.Compile(source, opts)
	if err != nil {
		return nil, err
	}

	re.MatchTimeout = MatchTimeout

	return re, nil
}

// Matches returns true if a request filter matches the request to location of
// the typeMask types, made by a document on docDomain with the given sitekey.
// It always returns false for other kinds of filters.
func (f *Filter) Matches(
	location string,
	typeMask ContentType,
	docDomain string,
	thirdParty bool,
	sitekey string,
) (ok bool) {
	p := f.request
	if p == nil || p.contentType&typeMask == 0 {
		return false
	}

	if p.thirdParty != Unset && p.thirdParty != TristateOf(thirdParty) {
		return false
	}

	return f.IsActiveOnDomain(docDomain, sitekey) && p.test(location)
}

// isRegexpLiteral returns true if the pattern is a "/regexp/" literal.
func isRegexpLiteral(pattern string) (ok bool) {
	return len(pattern) >= 2 && pattern[0] == '/' && pattern[len(pattern)-1] == '/'
}

// toRegExp translates a filter pattern into a regular expression source.
func toRegExp(pattern string) (source string) {
	pattern = collapseStars(pattern)
	if strings.HasSuffix(pattern, "^|") {
		pattern = pattern[:len(pattern)-1]
	}

	b := &strings.Builder{}
	b.Grow(len(pattern) * 2)

	for i := range len(pattern) {
		c := pattern[i]
		switch {
		case c == '*':
			b.WriteString(".*")
		case c == '^':
			b.WriteString(separatorClass)
		case c == '|' && i == 0 && strings.HasPrefix(pattern, "||"):
			b.WriteString(domainAnchor)
		case c == '|' && i == 1 && strings.HasPrefix(pattern, "||"):
			// Written together with the first one.
		case c == '|' && i == 0:
			b.WriteByte('^')
		case c == '|' && i == len(pattern)-1:
			b.WriteByte('$')
		case isWordByte(c) || c >= 0x80:
			b.WriteByte(c)
		default:
			b.WriteByte('\\')
			b.WriteByte(c)
		}
	}

	source = b.String()
	source = strings.TrimPrefix(source, ".*")
	source = strings.TrimSuffix(source, ".*")

	return source
}

// collapseStars replaces runs of "*" with a single one.
func collapseStars(s string) (res string) {
	if !strings.Contains(s, "**") {
		return s
	}

	b := &strings.Builder{}
	b.Grow(len(s))
	for i := range len(s) {
		if s[i] == '*' && i > 0 && s[i-1] == '*' {
			continue
		}

		b.WriteByte(s[i])
	}

	return b.String()
}

// isWordByte returns true if c is an ASCII letter, a digit, or an underscore.
func isWordByte(c byte) (ok bool) {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}

// requestOptions are the parsed options of a request filter.
type requestOptions struct {
	domains     string
	sitekeys    []string
	contentType ContentType
	thirdParty  Tristate
	collapse    Tristate
	typeSet     bool
	matchCase   bool
	hasDocument bool
}

// parseOptions parses the comma-separated options of a request filter.  ok is
// false if an option is unknown.
func parseOptions(optionsText string) (opts *requestOptions, ok bool) {
	opts = &requestOptions{}
	for _, option := range strings.Split(optionsText, ",") {
		value, hasValue := "", false
		if i := strings.IndexByte(option, '='); i >= 0 {
			option, value, hasValue = option[:i], option[i+1:], true
		}

		option = strings.ToLower(option)
		negated := strings.HasPrefix(option, "~")
		name := strings.TrimPrefix(option, "~")

		if t, isType := contentTypeNames[name]; isType {
			opts.applyType(t, negated)
			if option == "document" {
				opts.hasDocument = true
			}

			continue
		}

		if !opts.applyOption(option, value, hasValue) {
			return nil, false
		}
	}

	return opts, true
}

// applyType applies a content type option.  The first positive type replaces
// the default set, the first negative one starts from it.
func (opts *requestOptions) applyType(t ContentType, negated bool) {
	if negated {
		if !opts.typeSet {
			opts.contentType = TypeDefault
			opts.typeSet = true
		}

		opts.contentType &^= t

		return
	}

	if !opts.typeSet {
		opts.contentType = 0
		opts.typeSet = true
	}

	opts.contentType |= t
}

// applyOption applies an option that isn't a content type.  It returns false
// if the option is unknown.
func (opts *requestOptions) applyOption(option, value string, hasValue bool) (ok bool) {
	switch option {
	case "match-case":
		opts.matchCase = true
	case "~match-case":
		opts.matchCase = false
	case "third-party":
		opts.thirdParty = True
	case "~third-party":
		opts.thirdParty = False
	case "collapse":
		opts.collapse = True
	case "~collapse":
		opts.collapse = False
	case "domain":
		if !hasValue {
			return false
		}

		opts.domains = value
	case "sitekey":
		if !hasValue {
			return false
		}

		opts.sitekeys = strings.Split(strings.ToUpper(value), "|")
	default:
		return false
	}

	return true
}

// newRequestFilter parses a blocking or a whitelist filter.
func newRequestFilter(text string) (f *Filter) {
	kind := KindBlocking
	pattern := text
	if strings.HasPrefix(pattern, "@@") {
		kind = KindWhitelist
		pattern = pattern[2:]
	}

	opts := &requestOptions{}
	if strings.IndexByte(pattern, '$') >= 0 {
		if m := optionsRe.FindStringSubmatchIndex(pattern); m != nil {
			var ok bool
			opts, ok = parseOptions(pattern[m[2]:m[3]])
			if !ok {
				return newInvalid(text, ReasonUnknownOption)
			}

			pattern = pattern[:m[0]]
		}
	}

	if kind == KindWhitelist &&
		(!opts.typeSet || opts.contentType&TypeDocument != 0) &&
		!opts.hasDocument &&
		!schemeRe.MatchString(pattern) {
		// Exceptions don't apply to whole pages unless they name a scheme.
		if !opts.typeSet {
			opts.contentType = TypeDefault
			opts.typeSet = true
		}

		opts.contentType &^= TypeDocument
	}

	if !opts.typeSet {
		opts.contentType = TypeDefault
	}

	if opts.contentType == 0 {
		return newInvalid(text, ReasonNoContentType)
	}

	p := &RequestPattern{
		once:        &sync.Once{},
		pattern:     pattern,
		sitekeys:    opts.sitekeys,
		contentType: opts.contentType,
		thirdParty:  opts.thirdParty,
		matchCase:   opts.matchCase,
	}

	if kind == KindBlocking {
		p.collapse = opts.collapse
	}

	if isRegexpLiteral(pattern) {
		p.isRegexp = true
		p.source = pattern[1 : len(pattern)-1]

		var err error
		p.re, err = compilePattern(p.source, p.matchCase)
		if err != nil {
			return newInvalid(text, ReasonInvalidRegexp)
		}
	} else {
		p.source = toRegExp(pattern)
	}

	return &Filter{
		request: p,
		domains: parseDomains(opts.domains, "|", true),
		mu:      &sync.Mutex{},
		text:    text,
		kind:    kind,
	}
}
