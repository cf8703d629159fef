package filters_test

import (
	"strings"
	"testing"

	"github.com/AdguardTeam/abpfilter/filters"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// matchTestCase is a single request matching check.  Blocking filters are also
// checked as exceptions, which must give the same result.
type matchTestCase struct {
	text       string
	location   string
	ctype      string
	docDomain  string
	sitekey    string
	thirdParty bool
	want       bool
}

var matchTestCases = []matchTestCase{
	// Basic filters.
	{text: "abc", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "abc", location: "http://ABC/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "abc", location: "http://abd/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "|abc", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "|http://abc", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "abc|", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "abc/adf|", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "||example.com/foo", location: "http://example.com/foo/bar", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "||com/foo", location: "http://example.com/foo/bar", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "||mple.com/foo", location: "http://example.com/foo/bar", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "||/example.com/foo", location: "http://example.com/foo/bar", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "||example.com/foo/bar|", location: "http://example.com/foo/bar", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "||example.com/foo", location: "http://foo.com/http://example.com/foo/bar", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "||example.com/foo|", location: "http://example.com/foo/bar", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	// Separator placeholders.
	{text: "abc^d", location: "http://abc/def", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "abc^e", location: "http://abc/def", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "def^", location: "http://abc/def", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "http://abc/d^f", location: "http://abc/def", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "http://abc/def^", location: "http://abc/def", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "^foo=bar^", location: "http://abc/?foo=bar", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "^foo=bar^", location: "http://abc/?a=b&foo=bar", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "^foo=bar^", location: "http://abc/?foo=bar&a=b", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "^foo=bar^", location: "http://abc/?notfoo=bar", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "^foo=bar^", location: "http://abc/?foo=barnot", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "^foo=bar^", location: "http://abc/?foo=bar%2Enot", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "||example.com^", location: "http://example.com/foo/bar", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "||example.com^", location: "http://example.company.com/foo/bar", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "||example.com^", location: "http://example.com:1234/foo/bar", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "||example.com^", location: "http://example.com.com/foo/bar", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "||example.com^", location: "http://example.com-company.com/foo/bar", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "||example.com^foo", location: "http://example.com/foo/bar", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "||пример.ру^", location: "http://пример.ру/foo/bar", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "||пример.ру^", location: "http://пример.руководитель.ру/foo/bar", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "||пример.ру^", location: "http://пример.ру:1234/foo/bar", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "||пример.ру^", location: "http://пример.ру.ру/foo/bar", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "||пример.ру^", location: "http://пример.ру-ководитель.ру/foo/bar", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "||пример.ру^foo", location: "http://пример.ру/foo/bar", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	// Wildcard matching.
	{text: "abc*d", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "abc*d", location: "http://abcd/af", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "abc*d", location: "http://abc/d/af", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "abc*d", location: "http://dabc/af", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "*abc", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "abc*", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "|*abc", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "abc*|", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "abc***d", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	// Type options.
	{text: "abc$image", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "abc$other", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "abc$other", location: "http://abc/adf", ctype: "other", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "abc$~other", location: "http://abc/adf", ctype: "other", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "abc$script", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "abc$script", location: "http://abc/adf", ctype: "script", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "abc$~script", location: "http://abc/adf", ctype: "script", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "abc$stylesheet", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "abc$stylesheet", location: "http://abc/adf", ctype: "stylesheet", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "abc$~stylesheet", location: "http://abc/adf", ctype: "stylesheet", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "abc$object", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "abc$object", location: "http://abc/adf", ctype: "object", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "abc$~object", location: "http://abc/adf", ctype: "object", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "abc$document", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "abc$document", location: "http://abc/adf", ctype: "document", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "abc$~document", location: "http://abc/adf", ctype: "document", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "abc$subdocument", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "abc$subdocument", location: "http://abc/adf", ctype: "subdocument", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "abc$~subdocument", location: "http://abc/adf", ctype: "subdocument", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "abc$background", location: "http://abc/adf", ctype: "object", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "abc$background", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "abc$~background", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "abc$xbl", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "abc$xbl", location: "http://abc/adf", ctype: "xbl", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "abc$~xbl", location: "http://abc/adf", ctype: "xbl", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "abc$ping", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "abc$ping", location: "http://abc/adf", ctype: "ping", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "abc$~ping", location: "http://abc/adf", ctype: "ping", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "abc$xmlhttprequest", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "abc$xmlhttprequest", location: "http://abc/adf", ctype: "xmlhttprequest", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "abc$~xmlhttprequest", location: "http://abc/adf", ctype: "xmlhttprequest", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "abc$object-subrequest", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "abc$object-subrequest", location: "http://abc/adf", ctype: "object-subrequest", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "abc$~object-subrequest", location: "http://abc/adf", ctype: "object-subrequest", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "abc$dtd", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "abc$dtd", location: "http://abc/adf", ctype: "dtd", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "abc$~dtd", location: "http://abc/adf", ctype: "dtd", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "abc$media", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "abc$media", location: "http://abc/adf", ctype: "media", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "abc$~media", location: "http://abc/adf", ctype: "media", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "abc$font", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "abc$font", location: "http://abc/adf", ctype: "font", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "abc$~font", location: "http://abc/adf", ctype: "font", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "abc$ping", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "abc$ping", location: "http://abc/adf", ctype: "ping", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "abc$~ping", location: "http://abc/adf", ctype: "ping", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "abc$image,script", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "abc$~image", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "abc$~script", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "abc$~image,~script", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "abc$~script,~image", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "abc$~document,~script,~other", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "abc$~image,image", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "abc$image,~image", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "abc$~image,image", location: "http://abc/adf", ctype: "script", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "abc$image,~image", location: "http://abc/adf", ctype: "script", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "abc$match-case", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "abc$match-case", location: "http://ABC/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "abc$~match-case", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "abc$~match-case", location: "http://ABC/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "abc$match-case,image", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "abc$match-case,script", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "abc$match-case,image", location: "http://ABC/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "abc$match-case,script", location: "http://ABC/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "abc$third-party", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "abc$third-party", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: true, want: true},
	{text: "abd$third-party", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "abd$third-party", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: true, want: false},
	{text: "abc$image,third-party", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "abc$image,third-party", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: true, want: true},
	{text: "abc$~image,third-party", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "abc$~image,third-party", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: true, want: false},
	{text: "abc$~third-party", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "abc$~third-party", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: true, want: false},
	{text: "abd$~third-party", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "abd$~third-party", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: true, want: false},
	{text: "abc$image,~third-party", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "abc$image,~third-party", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: true, want: false},
	{text: "abc$~image,~third-party", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	// Regular expressions.
	{text: "/abc/", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "/abc/", location: "http://abcd/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "*/abc/", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "*/abc/", location: "http://abcd/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: `/a\wc/`, location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: `/a\wc/`, location: "http://a1c/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: `/a\wc/`, location: "http://a_c/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: `/a\wc/`, location: "http://a%c/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	// Regular expressions with type options.
	{text: "/abc/$image", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "/abc/$image", location: "http://aBc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "/abc/$script", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "/abc/$~image", location: "http://abcd/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "/ab{2}c/$image", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "/ab{2}c/$script", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "/ab{2}c/$~image", location: "http://abcd/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "/abc/$third-party", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "/abc/$third-party", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: true, want: true},
	{text: "/abc/$~third-party", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "/abc/$~third-party", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: true, want: false},
	{text: "/abc/$match-case", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "/abc/$match-case", location: "http://aBc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: true, want: false},
	{text: "/ab{2}c/$match-case", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "/ab{2}c/$match-case", location: "http://aBc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: true, want: false},
	{text: "/abc/$~match-case", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "/abc/$~match-case", location: "http://aBc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: true, want: true},
	{text: "/ab{2}c/$~match-case", location: "http://abc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "/ab{2}c/$~match-case", location: "http://aBc/adf", ctype: "image", docDomain: "", sitekey: "", thirdParty: true, want: false},
	// Domain restrictions.
	{text: "abc$domain=foo.com", location: "http://abc/def", ctype: "image", docDomain: "foo.com", sitekey: "", thirdParty: true, want: true},
	{text: "abc$domain=foo.com", location: "http://abc/def", ctype: "image", docDomain: "foo.com.", sitekey: "", thirdParty: true, want: true},
	{text: "abc$domain=foo.com", location: "http://abc/def", ctype: "image", docDomain: "www.foo.com", sitekey: "", thirdParty: true, want: true},
	{text: "abc$domain=foo.com", location: "http://abc/def", ctype: "image", docDomain: "www.foo.com.", sitekey: "", thirdParty: true, want: true},
	{text: "abc$domain=foo.com", location: "http://abc/def", ctype: "image", docDomain: "Foo.com", sitekey: "", thirdParty: true, want: true},
	{text: "abc$domain=foo.com", location: "http://abc/def", ctype: "image", docDomain: "abc.def.foo.com", sitekey: "", thirdParty: true, want: true},
	{text: "abc$domain=foo.com", location: "http://abc/def", ctype: "image", docDomain: "www.baz.com", sitekey: "", thirdParty: true, want: false},
	{text: "abc$domain=foo.com", location: "http://abc/def", ctype: "image", docDomain: "", sitekey: "", thirdParty: true, want: false},
	{text: "abc$domain=foo.com|bar.com", location: "http://abc/def", ctype: "image", docDomain: "foo.com", sitekey: "", thirdParty: true, want: true},
	{text: "abc$domain=foo.com|bar.com", location: "http://abc/def", ctype: "image", docDomain: "foo.com.", sitekey: "", thirdParty: true, want: true},
	{text: "abc$domain=foo.com|bar.com", location: "http://abc/def", ctype: "image", docDomain: "www.foo.com", sitekey: "", thirdParty: true, want: true},
	{text: "abc$domain=foo.com|bar.com", location: "http://abc/def", ctype: "image", docDomain: "www.foo.com.", sitekey: "", thirdParty: true, want: true},
	{text: "abc$domain=foo.com|bar.com", location: "http://abc/def", ctype: "image", docDomain: "Foo.com", sitekey: "", thirdParty: true, want: true},
	{text: "abc$domain=foo.com|bar.com", location: "http://abc/def", ctype: "image", docDomain: "abc.def.foo.com", sitekey: "", thirdParty: true, want: true},
	{text: "abc$domain=foo.com|bar.com", location: "http://abc/def", ctype: "image", docDomain: "www.baz.com", sitekey: "", thirdParty: true, want: false},
	{text: "abc$domain=foo.com|bar.com", location: "http://abc/def", ctype: "image", docDomain: "", sitekey: "", thirdParty: true, want: false},
	{text: "abc$domain=bar.com|foo.com", location: "http://abc/def", ctype: "image", docDomain: "foo.com", sitekey: "", thirdParty: true, want: true},
	{text: "abc$domain=bar.com|foo.com", location: "http://abc/def", ctype: "image", docDomain: "foo.com.", sitekey: "", thirdParty: true, want: true},
	{text: "abc$domain=bar.com|foo.com", location: "http://abc/def", ctype: "image", docDomain: "www.foo.com", sitekey: "", thirdParty: true, want: true},
	{text: "abc$domain=bar.com|foo.com", location: "http://abc/def", ctype: "image", docDomain: "www.foo.com.", sitekey: "", thirdParty: true, want: true},
	{text: "abc$domain=bar.com|foo.com", location: "http://abc/def", ctype: "image", docDomain: "Foo.com", sitekey: "", thirdParty: true, want: true},
	{text: "abc$domain=bar.com|foo.com", location: "http://abc/def", ctype: "image", docDomain: "abc.def.foo.com", sitekey: "", thirdParty: true, want: true},
	{text: "abc$domain=bar.com|foo.com", location: "http://abc/def", ctype: "image", docDomain: "www.baz.com", sitekey: "", thirdParty: true, want: false},
	{text: "abc$domain=bar.com|foo.com", location: "http://abc/def", ctype: "image", docDomain: "", sitekey: "", thirdParty: true, want: false},
	{text: "abc$domain=~foo.com", location: "http://abc/def", ctype: "image", docDomain: "foo.com", sitekey: "", thirdParty: true, want: false},
	{text: "abc$domain=~foo.com", location: "http://abc/def", ctype: "image", docDomain: "foo.com.", sitekey: "", thirdParty: true, want: false},
	{text: "abc$domain=~foo.com", location: "http://abc/def", ctype: "image", docDomain: "www.foo.com", sitekey: "", thirdParty: true, want: false},
	{text: "abc$domain=~foo.com", location: "http://abc/def", ctype: "image", docDomain: "www.foo.com.", sitekey: "", thirdParty: true, want: false},
	{text: "abc$domain=~foo.com", location: "http://abc/def", ctype: "image", docDomain: "Foo.com", sitekey: "", thirdParty: true, want: false},
	{text: "abc$domain=~foo.com", location: "http://abc/def", ctype: "image", docDomain: "abc.def.foo.com", sitekey: "", thirdParty: true, want: false},
	{text: "abc$domain=~foo.com", location: "http://abc/def", ctype: "image", docDomain: "www.baz.com", sitekey: "", thirdParty: true, want: true},
	// Restricted filters never match without a document domain.
	{text: "abc$domain=~foo.com", location: "http://abc/def", ctype: "image", docDomain: "", sitekey: "", thirdParty: true, want: false},
	{text: "abc$domain=~foo.com|~bar.com", location: "http://abc/def", ctype: "image", docDomain: "foo.com", sitekey: "", thirdParty: true, want: false},
	{text: "abc$domain=~foo.com|~bar.com", location: "http://abc/def", ctype: "image", docDomain: "foo.com.", sitekey: "", thirdParty: true, want: false},
	{text: "abc$domain=~foo.com|~bar.com", location: "http://abc/def", ctype: "image", docDomain: "www.foo.com", sitekey: "", thirdParty: true, want: false},
	{text: "abc$domain=~foo.com|~bar.com", location: "http://abc/def", ctype: "image", docDomain: "www.foo.com.", sitekey: "", thirdParty: true, want: false},
	{text: "abc$domain=~foo.com|~bar.com", location: "http://abc/def", ctype: "image", docDomain: "Foo.com", sitekey: "", thirdParty: true, want: false},
	{text: "abc$domain=~foo.com|~bar.com", location: "http://abc/def", ctype: "image", docDomain: "abc.def.foo.com", sitekey: "", thirdParty: true, want: false},
	{text: "abc$domain=~foo.com|~bar.com", location: "http://abc/def", ctype: "image", docDomain: "www.baz.com", sitekey: "", thirdParty: true, want: true},
	{text: "abc$domain=~foo.com|~bar.com", location: "http://abc/def", ctype: "image", docDomain: "", sitekey: "", thirdParty: true, want: false},
	{text: "abc$domain=~bar.com|~foo.com", location: "http://abc/def", ctype: "image", docDomain: "foo.com", sitekey: "", thirdParty: true, want: false},
	{text: "abc$domain=~bar.com|~foo.com", location: "http://abc/def", ctype: "image", docDomain: "foo.com.", sitekey: "", thirdParty: true, want: false},
	{text: "abc$domain=~bar.com|~foo.com", location: "http://abc/def", ctype: "image", docDomain: "www.foo.com", sitekey: "", thirdParty: true, want: false},
	{text: "abc$domain=~bar.com|~foo.com", location: "http://abc/def", ctype: "image", docDomain: "www.foo.com.", sitekey: "", thirdParty: true, want: false},
	{text: "abc$domain=~bar.com|~foo.com", location: "http://abc/def", ctype: "image", docDomain: "Foo.com", sitekey: "", thirdParty: true, want: false},
	{text: "abc$domain=~bar.com|~foo.com", location: "http://abc/def", ctype: "image", docDomain: "abc.def.foo.com", sitekey: "", thirdParty: true, want: false},
	{text: "abc$domain=~bar.com|~foo.com", location: "http://abc/def", ctype: "image", docDomain: "www.baz.com", sitekey: "", thirdParty: true, want: true},
	{text: "abc$domain=~bar.com|~foo.com", location: "http://abc/def", ctype: "image", docDomain: "", sitekey: "", thirdParty: true, want: false},
	{text: "abc$domain=foo.com|~bar.com", location: "http://abc/def", ctype: "image", docDomain: "foo.com", sitekey: "", thirdParty: true, want: true},
	{text: "abc$domain=foo.com|~bar.com", location: "http://abc/def", ctype: "image", docDomain: "bar.com", sitekey: "", thirdParty: true, want: false},
	{text: "abc$domain=foo.com|~bar.com", location: "http://abc/def", ctype: "image", docDomain: "baz.com", sitekey: "", thirdParty: true, want: false},
	{text: "abc$domain=foo.com|~bar.foo.com", location: "http://abc/def", ctype: "image", docDomain: "foo.com", sitekey: "", thirdParty: true, want: true},
	{text: "abc$domain=foo.com|~bar.foo.com", location: "http://abc/def", ctype: "image", docDomain: "www.foo.com", sitekey: "", thirdParty: true, want: true},
	{text: "abc$domain=foo.com|~bar.foo.com", location: "http://abc/def", ctype: "image", docDomain: "bar.foo.com", sitekey: "", thirdParty: true, want: false},
	{text: "abc$domain=foo.com|~bar.foo.com", location: "http://abc/def", ctype: "image", docDomain: "www.bar.foo.com", sitekey: "", thirdParty: true, want: false},
	{text: "abc$domain=foo.com|~bar.foo.com", location: "http://abc/def", ctype: "image", docDomain: "baz.com", sitekey: "", thirdParty: true, want: false},
	{text: "abc$domain=foo.com|~bar.foo.com", location: "http://abc/def", ctype: "image", docDomain: "www.baz.com", sitekey: "", thirdParty: true, want: false},
	{text: "abc$domain=com|~foo.com", location: "http://abc/def", ctype: "image", docDomain: "bar.com", sitekey: "", thirdParty: true, want: true},
	{text: "abc$domain=com|~foo.com", location: "http://abc/def", ctype: "image", docDomain: "bar.net", sitekey: "", thirdParty: true, want: false},
	{text: "abc$domain=com|~foo.com", location: "http://abc/def", ctype: "image", docDomain: "foo.com", sitekey: "", thirdParty: true, want: false},
	{text: "abc$domain=com|~foo.com", location: "http://abc/def", ctype: "image", docDomain: "foo.net", sitekey: "", thirdParty: true, want: false},
	{text: "abc$domain=com|~foo.com", location: "http://abc/def", ctype: "image", docDomain: "com", sitekey: "", thirdParty: true, want: true},
	{text: "abc$domain=foo.com", location: "http://ccc/def", ctype: "image", docDomain: "foo.com", sitekey: "", thirdParty: true, want: false},
	{text: "abc$domain=foo.com", location: "http://ccc/def", ctype: "image", docDomain: "bar.com", sitekey: "", thirdParty: true, want: false},
	{text: "abc$image,domain=foo.com", location: "http://abc/def", ctype: "image", docDomain: "foo.com", sitekey: "", thirdParty: true, want: true},
	{text: "abc$image,domain=foo.com", location: "http://abc/def", ctype: "image", docDomain: "bar.com", sitekey: "", thirdParty: true, want: false},
	{text: "abc$image,domain=foo.com", location: "http://abc/def", ctype: "object", docDomain: "foo.com", sitekey: "", thirdParty: true, want: false},
	{text: "abc$image,domain=foo.com", location: "http://abc/def", ctype: "object", docDomain: "bar.com", sitekey: "", thirdParty: true, want: false},
	{text: "abc$~image,domain=foo.com", location: "http://abc/def", ctype: "image", docDomain: "foo.com", sitekey: "", thirdParty: true, want: false},
	{text: "abc$~image,domain=foo.com", location: "http://abc/def", ctype: "image", docDomain: "bar.com", sitekey: "", thirdParty: true, want: false},
	{text: "abc$~image,domain=foo.com", location: "http://abc/def", ctype: "object", docDomain: "foo.com", sitekey: "", thirdParty: true, want: true},
	{text: "abc$~image,domain=foo.com", location: "http://abc/def", ctype: "object", docDomain: "bar.com", sitekey: "", thirdParty: true, want: false},
	{text: "abc$domain=foo.com,image", location: "http://abc/def", ctype: "image", docDomain: "foo.com", sitekey: "", thirdParty: true, want: true},
	{text: "abc$domain=foo.com,image", location: "http://abc/def", ctype: "image", docDomain: "bar.com", sitekey: "", thirdParty: true, want: false},
	{text: "abc$domain=foo.com,image", location: "http://abc/def", ctype: "object", docDomain: "foo.com", sitekey: "", thirdParty: true, want: false},
	{text: "abc$domain=foo.com,image", location: "http://abc/def", ctype: "object", docDomain: "bar.com", sitekey: "", thirdParty: true, want: false},
	{text: "abc$domain=foo.com,~image", location: "http://abc/def", ctype: "image", docDomain: "foo.com", sitekey: "", thirdParty: true, want: false},
	{text: "abc$domain=foo.com,~image", location: "http://abc/def", ctype: "image", docDomain: "bar.com", sitekey: "", thirdParty: true, want: false},
	{text: "abc$domain=foo.com,~image", location: "http://abc/def", ctype: "object", docDomain: "foo.com", sitekey: "", thirdParty: true, want: true},
	{text: "abc$domain=foo.com,~image", location: "http://abc/def", ctype: "object", docDomain: "bar.com", sitekey: "", thirdParty: true, want: false},
	// Sitekey restrictions.
	{text: "abc$sitekey=foo-publickey", location: "http://abc/def", ctype: "image", docDomain: "foo.com", sitekey: "foo-publickey", thirdParty: true, want: true},
	{text: "abc$sitekey=foo-publickey", location: "http://abc/def", ctype: "image", docDomain: "foo.com", sitekey: "", thirdParty: true, want: false},
	{text: "abc$sitekey=foo-publickey", location: "http://abc/def", ctype: "image", docDomain: "foo.com", sitekey: "bar-publickey", thirdParty: true, want: false},
	{text: "abc$sitekey=foo-publickey|bar-publickey", location: "http://abc/def", ctype: "image", docDomain: "foo.com", sitekey: "foo-publickey", thirdParty: true, want: true},
	{text: "abc$sitekey=foo-publickey|bar-publickey", location: "http://abc/def", ctype: "image", docDomain: "foo.com", sitekey: "", thirdParty: true, want: false},
	{text: "abc$sitekey=bar-publickey|foo-publickey", location: "http://abc/def", ctype: "image", docDomain: "foo.com", sitekey: "foo-publickey", thirdParty: true, want: true},
	{text: "abc$sitekey=foo-publickey", location: "http://ccc/def", ctype: "image", docDomain: "foo.com", sitekey: "foo-publickey", thirdParty: true, want: false},
	{text: "abc$domain=foo.com,sitekey=foo-publickey", location: "http://abc/def", ctype: "image", docDomain: "foo.com", sitekey: "foo-publickey", thirdParty: true, want: true},
	{text: "abc$domain=foo.com,sitekey=foo-publickey", location: "http://abc/def", ctype: "image", docDomain: "bar.com", sitekey: "foo-publickey", thirdParty: true, want: false},
	{text: "abc$domain=~foo.com,sitekey=foo-publickey", location: "http://abc/def", ctype: "image", docDomain: "foo.com", sitekey: "foo-publickey", thirdParty: true, want: false},
	{text: "abc$domain=~foo.com,sitekey=foo-publickey", location: "http://abc/def", ctype: "image", docDomain: "bar.com", sitekey: "foo-publickey", thirdParty: true, want: true},
	// Exception rules.
	{text: "@@test", location: "http://test/", ctype: "document", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "@@http://test*", location: "http://test/", ctype: "document", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "@@ftp://test*", location: "ftp://test/", ctype: "document", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "@@test$document", location: "http://test/", ctype: "document", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "@@test$document,image", location: "http://test/", ctype: "document", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "@@test$~image", location: "http://test/", ctype: "document", docDomain: "", sitekey: "", thirdParty: false, want: false},
	{text: "@@test$~image,document", location: "http://test/", ctype: "document", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "@@test$document,~image", location: "http://test/", ctype: "document", docDomain: "", sitekey: "", thirdParty: false, want: true},
	{text: "@@test$document,domain=foo.com", location: "http://test/", ctype: "document", docDomain: "foo.com", sitekey: "", thirdParty: false, want: true},
	{text: "@@test$document,domain=foo.com", location: "http://test/", ctype: "document", docDomain: "bar.com", sitekey: "", thirdParty: false, want: false},
	{text: "@@test$document,domain=~foo.com", location: "http://test/", ctype: "document", docDomain: "foo.com", sitekey: "", thirdParty: false, want: false},
	{text: "@@test$document,domain=~foo.com", location: "http://test/", ctype: "document", docDomain: "bar.com", sitekey: "", thirdParty: false, want: true},
	{text: "@@test$document,sitekey=foo-publickey", location: "http://test/", ctype: "document", docDomain: "foo.com", sitekey: "foo-publickey", thirdParty: false, want: true},
	{text: "@@test$document,sitekey=foo-publickey", location: "http://test/", ctype: "document", docDomain: "foo.com", sitekey: "", thirdParty: false, want: false},
}

func TestFilter_Matches(t *testing.T) {
	t.Parallel()

	for _, tc := range matchTestCases {
		texts := []string{tc.text}
		if !strings.HasPrefix(tc.text, "@@") {
			texts = append(texts, "@@"+tc.text)
		}

		typ, ok := filters.ContentTypeFromName(tc.ctype)
		require.True(t, ok)

		for _, text := range texts {
			t.Run(text+"_"+tc.location, func(t *testing.T) {
				t.Parallel()

				f := filters.Parse(text)
				got := f.Matches(tc.location, typ, tc.docDomain, tc.thirdParty, tc.sitekey)
				assert.Equalf(
					t,
					tc.want,
					got,
					"%q.Matches(%q, %s, %q, %t, %q)",
					text,
					tc.location,
					tc.ctype,
					tc.docDomain,
					tc.thirdParty,
					tc.sitekey,
				)
			})
		}
	}
}

func TestFilter_Matches_nonRequest(t *testing.T) {
	t.Parallel()

	for _, text := range []string{"! comment", "/??/", "##.ad", "example.com#@#.ad"} {
		f := filters.Parse(text)
		assert.False(t, f.Matches("http://example.com/", filters.TypeAll, "example.com", false, ""))
	}
}

func TestFilter_Matches_internationalDomain(t *testing.T) {
	t.Parallel()

	f := filters.Parse("ads$domain=пример.рф")
	assert.True(t, f.Matches("http://x/ads", filters.TypeImage, "xn--e1afmkfd.xn--p1ai", false, ""))
	assert.True(t, f.Matches("http://x/ads", filters.TypeImage, "www.пример.рф", false, ""))
	assert.False(t, f.Matches("http://x/ads", filters.TypeImage, "example.com", false, ""))
}

func BenchmarkFilter_Matches(b *testing.B) {
	f := filters.Parse("||example.org^*/ads/$script,third-party,domain=~example.org")
	const loc = "https://cdn.example.org/static/ads/banner.js"

	// Warm up the lazily compiled pattern.
	require.True(b, f.Matches(loc, filters.TypeScript, "example.com", true, ""))

	b.ReportAllocs()
	b.ResetTimer()
	for range b.N {
		_ = f.Matches(loc, filters.TypeScript, "example.com", true, "")
	}
}
