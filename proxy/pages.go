package proxy

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/AdguardTeam/abpfilter/filters"
	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/AdguardTeam/gomitmproxy/proxyutil"
)

// blockedPageTmpl is the page shown instead of blocked documents and frames.
var blockedPageTmpl = template.Must(template.New("blocked").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Blocked</title>
</head>
<body>
<h1>Request to {{.Hostname}} is blocked</h1>
<p>Filter: <code>{{.FilterText}}</code></p>
</body>
</html>
`))

// blockedPageParameters are the parameters of [blockedPageTmpl].
type blockedPageParameters struct {
	Hostname   string
	FilterText string
}

// buildBlockedPage returns the blocked page for the request of ses blocked by
// f.
func buildBlockedPage(ses *session, f *filters.Filter) (page []byte, err error) {
	params := blockedPageParameters{
		Hostname:   ses.request.Hostname,
		FilterText: f.Text(),
	}

	buf := &bytes.Buffer{}
	err = blockedPageTmpl.Execute(buf, params)
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// emptyContentTypes are the content types of the blocked resources answered
// with an empty body, so that pages don't show broken images or get errors in
// script loaders.
var emptyContentTypes = map[filters.ContentType]string{
	filters.TypeImage:  "image/gif",
	filters.TypeScript: "text/javascript",
}

// newBlockedResponse returns a response for the request of ses blocked by f.
func newBlockedResponse(ses *session, f *filters.Filter) (res *http.Response) {
	r := ses.httpRequest
	if ct, ok := emptyContentTypes[ses.request.ContentType]; ok {
		res = proxyutil.NewResponse(http.StatusOK, http.NoBody, r)
		res.Header.Set(httphdr.ContentType, ct)

		return res
	}

	page, err := buildBlockedPage(ses, f)
	if err != nil {
		return proxyutil.NewErrorResponse(r, err)
	}

	res = proxyutil.NewResponse(http.StatusForbidden, bytes.NewReader(page), r)
	res.Close = true
	res.Header.Set(httphdr.ContentType, "text/html; charset=utf-8")

	return res
}
