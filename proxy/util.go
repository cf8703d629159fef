package proxy

import (
	"bytes"
	"compress/gzip"
	"net/http"
	"strconv"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/AdguardTeam/gomitmproxy/proxyutil"
)

// compressGzip compresses b with gzip.
func compressGzip(b []byte) (compressed *bytes.Buffer, err error) {
	compressed = &bytes.Buffer{}
	gz := gzip.NewWriter(compressed)
	_, err = gz.Write(b)
	if err != nil {
		return nil, errors.WithDeferred(err, gz.Close())
	}

	err = gz.Close()
	if err != nil {
		return nil, err
	}

	return compressed, nil
}

// newNotFoundResponse returns a 404 response to r.
func newNotFoundResponse(r *http.Request) (res *http.Response) {
	res = proxyutil.NewResponse(http.StatusNotFound, nil, r)
	res.Header.Set(httphdr.ContentType, "text/html")

	return res
}

// getQueryParameter returns the single value of the query parameter name of r.
func getQueryParameter(r *http.Request, name string) (val string) {
	params, ok := r.URL.Query()[name]
	if !ok || len(params) != 1 {
		return ""
	}

	return params[0]
}

// getQueryParameterInt64 returns the single integer value of the query
// parameter name of r, or zero.
func getQueryParameterInt64(r *http.Request, name string) (val int64) {
	val, err := strconv.ParseInt(getQueryParameter(r, name), 10, 64)
	if err != nil {
		return 0
	}

	return val
}
