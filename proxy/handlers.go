package proxy

import (
	"net"
	"net/http"

	"github.com/AdguardTeam/abpfilter/filters"
	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/gomitmproxy"
	"github.com/AdguardTeam/gomitmproxy/proxyutil"
)

// onRequest handles the outgoing HTTP requests.
func (s *Server) onRequest(sess *gomitmproxy.Session) (req *http.Request, res *http.Response) {
	r := sess.Request()
	if r.Method == http.MethodConnect {
		return nil, nil
	}

	ses := newSession(sess.ID(), r)
	sess.SetProp(sessionPropKey, ses)

	res = s.handleRequest(ses)
	if res != nil && ses.result != nil && ses.result.Blocked() {
		// Don't filter the response to a blocked request again.
		sess.SetProp(requestBlockedKey, true)
	}

	if res != nil {
		return nil, res
	}

	return r, nil
}

// handleRequest decides about the request of ses.  res is not nil if the proxy
// answers the request itself.
func (s *Server) handleRequest(ses *session) (res *http.Response) {
	r := ses.httpRequest
	if ses.request.Hostname == s.injectionHost {
		return s.buildContentScript(r)
	}

	ses.result = s.engine.MatchRequest(ses.request)
	if ses.result.Blocked() {
		s.logger.Debug(
			"request blocked",
			"id", ses.id,
			"url", ses.request.URL,
			"filter", ses.result.Filter.Text(),
		)

		return newBlockedResponse(ses, ses.result.Filter)
	}

	if ses.request.ContentType == filters.TypeDocument || ses.request.ContentType == filters.TypeSubdocument {
		// Plain bodies are needed to inject the styles.
		r.Header.Del(httphdr.AcceptEncoding)
	}

	if s.shouldSuppressCache(ses) {
		suppressCache(r)
	}

	return nil
}

// onResponse handles the responses.
func (s *Server) onResponse(sess *gomitmproxy.Session) (res *http.Response) {
	if _, ok := sess.GetProp(requestBlockedKey); ok {
		return nil
	}

	v, ok := sess.GetProp(sessionPropKey)
	if !ok {
		return nil
	}

	ses, ok := v.(*session)
	if !ok {
		s.logger.Error("bad session type", "id", sess.ID())

		return nil
	}

	return s.handleResponse(ses, sess.Response())
}

// handleResponse filters resp, the response to the request of ses.  res is nil
// if resp must be passed as is.
func (s *Server) handleResponse(ses *session, resp *http.Response) (res *http.Response) {
	if resp == nil {
		return nil
	}

	prevType := ses.request.ContentType
	ses.setResponse(resp)

	if ses.request.ContentType != prevType {
		ses.result = s.engine.MatchRequest(ses.request)
		if ses.result.Blocked() {
			s.logger.Debug(
				"response blocked",
				"id", ses.id,
				"url", ses.request.URL,
				"filter", ses.result.Filter.Text(),
			)

			return newBlockedResponse(ses, ses.result.Filter)
		}
	}

	if !ses.isHTMLDocument() || !ses.isPlainText() {
		return nil
	}

	c := s.engine.ElementHiding(ses.request.URL, ses.request.Sitekey)
	if c.Exception != nil || (len(c.Selectors) == 0 && len(c.CSSRules) == 0) {
		return nil
	}

	err := s.filterHTML(ses, c)
	if err != nil {
		s.logger.Debug("filtering html", "id", ses.id, slogutil.KeyError, err)

		return proxyutil.NewErrorResponse(ses.httpRequest, err)
	}

	return ses.httpResponse
}

// onConnect intercepts the connections to the injection host, which is
// served by the proxy itself.
func (s *Server) onConnect(_ *gomitmproxy.Session, _ string, addr string) (conn net.Conn) {
	host, _, err := net.SplitHostPort(addr)
	if err == nil && host == s.injectionHost {
		return &proxyutil.NoopConn{}
	}

	return nil
}
