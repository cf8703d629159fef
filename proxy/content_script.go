package proxy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"text/template"

	"github.com/AdguardTeam/abpfilter/filters"
	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/gomitmproxy/proxyutil"
)

// contentScriptPath is the path of the content script on the injection host.
const contentScriptPath = "/content-script.js"

// contentScriptTmpl is the script that applies the CSS property filters.  It
// looks for the style rules of the page that match the property regexps and
// hides the elements they select.
var contentScriptTmpl = template.Must(template.New("contentScript").Parse(`(function() {
  var rules = {{.Rules}};

  function apply() {
    var selectors = [];
    for (var i = 0; i < document.styleSheets.length; i++) {
      var cssRules;
      try {
        cssRules = document.styleSheets[i].cssRules;
      } catch (e) {
        continue;
      }

      if (!cssRules) {
        continue;
      }

      for (var j = 0; j < cssRules.length; j++) {
        var rule = cssRules[j];
        if (rule.type != 1) {
          continue;
        }

        var style = rule.style.cssText;
        for (var k = 0; k < rules.length; k++) {
          if (new RegExp(rules[k].regexp, "i").test(style)) {
            selectors.push(rules[k].prefix + rule.selectorText + rules[k].suffix);
          }
        }
      }
    }

    if (selectors.length == 0) {
      return;
    }

    var el = document.createElement("style");
    el.textContent = selectors.join(", ") + " {display: none !important;}";
    (document.head || document.documentElement).appendChild(el);
  }

  if (document.readyState == "loading") {
    document.addEventListener("DOMContentLoaded", apply, false);
  } else {
    apply();
  }
})();
`))

// cssRule is a CSS property filter as the content script sees it.
type cssRule struct {
	Regexp string `json:"regexp"`
	Prefix string `json:"prefix"`
	Suffix string `json:"suffix"`
}

// contentScriptParameters are the parameters of [contentScriptTmpl].
type contentScriptParameters struct {
	// Rules is the JSON array of the rules.
	Rules string
}

// buildContentScriptCode returns the content script that applies fs.
func buildContentScriptCode(fs []*filters.Filter) (code []byte, err error) {
	rules := make([]cssRule, 0, len(fs))
	for _, f := range fs {
		sel := f.Selector()
		rules = append(rules, cssRule{
			Regexp: sel.RegexpSource(),
			Prefix: sel.Prefix(),
			Suffix: sel.Suffix(),
		})
	}

	rulesJSON, err := json.Marshal(rules)
	if err != nil {
		return nil, fmt.Errorf("encoding rules: %w", err)
	}

	buf := &bytes.Buffer{}
	err = contentScriptTmpl.Execute(buf, contentScriptParameters{Rules: string(rulesJSON)})
	if err != nil {
		return nil, fmt.Errorf("executing template: %w", err)
	}

	return buf.Bytes(), nil
}

// buildContentScript answers a request to the injection host.
func (s *Server) buildContentScript(r *http.Request) (res *http.Response) {
	if r.Method != http.MethodGet || r.URL.Path != contentScriptPath {
		return newNotFoundResponse(r)
	}

	pageURL := getQueryParameter(r, "url")
	ts := getQueryParameterInt64(r, "ts")
	if pageURL == "" || ts == 0 {
		return newNotFoundResponse(r)
	}

	if ts == s.createdAt.Unix() && r.Header.Get("If-Modified-Since") != "" {
		res = proxyutil.NewResponse(http.StatusNotModified, nil, r)
		res.Header.Set(httphdr.ContentType, "text/javascript; charset=utf-8")
		s.enableCache(res)

		return res
	}

	c := s.engine.ElementHiding(pageURL, "")
	code, err := buildContentScriptCode(c.CSSRules)
	if err != nil {
		s.logger.Error("building content script", slogutil.KeyError, err)

		return proxyutil.NewErrorResponse(r, err)
	}

	var body io.Reader = bytes.NewReader(code)
	contentLen := len(code)
	if s.compressContentScript {
		var b *bytes.Buffer
		b, err = compressGzip(code)
		if err != nil {
			s.logger.Error("compressing content script", slogutil.KeyError, err)

			return proxyutil.NewErrorResponse(r, err)
		}

		body, contentLen = b, b.Len()
	}

	res = proxyutil.NewResponse(http.StatusOK, body, r)
	res.Header.Set(httphdr.ContentType, "text/javascript; charset=utf-8")
	res.Header.Set(httphdr.ContentLength, strconv.Itoa(contentLen))
	res.ContentLength = int64(contentLen)
	if s.compressContentScript {
		res.Header.Set(httphdr.ContentEncoding, "gzip")
	}

	s.enableCache(res)

	return res
}
