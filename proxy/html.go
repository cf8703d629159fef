package proxy

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/AdguardTeam/abpfilter"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/httphdr"
	"golang.org/x/text/encoding/charmap"
)

// maxHTMLSize is the maximum size of an HTML body the proxy changes.
const maxHTMLSize = 8 << 20

// filterHTML injects the element hiding of c into the body of the response of
// ses.  Bodies larger than [maxHTMLSize] are passed unchanged.
func (s *Server) filterHTML(ses *session, c *abpfilter.Cosmetic) (err error) {
	r := ses.httpResponse

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxHTMLSize+1))
	if err != nil {
		return errors.WithDeferred(fmt.Errorf("reading body: %w", err), r.Body.Close())
	}

	if len(raw) > maxHTMLSize {
		s.logger.Debug("html body too large", "id", ses.id, "url", ses.request.URL)
		r.Body = &readCloser{
			Reader: io.MultiReader(bytes.NewReader(raw), r.Body),
			Closer: r.Body,
		}

		return nil
	}

	err = r.Body.Close()
	if err != nil {
		return fmt.Errorf("closing body: %w", err)
	}

	body, err := decodeLatin1(raw)
	if err != nil {
		return fmt.Errorf("decoding body: %w", err)
	}

	// Treat the UTF-8 bytes of the code the same way as the body, so that
	// they are written out unchanged.
	code, err := decodeLatin1([]byte(s.buildInjection(ses, c)))
	if err != nil {
		return fmt.Errorf("decoding injection: %w", err)
	}

	modified, err := encodeLatin1(injectHTML(body, code))
	if err != nil {
		return fmt.Errorf("encoding body: %w", err)
	}

	r.Body = io.NopCloser(bytes.NewReader(modified))
	r.ContentLength = int64(len(modified))
	r.Header.Set(httphdr.ContentLength, strconv.Itoa(len(modified)))

	return nil
}

// readCloser combines a reader with the closer of another one.
type readCloser struct {
	io.Reader
	io.Closer
}

// buildInjection returns the HTML code to inject into the page of ses.
func (s *Server) buildInjection(ses *session, c *abpfilter.Cosmetic) (code string) {
	b := &strings.Builder{}
	if css := c.StyleSheet(); css != "" {
		b.WriteString(`<style type="text/css">`)
		// The style element ends at the first "</" in raw text.
		b.WriteString(strings.ReplaceAll(css, "</", `<\/`))
		b.WriteString("</style>")
	}

	if len(c.CSSRules) > 0 {
		q := url.Values{}
		q.Set("url", ses.request.URL)
		q.Set("ts", strconv.FormatInt(s.createdAt.Unix(), 10))

		b.WriteString(`<script src="//`)
		b.WriteString(s.injectionHost)
		b.WriteString(contentScriptPath)
		b.WriteByte('?')
		b.WriteString(strings.ReplaceAll(q.Encode(), "&", "&amp;"))
		b.WriteString(`"></script>`)
	}

	return b.String()
}

// injectHTML inserts code right after the opening head tag of body or, if
// there is none, at the beginning.
func injectHTML(body, code string) (res string) {
	lower := strings.ToLower(body)

	i := 0
	for {
		j := strings.Index(lower[i:], "<head")
		if j < 0 {
			return code + body
		}

		i += j + len("<head")

		// Skip the tags like <header>.
		if i < len(lower) && (lower[i] == '>' || isSpace(lower[i])) {
			break
		}
	}

	end := strings.IndexByte(lower[i:], '>')
	if end < 0 {
		return code + body
	}

	i += end + 1

	return body[:i] + code + body[i:]
}

// isSpace returns true if c is an HTML whitespace character.
func isSpace(c byte) (ok bool) {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

// decodeLatin1 decodes b as Latin-1, so that every byte becomes one rune and
// the body survives [encodeLatin1] unchanged whatever its real charset is.
func decodeLatin1(b []byte) (s string, err error) {
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}

	return string(decoded), nil
}

// encodeLatin1 encodes s as Latin-1.
func encodeLatin1(s string) (b []byte, err error) {
	return charmap.ISO8859_1.NewEncoder().Bytes([]byte(s))
}
