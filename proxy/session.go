package proxy

import (
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/AdguardTeam/abpfilter"
	"github.com/AdguardTeam/abpfilter/filters"
	"github.com/AdguardTeam/golibs/httphdr"
)

// session contains the data to filter a request and its response.  It is
// updated during the lifetime of the request.
//
// There are two stages:
//
//  1. The request headers are received.  The content type is guessed from
//     Sec-Fetch-Dest, Accept, and the file extension, and the request is
//     blocked if a filter says so.
//  2. The response headers are received.  The Content-Type header tells what
//     the resource is, so the request is checked again, and HTML documents
//     get the element hiding styles injected.
type session struct {
	// id is the identifier of the gomitmproxy session.
	id string

	// request is the filtering request.
	request *abpfilter.Request

	httpRequest  *http.Request
	httpResponse *http.Response

	// result is the last decision of the engine.
	result *abpfilter.Result

	// mediaType is the media type of the response.
	mediaType string

	// charset is the charset of the response, if the Content-Type header has
	// one.
	charset string
}

// newSession returns a new *session for req.
func newSession(id string, req *http.Request) (s *session) {
	return &session{
		id:          id,
		request:     abpfilter.NewRequest(req.URL.String(), req.Referer(), assumeContentType(req, nil)),
		httpRequest: req,
	}
}

// setResponse sets the response of this session and updates the content type
// of the request.
func (s *session) setResponse(res *http.Response) {
	s.httpResponse = res
	s.request.ContentType = assumeContentType(s.httpRequest, res)

	mediaType, params, _ := mime.ParseMediaType(res.Header.Get(httphdr.ContentType))
	s.mediaType = mediaType
	s.charset = params["charset"]
}

// isHTMLDocument returns true if the response is a page or a frame in HTML.
func (s *session) isHTMLDocument() (ok bool) {
	t := s.request.ContentType

	return (t == filters.TypeDocument || t == filters.TypeSubdocument) &&
		(s.mediaType == "text/html" || s.mediaType == "application/xhtml+xml")
}

// isPlainText returns true if the response body can be changed byte by byte:
// it isn't compressed and its charset is a superset of ASCII.
func (s *session) isPlainText() (ok bool) {
	enc := s.httpResponse.Header.Get(httphdr.ContentEncoding)
	if enc != "" && !strings.EqualFold(enc, "identity") {
		return false
	}

	return !strings.HasPrefix(strings.ToLower(s.charset), "utf-16") &&
		!strings.HasPrefix(strings.ToLower(s.charset), "utf-32")
}

// assumeContentType guesses the content type of req.  res is nil if the
// response hasn't been received yet.
func assumeContentType(req *http.Request, res *http.Response) (t filters.ContentType) {
	if dt, ok := fetchDestTypes[req.Header.Get("Sec-Fetch-Dest")]; ok {
		return dt
	}

	if res != nil {
		mediaType, _, _ := mime.ParseMediaType(res.Header.Get(httphdr.ContentType))
		if t = assumeContentTypeFromMediaType(mediaType); t != filters.TypeOther {
			return t
		}
	}

	if t = assumeContentTypeFromMediaType(req.Header.Get(httphdr.Accept)); t != filters.TypeOther {
		return t
	}

	return assumeContentTypeFromURL(req.URL)
}

// fetchDestTypes maps the values of the Sec-Fetch-Dest header to content
// types.
var fetchDestTypes = map[string]filters.ContentType{
	"document":      filters.TypeDocument,
	"iframe":        filters.TypeSubdocument,
	"frame":         filters.TypeSubdocument,
	"script":        filters.TypeScript,
	"worker":        filters.TypeScript,
	"sharedworker":  filters.TypeScript,
	"serviceworker": filters.TypeScript,
	"style":         filters.TypeStylesheet,
	"image":         filters.TypeImage,
	"font":          filters.TypeFont,
	"audio":         filters.TypeMedia,
	"video":         filters.TypeMedia,
	"track":         filters.TypeMedia,
	"object":        filters.TypeObject,
	"embed":         filters.TypeObject,
	"empty":         filters.TypeXMLHTTPRequest,
	"report":        filters.TypePing,
}

// mediaTypePrefixes are the prefixes of media types with the content types
// they stand for, in the order they are checked.
var mediaTypePrefixes = []struct {
	prefix string
	typ    filters.ContentType
}{
	{prefix: "application/xhtml", typ: filters.TypeDocument},
	{prefix: "text/html", typ: filters.TypeDocument},
	{prefix: "text/css", typ: filters.TypeStylesheet},
	{prefix: "application/javascript", typ: filters.TypeScript},
	{prefix: "application/x-javascript", typ: filters.TypeScript},
	{prefix: "text/javascript", typ: filters.TypeScript},
	{prefix: "image/", typ: filters.TypeImage},
	{prefix: "application/x-shockwave-flash", typ: filters.TypeObject},
	{prefix: "application/font", typ: filters.TypeFont},
	{prefix: "application/vnd.ms-fontobject", typ: filters.TypeFont},
	{prefix: "application/x-font-", typ: filters.TypeFont},
	{prefix: "font/", typ: filters.TypeFont},
	{prefix: "audio/", typ: filters.TypeMedia},
	{prefix: "video/", typ: filters.TypeMedia},
	{prefix: "application/xml-dtd", typ: filters.TypeDTD},
	{prefix: "application/json", typ: filters.TypeXMLHTTPRequest},
}

// assumeContentTypeFromMediaType guesses the content type from a media type
// or an Accept header value.
func assumeContentTypeFromMediaType(mediaType string) (t filters.ContentType) {
	for _, p := range mediaTypePrefixes {
		if strings.HasPrefix(mediaType, p.prefix) {
			return p.typ
		}
	}

	return filters.TypeOther
}

// fileExtensions maps file extensions to content types.
var fileExtensions = map[string]filters.ContentType{
	".js":     filters.TypeScript,
	".mjs":    filters.TypeScript,
	".vbs":    filters.TypeScript,
	".coffee": filters.TypeScript,

	".jpg":  filters.TypeImage,
	".jpeg": filters.TypeImage,
	".gif":  filters.TypeImage,
	".png":  filters.TypeImage,
	".webp": filters.TypeImage,
	".svg":  filters.TypeImage,
	".tiff": filters.TypeImage,
	".psd":  filters.TypeImage,
	".ico":  filters.TypeImage,

	".css":  filters.TypeStylesheet,
	".less": filters.TypeStylesheet,

	".jar": filters.TypeObject,
	".swf": filters.TypeObject,

	".wav":   filters.TypeMedia,
	".mp3":   filters.TypeMedia,
	".mp4":   filters.TypeMedia,
	".avi":   filters.TypeMedia,
	".flv":   filters.TypeMedia,
	".m3u":   filters.TypeMedia,
	".webm":  filters.TypeMedia,
	".mpeg":  filters.TypeMedia,
	".3gp":   filters.TypeMedia,
	".3g2":   filters.TypeMedia,
	".3gpp":  filters.TypeMedia,
	".3gpp2": filters.TypeMedia,
	".ogg":   filters.TypeMedia,
	".mov":   filters.TypeMedia,
	".qt":    filters.TypeMedia,
	".vbm":   filters.TypeMedia,
	".mkv":   filters.TypeMedia,
	".gifv":  filters.TypeMedia,

	".ttf":   filters.TypeFont,
	".otf":   filters.TypeFont,
	".woff":  filters.TypeFont,
	".woff2": filters.TypeFont,
	".eot":   filters.TypeFont,

	".dtd": filters.TypeDTD,

	".json": filters.TypeXMLHTTPRequest,
}

// assumeContentTypeFromURL guesses the content type from the file extension.
func assumeContentTypeFromURL(u *url.URL) (t filters.ContentType) {
	t, ok := fileExtensions[strings.ToLower(path.Ext(u.Path))]
	if !ok {
		return filters.TypeOther
	}

	return t
}
