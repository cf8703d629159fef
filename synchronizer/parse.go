package synchronizer

import (
	"crypto/md5"
	"encoding/base64"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/AdguardTeam/abpfilter/filters"
	"github.com/AdguardTeam/abpfilter/subscription"
	"golang.org/x/mod/semver"
)

var (
	// lineBreakRe splits filter lists into lines.  Empty lines disappear
	// except for the last one.
	lineBreakRe = regexp.MustCompile(`[\r\n]+`)

	// headerRe matches the first line of a filter list.
	headerRe = regexp.MustCompile(`(?i)\[Adblock(?:\s*Plus\s*([\d.]+)?)?\]`)

	// specialCommentRe matches the comments with the metadata of a filter
	// list.
	specialCommentRe = regexp.MustCompile(`^\s*!\s*(\w+)\s*:\s*(.*)`)

	// expiresRe matches the value of an "Expires" comment.  The number is in
	// days unless followed by "h".
	expiresRe = regexp.MustCompile(`^(\d+)\s*(h)?`)
)

// list is a parsed filter list.
type list struct {
	// params are the values of the special comments, keyed by lowercased
	// keyword.
	params map[string]string

	// requiredVersion is the version from the header, if any.
	requiredVersion string

	// filters are the normalized non-empty filter lines.
	filters []string
}

// knownParams are the keywords of the special comments that are removed from
// the filters.
var knownParams = map[string]struct{}{
	"redirect": {},
	"homepage": {},
	"title":    {},
	"version":  {},
	"expires":  {},
}

// parseList parses the downloaded text of a filter list.  status is non-empty
// if the text is not a valid filter list.
func parseList(text string) (l *list, status subscription.Status) {
	lines := lineBreakRe.Split(text, -1)
	m := headerRe.FindStringSubmatch(lines[0])
	if m == nil {
		return nil, subscription.StatusInvalidData
	}

	lines, ok := verifyChecksum(lines)
	if !ok {
		return nil, subscription.StatusChecksumMismatch
	}

	l = &list{
		params:          map[string]string{},
		requiredVersion: m[1],
	}

	for _, line := range lines[1:] {
		if pm := specialCommentRe.FindStringSubmatch(line); pm != nil {
			keyword := strings.ToLower(pm[1])
			if _, known := knownParams[keyword]; known {
				l.params[keyword] = pm[2]

				continue
			}
		}

		if norm := filters.Normalize(line); norm != "" {
			l.filters = append(l.filters, norm)
		}
	}

	return l, ""
}

// verifyChecksum removes the first "Checksum" comment from lines and checks
// that the value matches the rest.  Lists without a checksum are always
// valid.
func verifyChecksum(lines []string) (rest []string, ok bool) {
	for i, line := range lines {
		m := specialCommentRe.FindStringSubmatch(line)
		if m == nil || !strings.EqualFold(m[1], "checksum") {
			continue
		}

		rest = make([]string, 0, len(lines)-1)
		rest = append(rest, lines[:i]...)
		rest = append(rest, lines[i+1:]...)

		return rest, checksum(rest) == strings.TrimRight(m[2], "=")
	}

	return lines, true
}

// checksum returns the MD5 hash of the lines joined with "\n", in base64
// without padding.
func checksum(lines []string) (sum string) {
	h := md5.Sum([]byte(strings.Join(lines, "\n")))

	return base64.RawStdEncoding.EncodeToString(h[:])
}

// homepage returns the normalized homepage URL, or an empty string if it is
// not an HTTP(S) one.
func homepage(raw string) (u string) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Host == "" {
		return ""
	}

	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
		return parsed.String()
	default:
		return ""
	}
}

// leadingUint parses the decimal number at the start of s.  It returns zero
// if there is none.
func leadingUint(s string) (n uint) {
	end := strings.IndexFunc(s, func(r rune) (ok bool) { return r < '0' || r > '9' })
	if end < 0 {
		end = len(s)
	}

	v, err := strconv.ParseUint(s[:end], 10, 0)
	if err != nil {
		return 0
	}

	return uint(v)
}

// expirationInterval returns the interval from the value of an "Expires"
// comment, or def if it cannot be parsed.  Intervals too long for
// [time.Duration] are returned as the longest one.
func expirationInterval(val string, def time.Duration) (d time.Duration) {
	m := expiresRe.FindStringSubmatch(val)
	if m == nil {
		return def
	}

	n, err := strconv.ParseInt(m[1], 10, 32)
	if err != nil {
		return def
	}

	unit := 24 * time.Hour
	if m[2] != "" {
		unit = time.Hour
	}

	// Saturate instead of overflowing, so that the caller clamps the interval
	// to the maximum.
	if n > int64(math.MaxInt64/unit) {
		return math.MaxInt64
	}

	return time.Duration(n) * unit
}

// upgradeRequired returns true if the filter list version required is newer
// than current.  Versions that aren't dotted numbers are never newer.
func upgradeRequired(required, current string) (ok bool) {
	r, c := toSemver(required), toSemver(current)

	return semver.IsValid(r) && semver.IsValid(c) && semver.Compare(r, c) > 0
}

// toSemver converts a dotted version into the form package semver accepts.
// Components after the third one are dropped.
func toSemver(v string) (sv string) {
	parts := strings.SplitN(v, ".", 4)

	return "v" + strings.Join(parts[:min(len(parts), 3)], ".")
}
