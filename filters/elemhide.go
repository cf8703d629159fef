package filters

import (
	"regexp"
	"strings"
	"sync"
)

// elemHideRe matches element hiding filters, both the "domains##selector" form
// and the legacy "domains#tag(id)(attr=value)" one.
var elemHideRe = regexp.MustCompile(
	`^([^/*|@"!]*?)#(@)?(?:([\w-]+|\*)((?:\([\w-]+(?:[$^*]?=[^()"]*)?\))*)|#([^{}]+))$`,
)

// attrRuleRe matches a single parenthesized legacy criterion.
var attrRuleRe = regexp.MustCompile(`\([\w-]+(?:[$^*]?=[^()"]*)?\)`)

// cssPropertyRe matches the property pseudo-selector of CSS property filters.
var cssPropertyRe = regexp.MustCompile(`\[-abp-properties=(?:"([^"']+)"|'([^"']+)')\]`)

// emptyDomainRe matches domain lists with an empty entry.
var emptyDomainRe = regexp.MustCompile(`(^|,)~?(,|$)`)

// activeDomainRe matches domain lists with at least one included domain that
// has a dot inside.  The list must be prefixed with a comma.
var activeDomainRe = regexp.MustCompile(`,[^~][^,.]*\.[^,]`)

// Selector is the payload of element hiding filters.
type Selector struct {
	// domain is the domain list of the filter with excluded domains removed.
	domain string

	// selector is the CSS selector.
	selector string

	// prefix, suffix, and regexpSource are only set for CSS property filters.
	prefix       string
	suffix       string
	regexpSource string
}

// Domain returns the included domains of the filter, comma-separated and
// lower-cased.
func (s *Selector) Domain() (d string) {
	return s.domain
}

// CSS returns the CSS selector.
func (s *Selector) CSS() (sel string) {
	return s.selector
}

// Prefix returns the part of a CSS property filter selector that precedes the
// property pseudo-selector.
func (s *Selector) Prefix() (p string) {
	return s.prefix
}

// Suffix returns the part of a CSS property filter selector that follows the
// property pseudo-selector.
func (s *Selector) Suffix() (p string) {
	return s.suffix
}

// RegexpSource returns the regular expression that the style properties of an
// element must match for a CSS property filter.
func (s *Selector) RegexpSource() (src string) {
	return s.regexpSource
}

// newElemHideFilter builds an element hiding filter from the submatches of
// elemHideRe.
func newElemHideFilter(text string, m []string) (f *Filter) {
	domain, isException, tagName, attrRules, selector := m[1], m[2] != "", m[3], m[4], m[5]

	if selector == "" {
		var reason Reason
		selector, reason = legacySelector(tagName, attrRules)
		if reason != "" {
			return newInvalid(text, reason)
		}
	}

	if domain != "" && emptyDomainRe.MatchString(domain) {
		return newInvalid(text, ReasonInvalidDomain)
	}

	f = &Filter{
		selector: &Selector{
			domain:   selectorDomain(domain),
			selector: selector,
		},
		domains: parseDomains(domain, ",", false),
		mu:      &sync.Mutex{},
		text:    text,
		kind:    KindElemHide,
	}

	if isException {
		f.kind = KindElemHideException

		return f
	}

	loc := cssPropertyRe.FindStringSubmatchIndex(selector)
	if loc == nil {
		return f
	}

	if !activeDomainRe.MatchString("," + domain) {
		return newInvalid(text, ReasonCSSNoDomain)
	}

	var value string
	if loc[2] >= 0 {
		value = selector[loc[2]:loc[3]]
	} else {
		value = selector[loc[4]:loc[5]]
	}

	f.kind = KindCSSProperty
	f.selector.prefix = selector[:loc[0]]
	f.selector.suffix = selector[loc[1]:]
	if isRegexpLiteral(value) {
		f.selector.regexpSource = value[1 : len(value)-1]
	} else {
		f.selector.regexpSource = toRegExp(value)
	}

	return f
}

// legacySelector converts the "tag(id)(attr=value)" syntax into a CSS
// selector.
func legacySelector(tagName, attrRules string) (selector string, reason Reason) {
	if tagName == "*" {
		tagName = ""
	}

	id := ""
	additional := &strings.Builder{}
	for _, rule := range attrRuleRe.FindAllString(attrRules, -1) {
		rule = rule[1 : len(rule)-1]
		if strings.IndexByte(rule, '=') > 0 {
			additional.WriteString("[")
			additional.WriteString(strings.Replace(rule, "=", `="`, 1))
			additional.WriteString(`"]`)

			continue
		}

		if id != "" {
			return "", ReasonDuplicateID
		}

		id = rule
	}

	switch attrs := additional.String(); {
	case id != "":
		return tagName + "." + id + attrs + "," + tagName + "#" + id + attrs, ""
	case tagName != "" || attrs != "":
		return tagName + attrs, ""
	default:
		return "", ReasonNoCriteria
	}
}

// selectorDomain removes the excluded entries from a comma-separated domain
// list and lower-cases the rest.
func selectorDomain(domains string) (d string) {
	if domains == "" {
		return ""
	}

	included := make([]string, 0, strings.Count(domains, ",")+1)
	for _, domain := range strings.Split(domains, ",") {
		if !strings.HasPrefix(domain, "~") {
			included = append(included, domain)
		}
	}

	return strings.ToLower(strings.Join(included, ","))
}
