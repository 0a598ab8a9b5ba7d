package parse

import (
	"fmt"
	"net/url"
	"strings"
)

// ResolveLink resolves href against base and returns an absolute http(s) URL without fragment.
// Returns false for empty hrefs, in-page anchors and non-web schemes.
func ResolveLink(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	lower := strings.ToLower(href)
	for _, scheme := range []string{"javascript:", "mailto:", "tel:", "data:"} {
		if strings.HasPrefix(lower, scheme) {
			return "", false
		}
	}

	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := ref
	if base != nil {
		abs = base.ResolveReference(ref)
	}
	if abs.Scheme != "http" && abs.Scheme != "https" || abs.Host == "" {
		return "", false
	}
	abs.Fragment = ""
	abs.RawFragment = ""
	return abs.String(), true
}

// LinkSet collects links in first-seen order, deduplicated by their normalized form
type LinkSet struct {
	seen  map[string]struct{}
	links []string
}

// NewLinkSet creates an empty LinkSet
func NewLinkSet() *LinkSet {
	return &LinkSet{seen: make(map[string]struct{})}
}

// Add inserts link and reports whether it was new. Unparseable links are keyed verbatim.
func (s *LinkSet) Add(link string) bool {
	key := link
	if u, err := url.Parse(link); err == nil {
		key = NormalizeURL(u)
	}
	if _, dup := s.seen[key]; dup {
		return false
	}
	s.seen[key] = struct{}{}
	s.links = append(s.links, link)
	return true
}

// Contains reports whether an equivalent link was already added
func (s *LinkSet) Contains(link string) bool {
	key := link
	if u, err := url.Parse(link); err == nil {
		key = NormalizeURL(u)
	}
	_, ok := s.seen[key]
	return ok
}

// Links returns the collected links in insertion order
func (s *LinkSet) Links() []string {
	out := make([]string, len(s.links))
	copy(out, s.links)
	return out
}

// Len returns the number of distinct links
func (s *LinkSet) Len() int { return len(s.links) }

// PageURL builds the URL of page n of a paginated listing, e.g. "<listing>/page_2".
// pathFormat must contain a single %d.
func PageURL(listingURL, pathFormat string, n int) string {
	base := listingURL
	query := ""
	if i := strings.IndexByte(base, '?'); i >= 0 {
		base, query = base[:i], base[i:]
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + fmt.Sprintf(pathFormat, n) + query
}

// HasPrefixURL reports whether link points inside prefix (scheme and host compared case-insensitively)
func HasPrefixURL(link, prefix string) bool {
	lu, err1 := url.Parse(link)
	pu, err2 := url.Parse(prefix)
	if err1 != nil || err2 != nil {
		return strings.HasPrefix(link, prefix)
	}
	if !strings.EqualFold(lu.Host, pu.Host) {
		return false
	}
	if lu.Scheme != "" && pu.Scheme != "" && !strings.EqualFold(lu.Scheme, pu.Scheme) {
		return false
	}
	return strings.HasPrefix(lu.EscapedPath(), pu.EscapedPath())
}
