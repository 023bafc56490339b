package linkfix

import (
	"net/url"
	"regexp"
	"strings"
)

var urlPattern = regexp.MustCompile(`(?i)https?://\S+`)

// Normalizer rewrites URL hosts according to a Table. It is safe for
// concurrent use.
type Normalizer struct {
	table Table
}

// NewNormalizer constructs a Normalizer for table.
func NewNormalizer(table Table) *Normalizer {
	return &Normalizer{table: table}
}

// Link is a URL found in text together with its normalized form.
type Link struct {
	Original   string
	Normalized string
}

// Changed reports whether normalization rewrote the link.
func (l Link) Changed() bool {
	return l.Original != l.Normalized
}

// Normalize returns rawURL with its host rewritten to the mapped mirror
// domain. Subdomains, credentials, port, path, query and fragment are kept
// verbatim. Input that is not an absolute URL with a host is returned as is.
func (n *Normalizer) Normalize(rawURL string) string {
	if n == nil {
		return rawURL
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return rawURL
	}

	hostname := strings.ToLower(parsed.Hostname())
	if hostname == "" {
		return rawURL
	}

	replaced, ok := n.table.rewriteHost(hostname)
	if !ok {
		return rawURL
	}

	return spliceHost(rawURL, hostname, parsed.Port(), replaced)
}

// Scan finds every http(s) URL in text and normalizes it. Repeated URLs are
// reported once, in order of first appearance.
func (n *Normalizer) Scan(text string) []Link {
	found := urlPattern.FindAllString(text, -1)
	if len(found) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(found))
	links := make([]Link, 0, len(found))
	for _, raw := range found {
		if _, dup := seen[raw]; dup {
			continue
		}
		seen[raw] = struct{}{}
		links = append(links, Link{Original: raw, Normalized: n.Normalize(raw)})
	}

	return links
}

// spliceHost swaps hostname inside rawURL for host without re-encoding any
// other part of the URL.
func spliceHost(rawURL, hostname, port, host string) string {
	schemeEnd := strings.Index(rawURL, "://")
	if schemeEnd < 0 {
		return rawURL
	}
	start := schemeEnd + len("://")

	end := len(rawURL)
	if i := strings.IndexAny(rawURL[start:], "/?#"); i >= 0 {
		end = start + i
	}

	authority := rawURL[start:end]
	hostStart := strings.LastIndex(authority, "@") + 1
	hostPort := authority[hostStart:]

	hostEnd := len(hostPort)
	if port != "" {
		hostEnd -= len(port) + 1
	}
	if hostEnd <= 0 {
		return rawURL
	}

	// Percent-encoded hosts do not match their decoded form and are left untouched.
	if !strings.EqualFold(hostPort[:hostEnd], hostname) {
		return rawURL
	}

	var b strings.Builder
	b.Grow(len(rawURL) + len(host))
	b.WriteString(rawURL[:start])
	b.WriteString(authority[:hostStart])
	b.WriteString(host)
	b.WriteString(hostPort[hostEnd:])
	b.WriteString(rawURL[end:])
	return b.String()
}
