package research

import (
	"net/url"
	"strings"
)

// sourceTrust scores well-known domains for ownership research. Filings
// and registries outrank news, news outranks social.
var sourceTrust = map[string]int{
	"sec.gov":            95,
	"opencorporates.com": 85,
	"bloomberg.com":      90,
	"crunchbase.com":     80,
	"wsj.com":            80,
	"ft.com":             80,
	"reuters.com":        75,
	"linkedin.com":       70,
	"wikipedia.org":      60,
	"reddit.com":         20,
}

const defaultTrust = 50

// TrustScore rates a source URL from 0 to 100.
func TrustScore(rawURL string) int {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return defaultTrust
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	for domain, score := range sourceTrust {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return score
		}
	}
	return defaultTrust
}
