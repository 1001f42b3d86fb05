package crawlcore

import (
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
)

// maxURLBytes rejects URLs longer than 2 KiB, matching the crawl core's
// admission-pipeline length bound.
const maxURLBytes = 2048

// defaultTrackingParams lists query keys stripped by Normalizer.Normalize regardless
// of caller-supplied configuration, matching common analytics tags.
var defaultTrackingParams = map[string]struct{}{
	"utm_source": {}, "utm_medium": {}, "utm_campaign": {}, "utm_term": {},
	"utm_content": {}, "gclid": {}, "fbclid": {}, "mc_cid": {}, "mc_eid": {},
}

// Normalizer canonicalizes URLs so that syntactically distinct but
// semantically identical URLs collapse to the same string ahead of the
// dedup set. It generalizes internal/crawler/url.go's NormalizeURL with a
// configurable tracking-parameter stripper and path collapsing.
type Normalizer struct {
	extraTrackingParams map[string]struct{}
}

// NewNormalizer builds a Normalizer that additionally strips the given
// tracking query parameter names on top of the built-in defaults.
func NewNormalizer(extraTrackingParams []string) *Normalizer {
	n := &Normalizer{extraTrackingParams: make(map[string]struct{})}
	for _, p := range extraTrackingParams {
		n.extraTrackingParams[strings.ToLower(strings.TrimSpace(p))] = struct{}{}
	}
	return n
}

// Normalize lowercases scheme and host, strips default ports and fragments,
// collapses "." and ".." path segments, strips tracking parameters, and
// sorts the remaining query parameters for a stable, idempotent form.
// Idempotence (Normalize(Normalize(u)) == Normalize(u)) is a load-bearing
// invariant for the URL dedup set.
func (n *Normalizer) Normalize(rawURL string) (string, error) {
	trimmed := strings.TrimSpace(rawURL)
	if len(trimmed) > maxURLBytes {
		return "", fmt.Errorf("normalize url: exceeds %d bytes", maxURLBytes)
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("normalize url %q: missing scheme or host", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("normalize url %q: unsupported scheme %q", rawURL, u.Scheme)
	}

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""

	if u.Path != "" {
		cleaned := path.Clean(u.Path)
		if cleaned == "." {
			cleaned = "/"
		}
		if strings.HasSuffix(u.Path, "/") && !strings.HasSuffix(cleaned, "/") && cleaned != "/" {
			cleaned += "/"
		}
		u.Path = cleaned
	}
	if u.Path == "" {
		u.Path = "/"
	}

	q := u.Query()
	for key := range q {
		lower := strings.ToLower(key)
		if _, tracked := defaultTrackingParams[lower]; tracked {
			q.Del(key)
			continue
		}
		if _, tracked := n.extraTrackingParams[lower]; tracked {
			q.Del(key)
		}
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	sorted := url.Values{}
	for _, k := range keys {
		sorted[k] = q[k]
	}
	u.RawQuery = sorted.Encode()

	return u.String(), nil
}

// Host extracts the lowercased host (without port) from a normalized URL,
// used to key scheduler and dedup state per site.
func Host(normalizedURL string) (string, error) {
	u, err := url.Parse(normalizedURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	return strings.ToLower(u.Hostname()), nil
}
