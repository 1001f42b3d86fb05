// Package extract pulls outbound links and page metadata out of fetched
// HTML, grounded on the goquery usage in internal/crawler/detector_heuristic.go.
package extract

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Page holds the metadata a crawl worker needs from a fetched document
// beyond its raw body.
type Page struct {
	Title string
	Links []string
}

var skipSchemes = map[string]bool{
	"javascript": true,
	"mailto":     true,
	"tel":        true,
	"data":       true,
}

// ParsePage extracts the title and absolute outbound links from an HTML
// document. baseURL resolves relative hrefs; malformed documents yield a
// zero-value Page rather than an error, since a worker should still be able
// to record the fetch outcome.
func ParsePage(body []byte, baseURL string) Page {
	var page Page
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return page
	}
	page.Title = strings.TrimSpace(doc.Find("title").First().Text())

	base, err := url.Parse(baseURL)
	if err != nil {
		return page
	}

	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		parsed, err := url.Parse(href)
		if err != nil {
			return
		}
		if parsed.Scheme != "" && skipSchemes[strings.ToLower(parsed.Scheme)] {
			return
		}
		resolved := base.ResolveReference(parsed)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		resolved.Fragment = ""
		abs := resolved.String()
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		page.Links = append(page.Links, abs)
	})
	return page
}
