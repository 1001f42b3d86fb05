package fetch

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// spaRootMarkers are attribute/id fingerprints left by common SPA
// frameworks on an otherwise-empty document body.
var spaRootMarkers = []string{"id=\"root\"", "id=\"app\"", "ng-version", "data-reactroot", "__next"}

// HeuristicPromotionDetector decides whether a page fetched over plain HTTP
// looks JS-dependent and should be re-fetched with the browser fetcher.
// Grounded on internal/crawler/detector_heuristic.go and
// internal/headless/detector/heuristic.go, extended with the SPA-marker and
// outbound-link-count checks spec.md's headless-promotion heuristic adds on
// top of the teacher's body-length/keyword/selector checks.
type HeuristicPromotionDetector struct {
	minHTMLBytes    int
	minOutboundLink int
	selectors       []string
	keywords        [][]byte
}

// NewHeuristicPromotionDetector builds a detector from configured thresholds.
func NewHeuristicPromotionDetector(minBytes, minOutboundLinks int, selectors, keywords []string) *HeuristicPromotionDetector {
	lowerKeywords := make([][]byte, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		lowerKeywords = append(lowerKeywords, bytes.ToLower([]byte(kw)))
	}
	return &HeuristicPromotionDetector{
		minHTMLBytes:    minBytes,
		minOutboundLink: minOutboundLinks,
		selectors:       selectors,
		keywords:        lowerKeywords,
	}
}

// NeedsBrowser inspects a fetched HTML body for signals that the page is a
// JS-rendered shell rather than usable content.
func (d *HeuristicPromotionDetector) NeedsBrowser(body []byte) bool {
	if d == nil {
		return false
	}
	switch {
	case d.bodyBelowThreshold(body):
		return true
	case d.containsKeywords(body):
		return true
	case d.looksLikeSPAShell(body):
		return true
	default:
		return d.missingSelectorsOrThinLinks(body)
	}
}

func (d *HeuristicPromotionDetector) bodyBelowThreshold(body []byte) bool {
	return d.minHTMLBytes > 0 && len(body) < d.minHTMLBytes
}

func (d *HeuristicPromotionDetector) containsKeywords(body []byte) bool {
	if len(body) == 0 || len(d.keywords) == 0 {
		return false
	}
	lowerBody := bytes.ToLower(body)
	for _, kw := range d.keywords {
		if bytes.Contains(lowerBody, kw) {
			return true
		}
	}
	return false
}

// looksLikeSPAShell flags documents that carry a well-known SPA root marker
// but otherwise have almost no static text, a common fingerprint of a
// client-side-only render.
func (d *HeuristicPromotionDetector) looksLikeSPAShell(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	lowerBody := bytes.ToLower(body)
	hasMarker := false
	for _, marker := range spaRootMarkers {
		if bytes.Contains(lowerBody, []byte(marker)) {
			hasMarker = true
			break
		}
	}
	if !hasMarker {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return true
	}
	text := strings.TrimSpace(doc.Find("body").Text())
	return len(text) < 200
}

func (d *HeuristicPromotionDetector) missingSelectorsOrThinLinks(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return true
	}
	for _, sel := range d.selectors {
		if sel == "" {
			continue
		}
		if doc.Find(sel).Length() == 0 {
			return true
		}
	}
	if d.minOutboundLink > 0 {
		count := 0
		doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
			if href, ok := s.Attr("href"); ok && href != "" && href != "#" {
				count++
			}
		})
		if count < d.minOutboundLink {
			return true
		}
	}
	return false
}
