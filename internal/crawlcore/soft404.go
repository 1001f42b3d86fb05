package crawlcore

import "strings"

// soft404Indicators mirrors original_source/deepharvest/ml/soft404.py's
// Soft404Detector.SOFT_404_INDICATORS list.
var soft404Indicators = []string{
	"not found", "404", "page not found", "does not exist",
	"no longer available", "error", "oops",
}

// Soft404Detector flags pages that return HTTP 200 but are effectively a
// "not found" page, a case status-code-only trap detection misses. Not
// named as its own module in spec.md's body, but referenced in the
// GLOSSARY; consulted after fetch, before content dedup.
type Soft404Detector struct{}

// NewSoft404Detector builds a detector using the fixed indicator list.
func NewSoft404Detector() *Soft404Detector {
	return &Soft404Detector{}
}

// IsSoft404 replicates ml/soft404.py's is_soft_404: status 404/410 is
// always a soft-404; otherwise it counts indicator occurrences in the page
// text and title, flagging pages that are short and mention an indicator,
// or mention three or more indicators regardless of length.
func (d *Soft404Detector) IsSoft404(statusCode int, title, text string) bool {
	if statusCode == 404 || statusCode == 410 {
		return true
	}

	lowerText := strings.ToLower(text)
	lowerTitle := strings.ToLower(title)

	count := 0
	for _, indicator := range soft404Indicators {
		if strings.Contains(lowerText, indicator) {
			count++
		}
	}

	if count >= 3 {
		return true
	}
	if len(text) < 500 && count > 0 {
		return true
	}
	for _, indicator := range soft404Indicators {
		if strings.Contains(lowerTitle, indicator) {
			return true
		}
	}
	return false
}
