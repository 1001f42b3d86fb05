// Package osint defines the capability interface a future OSINT collector
// would implement to enrich a crawl target with open-source intelligence
// (social profile links, contact emails, technology fingerprints) beyond
// what the core fetch/extract pipeline produces. Only the interface and a
// stub collaborator are provided; a working collector is out of scope.
package osint

import (
	"context"
	"errors"
)

// ErrNotImplemented is returned by StubCollector for every request.
var ErrNotImplemented = errors.New("osint: collector not implemented")

// Result is the enrichment payload a Collector produces for one URL.
type Result struct {
	URL            string            `json:"url"`
	Emails         []string          `json:"emails,omitempty"`
	SocialLinks    []string          `json:"social_links,omitempty"`
	Technologies   []string          `json:"technologies,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	ScreenshotPath string            `json:"screenshot_path,omitempty"`
}

// Collector enriches a single URL with open-source intelligence. Grounded
// on crawlcore.Fetcher's single-method, context-first shape so a real
// implementation can reuse the same fetch pipeline (HTTP fetcher, browser
// fetcher for JS-rendered profile pages) that the crawl core already wires.
type Collector interface {
	Collect(ctx context.Context, url string) (Result, error)
}

// StubCollector satisfies Collector without doing any work. It exists so
// the CLI surface and interface shape described for the osint subcommand
// are exercised even though no backing implementation ships yet.
type StubCollector struct{}

// Collect always returns ErrNotImplemented.
func (StubCollector) Collect(_ context.Context, url string) (Result, error) {
	return Result{URL: url}, ErrNotImplemented
}
