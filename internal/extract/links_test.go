package extract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePageExtractsTitle(t *testing.T) {
	t.Parallel()
	body := []byte(`<html><head><title>  Example Page  </title></head><body></body></html>`)
	page := ParsePage(body, "https://example.com")
	require.Equal(t, "Example Page", page.Title)
}

func TestParsePageResolvesRelativeLinksAgainstBaseURL(t *testing.T) {
	t.Parallel()
	body := []byte(`<html><body><a href="/about">About</a><a href="contact">Contact</a></body></html>`)
	page := ParsePage(body, "https://example.com/section/index.html")
	require.ElementsMatch(t, []string{
		"https://example.com/about",
		"https://example.com/section/contact",
	}, page.Links)
}

func TestParsePageKeepsAbsoluteLinksUnchanged(t *testing.T) {
	t.Parallel()
	body := []byte(`<html><body><a href="https://other.com/page">Other</a></body></html>`)
	page := ParsePage(body, "https://example.com")
	require.Equal(t, []string{"https://other.com/page"}, page.Links)
}

func TestParsePageSkipsFragmentOnlyAndEmptyHrefs(t *testing.T) {
	t.Parallel()
	body := []byte(`<html><body><a href="#top">Top</a><a href="">Empty</a><a>NoHref</a></body></html>`)
	page := ParsePage(body, "https://example.com")
	require.Empty(t, page.Links)
}

func TestParsePageSkipsNonHTTPSchemes(t *testing.T) {
	t.Parallel()
	body := []byte(`<html><body>
		<a href="javascript:void(0)">JS</a>
		<a href="mailto:hello@example.com">Mail</a>
		<a href="tel:+15551234567">Tel</a>
		<a href="data:text/plain;base64,aGVsbG8=">Data</a>
		<a href="/valid">Valid</a>
	</body></html>`)
	page := ParsePage(body, "https://example.com")
	require.Equal(t, []string{"https://example.com/valid"}, page.Links)
}

func TestParsePageStripsFragmentFromResolvedLink(t *testing.T) {
	t.Parallel()
	body := []byte(`<html><body><a href="/page#section2">Section</a></body></html>`)
	page := ParsePage(body, "https://example.com")
	require.Equal(t, []string{"https://example.com/page"}, page.Links)
}

func TestParsePageDeduplicatesRepeatedLinks(t *testing.T) {
	t.Parallel()
	body := []byte(`<html><body><a href="/x">1</a><a href="/x">2</a></body></html>`)
	page := ParsePage(body, "https://example.com")
	require.Equal(t, []string{"https://example.com/x"}, page.Links)
}

func TestParsePageMalformedBaseURLYieldsNoLinks(t *testing.T) {
	t.Parallel()
	body := []byte(`<html><body><a href="/x">1</a></body></html>`)
	page := ParsePage(body, "://not-a-valid-url")
	require.Empty(t, page.Links)
}
