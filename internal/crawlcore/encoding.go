package crawlcore

import (
	"bytes"
	"regexp"
	"strings"

	"golang.org/x/net/html/charset"
)

var metaCharsetPattern = regexp.MustCompile(`(?is)<meta[^>]+charset\s*=\s*["']?([a-zA-Z0-9_-]+)`)

// DetectEncoding determines the character encoding of an HTML response
// using, in order: a UTF-8/UTF-16 byte-order mark, the Content-Type header's
// charset parameter, an in-document <meta charset> declaration, and
// finally golang.org/x/net/html/charset's statistical sniffing as a
// last-resort fallback. It returns a lowercase IANA charset name.
func DetectEncoding(body []byte, contentType string) string {
	if enc, ok := detectBOM(body); ok {
		return enc
	}
	if enc := charsetFromContentType(contentType); enc != "" {
		return enc
	}
	if m := metaCharsetPattern.FindSubmatch(body); m != nil {
		return strings.ToLower(string(m[1]))
	}
	_, name, _ := charset.DetermineEncoding(body, contentType)
	if name != "" {
		return name
	}
	return "utf-8"
}

func detectBOM(body []byte) (string, bool) {
	switch {
	case bytes.HasPrefix(body, []byte{0xEF, 0xBB, 0xBF}):
		return "utf-8", true
	case bytes.HasPrefix(body, []byte{0xFE, 0xFF}):
		return "utf-16be", true
	case bytes.HasPrefix(body, []byte{0xFF, 0xFE}):
		return "utf-16le", true
	default:
		return "", false
	}
}

func charsetFromContentType(contentType string) string {
	lower := strings.ToLower(contentType)
	idx := strings.Index(lower, "charset=")
	if idx == -1 {
		return ""
	}
	value := lower[idx+len("charset="):]
	if semi := strings.IndexByte(value, ';'); semi != -1 {
		value = value[:semi]
	}
	return strings.Trim(strings.TrimSpace(value), `"'`)
}
