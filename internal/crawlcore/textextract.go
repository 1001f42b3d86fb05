package crawlcore

import (
	"strings"
	"unicode"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

// ExtractShingleText converts rawHTML to boilerplate-light plain text ahead
// of SimHash/MinHash shingling. It reuses html-to-markdown, the same
// converter mooose-golinkcheck uses for its markdown export, then strips
// Markdown syntax markers so shingles compare words rather than punctuation.
func ExtractShingleText(rawHTML string) string {
	markdown, err := htmltomarkdown.ConvertString(rawHTML)
	if err != nil || strings.TrimSpace(markdown) == "" {
		return ""
	}
	return stripMarkdownSyntax(markdown)
}

func stripMarkdownSyntax(markdown string) string {
	var b strings.Builder
	b.Grow(len(markdown))
	for _, r := range markdown {
		switch r {
		case '#', '*', '_', '`', '>', '-', '[', ']', '(', ')', '|':
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	fields := strings.FieldsFunc(b.String(), func(r rune) bool {
		return unicode.IsSpace(r)
	})
	return strings.ToLower(strings.Join(fields, " "))
}

// Shingles splits text into overlapping n-grams of n consecutive words, the
// unit both SimHash and MinHash operate on.
func Shingles(text string, n int) []string {
	words := strings.Fields(text)
	if len(words) < n {
		if len(words) == 0 {
			return nil
		}
		return []string{strings.Join(words, " ")}
	}
	shingles := make([]string, 0, len(words)-n+1)
	for i := 0; i+n <= len(words); i++ {
		shingles = append(shingles, strings.Join(words[i:i+n], " "))
	}
	return shingles
}
