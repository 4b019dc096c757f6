// Package extract turns uploaded files into plain text ahead of the
// processing pipeline. HTML is parsed and stripped; anything else is treated
// as UTF-8 text. PDF and scanned-image extraction happen upstream and arrive
// here as text already.
package extract

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// Extract returns the plain text content of an uploaded file.
func Extract(filename string, data []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".html", ".htm":
		return fromHTML(data)
	default:
		return cleanText(sanitizeUTF8(string(data))), nil
	}
}

func fromHTML(data []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(data)))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc.Find("script, style, nav, footer, header").Remove()

	var builder strings.Builder
	doc.Find("h1, h2, h3, h4, h5, h6, p, li, td, pre, blockquote").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		builder.WriteString(text)
		builder.WriteString("\n")
	})

	text := builder.String()
	if strings.TrimSpace(text) == "" {
		// No recognizable blocks; fall back to the body text wholesale.
		text = doc.Find("body").Text()
	}
	return cleanText(sanitizeUTF8(text)), nil
}

// cleanText collapses runs of whitespace within lines while keeping line
// structure, which the chunker's boundary markers depend on.
func cleanText(text string) string {
	lines := strings.Split(text, "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		cleaned = append(cleaned, strings.Join(strings.Fields(line), " "))
	}
	out := strings.Join(cleaned, "\n")
	for strings.Contains(out, "\n\n\n") {
		out = strings.ReplaceAll(out, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(out)
}

func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	v := make([]rune, 0, len(s))
	for i, r := range s {
		if r == utf8.RuneError {
			_, size := utf8.DecodeRuneInString(s[i:])
			if size == 1 {
				continue
			}
		}
		v = append(v, r)
	}
	return string(v)
}
