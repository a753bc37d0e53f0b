package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	whitespacePattern = regexp.MustCompile(`\s+`)
	pricePattern      = regexp.MustCompile(`(?:[€$£¥]\s*)?\d[\d.,\s]*(?:\s*(?:[€$£¥]|EUR|USD|GBP|JPY))?`)
)

// Parse loads page HTML into a goquery document.
func Parse(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return doc, nil
}

// FirstText returns the cleaned text of the first selector that matches a non-empty node.
func FirstText(doc *goquery.Document, selectors ...string) (string, bool) {
	for _, selector := range selectors {
		var found string
		doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text := CleanText(s.Text())
			if text == "" {
				return true
			}
			found = text
			return false
		})
		if found != "" {
			return found, true
		}
	}
	return "", false
}

// MetaContent reads <meta property|name=key content=...>.
func MetaContent(doc *goquery.Document, key string) (string, bool) {
	sel := doc.Find(fmt.Sprintf(`meta[property=%q], meta[name=%q]`, key, key)).First()
	content, ok := sel.Attr("content")
	content = CleanText(content)
	return content, ok && content != ""
}

// CleanText collapses whitespace runs into single spaces.
func CleanText(s string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}

// ExtractPrice pulls the first price-looking token out of text, e.g. "Now 29,95 EUR".
func ExtractPrice(text string) (string, bool) {
	match := pricePattern.FindString(CleanText(text))
	match = strings.TrimSpace(match)
	if match == "" {
		return "", false
	}
	return match, true
}
