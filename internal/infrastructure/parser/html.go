package parser

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	spaceExpr    = regexp.MustCompile(`\s+`)
	trailerExpr  = regexp.MustCompile(`(?i)\s*(read more|continue reading)\b.*$`)
	htmlHintExpr = regexp.MustCompile(`<[a-zA-Z/!][^>]*>`)
)

// HTMLToText strips markup and feed trailers, returning single-spaced text.
func HTMLToText(content string) string {
	if htmlHintExpr.MatchString(content) {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
		if err == nil {
			doc.Find("script, style").Remove()
			content = doc.Text()
		}
	}

	content = collapseSpaces(content)
	return strings.TrimSpace(trailerExpr.ReplaceAllString(content, ""))
}

func collapseSpaces(s string) string {
	return strings.TrimSpace(spaceExpr.ReplaceAllString(s, " "))
}
