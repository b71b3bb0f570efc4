// internal/ingest/normalize.go
package ingest

import (
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

// NormalizeBody converts HTML email bodies to markdown so plans and prompts
// work from readable text. Non-HTML bodies pass through unchanged, as does
// anything the converter rejects.
func NormalizeBody(body string) string {
	if !looksLikeHTML(body) {
		return body
	}
	md, err := htmltomarkdown.ConvertString(body)
	if err != nil {
		return body
	}
	return strings.TrimSpace(md)
}

func looksLikeHTML(body string) bool {
	lower := strings.ToLower(body)
	for _, tag := range []string{"<html", "<body", "<div", "<p>", "<br", "<table"} {
		if strings.Contains(lower, tag) {
			return true
		}
	}
	return false
}
