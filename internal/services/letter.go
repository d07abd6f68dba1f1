package services

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

// FallbackLetter is the deterministic canned letter used whenever the remote
// generation pipeline cannot deliver. Identical inputs yield byte-identical
// output; it never fails.
func FallbackLetter(name, notes string) string {
	notesLine := ""
	if strings.TrimSpace(notes) != "" {
		notesLine = fmt.Sprintf("\n\nAdditional context: %s", strings.TrimSpace(notes))
	}
	return fmt.Sprintf("Dear Hiring Team,\n\nMy name is %s. I am excited to express my interest in opportunities that align with my background. I bring a track record of delivering results, collaborating across teams, and continuously improving processes to create impact."+
		"\n\nI would welcome the chance to contribute, learn, and grow while supporting your goals. Please find my details attached or available upon request.%s\n\nKind regards,\n%s", name, notesLine, name)
}

var tagPattern = regexp.MustCompile(`<[a-zA-Z!/][^>]*>`)

// EnsureHTML coerces content into self-contained markup. Content that
// already carries tags passes through unchanged, which makes the function
// idempotent; plain text is escaped and wrapped in a minimal inline-styled
// document shell titled after the candidate.
func EnsureHTML(content, name string) string {
	if tagPattern.MatchString(content) {
		return content
	}

	title := strings.TrimSpace(name)
	if title == "" {
		title = "Application"
	}

	var paragraphs []string
	for _, block := range strings.Split(content, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		escaped := html.EscapeString(block)
		escaped = strings.ReplaceAll(escaped, "\n", "<br>")
		paragraphs = append(paragraphs, "    <p style=\"margin:0 0 14px 0;\">"+escaped+"</p>")
	}

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>")
	b.WriteString(html.EscapeString(title))
	b.WriteString("</title>\n</head>\n<body style=\"font-family:Georgia,serif;font-size:15px;line-height:1.5;color:#1a1a1a;max-width:680px;margin:40px auto;padding:0 20px;\">\n")
	b.WriteString(strings.Join(paragraphs, "\n"))
	b.WriteString("\n</body>\n</html>")
	return b.String()
}
