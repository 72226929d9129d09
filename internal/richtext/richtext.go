// Package richtext renders the lightweight chat markup (**bold**, *italic*,
// ~~strike~~, [text](url)) to HTML and back into styled plain-text spans.
package richtext

import (
	"regexp"
	"strings"
)

var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#039;",
)

var (
	boldPattern   = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italicPattern = regexp.MustCompile(`\*([^*]+?)\*`)
	strikePattern = regexp.MustCompile(`~~(.+?)~~`)
	linkPattern   = regexp.MustCompile(`\[(.+?)\]\((.+?)\)`)
)

// ToHTML escapes text and then expands the markup. Rules apply in a fixed
// order: bold, italic, strikethrough, links. Links whose target is not
// http, https or mailto keep only their label.
func ToHTML(text string) string {
	if text == "" {
		return ""
	}
	out := escaper.Replace(text)
	out = boldPattern.ReplaceAllString(out, "<strong>$1</strong>")
	out = italicPattern.ReplaceAllString(out, "<em>$1</em>")
	out = strikePattern.ReplaceAllString(out, "<del>$1</del>")
	out = linkPattern.ReplaceAllStringFunc(out, func(match string) string {
		parts := linkPattern.FindStringSubmatch(match)
		label, href := parts[1], parts[2]
		if !allowedHref(href) {
			return label
		}
		return `<a href="` + href + `" target="_blank" rel="noopener noreferrer">` + label + `</a>`
	})
	return out
}

func allowedHref(href string) bool {
	lower := strings.ToLower(strings.TrimSpace(href))
	return strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "mailto:")
}
