package richtext

import (
	"strings"

	"golang.org/x/net/html"
)

// Span is a run of text with uniform styling.
type Span struct {
	Text   string
	Bold   bool
	Italic bool
	Strike bool
	Mark   bool
	Href   string
}

// Spans renders markup to HTML and walks the result into styled runs.
func Spans(text string) []Span {
	return HTMLSpans(ToHTML(text))
}

// HTMLSpans tokenizes an HTML fragment into styled runs. Tags other than
// strong, b, em, i, del, s, mark and a are dropped; their text is kept.
func HTMLSpans(fragment string) []Span {
	var (
		spans []Span
		state Span
		depth = map[string]int{}
	)
	z := html.NewTokenizer(strings.NewReader(fragment))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return spans
		case html.TextToken:
			value := string(z.Text())
			if value == "" {
				continue
			}
			run := state
			run.Text = value
			if n := len(spans); n > 0 && sameStyle(spans[n-1], run) {
				spans[n-1].Text += value
				continue
			}
			spans = append(spans, run)
		case html.StartTagToken:
			name, hasAttr := z.TagName()
			tag := string(name)
			depth[tag]++
			if tag == "a" && hasAttr {
				for {
					key, val, more := z.TagAttr()
					if string(key) == "href" {
						state.Href = string(val)
					}
					if !more {
						break
					}
				}
			}
			state = styleFor(state, depth)
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if depth[tag] > 0 {
				depth[tag]--
			}
			if tag == "a" && depth["a"] == 0 {
				state.Href = ""
			}
			state = styleFor(state, depth)
		}
	}
}

func styleFor(state Span, depth map[string]int) Span {
	state.Bold = depth["strong"]+depth["b"] > 0
	state.Italic = depth["em"]+depth["i"] > 0
	state.Strike = depth["del"]+depth["s"] > 0
	state.Mark = depth["mark"] > 0
	return state
}

func sameStyle(a, b Span) bool {
	return a.Bold == b.Bold && a.Italic == b.Italic && a.Strike == b.Strike && a.Mark == b.Mark && a.Href == b.Href
}

// PlainText strips all markup from text.
func PlainText(text string) string {
	var b strings.Builder
	for _, span := range Spans(text) {
		b.WriteString(span.Text)
	}
	return b.String()
}
