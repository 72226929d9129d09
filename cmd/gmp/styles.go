package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"gmptracker/internal/catalog"
	"gmptracker/internal/discussion"
	"gmptracker/internal/records"
	"gmptracker/internal/richtext"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	hotkeyStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("214"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("247"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)

	quoteStyle = lipgloss.NewStyle().
			Italic(true).
			Foreground(lipgloss.Color("250")).
			PaddingLeft(2)

	statusHave    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	statusPartial = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	statusNeed    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	priorityHigh = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	priorityMed  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	priorityLow  = lipgloss.NewStyle().Foreground(lipgloss.Color("247"))

	// avatarColors is indexed by discussion.PaletteIndex.
	avatarColors = []lipgloss.Color{"33", "35", "99", "166", "170", "37", "130", "62"}
)

const barWidth = 20

// progressBar draws a fixed-width completion bar for percent.
func progressBar(percent int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := percent * barWidth / 100
	return successStyle.Render(strings.Repeat("█", filled)) + dimStyle.Render(strings.Repeat("░", barWidth-filled))
}

func statsLine(s catalog.Stats) string {
	return fmt.Sprintf("%s %3d%%  %d/%d", progressBar(s.Percent), s.Percent, s.Completed, s.Total)
}

func statusBadge(status records.Status) string {
	switch records.NormalizeStatus(status) {
	case records.StatusHave:
		return statusHave.Render("have")
	case records.StatusPartial:
		return statusPartial.Render("partial")
	default:
		return statusNeed.Render("need")
	}
}

func priorityBadge(p catalog.Priority) string {
	switch p {
	case catalog.PriorityHigh:
		return priorityHigh.Render("HIGH")
	case catalog.PriorityMedium:
		return priorityMed.Render("MED")
	default:
		return priorityLow.Render("LOW")
	}
}

func checkmark(done bool) string {
	if done {
		return successStyle.Render("[x]")
	}
	return dimStyle.Render("[ ]")
}

// renderBody turns a message body's markup into terminal styling.
func renderBody(body string) string {
	return renderSpans(richtext.Spans(body))
}

// renderSnippet styles a search snippet, whose hits are wrapped in <mark>.
func renderSnippet(snippet string) string {
	return renderSpans(richtext.HTMLSpans(snippet))
}

func renderSpans(spans []richtext.Span) string {
	var b strings.Builder
	for _, span := range spans {
		style := lipgloss.NewStyle().
			Bold(span.Bold).
			Italic(span.Italic).
			Strikethrough(span.Strike)
		if span.Mark {
			style = style.Background(lipgloss.Color("58"))
		}
		text := span.Text
		if span.Href != "" {
			style = style.Underline(true).Foreground(lipgloss.Color("39"))
			if span.Href != text {
				text += " <" + span.Href + ">"
			}
		}
		b.WriteString(style.Render(text))
	}
	return b.String()
}

func avatar(group discussion.Group) string {
	color := avatarColors[discussion.PaletteIndex(group.AuthorName, len(avatarColors))]
	return lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("255")).
		Background(color).
		Padding(0, 1).
		Render(group.Initials)
}

// renderThread prints messages grouped under author headers.
func renderThread(store *discussion.Store, messages []discussion.Message) string {
	if len(messages) == 0 {
		return dimStyle.Render("No messages yet. Start the discussion.")
	}
	var b strings.Builder
	for i, group := range discussion.Groups(messages) {
		if i > 0 {
			b.WriteString("\n")
		}
		first := group.Messages[0]
		fmt.Fprintf(&b, "%s %s %s\n", avatar(group), titleStyle.Render(group.AuthorName), dimStyle.Render(first.CreatedAt.Local().Format("Jan 2 15:04")))
		for _, msg := range group.Messages {
			b.WriteString(renderMessageLine(store, msg))
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderMessageLine(store *discussion.Store, msg discussion.Message) string {
	if msg.IsDeleted {
		return "  " + dimStyle.Italic(true).Render(records.DeletedPlaceholder)
	}
	line := "  " + renderBody(msg.Body)
	if msg.IsEdited {
		line += " " + dimStyle.Render("(edited)")
	}
	if store != nil && store.CanModify(msg) {
		line += " " + dimStyle.Render("#"+msg.ID)
	}
	return line
}
