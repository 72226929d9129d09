package discussion

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// GroupGap is the longest pause between two messages of the same author
// that still keeps them under one header.
const GroupGap = 5 * time.Minute

// Group is a run of consecutive messages shown under one author header.
type Group struct {
	AuthorName string
	Initials   string
	Messages   []Message
}

// Groups splits messages into display groups. A new group starts when the
// author changes or more than GroupGap passed since the previous message.
func Groups(messages []Message) []Group {
	var groups []Group
	for i, msg := range messages {
		if i == 0 || startsGroup(messages[i-1], msg) {
			groups = append(groups, Group{AuthorName: msg.AuthorName, Initials: Initials(msg.AuthorName)})
		}
		last := &groups[len(groups)-1]
		last.Messages = append(last.Messages, msg)
	}
	return groups
}

func startsGroup(prev, msg Message) bool {
	return prev.AuthorName != msg.AuthorName || msg.CreatedAt.Sub(prev.CreatedAt) > GroupGap
}

// Initials is the upper-cased first letter of up to the first two words.
func Initials(name string) string {
	var b strings.Builder
	count := 0
	for _, word := range strings.Split(name, " ") {
		r, _ := utf8.DecodeRuneInString(word)
		if r == utf8.RuneError {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
		count++
		if count == 2 {
			break
		}
	}
	return b.String()
}

// PaletteIndex picks a stable avatar color slot for name out of size.
func PaletteIndex(name string, size int) int {
	if size <= 0 {
		return 0
	}
	var hash int32
	for _, r := range name {
		hash = int32(r) + ((hash << 5) - hash)
	}
	idx := int(hash) % size
	if idx < 0 {
		idx = -idx
	}
	return idx
}
