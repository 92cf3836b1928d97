package command

import (
	"slices"
	"strings"
)

const MsgToxic = "⚠️ Pesan kamu terdeteksi mengandung kata tidak pantas.\nMohon gunakan bahasa yang sopan!"

// DefaultBlockedWords is used when no word list is configured.
var DefaultBlockedWords = []string{
	"anjing", "babi", "bangsat", "kontol", "memek", "goblok", "tolol",
	"ngentot", "brengsek", "jancok", "jembod", "bajingan", "keparat", "nigger",
}

// Moderator flags group messages containing a blocked word. Matching is a
// case-insensitive substring test.
type Moderator struct {
	words []string
}

func NewModerator(words []string) *Moderator {
	m := &Moderator{}
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" && !slices.Contains(m.words, w) {
			m.words = append(m.words, w)
		}
	}
	return m
}

// Check returns the blocked words found in text, in list order.
func (m *Moderator) Check(text string) []string {
	if m == nil || text == "" {
		return nil
	}
	lower := strings.ToLower(text)
	var found []string
	for _, w := range m.words {
		if strings.Contains(lower, w) {
			found = append(found, w)
		}
	}
	return found
}
