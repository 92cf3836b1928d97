// Package search keeps a searchable directory of the groups the bot is in.
//
// Meilisearch is the primary backend. When it is not configured or not
// healthy, queries fall back to a substring scan of the group store.
package search

import (
	"strings"
	"time"

	"groupbot/internal/store"
)

// Result is one group in a directory listing.
type Result struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	OwnerPhone  string    `json:"ownerPhone,omitempty"`
	AdminCount  int       `json:"adminCount"`
	MemberCount int       `json:"memberCount"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Query struct {
	Text   string
	Limit  int
	Offset int
}

// Response is the envelope returned by the directory endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Source  string   `json:"source"`
}

const (
	SourceMeili = "meilisearch"
	SourceStore = "store"
)

// GroupRecord is the document stored in the index.
type GroupRecord struct {
	Key         string   `json:"key"`
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	OwnerPhone  string   `json:"ownerPhone"`
	Admins      []string `json:"admins"`
	Members     []string `json:"members"`
	AdminCount  int      `json:"adminCount"`
	MemberCount int      `json:"memberCount"`
	UpdatedAt   int64    `json:"updatedAt"`
}

// NewGroupRecord flattens a group for indexing.
func NewGroupRecord(g store.Group) GroupRecord {
	return GroupRecord{
		Key:         documentKey(g.ID),
		ID:          g.ID,
		Name:        g.Name,
		OwnerPhone:  string(g.OwnerPhone),
		Admins:      g.Admins.Strings(),
		Members:     g.Members.Strings(),
		AdminCount:  g.Admins.Len(),
		MemberCount: g.Members.Len(),
		UpdatedAt:   g.UpdatedAt.UnixMilli(),
	}
}

func (r GroupRecord) result() Result {
	return Result{
		ID:          r.ID,
		Name:        r.Name,
		OwnerPhone:  r.OwnerPhone,
		AdminCount:  r.AdminCount,
		MemberCount: r.MemberCount,
		UpdatedAt:   time.UnixMilli(r.UpdatedAt).UTC(),
	}
}

// matches reports whether text occurs in the group's name, id or member list.
func (r GroupRecord) matches(text string) bool {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return true
	}
	if strings.Contains(strings.ToLower(r.Name), text) || strings.Contains(strings.ToLower(r.ID), text) {
		return true
	}
	for _, m := range r.Members {
		if strings.Contains(m, text) {
			return true
		}
	}
	return false
}

func normalizePage(q Query) Query {
	switch {
	case q.Limit <= 0:
		q.Limit = 20
	case q.Limit > 100:
		q.Limit = 100
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// documentKey maps a group id onto the characters Meilisearch accepts in a
// primary key. "@" and "." are not among them.
func documentKey(groupID string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, groupID)
}
