// Package identity canonicalizes WhatsApp participant identifiers.
//
// The platform reports the same person as "628123@c.us", "628123@s.whatsapp.net",
// "628123:7@s.whatsapp.net" or, for anonymized participants, "1234567@lid".
// Normalize reduces all of them to the bare user part so that every comparison
// in the bot is format-agnostic.
package identity

import (
	"encoding/json"
	"sort"
	"strings"
)

// ID is a normalized participant identity. The zero value means "unknown".
type ID string

// Server suffixes emitted by the platform.
const (
	SuffixContact = "@c.us"
	SuffixLegacy  = "@s.whatsapp.net"
	SuffixLID     = "@lid"
	SuffixGroup   = "@g.us"
)

// Normalize maps any raw identifier to its canonical form.
func Normalize(raw string) ID {
	value := strings.TrimSpace(raw)
	if at := strings.IndexByte(value, '@'); at >= 0 {
		value = value[:at]
	}
	if colon := strings.IndexByte(value, ':'); colon >= 0 {
		value = value[:colon]
	}
	value = strings.TrimPrefix(value, "+")
	return ID(strings.TrimSpace(value))
}

// Equal reports whether two raw identifiers denote the same participant.
func Equal(a, b string) bool {
	na, nb := Normalize(a), Normalize(b)
	return !na.IsZero() && na == nb
}

func (id ID) IsZero() bool { return id == "" }

func (id ID) String() string { return string(id) }

// ChatID renders the identity in the contact form the send API expects.
func (id ID) ChatID() string {
	if id.IsZero() {
		return ""
	}
	return string(id) + SuffixContact
}

// IsGroupChat reports whether a chat id addresses a group.
func IsGroupChat(chatID string) bool {
	return strings.HasSuffix(strings.TrimSpace(chatID), SuffixGroup)
}

// Set is an unordered collection of normalized identities.
type Set map[ID]struct{}

// NewSet builds a set from raw identifiers, normalizing each one and
// dropping empty values.
func NewSet(raw ...string) Set {
	s := make(Set, len(raw))
	for _, r := range raw {
		s.Add(Normalize(r))
	}
	return s
}

// Add inserts ids, ignoring zero values.
func (s Set) Add(ids ...ID) {
	for _, id := range ids {
		if !id.IsZero() {
			s[id] = struct{}{}
		}
	}
}

func (s Set) Remove(ids ...ID) {
	for _, id := range ids {
		delete(s, id)
	}
}

func (s Set) Has(id ID) bool {
	if id.IsZero() {
		return false
	}
	_, ok := s[id]
	return ok
}

func (s Set) Len() int { return len(s) }

// Sorted returns the members in lexical order.
func (s Set) Sorted() []ID {
	out := make([]ID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings returns the sorted members as plain strings.
func (s Set) Strings() []string {
	sorted := s.Sorted()
	out := make([]string, len(sorted))
	for i, id := range sorted {
		out[i] = string(id)
	}
	return out
}

func (s Set) Clone() Set {
	out := make(Set, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// Equal reports whether both sets hold the same identities.
func (s Set) Equal(other Set) bool {
	if len(s) != len(other) {
		return false
	}
	for id := range s {
		if _, ok := other[id]; !ok {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the set as a sorted array so stored records are stable.
func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

// UnmarshalJSON accepts an array of raw identifiers and normalizes them.
func (s *Set) UnmarshalJSON(data []byte) error {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = NewSet(raw...)
	return nil
}
