package roster

import (
	"groupbot/internal/identity"
)

// identityFields lists the keys that may carry an identifier, phone forms first.
var identityFields = []string{"phoneNumber", "pn", "jid", "id", "lid"}

// Identities returns every distinct normalized identity carried by p.
func Identities(p Participant) []identity.ID {
	seen := identity.Set{}
	var out []identity.ID
	for _, field := range identityFields {
		id := identity.Normalize(stringField(p, field))
		if id.IsZero() || seen.Has(id) {
			continue
		}
		seen.Add(id)
		out = append(out, id)
	}
	return out
}

// Primary returns the identity used when storing p. Phone-number forms win over
// platform-internal and anonymized ids.
func Primary(p Participant) identity.ID {
	for _, field := range identityFields {
		if id := identity.Normalize(stringField(p, field)); !id.IsZero() {
			return id
		}
	}
	return ""
}

// Matches reports whether p denotes the given identity under any of its ids.
func Matches(p Participant, id identity.ID) bool {
	if id.IsZero() {
		return false
	}
	for _, candidate := range Identities(p) {
		if candidate == id {
			return true
		}
	}
	return false
}

// Find locates the record for id in a roster snapshot.
func Find(participants []Participant, id identity.ID) (Participant, bool) {
	for _, p := range participants {
		if Matches(p, id) {
			return p, true
		}
	}
	return nil, false
}

// Split classifies a snapshot into admin and member sets. Every admin is also a
// member. Records without a usable identity are skipped.
func Split(participants []Participant) (admins, members identity.Set) {
	admins, members = identity.Set{}, identity.Set{}
	for _, p := range participants {
		id := Primary(p)
		if id.IsZero() {
			continue
		}
		members.Add(id)
		if Classify(p) {
			admins.Add(id)
		}
	}
	return admins, members
}

func stringField(p Participant, key string) string {
	switch v := p[key].(type) {
	case string:
		return v
	case map[string]any:
		// Some engines nest the jid as {"user": "...", "server": "..."}.
		if user, ok := v["user"].(string); ok {
			return user
		}
		if serialized, ok := v["_serialized"].(string); ok {
			return serialized
		}
	}
	return ""
}
