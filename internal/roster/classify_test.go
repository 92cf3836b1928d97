package roster

import (
	"testing"

	"groupbot/internal/identity"
)

func TestClassifyExactMatches(t *testing.T) {
	fields := []string{"role", "rank", "type", "groupRole", "level", "admin"}
	values := []string{"admin", "Admin", "ADMIN", "superadmin", "SuperAdmin", "group_admin", "GroupAdmin", " admin "}

	for _, field := range fields {
		for _, value := range values {
			p := Participant{"id": "628111@c.us", field: value}
			m := Explain(p)
			if !m.Admin {
				t.Fatalf("%s=%q not classified as admin", field, value)
			}
			if m.Rule != "role_value" || m.Field != field {
				t.Fatalf("%s=%q matched %+v, want role_value/%s", field, value, m, field)
			}
		}
	}
}

func TestClassifyBooleanFlags(t *testing.T) {
	for _, field := range []string{"admin", "isAdmin", "isSuperAdmin"} {
		m := Explain(Participant{"id": "628111@c.us", field: true})
		if !m.Admin || m.Rule != "admin_flag" {
			t.Fatalf("%s=true matched %+v", field, m)
		}
		if Classify(Participant{"id": "628111@c.us", field: false}) {
			t.Fatalf("%s=false classified as admin", field)
		}
	}
}

func TestClassifySubstringFallback(t *testing.T) {
	cases := []struct {
		name string
		p    Participant
		want bool
	}{
		{name: "moderator label", p: Participant{"id": "1@c.us", "note": "Group Moderator"}, want: true},
		{name: "owner label", p: Participant{"id": "1@c.us", "status": "OWNER"}, want: true},
		{name: "admin inside text", p: Participant{"id": "1@c.us", "desc": "co-admin"}, want: true},
		{name: "participant", p: Participant{"id": "1@c.us", "role": "participant"}, want: false},
		{name: "left", p: Participant{"id": "1@c.us", "role": "left"}, want: false},
		{name: "null admin", p: Participant{"id": "1@c.us", "admin": nil}, want: false},
		{name: "no fields", p: Participant{}, want: false},
		{name: "nil record", p: nil, want: false},
		{name: "non string values", p: Participant{"id": 42, "role": []any{"admin"}}, want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.p); got != tc.want {
				t.Fatalf("Classify(%v) = %v, want %v", tc.p, got, tc.want)
			}
		})
	}
}

func TestExactRulesWinOverSubstring(t *testing.T) {
	m := Explain(Participant{"id": "1@c.us", "role": "superadmin", "about": "owner of the shop"})
	if m.Rule != "role_value" {
		t.Fatalf("expected exact rule to fire first, got %+v", m)
	}
}

func TestExplainWithCustomTable(t *testing.T) {
	rules := []Rule{{Name: "staff", Kind: RuleExactValue, Fields: []string{"role"}, Values: []string{"staff"}}}
	if !ExplainWith(rules, Participant{"role": "Staff"}).Admin {
		t.Fatal("custom rule did not match")
	}
	if ExplainWith(rules, Participant{"role": "admin"}).Admin {
		t.Fatal("custom table must not include default rules")
	}
}

func TestSplitEnforcesAdminsWithinMembers(t *testing.T) {
	snapshot := []Participant{
		{"id": "A@x", "role": "superadmin"},
		{"id": "B@y", "role": "participant"},
		{"id": "", "role": "admin"},
	}
	admins, members := Split(snapshot)
	if !admins.Equal(identity.NewSet("A")) {
		t.Fatalf("admins = %v", admins.Strings())
	}
	if !members.Equal(identity.NewSet("A", "B")) {
		t.Fatalf("members = %v", members.Strings())
	}
}

func TestIdentitiesAndFind(t *testing.T) {
	p := Participant{
		"id":          "99887766@lid",
		"phoneNumber": "6281234567890@s.whatsapp.net",
		"role":        "admin",
	}
	if got := Primary(p); got != "6281234567890" {
		t.Fatalf("Primary = %q", got)
	}
	ids := Identities(p)
	if len(ids) != 2 {
		t.Fatalf("Identities = %v", ids)
	}

	snapshot := []Participant{{"id": "111@c.us"}, p}
	for _, raw := range []string{"6281234567890@c.us", "99887766@lid"} {
		found, ok := Find(snapshot, identity.Normalize(raw))
		if !ok || !Classify(found) {
			t.Fatalf("Find(%q) = %v, %v", raw, found, ok)
		}
	}
	if _, ok := Find(snapshot, identity.Normalize("222@c.us")); ok {
		t.Fatal("found a participant that is not in the snapshot")
	}
}

func TestNestedJIDObjects(t *testing.T) {
	p := Participant{"id": map[string]any{"server": "c.us", "user": "628555", "_serialized": "628555@c.us"}}
	if got := Primary(p); got != "628555" {
		t.Fatalf("Primary = %q", got)
	}
}
