package identity

import (
	"encoding/json"
	"testing"
)

func TestNormalizeAcrossSuffixFormats(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want ID
	}{
		{name: "contact", raw: "6281234567890@c.us", want: "6281234567890"},
		{name: "legacy", raw: "6281234567890@s.whatsapp.net", want: "6281234567890"},
		{name: "legacy with device", raw: "6281234567890:12@s.whatsapp.net", want: "6281234567890"},
		{name: "lid", raw: "214365870123@lid", want: "214365870123"},
		{name: "bare", raw: "6281234567890", want: "6281234567890"},
		{name: "plus prefix", raw: "+6281234567890", want: "6281234567890"},
		{name: "whitespace", raw: "  6281234567890@c.us ", want: "6281234567890"},
		{name: "empty", raw: "", want: ""},
		{name: "only server", raw: "@c.us", want: ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Normalize(tc.raw); got != tc.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tc.raw, got, tc.want)
			}
		})
	}
}

func TestEqualIsFormatAgnostic(t *testing.T) {
	forms := []string{
		"6281234567890@c.us",
		"6281234567890@s.whatsapp.net",
		"6281234567890:3@s.whatsapp.net",
		"6281234567890",
	}
	for _, a := range forms {
		for _, b := range forms {
			if !Equal(a, b) {
				t.Fatalf("Equal(%q, %q) = false", a, b)
			}
		}
	}
	if Equal("6281234567890@c.us", "6289999999999@c.us") {
		t.Fatal("different numbers must not be equal")
	}
	if Equal("", "@c.us") {
		t.Fatal("empty identities must never be equal")
	}
}

func TestSetNormalizesAndIgnoresEmpty(t *testing.T) {
	s := NewSet("628111@c.us", "628111@s.whatsapp.net", "", "628222@lid")
	if s.Len() != 2 {
		t.Fatalf("expected 2 members, got %v", s.Strings())
	}
	if !s.Has("628111") || !s.Has("628222") {
		t.Fatalf("unexpected members %v", s.Strings())
	}
	if s.Has("") {
		t.Fatal("zero id must never be a member")
	}

	s.Remove("628111")
	if s.Has("628111") {
		t.Fatal("remove did not remove")
	}
}

func TestSetJSONIsSorted(t *testing.T) {
	s := NewSet("b@c.us", "a@c.us", "c@lid")
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `["a","b","c"]` {
		t.Fatalf("unexpected json %s", data)
	}

	var decoded Set
	if err := json.Unmarshal([]byte(`["x@c.us","x@s.whatsapp.net","y"]`), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !decoded.Equal(NewSet("x", "y")) {
		t.Fatalf("unexpected decoded set %v", decoded.Strings())
	}
}

func TestIsGroupChat(t *testing.T) {
	if !IsGroupChat("120363399604541928@g.us") {
		t.Fatal("expected group chat")
	}
	if IsGroupChat("6281234567890@c.us") {
		t.Fatal("personal chat reported as group")
	}
}
