// Package roster interprets raw participant records returned by the platform.
//
// Records have no fixed schema: depending on the WAHA engine the admin flag shows
// up as "role", "admin", "rank" and so on, with varying casing, and sometimes only
// as a word inside an unrelated string. Classification is driven by the Rules
// table, exact matches first and a substring scan last.
package roster

import (
	"sort"
	"strings"
)

// Participant is one loosely typed record from the participants endpoint.
type Participant map[string]any

// RuleKind distinguishes how a rule inspects a record.
type RuleKind string

const (
	RuleExactValue RuleKind = "exact_value"
	RuleBoolFlag   RuleKind = "bool_flag"
	RuleSubstring  RuleKind = "substring"
)

// Rule is one entry of the classification table.
type Rule struct {
	Name   string
	Kind   RuleKind
	Fields []string
	Values []string
}

// Rules is checked top to bottom. Exact rules are O(1) lookups per field; the
// substring rule walks every string value and must stay last.
var Rules = []Rule{
	{
		Name:   "role_value",
		Kind:   RuleExactValue,
		Fields: []string{"role", "rank", "type", "groupRole", "level", "admin"},
		Values: []string{"admin", "superadmin", "super_admin", "group_admin", "groupadmin"},
	},
	{
		Name:   "admin_flag",
		Kind:   RuleBoolFlag,
		Fields: []string{"admin", "isAdmin", "isSuperAdmin"},
	},
	{
		Name:   "keyword_scan",
		Kind:   RuleSubstring,
		Values: []string{"admin", "moderator", "owner"},
	},
}

// Match describes the outcome of classifying one record.
type Match struct {
	Admin bool
	Rule  string
	Field string
}

// Classify reports whether the record carries an admin signal.
func Classify(p Participant) bool {
	return ExplainWith(Rules, p).Admin
}

// Explain classifies p and reports which rule fired.
func Explain(p Participant) Match {
	return ExplainWith(Rules, p)
}

// ExplainWith evaluates an arbitrary rule table. It never panics and treats a
// record without any signal as non-admin.
func ExplainWith(rules []Rule, p Participant) Match {
	if len(p) == 0 {
		return Match{}
	}
	for _, rule := range rules {
		if field, ok := rule.match(p); ok {
			return Match{Admin: true, Rule: rule.Name, Field: field}
		}
	}
	return Match{}
}

func (r Rule) match(p Participant) (string, bool) {
	switch r.Kind {
	case RuleExactValue:
		for _, field := range r.Fields {
			value, ok := p[field].(string)
			if !ok {
				continue
			}
			value = strings.TrimSpace(value)
			for _, want := range r.Values {
				if strings.EqualFold(value, want) {
					return field, true
				}
			}
		}
	case RuleBoolFlag:
		for _, field := range r.Fields {
			if flag, ok := p[field].(bool); ok && flag {
				return field, true
			}
		}
	case RuleSubstring:
		// Sorted so the reported field is deterministic.
		keys := make([]string, 0, len(p))
		for key := range p {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			value, ok := p[key].(string)
			if !ok {
				continue
			}
			lower := strings.ToLower(value)
			for _, word := range r.Values {
				if strings.Contains(lower, word) {
					return key, true
				}
			}
		}
	}
	return "", false
}
