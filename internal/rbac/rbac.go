package rbac

import "strings"

// Role is a participant's standing in one group.
type Role string

// Scope is the minimum role a group setting grants a privilege to.
type Scope string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

const (
	ScopeMember Scope = "member"
	ScopeAdmin  Scope = "admin"
	ScopeOwner  Scope = "owner"
)

func rank(role Role) int {
	switch role {
	case RoleOwner:
		return 3
	case RoleAdmin:
		return 2
	case RoleMember:
		return 1
	default:
		return 0
	}
}

// Can reports whether role satisfies scope. An unknown scope admits nobody.
func Can(role Role, scope Scope) bool {
	switch scope {
	case ScopeOwner:
		return rank(role) >= rank(RoleOwner)
	case ScopeAdmin:
		return rank(role) >= rank(RoleAdmin)
	case ScopeMember:
		return rank(role) >= rank(RoleMember)
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch r := Role(strings.ToLower(strings.TrimSpace(role))); r {
	case RoleMember, RoleAdmin, RoleOwner:
		return r
	default:
		return RoleMember
	}
}

// ParseScope accepts the values users type after "/set tagall".
func ParseScope(value string) (Scope, bool) {
	switch s := Scope(strings.ToLower(strings.TrimSpace(value))); s {
	case ScopeMember, ScopeAdmin, ScopeOwner:
		return s, true
	default:
		return "", false
	}
}
