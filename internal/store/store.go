// Package store persists the bot's view of each group it belongs to.
//
// Every mutation is an atomic read-modify-write of one record addressed by
// group id. Roster mutations merge into the stored sets instead of overwriting
// them, so concurrent promote/add events for different users never lose each
// other's effect. A mutation that targets an absent group creates it.
package store

import (
	"context"
	"errors"

	"groupbot/internal/identity"
)

var (
	ErrNotFound = errors.New("group not found")
	// ErrConflict is returned when an optimistic update kept losing races.
	ErrConflict = errors.New("group update conflict")
)

type Store interface {
	Get(ctx context.Context, groupID string) (Group, error)
	List(ctx context.Context) ([]Group, error)

	// Replace overwrites the roster fields. Settings and CreatedAt survive.
	Replace(ctx context.Context, groupID string, roster Roster) (Group, error)
	// Seed stores roster only when the group is absent. created reports
	// whether this call inserted it.
	Seed(ctx context.Context, groupID string, roster Roster) (group Group, created bool, err error)

	AddMembers(ctx context.Context, groupID string, ids ...identity.ID) (Group, error)
	// RemoveMembers drops ids from both members and admins.
	RemoveMembers(ctx context.Context, groupID string, ids ...identity.ID) (Group, error)
	// PromoteAdmins adds ids to admins and, to keep admins a subset, to members.
	PromoteAdmins(ctx context.Context, groupID string, ids ...identity.ID) (Group, error)
	DemoteAdmins(ctx context.Context, groupID string, ids ...identity.ID) (Group, error)
	UpdateSettings(ctx context.Context, groupID string, patch SettingsPatch) (Group, error)

	// Delete removes the group. Deleting an absent group is not an error.
	Delete(ctx context.Context, groupID string) error

	Ping(ctx context.Context) error
	Close() error
}
