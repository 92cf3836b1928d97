// Package groupsync applies group lifecycle events to the store.
//
// Every transition is a field-level merge executed atomically by the store, so
// redelivered or reordered events converge instead of clobbering each other.
package groupsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"groupbot/internal/events"
	"groupbot/internal/identity"
	"groupbot/internal/roster"
	"groupbot/internal/store"
	"groupbot/internal/waha"
)

// Platform is the slice of the WAHA client the synchronizer reads from.
type Platform interface {
	Group(ctx context.Context, groupID string) (waha.GroupInfo, error)
	Participants(ctx context.Context, groupID string) ([]roster.Participant, error)
}

// Indexer mirrors group records into the searchable directory.
type Indexer interface {
	IndexGroup(ctx context.Context, group store.Group)
	RemoveGroup(ctx context.Context, groupID string)
}

type Synchronizer struct {
	store    store.Store
	platform Platform
	index    Indexer
	logger   *slog.Logger
}

func New(st store.Store, platform Platform, index Indexer, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{store: st, platform: platform, index: index, logger: logger}
}

func (s *Synchronizer) Apply(ctx context.Context, ev events.Event) error {
	switch e := ev.(type) {
	case events.BotJoinedGroup:
		admins, members := roster.Split(e.Participants)
		g, err := s.store.Replace(ctx, e.GroupID, store.Roster{
			Name:       e.Name,
			OwnerPhone: e.Owner,
			Admins:     admins,
			Members:    members,
		})
		if err != nil {
			return fmt.Errorf("record joined group %s: %w", e.GroupID, err)
		}
		s.logger.Info("bot joined group",
			"group", e.GroupID,
			"name", e.Name,
			"admins", g.Admins.Len(),
			"members", g.Members.Len(),
		)
		s.indexGroup(ctx, g)
		return nil

	case events.ParticipantsChanged:
		return s.applyParticipants(ctx, e)

	case events.BotRemovedFromGroup:
		if err := s.store.Delete(ctx, e.GroupID); err != nil {
			return fmt.Errorf("forget group %s: %w", e.GroupID, err)
		}
		s.logger.Info("bot removed from group", "group", e.GroupID)
		if s.index != nil {
			s.index.RemoveGroup(ctx, e.GroupID)
		}
		return nil

	default:
		return fmt.Errorf("%w: %T", events.ErrUnknownEvent, ev)
	}
}

func (s *Synchronizer) applyParticipants(ctx context.Context, e events.ParticipantsChanged) error {
	ids := e.IDs()
	if len(ids) == 0 {
		s.logger.Debug("participants event without identities", "group", e.GroupID, "action", e.Action)
		return nil
	}

	s.ensureSeeded(ctx, e.GroupID)

	var (
		g   store.Group
		err error
	)
	switch e.Action {
	case events.ActionAdd:
		g, err = s.store.AddMembers(ctx, e.GroupID, ids...)
	case events.ActionRemove:
		// Drop every form the participant is known by, so a record stored
		// under its lid does not linger after the phone form leaves.
		g, err = s.store.RemoveMembers(ctx, e.GroupID, allIdentities(e.Participants)...)
	case events.ActionPromote:
		g, err = s.store.PromoteAdmins(ctx, e.GroupID, ids...)
	case events.ActionDemote:
		g, err = s.store.DemoteAdmins(ctx, e.GroupID, allIdentities(e.Participants)...)
	default:
		return fmt.Errorf("%w: participants action %q", events.ErrUnknownEvent, e.Action)
	}
	if err != nil {
		return fmt.Errorf("%s participants in %s: %w", e.Action, e.GroupID, err)
	}

	s.logger.Info("participants changed",
		"group", e.GroupID,
		"action", e.Action,
		"participants", len(ids),
		"admins", g.Admins.Len(),
		"members", g.Members.Len(),
	)
	s.indexGroup(ctx, g)
	return nil
}

// ensureSeeded loads the live roster for a group the bot has no record of, so
// a participants delta is applied on top of a full snapshot. When the platform
// is unreachable the delta creates a partial record instead.
func (s *Synchronizer) ensureSeeded(ctx context.Context, groupID string) {
	if _, err := s.store.Get(ctx, groupID); !errors.Is(err, store.ErrNotFound) {
		return
	}
	if _, err := s.Bootstrap(ctx, groupID); err != nil {
		s.logger.Warn("participants event for unknown group, roster unavailable", "group", groupID, "error", err)
	}
}

// Bootstrap returns the stored group, seeding it from the platform first when
// the bot has no record yet.
func (s *Synchronizer) Bootstrap(ctx context.Context, groupID string) (store.Group, error) {
	g, err := s.store.Get(ctx, groupID)
	if err == nil {
		return g, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Group{}, err
	}

	info, infoErr := s.platform.Group(ctx, groupID)
	participants := info.Participants
	if infoErr != nil || len(participants) == 0 {
		list, listErr := s.platform.Participants(ctx, groupID)
		if listErr != nil {
			if infoErr != nil {
				return store.Group{}, fmt.Errorf("bootstrap group %s: %w", groupID, errors.Join(infoErr, listErr))
			}
			return store.Group{}, fmt.Errorf("bootstrap group %s: %w", groupID, listErr)
		}
		participants = list
	}

	admins, members := roster.Split(participants)
	g, created, err := s.store.Seed(ctx, groupID, store.Roster{
		Name:       info.Subject,
		OwnerPhone: info.Owner,
		Admins:     admins,
		Members:    members,
	})
	if err != nil {
		return store.Group{}, fmt.Errorf("seed group %s: %w", groupID, err)
	}
	if created {
		s.logger.Info("group bootstrapped from platform", "group", groupID, "members", g.Members.Len())
		s.indexGroup(ctx, g)
	}
	return g, nil
}

// Heal records a live admin observation: the group is seeded from snapshot if
// absent, then user is promoted.
func (s *Synchronizer) Heal(ctx context.Context, groupID string, user identity.ID, snapshot []roster.Participant) error {
	if len(snapshot) > 0 {
		admins, members := roster.Split(snapshot)
		if _, _, err := s.store.Seed(ctx, groupID, store.Roster{Admins: admins, Members: members}); err != nil {
			return fmt.Errorf("seed group %s: %w", groupID, err)
		}
	}
	g, err := s.store.PromoteAdmins(ctx, groupID, user)
	if err != nil {
		return fmt.Errorf("promote %s in %s: %w", user, groupID, err)
	}
	s.indexGroup(ctx, g)
	return nil
}

func (s *Synchronizer) indexGroup(ctx context.Context, g store.Group) {
	if s.index != nil {
		s.index.IndexGroup(ctx, g)
	}
}

func allIdentities(participants []roster.Participant) []identity.ID {
	var out []identity.ID
	for _, p := range participants {
		out = append(out, roster.Identities(p)...)
	}
	return out
}
