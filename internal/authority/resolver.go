// Package authority answers "is this user an admin of this group right now".
//
// The live roster from the platform is authoritative. When it cannot be read,
// or does not list the user, the locally cached roster decides. When neither
// source can answer, the answer is no: privileged commands fail closed.
package authority

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"groupbot/internal/identity"
	"groupbot/internal/metrics"
	"groupbot/internal/roster"
	"groupbot/internal/store"
)

type Source string

const (
	SourceLive    Source = "live"
	SourceCache   Source = "cache"
	SourceDefault Source = "default"
)

type Reason string

const (
	ReasonLiveAdmin     Reason = "live_admin"
	ReasonLiveNotAdmin  Reason = "live_not_admin"
	ReasonCacheAdmin    Reason = "cache_admin"
	ReasonCacheNotAdmin Reason = "cache_not_admin"
	ReasonNoRecord      Reason = "no_record"
	ReasonStoreError    Reason = "store_error"
	ReasonInvalidInput  Reason = "invalid_input"
)

// Decision explains one admin check. Err holds whatever failed along the way,
// even when a fallback still produced an answer.
type Decision struct {
	Admin  bool
	Source Source
	Reason Reason
	Rule   string
	Err    error
}

type Platform interface {
	Participants(ctx context.Context, groupID string) ([]roster.Participant, error)
}

type Cache interface {
	Get(ctx context.Context, groupID string) (store.Group, error)
}

type Healer interface {
	Heal(ctx context.Context, groupID string, user identity.ID, snapshot []roster.Participant) error
}

type Resolver struct {
	platform    Platform
	cache       Cache
	healer      Healer
	logger      *slog.Logger
	healTimeout time.Duration

	heals sync.WaitGroup
}

func NewResolver(platform Platform, cache Cache, healer Healer, logger *slog.Logger, healTimeout time.Duration) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if healTimeout <= 0 {
		healTimeout = 10 * time.Second
	}
	return &Resolver{
		platform:    platform,
		cache:       cache,
		healer:      healer,
		logger:      logger,
		healTimeout: healTimeout,
	}
}

func (r *Resolver) IsAdmin(ctx context.Context, groupID, user string) bool {
	return r.Resolve(ctx, groupID, user).Admin
}

func (r *Resolver) Resolve(ctx context.Context, groupID, user string) Decision {
	id := identity.Normalize(user)
	if groupID == "" || id.IsZero() {
		return r.record(groupID, id, Decision{Source: SourceDefault, Reason: ReasonInvalidInput})
	}

	participants, liveErr := r.platform.Participants(ctx, groupID)
	if liveErr == nil {
		if p, ok := roster.Find(participants, id); ok {
			match := roster.Explain(p)
			d := Decision{Admin: match.Admin, Source: SourceLive, Reason: ReasonLiveNotAdmin, Rule: match.Rule}
			if match.Admin {
				d.Reason = ReasonLiveAdmin
				r.heal(ctx, groupID, id, participants)
			}
			return r.record(groupID, id, d)
		}
	}

	g, err := r.cache.Get(ctx, groupID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return r.record(groupID, id, Decision{Source: SourceDefault, Reason: ReasonNoRecord, Err: liveErr})
	case err != nil:
		return r.record(groupID, id, Decision{Source: SourceDefault, Reason: ReasonStoreError, Err: errors.Join(liveErr, err)})
	}

	d := Decision{Admin: g.IsAdmin(id), Source: SourceCache, Reason: ReasonCacheNotAdmin, Err: liveErr}
	if d.Admin {
		d.Reason = ReasonCacheAdmin
	}
	return r.record(groupID, id, d)
}

// Wait blocks until every background heal has finished.
func (r *Resolver) Wait() {
	r.heals.Wait()
}

// heal writes a live positive into the cache without holding up the caller.
// It outlives the request, bounded by healTimeout.
func (r *Resolver) heal(ctx context.Context, groupID string, id identity.ID, snapshot []roster.Participant) {
	if r.healer == nil {
		return
	}
	r.heals.Add(1)
	go func() {
		defer r.heals.Done()
		healCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.healTimeout)
		defer cancel()

		if err := r.healer.Heal(healCtx, groupID, id, snapshot); err != nil {
			metrics.Heals.WithLabelValues("error").Inc()
			r.logger.Warn("admin cache heal failed", "group", groupID, "user", id, "error", err)
			return
		}
		metrics.Heals.WithLabelValues("ok").Inc()
	}()
}

func (r *Resolver) record(groupID string, id identity.ID, d Decision) Decision {
	metrics.AuthorityDecisions.WithLabelValues(string(d.Source), string(d.Reason), strconv.FormatBool(d.Admin)).Inc()

	attrs := []any{
		"group", groupID,
		"user", id,
		"admin", d.Admin,
		"source", d.Source,
		"reason", d.Reason,
	}
	if d.Rule != "" {
		attrs = append(attrs, "rule", d.Rule)
	}
	if d.Err != nil {
		attrs = append(attrs, "error", d.Err)
		r.logger.Warn("admin check degraded", attrs...)
		return d
	}
	r.logger.Debug("admin check", attrs...)
	return d
}
