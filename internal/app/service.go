package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"groupbot/internal/command"
	"groupbot/internal/events"
	"groupbot/internal/metrics"
	"groupbot/internal/search"
	"groupbot/internal/store"
)

type Syncer interface {
	Apply(ctx context.Context, ev events.Event) error
}

type Welcomer interface {
	Greet(ctx context.Context, ev events.ParticipantsChanged) (int, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, msg events.MessageReceived) (command.Outcome, error)
}

// Deduper remembers delivered events. MarkSeen reports false for repeats.
type Deduper interface {
	MarkSeen(ctx context.Context, id string, ttl time.Duration) (bool, error)
	Forget(ctx context.Context, id string) error
}

type Directory interface {
	Search(ctx context.Context, q search.Query) search.Response
}

type GroupReader interface {
	Get(ctx context.Context, groupID string) (store.Group, error)
}

// Check is one readiness probe. Optional checks are reported but never make
// the service unready.
type Check struct {
	Name     string
	Ping     func(ctx context.Context) error
	Optional bool
}

type Service struct {
	decoder    events.Decoder
	syncer     Syncer
	welcomer   Welcomer
	dispatcher Dispatcher
	dedupe     Deduper
	dedupeTTL  time.Duration
	groups     GroupReader
	directory  Directory
	checks     []Check
	logger     *slog.Logger
}

type ServiceConfig struct {
	Decoder    events.Decoder
	Syncer     Syncer
	Welcomer   Welcomer // nil disables greetings
	Dispatcher Dispatcher
	Dedupe     Deduper // nil disables redelivery detection
	DedupeTTL  time.Duration
	Groups     GroupReader
	Directory  Directory
	Checks     []Check
	Logger     *slog.Logger
}

func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.DedupeTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Service{
		decoder:    cfg.Decoder,
		syncer:     cfg.Syncer,
		welcomer:   cfg.Welcomer,
		dispatcher: cfg.Dispatcher,
		dedupe:     cfg.Dedupe,
		dedupeTTL:  ttl,
		groups:     cfg.Groups,
		directory:  cfg.Directory,
		checks:     cfg.Checks,
		logger:     logger,
	}
}

// EventResult is what the webhook endpoint reports back to the platform.
type EventResult struct {
	Event   string `json:"event"`
	Kind    string `json:"kind,omitempty"`
	Outcome string `json:"outcome"`
}

const (
	outcomeApplied   = "applied"
	outcomeIgnored   = "ignored"
	outcomeDuplicate = "duplicate"
	outcomeFailed    = "failed"
)

// HandleEvent decodes one webhook body and routes it. Events the bot does not
// handle are acknowledged as ignored so the platform does not redeliver them.
func (s *Service) HandleEvent(ctx context.Context, body []byte) (EventResult, error) {
	env, ev, err := s.decoder.Decode(body)
	result := EventResult{Event: env.Event}
	switch {
	case errors.Is(err, events.ErrUnknownEvent):
		result.Outcome = outcomeIgnored
		metrics.Events.WithLabelValues("unknown", result.Outcome).Inc()
		return result, nil
	case err != nil:
		metrics.Events.WithLabelValues("malformed", outcomeFailed).Inc()
		return result, wrapDomainError(err, http.StatusBadRequest, "MALFORMED_EVENT")
	}
	result.Kind = string(ev.Kind())
	logger := s.logger.With("event", env.Event, "kind", result.Kind, "chat", ev.Chat())

	key := dedupeKey(env, ev)
	if fresh := s.markSeen(ctx, key, logger); !fresh {
		result.Outcome = outcomeDuplicate
		metrics.Events.WithLabelValues(result.Kind, result.Outcome).Inc()
		logger.Debug("duplicate event dropped")
		return result, nil
	}

	result.Outcome, err = s.route(ctx, ev, logger)
	metrics.Events.WithLabelValues(result.Kind, result.Outcome).Inc()
	if err != nil && s.dedupe != nil && key != "" {
		// Let the platform's retry through.
		if ferr := s.dedupe.Forget(ctx, key); ferr != nil {
			logger.Warn("dedupe forget failed", "error", ferr)
		}
	}
	return result, err
}

func (s *Service) route(ctx context.Context, ev events.Event, logger *slog.Logger) (string, error) {
	switch e := ev.(type) {
	case events.MessageReceived:
		outcome, err := s.dispatcher.Dispatch(ctx, e)
		if err != nil {
			logger.Warn("command dispatch failed", "outcome", outcome, "error", err)
			return outcomeFailed, nil
		}
		if outcome == command.OutcomeIgnored || outcome == command.OutcomeUnknown {
			return outcomeIgnored, nil
		}
		return outcomeApplied, nil
	default:
		if err := s.syncer.Apply(ctx, ev); err != nil {
			logger.Error("group sync failed", "error", err)
			return outcomeFailed, fmt.Errorf("apply %s: %w", ev.Kind(), err)
		}
		if pc, ok := ev.(events.ParticipantsChanged); ok && s.welcomer != nil {
			if n, err := s.welcomer.Greet(ctx, pc); err != nil {
				logger.Warn("welcome failed", "error", err)
			} else if n > 0 {
				logger.Info("welcomed participants", "count", n)
			}
		}
		logger.Info("group event applied")
		return outcomeApplied, nil
	}
}

// markSeen fails open: without Redis a redelivery may run twice, which the
// store's merge semantics tolerate.
func (s *Service) markSeen(ctx context.Context, key string, logger *slog.Logger) bool {
	if s.dedupe == nil || key == "" {
		return true
	}
	fresh, err := s.dedupe.MarkSeen(ctx, key, s.dedupeTTL)
	if err != nil {
		logger.Warn("dedupe check failed", "error", err)
		return true
	}
	return fresh
}

// dedupeKey prefers the message id, which is shared by "message" and
// "message.any" deliveries of the same message.
func dedupeKey(env events.Envelope, ev events.Event) string {
	if msg, ok := ev.(events.MessageReceived); ok && msg.ID != "" {
		return "msg:" + msg.ID
	}
	if env.ID != "" {
		return "evt:" + env.ID
	}
	return ""
}

func (s *Service) Group(ctx context.Context, groupID string) (store.Group, error) {
	g, err := s.groups.Get(ctx, groupID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Group{}, domainError(http.StatusNotFound, "NOT_FOUND", "group not found", nil)
	}
	return g, err
}

func (s *Service) SearchGroups(ctx context.Context, q search.Query) search.Response {
	return s.directory.Search(ctx, q)
}

// Ready runs every check and reports whether the required ones passed.
func (s *Service) Ready(ctx context.Context) (bool, map[string]any) {
	ready := true
	results := make(map[string]any, len(s.checks))
	for _, c := range s.checks {
		if err := c.Ping(ctx); err != nil {
			results[c.Name] = map[string]any{"status": "error", "error": err.Error(), "optional": c.Optional}
			if !c.Optional {
				ready = false
			}
			continue
		}
		results[c.Name] = map[string]any{"status": "ok"}
	}
	return ready, results
}
