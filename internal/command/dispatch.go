package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"groupbot/internal/events"
	"groupbot/internal/metrics"
	"groupbot/internal/session"
	"groupbot/internal/waha"
)

type Outcome string

const (
	OutcomeIgnored   Outcome = "ignored"
	OutcomeUnknown   Outcome = "unknown"
	OutcomeDenied    Outcome = "denied"
	OutcomeLimited   Outcome = "limited"
	OutcomeHandled   Outcome = "handled"
	OutcomeFailed    Outcome = "failed"
	OutcomeModerated Outcome = "moderated" // warned about language, not parsed
)

type Sender interface {
	SendText(ctx context.Context, msg waha.TextMessage) error
}

type Limiter interface {
	Hit(ctx context.Context, name, chatID string, limit int64, window time.Duration) (session.Usage, error)
}

type Dispatcher struct {
	registry *Registry
	gate     *Gate
	sender   Sender
	limiter  Limiter
	mod      *Moderator
	limit    int64
	window   time.Duration
	logger   *slog.Logger
}

type DispatcherConfig struct {
	Registry     *Registry
	Gate         *Gate
	Sender       Sender
	Limiter      Limiter // nil disables rate limiting
	LimitPerHour int
	Moderator    *Moderator // nil disables the language check
	Logger       *slog.Logger
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: cfg.Registry,
		gate:     cfg.Gate,
		sender:   cfg.Sender,
		limiter:  cfg.Limiter,
		mod:      cfg.Moderator,
		limit:    int64(cfg.LimitPerHour),
		window:   time.Hour,
		logger:   logger,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, msg events.MessageReceived) (Outcome, error) {
	if msg.FromMe {
		return OutcomeIgnored, nil
	}
	if msg.IsGroup() {
		if found := d.mod.Check(msg.Body); len(found) > 0 {
			return d.moderate(ctx, msg, found)
		}
	}
	name, args, ok := Parse(msg.Body)
	if !ok {
		return OutcomeIgnored, nil
	}
	cmd, ok := d.registry.Lookup(name)
	if !ok {
		d.logger.Debug("unknown command", "command", name, "chat", msg.ChatID)
		metrics.Commands.WithLabelValues("unknown", string(OutcomeUnknown)).Inc()
		return OutcomeUnknown, nil
	}

	inv := Invocation{
		Name:      cmd.Name,
		Args:      args,
		ChatID:    msg.ChatID,
		Sender:    msg.Sender(),
		MessageID: msg.ID,
	}
	outcome, err := d.run(ctx, cmd, inv)
	metrics.Commands.WithLabelValues(cmd.Name, string(outcome)).Inc()
	return outcome, err
}

func (d *Dispatcher) moderate(ctx context.Context, msg events.MessageReceived, found []string) (Outcome, error) {
	d.logger.Info("message flagged", "chat", msg.ChatID, "sender", msg.Sender(), "words", len(found))
	metrics.Commands.WithLabelValues("moderation", string(OutcomeModerated)).Inc()
	inv := Invocation{Name: "moderation", ChatID: msg.ChatID, Sender: msg.Sender(), MessageID: msg.ID}
	if err := d.reply(ctx, inv, Reply{Text: MsgToxic}); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeModerated, nil
}

func (d *Dispatcher) run(ctx context.Context, cmd Command, inv Invocation) (Outcome, error) {
	logger := d.logger.With("command", cmd.Name, "chat", inv.ChatID, "sender", inv.Sender)

	if verdict := d.gate.Check(ctx, cmd, inv); !verdict.Allowed {
		logger.Info("command denied", "reason", verdict.Reason)
		return OutcomeDenied, d.reply(ctx, inv, Reply{Text: verdict.Message})
	}

	if cmd.RateLimited && d.limiter != nil {
		usage, err := d.limiter.Hit(ctx, cmd.Name, inv.ChatID, d.limit, d.window)
		switch {
		case err != nil:
			// Counting is best effort; a Redis outage must not disable commands.
			logger.Warn("rate limit check failed", "error", err)
		case !usage.Allowed:
			minutes := int(usage.RetryAfter.Round(time.Minute) / time.Minute)
			if minutes < 1 {
				minutes = 1
			}
			logger.Info("command rate limited", "count", usage.Count, "limit", usage.Limit)
			return OutcomeLimited, d.reply(ctx, inv, Reply{Text: fmt.Sprintf(MsgRateLimited, minutes)})
		}
	}

	reply, err := cmd.Handler(ctx, inv)
	if err != nil {
		logger.Error("command failed", "error", err)
		if sendErr := d.reply(ctx, inv, Reply{Text: MsgFailed}); sendErr != nil {
			logger.Warn("failed to send error reply", "error", sendErr)
		}
		return OutcomeFailed, err
	}
	if err := d.reply(ctx, inv, reply); err != nil {
		return OutcomeFailed, err
	}
	logger.Info("command handled")
	return OutcomeHandled, nil
}

func (d *Dispatcher) reply(ctx context.Context, inv Invocation, reply Reply) error {
	if reply.Text == "" {
		return nil
	}
	err := d.sender.SendText(ctx, waha.TextMessage{
		ChatID:   inv.ChatID,
		Text:     reply.Text,
		ReplyTo:  inv.MessageID,
		Mentions: reply.Mentions,
	})
	if err != nil {
		return fmt.Errorf("reply to %s: %w", inv.Name, err)
	}
	return nil
}
