package command

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"groupbot/internal/events"
	"groupbot/internal/identity"
	"groupbot/internal/roster"
	"groupbot/internal/store"
	"groupbot/internal/waha"
)

type GroupReader interface {
	Get(ctx context.Context, groupID string) (store.Group, error)
}

// Welcomer greets participants added to a group that has welcome messages
// enabled.
type Welcomer struct {
	groups GroupReader
	sender Sender
	botID  identity.ID
	logger *slog.Logger
}

func NewWelcomer(groups GroupReader, sender Sender, botID identity.ID, logger *slog.Logger) *Welcomer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Welcomer{groups: groups, sender: sender, botID: botID, logger: logger}
}

// Greet sends one message per added participant and returns how many were
// sent. Send failures are logged and do not stop the loop.
func (w *Welcomer) Greet(ctx context.Context, ev events.ParticipantsChanged) (int, error) {
	if ev.Action != events.ActionAdd || len(ev.Participants) == 0 {
		return 0, nil
	}

	settings := store.DefaultSettings()
	name := ev.GroupName
	g, err := w.groups.Get(ctx, ev.GroupID)
	switch {
	case err == nil:
		settings = g.Settings
		if g.Name != "" {
			name = g.Name
		}
	case errors.Is(err, store.ErrNotFound):
	default:
		return 0, err
	}
	if !settings.WelcomeEnabled {
		w.logger.Debug("welcome disabled", "group", ev.GroupID)
		return 0, nil
	}

	sent := 0
	for _, p := range ev.Participants {
		id := roster.Primary(p)
		if id.IsZero() || id == w.botID {
			continue
		}
		msg := waha.TextMessage{
			ChatID:   ev.GroupID,
			Text:     RenderWelcome(settings.WelcomeMessageTemplate, name, id),
			Mentions: []identity.ID{id},
		}
		if err := w.sender.SendText(ctx, msg); err != nil {
			w.logger.Warn("welcome message failed", "group", ev.GroupID, "participant", id, "error", err)
			continue
		}
		sent++
	}
	return sent, nil
}

// RenderWelcome fills {group} and {name}. The name renders as a mention.
func RenderWelcome(template, group string, id identity.ID) string {
	if strings.TrimSpace(template) == "" {
		template = store.DefaultWelcomeTemplate
	}
	return strings.NewReplacer("{group}", group, "{name}", "@"+string(id)).Replace(template)
}
