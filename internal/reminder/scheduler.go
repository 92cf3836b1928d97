package reminder

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"groupbot/internal/metrics"
	"groupbot/internal/store"
	"groupbot/internal/waha"
)

type Lister interface {
	List(ctx context.Context) ([]store.Group, error)
}

type Sender interface {
	SendText(ctx context.Context, msg waha.TextMessage) error
}

// Once claims a key for ttl and reports whether the caller got it first.
type Once interface {
	MarkSeen(ctx context.Context, id string, ttl time.Duration) (bool, error)
}

type Config struct {
	Groups   Lister
	Sender   Sender
	Once     Once
	Schedule []Prayer
	Location *time.Location
	// Every is the polling interval. Slots are matched against the window
	// since the previous tick, so a late tick still fires a slot once.
	Every  time.Duration
	Logger *slog.Logger
	Now    func() time.Time
}

type Scheduler struct {
	groups   Lister
	sender   Sender
	once     Once
	schedule []Prayer
	loc      *time.Location
	every    time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	last time.Time
}

func New(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Every <= 0 {
		cfg.Every = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scheduler{
		groups:   cfg.Groups,
		sender:   cfg.Sender,
		once:     cfg.Once,
		schedule: cfg.Schedule,
		loc:      cfg.Location,
		every:    cfg.Every,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
}

// Run polls until ctx is cancelled. Slots that passed before Run started are
// not sent.
func (s *Scheduler) Run(ctx context.Context) {
	if len(s.schedule) == 0 {
		return
	}
	s.mu.Lock()
	s.last = s.now()
	s.mu.Unlock()

	ticker := time.NewTicker(s.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx, s.now())
		}
	}
}

// Tick sends every slot that fell in (previous tick, now]. It returns the
// number of messages delivered.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) int {
	s.mu.Lock()
	since := s.last
	if since.IsZero() || now.Before(since) {
		since = now
	}
	s.last = now
	s.mu.Unlock()

	sent := 0
	for _, due := range s.dueBetween(since, now) {
		n, err := s.Remind(ctx, due.prayer, due.at)
		if err != nil {
			s.logger.Warn("prayer reminder failed", "prayer", due.prayer.Name, "error", err)
		}
		sent += n
	}
	return sent
}

type slot struct {
	prayer Prayer
	at     time.Time
}

func (s *Scheduler) dueBetween(since, now time.Time) []slot {
	since, now = since.In(s.loc), now.In(s.loc)
	var out []slot
	// A window never spans more than a day boundary in practice; checking
	// the previous day covers a tick that straddles midnight.
	for _, day := range []time.Time{now.AddDate(0, 0, -1), now} {
		for _, p := range s.schedule {
			at := p.on(day)
			if at.After(since) && !at.After(now) {
				out = append(out, slot{prayer: p, at: at})
			}
		}
	}
	return out
}

// Remind sends p to every group with the reminder enabled. A failed group is
// logged and skipped; the joined error reports all of them.
func (s *Scheduler) Remind(ctx context.Context, p Prayer, at time.Time) (int, error) {
	groups, err := s.groups.List(ctx)
	if err != nil {
		return 0, err
	}

	text := Message(p, at.In(s.loc))
	var (
		sent int
		errs []error
	)
	for _, g := range groups {
		if !g.Settings.PrayerReminderEnabled {
			continue
		}
		if !s.claim(ctx, g.ID, at) {
			continue
		}
		if err := s.sender.SendText(ctx, waha.TextMessage{ChatID: g.ID, Text: text}); err != nil {
			metrics.Reminders.WithLabelValues(p.Name, "error").Inc()
			s.logger.Warn("prayer reminder not delivered", "group", g.ID, "prayer", p.Name, "error", err)
			errs = append(errs, err)
			continue
		}
		metrics.Reminders.WithLabelValues(p.Name, "ok").Inc()
		sent++
	}
	s.logger.Info("prayer reminder sent", "prayer", p.Name, "at", p.Clock(), "groups", sent, "failed", len(errs))
	return sent, errors.Join(errs...)
}

// claim reports whether this process should send the slot to groupID. Without
// a Once, or when it errors, the reminder is sent.
func (s *Scheduler) claim(ctx context.Context, groupID string, at time.Time) bool {
	if s.once == nil {
		return true
	}
	first, err := s.once.MarkSeen(ctx, "reminder:"+groupID+":"+at.UTC().Format("20060102T1504"), 24*time.Hour)
	if err != nil {
		s.logger.Warn("reminder claim failed, sending anyway", "group", groupID, "error", err)
		return true
	}
	return first
}
