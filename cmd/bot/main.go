package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"groupbot/internal/app"
	"groupbot/internal/authority"
	"groupbot/internal/command"
	"groupbot/internal/config"
	"groupbot/internal/events"
	"groupbot/internal/groupsync"
	"groupbot/internal/identity"
	"groupbot/internal/logging"
	"groupbot/internal/reminder"
	"groupbot/internal/search"
	"groupbot/internal/session"
	"groupbot/internal/store"
	"groupbot/internal/waha"
)

func main() {
	cfg := config.Load()
	logger := logging.Setup(cfg.LogLevel)
	ctx := context.Background()

	groupStore, checks, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("store setup failed", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	// Rate limits and webhook dedupe need Redis; without it both are off.
	var (
		limiter command.Limiter
		dedupe  app.Deduper
	)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		ephemeral, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			logger.Error("redis connection failed", "error", err)
			os.Exit(1)
		}
		defer ephemeral.Close()
		limiter, dedupe = ephemeral, ephemeral
		checks = append(checks, app.Check{Name: "redis", Ping: ephemeral.Ping})
	} else {
		logger.Warn("REDIS_URL not set, rate limiting and webhook dedupe disabled")
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
		checks = append(checks, app.Check{Name: "search", Optional: true, Ping: func(context.Context) error {
			if !meiliClient.Healthy() {
				return errors.New("meilisearch unhealthy")
			}
			return nil
		}})
	}
	directory := search.NewService(meiliClient, groupStore, logger)
	go func() {
		if err := directory.ReindexAll(ctx); err != nil {
			logger.Warn("search reindex failed", "error", err)
		}
	}()

	platform := waha.New(waha.Config{
		BaseURL:     cfg.WAHABaseURL,
		APIKey:      cfg.WAHAAPIKey,
		Session:     cfg.WAHASession,
		MaxAttempts: cfg.RetryMaxAttempt,
		BaseDelay:   cfg.RetryBaseDelay,
		Logger:      logger,
	})
	botID := identity.Normalize(cfg.BotID)

	syncer := groupsync.New(groupStore, platform, directory, logger)
	resolver := authority.NewResolver(platform, groupStore, syncer, logger, cfg.HealTimeout)

	registry := command.NewRegistry()
	err = command.RegisterBuiltins(registry, command.Deps{
		Groups:    syncer,
		Settings:  groupStore,
		Authority: resolver,
		Platform:  platform,
		NoMention: identity.NewSet(cfg.MentionExclude...),
		BotID:     botID,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("command registry setup failed", "error", err)
		os.Exit(1)
	}
	var moderator *command.Moderator
	if cfg.ModerationEnabled {
		words := cfg.BlockedWords
		if len(words) == 0 {
			words = command.DefaultBlockedWords
		}
		moderator = command.NewModerator(words)
	}
	dispatcher := command.NewDispatcher(command.DispatcherConfig{
		Registry:     registry,
		Gate:         command.NewGate(resolver),
		Sender:       platform,
		Limiter:      limiter,
		LimitPerHour: cfg.TagAllLimitPerHour,
		Moderator:    moderator,
		Logger:       logger,
	})

	service := app.NewService(app.ServiceConfig{
		Decoder:    events.Decoder{BotID: botID},
		Syncer:     syncer,
		Welcomer:   command.NewWelcomer(groupStore, platform, botID, logger),
		Dispatcher: dispatcher,
		Dedupe:     dedupe,
		DedupeTTL:  cfg.DedupeTTL,
		Groups:     groupStore,
		Directory:  directory,
		Checks:     checks,
		Logger:     logger,
	})
	reminders, err := newReminders(cfg, groupStore, platform, dedupe, logger)
	if err != nil {
		logger.Error("prayer reminder setup failed", "error", err)
		os.Exit(1)
	}
	reminderCtx, stopReminders := context.WithCancel(ctx)
	reminderDone := make(chan struct{})
	go func() {
		defer close(reminderDone)
		if reminders != nil {
			reminders.Run(reminderCtx)
		}
	}()

	httpServer := app.NewHTTPServer(service, app.HTTPConfig{
		CORSOrigin: cfg.CORSOrigin,
		WebhookKey: cfg.WebhookHMACKey,
		OpsToken:   cfg.OpsToken,
		Logger:     logger,
	})
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      45 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("group bot listening", "addr", cfg.Addr, "store", cfg.StoreBackend, "session", cfg.WAHASession)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", "error", err)
	}
	stopReminders()
	<-reminderDone
	resolver.Wait()
}

// newReminders builds the prayer reminder job, or returns nil when
// PRAYER_TIMES is "off".
func newReminders(cfg config.Config, groups reminder.Lister, sender reminder.Sender, once reminder.Once, logger *slog.Logger) (*reminder.Scheduler, error) {
	if strings.EqualFold(strings.TrimSpace(cfg.PrayerTimes), "off") {
		logger.Info("prayer reminders disabled")
		return nil, nil
	}
	schedule, err := reminder.ParseSchedule(cfg.PrayerTimes)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(cfg.PrayerTimezone)
	if err != nil {
		return nil, fmt.Errorf("prayer timezone %q: %w", cfg.PrayerTimezone, err)
	}
	return reminder.New(reminder.Config{
		Groups:   groups,
		Sender:   sender,
		Once:     once,
		Schedule: schedule,
		Location: loc,
		Every:    cfg.PrayerTick,
		Logger:   logger,
	}), nil
}

// openStore builds the group store selected by STORE_BACKEND.
func openStore(ctx context.Context, cfg config.Config) (store.Store, []app.Check, func(), error) {
	switch cfg.StoreBackend {
	case "redis":
		st, err := store.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return nil, nil, nil, err
		}
		return st, []app.Check{{Name: "store", Ping: st.Ping}}, func() { _ = st.Close() }, nil
	case "sql", "":
		db, dialect, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := store.ApplyMigrations(ctx, db, dialect); err != nil {
			_ = db.Close()
			return nil, nil, nil, err
		}
		st := store.NewSQLStore(db, dialect)
		return st, []app.Check{{Name: "store", Ping: st.Ping}}, func() { _ = st.Close() }, nil
	default:
		return nil, nil, nil, errors.New("unknown STORE_BACKEND " + cfg.StoreBackend)
	}
}
