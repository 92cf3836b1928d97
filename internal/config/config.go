package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr         string
	DatabaseURL  string
	StoreBackend string
	RedisURL     string
	LogLevel     string
	CORSOrigin   string
	// WAHA
	WAHABaseURL     string
	WAHAAPIKey      string
	WAHASession     string
	BotID           string
	RetryBaseDelay  time.Duration
	RetryMaxAttempt int
	// Webhook and ops access
	WebhookHMACKey string
	OpsToken       string
	// Authority and commands
	HealTimeout        time.Duration
	TagAllLimitPerHour int
	MentionExclude     []string
	DedupeTTL          time.Duration
	ModerationEnabled  bool
	BlockedWords       []string
	// Group directory search; empty URL falls back to the store
	MeiliURL       string
	MeiliMasterKey string
	// Prayer reminders; PRAYER_TIMES=off disables the job
	PrayerTimes    string
	PrayerTimezone string
	PrayerTick     time.Duration
}

func Load() Config {
	return Config{
		Addr:               getenv("BOT_ADDR", ":8080"),
		DatabaseURL:        getenv("DATABASE_URL", "sqlite:./data/groupbot.db"),
		StoreBackend:       strings.ToLower(getenv("STORE_BACKEND", "sql")),
		RedisURL:           getenv("REDIS_URL", "redis://localhost:6379/0"),
		LogLevel:           getenv("LOG_LEVEL", "info"),
		CORSOrigin:         getenv("CORS_ORIGIN", "*"),
		WAHABaseURL:        getenv("WAHA_BASE_URL", "http://localhost:3000"),
		WAHAAPIKey:         getenv("WAHA_API_KEY", ""),
		WAHASession:        getenv("WAHA_SESSION", "default"),
		BotID:              getenv("BOT_ID", ""),
		RetryBaseDelay:     getenvDuration("RETRY_BASE_DELAY_MS", time.Second, time.Millisecond),
		RetryMaxAttempt:    getenvInt("RETRY_MAX_ATTEMPTS", 3),
		WebhookHMACKey:     getenv("WEBHOOK_HMAC_KEY", ""),
		OpsToken:           getenv("OPS_TOKEN", ""),
		HealTimeout:        getenvDuration("HEAL_TIMEOUT_SECONDS", 10*time.Second, time.Second),
		TagAllLimitPerHour: getenvInt("TAGALL_LIMIT_PER_HOUR", 5),
		MentionExclude:     getenvList("MENTION_EXCLUDE"),
		DedupeTTL:          getenvDuration("DEDUPE_TTL_SECONDS", 10*time.Minute, time.Second),
		ModerationEnabled:  getenvBool("MODERATION_ENABLED", true),
		BlockedWords:       getenvList("BLOCKED_WORDS"),
		MeiliURL:           getenv("MEILI_URL", ""),
		MeiliMasterKey:     getenv("MEILI_MASTER_KEY", ""),
		PrayerTimes:        getenv("PRAYER_TIMES", "Subuh=04:40,Dzuhur=11:55,Ashar=15:25,Maghrib=18:00,Isya=19:15"),
		PrayerTimezone:     getenv("PRAYER_TZ", "Asia/Jakarta"),
		PrayerTick:         getenvDuration("PRAYER_TICK_SECONDS", 30*time.Second, time.Second),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getenvDuration reads an integer count of unit.
func getenvDuration(key string, fallback, unit time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return time.Duration(parsed) * unit
}

// getenvList splits a comma separated value, dropping blanks.
func getenvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
