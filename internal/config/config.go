// Package config loads the sync engine's Settings snapshot from the
// environment (optionally via a .env file), following the teacher's
// internal/config.Load idiom: godotenv.Load + getEnv fallbacks.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/obsidian-gcal/syncengine/internal/model"
)

// Config holds process-level configuration that isn't part of the per-run
// Settings snapshot (storage locations, OAuth2 endpoints, metrics bind).
type Config struct {
	DBPath        string
	MigrationsDir string
	VaultPath     string

	AuthorizationURL string
	TokenURL         string
	RevocationURL    string
	Scope            string

	MetricsAddr string

	Settings model.Settings
}

// Load reads process configuration and the Settings snapshot from the
// environment, loading a .env file first if one exists.
func Load() (*Config, error) {
	godotenv.Load() // Load .env file if exists

	cfg := &Config{
		DBPath:        getEnv("SYNCENGINE_DB_PATH", "./data/syncengine.db"),
		MigrationsDir: getEnv("SYNCENGINE_MIGRATIONS_DIR", "./migrations"),
		VaultPath:     getEnv("SYNCENGINE_VAULT_PATH", "."),

		AuthorizationURL: getEnv("SYNCENGINE_AUTH_URL", "https://accounts.google.com/o/oauth2/v2/auth"),
		TokenURL:         getEnv("SYNCENGINE_TOKEN_URL", "https://oauth2.googleapis.com/token"),
		RevocationURL:    getEnv("SYNCENGINE_REVOKE_URL", "https://oauth2.googleapis.com/revoke"),
		Scope:            getEnv("SYNCENGINE_SCOPE", "https://www.googleapis.com/auth/calendar.events"),

		MetricsAddr: getEnv("SYNCENGINE_METRICS_ADDR", ":9090"),

		Settings: model.Settings{
			ClientID:     getEnv("SYNCENGINE_CLIENT_ID", ""),
			ClientSecret: getEnv("SYNCENGINE_CLIENT_SECRET", ""),
			CalendarID:   getEnv("SYNCENGINE_CALENDAR_ID", "primary"),

			RedirectPort:        getEnvInt("SYNCENGINE_REDIRECT_PORT", 42813),
			SyncIntervalMinutes: getEnvInt("SYNCENGINE_SYNC_INTERVAL_MINUTES", 15),
			CronExpression:      getEnv("SYNCENGINE_CRON_EXPRESSION", ""),

			AutoSync:                 getEnvBool("SYNCENGINE_AUTO_SYNC", true),
			IncludeDescriptionInDiff: getEnvBool("SYNCENGINE_INCLUDE_DESCRIPTION_IN_DIFF", true),
			IncludeRemindersInDiff:   getEnvBool("SYNCENGINE_INCLUDE_REMINDERS_IN_DIFF", false),
			DefaultDurationMinutes:   getEnvInt("SYNCENGINE_DEFAULT_DURATION_MINUTES", 30),

			MaxBatchPerHTTP:        getEnvInt("SYNCENGINE_MAX_BATCH_PER_HTTP", 50),
			MinDesiredBatchSize:    getEnvInt("SYNCENGINE_MIN_DESIRED_BATCH_SIZE", 5),
			MaxInFlightBatches:     getEnvInt("SYNCENGINE_MAX_IN_FLIGHT_BATCHES", 2),
			InterBatchDelayMs:      getEnvInt("SYNCENGINE_INTER_BATCH_DELAY_MS", 150),
			LatencySLAms:           getEnvInt("SYNCENGINE_LATENCY_SLA_MS", 4000),
			RateErrorCooldownMs:    getEnvInt("SYNCENGINE_RATE_ERROR_COOLDOWN_MS", 2000),
			CleanStreakForIncrease: getEnvInt("SYNCENGINE_CLEAN_STREAK_FOR_INCREASE", 3),
			MaxRetryAttempts:       getEnvInt("SYNCENGINE_MAX_RETRY_ATTEMPTS", 4),

			RememberPassphrase:     getEnvBool("SYNCENGINE_REMEMBER_PASSPHRASE", false),
			ErrorNotificationsOnly: getEnvBool("SYNCENGINE_ERROR_NOTIFICATIONS_ONLY", false),

			VaultName: getEnv("SYNCENGINE_VAULT_NAME", "vault"),
		},
	}

	if cfg.Settings.SyncIntervalMinutes < 1 {
		cfg.Settings.SyncIntervalMinutes = 1
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return b
}
