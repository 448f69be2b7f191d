package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies YIELDSCOPE_* environment variable overrides,
// and returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known YIELDSCOPE_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "YIELDSCOPE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "YIELDSCOPE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "YIELDSCOPE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "YIELDSCOPE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "YIELDSCOPE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "YIELDSCOPE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "YIELDSCOPE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "YIELDSCOPE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "YIELDSCOPE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "YIELDSCOPE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "YIELDSCOPE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "YIELDSCOPE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "YIELDSCOPE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "YIELDSCOPE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "YIELDSCOPE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "YIELDSCOPE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "YIELDSCOPE_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "YIELDSCOPE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "YIELDSCOPE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "YIELDSCOPE_S3_REGION")
	setStr(&cfg.S3.Bucket, "YIELDSCOPE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "YIELDSCOPE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "YIELDSCOPE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "YIELDSCOPE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "YIELDSCOPE_S3_FORCE_PATH_STYLE")

	// ── Cache ──
	setDuration(&cfg.Cache.SweepInterval, "YIELDSCOPE_CACHE_SWEEP_INTERVAL")

	// ── Engine ──
	setFloat64(&cfg.Engine.FlatThreshold, "YIELDSCOPE_ENGINE_FLAT_THRESHOLD")
	setFloat64(&cfg.Engine.MinAccrualDays, "YIELDSCOPE_ENGINE_MIN_ACCRUAL_DAYS")
	setFloat64(&cfg.Engine.MaxAccrualDays, "YIELDSCOPE_ENGINE_MAX_ACCRUAL_DAYS")
	setFloat64(&cfg.Engine.AccrualAPYCap, "YIELDSCOPE_ENGINE_ACCRUAL_APY_CAP")
	setInt(&cfg.Engine.HistoryLimit, "YIELDSCOPE_ENGINE_HISTORY_LIMIT")
	setDuration(&cfg.Engine.SnapshotTimeout, "YIELDSCOPE_ENGINE_SNAPSHOT_TIMEOUT")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "YIELDSCOPE_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "YIELDSCOPE_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "YIELDSCOPE_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "YIELDSCOPE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "YIELDSCOPE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "YIELDSCOPE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "YIELDSCOPE_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "YIELDSCOPE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "YIELDSCOPE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "YIELDSCOPE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "YIELDSCOPE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "YIELDSCOPE_MODE")
	setStr(&cfg.LogLevel, "YIELDSCOPE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
