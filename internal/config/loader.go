package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SNIPERBOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	return &cfg, nil
}

// applyEnvOverrides reads well-known SNIPERBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Storage ──
	setStr(&cfg.Storage.Driver, "SNIPERBOT_STORAGE_DRIVER")

	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "SNIPERBOT_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "SNIPERBOT_DATABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "SNIPERBOT_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "SNIPERBOT_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "SNIPERBOT_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "SNIPERBOT_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "SNIPERBOT_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "SNIPERBOT_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "SNIPERBOT_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "SNIPERBOT_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "SNIPERBOT_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "SNIPERBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "SNIPERBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SNIPERBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SNIPERBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SNIPERBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SNIPERBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SNIPERBOT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "SNIPERBOT_REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.LockTTL, "SNIPERBOT_REDIS_LOCK_TTL")
	setDuration(&cfg.Redis.LockWait, "SNIPERBOT_REDIS_LOCK_WAIT")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "SNIPERBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SNIPERBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "SNIPERBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SNIPERBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SNIPERBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SNIPERBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SNIPERBOT_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "SNIPERBOT_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Schedule, "SNIPERBOT_ARCHIVE_SCHEDULE")
	setInt(&cfg.Archive.LookbackMonths, "SNIPERBOT_ARCHIVE_LOOKBACK_MONTHS")
	setInt(&cfg.Archive.BatchSize, "SNIPERBOT_ARCHIVE_BATCH_SIZE")

	// ── Server ──
	setInt(&cfg.Server.Port, "SNIPERBOT_SERVER_PORT")
	setInt(&cfg.Server.Port, "PORT") // platform-provided port
	setStringSlice(&cfg.Server.CORSOrigins, "SNIPERBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SNIPERBOT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "SNIPERBOT_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "SNIPERBOT_SERVER_RATE_WINDOW")
	setDuration(&cfg.Server.OnlineTimeout, "SNIPERBOT_SERVER_ONLINE_TIMEOUT")

	// ── Worker ──
	setStr(&cfg.Worker.Name, "SNIPERBOT_WORKER_NAME")
	setStr(&cfg.Worker.CoreURL, "SNIPERBOT_WORKER_CORE_URL")
	setDuration(&cfg.Worker.AdmissionInterval, "SNIPERBOT_WORKER_ADMISSION_INTERVAL")
	setDuration(&cfg.Worker.MonitorInterval, "SNIPERBOT_WORKER_MONITOR_INTERVAL")
	setDuration(&cfg.Worker.SellInterval, "SNIPERBOT_WORKER_SELL_INTERVAL")
	setDuration(&cfg.Worker.HeartbeatInterval, "SNIPERBOT_WORKER_HEARTBEAT_INTERVAL")
	setInt(&cfg.Worker.Concurrency, "SNIPERBOT_WORKER_CONCURRENCY")
	setBool(&cfg.Worker.AutoApprove, "SNIPERBOT_WORKER_AUTO_APPROVE")
	setBool(&cfg.Worker.AdmissionEnabled, "SNIPERBOT_WORKER_ADMISSION_ENABLED")
	setBool(&cfg.Worker.SellEnabled, "SNIPERBOT_WORKER_SELL_ENABLED")
	setDuration(&cfg.Worker.SellClaimTTL, "SNIPERBOT_WORKER_SELL_CLAIM_TTL")

	// ── Execution ──
	setStr(&cfg.Execution.Executor, "SNIPERBOT_EXECUTION_EXECUTOR")
	setFloat64(&cfg.Execution.StartingBalanceSOL, "SNIPERBOT_EXECUTION_STARTING_BALANCE_SOL")
	setInt(&cfg.Execution.SlippageBps, "SNIPERBOT_EXECUTION_SLIPPAGE_BPS")
	setDuration(&cfg.Execution.JournalTTL, "SNIPERBOT_EXECUTION_JOURNAL_TTL")

	// ── Prices ──
	setStr(&cfg.Prices.JupiterURL, "SNIPERBOT_PRICES_JUPITER_URL")
	setDuration(&cfg.Prices.CacheMaxAge, "SNIPERBOT_PRICES_CACHE_MAX_AGE")
	setDuration(&cfg.Prices.CacheTTL, "SNIPERBOT_PRICES_CACHE_TTL")
	setInt(&cfg.Prices.RateLimit, "SNIPERBOT_PRICES_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SNIPERBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SNIPERBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SNIPERBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SNIPERBOT_NOTIFY_EVENTS")
	setInt(&cfg.Notify.QueueSize, "SNIPERBOT_NOTIFY_QUEUE_SIZE")

	// ── Top-level ──
	setStr(&cfg.Mode, "SNIPERBOT_MODE")
	setStr(&cfg.LogLevel, "SNIPERBOT_LOG_LEVEL")
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
