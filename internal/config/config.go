// Package config defines the top-level configuration for sniperbot and
// provides validation helpers.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/sniperbot/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SNIPERBOT_* environment variables.
type Config struct {
	Storage   StorageConfig   `toml:"storage"`
	Supabase  SupabaseConfig  `toml:"supabase"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Archive   ArchiveConfig   `toml:"archive"`
	Server    ServerConfig    `toml:"server"`
	Worker    WorkerConfig    `toml:"worker"`
	Execution ExecutionConfig `toml:"execution"`
	Prices    PricesConfig    `toml:"prices"`
	Channels  ChannelsConfig  `toml:"channels"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// StorageConfig selects the lifecycle store.
type StorageConfig struct {
	// Driver is "postgres" or "memory".
	Driver string `toml:"driver"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Redis is optional; without
// it there is no cross-process position lock, price cache, event bus or API
// rate limit.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	KeyPrefix  string   `toml:"key_prefix"`
	LockTTL    duration `toml:"lock_ttl"`
	LockWait   duration `toml:"lock_wait"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the monthly closed-trade archive.
type ArchiveConfig struct {
	Enabled        bool   `toml:"enabled"`
	Schedule       string `toml:"schedule"`
	LookbackMonths int    `toml:"lookback_months"`
	BatchSize      int    `toml:"batch_size"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port          int      `toml:"port"`
	CORSOrigins   []string `toml:"cors_origins"`
	APIKey        string   `toml:"api_key"`
	RateLimit     int      `toml:"rate_limit"`
	RateWindow    duration `toml:"rate_window"`
	OnlineTimeout duration `toml:"online_timeout"`
}

// WorkerConfig holds scheduler parameters.
type WorkerConfig struct {
	Name string `toml:"name"`
	// CoreURL points a worker-mode process at a remote server. Empty means
	// the worker opens storage itself.
	CoreURL           string   `toml:"core_url"`
	AdmissionInterval duration `toml:"admission_interval"`
	MonitorInterval   duration `toml:"monitor_interval"`
	SellInterval      duration `toml:"sell_interval"`
	HeartbeatInterval duration `toml:"heartbeat_interval"`
	Concurrency       int      `toml:"concurrency"`
	AutoApprove       bool     `toml:"auto_approve"`
	AdmissionEnabled  bool     `toml:"admission_enabled"`
	// SellEnabled runs the sell loop. With several sell-enabled workers,
	// redis must be enabled so orders are claimed before execution.
	SellEnabled  bool     `toml:"sell_enabled"`
	SellClaimTTL duration `toml:"sell_claim_ttl"`
}

// ExecutionConfig configures the swap executor.
type ExecutionConfig struct {
	// Executor is "paper"; live signing is not built in.
	Executor           string   `toml:"executor"`
	StartingBalanceSOL float64  `toml:"starting_balance_sol"`
	SlippageBps        int      `toml:"slippage_bps"`
	JournalTTL         duration `toml:"journal_ttl"`
}

// PricesConfig configures the price source.
type PricesConfig struct {
	JupiterURL  string   `toml:"jupiter_url"`
	CacheMaxAge duration `toml:"cache_max_age"`
	CacheTTL    duration `toml:"cache_ttl"`
	// RateLimit caps Jupiter requests per second across processes when Redis
	// is enabled.
	RateLimit int `toml:"rate_limit"`
}

// ChannelPreset is the TOML form of a domain.ChannelConfig.
type ChannelPreset struct {
	ID              string   `toml:"id"`
	Name            string   `toml:"name"`
	Match           []string `toml:"match"`
	AllocationSOL   float64  `toml:"allocation_sol"`
	TakeProfitPct   *float64 `toml:"take_profit_pct"`
	StopLossPct     *float64 `toml:"stop_loss_pct"`
	TrailingStopPct *float64 `toml:"trailing_stop_pct"`
	MaxHoldMinutes  int      `toml:"max_hold_minutes"`
	// AutoSell defaults to true when omitted.
	AutoSell *bool `toml:"auto_sell"`
}

// Domain converts the preset.
func (p ChannelPreset) Domain() domain.ChannelConfig {
	auto := true
	if p.AutoSell != nil {
		auto = *p.AutoSell
	}
	match := make([]string, 0, len(p.Match))
	for _, m := range p.Match {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			match = append(match, m)
		}
	}
	return domain.ChannelConfig{
		ID:              p.ID,
		Name:            p.Name,
		Match:           match,
		AllocationSOL:   p.AllocationSOL,
		TakeProfitPct:   p.TakeProfitPct,
		StopLossPct:     p.StopLossPct,
		TrailingStopPct: p.TrailingStopPct,
		MaxHoldMinutes:  p.MaxHoldMinutes,
		AutoSellEnabled: auto,
	}
}

// ChannelsConfig holds the signal-source presets.
type ChannelsConfig struct {
	Default ChannelPreset   `toml:"default"`
	Presets []ChannelPreset `toml:"preset"`
}

// Domain returns the presets and the fallback in domain form.
func (c ChannelsConfig) Domain() ([]domain.ChannelConfig, domain.ChannelConfig) {
	out := make([]domain.ChannelConfig, 0, len(c.Presets))
	for _, p := range c.Presets {
		out = append(out, p.Domain())
	}
	return out, c.Default.Domain()
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	QueueSize         int      `toml:"queue_size"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func pct(v float64) *float64 { return &v }

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Storage: StorageConfig{Driver: "postgres"},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "sniperbot:",
			LockTTL:    duration{10 * time.Second},
			LockWait:   duration{2 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "sniperbot-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Schedule:       "0 3 1 * *",
			LookbackMonths: 12,
			BatchSize:      10000,
		},
		Server: ServerConfig{
			Port:          8000,
			CORSOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:     50,
			RateWindow:    duration{time.Second},
			OnlineTimeout: duration{30 * time.Second},
		},
		Worker: WorkerConfig{
			Name:              "sniperbot-worker",
			AdmissionInterval: duration{2 * time.Second},
			MonitorInterval:   duration{5 * time.Second},
			SellInterval:      duration{2 * time.Second},
			HeartbeatInterval: duration{10 * time.Second},
			Concurrency:       4,
			AutoApprove:       true,
			AdmissionEnabled:  true,
			SellEnabled:       true,
			SellClaimTTL:      duration{2 * time.Minute},
		},
		Execution: ExecutionConfig{
			Executor:           "paper",
			StartingBalanceSOL: 10,
			SlippageBps:        100,
			JournalTTL:         duration{time.Hour},
		},
		Prices: PricesConfig{
			JupiterURL:  "https://api.jup.ag/price/v2",
			CacheMaxAge: duration{3 * time.Second},
			CacheTTL:    duration{time.Minute},
			RateLimit:   10,
		},
		Channels: ChannelsConfig{
			Default: ChannelPreset{
				ID:            "default",
				Name:          "default",
				AllocationSOL: 0.25,
				TakeProfitPct: pct(100),
				StopLossPct:   pct(-30),
			},
			Presets: []ChannelPreset{
				{
					ID:              "memecoin-alpha",
					Name:            "memecoin-alpha",
					Match:           []string{"memecoin-alpha"},
					AllocationSOL:   0.5,
					TakeProfitPct:   pct(100),
					StopLossPct:     pct(-25),
					TrailingStopPct: pct(15),
				},
				{
					ID:              "memecoin-chat",
					Name:            "memecoin-chat",
					Match:           []string{"memecoin-chat"},
					AllocationSOL:   0.1,
					TakeProfitPct:   pct(50),
					StopLossPct:     pct(-15),
					TrailingStopPct: pct(10),
					MaxHoldMinutes:  30,
				},
				{
					ID:              "under-100k",
					Name:            "under-100k",
					Match:           []string{"under-100k"},
					AllocationSOL:   0.1,
					TakeProfitPct:   pct(75),
					StopLossPct:     pct(-20),
					TrailingStopPct: pct(12),
					MaxHoldMinutes:  45,
				},
			},
		},
		Notify: NotifyConfig{
			Events:    []string{"trade_bought", "trade_failed", "exit_triggered", "trade_sold"},
			QueueSize: 256,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"worker": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// RemoteWorker reports whether a worker-mode process talks to a server
// instead of opening storage.
func (c *Config) RemoteWorker() bool {
	return strings.ToLower(c.Mode) == "worker" && strings.TrimSpace(c.Worker.CoreURL) != ""
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, worker, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Storage is opened by every process except a remote worker.
	if !c.RemoteWorker() {
		switch c.Storage.Driver {
		case "memory":
		case "postgres":
			if strings.TrimSpace(c.Supabase.DSN) == "" {
				if c.Supabase.Host == "" {
					errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
				}
				if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
					errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
				}
				if c.Supabase.Database == "" {
					errs = append(errs, "supabase: database must not be empty")
				}
			}
			if c.Supabase.PoolMaxConns < 1 {
				errs = append(errs, "supabase: pool_max_conns must be >= 1")
			}
			if c.Supabase.PoolMinConns < 0 || c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
				errs = append(errs, "supabase: pool_min_conns must be between 0 and pool_max_conns")
			}
		default:
			errs = append(errs, fmt.Sprintf("storage: unknown driver %q (valid: postgres, memory)", c.Storage.Driver))
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.LockTTL.Duration <= 0 {
			errs = append(errs, "redis: lock_ttl must be > 0")
		}
	}

	if c.Archive.Enabled {
		if c.Storage.Driver == "memory" {
			errs = append(errs, "archive: requires storage.driver = postgres")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when archive is enabled")
		}
		if len(strings.Fields(c.Archive.Schedule)) != 5 {
			errs = append(errs, fmt.Sprintf("archive: schedule %q must be a 5-field cron expression", c.Archive.Schedule))
		}
		if c.Archive.LookbackMonths < 1 {
			errs = append(errs, "archive: lookback_months must be >= 1")
		}
	}

	if mode == "server" || mode == "full" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if mode == "worker" || mode == "full" {
		if strings.TrimSpace(c.Worker.Name) == "" {
			errs = append(errs, "worker: name must not be empty")
		}
		if c.Worker.CoreURL != "" {
			if u, err := url.Parse(c.Worker.CoreURL); err != nil || u.Scheme == "" || u.Host == "" {
				errs = append(errs, fmt.Sprintf("worker: core_url %q is not an absolute URL", c.Worker.CoreURL))
			}
		}
		for name, d := range map[string]duration{
			"admission_interval": c.Worker.AdmissionInterval,
			"monitor_interval":   c.Worker.MonitorInterval,
			"sell_interval":      c.Worker.SellInterval,
			"heartbeat_interval": c.Worker.HeartbeatInterval,
			"sell_claim_ttl":     c.Worker.SellClaimTTL,
		} {
			if d.Duration <= 0 {
				errs = append(errs, fmt.Sprintf("worker: %s must be > 0", name))
			}
		}
		if c.Worker.HeartbeatInterval.Duration >= c.Server.OnlineTimeout.Duration && c.Server.OnlineTimeout.Duration > 0 {
			errs = append(errs, "worker: heartbeat_interval must be shorter than server.online_timeout")
		}
		if c.Worker.Concurrency < 1 {
			errs = append(errs, "worker: concurrency must be >= 1")
		}
		if c.Execution.Executor != "paper" {
			errs = append(errs, fmt.Sprintf("execution: unknown executor %q (valid: paper)", c.Execution.Executor))
		}
		if c.Execution.SlippageBps < 0 || c.Execution.SlippageBps >= 10000 {
			errs = append(errs, "execution: slippage_bps must be in [0, 10000)")
		}
	}

	errs = append(errs, validatePreset("channels.default", c.Channels.Default)...)
	seen := make(map[string]bool, len(c.Channels.Presets))
	for i, p := range c.Channels.Presets {
		where := fmt.Sprintf("channels.preset[%d]", i)
		if p.ID == "" {
			errs = append(errs, where+": id must not be empty")
		} else if seen[p.ID] {
			errs = append(errs, fmt.Sprintf("%s: duplicate id %q", where, p.ID))
		}
		seen[p.ID] = true
		errs = append(errs, validatePreset(where, p)...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validatePreset(where string, p ChannelPreset) []string {
	var errs []string
	if p.AllocationSOL <= 0 {
		errs = append(errs, where+": allocation_sol must be > 0")
	}
	if p.TakeProfitPct != nil && *p.TakeProfitPct <= 0 {
		errs = append(errs, where+": take_profit_pct must be > 0")
	}
	if p.TrailingStopPct != nil && (*p.TrailingStopPct <= 0 || *p.TrailingStopPct >= 100) {
		errs = append(errs, where+": trailing_stop_pct must be in (0, 100)")
	}
	if p.MaxHoldMinutes < 0 {
		errs = append(errs, where+": max_hold_minutes must be >= 0")
	}
	return errs
}
