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
// built-in defaults, applies BATTLE_* environment variable overrides, and
// returns the final Config. A missing file is not an error: defaults plus
// environment are enough to run in containers. The returned Config has NOT
// been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return nil, err
			}
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known BATTLE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "BATTLE_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "BATTLE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "BATTLE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BATTLE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BATTLE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BATTLE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BATTLE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BATTLE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BATTLE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BATTLE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BATTLE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BATTLE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BATTLE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BATTLE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BATTLE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BATTLE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BATTLE_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.StreamMaxLen, "BATTLE_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "BATTLE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "BATTLE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BATTLE_S3_REGION")
	setStr(&cfg.S3.Bucket, "BATTLE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BATTLE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BATTLE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BATTLE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BATTLE_S3_FORCE_PATH_STYLE")

	// ── Gateway ──
	setStr(&cfg.Gateway.BaseURL, "BATTLE_GATEWAY_BASE_URL")
	setStr(&cfg.Gateway.APIKey, "BATTLE_GATEWAY_API_KEY")
	setStr(&cfg.Gateway.APISecret, "BATTLE_GATEWAY_API_SECRET")
	setStr(&cfg.Gateway.WebhookSecret, "BATTLE_GATEWAY_WEBHOOK_SECRET")
	setStr(&cfg.Gateway.TreasuryWallet, "BATTLE_GATEWAY_TREASURY_WALLET")
	setStr(&cfg.Gateway.Currency, "BATTLE_GATEWAY_CURRENCY")
	setStr(&cfg.Gateway.Issuer, "BATTLE_GATEWAY_ISSUER")
	setDuration(&cfg.Gateway.RequestExpiry, "BATTLE_GATEWAY_REQUEST_EXPIRY")
	setDuration(&cfg.Gateway.PollInterval, "BATTLE_GATEWAY_POLL_INTERVAL")
	setDuration(&cfg.Gateway.WatcherInterval, "BATTLE_GATEWAY_WATCHER_INTERVAL")
	setDuration(&cfg.Gateway.Timeout, "BATTLE_GATEWAY_TIMEOUT")

	// ── Payout ──
	setStr(&cfg.Payout.RelayURL, "BATTLE_PAYOUT_RELAY_URL")
	setStr(&cfg.Payout.APIKey, "BATTLE_PAYOUT_API_KEY")
	setStr(&cfg.Payout.Secret, "BATTLE_PAYOUT_SECRET")
	setStr(&cfg.Payout.EncryptedSecretPath, "BATTLE_PAYOUT_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Payout.SecretPassword, "BATTLE_PAYOUT_SECRET_PASSWORD")

	// ── Battle ──
	setDuration(&cfg.Battle.AcceptanceWindow, "BATTLE_ACCEPTANCE_WINDOW")
	setDuration(&cfg.Battle.VotingWindow, "BATTLE_VOTING_WINDOW")
	setStr(&cfg.Battle.StartFee, "BATTLE_START_FEE")
	setStr(&cfg.Battle.AcceptFee, "BATTLE_ACCEPT_FEE")
	setStr(&cfg.Battle.VoteFee, "BATTLE_VOTE_FEE")

	// ── Rate limits ──
	setBool(&cfg.RateLimit.Enabled, "BATTLE_RATE_LIMIT_ENABLED")
	setDuration(&cfg.RateLimit.Window, "BATTLE_RATE_LIMIT_WINDOW")
	setInt(&cfg.RateLimit.StartLimit, "BATTLE_RATE_LIMIT_START")
	setInt(&cfg.RateLimit.AcceptLimit, "BATTLE_RATE_LIMIT_ACCEPT")
	setInt(&cfg.RateLimit.VoteLimit, "BATTLE_RATE_LIMIT_VOTE")

	// ── Sweeper ──
	setBool(&cfg.Sweeper.Enabled, "BATTLE_SWEEPER_ENABLED")
	setStr(&cfg.Sweeper.ExpiryCron, "BATTLE_SWEEPER_EXPIRY_CRON")
	setStr(&cfg.Sweeper.SettlementCron, "BATTLE_SWEEPER_SETTLEMENT_CRON")
	setStr(&cfg.Sweeper.OrphanCron, "BATTLE_SWEEPER_ORPHAN_CRON")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "BATTLE_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "BATTLE_ARCHIVE_CRON")
	setDuration(&cfg.Archive.MinAge, "BATTLE_ARCHIVE_MIN_AGE")
	setStr(&cfg.Archive.KeyPrefix, "BATTLE_ARCHIVE_KEY_PREFIX")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "BATTLE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "BATTLE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "BATTLE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.AdminKey, "BATTLE_SERVER_ADMIN_KEY")
	setStr(&cfg.Server.AdminKey, "ADMIN_KEY") // compatibility alias
	setInt(&cfg.Server.APIRateLimit, "BATTLE_SERVER_API_RATE_LIMIT")
	setDuration(&cfg.Server.APIRateWindow, "BATTLE_SERVER_API_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BATTLE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BATTLE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BATTLE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.NatsURL, "BATTLE_NOTIFY_NATS_URL")
	setStr(&cfg.Notify.NatsSubject, "BATTLE_NOTIFY_NATS_SUBJECT")
	setStringSlice(&cfg.Notify.Events, "BATTLE_NOTIFY_EVENTS")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "BATTLE_METRICS_ENABLED")
	setStr(&cfg.Metrics.Namespace, "BATTLE_METRICS_NAMESPACE")

	// ── Top-level ──
	setStr(&cfg.Mode, "BATTLE_MODE")
	setStr(&cfg.LogLevel, "BATTLE_LOG_LEVEL")
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
