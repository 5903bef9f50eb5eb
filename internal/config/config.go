// Package config defines the top-level configuration for the battle service
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BATTLE_* environment variables.
type Config struct {
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Gateway   GatewayConfig   `toml:"gateway"`
	Payout    PayoutConfig    `toml:"payout"`
	Battle    BattleConfig    `toml:"battle"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Sweeper   SweeperConfig   `toml:"sweeper"`
	Archive   ArchiveConfig   `toml:"archive"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// PostgresConfig holds connection parameters for the audit database.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// GatewayConfig holds the wallet-signing payment gateway credentials and the
// treasury account that collects stakes.
type GatewayConfig struct {
	BaseURL         string   `toml:"base_url"`
	APIKey          string   `toml:"api_key"`
	APISecret       string   `toml:"api_secret"`
	WebhookSecret   string   `toml:"webhook_secret"`
	TreasuryWallet  string   `toml:"treasury_wallet"`
	Currency        string   `toml:"currency"`
	Issuer          string   `toml:"issuer"`
	RequestExpiry   duration `toml:"request_expiry"`
	PollInterval    duration `toml:"poll_interval"`
	WatcherInterval duration `toml:"watcher_interval"`
	Timeout         duration `toml:"timeout"`
}

// PayoutConfig holds the payout relay that sends tokens back out of the
// treasury. The shared secret is either given directly or read from an
// encrypted file.
type PayoutConfig struct {
	RelayURL            string `toml:"relay_url"`
	APIKey              string `toml:"api_key"`
	Secret              string `toml:"secret"`
	EncryptedSecretPath string `toml:"encrypted_secret_path"`
	SecretPassword      string `toml:"secret_password"`
}

// BattleConfig holds lifecycle windows and the default fee schedule used when
// no admin override is stored.
type BattleConfig struct {
	AcceptanceWindow duration `toml:"acceptance_window"`
	VotingWindow     duration `toml:"voting_window"`
	StartFee         string   `toml:"start_fee"`
	AcceptFee        string   `toml:"accept_fee"`
	VoteFee          string   `toml:"vote_fee"`
}

// RateLimitConfig holds per-wallet action limits.
type RateLimitConfig struct {
	Enabled     bool     `toml:"enabled"`
	Window      duration `toml:"window"`
	StartLimit  int      `toml:"start_limit"`
	AcceptLimit int      `toml:"accept_limit"`
	VoteLimit   int      `toml:"vote_limit"`
}

// SweeperConfig holds the cron schedules of the background sweeps. Schedules
// use the six-field (seconds first) cron syntax.
type SweeperConfig struct {
	Enabled        bool   `toml:"enabled"`
	ExpiryCron     string `toml:"expiry_cron"`
	SettlementCron string `toml:"settlement_cron"`
	OrphanCron     string `toml:"orphan_cron"`
}

// ArchiveConfig controls archival of terminal battles to object storage.
type ArchiveConfig struct {
	Enabled   bool     `toml:"enabled"`
	Cron      string   `toml:"cron"`
	MinAge    duration `toml:"min_age"`
	KeyPrefix string   `toml:"key_prefix"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	AdminKey    string   `toml:"admin_key"`
	// APIRateLimit caps public API requests per client IP per
	// APIRateWindow. Zero disables it.
	APIRateLimit  int      `toml:"api_rate_limit"`
	APIRateWindow duration `toml:"api_rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	NatsURL           string   `toml:"nats_url"`
	NatsSubject       string   `toml:"nats_subject"`
	Events            []string `toml:"events"`
}

// MetricsConfig controls the Prometheus exposition.
type MetricsConfig struct {
	Enabled   bool   `toml:"enabled"`
	Namespace string `toml:"namespace"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "battles",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     20,
			MaxRetries:   3,
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "battle-archive",
			ForcePathStyle: true,
		},
		Gateway: GatewayConfig{
			BaseURL:         "https://xumm.app/api/v1/platform",
			Currency:        "WLO",
			RequestExpiry:   duration{10 * time.Minute},
			PollInterval:    duration{2 * time.Second},
			WatcherInterval: duration{15 * time.Second},
			Timeout:         duration{15 * time.Second},
		},
		Battle: BattleConfig{
			AcceptanceWindow: duration{10 * time.Hour},
			VotingWindow:     duration{24 * time.Hour},
			StartFee:         "150000",
			AcceptFee:        "75000",
			VoteFee:          "30000",
		},
		RateLimit: RateLimitConfig{
			Enabled:     true,
			Window:      duration{time.Hour},
			StartLimit:  5,
			AcceptLimit: 10,
			VoteLimit:   50,
		},
		Sweeper: SweeperConfig{
			Enabled:        true,
			ExpiryCron:     "0 0 * * * *",
			SettlementCron: "@every 1m",
			OrphanCron:     "0 */15 * * * *",
		},
		Archive: ArchiveConfig{
			Enabled:   false,
			Cron:      "0 30 3 * * *",
			MinAge:    duration{24 * time.Hour},
			KeyPrefix: "battles",
		},
		Server: ServerConfig{
			Enabled:       true,
			Port:          8000,
			CORSOrigins:   []string{"http://localhost:3000"},
			APIRateLimit:  300,
			APIRateWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			NatsSubject: "battles.events",
			Events:      []string{"battle_created", "battle_accepted", "battle_completed", "battle_expired", "battle_refunded", "refund_failed"},
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "battle",
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"api":    true,
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

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: api, worker, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled || c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}
	if c.Archive.Enabled && !c.S3.Enabled {
		errs = append(errs, "archive: requires s3.enabled")
	}

	// Gateway
	if c.Gateway.BaseURL == "" {
		errs = append(errs, "gateway: base_url must not be empty")
	}
	if c.Gateway.APIKey == "" || c.Gateway.APISecret == "" {
		errs = append(errs, "gateway: api_key and api_secret must both be set")
	}
	if c.Gateway.TreasuryWallet == "" {
		errs = append(errs, "gateway: treasury_wallet must not be empty")
	}
	if c.Gateway.Currency == "" {
		errs = append(errs, "gateway: currency must not be empty")
	}
	if c.Gateway.RequestExpiry.Duration < time.Minute {
		errs = append(errs, "gateway: request_expiry must be at least 1m")
	}
	if c.Gateway.PollInterval.Duration <= 0 {
		errs = append(errs, "gateway: poll_interval must be > 0")
	}

	// Payout
	if c.Payout.RelayURL == "" {
		errs = append(errs, "payout: relay_url must not be empty")
	}
	if c.Payout.Secret == "" && c.Payout.EncryptedSecretPath == "" {
		errs = append(errs, "payout: either secret or encrypted_secret_path must be set")
	}
	if c.Payout.EncryptedSecretPath != "" && c.Payout.SecretPassword == "" {
		errs = append(errs, "payout: secret_password is required when encrypted_secret_path is set")
	}

	// Battle
	if c.Battle.AcceptanceWindow.Duration <= 0 {
		errs = append(errs, "battle: acceptance_window must be > 0")
	}
	if c.Battle.VotingWindow.Duration <= 0 {
		errs = append(errs, "battle: voting_window must be > 0")
	}
	for name, v := range map[string]string{
		"start_fee":  c.Battle.StartFee,
		"accept_fee": c.Battle.AcceptFee,
		"vote_fee":   c.Battle.VoteFee,
	} {
		d, err := decimal.NewFromString(v)
		if err != nil || !d.IsPositive() {
			errs = append(errs, fmt.Sprintf("battle: %s must be a positive number, got %q", name, v))
		}
	}

	// Rate limits
	if c.RateLimit.Enabled {
		if c.RateLimit.Window.Duration <= 0 {
			errs = append(errs, "rate_limit: window must be > 0")
		}
		if c.RateLimit.StartLimit < 1 || c.RateLimit.AcceptLimit < 1 || c.RateLimit.VoteLimit < 1 {
			errs = append(errs, "rate_limit: start_limit, accept_limit and vote_limit must be >= 1")
		}
	}

	// Cron schedules
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if c.Sweeper.Enabled {
		for name, spec := range map[string]string{
			"expiry_cron":     c.Sweeper.ExpiryCron,
			"settlement_cron": c.Sweeper.SettlementCron,
			"orphan_cron":     c.Sweeper.OrphanCron,
		} {
			if _, err := parser.Parse(spec); err != nil {
				errs = append(errs, fmt.Sprintf("sweeper: invalid %s %q: %v", name, spec, err))
			}
		}
	}
	if c.Archive.Enabled {
		if _, err := parser.Parse(c.Archive.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("archive: invalid cron %q: %v", c.Archive.Cron, err))
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.AdminKey == "" {
			errs = append(errs, "server: admin_key must be set")
		}
		if c.Server.APIRateLimit > 0 && c.Server.APIRateWindow.Duration <= 0 {
			errs = append(errs, "server: api_rate_window must be > 0 when api_rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
