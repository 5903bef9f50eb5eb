package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	s3blob "github.com/alanyoungcy/memebattle/internal/blob/s3"
	"github.com/alanyoungcy/memebattle/internal/cache/redis"
	"github.com/alanyoungcy/memebattle/internal/config"
	"github.com/alanyoungcy/memebattle/internal/crypto"
	"github.com/alanyoungcy/memebattle/internal/domain"
	"github.com/alanyoungcy/memebattle/internal/metrics"
	"github.com/alanyoungcy/memebattle/internal/notify"
	"github.com/alanyoungcy/memebattle/internal/pipeline"
	"github.com/alanyoungcy/memebattle/internal/platform/xumm"
	"github.com/alanyoungcy/memebattle/internal/service"
	"github.com/alanyoungcy/memebattle/internal/store/postgres"
)

// Dependencies bundles every component the application modes run. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Backends
	Redis    *redis.Client
	Postgres *postgres.Client // nil unless postgres.enabled
	S3       *s3blob.Client   // nil unless s3.enabled

	// Stores
	Battles     domain.BattleStore
	Voters      domain.VoterStore
	AuditStore  domain.AuditStore // nil without postgres
	RateLimiter domain.RateLimiter
	EventBus    domain.EventBus

	// Blob storage
	Blobs    *s3blob.ObjectStore    // nil without s3
	Archive  *s3blob.BattleArchiver // nil unless archive.enabled
	Archiver *pipeline.Archiver     // nil unless archive.enabled

	// Services
	Fees     *service.FeePolicy
	Tracker  *service.PaymentTracker
	Refunds  *service.RefundService
	Battle   *service.BattleService
	Sweeper  *service.Sweeper
	Recorder *service.Recorder

	// Observability
	Metrics        *metrics.BattleMetrics // nil when metrics are disabled
	MetricsHandler http.Handler

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: redis: %w", err))
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.Redis = redisClient

	streamMaxLen := int64(10000)
	if cfg.Redis.StreamMaxLen > 0 {
		streamMaxLen = int64(cfg.Redis.StreamMaxLen)
	}

	battles := redis.NewBattleStore(redisClient)
	voters := redis.NewVoterStore(redisClient)
	locks := redis.NewLockManager(redisClient)
	deps.Battles = battles
	deps.Voters = voters
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.EventBus = redis.NewEventBusWithMaxLen(redisClient, streamMaxLen)

	// --- PostgreSQL audit log ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Postgres = pgClient
		deps.AuditStore = postgres.NewAuditStore(pgClient.Pool())
	}

	// --- Metrics ---
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		deps.Metrics = metrics.NewBattleMetricsWithRegistry(cfg.Metrics.Namespace, reg)
		deps.MetricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	}

	deps.Recorder = service.NewRecorder(deps.EventBus, deps.AuditStore, deps.Metrics, logger)

	// --- Payment gateway ---
	relaySecret, err := crypto.LoadSecret(crypto.SecretConfig{
		Raw:           cfg.Payout.Secret,
		EncryptedPath: cfg.Payout.EncryptedSecretPath,
		Password:      cfg.Payout.SecretPassword,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: payout secret: %w", err))
	}
	gateway := xumm.NewGateway(xumm.Options{
		BaseURL:     cfg.Gateway.BaseURL,
		APIKey:      cfg.Gateway.APIKey,
		APISecret:   cfg.Gateway.APISecret,
		Issuer:      cfg.Gateway.Issuer,
		RelayURL:    cfg.Payout.RelayURL,
		RelayKey:    cfg.Payout.APIKey,
		RelaySecret: relaySecret,
		Timeout:     cfg.Gateway.Timeout.Duration,
	})

	// --- Services ---
	defaults, err := feeDefaults(cfg.Battle)
	if err != nil {
		return fail(err)
	}
	deps.Fees = service.NewFeePolicy(redis.NewFeeStore(redisClient), defaults, deps.Recorder, logger)

	deps.Tracker = service.NewPaymentTracker(
		gateway,
		redis.NewPaymentRequestStore(redisClient, redis.DefaultPaymentTTL),
		redis.NewPaymentMarkerStore(redisClient, redis.DefaultPaymentTTL),
		locks,
		service.TrackerConfig{
			Treasury:      cfg.Gateway.TreasuryWallet,
			Currency:      cfg.Gateway.Currency,
			RequestExpiry: cfg.Gateway.RequestExpiry.Duration,
			PollInterval:  cfg.Gateway.PollInterval.Duration,
			WatchInterval: cfg.Gateway.WatcherInterval.Duration,
		},
		deps.Recorder, logger,
	)

	deps.Refunds = service.NewRefundService(
		battles, voters, redis.NewOrphanRefundStore(redisClient), gateway, locks,
		cfg.Gateway.Currency, deps.Recorder, logger,
	)

	deps.Battle = service.NewBattleService(
		battles, voters, deps.Fees, deps.Tracker, deps.Refunds, deps.RateLimiter,
		service.BattleConfig{
			AcceptanceWindow: cfg.Battle.AcceptanceWindow.Duration,
			VotingWindow:     cfg.Battle.VotingWindow.Duration,
			RateLimits: service.RateLimits{
				Enabled: cfg.RateLimit.Enabled,
				Window:  cfg.RateLimit.Window.Duration,
				Start:   cfg.RateLimit.StartLimit,
				Accept:  cfg.RateLimit.AcceptLimit,
				Vote:    cfg.RateLimit.VoteLimit,
			},
		},
		deps.Recorder, logger,
	)

	sweeperCfg := service.SweeperConfig{}
	if cfg.Sweeper.Enabled {
		sweeperCfg = service.SweeperConfig{
			ExpiryCron:     cfg.Sweeper.ExpiryCron,
			SettlementCron: cfg.Sweeper.SettlementCron,
			OrphanCron:     cfg.Sweeper.OrphanCron,
		}
	}
	deps.Sweeper = service.NewSweeper(battles, deps.Battle, deps.Refunds, sweeperCfg, deps.Recorder, logger)

	// --- S3 archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.S3 = s3Client
		deps.Blobs = s3blob.NewObjectStore(s3Client)

		if cfg.Archive.Enabled {
			deps.Archive = s3blob.NewBattleArchiver(
				deps.Blobs, battles, voters, deps.AuditStore, cfg.Archive.KeyPrefix, logger,
			)
			deps.Archiver = pipeline.NewArchiver(deps.Archive, cfg.Archive.MinAge.Duration, logger)
			deps.Sweeper.AddJob(deps.Archiver.Job(cfg.Archive.Cron))
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if cfg.Notify.NatsURL != "" {
		nc, err := notify.ConnectNATS(cfg.Notify.NatsURL, "battled")
		if err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		natsSender := notify.NewNATSSender(nc, cfg.Notify.NatsSubject)
		closers = append(closers, func() { _ = natsSender.Close() })
		senders = append(senders, natsSender)
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

func feeDefaults(cfg config.BattleConfig) (domain.FeeSchedule, error) {
	var fs domain.FeeSchedule
	for _, f := range []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"start_fee", cfg.StartFee, &fs.Start},
		{"accept_fee", cfg.AcceptFee, &fs.Accept},
		{"vote_fee", cfg.VoteFee, &fs.Vote},
	} {
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return domain.FeeSchedule{}, fmt.Errorf("wire: battle.%s: %w", f.name, err)
		}
		*f.dst = d
	}
	return fs, nil
}
