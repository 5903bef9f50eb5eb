package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/memebattle/internal/domain"
	"github.com/robfig/cron/v3"
)

// ExpiredReason is the refund reason recorded for unaccepted battles.
const ExpiredReason = "expired unaccepted"

// SweeperConfig holds the cron schedules of the periodic jobs. Schedules
// accept an optional seconds field and descriptors such as "@every 1m".
type SweeperConfig struct {
	ExpiryCron     string
	SettlementCron string
	OrphanCron     string
}

// SweepResult summarises one expiry sweep.
type SweepResult struct {
	Expired  int `json:"expired"`
	Refunded int `json:"refunded"`
	Failed   int `json:"failed"`
}

// Job is an extra periodic task run by the Sweeper's scheduler.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// Sweeper runs the time-driven transitions: expiring unaccepted battles,
// settling battles whose voting ended and retrying orphan refunds.
type Sweeper struct {
	battles domain.BattleStore
	manager *BattleService
	refunds *RefundService
	cfg     SweeperConfig
	extra   []Job
	rec     *Recorder
	now     func() time.Time
	logger  *slog.Logger
}

// NewSweeper creates a Sweeper.
func NewSweeper(
	battles domain.BattleStore,
	manager *BattleService,
	refunds *RefundService,
	cfg SweeperConfig,
	rec *Recorder,
	logger *slog.Logger,
) *Sweeper {
	return &Sweeper{
		battles: battles,
		manager: manager,
		refunds: refunds,
		cfg:     cfg,
		rec:     rec,
		now:     time.Now,
		logger:  logger,
	}
}

// AddJob schedules an extra task. It must be called before Run.
func (s *Sweeper) AddJob(j Job) {
	s.extra = append(s.extra, j)
}

// SweepExpired moves every AWAITING_ACCEPTANCE battle past its deadline to
// EXPIRED and refunds its challenger. EXPIRED battles whose challenger refund
// is still missing are retried in the same pass. Concurrent sweeps are safe:
// the status change is a compare-and-set and the refund is idempotent.
func (s *Sweeper) SweepExpired(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := s.now().UTC()

	awaiting, err := s.battles.ListByStatus(ctx, domain.BattleStatusAwaitingAcceptance)
	if err != nil {
		return res, fmt.Errorf("sweeper: list awaiting: %w", err)
	}
	for _, b := range awaiting {
		if !b.AcceptanceExpired(now) {
			continue
		}
		expired, err := s.battles.Update(ctx, b.ID, func(b *domain.Battle) error {
			if b.Status != domain.BattleStatusAwaitingAcceptance || !b.AcceptanceExpired(now) {
				return errAlreadyApplied
			}
			return b.TransitionTo(domain.BattleStatusExpired, now)
		})
		if errors.Is(err, errAlreadyApplied) {
			continue
		}
		if err != nil {
			s.logger.WarnContext(ctx, "sweeper: expire battle failed",
				slog.String("battle_id", b.ID),
				slog.String("error", err.Error()),
			)
			res.Failed++
			continue
		}
		res.Expired++
		s.rec.Metrics().RecordTransition(string(expired.Status))
		s.rec.Emit(ctx, domain.ChannelBattles, domain.BattleEvent{
			Type:     domain.EventBattleExpired,
			BattleID: expired.ID,
			Status:   expired.Status,
			Wallet:   expired.Challenger,
			Data:     map[string]any{"deadline": expired.AcceptanceDeadline.Format(time.RFC3339)},
			At:       now,
		})
	}

	expired, err := s.battles.ListByStatus(ctx, domain.BattleStatusExpired)
	if err != nil {
		return res, fmt.Errorf("sweeper: list expired: %w", err)
	}
	for _, b := range expired {
		if b.Refunds.Challenger.Refunded {
			continue
		}
		out := s.refunds.RefundChallenger(ctx, b.ID, ExpiredReason)
		switch out.Status {
		case RefundRefunded:
			res.Refunded++
		case RefundFailed, RefundInProgress:
			res.Failed++
		}
	}

	if res.Expired+res.Refunded+res.Failed > 0 {
		s.logger.InfoContext(ctx, "sweeper: expiry sweep done",
			slog.Int("expired", res.Expired),
			slog.Int("refunded", res.Refunded),
			slog.Int("failed", res.Failed),
		)
	}
	return res, nil
}

// SettleDue settles every live battle whose voting window has ended and
// returns how many were completed.
func (s *Sweeper) SettleDue(ctx context.Context) (int, error) {
	now := s.now()
	live, err := s.battles.ListByStatus(ctx, domain.BattleStatusAccepted, domain.BattleStatusActiveVoting)
	if err != nil {
		return 0, fmt.Errorf("sweeper: list live: %w", err)
	}
	settled := 0
	for _, b := range live {
		if !b.SettlementDue(now) || b.Cancelled() {
			continue
		}
		if _, err := s.manager.SettleBattle(ctx, b.ID); err != nil {
			s.logger.WarnContext(ctx, "sweeper: settle battle failed",
				slog.String("battle_id", b.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		settled++
	}
	return settled, nil
}

// RetryOrphans retries the queued single-party refunds.
func (s *Sweeper) RetryOrphans(ctx context.Context) (OrphanRetryResult, error) {
	return s.refunds.RetryOrphanRefunds(ctx)
}

// Run schedules the jobs and blocks until ctx is cancelled. Overlapping runs
// of the same job within this process are skipped.
func (s *Sweeper) Run(ctx context.Context) error {
	clog := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithParser(cron.NewParser(
			cron.SecondOptional|cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor,
		)),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
		cron.WithLogger(clog),
	)

	jobs := []Job{
		{Name: "expiry", Schedule: s.cfg.ExpiryCron, Run: func(ctx context.Context) error {
			_, err := s.SweepExpired(ctx)
			return err
		}},
		{Name: "settlement", Schedule: s.cfg.SettlementCron, Run: func(ctx context.Context) error {
			_, err := s.SettleDue(ctx)
			return err
		}},
		{Name: "orphan_refunds", Schedule: s.cfg.OrphanCron, Run: func(ctx context.Context) error {
			_, err := s.RetryOrphans(ctx)
			return err
		}},
	}
	jobs = append(jobs, s.extra...)

	for _, j := range jobs {
		if j.Schedule == "" {
			continue
		}
		if _, err := c.AddFunc(j.Schedule, s.wrap(ctx, j)); err != nil {
			return fmt.Errorf("sweeper: schedule %s %q: %w", j.Name, j.Schedule, err)
		}
		s.logger.InfoContext(ctx, "sweeper: job scheduled",
			slog.String("job", j.Name),
			slog.String("schedule", j.Schedule),
		)
	}

	c.Start()
	<-ctx.Done()

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		s.logger.Warn("sweeper: timed out waiting for running jobs")
	}
	s.logger.Info("sweeper: stopped")
	return nil
}

func (s *Sweeper) wrap(ctx context.Context, j Job) func() {
	return func() {
		start := s.now()
		err := j.Run(ctx)
		s.rec.Metrics().ObserveJob(j.Name, s.now().Sub(start))
		if err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "sweeper: job failed",
				slog.String("job", j.Name),
				slog.String("error", err.Error()),
			)
		}
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{slog.String("error", err.Error())}, keysAndValues...)...)
}
