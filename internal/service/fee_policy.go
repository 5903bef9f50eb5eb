package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/memebattle/internal/domain"
	"github.com/shopspring/decimal"
)

// FeePolicy resolves the fee schedule: the admin override when one is stored
// and enabled, otherwise the configured defaults.
type FeePolicy struct {
	store    domain.FeeStore
	defaults domain.FeeSchedule
	rec      *Recorder
	now      func() time.Time
	logger   *slog.Logger
}

// NewFeePolicy creates a FeePolicy.
func NewFeePolicy(store domain.FeeStore, defaults domain.FeeSchedule, rec *Recorder, logger *slog.Logger) *FeePolicy {
	return &FeePolicy{
		store:    store,
		defaults: defaults,
		rec:      rec,
		now:      time.Now,
		logger:   logger,
	}
}

// Defaults returns the configured fallback schedule.
func (p *FeePolicy) Defaults() domain.FeeSchedule { return p.defaults }

// GetFees returns the schedule in effect. A store failure falls back to the
// defaults so fee collection never stalls on the override.
func (p *FeePolicy) GetFees(ctx context.Context) domain.FeeSchedule {
	o, err := p.store.Get(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			p.logger.WarnContext(ctx, "fee_policy: load override failed, using defaults",
				slog.String("error", err.Error()),
			)
		}
		return p.defaults
	}
	if o.UseDefaults {
		return p.defaults
	}
	return domain.FeeSchedule{
		Start:  orDefault(o.Start, p.defaults.Start),
		Accept: orDefault(o.Accept, p.defaults.Accept),
		Vote:   orDefault(o.Vote, p.defaults.Vote),
	}
}

// Override returns the stored override, if any.
func (p *FeePolicy) Override(ctx context.Context) (domain.FeeOverride, error) {
	return p.store.Get(ctx)
}

// SetFees stores a new override. Amounts must be positive unless the
// override only switches back to the defaults.
func (p *FeePolicy) SetFees(ctx context.Context, o domain.FeeOverride) (domain.FeeSchedule, error) {
	if !o.UseDefaults {
		for name, v := range map[string]decimal.Decimal{"start": o.Start, "accept": o.Accept, "vote": o.Vote} {
			if !v.IsPositive() {
				return domain.FeeSchedule{}, fmt.Errorf("fee_policy: %s fee %s: %w", name, v, domain.ErrInvalidAmount)
			}
		}
	}
	o.UpdatedAt = p.now().UTC()
	if err := p.store.Set(ctx, o); err != nil {
		return domain.FeeSchedule{}, fmt.Errorf("fee_policy: store override: %w", err)
	}

	fees := p.GetFees(ctx)
	p.rec.Emit(ctx, domain.ChannelBattles, domain.BattleEvent{
		Type: domain.EventFeesUpdated,
		Data: map[string]any{
			"use_defaults": o.UseDefaults,
			"start_fee":    fees.Start.String(),
			"accept_fee":   fees.Accept.String(),
			"vote_fee":     fees.Vote.String(),
			"updated_by":   o.UpdatedBy,
		},
		At: o.UpdatedAt,
	})
	p.logger.InfoContext(ctx, "fee_policy: fees updated",
		slog.Bool("use_defaults", o.UseDefaults),
		slog.String("start", fees.Start.String()),
		slog.String("accept", fees.Accept.String()),
		slog.String("vote", fees.Vote.String()),
	)
	return fees, nil
}

func orDefault(v, def decimal.Decimal) decimal.Decimal {
	if v.IsPositive() {
		return v
	}
	return def
}
