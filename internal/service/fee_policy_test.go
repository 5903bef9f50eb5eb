package service

import (
	"context"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/memebattle/internal/cache/redis"
	"github.com/alanyoungcy/memebattle/internal/domain"
)

func newFeePolicy(t *testing.T) (*FeePolicy, *redis.FeeStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := redis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	store := redis.NewFeeStore(c)
	return NewFeePolicy(store, defaultFees, nil, slog.New(slog.DiscardHandler)), store
}

func TestFeePolicy_DefaultsWithoutOverride(t *testing.T) {
	p, _ := newFeePolicy(t)
	fees := p.GetFees(context.Background())
	assert.Equal(t, "150000", fees.Start.String())
	assert.Equal(t, "75000", fees.Accept.String())
	assert.Equal(t, "30000", fees.Vote.String())

	_, err := p.Override(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFeePolicy_SetFees(t *testing.T) {
	p, _ := newFeePolicy(t)
	ctx := context.Background()

	fees, err := p.SetFees(ctx, domain.FeeOverride{
		Start:     decimal.NewFromInt(200000),
		Accept:    decimal.NewFromInt(100000),
		Vote:      decimal.NewFromInt(50000),
		UpdatedBy: "ops",
	})
	require.NoError(t, err)
	assert.Equal(t, "200000", fees.Start.String())
	assert.Equal(t, "50000", p.GetFees(ctx).Vote.String())

	o, err := p.Override(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ops", o.UpdatedBy)
	assert.False(t, o.UpdatedAt.IsZero())

	fees, err = p.SetFees(ctx, domain.FeeOverride{UseDefaults: true})
	require.NoError(t, err)
	assert.Equal(t, "150000", fees.Start.String())
}

func TestFeePolicy_RejectsNonPositive(t *testing.T) {
	p, _ := newFeePolicy(t)
	_, err := p.SetFees(context.Background(), domain.FeeOverride{
		Start:  decimal.NewFromInt(100),
		Accept: decimal.Zero,
		Vote:   decimal.NewFromInt(100),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	assert.Equal(t, "75000", p.GetFees(context.Background()).Accept.String())
}

func TestFeePolicy_FieldFallback(t *testing.T) {
	p, store := newFeePolicy(t)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, domain.FeeOverride{Start: decimal.NewFromInt(1)}))

	fees := p.GetFees(ctx)
	assert.Equal(t, "1", fees.Start.String())
	assert.Equal(t, "75000", fees.Accept.String())
	assert.Equal(t, "30000", fees.Vote.String())
}
