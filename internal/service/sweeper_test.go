package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/memebattle/internal/domain"
)

func TestSweepExpired_Boundary(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := env.createBattle(t, "rChallenger")

	env.clock.Set(t0.Add(10*time.Hour - time.Second))
	res, err := env.sweeper.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, res)

	env.clock.Set(t0.Add(10 * time.Hour))
	res, err = env.sweeper.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, res, "the deadline itself is still open")

	env.clock.Set(t0.Add(10*time.Hour + time.Second))
	res, err = env.sweeper.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Expired: 1, Refunded: 1}, res)

	b, err = env.battles.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BattleStatusExpired, b.Status)
	assert.True(t, b.Refunds.Challenger.Refunded)
	assert.Equal(t, ExpiredReason, b.Refunds.Challenger.Reason)
	require.Len(t, env.gw.paidTo("rChallenger"), 1)
	assert.Equal(t, "150000", env.gw.paidTo("rChallenger")[0].String())

	res, err = env.sweeper.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, res)
	assert.Equal(t, 1, env.gw.payoutCount())
}

func TestSweepExpired_RetriesFailedRefund(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := env.createBattle(t, "rChallenger")

	env.gw.fail("rChallenger", true)
	env.clock.Advance(11 * time.Hour)
	res, err := env.sweeper.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Expired: 1, Failed: 1}, res)

	b, err = env.battles.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BattleStatusExpired, b.Status)
	assert.False(t, b.Refunds.Challenger.Refunded)

	env.gw.fail("rChallenger", false)
	res, err = env.sweeper.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Refunded: 1}, res)
}

func TestSweepExpired_LeavesAcceptedAlone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := env.createBattle(t, "rChallenger")
	env.accept(t, b.ID, "rAcceptor")

	env.clock.Advance(11 * time.Hour)
	res, err := env.sweeper.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, res)

	b, err = env.battles.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BattleStatusAccepted, b.Status)
}

func TestSweepExpired_ThenAdminRefund(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := env.createBattle(t, "rChallenger")

	env.clock.Advance(11 * time.Hour)
	_, err := env.sweeper.SweepExpired(ctx)
	require.NoError(t, err)

	full, err := env.refunds.RefundFullBattle(ctx, b.ID, "admin")
	require.NoError(t, err)
	assert.True(t, full.Complete)
	assert.Equal(t, domain.BattleStatusRefunded, full.Status)
	assert.Equal(t, 0, full.Payouts)
	assert.Equal(t, RefundAlreadyRefunded, full.Challenger.Status)
	assert.Equal(t, RefundNotApplicable, full.Acceptor.Status)
	assert.Equal(t, 1, env.gw.payoutCount())
}

func TestSweeper_RetryOrphans(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.refunds.QueueOrphanRefund(ctx, domain.OrphanRefund{
		TxHash:  "tx-o",
		Wallet:  "rLoser",
		Amount:  voteFee,
		Purpose: domain.PurposeVote,
		Reason:  "voting closed",
	}))

	res, err := env.sweeper.RetryOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Refunded)
}

func TestSweeper_RunRejectsBadSchedule(t *testing.T) {
	env := newTestEnv(t)
	env.sweeper.cfg.ExpiryCron = "every now and then"

	err := env.sweeper.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expiry")
}

func TestSweeper_RunExtraJob(t *testing.T) {
	env := newTestEnv(t)
	var runs atomic.Int32
	env.sweeper.AddJob(Job{
		Name:     "probe",
		Schedule: "@every 1s",
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.sweeper.Run(ctx) }()

	require.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
