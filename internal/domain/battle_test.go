package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func awaitingBattle(t0 time.Time) Battle {
	return Battle{
		ID:                 "b1",
		Mode:               BattleModeOpen,
		Status:             BattleStatusAwaitingAcceptance,
		Challenger:         "rChallenger",
		CreatedAt:          t0,
		AcceptanceDeadline: t0.Add(10 * time.Hour),
	}
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from, to BattleStatus
		ok       bool
	}{
		{BattleStatusAwaitingAcceptance, BattleStatusAccepted, true},
		{BattleStatusAwaitingAcceptance, BattleStatusExpired, true},
		{BattleStatusAwaitingAcceptance, BattleStatusRefunded, true},
		{BattleStatusAwaitingAcceptance, BattleStatusCompleted, false},
		{BattleStatusAccepted, BattleStatusActiveVoting, true},
		{BattleStatusActiveVoting, BattleStatusAccepted, false},
		{BattleStatusActiveVoting, BattleStatusCompleted, true},
		{BattleStatusExpired, BattleStatusRefunded, true},
		{BattleStatusExpired, BattleStatusAccepted, false},
		{BattleStatusCompleted, BattleStatusRefunded, false},
		{BattleStatusRefunded, BattleStatusExpired, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
	assert.True(t, BattleStatusCompleted.IsTerminal())
	assert.True(t, BattleStatusRefunded.IsTerminal())
	assert.False(t, BattleStatusExpired.IsTerminal())
}

func TestTransitionToStampsTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := awaitingBattle(now)

	err := b.TransitionTo(BattleStatusCompleted, now)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, BattleStatusAwaitingAcceptance, b.Status)

	require.NoError(t, b.TransitionTo(BattleStatusExpired, now))
	require.NotNil(t, b.ExpiredAt)
	assert.Equal(t, now, *b.ExpiredAt)
}

func TestAcceptanceBoundary(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	b := awaitingBattle(t0)

	assert.False(t, b.AcceptanceExpired(t0.Add(10*time.Hour-time.Second)))
	assert.NoError(t, b.CheckAcceptable("rAcceptor", t0.Add(10*time.Hour-time.Second)))
	assert.True(t, b.AcceptanceExpired(t0.Add(10*time.Hour+time.Second)))
	assert.ErrorIs(t, b.CheckAcceptable("rAcceptor", t0.Add(10*time.Hour+time.Second)), ErrBattleNotAcceptable)
}

func TestCheckAcceptable(t *testing.T) {
	t0 := time.Now()
	b := awaitingBattle(t0)

	assert.ErrorIs(t, b.CheckAcceptable("rChallenger", t0), ErrBattleNotAcceptable)

	direct := b
	direct.Mode = BattleModeDirect
	direct.TargetWallet = "rTarget"
	assert.ErrorIs(t, direct.CheckAcceptable("rSomeoneElse", t0), ErrBattleNotAcceptable)
	assert.NoError(t, direct.CheckAcceptable("rTarget", t0))

	taken := b
	taken.Acceptor = "rFirst"
	assert.ErrorIs(t, taken.CheckAcceptable("rSecond", t0), ErrAlreadyAccepted)

	cancelled := b
	cancelled.CancelRequestedAt = &t0
	assert.ErrorIs(t, cancelled.CheckAcceptable("rAcceptor", t0), ErrBattleNotAcceptable)
}

func TestVotingWindow(t *testing.T) {
	t0 := time.Now()
	ends := t0.Add(24 * time.Hour)
	b := awaitingBattle(t0)
	assert.False(t, b.VotingOpen(t0))

	b.Status = BattleStatusAccepted
	b.VotingEndsAt = &ends
	assert.True(t, b.VotingOpen(t0))
	assert.False(t, b.SettlementDue(t0))
	assert.False(t, b.VotingOpen(ends))
	assert.True(t, b.SettlementDue(ends))
}

func TestTallyWinner(t *testing.T) {
	assert.Equal(t, WinnerNone, VoteTally{}.Winner())
	assert.Equal(t, WinnerA, VoteTally{A: 3, B: 1}.Winner())
	assert.Equal(t, WinnerB, VoteTally{A: 0, B: 1}.Winner())
	assert.Equal(t, WinnerDraw, VoteTally{A: 2, B: 2}.Winner())
}
