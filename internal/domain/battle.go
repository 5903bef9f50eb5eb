package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// BattleMode distinguishes open invitations from targeted challenges.
type BattleMode string

const (
	BattleModeOpen   BattleMode = "OPEN"
	BattleModeDirect BattleMode = "DIRECT"
)

// Valid reports whether m is a known mode.
func (m BattleMode) Valid() bool {
	return m == BattleModeOpen || m == BattleModeDirect
}

// BattleStatus is the lifecycle state of a battle.
type BattleStatus string

const (
	BattleStatusAwaitingAcceptance BattleStatus = "AWAITING_ACCEPTANCE"
	BattleStatusAccepted           BattleStatus = "ACCEPTED"
	BattleStatusActiveVoting       BattleStatus = "ACTIVE_VOTING"
	BattleStatusCompleted          BattleStatus = "COMPLETED"
	BattleStatusExpired            BattleStatus = "EXPIRED"
	BattleStatusRefunded           BattleStatus = "REFUNDED"
)

// allowedTransitions enumerates every legal status change. Statuses without
// an entry are terminal.
var allowedTransitions = map[BattleStatus][]BattleStatus{
	BattleStatusAwaitingAcceptance: {BattleStatusAccepted, BattleStatusExpired, BattleStatusRefunded},
	BattleStatusAccepted:           {BattleStatusActiveVoting, BattleStatusCompleted, BattleStatusExpired, BattleStatusRefunded},
	BattleStatusActiveVoting:       {BattleStatusCompleted, BattleStatusExpired, BattleStatusRefunded},
	BattleStatusExpired:            {BattleStatusRefunded},
}

// Valid reports whether s is a known status.
func (s BattleStatus) Valid() bool {
	switch s {
	case BattleStatusAwaitingAcceptance, BattleStatusAccepted, BattleStatusActiveVoting,
		BattleStatusCompleted, BattleStatusExpired, BattleStatusRefunded:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible from s.
func (s BattleStatus) IsTerminal() bool {
	_, ok := allowedTransitions[s]
	return !ok
}

// IsClosed reports whether the battle has left the live part of its
// lifecycle. EXPIRED is closed but may still be force-refunded.
func (s BattleStatus) IsClosed() bool {
	return s == BattleStatusCompleted || s == BattleStatusExpired || s == BattleStatusRefunded
}

// CanTransition reports whether from → to is a legal status change.
func CanTransition(from, to BattleStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Side identifies which meme a vote supports: A is the challenger's content
// and B the acceptor's.
type Side string

const (
	SideA Side = "A"
	SideB Side = "B"
)

// Valid reports whether s is A or B.
func (s Side) Valid() bool {
	return s == SideA || s == SideB
}

// Winner is the settlement outcome.
type Winner string

const (
	WinnerA     Winner = "A"
	WinnerB     Winner = "B"
	WinnerDraw  Winner = "DRAW"
	WinnerNone  Winner = "NONE" // no votes were cast
	WinnerUnset Winner = ""
)

// Party names a refundable participant role.
type Party string

const (
	PartyChallenger Party = "challenger"
	PartyAcceptor   Party = "acceptor"
	PartyVoter      Party = "voter"
)

// FeesCharged is the snapshot of what each participant role actually paid.
// Values are written once when the corresponding payment is applied and are
// never recomputed from the current fee policy.
type FeesCharged struct {
	Start  decimal.Decimal `json:"start"`
	Accept decimal.Decimal `json:"accept"`
	Vote   decimal.Decimal `json:"vote"`
}

// PartyRefund records a completed refund to one participant. It is written
// only after the payout succeeded and is never cleared.
type PartyRefund struct {
	Refunded   bool            `json:"refunded"`
	Amount     decimal.Decimal `json:"amount"`
	Reason     string          `json:"reason,omitempty"`
	TxHash     string          `json:"txHash,omitempty"`
	RefundedAt *time.Time      `json:"refundedAt,omitempty"`
}

// RefundState is the per-battle refund bookkeeping.
type RefundState struct {
	Challenger              PartyRefund `json:"challenger"`
	Acceptor                PartyRefund `json:"acceptor"`
	VotersRefundedCount     int         `json:"votersRefundedCount"`
	VotersRefundFailedCount int         `json:"votersRefundFailedCount"`
	VotersLastAttemptAt     *time.Time  `json:"votersLastAttemptAt,omitempty"`
}

// VoteTally counts confirmed votes per side.
type VoteTally struct {
	A int `json:"a"`
	B int `json:"b"`
}

// Total returns the number of counted votes.
func (t VoteTally) Total() int { return t.A + t.B }

// Winner derives the settlement outcome from the tally.
func (t VoteTally) Winner() Winner {
	switch {
	case t.Total() == 0:
		return WinnerNone
	case t.A > t.B:
		return WinnerA
	case t.B > t.A:
		return WinnerB
	default:
		return WinnerDraw
	}
}

// Battle is the central aggregate: a staked meme duel between a challenger
// and an acceptor with a public, fee-bearing voting phase.
type Battle struct {
	ID                   string       `json:"id"`
	Mode                 BattleMode   `json:"mode"`
	TargetWallet         string       `json:"targetWallet,omitempty"`
	Status               BattleStatus `json:"status"`
	Challenger           string       `json:"challenger"`
	ChallengerContentRef string       `json:"challengerContentRef"`
	Acceptor             string       `json:"acceptor,omitempty"`
	AcceptorContentRef   string       `json:"acceptorContentRef,omitempty"`

	FeesCharged  FeesCharged `json:"feesCharged"`
	StartTxHash  string      `json:"startTxHash,omitempty"`
	AcceptTxHash string      `json:"acceptTxHash,omitempty"`
	Tally        VoteTally   `json:"voteTally"`
	Winner       Winner      `json:"winner,omitempty"`
	Refunds      RefundState `json:"refundState"`

	CreatedAt          time.Time  `json:"createdAt"`
	AcceptanceDeadline time.Time  `json:"acceptanceDeadline"`
	AcceptedAt         *time.Time `json:"acceptedAt,omitempty"`
	VotingEndsAt       *time.Time `json:"votingEndsAt,omitempty"`
	CompletedAt        *time.Time `json:"completedAt,omitempty"`
	ExpiredAt          *time.Time `json:"expiredAt,omitempty"`
	RefundedAt         *time.Time `json:"refundedAt,omitempty"`
	CancelRequestedAt  *time.Time `json:"cancelRequestedAt,omitempty"`
	CancelReason       string     `json:"cancelReason,omitempty"`
	ArchivedAt         *time.Time `json:"archivedAt,omitempty"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// TransitionTo moves the battle to status next, stamping the matching
// timestamp. Illegal transitions return ErrInvalidTransition and leave b
// untouched.
func (b *Battle) TransitionTo(next BattleStatus, now time.Time) error {
	if !CanTransition(b.Status, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, next)
	}
	b.Status = next
	b.UpdatedAt = now
	switch next {
	case BattleStatusCompleted:
		b.CompletedAt = &now
	case BattleStatusExpired:
		b.ExpiredAt = &now
	case BattleStatusRefunded:
		b.RefundedAt = &now
	}
	return nil
}

// Cancelled reports whether a full refund has been requested.
func (b *Battle) Cancelled() bool { return b.CancelRequestedAt != nil }

// AcceptanceExpired reports whether the acceptance window has closed at now.
// The deadline instant itself still belongs to the window.
func (b *Battle) AcceptanceExpired(now time.Time) bool {
	return now.After(b.AcceptanceDeadline)
}

// CheckAcceptable returns nil when wallet may accept the battle at now.
func (b *Battle) CheckAcceptable(wallet string, now time.Time) error {
	if b.Acceptor != "" {
		return ErrAlreadyAccepted
	}
	if b.Status != BattleStatusAwaitingAcceptance || b.Cancelled() || b.AcceptanceExpired(now) {
		return fmt.Errorf("%w: status %s", ErrBattleNotAcceptable, b.Status)
	}
	if wallet == b.Challenger {
		return fmt.Errorf("%w: challenger cannot accept own battle", ErrBattleNotAcceptable)
	}
	if b.Mode == BattleModeDirect && wallet != b.TargetWallet {
		return fmt.Errorf("%w: battle is reserved for another wallet", ErrBattleNotAcceptable)
	}
	return nil
}

// VotingOpen reports whether votes are accepted at now.
func (b *Battle) VotingOpen(now time.Time) bool {
	if b.Status != BattleStatusAccepted && b.Status != BattleStatusActiveVoting {
		return false
	}
	if b.Cancelled() || b.VotingEndsAt == nil {
		return false
	}
	return now.Before(*b.VotingEndsAt)
}

// SettlementDue reports whether the voting window has ended and the battle
// still awaits settlement.
func (b *Battle) SettlementDue(now time.Time) bool {
	if b.Status != BattleStatusAccepted && b.Status != BattleStatusActiveVoting {
		return false
	}
	return b.VotingEndsAt != nil && !now.Before(*b.VotingEndsAt)
}

// WalletForSide returns the participant whose content stands for side.
func (b *Battle) WalletForSide(s Side) string {
	if s == SideA {
		return b.Challenger
	}
	return b.Acceptor
}

// VoterRecord is the immutable record of one wallet's paid vote.
type VoterRecord struct {
	BattleID   string          `json:"battleId"`
	Wallet     string          `json:"wallet"`
	Side       Side            `json:"side"`
	AmountPaid decimal.Decimal `json:"amountPaid"`
	TxHash     string          `json:"txHash"`
	PaidAt     time.Time       `json:"paidAt"`
}
