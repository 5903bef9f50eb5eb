package domain

import "time"

// Bus channels and the durable stream that carry battle events.
const (
	ChannelBattles  = "battles"
	ChannelPayments = "payments"
	ChannelRefunds  = "refunds"
	StreamBattles   = "stream:battles"
)

// Event types published on the bus and forwarded to notifiers.
const (
	EventBattleCreated   = "battle_created"
	EventBattleAccepted  = "battle_accepted"
	EventVoteCast        = "vote_cast"
	EventVotingStarted   = "voting_started"
	EventBattleCompleted = "battle_completed"
	EventBattleExpired   = "battle_expired"
	EventBattleRefunded  = "battle_refunded"
	EventRefundIssued    = "refund_issued"
	EventRefundFailed    = "refund_failed"
	EventOrphanQueued    = "orphan_refund_queued"
	EventPaymentResolved = "payment_resolved"
	EventFeesUpdated     = "fees_updated"
)

// BattleEvent is the envelope published for every lifecycle change.
type BattleEvent struct {
	Type     string         `json:"type"`
	BattleID string         `json:"battleId"`
	Status   BattleStatus   `json:"status,omitempty"`
	Wallet   string         `json:"wallet,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	At       time.Time      `json:"at"`
}
