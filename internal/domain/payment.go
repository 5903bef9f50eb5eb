package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentPurpose tags which battle effect a payment pays for.
type PaymentPurpose string

const (
	PurposeStart  PaymentPurpose = "START"
	PurposeAccept PaymentPurpose = "ACCEPT"
	PurposeVote   PaymentPurpose = "VOTE"
)

// PaymentStatus is the tracked state of a payment request.
type PaymentStatus string

const (
	PaymentCreated  PaymentStatus = "CREATED"
	PaymentSigned   PaymentStatus = "SIGNED"
	PaymentRejected PaymentStatus = "REJECTED"
	PaymentExpired  PaymentStatus = "EXPIRED"
)

// IsTerminal reports whether the request can no longer change.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentSigned || s == PaymentRejected || s == PaymentExpired
}

// PaymentRequest is the ephemeral record of one fee collection, keyed by the
// gateway correlation id. It carries everything needed to apply the battle
// effect once the payer signs.
type PaymentRequest struct {
	CorrelationID string          `json:"correlationId"`
	Purpose       PaymentPurpose  `json:"purpose"`
	BattleID      string          `json:"battleId"`
	Wallet        string          `json:"wallet"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Link          string          `json:"link,omitempty"`
	Status        PaymentStatus   `json:"status"`
	TxHash        string          `json:"txHash,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	ExpiresAt     time.Time       `json:"expiresAt"`
	ResolvedAt    *time.Time      `json:"resolvedAt,omitempty"`

	// START payload.
	Mode         BattleMode `json:"mode,omitempty"`
	TargetWallet string     `json:"targetWallet,omitempty"`
	// START and ACCEPT payload.
	ContentRef string `json:"contentRef,omitempty"`
	// VOTE payload.
	Side Side `json:"side,omitempty"`
}

// PaymentRequestParams describes a fee the gateway should collect.
type PaymentRequestParams struct {
	Destination string
	Amount      decimal.Decimal
	Currency    string
	Purpose     string
	PayerWallet string
	Expiry      time.Duration
}

// GatewayPayment is the gateway's answer to a new payment request.
type GatewayPayment struct {
	CorrelationID string
	Link          string
	ExpiresAt     time.Time
}

// GatewayStatus is the observed state of a payment request at the gateway.
// Signed is nil while the payer has not acted.
type GatewayStatus struct {
	Signed   *bool
	Resolved bool
	Expired  bool
	TxHash   string
}

// PayoutParams describes an outbound token transfer from the treasury.
type PayoutParams struct {
	Destination    string
	Amount         decimal.Decimal
	Currency       string
	Memo           string
	IdempotencyKey string
}

// PayoutResult is the outcome reported by the payout relay.
type PayoutResult struct {
	Success bool
	TxHash  string
	Error   string
}

// PaymentGateway wraps the wallet-signing payment service used for every fee
// collection and every refund payout.
type PaymentGateway interface {
	CreatePaymentRequest(ctx context.Context, p PaymentRequestParams) (GatewayPayment, error)
	GetPaymentStatus(ctx context.Context, correlationID string) (GatewayStatus, error)
	CreatePayout(ctx context.Context, p PayoutParams) (PayoutResult, error)
}

// ProcessedPayment is the marker stored under a transaction hash once its
// effect has been applied.
type ProcessedPayment struct {
	TxHash        string         `json:"txHash"`
	CorrelationID string         `json:"correlationId"`
	Purpose       PaymentPurpose `json:"purpose"`
	BattleID      string         `json:"battleId"`
	AppliedAt     time.Time      `json:"appliedAt"`
}

// OrphanRefund is a collected fee whose battle effect could not be applied,
// for example the losing side of an acceptance race. It is retried until the
// payout succeeds.
type OrphanRefund struct {
	TxHash     string          `json:"txHash"`
	BattleID   string          `json:"battleId"`
	Wallet     string          `json:"wallet"`
	Amount     decimal.Decimal `json:"amount"`
	Purpose    PaymentPurpose  `json:"purpose"`
	Reason     string          `json:"reason"`
	Attempts   int             `json:"attempts"`
	LastError  string          `json:"lastError,omitempty"`
	Refunded   bool            `json:"refunded"`
	PayoutTx   string          `json:"payoutTx,omitempty"`
	PayoutKey  string          `json:"payoutKey,omitempty"` // idempotency key override
	QueuedAt   time.Time       `json:"queuedAt"`
	RefundedAt *time.Time      `json:"refundedAt,omitempty"`
}

// FeeSchedule is the current price list for the three paid actions.
type FeeSchedule struct {
	Start  decimal.Decimal `json:"startFee"`
	Accept decimal.Decimal `json:"acceptFee"`
	Vote   decimal.Decimal `json:"voteFee"`
}

// FeeOverride is the admin-written fee configuration. When UseDefaults is
// true the configured defaults apply regardless of the stored values.
type FeeOverride struct {
	UseDefaults bool            `json:"useDefaults"`
	Start       decimal.Decimal `json:"startFee"`
	Accept      decimal.Decimal `json:"acceptFee"`
	Vote        decimal.Decimal `json:"voteFee"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	UpdatedBy   string          `json:"updatedBy,omitempty"`
}
