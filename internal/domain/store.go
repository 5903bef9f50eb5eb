package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// BattleStore persists battles. Update is the only write path after Create:
// it re-reads the battle, applies fn, and commits only if nobody else wrote
// the battle in between.
type BattleStore interface {
	Create(ctx context.Context, b Battle) error
	Get(ctx context.Context, id string) (Battle, error)
	Update(ctx context.Context, id string, fn func(*Battle) error) (Battle, error)
	List(ctx context.Context, opts ListOpts) ([]Battle, error)
	ListByStatus(ctx context.Context, statuses ...BattleStatus) ([]Battle, error)
}

// VoterStore persists one immutable record per (battle, wallet) plus the
// per-voter refund markers.
type VoterStore interface {
	// Add stores rec unless the wallet already voted, in which case it returns
	// the existing record and ErrAlreadyExists.
	Add(ctx context.Context, rec VoterRecord) (VoterRecord, error)
	Get(ctx context.Context, battleID, wallet string) (VoterRecord, error)
	List(ctx context.Context, battleID string) ([]VoterRecord, error)
	GetRefund(ctx context.Context, battleID, wallet string) (PartyRefund, error)
	MarkRefunded(ctx context.Context, battleID, wallet string, r PartyRefund) error
}

// PaymentRequestStore holds in-flight payment requests until they expire.
type PaymentRequestStore interface {
	Save(ctx context.Context, req PaymentRequest) error
	Get(ctx context.Context, correlationID string) (PaymentRequest, error)
	ListPending(ctx context.Context) ([]PaymentRequest, error)
}

// PaymentMarkerStore records which transactions have been applied.
type PaymentMarkerStore interface {
	Get(ctx context.Context, txHash string) (ProcessedPayment, error)
	// Mark stores the marker. It returns false when a marker already existed.
	Mark(ctx context.Context, m ProcessedPayment) (bool, error)
}

// OrphanRefundStore holds collected fees that must be paid back.
type OrphanRefundStore interface {
	// Enqueue stores r unless an entry for the same transaction exists.
	Enqueue(ctx context.Context, r OrphanRefund) (bool, error)
	Get(ctx context.Context, txHash string) (OrphanRefund, error)
	Save(ctx context.Context, r OrphanRefund) error
	ListOutstanding(ctx context.Context) ([]OrphanRefund, error)
}

// FeeStore persists the admin fee override.
type FeeStore interface {
	Get(ctx context.Context) (FeeOverride, error)
	Set(ctx context.Context, o FeeOverride) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	BattleID  string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListByBattle(ctx context.Context, battleID string, limit int) ([]AuditEntry, error)
}
