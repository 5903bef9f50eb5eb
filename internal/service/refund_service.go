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

// RefundStatus is the outcome of one party refund attempt.
type RefundStatus string

const (
	RefundRefunded        RefundStatus = "refunded"
	RefundAlreadyRefunded RefundStatus = "already_refunded"
	RefundNotApplicable   RefundStatus = "not_applicable"
	RefundInProgress      RefundStatus = "in_progress"
	RefundFailed          RefundStatus = "failed"
)

// Done reports whether nothing is left to do for the party.
func (s RefundStatus) Done() bool {
	return s == RefundRefunded || s == RefundAlreadyRefunded || s == RefundNotApplicable
}

// PartyRefundOutcome describes one party refund attempt.
type PartyRefundOutcome struct {
	Party  domain.Party    `json:"party"`
	Wallet string          `json:"wallet,omitempty"`
	Amount decimal.Decimal `json:"amount"`
	Status RefundStatus    `json:"status"`
	TxHash string          `json:"txHash,omitempty"`
	Err    string          `json:"error,omitempty"`

	cause error
}

// Cause returns the error behind a failed outcome.
func (o PartyRefundOutcome) Cause() error { return o.cause }

func (o *PartyRefundOutcome) fail(err error) {
	o.Status = RefundFailed
	o.Err = err.Error()
	o.cause = err
}

// VoterRefundSummary aggregates the voter refunds of one battle.
type VoterRefundSummary struct {
	Refunded        int                  `json:"refundedCount"`
	AlreadyRefunded int                  `json:"alreadyRefundedCount"`
	Failed          int                  `json:"failedCount"`
	InProgress      int                  `json:"inProgressCount"`
	TotalVoters     int                  `json:"totalVoters"`
	Outcomes        []PartyRefundOutcome `json:"outcomes,omitempty"`
}

// Outstanding reports whether some voter still has to be refunded.
func (s VoterRefundSummary) Outstanding() bool { return s.Failed+s.InProgress > 0 }

// FullRefundResult is the outcome of RefundFullBattle.
type FullRefundResult struct {
	BattleID   string              `json:"battleId"`
	Status     domain.BattleStatus `json:"status"`
	Complete   bool                `json:"complete"`
	Payouts    int                 `json:"payouts"`
	Challenger PartyRefundOutcome  `json:"challenger"`
	Acceptor   PartyRefundOutcome  `json:"acceptor"`
	Voters     VoterRefundSummary  `json:"voters"`
}

// OrphanRetryResult summarises one pass over the orphan refund queue.
type OrphanRetryResult struct {
	Refunded int `json:"refunded"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
}

// errAlreadyApplied aborts a CAS update that found its work already done.
var errAlreadyApplied = errors.New("already applied")

// errRefundIncomplete aborts the final REFUNDED transition.
var errRefundIncomplete = errors.New("refund incomplete")

const refundLockTTL = 2 * time.Minute

// RefundService pays back fees. Every party refund is independent: it runs
// under its own lock, checks its own flag, pays out with a stable idempotency
// key and sets the flag only after the payout succeeded.
type RefundService struct {
	battles  domain.BattleStore
	voters   domain.VoterStore
	orphans  domain.OrphanRefundStore
	gateway  domain.PaymentGateway
	locks    domain.LockManager
	currency string
	rec      *Recorder
	now      func() time.Time
	logger   *slog.Logger
}

// NewRefundService creates a RefundService.
func NewRefundService(
	battles domain.BattleStore,
	voters domain.VoterStore,
	orphans domain.OrphanRefundStore,
	gateway domain.PaymentGateway,
	locks domain.LockManager,
	currency string,
	rec *Recorder,
	logger *slog.Logger,
) *RefundService {
	return &RefundService{
		battles:  battles,
		voters:   voters,
		orphans:  orphans,
		gateway:  gateway,
		locks:    locks,
		currency: currency,
		rec:      rec,
		now:      time.Now,
		logger:   logger,
	}
}

// RefundChallenger pays back the start fee.
func (s *RefundService) RefundChallenger(ctx context.Context, battleID, reason string) PartyRefundOutcome {
	return s.refundParty(ctx, battleID, domain.PartyChallenger, reason, "", decimal.Zero)
}

// RefundAcceptor pays back the accept fee. Battles without an acceptor
// report not_applicable.
func (s *RefundService) RefundAcceptor(ctx context.Context, battleID, reason string) PartyRefundOutcome {
	return s.refundParty(ctx, battleID, domain.PartyAcceptor, reason, "", decimal.Zero)
}

// RefundParty is the operator variant of RefundChallenger and RefundAcceptor.
// A non-empty wallet must match the party's wallet; a positive amount
// replaces the recorded fee.
func (s *RefundService) RefundParty(ctx context.Context, battleID string, party domain.Party, wallet, reason string, amount decimal.Decimal) PartyRefundOutcome {
	if party != domain.PartyChallenger && party != domain.PartyAcceptor {
		out := PartyRefundOutcome{Party: party}
		out.fail(fmt.Errorf("%w: unsupported party %q", domain.ErrInvalidWallet, party))
		return out
	}
	return s.refundParty(ctx, battleID, party, reason, wallet, amount)
}

func (s *RefundService) refundParty(ctx context.Context, battleID string, party domain.Party, reason, wantWallet string, override decimal.Decimal) (out PartyRefundOutcome) {
	out.Party = party
	defer func() { s.rec.Metrics().RecordRefund(string(party), string(out.Status)) }()

	unlock, err := s.locks.Acquire(ctx, fmt.Sprintf("refund:%s:%s", battleID, party), refundLockTTL)
	if err != nil {
		out.Status = RefundInProgress
		if !errors.Is(err, domain.ErrLockHeld) {
			out.fail(err)
		}
		return out
	}
	defer unlock()

	b, err := s.battles.Get(ctx, battleID)
	if err != nil {
		out.fail(err)
		return out
	}

	var flag domain.PartyRefund
	switch party {
	case domain.PartyChallenger:
		out.Wallet, out.Amount, flag = b.Challenger, b.FeesCharged.Start, b.Refunds.Challenger
	case domain.PartyAcceptor:
		out.Wallet, out.Amount, flag = b.Acceptor, b.FeesCharged.Accept, b.Refunds.Acceptor
	}

	if out.Wallet == "" {
		out.Status = RefundNotApplicable
		return out
	}
	if flag.Refunded {
		out.Status = RefundAlreadyRefunded
		out.Amount = flag.Amount
		out.TxHash = flag.TxHash
		return out
	}
	if wantWallet != "" && wantWallet != out.Wallet {
		out.fail(fmt.Errorf("%w: %s is not the %s of battle %s", domain.ErrInvalidWallet, wantWallet, party, battleID))
		return out
	}
	if override.IsPositive() {
		out.Amount = override
	}
	if !out.Amount.IsPositive() {
		out.Status = RefundNotApplicable
		return out
	}

	txHash, err := s.payout(ctx, out.Wallet, out.Amount, reason, fmt.Sprintf("refund:%s:%s", battleID, party))
	if err != nil {
		return s.failed(ctx, battleID, out, err)
	}
	out.TxHash = txHash

	now := s.now().UTC()
	_, err = s.battles.Update(ctx, battleID, func(b *domain.Battle) error {
		target := &b.Refunds.Challenger
		if party == domain.PartyAcceptor {
			target = &b.Refunds.Acceptor
		}
		if target.Refunded {
			return errAlreadyApplied
		}
		*target = domain.PartyRefund{
			Refunded:   true,
			Amount:     out.Amount,
			Reason:     reason,
			TxHash:     txHash,
			RefundedAt: &now,
		}
		b.UpdatedAt = now
		return nil
	})
	if err != nil && !errors.Is(err, errAlreadyApplied) {
		// The payout went out; a retry reuses the idempotency key and only
		// records the flag.
		s.logger.ErrorContext(ctx, "refund_service: payout sent but flag not recorded",
			slog.String("battle_id", battleID),
			slog.String("party", string(party)),
			slog.String("tx_hash", txHash),
			slog.String("error", err.Error()),
		)
		out.fail(err)
		return out
	}

	out.Status = RefundRefunded
	s.issued(ctx, battleID, out, reason)
	return out
}

// RefundAllVoters pays back every voter who has not been refunded yet. One
// voter's failure never stops the others. voteAmount is used only for voter
// records that carry no amount. The error is non-nil only when the battle or
// its voters cannot be read at all.
func (s *RefundService) RefundAllVoters(ctx context.Context, battleID string, voteAmount decimal.Decimal) (VoterRefundSummary, error) {
	var sum VoterRefundSummary

	b, err := s.battles.Get(ctx, battleID)
	if err != nil {
		return sum, fmt.Errorf("refund_service: get battle %s: %w", battleID, err)
	}
	records, err := s.voters.List(ctx, battleID)
	if err != nil {
		return sum, fmt.Errorf("refund_service: list voters %s: %w", battleID, err)
	}
	sum.TotalVoters = len(records)

	fallback := voteAmount
	if !fallback.IsPositive() {
		fallback = b.FeesCharged.Vote
	}

	for _, v := range records {
		out := s.refundVoter(ctx, v, fallback)
		switch out.Status {
		case RefundRefunded:
			sum.Refunded++
		case RefundAlreadyRefunded:
			sum.AlreadyRefunded++
		case RefundInProgress:
			sum.InProgress++
		case RefundFailed:
			sum.Failed++
		}
		sum.Outcomes = append(sum.Outcomes, out)
	}

	now := s.now().UTC()
	if _, err := s.battles.Update(ctx, battleID, func(b *domain.Battle) error {
		b.Refunds.VotersRefundedCount = sum.Refunded + sum.AlreadyRefunded
		b.Refunds.VotersRefundFailedCount = sum.Failed
		b.Refunds.VotersLastAttemptAt = &now
		b.UpdatedAt = now
		return nil
	}); err != nil {
		s.logger.WarnContext(ctx, "refund_service: record voter counters failed",
			slog.String("battle_id", battleID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "refund_service: voter refunds processed",
		slog.String("battle_id", battleID),
		slog.Int("refunded", sum.Refunded),
		slog.Int("already_refunded", sum.AlreadyRefunded),
		slog.Int("failed", sum.Failed),
		slog.Int("in_progress", sum.InProgress),
		slog.Int("total", sum.TotalVoters),
	)
	return sum, nil
}

func (s *RefundService) refundVoter(ctx context.Context, v domain.VoterRecord, fallback decimal.Decimal) (out PartyRefundOutcome) {
	out = PartyRefundOutcome{Party: domain.PartyVoter, Wallet: v.Wallet, Amount: v.AmountPaid}
	defer func() { s.rec.Metrics().RecordRefund(string(domain.PartyVoter), string(out.Status)) }()

	key := fmt.Sprintf("refund:%s:voter:%s", v.BattleID, v.Wallet)
	unlock, err := s.locks.Acquire(ctx, key, refundLockTTL)
	if err != nil {
		out.Status = RefundInProgress
		if !errors.Is(err, domain.ErrLockHeld) {
			out.fail(err)
		}
		return out
	}
	defer unlock()

	marker, err := s.voters.GetRefund(ctx, v.BattleID, v.Wallet)
	if err != nil {
		out.fail(err)
		return out
	}
	if marker.Refunded {
		out.Status = RefundAlreadyRefunded
		out.Amount = marker.Amount
		out.TxHash = marker.TxHash
		return out
	}
	if !out.Amount.IsPositive() {
		out.Amount = fallback
	}
	if !out.Amount.IsPositive() {
		out.Status = RefundNotApplicable
		return out
	}

	const reason = "battle refunded"
	txHash, err := s.payout(ctx, v.Wallet, out.Amount, reason, key)
	if err != nil {
		return s.failed(ctx, v.BattleID, out, err)
	}
	out.TxHash = txHash

	now := s.now().UTC()
	if err := s.voters.MarkRefunded(ctx, v.BattleID, v.Wallet, domain.PartyRefund{
		Refunded:   true,
		Amount:     out.Amount,
		Reason:     reason,
		TxHash:     txHash,
		RefundedAt: &now,
	}); err != nil {
		s.logger.ErrorContext(ctx, "refund_service: payout sent but voter marker not recorded",
			slog.String("battle_id", v.BattleID),
			slog.String("wallet", v.Wallet),
			slog.String("tx_hash", txHash),
			slog.String("error", err.Error()),
		)
		out.fail(err)
		return out
	}

	out.Status = RefundRefunded
	s.issued(ctx, v.BattleID, out, reason)
	return out
}

// RefundFullBattle unwinds a battle: challenger, acceptor and every voter in
// turn. The battle becomes REFUNDED only when no party is left outstanding;
// otherwise it keeps its status and a later call finishes the missing parts.
// A REFUNDED battle is a no-op and a COMPLETED one cannot be refunded.
func (s *RefundService) RefundFullBattle(ctx context.Context, battleID, reason string) (FullRefundResult, error) {
	res := FullRefundResult{BattleID: battleID}

	b, err := s.battles.Get(ctx, battleID)
	if err != nil {
		return res, fmt.Errorf("refund_service: get battle %s: %w", battleID, err)
	}
	if b.Status == domain.BattleStatusRefunded {
		res.Status = b.Status
		res.Complete = true
		return res, nil
	}

	now := s.now().UTC()
	_, err = s.battles.Update(ctx, battleID, func(b *domain.Battle) error {
		if b.Status == domain.BattleStatusCompleted {
			return fmt.Errorf("%w: battle %s is completed", domain.ErrInvalidTransition, b.ID)
		}
		if b.Cancelled() || b.Status == domain.BattleStatusRefunded {
			return errAlreadyApplied
		}
		b.CancelRequestedAt = &now
		b.CancelReason = reason
		b.UpdatedAt = now
		return nil
	})
	switch {
	case errors.Is(err, errAlreadyApplied):
	case err != nil:
		return res, fmt.Errorf("refund_service: cancel battle %s: %w", battleID, err)
	}

	res.Challenger = s.RefundChallenger(ctx, battleID, reason)
	res.Acceptor = s.RefundAcceptor(ctx, battleID, reason)
	res.Voters, err = s.RefundAllVoters(ctx, battleID, decimal.Zero)
	if err != nil {
		s.logger.WarnContext(ctx, "refund_service: voter refunds not run",
			slog.String("battle_id", battleID),
			slog.String("error", err.Error()),
		)
		res.Voters.Failed++
	}

	res.Payouts = res.Voters.Refunded
	for _, o := range []PartyRefundOutcome{res.Challenger, res.Acceptor} {
		if o.Status == RefundRefunded {
			res.Payouts++
		}
	}

	res.Complete = res.Challenger.Status.Done() && res.Acceptor.Status.Done() && !res.Voters.Outstanding()
	if !res.Complete {
		cur, getErr := s.battles.Get(ctx, battleID)
		if getErr == nil {
			res.Status = cur.Status
		}
		s.logger.WarnContext(ctx, "refund_service: battle refund incomplete",
			slog.String("battle_id", battleID),
			slog.String("challenger", string(res.Challenger.Status)),
			slog.String("acceptor", string(res.Acceptor.Status)),
			slog.Int("voters_failed", res.Voters.Failed),
			slog.Int("voters_in_progress", res.Voters.InProgress),
		)
		return res, nil
	}

	final, err := s.battles.Update(ctx, battleID, func(b *domain.Battle) error {
		if b.Status == domain.BattleStatusRefunded {
			return errAlreadyApplied
		}
		// A vote confirmed while the voters were being paid has no marker yet.
		unpaid, err := s.unrefundedVoters(ctx, battleID)
		if err != nil {
			return err
		}
		if unpaid > 0 {
			return fmt.Errorf("%w: %d voter(s) of battle %s not refunded", errRefundIncomplete, unpaid, battleID)
		}
		return b.TransitionTo(domain.BattleStatusRefunded, s.now().UTC())
	})
	switch {
	case errors.Is(err, errAlreadyApplied):
		res.Status = domain.BattleStatusRefunded
		return res, nil
	case errors.Is(err, errRefundIncomplete):
		res.Complete = false
		res.Voters.InProgress++
		if cur, getErr := s.battles.Get(ctx, battleID); getErr == nil {
			res.Status = cur.Status
		}
		s.logger.WarnContext(ctx, "refund_service: battle refund incomplete",
			slog.String("battle_id", battleID),
			slog.String("error", err.Error()),
		)
		return res, nil
	case err != nil:
		return res, fmt.Errorf("refund_service: mark battle %s refunded: %w", battleID, err)
	}
	res.Status = final.Status

	s.rec.Metrics().RecordTransition(string(final.Status))
	s.rec.Emit(ctx, domain.ChannelBattles, domain.BattleEvent{
		Type:     domain.EventBattleRefunded,
		BattleID: battleID,
		Status:   final.Status,
		Data: map[string]any{
			"reason":  reason,
			"payouts": res.Payouts,
			"voters":  res.Voters.TotalVoters,
		},
		At: s.now().UTC(),
	})
	s.logger.InfoContext(ctx, "refund_service: battle refunded",
		slog.String("battle_id", battleID),
		slog.Int("payouts", res.Payouts),
	)
	return res, nil
}

func (s *RefundService) unrefundedVoters(ctx context.Context, battleID string) (int, error) {
	records, err := s.voters.List(ctx, battleID)
	if err != nil {
		return 0, fmt.Errorf("refund_service: list voters %s: %w", battleID, err)
	}
	var n int
	for _, v := range records {
		marker, err := s.voters.GetRefund(ctx, battleID, v.Wallet)
		if err != nil {
			return 0, fmt.Errorf("refund_service: voter marker %s/%s: %w", battleID, v.Wallet, err)
		}
		if !marker.Refunded {
			n++
		}
	}
	return n, nil
}

// RefundLateVote queues a refund for a vote that was recorded after its
// battle had already closed. Nothing is queued when the voter was paid back
// with the battle. The orphan reuses the voter idempotency key, so it can
// never pay out twice alongside a voter refund.
func (s *RefundService) RefundLateVote(ctx context.Context, v domain.VoterRecord, reason string) error {
	key := fmt.Sprintf("refund:%s:voter:%s", v.BattleID, v.Wallet)
	unlock, err := s.locks.Acquire(ctx, key, refundLockTTL)
	if err != nil {
		return fmt.Errorf("refund_service: late vote %s/%s: %w", v.BattleID, v.Wallet, err)
	}
	defer unlock()

	marker, err := s.voters.GetRefund(ctx, v.BattleID, v.Wallet)
	if err != nil {
		return fmt.Errorf("refund_service: late vote %s/%s: %w", v.BattleID, v.Wallet, err)
	}
	if marker.Refunded {
		return nil
	}
	return s.QueueOrphanRefund(ctx, domain.OrphanRefund{
		TxHash:    v.TxHash,
		BattleID:  v.BattleID,
		Wallet:    v.Wallet,
		Amount:    v.AmountPaid,
		Purpose:   domain.PurposeVote,
		Reason:    reason,
		PayoutKey: key,
	})
}

// QueueOrphanRefund records a collected fee that could not be applied. The
// queue is keyed by transaction hash, so queueing twice is harmless.
func (s *RefundService) QueueOrphanRefund(ctx context.Context, o domain.OrphanRefund) error {
	if o.QueuedAt.IsZero() {
		o.QueuedAt = s.now().UTC()
	}
	added, err := s.orphans.Enqueue(ctx, o)
	if err != nil {
		return fmt.Errorf("refund_service: queue orphan %s: %w", o.TxHash, err)
	}
	if !added {
		return nil
	}

	s.rec.Metrics().RecordOrphan(string(o.Purpose))
	s.rec.Emit(ctx, domain.ChannelRefunds, domain.BattleEvent{
		Type:     domain.EventOrphanQueued,
		BattleID: o.BattleID,
		Wallet:   o.Wallet,
		Data: map[string]any{
			"tx_hash": o.TxHash,
			"purpose": string(o.Purpose),
			"amount":  o.Amount.String(),
			"reason":  o.Reason,
		},
		At: o.QueuedAt,
	})
	s.logger.WarnContext(ctx, "refund_service: fee queued for refund",
		slog.String("battle_id", o.BattleID),
		slog.String("wallet", o.Wallet),
		slog.String("tx_hash", o.TxHash),
		slog.String("purpose", string(o.Purpose)),
		slog.String("reason", o.Reason),
	)
	return nil
}

// RetryOrphanRefunds attempts every outstanding orphan refund once.
func (s *RefundService) RetryOrphanRefunds(ctx context.Context) (OrphanRetryResult, error) {
	var res OrphanRetryResult
	pending, err := s.orphans.ListOutstanding(ctx)
	if err != nil {
		return res, fmt.Errorf("refund_service: list orphans: %w", err)
	}

	for _, o := range pending {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		switch s.retryOrphan(ctx, o.TxHash) {
		case RefundRefunded:
			res.Refunded++
		case RefundFailed:
			res.Failed++
		default:
			res.Skipped++
		}
	}
	return res, nil
}

func (s *RefundService) retryOrphan(ctx context.Context, txHash string) RefundStatus {
	key := "refund:orphan:" + txHash
	unlock, err := s.locks.Acquire(ctx, key, refundLockTTL)
	if err != nil {
		return RefundInProgress
	}
	defer unlock()

	o, err := s.orphans.Get(ctx, txHash)
	if err != nil {
		s.logger.WarnContext(ctx, "refund_service: load orphan failed",
			slog.String("tx_hash", txHash),
			slog.String("error", err.Error()),
		)
		return RefundFailed
	}
	if o.Refunded {
		return RefundAlreadyRefunded
	}

	out := PartyRefundOutcome{Party: partyForPurpose(o.Purpose), Wallet: o.Wallet, Amount: o.Amount}
	payoutKey := key
	if o.PayoutKey != "" {
		payoutKey = o.PayoutKey
	}
	o.Attempts++
	payoutTx, err := s.payout(ctx, o.Wallet, o.Amount, o.Reason, payoutKey)
	if err != nil {
		o.LastError = err.Error()
		if saveErr := s.orphans.Save(ctx, o); saveErr != nil {
			s.logger.WarnContext(ctx, "refund_service: save orphan failed",
				slog.String("tx_hash", txHash),
				slog.String("error", saveErr.Error()),
			)
		}
		out = s.failed(ctx, o.BattleID, out, err)
		s.rec.Metrics().RecordRefund(string(out.Party), string(out.Status))
		return RefundFailed
	}

	now := s.now().UTC()
	o.Refunded = true
	o.PayoutTx = payoutTx
	o.RefundedAt = &now
	o.LastError = ""
	if err := s.orphans.Save(ctx, o); err != nil {
		s.logger.ErrorContext(ctx, "refund_service: payout sent but orphan not recorded",
			slog.String("tx_hash", txHash),
			slog.String("payout_tx", payoutTx),
			slog.String("error", err.Error()),
		)
		return RefundFailed
	}

	out.Status = RefundRefunded
	out.TxHash = payoutTx
	s.rec.Metrics().RecordRefund(string(out.Party), string(out.Status))
	s.issued(ctx, o.BattleID, out, o.Reason)
	return RefundRefunded
}

func (s *RefundService) payout(ctx context.Context, wallet string, amount decimal.Decimal, reason, idempotencyKey string) (string, error) {
	res, err := s.gateway.CreatePayout(ctx, domain.PayoutParams{
		Destination:    wallet,
		Amount:         amount,
		Currency:       s.currency,
		Memo:           "Refund: " + reason,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return "", err
	}
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "payout not successful"
		}
		return "", fmt.Errorf("%w: %s", domain.ErrGateway, msg)
	}
	return res.TxHash, nil
}

func (s *RefundService) failed(ctx context.Context, battleID string, out PartyRefundOutcome, err error) PartyRefundOutcome {
	out.fail(err)
	s.rec.Emit(ctx, domain.ChannelRefunds, domain.BattleEvent{
		Type:     domain.EventRefundFailed,
		BattleID: battleID,
		Wallet:   out.Wallet,
		Data: map[string]any{
			"party":  string(out.Party),
			"amount": out.Amount.String(),
			"error":  out.Err,
		},
		At: s.now().UTC(),
	})
	s.logger.WarnContext(ctx, "refund_service: refund failed",
		slog.String("battle_id", battleID),
		slog.String("party", string(out.Party)),
		slog.String("wallet", out.Wallet),
		slog.String("error", out.Err),
	)
	return out
}

func (s *RefundService) issued(ctx context.Context, battleID string, out PartyRefundOutcome, reason string) {
	s.rec.Emit(ctx, domain.ChannelRefunds, domain.BattleEvent{
		Type:     domain.EventRefundIssued,
		BattleID: battleID,
		Wallet:   out.Wallet,
		Data: map[string]any{
			"party":   string(out.Party),
			"amount":  out.Amount.String(),
			"tx_hash": out.TxHash,
			"reason":  reason,
		},
		At: s.now().UTC(),
	})
	s.logger.InfoContext(ctx, "refund_service: refund issued",
		slog.String("battle_id", battleID),
		slog.String("party", string(out.Party)),
		slog.String("wallet", out.Wallet),
		slog.String("amount", out.Amount.String()),
		slog.String("tx_hash", out.TxHash),
	)
}

func partyForPurpose(p domain.PaymentPurpose) domain.Party {
	switch p {
	case domain.PurposeStart:
		return domain.PartyChallenger
	case domain.PurposeAccept:
		return domain.PartyAcceptor
	default:
		return domain.PartyVoter
	}
}
