package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/memebattle/internal/domain"
	"github.com/google/uuid"
)

// Rate limit actions.
const (
	actionStart  = "battle_start"
	actionAccept = "battle_accept"
	actionVote   = "battle_vote"
)

// RateLimits caps paid actions per wallet within Window. A zero limit
// disables the check for that action.
type RateLimits struct {
	Enabled bool
	Window  time.Duration
	Start   int
	Accept  int
	Vote    int
}

// BattleConfig configures a BattleService.
type BattleConfig struct {
	AcceptanceWindow time.Duration
	VotingWindow     time.Duration
	RateLimits       RateLimits
}

// CreateBattleInput is the request to open a battle.
type CreateBattleInput struct {
	Challenger   string
	ContentRef   string
	Mode         domain.BattleMode
	TargetWallet string
}

// CreateBattleResult carries the id the battle will get once the start fee
// is paid, and the payment request to sign.
type CreateBattleResult struct {
	BattleID string                `json:"battleId"`
	Payment  domain.PaymentRequest `json:"payment"`
}

// BattleService owns battle creation, acceptance, voting and settlement.
// Every paid action only creates a payment request; the state change
// happens in the matching applier once the payment is confirmed.
type BattleService struct {
	battles domain.BattleStore
	voters  domain.VoterStore
	fees    *FeePolicy
	tracker *PaymentTracker
	refunds *RefundService
	limiter domain.RateLimiter
	cfg     BattleConfig
	rec     *Recorder
	now     func() time.Time
	newID   func() string
	logger  *slog.Logger
}

// NewBattleService creates a BattleService and registers its payment
// appliers on tracker.
func NewBattleService(
	battles domain.BattleStore,
	voters domain.VoterStore,
	fees *FeePolicy,
	tracker *PaymentTracker,
	refunds *RefundService,
	limiter domain.RateLimiter,
	cfg BattleConfig,
	rec *Recorder,
	logger *slog.Logger,
) *BattleService {
	if cfg.AcceptanceWindow <= 0 {
		cfg.AcceptanceWindow = 10 * time.Hour
	}
	if cfg.VotingWindow <= 0 {
		cfg.VotingWindow = 24 * time.Hour
	}
	s := &BattleService{
		battles: battles,
		voters:  voters,
		fees:    fees,
		tracker: tracker,
		refunds: refunds,
		limiter: limiter,
		cfg:     cfg,
		rec:     rec,
		now:     time.Now,
		newID:   uuid.NewString,
		logger:  logger,
	}
	tracker.Register(domain.PurposeStart, PaymentApplierFunc(s.applyStart))
	tracker.Register(domain.PurposeAccept, PaymentApplierFunc(s.applyAccept))
	tracker.Register(domain.PurposeVote, PaymentApplierFunc(s.applyVote))
	return s
}

// CreateBattle validates the challenge and requests the start fee. The
// battle itself is stored only when that payment is confirmed.
func (s *BattleService) CreateBattle(ctx context.Context, in CreateBattleInput) (CreateBattleResult, error) {
	in.Challenger = strings.TrimSpace(in.Challenger)
	in.TargetWallet = strings.TrimSpace(in.TargetWallet)
	in.ContentRef = strings.TrimSpace(in.ContentRef)

	if in.Challenger == "" {
		return CreateBattleResult{}, fmt.Errorf("%w: challenger wallet required", domain.ErrInvalidWallet)
	}
	switch in.Mode {
	case domain.BattleModeDirect:
		if in.TargetWallet == "" {
			return CreateBattleResult{}, fmt.Errorf("%w: direct battle needs a target wallet", domain.ErrInvalidMode)
		}
		if in.TargetWallet == in.Challenger {
			return CreateBattleResult{}, fmt.Errorf("%w: cannot target own wallet", domain.ErrInvalidMode)
		}
	case domain.BattleModeOpen:
		in.TargetWallet = ""
	default:
		return CreateBattleResult{}, fmt.Errorf("%w: %q", domain.ErrInvalidMode, in.Mode)
	}
	if in.ContentRef == "" {
		return CreateBattleResult{}, domain.ErrContentRequired
	}
	if err := s.checkRate(ctx, actionStart, in.Challenger, s.cfg.RateLimits.Start); err != nil {
		return CreateBattleResult{}, err
	}

	fees := s.fees.GetFees(ctx)
	id := s.newID()
	req, err := s.tracker.Request(ctx, domain.PaymentRequest{
		Purpose:      domain.PurposeStart,
		BattleID:     id,
		Wallet:       in.Challenger,
		Amount:       fees.Start,
		Mode:         in.Mode,
		TargetWallet: in.TargetWallet,
		ContentRef:   in.ContentRef,
	})
	if err != nil {
		return CreateBattleResult{}, fmt.Errorf("battle_service: create battle: %w", err)
	}
	return CreateBattleResult{BattleID: id, Payment: req}, nil
}

// AcceptBattle validates the acceptance and requests the accept fee.
func (s *BattleService) AcceptBattle(ctx context.Context, battleID, wallet, contentRef string) (domain.PaymentRequest, error) {
	wallet = strings.TrimSpace(wallet)
	contentRef = strings.TrimSpace(contentRef)
	if wallet == "" {
		return domain.PaymentRequest{}, fmt.Errorf("%w: acceptor wallet required", domain.ErrInvalidWallet)
	}
	if contentRef == "" {
		return domain.PaymentRequest{}, domain.ErrContentRequired
	}

	b, err := s.battles.Get(ctx, battleID)
	if err != nil {
		return domain.PaymentRequest{}, err
	}
	if err := b.CheckAcceptable(wallet, s.now()); err != nil {
		return domain.PaymentRequest{}, err
	}
	if err := s.checkRate(ctx, actionAccept, wallet, s.cfg.RateLimits.Accept); err != nil {
		return domain.PaymentRequest{}, err
	}

	fees := s.fees.GetFees(ctx)
	req, err := s.tracker.Request(ctx, domain.PaymentRequest{
		Purpose:    domain.PurposeAccept,
		BattleID:   battleID,
		Wallet:     wallet,
		Amount:     fees.Accept,
		ContentRef: contentRef,
	})
	if err != nil {
		return domain.PaymentRequest{}, fmt.Errorf("battle_service: accept battle %s: %w", battleID, err)
	}
	return req, nil
}

// CastVote validates the vote and requests the vote fee.
func (s *BattleService) CastVote(ctx context.Context, battleID, wallet string, side domain.Side) (domain.PaymentRequest, error) {
	wallet = strings.TrimSpace(wallet)
	if !side.Valid() {
		return domain.PaymentRequest{}, fmt.Errorf("%w: %q", domain.ErrInvalidSide, side)
	}
	if wallet == "" {
		return domain.PaymentRequest{}, fmt.Errorf("%w: voter wallet required", domain.ErrInvalidWallet)
	}

	b, err := s.battles.Get(ctx, battleID)
	if err != nil {
		return domain.PaymentRequest{}, err
	}
	if !b.VotingOpen(s.now()) {
		return domain.PaymentRequest{}, fmt.Errorf("%w: battle %s is %s", domain.ErrVotingClosed, battleID, b.Status)
	}
	if _, err := s.voters.Get(ctx, battleID, wallet); err == nil {
		return domain.PaymentRequest{}, domain.ErrDuplicateVote
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.PaymentRequest{}, fmt.Errorf("battle_service: check voter: %w", err)
	}
	if err := s.checkRate(ctx, actionVote, wallet, s.cfg.RateLimits.Vote); err != nil {
		return domain.PaymentRequest{}, err
	}

	fees := s.fees.GetFees(ctx)
	req, err := s.tracker.Request(ctx, domain.PaymentRequest{
		Purpose:  domain.PurposeVote,
		BattleID: battleID,
		Wallet:   wallet,
		Amount:   fees.Vote,
		Side:     side,
	})
	if err != nil {
		return domain.PaymentRequest{}, fmt.Errorf("battle_service: cast vote on %s: %w", battleID, err)
	}
	return req, nil
}

// SettleBattle completes a battle whose voting window has ended and records
// the winner. Settling a completed battle returns it unchanged.
func (s *BattleService) SettleBattle(ctx context.Context, battleID string) (domain.Battle, error) {
	tally, err := s.countVotes(ctx, battleID)
	if err != nil {
		return domain.Battle{}, err
	}

	now := s.now().UTC()
	b, err := s.battles.Update(ctx, battleID, func(b *domain.Battle) error {
		if b.Status == domain.BattleStatusCompleted {
			return errAlreadyApplied
		}
		if b.Cancelled() {
			return fmt.Errorf("%w: battle %s is being refunded", domain.ErrInvalidTransition, b.ID)
		}
		if !b.SettlementDue(now) {
			return fmt.Errorf("%w: battle %s is %s and not due", domain.ErrInvalidTransition, b.ID, b.Status)
		}
		if tally.Total() >= b.Tally.Total() {
			b.Tally = tally
		}
		b.Winner = b.Tally.Winner()
		return b.TransitionTo(domain.BattleStatusCompleted, now)
	})
	if errors.Is(err, errAlreadyApplied) {
		return s.battles.Get(ctx, battleID)
	}
	if err != nil {
		return domain.Battle{}, err
	}

	s.transitioned(ctx, domain.EventBattleCompleted, b, "", map[string]any{
		"winner":  string(b.Winner),
		"votes_a": b.Tally.A,
		"votes_b": b.Tally.B,
	})
	return b, nil
}

// GetBattle returns one battle.
func (s *BattleService) GetBattle(ctx context.Context, battleID string) (domain.Battle, error) {
	return s.battles.Get(ctx, battleID)
}

// ListBattles returns battles in the given status, or the newest battles
// when status is empty.
func (s *BattleService) ListBattles(ctx context.Context, status domain.BattleStatus, opts domain.ListOpts) ([]domain.Battle, error) {
	if status == "" {
		return s.battles.List(ctx, opts)
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, status)
	}
	return s.battles.ListByStatus(ctx, status)
}

// ListVoters returns the voters of a battle.
func (s *BattleService) ListVoters(ctx context.Context, battleID string) ([]domain.VoterRecord, error) {
	if _, err := s.battles.Get(ctx, battleID); err != nil {
		return nil, err
	}
	return s.voters.List(ctx, battleID)
}

func (s *BattleService) applyStart(ctx context.Context, req domain.PaymentRequest) error {
	now := s.now().UTC()
	b := domain.Battle{
		ID:                   req.BattleID,
		Mode:                 req.Mode,
		TargetWallet:         req.TargetWallet,
		Status:               domain.BattleStatusAwaitingAcceptance,
		Challenger:           req.Wallet,
		ChallengerContentRef: req.ContentRef,
		FeesCharged:          domain.FeesCharged{Start: req.Amount},
		StartTxHash:          req.TxHash,
		CreatedAt:            now,
		AcceptanceDeadline:   now.Add(s.cfg.AcceptanceWindow),
		UpdatedAt:            now,
	}

	err := s.battles.Create(ctx, b)
	if errors.Is(err, domain.ErrAlreadyExists) {
		existing, getErr := s.battles.Get(ctx, req.BattleID)
		if getErr != nil {
			return getErr
		}
		if existing.StartTxHash == req.TxHash {
			return nil
		}
		return s.orphan(ctx, req, "battle id already taken")
	}
	if err != nil {
		return err
	}

	s.transitioned(ctx, domain.EventBattleCreated, b, b.Challenger, map[string]any{
		"mode":      string(b.Mode),
		"target":    b.TargetWallet,
		"start_fee": b.FeesCharged.Start.String(),
		"deadline":  b.AcceptanceDeadline.Format(time.RFC3339),
		"content":   b.ChallengerContentRef,
		"start_tx":  b.StartTxHash,
	})
	return nil
}

func (s *BattleService) applyAccept(ctx context.Context, req domain.PaymentRequest) error {
	now := s.now().UTC()
	b, err := s.battles.Update(ctx, req.BattleID, func(b *domain.Battle) error {
		if b.AcceptTxHash == req.TxHash && b.Acceptor == req.Wallet {
			return errAlreadyApplied
		}
		if err := b.CheckAcceptable(req.Wallet, now); err != nil {
			return err
		}
		if err := b.TransitionTo(domain.BattleStatusAccepted, now); err != nil {
			return err
		}
		votingEnds := now.Add(s.cfg.VotingWindow)
		b.Acceptor = req.Wallet
		b.AcceptorContentRef = req.ContentRef
		b.FeesCharged.Accept = req.Amount
		b.AcceptTxHash = req.TxHash
		b.AcceptedAt = &now
		b.VotingEndsAt = &votingEnds
		return nil
	})
	switch {
	case errors.Is(err, errAlreadyApplied):
		return nil
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrBattleNotAcceptable),
		errors.Is(err, domain.ErrAlreadyAccepted),
		errors.Is(err, domain.ErrInvalidTransition):
		return s.orphan(ctx, req, err.Error())
	case err != nil:
		return err
	}

	s.transitioned(ctx, domain.EventBattleAccepted, b, b.Acceptor, map[string]any{
		"accept_fee":     b.FeesCharged.Accept.String(),
		"voting_ends_at": b.VotingEndsAt.Format(time.RFC3339),
		"content":        b.AcceptorContentRef,
		"accept_tx":      b.AcceptTxHash,
	})
	return nil
}

func (s *BattleService) applyVote(ctx context.Context, req domain.PaymentRequest) error {
	now := s.now().UTC()
	b, err := s.battles.Get(ctx, req.BattleID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return s.orphan(ctx, req, "battle not found")
		}
		return err
	}

	rec := domain.VoterRecord{
		BattleID:   req.BattleID,
		Wallet:     req.Wallet,
		Side:       req.Side,
		AmountPaid: req.Amount,
		TxHash:     req.TxHash,
		PaidAt:     now,
	}
	existing, err := s.voters.Get(ctx, req.BattleID, req.Wallet)
	switch {
	case err == nil && existing.TxHash != req.TxHash:
		return s.orphan(ctx, req, domain.ErrDuplicateVote.Error())
	case err == nil:
		// Recorded by an earlier attempt; only the tally may be missing.
	case !errors.Is(err, domain.ErrNotFound):
		return err
	default:
		if !b.VotingOpen(now) {
			return s.orphan(ctx, req, domain.ErrVotingClosed.Error())
		}
		existing, err = s.voters.Add(ctx, rec)
		if errors.Is(err, domain.ErrAlreadyExists) && existing.TxHash != req.TxHash {
			return s.orphan(ctx, req, domain.ErrDuplicateVote.Error())
		}
		if err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
			return err
		}
	}

	tally, err := s.countVotes(ctx, req.BattleID)
	if err != nil {
		return err
	}
	var started bool
	var closed domain.Battle
	b, err = s.battles.Update(ctx, req.BattleID, func(b *domain.Battle) error {
		started = false
		if b.Status != domain.BattleStatusAccepted && b.Status != domain.BattleStatusActiveVoting {
			closed = *b
			return errAlreadyApplied
		}
		if tally.Total() >= b.Tally.Total() {
			b.Tally = tally
		}
		if b.FeesCharged.Vote.IsZero() {
			b.FeesCharged.Vote = req.Amount
		}
		if b.Status == domain.BattleStatusAccepted {
			if err := b.TransitionTo(domain.BattleStatusActiveVoting, now); err != nil {
				return err
			}
			started = true
		}
		b.UpdatedAt = now
		return nil
	})
	if errors.Is(err, errAlreadyApplied) {
		s.logger.WarnContext(ctx, "battle_service: vote recorded on closed battle",
			slog.String("battle_id", req.BattleID),
			slog.String("wallet", req.Wallet),
			slog.String("status", string(closed.Status)),
		)
		// A settled battle that counted the record keeps the fee.
		if closed.Status == domain.BattleStatusCompleted && tally.Total() <= closed.Tally.Total() {
			return nil
		}
		return s.refunds.RefundLateVote(ctx, existing, domain.ErrVotingClosed.Error())
	}
	if err != nil {
		return err
	}

	if started {
		s.transitioned(ctx, domain.EventVotingStarted, b, "", nil)
	}
	s.rec.Emit(ctx, domain.ChannelBattles, domain.BattleEvent{
		Type:     domain.EventVoteCast,
		BattleID: b.ID,
		Status:   b.Status,
		Wallet:   req.Wallet,
		Data: map[string]any{
			"side":    string(req.Side),
			"amount":  req.Amount.String(),
			"votes_a": b.Tally.A,
			"votes_b": b.Tally.B,
		},
		At: now,
	})
	return nil
}

// countVotes derives the tally from the stored voter records.
func (s *BattleService) countVotes(ctx context.Context, battleID string) (domain.VoteTally, error) {
	records, err := s.voters.List(ctx, battleID)
	if err != nil {
		return domain.VoteTally{}, fmt.Errorf("battle_service: count votes: %w", err)
	}
	var t domain.VoteTally
	for _, r := range records {
		switch r.Side {
		case domain.SideA:
			t.A++
		case domain.SideB:
			t.B++
		}
	}
	return t, nil
}

func (s *BattleService) orphan(ctx context.Context, req domain.PaymentRequest, reason string) error {
	return s.refunds.QueueOrphanRefund(ctx, domain.OrphanRefund{
		TxHash:   req.TxHash,
		BattleID: req.BattleID,
		Wallet:   req.Wallet,
		Amount:   req.Amount,
		Purpose:  req.Purpose,
		Reason:   reason,
	})
}

func (s *BattleService) checkRate(ctx context.Context, action, wallet string, limit int) error {
	rl := s.cfg.RateLimits
	if !rl.Enabled || limit <= 0 || s.limiter == nil {
		return nil
	}
	ok, err := s.limiter.Allow(ctx, action+":"+wallet, limit, rl.Window)
	if err != nil {
		// Fail open.
		s.logger.WarnContext(ctx, "battle_service: rate limiter unavailable",
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, action)
	}
	return nil
}

func (s *BattleService) transitioned(ctx context.Context, eventType string, b domain.Battle, wallet string, data map[string]any) {
	s.rec.Metrics().RecordTransition(string(b.Status))
	s.rec.Emit(ctx, domain.ChannelBattles, domain.BattleEvent{
		Type:     eventType,
		BattleID: b.ID,
		Status:   b.Status,
		Wallet:   wallet,
		Data:     data,
		At:       s.now().UTC(),
	})
	s.logger.InfoContext(ctx, "battle_service: "+eventType,
		slog.String("battle_id", b.ID),
		slog.String("status", string(b.Status)),
		slog.String("wallet", wallet),
	)
}
