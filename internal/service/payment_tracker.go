package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/memebattle/internal/domain"
)

// PaymentApplier applies the battle effect of a signed payment. It is called
// at most once per transaction hash unless it returns an error, in which case
// a later confirmation retries it. A payment whose effect can no longer be
// applied must be turned into an orphan refund and reported as nil.
type PaymentApplier interface {
	ApplyPayment(ctx context.Context, req domain.PaymentRequest) error
}

// PaymentApplierFunc adapts a function to PaymentApplier.
type PaymentApplierFunc func(ctx context.Context, req domain.PaymentRequest) error

// ApplyPayment calls f.
func (f PaymentApplierFunc) ApplyPayment(ctx context.Context, req domain.PaymentRequest) error {
	return f(ctx, req)
}

// TrackerConfig configures a PaymentTracker.
type TrackerConfig struct {
	Treasury      string
	Currency      string
	RequestExpiry time.Duration
	PollInterval  time.Duration
	WatchInterval time.Duration
}

const confirmLockTTL = 30 * time.Second

// PaymentTracker creates fee payment requests and turns their terminal
// gateway status into exactly one application of the battle effect.
type PaymentTracker struct {
	gateway  domain.PaymentGateway
	requests domain.PaymentRequestStore
	markers  domain.PaymentMarkerStore
	locks    domain.LockManager
	cfg      TrackerConfig
	rec      *Recorder
	now      func() time.Time
	logger   *slog.Logger

	mu       sync.RWMutex
	appliers map[domain.PaymentPurpose]PaymentApplier
}

// NewPaymentTracker creates a PaymentTracker.
func NewPaymentTracker(
	gateway domain.PaymentGateway,
	requests domain.PaymentRequestStore,
	markers domain.PaymentMarkerStore,
	locks domain.LockManager,
	cfg TrackerConfig,
	rec *Recorder,
	logger *slog.Logger,
) *PaymentTracker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.WatchInterval <= 0 {
		cfg.WatchInterval = 15 * time.Second
	}
	if cfg.RequestExpiry <= 0 {
		cfg.RequestExpiry = 10 * time.Minute
	}
	return &PaymentTracker{
		gateway:  gateway,
		requests: requests,
		markers:  markers,
		locks:    locks,
		cfg:      cfg,
		rec:      rec,
		now:      time.Now,
		logger:   logger,
		appliers: make(map[domain.PaymentPurpose]PaymentApplier),
	}
}

// Register installs the applier for one payment purpose, replacing any
// previous one.
func (t *PaymentTracker) Register(purpose domain.PaymentPurpose, a PaymentApplier) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.appliers[purpose] = a
}

func (t *PaymentTracker) applier(purpose domain.PaymentPurpose) (PaymentApplier, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	a, ok := t.appliers[purpose]
	return a, ok
}

// Request asks the gateway for a new payment of req.Amount from req.Wallet to
// the treasury and stores the pending request.
func (t *PaymentTracker) Request(ctx context.Context, req domain.PaymentRequest) (domain.PaymentRequest, error) {
	gp, err := t.gateway.CreatePaymentRequest(ctx, domain.PaymentRequestParams{
		Destination: t.cfg.Treasury,
		Amount:      req.Amount,
		Currency:    t.cfg.Currency,
		Purpose:     string(req.Purpose),
		PayerWallet: req.Wallet,
		Expiry:      t.cfg.RequestExpiry,
	})
	if err != nil {
		return domain.PaymentRequest{}, fmt.Errorf("payment_tracker: create %s request: %w", req.Purpose, err)
	}

	now := t.now().UTC()
	req.CorrelationID = gp.CorrelationID
	req.Link = gp.Link
	req.Currency = t.cfg.Currency
	req.Status = domain.PaymentCreated
	req.CreatedAt = now
	req.ExpiresAt = now.Add(t.cfg.RequestExpiry)
	if !gp.ExpiresAt.IsZero() && gp.ExpiresAt.Before(req.ExpiresAt) {
		req.ExpiresAt = gp.ExpiresAt.UTC()
	}

	if err := t.requests.Save(ctx, req); err != nil {
		return domain.PaymentRequest{}, fmt.Errorf("payment_tracker: save request %s: %w", req.CorrelationID, err)
	}
	t.rec.Metrics().RecordPaymentRequest(string(req.Purpose))

	t.logger.InfoContext(ctx, "payment_tracker: payment requested",
		slog.String("correlation_id", req.CorrelationID),
		slog.String("purpose", string(req.Purpose)),
		slog.String("battle_id", req.BattleID),
		slog.String("wallet", req.Wallet),
		slog.String("amount", req.Amount.String()),
	)
	return req, nil
}

// Get returns the tracked request.
func (t *PaymentTracker) Get(ctx context.Context, correlationID string) (domain.PaymentRequest, error) {
	return t.requests.Get(ctx, correlationID)
}

// Confirm polls the gateway once and, when the payment was signed, applies
// its effect unless the transaction was applied before. It returns the
// resulting request status; CREATED means the payer has not acted yet.
func (t *PaymentTracker) Confirm(ctx context.Context, correlationID string) (domain.PaymentStatus, error) {
	unlock, err := t.locks.Acquire(ctx, "payment:"+correlationID, confirmLockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			req, getErr := t.requests.Get(ctx, correlationID)
			if getErr != nil {
				return "", getErr
			}
			return req.Status, nil
		}
		return "", fmt.Errorf("payment_tracker: lock %s: %w", correlationID, err)
	}
	defer unlock()

	req, err := t.requests.Get(ctx, correlationID)
	if err != nil {
		return "", err
	}
	if req.Status.IsTerminal() {
		return req.Status, nil
	}

	st, err := t.gateway.GetPaymentStatus(ctx, correlationID)
	if err != nil {
		return req.Status, fmt.Errorf("payment_tracker: status %s: %w", correlationID, err)
	}

	switch {
	case st.Signed == nil:
		if st.Expired || t.now().After(req.ExpiresAt) {
			return t.resolve(ctx, req, domain.PaymentExpired)
		}
		return domain.PaymentCreated, nil
	case !*st.Signed:
		if st.Expired {
			return t.resolve(ctx, req, domain.PaymentExpired)
		}
		return t.resolve(ctx, req, domain.PaymentRejected)
	case st.TxHash == "":
		// Signed but not yet submitted to the ledger.
		return domain.PaymentCreated, nil
	}

	req.TxHash = st.TxHash
	if _, err := t.markers.Get(ctx, st.TxHash); err == nil {
		t.rec.Metrics().RecordPaymentDuplicate()
		t.logger.InfoContext(ctx, "payment_tracker: transaction already applied",
			slog.String("correlation_id", correlationID),
			slog.String("tx_hash", st.TxHash),
		)
		return t.resolve(ctx, req, domain.PaymentSigned)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return req.Status, fmt.Errorf("payment_tracker: marker %s: %w", st.TxHash, err)
	}

	a, ok := t.applier(req.Purpose)
	if !ok {
		return req.Status, fmt.Errorf("payment_tracker: no applier for purpose %s", req.Purpose)
	}
	if err := a.ApplyPayment(ctx, req); err != nil {
		return req.Status, fmt.Errorf("payment_tracker: apply %s %s: %w", req.Purpose, correlationID, err)
	}

	if _, err := t.markers.Mark(ctx, domain.ProcessedPayment{
		TxHash:        st.TxHash,
		CorrelationID: correlationID,
		Purpose:       req.Purpose,
		BattleID:      req.BattleID,
		AppliedAt:     t.now().UTC(),
	}); err != nil {
		// The effect is applied; re-applying is guarded by the battle CAS.
		t.logger.ErrorContext(ctx, "payment_tracker: write marker failed",
			slog.String("tx_hash", st.TxHash),
			slog.String("error", err.Error()),
		)
	}
	return t.resolve(ctx, req, domain.PaymentSigned)
}

func (t *PaymentTracker) resolve(ctx context.Context, req domain.PaymentRequest, status domain.PaymentStatus) (domain.PaymentStatus, error) {
	now := t.now().UTC()
	req.Status = status
	req.ResolvedAt = &now
	if err := t.requests.Save(ctx, req); err != nil {
		return status, fmt.Errorf("payment_tracker: save %s: %w", req.CorrelationID, err)
	}

	t.rec.Metrics().RecordPaymentResolved(string(req.Purpose), string(status))
	t.rec.Emit(ctx, domain.ChannelPayments, domain.BattleEvent{
		Type:     domain.EventPaymentResolved,
		BattleID: req.BattleID,
		Wallet:   req.Wallet,
		Data: map[string]any{
			"correlation_id": req.CorrelationID,
			"purpose":        string(req.Purpose),
			"status":         string(status),
			"tx_hash":        req.TxHash,
		},
		At: now,
	})
	t.logger.InfoContext(ctx, "payment_tracker: payment resolved",
		slog.String("correlation_id", req.CorrelationID),
		slog.String("purpose", string(req.Purpose)),
		slog.String("status", string(status)),
	)
	return status, nil
}

// Await polls Confirm until the request reaches a terminal status. The wait
// ends at the request's own expiry; a payment still unsigned by then resolves
// to EXPIRED.
func (t *PaymentTracker) Await(ctx context.Context, correlationID string) (domain.PaymentStatus, error) {
	req, err := t.requests.Get(ctx, correlationID)
	if err != nil {
		return "", err
	}
	if req.Status.IsTerminal() {
		return req.Status, nil
	}

	waitCtx, cancel := context.WithDeadline(ctx, req.ExpiresAt)
	defer cancel()

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		status, err := t.Confirm(waitCtx, correlationID)
		switch {
		case err == nil && status.IsTerminal():
			return status, nil
		case errors.Is(err, domain.ErrNotFound):
			return "", err
		case err != nil && waitCtx.Err() == nil:
			t.logger.WarnContext(ctx, "payment_tracker: confirm failed, retrying",
				slog.String("correlation_id", correlationID),
				slog.String("error", err.Error()),
			)
		}

		select {
		case <-ticker.C:
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			// One last look so a signature that landed at the deadline is
			// not lost.
			status, err := t.Confirm(ctx, correlationID)
			if err == nil && status.IsTerminal() {
				return status, nil
			}
			return domain.PaymentExpired, nil
		}
	}
}

// SweepPending confirms every pending request once and returns how many
// reached a terminal status.
func (t *PaymentTracker) SweepPending(ctx context.Context) (int, error) {
	pending, err := t.requests.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("payment_tracker: list pending: %w", err)
	}
	resolved := 0
	for _, req := range pending {
		if ctx.Err() != nil {
			return resolved, ctx.Err()
		}
		status, err := t.Confirm(ctx, req.CorrelationID)
		if err != nil {
			t.logger.WarnContext(ctx, "payment_tracker: sweep confirm failed",
				slog.String("correlation_id", req.CorrelationID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if status.IsTerminal() {
			resolved++
		}
	}
	return resolved, nil
}

// Run sweeps pending requests on the watch interval until ctx is cancelled.
func (t *PaymentTracker) Run(ctx context.Context) error {
	t.logger.InfoContext(ctx, "payment_tracker: watcher started",
		slog.Duration("interval", t.cfg.WatchInterval),
	)
	ticker := time.NewTicker(t.cfg.WatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.InfoContext(ctx, "payment_tracker: watcher stopped")
			return nil
		case <-ticker.C:
			start := t.now()
			n, err := t.SweepPending(ctx)
			t.rec.Metrics().ObserveJob("payment_watcher", t.now().Sub(start))
			if err != nil && ctx.Err() == nil {
				t.logger.WarnContext(ctx, "payment_tracker: sweep failed",
					slog.String("error", err.Error()),
				)
			} else if n > 0 {
				t.logger.InfoContext(ctx, "payment_tracker: sweep resolved payments",
					slog.Int("resolved", n),
				)
			}
		}
	}
}
