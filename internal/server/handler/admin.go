package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/memebattle/internal/domain"
	"github.com/alanyoungcy/memebattle/internal/service"
)

// RefundService defines the refund operations exposed to admins.
type RefundService interface {
	RefundFullBattle(ctx context.Context, battleID, reason string) (service.FullRefundResult, error)
	RefundParty(ctx context.Context, battleID string, party domain.Party, wallet, reason string, amount decimal.Decimal) service.PartyRefundOutcome
	RefundAllVoters(ctx context.Context, battleID string, voteAmount decimal.Decimal) (service.VoterRefundSummary, error)
}

// ExpirySweeper runs the expiry sweep on demand.
type ExpirySweeper interface {
	SweepExpired(ctx context.Context) (service.SweepResult, error)
}

// Settler completes battles whose voting window ended.
type Settler interface {
	SettleBattle(ctx context.Context, battleID string) (domain.Battle, error)
	GetBattle(ctx context.Context, battleID string) (domain.Battle, error)
}

// ArchiveLocator maps an archived battle to its object key.
type ArchiveLocator interface {
	DocumentPath(b domain.Battle) (string, bool)
}

// AdminDeps bundles what the admin endpoints call into. Audit, Archive and
// Blobs may be nil when the matching backend is disabled.
type AdminDeps struct {
	Refunds RefundService
	Sweeper ExpirySweeper
	Battles Settler
	Audit   domain.AuditStore
	Archive ArchiveLocator
	Blobs   domain.BlobReader
}

// AdminHandler serves the operator endpoints under /api/admin.
type AdminHandler struct {
	deps   AdminDeps
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(deps AdminDeps, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{deps: deps, logger: logHandler(logger, "admin")}
}

type fullRefundRequest struct {
	BattleID string `json:"battleId" validate:"required"`
	Reason   string `json:"reason" validate:"max=256"`
}

type partyRefundRequest struct {
	BattleID string           `json:"battleId" validate:"required"`
	Wallet   string           `json:"wallet" validate:"max=64"`
	Amount   *decimal.Decimal `json:"amount"`
	Reason   string           `json:"reason" validate:"max=256"`
}

type voterRefundRequest struct {
	BattleID   string           `json:"battleId" validate:"required"`
	VoteAmount *decimal.Decimal `json:"voteAmount"`
}

const defaultAdminReason = "admin refund"

// RefundFullBattle refunds every party of a battle and cancels it.
// POST /api/admin/refund/full-battle
func (h *AdminHandler) RefundFullBattle(w http.ResponseWriter, r *http.Request) {
	var req fullRefundRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Reason == "" {
		req.Reason = defaultAdminReason
	}
	res, err := h.deps.Refunds.RefundFullBattle(r.Context(), req.BattleID, req.Reason)
	if err != nil {
		writeServiceError(w, r, h.logger, "full refund", err)
		return
	}
	h.logger.InfoContext(r.Context(), "handler: full refund",
		slog.String("battle_id", req.BattleID),
		slog.Bool("complete", res.Complete),
		slog.Int("payouts", res.Payouts),
	)
	status := http.StatusOK
	if !res.Complete {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, res)
}

// RefundChallenger refunds the challenger's start fee.
// POST /api/admin/refund/challenger
func (h *AdminHandler) RefundChallenger(w http.ResponseWriter, r *http.Request) {
	h.refundParty(w, r, domain.PartyChallenger)
}

// RefundAcceptor refunds the acceptor's accept fee.
// POST /api/admin/refund/acceptor
func (h *AdminHandler) RefundAcceptor(w http.ResponseWriter, r *http.Request) {
	h.refundParty(w, r, domain.PartyAcceptor)
}

func (h *AdminHandler) refundParty(w http.ResponseWriter, r *http.Request, party domain.Party) {
	var req partyRefundRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount := decimal.Zero
	if req.Amount != nil {
		if !req.Amount.IsPositive() {
			writeError(w, http.StatusBadRequest, domain.ErrInvalidAmount.Error())
			return
		}
		amount = *req.Amount
	}
	if req.Reason == "" {
		req.Reason = defaultAdminReason
	}

	out := h.deps.Refunds.RefundParty(r.Context(), req.BattleID, party, req.Wallet, req.Reason, amount)
	writeJSON(w, outcomeStatus(out), out)
}

// RefundVoters refunds every voter of a battle. voteAmount only applies to
// voter records that carry no paid amount.
// POST /api/admin/refund/voters
func (h *AdminHandler) RefundVoters(w http.ResponseWriter, r *http.Request) {
	var req voterRefundRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	fallback := decimal.Zero
	if req.VoteAmount != nil {
		fallback = *req.VoteAmount
	}
	sum, err := h.deps.Refunds.RefundAllVoters(r.Context(), req.BattleID, fallback)
	if err != nil {
		writeServiceError(w, r, h.logger, "voter refund", err)
		return
	}
	status := http.StatusOK
	if sum.Outstanding() {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, sum)
}

// TriggerExpired runs the expiry sweep now.
// POST /api/admin/refund/trigger-expired
func (h *AdminHandler) TriggerExpired(w http.ResponseWriter, r *http.Request) {
	res, err := h.deps.Sweeper.SweepExpired(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "expiry sweep", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SettleBattle completes a battle whose voting window ended.
// POST /api/admin/battles/{id}/settle
func (h *AdminHandler) SettleBattle(w http.ResponseWriter, r *http.Request) {
	b, err := h.deps.Battles.SettleBattle(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "settle battle", err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// AuditTrail returns the audit rows of one battle, oldest first.
// GET /api/admin/battles/{id}/audit?limit=200
func (h *AdminHandler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	if h.deps.Audit == nil {
		writeError(w, http.StatusNotImplemented, "audit log disabled")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := h.deps.Audit.ListByBattle(r.Context(), pathParam(r, "id"), limit)
	if err != nil {
		writeServiceError(w, r, h.logger, "audit trail", err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// ArchivedBattle streams the archived JSON document of a battle.
// GET /api/admin/battles/{id}/archive
func (h *AdminHandler) ArchivedBattle(w http.ResponseWriter, r *http.Request) {
	if h.deps.Archive == nil || h.deps.Blobs == nil {
		writeError(w, http.StatusNotImplemented, "archive disabled")
		return
	}
	b, err := h.deps.Battles.GetBattle(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "archived battle", err)
		return
	}
	path, ok := h.deps.Archive.DocumentPath(b)
	if !ok {
		writeError(w, http.StatusNotFound, "battle not archived")
		return
	}
	rc, err := h.deps.Blobs.Get(r.Context(), path)
	if err != nil {
		writeServiceError(w, r, h.logger, "archived battle", err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.WarnContext(r.Context(), "handler: stream archive failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}

// outcomeStatus maps a party refund to its HTTP status. Failures caused by
// the request itself answer 4xx; everything else is a payout failure.
func outcomeStatus(out service.PartyRefundOutcome) int {
	switch out.Status {
	case service.RefundFailed:
		if err := out.Cause(); err != nil {
			if code := statusFor(err); code < http.StatusInternalServerError {
				return code
			}
		}
		return http.StatusBadGateway
	case service.RefundInProgress:
		return http.StatusConflict
	default:
		return http.StatusOK
	}
}
