package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/memebattle/internal/domain"
	"github.com/alanyoungcy/memebattle/internal/service"
)

// BattleService defines the methods that the battle handler requires from
// the service layer.
type BattleService interface {
	CreateBattle(ctx context.Context, in service.CreateBattleInput) (service.CreateBattleResult, error)
	AcceptBattle(ctx context.Context, battleID, wallet, contentRef string) (domain.PaymentRequest, error)
	CastVote(ctx context.Context, battleID, wallet string, side domain.Side) (domain.PaymentRequest, error)
	GetBattle(ctx context.Context, battleID string) (domain.Battle, error)
	ListBattles(ctx context.Context, status domain.BattleStatus, opts domain.ListOpts) ([]domain.Battle, error)
	ListVoters(ctx context.Context, battleID string) ([]domain.VoterRecord, error)
}

// BattleHandler serves the public battle endpoints.
type BattleHandler struct {
	battles BattleService
	logger  *slog.Logger
}

// NewBattleHandler creates a BattleHandler.
func NewBattleHandler(battles BattleService, logger *slog.Logger) *BattleHandler {
	return &BattleHandler{battles: battles, logger: logHandler(logger, "battle")}
}

type createBattleRequest struct {
	Wallet       string `json:"wallet" validate:"required,max=64"`
	ContentRef   string `json:"contentRef" validate:"required,max=512"`
	Mode         string `json:"mode" validate:"omitempty,oneof=OPEN DIRECT"`
	TargetWallet string `json:"targetWallet" validate:"max=64"`
}

type acceptBattleRequest struct {
	Wallet     string `json:"wallet" validate:"required,max=64"`
	ContentRef string `json:"contentRef" validate:"required,max=512"`
}

type castVoteRequest struct {
	Wallet string `json:"wallet" validate:"required,max=64"`
	Side   string `json:"side" validate:"required,oneof=A B"`
}

// paymentResponse is what every paid action returns: the request the wallet
// has to sign.
type paymentResponse struct {
	BattleID      string `json:"battleId"`
	CorrelationID string `json:"correlationId"`
	Purpose       string `json:"purpose"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Link          string `json:"link,omitempty"`
	Status        string `json:"status"`
	ExpiresAt     string `json:"expiresAt"`
}

func newPaymentResponse(p domain.PaymentRequest) paymentResponse {
	return paymentResponse{
		BattleID:      p.BattleID,
		CorrelationID: p.CorrelationID,
		Purpose:       string(p.Purpose),
		Amount:        p.Amount.String(),
		Currency:      p.Currency,
		Link:          p.Link,
		Status:        string(p.Status),
		ExpiresAt:     p.ExpiresAt.UTC().Format(timeLayout),
	}
}

// CreateBattle opens a payment request for the start fee.
// POST /api/battles
func (h *BattleHandler) CreateBattle(w http.ResponseWriter, r *http.Request) {
	var req createBattleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	mode := domain.BattleMode(req.Mode)
	if mode == "" {
		mode = domain.BattleModeOpen
	}

	res, err := h.battles.CreateBattle(r.Context(), service.CreateBattleInput{
		Challenger:   req.Wallet,
		ContentRef:   req.ContentRef,
		Mode:         mode,
		TargetWallet: req.TargetWallet,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "create battle", err)
		return
	}
	writeJSON(w, http.StatusAccepted, newPaymentResponse(res.Payment))
}

// ListBattles lists battles, optionally filtered by status.
// GET /api/battles?status=AWAITING_ACCEPTANCE&limit=50&offset=0
func (h *BattleHandler) ListBattles(w http.ResponseWriter, r *http.Request) {
	status := domain.BattleStatus(strings.ToUpper(r.URL.Query().Get("status")))
	battles, err := h.battles.ListBattles(r.Context(), status, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list battles", err)
		return
	}
	if battles == nil {
		battles = []domain.Battle{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"battles": battles})
}

// GetBattle returns a single battle.
// GET /api/battles/{id}
func (h *BattleHandler) GetBattle(w http.ResponseWriter, r *http.Request) {
	b, err := h.battles.GetBattle(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get battle", err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// ListVoters returns the voter records of a battle.
// GET /api/battles/{id}/voters
func (h *BattleHandler) ListVoters(w http.ResponseWriter, r *http.Request) {
	voters, err := h.battles.ListVoters(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "list voters", err)
		return
	}
	if voters == nil {
		voters = []domain.VoterRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"voters": voters})
}

// AcceptBattle opens a payment request for the accept fee.
// POST /api/battles/{id}/accept
func (h *BattleHandler) AcceptBattle(w http.ResponseWriter, r *http.Request) {
	var req acceptBattleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.battles.AcceptBattle(r.Context(), pathParam(r, "id"), req.Wallet, req.ContentRef)
	if err != nil {
		writeServiceError(w, r, h.logger, "accept battle", err)
		return
	}
	writeJSON(w, http.StatusAccepted, newPaymentResponse(p))
}

// CastVote opens a payment request for the vote fee.
// POST /api/battles/{id}/votes
func (h *BattleHandler) CastVote(w http.ResponseWriter, r *http.Request) {
	var req castVoteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.battles.CastVote(r.Context(), pathParam(r, "id"), req.Wallet, domain.Side(req.Side))
	if err != nil {
		writeServiceError(w, r, h.logger, "cast vote", err)
		return
	}
	writeJSON(w, http.StatusAccepted, newPaymentResponse(p))
}
