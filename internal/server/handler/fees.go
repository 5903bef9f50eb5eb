package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/memebattle/internal/domain"
)

// FeeService defines the methods that the fee handler requires.
type FeeService interface {
	GetFees(ctx context.Context) domain.FeeSchedule
	Defaults() domain.FeeSchedule
	Override(ctx context.Context) (domain.FeeOverride, error)
	SetFees(ctx context.Context, o domain.FeeOverride) (domain.FeeSchedule, error)
}

// FeeHandler serves the current fee schedule and its admin override.
type FeeHandler struct {
	fees   FeeService
	logger *slog.Logger
}

// NewFeeHandler creates a FeeHandler.
func NewFeeHandler(fees FeeService, logger *slog.Logger) *FeeHandler {
	return &FeeHandler{fees: fees, logger: logHandler(logger, "fees")}
}

type feesResponse struct {
	Fees        domain.FeeSchedule  `json:"fees"`
	Defaults    domain.FeeSchedule  `json:"defaults"`
	UseDefaults bool                `json:"useDefaults"`
	Override    *domain.FeeOverride `json:"override,omitempty"`
}

type updateFeesRequest struct {
	UseDefaults bool             `json:"useDefaults"`
	StartFee    *decimal.Decimal `json:"startFee" validate:"required_without=UseDefaults"`
	AcceptFee   *decimal.Decimal `json:"acceptFee" validate:"required_without=UseDefaults"`
	VoteFee     *decimal.Decimal `json:"voteFee" validate:"required_without=UseDefaults"`
	UpdatedBy   string           `json:"updatedBy" validate:"max=64"`
}

// GetFees returns the fee schedule in effect.
// GET /api/fees
func (h *FeeHandler) GetFees(w http.ResponseWriter, r *http.Request) {
	resp := feesResponse{
		Fees:        h.fees.GetFees(r.Context()),
		Defaults:    h.fees.Defaults(),
		UseDefaults: true,
	}
	o, err := h.fees.Override(r.Context())
	switch {
	case err == nil:
		resp.Override = &o
		resp.UseDefaults = o.UseDefaults
	case !errors.Is(err, domain.ErrNotFound):
		h.logger.WarnContext(r.Context(), "handler: read fee override failed",
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, http.StatusOK, resp)
}

// UpdateFees writes the admin override. With useDefaults the configured
// defaults apply and the amounts may be omitted.
// PUT /api/admin/fees
func (h *FeeHandler) UpdateFees(w http.ResponseWriter, r *http.Request) {
	var req updateFeesRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	o := domain.FeeOverride{UseDefaults: req.UseDefaults, UpdatedBy: req.UpdatedBy}
	if req.StartFee != nil {
		o.Start = *req.StartFee
	}
	if req.AcceptFee != nil {
		o.Accept = *req.AcceptFee
	}
	if req.VoteFee != nil {
		o.Vote = *req.VoteFee
	}

	fees, err := h.fees.SetFees(r.Context(), o)
	if err != nil {
		writeServiceError(w, r, h.logger, "update fees", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"fees":        fees,
		"useDefaults": o.UseDefaults,
	})
}
