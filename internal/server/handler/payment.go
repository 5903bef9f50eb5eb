package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/memebattle/internal/domain"
	"github.com/alanyoungcy/memebattle/internal/platform/xumm"
)

// PaymentService defines the methods that the payment handler requires from
// the payment tracker.
type PaymentService interface {
	Get(ctx context.Context, correlationID string) (domain.PaymentRequest, error)
	Confirm(ctx context.Context, correlationID string) (domain.PaymentStatus, error)
	Await(ctx context.Context, correlationID string) (domain.PaymentStatus, error)
}

// PaymentHandler serves payment status lookups and the gateway webhook.
type PaymentHandler struct {
	payments      PaymentService
	webhookSecret string
	logger        *slog.Logger
}

// NewPaymentHandler creates a PaymentHandler. With an empty webhookSecret
// every webhook call is rejected.
func NewPaymentHandler(payments PaymentService, webhookSecret string, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{
		payments:      payments,
		webhookSecret: webhookSecret,
		logger:        logHandler(logger, "payment"),
	}
}

type paymentStatusResponse struct {
	paymentResponse
	TxHash string `json:"txHash,omitempty"`
}

// GetPayment confirms the payment once against the gateway and returns the
// tracked request.
// GET /api/payments/{id}
func (h *PaymentHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if _, err := h.payments.Confirm(r.Context(), id); err != nil {
		writeServiceError(w, r, h.logger, "confirm payment", err)
		return
	}
	h.writeRequest(w, r, id)
}

// AwaitPayment blocks until the payment is signed, rejected or expired.
// POST /api/payments/{id}/await
func (h *PaymentHandler) AwaitPayment(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if _, err := h.payments.Await(r.Context(), id); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			writeError(w, http.StatusGatewayTimeout, "payment still pending")
			return
		}
		writeServiceError(w, r, h.logger, "await payment", err)
		return
	}
	h.writeRequest(w, r, id)
}

func (h *PaymentHandler) writeRequest(w http.ResponseWriter, r *http.Request, id string) {
	req, err := h.payments.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get payment", err)
		return
	}
	writeJSON(w, http.StatusOK, paymentStatusResponse{
		paymentResponse: newPaymentResponse(req),
		TxHash:          req.TxHash,
	})
}

// Webhook receives the gateway's resolution callback. The body must carry a
// hex HMAC-SHA256 signature in X-Webhook-Signature.
// POST /api/payments/webhook
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if !xumm.VerifyWebhook(h.webhookSecret, body, r.Header.Get("X-Webhook-Signature")) {
		h.logger.WarnContext(r.Context(), "handler: webhook signature rejected",
			slog.String("remote_addr", r.RemoteAddr),
		)
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}
	cb, err := xumm.ParseWebhook(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	status, err := h.payments.Confirm(r.Context(), cb.CorrelationID())
	switch {
	case errors.Is(err, domain.ErrNotFound):
		// Requests from other services or long expired ones.
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	case err != nil:
		writeServiceError(w, r, h.logger, "webhook confirm", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"correlationId": cb.CorrelationID(),
		"status":        string(status),
	})
}
