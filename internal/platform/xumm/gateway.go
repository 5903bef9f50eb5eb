// Package xumm adapts the wallet-signing payment platform and the treasury
// payout relay to domain.PaymentGateway.
package xumm

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/memebattle/internal/crypto"
	"github.com/alanyoungcy/memebattle/internal/domain"
)

// Options configures a Gateway.
type Options struct {
	// BaseURL is the platform API root, e.g. "https://xumm.app/api/v1/platform".
	BaseURL   string
	APIKey    string
	APISecret string

	// Issuer of the fee token. Empty means amounts are native drops.
	Issuer string
	// DestinationTag is attached to every fee payment so treasury deposits
	// can be told apart from other incoming transfers.
	DestinationTag uint32

	RelayURL    string
	RelayKey    string
	RelaySecret string

	Timeout time.Duration
}

// Gateway is the REST client for payment requests (payloads) and refund
// payouts.
type Gateway struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	issuer     string
	destTag    uint32
	relayURL   string
	relay      *crypto.RequestSigner
	httpClient *http.Client
}

// NewGateway creates a Gateway from opts.
func NewGateway(opts Options) *Gateway {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Gateway{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		apiKey:    opts.APIKey,
		apiSecret: opts.APISecret,
		issuer:    opts.Issuer,
		destTag:   opts.DestinationTag,
		relayURL:  strings.TrimRight(opts.RelayURL, "/"),
		relay:     &crypto.RequestSigner{Key: opts.RelayKey, Secret: opts.RelaySecret},
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// CreatePaymentRequest creates a sign request for a Payment of p.Amount from
// the payer to p.Destination.
func (g *Gateway) CreatePaymentRequest(ctx context.Context, p domain.PaymentRequestParams) (domain.GatewayPayment, error) {
	if !p.Amount.IsPositive() {
		return domain.GatewayPayment{}, fmt.Errorf("xumm: create payload: %w", domain.ErrInvalidAmount)
	}
	expire := int(math.Ceil(p.Expiry.Minutes()))
	if expire < 1 {
		expire = 1
	}

	body := payloadRequest{
		TxJSON: txJSON{
			TransactionType: "Payment",
			Destination:     p.Destination,
			Amount:          g.amount(p.Amount.String(), p.Currency),
			DestinationTag:  g.destTag,
			Account:         p.PayerWallet,
			Memos:           memos(p.Purpose),
		},
		Options: payloadOptions{Submit: true, Expire: expire},
		CustomMeta: &customMeta{
			Identifier:  p.Purpose,
			Instruction: fmt.Sprintf("%s fee: %s %s", p.Purpose, p.Amount.String(), p.Currency),
		},
	}

	respBody, err := g.doPlatform(ctx, http.MethodPost, "/payload", body)
	if err != nil {
		return domain.GatewayPayment{}, fmt.Errorf("xumm: create payload: %w", err)
	}
	var created payloadCreated
	if err := json.Unmarshal(respBody, &created); err != nil {
		return domain.GatewayPayment{}, fmt.Errorf("xumm: decode payload: %w", err)
	}
	if created.UUID == "" {
		return domain.GatewayPayment{}, fmt.Errorf("xumm: create payload: %w: empty uuid", domain.ErrGateway)
	}

	return domain.GatewayPayment{
		CorrelationID: created.UUID,
		Link:          created.Next.Always,
		ExpiresAt:     time.Now().Add(time.Duration(expire) * time.Minute).UTC(),
	}, nil
}

// GetPaymentStatus reads the payload state. Signed stays nil until the payer
// has acted; a cancelled or expired payload reports Signed=false.
func (g *Gateway) GetPaymentStatus(ctx context.Context, correlationID string) (domain.GatewayStatus, error) {
	respBody, err := g.doPlatform(ctx, http.MethodGet, "/payload/"+url.PathEscape(correlationID), nil)
	if err != nil {
		return domain.GatewayStatus{}, fmt.Errorf("xumm: get payload %s: %w", correlationID, err)
	}
	var st payloadStatus
	if err := json.Unmarshal(respBody, &st); err != nil {
		return domain.GatewayStatus{}, fmt.Errorf("xumm: decode payload %s: %w", correlationID, err)
	}
	if !st.Meta.Exists {
		return domain.GatewayStatus{}, fmt.Errorf("xumm: get payload %s: %w", correlationID, domain.ErrNotFound)
	}

	out := domain.GatewayStatus{
		Resolved: st.Meta.Resolved,
		Expired:  st.Meta.Expired,
		TxHash:   st.Response.Txid,
	}
	switch {
	case st.Meta.Signed:
		signed := true
		out.Signed = &signed
	case st.Meta.Resolved || st.Meta.Cancelled || st.Meta.Expired:
		signed := false
		out.Signed = &signed
	}
	return out, nil
}

// CreatePayout asks the relay to send p.Amount from the treasury. The relay
// deduplicates on p.IdempotencyKey, so a retried payout returns the original
// transaction instead of paying twice.
func (g *Gateway) CreatePayout(ctx context.Context, p domain.PayoutParams) (domain.PayoutResult, error) {
	if !p.Amount.IsPositive() {
		return domain.PayoutResult{}, fmt.Errorf("xumm: payout: %w", domain.ErrInvalidAmount)
	}
	req := payoutRequest{
		Destination:    p.Destination,
		Amount:         p.Amount.String(),
		Currency:       p.Currency,
		Issuer:         g.issuer,
		Memo:           p.Memo,
		IdempotencyKey: p.IdempotencyKey,
	}
	respBody, err := g.doRelay(ctx, "/payouts", p.IdempotencyKey, req)
	if err != nil {
		return domain.PayoutResult{}, fmt.Errorf("xumm: payout to %s: %w", p.Destination, err)
	}
	var res payoutResponse
	if err := json.Unmarshal(respBody, &res); err != nil {
		return domain.PayoutResult{}, fmt.Errorf("xumm: decode payout: %w", err)
	}
	return domain.PayoutResult{Success: res.Success, TxHash: res.TxHash, Error: res.Error}, nil
}

// VerifyWebhook checks the hex HMAC-SHA256 signature of a webhook body.
func VerifyWebhook(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	return crypto.Verify([]byte(secret), string(body), strings.TrimSpace(signature))
}

// ParseWebhook decodes a webhook body.
func ParseWebhook(body []byte) (WebhookCallback, error) {
	var cb WebhookCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return WebhookCallback{}, fmt.Errorf("xumm: decode webhook: %w", err)
	}
	if cb.CorrelationID() == "" {
		return WebhookCallback{}, errors.New("xumm: webhook without payload uuid")
	}
	return cb, nil
}

func (g *Gateway) amount(value, currency string) any {
	if g.issuer == "" {
		return value
	}
	return issuedAmount{Currency: currencyCode(currency), Issuer: g.issuer, Value: value}
}

// currencyCode returns the ledger form of a currency: three-letter codes pass
// through, longer ones become 40 hex characters.
func currencyCode(c string) string {
	if len(c) <= 3 {
		return c
	}
	code := strings.ToUpper(hex.EncodeToString([]byte(c)))
	if len(code) > 40 {
		return code[:40]
	}
	return code + strings.Repeat("0", 40-len(code))
}

func memos(purpose string) []memo {
	if purpose == "" {
		return nil
	}
	return []memo{{Memo: memoFields{
		MemoData: strings.ToUpper(hex.EncodeToString([]byte(purpose))),
		MemoType: strings.ToUpper(hex.EncodeToString([]byte("battle"))),
	}}}
}

func (g *Gateway) doPlatform(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-API-Key", g.apiKey)
	req.Header.Set("X-API-Secret", g.apiSecret)

	return g.do(req)
}

func (g *Gateway) doRelay(ctx context.Context, path, idempotencyKey string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.relayURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	for k, v := range g.relay.Headers(http.MethodPost, path, string(data)) {
		req.Header.Set(k, v)
	}
	return g.do(req)
}

func (g *Gateway) do(req *http.Request) ([]byte, error) {
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", domain.ErrGateway, req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrGateway, statusCode, bodyStr)
	}
}

// Compile-time interface check.
var _ domain.PaymentGateway = (*Gateway)(nil)
