package xumm

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alanyoungcy/memebattle/internal/crypto"
	"github.com/alanyoungcy/memebattle/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePaymentRequest(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/payload", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("X-API-Key"))
		assert.Equal(t, "secret", r.Header.Get("X-API-Secret"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"uuid":"abc-123","next":{"always":"https://sign.example/abc-123"}}`)
	}))
	defer srv.Close()

	g := NewGateway(Options{BaseURL: srv.URL, APIKey: "key", APISecret: "secret", Issuer: "rIssuer", DestinationTag: 777})
	p, err := g.CreatePaymentRequest(t.Context(), domain.PaymentRequestParams{
		Destination: "rTreasury",
		Amount:      decimal.NewFromInt(150000),
		Currency:    "WLO",
		Purpose:     "START",
		PayerWallet: "rAlice",
		Expiry:      10 * time.Minute,
	})
	require.NoError(t, err)
	assert.Equal(t, "abc-123", p.CorrelationID)
	assert.Equal(t, "https://sign.example/abc-123", p.Link)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), p.ExpiresAt, 5*time.Second)

	tx := got["txjson"].(map[string]any)
	assert.Equal(t, "Payment", tx["TransactionType"])
	assert.Equal(t, "rTreasury", tx["Destination"])
	assert.Equal(t, "rAlice", tx["Account"])
	assert.EqualValues(t, 777, tx["DestinationTag"])
	amount := tx["Amount"].(map[string]any)
	assert.Equal(t, "WLO", amount["currency"])
	assert.Equal(t, "rIssuer", amount["issuer"])
	assert.Equal(t, "150000", amount["value"])
	opts := got["options"].(map[string]any)
	assert.Equal(t, true, opts["submit"])
	assert.EqualValues(t, 10, opts["expire"])
}

func TestCreatePaymentRequestRejectsNonPositiveAmount(t *testing.T) {
	g := NewGateway(Options{BaseURL: "http://unused"})
	_, err := g.CreatePaymentRequest(t.Context(), domain.PaymentRequestParams{Amount: decimal.Zero})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestGetPaymentStatus(t *testing.T) {
	cases := []struct {
		name       string
		body       string
		wantSigned *bool
		wantTx     string
	}{
		{"pending", `{"meta":{"exists":true}}`, nil, ""},
		{"signed", `{"meta":{"exists":true,"resolved":true,"signed":true},"response":{"txid":"TX1"}}`, ptr(true), "TX1"},
		{"rejected", `{"meta":{"exists":true,"resolved":true,"signed":false}}`, ptr(false), ""},
		{"expired", `{"meta":{"exists":true,"expired":true}}`, ptr(false), ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/payload/abc", r.URL.Path)
				_, _ = io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			st, err := NewGateway(Options{BaseURL: srv.URL}).GetPaymentStatus(t.Context(), "abc")
			require.NoError(t, err)
			assert.Equal(t, tc.wantSigned, st.Signed)
			assert.Equal(t, tc.wantTx, st.TxHash)
		})
	}
}

func TestGetPaymentStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/payload/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/payload/gone":
			_, _ = io.WriteString(w, `{"meta":{"exists":false}}`)
		case "/payload/limited":
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()
	g := NewGateway(Options{BaseURL: srv.URL})

	_, err := g.GetPaymentStatus(t.Context(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = g.GetPaymentStatus(t.Context(), "gone")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = g.GetPaymentStatus(t.Context(), "limited")
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	_, err = g.GetPaymentStatus(t.Context(), "boom")
	assert.ErrorIs(t, err, domain.ErrGateway)
}

func TestCreatePayoutSignsRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, "/payouts", r.URL.Path)
		assert.Equal(t, "refund:b1:challenger", r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "relay-key", r.Header.Get(crypto.HeaderKey))

		msg := r.Header.Get(crypto.HeaderTimestamp) + "POST/payouts" + string(body)
		assert.True(t, crypto.Verify([]byte("relay-secret"), msg, r.Header.Get(crypto.HeaderSignature)))

		var req payoutRequest
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "rAlice", req.Destination)
		assert.Equal(t, "150000", req.Amount)
		_, _ = io.WriteString(w, `{"success":true,"txHash":"PAY1"}`)
	}))
	defer srv.Close()

	g := NewGateway(Options{RelayURL: srv.URL, RelayKey: "relay-key", RelaySecret: "relay-secret"})
	res, err := g.CreatePayout(t.Context(), domain.PayoutParams{
		Destination:    "rAlice",
		Amount:         decimal.NewFromInt(150000),
		Currency:       "WLO",
		Memo:           "refund",
		IdempotencyKey: "refund:b1:challenger",
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "PAY1", res.TxHash)
}

func TestWebhook(t *testing.T) {
	body := []byte(`{"meta":{"payload_uuidv4":"abc"},"payloadResponse":{"payload_uuidv4":"abc","signed":true,"txid":"TX"}}`)
	sig := crypto.Sign([]byte("hook"), string(body))

	assert.True(t, VerifyWebhook("hook", body, sig))
	assert.False(t, VerifyWebhook("hook", body, "00"))
	assert.False(t, VerifyWebhook("", body, sig))

	cb, err := ParseWebhook(body)
	require.NoError(t, err)
	assert.Equal(t, "abc", cb.CorrelationID())

	_, err = ParseWebhook([]byte(`{}`))
	assert.Error(t, err)
}

func TestCurrencyCode(t *testing.T) {
	assert.Equal(t, "WLO", currencyCode("WLO"))
	code := currencyCode("WALLO")
	assert.Len(t, code, 40)
	assert.Equal(t, "57414C4C4F", code[:10])
}

func ptr(b bool) *bool { return &b }
