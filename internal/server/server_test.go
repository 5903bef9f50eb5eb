package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/memebattle/internal/cache/redis"
	"github.com/alanyoungcy/memebattle/internal/domain"
	"github.com/alanyoungcy/memebattle/internal/metrics"
	"github.com/alanyoungcy/memebattle/internal/server/handler"
	"github.com/alanyoungcy/memebattle/internal/service"
)

const adminKey = "admin-secret"

type stubGateway struct {
	mu       sync.Mutex
	seq      int
	statuses map[string]domain.GatewayStatus
	payouts  []domain.PayoutParams
	byKey    map[string]string
}

func (g *stubGateway) CreatePaymentRequest(context.Context, domain.PaymentRequestParams) (domain.GatewayPayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	id := fmt.Sprintf("pay-%d", g.seq)
	g.statuses[id] = domain.GatewayStatus{}
	return domain.GatewayPayment{CorrelationID: id, Link: "https://sign.example/" + id}, nil
}

func (g *stubGateway) GetPaymentStatus(_ context.Context, id string) (domain.GatewayStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.statuses[id], nil
}

func (g *stubGateway) CreatePayout(_ context.Context, p domain.PayoutParams) (domain.PayoutResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if tx, ok := g.byKey[p.IdempotencyKey]; ok {
		return domain.PayoutResult{Success: true, TxHash: tx}, nil
	}
	g.payouts = append(g.payouts, p)
	tx := fmt.Sprintf("payout-%d", len(g.payouts))
	g.byKey[p.IdempotencyKey] = tx
	return domain.PayoutResult{Success: true, TxHash: tx}, nil
}

func (g *stubGateway) sign(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ok := true
	g.statuses[id] = domain.GatewayStatus{Signed: &ok, Resolved: true, TxHash: "tx-" + id}
}

func (g *stubGateway) paid() map[string]string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]string, len(g.payouts))
	for _, p := range g.payouts {
		out[p.Destination] = p.Amount.String()
	}
	return out
}

type testServer struct {
	*httptest.Server
	gw *stubGateway
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()
	mr := miniredis.RunT(t)
	c := redis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	logger := slog.New(slog.DiscardHandler)
	gw := &stubGateway{statuses: map[string]domain.GatewayStatus{}, byKey: map[string]string{}}

	reg := prometheus.NewRegistry()
	rec := service.NewRecorder(redis.NewEventBus(c), nil, metrics.NewBattleMetricsWithRegistry("test", reg), logger)
	locks := redis.NewLockManager(c)
	battles := redis.NewBattleStore(c)
	voters := redis.NewVoterStore(c)

	fees := service.NewFeePolicy(redis.NewFeeStore(c), domain.FeeSchedule{
		Start:  decimal.NewFromInt(150000),
		Accept: decimal.NewFromInt(75000),
		Vote:   decimal.NewFromInt(30000),
	}, rec, logger)
	tracker := service.NewPaymentTracker(gw, redis.NewPaymentRequestStore(c, 0), redis.NewPaymentMarkerStore(c, 0), locks,
		service.TrackerConfig{Treasury: "rTreasury", Currency: "WLO"}, rec, logger)
	refunds := service.NewRefundService(battles, voters, redis.NewOrphanRefundStore(c), gw, locks, "WLO", rec, logger)
	svc := service.NewBattleService(battles, voters, fees, tracker, refunds, redis.NewRateLimiter(c),
		service.BattleConfig{}, rec, logger)
	sweeper := service.NewSweeper(battles, svc, refunds, service.SweeperConfig{}, rec, logger)

	cfg.AdminKey = adminKey
	h := NewHandler(cfg, Handlers{
		Health:   handler.NewHealthHandler(map[string]handler.Pinger{"redis": c}, logger),
		Status:   handler.NewStatusHandler("api", nil, time.Now()),
		Battles:  handler.NewBattleHandler(svc, logger),
		Payments: handler.NewPaymentHandler(tracker, "whsec", logger),
		Fees:     handler.NewFeeHandler(fees, logger),
		Admin:    handler.NewAdminHandler(handler.AdminDeps{Refunds: refunds, Sweeper: sweeper, Battles: svc}, logger),
		Metrics:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}, nil, redis.NewRateLimiter(c), logger)

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, gw: gw}
}

func (s *testServer) do(t *testing.T, method, path string, body any, header ...string) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.URL+path, &buf)
	require.NoError(t, err)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

// pay signs the payment and confirms it through the API.
func (s *testServer) pay(t *testing.T, correlationID string) {
	t.Helper()
	s.gw.sign(correlationID)
	code, body := s.do(t, http.MethodGet, "/api/payments/"+correlationID, nil)
	require.Equal(t, http.StatusOK, code, body)
	require.Equal(t, "SIGNED", body["status"])
}

func TestServer_BattleLifecycleAndAdminRefund(t *testing.T) {
	s := newTestServer(t, Config{})

	code, body := s.do(t, http.MethodPost, "/api/battles", map[string]string{
		"wallet": "rChallenger", "contentRef": "ipfs://meme-a",
	})
	require.Equal(t, http.StatusAccepted, code, body)
	battleID := body["battleId"].(string)
	s.pay(t, body["correlationId"].(string))

	code, body = s.do(t, http.MethodGet, "/api/battles/"+battleID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "AWAITING_ACCEPTANCE", body["status"])

	code, body = s.do(t, http.MethodPost, "/api/battles/"+battleID+"/accept", map[string]string{
		"wallet": "rAcceptor", "contentRef": "ipfs://meme-b",
	})
	require.Equal(t, http.StatusAccepted, code, body)
	s.pay(t, body["correlationId"].(string))

	code, _ = s.do(t, http.MethodPost, "/api/battles/"+battleID+"/accept", map[string]string{
		"wallet": "rLate", "contentRef": "ipfs://meme-c",
	})
	assert.Equal(t, http.StatusConflict, code)

	code, body = s.do(t, http.MethodPost, "/api/battles/"+battleID+"/votes", map[string]string{
		"wallet": "rVoter", "side": "A",
	})
	require.Equal(t, http.StatusAccepted, code, body)
	s.pay(t, body["correlationId"].(string))

	code, body = s.do(t, http.MethodGet, "/api/battles/"+battleID+"/voters", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["voters"], 1)

	code, body = s.do(t, http.MethodPost, "/api/admin/refund/acceptor", map[string]string{
		"battleId": battleID, "wallet": "rSomeoneElse",
	}, "X-Admin-Key", adminKey)
	assert.Equal(t, http.StatusBadRequest, code, body)
	assert.Equal(t, "failed", body["status"])
	assert.Empty(t, s.gw.paid())

	refund := map[string]string{"battleId": battleID, "reason": "moderation"}
	code, _ = s.do(t, http.MethodPost, "/api/admin/refund/full-battle", refund)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body = s.do(t, http.MethodPost, "/api/admin/refund/full-battle", refund, "X-Admin-Key", adminKey)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["complete"])
	assert.Equal(t, "REFUNDED", body["status"])
	assert.Equal(t, float64(3), body["payouts"])
	assert.Equal(t, map[string]string{
		"rChallenger": "150000",
		"rAcceptor":   "75000",
		"rVoter":      "30000",
	}, s.gw.paid())

	code, body = s.do(t, http.MethodPost, "/api/admin/refund/full-battle", refund, "Authorization", "Bearer "+adminKey)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, float64(0), body["payouts"])

	code, body = s.do(t, http.MethodGet, "/api/battles/"+battleID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "REFUNDED", body["status"])
}

func TestServer_AdminRoutes(t *testing.T) {
	s := newTestServer(t, Config{})

	code, _ := s.do(t, http.MethodPut, "/api/admin/fees", map[string]any{"useDefaults": true})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body := s.do(t, http.MethodPut, "/api/admin/fees", map[string]string{
		"startFee": "1000", "acceptFee": "500", "voteFee": "100",
	}, "X-Admin-Key", adminKey)
	require.Equal(t, http.StatusOK, code, body)

	code, body = s.do(t, http.MethodGet, "/api/fees", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "1000", body["fees"].(map[string]any)["startFee"])
	assert.Equal(t, false, body["useDefaults"])

	code, body = s.do(t, http.MethodPost, "/api/admin/refund/trigger-expired", nil, "X-Admin-Key", adminKey)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, float64(0), body["expired"])

	code, _ = s.do(t, http.MethodPost, "/api/admin/battles/missing/settle", nil, "X-Admin-Key", adminKey)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(t, http.MethodGet, "/api/admin/battles/missing/audit", nil, "X-Admin-Key", adminKey)
	assert.Equal(t, http.StatusNotImplemented, code)

	code, body = s.do(t, http.MethodPost, "/api/admin/refund/challenger", map[string]string{
		"battleId": "missing",
	}, "X-Admin-Key", adminKey)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "failed", body["status"])
}

func TestServer_RateLimitAndOps(t *testing.T) {
	s := newTestServer(t, Config{APIRateLimit: 2, APIRateWindow: time.Minute})

	for range 2 {
		code, _ := s.do(t, http.MethodGet, "/api/fees", nil)
		require.Equal(t, http.StatusOK, code)
	}
	code, _ := s.do(t, http.MethodGet, "/api/fees", nil)
	assert.Equal(t, http.StatusTooManyRequests, code)

	// Health and metrics are outside the API limit.
	code, body := s.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	resp, err := s.Client().Get(s.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Content-Type"))
}
