package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/memebattle/internal/config"
	"github.com/alanyoungcy/memebattle/internal/server"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := config.Defaults()
	cfg.Redis.Addr = mr.Addr()
	cfg.Gateway.APIKey = "key"
	cfg.Gateway.APISecret = "secret"
	cfg.Gateway.TreasuryWallet = "rTreasury"
	cfg.Payout.RelayURL = "http://relay.invalid"
	cfg.Payout.Secret = "relay-secret"
	cfg.Server.AdminKey = "admin"
	require.NoError(t, cfg.Validate())
	return &cfg
}

func TestFeeDefaults(t *testing.T) {
	fs, err := feeDefaults(config.BattleConfig{StartFee: "150000", AcceptFee: "75000", VoteFee: "30000.5"})
	require.NoError(t, err)
	assert.True(t, fs.Start.Equal(decimal.NewFromInt(150000)))
	assert.True(t, fs.Accept.Equal(decimal.NewFromInt(75000)))
	assert.Equal(t, "30000.5", fs.Vote.String())

	_, err = feeDefaults(config.BattleConfig{StartFee: "lots", AcceptFee: "1", VoteFee: "1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "battle.start_fee")
}

func TestWire_ServesHealthAndFees(t *testing.T) {
	cfg := testConfig(t)
	logger := slog.New(slog.DiscardHandler)

	deps, cleanup, err := Wire(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(cleanup)

	assert.Nil(t, deps.Postgres)
	assert.Nil(t, deps.AuditStore)
	assert.Nil(t, deps.Archiver)
	require.NotNil(t, deps.Metrics)
	assert.False(t, deps.Notifier.Enabled())

	a := New(cfg, logger)
	h := server.NewHandler(server.Config{AdminKey: cfg.Server.AdminKey}, a.buildHandlers(deps, nil), nil, nil, logger)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	resp, err := srv.Client().Get(srv.URL + "/api/health")
	require.NoError(t, err)
	var health struct {
		Status   string            `json:"status"`
		Backends map[string]string `json:"backends"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", health.Status)
	assert.Contains(t, health.Backends, "redis")

	resp, err = srv.Client().Get(srv.URL + "/api/fees")
	require.NoError(t, err)
	var fees struct {
		Fees map[string]string `json:"fees"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&fees))
	resp.Body.Close()
	assert.Equal(t, "75000", fees.Fees["acceptFee"])

	resp, err = srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWorkerMode_StopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mode = "worker"
	logger := slog.New(slog.DiscardHandler)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(cfg, logger).Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker mode did not stop")
	}
}

func TestRun_UnknownMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mode = "trade"
	err := New(cfg, slog.New(slog.DiscardHandler)).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported mode "trade"`)
}
