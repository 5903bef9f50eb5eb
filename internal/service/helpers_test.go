package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/memebattle/internal/cache/redis"
	"github.com/alanyoungcy/memebattle/internal/domain"
	"github.com/alanyoungcy/memebattle/internal/metrics"
)

// fakeGateway records payment requests and payouts in memory. Payouts are
// deduplicated by idempotency key like the real relay.
type fakeGateway struct {
	mu       sync.Mutex
	seq      int
	statuses map[string]domain.GatewayStatus
	payouts  []domain.PayoutParams
	byKey    map[string]string
	failFor  map[string]bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		statuses: make(map[string]domain.GatewayStatus),
		byKey:    make(map[string]string),
		failFor:  make(map[string]bool),
	}
}

func (g *fakeGateway) CreatePaymentRequest(_ context.Context, p domain.PaymentRequestParams) (domain.GatewayPayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	id := fmt.Sprintf("pay-%d", g.seq)
	g.statuses[id] = domain.GatewayStatus{}
	return domain.GatewayPayment{CorrelationID: id, Link: "https://sign.example/" + id}, nil
}

func (g *fakeGateway) GetPaymentStatus(_ context.Context, id string) (domain.GatewayStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.statuses[id]
	if !ok {
		return domain.GatewayStatus{}, domain.ErrNotFound
	}
	return st, nil
}

func (g *fakeGateway) CreatePayout(_ context.Context, p domain.PayoutParams) (domain.PayoutResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failFor[p.Destination] {
		return domain.PayoutResult{Success: false, Error: "ledger unavailable"}, nil
	}
	if tx, ok := g.byKey[p.IdempotencyKey]; ok {
		return domain.PayoutResult{Success: true, TxHash: tx}, nil
	}
	g.payouts = append(g.payouts, p)
	tx := fmt.Sprintf("payout-%d", len(g.payouts))
	g.byKey[p.IdempotencyKey] = tx
	return domain.PayoutResult{Success: true, TxHash: tx}, nil
}

func (g *fakeGateway) sign(id, txHash string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	signed := true
	g.statuses[id] = domain.GatewayStatus{Signed: &signed, Resolved: true, TxHash: txHash}
}

func (g *fakeGateway) reject(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	signed := false
	g.statuses[id] = domain.GatewayStatus{Signed: &signed, Resolved: true}
}

func (g *fakeGateway) fail(wallet string, on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failFor[wallet] = on
}

func (g *fakeGateway) paidTo(wallet string) []decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []decimal.Decimal
	for _, p := range g.payouts {
		if p.Destination == wallet {
			out = append(out, p.Amount)
		}
	}
	return out
}

func (g *fakeGateway) payoutCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.payouts)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	clock    *testClock
	gw       *fakeGateway
	battles  *redis.BattleStore
	voters   *redis.VoterStore
	requests *redis.PaymentRequestStore
	orphans  *redis.OrphanRefundStore
	fees     *FeePolicy
	tracker  *PaymentTracker
	refunds  *RefundService
	svc      *BattleService
	sweeper  *Sweeper
	metrics  *metrics.BattleMetrics
}

var (
	t0          = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	startFee    = decimal.NewFromInt(150000)
	acceptFee   = decimal.NewFromInt(75000)
	voteFee     = decimal.NewFromInt(30000)
	defaultFees = domain.FeeSchedule{Start: startFee, Accept: acceptFee, Vote: voteFee}
	decimalTwo  = decimal.NewFromInt(2)
)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	c := redis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	logger := slog.New(slog.DiscardHandler)

	env := &testEnv{
		clock:    &testClock{now: t0},
		gw:       newFakeGateway(),
		battles:  redis.NewBattleStore(c),
		voters:   redis.NewVoterStore(c),
		requests: redis.NewPaymentRequestStore(c, 0),
		orphans:  redis.NewOrphanRefundStore(c),
		metrics:  metrics.NewBattleMetricsWithRegistry("test", prometheus.NewRegistry()),
	}
	rec := NewRecorder(redis.NewEventBus(c), nil, env.metrics, logger)
	locks := redis.NewLockManager(c)

	env.fees = NewFeePolicy(redis.NewFeeStore(c), defaultFees, rec, logger)
	env.fees.now = env.clock.Now
	env.tracker = NewPaymentTracker(env.gw, env.requests, redis.NewPaymentMarkerStore(c, 0), locks, TrackerConfig{
		Treasury:      "rTreasury",
		Currency:      "WLO",
		RequestExpiry: 10 * time.Minute,
		PollInterval:  10 * time.Millisecond,
	}, rec, logger)
	env.tracker.now = env.clock.Now
	env.refunds = NewRefundService(env.battles, env.voters, env.orphans, env.gw, locks, "WLO", rec, logger)
	env.refunds.now = env.clock.Now
	env.svc = NewBattleService(env.battles, env.voters, env.fees, env.tracker, env.refunds, redis.NewRateLimiter(c), BattleConfig{
		AcceptanceWindow: 10 * time.Hour,
		VotingWindow:     24 * time.Hour,
		RateLimits:       RateLimits{Enabled: true, Window: time.Hour, Start: 5, Accept: 10, Vote: 50},
	}, rec, logger)
	env.svc.now = env.clock.Now
	env.sweeper = NewSweeper(env.battles, env.svc, env.refunds, SweeperConfig{}, rec, logger)
	env.sweeper.now = env.clock.Now
	return env
}

// createBattle opens an OPEN battle for challenger and confirms its start
// payment.
func (e *testEnv) createBattle(t *testing.T, challenger string) domain.Battle {
	t.Helper()
	ctx := context.Background()
	res, err := e.svc.CreateBattle(ctx, CreateBattleInput{
		Challenger: challenger,
		ContentRef: "meme://" + challenger,
		Mode:       domain.BattleModeOpen,
	})
	require.NoError(t, err)
	e.gw.sign(res.Payment.CorrelationID, "tx-start-"+res.BattleID)
	status, err := e.tracker.Confirm(ctx, res.Payment.CorrelationID)
	require.NoError(t, err)
	require.Equal(t, domain.PaymentSigned, status)

	b, err := e.battles.Get(ctx, res.BattleID)
	require.NoError(t, err)
	return b
}

func (e *testEnv) accept(t *testing.T, battleID, wallet string) {
	t.Helper()
	ctx := context.Background()
	req, err := e.svc.AcceptBattle(ctx, battleID, wallet, "meme://"+wallet)
	require.NoError(t, err)
	e.gw.sign(req.CorrelationID, "tx-accept-"+battleID+"-"+wallet)
	status, err := e.tracker.Confirm(ctx, req.CorrelationID)
	require.NoError(t, err)
	require.Equal(t, domain.PaymentSigned, status)
}

func (e *testEnv) vote(t *testing.T, battleID, wallet string, side domain.Side) {
	t.Helper()
	ctx := context.Background()
	req, err := e.svc.CastVote(ctx, battleID, wallet, side)
	require.NoError(t, err)
	e.gw.sign(req.CorrelationID, "tx-vote-"+battleID+"-"+wallet)
	status, err := e.tracker.Confirm(ctx, req.CorrelationID)
	require.NoError(t, err)
	require.Equal(t, domain.PaymentSigned, status)
}
