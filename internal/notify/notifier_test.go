package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/memebattle/internal/cache/redis"
	"github.com/alanyoungcy/memebattle/internal/domain"
)

type recordingSender struct {
	mu     sync.Mutex
	titles []string
	err    error
}

func (s *recordingSender) Send(_ context.Context, title, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles = append(s.titles, title)
	return s.err
}

func (s *recordingSender) Name() string { return "recording" }

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.titles)
}

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestNotifier_Filter(t *testing.T) {
	s := &recordingSender{}
	n := NewNotifier([]Sender{s}, []string{domain.EventBattleCreated, " "}, discard())
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, domain.BattleEvent{Type: domain.EventVoteCast, BattleID: "b1"}))
	require.NoError(t, n.Notify(ctx, domain.BattleEvent{Type: domain.EventBattleCreated, BattleID: "b1"}))
	require.NoError(t, n.NotifyAll(ctx, "maintenance", "back soon"))

	assert.Equal(t, []string{"New meme battle", "maintenance"}, s.titles)
}

func TestNotifier_SenderFailureDoesNotStopOthers(t *testing.T) {
	bad := &recordingSender{err: errors.New("boom")}
	good := &recordingSender{}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.Notify(context.Background(), domain.BattleEvent{Type: domain.EventRefundFailed})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 sender(s) failed")
	assert.Equal(t, 1, good.count())
}

func TestRender(t *testing.T) {
	title, msg := Render(domain.BattleEvent{
		Type:     domain.EventBattleCompleted,
		BattleID: "b1",
		Status:   domain.BattleStatusCompleted,
		Data:     map[string]any{"winner": "A", "votes_b": 1, "votes_a": 2, "empty": ""},
	})
	assert.Equal(t, "Battle settled", title)
	assert.Equal(t, "Battle: b1\nStatus: COMPLETED\nvotes_a: 2\nvotes_b: 1\nwinner: A", msg)

	title, _ = Render(domain.BattleEvent{Type: "custom"})
	assert.Equal(t, "custom", title)
}

func TestTelegramSender(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.apiBase = srv.URL
	require.NoError(t, s.Send(context.Background(), "Refund issued", "Wallet: r_abc"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Refund issued*\nWallet: r\\_abc", got["text"])
}

func TestDiscordSender(t *testing.T) {
	var bodies []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		mu.Unlock()
		if strings.Contains(string(b), "fail") {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	ctx := context.Background()
	require.NoError(t, d.SendEvent(ctx, domain.BattleEvent{Type: domain.EventRefundFailed, BattleID: "b1", At: time.Now()}))
	require.NoError(t, d.Send(ctx, "hello", "world"))
	err := d.Send(ctx, "fail", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 400")

	require.Len(t, bodies, 3)
	assert.Contains(t, bodies[0], `"embeds"`)
	assert.Contains(t, bodies[0], "15548997")
	assert.Contains(t, bodies[1], `"content":"**hello**\nworld"`)
}

func TestNotifier_RunForwardsBusEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	bus := redis.NewEventBus(redis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()})))
	s := &recordingSender{}
	n := NewNotifier([]Sender{s}, nil, discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx, bus, domain.ChannelBattles) }()

	payload, err := json.Marshal(domain.BattleEvent{Type: domain.EventBattleExpired, BattleID: "b9"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_ = bus.Publish(context.Background(), domain.ChannelBattles, payload)
		return s.count() > 0
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("notifier did not stop")
	}
}

// closingBus hands out subscriptions that the test closes by hand.
type closingBus struct {
	domain.EventBus
	sub chan []byte
}

func (b *closingBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return b.sub, nil
}

func TestNotifier_RunFailsWhenSubscriptionCloses(t *testing.T) {
	bus := &closingBus{sub: make(chan []byte)}
	n := NewNotifier([]Sender{&recordingSender{}}, nil, discard())

	done := make(chan error, 1)
	go func() { done <- n.Run(context.Background(), bus, domain.ChannelRefunds) }()
	close(bus.sub)

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "subscription refunds closed")
	case <-time.After(2 * time.Second):
		t.Fatal("notifier kept running on a closed subscription")
	}
}
