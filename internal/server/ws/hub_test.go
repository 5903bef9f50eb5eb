package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/memebattle/internal/cache/redis"
	"github.com/alanyoungcy/memebattle/internal/domain"
)

func startHub(t *testing.T) (*Hub, *redis.EventBus, *httptest.Server) {
	t.Helper()
	mr := miniredis.RunT(t)
	bus := redis.NewEventBus(redis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()})))
	hub := NewHub(bus, Config{Mode: "api"}, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	require.Eventually(t, func() bool {
		return int(hub.subscribed.Load()) == len(busChannels)
	}, 2*time.Second, 10*time.Millisecond)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)
	return hub, bus, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var hello map[string]any
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "hello", hello["type"])
	return conn
}

func publish(t *testing.T, bus *redis.EventBus, channel string, evt domain.BattleEvent) []byte {
	t.Helper()
	data, err := json.Marshal(evt)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), channel, data))
	return data
}

type frame struct {
	Channel  string             `json:"channel"`
	StreamID string             `json:"streamId"`
	Event    domain.BattleEvent `json:"event"`
}

func TestHub_RelaysEvents(t *testing.T) {
	hub, bus, srv := startHub(t)
	conn := dial(t, srv, "")
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.clients) == 1
	}, 2*time.Second, 10*time.Millisecond)

	publish(t, bus, domain.ChannelRefunds, domain.BattleEvent{
		Type:     domain.EventRefundIssued,
		BattleID: "b1",
		Wallet:   "rChallenger",
	})

	var got frame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, domain.ChannelRefunds, got.Channel)
	assert.Equal(t, domain.EventRefundIssued, got.Event.Type)
	assert.Equal(t, "b1", got.Event.BattleID)
}

func TestHub_BattleFilter(t *testing.T) {
	hub, bus, srv := startHub(t)
	conn := dial(t, srv, "?battle=b2")
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.clients) == 1
	}, 2*time.Second, 10*time.Millisecond)

	publish(t, bus, domain.ChannelBattles, domain.BattleEvent{Type: domain.EventVoteCast, BattleID: "b1"})
	publish(t, bus, domain.ChannelBattles, domain.BattleEvent{Type: domain.EventFeesUpdated})
	publish(t, bus, domain.ChannelBattles, domain.BattleEvent{Type: domain.EventVoteCast, BattleID: "b2"})

	var first, second frame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&first))
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, domain.EventFeesUpdated, first.Event.Type)
	assert.Equal(t, "b2", second.Event.BattleID)
}

func TestHub_Replay(t *testing.T) {
	_, bus, srv := startHub(t)
	ctx := context.Background()
	for _, id := range []string{"b1", "b2"} {
		data, err := json.Marshal(domain.BattleEvent{Type: domain.EventBattleCreated, BattleID: id})
		require.NoError(t, err)
		require.NoError(t, bus.StreamAppend(ctx, domain.StreamBattles, data))
	}

	conn := dial(t, srv, "")
	require.NoError(t, conn.WriteJSON(clientMsg{Action: "replay"}))

	var a, b frame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&a))
	require.NoError(t, conn.ReadJSON(&b))
	assert.Equal(t, domain.StreamBattles, a.Channel)
	assert.NotEmpty(t, a.StreamID)
	assert.Equal(t, "b1", a.Event.BattleID)
	assert.Equal(t, "b2", b.Event.BattleID)
}

func TestClientWants(t *testing.T) {
	c := &client{
		subs:    map[string]bool{domain.ChannelBattles: true},
		battles: map[string]bool{},
	}
	assert.True(t, c.wants(domain.ChannelBattles, "b1"))
	assert.False(t, c.wants(domain.ChannelRefunds, "b1"))

	c.handle(clientMsg{Action: "subscribe", Channels: []string{domain.ChannelRefunds}, Battles: []string{"b7"}})
	assert.True(t, c.wants(domain.ChannelRefunds, "b7"))
	assert.False(t, c.wants(domain.ChannelRefunds, "b1"))
	assert.True(t, c.wants(domain.ChannelRefunds, ""))

	c.handle(clientMsg{Action: "unsubscribe", Channels: []string{domain.ChannelBattles}})
	assert.False(t, c.wants(domain.ChannelBattles, "b7"))
}
