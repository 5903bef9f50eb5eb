package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
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

type memAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	err     error
}

func (a *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	id, _ := detail["battle_id"].(string)
	a.entries = append(a.entries, domain.AuditEntry{Event: event, BattleID: id, Detail: detail})
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return a.entries, nil
}

func (a *memAudit) ListByBattle(_ context.Context, battleID string, _ int) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	for _, e := range a.entries {
		if e.BattleID == battleID {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestRecorder_Emit(t *testing.T) {
	mr := miniredis.RunT(t)
	c := redis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	bus := redis.NewEventBus(c)
	audit := &memAudit{}
	rec := NewRecorder(bus, audit, nil, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	rec.Emit(ctx, domain.ChannelBattles, domain.BattleEvent{
		Type:     domain.EventBattleCreated,
		BattleID: "b1",
		Status:   domain.BattleStatusAwaitingAcceptance,
		Wallet:   "rChallenger",
		Data:     map[string]any{"mode": "OPEN"},
		At:       time.Now().UTC(),
	})

	msgs, err := bus.StreamRead(ctx, domain.StreamBattles, "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	var evt domain.BattleEvent
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &evt))
	assert.Equal(t, domain.EventBattleCreated, evt.Type)
	assert.Equal(t, "b1", evt.BattleID)

	entries, err := audit.ListByBattle(ctx, "b1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "OPEN", entries[0].Detail["mode"])
	assert.Equal(t, "rChallenger", entries[0].Detail["wallet"])
	assert.Equal(t, string(domain.BattleStatusAwaitingAcceptance), entries[0].Detail["status"])
}

func TestRecorder_FailuresDoNotPropagate(t *testing.T) {
	audit := &memAudit{err: errors.New("db down")}
	rec := NewRecorder(nil, audit, nil, slog.New(slog.DiscardHandler))
	assert.NotPanics(t, func() {
		rec.Emit(context.Background(), domain.ChannelBattles, domain.BattleEvent{Type: "x"})
	})

	var nilRec *Recorder
	assert.Nil(t, nilRec.Metrics())
	assert.NotPanics(t, func() {
		nilRec.Emit(context.Background(), domain.ChannelBattles, domain.BattleEvent{Type: "x"})
	})
}
