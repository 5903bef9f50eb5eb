package s3blob

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/memebattle/internal/cache/redis"
	"github.com/alanyoungcy/memebattle/internal/domain"
)

type memWriter struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.objects == nil {
		w.objects = make(map[string][]byte)
	}
	w.objects[path] = b
	return nil
}

func TestArchiveBattles(t *testing.T) {
	mr := miniredis.RunT(t)
	c := redis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	battles := redis.NewBattleStore(c)
	voters := redis.NewVoterStore(c)
	ctx := context.Background()

	closed := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	completed := domain.Battle{ID: "done", Status: domain.BattleStatusCompleted, Challenger: "rA", CreatedAt: closed.Add(-48 * time.Hour), CompletedAt: &closed}
	expiredUnrefunded := domain.Battle{ID: "exp", Status: domain.BattleStatusExpired, Challenger: "rB", CreatedAt: closed.Add(-20 * time.Hour), ExpiredAt: &closed}
	recent := closed.Add(47 * time.Hour)
	fresh := domain.Battle{ID: "fresh", Status: domain.BattleStatusRefunded, Challenger: "rC", CreatedAt: closed, RefundedAt: &recent}
	for _, b := range []domain.Battle{completed, expiredUnrefunded, fresh} {
		require.NoError(t, battles.Create(ctx, b))
	}
	_, err := voters.Add(ctx, domain.VoterRecord{BattleID: "done", Wallet: "rV", Side: domain.SideA, AmountPaid: decimal.NewFromInt(30000), PaidAt: closed})
	require.NoError(t, err)

	w := &memWriter{}
	a := NewBattleArchiver(w, battles, voters, nil, "battles", slog.New(slog.DiscardHandler))
	a.now = func() time.Time { return closed.Add(48 * time.Hour) }

	n, err := a.ArchiveBattles(ctx, closed.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, w.objects, "battles/2025/03/done.json")
	assert.True(t, bytes.Contains(w.objects["battles/2025/03/done.voters.jsonl"], []byte(`"wallet":"rV"`)))

	got, err := battles.Get(ctx, "done")
	require.NoError(t, err)
	require.NotNil(t, got.ArchivedAt)
	path, ok := a.DocumentPath(got)
	assert.True(t, ok)
	assert.Equal(t, "battles/2025/03/done.json", path)

	n, err = a.ArchiveBattles(ctx, closed.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWithScheme(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", withScheme("s3.example.com", true))
	assert.Equal(t, "http://minio:9000", withScheme("minio:9000", false))
	assert.Equal(t, "https://already", withScheme("https://already", false))
}
