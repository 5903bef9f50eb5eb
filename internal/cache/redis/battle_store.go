package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alanyoungcy/memebattle/internal/domain"
	"github.com/redis/go-redis/v9"
)

// maxUpdateAttempts bounds optimistic retries when concurrent writers keep
// touching the same battle.
const maxUpdateAttempts = 16

// BattleStore implements domain.BattleStore. Every write after Create goes
// through Update, a WATCH/MULTI compare-and-set on the battle key; the status
// index sets are changed in the same transaction so they never drift from the
// stored status.
type BattleStore struct {
	rdb *redis.Client
}

// NewBattleStore creates a BattleStore backed by the given Client.
func NewBattleStore(c *Client) *BattleStore {
	return &BattleStore{rdb: c.Underlying()}
}

// Create stores a new battle. It returns domain.ErrAlreadyExists when a
// battle with the same id is already stored, which makes re-applying the same
// start payment harmless.
func (s *BattleStore) Create(ctx context.Context, b domain.Battle) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("redis: marshal battle %s: %w", b.ID, err)
	}
	key := battleKey(b.ID)

	txf := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return domain.ErrAlreadyExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.ZAdd(ctx, battleIndexKey, redis.Z{Score: float64(b.CreatedAt.UnixMilli()), Member: b.ID})
			pipe.SAdd(ctx, battleStatusKey(b.Status), b.ID)
			return nil
		})
		return err
	}

	for range maxUpdateAttempts {
		err := s.rdb.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, domain.ErrAlreadyExists):
			return err
		default:
			return fmt.Errorf("redis: create battle %s: %w", b.ID, err)
		}
	}
	return fmt.Errorf("redis: create battle %s: %w", b.ID, domain.ErrConflict)
}

// Get returns the battle with the given id or domain.ErrNotFound.
func (s *BattleStore) Get(ctx context.Context, id string) (domain.Battle, error) {
	data, err := s.rdb.Get(ctx, battleKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Battle{}, domain.ErrNotFound
		}
		return domain.Battle{}, fmt.Errorf("redis: get battle %s: %w", id, err)
	}
	var b domain.Battle
	if err := json.Unmarshal(data, &b); err != nil {
		return domain.Battle{}, fmt.Errorf("redis: unmarshal battle %s: %w", id, err)
	}
	return b, nil
}

// Update reads the battle, hands it to fn and writes the result only if the
// key was not modified in between; otherwise it retries from a fresh read.
// An error from fn aborts the update unchanged and is returned as is.
func (s *BattleStore) Update(ctx context.Context, id string, fn func(*domain.Battle) error) (domain.Battle, error) {
	key := battleKey(id)
	var out domain.Battle
	var fnErr error

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				fnErr = domain.ErrNotFound
				return fnErr
			}
			return err
		}
		var b domain.Battle
		if err := json.Unmarshal(data, &b); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}
		prev := b.Status

		if err := fn(&b); err != nil {
			fnErr = err
			return err
		}
		if b.ID != id {
			return fmt.Errorf("battle id changed from %s to %s", id, b.ID)
		}

		payload, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			if prev != b.Status {
				pipe.SRem(ctx, battleStatusKey(prev), id)
				pipe.SAdd(ctx, battleStatusKey(b.Status), id)
			}
			return nil
		})
		if err == nil {
			out = b
		}
		return err
	}

	for range maxUpdateAttempts {
		fnErr = nil
		err := s.rdb.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return out, nil
		case fnErr != nil:
			return domain.Battle{}, fnErr
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return domain.Battle{}, fmt.Errorf("redis: update battle %s: %w", id, err)
		}
	}
	return domain.Battle{}, fmt.Errorf("redis: update battle %s: %w", id, domain.ErrConflict)
}

// List returns battles newest first.
func (s *BattleStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Battle, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	rangeBy := &redis.ZRangeBy{
		Min:    "-inf",
		Max:    "+inf",
		Offset: int64(opts.Offset),
		Count:  int64(limit),
	}
	if opts.Since != nil {
		rangeBy.Min = fmt.Sprintf("%d", opts.Since.UnixMilli())
	}
	if opts.Until != nil {
		rangeBy.Max = fmt.Sprintf("(%d", opts.Until.UnixMilli())
	}
	ids, err := s.rdb.ZRevRangeByScore(ctx, battleIndexKey, rangeBy).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list battles: %w", err)
	}
	return s.getMany(ctx, ids)
}

// ListByStatus returns every battle currently in one of the given statuses.
func (s *BattleStore) ListByStatus(ctx context.Context, statuses ...domain.BattleStatus) ([]domain.Battle, error) {
	var ids []string
	for _, st := range statuses {
		members, err := s.rdb.SMembers(ctx, battleStatusKey(st)).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: list battles by status %s: %w", st, err)
		}
		ids = append(ids, members...)
	}
	battles, err := s.getMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	// A battle may have moved on between SMEMBERS and MGET.
	want := make(map[domain.BattleStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	out := battles[:0]
	for _, b := range battles {
		if want[b.Status] {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *BattleStore) getMany(ctx context.Context, ids []string) ([]domain.Battle, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = battleKey(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: mget battles: %w", err)
	}
	out := make([]domain.Battle, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var b domain.Battle
		if err := json.Unmarshal([]byte(raw), &b); err != nil {
			return nil, fmt.Errorf("redis: unmarshal battle %s: %w", ids[i], err)
		}
		out = append(out, b)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.BattleStore = (*BattleStore)(nil)
