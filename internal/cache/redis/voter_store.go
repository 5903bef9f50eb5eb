package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/alanyoungcy/memebattle/internal/domain"
	"github.com/redis/go-redis/v9"
)

// VoterStore implements domain.VoterStore. Voter records are written once
// with SETNX and enumerated by key prefix, so the stored records are the only
// source of truth for who voted.
type VoterStore struct {
	rdb *redis.Client
}

// NewVoterStore creates a VoterStore backed by the given Client.
func NewVoterStore(c *Client) *VoterStore {
	return &VoterStore{rdb: c.Underlying()}
}

// Add stores rec if the wallet has not voted in the battle yet. Otherwise it
// returns the stored record together with domain.ErrAlreadyExists.
func (s *VoterStore) Add(ctx context.Context, rec domain.VoterRecord) (domain.VoterRecord, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return domain.VoterRecord{}, fmt.Errorf("redis: marshal voter %s/%s: %w", rec.BattleID, rec.Wallet, err)
	}
	ok, err := s.rdb.SetNX(ctx, voterKey(rec.BattleID, rec.Wallet), data, 0).Result()
	if err != nil {
		return domain.VoterRecord{}, fmt.Errorf("redis: add voter %s/%s: %w", rec.BattleID, rec.Wallet, err)
	}
	if ok {
		return rec, nil
	}
	existing, err := s.Get(ctx, rec.BattleID, rec.Wallet)
	if err != nil {
		return domain.VoterRecord{}, err
	}
	return existing, domain.ErrAlreadyExists
}

// Get returns one voter record or domain.ErrNotFound.
func (s *VoterStore) Get(ctx context.Context, battleID, wallet string) (domain.VoterRecord, error) {
	data, err := s.rdb.Get(ctx, voterKey(battleID, wallet)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.VoterRecord{}, domain.ErrNotFound
		}
		return domain.VoterRecord{}, fmt.Errorf("redis: get voter %s/%s: %w", battleID, wallet, err)
	}
	var rec domain.VoterRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.VoterRecord{}, fmt.Errorf("redis: unmarshal voter %s/%s: %w", battleID, wallet, err)
	}
	return rec, nil
}

// List returns every voter of the battle ordered by payment time.
func (s *VoterStore) List(ctx context.Context, battleID string) ([]domain.VoterRecord, error) {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, voterPattern(battleID), 200).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis: scan voters %s: %w", battleID, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: mget voters %s: %w", battleID, err)
	}
	out := make([]domain.VoterRecord, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var rec domain.VoterRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("redis: unmarshal voter %s: %w", keys[i], err)
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PaidAt.Equal(out[j].PaidAt) {
			return out[i].Wallet < out[j].Wallet
		}
		return out[i].PaidAt.Before(out[j].PaidAt)
	})
	return out, nil
}

// GetRefund returns the refund marker of one voter. A voter without a marker
// gets a zero PartyRefund and no error.
func (s *VoterStore) GetRefund(ctx context.Context, battleID, wallet string) (domain.PartyRefund, error) {
	data, err := s.rdb.Get(ctx, voterRefundKey(battleID, wallet)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.PartyRefund{}, nil
		}
		return domain.PartyRefund{}, fmt.Errorf("redis: get voter refund %s/%s: %w", battleID, wallet, err)
	}
	var r domain.PartyRefund
	if err := json.Unmarshal(data, &r); err != nil {
		return domain.PartyRefund{}, fmt.Errorf("redis: unmarshal voter refund %s/%s: %w", battleID, wallet, err)
	}
	return r, nil
}

// MarkRefunded records a completed voter refund. The marker is written with
// SETNX so a second writer cannot overwrite the first payout's details.
func (s *VoterStore) MarkRefunded(ctx context.Context, battleID, wallet string, r domain.PartyRefund) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("redis: marshal voter refund %s/%s: %w", battleID, wallet, err)
	}
	if err := s.rdb.SetNX(ctx, voterRefundKey(battleID, wallet), data, 0).Err(); err != nil {
		return fmt.Errorf("redis: mark voter refunded %s/%s: %w", battleID, wallet, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.VoterStore = (*VoterStore)(nil)
