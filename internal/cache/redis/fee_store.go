package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alanyoungcy/memebattle/internal/domain"
	"github.com/redis/go-redis/v9"
)

// FeeStore implements domain.FeeStore as a single JSON document.
type FeeStore struct {
	rdb *redis.Client
}

// NewFeeStore creates a FeeStore backed by the given Client.
func NewFeeStore(c *Client) *FeeStore {
	return &FeeStore{rdb: c.Underlying()}
}

// Get returns the stored override or domain.ErrNotFound when an admin never
// set one.
func (s *FeeStore) Get(ctx context.Context) (domain.FeeOverride, error) {
	data, err := s.rdb.Get(ctx, feeOverrideKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.FeeOverride{}, domain.ErrNotFound
		}
		return domain.FeeOverride{}, fmt.Errorf("redis: get fee override: %w", err)
	}
	var o domain.FeeOverride
	if err := json.Unmarshal(data, &o); err != nil {
		return domain.FeeOverride{}, fmt.Errorf("redis: unmarshal fee override: %w", err)
	}
	return o, nil
}

// Set replaces the override.
func (s *FeeStore) Set(ctx context.Context, o domain.FeeOverride) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("redis: marshal fee override: %w", err)
	}
	if err := s.rdb.Set(ctx, feeOverrideKey, data, 0).Err(); err != nil {
		return fmt.Errorf("redis: set fee override: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.FeeStore = (*FeeStore)(nil)
