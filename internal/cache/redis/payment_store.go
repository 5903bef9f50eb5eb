package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/memebattle/internal/domain"
	"github.com/redis/go-redis/v9"
)

// DefaultPaymentTTL is how long payment requests and processed markers are
// retained once written.
const DefaultPaymentTTL = 30 * time.Minute

// PaymentRequestStore implements domain.PaymentRequestStore. Requests live
// under a TTL key; unresolved ones are also indexed in a sorted set scored by
// their expiry so the payment watcher can find them after a restart.
type PaymentRequestStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPaymentRequestStore creates a PaymentRequestStore. A non-positive ttl
// falls back to DefaultPaymentTTL.
func NewPaymentRequestStore(c *Client, ttl time.Duration) *PaymentRequestStore {
	if ttl <= 0 {
		ttl = DefaultPaymentTTL
	}
	return &PaymentRequestStore{rdb: c.Underlying(), ttl: ttl}
}

// Save writes req and keeps the pending index in step with its status.
func (s *PaymentRequestStore) Save(ctx context.Context, req domain.PaymentRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("redis: marshal payment request %s: %w", req.CorrelationID, err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, paymentRequestKey(req.CorrelationID), data, s.ttl)
		if req.Status.IsTerminal() {
			pipe.ZRem(ctx, paymentPendingKey, req.CorrelationID)
		} else {
			pipe.ZAdd(ctx, paymentPendingKey, redis.Z{
				Score:  float64(req.ExpiresAt.UnixMilli()),
				Member: req.CorrelationID,
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: save payment request %s: %w", req.CorrelationID, err)
	}
	return nil
}

// Get returns the payment request or domain.ErrNotFound once it expired.
func (s *PaymentRequestStore) Get(ctx context.Context, correlationID string) (domain.PaymentRequest, error) {
	data, err := s.rdb.Get(ctx, paymentRequestKey(correlationID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.PaymentRequest{}, domain.ErrNotFound
		}
		return domain.PaymentRequest{}, fmt.Errorf("redis: get payment request %s: %w", correlationID, err)
	}
	var req domain.PaymentRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return domain.PaymentRequest{}, fmt.Errorf("redis: unmarshal payment request %s: %w", correlationID, err)
	}
	return req, nil
}

// ListPending returns unresolved requests. Index entries whose request key has
// already expired are pruned on the way.
func (s *PaymentRequestStore) ListPending(ctx context.Context) ([]domain.PaymentRequest, error) {
	ids, err := s.rdb.ZRange(ctx, paymentPendingKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list pending payments: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = paymentRequestKey(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: mget pending payments: %w", err)
	}

	var stale []any
	out := make([]domain.PaymentRequest, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var req domain.PaymentRequest
		if err := json.Unmarshal([]byte(raw), &req); err != nil {
			return nil, fmt.Errorf("redis: unmarshal payment request %s: %w", ids[i], err)
		}
		out = append(out, req)
	}
	if len(stale) > 0 {
		_ = s.rdb.ZRem(ctx, paymentPendingKey, stale...).Err()
	}
	return out, nil
}

// PaymentMarkerStore implements domain.PaymentMarkerStore with SETNX keys
// that expire after the payment retention window.
type PaymentMarkerStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPaymentMarkerStore creates a PaymentMarkerStore. A non-positive ttl
// falls back to DefaultPaymentTTL.
func NewPaymentMarkerStore(c *Client, ttl time.Duration) *PaymentMarkerStore {
	if ttl <= 0 {
		ttl = DefaultPaymentTTL
	}
	return &PaymentMarkerStore{rdb: c.Underlying(), ttl: ttl}
}

// Get returns the marker for txHash or domain.ErrNotFound.
func (s *PaymentMarkerStore) Get(ctx context.Context, txHash string) (domain.ProcessedPayment, error) {
	data, err := s.rdb.Get(ctx, processedKey(txHash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ProcessedPayment{}, domain.ErrNotFound
		}
		return domain.ProcessedPayment{}, fmt.Errorf("redis: get processed marker %s: %w", txHash, err)
	}
	var m domain.ProcessedPayment
	if err := json.Unmarshal(data, &m); err != nil {
		return domain.ProcessedPayment{}, fmt.Errorf("redis: unmarshal processed marker %s: %w", txHash, err)
	}
	return m, nil
}

// Mark stores the marker and reports whether this call created it.
func (s *PaymentMarkerStore) Mark(ctx context.Context, m domain.ProcessedPayment) (bool, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return false, fmt.Errorf("redis: marshal processed marker %s: %w", m.TxHash, err)
	}
	ok, err := s.rdb.SetNX(ctx, processedKey(m.TxHash), data, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: mark processed %s: %w", m.TxHash, err)
	}
	return ok, nil
}

// Compile-time interface checks.
var (
	_ domain.PaymentRequestStore = (*PaymentRequestStore)(nil)
	_ domain.PaymentMarkerStore  = (*PaymentMarkerStore)(nil)
)
