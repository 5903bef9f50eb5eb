package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alanyoungcy/memebattle/internal/domain"
	"github.com/redis/go-redis/v9"
)

// enqueueLua stores an orphan refund only if none exists for the transaction
// and adds it to the outstanding set in the same atomic step.
const enqueueLua = `
if redis.call('SET', KEYS[1], ARGV[1], 'NX') then
    redis.call('SADD', KEYS[2], ARGV[2])
    return 1
end
return 0
`

// OrphanRefundStore implements domain.OrphanRefundStore.
type OrphanRefundStore struct {
	rdb     *redis.Client
	enqueue *redis.Script
}

// NewOrphanRefundStore creates an OrphanRefundStore backed by the given Client.
func NewOrphanRefundStore(c *Client) *OrphanRefundStore {
	return &OrphanRefundStore{rdb: c.Underlying(), enqueue: redis.NewScript(enqueueLua)}
}

// Enqueue stores r unless the same transaction is already queued. It reports
// whether r was newly stored.
func (s *OrphanRefundStore) Enqueue(ctx context.Context, r domain.OrphanRefund) (bool, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return false, fmt.Errorf("redis: marshal orphan refund %s: %w", r.TxHash, err)
	}
	n, err := s.enqueue.Run(ctx, s.rdb, []string{orphanKey(r.TxHash), orphanOutstanding}, data, r.TxHash).Int()
	if err != nil {
		return false, fmt.Errorf("redis: enqueue orphan refund %s: %w", r.TxHash, err)
	}
	return n == 1, nil
}

// Get returns the orphan refund for txHash or domain.ErrNotFound.
func (s *OrphanRefundStore) Get(ctx context.Context, txHash string) (domain.OrphanRefund, error) {
	data, err := s.rdb.Get(ctx, orphanKey(txHash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.OrphanRefund{}, domain.ErrNotFound
		}
		return domain.OrphanRefund{}, fmt.Errorf("redis: get orphan refund %s: %w", txHash, err)
	}
	var r domain.OrphanRefund
	if err := json.Unmarshal(data, &r); err != nil {
		return domain.OrphanRefund{}, fmt.Errorf("redis: unmarshal orphan refund %s: %w", txHash, err)
	}
	return r, nil
}

// Save overwrites the orphan refund and drops it from the outstanding set
// once it is refunded.
func (s *OrphanRefundStore) Save(ctx context.Context, r domain.OrphanRefund) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("redis: marshal orphan refund %s: %w", r.TxHash, err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, orphanKey(r.TxHash), data, 0)
		if r.Refunded {
			pipe.SRem(ctx, orphanOutstanding, r.TxHash)
		} else {
			pipe.SAdd(ctx, orphanOutstanding, r.TxHash)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: save orphan refund %s: %w", r.TxHash, err)
	}
	return nil
}

// ListOutstanding returns every orphan refund not yet paid back.
func (s *OrphanRefundStore) ListOutstanding(ctx context.Context) ([]domain.OrphanRefund, error) {
	hashes, err := s.rdb.SMembers(ctx, orphanOutstanding).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list orphan refunds: %w", err)
	}
	out := make([]domain.OrphanRefund, 0, len(hashes))
	for _, h := range hashes {
		r, err := s.Get(ctx, h)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !r.Refunded {
			out = append(out, r)
		}
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.OrphanRefundStore = (*OrphanRefundStore)(nil)
