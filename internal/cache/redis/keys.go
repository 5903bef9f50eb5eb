package redis

import "github.com/alanyoungcy/memebattle/internal/domain"

// Key schema:
//
//	battle:data:{id}                  - JSON battle, never deleted
//	battle:index                      - zset of battle ids scored by creation time
//	battle:status:{STATUS}            - set of battle ids currently in STATUS
//	battle:voter:{id}:{wallet}        - JSON voter record (SETNX, immutable)
//	battle:voterrefund:{id}:{wallet}  - JSON refund marker for one voter
//	payment:req:{correlationID}       - JSON payment request (TTL)
//	payment:pending                   - zset of unresolved correlation ids by expiry
//	payment:processed:{txHash}        - JSON processed marker (TTL)
//	refund:orphan:{txHash}            - JSON orphan refund
//	refund:orphan:outstanding         - set of orphan tx hashes not yet paid back
//	config:battle:fees                - JSON fee override
//	lock:{key}                        - lock token
//	ratelimit:{key}                   - sliding-window zset
const (
	battleIndexKey    = "battle:index"
	paymentPendingKey = "payment:pending"
	orphanOutstanding = "refund:orphan:outstanding"
	feeOverrideKey    = "config:battle:fees"
	voterKeyPrefix    = "battle:voter:"
	voterRefundPrefix = "battle:voterrefund:"
)

func battleKey(id string) string { return "battle:data:" + id }

func battleStatusKey(s domain.BattleStatus) string { return "battle:status:" + string(s) }

func voterKey(battleID, wallet string) string { return voterKeyPrefix + battleID + ":" + wallet }

func voterPattern(battleID string) string { return voterKeyPrefix + battleID + ":*" }

func voterRefundKey(battleID, wallet string) string {
	return voterRefundPrefix + battleID + ":" + wallet
}

func paymentRequestKey(id string) string { return "payment:req:" + id }

func processedKey(txHash string) string { return "payment:processed:" + txHash }

func orphanKey(txHash string) string { return "refund:orphan:" + txHash }
