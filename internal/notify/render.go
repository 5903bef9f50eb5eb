package notify

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/alanyoungcy/memebattle/internal/domain"
)

var titles = map[string]string{
	domain.EventBattleCreated:   "New meme battle",
	domain.EventBattleAccepted:  "Battle accepted, voting is open",
	domain.EventVotingStarted:   "First vote in",
	domain.EventVoteCast:        "Vote cast",
	domain.EventBattleCompleted: "Battle settled",
	domain.EventBattleExpired:   "Battle expired",
	domain.EventBattleRefunded:  "Battle refunded",
	domain.EventRefundIssued:    "Refund issued",
	domain.EventRefundFailed:    "Refund failed",
	domain.EventOrphanQueued:    "Fee queued for refund",
	domain.EventPaymentResolved: "Payment resolved",
	domain.EventFeesUpdated:     "Fees updated",
}

// Render turns an event into a title and a short plain-text body.
func Render(evt domain.BattleEvent) (title, message string) {
	title = titles[evt.Type]
	if title == "" {
		title = evt.Type
	}

	var lines []string
	if evt.BattleID != "" {
		lines = append(lines, "Battle: "+evt.BattleID)
	}
	if evt.Status != "" {
		lines = append(lines, "Status: "+string(evt.Status))
	}
	if evt.Wallet != "" {
		lines = append(lines, "Wallet: "+evt.Wallet)
	}
	keys := make([]string, 0, len(evt.Data))
	for k := range evt.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := evt.Data[k]; v != nil && v != "" {
			lines = append(lines, fmt.Sprintf("%s: %v", k, v))
		}
	}
	return title, strings.Join(lines, "\n")
}

func decodeEvent(payload []byte) (domain.BattleEvent, error) {
	var evt domain.BattleEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return domain.BattleEvent{}, err
	}
	if evt.Type == "" {
		return domain.BattleEvent{}, fmt.Errorf("event without type")
	}
	return evt, nil
}
