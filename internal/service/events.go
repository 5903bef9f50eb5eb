package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/memebattle/internal/domain"
	"github.com/alanyoungcy/memebattle/internal/metrics"
)

// Recorder fans a battle event out to the signal bus, the durable event
// stream and the audit log. Any of bus, audit or metrics may be nil.
// Delivery failures are logged and never fail the operation that produced
// the event.
type Recorder struct {
	bus     domain.EventBus
	audit   domain.AuditStore
	metrics *metrics.BattleMetrics
	logger  *slog.Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(bus domain.EventBus, audit domain.AuditStore, m *metrics.BattleMetrics, logger *slog.Logger) *Recorder {
	return &Recorder{bus: bus, audit: audit, metrics: m, logger: logger}
}

// Metrics returns the attached collectors, possibly nil.
func (r *Recorder) Metrics() *metrics.BattleMetrics {
	if r == nil {
		return nil
	}
	return r.metrics
}

// Emit publishes evt on channel, appends it to the battle stream and writes
// an audit row.
func (r *Recorder) Emit(ctx context.Context, channel string, evt domain.BattleEvent) {
	if r == nil {
		return
	}
	if r.bus != nil {
		payload, err := json.Marshal(evt)
		if err != nil {
			r.logger.WarnContext(ctx, "recorder: marshal event failed",
				slog.String("type", evt.Type),
				slog.String("error", err.Error()),
			)
			return
		}
		if err := r.bus.Broadcast(ctx, channel, domain.StreamBattles, payload); err != nil {
			r.logger.WarnContext(ctx, "recorder: broadcast event failed",
				slog.String("type", evt.Type),
				slog.String("battle_id", evt.BattleID),
				slog.String("error", err.Error()),
			)
		}
	}

	if r.audit != nil {
		detail := map[string]any{"battle_id": evt.BattleID}
		if evt.Status != "" {
			detail["status"] = string(evt.Status)
		}
		if evt.Wallet != "" {
			detail["wallet"] = evt.Wallet
		}
		for k, v := range evt.Data {
			detail[k] = v
		}
		if err := r.audit.Log(ctx, evt.Type, detail); err != nil {
			r.logger.WarnContext(ctx, "recorder: audit log failed",
				slog.String("type", evt.Type),
				slog.String("battle_id", evt.BattleID),
				slog.String("error", err.Error()),
			)
		}
	}
}
