package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/memebattle/internal/domain"
)

// errSkip aborts the ArchivedAt update when another run got there first.
var errSkip = errors.New("already archived")

// BattleArchiver implements domain.Archiver. For every closed battle it
// uploads the battle document and its voter records, then stamps ArchivedAt
// on the stored battle. Records stay in the primary store.
type BattleArchiver struct {
	writer    domain.BlobWriter
	battles   domain.BattleStore
	voters    domain.VoterStore
	audit     domain.AuditStore
	keyPrefix string
	now       func() time.Time
	logger    *slog.Logger
}

// NewBattleArchiver creates a BattleArchiver. audit may be nil.
func NewBattleArchiver(
	writer domain.BlobWriter,
	battles domain.BattleStore,
	voters domain.VoterStore,
	audit domain.AuditStore,
	keyPrefix string,
	logger *slog.Logger,
) *BattleArchiver {
	if keyPrefix == "" {
		keyPrefix = "battles"
	}
	return &BattleArchiver{
		writer:    writer,
		battles:   battles,
		voters:    voters,
		audit:     audit,
		keyPrefix: keyPrefix,
		now:       time.Now,
		logger:    logger,
	}
}

// battleDocument is the archived form of a battle.
type battleDocument struct {
	Battle     domain.Battle `json:"battle"`
	VoterCount int           `json:"voterCount"`
	ArchivedAt time.Time     `json:"archivedAt"`
}

// ArchiveBattles uploads closed battles that closed before the cutoff. An
// EXPIRED battle is only archived once its challenger has been refunded.
func (a *BattleArchiver) ArchiveBattles(ctx context.Context, closedBefore time.Time) (int, error) {
	closed, err := a.battles.ListByStatus(ctx,
		domain.BattleStatusCompleted, domain.BattleStatusRefunded, domain.BattleStatusExpired)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive battles query: %w", err)
	}

	count := 0
	for _, b := range closed {
		if ctx.Err() != nil {
			return count, ctx.Err()
		}
		if b.ArchivedAt != nil {
			continue
		}
		if b.Status == domain.BattleStatusExpired && !b.Refunds.Challenger.Refunded {
			continue
		}
		at := closedAt(b)
		if at == nil || !at.Before(closedBefore) {
			continue
		}

		if err := a.archiveOne(ctx, b, *at); err != nil {
			if errors.Is(err, errSkip) {
				continue
			}
			a.logger.WarnContext(ctx, "s3blob: archive battle failed",
				slog.String("battle_id", b.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		count++
	}

	if count > 0 && a.audit != nil {
		if err := a.audit.Log(ctx, "archive.battles", map[string]any{
			"count":  count,
			"before": closedBefore.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive battles audit log: %w", err)
		}
	}
	return count, nil
}

func (a *BattleArchiver) archiveOne(ctx context.Context, b domain.Battle, closed time.Time) error {
	voters, err := a.voters.List(ctx, b.ID)
	if err != nil {
		return fmt.Errorf("list voters: %w", err)
	}

	now := a.now().UTC()
	doc, err := json.Marshal(battleDocument{Battle: b, VoterCount: len(voters), ArchivedAt: now})
	if err != nil {
		return fmt.Errorf("marshal battle: %w", err)
	}
	base := archivePath(a.keyPrefix, b.ID, closed)
	if err := a.writer.Put(ctx, base+".json", bytes.NewReader(doc), "application/json"); err != nil {
		return fmt.Errorf("upload battle: %w", err)
	}
	if len(voters) > 0 {
		buf, err := marshalJSONL(voters)
		if err != nil {
			return fmt.Errorf("marshal voters: %w", err)
		}
		if err := a.writer.Put(ctx, base+".voters.jsonl", bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return fmt.Errorf("upload voters: %w", err)
		}
	}

	_, err = a.battles.Update(ctx, b.ID, func(b *domain.Battle) error {
		if b.ArchivedAt != nil {
			return errSkip
		}
		b.ArchivedAt = &now
		return nil
	})
	return err
}

// DocumentPath returns the object key of an archived battle's document.
func (a *BattleArchiver) DocumentPath(b domain.Battle) (string, bool) {
	at := closedAt(b)
	if b.ArchivedAt == nil || at == nil {
		return "", false
	}
	return archivePath(a.keyPrefix, b.ID, *at) + ".json", true
}

// closedAt returns when the battle left the live part of its lifecycle.
func closedAt(b domain.Battle) *time.Time {
	switch b.Status {
	case domain.BattleStatusCompleted:
		return b.CompletedAt
	case domain.BattleStatusRefunded:
		return b.RefundedAt
	case domain.BattleStatusExpired:
		return b.ExpiredAt
	}
	return nil
}

// archivePath builds the object key for one battle, partitioned by the
// year and month it closed.
//
//	battles/2025/01/6f1c...e2
func archivePath(prefix, id string, closed time.Time) string {
	return fmt.Sprintf("%s/%s/%s", prefix, closed.UTC().Format("2006/01"), id)
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*BattleArchiver)(nil)
