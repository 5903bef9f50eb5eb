// Package pipeline holds the batch jobs that move closed battles out of the
// hot path.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/memebattle/internal/domain"
	"github.com/alanyoungcy/memebattle/internal/service"
)

// Archiver copies battles that closed more than minAge ago to cold storage.
type Archiver struct {
	blobArchiver domain.Archiver
	minAge       time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

// NewArchiver creates a new Archiver.
func NewArchiver(blobArchiver domain.Archiver, minAge time.Duration, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver: blobArchiver,
		minAge:       minAge,
		now:          time.Now,
		logger:       logger,
	}
}

// Run executes a single archive run and returns how many battles were
// written.
func (a *Archiver) Run(ctx context.Context) (int, error) {
	cutoff := a.now().UTC().Add(-a.minAge)
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Duration("min_age", a.minAge),
	)

	n, err := a.blobArchiver.ArchiveBattles(ctx, cutoff)
	if err != nil {
		return n, fmt.Errorf("archiving battles closed before %v: %w", cutoff, err)
	}

	a.logger.InfoContext(ctx, "archive run complete", slog.Int("battles_archived", n))
	return n, nil
}

// Job returns the archiver as a scheduled sweeper job.
func (a *Archiver) Job(schedule string) service.Job {
	return service.Job{
		Name:     "archive",
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			_, err := a.Run(ctx)
			return err
		},
	}
}
