package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeArchiver struct {
	cutoff time.Time
	n      int
	err    error
}

func (f *fakeArchiver) ArchiveBattles(_ context.Context, closedBefore time.Time) (int, error) {
	f.cutoff = closedBefore
	return f.n, f.err
}

func TestArchiver_RunUsesMinAge(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fa := &fakeArchiver{n: 4}
	a := NewArchiver(fa, 24*time.Hour, slog.New(slog.DiscardHandler))
	a.now = func() time.Time { return now }

	n, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, now.Add(-24*time.Hour), fa.cutoff)
}

func TestArchiver_JobWrapsErrors(t *testing.T) {
	fa := &fakeArchiver{err: errors.New("bucket gone")}
	job := NewArchiver(fa, time.Hour, slog.New(slog.DiscardHandler)).Job("@daily")

	assert.Equal(t, "archive", job.Name)
	assert.Equal(t, "@daily", job.Schedule)
	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket gone")
}
