package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes an archived object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads archive documents.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader serves archived documents back to operators.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver copies closed battles to cold storage.
type Archiver interface {
	// ArchiveBattles archives every closed, not yet archived battle that
	// closed before the cutoff and returns how many were written.
	ArchiveBattles(ctx context.Context, closedBefore time.Time) (int, error)
}
