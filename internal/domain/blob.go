package domain

import (
	"context"
	"time"
)

// BlobObject is one archived file.
type BlobObject struct {
	Path        string
	ContentType string
	// Records is the number of JSONL lines, stored as object metadata.
	Records int
	Body    []byte
}

// BlobStore is the cold-storage bucket used by the archiver.
type BlobStore interface {
	Exists(ctx context.Context, path string) (bool, error)
	Upload(ctx context.Context, obj BlobObject) error
}

// Archiver copies closed lifecycle data to cold storage.
type Archiver interface {
	ArchiveClosedTrades(ctx context.Context, before time.Time) (int64, error)
}
