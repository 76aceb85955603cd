package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo is the listing metadata for one archived object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter pushes objects into cold storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader pulls archived objects back out.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver moves aged event days and finished simulation runs to cold
// storage.
type Archiver interface {
	ArchiveEvents(ctx context.Context, before time.Time) (int64, error)
	ArchiveSimulations(ctx context.Context, before time.Time) (int64, error)
}
