package storage

import (
	"context"
	"time"
)

// UploadOptions conveys upload destination metadata.
type UploadOptions struct {
	ContentType      string
	ProgressCallback func(done, total int64)
}

// Service publishes finished archives to remote object storage. Object names
// are relative to the service's configured key prefix.
type Service interface {
	UploadFile(ctx context.Context, localPath, name string, opts UploadOptions) (string, error)
	PresignGet(ctx context.Context, name, downloadName string, expires time.Duration) (string, error)
	Delete(ctx context.Context, name string) error
}
