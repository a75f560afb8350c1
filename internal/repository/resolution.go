package repository

import (
	"context"
	"errors"
	"time"

	"playlist-zipper/internal/domain"
)

// ErrNotFound is returned when no fresh entry exists for a key.
var ErrNotFound = errors.New("resolution not found")

// Resolution is a remembered track-to-media decision.
type Resolution struct {
	TrackKey  string
	Candidate domain.Candidate
	CreatedAt time.Time
}

// ResolutionRepository persists resolutions across jobs and restarts.
type ResolutionRepository interface {
	Init(ctx context.Context) error
	// Get returns the entry for key if it is younger than maxAge. A zero
	// maxAge accepts any age.
	Get(ctx context.Context, key string, maxAge time.Duration) (*Resolution, error)
	Put(ctx context.Context, r *Resolution) error
	// Delete drops the entry for key. A missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Purge deletes entries created before cutoff and reports how many went.
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}
