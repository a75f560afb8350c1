package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"playlist-zipper/internal/repository"
)

const createResolutionsTable = `
CREATE TABLE IF NOT EXISTS resolutions (
	track_key TEXT PRIMARY KEY,
	provider TEXT NOT NULL DEFAULT '',
	media_ref TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	author TEXT NOT NULL DEFAULT '',
	duration_seconds INTEGER NOT NULL DEFAULT 0,
	views INTEGER NOT NULL DEFAULT 0,
	score INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);
`

const createResolutionsIndex = `CREATE INDEX IF NOT EXISTS idx_resolutions_created_at ON resolutions(created_at);`

type ResolutionRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewResolutionRepository(db *sql.DB) *ResolutionRepository {
	return &ResolutionRepository{db: db, now: time.Now}
}

func (r *ResolutionRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createResolutionsTable); err != nil {
		return fmt.Errorf("create resolutions table: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, createResolutionsIndex); err != nil {
		return fmt.Errorf("create resolutions index: %w", err)
	}
	return nil
}

func (r *ResolutionRepository) Get(ctx context.Context, key string, maxAge time.Duration) (*repository.Resolution, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT track_key, provider, media_ref, title, author, duration_seconds, views, score, created_at
FROM resolutions
WHERE track_key=?`, key)

	var res repository.Resolution
	err := row.Scan(
		&res.TrackKey,
		&res.Candidate.Provider,
		&res.Candidate.MediaRef,
		&res.Candidate.Title,
		&res.Candidate.Author,
		&res.Candidate.DurationSeconds,
		&res.Candidate.Views,
		&res.Candidate.Score,
		&res.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get resolution: %w", err)
	}

	if maxAge > 0 && r.now().Sub(res.CreatedAt) > maxAge {
		return nil, repository.ErrNotFound
	}
	return &res, nil
}

func (r *ResolutionRepository) Put(ctx context.Context, res *repository.Resolution) error {
	if res.CreatedAt.IsZero() {
		res.CreatedAt = r.now().UTC()
	}
	c := res.Candidate
	_, err := r.db.ExecContext(ctx, `
INSERT INTO resolutions (track_key, provider, media_ref, title, author, duration_seconds, views, score, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(track_key) DO UPDATE SET
	provider=excluded.provider,
	media_ref=excluded.media_ref,
	title=excluded.title,
	author=excluded.author,
	duration_seconds=excluded.duration_seconds,
	views=excluded.views,
	score=excluded.score,
	created_at=excluded.created_at`,
		res.TrackKey,
		c.Provider,
		c.MediaRef,
		c.Title,
		c.Author,
		c.DurationSeconds,
		c.Views,
		c.Score,
		res.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert resolution: %w", err)
	}
	return nil
}

func (r *ResolutionRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM resolutions WHERE track_key=?`, key); err != nil {
		return fmt.Errorf("delete resolution: %w", err)
	}
	return nil
}

func (r *ResolutionRepository) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM resolutions WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge resolutions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge rows affected: %w", err)
	}
	return n, nil
}

var _ repository.ResolutionRepository = (*ResolutionRepository)(nil)
