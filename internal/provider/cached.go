package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"playlist-zipper/internal/domain"
	"playlist-zipper/internal/match"
	"playlist-zipper/internal/repository"
)

type cached struct {
	next   Resolver
	repo   repository.ResolutionRepository
	ttl    time.Duration
	logger *logrus.Logger
}

// Cached remembers successful resolutions in repo for ttl. Cache failures are
// logged and never fail the resolve.
func Cached(next Resolver, repo repository.ResolutionRepository, ttl time.Duration, logger *logrus.Logger) Resolver {
	if repo == nil {
		return next
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &cached{next: next, repo: repo, ttl: ttl, logger: logger}
}

// TrackKey identifies a track for caching purposes.
func TrackKey(t domain.Track) string {
	return fmt.Sprintf("%s|%s|%d", match.Normalize(t.Artist), match.Normalize(t.Name), t.DurationSeconds())
}

func (c *cached) Name() string { return c.next.Name() }

func (c *cached) Resolve(ctx context.Context, t domain.Track) (domain.Candidate, error) {
	key := TrackKey(t)
	logger := c.logger.WithFields(logrus.Fields{"provider": c.next.Name(), "track": t.Name})

	res, err := c.repo.Get(ctx, key, c.ttl)
	switch {
	case err == nil:
		logger.Debug("resolution cache hit")
		return res.Candidate, nil
	case !errors.Is(err, repository.ErrNotFound):
		logger.Warnf("resolution cache lookup: %v", err)
	}

	cand, err := c.next.Resolve(ctx, t)
	if err != nil {
		return cand, err
	}
	if err := c.repo.Put(ctx, &repository.Resolution{TrackKey: key, Candidate: cand}); err != nil {
		logger.Warnf("resolution cache store: %v", err)
	}
	return cand, nil
}

// Invalidate drops the cached resolution for t if it still points at mediaRef.
func (c *cached) Invalidate(ctx context.Context, t domain.Track, mediaRef string) error {
	key := TrackKey(t)
	res, err := c.repo.Get(ctx, key, 0)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup resolution: %w", err)
	}
	if res.Candidate.MediaRef != mediaRef {
		return nil
	}
	if err := c.repo.Delete(ctx, key); err != nil {
		return err
	}
	c.logger.WithFields(logrus.Fields{"track": t.Name, "media_ref": mediaRef}).Info("resolution cache entry dropped")
	return nil
}

var _ Invalidator = (*cached)(nil)
