package provider

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"playlist-zipper/internal/domain"
	"playlist-zipper/internal/retry"
)

type retrying struct {
	next     Resolver
	attempts int
	backoff  time.Duration
	logger   *logrus.Logger
}

// Retrying retries the whole resolve call with a fixed backoff. Zero results
// and no-match outcomes are returned at once.
func Retrying(next Resolver, attempts int, backoff time.Duration, logger *logrus.Logger) Resolver {
	if logger == nil {
		logger = logrus.New()
	}
	return &retrying{next: next, attempts: attempts, backoff: backoff, logger: logger}
}

func (r *retrying) Name() string { return r.next.Name() }

func (r *retrying) Resolve(ctx context.Context, t domain.Track) (domain.Candidate, error) {
	var out domain.Candidate
	err := retry.Do(ctx, r.attempts, retry.Fixed(r.backoff), func(ctx context.Context, attempt int) error {
		c, err := r.next.Resolve(ctx, t)
		if err == nil {
			out = c
			return nil
		}
		if Permanent(err) {
			return retry.Permanent(err)
		}
		r.logger.WithFields(logrus.Fields{
			"provider": r.next.Name(),
			"track":    t.Name,
			"attempt":  attempt,
		}).Warnf("resolve failed: %v", err)
		return err
	})
	return out, err
}
