package provider

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"playlist-zipper/internal/domain"
)

type limited struct {
	next    Resolver
	limiter *rate.Limiter
}

// Limited waits on limiter before every call to next. A nil limiter disables
// limiting.
func Limited(next Resolver, limiter *rate.Limiter) Resolver {
	if limiter == nil {
		return next
	}
	return &limited{next: next, limiter: limiter}
}

func (l *limited) Name() string { return l.next.Name() }

func (l *limited) Resolve(ctx context.Context, t domain.Track) (domain.Candidate, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return domain.Candidate{}, fmt.Errorf("%s: rate limit: %w", l.next.Name(), err)
	}
	return l.next.Resolve(ctx, t)
}
