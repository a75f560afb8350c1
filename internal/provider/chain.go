package provider

import (
	"context"
	"errors"
	"strings"

	"playlist-zipper/internal/domain"
)

type chain []Resolver

// Chain tries each resolver in order and returns the first success. When all
// fail the errors are joined, so errors.Is sees every cause.
func Chain(resolvers ...Resolver) Resolver {
	if len(resolvers) == 1 {
		return resolvers[0]
	}
	return chain(resolvers)
}

func (c chain) Name() string {
	names := make([]string, len(c))
	for i, r := range c {
		names[i] = r.Name()
	}
	return strings.Join(names, ",")
}

func (c chain) Resolve(ctx context.Context, t domain.Track) (domain.Candidate, error) {
	if len(c) == 0 {
		return domain.Candidate{}, ErrNoCandidates
	}
	var errs []error
	for _, r := range c {
		cand, err := r.Resolve(ctx, t)
		if err == nil {
			return cand, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return domain.Candidate{}, errors.Join(errs...)
}
