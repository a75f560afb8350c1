// Package provider resolves requested tracks to downloadable media references.
//
// Every backend implements [Resolver]. Backends return the best candidate as
// chosen by [match.Select]; anything else (no results, nothing acceptable,
// network trouble, quota exhaustion) is an error and the caller treats the
// track as unresolved.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"playlist-zipper/internal/domain"
	"playlist-zipper/internal/match"
)

var (
	// ErrQuotaExceeded signals that the credential used for the call is out of quota.
	ErrQuotaExceeded = errors.New("provider quota exceeded")
	// ErrNoCandidates means the backend returned zero results.
	ErrNoCandidates = errors.New("no candidates found")
	// ErrNoMatch means results came back but none was acceptable.
	ErrNoMatch = errors.New("no acceptable match")
	// ErrUnavailable covers transport failures and unexpected upstream statuses.
	ErrUnavailable = errors.New("provider unavailable")
	// ErrNoCredentials means a rotation pool is empty.
	ErrNoCredentials = errors.New("no credentials configured")
)

const defaultHTTPTimeout = 10 * time.Second

// Resolver turns a track into a single chosen candidate.
type Resolver interface {
	Name() string
	Resolve(ctx context.Context, t domain.Track) (domain.Candidate, error)
}

// Invalidator is implemented by resolvers that remember their answers. The
// caller reports a media reference that could not be fetched so it is not
// handed out again.
type Invalidator interface {
	Invalidate(ctx context.Context, t domain.Track, mediaRef string) error
}

// Permanent reports whether err means retrying the same query is pointless.
func Permanent(err error) bool {
	return errors.Is(err, ErrNoCandidates) || errors.Is(err, ErrNoMatch)
}

func searchQuery(t domain.Track, suffix string) string {
	q := strings.TrimSpace(t.Name + " " + t.Artist)
	if suffix != "" {
		q += " " + suffix
	}
	return q
}

// pick scores candidates and returns the selected one tagged with the provider name.
func pick(provider string, t domain.Track, candidates []domain.Candidate) (domain.Candidate, error) {
	if len(candidates) == 0 {
		return domain.Candidate{}, fmt.Errorf("%s: %w", provider, ErrNoCandidates)
	}
	best, ok := match.Select(t, candidates)
	if !ok {
		return domain.Candidate{}, fmt.Errorf("%s: %w", provider, ErrNoMatch)
	}
	best.Provider = provider
	return best, nil
}

func defaultClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: defaultHTTPTimeout}
}
